package pool

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/instant-demo/smake/internal/domain"
	"github.com/instant-demo/smake/internal/provider"
)

var t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// seed adds a pool member launched offset minutes after t0.
func seed(p *provider.MemoryProvider, id, instanceType string, state domain.InstanceState, offset int) {
	p.Add(domain.Instance{
		ID:           id,
		InstanceType: instanceType,
		State:        state,
		Tags:         domain.PoolTags(),
		LaunchTime:   t0.Add(time.Duration(offset) * time.Minute),
	})
}

// failingProvider fails every describe call.
type failingProvider struct {
	*provider.MemoryProvider
}

func (f *failingProvider) DescribeInstances(ctx context.Context, filters []domain.Filter) ([]domain.Instance, error) {
	return nil, errors.New("unauthorized")
}

func TestListPoolInstances_NoPool(t *testing.T) {
	p := provider.NewMemoryProvider(nil, "")
	p.Add(domain.Instance{ID: "i-untagged", InstanceType: "small", State: domain.StateRunning})
	q := NewQuerier(p, SelectOldest)

	snapshot, found, err := q.ListPoolInstances(context.Background())
	if err != nil {
		t.Fatalf("ListPoolInstances() error = %v", err)
	}
	if found {
		t.Error("found = true with no tagged instances")
	}
	if snapshot == nil || len(*snapshot) != 0 {
		t.Errorf("snapshot = %v, want empty", snapshot)
	}
}

func TestListPoolInstances_Grouping(t *testing.T) {
	p := provider.NewMemoryProvider(nil, "")
	seed(p, "i-a", "small", domain.StateRunning, 0)
	seed(p, "i-b", "small", domain.StatePending, 1)
	seed(p, "i-c", "medium", domain.StateRunning, 2)
	seed(p, "i-d", "medium", domain.StateStopped, 3)
	seed(p, "i-e", "small", domain.StateTerminated, 4)
	q := NewQuerier(p, SelectOldest)

	snapshot, found, err := q.ListPoolInstances(context.Background())
	if err != nil || !found {
		t.Fatalf("ListPoolInstances() found = %v, err = %v", found, err)
	}
	want := domain.PoolSnapshot{
		"small":  {Running: []string{"i-a"}, Pending: []string{"i-b"}},
		"medium": {Running: []string{"i-c"}},
	}
	if !reflect.DeepEqual(*snapshot, want) {
		t.Errorf("snapshot = %+v, want %+v", *snapshot, want)
	}

	onlySmall, _, _ := q.ListPoolInstances(context.Background(), domain.TypeFilter("small"))
	if _, ok := (*onlySmall)["medium"]; ok {
		t.Error("extra type filter ignored")
	}
}

func TestListPoolInstances_Ordering(t *testing.T) {
	p := provider.NewMemoryProvider(nil, "")
	// Launch order differs from age order.
	seed(p, "i-young", "small", domain.StateRunning, 10)
	seed(p, "i-old", "small", domain.StateRunning, 0)
	seed(p, "i-tie-b", "small", domain.StateRunning, 5)
	seed(p, "i-tie-a", "small", domain.StateRunning, 5)

	tests := []struct {
		selection Selection
		want      []string
	}{
		{SelectOldest, []string{"i-old", "i-tie-a", "i-tie-b", "i-young"}},
		{SelectListed, []string{"i-young", "i-old", "i-tie-b", "i-tie-a"}},
	}
	for _, tt := range tests {
		t.Run(string(tt.selection), func(t *testing.T) {
			snapshot, _, err := NewQuerier(p, tt.selection).ListPoolInstances(context.Background())
			if err != nil {
				t.Fatalf("ListPoolInstances() error = %v", err)
			}
			if got := (*snapshot)["small"].Running; !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Running = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestListPoolInstances_ProviderError(t *testing.T) {
	q := NewQuerier(&failingProvider{provider.NewMemoryProvider(nil, "")}, SelectOldest)

	snapshot, found, err := q.ListPoolInstances(context.Background())
	if !errors.Is(err, domain.ErrProviderQueryFailed) {
		t.Errorf("error = %v, want ErrProviderQueryFailed", err)
	}
	if snapshot != nil || found {
		t.Errorf("snapshot = %v, found = %v on error", snapshot, found)
	}
}

func TestParseSelection(t *testing.T) {
	for _, name := range []string{"oldest", "listed", ""} {
		if _, err := ParseSelection(name); err != nil {
			t.Errorf("ParseSelection(%q) error = %v", name, err)
		}
	}
	if _, err := ParseSelection("random"); err == nil {
		t.Error("ParseSelection(random) accepted")
	}
}

func TestQuerier_Get(t *testing.T) {
	p := provider.NewMemoryProvider(nil, "")
	seed(p, "i-a", "small", domain.StateRunning, 0)
	q := NewQuerier(p, SelectOldest)

	inst, err := q.Get(context.Background(), "i-a")
	if err != nil || inst.ID != "i-a" {
		t.Fatalf("Get() = %v, %v", inst, err)
	}
	if _, err := q.Get(context.Background(), "i-zz"); !errors.Is(err, domain.ErrInstanceNotFound) {
		t.Errorf("Get(unknown) error = %v, want ErrInstanceNotFound", err)
	}
}

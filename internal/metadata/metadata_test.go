package metadata

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/instant-demo/smake/internal/domain"
	"github.com/instant-demo/smake/internal/metrics"
	"github.com/instant-demo/smake/internal/provider"
	"github.com/instant-demo/smake/pkg/logging"
)

// flakyProvider fails the first failCreates tag writes and every delete when failDeletes is set.
type flakyProvider struct {
	*provider.MemoryProvider

	mu          sync.Mutex
	failCreates int
	failDeletes bool
	createCalls int
	deleteCalls int
}

func (f *flakyProvider) CreateTags(ctx context.Context, ids []string, tags domain.Tags) error {
	f.mu.Lock()
	f.createCalls++
	fail := f.createCalls <= f.failCreates
	f.mu.Unlock()
	if fail {
		return errors.New("request limit exceeded")
	}
	return f.MemoryProvider.CreateTags(ctx, ids, tags)
}

func (f *flakyProvider) DeleteTags(ctx context.Context, ids []string, keys []string) error {
	f.mu.Lock()
	f.deleteCalls++
	f.mu.Unlock()
	if f.failDeletes {
		return errors.New("request limit exceeded")
	}
	return f.MemoryProvider.DeleteTags(ctx, ids, keys)
}

func newFlaky(t *testing.T) (*flakyProvider, string) {
	t.Helper()
	mem := provider.NewMemoryProvider(nil, "")
	id, err := mem.RunInstance(context.Background(), domain.LaunchSpec{InstanceType: "small"})
	if err != nil {
		t.Fatalf("RunInstance() error = %v", err)
	}
	return &flakyProvider{MemoryProvider: mem}, id
}

func TestApplyTags(t *testing.T) {
	tests := []struct {
		name        string
		failCreates int
		wantErr     bool
		wantCalls   int
	}{
		{"first attempt succeeds", 0, false, 1},
		{"succeeds on second attempt", 1, false, 2},
		{"succeeds on third attempt", 2, false, 3},
		{"exhausts after three attempts", 100, true, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, id := newFlaky(t)
			p.failCreates = tt.failCreates
			s := NewStore(p, Options{}, logging.Nop(), nil)

			got, err := s.ApplyTags(context.Background(), id, domain.PoolTags())
			if tt.wantErr {
				if !errors.Is(err, domain.ErrMetadataWriteFailed) {
					t.Errorf("ApplyTags() error = %v, want ErrMetadataWriteFailed", err)
				}
				if got != "" {
					t.Errorf("ApplyTags() id = %q on failure", got)
				}
			} else {
				if err != nil {
					t.Fatalf("ApplyTags() error = %v", err)
				}
				if got != id {
					t.Errorf("ApplyTags() id = %q, want %q", got, id)
				}
				inst, _ := p.Get(id)
				if !inst.InPool() {
					t.Error("tag not written")
				}
			}
			if p.createCalls != tt.wantCalls {
				t.Errorf("provider calls = %d, want %d", p.createCalls, tt.wantCalls)
			}
		})
	}
}

func TestApplyTags_NotFoundCollapsesIntoWriteFailure(t *testing.T) {
	p, _ := newFlaky(t)
	s := NewStore(p, Options{Attempts: 2}, logging.Nop(), nil)

	_, err := s.ApplyTags(context.Background(), "i-missing", domain.PoolTags())
	if !errors.Is(err, domain.ErrMetadataWriteFailed) {
		t.Errorf("ApplyTags() error = %v, want ErrMetadataWriteFailed", err)
	}
	if p.createCalls != 2 {
		t.Errorf("provider calls = %d, want 2", p.createCalls)
	}
}

func TestApplyTags_Metrics(t *testing.T) {
	p, id := newFlaky(t)
	p.failCreates = 1
	m := metrics.NewCollector()
	s := NewStore(p, Options{}, logging.Nop(), m)

	if _, err := s.ApplyTags(context.Background(), id, domain.PoolTags()); err != nil {
		t.Fatalf("ApplyTags() error = %v", err)
	}
	if got := testutil.ToFloat64(m.TagWritesTotal.WithLabelValues("apply", "retry")); got != 1 {
		t.Errorf("retry count = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.TagWritesTotal.WithLabelValues("apply", "success")); got != 1 {
		t.Errorf("success count = %v, want 1", got)
	}
}

func TestApplyTags_DelayUsesClock(t *testing.T) {
	p, id := newFlaky(t)
	p.failCreates = 1
	clock := clockwork.NewFakeClock()
	s := NewStore(p, Options{Delay: time.Second, Clock: clock}, logging.Nop(), nil)

	done := make(chan error, 1)
	go func() {
		_, err := s.ApplyTags(context.Background(), id, domain.PoolTags())
		done <- err
	}()

	if err := clock.BlockUntilContext(context.Background(), 1); err != nil {
		t.Fatalf("BlockUntilContext() error = %v", err)
	}
	clock.Advance(time.Second)

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("ApplyTags() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ApplyTags() did not resume after the delay")
	}
}

func TestApplyTags_ContextCancelledDuringDelay(t *testing.T) {
	p, id := newFlaky(t)
	p.failCreates = 100
	clock := clockwork.NewFakeClock()
	s := NewStore(p, Options{Delay: time.Minute, Clock: clock}, logging.Nop(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := s.ApplyTags(ctx, id, domain.PoolTags())
		done <- err
	}()

	if err := clock.BlockUntilContext(context.Background(), 1); err != nil {
		t.Fatalf("BlockUntilContext() error = %v", err)
	}
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, domain.ErrMetadataWriteFailed) {
			t.Errorf("ApplyTags() error = %v, want ErrMetadataWriteFailed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ApplyTags() ignored cancellation")
	}
	if p.createCalls != 1 {
		t.Errorf("provider calls = %d, want 1", p.createCalls)
	}
}

func TestRemoveTags(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		p, id := newFlaky(t)
		s := NewStore(p, Options{}, logging.Nop(), nil)
		if _, err := s.ApplyTags(context.Background(), id, domain.PoolTags()); err != nil {
			t.Fatalf("ApplyTags() error = %v", err)
		}

		got, err := s.RemoveTags(context.Background(), id, []string{domain.TagPool})
		if err != nil || got != id {
			t.Fatalf("RemoveTags() = %q, %v", got, err)
		}
		inst, _ := p.Get(id)
		if inst.InPool() {
			t.Error("pool tag still present")
		}
	})

	t.Run("single attempt on failure", func(t *testing.T) {
		p, id := newFlaky(t)
		p.failDeletes = true
		s := NewStore(p, Options{}, logging.Nop(), nil)

		_, err := s.RemoveTags(context.Background(), id, []string{domain.TagPool})
		if !errors.Is(err, domain.ErrMetadataWriteFailed) {
			t.Errorf("RemoveTags() error = %v, want ErrMetadataWriteFailed", err)
		}
		if p.deleteCalls != 1 {
			t.Errorf("provider calls = %d, want 1", p.deleteCalls)
		}
	})
}

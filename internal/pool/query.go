package pool

import (
	"context"
	"fmt"
	"sort"

	"github.com/instant-demo/smake/internal/domain"
	"github.com/instant-demo/smake/internal/provider"
)

// Selection decides the order of candidates within a state bucket.
type Selection string

const (
	SelectOldest Selection = "oldest" // launch time ascending, then id
	SelectListed Selection = "listed" // provider order
)

// ParseSelection validates a selection policy name.
func ParseSelection(name string) (Selection, error) {
	switch Selection(name) {
	case SelectOldest, SelectListed:
		return Selection(name), nil
	case "":
		return SelectOldest, nil
	default:
		return "", fmt.Errorf("unknown selection policy %q", name)
	}
}

// Querier reads pool membership from the provider. It never caches.
type Querier struct {
	provider  provider.Provider
	selection Selection
}

// NewQuerier creates a pool querier.
func NewQuerier(p provider.Provider, selection Selection) *Querier {
	if selection == "" {
		selection = SelectOldest
	}
	return &Querier{provider: p, selection: selection}
}

// ListPoolInstances returns the current pool members grouped by type.
// found is false when no instance carries the pool tag at all.
func (q *Querier) ListPoolInstances(ctx context.Context, extra ...domain.Filter) (*domain.PoolSnapshot, bool, error) {
	members, err := q.members(ctx, extra...)
	if err != nil {
		return nil, false, err
	}
	snapshot := buildSnapshot(members)
	return &snapshot, len(members) > 0, nil
}

// members returns live pool members ordered running first, then pending,
// each bucket ordered by the selection policy.
func (q *Querier) members(ctx context.Context, extra ...domain.Filter) ([]domain.Instance, error) {
	filters := append(domain.PoolFilters(), extra...)
	instances, err := q.provider.DescribeInstances(ctx, filters)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrProviderQueryFailed, err)
	}

	// Adapters may over-match.
	out := instances[:0]
	for i := range instances {
		if domain.MatchesAll(filters, &instances[i]) {
			out = append(out, instances[i])
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := stateRank(out[i].State), stateRank(out[j].State)
		if ri != rj {
			return ri < rj
		}
		if q.selection == SelectListed {
			return false
		}
		if !out[i].LaunchTime.Equal(out[j].LaunchTime) {
			return out[i].LaunchTime.Before(out[j].LaunchTime)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// List returns every instance matching filters, in provider order.
func (q *Querier) List(ctx context.Context, filters ...domain.Filter) ([]domain.Instance, error) {
	instances, err := q.provider.DescribeInstances(ctx, filters)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrProviderQueryFailed, err)
	}
	return instances, nil
}

// Get returns one instance by id.
func (q *Querier) Get(ctx context.Context, id string) (*domain.Instance, error) {
	instances, err := q.List(ctx, domain.IDFilter(id))
	if err != nil {
		return nil, err
	}
	for i := range instances {
		if instances[i].ID == id {
			return &instances[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrInstanceNotFound, id)
}

func buildSnapshot(members []domain.Instance) domain.PoolSnapshot {
	snapshot := make(domain.PoolSnapshot)
	for _, inst := range members {
		ts := snapshot[inst.InstanceType]
		switch inst.State {
		case domain.StateRunning:
			ts.Running = append(ts.Running, inst.ID)
		case domain.StatePending:
			ts.Pending = append(ts.Pending, inst.ID)
		}
		snapshot[inst.InstanceType] = ts
	}
	return snapshot
}

func stateRank(s domain.InstanceState) int {
	if s == domain.StateRunning {
		return 0
	}
	return 1
}

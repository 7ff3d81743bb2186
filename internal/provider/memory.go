package provider

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/instant-demo/smake/internal/domain"
)

// MemoryProvider keeps instances in process memory.
// Used for PROVIDER_MODE=memory and as the provider in unit tests.
type MemoryProvider struct {
	mu          sync.Mutex
	clock       clockwork.Clock
	instances   map[string]*domain.Instance
	order       []string // launch order, the order Describe lists in
	launchState domain.InstanceState
}

// NewMemoryProvider creates an empty provider. New instances start in launchState;
// pass domain.StatePending to exercise boot transitions with SetState.
func NewMemoryProvider(clock clockwork.Clock, launchState domain.InstanceState) *MemoryProvider {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if launchState == "" {
		launchState = domain.StateRunning
	}
	return &MemoryProvider{
		clock:       clock,
		instances:   make(map[string]*domain.Instance),
		launchState: launchState,
	}
}

// RunInstance records a new instance.
func (p *MemoryProvider) RunInstance(ctx context.Context, spec domain.LaunchSpec) (string, error) {
	if spec.InstanceType == "" {
		return "", fmt.Errorf("instance type is required")
	}

	id := "i-" + strings.ReplaceAll(uuid.New().String(), "-", "")[:17]

	p.mu.Lock()
	defer p.mu.Unlock()
	p.instances[id] = &domain.Instance{
		ID:           id,
		InstanceType: spec.InstanceType,
		State:        p.launchState,
		Tags:         domain.Tags{},
		LaunchTime:   p.clock.Now(),
	}
	p.order = append(p.order, id)
	return id, nil
}

// Add inserts a fully specified instance. Tests use it to seed a fleet.
func (p *MemoryProvider) Add(inst domain.Instance) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if inst.Tags == nil {
		inst.Tags = domain.Tags{}
	} else {
		inst.Tags = inst.Tags.Clone()
	}
	if inst.LaunchTime.IsZero() {
		inst.LaunchTime = p.clock.Now()
	}
	if _, exists := p.instances[inst.ID]; !exists {
		p.order = append(p.order, inst.ID)
	}
	p.instances[inst.ID] = &inst
}

// SetState forces an instance into a state.
func (p *MemoryProvider) SetState(id string, state domain.InstanceState) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	inst, ok := p.instances[id]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrInstanceNotFound, id)
	}
	inst.State = state
	return nil
}

// TerminateInstances marks instances terminated. Terminated records stay
// visible to Describe, the way EC2 keeps them for a while.
func (p *MemoryProvider) TerminateInstances(ctx context.Context, ids []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, id := range ids {
		if _, ok := p.instances[id]; !ok {
			return fmt.Errorf("%w: %s", domain.ErrInstanceNotFound, id)
		}
	}
	for _, id := range ids {
		p.instances[id].State = domain.StateTerminated
	}
	return nil
}

// DescribeInstances returns copies of matching instances in launch order.
func (p *MemoryProvider) DescribeInstances(ctx context.Context, filters []domain.Filter) ([]domain.Instance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []domain.Instance
	for _, id := range p.order {
		inst := p.instances[id]
		if !domain.MatchesAll(filters, inst) {
			continue
		}
		cp := *inst
		cp.Tags = inst.Tags.Clone()
		out = append(out, cp)
	}
	return out, nil
}

// DescribeInstanceStatus derives reachability from state.
func (p *MemoryProvider) DescribeInstanceStatus(ctx context.Context, id string) (*domain.InstanceStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	inst, ok := p.instances[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrInstanceNotFound, id)
	}
	return &domain.InstanceStatus{
		ID:           id,
		State:        inst.State,
		Reachability: reachabilityFor(inst.State),
	}, nil
}

// CreateTags merges tags into each instance.
func (p *MemoryProvider) CreateTags(ctx context.Context, ids []string, tags domain.Tags) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, id := range ids {
		if _, ok := p.instances[id]; !ok {
			return fmt.Errorf("%w: %s", domain.ErrInstanceNotFound, id)
		}
	}
	for _, id := range ids {
		for k, v := range tags {
			p.instances[id].Tags[k] = v
		}
	}
	return nil
}

// DeleteTags removes tag keys. Missing keys are ignored.
func (p *MemoryProvider) DeleteTags(ctx context.Context, ids []string, keys []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, id := range ids {
		if _, ok := p.instances[id]; !ok {
			return fmt.Errorf("%w: %s", domain.ErrInstanceNotFound, id)
		}
	}
	for _, id := range ids {
		for _, k := range keys {
			delete(p.instances[id].Tags, k)
		}
	}
	return nil
}

// Len returns how many instance records exist, terminated included.
func (p *MemoryProvider) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.instances)
}

// Get returns a copy of one instance.
func (p *MemoryProvider) Get(id string) (domain.Instance, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	inst, ok := p.instances[id]
	if !ok {
		return domain.Instance{}, false
	}
	cp := *inst
	cp.Tags = inst.Tags.Clone()
	return cp, true
}

// CountByState returns how many instances of a type are in each state.
func (p *MemoryProvider) CountByState(instanceType string) map[domain.InstanceState]int {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[domain.InstanceState]int)
	for _, inst := range p.instances {
		if inst.InstanceType == instanceType {
			out[inst.State]++
		}
	}
	return out
}

// IDs returns all instance ids, sorted.
func (p *MemoryProvider) IDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.instances))
	for id := range p.instances {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func reachabilityFor(state domain.InstanceState) string {
	switch state {
	case domain.StateRunning:
		return ReachabilityOK
	case domain.StatePending:
		return ReachabilityInitializing
	default:
		return ReachabilityNotApplicable
	}
}

// Compile-time check that MemoryProvider implements Provider
var _ Provider = (*MemoryProvider)(nil)

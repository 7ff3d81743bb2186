package pool

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/instant-demo/smake/internal/config"
	"github.com/instant-demo/smake/internal/domain"
	"github.com/instant-demo/smake/internal/metadata"
	"github.com/instant-demo/smake/internal/metrics"
	"github.com/instant-demo/smake/internal/provider"
	"github.com/instant-demo/smake/pkg/logging"
)

// Options configures a Reconciler.
type Options struct {
	Provider          config.ProviderConfig // images and key pair used for launches
	Selection         Selection
	ReconcileInterval time.Duration // 0 disables StartReconcileLoop's ticker
	Dispatcher        Dispatcher    // inline goroutines if nil
	Clock             clockwork.Clock
}

// Reconciler converges the tagged pool toward the strategy's inventory and
// hands out pooled instances.
type Reconciler struct {
	provider   provider.Provider
	query      *Querier
	tags       *metadata.Store
	strategy   Strategy
	dispatcher Dispatcher
	launchCfg  config.ProviderConfig
	interval   time.Duration
	clock      clockwork.Clock
	logger     *logging.Logger
	metrics    *metrics.Collector

	cycleMu sync.Mutex // held for a whole Initialize
	stateMu sync.RWMutex
	state   CycleState

	typeLocksMu sync.Mutex
	typeLocks   map[string]*sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]int // dispatched creates whose Create has not returned

	loopMu  sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewReconciler creates a reconciler.
func NewReconciler(
	p provider.Provider,
	tags *metadata.Store,
	strategy Strategy,
	opts Options,
	logger *logging.Logger,
	m *metrics.Collector,
) *Reconciler {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	r := &Reconciler{
		provider:   p,
		query:      NewQuerier(p, opts.Selection),
		tags:       tags,
		strategy:   strategy,
		dispatcher: opts.Dispatcher,
		launchCfg:  opts.Provider,
		interval:   opts.ReconcileInterval,
		clock:      opts.Clock,
		logger:     logger.With("component", "pool"),
		metrics:    m,
		state:      StateIdle,
		typeLocks:  make(map[string]*sync.Mutex),
		pending:    make(map[string]int),
	}
	if r.dispatcher == nil {
		r.dispatcher = NewInlineDispatcher(r, logger)
	}
	return r
}

// Dispatcher returns the dispatcher corrective operations go through.
func (r *Reconciler) Dispatcher() Dispatcher {
	return r.dispatcher
}

// State returns the current reconciliation cycle state.
func (r *Reconciler) State() CycleState {
	r.stateMu.RLock()
	defer r.stateMu.RUnlock()
	return r.state
}

func (r *Reconciler) setState(s CycleState) {
	r.stateMu.Lock()
	r.state = s
	r.stateMu.Unlock()
}

// Reconcile runs Initialize against the strategy's inventory.
func (r *Reconciler) Reconcile(ctx context.Context) (domain.Diff, error) {
	return r.Initialize(ctx, r.strategy.RequiredInstances())
}

// Initialize queries the pool, computes the diff against required and
// dispatches creates and terminations to close it. It returns once every
// operation is dispatched, not when they complete.
//
// Creates already dispatched but not yet finished count toward the current
// size, so overlapping cycles do not launch the same shortfall twice.
//
// Types present in the pool but absent from required are left alone.
func (r *Reconciler) Initialize(ctx context.Context, required []domain.Requirement) (domain.Diff, error) {
	if !r.cycleMu.TryLock() {
		return nil, domain.ErrReconcileInProgress
	}
	defer r.cycleMu.Unlock()
	defer r.setState(StateIdle)

	start := r.clock.Now()
	desired := domain.Desired(required)
	types := make([]string, 0, len(desired))
	for t := range desired {
		types = append(types, t)
	}
	sort.Strings(types)

	unlock := r.lockTypes(types)
	defer unlock()

	r.setState(StateQuerying)
	snapshot, found, err := r.query.ListPoolInstances(ctx)
	if err != nil {
		r.recordRun("failure")
		return nil, err
	}

	r.setState(StateDiffing)
	if !found {
		r.logger.Info("no pool found, cold start", "types", len(types))
		snapshot = &domain.PoolSnapshot{}
	}
	diff := domain.ComputeDiff(required, *snapshot)
	for _, t := range types {
		diff[t] -= r.pendingCreates(t)
	}

	r.setState(StateApplying)
	for _, t := range types {
		delta := diff[t]
		switch {
		case delta > 0:
			r.addPending(t, delta)
			for i := 0; i < delta; i++ {
				r.dispatchCreate(ctx, t)
			}
		case delta < 0:
			candidates := (*snapshot)[t].Candidates()
			for i := 0; i < -delta && i < len(candidates); i++ {
				r.retire(ctx, candidates[i])
			}
		}
	}

	r.logger.Info("reconciliation dispatched",
		"creates", diff.Creates(), "terminations", diff.Destroys(), "coldStart", !found)
	r.recordRun("success")
	if r.metrics != nil {
		r.metrics.ReconcileDuration.Observe(r.clock.Since(start).Seconds())
		for t, delta := range diff {
			r.metrics.ReconcileDiff.WithLabelValues(t).Set(float64(delta))
			r.metrics.PoolDesired.WithLabelValues(t).Set(float64(desired[t]))
		}
	}
	return diff, nil
}

// retire takes a surplus instance out of the pool and dispatches its
// termination. The pool tag goes first so a concurrent allocation cannot
// pick the instance up once it is doomed.
func (r *Reconciler) retire(ctx context.Context, id string) {
	if _, err := r.tags.RemoveTags(ctx, id, []string{domain.TagPool}); err != nil {
		r.logger.Warn("skipping termination, could not untag", "instanceID", id, "error", err)
		return
	}
	if err := r.dispatcher.DispatchTerminate(ctx, id); err != nil {
		r.logger.Error("failed to dispatch terminate", "instanceID", id, "orphan", true, "error", err)
	}
}

// Create launches one pool instance of the given type and tags it into the pool.
// If tagging fails the launched id is returned with ErrMetadataWriteFailed and
// the instance is left running as an orphan. Returning releases one pending
// create of the type.
func (r *Reconciler) Create(ctx context.Context, instanceType string) (string, error) {
	defer r.addPending(instanceType, -1)
	return r.launch(ctx, instanceType, domain.PoolTags())
}

// dispatchCreate hands one create to the dispatcher. The caller has already
// counted it pending; a failed dispatch releases it.
func (r *Reconciler) dispatchCreate(ctx context.Context, instanceType string) {
	if err := r.dispatcher.DispatchCreate(ctx, instanceType); err != nil {
		r.addPending(instanceType, -1)
		r.logger.Error("failed to dispatch create", "instanceType", instanceType, "error", err)
	}
}

func (r *Reconciler) addPending(instanceType string, n int) {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()
	if v := r.pending[instanceType] + n; v > 0 {
		r.pending[instanceType] = v
	} else {
		delete(r.pending, instanceType)
	}
}

func (r *Reconciler) pendingCreates(instanceType string) int {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()
	return r.pending[instanceType]
}

// Launch creates an instance with caller-supplied tags. No tag write happens
// when tags is empty.
func (r *Reconciler) Launch(ctx context.Context, instanceType string, tags domain.Tags) (string, error) {
	return r.launch(ctx, instanceType, tags)
}

func (r *Reconciler) launch(ctx context.Context, instanceType string, tags domain.Tags) (string, error) {
	start := r.clock.Now()
	spec := domain.LaunchSpec{
		ImageID:      r.launchCfg.ImageFor(instanceType),
		InstanceType: instanceType,
		KeyName:      r.launchCfg.KeyName,
		ClientToken:  uuid.New().String(),
	}

	id, err := r.provider.RunInstance(ctx, spec)
	if err != nil {
		r.recordProviderOp("create", "failure")
		return "", fmt.Errorf("%w: %w", domain.ErrProviderActionFailed, err)
	}
	r.recordProviderOp("create", "success")

	if len(tags) > 0 {
		if _, err := r.tags.ApplyTags(ctx, id, tags); err != nil {
			r.logger.Error("instance launched but not tagged",
				"instanceID", id, "instanceType", instanceType, "orphan", true, "error", err)
			return id, err
		}
	}

	if r.metrics != nil {
		r.metrics.ProvisionDuration.Observe(r.clock.Since(start).Seconds())
	}
	r.logger.Info("instance created", "instanceID", id, "instanceType", instanceType)
	return id, nil
}

// Terminate requests termination of one instance. It completes on provider
// acknowledgment.
func (r *Reconciler) Terminate(ctx context.Context, instanceID string) error {
	if err := r.provider.TerminateInstances(ctx, []string{instanceID}); err != nil {
		r.recordProviderOp("terminate", "failure")
		return fmt.Errorf("%w: %w", domain.ErrProviderActionFailed, err)
	}
	r.recordProviderOp("terminate", "success")
	r.logger.Info("instance terminated", "instanceID", instanceID)
	return nil
}

// GetInstance allocates one pooled instance of the given type, preferring
// running over pending. The instance is untagged before the strategy is told
// of the removal and before it is returned, so no other caller can receive it.
func (r *Reconciler) GetInstance(ctx context.Context, instanceType string) (*domain.Instance, error) {
	start := r.clock.Now()

	inst, req, err := r.takeCandidate(ctx, instanceType)
	if err != nil {
		if errors.Is(err, domain.ErrNoCandidateAvailable) {
			r.recordAllocation(instanceType, "empty")
		} else {
			r.recordAllocation(instanceType, "failure")
		}
		return nil, err
	}

	for i := 0; i < req.Count; i++ {
		r.dispatchCreate(ctx, req.InstanceType)
	}

	r.recordAllocation(instanceType, "success")
	if r.metrics != nil {
		r.metrics.AllocationDuration.Observe(r.clock.Since(start).Seconds())
	}
	r.logger.Info("instance allocated", "instanceID", inst.ID, "instanceType", instanceType, "replacements", req.Count)
	return inst, nil
}

// takeCandidate selects and untags one candidate under the type lock. The
// strategy's replacements are counted pending before the lock is released so
// a reconciliation cycle waiting on it sees them.
func (r *Reconciler) takeCandidate(ctx context.Context, instanceType string) (*domain.Instance, domain.ReplacementRequest, error) {
	unlock := r.lockTypes([]string{instanceType})
	defer unlock()

	members, err := r.query.members(ctx, domain.TypeFilter(instanceType))
	if err != nil {
		return nil, domain.ReplacementRequest{}, err
	}
	if len(members) == 0 {
		return nil, domain.ReplacementRequest{}, fmt.Errorf("%w: %s", domain.ErrNoCandidateAvailable, instanceType)
	}

	inst := members[0]
	if _, err := r.tags.RemoveTags(ctx, inst.ID, []string{domain.TagPool}); err != nil {
		return nil, domain.ReplacementRequest{}, err
	}
	delete(inst.Tags, domain.TagPool)

	req := r.strategy.NotifyOfRemoval(instanceType)
	if req.Count > 0 {
		r.addPending(req.InstanceType, req.Count)
	}
	return &inst, req, nil
}

// Stats reports pool members per type against the strategy's inventory.
func (r *Reconciler) Stats(ctx context.Context) ([]domain.PoolStats, error) {
	snapshot, _, err := r.query.ListPoolInstances(ctx)
	if err != nil {
		return nil, err
	}
	stats := snapshot.Stats(r.strategy.RequiredInstances())
	if r.metrics != nil {
		for _, s := range stats {
			r.metrics.PoolInstances.WithLabelValues(s.InstanceType, string(domain.StateRunning)).Set(float64(s.Running))
			r.metrics.PoolInstances.WithLabelValues(s.InstanceType, string(domain.StatePending)).Set(float64(s.Pending))
			r.metrics.PoolDesired.WithLabelValues(s.InstanceType).Set(float64(s.Desired))
		}
	}
	return stats, nil
}

// ListInstances returns every instance matching filters.
func (r *Reconciler) ListInstances(ctx context.Context, filters ...domain.Filter) ([]domain.Instance, error) {
	return r.query.List(ctx, filters...)
}

// DescribeInstance returns one instance and its reachability status.
func (r *Reconciler) DescribeInstance(ctx context.Context, id string) (*domain.Instance, *domain.InstanceStatus, error) {
	inst, err := r.query.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	status, err := r.provider.DescribeInstanceStatus(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrInstanceNotFound) {
			return nil, nil, err
		}
		return nil, nil, fmt.Errorf("%w: %v", domain.ErrProviderQueryFailed, err)
	}
	return inst, status, nil
}

// lockTypes acquires the per-type locks in the given order and returns a
// function releasing them. Callers pass types sorted.
func (r *Reconciler) lockTypes(types []string) func() {
	locks := make([]*sync.Mutex, 0, len(types))
	r.typeLocksMu.Lock()
	for _, t := range types {
		l, ok := r.typeLocks[t]
		if !ok {
			l = &sync.Mutex{}
			r.typeLocks[t] = l
		}
		locks = append(locks, l)
	}
	r.typeLocksMu.Unlock()

	for _, l := range locks {
		l.Lock()
	}
	return func() {
		for i := len(locks) - 1; i >= 0; i-- {
			locks[i].Unlock()
		}
	}
}

// StartReconcileLoop reconciles every ReconcileInterval until stopped. The
// first pass runs one interval after the start; callers wanting one at
// startup call Reconcile themselves.
func (r *Reconciler) StartReconcileLoop(ctx context.Context) error {
	r.loopMu.Lock()
	if r.running {
		r.loopMu.Unlock()
		return fmt.Errorf("reconcile loop already running")
	}
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})
	r.running = true
	r.loopMu.Unlock()

	go r.reconcileLoop(ctx)
	return nil
}

// StopReconcileLoop stops the loop and waits for it to exit.
func (r *Reconciler) StopReconcileLoop() error {
	r.loopMu.Lock()
	if !r.running {
		r.loopMu.Unlock()
		return nil
	}
	close(r.stopCh)
	r.running = false
	r.loopMu.Unlock()

	<-r.doneCh
	return nil
}

func (r *Reconciler) reconcileLoop(ctx context.Context) {
	defer close(r.doneCh)

	if r.interval <= 0 {
		return
	}

	ticker := r.clock.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if _, err := r.Reconcile(ctx); err != nil {
				r.logger.Warn("periodic reconciliation failed", "error", err)
			}
		}
	}
}

func (r *Reconciler) recordRun(result string) {
	if r.metrics != nil {
		r.metrics.ReconcileRunsTotal.WithLabelValues(result).Inc()
	}
}

func (r *Reconciler) recordProviderOp(op, result string) {
	if r.metrics != nil {
		r.metrics.ProviderOpsTotal.WithLabelValues(op, result).Inc()
	}
}

func (r *Reconciler) recordAllocation(instanceType, result string) {
	if r.metrics != nil {
		r.metrics.AllocationsTotal.WithLabelValues(instanceType, result).Inc()
	}
}

// Compile-time check that Reconciler implements Manager
var _ Manager = (*Reconciler)(nil)

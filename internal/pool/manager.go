package pool

import (
	"context"

	"github.com/instant-demo/smake/internal/domain"
)

// Manager defines the fleet operations exposed to the API and queue workers.
type Manager interface {
	Provisioner

	// Initialize reconciles the pool against a desired inventory.
	// Returns ErrReconcileInProgress if another cycle is running.
	Initialize(ctx context.Context, required []domain.Requirement) (domain.Diff, error)

	// Reconcile runs Initialize against the strategy's inventory.
	Reconcile(ctx context.Context) (domain.Diff, error)

	// Launch creates an instance outside the pool with caller tags.
	Launch(ctx context.Context, instanceType string, tags domain.Tags) (string, error)

	// GetInstance allocates one pooled instance of the given type.
	// Returns ErrNoCandidateAvailable if the pool has none.
	GetInstance(ctx context.Context, instanceType string) (*domain.Instance, error)

	// Stats reports pool members per type against the strategy's inventory.
	Stats(ctx context.Context) ([]domain.PoolStats, error)

	// ListInstances returns every instance matching filters.
	ListInstances(ctx context.Context, filters ...domain.Filter) ([]domain.Instance, error)

	// DescribeInstance returns one instance with its reachability status.
	DescribeInstance(ctx context.Context, id string) (*domain.Instance, *domain.InstanceStatus, error)

	// State returns the current reconciliation cycle state.
	State() CycleState

	// StartReconcileLoop starts periodic reconciliation.
	StartReconcileLoop(ctx context.Context) error

	// StopReconcileLoop stops periodic reconciliation.
	StopReconcileLoop() error
}

// CycleState is the phase of a reconciliation cycle.
type CycleState string

const (
	StateIdle     CycleState = "idle"
	StateQuerying CycleState = "querying"
	StateDiffing  CycleState = "diffing"
	StateApplying CycleState = "applying"
)

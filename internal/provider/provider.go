package provider

import (
	"context"

	"github.com/instant-demo/smake/internal/domain"
)

// Provider is the compute capability smake drives.
// Implementations: EC2 (production), Docker (local), Memory (dev/tests).
//
// All methods pass provider failures back unwrapped; callers map them onto
// the domain error taxonomy.
type Provider interface {
	// RunInstance launches one instance and returns its id.
	RunInstance(ctx context.Context, spec domain.LaunchSpec) (string, error)

	// TerminateInstances requests termination. It returns on acknowledgment,
	// not when the instances are gone.
	TerminateInstances(ctx context.Context, ids []string) error

	// DescribeInstances returns every instance matching all filters.
	DescribeInstances(ctx context.Context, filters []domain.Filter) ([]domain.Instance, error)

	// DescribeInstanceStatus reports state and reachability of one instance.
	DescribeInstanceStatus(ctx context.Context, id string) (*domain.InstanceStatus, error)

	// CreateTags adds or overwrites tags on the given instances.
	CreateTags(ctx context.Context, ids []string, tags domain.Tags) error

	// DeleteTags removes tag keys from the given instances.
	DeleteTags(ctx context.Context, ids []string, keys []string) error
}

// Reachability values reported by DescribeInstanceStatus.
const (
	ReachabilityOK               = "ok"
	ReachabilityInitializing     = "initializing"
	ReachabilityImpaired         = "impaired"
	ReachabilityInsufficientData = "insufficient-data"
	ReachabilityNotApplicable    = "not-applicable"
)

package provider

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/instant-demo/smake/internal/config"
	"github.com/instant-demo/smake/internal/domain"
	"github.com/instant-demo/smake/pkg/logging"
)

func TestMapContainerState(t *testing.T) {
	tests := []struct {
		in   string
		want domain.InstanceState
	}{
		{"created", domain.StatePending},
		{"restarting", domain.StatePending},
		{"running", domain.StateRunning},
		{"paused", domain.StateRunning},
		{"removing", domain.StateShuttingDown},
		{"exited", domain.StateStopped},
		{"dead", domain.StateTerminated},
		{"Running", domain.StateRunning},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := mapContainerState(tt.in); got != tt.want {
				t.Errorf("mapContainerState(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestMapHealth(t *testing.T) {
	tests := map[string]string{
		"healthy":   ReachabilityOK,
		"unhealthy": ReachabilityImpaired,
		"starting":  ReachabilityInitializing,
		"none":      ReachabilityInsufficientData,
	}
	for in, want := range tests {
		if got := mapHealth(in); got != want {
			t.Errorf("mapHealth(%q) = %q, want %q", in, got, want)
		}
	}
}

// memTagStore is an in-memory TagStore for Docker integration tests.
type memTagStore struct {
	mu   sync.Mutex
	tags map[string]domain.Tags
}

func (s *memTagStore) SetTags(ctx context.Context, id string, tags domain.Tags) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tags[id] == nil {
		s.tags[id] = domain.Tags{}
	}
	for k, v := range tags {
		s.tags[id][k] = v
	}
	return nil
}

func (s *memTagStore) GetTags(ctx context.Context, id string) (domain.Tags, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tags[id].Clone(), nil
}

func (s *memTagStore) DeleteTags(ctx context.Context, id string, keys []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.tags[id], k)
	}
	return nil
}

func (s *memTagStore) DeleteAll(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tags, id)
	return nil
}

// skipIfNoDocker skips the test if Docker is not available.
func skipIfNoDocker(t *testing.T) *DockerProvider {
	t.Helper()
	if os.Getenv("DOCKER_TEST") == "" {
		t.Skip("Skipping Docker integration test. Set DOCKER_TEST=1 to run.")
	}

	cfg := &config.ProviderConfig{LocalCommand: []string{"sleep", "300"}}
	p, err := NewDockerProvider(cfg, &memTagStore{tags: map[string]domain.Tags{}}, logging.Nop())
	if err != nil {
		t.Skipf("Failed to connect to Docker: %v", err)
	}
	return p
}

func TestDockerProvider_Lifecycle(t *testing.T) {
	p := skipIfNoDocker(t)
	defer p.Close()

	ctx := context.Background()
	id, err := p.RunInstance(ctx, domain.LaunchSpec{ImageID: "alpine:3.20", InstanceType: "small"})
	if err != nil {
		t.Fatalf("RunInstance() error = %v", err)
	}
	defer p.TerminateInstances(ctx, []string{id})

	if err := p.CreateTags(ctx, []string{id}, domain.PoolTags()); err != nil {
		t.Fatalf("CreateTags() error = %v", err)
	}

	pool, err := p.DescribeInstances(ctx, append(domain.PoolFilters(), domain.IDFilter(id)))
	if err != nil {
		t.Fatalf("DescribeInstances() error = %v", err)
	}
	if len(pool) != 1 || pool[0].InstanceType != "small" {
		t.Fatalf("DescribeInstances() = %+v", pool)
	}

	status, err := p.DescribeInstanceStatus(ctx, id)
	if err != nil {
		t.Fatalf("DescribeInstanceStatus() error = %v", err)
	}
	if status.State != domain.StateRunning {
		t.Errorf("State = %q, want running", status.State)
	}

	if err := p.TerminateInstances(ctx, []string{id}); err != nil {
		t.Fatalf("TerminateInstances() error = %v", err)
	}
	remaining, _ := p.DescribeInstances(ctx, []domain.Filter{domain.IDFilter(id)})
	if len(remaining) != 0 {
		t.Errorf("container still listed after terminate: %+v", remaining)
	}
}

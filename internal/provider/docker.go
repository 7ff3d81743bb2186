package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/google/uuid"

	"github.com/instant-demo/smake/internal/config"
	"github.com/instant-demo/smake/internal/domain"
	"github.com/instant-demo/smake/pkg/logging"
)

// Container labels that mark smake-managed containers.
const (
	labelManaged      = "smake.managed"
	labelInstanceType = "smake.instance-type"
)

// TagStore holds tags for instances whose backend cannot tag them natively.
type TagStore interface {
	SetTags(ctx context.Context, id string, tags domain.Tags) error
	GetTags(ctx context.Context, id string) (domain.Tags, error)
	DeleteTags(ctx context.Context, id string, keys []string) error
	DeleteAll(ctx context.Context, id string) error
}

// DockerProvider emulates a cloud provider with local containers.
// A container is an instance; its instance type is a label and its tags live
// in a TagStore since container labels are immutable.
type DockerProvider struct {
	client  *client.Client
	tags    TagStore
	command []string
	logger  *logging.Logger
}

// NewDockerProvider creates a Docker-backed provider.
func NewDockerProvider(cfg *config.ProviderConfig, tags TagStore, logger *logging.Logger) (*DockerProvider, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	return &DockerProvider{
		client:  cli,
		tags:    tags,
		command: cfg.LocalCommand,
		logger:  logger.With("component", "docker"),
	}, nil
}

// Close closes the Docker client connection.
func (p *DockerProvider) Close() error {
	return p.client.Close()
}

// RunInstance creates and starts one container.
func (p *DockerProvider) RunInstance(ctx context.Context, spec domain.LaunchSpec) (string, error) {
	containerCfg := &container.Config{
		Image: spec.ImageID,
		Cmd:   p.command,
		Labels: map[string]string{
			labelManaged:      "true",
			labelInstanceType: spec.InstanceType,
		},
	}
	hostCfg := &container.HostConfig{
		RestartPolicy: container.RestartPolicy{
			Name: container.RestartPolicyUnlessStopped,
		},
	}

	name := "smake-" + uuid.New().String()[:8]
	resp, err := p.client.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, name)
	if err != nil {
		return "", fmt.Errorf("failed to create container: %w", err)
	}

	if err := p.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		// Remove error ignored: the container may not have been fully created.
		_ = p.client.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true})
		return "", fmt.Errorf("failed to start container: %w", err)
	}

	p.logger.Debug("container started", "instanceID", resp.ID, "instanceType", spec.InstanceType)
	return resp.ID, nil
}

// TerminateInstances stops and removes containers and drops their tags.
func (p *DockerProvider) TerminateInstances(ctx context.Context, ids []string) error {
	for _, id := range ids {
		timeout := 10
		if err := p.client.ContainerStop(ctx, id, container.StopOptions{Timeout: &timeout}); err != nil {
			if client.IsErrNotFound(err) {
				return fmt.Errorf("%w: %s", domain.ErrInstanceNotFound, id)
			}
			return fmt.Errorf("failed to stop container: %w", err)
		}
		if err := p.client.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil {
			if !client.IsErrNotFound(err) {
				return fmt.Errorf("failed to remove container: %w", err)
			}
		}
		if err := p.tags.DeleteAll(ctx, id); err != nil {
			p.logger.Warn("failed to drop tags of removed container", "instanceID", id, "error", err)
		}
	}
	return nil
}

// DescribeInstances lists managed containers and applies filters locally.
func (p *DockerProvider) DescribeInstances(ctx context.Context, fs []domain.Filter) ([]domain.Instance, error) {
	containers, err := p.client.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", labelManaged+"=true")),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}

	var out []domain.Instance
	for _, c := range containers {
		tags, err := p.tags.GetTags(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		inst := domain.Instance{
			ID:           c.ID,
			InstanceType: c.Labels[labelInstanceType],
			State:        mapContainerState(c.State),
			Tags:         tags,
			LaunchTime:   time.Unix(c.Created, 0).UTC(),
		}
		if domain.MatchesAll(fs, &inst) {
			out = append(out, inst)
		}
	}
	return out, nil
}

// DescribeInstanceStatus maps the container health check onto reachability.
func (p *DockerProvider) DescribeInstanceStatus(ctx context.Context, id string) (*domain.InstanceStatus, error) {
	inspect, err := p.client.ContainerInspect(ctx, id)
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil, fmt.Errorf("%w: %s", domain.ErrInstanceNotFound, id)
		}
		return nil, fmt.Errorf("failed to inspect container: %w", err)
	}

	status := &domain.InstanceStatus{ID: id, Reachability: ReachabilityNotApplicable}
	if inspect.State == nil {
		return status, nil
	}
	status.State = mapContainerState(inspect.State.Status)
	status.Reachability = reachabilityFor(status.State)
	if inspect.State.Health != nil {
		status.Reachability = mapHealth(inspect.State.Health.Status)
	}
	return status, nil
}

// CreateTags stores tags for existing containers.
func (p *DockerProvider) CreateTags(ctx context.Context, ids []string, tags domain.Tags) error {
	for _, id := range ids {
		if err := p.ensureExists(ctx, id); err != nil {
			return err
		}
		if err := p.tags.SetTags(ctx, id, tags); err != nil {
			return err
		}
	}
	return nil
}

// DeleteTags removes stored tag keys for existing containers.
func (p *DockerProvider) DeleteTags(ctx context.Context, ids []string, keys []string) error {
	for _, id := range ids {
		if err := p.ensureExists(ctx, id); err != nil {
			return err
		}
		if err := p.tags.DeleteTags(ctx, id, keys); err != nil {
			return err
		}
	}
	return nil
}

func (p *DockerProvider) ensureExists(ctx context.Context, id string) error {
	if _, err := p.client.ContainerInspect(ctx, id); err != nil {
		if client.IsErrNotFound(err) {
			return fmt.Errorf("%w: %s", domain.ErrInstanceNotFound, id)
		}
		return fmt.Errorf("failed to inspect container: %w", err)
	}
	return nil
}

// mapContainerState translates Docker container states into instance states.
func mapContainerState(state string) domain.InstanceState {
	switch strings.ToLower(state) {
	case "created", "restarting":
		return domain.StatePending
	case "running", "paused":
		return domain.StateRunning
	case "removing":
		return domain.StateShuttingDown
	case "exited":
		return domain.StateStopped
	case "dead":
		return domain.StateTerminated
	default:
		return domain.StatePending
	}
}

func mapHealth(health string) string {
	switch health {
	case "healthy":
		return ReachabilityOK
	case "unhealthy":
		return ReachabilityImpaired
	case "starting":
		return ReachabilityInitializing
	default:
		return ReachabilityInsufficientData
	}
}

// Compile-time check that DockerProvider implements Provider
var _ Provider = (*DockerProvider)(nil)

package queue

import (
	"context"
	"errors"

	"github.com/instant-demo/smake/internal/domain"
	"github.com/instant-demo/smake/internal/metrics"
	"github.com/instant-demo/smake/internal/pool"
	"github.com/instant-demo/smake/pkg/logging"
)

// Handlers processes NATS queue tasks against a pool.Provisioner.
type Handlers struct {
	provisioner pool.Provisioner
	logger      *logging.Logger
	metrics     *metrics.Collector
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(provisioner pool.Provisioner, logger *logging.Logger, m *metrics.Collector) *Handlers {
	return &Handlers{
		provisioner: provisioner,
		logger:      logger.With("component", "queue-handlers"),
		metrics:     m,
	}
}

// ProvisionHandler creates one pool instance. Failures are logged and the
// task is consumed: create is never retried, the next reconciliation cycle
// launches whatever is still missing. A launched but untagged instance is
// logged as an orphan.
func (h *Handlers) ProvisionHandler(ctx context.Context, task ProvisionTask) error {
	h.logger.Info("processing provision task", "taskID", task.TaskID, "instanceType", task.InstanceType)

	id, err := h.provisioner.Create(ctx, task.InstanceType)
	switch {
	case err == nil:
		h.record("provision", "success")
		h.logger.Info("provision task completed", "taskID", task.TaskID, "instanceID", id)
		return nil
	case errors.Is(err, domain.ErrMetadataWriteFailed):
		h.record("provision", "orphan")
		h.logger.Error("provision task left an untagged instance",
			"taskID", task.TaskID, "instanceID", id, "orphan", true, "error", err)
		return nil
	case errors.Is(err, domain.ErrProviderActionFailed):
		h.record("provision", "failure")
		h.logger.Error("provision task failed", "taskID", task.TaskID, "instanceType", task.InstanceType, "error", err)
		return nil
	default:
		h.record("provision", "failure")
		h.logger.Error("provision task failed", "taskID", task.TaskID, "error", err)
		return err
	}
}

// TerminateHandler terminates one instance. An instance that no longer
// exists counts as done. A provider failure is logged with orphan=true and
// the task is consumed without retry.
func (h *Handlers) TerminateHandler(ctx context.Context, task TerminateTask) error {
	h.logger.Info("processing terminate task", "taskID", task.TaskID, "instanceID", task.InstanceID)

	if err := h.provisioner.Terminate(ctx, task.InstanceID); err != nil {
		if errors.Is(err, domain.ErrInstanceNotFound) {
			h.record("terminate", "gone")
			h.logger.Warn("instance already gone", "taskID", task.TaskID, "instanceID", task.InstanceID)
			return nil
		}
		h.record("terminate", "failure")
		h.logger.Error("terminate task failed",
			"taskID", task.TaskID, "instanceID", task.InstanceID, "orphan", true, "error", err)
		if errors.Is(err, domain.ErrProviderActionFailed) {
			return nil
		}
		return err
	}

	h.record("terminate", "success")
	h.logger.Info("terminate task completed", "taskID", task.TaskID, "instanceID", task.InstanceID)
	return nil
}

func (h *Handlers) record(task, result string) {
	if h.metrics != nil {
		h.metrics.TasksTotal.WithLabelValues(task, result).Inc()
	}
}

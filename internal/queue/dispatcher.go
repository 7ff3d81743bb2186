package queue

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/instant-demo/smake/internal/pool"
)

// NATSDispatcher issues corrective operations as work-queue tasks.
type NATSDispatcher struct {
	publisher Publisher
	now       func() time.Time
}

// NewNATSDispatcher wraps a publisher.
func NewNATSDispatcher(publisher Publisher) *NATSDispatcher {
	return &NATSDispatcher{publisher: publisher, now: time.Now}
}

// DispatchCreate publishes a provision task.
func (d *NATSDispatcher) DispatchCreate(ctx context.Context, instanceType string) error {
	return d.publisher.PublishProvisionTask(ctx, ProvisionTask{
		TaskID:       uuid.New().String(),
		InstanceType: instanceType,
		CreatedAt:    d.now(),
	})
}

// DispatchTerminate publishes a terminate task. The instance id doubles as the
// message id so duplicate terminations within the dedup window collapse.
func (d *NATSDispatcher) DispatchTerminate(ctx context.Context, instanceID string) error {
	return d.publisher.PublishTerminateTask(ctx, TerminateTask{
		TaskID:     "terminate-" + instanceID,
		InstanceID: instanceID,
		CreatedAt:  d.now(),
	})
}

// Compile-time check that NATSDispatcher implements pool.Dispatcher.
var _ pool.Dispatcher = (*NATSDispatcher)(nil)

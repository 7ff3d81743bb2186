package pool

import (
	"context"
	"sync"

	"github.com/instant-demo/smake/pkg/logging"
)

// Dispatcher issues corrective operations without waiting for them to finish.
// Implementations: InlineDispatcher (goroutines), queue.NATSDispatcher (JetStream).
type Dispatcher interface {
	DispatchCreate(ctx context.Context, instanceType string) error
	DispatchTerminate(ctx context.Context, instanceID string) error
}

// Provisioner performs the operations a Dispatcher issues.
type Provisioner interface {
	Create(ctx context.Context, instanceType string) (string, error)
	Terminate(ctx context.Context, instanceID string) error
}

// InlineDispatcher runs each operation in its own goroutine.
type InlineDispatcher struct {
	target Provisioner
	logger *logging.Logger
	wg     sync.WaitGroup
}

// NewInlineDispatcher creates a dispatcher that calls target directly.
func NewInlineDispatcher(target Provisioner, logger *logging.Logger) *InlineDispatcher {
	return &InlineDispatcher{
		target: target,
		logger: logger.With("component", "dispatch"),
	}
}

// DispatchCreate starts a create and returns immediately.
func (d *InlineDispatcher) DispatchCreate(ctx context.Context, instanceType string) error {
	ctx = context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if _, err := d.target.Create(ctx, instanceType); err != nil {
			d.logger.Error("dispatched create failed", "instanceType", instanceType, "error", err)
		}
	}()
	return nil
}

// DispatchTerminate starts a termination and returns immediately.
func (d *InlineDispatcher) DispatchTerminate(ctx context.Context, instanceID string) error {
	ctx = context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.target.Terminate(ctx, instanceID); err != nil {
			d.logger.Error("dispatched terminate failed", "instanceID", instanceID, "error", err)
		}
	}()
	return nil
}

// Wait blocks until every dispatched operation has finished.
func (d *InlineDispatcher) Wait() {
	d.wg.Wait()
}

// Compile-time check that InlineDispatcher implements Dispatcher
var _ Dispatcher = (*InlineDispatcher)(nil)

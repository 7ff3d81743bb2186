package queue

import (
	"context"
	"time"
)

// Publisher defines the interface for publishing tasks to the queue.
// Implementation: NATS JetStream.
type Publisher interface {
	// PublishProvisionTask queues the creation of one pool instance.
	PublishProvisionTask(ctx context.Context, task ProvisionTask) error

	// PublishTerminateTask queues the termination of one instance.
	PublishTerminateTask(ctx context.Context, task TerminateTask) error

	// Close closes the publisher connection.
	Close() error
}

// Consumer defines the interface for consuming tasks from the queue.
type Consumer interface {
	// Start begins consuming messages and processing them with the handler.
	Start(ctx context.Context) error

	// Stop gracefully stops the consumer.
	Stop(ctx context.Context) error
}

// ProvisionTask represents a request to create a pool instance.
type ProvisionTask struct {
	TaskID       string    `json:"task_id"`
	InstanceType string    `json:"instance_type"`
	CreatedAt    time.Time `json:"created_at"`
}

// TerminateTask represents a request to terminate an instance.
type TerminateTask struct {
	TaskID     string    `json:"task_id"`
	InstanceID string    `json:"instance_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// ProvisionHandler processes provision tasks.
type ProvisionHandler func(ctx context.Context, task ProvisionTask) error

// TerminateHandler processes terminate tasks.
type TerminateHandler func(ctx context.Context, task TerminateTask) error

package queue

import (
	"context"
	"errors"
	"testing"
	"time"
)

// mockPublisher implements Publisher for testing.
type mockPublisher struct {
	publishErr error
	provision  []ProvisionTask
	terminate  []TerminateTask
}

var _ Publisher = (*mockPublisher)(nil)

func (m *mockPublisher) PublishProvisionTask(ctx context.Context, task ProvisionTask) error {
	m.provision = append(m.provision, task)
	return m.publishErr
}

func (m *mockPublisher) PublishTerminateTask(ctx context.Context, task TerminateTask) error {
	m.terminate = append(m.terminate, task)
	return m.publishErr
}

func (m *mockPublisher) Close() error { return nil }

func TestNATSDispatcher_DispatchCreate(t *testing.T) {
	pub := &mockPublisher{}
	d := NewNATSDispatcher(pub)
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	d.now = func() time.Time { return fixed }

	for i := 0; i < 2; i++ {
		if err := d.DispatchCreate(context.Background(), "t3.small"); err != nil {
			t.Fatalf("DispatchCreate() error = %v", err)
		}
	}

	if len(pub.provision) != 2 {
		t.Fatalf("published %d provision tasks, want 2", len(pub.provision))
	}
	first, second := pub.provision[0], pub.provision[1]
	if first.InstanceType != "t3.small" || !first.CreatedAt.Equal(fixed) {
		t.Errorf("task = %+v", first)
	}
	if first.TaskID == "" || first.TaskID == second.TaskID {
		t.Errorf("task IDs %q and %q should be unique", first.TaskID, second.TaskID)
	}
}

func TestNATSDispatcher_DispatchTerminate(t *testing.T) {
	pub := &mockPublisher{}
	d := NewNATSDispatcher(pub)

	if err := d.DispatchTerminate(context.Background(), "i-0abc"); err != nil {
		t.Fatalf("DispatchTerminate() error = %v", err)
	}

	if len(pub.terminate) != 1 {
		t.Fatalf("published %d terminate tasks, want 1", len(pub.terminate))
	}
	task := pub.terminate[0]
	if task.InstanceID != "i-0abc" || task.TaskID != "terminate-i-0abc" {
		t.Errorf("task = %+v", task)
	}
}

func TestNATSDispatcher_PublishError(t *testing.T) {
	wantErr := errors.New("nats down")
	d := NewNATSDispatcher(&mockPublisher{publishErr: wantErr})

	if err := d.DispatchCreate(context.Background(), "t3.small"); !errors.Is(err, wantErr) {
		t.Errorf("DispatchCreate() error = %v, want %v", err, wantErr)
	}
	if err := d.DispatchTerminate(context.Background(), "i-1"); !errors.Is(err, wantErr) {
		t.Errorf("DispatchTerminate() error = %v, want %v", err, wantErr)
	}
}

// Package ttl terminates instances when their "Termination Time" tag passes.
// The tag is the durable record; timers are derived from it and rebuilt by
// Recover after a restart.
package ttl

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/instant-demo/smake/internal/domain"
	"github.com/instant-demo/smake/internal/metrics"
	"github.com/instant-demo/smake/pkg/logging"
)

// Terminator ends an instance.
type Terminator interface {
	Terminate(ctx context.Context, instanceID string) error
}

// Tagger writes tags with the retry semantics of metadata.Store.
type Tagger interface {
	ApplyTags(ctx context.Context, id string, tags domain.Tags) (string, error)
}

// Lister finds instances by filter.
type Lister interface {
	DescribeInstances(ctx context.Context, filters []domain.Filter) ([]domain.Instance, error)
}

// Scheduler arms one termination timer per instance.
type Scheduler struct {
	terminator Terminator
	tagger     Tagger
	lister     Lister
	clock      clockwork.Clock
	logger     *logging.Logger
	metrics    *metrics.Collector

	mu     sync.Mutex
	timers map[string]clockwork.Timer
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewScheduler creates a TTL scheduler. clock may be nil for the real clock.
func NewScheduler(
	terminator Terminator,
	tagger Tagger,
	lister Lister,
	clock clockwork.Clock,
	logger *logging.Logger,
	m *metrics.Collector,
) *Scheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Scheduler{
		terminator: terminator,
		tagger:     tagger,
		lister:     lister,
		clock:      clock,
		logger:     logger.With("component", "ttl"),
		metrics:    m,
		timers:     make(map[string]clockwork.Timer),
	}
}

// AddTTL tags an instance with a deadline hours from now and arms its timer.
// No timer is armed if the tag write fails.
func (s *Scheduler) AddTTL(ctx context.Context, id string, hours int) (time.Time, error) {
	if hours <= 0 {
		return time.Time{}, fmt.Errorf("%w: %d hours", domain.ErrInvalidTTL, hours)
	}

	deadline := s.clock.Now().Add(time.Duration(hours) * time.Hour).UTC().Truncate(time.Second)
	tags := domain.Tags{domain.TagTerminationTime: domain.FormatTerminationTime(deadline)}
	if _, err := s.tagger.ApplyTags(ctx, id, tags); err != nil {
		return time.Time{}, err
	}

	s.arm(id, deadline.Sub(s.clock.Now()))
	s.logger.Info("ttl set", "instanceID", id, "terminationTime", deadline)
	return deadline, nil
}

// HandleTTL enforces the TTL tag of one instance. Instances that are not
// running or carry no tag are ignored. A passed deadline terminates the
// instance before returning; a future one (re)arms its timer.
func (s *Scheduler) HandleTTL(ctx context.Context, inst domain.Instance) error {
	if inst.State != domain.StateRunning {
		return nil
	}
	deadline, ok, err := inst.TerminationTime()
	if !ok {
		return nil
	}
	if err != nil {
		s.logger.Warn("skipping unparseable termination time", "instanceID", inst.ID, "error", err)
		return err
	}

	remaining := deadline.Sub(s.clock.Now())
	if remaining <= 0 {
		s.cancel(inst.ID)
		s.logger.Info("termination time passed", "instanceID", inst.ID, "terminationTime", deadline)
		if err := s.terminator.Terminate(ctx, inst.ID); err != nil {
			return err
		}
		s.recordTermination("overdue")
		return nil
	}

	s.arm(inst.ID, remaining)
	return nil
}

// Recover scans running instances with a TTL tag and enforces each one.
// Failures on individual instances are logged and do not stop the scan.
func (s *Scheduler) Recover(ctx context.Context) error {
	instances, err := s.lister.DescribeInstances(ctx, []domain.Filter{
		domain.StateFilter(domain.StateRunning),
		domain.TagKeyFilter(domain.TagTerminationTime),
	})
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrProviderQueryFailed, err)
	}

	for _, inst := range instances {
		if err := s.HandleTTL(ctx, inst); err != nil {
			s.logger.Warn("ttl recovery failed for instance", "instanceID", inst.ID, "error", err)
		}
	}
	s.logger.Info("ttl recovery complete", "instances", len(instances), "pending", s.Pending())
	return nil
}

// StartSweep runs Recover every interval until Stop.
func (s *Scheduler) StartSweep(ctx context.Context, interval time.Duration) {
	s.mu.Lock()
	if s.stopCh != nil || interval <= 0 {
		s.mu.Unlock()
		return
	}
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	stopCh, doneCh := s.stopCh, s.doneCh
	s.mu.Unlock()

	go func() {
		defer close(doneCh)
		ticker := s.clock.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				if err := s.Recover(ctx); err != nil {
					s.logger.Warn("ttl sweep failed", "error", err)
				}
			}
		}
	}()
}

// Stop cancels every armed timer and the sweep loop.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	stopCh, doneCh := s.stopCh, s.doneCh
	s.stopCh, s.doneCh = nil, nil
	s.updateGauge()
	s.mu.Unlock()

	if stopCh != nil {
		close(stopCh)
		<-doneCh
	}
}

// Pending returns the number of armed timers.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// arm replaces any timer for id with one firing after d.
func (s *Scheduler) arm(id string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.timers[id]; ok {
		old.Stop()
	}

	var timer clockwork.Timer
	timer = s.clock.AfterFunc(d, func() {
		s.mu.Lock()
		current, ok := s.timers[id]
		if !ok || current != timer {
			s.mu.Unlock()
			return
		}
		delete(s.timers, id)
		s.updateGauge()
		s.mu.Unlock()

		s.fire(id)
	})
	s.timers[id] = timer
	s.updateGauge()
}

func (s *Scheduler) cancel(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[id]; ok {
		t.Stop()
		delete(s.timers, id)
		s.updateGauge()
	}
}

func (s *Scheduler) fire(id string) {
	s.logger.Info("ttl expired, terminating", "instanceID", id)
	if err := s.terminator.Terminate(context.Background(), id); err != nil {
		s.logger.Error("ttl termination failed", "instanceID", id, "error", err)
		return
	}
	s.recordTermination("timer")
}

// updateGauge must be called with s.mu held.
func (s *Scheduler) updateGauge() {
	if s.metrics != nil {
		s.metrics.TTLTimers.Set(float64(len(s.timers)))
	}
}

func (s *Scheduler) recordTermination(trigger string) {
	if s.metrics != nil {
		s.metrics.TTLTerminationsTotal.WithLabelValues(trigger).Inc()
	}
}

// Package metadata writes instance tags through the provider.
// Tag writes can be rejected transiently right after launch, so ApplyTags
// retries a bounded number of times.
package metadata

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/instant-demo/smake/internal/domain"
	"github.com/instant-demo/smake/internal/metrics"
	"github.com/instant-demo/smake/internal/provider"
	"github.com/instant-demo/smake/pkg/logging"
)

// DefaultAttempts is the total number of tag write attempts.
const DefaultAttempts = 3

// Store applies and removes instance tags.
type Store struct {
	provider provider.Provider
	attempts int
	delay    time.Duration
	clock    clockwork.Clock
	logger   *logging.Logger
	metrics  *metrics.Collector
}

// Options configures a Store. Zero values select defaults.
type Options struct {
	Attempts int             // total write attempts, DefaultAttempts if <= 0
	Delay    time.Duration   // pause between attempts, none if 0
	Clock    clockwork.Clock // real clock if nil
}

// NewStore creates a tag store on top of a provider.
func NewStore(p provider.Provider, opts Options, logger *logging.Logger, m *metrics.Collector) *Store {
	if opts.Attempts <= 0 {
		opts.Attempts = DefaultAttempts
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	return &Store{
		provider: p,
		attempts: opts.Attempts,
		delay:    opts.Delay,
		clock:    opts.Clock,
		logger:   logger.With("component", "metadata"),
		metrics:  m,
	}
}

// ApplyTags writes tags on an instance, retrying up to the configured number
// of attempts. It returns the instance id on success and ErrMetadataWriteFailed
// once attempts are exhausted. A not-found instance is retried like any other
// failure since freshly launched ids can lag behind the tagging API.
func (s *Store) ApplyTags(ctx context.Context, id string, tags domain.Tags) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= s.attempts; attempt++ {
		err := s.provider.CreateTags(ctx, []string{id}, tags)
		if err == nil {
			s.record("apply", "success")
			return id, nil
		}
		lastErr = err
		s.record("apply", "retry")
		s.logger.Warn("tag write failed", "instanceID", id, "attempt", attempt, "error", err)

		if attempt == s.attempts {
			break
		}
		if err := s.wait(ctx); err != nil {
			lastErr = err
			break
		}
	}

	s.record("apply", "failure")
	return "", fmt.Errorf("%w: %s: %v", domain.ErrMetadataWriteFailed, id, lastErr)
}

// RemoveTags deletes tag keys from an instance in a single attempt.
func (s *Store) RemoveTags(ctx context.Context, id string, keys []string) (string, error) {
	if err := s.provider.DeleteTags(ctx, []string{id}, keys); err != nil {
		s.record("remove", "failure")
		return "", fmt.Errorf("%w: %s: %v", domain.ErrMetadataWriteFailed, id, err)
	}
	s.record("remove", "success")
	return id, nil
}

func (s *Store) wait(ctx context.Context) error {
	if s.delay <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.clock.After(s.delay):
		return nil
	}
}

func (s *Store) record(op, result string) {
	if s.metrics != nil {
		s.metrics.TagWritesTotal.WithLabelValues(op, result).Inc()
	}
}

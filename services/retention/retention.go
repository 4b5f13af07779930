// Package retention removes artifacts that outlived the retention window.
package retention

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"photodrop/pkg/bus"
	"photodrop/pkg/metrics"
	"photodrop/services/artifacts"
)

// DefaultWindow is how long an artifact is kept after creation.
const DefaultWindow = 24 * time.Hour

// Publisher receives removal events. *bus.Bus satisfies it.
type Publisher interface {
	Publish(ctx context.Context, subj string, v any) error
}

// Sweeper deletes expired artifacts from a store.
type Sweeper struct {
	store   artifacts.Store
	window  time.Duration
	logger  zerolog.Logger
	metrics *metrics.Metrics
	events  Publisher
	lock    sync.Locker
}

// Option customises a Sweeper.
type Option func(*Sweeper)

// WithMetrics counts removed artifacts.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Sweeper) { s.metrics = m }
}

// WithPublisher announces removed artifacts.
func WithPublisher(p Publisher) Option {
	return func(s *Sweeper) { s.events = p }
}

// WithLocker holds l for the duration of each sweep so callers can keep
// readers from observing a sweep in progress.
func WithLocker(l sync.Locker) Option {
	return func(s *Sweeper) { s.lock = l }
}

// New returns a Sweeper. A non-positive window falls back to DefaultWindow.
func New(store artifacts.Store, window time.Duration, logger zerolog.Logger, opts ...Option) *Sweeper {
	if window <= 0 {
		window = DefaultWindow
	}
	s := &Sweeper{store: store, window: window, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Window reports the retention window.
func (s *Sweeper) Window() time.Duration {
	return s.window
}

// Sweep deletes every artifact strictly older than the window at now and
// returns how many were removed. A failed deletion does not stop the sweep;
// failures are joined into the returned error.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) (int, error) {
	if s.lock != nil {
		s.lock.Lock()
		defer s.lock.Unlock()
	}

	list, err := s.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list artifacts: %w", err)
	}

	var (
		removed []string
		errs    []error
	)
	for _, a := range list {
		if a.Age(now) <= s.window {
			continue
		}
		if err := s.store.Delete(ctx, a.ID); err != nil {
			if errors.Is(err, artifacts.ErrNotFound) {
				// Gone already, e.g. a concurrent sweep or download.
				continue
			}
			errs = append(errs, fmt.Errorf("delete %s: %w", a.ID, err))
			continue
		}
		removed = append(removed, a.ID)
	}

	if len(removed) > 0 {
		s.metrics.Expired(len(removed))
		s.logger.Info().Int("count", len(removed)).Dur("window", s.window).Msg("expired artifacts removed")
		s.publish(ctx, removed, now)
	}
	return len(removed), errors.Join(errs...)
}

func (s *Sweeper) publish(ctx context.Context, ids []string, now time.Time) {
	if s.events == nil {
		return
	}
	event := bus.ArtifactsRemoved{ArtifactIDs: ids, Reason: "expired", At: now.UTC()}
	if err := s.events.Publish(ctx, bus.SubjectArtifactsExpired, event); err != nil {
		s.logger.Warn().Err(err).Msg("publish expiry event")
	}
}

// Run sweeps once immediately, then on every tick of interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := s.Sweep(ctx, time.Now()); err != nil && ctx.Err() == nil {
			s.logger.Error().Err(err).Msg("retention sweep")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

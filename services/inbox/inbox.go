// Package inbox is the operator side of photodrop: listing, downloading and
// clearing stored artifacts.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"photodrop/pkg/bus"
	"photodrop/pkg/metrics"
	"photodrop/pkg/secret"
	"photodrop/services/artifacts"
	"photodrop/services/retention"
)

// ErrUnauthorized means the operator password did not match.
var ErrUnauthorized = errors.New("wrong inbox password")

// Config tunes an Inbox.
type Config struct {
	// Window is the retention window; zero uses retention.DefaultWindow.
	Window time.Duration
	// DeleteAfterDownload removes an artifact once it has been served.
	DeleteAfterDownload bool
	Now                 func() time.Time
	Metrics             *metrics.Metrics
	Events              retention.Publisher
}

// Inbox serializes deletions (sweeps, bulk delete, single-use downloads)
// against reads of the artifact store.
type Inbox struct {
	mu                  sync.RWMutex
	store               artifacts.Store
	secret              *secret.Verifier
	sweeper             *retention.Sweeper
	deleteAfterDownload bool
	now                 func() time.Time
	logger              zerolog.Logger
	metrics             *metrics.Metrics
	events              retention.Publisher
}

// New wires an Inbox over store, guarded by the operator secret.
func New(store artifacts.Store, operatorSecret *secret.Verifier, cfg Config, logger zerolog.Logger) (*Inbox, error) {
	if store == nil {
		return nil, errors.New("artifact store is required")
	}
	if operatorSecret == nil {
		return nil, errors.New("inbox secret is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	in := &Inbox{
		store:               store,
		secret:              operatorSecret,
		deleteAfterDownload: cfg.DeleteAfterDownload,
		now:                 cfg.Now,
		logger:              logger,
		metrics:             cfg.Metrics,
		events:              cfg.Events,
	}
	opts := []retention.Option{retention.WithLocker(&in.mu), retention.WithMetrics(cfg.Metrics)}
	if cfg.Events != nil {
		opts = append(opts, retention.WithPublisher(cfg.Events))
	}
	in.sweeper = retention.New(store, cfg.Window, logger, opts...)
	return in, nil
}

// Sweeper exposes the retention sweeper bound to this inbox's lock, for the
// background loop.
func (in *Inbox) Sweeper() *retention.Sweeper {
	return in.sweeper
}

// Window reports the retention window shown to operators.
func (in *Inbox) Window() time.Duration {
	return in.sweeper.Window()
}

// Authenticate checks the operator password.
func (in *Inbox) Authenticate(password string) error {
	if !in.secret.Match(password) {
		return ErrUnauthorized
	}
	return nil
}

// List sweeps expired artifacts, then returns the rest newest first.
// A failed sweep is logged and the listing still proceeds.
func (in *Inbox) List(ctx context.Context) ([]artifacts.Artifact, error) {
	if _, err := in.sweeper.Sweep(ctx, in.now()); err != nil {
		in.logger.Warn().Err(err).Msg("sweep before listing")
	}

	in.mu.RLock()
	list, err := in.store.List(ctx)
	in.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}

	sort.Slice(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.After(list[j].CreatedAt)
		}
		return list[i].ID < list[j].ID
	})
	return list, nil
}

// Download returns an artifact and its payload. Unknown or unsafe ids yield
// artifacts.ErrNotFound.
func (in *Inbox) Download(ctx context.Context, id string) (artifacts.Artifact, []byte, error) {
	if !artifacts.ValidID(id) {
		return artifacts.Artifact{}, nil, fmt.Errorf("%w: %q", artifacts.ErrNotFound, id)
	}

	in.mu.RLock()
	a, body, err := in.store.Get(ctx, id)
	in.mu.RUnlock()
	if err != nil {
		return artifacts.Artifact{}, nil, err
	}

	if in.deleteAfterDownload {
		in.deleteBestEffort(ctx, a.ID)
	}
	return a, body, nil
}

// deleteBestEffort removes a served artifact. Failures are logged and counted
// but never reach the caller, who already has the payload.
func (in *Inbox) deleteBestEffort(ctx context.Context, id string) {
	in.mu.Lock()
	err := in.store.Delete(ctx, id)
	in.mu.Unlock()

	switch {
	case err == nil:
		in.metrics.Deleted("download", 1)
		in.publishDeleted(ctx, []string{id}, "download")
	case errors.Is(err, artifacts.ErrNotFound):
	default:
		in.metrics.CleanupFailed()
		in.logger.Warn().Err(err).Str("artifact", id).Msg("delete after download failed")
	}
}

// DeleteAll removes every stored artifact after checking the operator
// password. Individual failures do not stop the run; they are joined into the
// returned error alongside the count actually deleted.
func (in *Inbox) DeleteAll(ctx context.Context, password string) (int, error) {
	if err := in.Authenticate(password); err != nil {
		return 0, err
	}

	in.mu.Lock()
	list, err := in.store.List(ctx)
	if err != nil {
		in.mu.Unlock()
		return 0, fmt.Errorf("list artifacts: %w", err)
	}
	var (
		deleted []string
		errs    []error
	)
	for _, a := range list {
		if err := in.store.Delete(ctx, a.ID); err != nil {
			if errors.Is(err, artifacts.ErrNotFound) {
				continue
			}
			errs = append(errs, fmt.Errorf("delete %s: %w", a.ID, err))
			continue
		}
		deleted = append(deleted, a.ID)
	}
	in.mu.Unlock()

	if len(deleted) > 0 {
		in.metrics.Deleted("bulk", len(deleted))
		in.publishDeleted(ctx, deleted, "bulk")
	}
	in.logger.Info().Int("count", len(deleted)).Int("failed", len(errs)).Msg("inbox cleared")
	return len(deleted), errors.Join(errs...)
}

func (in *Inbox) publishDeleted(ctx context.Context, ids []string, reason string) {
	if in.events == nil {
		return
	}
	event := bus.ArtifactsRemoved{ArtifactIDs: ids, Reason: reason, At: in.now().UTC()}
	if err := in.events.Publish(ctx, bus.SubjectArtifactsDeleted, event); err != nil {
		in.logger.Warn().Err(err).Msg("publish delete event")
	}
}

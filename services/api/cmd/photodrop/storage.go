package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"photodrop/pkg/db"
	gos3 "photodrop/pkg/s3"
	"photodrop/services/api/internal/config"
	"photodrop/services/artifacts"
	"photodrop/services/artifacts/fsstore"
	"photodrop/services/artifacts/pgstore"
	"photodrop/services/artifacts/s3store"
	"photodrop/services/artifacts/sealed"
)

type storage struct {
	store artifacts.Store
	ready func(context.Context) error
	close func()
}

// openStorage builds the configured backend, wrapped in age encryption when
// an identity is configured.
func openStorage(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*storage, error) {
	st, err := openBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if cfg.AgeIdentity != "" {
		wrapped, err := sealed.New(st.store, cfg.AgeIdentity)
		if err != nil {
			st.close()
			return nil, fmt.Errorf("ARTIFACT_AGE_IDENTITY: %w", err)
		}
		logger.Info().Str("recipient", wrapped.Recipient()).Msg("artifacts encrypted at rest")
		st.store = wrapped
	}
	return st, nil
}

func openBackend(ctx context.Context, cfg config.Config) (*storage, error) {
	noop := func() {}

	switch cfg.StorageBackend {
	case config.BackendFS:
		store, err := fsstore.New(cfg.UploadDir)
		if err != nil {
			return nil, err
		}
		ready := func(context.Context) error {
			_, err := os.Stat(store.Root())
			return err
		}
		return &storage{store: store, ready: ready, close: noop}, nil

	case config.BackendMemory:
		return &storage{store: artifacts.NewMemoryStore(), close: noop}, nil

	case config.BackendS3:
		client, err := gos3.NewClientFromEnv()
		if err != nil {
			return nil, fmt.Errorf("init s3 client: %w", err)
		}
		store, err := s3store.New(client, cfg.S3Bucket, cfg.S3Prefix)
		if err != nil {
			return nil, err
		}
		return &storage{store: store, close: noop}, nil

	case config.BackendPostgres:
		pool, err := db.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		if err := db.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, fmt.Errorf("migrate database: %w", err)
		}
		store, err := pgstore.New(pool)
		if err != nil {
			pool.Close()
			return nil, err
		}
		ready := func(ctx context.Context) error { return db.Ping(ctx, pool) }
		return &storage{store: store, ready: ready, close: pool.Close}, nil

	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}

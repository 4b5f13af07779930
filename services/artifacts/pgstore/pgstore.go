// Package pgstore keeps artifacts, payload included, in a Postgres table.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"photodrop/pkg/db"
	"photodrop/services/artifacts"
)

const uniqueViolation = "23505"

// Store is an artifacts.Store backed by the artifacts table created by the
// pkg/db migrations.
type Store struct {
	pool *pgxpool.Pool
}

var _ artifacts.Store = (*Store)(nil)

// New wraps an open pool. Call db.Migrate beforehand.
func New(pool *pgxpool.Pool) (*Store, error) {
	if pool == nil {
		return nil, errors.New("pgstore: pool is required")
	}
	return &Store{pool: pool}, nil
}

type artifactRow struct {
	ID        string    `db:"id"`
	Name      string    `db:"name"`
	Shape     string    `db:"shape"`
	Files     int       `db:"files"`
	Size      int64     `db:"size"`
	CreatedAt time.Time `db:"created_at"`
	Body      []byte    `db:"body"`
}

func (r artifactRow) toArtifact() artifacts.Artifact {
	return artifacts.Artifact{
		ID:        r.ID,
		Name:      r.Name,
		Shape:     artifacts.Shape(r.Shape),
		CreatedAt: r.CreatedAt.UTC(),
		Size:      r.Size,
		Files:     r.Files,
	}
}

func (s *Store) Put(ctx context.Context, a artifacts.Artifact, body []byte) error {
	if !artifacts.ValidID(a.ID) {
		return fmt.Errorf("pgstore: invalid artifact id %q", a.ID)
	}
	if body == nil {
		body = []byte{}
	}

	query := `
        INSERT INTO artifacts (id, name, shape, files, size, created_at, body)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
    `
	_, err := db.Exec(ctx, s.pool, query, a.ID, a.Name, string(a.Shape), a.Files, a.Size, a.CreatedAt.UTC(), body)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("%w: %s", artifacts.ErrExists, a.ID)
		}
		return fmt.Errorf("pgstore: insert %s: %w", a.ID, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (artifacts.Artifact, []byte, error) {
	if !artifacts.ValidID(id) {
		return artifacts.Artifact{}, nil, fmt.Errorf("%w: %s", artifacts.ErrNotFound, id)
	}

	query := `
        SELECT id, name, shape, files, size, created_at, body
        FROM artifacts
        WHERE id = $1
    `
	var row artifactRow
	if err := db.Get(ctx, s.pool, &row, query, id); err != nil {
		if db.IsNoRows(err) {
			return artifacts.Artifact{}, nil, fmt.Errorf("%w: %s", artifacts.ErrNotFound, id)
		}
		return artifacts.Artifact{}, nil, fmt.Errorf("pgstore: get %s: %w", id, err)
	}
	return row.toArtifact(), row.Body, nil
}

func (s *Store) List(ctx context.Context) ([]artifacts.Artifact, error) {
	query := `
        SELECT id, name, shape, files, size, created_at
        FROM artifacts
        ORDER BY created_at DESC, id
    `
	var rows []artifactRow
	if err := db.Select(ctx, s.pool, &rows, query); err != nil {
		return nil, fmt.Errorf("pgstore: list: %w", err)
	}

	out := make([]artifacts.Artifact, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toArtifact())
	}
	return out, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	if !artifacts.ValidID(id) {
		return fmt.Errorf("%w: %s", artifacts.ErrNotFound, id)
	}

	tag, err := db.Exec(ctx, s.pool, `DELETE FROM artifacts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("pgstore: delete %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", artifacts.ErrNotFound, id)
	}
	return nil
}

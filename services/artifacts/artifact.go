package artifacts

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Shape describes how a submission was persisted.
type Shape string

const (
	// ShapeFile is a single submitted file stored as-is.
	ShapeFile Shape = "file"
	// ShapeArchive is a zip holding every file of one submission.
	ShapeArchive Shape = "archive"
)

var (
	// ErrNotFound is returned when no artifact has the requested identifier.
	ErrNotFound = errors.New("artifact not found")
	// ErrExists is returned when writing an identifier that is already stored.
	ErrExists = errors.New("artifact already exists")
)

// Artifact is the persisted result of one submission or one of its files.
// CreatedAt is recorded at write time and never changes afterwards.
type Artifact struct {
	ID        string    `json:"id" yaml:"id" db:"id"`
	Name      string    `json:"name" yaml:"name" db:"name"`
	Shape     Shape     `json:"shape" yaml:"shape" db:"shape"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at" db:"created_at"`
	Size      int64     `json:"size" yaml:"size" db:"size"`
	Files     int       `json:"files" yaml:"files" db:"files"`
}

// Store is the storage accessor for artifacts, addressed by identifier.
// Implementations must make a successful Put visible to List immediately.
type Store interface {
	Put(ctx context.Context, a Artifact, body []byte) error
	Get(ctx context.Context, id string) (Artifact, []byte, error)
	List(ctx context.Context) ([]Artifact, error)
	Delete(ctx context.Context, id string) error
}

// ValidID reports whether id can safely address an artifact in any backend:
// non-empty, no path separators, no dot segments.
func ValidID(id string) bool {
	if id == "" || id == "." || id == ".." || len(id) > 128 {
		return false
	}
	if strings.ContainsAny(id, "/\\\x00") {
		return false
	}
	return !strings.HasPrefix(id, ".")
}

// Age returns how long ago the artifact was created relative to now.
func (a Artifact) Age(now time.Time) time.Duration {
	return now.Sub(a.CreatedAt)
}

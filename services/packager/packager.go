package packager

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zip"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"photodrop/pkg/secret"
	"photodrop/services/artifacts"
	"photodrop/services/tokens"
)

// DefaultThreshold is the largest submission stored file by file; bigger
// submissions become one archive.
const DefaultThreshold = 5

var (
	// ErrInvalidToken means the token is unknown, expired or already used.
	ErrInvalidToken = errors.New("invalid or used upload token")
	// ErrUnauthorized means the submitted upload password is wrong.
	ErrUnauthorized = errors.New("wrong upload password")
	// ErrNoFiles means the submission carried no named file.
	ErrNoFiles = errors.New("no files submitted")
	// ErrStorage wraps failures to persist an accepted submission.
	ErrStorage = errors.New("storage failure")
)

var tracer = otel.Tracer("photodrop/packager")

// File is one uploaded file of a submission, fully read into memory.
type File struct {
	Name    string
	Content []byte
}

// TokenRegistry is the part of *tokens.Registry the packager depends on.
type TokenRegistry interface {
	Valid(value string) bool
	Claim(value string) (tokens.Token, bool)
	Restore(t tokens.Token)
}

// Config controls the packaging policy.
type Config struct {
	// Threshold is the largest file count stored as individual artifacts.
	// Zero archives every submission.
	Threshold int
	// Deflate compresses archive entries instead of storing them.
	Deflate bool
	Now     func() time.Time
	NewID   func() string
}

// Packager turns validated submissions into stored artifacts.
type Packager struct {
	tokens    TokenRegistry
	store     artifacts.Store
	secret    *secret.Verifier
	threshold int
	method    uint16
	now       func() time.Time
	newID     func() string
	logger    zerolog.Logger
}

// New wires a Packager. The upload secret is mandatory.
func New(registry TokenRegistry, store artifacts.Store, uploadSecret *secret.Verifier, cfg Config, logger zerolog.Logger) (*Packager, error) {
	if registry == nil {
		return nil, errors.New("token registry is required")
	}
	if store == nil {
		return nil, errors.New("artifact store is required")
	}
	if uploadSecret == nil {
		return nil, errors.New("upload secret is required")
	}
	if cfg.Threshold < 0 {
		return nil, fmt.Errorf("archive threshold must not be negative, got %d", cfg.Threshold)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = func() string { return uuid.New().String() }
	}

	method := zip.Store
	if cfg.Deflate {
		method = zip.Deflate
	}

	return &Packager{
		tokens:    registry,
		store:     store,
		secret:    uploadSecret,
		threshold: cfg.Threshold,
		method:    method,
		now:       cfg.Now,
		newID:     cfg.NewID,
		logger:    logger,
	}, nil
}

// Accept validates a submission and persists it.
//
// Validation runs in order (token, password, files) and mutates nothing. The
// token is then claimed; if persisting fails, whatever was written is removed
// and the token is handed back so the link keeps working.
func (p *Packager) Accept(ctx context.Context, token, password string, files []File) ([]artifacts.Artifact, error) {
	ctx, span := tracer.Start(ctx, "packager.Accept")
	defer span.End()

	created, err := p.accept(ctx, token, password, files)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("photodrop.artifacts", len(created)),
		attribute.String("photodrop.shape", string(created[0].Shape)),
	)
	return created, nil
}

func (p *Packager) accept(ctx context.Context, token, password string, files []File) ([]artifacts.Artifact, error) {
	if !p.tokens.Valid(token) {
		return nil, ErrInvalidToken
	}
	if !p.secret.Match(password) {
		return nil, ErrUnauthorized
	}
	files = named(files)
	if len(files) == 0 {
		return nil, ErrNoFiles
	}

	claimed, ok := p.tokens.Claim(token)
	if !ok {
		// Another request consumed the token after our validity check.
		return nil, ErrInvalidToken
	}

	created, err := p.persist(ctx, files)
	if err != nil {
		p.rollback(created)
		p.tokens.Restore(claimed)
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	return created, nil
}

// Archived reports whether a submission of n files becomes one archive.
func (p *Packager) Archived(n int) bool {
	return n > p.threshold
}

func (p *Packager) persist(ctx context.Context, files []File) ([]artifacts.Artifact, error) {
	now := p.now().UTC()

	if p.Archived(len(files)) {
		a, err := p.writeArchive(ctx, now, files)
		if err != nil {
			return nil, err
		}
		return []artifacts.Artifact{a}, nil
	}

	created := make([]artifacts.Artifact, 0, len(files))
	for _, f := range files {
		a := artifacts.Artifact{
			ID:        p.newID(),
			Name:      f.Name,
			Shape:     artifacts.ShapeFile,
			CreatedAt: now,
			Size:      int64(len(f.Content)),
			Files:     1,
		}
		if err := p.store.Put(ctx, a, f.Content); err != nil {
			return created, fmt.Errorf("store %s: %w", f.Name, err)
		}
		created = append(created, a)
	}
	return created, nil
}

func (p *Packager) writeArchive(ctx context.Context, now time.Time, files []File) (artifacts.Artifact, error) {
	body, err := p.buildArchive(now, files)
	if err != nil {
		return artifacts.Artifact{}, err
	}

	id := p.newID()
	a := artifacts.Artifact{
		ID:        id,
		Name:      id + ".zip",
		Shape:     artifacts.ShapeArchive,
		CreatedAt: now,
		Size:      int64(len(body)),
		Files:     len(files),
	}
	if err := p.store.Put(ctx, a, body); err != nil {
		return artifacts.Artifact{}, fmt.Errorf("store archive: %w", err)
	}
	return a, nil
}

func (p *Packager) buildArchive(now time.Time, files []File) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	names := entryNames(files)
	for i, f := range files {
		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:     names[i],
			Method:   p.method,
			Modified: now,
		})
		if err != nil {
			return nil, fmt.Errorf("archive entry %s: %w", f.Name, err)
		}
		if _, err := w.Write(f.Content); err != nil {
			return nil, fmt.Errorf("archive entry %s: %w", f.Name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("finish archive: %w", err)
	}
	return buf.Bytes(), nil
}

// entryNames gives every archive entry a distinct name. Repeats of a name get
// a " (2)", " (3)" suffix before the extension so extraction keeps them all.
func entryNames(files []File) []string {
	used := make(map[string]bool, len(files))
	out := make([]string, len(files))
	for i, f := range files {
		name := f.Name
		if used[name] {
			ext := path.Ext(name)
			stem := strings.TrimSuffix(name, ext)
			for n := 2; used[name]; n++ {
				name = fmt.Sprintf("%s (%d)%s", stem, n, ext)
			}
		}
		used[name] = true
		out[i] = name
	}
	return out
}

func (p *Packager) rollback(created []artifacts.Artifact) {
	for _, a := range created {
		// The request context may already be cancelled; cleanup must still run.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := p.store.Delete(ctx, a.ID)
		cancel()
		if err != nil && !errors.Is(err, artifacts.ErrNotFound) {
			p.logger.Warn().Err(err).Str("artifact", a.ID).Msg("rollback of partial submission failed")
		}
	}
}

// named keeps files with a usable name, reduced to its base name.
func named(files []File) []File {
	out := make([]File, 0, len(files))
	for _, f := range files {
		name := BaseName(f.Name)
		if name == "" {
			continue
		}
		out = append(out, File{Name: name, Content: f.Content})
	}
	return out
}

// BaseName strips directories from a client-supplied file name, treating both
// slash styles as separators. It returns "" when nothing usable remains.
func BaseName(name string) string {
	name = strings.TrimSpace(strings.ReplaceAll(name, "\\", "/"))
	if name == "" {
		return ""
	}
	name = strings.TrimSpace(path.Base(name))
	switch name {
	case ".", "..", "/":
		return ""
	}
	return name
}

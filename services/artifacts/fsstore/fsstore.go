// Package fsstore keeps artifacts in a local directory, one subdirectory per
// artifact holding the payload and a YAML metadata file.
package fsstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"photodrop/services/artifacts"
)

const (
	metaFileName    = "meta.yaml"
	payloadFileName = "payload"
	tempPrefix      = ".tmp-"
)

// Store is an artifacts.Store rooted at a directory.
type Store struct {
	root string
}

var _ artifacts.Store = (*Store)(nil)

// New creates root if needed and removes staging directories left behind by
// an interrupted write.
func New(root string) (*Store, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, errors.New("fsstore: root directory is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("fsstore: create root: %w", err)
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("fsstore: read root: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() && strings.HasPrefix(entry.Name(), tempPrefix) {
			_ = os.RemoveAll(filepath.Join(root, entry.Name()))
		}
	}

	return &Store{root: root}, nil
}

// Root returns the directory backing the store.
func (s *Store) Root() string { return s.root }

func (s *Store) dir(id string) string { return filepath.Join(s.root, id) }

// Put stages the artifact in a temporary directory and renames it into place,
// so List never observes a partially written artifact.
func (s *Store) Put(ctx context.Context, a artifacts.Artifact, body []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !artifacts.ValidID(a.ID) {
		return fmt.Errorf("fsstore: invalid artifact id %q", a.ID)
	}

	target := s.dir(a.ID)
	if _, err := os.Lstat(target); err == nil {
		return fmt.Errorf("%w: %s", artifacts.ErrExists, a.ID)
	}

	staging, err := os.MkdirTemp(s.root, tempPrefix+a.ID+"-")
	if err != nil {
		return fmt.Errorf("fsstore: create staging dir: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = os.RemoveAll(staging)
		}
	}()

	if err := os.WriteFile(filepath.Join(staging, payloadFileName), body, 0o644); err != nil {
		return fmt.Errorf("fsstore: write payload: %w", err)
	}

	meta, err := yaml.Marshal(a)
	if err != nil {
		return fmt.Errorf("fsstore: marshal metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(staging, metaFileName), meta, 0o644); err != nil {
		return fmt.Errorf("fsstore: write metadata: %w", err)
	}

	if err := os.Rename(staging, target); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%w: %s", artifacts.ErrExists, a.ID)
		}
		return fmt.Errorf("fsstore: commit %s: %w", a.ID, err)
	}
	committed = true
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (artifacts.Artifact, []byte, error) {
	if err := ctx.Err(); err != nil {
		return artifacts.Artifact{}, nil, err
	}
	if !artifacts.ValidID(id) {
		return artifacts.Artifact{}, nil, fmt.Errorf("%w: %s", artifacts.ErrNotFound, id)
	}

	a, err := s.readMeta(id)
	if err != nil {
		return artifacts.Artifact{}, nil, err
	}

	body, err := os.ReadFile(filepath.Join(s.dir(id), payloadFileName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return artifacts.Artifact{}, nil, fmt.Errorf("%w: %s", artifacts.ErrNotFound, id)
		}
		return artifacts.Artifact{}, nil, fmt.Errorf("fsstore: read payload: %w", err)
	}
	return a, body, nil
}

// List returns every artifact directory. Directories without readable
// metadata are reported with their modification time so the sweeper can still
// reclaim them.
func (s *Store) List(ctx context.Context) ([]artifacts.Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("fsstore: read root: %w", err)
	}

	out := make([]artifacts.Artifact, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() || !artifacts.ValidID(name) {
			continue
		}

		a, err := s.readMeta(name)
		if err != nil {
			info, statErr := entry.Info()
			if statErr != nil {
				continue
			}
			a = artifacts.Artifact{ID: name, Name: name, CreatedAt: info.ModTime().UTC()}
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !artifacts.ValidID(id) {
		return fmt.Errorf("%w: %s", artifacts.ErrNotFound, id)
	}

	target := s.dir(id)
	if _, err := os.Lstat(target); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", artifacts.ErrNotFound, id)
		}
		return fmt.Errorf("fsstore: stat %s: %w", id, err)
	}
	if err := os.RemoveAll(target); err != nil {
		return fmt.Errorf("fsstore: delete %s: %w", id, err)
	}
	return nil
}

func (s *Store) readMeta(id string) (artifacts.Artifact, error) {
	raw, err := os.ReadFile(filepath.Join(s.dir(id), metaFileName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return artifacts.Artifact{}, fmt.Errorf("%w: %s", artifacts.ErrNotFound, id)
		}
		return artifacts.Artifact{}, fmt.Errorf("fsstore: read metadata: %w", err)
	}

	var a artifacts.Artifact
	if err := yaml.Unmarshal(raw, &a); err != nil {
		return artifacts.Artifact{}, fmt.Errorf("fsstore: decode metadata for %s: %w", id, err)
	}
	a.ID = id
	return a, nil
}

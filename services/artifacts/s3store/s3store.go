// Package s3store keeps artifacts as objects in an S3-compatible bucket. The
// artifact record travels as user metadata on the object.
package s3store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	gos3 "photodrop/pkg/s3"
	"photodrop/services/artifacts"
)

const (
	metaName      = "name"
	metaShape     = "shape"
	metaCreatedAt = "created-at"
	metaSize      = "size"
	metaFiles     = "files"
)

// errForeign marks an object under the prefix that was not written by the
// store. Such objects are invisible to listing and lookups.
var errForeign = errors.New("s3store: object carries no artifact metadata")

// ObjectClient is the subset of *gos3.Client the store needs.
type ObjectClient interface {
	PutObject(ctx context.Context, bucket, key string, data []byte, sha256 string, metadata map[string]string) error
	GetObject(ctx context.Context, bucket, key string) (gos3.Object, error)
	HeadObject(ctx context.Context, bucket, key string) (map[string]string, error)
	ListKeys(ctx context.Context, bucket, prefix string) ([]string, error)
	DeleteObject(ctx context.Context, bucket, key string) error
}

// Store is an artifacts.Store backed by one bucket and key prefix.
type Store struct {
	client ObjectClient
	bucket string
	prefix string
}

var _ artifacts.Store = (*Store)(nil)

// New configures a Store. prefix is prepended to every artifact id.
func New(client ObjectClient, bucket, prefix string) (*Store, error) {
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("s3store: bucket is required")
	}
	if client == nil {
		return nil, errors.New("s3store: s3 client is required")
	}
	return &Store{client: client, bucket: bucket, prefix: prefix}, nil
}

func (s *Store) key(id string) string { return s.prefix + id }

func (s *Store) Put(ctx context.Context, a artifacts.Artifact, body []byte) error {
	if !artifacts.ValidID(a.ID) {
		return fmt.Errorf("s3store: invalid artifact id %q", a.ID)
	}

	_, err := s.client.HeadObject(ctx, s.bucket, s.key(a.ID))
	switch {
	case err == nil:
		return fmt.Errorf("%w: %s", artifacts.ErrExists, a.ID)
	case !errors.Is(err, gos3.ErrNotFound):
		return fmt.Errorf("s3store: head %s: %w", a.ID, err)
	}

	sum := sha256.Sum256(body)
	if err := s.client.PutObject(ctx, s.bucket, s.key(a.ID), body, hex.EncodeToString(sum[:]), encodeMeta(a)); err != nil {
		return fmt.Errorf("s3store: put %s: %w", a.ID, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (artifacts.Artifact, []byte, error) {
	if !artifacts.ValidID(id) {
		return artifacts.Artifact{}, nil, fmt.Errorf("%w: %s", artifacts.ErrNotFound, id)
	}

	obj, err := s.client.GetObject(ctx, s.bucket, s.key(id))
	if err != nil {
		if errors.Is(err, gos3.ErrNotFound) {
			return artifacts.Artifact{}, nil, fmt.Errorf("%w: %s", artifacts.ErrNotFound, id)
		}
		return artifacts.Artifact{}, nil, fmt.Errorf("s3store: get %s: %w", id, err)
	}

	a, err := decodeMeta(id, obj.Metadata)
	if err != nil {
		return artifacts.Artifact{}, nil, fmt.Errorf("%w: %w", artifacts.ErrNotFound, err)
	}
	return a, obj.Body, nil
}

func (s *Store) List(ctx context.Context) ([]artifacts.Artifact, error) {
	keys, err := s.client.ListKeys(ctx, s.bucket, s.prefix)
	if err != nil {
		return nil, fmt.Errorf("s3store: list: %w", err)
	}

	out := make([]artifacts.Artifact, 0, len(keys))
	for _, key := range keys {
		id := strings.TrimPrefix(key, s.prefix)
		if !artifacts.ValidID(id) {
			continue
		}

		meta, err := s.client.HeadObject(ctx, s.bucket, key)
		if err != nil {
			if errors.Is(err, gos3.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("s3store: head %s: %w", id, err)
		}

		a, err := decodeMeta(id, meta)
		if errors.Is(err, errForeign) {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	if !artifacts.ValidID(id) {
		return fmt.Errorf("%w: %s", artifacts.ErrNotFound, id)
	}

	if _, err := s.client.HeadObject(ctx, s.bucket, s.key(id)); err != nil {
		if errors.Is(err, gos3.ErrNotFound) {
			return fmt.Errorf("%w: %s", artifacts.ErrNotFound, id)
		}
		return fmt.Errorf("s3store: head %s: %w", id, err)
	}
	if err := s.client.DeleteObject(ctx, s.bucket, s.key(id)); err != nil {
		return fmt.Errorf("s3store: delete %s: %w", id, err)
	}
	return nil
}

func encodeMeta(a artifacts.Artifact) map[string]string {
	return map[string]string{
		metaName:      url.PathEscape(a.Name),
		metaShape:     string(a.Shape),
		metaCreatedAt: a.CreatedAt.UTC().Format(time.RFC3339Nano),
		metaSize:      strconv.FormatInt(a.Size, 10),
		metaFiles:     strconv.Itoa(a.Files),
	}
}

// decodeMeta tolerates the mixed-case keys some S3 implementations return.
func decodeMeta(id string, raw map[string]string) (artifacts.Artifact, error) {
	meta := make(map[string]string, len(raw))
	for k, v := range raw {
		meta[strings.ToLower(k)] = v
	}

	createdAt, err := time.Parse(time.RFC3339Nano, meta[metaCreatedAt])
	if err != nil {
		return artifacts.Artifact{}, fmt.Errorf("%w: %s has no valid %s: %v", errForeign, id, metaCreatedAt, err)
	}
	name, err := url.PathUnescape(meta[metaName])
	if err != nil || name == "" {
		name = id
	}
	size, _ := strconv.ParseInt(meta[metaSize], 10, 64)
	files, _ := strconv.Atoi(meta[metaFiles])

	return artifacts.Artifact{
		ID:        id,
		Name:      name,
		Shape:     artifacts.Shape(meta[metaShape]),
		CreatedAt: createdAt,
		Size:      size,
		Files:     files,
	}, nil
}

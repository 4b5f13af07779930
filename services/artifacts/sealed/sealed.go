// Package sealed encrypts artifact payloads at rest with age before they reach
// the wrapped store. Metadata stays in clear so listing and expiry keep working
// without the identity.
package sealed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"filippo.io/age"

	"photodrop/services/artifacts"
)

// Store wraps another artifacts.Store.
type Store struct {
	next      artifacts.Store
	identity  *age.X25519Identity
	recipient *age.X25519Recipient
}

var _ artifacts.Store = (*Store)(nil)

// New wraps next using the AGE-SECRET-KEY-1... identity for both directions.
func New(next artifacts.Store, identity string) (*Store, error) {
	if next == nil {
		return nil, errors.New("sealed: inner store is required")
	}
	id, err := age.ParseX25519Identity(strings.TrimSpace(identity))
	if err != nil {
		return nil, fmt.Errorf("sealed: parse identity: %w", err)
	}
	return &Store{next: next, identity: id, recipient: id.Recipient()}, nil
}

// Recipient returns the public age recipient payloads are encrypted to.
func (s *Store) Recipient() string { return s.recipient.String() }

func (s *Store) Put(ctx context.Context, a artifacts.Artifact, body []byte) error {
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, s.recipient)
	if err != nil {
		return fmt.Errorf("sealed: encrypt %s: %w", a.ID, err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("sealed: encrypt %s: %w", a.ID, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("sealed: encrypt %s: %w", a.ID, err)
	}
	return s.next.Put(ctx, a, buf.Bytes())
}

func (s *Store) Get(ctx context.Context, id string) (artifacts.Artifact, []byte, error) {
	a, sealedBody, err := s.next.Get(ctx, id)
	if err != nil {
		return artifacts.Artifact{}, nil, err
	}

	r, err := age.Decrypt(bytes.NewReader(sealedBody), s.identity)
	if err != nil {
		return artifacts.Artifact{}, nil, fmt.Errorf("sealed: decrypt %s: %w", id, err)
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return artifacts.Artifact{}, nil, fmt.Errorf("sealed: decrypt %s: %w", id, err)
	}
	return a, body, nil
}

func (s *Store) List(ctx context.Context) ([]artifacts.Artifact, error) {
	return s.next.List(ctx)
}

func (s *Store) Delete(ctx context.Context, id string) error {
	return s.next.Delete(ctx, id)
}

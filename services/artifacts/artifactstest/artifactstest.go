// Package artifactstest checks that an artifacts.Store implementation behaves
// like the reference MemoryStore.
package artifactstest

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"photodrop/services/artifacts"
)

// Run exercises newStore against the Store contract. newStore must return an
// empty store each time it is called.
func Run(t *testing.T, newStore func(t *testing.T) artifacts.Store) {
	t.Helper()

	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("put get round trip", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		want := artifacts.Artifact{
			ID:        "0b8f6a3e-46b1-4f55-9d3c-6f4b8f0c1a11",
			Name:      "beach.jpg",
			Shape:     artifacts.ShapeFile,
			CreatedAt: created,
			Size:      5,
			Files:     1,
		}
		if err := store.Put(ctx, want, []byte("hello")); err != nil {
			t.Fatalf("Put() error = %v", err)
		}

		got, body, err := store.Get(ctx, want.ID)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if !bytes.Equal(body, []byte("hello")) {
			t.Fatalf("Get() body = %q, want %q", body, "hello")
		}
		assertArtifact(t, got, want)
	})

	t.Run("list returns every artifact", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		ids := []string{"a1", "a2", "a3"}
		for i, id := range ids {
			a := artifacts.Artifact{
				ID:        id,
				Name:      id + ".zip",
				Shape:     artifacts.ShapeArchive,
				CreatedAt: created.Add(time.Duration(i) * time.Minute),
				Size:      1,
				Files:     6,
			}
			if err := store.Put(ctx, a, []byte{byte(i)}); err != nil {
				t.Fatalf("Put(%s) error = %v", id, err)
			}
		}

		list, err := store.List(ctx)
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if len(list) != len(ids) {
			t.Fatalf("List() returned %d artifacts, want %d", len(list), len(ids))
		}
		seen := make(map[string]artifacts.Artifact, len(list))
		for _, a := range list {
			seen[a.ID] = a
		}
		for i, id := range ids {
			a, ok := seen[id]
			if !ok {
				t.Fatalf("List() missing %s", id)
			}
			if !a.CreatedAt.Equal(created.Add(time.Duration(i) * time.Minute)) {
				t.Fatalf("List() %s CreatedAt = %v", id, a.CreatedAt)
			}
		}
	})

	t.Run("delete removes artifact", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		a := artifacts.Artifact{ID: "gone", Name: "gone.jpg", Shape: artifacts.ShapeFile, CreatedAt: created, Size: 1, Files: 1}
		if err := store.Put(ctx, a, []byte("x")); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
		if err := store.Delete(ctx, a.ID); err != nil {
			t.Fatalf("Delete() error = %v", err)
		}
		if _, _, err := store.Get(ctx, a.ID); !errors.Is(err, artifacts.ErrNotFound) {
			t.Fatalf("Get() after Delete error = %v, want ErrNotFound", err)
		}
		list, err := store.List(ctx)
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if len(list) != 0 {
			t.Fatalf("List() after Delete returned %d artifacts", len(list))
		}
	})

	t.Run("missing artifact", func(t *testing.T) {
		store := newStore(t)
		if _, _, err := store.Get(context.Background(), "nope"); !errors.Is(err, artifacts.ErrNotFound) {
			t.Fatalf("Get() error = %v, want ErrNotFound", err)
		}
		if err := store.Delete(context.Background(), "nope"); !errors.Is(err, artifacts.ErrNotFound) {
			t.Fatalf("Delete() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("rejects unsafe ids", func(t *testing.T) {
		store := newStore(t)
		for _, id := range []string{"", "..", "../etc", "a/b"} {
			a := artifacts.Artifact{ID: id, Name: "x.jpg", Shape: artifacts.ShapeFile, CreatedAt: created}
			if err := store.Put(context.Background(), a, []byte("x")); err == nil {
				t.Fatalf("Put(%q) expected error", id)
			}
			if _, _, err := store.Get(context.Background(), id); !errors.Is(err, artifacts.ErrNotFound) {
				t.Fatalf("Get(%q) error = %v, want ErrNotFound", id, err)
			}
		}
	})
}

func assertArtifact(t *testing.T, got, want artifacts.Artifact) {
	t.Helper()
	if got.ID != want.ID || got.Name != want.Name || got.Shape != want.Shape || got.Size != want.Size || got.Files != want.Files {
		t.Fatalf("artifact = %+v, want %+v", got, want)
	}
	if !got.CreatedAt.Equal(want.CreatedAt) {
		t.Fatalf("CreatedAt = %v, want %v", got.CreatedAt, want.CreatedAt)
	}
}

package fsstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"photodrop/services/artifacts"
	"photodrop/services/artifacts/artifactstest"
)

func TestStoreContract(t *testing.T) {
	artifactstest.Run(t, func(t *testing.T) artifacts.Store {
		store, err := New(t.TempDir())
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}
		return store
	})
}

func TestLayout(t *testing.T) {
	root := t.TempDir()
	store, err := New(root)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	a := artifacts.Artifact{
		ID:        "b7c1",
		Name:      "b7c1.zip",
		Shape:     artifacts.ShapeArchive,
		CreatedAt: time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC),
		Size:      3,
		Files:     7,
	}
	if err := store.Put(context.Background(), a, []byte("zip")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	for _, name := range []string{metaFileName, payloadFileName} {
		if _, err := os.Stat(filepath.Join(root, a.ID, name)); err != nil {
			t.Fatalf("expected %s in artifact directory: %v", name, err)
		}
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("root holds %d entries, want only the artifact directory", len(entries))
	}

	if err := store.Put(context.Background(), a, []byte("again")); err == nil {
		t.Fatal("Put() of existing id expected error")
	}
}

func TestListReportsOrphanDirectories(t *testing.T) {
	root := t.TempDir()
	store, err := New(root)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	orphan := filepath.Join(root, "orphan")
	if err := os.Mkdir(orphan, 0o755); err != nil {
		t.Fatalf("Mkdir() error = %v", err)
	}
	old := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(orphan, old, old); err != nil {
		t.Fatalf("Chtimes() error = %v", err)
	}

	list, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 1 || list[0].ID != "orphan" {
		t.Fatalf("List() = %+v, want the orphan directory", list)
	}
	if list[0].CreatedAt.After(time.Now().Add(-47 * time.Hour)) {
		t.Fatalf("orphan CreatedAt = %v, want its modification time", list[0].CreatedAt)
	}

	if err := store.Delete(context.Background(), "orphan"); err != nil {
		t.Fatalf("Delete(orphan) error = %v", err)
	}
	if _, err := os.Stat(orphan); !os.IsNotExist(err) {
		t.Fatalf("orphan directory still present: %v", err)
	}
}

func TestNewRemovesStagingDirectories(t *testing.T) {
	root := t.TempDir()
	staging := filepath.Join(root, tempPrefix+"abc-123")
	if err := os.Mkdir(staging, 0o755); err != nil {
		t.Fatalf("Mkdir() error = %v", err)
	}

	if _, err := New(root); err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := os.Stat(staging); !os.IsNotExist(err) {
		t.Fatalf("staging directory survived New(): %v", err)
	}
}

func TestNewRequiresRoot(t *testing.T) {
	if _, err := New("  "); err == nil {
		t.Fatal("New() expected error for empty root")
	}
}

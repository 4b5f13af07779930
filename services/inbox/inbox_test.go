package inbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"photodrop/pkg/metrics"
	"photodrop/pkg/secret"
	"photodrop/services/artifacts"
)

var t0 = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

// brittleStore fails every Delete.
type brittleStore struct {
	*artifacts.MemoryStore
}

func (brittleStore) Delete(context.Context, string) error {
	return errors.New("read-only filesystem")
}

func newInbox(t *testing.T, store artifacts.Store, cfg Config) *Inbox {
	t.Helper()
	verifier, err := secret.New("letmein")
	if err != nil {
		t.Fatalf("secret.New() error = %v", err)
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return t0.Add(3 * time.Hour) }
	}
	in, err := New(store, verifier, cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return in
}

func put(t *testing.T, store artifacts.Store, id string, created time.Time) {
	t.Helper()
	a := artifacts.Artifact{ID: id, Name: id + ".jpg", Shape: artifacts.ShapeFile, CreatedAt: created, Size: 4, Files: 1}
	if err := store.Put(context.Background(), a, []byte("data")); err != nil {
		t.Fatalf("Put(%s) error = %v", id, err)
	}
}

func TestListNewestFirst(t *testing.T) {
	store := artifacts.NewMemoryStore()
	put(t, store, "t1", t0)
	put(t, store, "t3", t0.Add(2*time.Hour))
	put(t, store, "t2", t0.Add(time.Hour))
	put(t, store, "t2b", t0.Add(time.Hour))

	list, err := newInbox(t, store, Config{}).List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	want := []string{"t3", "t2", "t2b", "t1"}
	if len(list) != len(want) {
		t.Fatalf("List() returned %d artifacts, want %d", len(list), len(want))
	}
	for i, id := range want {
		if list[i].ID != id {
			t.Fatalf("List()[%d] = %s, want %s", i, list[i].ID, id)
		}
	}
}

func TestListSweepsFirst(t *testing.T) {
	store := artifacts.NewMemoryStore()
	now := t0.Add(48 * time.Hour)
	put(t, store, "expired", t0)
	put(t, store, "recent", now.Add(-time.Hour))

	in := newInbox(t, store, Config{Now: func() time.Time { return now }})
	list, err := in.List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 1 || list[0].ID != "recent" {
		t.Fatalf("List() = %+v, want only recent", list)
	}
}

func TestListSurvivesSweepFailure(t *testing.T) {
	store := brittleStore{artifacts.NewMemoryStore()}
	now := t0.Add(48 * time.Hour)
	put(t, store, "expired", t0)

	in := newInbox(t, store, Config{Now: func() time.Time { return now }})
	list, err := in.List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("List() returned %d artifacts, want the undeletable one", len(list))
	}
}

func TestDownload(t *testing.T) {
	tests := []struct {
		name        string
		deleteAfter bool
		wantKept    bool
	}{
		{name: "keep", deleteAfter: false, wantKept: true},
		{name: "delete after download", deleteAfter: true, wantKept: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := artifacts.NewMemoryStore()
			put(t, store, "pic", t0)
			reg := prometheus.NewRegistry()
			m, _ := metrics.New(reg)
			in := newInbox(t, store, Config{DeleteAfterDownload: tt.deleteAfter, Metrics: m})

			a, body, err := in.Download(context.Background(), "pic")
			if err != nil {
				t.Fatalf("Download() error = %v", err)
			}
			if a.Name != "pic.jpg" || string(body) != "data" {
				t.Fatalf("Download() = %+v %q", a, body)
			}
			_, _, err = store.Get(context.Background(), "pic")
			if kept := err == nil; kept != tt.wantKept {
				t.Fatalf("artifact kept = %v, want %v", kept, tt.wantKept)
			}
			wantDeleted := 1.0
			if tt.wantKept {
				wantDeleted = 0
			}
			if got := testutil.ToFloat64(m.ArtifactsDeleted.WithLabelValues("download")); got != wantDeleted {
				t.Fatalf("download deletions = %v, want %v", got, wantDeleted)
			}
		})
	}
}

func TestDownloadBestEffortDeleteNeverFails(t *testing.T) {
	store := brittleStore{artifacts.NewMemoryStore()}
	put(t, store, "pic", t0)
	reg := prometheus.NewRegistry()
	m, _ := metrics.New(reg)
	in := newInbox(t, store, Config{DeleteAfterDownload: true, Metrics: m})

	_, body, err := in.Download(context.Background(), "pic")
	if err != nil {
		t.Fatalf("Download() error = %v, want nil despite failed cleanup", err)
	}
	if string(body) != "data" {
		t.Fatalf("body = %q, want data", body)
	}
	if got := testutil.ToFloat64(m.CleanupFailures); got != 1 {
		t.Fatalf("cleanup failures = %v, want 1", got)
	}
}

func TestDownloadUnknown(t *testing.T) {
	in := newInbox(t, artifacts.NewMemoryStore(), Config{})
	for _, id := range []string{"missing", "../etc/passwd", ""} {
		if _, _, err := in.Download(context.Background(), id); !errors.Is(err, artifacts.ErrNotFound) {
			t.Fatalf("Download(%q) error = %v, want ErrNotFound", id, err)
		}
	}
}

func TestDeleteAll(t *testing.T) {
	tests := []struct {
		name      string
		password  string
		wantErr   error
		wantCount int
		wantLeft  int
	}{
		{name: "right password", password: "letmein", wantCount: 3, wantLeft: 0},
		{name: "wrong password", password: "nope", wantErr: ErrUnauthorized, wantLeft: 3},
		{name: "empty password", password: "", wantErr: ErrUnauthorized, wantLeft: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := artifacts.NewMemoryStore()
			put(t, store, "a", t0)
			put(t, store, "b", t0)
			put(t, store, "c", t0)
			in := newInbox(t, store, Config{})

			n, err := in.DeleteAll(context.Background(), tt.password)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("DeleteAll() error = %v, want %v", err, tt.wantErr)
			}
			if n != tt.wantCount {
				t.Fatalf("DeleteAll() = %d, want %d", n, tt.wantCount)
			}
			list, _ := store.List(context.Background())
			if len(list) != tt.wantLeft {
				t.Fatalf("%d artifacts left, want %d", len(list), tt.wantLeft)
			}
		})
	}
}

func TestDeleteAllReportsFailures(t *testing.T) {
	store := brittleStore{artifacts.NewMemoryStore()}
	put(t, store, "a", t0)
	put(t, store, "b", t0)

	n, err := newInbox(t, store, Config{}).DeleteAll(context.Background(), "letmein")
	if err == nil {
		t.Fatal("DeleteAll() expected joined error")
	}
	if n != 0 {
		t.Fatalf("DeleteAll() = %d, want 0", n)
	}
}

func TestAuthenticate(t *testing.T) {
	in := newInbox(t, artifacts.NewMemoryStore(), Config{})
	if err := in.Authenticate("letmein"); err != nil {
		t.Fatalf("Authenticate(correct) error = %v", err)
	}
	if err := in.Authenticate("LETMEIN"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("Authenticate(wrong) error = %v, want ErrUnauthorized", err)
	}
}

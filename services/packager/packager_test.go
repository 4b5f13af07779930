package packager

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/rs/zerolog"

	"photodrop/pkg/secret"
	"photodrop/services/artifacts"
	"photodrop/services/tokens"
)

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// flakyStore fails the Nth Put and every Put after it.
type flakyStore struct {
	*artifacts.MemoryStore
	failAt int
	puts   atomic.Int32
}

func (s *flakyStore) Put(ctx context.Context, a artifacts.Artifact, body []byte) error {
	if n := int(s.puts.Add(1)); n >= s.failAt {
		return errors.New("disk full")
	}
	return s.MemoryStore.Put(ctx, a, body)
}

func newPackager(t *testing.T, store artifacts.Store, cfg Config) (*Packager, *tokens.Registry) {
	t.Helper()
	verifier, err := secret.New("hunter2")
	if err != nil {
		t.Fatalf("secret.New() error = %v", err)
	}
	var seq atomic.Int32
	if cfg.NewID == nil {
		cfg.NewID = func() string { return fmt.Sprintf("art-%03d", seq.Add(1)) }
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return fixedNow }
	}
	registry := tokens.NewRegistry()
	p, err := New(registry, store, verifier, cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return p, registry
}

func makeFiles(names ...string) []File {
	files := make([]File, len(names))
	for i, name := range names {
		files[i] = File{Name: name, Content: []byte("content of " + name)}
	}
	return files
}

func TestAcceptSmallSubmissionStoresEachFile(t *testing.T) {
	store := artifacts.NewMemoryStore()
	p, registry := newPackager(t, store, Config{Threshold: DefaultThreshold})
	tok := registry.Issue()

	created, err := p.Accept(context.Background(), tok.Value, "hunter2", makeFiles("a.jpg", "b.jpg", "c.jpg"))
	if err != nil {
		t.Fatalf("Accept() error = %v", err)
	}
	if len(created) != 3 {
		t.Fatalf("created %d artifacts, want 3", len(created))
	}
	for _, a := range created {
		if a.Shape != artifacts.ShapeFile || a.Files != 1 {
			t.Fatalf("artifact %+v, want single file", a)
		}
		if !a.CreatedAt.Equal(fixedNow) {
			t.Fatalf("CreatedAt = %v, want %v", a.CreatedAt, fixedNow)
		}
		_, body, err := store.Get(context.Background(), a.ID)
		if err != nil {
			t.Fatalf("Get(%s) error = %v", a.ID, err)
		}
		if want := "content of " + a.Name; string(body) != want {
			t.Fatalf("body = %q, want %q", body, want)
		}
	}
	if registry.Valid(tok.Value) {
		t.Fatal("token still valid after a successful upload")
	}
}

func TestAcceptThresholdBoundary(t *testing.T) {
	tests := []struct {
		files     int
		threshold int
		wantShape artifacts.Shape
		wantCount int
	}{
		{files: 5, threshold: 5, wantShape: artifacts.ShapeFile, wantCount: 5},
		{files: 6, threshold: 5, wantShape: artifacts.ShapeArchive, wantCount: 1},
		{files: 1, threshold: 0, wantShape: artifacts.ShapeArchive, wantCount: 1},
		{files: 1, threshold: 5, wantShape: artifacts.ShapeFile, wantCount: 1},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d_files_threshold_%d", tt.files, tt.threshold), func(t *testing.T) {
			p, registry := newPackager(t, artifacts.NewMemoryStore(), Config{Threshold: tt.threshold})
			names := make([]string, tt.files)
			for i := range names {
				names[i] = fmt.Sprintf("photo-%d.jpg", i)
			}
			created, err := p.Accept(context.Background(), registry.Issue().Value, "hunter2", makeFiles(names...))
			if err != nil {
				t.Fatalf("Accept() error = %v", err)
			}
			if len(created) != tt.wantCount {
				t.Fatalf("created %d artifacts, want %d", len(created), tt.wantCount)
			}
			if created[0].Shape != tt.wantShape {
				t.Fatalf("shape = %s, want %s", created[0].Shape, tt.wantShape)
			}
		})
	}
}

func TestAcceptLargeSubmissionBuildsArchive(t *testing.T) {
	for _, deflate := range []bool{false, true} {
		t.Run(fmt.Sprintf("deflate=%v", deflate), func(t *testing.T) {
			store := artifacts.NewMemoryStore()
			p, registry := newPackager(t, store, Config{Threshold: DefaultThreshold, Deflate: deflate})
			files := makeFiles("1.jpg", "2.jpg", "3.jpg", "4.jpg", "5.jpg", "6.jpg", "7.jpg")

			created, err := p.Accept(context.Background(), registry.Issue().Value, "hunter2", files)
			if err != nil {
				t.Fatalf("Accept() error = %v", err)
			}
			if len(created) != 1 {
				t.Fatalf("created %d artifacts, want 1", len(created))
			}
			a := created[0]
			if a.Shape != artifacts.ShapeArchive || a.Files != 7 {
				t.Fatalf("artifact %+v, want archive of 7", a)
			}
			if a.Name != a.ID+".zip" {
				t.Fatalf("Name = %q, want %q", a.Name, a.ID+".zip")
			}

			_, body, err := store.Get(context.Background(), a.ID)
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if int64(len(body)) != a.Size {
				t.Fatalf("Size = %d, body is %d bytes", a.Size, len(body))
			}
			zr, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
			if err != nil {
				t.Fatalf("zip.NewReader() error = %v", err)
			}
			if len(zr.File) != len(files) {
				t.Fatalf("archive has %d entries, want %d", len(zr.File), len(files))
			}
			wantMethod := zip.Store
			if deflate {
				wantMethod = zip.Deflate
			}
			for i, entry := range zr.File {
				if entry.Name != files[i].Name {
					t.Fatalf("entry %d = %q, want %q", i, entry.Name, files[i].Name)
				}
				if entry.Method != wantMethod {
					t.Fatalf("entry %s method = %d, want %d", entry.Name, entry.Method, wantMethod)
				}
				rc, err := entry.Open()
				if err != nil {
					t.Fatalf("open %s: %v", entry.Name, err)
				}
				got, err := io.ReadAll(rc)
				rc.Close()
				if err != nil {
					t.Fatalf("read %s: %v", entry.Name, err)
				}
				if !bytes.Equal(got, files[i].Content) {
					t.Fatalf("entry %s = %q, want %q", entry.Name, got, files[i].Content)
				}
			}
		})
	}
}

func TestAcceptRejections(t *testing.T) {
	tests := []struct {
		name     string
		token    func(r *tokens.Registry) string
		password string
		files    []File
		wantErr  error
		consumed bool
	}{
		{
			name:     "unknown token",
			token:    func(*tokens.Registry) string { return "nope" },
			password: "hunter2",
			files:    makeFiles("a.jpg"),
			wantErr:  ErrInvalidToken,
		},
		{
			name:     "wrong password",
			token:    func(r *tokens.Registry) string { return r.Issue().Value },
			password: "guess",
			files:    makeFiles("a.jpg"),
			wantErr:  ErrUnauthorized,
		},
		{
			name:     "no files",
			token:    func(r *tokens.Registry) string { return r.Issue().Value },
			password: "hunter2",
			wantErr:  ErrNoFiles,
		},
		{
			name:     "only unnamed files",
			token:    func(r *tokens.Registry) string { return r.Issue().Value },
			password: "hunter2",
			files:    []File{{Name: "", Content: []byte("x")}, {Name: "/", Content: []byte("y")}},
			wantErr:  ErrNoFiles,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := artifacts.NewMemoryStore()
			p, registry := newPackager(t, store, Config{Threshold: DefaultThreshold})
			tok := tt.token(registry)

			_, err := p.Accept(context.Background(), tok, tt.password, tt.files)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Accept() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr != ErrInvalidToken && !registry.Valid(tok) {
				t.Fatal("rejected submission consumed the token")
			}
			list, _ := store.List(context.Background())
			if len(list) != 0 {
				t.Fatalf("rejected submission stored %d artifacts", len(list))
			}
		})
	}
}

func TestAcceptReusedToken(t *testing.T) {
	p, registry := newPackager(t, artifacts.NewMemoryStore(), Config{Threshold: DefaultThreshold})
	tok := registry.Issue().Value

	if _, err := p.Accept(context.Background(), tok, "hunter2", makeFiles("a.jpg")); err != nil {
		t.Fatalf("first Accept() error = %v", err)
	}
	if _, err := p.Accept(context.Background(), tok, "hunter2", makeFiles("b.jpg")); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("second Accept() error = %v, want ErrInvalidToken", err)
	}
}

func TestAcceptStorageFailureRestoresToken(t *testing.T) {
	tests := []struct {
		name   string
		files  int
		failAt int
	}{
		{name: "first file", files: 3, failAt: 1},
		{name: "partial files", files: 3, failAt: 3},
		{name: "archive", files: 7, failAt: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &flakyStore{MemoryStore: artifacts.NewMemoryStore(), failAt: tt.failAt}
			p, registry := newPackager(t, store, Config{Threshold: DefaultThreshold})
			tok := registry.Issue()

			names := make([]string, tt.files)
			for i := range names {
				names[i] = fmt.Sprintf("%d.jpg", i)
			}
			_, err := p.Accept(context.Background(), tok.Value, "hunter2", makeFiles(names...))
			if !errors.Is(err, ErrStorage) {
				t.Fatalf("Accept() error = %v, want ErrStorage", err)
			}
			if !registry.Valid(tok.Value) {
				t.Fatal("token not restored after storage failure")
			}
			list, _ := store.List(context.Background())
			if len(list) != 0 {
				t.Fatalf("partial submission left %d artifacts behind", len(list))
			}
		})
	}
}

func TestAcceptConcurrentUseOfOneToken(t *testing.T) {
	store := artifacts.NewMemoryStore()
	p, registry := newPackager(t, store, Config{Threshold: DefaultThreshold})
	tok := registry.Issue().Value

	var (
		wg       sync.WaitGroup
		accepted atomic.Int32
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := p.Accept(context.Background(), tok, "hunter2", makeFiles(fmt.Sprintf("%d.jpg", i)))
			switch {
			case err == nil:
				accepted.Add(1)
			case !errors.Is(err, ErrInvalidToken):
				t.Errorf("Accept() error = %v", err)
			}
		}(i)
	}
	wg.Wait()

	if got := accepted.Load(); got != 1 {
		t.Fatalf("%d submissions accepted for one token, want 1", got)
	}
	list, _ := store.List(context.Background())
	if len(list) != 1 {
		t.Fatalf("store holds %d artifacts, want 1", len(list))
	}
}

func TestBaseName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"photo.jpg", "photo.jpg"},
		{"holiday/photo.jpg", "photo.jpg"},
		{`C:\Users\me\photo.jpg`, "photo.jpg"},
		{"../../etc/passwd", "passwd"},
		{"  spaced.png ", "spaced.png"},
		{"", ""},
		{"/", ""},
		{"..", ""},
		{"dir/", "dir"},
		{"Ünïcødé.heic", "Ünïcødé.heic"},
	}
	for _, tt := range tests {
		if got := BaseName(tt.in); got != tt.want {
			t.Errorf("BaseName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNewValidation(t *testing.T) {
	verifier, _ := secret.New("x")
	store := artifacts.NewMemoryStore()
	registry := tokens.NewRegistry()

	if _, err := New(nil, store, verifier, Config{}, zerolog.Nop()); err == nil {
		t.Fatal("New() without registry expected error")
	}
	if _, err := New(registry, nil, verifier, Config{}, zerolog.Nop()); err == nil {
		t.Fatal("New() without store expected error")
	}
	if _, err := New(registry, store, nil, Config{}, zerolog.Nop()); err == nil {
		t.Fatal("New() without secret expected error")
	}
	if _, err := New(registry, store, verifier, Config{Threshold: -1}, zerolog.Nop()); err == nil {
		t.Fatal("New() with negative threshold expected error")
	}
}

func TestArchivedNamesKeepOrder(t *testing.T) {
	p, _ := newPackager(t, artifacts.NewMemoryStore(), Config{Threshold: 1})
	body, err := p.buildArchive(fixedNow, makeFiles("z.jpg", "a.jpg"))
	if err != nil {
		t.Fatalf("buildArchive() error = %v", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		t.Fatalf("zip.NewReader() error = %v", err)
	}
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	if sort.StringsAreSorted(names) {
		t.Fatalf("entries %v were reordered", names)
	}
}

func TestArchiveRenamesRepeatedNames(t *testing.T) {
	p, _ := newPackager(t, artifacts.NewMemoryStore(), Config{Threshold: 1})
	body, err := p.buildArchive(fixedNow, makeFiles("image.jpg", "image.jpg", "image (2).jpg", "image.jpg", "notes"))
	if err != nil {
		t.Fatalf("buildArchive() error = %v", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		t.Fatalf("zip.NewReader() error = %v", err)
	}
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	want := []string{"image.jpg", "image (2).jpg", "image (2) (2).jpg", "image (3).jpg", "notes"}
	if fmt.Sprint(names) != fmt.Sprint(want) {
		t.Fatalf("entries = %q, want %q", names, want)
	}
}

func TestEntryNamesWithoutExtension(t *testing.T) {
	got := entryNames(makeFiles("scan", "scan", "scan"))
	want := []string{"scan", "scan (2)", "scan (3)"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("entryNames() = %q, want %q", got, want)
	}
}

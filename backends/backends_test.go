package backends

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// fakeS3 is an in-memory S3API keyed by bucket/key.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	getErr  error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte)}
}

func (f *fakeS3) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	data, ok := f.objects[*params.Bucket+"/"+*params.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[*params.Bucket+"/"+*params.Key] = data
	return &s3.PutObjectOutput{}, nil
}

// exerciseBackend checks the behaviour every backend shares: an empty start,
// and that what was inserted and saved is what the next Load returns.
func exerciseBackend(t *testing.T, open func() Backend) {
	t.Helper()
	ctx := context.Background()

	b := open()
	entries, err := b.Load(ctx)
	if err != nil {
		t.Fatalf("Load on empty store failed: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("Expected empty store, got %v", entries)
	}

	want := map[string]string{
		"https://host/watch?v=a": "host/v=a",
		"https://host/watch?v=b": "host/v=b",
	}
	for k, v := range want {
		if err := b.Insert(ctx, k, v); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}
	// Re-inserting the same pair must not create a second row.
	if err := b.Insert(ctx, "https://host/watch?v=a", "host/v=a"); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := b.Save(ctx, want); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	b = open()
	defer b.Close()
	got, err := b.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("Expected %d entries, got %d: %v", len(want), len(got), got)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("Entry %s: expected %q, got %q", k, v, got[k])
		}
	}
}

func TestFileBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "cold.json")
	exerciseBackend(t, func() Backend {
		b, err := NewFile(path, discardLogger)
		if err != nil {
			t.Fatalf("NewFile failed: %v", err)
		}
		return b
	})

	if _, err := os.Stat(path + ".tmp"); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Expected temp file to be gone, stat returned %v", err)
	}
}

func TestFileBackendCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cold.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}

	b, err := NewFile(path, discardLogger)
	if err != nil {
		t.Fatalf("NewFile failed: %v", err)
	}
	defer b.Close()

	if _, err := b.Load(context.Background()); err == nil {
		t.Error("Expected error loading corrupt index")
	}
}

func TestFileBackendReadsOriginalFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cold.json")
	raw := `{"https://www.youtube.com/watch?v=dQw4w9WgXcQ":"www.youtube.com/v=dQw4w9WgXcQ"}`
	if err := os.WriteFile(path, []byte(raw), 0644); err != nil {
		t.Fatal(err)
	}

	b, err := NewFile(path, discardLogger)
	if err != nil {
		t.Fatalf("NewFile failed: %v", err)
	}
	defer b.Close()

	entries, err := b.Load(context.Background())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if entries["https://www.youtube.com/watch?v=dQw4w9WgXcQ"] != "www.youtube.com/v=dQw4w9WgXcQ" {
		t.Errorf("Unexpected entries: %v", entries)
	}
}

func TestSQLiteBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	exerciseBackend(t, func() Backend {
		b, err := NewSQLite(path, 2, discardLogger)
		if err != nil {
			t.Fatalf("NewSQLite failed: %v", err)
		}
		return b
	})
}

func TestSQLiteBackendUpsertAndRemove(t *testing.T) {
	ctx := context.Background()
	b, err := NewSQLite(filepath.Join(t.TempDir(), "cache.db"), 2, discardLogger)
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	defer b.Close()

	if !b.Transactional() {
		t.Error("Expected SQLite backend to be transactional")
	}
	if err := b.Insert(ctx, "k", "old"); err != nil {
		t.Fatal(err)
	}
	if err := b.Insert(ctx, "k", "new"); err != nil {
		t.Fatal(err)
	}
	// Quotes in keys must not break the statement.
	if err := b.Insert(ctx, `https://host/q?a='1'"`, "host/x"); err != nil {
		t.Fatalf("Insert with quotes failed: %v", err)
	}

	entries, err := b.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if entries["k"] != "new" || len(entries) != 2 {
		t.Errorf("Unexpected entries after upsert: %v", entries)
	}

	if err := b.Remove(ctx, "k"); err != nil {
		t.Fatal(err)
	}
	entries, _ = b.Load(ctx)
	if _, ok := entries["k"]; ok {
		t.Error("Expected k to be removed")
	}
}

func TestSQLiteBackendUnavailable(t *testing.T) {
	dir := t.TempDir()
	// A directory where the database file should be cannot be opened.
	path := filepath.Join(dir, "cache.db")
	if err := os.Mkdir(path, 0755); err != nil {
		t.Fatal(err)
	}

	_, err := NewSQLite(path, 1, discardLogger)
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("Expected ErrUnavailable, got %v", err)
	}
}

func TestS3Backend(t *testing.T) {
	client := newFakeS3()
	exerciseBackend(t, func() Backend {
		return NewS3WithClient(client, "bucket", "voicecache/cold.json", discardLogger)
	})
}

func TestS3BackendError(t *testing.T) {
	client := newFakeS3()
	client.getErr = errors.New("access denied")
	b := NewS3WithClient(client, "bucket", "key", discardLogger)

	if _, err := b.Load(context.Background()); err == nil {
		t.Error("Expected error from failing client")
	}
}

func TestDebugBackend(t *testing.T) {
	var out bytes.Buffer
	inner := NewS3WithClient(newFakeS3(), "bucket", "key", discardLogger)
	d := NewDebug(inner, &out)
	ctx := context.Background()

	if err := d.Insert(ctx, "https://host/x", "host/x"); err != nil {
		t.Fatal(err)
	}
	if err := d.Save(ctx, map[string]string{"https://host/x": "host/x"}); err != nil {
		t.Fatal(err)
	}
	entries, err := d.Load(ctx)
	if err != nil || len(entries) != 1 {
		t.Fatalf("Load through debug wrapper: %v, %v", entries, err)
	}
	if d.Transactional() {
		t.Error("Debug must report the wrapped backend's transactional flag")
	}

	for _, want := range []string{"[DEBUG] Insert: source=https://host/x", "[DEBUG] Save: 1 entries", "[DEBUG] Load: 1 entries"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("Expected debug output to contain %q, got:\n%s", want, out.String())
		}
	}
}

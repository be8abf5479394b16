package index

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/richardartoul/voicecache/backends"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// memBackend is a snapshot backend that counts calls.
type memBackend struct {
	mu      sync.Mutex
	stored  map[string]string
	loadErr error
	saveErr error
	saves   int
	inserts int
	txn     bool
	closed  bool
}

func (m *memBackend) Load(ctx context.Context) (map[string]string, error) {
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	out := make(map[string]string, len(m.stored))
	for k, v := range m.stored {
		out[k] = v
	}
	return out, nil
}

func (m *memBackend) Insert(ctx context.Context, sourceURL, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inserts++
	if m.txn {
		if m.stored == nil {
			m.stored = map[string]string{}
		}
		m.stored[sourceURL] = path
	}
	return nil
}

func (m *memBackend) Remove(ctx context.Context, sourceURL string) error { return nil }

func (m *memBackend) Save(ctx context.Context, entries map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if m.saveErr != nil {
		return m.saveErr
	}
	m.stored = entries
	return nil
}

func (m *memBackend) Transactional() bool { return m.txn }

func (m *memBackend) Close() error {
	m.closed = true
	return nil
}

func TestLookupMiss(t *testing.T) {
	ix := Load(context.Background(), &memBackend{}, discardLogger)

	if path, ok := ix.Lookup("https://host/never?inserted=1"); ok || path != "" {
		t.Errorf("Expected miss, got (%q, %v)", path, ok)
	}
}

func TestInsertIdempotent(t *testing.T) {
	ctx := context.Background()
	ix := Load(ctx, &memBackend{}, discardLogger)

	for i := 0; i < 2; i++ {
		if err := ix.Insert(ctx, "https://host/q?a=1", "host/a=1"); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}

	if ix.Len() != 1 {
		t.Errorf("Expected 1 entry, got %d", ix.Len())
	}
	if path, ok := ix.Lookup("https://host/q?a=1"); !ok || path != "host/a=1" {
		t.Errorf("Unexpected lookup result (%q, %v)", path, ok)
	}
}

func TestInsertOverwrites(t *testing.T) {
	ctx := context.Background()
	ix := Load(ctx, &memBackend{}, discardLogger)

	ix.Insert(ctx, "k", "old")
	ix.Insert(ctx, "k", "new")

	if path, _ := ix.Lookup("k"); path != "new" {
		t.Errorf("Expected new path, got %q", path)
	}
}

func TestLoadFailureStartsEmpty(t *testing.T) {
	ix := Load(context.Background(), &memBackend{loadErr: errors.New("corrupt")}, discardLogger)

	if !ix.Enabled() {
		t.Error("Expected index to stay enabled after a load failure")
	}
	if ix.Len() != 0 {
		t.Errorf("Expected empty index, got %d entries", ix.Len())
	}
}

func TestPersistSnapshot(t *testing.T) {
	ctx := context.Background()
	backend := &memBackend{stored: map[string]string{"a": "host/a"}}
	ix := Load(ctx, backend, discardLogger)

	ix.Insert(ctx, "b", "host/b")
	if err := ix.Remove(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if err := ix.Persist(ctx); err != nil {
		t.Fatalf("Persist failed: %v", err)
	}

	if backend.saves != 1 {
		t.Errorf("Expected 1 save, got %d", backend.saves)
	}
	if len(backend.stored) != 1 || backend.stored["b"] != "host/b" {
		t.Errorf("Unexpected snapshot: %v", backend.stored)
	}

	// The snapshot must be a copy, not the live map.
	ix.Insert(ctx, "c", "host/c")
	if _, ok := backend.stored["c"]; ok {
		t.Error("Persisted snapshot aliases the live map")
	}
}

func TestPersistTransactionalIsNoOp(t *testing.T) {
	ctx := context.Background()
	backend := &memBackend{txn: true}
	ix := Load(ctx, backend, discardLogger)

	ix.Insert(ctx, "a", "host/a")
	if backend.stored["a"] != "host/a" {
		t.Error("Expected insert to reach the transactional backend immediately")
	}
	if err := ix.Persist(ctx); err != nil {
		t.Fatal(err)
	}
	if backend.saves != 0 {
		t.Errorf("Expected no saves for a transactional backend, got %d", backend.saves)
	}
}

func TestPersistError(t *testing.T) {
	ctx := context.Background()
	ix := Load(ctx, &memBackend{saveErr: errors.New("disk full")}, discardLogger)
	ix.Insert(ctx, "a", "host/a")

	if err := ix.Persist(ctx); err == nil {
		t.Error("Expected persist error to be returned")
	}
}

func TestDisabled(t *testing.T) {
	ctx := context.Background()
	ix := Disabled(discardLogger)

	if err := ix.Insert(ctx, "a", "host/a"); err != nil {
		t.Fatal(err)
	}
	if _, ok := ix.Lookup("a"); ok {
		t.Error("Disabled index must never hit")
	}
	if err := ix.Persist(ctx); err != nil {
		t.Error(err)
	}
	if err := ix.Close(); err != nil {
		t.Error(err)
	}
}

func TestEntriesSorted(t *testing.T) {
	ctx := context.Background()
	ix := Load(ctx, &memBackend{}, discardLogger)
	for _, k := range []string{"c", "a", "b"} {
		ix.Insert(ctx, k, "host/"+k)
	}

	entries := ix.Entries()
	if len(entries) != 3 || entries[0].SourceURL != "a" || entries[2].SourceURL != "c" {
		t.Errorf("Unexpected entries: %v", entries)
	}
}

func TestConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	ix := Load(ctx, &memBackend{}, discardLogger)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		key := fmt.Sprintf("https://host/q?i=%d", i%10)
		go func() {
			defer wg.Done()
			ix.Insert(ctx, key, "host/"+key)
		}()
		go func() {
			defer wg.Done()
			ix.Lookup(key)
		}()
	}
	wg.Wait()

	if ix.Len() != 10 {
		t.Errorf("Expected 10 entries, got %d", ix.Len())
	}
}

func TestFileBackendRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cold.json")

	backend, err := backends.NewFile(path, discardLogger)
	if err != nil {
		t.Fatal(err)
	}
	ix := Load(ctx, backend, discardLogger)
	ix.Insert(ctx, "https://host/q?a=1", "host/a=1")
	if err := ix.Persist(ctx); err != nil {
		t.Fatalf("Persist failed: %v", err)
	}
	ix.Close()

	backend, err = backends.NewFile(path, discardLogger)
	if err != nil {
		t.Fatal(err)
	}
	reloaded := Load(ctx, backend, discardLogger)
	defer reloaded.Close()
	if p, ok := reloaded.Lookup("https://host/q?a=1"); !ok || p != "host/a=1" {
		t.Errorf("Expected reloaded entry, got (%q, %v)", p, ok)
	}
}

func TestOwner(t *testing.T) {
	ctx := context.Background()
	ix := Load(ctx, &memBackend{stored: map[string]string{"a": "host/x"}}, discardLogger)

	if owner, ok := ix.Owner("host/x"); !ok || owner != "a" {
		t.Errorf("Expected loaded entry to own its path, got (%q, %v)", owner, ok)
	}

	// Moving a key releases its old path.
	ix.Insert(ctx, "a", "host/y")
	if _, ok := ix.Owner("host/x"); ok {
		t.Error("Expected old path to be released")
	}
	if owner, _ := ix.Owner("host/y"); owner != "a" {
		t.Errorf("Expected a to own host/y, got %q", owner)
	}

	ix.Remove(ctx, "a")
	if _, ok := ix.Owner("host/y"); ok {
		t.Error("Expected removed entry to release its path")
	}
	if _, ok := Disabled(discardLogger).Owner("host/y"); ok {
		t.Error("Disabled index must not report owners")
	}
}

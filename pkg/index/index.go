package index

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sort"
	"sync"

	"github.com/richardartoul/voicecache/backends"
)

// Entry is one source URL and the artifact path it maps to, relative to the
// cache root.
type Entry struct {
	SourceURL string
	Path      string
}

// Index is the process-wide map from source URL to artifact path.
//
// All access goes through the mutex, which is held only for the map
// operation itself; backend I/O always happens after it is released.
type Index struct {
	mu      sync.Mutex
	entries map[string]string
	owners  map[string]string // path -> source URL

	backend backends.Backend // nil when disabled
	logger  *slog.Logger
}

// Load builds an index from the backend's stored state. A backend that cannot
// be read yields an empty index: the cache starts cold, which only costs
// redundant re-encoding.
func Load(ctx context.Context, backend backends.Backend, logger *slog.Logger) *Index {
	entries, err := backend.Load(ctx)
	if err != nil {
		logger.Warn("failed to load cache index, starting empty", "error", err)
		entries = nil
	}
	if entries == nil {
		entries = make(map[string]string)
	}

	owners := make(map[string]string, len(entries))
	for sourceURL, path := range entries {
		owners[path] = sourceURL
	}

	logger.Info("cache index loaded", "entries", len(entries), "transactional", backend.Transactional())
	return &Index{
		entries: entries,
		owners:  owners,
		backend: backend,
		logger:  logger,
	}
}

// Disabled returns an index that never hits and never stores anything. It is
// used when the backing store could not be opened.
func Disabled(logger *slog.Logger) *Index {
	return &Index{logger: logger}
}

// Enabled reports whether the index is backed by a store.
func (ix *Index) Enabled() bool {
	return ix.backend != nil
}

// Lookup returns the artifact path for sourceURL.
func (ix *Index) Lookup(sourceURL string) (string, bool) {
	if !ix.Enabled() {
		return "", false
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()

	path, ok := ix.entries[sourceURL]
	return path, ok
}

// Owner returns the source URL whose entry points at path.
func (ix *Index) Owner(path string) (string, bool) {
	if !ix.Enabled() {
		return "", false
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()

	sourceURL, ok := ix.owners[path]
	return sourceURL, ok
}

// Insert maps sourceURL to path, replacing any previous mapping. The
// in-memory map is updated first; for transactional backends the row is then
// committed. A backend error is returned but the in-memory mapping stays,
// since the artifact on disk is valid either way.
func (ix *Index) Insert(ctx context.Context, sourceURL, path string) error {
	if !ix.Enabled() {
		return nil
	}

	ix.mu.Lock()
	if old, ok := ix.entries[sourceURL]; ok && ix.owners[old] == sourceURL {
		delete(ix.owners, old)
	}
	ix.entries[sourceURL] = path
	ix.owners[path] = sourceURL
	ix.mu.Unlock()

	if err := ix.backend.Insert(ctx, sourceURL, path); err != nil {
		return fmt.Errorf("failed to store index entry: %w", err)
	}
	return nil
}

// Remove deletes the mapping for sourceURL.
func (ix *Index) Remove(ctx context.Context, sourceURL string) error {
	if !ix.Enabled() {
		return nil
	}

	ix.mu.Lock()
	if path, ok := ix.entries[sourceURL]; ok && ix.owners[path] == sourceURL {
		delete(ix.owners, path)
	}
	delete(ix.entries, sourceURL)
	ix.mu.Unlock()

	if err := ix.backend.Remove(ctx, sourceURL); err != nil {
		return fmt.Errorf("failed to remove index entry: %w", err)
	}
	return nil
}

// Persist writes the full mapping to the backend. Transactional backends
// already hold every entry, so this is a no-op for them.
func (ix *Index) Persist(ctx context.Context) error {
	if !ix.Enabled() || ix.backend.Transactional() {
		return nil
	}

	ix.mu.Lock()
	snapshot := maps.Clone(ix.entries)
	ix.mu.Unlock()

	if err := ix.backend.Save(ctx, snapshot); err != nil {
		return fmt.Errorf("failed to persist cache index: %w", err)
	}
	ix.logger.Info("cache index persisted", "entries", len(snapshot))
	return nil
}

// Len returns the number of entries.
func (ix *Index) Len() int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return len(ix.entries)
}

// Entries returns a copy of every mapping, sorted by source URL.
func (ix *Index) Entries() []Entry {
	ix.mu.Lock()
	out := make([]Entry, 0, len(ix.entries))
	for k, v := range ix.entries {
		out = append(out, Entry{SourceURL: k, Path: v})
	}
	ix.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].SourceURL < out[j].SourceURL })
	return out
}

// Close closes the backend. It does not persist; call Persist first.
func (ix *Index) Close() error {
	if !ix.Enabled() {
		return nil
	}
	return ix.backend.Close()
}

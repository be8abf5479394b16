package backends

import (
	"context"
	"errors"
)

// ErrUnavailable wraps any failure to open or connect to a backing store at
// startup. The cache treats it as "run with caching disabled".
var ErrUnavailable = errors.New("index backing store unavailable")

// Backend is the persistent home of the cache index: a mapping from a
// stream's source URL to the artifact path relative to the cache root.
//
// Implementations must be safe for concurrent use. The in-memory index in
// pkg/index is the single authority while the process runs; a Backend only
// has to reproduce it at the next startup.
type Backend interface {
	// Load returns every stored mapping. A store that does not exist yet
	// returns an empty map and no error.
	Load(ctx context.Context) (map[string]string, error)

	// Insert records a single mapping, replacing any previous one for the key.
	// Snapshot backends may treat this as a no-op and rely on Save.
	Insert(ctx context.Context, sourceURL, path string) error

	// Remove deletes the mapping for sourceURL if present.
	Remove(ctx context.Context, sourceURL string) error

	// Save writes a full snapshot. Transactional backends may treat this as a
	// no-op because every Insert is already durable.
	Save(ctx context.Context, entries map[string]string) error

	// Transactional reports whether Insert and Remove are durable on return.
	Transactional() bool

	// Close releases any resources held by the backend.
	Close() error
}

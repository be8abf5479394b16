package backends

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

const lockRetryDelay = 50 * time.Millisecond

// File stores the index as a single JSON object ({"url": "host/name", ...}).
// The file is only read at startup and written at shutdown; in between the
// in-memory index is authoritative.
//
// Reads and writes are bracketed by an advisory lock on a sibling ".lock"
// file so that two processes sharing a cache root never interleave a
// snapshot write.
type File struct {
	path   string
	lock   *flock.Flock
	logger *slog.Logger
}

// NewFile creates a file backend at path. The parent directory is created if
// needed; failure to do so is reported as ErrUnavailable.
func NewFile(path string, logger *slog.Logger) (*File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("%w: failed to create index directory: %v", ErrUnavailable, err)
	}
	return &File{
		path:   path,
		lock:   flock.New(path + ".lock"),
		logger: logger,
	}, nil
}

// Load reads the snapshot. A missing file is an empty index.
func (f *File) Load(ctx context.Context) (map[string]string, error) {
	locked, err := f.lock.TryRLockContext(ctx, lockRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("failed to lock index file: %w", err)
	}
	if locked {
		defer f.lock.Unlock()
	}

	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("failed to read index file: %w", err)
	}

	entries := map[string]string{}
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse index file %s: %w", f.path, err)
	}
	return entries, nil
}

// Insert is a no-op; mappings reach disk on Save.
func (f *File) Insert(ctx context.Context, sourceURL, path string) error { return nil }

// Remove is a no-op; mappings reach disk on Save.
func (f *File) Remove(ctx context.Context, sourceURL string) error { return nil }

// Save atomically replaces the snapshot with entries.
func (f *File) Save(ctx context.Context, entries map[string]string) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to marshal index: %w", err)
	}

	locked, err := f.lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("failed to lock index file: %w", err)
	}
	if locked {
		defer f.lock.Unlock()
	}

	// Write to temp file first so a crash mid-write never leaves a
	// truncated index behind.
	tmpPath := f.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp index: %w", err)
	}
	if err := os.Rename(tmpPath, f.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename index: %w", err)
	}

	f.logger.Debug("index snapshot written", "path", f.path, "entries", len(entries))
	return nil
}

func (f *File) Transactional() bool { return false }

func (f *File) Close() error {
	return f.lock.Close()
}

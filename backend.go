package main

import (
	"context"

	"github.com/richardartoul/voicecache/pkg/audiocache"
	"github.com/richardartoul/voicecache/pkg/dca"
)

// CacheService is what the serve protocol drives. *audiocache.Cache
// implements it; tests swap in a fake.
type CacheService interface {
	// LookupAndOpen returns the cached artifact for key, or false on a miss.
	LookupAndOpen(ctx context.Context, key string) (*audiocache.Playback, bool)

	// Store writes a finished stream and reports what happened.
	Store(ctx context.Context, meta dca.Metadata, stream audiocache.Stream) (audiocache.Outcome, error)

	// Close waits for pending writes, persists the index and releases the
	// backend.
	Close(ctx context.Context) error
}

var _ CacheService = (*audiocache.Cache)(nil)

package audiocache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/richardartoul/voicecache/backends"
	"github.com/richardartoul/voicecache/pkg/config"
	"github.com/richardartoul/voicecache/pkg/dca"
	"github.com/richardartoul/voicecache/pkg/index"
	"github.com/richardartoul/voicecache/pkg/locking"
	"github.com/richardartoul/voicecache/pkg/metrics"
)

// Cache wires the index, writer and reader together for one cache root.
type Cache struct {
	cfg    config.Config
	index  *index.Index
	writer *Writer
	reader *Reader

	metrics *metrics.CacheMetrics
	latency *metrics.LatencyTracker
	logger  *slog.Logger
}

// Open builds a cache from cfg. Collectors are registered on reg when it is
// non-nil.
//
// A backing store that cannot be opened does not fail Open: the cache is
// returned disabled, so every lookup misses and every write is skipped.
// Only an invalid configuration is an error.
func Open(ctx context.Context, cfg config.Config, logger *slog.Logger, reg prometheus.Registerer) (*Cache, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Cache{
		cfg:     cfg,
		metrics: metrics.NewCacheMetrics(reg),
		latency: metrics.NewLatencyTracker(0.01),
		logger:  logger,
	}

	artifacts, err := newArtifactStore(cfg.Root)
	if err == nil {
		c.index, err = c.loadIndex(ctx)
	}
	if err != nil {
		logger.Warn("audio cache disabled", "root", cfg.Root, "error", err)
		c.index = index.Disabled(logger)
	}
	c.metrics.SetIndexEntries(c.index.Len())

	var locks locking.Group = locking.NewMemLock()
	if !cfg.SerializeWrites {
		locks = locking.NewNoOpGroup()
	}

	c.writer = &Writer{
		index:                c.index,
		artifacts:            artifacts,
		locks:                locks,
		paths:                locking.NewMemLock(),
		pool:                 newBlockingPool(cfg.CopyWorkers),
		maxDuration:          cfg.MaxDuration,
		cacheUnknownDuration: cfg.CacheUnknownDuration,
		metrics:              c.metrics,
		latency:              c.latency,
		logger:               logger,
	}
	c.reader = &Reader{
		index:        c.index,
		artifacts:    artifacts,
		evictCorrupt: cfg.EvictCorrupt,
		metrics:      c.metrics,
		latency:      c.latency,
		logger:       logger,
	}
	return c, nil
}

func (c *Cache) loadIndex(ctx context.Context) (*index.Index, error) {
	if c.cfg.Index.Backend == config.BackendNone {
		return nil, fmt.Errorf("%w: index backend is %q", backends.ErrUnavailable, config.BackendNone)
	}

	backend, err := OpenBackend(ctx, c.cfg, c.cfg.Index.Backend, c.logger)
	if err != nil {
		return nil, err
	}

	defer c.latency.Since(metrics.OpLoad, time.Now())
	return index.Load(ctx, backend, c.logger), nil
}

// OpenBackend opens the index backend named by kind using the settings in cfg.
// Failures wrap backends.ErrUnavailable.
func OpenBackend(ctx context.Context, cfg config.Config, kind string, logger *slog.Logger) (backends.Backend, error) {
	var (
		backend backends.Backend
		err     error
	)
	switch kind {
	case config.BackendFile:
		backend, err = backends.NewFile(cfg.IndexFilePath(), logger)
	case config.BackendSQLite:
		backend, err = backends.NewSQLite(cfg.SQLitePath(), cfg.CopyWorkers+1, logger)
	case config.BackendS3:
		backend, err = backends.NewS3(ctx, backends.S3Config{
			Bucket:    cfg.Index.S3.Bucket,
			Key:       cfg.Index.S3.Key,
			Region:    cfg.Index.S3.Region,
			Endpoint:  cfg.Index.S3.Endpoint,
			PathStyle: cfg.Index.S3.PathStyle,
		}, logger)
	default:
		return nil, fmt.Errorf("%w: unknown index backend %q", backends.ErrUnavailable, kind)
	}
	if err != nil {
		return nil, err
	}

	if cfg.Index.Debug {
		return backends.NewDebug(backend, os.Stderr), nil
	}
	return backend, nil
}

// LookupAndOpen returns the cached artifact for key, or false on a miss.
func (c *Cache) LookupAndOpen(ctx context.Context, key string) (*Playback, bool) {
	return c.reader.LookupAndOpen(ctx, key)
}

// Store writes a finished stream to the cache and waits for the result.
func (c *Cache) Store(ctx context.Context, meta dca.Metadata, stream Stream) (Outcome, error) {
	return c.writer.Store(ctx, meta, stream)
}

// OnStreamEnd caches a finished stream in the background.
func (c *Cache) OnStreamEnd(ctx context.Context, meta dca.Metadata, stream Stream) {
	c.writer.OnStreamEnd(ctx, meta, stream)
}

// Index returns the underlying index.
func (c *Cache) Index() *index.Index {
	return c.index
}

// Enabled reports whether the cache has a working index.
func (c *Cache) Enabled() bool {
	return c.index.Enabled()
}

// Metrics returns the Prometheus collectors of the cache.
func (c *Cache) Metrics() *metrics.CacheMetrics {
	return c.metrics
}

// Stats returns latency statistics for every tracked operation.
func (c *Cache) Stats() []metrics.Stats {
	return c.latency.GetAllStats()
}

// Close waits for pending writes, persists the index and closes the backend.
// A persist failure is returned so the caller can decide whether to abort;
// the index is closed either way. Cancellation of ctx does not stop the
// persist, so Close is safe to call from a shutdown path.
func (c *Cache) Close(ctx context.Context) error {
	ctx = context.WithoutCancel(ctx)
	c.writer.Wait()

	start := time.Now()
	persistErr := c.index.Persist(ctx)
	c.latency.Record(metrics.OpPersist, time.Since(start))
	if persistErr != nil {
		c.logger.Error("failed to persist cache index", "error", persistErr)
	}

	for _, s := range c.Stats() {
		c.logger.Debug("cache latency", "stats", s.String())
	}

	closeErr := c.index.Close()
	if closeErr != nil {
		closeErr = fmt.Errorf("failed to close index backend: %w", closeErr)
	}
	return errors.Join(persistErr, closeErr)
}

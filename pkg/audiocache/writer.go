package audiocache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/richardartoul/voicecache/pkg/dca"
	"github.com/richardartoul/voicecache/pkg/index"
	"github.com/richardartoul/voicecache/pkg/locking"
	"github.com/richardartoul/voicecache/pkg/metrics"
)

// Outcome describes what a stream-end write did.
type Outcome string

const (
	OutcomeStored          Outcome = "stored"
	OutcomeDisabled        Outcome = "disabled"
	OutcomeIneligible      Outcome = "ineligible"
	OutcomeTooLong         Outcome = "too_long"
	OutcomeUnknownDuration Outcome = "unknown_duration"
	OutcomeAlreadyCached   Outcome = "already_cached"
	OutcomeFailed          Outcome = "failed"
)

// Writer persists finished streams as artifacts and registers them in the
// index.
type Writer struct {
	index     *index.Index
	artifacts *artifactStore
	locks     locking.Group
	paths     *locking.MemLock
	pool      *blockingPool

	maxDuration          time.Duration
	cacheUnknownDuration bool

	metrics *metrics.CacheMetrics
	latency *metrics.LatencyTracker
	logger  *slog.Logger

	wg sync.WaitGroup
}

// Store writes the stream described by meta to the cache unless it is
// ineligible or already cached. Only OutcomeFailed carries a non-nil error.
//
// ctx bounds the wait for a copy slot. Once the copy starts it runs to
// completion, and the caller waits for it.
func (w *Writer) Store(ctx context.Context, meta dca.Metadata, stream Stream) (Outcome, error) {
	outcome, written, err := w.store(ctx, meta, stream)
	w.metrics.Write(string(outcome), written)
	return outcome, err
}

// OnStreamEnd hands a finished stream to the cache in the background. The
// write is detached from ctx's cancellation so ending a playback session
// never aborts its cache write. Failures are only logged.
func (w *Writer) OnStreamEnd(ctx context.Context, meta dca.Metadata, stream Stream) {
	ctx = context.WithoutCancel(ctx)

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()

		outcome, err := w.Store(ctx, meta, stream)
		if err != nil {
			w.logger.Warn("failed to cache stream", "source", meta.SourceURL, "error", err)
			return
		}
		w.logger.Debug("stream end handled", "source", meta.SourceURL, "outcome", outcome)
	}()
}

// Wait blocks until every write started by OnStreamEnd has finished.
func (w *Writer) Wait() {
	w.wg.Wait()
}

func (w *Writer) store(ctx context.Context, meta dca.Metadata, stream Stream) (Outcome, int64, error) {
	if outcome, ok := w.eligible(meta); !ok {
		return outcome, 0, nil
	}

	key := meta.SourceURL
	var written int64
	v, err := w.locks.DoWithLock(key, func() (interface{}, error) {
		if _, ok := w.index.Lookup(key); ok {
			return OutcomeAlreadyCached, nil
		}

		rel, err := relativePath(key)
		if err != nil {
			return OutcomeFailed, err
		}
		header, err := dca.NewHeader(meta)
		if err != nil {
			return OutcomeFailed, fmt.Errorf("failed to build header: %w", err)
		}

		// Distinct sources can derive the same name. Claims on a path are
		// serialised so only one source ever owns it.
		_, err = w.paths.DoWithLock(rel, func() (interface{}, error) {
			claimed, err := w.claimPath(key, rel)
			if err != nil {
				return nil, err
			}
			rel = claimed
			if written, err = w.copyArtifact(ctx, meta, rel, header, stream); err != nil {
				return nil, err
			}

			// The artifact is complete on disk, so a backend error still
			// leaves a usable in-memory entry.
			if err := w.index.Insert(ctx, key, rel); err != nil {
				w.logger.Warn("failed to record artifact in index", "source", key, "error", err)
			}
			return nil, nil
		})
		if err != nil {
			return OutcomeFailed, err
		}
		w.metrics.SetIndexEntries(w.index.Len())

		w.logger.Info("stream cached", "source", key, "path", rel, "size", humanize.Bytes(uint64(written)))
		return OutcomeStored, nil
	})

	outcome, _ := v.(Outcome)
	if err != nil {
		if outcome == "" {
			outcome = OutcomeFailed
		}
		return outcome, 0, fmt.Errorf("failed to cache %s: %w", key, err)
	}
	return outcome, written, nil
}

// claimPath returns rel unless another source already owns it, in which case
// the name gets a suffix derived from the full source URL.
func (w *Writer) claimPath(key, rel string) (string, error) {
	owner, ok := w.index.Owner(rel)
	if !ok || owner == key {
		return rel, nil
	}

	alt := uniquePath(rel, key)
	if owner, ok := w.index.Owner(alt); ok && owner != key {
		return "", fmt.Errorf("artifact path %s already belongs to %s", alt, owner)
	}
	w.logger.Debug("artifact name taken, using hashed name", "source", key, "taken_by", owner, "path", alt)
	return alt, nil
}

// copyArtifact streams the header and payload into rel on the copy pool.
func (w *Writer) copyArtifact(ctx context.Context, meta dca.Metadata, rel string, header *dca.Header, stream Stream) (int64, error) {
	w.logger.Info("caching stream",
		"source", meta.SourceURL,
		"path", rel,
		"duration", meta.Duration,
		"estimated_size", humanize.Bytes(estimatedSize(meta.Duration)),
	)

	var written int64
	err := w.pool.run(ctx, func() error {
		defer w.latency.Since(metrics.OpCopy, time.Now())

		body, err := stream.NewHandle()
		if err != nil {
			return fmt.Errorf("failed to open stream handle: %w", err)
		}
		defer body.Close()

		written, err = w.artifacts.write(rel, header, body)
		return err
	})
	return written, err
}

// eligible applies the caching policy to meta. It reports false with the
// outcome to return when the stream must not be cached.
func (w *Writer) eligible(meta dca.Metadata) (Outcome, bool) {
	switch {
	case !w.index.Enabled():
		return OutcomeDisabled, false
	case meta.SourceURL == "" || meta.Channels == 0:
		return OutcomeIneligible, false
	case meta.Duration > w.maxDuration:
		return OutcomeTooLong, false
	case meta.Duration <= 0 && !w.cacheUnknownDuration:
		return OutcomeUnknownDuration, false
	}
	return "", true
}

// estimatedSize is the expected artifact size at the target bitrate, with a
// second of headroom.
func estimatedSize(d time.Duration) uint64 {
	secs := uint64(d / time.Second)
	return (secs + 1) * dca.DefaultBitrate / 8
}

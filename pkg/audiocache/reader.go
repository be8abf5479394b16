package audiocache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/richardartoul/voicecache/pkg/dca"
	"github.com/richardartoul/voicecache/pkg/index"
	"github.com/richardartoul/voicecache/pkg/metrics"
)

// Playback is an open cached artifact positioned at the start of its Opus
// payload. Reads and seeks never reach the header.
type Playback struct {
	Metadata dca.Metadata
	Header   *dca.Header

	// Path is the absolute artifact path.
	Path string
	// Offset is where the payload starts in the file.
	Offset int64
	// Size is the payload length in bytes.
	Size int64

	file    *os.File
	payload *io.SectionReader
}

func (p *Playback) Read(b []byte) (int, error) {
	return p.payload.Read(b)
}

func (p *Playback) ReadAt(b []byte, off int64) (int, error) {
	return p.payload.ReadAt(b, off)
}

func (p *Playback) Seek(offset int64, whence int) (int64, error) {
	return p.payload.Seek(offset, whence)
}

func (p *Playback) Close() error {
	return p.file.Close()
}

// Reader serves playback from cached artifacts.
type Reader struct {
	index        *index.Index
	artifacts    *artifactStore
	evictCorrupt bool

	metrics *metrics.CacheMetrics
	latency *metrics.LatencyTracker
	logger  *slog.Logger
}

// LookupAndOpen returns the cached artifact for key, opened for playback. It
// reports false on any miss: no index entry, an artifact that cannot be
// opened, or one that does not decode. Callers fall back to fetching the
// source.
func (r *Reader) LookupAndOpen(ctx context.Context, key string) (*Playback, bool) {
	defer r.latency.Since(metrics.OpLookup, time.Now())

	rel, ok := r.index.Lookup(key)
	if !ok {
		r.metrics.Lookup(metrics.LookupMiss)
		return nil, false
	}

	pb, err := OpenArtifact(r.artifacts.absPath(rel))
	switch {
	case err == nil:
		r.metrics.Lookup(metrics.LookupHit)
		return pb, true
	case errors.Is(err, dca.ErrInvalidContainer):
		r.metrics.Lookup(metrics.LookupCorrupt)
		r.logger.Warn("cached artifact is corrupt", "source", key, "path", rel, "error", err)
		if r.evictCorrupt {
			if err := r.index.Remove(ctx, key); err != nil {
				r.logger.Warn("failed to evict corrupt artifact", "source", key, "error", err)
			}
		}
	default:
		r.metrics.Lookup(metrics.LookupError)
		r.logger.Warn("failed to open cached artifact", "source", key, "path", rel, "error", err)
	}
	return nil, false
}

// newPlayback decodes the header of f and wraps its payload. On success the
// Playback owns f.
func newPlayback(f *os.File) (*Playback, error) {
	header, offset, err := dca.Decode(f)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat artifact: %w", err)
	}

	size := info.Size() - offset
	return &Playback{
		Metadata: header.Metadata(),
		Header:   header,
		Path:     f.Name(),
		Offset:   offset,
		Size:     size,
		file:     f,
		payload:  io.NewSectionReader(f, offset, size),
	}, nil
}

// OpenArtifact opens the artifact at path directly, bypassing the index.
func OpenArtifact(path string) (*Playback, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	pb, err := newPlayback(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return pb, nil
}

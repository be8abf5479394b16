package audiocache

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/richardartoul/voicecache/pkg/dca"
)

// maxNameLen keeps artifact file names well below common filesystem limits.
const maxNameLen = 200

// ErrUnresolvablePath is returned when a source URL has no host to file the
// artifact under.
var ErrUnresolvablePath = errors.New("cannot derive artifact path from source URL")

// artifactStore manages the artifact files under the cache root.
// It owns the naming convention: <root>/<host>/<name>.
type artifactStore struct {
	root string // Absolute path to cache root
}

// newArtifactStore creates the cache root if needed.
func newArtifactStore(root string) (*artifactStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache root: %w", err)
	}

	// Convert to absolute path once at initialization
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	return &artifactStore{root: absRoot}, nil
}

// relativePath derives the artifact path for a source URL, relative to the
// root and always using forward slashes. The directory is the URL's host;
// the file name is its raw query (which is what distinguishes videos on most
// hosts), else its last path segment, else a hash of the whole URL.
func relativePath(sourceURL string) (string, error) {
	u, err := url.Parse(sourceURL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnresolvablePath, err)
	}
	host := sanitizeName(u.Hostname())
	if host == "" {
		return "", fmt.Errorf("%w: %q has no host", ErrUnresolvablePath, sourceURL)
	}

	name := sanitizeName(u.RawQuery)
	if base := path.Base(u.Path); name == "" && base != "/" && base != "." {
		name = sanitizeName(base)
	}
	if name == "" {
		sum := sha256.Sum256([]byte(sourceURL))
		name = hex.EncodeToString(sum[:])
	}
	if len(name) > maxNameLen {
		sum := sha256.Sum256([]byte(name))
		name = name[:maxNameLen-17] + "-" + hex.EncodeToString(sum[:8])
	}

	return host + "/" + name, nil
}

// uniquePath returns a variant of rel whose name carries a hash of the full
// source URL. It is used when rel already belongs to another source.
func uniquePath(rel, sourceURL string) string {
	dir, name := path.Split(rel)
	sum := sha256.Sum256([]byte(sourceURL))
	suffix := "-" + hex.EncodeToString(sum[:8])
	if len(name)+len(suffix) > maxNameLen {
		name = name[:maxNameLen-len(suffix)]
	}
	return dir + name + suffix
}

// sanitizeName makes s safe to use as a single path element.
func sanitizeName(s string) string {
	s = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', 0:
			return '_'
		}
		return r
	}, s)
	if s == "." || s == ".." {
		return ""
	}
	return s
}

// absPath converts a relative artifact path to an absolute one.
func (as *artifactStore) absPath(rel string) string {
	return filepath.Join(as.root, filepath.FromSlash(rel))
}

// write atomically writes the header followed by the payload read from body to
// the artifact at rel. It returns the number of bytes written.
//
// The temp file name is unique per call, so two writers racing on the same
// artifact never share a temp file; the last rename wins and both renamed
// files are complete.
func (as *artifactStore) write(rel string, header *dca.Header, body io.Reader) (int64, error) {
	diskPath := as.absPath(rel)

	// MkdirAll tolerates the directory already existing, including when
	// another writer creates it concurrently.
	if err := os.MkdirAll(filepath.Dir(diskPath), 0755); err != nil {
		return 0, fmt.Errorf("failed to create artifact directory: %w", err)
	}

	// Write to temp file first for atomic operation.
	tmpPath := diskPath + "." + uuid.NewString() + ".tmp"
	tmpFile, err := os.Create(tmpPath)
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmpPath) // Clean up if something goes wrong

	written, err := header.WriteTo(tmpFile)
	if err == nil {
		var n int64
		n, err = io.Copy(tmpFile, body)
		written += n
	}
	if err == nil {
		err = tmpFile.Sync()
	}
	closeErr := tmpFile.Close()
	if err != nil {
		return written, fmt.Errorf("failed to write to temp file: %w", err)
	}
	if closeErr != nil {
		return written, fmt.Errorf("failed to close temp file: %w", closeErr)
	}

	// Then atomically rename the temp file to the final destination so a
	// reader never observes a partially written artifact.
	if err := os.Rename(tmpPath, diskPath); err != nil {
		return written, fmt.Errorf("failed to rename artifact: %w", err)
	}

	return written, nil
}

package dca

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
)

const (
	// Magic is the 4-byte tag every artifact starts with.
	Magic = "DCA1"

	// MinHeaderSize is the smallest declared header length that can hold a
	// JSON object ("{}").
	MinHeaderSize = 2
	// MaxHeaderSize bounds the allocation made for a declared header length.
	MaxHeaderSize = 1 << 20

	prefixSize = len(Magic) + 4
)

// ErrInvalidContainer is returned for any artifact whose framing or header
// cannot be trusted. Callers treat it as a cache miss.
var ErrInvalidContainer = errors.New("invalid DCA container")

// Encode serializes h as magic || little-endian int32 length || JSON.
func Encode(h *Header) ([]byte, error) {
	body, err := json.Marshal(h)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal header: %w", err)
	}
	if len(body) > math.MaxInt32 {
		return nil, fmt.Errorf("header too large: %d bytes", len(body))
	}

	buf := make([]byte, prefixSize, prefixSize+len(body))
	copy(buf, Magic)
	binary.LittleEndian.PutUint32(buf[len(Magic):], uint32(int32(len(body))))
	return append(buf, body...), nil
}

// WriteTo writes the encoded header to w.
func (h *Header) WriteTo(w io.Writer) (int64, error) {
	encoded, err := Encode(h)
	if err != nil {
		return 0, err
	}
	n, err := w.Write(encoded)
	return int64(n), err
}

// Decode reads one header from the front of r. It returns the header and the
// number of bytes consumed, which is the offset at which the payload starts.
// Decode never reads beyond the header region it was told about, so on
// failure the reader is positioned at most at the end of the bad region.
func Decode(r io.Reader) (*Header, int64, error) {
	var prefix [prefixSize]byte

	if _, err := io.ReadFull(r, prefix[:len(Magic)]); err != nil {
		return nil, 0, fmt.Errorf("%w: reading magic: %v", ErrInvalidContainer, err)
	}
	if !bytes.Equal(prefix[:len(Magic)], []byte(Magic)) {
		return nil, 0, fmt.Errorf("%w: bad magic %q", ErrInvalidContainer, prefix[:len(Magic)])
	}

	if _, err := io.ReadFull(r, prefix[len(Magic):]); err != nil {
		return nil, 0, fmt.Errorf("%w: reading header length: %v", ErrInvalidContainer, err)
	}
	length := int32(binary.LittleEndian.Uint32(prefix[len(Magic):]))
	if length < MinHeaderSize || length > MaxHeaderSize {
		return nil, 0, fmt.Errorf("%w: header length %d out of range", ErrInvalidContainer, length)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, 0, fmt.Errorf("%w: header truncated: %v", ErrInvalidContainer, err)
	}

	var h Header
	if err := json.Unmarshal(body, &h); err != nil {
		return nil, 0, fmt.Errorf("%w: malformed header: %v", ErrInvalidContainer, err)
	}
	if h.DCA.Version != FormatVersion {
		return nil, 0, fmt.Errorf("%w: unsupported version %d", ErrInvalidContainer, h.DCA.Version)
	}

	return &h, int64(prefixSize) + int64(length), nil
}

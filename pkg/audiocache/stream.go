package audiocache

import (
	"errors"
	"io"
	"os"
	"sync"
)

// Stream is a compressed-audio producer that can hand out independent readers
// over the same bytes. The playback consumer and the cache writer each take
// their own handle, so reading for the cache never disturbs playback.
type Stream interface {
	// NewHandle returns a reader positioned at the start of the stream.
	// Reads block until bytes are available and return io.EOF once the
	// producer has finished.
	NewHandle() (io.ReadCloser, error)
}

var errHandleClosed = errors.New("stream handle closed")

// BufferedStream is an in-memory Stream written by an encoder. It keeps every
// byte it has been given so handles created late still start from the
// beginning.
type BufferedStream struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    []byte
	closed bool
	err    error
}

func NewBufferedStream() *BufferedStream {
	s := &BufferedStream{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Write appends p to the stream and wakes any waiting handles.
func (s *BufferedStream) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, errors.New("write to closed stream")
	}
	s.buf = append(s.buf, p...)
	s.cond.Broadcast()
	return len(p), nil
}

// Close marks the end of the stream. Handles drain what is buffered and then
// return io.EOF.
func (s *BufferedStream) Close() error {
	return s.CloseWithError(nil)
}

// CloseWithError ends the stream; handles return err after draining the
// buffer. A nil err is the same as Close.
func (s *BufferedStream) CloseWithError(err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		s.err = err
		s.cond.Broadcast()
	}
	return nil
}

// Len returns the number of bytes written so far.
func (s *BufferedStream) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buf)
}

func (s *BufferedStream) NewHandle() (io.ReadCloser, error) {
	return &bufferedHandle{stream: s}, nil
}

type bufferedHandle struct {
	stream *BufferedStream
	off    int
	closed bool
}

func (h *bufferedHandle) Read(p []byte) (int, error) {
	s := h.stream
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		if h.closed {
			return 0, errHandleClosed
		}
		if h.off < len(s.buf) {
			n := copy(p, s.buf[h.off:])
			h.off += n
			return n, nil
		}
		if s.closed {
			if s.err != nil {
				return 0, s.err
			}
			return 0, io.EOF
		}
		s.cond.Wait()
	}
}

func (h *bufferedHandle) Close() error {
	s := h.stream
	s.mu.Lock()
	h.closed = true
	s.cond.Broadcast()
	s.mu.Unlock()
	return nil
}

// FileStream is a Stream backed by a finished file on disk, used when the
// encoder hands over a spooled file instead of a live buffer.
type FileStream string

func (f FileStream) NewHandle() (io.ReadCloser, error) {
	return os.Open(string(f))
}

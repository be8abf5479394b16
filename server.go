package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/richardartoul/voicecache/pkg/audiocache"
	"github.com/richardartoul/voicecache/pkg/dca"
)

// Cmd represents a protocol command type.
type Cmd string

const (
	CmdLookup = Cmd("lookup")
	CmdStore  = Cmd("store")
	CmdClose  = Cmd("close")
)

// Request represents a request from the player process.
type Request struct {
	ID        int64
	Command   Cmd
	SourceURL string        `json:",omitempty"`
	Metadata  *dca.Metadata `json:",omitempty"`
	// BodyPath is a finished spool file holding the Opus payload of a store.
	BodyPath string `json:",omitempty"`
}

// Response represents a response to the player process.
type Response struct {
	ID            int64         `json:",omitempty"`
	Err           string        `json:",omitempty"`
	KnownCommands []Cmd         `json:",omitempty"`
	Miss          bool          `json:",omitempty"`
	DiskPath      string        `json:",omitempty"`
	PayloadOffset int64         `json:",omitempty"`
	PayloadSize   int64         `json:",omitempty"`
	Metadata      *dca.Metadata `json:",omitempty"`
	Outcome       string        `json:",omitempty"`
}

// CacheProg serves cache lookups and stores over newline-delimited JSON.
// A player that cannot link the library talks to it over a pipe: lookups
// return the artifact path and payload region, and the player reads the file
// itself.
type CacheProg struct {
	cache   CacheService
	logger  *slog.Logger
	scanner *bufio.Scanner
	writer  *bufio.Writer
}

// NewCacheProg creates a new protocol server reading requests from in and
// writing responses to out.
func NewCacheProg(cache CacheService, in io.Reader, out io.Writer, logger *slog.Logger) *CacheProg {
	scanner := bufio.NewScanner(in)
	// Metadata can carry long thumbnail URLs; allow lines well past the
	// 64KB default.
	const maxScanTokenSize = 1024 * 1024
	scanner.Buffer(make([]byte, 64*1024), maxScanTokenSize)

	return &CacheProg{
		cache:   cache,
		logger:  logger,
		scanner: scanner,
		writer:  bufio.NewWriter(out),
	}
}

// SendResponse writes a response line.
func (cp *CacheProg) SendResponse(resp Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("failed to marshal response: %w", err)
	}

	if _, err := cp.writer.Write(data); err != nil {
		return fmt.Errorf("failed to write response: %w", err)
	}

	if err := cp.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return cp.writer.Flush()
}

// SendInitialResponse sends the initial response with capabilities.
func (cp *CacheProg) SendInitialResponse() error {
	return cp.SendResponse(Response{
		ID:            0,
		KnownCommands: []Cmd{CmdLookup, CmdStore, CmdClose},
	})
}

// ReadRequest reads the next request, skipping blank lines.
func (cp *CacheProg) ReadRequest() (*Request, error) {
	var line string
	for {
		if !cp.scanner.Scan() {
			if err := cp.scanner.Err(); err != nil {
				return nil, fmt.Errorf("failed to read request: %w", err)
			}
			return nil, io.EOF
		}

		line = cp.scanner.Text()
		if strings.TrimSpace(line) != "" {
			break
		}
	}

	var req Request
	if err := json.Unmarshal([]byte(line), &req); err != nil {
		return nil, fmt.Errorf("failed to unmarshal request: %w (line: %q)", err, line)
	}
	return &req, nil
}

// HandleRequest processes a single request and sends a response.
func (cp *CacheProg) HandleRequest(ctx context.Context, req *Request) error {
	var resp Response
	resp.ID = req.ID

	switch req.Command {
	case CmdLookup:
		pb, ok := cp.cache.LookupAndOpen(ctx, req.SourceURL)
		if !ok {
			resp.Miss = true
			break
		}
		// The player opens the file itself; only the location is returned.
		pb.Close()
		resp.DiskPath = pb.Path
		resp.PayloadOffset = pb.Offset
		resp.PayloadSize = pb.Size
		resp.Metadata = &pb.Metadata

	case CmdStore:
		if req.Metadata == nil || req.BodyPath == "" {
			resp.Err = "store requires Metadata and BodyPath"
			break
		}
		outcome, err := cp.cache.Store(ctx, *req.Metadata, audiocache.FileStream(req.BodyPath))
		resp.Outcome = string(outcome)
		if err != nil {
			resp.Err = err.Error()
		}

	case CmdClose:
		if err := cp.cache.Close(ctx); err != nil {
			resp.Err = err.Error()
		}
		// Will exit after sending response

	default:
		resp.Err = fmt.Sprintf("unknown command: %s", req.Command)
	}

	return cp.SendResponse(resp)
}

// readResult is one request or read error from the input goroutine.
type readResult struct {
	req *Request
	err error
}

// Run sends the capabilities line and then serves requests until close, end
// of input or cancellation of ctx. On end of input or cancellation the cache
// is closed as if close had been sent.
func (cp *CacheProg) Run(ctx context.Context) error {
	if err := cp.SendInitialResponse(); err != nil {
		return fmt.Errorf("failed to send initial response: %w", err)
	}

	// Reads block on the input, so they run on their own goroutine. It is
	// left blocked if ctx is cancelled first.
	requests := make(chan readResult)
	go func() {
		for {
			req, err := cp.ReadRequest()
			select {
			case requests <- readResult{req: req, err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	for {
		var next readResult
		select {
		case <-ctx.Done():
			cp.logger.Debug("context cancelled, shutting down", "error", ctx.Err())
			return cp.cache.Close(context.WithoutCancel(ctx))
		case next = <-requests:
		}

		req, err := next.req, next.err
		if err == io.EOF {
			cp.logger.Debug("input closed, shutting down")
			return cp.cache.Close(ctx)
		}
		if err != nil {
			return fmt.Errorf("failed to read request: %w", err)
		}

		if err := cp.HandleRequest(ctx, req); err != nil {
			return fmt.Errorf("failed to handle request: %w", err)
		}

		if req.Command == CmdClose {
			return nil
		}
	}
}

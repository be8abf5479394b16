package backends

import (
	"context"
	"fmt"
	"io"
)

// Debug wraps any Backend and adds debug logging.
// This allows any backend implementation to have debug logging without
// coupling the debug logic to the backend implementation.
type Debug struct {
	backend Backend
	out     io.Writer
}

// NewDebug creates a new debug wrapper around an existing backend that writes
// its trace to out.
func NewDebug(backend Backend, out io.Writer) *Debug {
	return &Debug{
		backend: backend,
		out:     out,
	}
}

// Load reads the stored index with debug logging.
func (d *Debug) Load(ctx context.Context) (map[string]string, error) {
	fmt.Fprintf(d.out, "[DEBUG] Load\n")

	entries, err := d.backend.Load(ctx)
	if err != nil {
		fmt.Fprintf(d.out, "[DEBUG] Load: ERROR: %v\n", err)
		return entries, err
	}

	fmt.Fprintf(d.out, "[DEBUG] Load: %d entries\n", len(entries))
	return entries, nil
}

// Insert records a mapping with debug logging.
func (d *Debug) Insert(ctx context.Context, sourceURL, path string) error {
	fmt.Fprintf(d.out, "[DEBUG] Insert: source=%s, path=%s\n", sourceURL, path)

	err := d.backend.Insert(ctx, sourceURL, path)
	if err != nil {
		fmt.Fprintf(d.out, "[DEBUG] Insert: ERROR: %v\n", err)
	}
	return err
}

// Remove deletes a mapping with debug logging.
func (d *Debug) Remove(ctx context.Context, sourceURL string) error {
	fmt.Fprintf(d.out, "[DEBUG] Remove: source=%s\n", sourceURL)

	err := d.backend.Remove(ctx, sourceURL)
	if err != nil {
		fmt.Fprintf(d.out, "[DEBUG] Remove: ERROR: %v\n", err)
	}
	return err
}

// Save writes a snapshot with debug logging.
func (d *Debug) Save(ctx context.Context, entries map[string]string) error {
	fmt.Fprintf(d.out, "[DEBUG] Save: %d entries\n", len(entries))

	err := d.backend.Save(ctx, entries)
	if err != nil {
		fmt.Fprintf(d.out, "[DEBUG] Save: ERROR: %v\n", err)
		return err
	}

	fmt.Fprintf(d.out, "[DEBUG] Save: snapshot written\n")
	return nil
}

func (d *Debug) Transactional() bool {
	return d.backend.Transactional()
}

// Close performs cleanup operations with debug logging.
func (d *Debug) Close() error {
	fmt.Fprintf(d.out, "[DEBUG] Close: closing backend\n")

	err := d.backend.Close()

	if err != nil {
		fmt.Fprintf(d.out, "[DEBUG] Close: ERROR: %v\n", err)
	}

	return err
}

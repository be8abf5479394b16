package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/richardartoul/voicecache/pkg/audiocache"
	"github.com/richardartoul/voicecache/pkg/config"
	"github.com/richardartoul/voicecache/pkg/index"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect FILE",
	Short: "Print the decoded header of an artifact",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pb, err := audiocache.OpenArtifact(args[0])
		if err != nil {
			return fmt.Errorf("failed to open artifact: %w", err)
		}
		defer pb.Close()

		return printInspect(cmd.OutOrStdout(), pb)
	},
}

func printInspect(w io.Writer, pb *audiocache.Playback) error {
	data, err := json.MarshalIndent(pb.Header, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(w, string(data))
	fmt.Fprintf(w, "payload: offset=%d size=%s (%d bytes)\n", pb.Offset, humanize.Bytes(uint64(pb.Size)), pb.Size)
	return nil
}

var lsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List index entries with their artifact sizes",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		ix, err := openIndex(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer ix.Close()

		return listEntries(cmd.OutOrStdout(), cfg, ix.Entries())
	},
}

func listEntries(w io.Writer, cfg config.Config, entries []index.Entry) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SIZE\tPATH\tSOURCE")

	var total uint64
	for _, e := range entries {
		size := "missing"
		if info, err := os.Stat(cfg.ArtifactPath(e.Path)); err == nil {
			size = humanize.Bytes(uint64(info.Size()))
			total += uint64(info.Size())
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", size, e.Path, e.SourceURL)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "%d entries, %s\n", len(entries), humanize.Bytes(total))
	return nil
}

var verifyEvict bool

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Decode every indexed artifact and report broken ones",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		ix, err := openIndex(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer ix.Close()

		broken, err := verifyEntries(ctx, cfg, ix.Entries())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, b := range broken {
			fmt.Fprintf(out, "%s\t%s\t%v\n", b.Path, b.SourceURL, b.err)
		}

		if len(broken) == 0 {
			fmt.Fprintf(out, "all %d artifacts ok\n", ix.Len())
			return nil
		}
		if !verifyEvict {
			return fmt.Errorf("%d of %d artifacts are broken", len(broken), ix.Len())
		}

		for _, b := range broken {
			if err := ix.Remove(ctx, b.SourceURL); err != nil {
				return err
			}
		}
		if err := ix.Persist(ctx); err != nil {
			return err
		}
		fmt.Fprintf(out, "evicted %d entries\n", len(broken))
		return nil
	},
}

type brokenEntry struct {
	index.Entry
	err error
}

// verifyEntries opens every artifact concurrently and returns those that are
// missing or fail to decode.
func verifyEntries(ctx context.Context, cfg config.Config, entries []index.Entry) ([]brokenEntry, error) {
	var (
		mu     sync.Mutex
		broken []brokenEntry
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.CopyWorkers)
	for _, e := range entries {
		e := e
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			pb, err := audiocache.OpenArtifact(cfg.ArtifactPath(e.Path))
			if err != nil {
				mu.Lock()
				broken = append(broken, brokenEntry{Entry: e, err: err})
				mu.Unlock()
				return nil
			}
			return pb.Close()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return broken, nil
}

var migrateTo string

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Copy the index to another backend",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg, logger, err := setup()
		if err != nil {
			return err
		}

		n, err := migrateIndex(ctx, cfg, migrateTo, logger)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "migrated %d entries from %s to %s\n", n, cfg.Index.Backend, migrateTo)
		return nil
	},
}

// migrateIndex copies every entry of the configured backend into the backend
// named by to.
func migrateIndex(ctx context.Context, cfg config.Config, to string, logger *slog.Logger) (int, error) {
	if to == cfg.Index.Backend {
		return 0, fmt.Errorf("index is already stored in %s", to)
	}

	src, err := audiocache.OpenBackend(ctx, cfg, cfg.Index.Backend, logger)
	if err != nil {
		return 0, err
	}
	defer src.Close()
	entries, err := src.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load source index: %w", err)
	}

	dst, err := audiocache.OpenBackend(ctx, cfg, to, logger)
	if err != nil {
		return 0, err
	}
	defer dst.Close()

	if !dst.Transactional() {
		if err := dst.Save(ctx, entries); err != nil {
			return 0, err
		}
		return len(entries), nil
	}
	for sourceURL, path := range entries {
		if err := dst.Insert(ctx, sourceURL, path); err != nil {
			return 0, err
		}
	}
	return len(entries), nil
}

// openIndex loads the configured index without starting a cache. Commands
// that only read never persist it.
func openIndex(ctx context.Context, cfg config.Config, logger *slog.Logger) (*index.Index, error) {
	backend, err := audiocache.OpenBackend(ctx, cfg, cfg.Index.Backend, logger)
	if err != nil {
		return nil, err
	}
	return index.Load(ctx, backend, logger), nil
}

func init() {
	verifyCmd.Flags().BoolVar(&verifyEvict, "evict", false, "remove broken entries from the index")
	migrateCmd.Flags().StringVar(&migrateTo, "to", "", "target backend: file, sqlite or s3")
	migrateCmd.MarkFlagRequired("to")
}

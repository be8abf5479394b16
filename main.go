package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/richardartoul/voicecache/pkg/audiocache"
	"github.com/richardartoul/voicecache/pkg/config"
	"github.com/spf13/cobra"
)

var (
	configPath string
	debug      bool
)

var rootCmd = &cobra.Command{
	Use:   "voicecache",
	Short: "On-disk cache for voice playback audio",
	Long: "voicecache stores finished Opus streams as DCA1 artifacts keyed by source URL, " +
		"so repeated requests for the same track are played from disk.",
	SilenceUsage: true,
}

var metricsAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve lookups and stores as JSON lines on stdin/stdout",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg, logger, err := setup()
		if err != nil {
			return err
		}

		cache, err := audiocache.Open(ctx, cfg, logger, prometheus.DefaultRegisterer)
		if err != nil {
			return err
		}

		// HTTP endpoint for Prometheus scraping
		var httpServer *http.Server
		if metricsAddr != "" {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			httpServer = &http.Server{
				Addr:    metricsAddr,
				Handler: mux,
			}
			go func() {
				logger.Info("metrics endpoint started", "addr", metricsAddr)
				if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Error("metrics server error", "error", err)
				}
			}()
		}

		prog := NewCacheProg(cache, os.Stdin, os.Stdout, logger)
		runErr := prog.Run(ctx)
		if runErr != nil {
			cache.Close(context.WithoutCancel(ctx))
		}

		if httpServer != nil {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			httpServer.Shutdown(shutdownCtx)
		}
		return runErr
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	serveCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "HTTP listen address for /metrics; disabled when empty")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(lsCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(migrateCmd)
}

// setup loads the configuration and builds the logger every command uses.
// Logs go to stderr; stdout belongs to the command's output.
func setup() (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, nil, err
	}
	if debug {
		cfg.LogLevel = "debug"
	}

	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("failed to parse log level: %w", err)
	}
	handler := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Level:           level,
		Prefix:          "voicecache",
	})
	return cfg, slog.New(handler), nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

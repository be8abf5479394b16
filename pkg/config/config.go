// Package config loads voicecache configuration.
//
// Values are layered: built-in defaults, then an optional YAML file, then
// VOICECACHE_* environment variables. The result is validated before use.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Index backend names.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendS3     = "s3"
	BackendNone   = "none"
)

// DefaultMaxDuration is the longest stream that is cached. Anything longer is
// assumed to be radio or live content.
const DefaultMaxDuration = 20 * time.Minute

// Config is the full voicecache configuration.
type Config struct {
	// Root is the cache root directory. Artifacts live in per-host
	// subdirectories below it.
	Root string `yaml:"root" env:"ROOT"`

	// MaxDuration is the eligibility ceiling for caching a finished stream.
	MaxDuration time.Duration `yaml:"max_duration" env:"MAX_DURATION"`

	// CacheUnknownDuration allows caching streams that did not report a
	// duration. Off by default: such streams are usually live.
	CacheUnknownDuration bool `yaml:"cache_unknown_duration" env:"CACHE_UNKNOWN_DURATION"`

	// SerializeWrites makes concurrent writes for the same source wait for
	// each other, so only the first one writes an artifact.
	SerializeWrites bool `yaml:"serialize_writes" env:"SERIALIZE_WRITES"`

	// CopyWorkers bounds the number of artifact copies running at once.
	CopyWorkers int `yaml:"copy_workers" env:"COPY_WORKERS"`

	// EvictCorrupt removes index entries whose artifact fails to decode.
	EvictCorrupt bool `yaml:"evict_corrupt" env:"EVICT_CORRUPT"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL"`

	Index IndexConfig `yaml:"index" envPrefix:"INDEX_"`
}

// IndexConfig selects and configures the index backing store.
type IndexConfig struct {
	Backend string `yaml:"backend" env:"BACKEND"`

	// File is the flat index path. Relative paths are resolved against Root.
	File string `yaml:"file" env:"FILE"`

	// SQLitePath is the database path. Relative paths are resolved against Root.
	SQLitePath string `yaml:"sqlite_path" env:"SQLITE_PATH"`

	S3 S3Config `yaml:"s3" envPrefix:"S3_"`

	// Debug traces every backend call to stderr.
	Debug bool `yaml:"debug" env:"DEBUG"`
}

type S3Config struct {
	Bucket    string `yaml:"bucket" env:"BUCKET"`
	Key       string `yaml:"key" env:"KEY"`
	Region    string `yaml:"region" env:"REGION"`
	Endpoint  string `yaml:"endpoint" env:"ENDPOINT"`
	PathStyle bool   `yaml:"path_style" env:"PATH_STYLE"`
}

// Default returns the built-in configuration: a file-backed index under
// ./audio_cache.
func Default() Config {
	return Config{
		Root:            "audio_cache",
		MaxDuration:     DefaultMaxDuration,
		SerializeWrites: true,
		CopyWorkers:     4,
		LogLevel:        "info",
		Index: IndexConfig{
			Backend:    BackendFile,
			File:       "cold.json",
			SQLitePath: "cache.db",
			S3:         S3Config{Key: "voicecache/cold.json"},
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path (if path
// is non-empty), and the environment.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "VOICECACHE_"}); err != nil {
		return Config{}, fmt.Errorf("failed to parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	var errs []error
	if c.Root == "" {
		errs = append(errs, errors.New("root must be set"))
	}
	if c.MaxDuration <= 0 {
		errs = append(errs, fmt.Errorf("max_duration must be positive, got %v", c.MaxDuration))
	}
	if c.CopyWorkers <= 0 {
		errs = append(errs, fmt.Errorf("copy_workers must be positive, got %d", c.CopyWorkers))
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("unknown log_level %q", c.LogLevel))
	}
	switch c.Index.Backend {
	case BackendFile, BackendSQLite, BackendNone:
	case BackendS3:
		if c.Index.S3.Bucket == "" || c.Index.S3.Key == "" {
			errs = append(errs, errors.New("index.s3.bucket and index.s3.key are required for the s3 backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown index.backend %q", c.Index.Backend))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// IndexFilePath returns the flat index path, resolved against Root.
func (c Config) IndexFilePath() string {
	return c.underRoot(c.Index.File)
}

// SQLitePath returns the database path, resolved against Root.
func (c Config) SQLitePath() string {
	return c.underRoot(c.Index.SQLitePath)
}

// ArtifactPath returns the on-disk path of an artifact given its index path.
func (c Config) ArtifactPath(rel string) string {
	return filepath.Join(c.Root, filepath.FromSlash(rel))
}

func (c Config) underRoot(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.Root, path)
}

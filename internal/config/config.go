// Package config loads runtime settings from an optional TOML file with
// COMMITWATCH_* environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	toml "github.com/pelletier/go-toml/v2"

	"commitwatch/internal/blob"
)

// Storage drivers.
const (
	StorageMemory   = "memory"
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
)

// Metrics backends.
const (
	MetricsPrometheus = "prometheus"
	MetricsExpvar     = "expvar"
)

// JournalNone disables the dispatch journal.
const JournalNone = "none"

// Config is the full runtime configuration.
type Config struct {
	Storage  StorageConfig  `toml:"storage"`
	Log      LogConfig      `toml:"log"`
	Dispatch DispatchConfig `toml:"dispatch"`
	Metrics  MetricsConfig  `toml:"metrics"`
	Journal  JournalConfig  `toml:"journal"`
}

// StorageConfig selects the host record store.
type StorageConfig struct {
	Driver      string `toml:"driver"`
	SQLitePath  string `toml:"sqlite_path"`
	PostgresDSN string `toml:"postgres_dsn"`
}

// LogConfig configures the zerolog adapter.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// DispatchConfig tunes the dispatcher.
type DispatchConfig struct {
	// MaxDepth bounds nested dispatch cycles; zero is unbounded.
	MaxDepth int `toml:"max_depth"`
}

// MetricsConfig configures the engine metrics recorder.
type MetricsConfig struct {
	Enabled   bool   `toml:"enabled"`
	Backend   string `toml:"backend"`
	Namespace string `toml:"namespace"`
}

// JournalConfig selects where dispatched changes are journaled.
type JournalConfig struct {
	Driver string   `toml:"driver"`
	FSRoot string   `toml:"fs_root"`
	Prefix string   `toml:"prefix"`
	S3     S3Config `toml:"s3"`
}

// S3Config addresses the journal bucket.
type S3Config struct {
	Bucket    string `toml:"bucket"`
	Region    string `toml:"region"`
	Endpoint  string `toml:"endpoint"`
	PathStyle bool   `toml:"path_style"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Storage:  StorageConfig{Driver: StorageMemory, SQLitePath: "commitwatch.db"},
		Log:      LogConfig{Level: "info", Format: "console"},
		Metrics:  MetricsConfig{Backend: MetricsPrometheus, Namespace: "commitwatch"},
		Journal:  JournalConfig{Driver: JournalNone, FSRoot: "./journal", Prefix: "cycles"},
		Dispatch: DispatchConfig{},
	}
}

// Load reads path (skipped when empty) over the defaults, applies the
// environment and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type lookupFunc func(string) (string, bool)

func applyEnv(cfg *Config, lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("COMMITWATCH_STORAGE_DRIVER", &cfg.Storage.Driver)
	str("COMMITWATCH_SQLITE_PATH", &cfg.Storage.SQLitePath)
	str("COMMITWATCH_POSTGRES_DSN", &cfg.Storage.PostgresDSN)
	str("COMMITWATCH_LOG_LEVEL", &cfg.Log.Level)
	str("COMMITWATCH_LOG_FORMAT", &cfg.Log.Format)
	str("COMMITWATCH_METRICS_BACKEND", &cfg.Metrics.Backend)
	str("COMMITWATCH_METRICS_NAMESPACE", &cfg.Metrics.Namespace)
	str("COMMITWATCH_JOURNAL_DRIVER", &cfg.Journal.Driver)
	str("COMMITWATCH_JOURNAL_FS_ROOT", &cfg.Journal.FSRoot)
	str("COMMITWATCH_JOURNAL_PREFIX", &cfg.Journal.Prefix)
	str("COMMITWATCH_JOURNAL_S3_BUCKET", &cfg.Journal.S3.Bucket)
	str("COMMITWATCH_JOURNAL_S3_REGION", &cfg.Journal.S3.Region)
	str("COMMITWATCH_JOURNAL_S3_ENDPOINT", &cfg.Journal.S3.Endpoint)

	if v, ok := lookup("COMMITWATCH_DISPATCH_MAX_DEPTH"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("COMMITWATCH_DISPATCH_MAX_DEPTH: %w", err)
		}
		cfg.Dispatch.MaxDepth = n
	}
	if v, ok := lookup("COMMITWATCH_METRICS_ENABLED"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("COMMITWATCH_METRICS_ENABLED: %w", err)
		}
		cfg.Metrics.Enabled = b
	}
	if v, ok := lookup("COMMITWATCH_JOURNAL_S3_PATH_STYLE"); ok && v != "" {
		cfg.Journal.S3.PathStyle = strings.EqualFold(v, "true")
	}
	return nil
}

// Validate rejects unknown drivers and out-of-range values.
func (c Config) Validate() error {
	switch c.Storage.Driver {
	case StorageMemory, StorageSQLite, StoragePostgres:
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.Dispatch.MaxDepth < 0 {
		return fmt.Errorf("dispatch.max_depth must not be negative, got %d", c.Dispatch.MaxDepth)
	}
	switch c.Metrics.Backend {
	case MetricsPrometheus, MetricsExpvar:
	default:
		return fmt.Errorf("unknown metrics backend %q", c.Metrics.Backend)
	}
	switch blob.Driver(c.Journal.Driver) {
	case JournalNone, blob.DriverMemory, blob.DriverFilesystem:
	case blob.DriverS3:
		if c.Journal.S3.Bucket == "" {
			return fmt.Errorf("journal.s3.bucket required for s3 journal")
		}
	default:
		return fmt.Errorf("unknown journal driver %q", c.Journal.Driver)
	}
	return nil
}

// JournalEnabled reports whether a journal driver is configured.
func (c Config) JournalEnabled() bool {
	return c.Journal.Driver != "" && c.Journal.Driver != JournalNone
}

// BlobConfig maps the journal settings onto a blob backend configuration.
// AWS credentials come from the default chain.
func (c Config) BlobConfig() blob.Config {
	return blob.Config{
		Driver: blob.Driver(c.Journal.Driver),
		FSRoot: c.Journal.FSRoot,
		S3: blob.S3Config{
			Bucket:    c.Journal.S3.Bucket,
			Region:    c.Journal.S3.Region,
			Endpoint:  c.Journal.S3.Endpoint,
			PathStyle: c.Journal.S3.PathStyle,
		},
	}
}

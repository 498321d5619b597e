// Package config loads and validates exporter configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/JakeFAU/icp-exporter/internal/icp"
)

// EnvPrefix namespaces environment overrides, e.g. ICP_RUN_THREADS=8.
const EnvPrefix = "ICP"

// Config captures every knob loaded via Viper.
type Config struct {
	Run      RunConfig      `mapstructure:"run"`
	Upstream UpstreamConfig `mapstructure:"upstream"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Sink     SinkConfig     `mapstructure:"sink"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Server   ServerConfig   `mapstructure:"server"`
	Progress ProgressConfig `mapstructure:"progress"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// RunConfig is the export request. Dates use YYYYMMDD.
type RunConfig struct {
	Start    string `mapstructure:"start"`
	End      string `mapstructure:"end"`
	Province string `mapstructure:"province"`
	Threads  int    `mapstructure:"threads"`
}

// UpstreamConfig points at the registration service and sets the retry budget.
type UpstreamConfig struct {
	ExportURL        string `mapstructure:"export_url"`
	QueryURL         string `mapstructure:"query_url"`
	MaxAttempts      int    `mapstructure:"max_attempts"`
	BackoffInitialMs int    `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int    `mapstructure:"backoff_max_ms"`
}

// HTTPConfig configures the fetcher.
type HTTPConfig struct {
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	UserAgent      string  `mapstructure:"user_agent"`
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

// Sink kinds.
const (
	SinkSQLite   = "sqlite"
	SinkPostgres = "postgres"
	SinkFile     = "file"
	SinkMemory   = "memory"
)

// SinkConfig selects where records are persisted.
type SinkConfig struct {
	Kind     string         `mapstructure:"kind"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	File     FileConfig     `mapstructure:"file"`
}

// SQLiteConfig locates the SQLite database.
type SQLiteConfig struct {
	Path  string `mapstructure:"path"`
	Table string `mapstructure:"table"`
}

// PostgresConfig controls the Postgres sink and run store.
type PostgresConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// FileConfig controls the flat-file sink.
type FileConfig struct {
	Path     string `mapstructure:"path"`
	Format   string `mapstructure:"format"`
	Encoding string `mapstructure:"encoding"`
}

// Archive kinds.
const (
	ArchiveNone   = "none"
	ArchiveLocal  = "local"
	ArchiveGCS    = "gcs"
	ArchiveMemory = "memory"
)

// ArchiveConfig controls raw payload archival.
type ArchiveConfig struct {
	Kind      string `mapstructure:"kind"`
	Prefix    string `mapstructure:"prefix"`
	LocalDir  string `mapstructure:"local_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
}

// PubSubConfig holds the run summary destination. Empty TopicName disables it.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ServerConfig controls the status server. Port 0 disables it.
type ServerConfig struct {
	Port                  int    `mapstructure:"port"`
	APIKey                string `mapstructure:"api_key"`
	RequestTimeoutSeconds int    `mapstructure:"request_timeout_seconds"`
}

// Progress stores.
const (
	ProgressStoreMemory   = "memory"
	ProgressStorePostgres = "postgres"
)

// ProgressConfig tunes the progress hub and where run status is kept.
type ProgressConfig struct {
	Store       string `mapstructure:"store"`
	BufferSize  int    `mapstructure:"buffer_size"`
	BatchEvents int    `mapstructure:"batch_events"`
	BatchWaitMs int    `mapstructure:"batch_wait_ms"`
	Prometheus  bool   `mapstructure:"prometheus"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from an optional file and the environment.
func Load(path string) (Config, error) {
	return LoadWith(viper.New(), path)
}

// LoadWith is Load on a caller-supplied Viper, typically one with CLI flags
// already bound. A .env file in the working directory is applied first;
// variables already set in the environment win.
func LoadWith(v *viper.Viper, path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("run.start", "")
	v.SetDefault("run.end", "")
	v.SetDefault("run.province", "")
	v.SetDefault("run.threads", 4)
	v.SetDefault("upstream.export_url", "http://icp.chinaz.com/saveExc.ashx")
	v.SetDefault("upstream.query_url", "http://icp.chinaz.com/conditions")
	v.SetDefault("upstream.max_attempts", icp.DefaultMaxAttempts)
	v.SetDefault("upstream.backoff_initial_ms", 0)
	v.SetDefault("upstream.backoff_max_ms", 0)
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.user_agent", "icp-exporter/0.1")
	v.SetDefault("http.rate_limit_rps", 0)
	v.SetDefault("http.rate_limit_burst", 1)
	v.SetDefault("sink.kind", SinkSQLite)
	v.SetDefault("sink.sqlite.path", "data/icp.db")
	v.SetDefault("sink.sqlite.table", "icp_records")
	v.SetDefault("sink.postgres.dsn", "")
	v.SetDefault("sink.postgres.table", "icp_records")
	v.SetDefault("sink.postgres.max_conns", 4)
	v.SetDefault("sink.file.path", "data/icp.csv")
	v.SetDefault("sink.file.format", "")
	v.SetDefault("sink.file.encoding", "utf-8")
	v.SetDefault("archive.kind", ArchiveNone)
	v.SetDefault("archive.prefix", "raw")
	v.SetDefault("archive.local_dir", "data/archive")
	v.SetDefault("archive.gcs_bucket", "")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("server.port", 0)
	v.SetDefault("server.api_key", "")
	v.SetDefault("server.request_timeout_seconds", 30)
	v.SetDefault("progress.store", ProgressStoreMemory)
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.batch_events", 256)
	v.SetDefault("progress.batch_wait_ms", 500)
	v.SetDefault("progress.prometheus", true)
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits. Failures wrap
// icp.ErrConfig. Run dates are parsed here so a bad range fails before any
// sink, database or Pub/Sub client is opened. start after end is allowed and
// yields an empty run.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(validDate(c.Run.Start), "run.start %q must be a YYYYMMDD date", c.Run.Start)
	check(validDate(c.Run.End), "run.end %q must be a YYYYMMDD date", c.Run.End)
	check(c.Run.Threads > 0, "run.threads must be > 0")
	check(c.Upstream.ExportURL != "", "upstream.export_url is required")
	check(c.Upstream.QueryURL != "", "upstream.query_url is required")
	check(c.Upstream.MaxAttempts > 0, "upstream.max_attempts must be > 0")
	check(c.Upstream.BackoffInitialMs >= 0 && c.Upstream.BackoffMaxMs >= 0, "upstream backoff must be >= 0")
	check(c.HTTP.TimeoutSeconds > 0, "http.timeout_seconds must be > 0")
	check(c.HTTP.RateLimitRPS >= 0, "http.rate_limit_rps must be >= 0")
	check(c.Server.Port >= 0 && c.Server.Port <= 65535, "server.port must be within 0-65535")

	switch c.Sink.Kind {
	case SinkSQLite:
		check(c.Sink.SQLite.Path != "", "sink.sqlite.path is required")
	case SinkPostgres:
		check(c.Sink.Postgres.DSN != "", "sink.postgres.dsn is required")
	case SinkFile:
		check(c.Sink.File.Path != "", "sink.file.path is required")
	case SinkMemory:
	default:
		check(false, "sink.kind %q is not one of sqlite, postgres, file, memory", c.Sink.Kind)
	}

	switch c.Archive.Kind {
	case "", ArchiveNone, ArchiveMemory:
	case ArchiveLocal:
		check(c.Archive.LocalDir != "", "archive.local_dir is required")
	case ArchiveGCS:
		check(c.Archive.GCSBucket != "", "archive.gcs_bucket is required")
	default:
		check(false, "archive.kind %q is not one of none, local, gcs, memory", c.Archive.Kind)
	}

	check(c.PubSub.TopicName == "" || c.PubSub.ProjectID != "", "pubsub.project_id is required when pubsub.topic_name is set")

	switch c.Progress.Store {
	case ProgressStoreMemory:
	case ProgressStorePostgres:
		check(c.Sink.Postgres.DSN != "", "sink.postgres.dsn is required for the postgres progress store")
	default:
		check(false, "progress.store %q is not one of memory, postgres", c.Progress.Store)
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", icp.ErrConfig, errors.Join(errs...))
}

func validDate(v string) bool {
	_, err := time.ParseInLocation(icp.InputLayout, v, time.UTC)
	return err == nil
}

// RetryPolicy builds the per-request retry policy.
func (c Config) RetryPolicy() *icp.RetryPolicy {
	return icp.NewRetryPolicy(
		c.Upstream.MaxAttempts,
		time.Duration(c.Upstream.BackoffInitialMs)*time.Millisecond,
		time.Duration(c.Upstream.BackoffMaxMs)*time.Millisecond,
	)
}

// RequestTimeout converts http.timeout_seconds to a duration.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ligustah/ccsift/internal/curate"
	"github.com/ligustah/ccsift/internal/progress"
	"github.com/ligustah/ccsift/internal/sink"
)

// DefaultBaseURL is the public Common Crawl data host.
const DefaultBaseURL = "https://data.commoncrawl.org/"

// Config defines configuration for the ccsift CLI.
type Config struct {
	BaseURL       string           `yaml:"base_url"`
	Paths         string           `yaml:"paths"`
	Bucket        string           `yaml:"bucket"`
	Object        string           `yaml:"object"`
	Language      string           `yaml:"language"`
	Format        string           `yaml:"format"`
	Encodings     []string         `yaml:"encodings"`
	LogLevel      string           `yaml:"log_level"`
	Progress      bool             `yaml:"progress"`
	Force         bool             `yaml:"force"`
	StateInterval int              `yaml:"state_interval"`
	Download      DownloadConfig   `yaml:"download"`
	Decompress    DecompressConfig `yaml:"decompress"`
	HTTP          HTTPConfig       `yaml:"http"`
	Retry         RetryConfig      `yaml:"retry"`
	Curation      curate.Options   `yaml:"curation"`
	Postgres      PostgresConfig   `yaml:"postgres"`
}

// DownloadConfig controls how segments are fetched.
type DownloadConfig struct {
	Ranged      bool  `yaml:"ranged"`
	ChunkSize   int64 `yaml:"chunk_size"`
	Concurrency int   `yaml:"concurrency"`
	QueueSize   int   `yaml:"queue_size"`
	Strict      bool  `yaml:"strict"`
}

// DecompressConfig selects the decompressor. An empty command uses the
// in-process gzip reader.
type DecompressConfig struct {
	Command []string `yaml:"command"`
}

// HTTPConfig configures the HTTP client.
type HTTPConfig struct {
	Timeout       time.Duration `yaml:"timeout"`
	RetryAttempts int           `yaml:"retry_attempts"`
	RateLimit     float64       `yaml:"rate_limit"`
	RateBurst     int           `yaml:"rate_burst"`
	UserAgent     string        `yaml:"user_agent"`
}

// RetryConfig defines per-segment retry behavior.
type RetryConfig struct {
	Attempts   int           `yaml:"attempts"`
	Backoff    time.Duration `yaml:"backoff"`
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// PostgresConfig enables the optional Postgres mirror when DSN is set.
type PostgresConfig struct {
	DSN   string `yaml:"dsn"`
	Table string `yaml:"table"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		BaseURL:       DefaultBaseURL,
		Language:      "ja",
		Format:        string(sink.FormatJSONL),
		LogLevel:      "info",
		StateInterval: 10,
		Download: DownloadConfig{
			Ranged:      true,
			Concurrency: 100,
			QueueSize:   10000,
		},
		HTTP: HTTPConfig{
			RateBurst: 1,
			UserAgent: "ccsift/1.0",
		},
		Retry: RetryConfig{
			Attempts:   3,
			Backoff:    time.Second,
			MaxBackoff: 30 * time.Second,
		},
		Curation: curate.DefaultOptions(),
		Postgres: PostgresConfig{
			Table: "units",
		},
	}
}

// yamlConfig is used for YAML unmarshaling with string sizes and durations.
type yamlConfig struct {
	BaseURL       string         `yaml:"base_url"`
	Paths         string         `yaml:"paths"`
	Bucket        string         `yaml:"bucket"`
	Object        string         `yaml:"object"`
	Language      string         `yaml:"language"`
	Format        string         `yaml:"format"`
	Encodings     []string       `yaml:"encodings"`
	LogLevel      string         `yaml:"log_level"`
	Progress      bool           `yaml:"progress"`
	Force         bool           `yaml:"force"`
	StateInterval int            `yaml:"state_interval"`
	Download      yamlDownload   `yaml:"download"`
	Decompress    yamlDecompress `yaml:"decompress"`
	HTTP          yamlHTTP       `yaml:"http"`
	Retry         yamlRetry      `yaml:"retry"`
	Curation      curate.Options `yaml:"curation"`
	Postgres      PostgresConfig `yaml:"postgres"`
}

type yamlDownload struct {
	Ranged      *bool  `yaml:"ranged"`
	ChunkSize   string `yaml:"chunk_size"`
	Concurrency int    `yaml:"concurrency"`
	QueueSize   int    `yaml:"queue_size"`
	Strict      bool   `yaml:"strict"`
}

// yamlDecompress accepts the command as a list or a single string.
type yamlDecompress struct {
	Command yaml.Node `yaml:"command"`
}

type yamlHTTP struct {
	Timeout       string  `yaml:"timeout"`
	RetryAttempts int     `yaml:"retry_attempts"`
	RateLimit     float64 `yaml:"rate_limit"`
	RateBurst     int     `yaml:"rate_burst"`
	UserAgent     string  `yaml:"user_agent"`
}

type yamlRetry struct {
	Attempts   int    `yaml:"attempts"`
	Backoff    string `yaml:"backoff"`
	MaxBackoff string `yaml:"max_backoff"`
}

// LoadFromFile loads configuration from a YAML file. Unset fields keep
// their defaults.
func LoadFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	yc := yamlConfig{Curation: cfg.Curation}
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}

	if yc.BaseURL != "" {
		cfg.BaseURL = yc.BaseURL
	}
	if yc.Paths != "" {
		cfg.Paths = yc.Paths
	}
	if yc.Bucket != "" {
		cfg.Bucket = yc.Bucket
	}
	if yc.Object != "" {
		cfg.Object = yc.Object
	}
	if yc.Format != "" {
		cfg.Format = yc.Format
	}
	if len(yc.Encodings) > 0 {
		cfg.Encodings = yc.Encodings
	}
	if yc.LogLevel != "" {
		cfg.LogLevel = yc.LogLevel
	}
	cfg.Progress = yc.Progress
	cfg.Force = yc.Force
	if yc.StateInterval != 0 {
		cfg.StateInterval = yc.StateInterval
	}

	if yc.Download.Ranged != nil {
		cfg.Download.Ranged = *yc.Download.Ranged
	}
	if yc.Download.ChunkSize != "" {
		size, err := progress.ParseBytes(yc.Download.ChunkSize)
		if err != nil {
			return Config{}, fmt.Errorf("parse download.chunk_size: %w", err)
		}
		cfg.Download.ChunkSize = size
	}
	if yc.Download.Concurrency != 0 {
		cfg.Download.Concurrency = yc.Download.Concurrency
	}
	if yc.Download.QueueSize != 0 {
		cfg.Download.QueueSize = yc.Download.QueueSize
	}
	cfg.Download.Strict = yc.Download.Strict

	switch yc.Decompress.Command.Kind {
	case yaml.ScalarNode:
		cfg.Decompress.Command = strings.Fields(yc.Decompress.Command.Value)
	case yaml.SequenceNode:
		if err := yc.Decompress.Command.Decode(&cfg.Decompress.Command); err != nil {
			return Config{}, fmt.Errorf("parse decompress.command: %w", err)
		}
	}

	if yc.HTTP.Timeout != "" {
		d, err := time.ParseDuration(yc.HTTP.Timeout)
		if err != nil {
			return Config{}, fmt.Errorf("parse http.timeout: %w", err)
		}
		cfg.HTTP.Timeout = d
	}
	if yc.HTTP.RetryAttempts != 0 {
		cfg.HTTP.RetryAttempts = yc.HTTP.RetryAttempts
	}
	if yc.HTTP.RateLimit != 0 {
		cfg.HTTP.RateLimit = yc.HTTP.RateLimit
	}
	if yc.HTTP.RateBurst != 0 {
		cfg.HTTP.RateBurst = yc.HTTP.RateBurst
	}
	if yc.HTTP.UserAgent != "" {
		cfg.HTTP.UserAgent = yc.HTTP.UserAgent
	}

	if yc.Retry.Attempts != 0 {
		cfg.Retry.Attempts = yc.Retry.Attempts
	}
	if yc.Retry.Backoff != "" {
		d, err := time.ParseDuration(yc.Retry.Backoff)
		if err != nil {
			return Config{}, fmt.Errorf("parse retry.backoff: %w", err)
		}
		cfg.Retry.Backoff = d
	}
	if yc.Retry.MaxBackoff != "" {
		d, err := time.ParseDuration(yc.Retry.MaxBackoff)
		if err != nil {
			return Config{}, fmt.Errorf("parse retry.max_backoff: %w", err)
		}
		cfg.Retry.MaxBackoff = d
	}

	cfg.Curation = yc.Curation
	if yc.Language != "" {
		cfg.SetLanguage(yc.Language)
	}

	if yc.Postgres.DSN != "" {
		cfg.Postgres.DSN = yc.Postgres.DSN
	}
	if yc.Postgres.Table != "" {
		cfg.Postgres.Table = yc.Postgres.Table
	}

	return cfg, nil
}

// SetLanguage sets the target language for the run and the curation stages.
func (c *Config) SetLanguage(lang string) {
	c.Language = lang
	c.Curation.Language = lang
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the CCSIFT_ prefix.
func (c *Config) LoadFromEnv() error {
	setString(&c.BaseURL, "CCSIFT_BASE_URL")
	setString(&c.Paths, "CCSIFT_PATHS")
	setString(&c.Bucket, "CCSIFT_BUCKET")
	setString(&c.Object, "CCSIFT_OBJECT")
	setString(&c.Format, "CCSIFT_FORMAT")
	setString(&c.LogLevel, "CCSIFT_LOG_LEVEL")
	setString(&c.HTTP.UserAgent, "CCSIFT_USER_AGENT")
	setString(&c.Postgres.DSN, "CCSIFT_POSTGRES_DSN")
	setString(&c.Postgres.Table, "CCSIFT_POSTGRES_TABLE")

	if v := os.Getenv("CCSIFT_LANGUAGE"); v != "" {
		c.SetLanguage(v)
	}
	if v := os.Getenv("CCSIFT_ENCODINGS"); v != "" {
		c.Encodings = splitList(v)
	}
	if v := os.Getenv("CCSIFT_DECOMPRESS_COMMAND"); v != "" {
		c.Decompress.Command = strings.Fields(v)
	}
	if v := os.Getenv("CCSIFT_CHUNK_SIZE"); v != "" {
		size, err := progress.ParseBytes(v)
		if err != nil {
			return fmt.Errorf("parse CCSIFT_CHUNK_SIZE: %w", err)
		}
		c.Download.ChunkSize = size
	}
	if v := os.Getenv("CCSIFT_RATE_LIMIT"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("parse CCSIFT_RATE_LIMIT: %w", err)
		}
		c.HTTP.RateLimit = f
	}

	setBool(&c.Progress, "CCSIFT_PROGRESS")
	setBool(&c.Force, "CCSIFT_FORCE")
	setBool(&c.Download.Ranged, "CCSIFT_RANGED")
	setBool(&c.Download.Strict, "CCSIFT_STRICT")

	return errors.Join(
		setInt(&c.StateInterval, "CCSIFT_STATE_INTERVAL"),
		setInt(&c.Download.Concurrency, "CCSIFT_CONCURRENCY"),
		setInt(&c.Download.QueueSize, "CCSIFT_QUEUE_SIZE"),
		setInt(&c.HTTP.RetryAttempts, "CCSIFT_HTTP_RETRY_ATTEMPTS"),
		setInt(&c.HTTP.RateBurst, "CCSIFT_RATE_BURST"),
		setInt(&c.Retry.Attempts, "CCSIFT_RETRY_ATTEMPTS"),
		setDuration(&c.HTTP.Timeout, "CCSIFT_HTTP_TIMEOUT"),
		setDuration(&c.Retry.Backoff, "CCSIFT_RETRY_BACKOFF"),
		setDuration(&c.Retry.MaxBackoff, "CCSIFT_RETRY_MAX_BACKOFF"),
	)
}

func setString(dst *string, name string) {
	if v := os.Getenv(name); v != "" {
		*dst = v
	}
}

func setBool(dst *bool, name string) {
	if v := os.Getenv(name); v != "" {
		*dst = v == "true" || v == "1"
	}
}

func setInt(dst *int, name string) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("parse %s: %w", name, err)
	}
	*dst = n
	return nil
}

func setDuration(dst *time.Duration, name string) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("parse %s: %w", name, err)
	}
	*dst = d
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate validates the configuration for a run.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return errors.New("config: base_url is required")
	}
	if c.Paths == "" {
		return errors.New("config: paths is required")
	}
	if c.Bucket == "" {
		return errors.New("config: bucket is required")
	}
	if c.Object == "" {
		return errors.New("config: object is required")
	}
	if _, err := sink.ParseFormat(c.Format); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	if c.Download.Concurrency <= 0 {
		return errors.New("config: download.concurrency must be positive")
	}
	if c.Download.ChunkSize < 0 {
		return errors.New("config: download.chunk_size must not be negative")
	}
	if c.Retry.Attempts <= 0 {
		return errors.New("config: retry.attempts must be positive")
	}
	if c.StateInterval <= 0 {
		return errors.New("config: state_interval must be positive")
	}
	if err := c.Curation.Validate(); err != nil {
		return fmt.Errorf("config: curation: %w", err)
	}
	return nil
}

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("config: log_level: %w", err)
	}
	return level, nil
}

// Merge merges override values into c, returning a new Config.
// Zero values in override are ignored, as is the curation section.
func (c Config) Merge(override Config) Config {
	if override.BaseURL != "" {
		c.BaseURL = override.BaseURL
	}
	if override.Paths != "" {
		c.Paths = override.Paths
	}
	if override.Bucket != "" {
		c.Bucket = override.Bucket
	}
	if override.Object != "" {
		c.Object = override.Object
	}
	if override.Language != "" {
		c.SetLanguage(override.Language)
	}
	if override.Format != "" {
		c.Format = override.Format
	}
	if len(override.Encodings) > 0 {
		c.Encodings = override.Encodings
	}
	if override.LogLevel != "" {
		c.LogLevel = override.LogLevel
	}
	if override.Progress {
		c.Progress = override.Progress
	}
	if override.Force {
		c.Force = override.Force
	}
	if override.StateInterval != 0 {
		c.StateInterval = override.StateInterval
	}
	if override.Download.ChunkSize != 0 {
		c.Download.ChunkSize = override.Download.ChunkSize
	}
	if override.Download.Concurrency != 0 {
		c.Download.Concurrency = override.Download.Concurrency
	}
	if override.Download.QueueSize != 0 {
		c.Download.QueueSize = override.Download.QueueSize
	}
	if override.Download.Strict {
		c.Download.Strict = true
	}
	if len(override.Decompress.Command) > 0 {
		c.Decompress.Command = override.Decompress.Command
	}
	if override.HTTP.Timeout != 0 {
		c.HTTP.Timeout = override.HTTP.Timeout
	}
	if override.HTTP.RateLimit != 0 {
		c.HTTP.RateLimit = override.HTTP.RateLimit
	}
	if override.Retry.Attempts != 0 {
		c.Retry.Attempts = override.Retry.Attempts
	}
	if override.Retry.Backoff != 0 {
		c.Retry.Backoff = override.Retry.Backoff
	}
	if override.Retry.MaxBackoff != 0 {
		c.Retry.MaxBackoff = override.Retry.MaxBackoff
	}
	if override.Postgres.DSN != "" {
		c.Postgres.DSN = override.Postgres.DSN
	}
	if override.Postgres.Table != "" {
		c.Postgres.Table = override.Postgres.Table
	}
	return c
}

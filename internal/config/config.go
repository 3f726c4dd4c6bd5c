// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/athlete-results-crawler/internal/crawler"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig          `mapstructure:"server"`
	Auth     AuthConfig            `mapstructure:"auth"`
	Source   SourceConfig          `mapstructure:"source"`
	Fetch    FetchConfig           `mapstructure:"fetch"`
	Headless HeadlessConfig        `mapstructure:"headless"`
	Jobs     JobsConfig            `mapstructure:"jobs"`
	Defaults crawler.JobParameters `mapstructure:"defaults"`
	Limits   LimitsConfig          `mapstructure:"limits"`
	Storage  StorageConfig         `mapstructure:"storage"`
	DB       DBConfig              `mapstructure:"db"`
	PubSub   PubSubConfig          `mapstructure:"pubsub"`
	Logging  LoggingConfig         `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// SourceConfig describes the results site being crawled.
type SourceConfig struct {
	BaseURL    string         `mapstructure:"base_url"`
	UserAgent  string         `mapstructure:"user_agent"`
	CountryIDs map[string]int `mapstructure:"country_ids"`
	// Tours is the option universe offered before any run has observed real tour codes.
	Tours []string `mapstructure:"tours"`
}

// FetchConfig configures transport selection and retry behavior.
type FetchConfig struct {
	Backend        string  `mapstructure:"backend"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	MaxAttempts    int     `mapstructure:"max_attempts"`
	BackoffBaseMs  int     `mapstructure:"backoff_base_ms"`
	BackoffMaxMs   int     `mapstructure:"backoff_max_ms"`
	MaxRPS         float64 `mapstructure:"max_rps"`
	RespectRobots  bool    `mapstructure:"respect_robots"`
}

// HeadlessConfig configures the chromedp transport.
type HeadlessConfig struct {
	MaxParallel   int `mapstructure:"max_parallel"`
	NavTimeoutSec int `mapstructure:"nav_timeout_seconds"`
	// PromotionThreshold is the body size below which script-heavy pages are re-fetched headless
	// when fetch.backend is auto.
	PromotionThreshold int `mapstructure:"promotion_threshold"`
}

// JobsConfig governs job queueing and progress reporting.
type JobsConfig struct {
	Parallel         int `mapstructure:"parallel"`
	QueueDepth       int `mapstructure:"queue_depth"`
	ProgressLogEvery int `mapstructure:"progress_log_every"`
}

// LimitsConfig bounds what clients may request.
type LimitsConfig struct {
	MaxWorkers int `mapstructure:"max_workers"`
}

// StorageConfig selects where checkpoints and dataset artifacts are written.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	DataDir   string `mapstructure:"data_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// DBConfig controls the optional Postgres mirror of heat rows.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features and file rotation.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	File        string `mapstructure:"file"`
	MaxSizeMB   int    `mapstructure:"max_size_mb"`
	MaxBackups  int    `mapstructure:"max_backups"`
	MaxAgeDays  int    `mapstructure:"max_age_days"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
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
	cfg.Source.CountryIDs = upperKeys(cfg.Source.CountryIDs)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("source.base_url", "https://www.worldsurfleague.com")
	v.SetDefault("source.user_agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36")
	v.SetDefault("source.country_ids", map[string]int{"ESP": 208, "BAS": 253, "CAN": 250})
	v.SetDefault("source.tours", []string{"CT", "CS", "QS", "LONGBOARD", "JUNIOR", "BIG-WAVE"})
	v.SetDefault("fetch.backend", "http")
	v.SetDefault("fetch.timeout_seconds", 30)
	v.SetDefault("fetch.max_attempts", 3)
	v.SetDefault("fetch.backoff_base_ms", 500)
	v.SetDefault("fetch.backoff_max_ms", 8000)
	v.SetDefault("fetch.max_rps", 0)
	v.SetDefault("fetch.respect_robots", false)
	v.SetDefault("headless.max_parallel", 2)
	v.SetDefault("headless.nav_timeout_seconds", 45)
	v.SetDefault("headless.promotion_threshold", 2048)
	v.SetDefault("jobs.parallel", 1)
	v.SetDefault("jobs.queue_depth", 16)
	v.SetDefault("jobs.progress_log_every", 5)
	v.SetDefault("defaults.years", []int{2025})
	v.SetDefault("defaults.countries", []string{"ESP", "BAS", "CAN"})
	v.SetDefault("defaults.max_workers", 5)
	v.SetDefault("defaults.request_delay_seconds", 0.5)
	v.SetDefault("limits.max_workers", 32)
	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.data_dir", "data")
	v.SetDefault("db.table", "heat_results")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.max_size_mb", 50)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 28)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if strings.TrimSpace(c.Source.BaseURL) == "" {
		return fmt.Errorf("source.base_url is required")
	}
	switch c.Fetch.Backend {
	case "http", "headless", "auto":
	default:
		return fmt.Errorf("fetch.backend must be http, headless or auto, got %q", c.Fetch.Backend)
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetch.timeout_seconds must be > 0")
	}
	if c.Fetch.MaxAttempts <= 0 {
		return fmt.Errorf("fetch.max_attempts must be > 0")
	}
	if c.Fetch.MaxRPS < 0 {
		return fmt.Errorf("fetch.max_rps must be >= 0")
	}
	if c.Fetch.Backend != "http" && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when the headless backend is selected")
	}
	if c.Jobs.Parallel <= 0 {
		return fmt.Errorf("jobs.parallel must be > 0")
	}
	if c.Jobs.QueueDepth <= 0 {
		return fmt.Errorf("jobs.queue_depth must be > 0")
	}
	if c.Limits.MaxWorkers <= 0 {
		return fmt.Errorf("limits.max_workers must be > 0")
	}
	switch c.Storage.Backend {
	case "local", "memory":
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set when storage.backend is gcs")
		}
	default:
		return fmt.Errorf("storage.backend must be local, gcs or memory, got %q", c.Storage.Backend)
	}
	if strings.TrimSpace(c.Storage.DataDir) == "" {
		return fmt.Errorf("storage.data_dir is required")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// FetchTimeout converts the transport timeout into a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutSeconds) * time.Second
}

// Viper lowercases map keys; country codes are matched upper case everywhere else.
func upperKeys(in map[string]int) map[string]int {
	out := make(map[string]int, len(in))
	for k, v := range in {
		out[strings.ToUpper(k)] = v
	}
	return out
}

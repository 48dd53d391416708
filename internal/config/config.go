// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	Directory DirectoryConfig `mapstructure:"directory"`
	Batch     BatchConfig     `mapstructure:"batch"`
	Limits    LimitsConfig    `mapstructure:"limits"`
	Results   ResultsConfig   `mapstructure:"results"`
	DB        DBConfig        `mapstructure:"db"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                  int `mapstructure:"port"`
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// FetchConfig governs the direct HTTP fetch strategy.
type FetchConfig struct {
	UserAgent      string `mapstructure:"user_agent"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	Parallelism    int    `mapstructure:"parallelism"`
	DomainDelayMs  int    `mapstructure:"domain_delay_ms"`
}

// Timeout returns the fetch timeout as a duration.
func (c FetchConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// DomainDelay returns the per-domain delay as a duration.
func (c FetchConfig) DomainDelay() time.Duration {
	return time.Duration(c.DomainDelayMs) * time.Millisecond
}

// HeadlessConfig configures the rendered fetch strategy.
type HeadlessConfig struct {
	Enabled            bool    `mapstructure:"enabled"`
	MaxParallel        int     `mapstructure:"max_parallel"`
	NavTimeoutSeconds  int     `mapstructure:"nav_timeout_seconds"`
	SettleDelaySeconds int     `mapstructure:"settle_delay_seconds"`
	DomainQPS          float64 `mapstructure:"domain_qps"`
}

// NavTimeout returns the navigation timeout as a duration.
func (c HeadlessConfig) NavTimeout() time.Duration {
	return time.Duration(c.NavTimeoutSeconds) * time.Second
}

// SettleDelay returns the post-navigation settle delay as a duration.
func (c HeadlessConfig) SettleDelay() time.Duration {
	return time.Duration(c.SettleDelaySeconds) * time.Second
}

// DirectoryConfig governs directory crawling.
type DirectoryConfig struct {
	MaxListings int `mapstructure:"max_listings"`
}

// BatchConfig governs orchestration pacing.
type BatchConfig struct {
	ChunkCooldownSeconds int `mapstructure:"chunk_cooldown_seconds"`
}

// ChunkCooldown returns the inter-chunk pause as a duration.
func (c BatchConfig) ChunkCooldown() time.Duration {
	return time.Duration(c.ChunkCooldownSeconds) * time.Second
}

// LimitsConfig feeds the resource governor.
type LimitsConfig struct {
	MaxConcurrentJobs    int     `mapstructure:"max_concurrent_jobs"`
	MaxBatchSize         int     `mapstructure:"max_batch_size"`
	JobTimeoutMinutes    int     `mapstructure:"job_timeout_minutes"`
	MemoryBudgetMB       int     `mapstructure:"memory_budget_mb"`
	MemoryHighWater      float64 `mapstructure:"memory_high_water"`
	SweepIntervalSeconds int     `mapstructure:"sweep_interval_seconds"`
}

// JobTimeout returns the job wall-clock budget as a duration.
func (c LimitsConfig) JobTimeout() time.Duration {
	return time.Duration(c.JobTimeoutMinutes) * time.Minute
}

// SweepInterval returns the watchdog sweep interval as a duration.
func (c LimitsConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

// MemoryBudgetBytes converts the configured budget to bytes.
func (c LimitsConfig) MemoryBudgetBytes() uint64 {
	return uint64(c.MemoryBudgetMB) * 1024 * 1024
}

// ResultsConfig controls where result documents live. GCSBucket is
// optional; when set, completed documents are also archived there.
type ResultsConfig struct {
	Dir       string `mapstructure:"dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	GCSPrefix string `mapstructure:"gcs_prefix"`
}

// DBConfig controls access to Postgres. An empty DSN selects the
// in-memory stores.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// PubSubConfig holds metadata for completion notifications. An empty
// project disables publishing.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SCRAPEX")
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
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 60)
	v.SetDefault("fetch.user_agent",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	v.SetDefault("fetch.timeout_seconds", 15)
	v.SetDefault("fetch.parallelism", 4)
	v.SetDefault("fetch.domain_delay_ms", 500)
	v.SetDefault("headless.enabled", true)
	v.SetDefault("headless.max_parallel", 2)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("headless.settle_delay_seconds", 3)
	v.SetDefault("headless.domain_qps", 0.5)
	v.SetDefault("directory.max_listings", 500)
	v.SetDefault("batch.chunk_cooldown_seconds", 2)
	v.SetDefault("limits.max_concurrent_jobs", 5)
	v.SetDefault("limits.max_batch_size", 50)
	v.SetDefault("limits.job_timeout_minutes", 30)
	v.SetDefault("limits.memory_budget_mb", 2048)
	v.SetDefault("limits.memory_high_water", 0.85)
	v.SetDefault("limits.sweep_interval_seconds", 30)
	v.SetDefault("results.dir", "results")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetch.timeout_seconds must be > 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Limits.MemoryHighWater <= 0 || c.Limits.MemoryHighWater > 1 {
		return fmt.Errorf("limits.memory_high_water must be in (0, 1]")
	}
	if c.Results.Dir == "" {
		return fmt.Errorf("results.dir is required")
	}
	return nil
}

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
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	AI       AIConfig       `mapstructure:"ai"`
	Model    ModelConfig    `mapstructure:"model"`
	DB       DBConfig       `mapstructure:"db"`
	Mongo    MongoConfig    `mapstructure:"mongo"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
	Events   EventsConfig   `mapstructure:"events"`
	Headless HeadlessConfig `mapstructure:"headless"`
	Logging  LoggingConfig  `mapstructure:"logging"`
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

// CrawlerConfig governs the crawl pool and the BFS engine.
type CrawlerConfig struct {
	Workers         int    `mapstructure:"workers"`
	MaxPages        int    `mapstructure:"max_pages"`
	MaxDepth        int    `mapstructure:"max_depth"`
	DelayMs         int    `mapstructure:"delay_ms"`
	TimeoutSeconds  int    `mapstructure:"timeout_seconds"`
	UserAgent       string `mapstructure:"user_agent"`
	QueueDepth      int    `mapstructure:"queue_depth"`
	StallMinutes    int    `mapstructure:"stall_minutes"`
	PollSeconds     int    `mapstructure:"poll_seconds"`
	PollBatch       int    `mapstructure:"poll_batch"`
	DequeueSeconds  int    `mapstructure:"dequeue_seconds"`
	ShutdownSeconds int    `mapstructure:"shutdown_seconds"`
}

// AIConfig governs the extraction pool.
type AIConfig struct {
	Workers         int `mapstructure:"workers"`
	MaxAttempts     int `mapstructure:"max_attempts"`
	QueueDepth      int `mapstructure:"queue_depth"`
	StallMinutes    int `mapstructure:"stall_minutes"`
	PollSeconds     int `mapstructure:"poll_seconds"`
	PollBatch       int `mapstructure:"poll_batch"`
	DequeueSeconds  int `mapstructure:"dequeue_seconds"`
	ShutdownSeconds int `mapstructure:"shutdown_seconds"`
}

// ModelConfig controls the generative model used for extraction.
type ModelConfig struct {
	Name            string  `mapstructure:"name"`
	APIKey          string  `mapstructure:"api_key"`
	Temperature     float32 `mapstructure:"temperature"`
	MaxOutputTokens int32   `mapstructure:"max_output_tokens"`
}

// DBConfig controls access to the relational job/content database.
type DBConfig struct {
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

// MongoConfig controls the extraction-result document store.
type MongoConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

// ArchiveConfig selects the raw HTML snapshot store.
type ArchiveConfig struct {
	Provider    string `mapstructure:"provider"`
	GCSBucket   string `mapstructure:"gcs_bucket"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
}

// EventsConfig selects the lifecycle event publisher. Topic names come
// from the event kinds themselves (crawl.completed and friends).
type EventsConfig struct {
	Provider  string `mapstructure:"provider"`
	ProjectID string `mapstructure:"project_id"`
}

// HeadlessConfig configures the headless rendering fallback.
type HeadlessConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxParallel   int  `mapstructure:"max_parallel"`
	NavTimeoutSec int  `mapstructure:"nav_timeout_seconds"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("COLLEGECRAWLER")
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
	v.SetDefault("crawler.workers", 2)
	v.SetDefault("crawler.max_pages", 100)
	v.SetDefault("crawler.max_depth", 3)
	v.SetDefault("crawler.delay_ms", 1000)
	v.SetDefault("crawler.timeout_seconds", 10)
	v.SetDefault("crawler.user_agent", "CollegeDataCrawler/1.0 (+https://collegedata.example.com)")
	v.SetDefault("crawler.queue_depth", 64)
	v.SetDefault("crawler.stall_minutes", 30)
	v.SetDefault("crawler.poll_seconds", 5)
	v.SetDefault("crawler.poll_batch", 10)
	v.SetDefault("crawler.dequeue_seconds", 5)
	v.SetDefault("crawler.shutdown_seconds", 10)
	v.SetDefault("ai.workers", 1)
	v.SetDefault("ai.max_attempts", 3)
	v.SetDefault("ai.queue_depth", 64)
	v.SetDefault("ai.stall_minutes", 10)
	v.SetDefault("ai.poll_seconds", 5)
	v.SetDefault("ai.poll_batch", 10)
	v.SetDefault("ai.dequeue_seconds", 5)
	v.SetDefault("ai.shutdown_seconds", 10)
	v.SetDefault("model.name", "gemini-1.5-flash")
	v.SetDefault("model.temperature", 0.3)
	v.SetDefault("model.max_output_tokens", 2048)
	v.SetDefault("db.max_open_conns", 10)
	v.SetDefault("mongo.database", "college_data")
	v.SetDefault("archive.provider", "noop")
	v.SetDefault("archive.prefix", "pages")
	v.SetDefault("archive.content_type", "text/html; charset=utf-8")
	v.SetDefault("events.provider", "memory")
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("logging.development", true)
}

// Validate checks for configuration combinations that cannot work.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Crawler.Workers <= 0 {
		return fmt.Errorf("crawler.workers must be positive, got %d", c.Crawler.Workers)
	}
	if c.AI.Workers <= 0 {
		return fmt.Errorf("ai.workers must be positive, got %d", c.AI.Workers)
	}
	if c.Crawler.MaxPages <= 0 {
		return fmt.Errorf("crawler.max_pages must be positive, got %d", c.Crawler.MaxPages)
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth enabled but no api key configured")
	}
	if c.Archive.Provider == "gcs" && c.Archive.GCSBucket == "" {
		return fmt.Errorf("archive provider is gcs but archive.gcs_bucket is not set")
	}
	if c.Events.Provider == "pubsub" && c.Events.ProjectID == "" {
		return fmt.Errorf("events provider is pubsub but events.project_id is not set")
	}
	return nil
}

// CrawlDelay returns the politeness delay between fetches.
func (c CrawlerConfig) CrawlDelay() time.Duration {
	return time.Duration(c.DelayMs) * time.Millisecond
}

// RequestTimeout returns the per-fetch timeout.
func (c CrawlerConfig) RequestTimeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

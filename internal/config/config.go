// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures every configuration knob, loaded from an optional file
// and PYSCP_-prefixed environment variables.
type Config struct {
	Site     string         `mapstructure:"site"`
	Snapshot SnapshotConfig `mapstructure:"snapshot"`
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// SnapshotConfig locates the snapshot file and scopes what goes into it.
type SnapshotConfig struct {
	Path   string `mapstructure:"path"`
	Forums bool   `mapstructure:"forums"`
}

// CrawlerConfig governs dispatcher pacing and retry behavior.
type CrawlerConfig struct {
	Concurrency       int    `mapstructure:"concurrency"`
	MinDelayMs        int    `mapstructure:"min_delay_ms"`
	MaxRetries        int    `mapstructure:"max_retries"`
	RetryBaseDelayMs  int    `mapstructure:"retry_base_delay_ms"`
	RetryMaxDelayMs   int    `mapstructure:"retry_max_delay_ms"`
	RequestTimeoutSec int    `mapstructure:"request_timeout_seconds"`
	UserAgent         string `mapstructure:"user_agent"`
}

// ServerConfig controls the status/metrics HTTP listener.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PYSCP")
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
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("snapshot.path", "pyscp.db")
	v.SetDefault("snapshot.forums", false)
	v.SetDefault("crawler.concurrency", 8)
	v.SetDefault("crawler.min_delay_ms", 250)
	v.SetDefault("crawler.max_retries", 5)
	v.SetDefault("crawler.retry_base_delay_ms", 500)
	v.SetDefault("crawler.retry_max_delay_ms", 30000)
	v.SetDefault("crawler.request_timeout_seconds", 60)
	v.SetDefault("crawler.user_agent", "pyscp/2.0 (+https://github.com/anqxyr/pyscp)")
	v.SetDefault("server.addr", ":8675")
	v.SetDefault("logging.development", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Site == "" {
		return fmt.Errorf("site must be set")
	}
	if c.Snapshot.Path == "" {
		return fmt.Errorf("snapshot.path must be set")
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Crawler.MinDelayMs < 0 {
		return fmt.Errorf("crawler.min_delay_ms must be >= 0")
	}
	if c.Crawler.MaxRetries <= 0 {
		return fmt.Errorf("crawler.max_retries must be > 0")
	}
	if c.Crawler.RequestTimeoutSec <= 0 {
		return fmt.Errorf("crawler.request_timeout_seconds must be > 0")
	}
	return nil
}

// MinDelay is the floor between consecutive remote requests.
func (c CrawlerConfig) MinDelay() time.Duration {
	return time.Duration(c.MinDelayMs) * time.Millisecond
}

// RetryBaseDelay seeds the exponential backoff schedule.
func (c CrawlerConfig) RetryBaseDelay() time.Duration {
	return time.Duration(c.RetryBaseDelayMs) * time.Millisecond
}

// RetryMaxDelay caps a single backoff pause.
func (c CrawlerConfig) RetryMaxDelay() time.Duration {
	return time.Duration(c.RetryMaxDelayMs) * time.Millisecond
}

// RequestTimeout bounds one HTTP round trip.
func (c CrawlerConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSec) * time.Second
}

// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/chesscom-crawler/internal/crawler"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Report   ReportConfig   `mapstructure:"report"`
	Storage  StorageConfig  `mapstructure:"storage"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Progress ProgressConfig `mapstructure:"progress"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
}

// ServerConfig controls the HTTP API. Port 0 disables it.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// CrawlerConfig governs the queue, workers, and seeding.
type CrawlerConfig struct {
	BaseURL        string   `mapstructure:"base_url"`
	Seeds          []string `mapstructure:"seeds"`
	UserAgent      string   `mapstructure:"user_agent"`
	Concurrency    int      `mapstructure:"concurrency"`
	Dedupe         bool     `mapstructure:"dedupe"`
	MaxQueueDepth  int      `mapstructure:"max_queue_depth"`
	OverflowPolicy string   `mapstructure:"overflow_policy"`
	MaxAttempts    int      `mapstructure:"max_attempts"`
	RateLimitRPS   float64  `mapstructure:"rate_limit_rps"`
	RateLimitBurst int      `mapstructure:"rate_limit_burst"`
}

// HTTPConfig configures the outbound HTTP client.
type HTTPConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
	MaxBodyBytes   int `mapstructure:"max_body_bytes"`
}

// ReportConfig drives the console statistics loop.
type ReportConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Interval    time.Duration `mapstructure:"interval"`
	ClearScreen bool          `mapstructure:"clear_screen"`
}

// StorageConfig selects where successful payloads are archived. OutputDir
// wins over GCSBucket; both empty disables archiving.
type StorageConfig struct {
	OutputDir string `mapstructure:"output_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for attempt notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ProgressConfig toggles progress sinks.
type ProgressConfig struct {
	LogEvents bool `mapstructure:"log_events"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// TracingConfig toggles the OpenTelemetry SDK.
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
}

// DefaultSeeds are the country listings the crawl starts from.
func DefaultSeeds() []string {
	return []string{
		crawler.CountryPlayersURL(crawler.DefaultBaseURL, "EU"),
		crawler.CountryPlayersURL(crawler.DefaultBaseURL, "US"),
		crawler.CountryPlayersURL(crawler.DefaultBaseURL, "IT"),
	}
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

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("crawler.base_url", crawler.DefaultBaseURL)
	v.SetDefault("crawler.seeds", DefaultSeeds())
	v.SetDefault("crawler.user_agent", crawler.DefaultUserAgent)
	v.SetDefault("crawler.concurrency", 1)
	v.SetDefault("crawler.dedupe", false)
	v.SetDefault("crawler.max_queue_depth", 0)
	v.SetDefault("crawler.overflow_policy", "drop")
	v.SetDefault("crawler.max_attempts", 0)
	v.SetDefault("crawler.rate_limit_rps", 0)
	v.SetDefault("crawler.rate_limit_burst", 1)
	v.SetDefault("http.timeout_seconds", 5)
	v.SetDefault("http.max_body_bytes", 0)
	v.SetDefault("report.enabled", true)
	v.SetDefault("report.interval", 500*time.Millisecond)
	v.SetDefault("report.clear_screen", false)
	v.SetDefault("storage.prefix", "payloads")
	v.SetDefault("progress.log_events", false)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "chesscrawler")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port < 0 {
		return errors.New("server.port must be >= 0")
	}
	if c.Crawler.Concurrency <= 0 {
		return errors.New("crawler.concurrency must be > 0")
	}
	if err := crawler.ValidateTarget(c.Crawler.BaseURL); err != nil {
		return fmt.Errorf("crawler.base_url: %w", err)
	}
	for _, seed := range c.Crawler.Seeds {
		if err := crawler.ValidateTarget(seed); err != nil {
			return fmt.Errorf("crawler.seeds: %w", err)
		}
	}
	if c.Crawler.MaxQueueDepth < 0 {
		return errors.New("crawler.max_queue_depth must be >= 0")
	}
	switch strings.ToLower(strings.TrimSpace(c.Crawler.OverflowPolicy)) {
	case "", "drop", "reject", "block":
	default:
		return fmt.Errorf("crawler.overflow_policy %q must be drop, reject or block", c.Crawler.OverflowPolicy)
	}
	if c.Crawler.MaxAttempts < 0 {
		return errors.New("crawler.max_attempts must be >= 0")
	}
	if c.Crawler.RateLimitRPS < 0 {
		return errors.New("crawler.rate_limit_rps must be >= 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return errors.New("http.timeout_seconds must be > 0")
	}
	if c.Report.Enabled && c.Report.Interval <= 0 {
		return errors.New("report.interval must be > 0 when reporting is enabled")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return errors.New("auth.api_key must be set when auth is enabled")
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return errors.New("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	return nil
}

// FetchTimeout converts http.timeout_seconds to a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

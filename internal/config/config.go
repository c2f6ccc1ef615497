// Package config loads and validates scraper service configuration via Viper.
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
	Scraper  ScraperConfig  `mapstructure:"scraper"`
	Browser  BrowserConfig  `mapstructure:"browser"`
	Oracle   OracleConfig   `mapstructure:"oracle"`
	DB       DBConfig       `mapstructure:"db"`
	Storage  StorageConfig  `mapstructure:"storage"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Settings SettingsConfig `mapstructure:"settings"`
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

// ScraperConfig governs the orchestration pipeline.
type ScraperConfig struct {
	Concurrency       int `mapstructure:"concurrency"`
	RunTimeoutSeconds int `mapstructure:"run_timeout_seconds"`
	ScrollSteps       int `mapstructure:"scroll_steps"`
	MaxIterations     int `mapstructure:"max_iterations"`
	NormalizeCache    int `mapstructure:"normalize_cache"`
}

// BrowserConfig configures the headless browser sessions.
type BrowserConfig struct {
	Headless        bool    `mapstructure:"headless"`
	UserAgent       string  `mapstructure:"user_agent"`
	MaxSessions     int     `mapstructure:"max_sessions"`
	NavTimeoutSec   int     `mapstructure:"nav_timeout_seconds"`
	IdleSettleMs    int     `mapstructure:"idle_settle_ms"`
	IdleFallbackSec int     `mapstructure:"idle_fallback_seconds"`
	DomainQPS       float64 `mapstructure:"domain_qps"`
}

// OracleConfig points at the OpenAI-compatible decision endpoint.
type OracleConfig struct {
	APIURL         string `mapstructure:"api_url"`
	APIKey         string `mapstructure:"api_key"`
	Model          string `mapstructure:"model"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// StorageConfig selects and configures the artifact blob store.
type StorageConfig struct {
	Provider  string `mapstructure:"provider"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	LocalDir  string `mapstructure:"local_dir"`
}

// PubSubConfig holds metadata for run-completion notifications.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// SettingsConfig points at the mutable scraper settings document.
type SettingsConfig struct {
	Path string `mapstructure:"path"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PHONEWATCH")
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
	v.SetDefault("scraper.concurrency", 4)
	v.SetDefault("scraper.run_timeout_seconds", 600)
	v.SetDefault("scraper.scroll_steps", 4)
	v.SetDefault("scraper.max_iterations", 10)
	v.SetDefault("scraper.normalize_cache", 1000)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.user_agent", "phonewatch-bot/0.1")
	v.SetDefault("browser.max_sessions", 2)
	v.SetDefault("browser.nav_timeout_seconds", 30)
	v.SetDefault("browser.idle_settle_ms", 500)
	v.SetDefault("browser.idle_fallback_seconds", 3)
	v.SetDefault("browser.domain_qps", 0.5)
	v.SetDefault("oracle.model", "gemini-2.0-flash")
	v.SetDefault("oracle.timeout_seconds", 60)
	v.SetDefault("storage.provider", "local")
	v.SetDefault("storage.local_dir", "artifacts")
	v.SetDefault("logging.development", true)
	v.SetDefault("settings.path", "scraper_settings.yaml")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Scraper.Concurrency <= 0 {
		return fmt.Errorf("scraper.concurrency must be > 0")
	}
	if c.Scraper.RunTimeoutSeconds <= 0 {
		return fmt.Errorf("scraper.run_timeout_seconds must be > 0")
	}
	if c.Browser.MaxSessions <= 0 {
		return fmt.Errorf("browser.max_sessions must be > 0")
	}
	switch c.Storage.Provider {
	case "local", "gcs", "none":
	default:
		return fmt.Errorf("storage.provider must be local, gcs, or none")
	}
	if c.Storage.Provider == "gcs" && c.Storage.GCSBucket == "" {
		return fmt.Errorf("storage.gcs_bucket must be set when provider is gcs")
	}
	if c.PubSub.Enabled && (c.PubSub.ProjectID == "" || c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set when pubsub is enabled")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// RunTimeout converts the configured run budget into a duration.
func (c Config) RunTimeout() time.Duration {
	return time.Duration(c.Scraper.RunTimeoutSeconds) * time.Second
}

// OracleTimeout converts the oracle timeout into a duration.
func (c Config) OracleTimeout() time.Duration {
	return time.Duration(c.Oracle.TimeoutSeconds) * time.Second
}

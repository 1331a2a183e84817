// Package config loads and validates harvester configuration via Viper.
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
	Provider ProviderConfig `mapstructure:"provider"`
	Harvest  HarvestConfig  `mapstructure:"harvest"`
	DB       DBConfig       `mapstructure:"db"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Export   ExportConfig   `mapstructure:"export"`
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

// ProviderConfig configures the search provider client.
type ProviderConfig struct {
	Endpoint       string `mapstructure:"endpoint"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	PageSize       int    `mapstructure:"page_size"`
	UserAgent      string `mapstructure:"user_agent"`
	// CredentialSecret is the key material for decrypting stored credentials.
	CredentialSecret string `mapstructure:"credential_secret"`
}

// HarvestConfig governs the page executor and run orchestrator.
type HarvestConfig struct {
	Workers           int `mapstructure:"workers"`
	QueueDepth        int `mapstructure:"queue_depth"`
	CourtesyDelayMs   int `mapstructure:"courtesy_delay_ms"`
	MaxRetries        int `mapstructure:"max_retries"`
	BackoffBaseMs     int `mapstructure:"backoff_base_ms"`
	DefaultMaxResults int `mapstructure:"default_max_results"`
}

// DBConfig controls access to Postgres. An empty DSN selects the in-memory
// store for local development.
type DBConfig struct {
	DSN                string `mapstructure:"dsn"`
	MaxConns           int    `mapstructure:"max_conns"`
	MinConns           int    `mapstructure:"min_conns"`
	ConnLifetimeMinute int    `mapstructure:"conn_lifetime_minutes"`
}

// PubSubConfig holds metadata for page-event notifications.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
}

// ExportConfig selects where CSV export artifacts land.
type ExportConfig struct {
	// Backend is "local" or "gcs".
	Backend   string `mapstructure:"backend"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HARVESTER")
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
	v.SetDefault("provider.timeout_seconds", 15)
	v.SetDefault("provider.page_size", 10)
	v.SetDefault("provider.user_agent", "linkforge-harvester/0.1")
	v.SetDefault("harvest.workers", 4)
	v.SetDefault("harvest.queue_depth", 64)
	v.SetDefault("harvest.courtesy_delay_ms", 1000)
	v.SetDefault("harvest.max_retries", 3)
	v.SetDefault("harvest.backoff_base_ms", 1000)
	v.SetDefault("harvest.default_max_results", 100)
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("db.conn_lifetime_minutes", 30)
	v.SetDefault("export.backend", "local")
	v.SetDefault("export.base_dir", "./exports")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Provider.TimeoutSeconds <= 0 {
		return fmt.Errorf("provider.timeout_seconds must be > 0")
	}
	if c.Provider.PageSize <= 0 {
		return fmt.Errorf("provider.page_size must be > 0")
	}
	if c.Harvest.Workers <= 0 {
		return fmt.Errorf("harvest.workers must be > 0")
	}
	if c.Harvest.MaxRetries < 0 {
		return fmt.Errorf("harvest.max_retries must be >= 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.PubSub.Enabled && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub is enabled")
	}
	switch c.Export.Backend {
	case "local":
		if c.Export.BaseDir == "" {
			return fmt.Errorf("export.base_dir must be set for the local backend")
		}
	case "gcs":
		if c.Export.GCSBucket == "" {
			return fmt.Errorf("export.gcs_bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("export.backend must be local or gcs")
	}
	return nil
}

// ProviderTimeout converts the configured provider timeout to a duration.
func (c Config) ProviderTimeout() time.Duration {
	return time.Duration(c.Provider.TimeoutSeconds) * time.Second
}

// CourtesyDelay converts the configured inter-page delay to a duration.
func (c Config) CourtesyDelay() time.Duration {
	return time.Duration(c.Harvest.CourtesyDelayMs) * time.Millisecond
}

// BackoffBase converts the configured retry base delay to a duration.
func (c Config) BackoffBase() time.Duration {
	return time.Duration(c.Harvest.BackoffBaseMs) * time.Millisecond
}

// ConnLifetime converts the configured pool lifetime to a duration.
func (c Config) ConnLifetime() time.Duration {
	return time.Duration(c.DB.ConnLifetimeMinute) * time.Minute
}

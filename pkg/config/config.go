package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	// EnvPrefix is the prefix for environment variable overrides.
	EnvPrefix = "REPORTOOR"

	// DefaultListen is the default HTTP listen address.
	DefaultListen = ":8080"

	// DefaultLogLevel is the default logging level.
	DefaultLogLevel = "info"

	// DefaultProviderBaseURL is the default AI provider API endpoint.
	DefaultProviderBaseURL = "https://api.openai.com"

	// DefaultProviderModel is the default model for report generation.
	DefaultProviderModel = "gpt-4o"

	// DefaultProviderTimeout is the default timeout for provider requests.
	DefaultProviderTimeout = "60s"

	// DefaultRateLimitRPM is the default per-IP request budget for
	// provider-invoking endpoints.
	DefaultRateLimitRPM = 30
)

// Config is the root configuration for reportoor.
type Config struct {
	LogLevel string         `yaml:"log_level" mapstructure:"log_level"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Provider ProviderConfig `yaml:"provider" mapstructure:"provider"`
	Database DatabaseConfig `yaml:"database,omitempty" mapstructure:"database"`
	Archive  *ArchiveConfig `yaml:"archive,omitempty" mapstructure:"archive"`
	Auth     AuthConfig     `yaml:"auth,omitempty" mapstructure:"auth"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Listen      string          `yaml:"listen" mapstructure:"listen"`
	CORSOrigins []string        `yaml:"cors_origins,omitempty" mapstructure:"cors_origins"`
	RateLimit   RateLimitConfig `yaml:"rate_limit,omitempty" mapstructure:"rate_limit"`
}

// RateLimitConfig configures per-IP rate limiting on endpoints that
// call out to the AI provider.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled" mapstructure:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute,omitempty" mapstructure:"requests_per_minute"`
}

// ProviderConfig contains AI provider connection settings.
type ProviderConfig struct {
	APIKey        string `yaml:"api_key" mapstructure:"api_key"`
	BaseURL       string `yaml:"base_url,omitempty" mapstructure:"base_url"`
	Model         string `yaml:"model,omitempty" mapstructure:"model"`
	Timeout       string `yaml:"timeout,omitempty" mapstructure:"timeout"`
	WebhookSecret string `yaml:"webhook_secret,omitempty" mapstructure:"webhook_secret"`
	CallbackURL   string `yaml:"callback_url,omitempty" mapstructure:"callback_url"`
}

// RequestTimeout returns the parsed provider request timeout.
func (p *ProviderConfig) RequestTimeout() time.Duration {
	d, err := time.ParseDuration(p.Timeout)
	if err != nil || d <= 0 {
		d, _ = time.ParseDuration(DefaultProviderTimeout)
	}

	return d
}

// DatabaseConfig contains database connection settings. An empty driver
// is a recognized state: the server falls back to the in-memory store.
type DatabaseConfig struct {
	Driver   string               `yaml:"driver,omitempty" mapstructure:"driver"`
	SQLite   SQLiteDatabaseConfig `yaml:"sqlite,omitempty" mapstructure:"sqlite"`
	Postgres PostgresConfig       `yaml:"postgres,omitempty" mapstructure:"postgres"`
}

// SQLiteDatabaseConfig contains SQLite-specific settings.
type SQLiteDatabaseConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
	Database string `yaml:"database" mapstructure:"database"`
	SSLMode  string `yaml:"ssl_mode,omitempty" mapstructure:"ssl_mode"`
}

// ArchiveConfig configures archival of completed reports to
// S3-compatible storage.
type ArchiveConfig struct {
	Enabled bool            `yaml:"enabled" mapstructure:"enabled"`
	S3      S3ArchiveConfig `yaml:"s3,omitempty" mapstructure:"s3"`
}

// S3ArchiveConfig contains S3 settings for report archival.
type S3ArchiveConfig struct {
	EndpointURL     string `yaml:"endpoint_url,omitempty" mapstructure:"endpoint_url"`
	Region          string `yaml:"region,omitempty" mapstructure:"region"`
	Bucket          string `yaml:"bucket" mapstructure:"bucket"`
	AccessKeyID     string `yaml:"access_key_id,omitempty" mapstructure:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty" mapstructure:"secret_access_key"`
	ForcePathStyle  bool   `yaml:"force_path_style" mapstructure:"force_path_style"`
	Prefix          string `yaml:"prefix,omitempty" mapstructure:"prefix"`
}

// AuthConfig contains authentication settings for the admin surface.
type AuthConfig struct {
	Admin AdminAuthConfig `yaml:"admin,omitempty" mapstructure:"admin"`
}

// AdminAuthConfig configures basic auth for administrative endpoints.
// An empty username disables the admin surface entirely.
type AdminAuthConfig struct {
	Username     string `yaml:"username,omitempty" mapstructure:"username"`
	PasswordHash string `yaml:"password_hash,omitempty" mapstructure:"password_hash"`
}

// envKeys lists the configuration keys that may be overridden (or
// supplied entirely) via REPORTOOR_* environment variables.
var envKeys = []string{
	"log_level",
	"server.listen",
	"server.rate_limit.enabled",
	"server.rate_limit.requests_per_minute",
	"provider.api_key",
	"provider.base_url",
	"provider.model",
	"provider.timeout",
	"provider.webhook_secret",
	"provider.callback_url",
	"database.driver",
	"database.sqlite.path",
	"database.postgres.host",
	"database.postgres.port",
	"database.postgres.user",
	"database.postgres.password",
	"database.postgres.database",
	"database.postgres.ssl_mode",
	"auth.admin.username",
	"auth.admin.password_hash",
}

// Load reads configuration from an optional YAML file and applies
// environment variable overrides. An empty path is valid: all settings
// may come from the environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("binding env key %q: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)

		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// applyDefaults sets default values for unspecified configuration options.
func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}

	if c.Server.Listen == "" {
		c.Server.Listen = DefaultListen
	}

	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerMinute == 0 {
		c.Server.RateLimit.RequestsPerMinute = DefaultRateLimitRPM
	}

	if c.Provider.BaseURL == "" {
		c.Provider.BaseURL = DefaultProviderBaseURL
	}

	if c.Provider.Model == "" {
		c.Provider.Model = DefaultProviderModel
	}

	if c.Provider.Timeout == "" {
		c.Provider.Timeout = DefaultProviderTimeout
	}

	if c.Database.Driver == "postgres" && c.Database.Postgres.SSLMode == "" {
		c.Database.Postgres.SSLMode = "disable"
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Provider.APIKey == "" {
		return fmt.Errorf("provider api_key is required (REPORTOOR_PROVIDER_API_KEY)")
	}

	switch c.Database.Driver {
	case "", "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}

	if c.Database.Driver == "sqlite" && c.Database.SQLite.Path == "" {
		return fmt.Errorf("database sqlite path is required")
	}

	if c.Database.Driver == "postgres" {
		if c.Database.Postgres.Host == "" || c.Database.Postgres.Database == "" {
			return fmt.Errorf("database postgres host and database are required")
		}
	}

	if c.Archive != nil && c.Archive.Enabled && c.Archive.S3.Bucket == "" {
		return fmt.Errorf("archive s3 bucket is required when archival is enabled")
	}

	if c.Auth.Admin.Username != "" && c.Auth.Admin.PasswordHash == "" {
		return fmt.Errorf("auth admin password_hash is required when username is set")
	}

	if _, err := time.ParseDuration(c.Provider.Timeout); err != nil {
		return fmt.Errorf("parsing provider timeout: %w", err)
	}

	return nil
}

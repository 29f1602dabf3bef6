// Package config loads drfetch settings from a YAML file and DRF_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/Sternrassler/drf-client/pkg/api"
	"github.com/Sternrassler/drf-client/pkg/cache"
	"github.com/Sternrassler/drf-client/pkg/client"
	"github.com/Sternrassler/drf-client/pkg/logging"
	"github.com/Sternrassler/drf-client/pkg/ratelimit"
)

// EnvPrefix is prepended to every environment override, e.g.
// DRF_API_BASE_URL for api.base_url.
const EnvPrefix = "DRF"

// Config is the full drfetch configuration.
type Config struct {
	API     APIConfig     `mapstructure:"api"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Logging LoggingConfig `mapstructure:"logging"`
	Server  ServerConfig  `mapstructure:"server"`
}

// APIConfig describes the backend.
type APIConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	Locale     string        `mapstructure:"locale"`
	Timeout    time.Duration `mapstructure:"timeout"`
	UserAgent  string        `mapstructure:"user_agent"`
	MaxRetries int           `mapstructure:"max_retries"`
	MaxPages   int           `mapstructure:"max_pages"`
}

// CacheConfig configures the optional shared Redis store.
type CacheConfig struct {
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	TTL           time.Duration `mapstructure:"ttl"`
}

// LoggingConfig selects log level and format.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ServerConfig configures drfetch serve.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Load reads configuration from configPath. With an empty path the
// standard locations are searched and a missing file is not an error, so
// a configuration made only of environment variables is valid.
func Load(configPath string) (*Config, error) {
	return LoadWith(configPath, nil)
}

// LoadWith is Load with overrides applied above file and environment
// values, keyed like the file (e.g. "api.base_url"). Command line flags
// use it.
func LoadWith(configPath string, overrides map[string]any) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("drfetch")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "drfetch"))
		}
		v.AddConfigPath("/etc/drfetch/")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config: %w", err)
		}
	}

	for key, value := range overrides {
		v.Set(key, value)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values. Every key needs a default
// for AutomaticEnv to pick it up during Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("api.base_url", "")
	v.SetDefault("api.locale", "en-us")
	v.SetDefault("api.timeout", client.DefaultTimeout)
	v.SetDefault("api.user_agent", client.DefaultUserAgent)
	v.SetDefault("api.max_retries", 0)
	v.SetDefault("api.max_pages", 0)

	v.SetDefault("cache.redis_addr", "")
	v.SetDefault("cache.redis_password", "")
	v.SetDefault("cache.redis_db", 0)
	v.SetDefault("cache.ttl", cache.DefaultStoreTTL)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
}

// Validate checks a configuration assembled outside Load, e.g. after flag
// overrides.
func (c *Config) Validate() error {
	return validate(c)
}

// validate checks if the configuration is valid
func validate(cfg *Config) error {
	if cfg.API.BaseURL == "" {
		return fmt.Errorf("api.base_url is required")
	}
	u, err := url.Parse(cfg.API.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("api.base_url must be an absolute url (got %q)", cfg.API.BaseURL)
	}

	if cfg.API.Timeout <= 0 {
		return fmt.Errorf("api.timeout must be > 0 (got %s)", cfg.API.Timeout)
	}
	if cfg.API.MaxRetries < 0 {
		return fmt.Errorf("api.max_retries must be >= 0 (got %d)", cfg.API.MaxRetries)
	}
	if cfg.API.MaxPages < 0 {
		return fmt.Errorf("api.max_pages must be >= 0 (got %d)", cfg.API.MaxPages)
	}

	if cfg.Cache.TTL < 0 {
		return fmt.Errorf("cache.ttl must be >= 0 (got %s)", cfg.Cache.TTL)
	}

	if !logging.ValidLevel(cfg.Logging.Level) {
		return fmt.Errorf("invalid logging level: %s", cfg.Logging.Level)
	}
	if !logging.ValidFormat(cfg.Logging.Format) {
		return fmt.Errorf("invalid logging format: %s", cfg.Logging.Format)
	}

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535 (got %d)", cfg.Server.Port)
	}

	return nil
}

// ClientConfig converts the api section into a client configuration.
func (c *Config) ClientConfig() client.Config {
	cc := client.DefaultConfig(c.API.BaseURL)
	cc.Locale = c.API.Locale
	cc.Timeout = c.API.Timeout
	cc.UserAgent = c.API.UserAgent
	cc.Retry.MaxRetries = c.API.MaxRetries
	cc.Throttle = ratelimit.NewTracker(log.With().Str("component", "throttle").Logger())
	return cc
}

// APIConfig builds the facade configuration. store may be nil.
func (c *Config) APIConfig(store cache.Store) api.Config {
	ac := api.DefaultConfig(c.API.BaseURL)
	ac.Client = c.ClientConfig()
	ac.Pagination.MaxPages = c.API.MaxPages
	if store != nil {
		ac.Cache.Store = store
		ac.Cache.StoreTTL = c.Cache.TTL
	}
	return ac
}

// LoggingConfig converts the logging section.
func (c *Config) LoggingConfig() logging.Config {
	lc := logging.DefaultConfig()
	lc.Level = logging.LogLevel(strings.ToLower(c.Logging.Level))
	lc.Format = logging.Format(strings.ToLower(c.Logging.Format))
	return lc
}

// RedisEnabled reports whether a shared store is configured.
func (c *Config) RedisEnabled() bool {
	return c.Cache.RedisAddr != ""
}

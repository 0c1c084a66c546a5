// Package config loads habitfeed settings from defaults, an optional YAML
// file, a .env file and the environment, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. HABITFEED_CACHE_PATH.
const EnvPrefix = "HABITFEED"

// Config holds the application configuration.
type Config struct {
	Viewer  ViewerConfig  `mapstructure:"viewer"`
	Feed    FeedConfig    `mapstructure:"feed"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Gateway GatewayConfig `mapstructure:"gateway"`
	Log     LogConfig     `mapstructure:"log"`
}

// ViewerConfig identifies the signed-in user.
type ViewerConfig struct {
	UserID    string `mapstructure:"user_id"`
	AvatarURL string `mapstructure:"avatar_url"`
}

// FeedConfig tunes pagination and the page cache.
type FeedConfig struct {
	PageSize int           `mapstructure:"page_size"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// CacheConfig selects the page cache backend. An empty Path keeps pages in
// memory.
type CacheConfig struct {
	Path string `mapstructure:"path"`
}

// GatewayConfig throttles gateway calls. RatePerSecond 0 disables the
// throttle.
type GatewayConfig struct {
	RatePerSecond float64 `mapstructure:"rate_per_second"`
	Burst         int     `mapstructure:"burst"`
}

// LogConfig sets the log level: debug, info, warn or error.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

type options struct {
	file   string
	dotenv string
}

// Option configures Load.
type Option func(*options)

// WithFile reads settings from path, which must exist. Without it Load
// looks for habitfeed.yaml in the working directory and ./config, and
// carries on without one.
func WithFile(path string) Option {
	return func(o *options) { o.file = path }
}

// WithDotEnv loads path instead of ./.env.
func WithDotEnv(path string) Option {
	return func(o *options) { o.dotenv = path }
}

// Load reads the configuration and validates it.
func Load(opts ...Option) (*Config, error) {
	o := options{dotenv: ".env"}
	for _, opt := range opts {
		opt(&o)
	}

	// Variables already in the environment win over the .env file.
	if err := godotenv.Load(o.dotenv); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", o.dotenv, err)
	}

	v := viper.New()
	v.SetDefault("viewer.user_id", "")
	v.SetDefault("viewer.avatar_url", "")
	v.SetDefault("feed.page_size", 20)
	v.SetDefault("feed.cache_ttl", "60s")
	v.SetDefault("cache.path", "")
	v.SetDefault("gateway.rate_per_second", 0)
	v.SetDefault("gateway.burst", 5)
	v.SetDefault("log.level", "info")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Short names.
	_ = v.BindEnv("viewer.user_id", EnvPrefix+"_VIEWER_USER_ID", EnvPrefix+"_VIEWER_ID")
	_ = v.BindEnv("feed.page_size", EnvPrefix+"_FEED_PAGE_SIZE", EnvPrefix+"_PAGE_SIZE")
	_ = v.BindEnv("feed.cache_ttl", EnvPrefix+"_FEED_CACHE_TTL", EnvPrefix+"_CACHE_TTL")

	if o.file != "" {
		v.SetConfigFile(o.file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", o.file, err)
		}
	} else {
		v.SetConfigName("habitfeed")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case c.Feed.PageSize < 1 || c.Feed.PageSize > 100:
		return fmt.Errorf("feed.page_size must be between 1 and 100, got %d", c.Feed.PageSize)
	case c.Feed.CacheTTL < 0:
		return fmt.Errorf("feed.cache_ttl must not be negative, got %s", c.Feed.CacheTTL)
	case c.Gateway.RatePerSecond < 0:
		return fmt.Errorf("gateway.rate_per_second must not be negative, got %g", c.Gateway.RatePerSecond)
	case c.Gateway.RatePerSecond > 0 && c.Gateway.Burst < 1:
		return fmt.Errorf("gateway.burst must be at least 1 when throttled, got %d", c.Gateway.Burst)
	case strings.TrimSpace(c.Viewer.UserID) != c.Viewer.UserID:
		return fmt.Errorf("viewer.user_id has surrounding whitespace")
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// SlogLevel returns the configured log level.
func (c *Config) SlogLevel() slog.Level {
	l, _ := parseLevel(c.Log.Level)
	return l
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log.level: %w", err)
	}
	return l, nil
}

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	internal "github.com/voxhollow/interactions-go/ixn"
)

// Config stores all configuration of the client.
// The values are read by viper from a config file or environment variables.
type Config struct {
	Client    ClientConfig    `mapstructure:"client"`
	Stream    StreamConfig    `mapstructure:"stream"`
	Tools     ToolsConfig     `mapstructure:"tools"`
	Cache     CacheConfig     `mapstructure:"cache"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	History   HistoryConfig   `mapstructure:"history"`
	Trace     TraceConfig     `mapstructure:"trace"`
}

// ClientConfig stores run-loop settings.
type ClientConfig struct {
	DefaultModel    string        `mapstructure:"default_model"`    // model used when a request names none
	MaxToolRounds   int           `mapstructure:"max_tool_rounds"`  // follow-up rounds per run
	ToolConcurrency int           `mapstructure:"tool_concurrency"` // concurrent tool executions
	ToolTimeout     time.Duration `mapstructure:"tool_timeout"`     // per-call deadline
	FailFast        bool          `mapstructure:"fail_fast"`        // abort batch on first tool error
	PollInterval    time.Duration `mapstructure:"poll_interval"`    // background status check cadence
	PollTimeout     time.Duration `mapstructure:"poll_timeout"`     // cap on waiting for background work
	SnapshotTTL     time.Duration `mapstructure:"snapshot_ttl"`     // cached terminal snapshot lifetime
}

// StreamConfig stores stream resumption settings.
type StreamConfig struct {
	ResumeAttempts      int           `mapstructure:"resume_attempts"`       // reopen budget per drop
	ResumeBackoff       time.Duration `mapstructure:"resume_backoff"`        // base backoff between attempts
	ResumeBackoffCap    time.Duration `mapstructure:"resume_backoff_cap"`    // bound on a single backoff sleep
	ResumeJitterPercent uint64        `mapstructure:"resume_jitter_percent"` // jitter applied to backoff
}

// ToolsConfig stores tool registry settings.
type ToolsConfig struct {
	ValidateArguments bool     `mapstructure:"validate_arguments"` // schema-check incoming arguments
	AllowedPrefixes   []string `mapstructure:"allowed_prefixes"`   // empty means allow all
}

// CacheConfig stores snapshot cache settings.
type CacheConfig struct {
	Enabled  bool `mapstructure:"enabled"`
	Capacity int  `mapstructure:"capacity"` // LRU capacity
}

// RateLimitConfig stores per-conversation rate limiting settings.
type RateLimitConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Capacity   int           `mapstructure:"capacity"`    // token bucket capacity
	RefillRate time.Duration `mapstructure:"refill_rate"` // time between token refills
}

// HistoryConfig stores durable conversation history settings.
type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled"` // persist client-held history to libsql
	Path    string `mapstructure:"path"`    // database file path
}

// TraceConfig stores tracing settings.
type TraceConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Level   string `mapstructure:"level"` // minimum zerolog level
}

var AppConfig Config

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(configPath string) (*Config, error) {
	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath(internal.DefaultConfigPath())
		viper.SetConfigName(internal.DefaultAppName)
		viper.SetConfigType("yaml")
	}

	// Client defaults
	viper.SetDefault("client.default_model", "")
	viper.SetDefault("client.max_tool_rounds", 10)
	viper.SetDefault("client.tool_concurrency", 5)
	viper.SetDefault("client.tool_timeout", "30s")
	viper.SetDefault("client.fail_fast", false)
	viper.SetDefault("client.poll_interval", "2s")
	viper.SetDefault("client.poll_timeout", "60m")
	viper.SetDefault("client.snapshot_ttl", "1h")

	// Stream defaults
	viper.SetDefault("stream.resume_attempts", 5)
	viper.SetDefault("stream.resume_backoff", "250ms")
	viper.SetDefault("stream.resume_backoff_cap", "30s")
	viper.SetDefault("stream.resume_jitter_percent", 10)

	// Tool defaults
	viper.SetDefault("tools.validate_arguments", true)
	viper.SetDefault("tools.allowed_prefixes", []string{}) // Empty means allow all by default

	// Cache defaults
	viper.SetDefault("cache.enabled", true)
	viper.SetDefault("cache.capacity", 128)

	// Rate limit defaults
	viper.SetDefault("rate_limit.enabled", true)
	viper.SetDefault("rate_limit.capacity", 10)
	viper.SetDefault("rate_limit.refill_rate", "1s")

	// History defaults (opt-in persistence)
	viper.SetDefault("history.enabled", false)
	viper.SetDefault("history.path", internal.DefaultHistoryPath())

	// Trace defaults
	viper.SetDefault("trace.enabled", true)
	viper.SetDefault("trace.level", "info")

	viper.SetEnvPrefix(strings.ToUpper(internal.DefaultAppName))
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found; defaults and environment apply.
	}

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	return &AppConfig, nil
}

// Watch re-decodes the config whenever the underlying file changes and
// hands the fresh copy to onChange. Call after LoadConfig.
func Watch(logger zerolog.Logger, onChange func(*Config)) {
	viper.OnConfigChange(func(e fsnotify.Event) {
		var next Config
		if err := viper.Unmarshal(&next); err != nil {
			logger.Warn().Err(err).Str("file", e.Name).Msg("ignoring config change; decode failed")
			return
		}
		AppConfig = next
		logger.Info().Str("file", e.Name).Msg("configuration reloaded")
		if onChange != nil {
			onChange(&AppConfig)
		}
	})
	viper.WatchConfig()
}

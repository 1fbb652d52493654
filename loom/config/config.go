package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	internal "github.com/taskloom/taskloom/loom"

	"github.com/spf13/viper"
)

// Config stores all configuration of the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Agent     AgentConfig     `mapstructure:"agent"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Cache     CacheConfig     `mapstructure:"cache"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Log       LogConfig       `mapstructure:"log"`
}

// ServerConfig stores HTTP server settings.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig stores database connection details.
type DatabaseConfig struct {
	Path         string `mapstructure:"path"` // Embedded libsql database file
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

// AgentConfig stores the conversational runtime settings.
type AgentConfig struct {
	// Context reconstruction
	MaxContextTokens int `mapstructure:"max_context_tokens"` // Token budget before truncation
	MinRecentTurns   int `mapstructure:"min_recent_turns"`   // Always kept when truncating
	HistoryLimit     int `mapstructure:"history_limit"`      // Stored turns loaded per call

	// Dispatch policy
	ToolTimeout    time.Duration `mapstructure:"tool_timeout"`     // Per-dispatch deadline
	RetryCount     int           `mapstructure:"retry_count"`      // Retries after the first attempt
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay"` // Exponential backoff base
	RetryMaxDelay  time.Duration `mapstructure:"retry_max_delay"`  // Backoff cap
	DrainTimeout   time.Duration `mapstructure:"drain_timeout"`    // Shutdown wait for detached dispatches

	// Response composition
	ComposeFinalReply bool `mapstructure:"compose_final_reply"` // Second engine call for confirmations

	// Safety
	BlockedPatterns []string `mapstructure:"blocked_patterns"` // Extra content-safety keywords
	MaxMessageChars int      `mapstructure:"max_message_chars"`
}

// EngineConfig stores reasoning engine settings.
type EngineConfig struct {
	Provider       string        `mapstructure:"provider"` // "openai", "llama", "none"
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	Model          string        `mapstructure:"model"`
	Temperature    float32       `mapstructure:"temperature"`
	MaxTokens      int           `mapstructure:"max_tokens"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`

	// Local GGUF settings (llama provider only)
	ModelPath   string `mapstructure:"model_path"`
	ContextSize int    `mapstructure:"context_size"`
	Threads     int    `mapstructure:"threads"`
}

// CacheConfig stores cache backend settings.
type CacheConfig struct {
	Backend       string        `mapstructure:"backend"` // "lru", "redis", "none"
	Capacity      int           `mapstructure:"capacity"`
	TTL           time.Duration `mapstructure:"ttl"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
}

// RateLimitConfig stores per-user rate limiting settings.
type RateLimitConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Capacity   int           `mapstructure:"capacity"`    // Token bucket capacity
	RefillRate time.Duration `mapstructure:"refill_rate"` // One token per interval
}

// SchedulerConfig stores background job settings.
type SchedulerConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	RecurrenceSpec string `mapstructure:"recurrence_spec"` // Cron spec for the recurrence sweep
}

// LogConfig stores logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

var AppConfig Config

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(configPath string) (*Config, error) {
	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath(filepath.Join("etc", internal.DefaultAppName))
		viper.AddConfigPath(internal.DefaultConfigPath)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	// Server defaults
	viper.SetDefault("server.addr", ":8080")
	viper.SetDefault("server.read_timeout", "15s")
	viper.SetDefault("server.write_timeout", "60s")
	viper.SetDefault("server.shutdown_timeout", "20s")

	// Database defaults (embedded libsql)
	viper.SetDefault("database.path", internal.DefaultDatabasePath)
	viper.SetDefault("database.max_open_conns", 10)
	viper.SetDefault("database.max_idle_conns", 5)

	// Agent defaults
	viper.SetDefault("agent.max_context_tokens", 4000)
	viper.SetDefault("agent.min_recent_turns", 4)
	viper.SetDefault("agent.history_limit", 50)
	viper.SetDefault("agent.tool_timeout", "15s")
	viper.SetDefault("agent.retry_count", 2)
	viper.SetDefault("agent.retry_base_delay", "2s")
	viper.SetDefault("agent.retry_max_delay", "10s")
	viper.SetDefault("agent.drain_timeout", "30s")
	viper.SetDefault("agent.compose_final_reply", false)
	viper.SetDefault("agent.blocked_patterns", []string{})
	viper.SetDefault("agent.max_message_chars", 10000)

	// Engine defaults
	viper.SetDefault("engine.provider", "openai")
	viper.SetDefault("engine.base_url", "http://localhost:11434/v1")
	viper.SetDefault("engine.model", "command-r")
	viper.SetDefault("engine.temperature", 0.3)
	viper.SetDefault("engine.max_tokens", 2000)
	viper.SetDefault("engine.request_timeout", "30s")
	viper.SetDefault("engine.context_size", 4096)
	viper.SetDefault("engine.threads", 4)

	// Cache defaults
	viper.SetDefault("cache.backend", "lru")
	viper.SetDefault("cache.capacity", 1000)
	viper.SetDefault("cache.ttl", "1h")
	viper.SetDefault("cache.redis_addr", "localhost:6379")
	viper.SetDefault("cache.redis_db", 0)

	// Rate limit defaults
	viper.SetDefault("rate_limit.enabled", true)
	viper.SetDefault("rate_limit.capacity", 10)
	viper.SetDefault("rate_limit.refill_rate", "1s")

	// Scheduler defaults
	viper.SetDefault("scheduler.enabled", true)
	viper.SetDefault("scheduler.recurrence_spec", "@every 10m")

	// Log defaults
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.pretty", false)

	viper.AutomaticEnv()
	viper.SetEnvPrefix(strings.ToUpper(internal.DefaultAppName))
	// Replace dots with underscores in env var names e.g. engine.api_key becomes TASKLOOM_ENGINE_API_KEY
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found; defaults and environment cover everything.
		} else {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	return &AppConfig, nil
}

// Package config provides configuration management for the application.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// DefaultBodySizeLimit caps request bodies at 10MB.
const DefaultBodySizeLimit int64 = 10 * 1024 * 1024

// Config holds the application configuration.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Snapshot     SnapshotConfig     `mapstructure:"snapshot"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port          string `mapstructure:"port"`
	MasterKey     string `mapstructure:"master_key"`
	BodySizeLimit int64  `mapstructure:"body_size_limit"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// OrchestratorConfig tunes the exchange loop.
type OrchestratorConfig struct {
	MaxIterations    int    `mapstructure:"max_iterations"`
	MaxAttempts      int    `mapstructure:"max_attempts"`
	FailoverPolicy   string `mapstructure:"failover_policy"`
	ToolConcurrency  int    `mapstructure:"tool_concurrency"`
	StreamBufferSize int    `mapstructure:"stream_buffer_size"`
}

// SnapshotConfig selects where rate-limit state is persisted across
// restarts. Backend is "none", "local", or "redis".
type SnapshotConfig struct {
	Backend  string        `mapstructure:"backend"`
	Path     string        `mapstructure:"path"`
	RedisURL string        `mapstructure:"redis_url"`
	RedisKey string        `mapstructure:"redis_key"`
	Interval time.Duration `mapstructure:"interval"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from the environment. All keys are prefixed
// LLMGATE_, e.g. LLMGATE_PORT, LLMGATE_MASTER_KEY.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("LLMGATE")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")
	v.SetDefault("BODY_SIZE_LIMIT", DefaultBodySizeLimit)
	v.SetDefault("METRICS_ENABLED", false)
	v.SetDefault("METRICS_ENDPOINT", "/metrics")
	v.SetDefault("MAX_ITERATIONS", 8)
	v.SetDefault("MAX_ATTEMPTS", 6)
	v.SetDefault("FAILOVER_POLICY", "same-provider-first")
	v.SetDefault("TOOL_CONCURRENCY", 4)
	v.SetDefault("STREAM_BUFFER_SIZE", 64)
	v.SetDefault("SNAPSHOT_BACKEND", "none")
	v.SetDefault("SNAPSHOT_PATH", "llmgate-ratelimits.json")
	v.SetDefault("SNAPSHOT_REDIS_KEY", "llmgate:ratelimits")
	v.SetDefault("SNAPSHOT_INTERVAL", 30*time.Second)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	cfg := &Config{
		Server: ServerConfig{
			Port:          v.GetString("PORT"),
			MasterKey:     v.GetString("MASTER_KEY"),
			BodySizeLimit: v.GetInt64("BODY_SIZE_LIMIT"),
		},
		Metrics: MetricsConfig{
			Enabled:  v.GetBool("METRICS_ENABLED"),
			Endpoint: v.GetString("METRICS_ENDPOINT"),
		},
		Orchestrator: OrchestratorConfig{
			MaxIterations:    v.GetInt("MAX_ITERATIONS"),
			MaxAttempts:      v.GetInt("MAX_ATTEMPTS"),
			FailoverPolicy:   v.GetString("FAILOVER_POLICY"),
			ToolConcurrency:  v.GetInt("TOOL_CONCURRENCY"),
			StreamBufferSize: v.GetInt("STREAM_BUFFER_SIZE"),
		},
		Snapshot: SnapshotConfig{
			Backend:  v.GetString("SNAPSHOT_BACKEND"),
			Path:     v.GetString("SNAPSHOT_PATH"),
			RedisURL: v.GetString("SNAPSHOT_REDIS_URL"),
			RedisKey: v.GetString("SNAPSHOT_REDIS_KEY"),
			Interval: v.GetDuration("SNAPSHOT_INTERVAL"),
		},
		Logging: LoggingConfig{
			Level:  v.GetString("LOG_LEVEL"),
			Format: v.GetString("LOG_FORMAT"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Snapshot.Backend {
	case "none", "local", "redis":
	default:
		return fmt.Errorf("invalid snapshot backend %q, expected none, local, or redis", c.Snapshot.Backend)
	}
	if c.Snapshot.Backend == "redis" && c.Snapshot.RedisURL == "" {
		return fmt.Errorf("LLMGATE_SNAPSHOT_REDIS_URL is required when snapshot backend is redis")
	}
	if c.Orchestrator.MaxIterations <= 0 {
		return fmt.Errorf("max_iterations must be positive, got %d", c.Orchestrator.MaxIterations)
	}
	if c.Orchestrator.MaxAttempts <= 0 {
		return fmt.Errorf("max_attempts must be positive, got %d", c.Orchestrator.MaxAttempts)
	}
	return nil
}

package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds all configuration for the agentpay orchestrator
type Config struct {
	// Server configuration
	HTTPPort int    `env:"AGENTPAY_HTTP_PORT" envDefault:"8080"`
	GRPCPort int    `env:"AGENTPAY_GRPC_PORT" envDefault:"9090"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Ledger configuration
	Ledger LedgerConfig

	// Redis configuration
	Redis RedisConfig

	// LLM configuration
	LLM LLMConfig

	// Worker configuration
	Workers WorkerConfig

	// Timeouts
	Timeouts TimeoutConfig
}

// LedgerConfig selects and tunes the ledger adapter
type LedgerConfig struct {
	Backend string `env:"LEDGER_BACKEND" envDefault:"memory"`

	// Deadline applied to every newly opened task, after which the client
	// may withdraw out-of-band
	TaskDeadline time.Duration `env:"LEDGER_TASK_DEADLINE" envDefault:"24h"`

	// Per-call timeout; a ledger timeout is fatal to the run
	CallTimeout time.Duration `env:"LEDGER_CALL_TIMEOUT" envDefault:"10s"`

	// Optional startup deposit so a fresh deployment can accept runs
	// without an out-of-band funding step
	SeedClient string `env:"LEDGER_SEED_CLIENT"`
	SeedAmount uint64 `env:"LEDGER_SEED_AMOUNT" envDefault:"0"`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASS"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`

	// Connection pool settings
	PoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	MaxRetries   int           `env:"REDIS_MAX_RETRIES" envDefault:"3"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`
}

// LLMConfig holds step backend configuration
type LLMConfig struct {
	Provider string `env:"LLM_PROVIDER" envDefault:"anthropic"`
	APIKey   string `env:"LLM_API_KEY"`

	RequestTimeout time.Duration `env:"LLM_REQUEST_TIMEOUT" envDefault:"120s"`

	// Default model settings
	DefaultModel     string `env:"LLM_DEFAULT_MODEL" envDefault:"claude-3-5-sonnet-20241022"`
	DefaultMaxTokens int    `env:"LLM_DEFAULT_MAX_TOKENS" envDefault:"1024"`
}

// WorkerConfig holds run worker pool configuration
type WorkerConfig struct {
	PoolSize            int           `env:"WORKER_POOL_SIZE" envDefault:"5"`
	QueueSize           int           `env:"WORKER_QUEUE_SIZE" envDefault:"64"`
	HealthCheckInterval time.Duration `env:"WORKER_HEALTH_CHECK_INTERVAL" envDefault:"30s"`
}

// TimeoutConfig holds various timeout configurations
type TimeoutConfig struct {
	RunTimeout      time.Duration `env:"TIMEOUT_RUN" envDefault:"600s"`
	StepTimeout     time.Duration `env:"TIMEOUT_STEP" envDefault:"120s"`
	ShutdownTimeout time.Duration `env:"TIMEOUT_SHUTDOWN" envDefault:"30s"`
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server ports
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.GRPCPort < 1 || c.GRPCPort > 65535 {
		return fmt.Errorf("invalid gRPC port: %d", c.GRPCPort)
	}

	// Validate ledger config
	switch c.Ledger.Backend {
	case "memory":
	case "redis":
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis address is required for the redis ledger backend")
		}
	default:
		return fmt.Errorf("unsupported ledger backend: %s (must be memory or redis)", c.Ledger.Backend)
	}

	// Validate LLM config
	switch c.LLM.Provider {
	case "anthropic":
		if c.LLM.APIKey == "" {
			return fmt.Errorf("LLM API key is required for the anthropic provider")
		}
	case "static":
	default:
		return fmt.Errorf("unsupported LLM provider: %s (must be anthropic or static)", c.LLM.Provider)
	}

	// Validate worker config
	if c.Workers.PoolSize < 1 {
		return fmt.Errorf("worker pool size must be at least 1")
	}

	// Validate log level
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	return nil
}

// GetHTTPAddr returns the HTTP server address
func (c *Config) GetHTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// GetGRPCAddr returns the gRPC server address
func (c *Config) GetGRPCAddr() string {
	return fmt.Sprintf(":%d", c.GRPCPort)
}

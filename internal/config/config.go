package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all configuration for the JobForge binaries.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Jobs     JobsConfig
}

type ServerConfig struct {
	Port int    `env:"JOBFORGE_PORT" envDefault:"8080"`
	Env  string `env:"JOBFORGE_ENV" envDefault:"development"`
}

type DatabaseConfig struct {
	URL             string        `env:"DATABASE_URL"`
	MaxOpenConns    int           `env:"DATABASE_MAX_OPEN_CONNS" envDefault:"25"`
	MaxIdleConns    int           `env:"DATABASE_MAX_IDLE_CONNS" envDefault:"5"`
	ConnMaxLifetime time.Duration `env:"DATABASE_CONN_MAX_LIFETIME" envDefault:"5m"`
}

type RedisConfig struct {
	URL string `env:"REDIS_URL"`
}

// JobsConfig tunes the orchestration engine. StuckAfter must sit comfortably
// above the slowest expected handler: the sweep cannot distinguish a crashed
// worker from a slow one, only bound the false-positive window.
type JobsConfig struct {
	DefaultMaxAttempts int           `env:"JOBFORGE_MAX_ATTEMPTS" envDefault:"3"`
	StuckAfter         time.Duration `env:"JOBFORGE_STUCK_AFTER" envDefault:"15m"`
	SweepInterval      time.Duration `env:"JOBFORGE_SWEEP_INTERVAL" envDefault:"1m"`
	PromoteBatch       int           `env:"JOBFORGE_PROMOTE_BATCH" envDefault:"200"`
	DequeueBlock       time.Duration `env:"JOBFORGE_DEQUEUE_BLOCK" envDefault:"5s"`
}

// Load reads configuration from environment variables (and an optional .env
// file) and returns a validated Config. Returns an error with a descriptive
// message if any required value is missing or invalid.
func Load() (*Config, error) {
	// .env is a dev convenience; a missing file is fine.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}
	if !strings.HasPrefix(c.Redis.URL, "redis://") && !strings.HasPrefix(c.Redis.URL, "rediss://") {
		return fmt.Errorf("REDIS_URL must start with redis:// or rediss://, got %q", c.Redis.URL)
	}
	if c.Jobs.DefaultMaxAttempts < 1 {
		return fmt.Errorf("JOBFORGE_MAX_ATTEMPTS must be at least 1, got %d", c.Jobs.DefaultMaxAttempts)
	}
	if c.Jobs.StuckAfter < time.Minute {
		return fmt.Errorf("JOBFORGE_STUCK_AFTER must be at least 1m, got %s", c.Jobs.StuckAfter)
	}
	return nil
}

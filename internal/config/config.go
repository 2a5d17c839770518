// Package config provides application configuration.
package config

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Store drivers.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
)

// Config holds all application configuration.
type Config struct {
	Port           string   `env:"PORT, default=8080"`
	AppEnv         string   `env:"APP_ENV, default=production"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS"`
	LogLevel       string   `env:"LOG_LEVEL, default=info"`

	Session    SessionConfig
	Store      StoreConfig
	OpenAI     OpenAIConfig
	NanoBanana NanoBananaConfig
	Gate       GateConfig
	RateLimit  RateLimitConfig

	// GenerateTimeout bounds one generate request end to end.
	GenerateTimeout    time.Duration `env:"GENERATE_TIMEOUT, default=120s"`
	TelemetryQueueSize int           `env:"TELEMETRY_QUEUE_SIZE, default=256"`
}

// SessionConfig controls session cookies and expiry.
type SessionConfig struct {
	Secret        string        `env:"SESSION_SECRET"`
	TTL           time.Duration `env:"SESSION_TTL, default=12h"`
	SweepSchedule string        `env:"SESSION_SWEEP_SCHEDULE, default=@every 5m"`
}

// StoreConfig selects and configures the session store.
type StoreConfig struct {
	Driver        string `env:"STORE_DRIVER, default=memory"`
	DBPath        string `env:"DB_PATH, default=./data/nanostyle.db"`
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
}

// OpenAIConfig configures prompt synthesis.
type OpenAIConfig struct {
	APIKey         string        `env:"OPENAI_API_KEY"`
	BaseURL        string        `env:"OPENAI_BASE_URL, default=https://api.openai.com/v1"`
	PromptID       string        `env:"OPENAI_PROMPT_ID"`
	PromptVersion  string        `env:"OPENAI_PROMPT_VERSION, default=1"`
	Timeout        time.Duration `env:"OPENAI_TIMEOUT, default=20s"`
	PromptMaxChars int           `env:"PROMPT_MAX_CHARS, default=1200"`
}

// NanoBananaConfig configures image generation.
type NanoBananaConfig struct {
	BaseURL string        `env:"NANOBANANA_API_URL"`
	APIKey  string        `env:"NANOBANANA_API_KEY"`
	Timeout time.Duration `env:"NANOBANANA_TIMEOUT, default=25s"`
	// Attempts is the total number of generate attempts.
	Attempts     int           `env:"NANOBANANA_RETRIES, default=2"`
	RetryWaitMin time.Duration `env:"NANOBANANA_RETRY_WAIT_MIN, default=250ms"`
	RetryWaitMax time.Duration `env:"NANOBANANA_RETRY_WAIT_MAX, default=2s"`
}

// GateConfig configures the shared-secret access gate. An empty password
// disables it.
type GateConfig struct {
	User     string `env:"ACCESS_GATE_USER, default=nanostyle"`
	Password string `env:"ACCESS_GATE_PASSWORD"`
	Realm    string `env:"ACCESS_GATE_REALM, default=NanoStyle Internal"`
}

// RateLimitConfig limits generate requests per client. Zero requests
// disables the limit.
type RateLimitConfig struct {
	Requests int           `env:"RATE_LIMIT_REQUESTS, default=10"`
	Window   time.Duration `env:"RATE_LIMIT_WINDOW, default=1m"`
}

// Load reads configuration from environment variables.
func Load(ctx context.Context) (*Config, error) {
	return LoadFrom(ctx, envconfig.OsLookuper())
}

// LoadFrom reads configuration from lookuper.
func LoadFrom(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookuper,
	}); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	var errs []error
	if c.Port == "" {
		errs = append(errs, errors.New("PORT cannot be empty"))
	}
	if c.Session.Secret == "" && !c.IsDevelopment() {
		errs = append(errs, errors.New("SESSION_SECRET is required outside development"))
	}
	if c.Session.TTL <= 0 {
		errs = append(errs, errors.New("SESSION_TTL must be > 0"))
	}

	switch c.Store.Driver {
	case StoreMemory:
	case StoreSQLite:
		if c.Store.DBPath == "" {
			errs = append(errs, errors.New("DB_PATH cannot be empty for the sqlite store"))
		}
	case StoreRedis:
		if c.Store.RedisAddr == "" {
			errs = append(errs, errors.New("REDIS_ADDR cannot be empty for the redis store"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORE_DRIVER %q must be one of memory, sqlite, redis", c.Store.Driver))
	}

	if c.OpenAI.Timeout <= 0 {
		errs = append(errs, errors.New("OPENAI_TIMEOUT must be > 0"))
	}
	if c.OpenAI.PromptMaxChars <= 0 {
		errs = append(errs, errors.New("PROMPT_MAX_CHARS must be > 0"))
	}
	if c.NanoBanana.Timeout <= 0 {
		errs = append(errs, errors.New("NANOBANANA_TIMEOUT must be > 0"))
	}
	if c.NanoBanana.Attempts < 1 {
		errs = append(errs, errors.New("NANOBANANA_RETRIES must be >= 1"))
	}
	if c.NanoBanana.RetryWaitMax < c.NanoBanana.RetryWaitMin {
		errs = append(errs, errors.New("NANOBANANA_RETRY_WAIT_MAX must be >= NANOBANANA_RETRY_WAIT_MIN"))
	}
	if c.GenerateTimeout <= 0 {
		errs = append(errs, errors.New("GENERATE_TIMEOUT must be > 0"))
	}
	if c.RateLimit.Requests < 0 {
		errs = append(errs, errors.New("RATE_LIMIT_REQUESTS must be >= 0"))
	}
	if c.RateLimit.Requests > 0 && c.RateLimit.Window <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_WINDOW must be > 0"))
	}
	if c.TelemetryQueueSize <= 0 {
		errs = append(errs, errors.New("TELEMETRY_QUEUE_SIZE must be > 0"))
	}
	return errors.Join(errs...)
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

type Config struct {
	Port          string `mapstructure:"PORT"`
	Env           string `mapstructure:"ENV"`
	LogLevel      string `mapstructure:"LOG_LEVEL"`
	DatabaseURL   string `mapstructure:"DATABASE_URL"`
	DBMaxConns    int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns    int32  `mapstructure:"DB_MIN_CONNS"`
	RedisURL      string `mapstructure:"REDIS_URL"`
	MigrationsDir string `mapstructure:"MIGRATIONS_DIR"`

	StoreTimeout     time.Duration `mapstructure:"STORE_TIMEOUT"`
	SweepInterval    time.Duration `mapstructure:"SWEEP_INTERVAL"`
	SweepWorkers     int           `mapstructure:"SWEEP_WORKERS"`
	SweepPageSize    int           `mapstructure:"SWEEP_PAGE_SIZE"`
	SweepLeaseTTL    time.Duration `mapstructure:"SWEEP_LEASE_TTL"`
	TriggerWorkers   int           `mapstructure:"TRIGGER_WORKERS"`
	TriggerQueueSize int           `mapstructure:"TRIGGER_QUEUE_SIZE"`

	NotifyOutboxStream   string        `mapstructure:"NOTIFY_OUTBOX_STREAM"`
	NotifyDigestInterval time.Duration `mapstructure:"NOTIFY_DIGEST_INTERVAL"`

	// Comma-separated lists, split after unmarshalling.
	CORSOrigins          []string `mapstructure:"-"`
	RiskDeclineTerms     []string `mapstructure:"-"`
	RiskAbandonmentTerms []string `mapstructure:"-"`
	RiskFeverTerms       []string `mapstructure:"-"`
	RiskEngagementTags   []string `mapstructure:"-"`
}

var envKeys = []string{
	"PORT", "ENV", "LOG_LEVEL", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"REDIS_URL", "MIGRATIONS_DIR", "STORE_TIMEOUT", "SWEEP_INTERVAL",
	"SWEEP_WORKERS", "SWEEP_PAGE_SIZE", "SWEEP_LEASE_TTL", "TRIGGER_WORKERS",
	"TRIGGER_QUEUE_SIZE", "NOTIFY_OUTBOX_STREAM", "NOTIFY_DIGEST_INTERVAL",
	"CORS_ORIGINS", "RISK_DECLINE_TERMS", "RISK_ABANDONMENT_TERMS",
	"RISK_FEVER_TERMS", "RISK_ENGAGEMENT_TAGS",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("MIGRATIONS_DIR", "migrations")
	v.SetDefault("STORE_TIMEOUT", "5s")
	v.SetDefault("SWEEP_INTERVAL", "1h")
	v.SetDefault("SWEEP_WORKERS", 8)
	v.SetDefault("SWEEP_PAGE_SIZE", 200)
	v.SetDefault("SWEEP_LEASE_TTL", "50m")
	v.SetDefault("TRIGGER_WORKERS", 4)
	v.SetDefault("TRIGGER_QUEUE_SIZE", 256)
	v.SetDefault("NOTIFY_OUTBOX_STREAM", "tbrisk:alerts:outbox")
	v.SetDefault("NOTIFY_DIGEST_INTERVAL", "15m")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(v.GetString("CORS_ORIGINS"))
	cfg.RiskDeclineTerms = splitList(v.GetString("RISK_DECLINE_TERMS"))
	cfg.RiskAbandonmentTerms = splitList(v.GetString("RISK_ABANDONMENT_TERMS"))
	cfg.RiskFeverTerms = splitList(v.GetString("RISK_FEVER_TERMS"))
	cfg.RiskEngagementTags = splitList(v.GetString("RISK_ENGAGEMENT_TAGS"))

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the worker, timeout and logging settings are usable.
// Redis is optional; without it the sweep runs without a lease and the
// offline outbox is disabled.
func (c *Config) Validate() error {
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("LOG_LEVEL %q is not a valid level: %w", c.LogLevel, err)
	}
	if c.DBMaxConns <= 0 {
		return fmt.Errorf("DB_MAX_CONNS must be positive, got %d", c.DBMaxConns)
	}
	if c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS must be between 0 and DB_MAX_CONNS (%d), got %d", c.DBMaxConns, c.DBMinConns)
	}
	if c.StoreTimeout <= 0 {
		return fmt.Errorf("STORE_TIMEOUT must be positive, got %s", c.StoreTimeout)
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be positive, got %s", c.SweepInterval)
	}
	if c.SweepWorkers <= 0 {
		return fmt.Errorf("SWEEP_WORKERS must be positive, got %d", c.SweepWorkers)
	}
	if c.SweepPageSize <= 0 {
		return fmt.Errorf("SWEEP_PAGE_SIZE must be positive, got %d", c.SweepPageSize)
	}
	if c.RedisURL != "" && c.SweepLeaseTTL <= 0 {
		return fmt.Errorf("SWEEP_LEASE_TTL must be positive when REDIS_URL is set, got %s", c.SweepLeaseTTL)
	}
	if c.TriggerWorkers <= 0 {
		return fmt.Errorf("TRIGGER_WORKERS must be positive, got %d", c.TriggerWorkers)
	}
	if c.TriggerQueueSize < 0 {
		return fmt.Errorf("TRIGGER_QUEUE_SIZE must not be negative, got %d", c.TriggerQueueSize)
	}
	if c.RedisURL != "" && c.NotifyDigestInterval <= 0 {
		return fmt.Errorf("NOTIFY_DIGEST_INTERVAL must be positive when REDIS_URL is set, got %s", c.NotifyDigestInterval)
	}
	return nil
}

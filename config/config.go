package config

import (
	"fmt"
	"strings"
	"time"

	"sweepstakes-wallet/pkg/money"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Log         LogConfig         `mapstructure:"log"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Ledger      LedgerConfig      `mapstructure:"ledger"`
	Compliance  ComplianceConfig  `mapstructure:"compliance"`
	Approval    ApprovalConfig    `mapstructure:"approval"`
	Idempotency IdempotencyConfig `mapstructure:"idempotency"`
	Lock        LockConfig        `mapstructure:"lock"`
	Sweeper     SweeperConfig     `mapstructure:"sweeper"`
	RateLimit   RateLimitConfig   `mapstructure:"ratelimit"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug, release, test
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address string.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Pretty bool   `mapstructure:"pretty"` // human-readable output (dev only)
}

type StorageConfig struct {
	Driver         string `mapstructure:"driver"` // postgres, memory
	MigrateOnStart bool   `mapstructure:"migrate_on_start"`
}

// LedgerConfig bounds a single operation and its retries.
type LedgerConfig struct {
	MinWithdrawal  string        `mapstructure:"min_withdrawal"`
	MaxWithdrawal  string        `mapstructure:"max_withdrawal"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay"`
}

type ComplianceConfig struct {
	RestrictedStates      []string `mapstructure:"restricted_states"`
	EnhancedKYCStates     []string `mapstructure:"enhanced_kyc_states"`
	EnhancedKYCThreshold  string   `mapstructure:"enhanced_kyc_threshold"`
	DailyWithdrawalLimit  string   `mapstructure:"daily_withdrawal_limit"`
	WeeklyWithdrawalLimit string   `mapstructure:"weekly_withdrawal_limit"`
	AMOEAmount            string   `mapstructure:"amoe_amount"`
	AMOEPerDay            int      `mapstructure:"amoe_per_day"`
	AMOEPer30Days         int      `mapstructure:"amoe_per_30_days"`
}

type ApprovalConfig struct {
	Threshold       string        `mapstructure:"threshold"`
	TripleThreshold string        `mapstructure:"triple_threshold"`
	Expiry          time.Duration `mapstructure:"expiry"`
	ExemptGold      bool          `mapstructure:"exempt_gold"`
}

type IdempotencyConfig struct {
	TTL          time.Duration `mapstructure:"ttl"`
	PendingLease time.Duration `mapstructure:"pending_lease"`
	PollTimeout  time.Duration `mapstructure:"poll_timeout"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

type LockConfig struct {
	Driver  string        `mapstructure:"driver"` // local, redis
	TTL     time.Duration `mapstructure:"ttl"`
	Tries   int           `mapstructure:"tries"`
	Stripes int           `mapstructure:"stripes"`
}

type SweeperConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule"` // robfig/cron spec, e.g. "@every 1m"
}

// RateLimitConfig caps write requests per wallet owner. Needs Redis.
type RateLimitConfig struct {
	Enabled               bool  `mapstructure:"enabled"`
	TransactionsPerMinute int64 `mapstructure:"transactions_per_minute"`
	DecisionsPerMinute    int64 `mapstructure:"decisions_per_minute"`
}

// Load reads configuration from file and environment variables.
// Environment variables override file values. Prefix: SWL_ (Sweepstakes Wallet Ledger).
// Nested keys use underscore: SWL_DATABASE_HOST, SWL_APPROVAL_THRESHOLD, etc.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "sweepstakes_wallet")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("storage.driver", "postgres")
	v.SetDefault("storage.migrate_on_start", true)
	v.SetDefault("ledger.min_withdrawal", "50.0000")
	v.SetDefault("ledger.max_withdrawal", "5000.0000")
	v.SetDefault("ledger.max_attempts", 3)
	v.SetDefault("ledger.retry_base_delay", "50ms")
	v.SetDefault("compliance.restricted_states", []string{"WA", "ID"})
	v.SetDefault("compliance.enhanced_kyc_states", []string{"NY", "FL", "TX"})
	v.SetDefault("compliance.enhanced_kyc_threshold", "2000.0000")
	v.SetDefault("compliance.daily_withdrawal_limit", "5000.0000")
	v.SetDefault("compliance.weekly_withdrawal_limit", "25000.0000")
	v.SetDefault("compliance.amoe_amount", "5.0000")
	v.SetDefault("compliance.amoe_per_day", 1)
	v.SetDefault("compliance.amoe_per_30_days", 30)
	v.SetDefault("approval.threshold", "500.0000")
	v.SetDefault("approval.triple_threshold", "10000.0000")
	v.SetDefault("approval.expiry", "48h")
	v.SetDefault("approval.exempt_gold", false)
	v.SetDefault("idempotency.ttl", "24h")
	v.SetDefault("idempotency.pending_lease", "30s")
	v.SetDefault("idempotency.poll_timeout", "2s")
	v.SetDefault("idempotency.poll_interval", "50ms")
	v.SetDefault("lock.driver", "local")
	v.SetDefault("lock.ttl", "10s")
	v.SetDefault("lock.tries", 32)
	v.SetDefault("lock.stripes", 256)
	v.SetDefault("sweeper.enabled", true)
	v.SetDefault("sweeper.schedule", "@every 1m")
	v.SetDefault("ratelimit.enabled", true)
	v.SetDefault("ratelimit.transactions_per_minute", 120)
	v.SetDefault("ratelimit.decisions_per_minute", 30)

	// File config
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Environment variables: SWL_DATABASE_HOST -> database.host
	v.SetEnvPrefix("SWL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (not required, env vars can suffice)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects settings the services cannot run with.
func (c *Config) Validate() error {
	amounts := map[string]string{
		"ledger.min_withdrawal":              c.Ledger.MinWithdrawal,
		"ledger.max_withdrawal":              c.Ledger.MaxWithdrawal,
		"compliance.daily_withdrawal_limit":  c.Compliance.DailyWithdrawalLimit,
		"compliance.weekly_withdrawal_limit": c.Compliance.WeeklyWithdrawalLimit,
		"compliance.amoe_amount":             c.Compliance.AMOEAmount,
		"compliance.enhanced_kyc_threshold":  c.Compliance.EnhancedKYCThreshold,
		"approval.threshold":                 c.Approval.Threshold,
		"approval.triple_threshold":          c.Approval.TripleThreshold,
	}
	for key, raw := range amounts {
		if _, err := money.NormalizeNonNegative(raw); err != nil {
			return fmt.Errorf("config %s: %w", key, err)
		}
	}

	switch c.Storage.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("config storage.driver: unsupported %q", c.Storage.Driver)
	}

	switch c.Lock.Driver {
	case "local":
	case "redis":
		if !c.Redis.Enabled {
			return fmt.Errorf("config lock.driver: redis lock requires redis.enabled")
		}
	default:
		return fmt.Errorf("config lock.driver: unsupported %q", c.Lock.Driver)
	}

	if c.RateLimit.Enabled && (c.RateLimit.TransactionsPerMinute < 1 || c.RateLimit.DecisionsPerMinute < 1) {
		return fmt.Errorf("config ratelimit: per-minute limits must be at least 1")
	}

	if c.Ledger.MaxAttempts < 1 {
		return fmt.Errorf("config ledger.max_attempts: must be at least 1")
	}
	if c.Approval.Expiry <= 0 || c.Idempotency.TTL <= 0 {
		return fmt.Errorf("config: approval.expiry and idempotency.ttl must be positive")
	}
	if c.Idempotency.PendingLease <= 0 || c.Idempotency.PendingLease >= c.Idempotency.TTL {
		return fmt.Errorf("config idempotency.pending_lease: must be positive and shorter than idempotency.ttl")
	}

	for i, s := range c.Compliance.RestrictedStates {
		c.Compliance.RestrictedStates[i] = strings.ToUpper(strings.TrimSpace(s))
	}
	for i, s := range c.Compliance.EnhancedKYCStates {
		c.Compliance.EnhancedKYCStates[i] = strings.ToUpper(strings.TrimSpace(s))
	}

	return nil
}

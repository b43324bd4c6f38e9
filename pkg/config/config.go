package config

import (
	"fmt"
	"strings"
	"time"
)

// Config holds runtime configuration for the EarnyHa bot.
type Config struct {
	AppEnv string `mapstructure:"app_env"`

	Bot       BotConfig       `mapstructure:"bot"`
	Ledger    LedgerConfig    `mapstructure:"ledger"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Server    ServerConfig    `mapstructure:"server"`
	Logger    LoggerConfig    `mapstructure:"logger"`
	Sentry    SentryConfig    `mapstructure:"sentry"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Jobs      JobsConfig      `mapstructure:"jobs"`
	State     StateConfig     `mapstructure:"state"`
	Cache     CacheConfig     `mapstructure:"cache"`
}

// BotConfig configures the Telegram transport.
type BotConfig struct {
	Token      string        `mapstructure:"token" validate:"required"`
	Username   string        `mapstructure:"username"`
	Mode       string        `mapstructure:"mode" validate:"oneof=polling webhook"`
	Timeout    time.Duration `mapstructure:"timeout"`
	WebhookURL string        `mapstructure:"webhook_url" validate:"required_if=Mode webhook"`
	ListenAddr string        `mapstructure:"listen_addr"`
	AdminIDs   []int64       `mapstructure:"admin_ids"`
}

// IsAdmin reports whether id belongs to a configured administrator.
func (c BotConfig) IsAdmin(id int64) bool {
	for _, adminID := range c.AdminIDs {
		if adminID == id {
			return true
		}
	}
	return false
}

// LedgerConfig carries the program rules. Amounts are decimal strings in
// major currency units and are fixed for the lifetime of the process.
type LedgerConfig struct {
	ReferralBonus   string        `mapstructure:"referral_bonus" validate:"required"`
	MinWithdrawal   string        `mapstructure:"min_withdrawal" validate:"required"`
	StrictReferrals bool          `mapstructure:"strict_referrals"`
	TxTimeout       time.Duration `mapstructure:"tx_timeout"`
	CurrencySymbol  string        `mapstructure:"currency_symbol"`
}

// DatabaseConfig selects and configures the SQL backend.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver" validate:"oneof=postgres sqlite"`
	Host            string        `mapstructure:"host" validate:"required_if=Driver postgres"`
	Port            string        `mapstructure:"port"`
	User            string        `mapstructure:"user" validate:"required_if=Driver postgres"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name" validate:"required_if=Driver postgres"`
	SSLMode         string        `mapstructure:"sslmode"`
	Path            string        `mapstructure:"path" validate:"required_if=Driver sqlite"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" validate:"gte=0"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
}

// DSN returns the driver specific connection string.
func (c DatabaseConfig) DSN() string {
	if c.Driver == "sqlite" {
		return fmt.Sprintf(
			"file:%s?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_txlock=immediate",
			c.Path,
		)
	}

	connectTimeout := int(c.ConnectTimeout.Seconds())
	if connectTimeout <= 0 {
		connectTimeout = 5
	}

	return fmt.Sprintf(
		"host=%s port=%s user=%s password='%s' dbname=%s sslmode=%s connect_timeout=%d",
		c.Host,
		c.Port,
		c.User,
		pqQuoter.Replace(c.Password),
		c.Name,
		c.SSLMode,
		connectTimeout,
	)
}

var pqQuoter = strings.NewReplacer(`\`, `\\`, `'`, `\'`)

// RedisConfig configures the shared Redis connection.
type RedisConfig struct {
	Addr         string        `mapstructure:"addr" validate:"required"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db" validate:"gte=0"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PoolTimeout  time.Duration `mapstructure:"pool_timeout"`
	MaxRetries   int           `mapstructure:"max_retries"`
}

// ServerConfig configures the health and metrics HTTP server.
type ServerConfig struct {
	Port            string        `mapstructure:"port" validate:"required"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LoggerConfig configures slog output.
type LoggerConfig struct {
	Level      string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format     string `mapstructure:"format" validate:"oneof=json text"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// SentryConfig configures error reporting.
type SentryConfig struct {
	Enabled          bool    `mapstructure:"enabled"`
	DSN              string  `mapstructure:"dsn" validate:"required_if=Enabled true"`
	Environment      string  `mapstructure:"environment"`
	TracesSampleRate float64 `mapstructure:"traces_sample_rate" validate:"gte=0,lte=1"`
}

// RateLimitRule is a request budget per window, for example 5 per "1m".
type RateLimitRule struct {
	Limit  int    `mapstructure:"limit" validate:"gte=0"`
	Window string `mapstructure:"window"`
}

// RateLimitConfig holds the limiter rules. It is the only section that is
// reloaded when the config file changes.
type RateLimitConfig struct {
	Enabled   bool                     `mapstructure:"enabled"`
	Global    RateLimitRule            `mapstructure:"global"`
	PerUser   RateLimitRule            `mapstructure:"per_user"`
	Commands  map[string]RateLimitRule `mapstructure:"commands"`
	Whitelist []int64                  `mapstructure:"whitelist"`
}

// JobsConfig configures the background worker.
type JobsConfig struct {
	Concurrency int    `mapstructure:"concurrency" validate:"gte=1"`
	ReportCron  string `mapstructure:"report_cron"`
}

// StateConfig configures the conversation state storage.
type StateConfig struct {
	TTL             time.Duration `mapstructure:"ttl"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

// CacheConfig configures the user profile cache.
type CacheConfig struct {
	UserTTL time.Duration `mapstructure:"user_ttl"`
}

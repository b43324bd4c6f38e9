// Package config provides configuration loading and validation utilities.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	validator "github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// legacyEnv maps config keys to the environment names used by the first
// deployment of the bot.
var legacyEnv = map[string][]string{
	"bot.token":             {"BOT_TOKEN", "TELEGRAM_BOT_TOKEN"},
	"bot.admin_ids":         {"BOT_ADMIN_IDS", "ADMIN_ID"},
	"ledger.referral_bonus": {"LEDGER_REFERRAL_BONUS", "REFERRAL_BONUS"},
	"ledger.min_withdrawal": {"LEDGER_MIN_WITHDRAWAL", "MIN_WITHDRAWAL"},
}

// Load reads configuration from YAML files and environment variables, validates it, and returns the resulting Config.
func Load() (*Config, *viper.Viper, error) {
	for _, file := range []string{".env.local", ".env"} {
		// missing env files are fine, the process env may carry everything
		_ = godotenv.Load(file)
	}

	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "development"
	}

	return LoadFrom(fmt.Sprintf("./configs/%s.yaml", env), env)
}

// LoadFrom reads the YAML file at path, overlays the environment and
// validates the result. A missing file leaves defaults and env in place.
func LoadFrom(path, env string) (*Config, *viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, names := range legacyEnv {
		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return nil, nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var pathErr *fs.PathError
		if !errors.As(err, &pathErr) {
			return nil, nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, nil, err
	}
	cfg.AppEnv = env

	return cfg, v, nil
}

// WatchRateLimits re-reads the config file on change and hands the new
// rate limit section to apply. Other sections stay as loaded at startup.
func WatchRateLimits(v *viper.Viper, apply func(RateLimitConfig), onError func(error)) {
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}

		var rl RateLimitConfig
		if err := v.UnmarshalKey("rate_limit", &rl); err != nil {
			if onError != nil {
				onError(fmt.Errorf("reload rate limits from %s: %w", e.Name, err))
			}
			return
		}
		apply(rl)
	})
	v.WatchConfig()
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("bot.token", "")
	v.SetDefault("bot.username", "")
	v.SetDefault("bot.mode", "polling")
	v.SetDefault("bot.timeout", 10*time.Second)
	v.SetDefault("bot.webhook_url", "")
	v.SetDefault("bot.listen_addr", ":8443")
	v.SetDefault("bot.admin_ids", []int64{})

	v.SetDefault("ledger.referral_bonus", "10.00")
	v.SetDefault("ledger.min_withdrawal", "50.00")
	v.SetDefault("ledger.strict_referrals", false)
	v.SetDefault("ledger.tx_timeout", 5*time.Second)
	v.SetDefault("ledger.currency_symbol", "₹")

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.user", "earnyha")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "earnyha")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.path", "earnyha.db")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)
	v.SetDefault("database.connect_timeout", 5*time.Second)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 20)
	v.SetDefault("redis.min_idle_conns", 2)
	v.SetDefault("redis.dial_timeout", 5*time.Second)
	v.SetDefault("redis.read_timeout", 3*time.Second)
	v.SetDefault("redis.write_timeout", 3*time.Second)
	v.SetDefault("redis.pool_timeout", 4*time.Second)
	v.SetDefault("redis.max_retries", 3)

	v.SetDefault("server.port", "8080")
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
	v.SetDefault("logger.file", "")
	v.SetDefault("logger.max_size_mb", 100)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age_days", 28)
	v.SetDefault("logger.compress", true)

	v.SetDefault("sentry.enabled", false)
	v.SetDefault("sentry.dsn", "")
	v.SetDefault("sentry.environment", "")
	v.SetDefault("sentry.traces_sample_rate", 0.0)

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.global.limit", 30)
	v.SetDefault("rate_limit.global.window", "1s")
	v.SetDefault("rate_limit.per_user.limit", 20)
	v.SetDefault("rate_limit.per_user.window", "1m")
	v.SetDefault("rate_limit.commands", map[string]any{
		"withdraw": map[string]any{"limit": 3, "window": "1m"},
		"start":    map[string]any{"limit": 5, "window": "1m"},
		"admin":    map[string]any{"limit": 30, "window": "1m"},
	})
	v.SetDefault("rate_limit.whitelist", []int64{})

	v.SetDefault("jobs.concurrency", 5)
	v.SetDefault("jobs.report_cron", "0 9 * * *")

	v.SetDefault("state.ttl", 30*time.Minute)
	v.SetDefault("state.cleanup_interval", 10*time.Minute)

	v.SetDefault("cache.user_ttl", 5*time.Minute)
}

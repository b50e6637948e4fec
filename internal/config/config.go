// Package config loads the service configuration from the environment,
// optionally seeded from a .env file. Values are read once at startup.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/snips/portfolio-engine/internal/account"
	"github.com/snips/portfolio-engine/internal/jobs"
	"github.com/snips/portfolio-engine/internal/ledger"
	"github.com/snips/portfolio-engine/internal/model"
	"github.com/snips/portfolio-engine/internal/rewards"
	"github.com/snips/portfolio-engine/internal/stats"
	"github.com/snips/portfolio-engine/internal/xp"
)

// Config is the complete service configuration.
type Config struct {
	Port        string        `env:"PORT" envDefault:"8080"`
	DatabaseURL string        `env:"DATABASE_URL"`
	RedisURL    string        `env:"REDIS_URL"`
	CacheTTL    time.Duration `env:"CACHE_TTL" envDefault:"30s"`
	LogLevel    string        `env:"LOG_LEVEL" envDefault:"info"`

	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string   `env:"KAFKA_TOPIC" envDefault:"portfolio-events"`

	Ledger  ledger.Config
	Stats   stats.Config
	XP      xp.Config
	Rewards rewards.Config
	Account account.Config
	Jobs    jobs.Config
}

// Load reads .env when present, then parses the environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return Parse(nil)
}

// Parse parses the configuration from environ, or from the process
// environment when environ is nil.
func Parse(environ map[string]string) (Config, error) {
	var cfg Config
	opts := env.Options{}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("%w: %w", model.ErrConfiguration, err)
	}
	if _, err := ParseLevel(cfg.LogLevel); err != nil {
		return Config{}, err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	var errs []error
	check := func(ok bool, name string, v any) {
		if !ok {
			errs = append(errs, fmt.Errorf("%w: %s out of range: %v", model.ErrConfiguration, name, v))
		}
	}
	check(!c.Ledger.StartingCash.IsNegative(), "STARTING_CASH", c.Ledger.StartingCash)
	check(c.Ledger.MaxPortfoliosFree >= 0, "MAX_PORTFOLIOS_FREE", c.Ledger.MaxPortfoliosFree)
	check(c.Ledger.MaxPortfoliosPremium >= 0, "MAX_PORTFOLIOS_PREMIUM", c.Ledger.MaxPortfoliosPremium)
	check(c.Stats.RefreshTimeout >= 0, "STATS_REFRESH_TIMEOUT", c.Stats.RefreshTimeout)
	check(c.Account.NewUserCredits >= 0, "NEW_USER_CREDITS", c.Account.NewUserCredits)
	check(c.Account.PremiumCredits >= 0, "PREMIUM_CREDITS", c.Account.PremiumCredits)
	check(c.Account.AIMessageFee >= 0, "AI_MESSAGE_FEE", c.Account.AIMessageFee)
	check(c.Account.CreditRefillFloor >= 0, "CREDIT_REFILL_FLOOR", c.Account.CreditRefillFloor)
	return errors.Join(append(errs, c.XP.Validate())...)
}

// ParseLevel maps debug|info|warn|error onto a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("%w: unknown log level %q", model.ErrConfiguration, s)
}

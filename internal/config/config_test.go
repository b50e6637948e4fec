package config_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snips/portfolio-engine/internal/config"
	"github.com/snips/portfolio-engine/internal/jobs"
	"github.com/snips/portfolio-engine/internal/model"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := config.Parse(map[string]string{})
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 30*time.Second, cfg.CacheTTL)
	assert.Equal(t, "portfolio-events", cfg.KafkaTopic)
	assert.Empty(t, cfg.KafkaBrokers)

	assert.Equal(t, "1000", cfg.Ledger.StartingCash.String())
	assert.Equal(t, 1, cfg.Ledger.MaxPortfoliosFree)
	assert.Equal(t, 5, cfg.Ledger.MaxPortfoliosPremium)
	assert.Equal(t, 60*time.Second, cfg.Stats.RefreshTimeout)
	assert.EqualValues(t, 500, cfg.XP.Signup)
	assert.Equal(t, "0.1", cfg.XP.ReferrerYieldFactor.String())
	assert.Equal(t, 18*time.Hour, cfg.Rewards.DailyInterval)
	assert.EqualValues(t, 15000, cfg.Account.PremiumCredits)
	assert.Equal(t, "0 0 0 * * MON", cfg.Jobs.WeeklyReset)
}

func TestParse_Overrides(t *testing.T) {
	cfg, err := config.Parse(map[string]string{
		"PORT":               "9090",
		"KAFKA_BROKERS":      "k1:9092,k2:9092",
		"MAX_REFERRER_LEVEL": "3",
		"STARTING_CASH":      "2500.50",
		"CRON_STATS_REFRESH": jobs.Disabled,
		"LOG_LEVEL":          "DEBUG",
	})
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 3, cfg.XP.MaxReferrerLevel)
	assert.Equal(t, "2500.5", cfg.Ledger.StartingCash.String())
	assert.Equal(t, jobs.Disabled, cfg.Jobs.StatsRefresh)
}

func TestParse_Invalid(t *testing.T) {
	for name, environ := range map[string]map[string]string{
		"log level": {"LOG_LEVEL": "loud"},
		"int":       {"XP_SIGNUP": "lots"},
		"duration":  {"REWARD_DAILY_INTERVAL": "a day"},
		"decimal":   {"STARTING_CASH": "many"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := config.Parse(environ)
			require.ErrorIs(t, err, model.ErrConfiguration)
		})
	}
}

func TestParse_OutOfRange(t *testing.T) {
	for name, environ := range map[string]map[string]string{
		"coins per xp":    {"SELL_PROFIT_COINS_PER_XP": "0"},
		"referrer level":  {"MAX_REFERRER_LEVEL": "-1"},
		"window":          {"XP_LIMIT_WINDOW": "0s"},
		"buy cap":         {"BUY_UNIQUE_INSTRUMENTS": "-1"},
		"sell cap":        {"SELL_PROFIT_MAX_DAILY_XP": "-5"},
		"message cap":     {"FEED_MESSAGE_TRANSACTIONS": "-1"},
		"yield factor":    {"REFERRER_YIELD_FACTOR": "-0.1"},
		"starting cash":   {"STARTING_CASH": "-1"},
		"portfolio cap":   {"MAX_PORTFOLIOS_FREE": "-1"},
		"refresh timeout": {"STATS_REFRESH_TIMEOUT": "-1s"},
		"ai message fee":  {"AI_MESSAGE_FEE": "-100"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := config.Parse(environ)
			require.ErrorIs(t, err, model.ErrConfiguration)
		})
	}
}

func TestParse_ReportsEveryRangeError(t *testing.T) {
	_, err := config.Parse(map[string]string{
		"SELL_PROFIT_COINS_PER_XP": "0",
		"MAX_REFERRER_LEVEL":       "-1",
	})
	require.ErrorIs(t, err, model.ErrConfiguration)
	assert.Contains(t, err.Error(), "SELL_PROFIT_COINS_PER_XP")
	assert.Contains(t, err.Error(), "MAX_REFERRER_LEVEL")
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"":        slog.LevelInfo,
		"debug":   slog.LevelDebug,
		"WARNING": slog.LevelWarn,
		"error":   slog.LevelError,
	} {
		got, err := config.ParseLevel(in)
		require.NoError(t, err)
		assert.Equal(t, want, got, in)
	}
}

func TestLoad_ReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("KAFKA_TOPIC=from-dotenv\n"), 0o600))
	chdir(t, dir)
	t.Setenv("PORT", "7070")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.KafkaTopic)
	assert.Equal(t, "7070", cfg.Port)
	// godotenv sets the process environment; drop it for later tests.
	require.NoError(t, os.Unsetenv("KAFKA_TOPIC"))
}

func TestLoad_WithoutDotEnv(t *testing.T) {
	chdir(t, t.TempDir())
	_, err := config.Load()
	require.NoError(t, err)
}

func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(wd) })
}

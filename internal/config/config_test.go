package config

import (
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "QUOTE_RATE")
	unsetEnvWithCleanup(t, "LOCK_LEASE_SECONDS")
	unsetEnvWithCleanup(t, "WEBHOOK_FRESHNESS_WINDOW_SECONDS")

	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	assert.True(t, cfg.QuoteRate.Equal(decimal.RequireFromString("0.00025")))
	assert.True(t, cfg.FeeStandardFixed.Equal(decimal.NewFromInt(400)))
	assert.Equal(t, 5*time.Minute, cfg.LockLease())
	assert.Equal(t, 5*time.Minute, cfg.FreshnessWindow())
	assert.Equal(t, 24*time.Hour, cfg.WebhookDedupeTTL)
	assert.Equal(t, "COP", cfg.QuoteSourceCurrency)
	assert.Equal(t, "USD", cfg.QuoteTargetCurrency)
}

func TestLoadConfig_EnvironmentOverrides(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "QUOTE_RATE", "0.0003")
	setEnvWithCleanup(t, "QUOTE_TARGET_CURRENCY", " usd ")
	setEnvWithCleanup(t, "WEBHOOK_DEDUPE_TTL", "2h")
	setEnvWithCleanup(t, "CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")

	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	assert.True(t, cfg.QuoteRate.Equal(decimal.RequireFromString("0.0003")))
	assert.Equal(t, "USD", cfg.QuoteTargetCurrency)
	assert.Equal(t, 2*time.Hour, cfg.WebhookDedupeTTL)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSAllowedOrigins)
}

func TestLoadConfig_PortAliasWins(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "SERVER_PORT", "8080")
	setEnvWithCleanup(t, "PORT", "9191")

	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "9191", cfg.ServerPort)
}

func TestLoadConfig_NegativeFeesCoercedToZero(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "FEE_STANDARD_NOBA", "-1")

	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)
	assert.True(t, cfg.FeeStandardNoba.IsZero())
}

func TestLoadConfig_InvalidDecimalFails(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "QUOTE_RATE", "not-a-number")

	_, err := LoadConfig(t.TempDir())
	assert.Error(t, err)
}

func setEnvWithCleanup(t *testing.T, key string, value string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Setenv(key, value); err != nil {
		t.Fatalf("failed to set env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}

func unsetEnvWithCleanup(t *testing.T, key string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Unsetenv(key); err != nil {
		t.Fatalf("failed to unset env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}

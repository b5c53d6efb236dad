package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg := LoadConfig()

	assert.Equal(t, "https://eventos.grupoglk.com.br/api", cfg.APIBaseURL)
	assert.Equal(t, 5*time.Second, cfg.PollInterval)
	assert.Equal(t, 5, cfg.WidgetInitAttempts)
	assert.True(t, decimal.NewFromInt(200).Equal(cfg.PriceBox))
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("POLL_INTERVAL", "2s")
	t.Setenv("PRICE_PARKING", "15.50")
	t.Setenv("POLL_MAX_FAILURES", "3")
	t.Setenv("ENABLE_METRICS", "false")

	cfg := LoadConfig()

	assert.Equal(t, 2*time.Second, cfg.PollInterval)
	assert.True(t, decimal.RequireFromString("15.50").Equal(cfg.PriceParking))
	assert.Equal(t, 3, cfg.PollMaxFailures)
	assert.False(t, cfg.EnableMetrics)
}

func TestGetEnvHelpers_FallBackOnGarbage(t *testing.T) {
	t.Setenv("X_DURATION", "soon")
	t.Setenv("X_INT", "many")
	t.Setenv("X_DECIMAL", "free")

	assert.Equal(t, time.Minute, getEnvAsDuration("X_DURATION", "1m"))
	assert.Equal(t, 7, getEnvAsInt("X_INT", 7))
	assert.True(t, decimal.RequireFromString("9.99").Equal(getEnvAsDecimal("X_DECIMAL", "9.99")))
}

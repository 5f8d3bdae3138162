package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roamwire/roamwire/internal/pkg/env"
)

func TestLoadDefaults(t *testing.T) {
	env.Env = map[string]string{}
	t.Cleanup(func() { env.Env = nil })

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, cfg.Discounts.ReservationTTL)
	assert.Equal(t, 5*time.Second, cfg.Notifications.Timeout)
	assert.Equal(t, 10, cfg.Ledger.MaxAttempts)
	assert.True(t, cfg.Features.DiscountsEnabled)
	assert.False(t, cfg.Features.WalletTopUp)
}

func TestLoadFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "roamwire.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
pricing:
  minimum_profit_margin: 125
discounts:
  reservation_ttl: 15m
notifications:
  driver: kafka
  kafka:
    brokers: ["kafka-1:9092"]
features:
  wallet_top_up: true
`), 0o600))

	env.Env = map[string]string{
		"CONFIG_FILE":         path,
		"LEDGER_MAX_ATTEMPTS": "4",
		"NOTIFY_TIMEOUT":      "2s",
	}
	t.Cleanup(func() { env.Env = nil })

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, int64(125), cfg.Pricing.MinimumProfitMargin)
	assert.Equal(t, 15*time.Minute, cfg.Discounts.ReservationTTL)
	assert.Equal(t, "kafka", cfg.Notifications.Driver)
	assert.Equal(t, []string{"kafka-1:9092"}, cfg.Notifications.Kafka.Brokers)
	assert.Equal(t, "notifications.activation", cfg.Notifications.Kafka.Topic)
	assert.Equal(t, 4, cfg.Ledger.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Notifications.Timeout)
	assert.True(t, cfg.Features.WalletTopUp)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative margin", func(c *Config) { c.Pricing.MinimumProfitMargin = -1 }},
		{"zero ttl", func(c *Config) { c.Discounts.ReservationTTL = 0 }},
		{"no attempts", func(c *Config) { c.Ledger.MaxAttempts = 0 }},
		{"unknown driver", func(c *Config) { c.Notifications.Driver = "pigeon" }},
		{"kafka without brokers", func(c *Config) { c.Notifications.Driver = "kafka" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	assert.NoError(t, Default().Validate())
}

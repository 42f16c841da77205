package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
server:
  port: 9090
mysql:
  host: db.internal
  database: settlement_test
settlement:
  default_commission_rate: "12.5"
  category_rates:
    gift_card: "0"
  holding_period_days: 3
jobs:
  sweep_batch_size: 20
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 10, cfg.Server.RequestTimeoutSeconds)
	assert.Equal(t, "db.internal", cfg.MySQL.Host)
	assert.Equal(t, 3306, cfg.MySQL.Port)
	assert.Equal(t, "12.5", cfg.Settlement.DefaultCommissionRate)
	assert.Equal(t, "0", cfg.Settlement.CategoryRates["gift_card"])
	assert.Equal(t, 3, cfg.Settlement.HoldingPeriodDays)
	assert.Equal(t, int64(1000), cfg.Settlement.MinimumPayoutAmount)
	assert.Equal(t, 20, cfg.Jobs.SweepBatchSize)
	assert.Equal(t, 5, cfg.Jobs.OutboxMaxRetryCount)
	assert.Equal(t, "payment.confirmed", cfg.Kafka.Topic.PaymentConfirmed)
}

func TestLoadDefaultTiers(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Len(t, cfg.Settlement.Tiers, 4)
	assert.Equal(t, "bronze", cfg.Settlement.Tiers[0].Name)
	assert.Equal(t, int64(10_000_000), cfg.Settlement.Tiers[3].MinVolume)
	assert.Equal(t, "8", cfg.Settlement.Tiers[3].Rate)
	assert.Equal(t, []string{"bank_transfer", "paypal", "wallet"}, cfg.Settlement.PayoutMethods)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("SETTLEMENT_MYSQL_HOST", "10.0.0.8")
	t.Setenv("SETTLEMENT_SETTLEMENT_HOLDING_PERIOD_DAYS", "14")

	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.8", cfg.MySQL.Host)
	assert.Equal(t, 14, cfg.Settlement.HoldingPeriodDays)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

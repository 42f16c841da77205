// Package testutil 测试用的 sqlite 数据库、配置和可控时钟
package testutil

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"settlement/internal/config"
	"settlement/internal/infrastructure/database"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// NewDB 每个测试一个临时 sqlite 文件，表结构与线上一致
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("%s?_busy_timeout=5000&_journal_mode=WAL", filepath.Join(t.TempDir(), "settlement.db"))
	db, err := database.Open(sqlite.Open(dsn), false)
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// Config 默认测试配置：7天结算周期，提现 10.00 - 10000.00，不自动审核
func Config() *config.Config {
	return &config.Config{
		Kafka: config.KafkaConfig{
			Topic: config.KafkaTopicConfig{
				Notification:     "settlement.notification",
				PaymentConfirmed: "payment.confirmed",
			},
		},
		Settlement: config.SettlementConfig{
			DefaultCommissionRate: "15",
			CategoryRates:         map[string]string{},
			Tiers: []config.TierConfig{
				{Name: "bronze", MinVolume: 0, Rate: "15"},
				{Name: "silver", MinVolume: 1_000_000, Rate: "12"},
				{Name: "gold", MinVolume: 5_000_000, Rate: "10"},
				{Name: "platinum", MinVolume: 10_000_000, Rate: "8"},
			},
			HoldingPeriodDays:   7,
			MinimumPayoutAmount: 1000,
			MaximumPayoutAmount: 1_000_000,
			PayoutMethods:       []string{"bank_transfer", "paypal", "wallet"},
		},
		Jobs: config.JobsConfig{
			SweepBatchSize:        2,
			CompensateBatchSize:   50,
			CompensateMaxAttempts: 5,
			OutboxBatchSize:       100,
			OutboxMaxRetryCount:   3,
		},
	}
}

// Clock 可手动推进的时钟，时间精确到秒
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(start time.Time) *Clock {
	return &Clock{now: start.UTC().Truncate(time.Second)}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d).Truncate(time.Second)
}

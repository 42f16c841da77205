package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type TierSetting struct {
	Name      string          `json:"name"`
	MinVolume int64           `json:"min_volume"`
	Rate      decimal.Decimal `json:"rate"`
}

// SettlementSettings 版本化的结算配置，最新版本生效，只插入不修改
type SettlementSettings struct {
	ID                   int64                      `gorm:"primaryKey;autoIncrement" json:"id"`
	Version              int64                      `gorm:"uniqueIndex;not null" json:"version"`
	DefaultRate          decimal.Decimal            `gorm:"type:decimal(6,3);not null" json:"default_rate"`
	CategoryRates        map[string]decimal.Decimal `gorm:"serializer:json;type:text" json:"category_rates"`
	Tiers                []TierSetting              `gorm:"serializer:json;type:text" json:"tiers"`
	HoldingPeriodDays    int                        `gorm:"not null" json:"holding_period_days"`
	MinimumPayoutAmount  int64                      `gorm:"not null" json:"minimum_payout_amount"`
	MaximumPayoutAmount  int64                      `gorm:"not null" json:"maximum_payout_amount"`
	AutoApproveThreshold int64                      `gorm:"not null;default:0" json:"auto_approve_threshold"`
	PayoutMethods        []string                   `gorm:"serializer:json;type:text" json:"payout_methods"`
	UpdatedBy            string                     `gorm:"type:varchar(64)" json:"updated_by"`
	CreatedAt            time.Time                  `gorm:"autoCreateTime" json:"created_at"`
}

func (SettlementSettings) TableName() string {
	return "settlement_settings"
}

package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// 收益状态：pending -> available -> processing -> paid，提现驳回时 processing -> available
const (
	EarningStatusPending    = "pending"
	EarningStatusAvailable  = "available"
	EarningStatusProcessing = "processing"
	EarningStatusPaid       = "paid"
)

var ValidEarningTransitions = map[string][]string{
	EarningStatusPending:    {EarningStatusAvailable},
	EarningStatusAvailable:  {EarningStatusProcessing},
	EarningStatusProcessing: {EarningStatusPaid, EarningStatusAvailable},
}

func CanEarningTransitionTo(currentStatus, targetStatus string) bool {
	return canTransition(ValidEarningTransitions, currentStatus, targetStatus)
}

// Earning 子订单在账本侧的对应记录，与 SubOrder 严格一对一（sub_order_id 唯一）
type Earning struct {
	ID               int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	SellerID         string          `gorm:"type:varchar(64);index:idx_earning_seller_status;not null" json:"seller_id"`
	SubOrderID       int64           `gorm:"uniqueIndex;not null" json:"sub_order_id"`
	OrderID          string          `gorm:"type:varchar(64);index;not null" json:"order_id"`
	GrossAmount      int64           `gorm:"not null" json:"gross_amount"`
	CommissionRate   decimal.Decimal `gorm:"type:decimal(6,3);not null" json:"commission_rate"`
	CommissionAmount int64           `gorm:"not null" json:"commission_amount"`
	NetAmount        int64           `gorm:"not null" json:"net_amount"`
	Status           string          `gorm:"type:varchar(20);index:idx_earning_seller_status;index:idx_earning_status_date;not null" json:"status"`
	AvailableDate    time.Time       `gorm:"index:idx_earning_status_date;not null" json:"available_date"`
	PayoutID         *int64          `gorm:"index" json:"payout_id"`
	NeedsAudit       bool            `gorm:"not null;default:false;index" json:"needs_audit"`
	AuditReason      string          `gorm:"type:varchar(256)" json:"audit_reason,omitempty"`
	OnHold           bool            `gorm:"not null;default:false;index" json:"on_hold"` // 子订单取消后冻结，不再到期也不能提现
	CreatedAt        time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Earning) TableName() string {
	return "earning"
}

package model

import (
	"time"
)

const (
	ReconKindSplitFailure      = "split_failure"
	ReconKindSubOrderCancelled = "sub_order_cancelled"
)

const (
	ReconStatusOpen     = "open"
	ReconStatusResolved = "resolved"
)

// ReconciliationItem 需要人工跟进的结算异常
type ReconciliationItem struct {
	ID         int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderID    string     `gorm:"type:varchar(64);index;not null" json:"order_id"`
	SellerID   string     `gorm:"type:varchar(64);index;not null" json:"seller_id"`
	SubOrderID *int64     `json:"sub_order_id,omitempty"`
	Kind       string     `gorm:"type:varchar(32);index:idx_recon_kind_status;not null" json:"kind"`
	Status     string     `gorm:"type:varchar(20);index:idx_recon_kind_status;not null" json:"status"`
	Detail     string     `gorm:"type:varchar(1024)" json:"detail"`
	Attempts   int        `gorm:"not null;default:0" json:"attempts"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy string     `gorm:"type:varchar(64)" json:"resolved_by,omitempty"`
	Note       string     `gorm:"type:varchar(512)" json:"note,omitempty"`
	CreatedAt  time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt  time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (ReconciliationItem) TableName() string {
	return "reconciliation_item"
}

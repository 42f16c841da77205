package model

import (
	"time"
)

// SellerBalance 卖家资金汇总，只能通过账本的条件更新修改，所有字段不得为负
type SellerBalance struct {
	ID                  int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	SellerID            string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"seller_id"`
	EscrowBalance       int64     `gorm:"not null;default:0" json:"escrow_balance"`
	PendingBalance      int64     `gorm:"not null;default:0" json:"pending_balance"`
	AvailableBalance    int64     `gorm:"not null;default:0" json:"available_balance"`
	TotalCommissionPaid int64     `gorm:"not null;default:0" json:"total_commission_paid"`
	Version             int       `gorm:"not null;default:0" json:"version"`
	CreatedAt           time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (SellerBalance) TableName() string {
	return "seller_balance"
}

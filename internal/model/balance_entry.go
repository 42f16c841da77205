package model

import (
	"time"
)

// 资金桶
const (
	BucketEscrow     = "escrow"
	BucketPending    = "pending"
	BucketAvailable  = "available"
	BucketCommission = "commission"
)

// 账本流水类型
const (
	EntryTypeEscrowHold     = "ESCROW_HOLD"
	EntryTypeEscrowRelease  = "ESCROW_RELEASE"
	EntryTypeEarningPending = "EARNING_PENDING"
	EntryTypeMatured        = "MATURED"
	EntryTypePayoutReserve  = "PAYOUT_RESERVE"
	EntryTypePayoutRelease  = "PAYOUT_RELEASE"
	EntryTypeCommission     = "COMMISSION"
)

// 关联对象类型
const (
	RefTypeSubOrder = "sub_order"
	RefTypeEarning  = "earning"
	RefTypePayout   = "payout"
)

// BalanceEntry 卖家账本流水，只追加不修改；一次资金移动会在两个桶各记一条
type BalanceEntry struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	EntryNo   string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"entry_no"`
	SellerID  string    `gorm:"type:varchar(64);index;not null" json:"seller_id"`
	Bucket    string    `gorm:"type:varchar(20);not null" json:"bucket"`
	Amount    int64     `gorm:"not null" json:"amount"` // 正数入桶，负数出桶
	Type      string    `gorm:"type:varchar(32);not null" json:"type"`
	RefType   string    `gorm:"type:varchar(20);index:idx_entry_ref;not null" json:"ref_type"`
	RefID     string    `gorm:"type:varchar(64);index:idx_entry_ref;not null" json:"ref_id"`
	Remark    string    `gorm:"type:varchar(256)" json:"remark"`
	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (BalanceEntry) TableName() string {
	return "balance_entry"
}

package model

import (
	"time"
)

const (
	PayoutStatusPendingApproval = "pending_approval"
	PayoutStatusApproved        = "approved"
	PayoutStatusRejected        = "rejected"
	PayoutStatusPaid            = "paid"
)

// approved 之后由外部打款回调推进到 paid
var ValidPayoutTransitions = map[string][]string{
	PayoutStatusPendingApproval: {PayoutStatusApproved, PayoutStatusRejected},
	PayoutStatusApproved:        {PayoutStatusPaid},
}

func CanPayoutTransitionTo(currentStatus, targetStatus string) bool {
	return canTransition(ValidPayoutTransitions, currentStatus, targetStatus)
}

// PayoutRequest 卖家提现申请
//
// Amount 是申请金额；ReservedAmount 是被锁定的整笔收益之和（>= Amount），也是实际打款金额
type PayoutRequest struct {
	ID                int64             `gorm:"primaryKey;autoIncrement" json:"id"`
	PayoutNo          string            `gorm:"type:varchar(64);uniqueIndex;not null" json:"payout_no"`
	RequestID         string            `gorm:"type:varchar(64);uniqueIndex;not null" json:"request_id"`
	SellerID          string            `gorm:"type:varchar(64);index;not null" json:"seller_id"`
	Amount            int64             `gorm:"not null" json:"amount"`
	ReservedAmount    int64             `gorm:"not null" json:"reserved_amount"`
	Method            string            `gorm:"type:varchar(32);not null" json:"method"`
	AccountDetails    map[string]string `gorm:"serializer:json;type:text" json:"account_details"`
	Status            string            `gorm:"type:varchar(20);index;not null" json:"status"`
	ApprovedAt        *time.Time        `json:"approved_at,omitempty"`
	ApprovedBy        string            `gorm:"type:varchar(64)" json:"approved_by,omitempty"`
	RejectedAt        *time.Time        `json:"rejected_at,omitempty"`
	RejectedBy        string            `gorm:"type:varchar(64)" json:"rejected_by,omitempty"`
	FailureReason     string            `gorm:"type:varchar(512)" json:"failure_reason,omitempty"`
	PaidAt            *time.Time        `json:"paid_at,omitempty"`
	ExternalReference string            `gorm:"type:varchar(128)" json:"external_reference,omitempty"`
	CreatedAt         time.Time         `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt         time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}

func (PayoutRequest) TableName() string {
	return "payout_request"
}

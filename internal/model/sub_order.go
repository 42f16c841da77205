package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// 子订单履约状态
const (
	FulfillmentPending   = "pending"
	FulfillmentConfirmed = "confirmed"
	FulfillmentShipped   = "shipped"
	FulfillmentDelivered = "delivered"
	FulfillmentCancelled = "cancelled"
)

// 只能逐级推进，取消只允许发生在发货前
var ValidFulfillmentTransitions = map[string][]string{
	FulfillmentPending:   {FulfillmentConfirmed, FulfillmentCancelled},
	FulfillmentConfirmed: {FulfillmentShipped, FulfillmentCancelled},
	FulfillmentShipped:   {FulfillmentDelivered},
}

func CanFulfillmentTransitionTo(currentStatus, targetStatus string) bool {
	return canTransition(ValidFulfillmentTransitions, currentStatus, targetStatus)
}

// SubOrderLine 子订单内的商品行快照
type SubOrderLine struct {
	ProductID  string `json:"product_id"`
	CategoryID string `json:"category_id"`
	UnitPrice  int64  `json:"unit_price"`
	Quantity   int64  `json:"quantity"`
}

// SubOrder 一个订单中属于某个卖家的部分，(order_id, seller_id) 唯一
type SubOrder struct {
	ID                int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	SubOrderNo        string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"sub_order_no"`
	OrderID           string          `gorm:"type:varchar(64);uniqueIndex:uk_order_seller;not null" json:"order_id"`
	SellerID          string          `gorm:"type:varchar(64);uniqueIndex:uk_order_seller;index:idx_seller_created;not null" json:"seller_id"`
	Items             []SubOrderLine  `gorm:"serializer:json;type:text" json:"items"`
	CategoryID        string          `gorm:"type:varchar(64);not null" json:"category_id"` // 计算佣金使用的主类目
	Subtotal          int64           `gorm:"not null" json:"subtotal"`
	CommissionRate    decimal.Decimal `gorm:"type:decimal(6,3);not null" json:"commission_rate"`
	CommissionAmount  int64           `gorm:"not null" json:"commission_amount"`
	SellerPayout      int64           `gorm:"not null" json:"seller_payout"`
	FulfillmentStatus string          `gorm:"type:varchar(20);index;not null" json:"fulfillment_status"`
	PayoutStatus      string          `gorm:"type:varchar(20);not null" json:"payout_status"`
	TrackingNumber    string          `gorm:"type:varchar(128)" json:"tracking_number,omitempty"`
	ConfirmedAt       *time.Time      `json:"confirmed_at,omitempty"`
	ShippedAt         *time.Time      `json:"shipped_at,omitempty"`
	DeliveredAt       *time.Time      `json:"delivered_at,omitempty"`
	CancelledAt       *time.Time      `json:"cancelled_at,omitempty"`
	CreatedAt         time.Time       `gorm:"autoCreateTime;index:idx_seller_created" json:"created_at"`
	UpdatedAt         time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (SubOrder) TableName() string {
	return "sub_order"
}

func (s *SubOrder) ItemCount() int64 {
	var n int64
	for _, it := range s.Items {
		n += it.Quantity
	}
	return n
}

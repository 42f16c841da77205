package model

import (
	"math"
	"time"
)

// 父订单聚合状态（由子订单履约状态汇总得出，仅作展示冗余）
const (
	OrderStatusPaid             = "paid"
	OrderStatusProcessing       = "processing"
	OrderStatusPartiallyShipped = "partially_shipped"
	OrderStatusShipped          = "shipped"
	OrderStatusDelivered        = "delivered"
	OrderStatusCancelled        = "cancelled"
)

// 拆单结算状态
const (
	SettlementStatusPending        = "pending"
	SettlementStatusSplit          = "split"
	SettlementStatusPartiallySplit = "partially_split"
)

// Order 支付成功后的订单快照，由支付确认入口创建，本系统只回写汇总状态
type Order struct {
	ID                     string     `gorm:"type:varchar(64);primaryKey" json:"id"`
	PayerID                string     `gorm:"type:varchar(64);index;not null" json:"payer_id"`
	Amount                 int64      `gorm:"not null" json:"amount"` // 订单总额（分）
	Currency               string     `gorm:"type:varchar(8);not null;default:USD" json:"currency"`
	Status                 string     `gorm:"type:varchar(20);index;not null" json:"status"`
	SettlementStatus       string     `gorm:"type:varchar(20);index;not null" json:"settlement_status"`
	ReconciliationRequired bool       `gorm:"not null;default:false;index" json:"reconciliation_required"`
	PaidAt                 time.Time  `gorm:"not null" json:"paid_at"`
	SplitAt                *time.Time `json:"split_at"`
	CreatedAt              time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt              time.Time  `gorm:"autoUpdateTime" json:"updated_at"`

	Items []*OrderItem `gorm:"-" json:"items,omitempty"`
}

func (Order) TableName() string {
	return "orders"
}

// OrderItem 订单行，价格/卖家/类目在下单时固化，后续商品变更不影响结算
type OrderItem struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderID    string    `gorm:"type:varchar(64);index;not null" json:"order_id"`
	ProductID  string    `gorm:"type:varchar(64);not null" json:"product_id"`
	SellerID   string    `gorm:"type:varchar(64);index;not null" json:"seller_id"`
	CategoryID string    `gorm:"type:varchar(64);not null" json:"category_id"`
	UnitPrice  int64     `gorm:"not null" json:"unit_price"`
	Quantity   int64     `gorm:"not null" json:"quantity"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (OrderItem) TableName() string {
	return "order_item"
}

func (i *OrderItem) LineTotal() int64 {
	return i.UnitPrice * i.Quantity
}

// CheckedLineTotal 单价*数量，乘积超出 int64 时 ok 为 false
func (i *OrderItem) CheckedLineTotal() (total int64, ok bool) {
	if i.Quantity <= 0 || i.UnitPrice < 0 {
		return 0, false
	}
	if i.UnitPrice > math.MaxInt64/i.Quantity {
		return 0, false
	}
	return i.UnitPrice * i.Quantity, true
}

// Product 只读商品目录，用于补全支付确认里缺失的卖家/类目/价格
type Product struct {
	ID         string    `gorm:"type:varchar(64);primaryKey" json:"id"`
	SellerID   string    `gorm:"type:varchar(64);index;not null" json:"seller_id"`
	CategoryID string    `gorm:"type:varchar(64);not null" json:"category_id"`
	Price      int64     `gorm:"not null" json:"price"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Product) TableName() string {
	return "product"
}

// RollupOrderStatus 根据全部子订单状态推导父订单状态，任何时候都可以重新计算
func RollupOrderStatus(statuses []string) string {
	if len(statuses) == 0 {
		return OrderStatusPaid
	}

	var delivered, cancelled, shippedOrDelivered, confirmed int
	for _, s := range statuses {
		switch s {
		case FulfillmentDelivered:
			delivered++
			shippedOrDelivered++
		case FulfillmentShipped:
			shippedOrDelivered++
		case FulfillmentConfirmed:
			confirmed++
		case FulfillmentCancelled:
			cancelled++
		}
	}

	total := len(statuses)
	active := total - cancelled

	switch {
	case delivered == total:
		return OrderStatusDelivered
	case cancelled == total:
		return OrderStatusCancelled
	case shippedOrDelivered == active:
		return OrderStatusShipped
	case shippedOrDelivered > 0:
		return OrderStatusPartiallyShipped
	case confirmed > 0:
		return OrderStatusProcessing
	default:
		return OrderStatusPaid
	}
}

package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"settlement/internal/model"
	"settlement/internal/repository"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ProductReader 只读商品目录
type ProductReader interface {
	FindMany(ctx context.Context, productIDs []string) (map[string]*model.Product, error)
}

type PaymentLineItem struct {
	ProductID  string `json:"product_id"`
	SellerID   string `json:"seller_id"`
	CategoryID string `json:"category_id"`
	UnitPrice  *int64 `json:"unit_price"`
	Quantity   int64  `json:"quantity"`
}

// PaymentConfirmation 支付成功回调，金额单位为分
type PaymentConfirmation struct {
	OrderID  string            `json:"order_id"`
	PayerID  string            `json:"payer_id"`
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	PaidAt   *time.Time        `json:"paid_at"`
	Items    []PaymentLineItem `json:"items"`
}

type OrderService struct {
	db           *gorm.DB
	catalog      ProductReader
	splitter     *SplitService
	orderRepo    *repository.OrderRepository
	subOrderRepo *repository.SubOrderRepository
	earningRepo  *repository.EarningRepository
	now          func() time.Time
}

func NewOrderService(db *gorm.DB, catalog ProductReader, splitter *SplitService) *OrderService {
	return &OrderService{
		db:           db,
		catalog:      catalog,
		splitter:     splitter,
		orderRepo:    repository.NewOrderRepository(db),
		subOrderRepo: repository.NewSubOrderRepository(db),
		earningRepo:  repository.NewEarningRepository(db),
		now:          utcNow,
	}
}

func (s *OrderService) WithClock(now func() time.Time) *OrderService {
	s.now = now
	return s
}

// ConfirmPayment 记录已支付订单并拆单，同一订单号重复投递返回已有结果
func (s *OrderService) ConfirmPayment(ctx context.Context, req *PaymentConfirmation) (*SplitResult, error) {
	if err := validateConfirmation(req); err != nil {
		return nil, err
	}

	items, err := s.resolveItems(ctx, req.Items)
	if err != nil {
		return nil, err
	}

	sum, err := sumLineTotals(items)
	if err != nil {
		return nil, err
	}
	if sum != req.Amount {
		return nil, newValidationError("amount", fmt.Sprintf("与商品行合计不一致: amount=%d, items=%d", req.Amount, sum))
	}

	paidAt := s.now()
	if req.PaidAt != nil {
		paidAt = req.PaidAt.UTC()
	}
	currency := req.Currency
	if currency == "" {
		currency = "USD"
	}

	order := &model.Order{
		ID:               req.OrderID,
		PayerID:          req.PayerID,
		Amount:           req.Amount,
		Currency:         currency,
		Status:           model.OrderStatusPaid,
		SettlementStatus: model.SettlementStatusPending,
		PaidAt:           paidAt,
	}

	var created bool
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		created, err = s.orderRepo.CreateIfAbsent(ctx, tx, order, items)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("保存订单失败: %w", err)
	}

	log := logrus.WithFields(logrus.Fields{
		"component": "order",
		"order_id":  req.OrderID,
		"payer_id":  req.PayerID,
		"amount":    req.Amount,
	})

	if !created {
		// 订单是不可变的支付记录，以首次落库的订单行为准
		stored, err := s.orderRepo.GetByID(ctx, nil, req.OrderID)
		if err != nil {
			return nil, err
		}
		if stored.Amount != req.Amount {
			log.WithField("stored_amount", stored.Amount).Warn("重复的支付确认金额不一致，以已存订单为准")
		}
		log.Info("订单已存在，按已有订单行拆单")
		return s.splitter.ResplitOrder(ctx, req.OrderID)
	}

	log.WithField("item_count", len(items)).Info("支付确认已记录")
	return s.splitter.SplitOrder(ctx, req.OrderID, items)
}

func validateConfirmation(req *PaymentConfirmation) error {
	switch {
	case req == nil:
		return newValidationError("body", "不能为空")
	case req.OrderID == "":
		return newValidationError("order_id", "不能为空")
	case req.PayerID == "":
		return newValidationError("payer_id", "不能为空")
	case req.Amount <= 0:
		return newValidationError("amount", "必须大于0")
	case len(req.Items) == 0:
		return newValidationError("items", "不能为空")
	}
	for i, item := range req.Items {
		if item.ProductID == "" {
			return newValidationError(fmt.Sprintf("items[%d].product_id", i), "不能为空")
		}
		if item.Quantity <= 0 {
			return newValidationError(fmt.Sprintf("items[%d].quantity", i), "必须大于0")
		}
		if item.UnitPrice != nil && *item.UnitPrice < 0 {
			return newValidationError(fmt.Sprintf("items[%d].unit_price", i), "不能为负")
		}
	}
	return nil
}

// sumLineTotals 订单行合计，任何一行或累计值溢出都按参数错误拒绝
func sumLineTotals(items []*model.OrderItem) (int64, error) {
	var sum int64
	for i, item := range items {
		total, ok := item.CheckedLineTotal()
		if !ok {
			return 0, newValidationError(fmt.Sprintf("items[%d]", i), "单价乘数量超出金额上限")
		}
		if sum > math.MaxInt64-total {
			return 0, newValidationError(fmt.Sprintf("items[%d]", i), "订单行合计超出金额上限")
		}
		sum += total
	}
	return sum, nil
}

// resolveItems 回调中缺失的卖家、类目、单价从商品目录补全，回调里给出的值优先
func (s *OrderService) resolveItems(ctx context.Context, lines []PaymentLineItem) ([]*model.OrderItem, error) {
	var missing []string
	for _, line := range lines {
		if line.SellerID == "" || line.CategoryID == "" || line.UnitPrice == nil {
			missing = append(missing, line.ProductID)
		}
	}

	products := map[string]*model.Product{}
	if len(missing) > 0 {
		if s.catalog == nil {
			return nil, newValidationError("items", "缺少卖家或价格信息")
		}
		var err error
		products, err = s.catalog.FindMany(ctx, missing)
		if err != nil {
			return nil, fmt.Errorf("查询商品失败: %w", err)
		}
	}

	items := make([]*model.OrderItem, 0, len(lines))
	for i, line := range lines {
		item := &model.OrderItem{
			ProductID:  line.ProductID,
			SellerID:   line.SellerID,
			CategoryID: line.CategoryID,
			Quantity:   line.Quantity,
		}
		if line.UnitPrice != nil {
			item.UnitPrice = *line.UnitPrice
		}

		if line.SellerID == "" || line.CategoryID == "" || line.UnitPrice == nil {
			p, ok := products[line.ProductID]
			if !ok {
				return nil, newValidationError(fmt.Sprintf("items[%d].product_id", i), "商品不存在: "+line.ProductID)
			}
			if item.SellerID == "" {
				item.SellerID = p.SellerID
			}
			if item.CategoryID == "" {
				item.CategoryID = p.CategoryID
			}
			if line.UnitPrice == nil {
				item.UnitPrice = p.Price
			}
		}
		items = append(items, item)
	}
	return items, nil
}

type SubOrderDetail struct {
	*model.SubOrder
	Earning *model.Earning `json:"earning,omitempty"`
}

type OrderDetail struct {
	*model.Order
	SubOrders []*SubOrderDetail `json:"sub_orders"`
}

func (s *OrderService) GetOrderDetail(ctx context.Context, orderID string) (*OrderDetail, error) {
	order, err := s.orderRepo.GetByID(ctx, nil, orderID)
	if err != nil {
		return nil, err
	}
	items, err := s.orderRepo.GetItems(ctx, nil, orderID)
	if err != nil {
		return nil, err
	}
	order.Items = items

	subOrders, err := s.subOrderRepo.ListByOrderID(ctx, nil, orderID)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(subOrders))
	for _, sub := range subOrders {
		ids = append(ids, sub.ID)
	}
	earnings, err := s.earningRepo.ListBySubOrderIDs(ctx, nil, ids)
	if err != nil {
		return nil, err
	}
	bySub := make(map[int64]*model.Earning, len(earnings))
	for _, e := range earnings {
		bySub[e.SubOrderID] = e
	}

	detail := &OrderDetail{Order: order}
	for _, sub := range subOrders {
		detail.SubOrders = append(detail.SubOrders, &SubOrderDetail{SubOrder: sub, Earning: bySub[sub.ID]})
	}
	return detail, nil
}

func (s *OrderService) ListPayerOrders(ctx context.Context, payerID string, page, pageSize int) (*PageResult, error) {
	page, pageSize = normalizePage(page, pageSize)
	orders, total, err := s.orderRepo.ListByPayerID(ctx, payerID, page, pageSize)
	if err != nil {
		return nil, err
	}
	return &PageResult{List: orders, Total: total, Page: page, PageSize: pageSize}, nil
}

func (s *OrderService) ListSellerSubOrders(ctx context.Context, sellerID, status string, page, pageSize int) (*PageResult, error) {
	page, pageSize = normalizePage(page, pageSize)
	subOrders, total, err := s.subOrderRepo.ListBySellerID(ctx, sellerID, status, page, pageSize)
	if err != nil {
		return nil, err
	}
	return &PageResult{List: subOrders, Total: total, Page: page, PageSize: pageSize}, nil
}

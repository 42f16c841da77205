package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"settlement/internal/commission"
	"settlement/internal/config"
	"settlement/internal/infrastructure/lock"
	"settlement/internal/model"
	"settlement/internal/repository"
	"settlement/pkg/idgen"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const trailingVolumeWindow = 30 * 24 * time.Hour

// ============================================================================
// 拆单
// ============================================================================
//
// 一个已支付订单按卖家拆成子订单，每个子订单对应且只对应一条收益：
//
//   1. 按 seller_id 分组（按首次出现的顺序），单卖家订单同样生成一个子订单
//   2. 每组取金额最大的商品行的类目作为主类目，解析佣金费率
//   3. 每组一个事务：子订单 + 收益(pending) + 待结算余额 + 佣金累计 + 通知
//   4. 某组失败不回滚其他组，失败组进入对账队列，订单标记 partially_split
//   5. 重复拆单靠 (order_id, seller_id) 和 earning.sub_order_id 唯一键兜底，冲突即已拆
//
// ============================================================================

type SplitResult struct {
	OrderID      string            `json:"order_id"`
	Success      bool              `json:"success"`
	AlreadySplit bool              `json:"already_split"`
	SubOrders    []*model.SubOrder `json:"sub_orders"`
	Earnings     []*model.Earning  `json:"earnings"`
	Failures     []SplitFailure    `json:"failures,omitempty"`
}

type SplitService struct {
	db           *gorm.DB
	cfg          *config.Config
	locks        lock.Factory
	settings     *SettingsService
	ledger       *LedgerService
	orderRepo    *repository.OrderRepository
	subOrderRepo *repository.SubOrderRepository
	earningRepo  *repository.EarningRepository
	reconRepo    *repository.ReconciliationRepository
	outboxRepo   *repository.OutboxRepository
	now          func() time.Time
}

func NewSplitService(db *gorm.DB, locks lock.Factory, settings *SettingsService, ledger *LedgerService, cfg *config.Config) *SplitService {
	return &SplitService{
		db:           db,
		cfg:          cfg,
		locks:        locks,
		settings:     settings,
		ledger:       ledger,
		orderRepo:    repository.NewOrderRepository(db),
		subOrderRepo: repository.NewSubOrderRepository(db),
		earningRepo:  repository.NewEarningRepository(db),
		reconRepo:    repository.NewReconciliationRepository(db),
		outboxRepo:   repository.NewOutboxRepository(db),
		now:          utcNow,
	}
}

func (s *SplitService) WithClock(now func() time.Time) *SplitService {
	s.now = now
	return s
}

type sellerGroup struct {
	sellerID string
	items    []*model.OrderItem
}

func (g *sellerGroup) subtotal() int64 {
	var total int64
	for _, item := range g.items {
		total += item.LineTotal()
	}
	return total
}

// dominantCategory 金额最大的商品行的类目，金额相同取靠前的行
func (g *sellerGroup) dominantCategory() string {
	var (
		category string
		best     int64 = -1
	)
	for _, item := range g.items {
		if total := item.LineTotal(); total > best {
			best = total
			category = item.CategoryID
		}
	}
	return category
}

func groupBySeller(items []*model.OrderItem) []*sellerGroup {
	var groups []*sellerGroup
	index := make(map[string]*sellerGroup)
	for _, item := range items {
		g, ok := index[item.SellerID]
		if !ok {
			g = &sellerGroup{sellerID: item.SellerID}
			index[item.SellerID] = g
			groups = append(groups, g)
		}
		g.items = append(g.items, item)
	}
	return groups
}

// ResplitOrder 用已落库的订单行重新拆单，补偿任务和管理端重试使用
func (s *SplitService) ResplitOrder(ctx context.Context, orderID string) (*SplitResult, error) {
	items, err := s.orderRepo.GetItems(ctx, nil, orderID)
	if err != nil {
		return nil, fmt.Errorf("查询订单行失败: %w", err)
	}
	return s.SplitOrder(ctx, orderID, items)
}

// SplitOrder 拆单，可重复调用
//
// 返回 *SplitPartialFailureError 时 result 同样有效，包含已成功的子订单
func (s *SplitService) SplitOrder(ctx context.Context, orderID string, items []*model.OrderItem) (*SplitResult, error) {
	if orderID == "" {
		return nil, newValidationError("order_id", "不能为空")
	}
	if len(items) == 0 {
		return nil, newValidationError("items", "不能为空")
	}
	for i, item := range items {
		if item.SellerID == "" {
			return nil, newValidationError(fmt.Sprintf("items[%d].seller_id", i), "不能为空")
		}
		if item.Quantity <= 0 || item.UnitPrice < 0 {
			return nil, newValidationError(fmt.Sprintf("items[%d]", i), "数量必须大于0且单价不能为负")
		}
	}
	if _, err := sumLineTotals(items); err != nil {
		return nil, err
	}

	unlock, err := acquire(ctx, s.locks, lock.OrderSplitKey(orderID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	order, err := s.orderRepo.GetByID(ctx, nil, orderID)
	if err != nil {
		return nil, err
	}

	existing, err := s.subOrderRepo.ListByOrderID(ctx, nil, orderID)
	if err != nil {
		return nil, fmt.Errorf("查询子订单失败: %w", err)
	}
	existingBySeller := make(map[string]*model.SubOrder, len(existing))
	for _, sub := range existing {
		existingBySeller[sub.SellerID] = sub
	}

	result := &SplitResult{OrderID: orderID}
	groups := groupBySeller(items)
	snap, auditReason := s.loadSnapshot(ctx)

	created := 0
	for _, g := range groups {
		log := logrus.WithFields(logrus.Fields{
			"component": "split",
			"order_id":  orderID,
			"seller_id": g.sellerID,
		})

		if sub, ok := existingBySeller[g.sellerID]; ok {
			if err := s.collectExisting(ctx, result, sub); err != nil {
				s.recordFailure(ctx, order, g.sellerID, err, result)
			}
			continue
		}

		sub, earning, err := s.splitSellerGroup(ctx, order, g, snap, auditReason)
		if err != nil {
			if repository.IsDuplicateKey(err) {
				log.Info("子订单已存在，按已拆处理")
				again, getErr := s.subOrderRepo.GetByOrderAndSeller(ctx, nil, orderID, g.sellerID)
				if getErr == nil {
					getErr = s.collectExisting(ctx, result, again)
				}
				if getErr != nil {
					s.recordFailure(ctx, order, g.sellerID, getErr, result)
				}
				continue
			}
			s.recordFailure(ctx, order, g.sellerID, err, result)
			continue
		}

		created++
		result.SubOrders = append(result.SubOrders, sub)
		result.Earnings = append(result.Earnings, earning)
		s.resolveOpenFailure(ctx, orderID, g.sellerID)
		log.WithFields(logrus.Fields{
			"sub_order_no": sub.SubOrderNo,
			"earning_id":   earning.ID,
			"subtotal":     sub.Subtotal,
			"commission":   sub.CommissionAmount,
			"net":          sub.SellerPayout,
		}).Info("子订单创建成功")
	}

	result.Success = len(result.Failures) == 0
	result.AlreadySplit = created == 0 && result.Success && len(existing) > 0

	if err := s.updateOrderSettlement(ctx, orderID); err != nil {
		return result, err
	}

	if !result.Success {
		return result, &SplitPartialFailureError{OrderID: orderID, Failures: result.Failures}
	}
	return result, nil
}

// loadSnapshot 配置加载失败时不中断拆单，使用兜底费率并要求人工审核
func (s *SplitService) loadSnapshot(ctx context.Context) (*Snapshot, string) {
	snap, err := s.settings.Snapshot(ctx)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"component": "split",
			"rate":      commission.FallbackRate.String(),
		}).WithError(err).Error("结算配置加载失败，使用兜底费率")
		return s.settings.Fallback(), "settings unavailable: " + err.Error()
	}
	return snap, ""
}

func (s *SplitService) splitSellerGroup(ctx context.Context, order *model.Order, g *sellerGroup, snap *Snapshot, auditReason string) (*model.SubOrder, *model.Earning, error) {
	now := s.now()
	subtotal := g.subtotal()
	category := g.dominantCategory()

	settings := snap.Commission
	volume, err := s.subOrderRepo.SumSellerSubtotalSince(ctx, g.sellerID, now.Add(-trailingVolumeWindow), order.ID)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"component": "split",
			"order_id":  order.ID,
			"seller_id": g.sellerID,
		}).WithError(err).Error("查询近30天销售额失败，使用兜底费率")
		settings = commission.Settings{DefaultRate: commission.FallbackRate}
		auditReason = "trailing volume unavailable: " + err.Error()
		volume = 0
	}

	res, err := commission.Resolve(settings, category, volume, subtotal)
	if err != nil {
		return nil, nil, fmt.Errorf("计算佣金失败: %w", err)
	}

	lines := make([]model.SubOrderLine, 0, len(g.items))
	for _, item := range g.items {
		lines = append(lines, model.SubOrderLine{
			ProductID:  item.ProductID,
			CategoryID: item.CategoryID,
			UnitPrice:  item.UnitPrice,
			Quantity:   item.Quantity,
		})
	}

	sub := &model.SubOrder{
		SubOrderNo:        idgen.GenerateSubOrderNo(),
		OrderID:           order.ID,
		SellerID:          g.sellerID,
		Items:             lines,
		CategoryID:        category,
		Subtotal:          subtotal,
		CommissionRate:    res.Rate,
		CommissionAmount:  res.CommissionAmount,
		SellerPayout:      res.NetAmount,
		FulfillmentStatus: model.FulfillmentPending,
		PayoutStatus:      model.EarningStatusPending,
		CreatedAt:         now,
	}
	earning := &model.Earning{
		SellerID:         g.sellerID,
		OrderID:          order.ID,
		GrossAmount:      subtotal,
		CommissionRate:   res.Rate,
		CommissionAmount: res.CommissionAmount,
		NetAmount:        res.NetAmount,
		Status:           model.EarningStatusPending,
		AvailableDate:    now.AddDate(0, 0, snap.Payout.HoldingPeriodDays),
		NeedsAudit:       auditReason != "",
		AuditReason:      auditReason,
		CreatedAt:        now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.subOrderRepo.Create(ctx, tx, sub); err != nil {
			return err
		}

		earning.SubOrderID = sub.ID
		if err := s.earningRepo.Create(ctx, tx, earning); err != nil {
			return err
		}

		ref := Ref{Type: model.RefTypeEarning, ID: strconv.FormatInt(earning.ID, 10), Remark: sub.SubOrderNo}
		if err := s.ledger.AddToPending(ctx, tx, g.sellerID, earning.NetAmount, ref); err != nil {
			return fmt.Errorf("写入待结算余额失败: %w", err)
		}
		if err := s.ledger.RecordCommission(ctx, tx, g.sellerID, earning.CommissionAmount, ref); err != nil {
			return fmt.Errorf("累计佣金失败: %w", err)
		}

		return writeOutbox(ctx, tx, s.outboxRepo, s.cfg.Kafka.Topic.Notification, sub.SubOrderNo, model.EventSubOrderCreated, map[string]interface{}{
			"sub_order_no":  sub.SubOrderNo,
			"order_id":      order.ID,
			"seller_id":     g.sellerID,
			"item_count":    sub.ItemCount(),
			"subtotal":      sub.Subtotal,
			"seller_payout": sub.SellerPayout,
			"currency":      order.Currency,
		})
	})
	if err != nil {
		return nil, nil, err
	}

	if earning.NeedsAudit {
		logrus.WithFields(logrus.Fields{
			"component":    "split",
			"order_id":     order.ID,
			"seller_id":    g.sellerID,
			"sub_order_no": sub.SubOrderNo,
			"earning_id":   earning.ID,
			"reason":       auditReason,
		}).Warn("收益使用兜底费率，已标记人工审核")
	}
	return sub, earning, nil
}

// collectExisting 已拆分的卖家组直接返回现有记录，子订单缺少收益视为数据异常
func (s *SplitService) collectExisting(ctx context.Context, result *SplitResult, sub *model.SubOrder) error {
	earning, err := s.earningRepo.GetBySubOrderID(ctx, nil, sub.ID)
	if err != nil {
		if errors.Is(err, repository.ErrEarningNotFound) {
			logrus.WithFields(logrus.Fields{
				"component":    "split",
				"order_id":     sub.OrderID,
				"seller_id":    sub.SellerID,
				"sub_order_no": sub.SubOrderNo,
			}).Error("子订单没有对应收益")
		}
		return err
	}
	result.SubOrders = append(result.SubOrders, sub)
	result.Earnings = append(result.Earnings, earning)
	return nil
}

// recordFailure 失败的卖家组进入对账队列，同一订单同一卖家只保留一条 open 记录
func (s *SplitService) recordFailure(ctx context.Context, order *model.Order, sellerID string, cause error, result *SplitResult) {
	result.Failures = append(result.Failures, SplitFailure{SellerID: sellerID, Reason: cause.Error()})

	log := logrus.WithFields(logrus.Fields{
		"component": "split",
		"order_id":  order.ID,
		"seller_id": sellerID,
	})
	log.WithError(cause).Error("卖家分组拆单失败")

	item, err := s.reconRepo.FindOpen(ctx, nil, order.ID, sellerID, model.ReconKindSplitFailure)
	if err != nil {
		log.WithError(err).Error("查询对账记录失败")
		return
	}
	if item != nil {
		if err := s.reconRepo.UpdateDetail(ctx, nil, item.ID, cause.Error()); err != nil {
			log.WithError(err).Error("更新对账记录失败")
		}
		return
	}

	err = s.reconRepo.Create(ctx, nil, &model.ReconciliationItem{
		OrderID:  order.ID,
		SellerID: sellerID,
		Kind:     model.ReconKindSplitFailure,
		Status:   model.ReconStatusOpen,
		Detail:   cause.Error(),
	})
	if err != nil {
		log.WithError(err).Error("写入对账记录失败")
	}
}

func (s *SplitService) resolveOpenFailure(ctx context.Context, orderID, sellerID string) {
	item, err := s.reconRepo.FindOpen(ctx, nil, orderID, sellerID, model.ReconKindSplitFailure)
	if err != nil || item == nil {
		return
	}
	if err := s.reconRepo.Resolve(ctx, nil, item.ID, "system", "重试拆单成功", s.now()); err != nil {
		logrus.WithFields(logrus.Fields{
			"component": "split",
			"order_id":  orderID,
			"seller_id": sellerID,
		}).WithError(err).Warn("关闭对账记录失败")
	}
}

// updateOrderSettlement 按未关闭的对账记录回写订单结算状态
func (s *SplitService) updateOrderSettlement(ctx context.Context, orderID string) error {
	failures, err := s.reconRepo.CountOpenByOrder(ctx, nil, orderID, model.ReconKindSplitFailure)
	if err != nil {
		return fmt.Errorf("统计对账记录失败: %w", err)
	}
	open, err := s.reconRepo.CountOpenByOrder(ctx, nil, orderID, "")
	if err != nil {
		return fmt.Errorf("统计对账记录失败: %w", err)
	}

	status := model.SettlementStatusSplit
	if failures > 0 {
		status = model.SettlementStatusPartiallySplit
	}
	return s.orderRepo.UpdateSettlement(ctx, nil, orderID, status, open > 0, s.now())
}

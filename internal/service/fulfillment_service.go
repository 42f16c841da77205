package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"settlement/internal/config"
	"settlement/internal/model"
	"settlement/internal/repository"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type UpdateFulfillmentInput struct {
	Status         string `json:"status"`
	TrackingNumber string `json:"tracking_number"`
	SellerID       string `json:"seller_id"` // 非空时校验子订单归属
	Reason         string `json:"reason"`
}

// FulfillmentService 子订单履约状态，每次变更后在同一事务内重算父订单状态
type FulfillmentService struct {
	db           *gorm.DB
	cfg          *config.Config
	orderRepo    *repository.OrderRepository
	subOrderRepo *repository.SubOrderRepository
	earningRepo  *repository.EarningRepository
	reconRepo    *repository.ReconciliationRepository
	outboxRepo   *repository.OutboxRepository
	now          func() time.Time
}

func NewFulfillmentService(db *gorm.DB, cfg *config.Config) *FulfillmentService {
	return &FulfillmentService{
		db:           db,
		cfg:          cfg,
		orderRepo:    repository.NewOrderRepository(db),
		subOrderRepo: repository.NewSubOrderRepository(db),
		earningRepo:  repository.NewEarningRepository(db),
		reconRepo:    repository.NewReconciliationRepository(db),
		outboxRepo:   repository.NewOutboxRepository(db),
		now:          utcNow,
	}
}

func (s *FulfillmentService) WithClock(now func() time.Time) *FulfillmentService {
	s.now = now
	return s
}

func (s *FulfillmentService) UpdateStatus(ctx context.Context, subOrderID int64, in *UpdateFulfillmentInput) (*model.SubOrder, error) {
	if in.Status == "" {
		return nil, newValidationError("status", "不能为空")
	}

	now := s.now()
	var (
		from        string
		orderStatus string
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, err := s.subOrderRepo.GetByID(ctx, tx, subOrderID)
		if err != nil {
			return err
		}
		if in.SellerID != "" && sub.SellerID != in.SellerID {
			return newValidationError("seller_id", "子订单不属于该卖家")
		}
		from = sub.FulfillmentStatus

		if !model.CanFulfillmentTransitionTo(from, in.Status) {
			return &InvalidFulfillmentStateError{SubOrderID: subOrderID, Current: from, Target: in.Status}
		}

		extra := map[string]interface{}{}
		switch in.Status {
		case model.FulfillmentConfirmed:
			extra["confirmed_at"] = &now
		case model.FulfillmentShipped:
			extra["shipped_at"] = &now
			if in.TrackingNumber != "" {
				extra["tracking_number"] = in.TrackingNumber
			}
		case model.FulfillmentDelivered:
			extra["delivered_at"] = &now
		case model.FulfillmentCancelled:
			extra["cancelled_at"] = &now
		}

		if err := s.subOrderRepo.UpdateFulfillment(ctx, tx, subOrderID, from, in.Status, extra); err != nil {
			if errors.Is(err, repository.ErrStatusConflict) {
				current, getErr := s.subOrderRepo.GetByID(ctx, tx, subOrderID)
				if getErr != nil {
					return getErr
				}
				return &InvalidFulfillmentStateError{SubOrderID: subOrderID, Current: current.FulfillmentStatus, Target: in.Status}
			}
			return err
		}

		if in.Status == model.FulfillmentCancelled {
			if err := s.raiseCancellation(ctx, tx, sub, in.Reason); err != nil {
				return err
			}
		}

		orderStatus, err = s.recompute(ctx, tx, sub.OrderID)
		if err != nil {
			return err
		}

		return writeOutbox(ctx, tx, s.outboxRepo, s.cfg.Kafka.Topic.Notification, sub.SubOrderNo, model.EventSubOrderStatusChanged, map[string]interface{}{
			"sub_order_no":    sub.SubOrderNo,
			"order_id":        sub.OrderID,
			"seller_id":       sub.SellerID,
			"from":            from,
			"to":              in.Status,
			"tracking_number": in.TrackingNumber,
			"order_status":    orderStatus,
		})
	})
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"component":    "fulfillment",
		"sub_order_id": subOrderID,
		"from":         from,
		"to":           in.Status,
		"order_status": orderStatus,
	}).Info("子订单状态已更新")
	return s.subOrderRepo.GetByID(ctx, nil, subOrderID)
}

// raiseCancellation 取消不自动动账：收益冻结后交给人工对账处理，冻结期间不会到期也不能提现
func (s *FulfillmentService) raiseCancellation(ctx context.Context, tx *gorm.DB, sub *model.SubOrder, reason string) error {
	detail := "sub-order cancelled"
	if earning, err := s.earningRepo.GetBySubOrderID(ctx, tx, sub.ID); err == nil {
		detail = fmt.Sprintf("sub-order cancelled; earning %d status=%s net=%d", earning.ID, earning.Status, earning.NetAmount)
	}
	if _, err := s.earningRepo.Hold(ctx, tx, sub.ID); err != nil {
		return fmt.Errorf("冻结收益失败: %w", err)
	}
	if reason != "" {
		detail += "; reason: " + reason
	}

	subOrderID := sub.ID
	if err := s.reconRepo.Create(ctx, tx, &model.ReconciliationItem{
		OrderID:    sub.OrderID,
		SellerID:   sub.SellerID,
		SubOrderID: &subOrderID,
		Kind:       model.ReconKindSubOrderCancelled,
		Status:     model.ReconStatusOpen,
		Detail:     detail,
	}); err != nil {
		return fmt.Errorf("写入对账记录失败: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"component":    "fulfillment",
		"order_id":     sub.OrderID,
		"seller_id":    sub.SellerID,
		"sub_order_no": sub.SubOrderNo,
		"sub_order_id": strconv.FormatInt(sub.ID, 10),
	}).Warn("子订单已取消，收益待人工处理")
	return s.orderRepo.SetReconciliationRequired(ctx, tx, sub.OrderID, true)
}

func (s *FulfillmentService) recompute(ctx context.Context, tx *gorm.DB, orderID string) (string, error) {
	statuses, err := s.subOrderRepo.ListStatusesByOrderID(ctx, tx, orderID)
	if err != nil {
		return "", err
	}
	status := model.RollupOrderStatus(statuses)
	if err := s.orderRepo.UpdateStatus(ctx, tx, orderID, status); err != nil {
		return "", err
	}
	return status, nil
}

// RecomputeRollup 只根据子订单状态重算父订单状态
func (s *FulfillmentService) RecomputeRollup(ctx context.Context, orderID string) (string, error) {
	if _, err := s.orderRepo.GetByID(ctx, nil, orderID); err != nil {
		return "", err
	}
	var status string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		status, err = s.recompute(ctx, tx, orderID)
		return err
	})
	return status, err
}

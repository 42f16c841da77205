package service

import (
	"context"
	"errors"
	"time"

	"settlement/internal/model"
	"settlement/internal/repository"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type ReconciliationService struct {
	db          *gorm.DB
	reconRepo   *repository.ReconciliationRepository
	orderRepo   *repository.OrderRepository
	earningRepo *repository.EarningRepository
	now         func() time.Time
}

func NewReconciliationService(db *gorm.DB) *ReconciliationService {
	return &ReconciliationService{
		db:          db,
		reconRepo:   repository.NewReconciliationRepository(db),
		orderRepo:   repository.NewOrderRepository(db),
		earningRepo: repository.NewEarningRepository(db),
		now:         utcNow,
	}
}

func (s *ReconciliationService) List(ctx context.Context, status string, page, pageSize int) (*PageResult, error) {
	page, pageSize = normalizePage(page, pageSize)
	items, total, err := s.reconRepo.List(ctx, status, page, pageSize)
	if err != nil {
		return nil, err
	}
	return &PageResult{List: items, Total: total, Page: page, PageSize: pageSize}, nil
}

// ListAuditEarnings 使用兜底费率计算或因取消被冻结、需要人工复核的收益
func (s *ReconciliationService) ListAuditEarnings(ctx context.Context, limit int) ([]*model.Earning, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.earningRepo.ListNeedsAudit(ctx, limit)
}

// Resolve 人工关闭对账记录，订单没有其他未关闭记录时清除对账标记
func (s *ReconciliationService) Resolve(ctx context.Context, id int64, resolvedBy, note string) error {
	if resolvedBy == "" {
		return newValidationError("resolved_by", "不能为空")
	}

	item, err := s.reconRepo.GetByID(ctx, id)
	if err != nil {
		return err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.reconRepo.Resolve(ctx, tx, id, resolvedBy, note, s.now()); err != nil {
			if errors.Is(err, repository.ErrStatusConflict) {
				return newValidationError("id", "对账记录已关闭")
			}
			return err
		}
		open, err := s.reconRepo.CountOpenByOrder(ctx, tx, item.OrderID, "")
		if err != nil {
			return err
		}
		return s.orderRepo.SetReconciliationRequired(ctx, tx, item.OrderID, open > 0)
	})
	if err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"component":   "reconciliation",
		"id":          id,
		"order_id":    item.OrderID,
		"seller_id":   item.SellerID,
		"kind":        item.Kind,
		"resolved_by": resolvedBy,
	}).Info("对账记录已关闭")
	return nil
}

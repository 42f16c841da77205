package repository

import (
	"context"
	"errors"
	"time"

	"settlement/internal/model"

	"gorm.io/gorm"
)

type ReconciliationRepository struct {
	db *gorm.DB
}

func NewReconciliationRepository(db *gorm.DB) *ReconciliationRepository {
	return &ReconciliationRepository{db: db}
}

func (r *ReconciliationRepository) Create(ctx context.Context, tx *gorm.DB, item *model.ReconciliationItem) error {
	return pick(r.db, tx).WithContext(ctx).Create(item).Error
}

// FindOpen 同一订单同一卖家同类异常只保留一条 open 记录
func (r *ReconciliationRepository) FindOpen(ctx context.Context, tx *gorm.DB, orderID, sellerID, kind string) (*model.ReconciliationItem, error) {
	var item model.ReconciliationItem
	err := pick(r.db, tx).WithContext(ctx).
		Where("order_id = ? AND seller_id = ? AND kind = ? AND status = ?", orderID, sellerID, kind, model.ReconStatusOpen).
		First(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &item, nil
}

func (r *ReconciliationRepository) GetByID(ctx context.Context, id int64) (*model.ReconciliationItem, error) {
	var item model.ReconciliationItem
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrReconNotFound
		}
		return nil, err
	}
	return &item, nil
}

func (r *ReconciliationRepository) UpdateDetail(ctx context.Context, tx *gorm.DB, id int64, detail string) error {
	return pick(r.db, tx).WithContext(ctx).
		Model(&model.ReconciliationItem{}).
		Where("id = ?", id).
		Update("detail", detail).Error
}

func (r *ReconciliationRepository) IncrementAttempts(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).
		Model(&model.ReconciliationItem{}).
		Where("id = ?", id).
		UpdateColumn("attempts", gorm.Expr("attempts + 1")).Error
}

func (r *ReconciliationRepository) Resolve(ctx context.Context, tx *gorm.DB, id int64, resolvedBy, note string, now time.Time) error {
	result := pick(r.db, tx).WithContext(ctx).
		Model(&model.ReconciliationItem{}).
		Where("id = ? AND status = ?", id, model.ReconStatusOpen).
		Updates(map[string]interface{}{
			"status":      model.ReconStatusResolved,
			"resolved_at": &now,
			"resolved_by": resolvedBy,
			"note":        note,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStatusConflict
	}
	return nil
}

func (r *ReconciliationRepository) ListOpenByKind(ctx context.Context, kind string, maxAttempts, limit int) ([]*model.ReconciliationItem, error) {
	var items []*model.ReconciliationItem
	err := r.db.WithContext(ctx).
		Where("kind = ? AND status = ? AND attempts < ?", kind, model.ReconStatusOpen, maxAttempts).
		Order("id ASC").
		Limit(limit).
		Find(&items).Error
	return items, err
}

func (r *ReconciliationRepository) List(ctx context.Context, status string, page, pageSize int) ([]*model.ReconciliationItem, int64, error) {
	var items []*model.ReconciliationItem
	var total int64

	query := r.db.WithContext(ctx).Model(&model.ReconciliationItem{})
	if status != "" {
		query = query.Where("status = ?", status)
	}

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = query.
		Order("id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&items).Error

	return items, total, err
}

// CountOpenByOrder kind 为空时统计全部类型
func (r *ReconciliationRepository) CountOpenByOrder(ctx context.Context, tx *gorm.DB, orderID, kind string) (int64, error) {
	var n int64
	query := pick(r.db, tx).WithContext(ctx).
		Model(&model.ReconciliationItem{}).
		Where("order_id = ? AND status = ?", orderID, model.ReconStatusOpen)
	if kind != "" {
		query = query.Where("kind = ?", kind)
	}
	err := query.Count(&n).Error
	return n, err
}

package repository

import (
	"context"

	"settlement/internal/model"

	"gorm.io/gorm"
)

type BalanceEntryRepository struct {
	db *gorm.DB
}

func NewBalanceEntryRepository(db *gorm.DB) *BalanceEntryRepository {
	return &BalanceEntryRepository{db: db}
}

func (r *BalanceEntryRepository) Create(ctx context.Context, tx *gorm.DB, entries ...*model.BalanceEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return pick(r.db, tx).WithContext(ctx).Create(&entries).Error
}

func (r *BalanceEntryRepository) ListByRef(ctx context.Context, refType, refID string) ([]*model.BalanceEntry, error) {
	var entries []*model.BalanceEntry
	err := r.db.WithContext(ctx).
		Where("ref_type = ? AND ref_id = ?", refType, refID).
		Order("id ASC").
		Find(&entries).Error
	return entries, err
}

func (r *BalanceEntryRepository) ListBySellerID(ctx context.Context, sellerID string, page, pageSize int) ([]*model.BalanceEntry, int64, error) {
	var entries []*model.BalanceEntry
	var total int64

	query := r.db.WithContext(ctx).Model(&model.BalanceEntry{}).Where("seller_id = ?", sellerID)

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = query.
		Order("id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&entries).Error

	return entries, total, err
}

// SumByBucket 按桶汇总流水，用于核对余额
func (r *BalanceEntryRepository) SumByBucket(ctx context.Context, sellerID, bucket string) (int64, error) {
	var sum int64
	err := r.db.WithContext(ctx).
		Model(&model.BalanceEntry{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("seller_id = ? AND bucket = ?", sellerID, bucket).
		Scan(&sum).Error
	return sum, err
}

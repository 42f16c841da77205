package repository

import (
	"context"
	"errors"
	"time"

	"settlement/internal/model"

	"gorm.io/gorm"
)

type PayoutRepository struct {
	db *gorm.DB
}

func NewPayoutRepository(db *gorm.DB) *PayoutRepository {
	return &PayoutRepository{db: db}
}

func (r *PayoutRepository) Create(ctx context.Context, tx *gorm.DB, payout *model.PayoutRequest) error {
	return pick(r.db, tx).WithContext(ctx).Create(payout).Error
}

func (r *PayoutRepository) GetByPayoutNo(ctx context.Context, tx *gorm.DB, payoutNo string) (*model.PayoutRequest, error) {
	var payout model.PayoutRequest
	err := pick(r.db, tx).WithContext(ctx).Where("payout_no = ?", payoutNo).First(&payout).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPayoutNotFound
		}
		return nil, err
	}
	return &payout, nil
}

func (r *PayoutRepository) GetByRequestID(ctx context.Context, requestID string) (*model.PayoutRequest, error) {
	var payout model.PayoutRequest
	err := r.db.WithContext(ctx).Where("request_id = ?", requestID).First(&payout).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &payout, nil
}

// Transition 条件状态迁移，当前状态不是 from 时返回 ErrStatusConflict
func (r *PayoutRepository) Transition(ctx context.Context, tx *gorm.DB, payoutNo, fromStatus, toStatus string, extra map[string]interface{}) error {
	if !model.CanPayoutTransitionTo(fromStatus, toStatus) {
		return ErrStatusConflict
	}

	updates := map[string]interface{}{
		"status": toStatus,
	}
	for k, v := range extra {
		updates[k] = v
	}

	result := pick(r.db, tx).WithContext(ctx).
		Model(&model.PayoutRequest{}).
		Where("payout_no = ? AND status = ?", payoutNo, fromStatus).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStatusConflict
	}
	return nil
}

type PayoutFilter struct {
	SellerID string
	Status   string
	From     *time.Time
	To       *time.Time
}

func (r *PayoutRepository) apply(query *gorm.DB, f PayoutFilter) *gorm.DB {
	if f.SellerID != "" {
		query = query.Where("seller_id = ?", f.SellerID)
	}
	if f.Status != "" {
		query = query.Where("status = ?", f.Status)
	}
	if f.From != nil {
		query = query.Where("created_at >= ?", *f.From)
	}
	if f.To != nil {
		query = query.Where("created_at < ?", *f.To)
	}
	return query
}

func (r *PayoutRepository) List(ctx context.Context, f PayoutFilter, page, pageSize int) ([]*model.PayoutRequest, int64, error) {
	var payouts []*model.PayoutRequest
	var total int64

	query := r.apply(r.db.WithContext(ctx).Model(&model.PayoutRequest{}), f)

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = query.
		Order("id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&payouts).Error

	return payouts, total, err
}

// ListAll 导出报表用，不分页
func (r *PayoutRepository) ListAll(ctx context.Context, f PayoutFilter) ([]*model.PayoutRequest, error) {
	var payouts []*model.PayoutRequest
	err := r.apply(r.db.WithContext(ctx).Model(&model.PayoutRequest{}), f).
		Order("id ASC").
		Find(&payouts).Error
	return payouts, err
}

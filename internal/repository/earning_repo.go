package repository

import (
	"context"
	"errors"
	"time"

	"settlement/internal/model"

	"gorm.io/gorm"
)

type EarningRepository struct {
	db *gorm.DB
}

func NewEarningRepository(db *gorm.DB) *EarningRepository {
	return &EarningRepository{db: db}
}

// Create 依赖 sub_order_id 唯一键保证一个子订单只有一条收益
func (r *EarningRepository) Create(ctx context.Context, tx *gorm.DB, earning *model.Earning) error {
	return pick(r.db, tx).WithContext(ctx).Create(earning).Error
}

func (r *EarningRepository) GetByID(ctx context.Context, tx *gorm.DB, id int64) (*model.Earning, error) {
	var earning model.Earning
	err := pick(r.db, tx).WithContext(ctx).Where("id = ?", id).First(&earning).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEarningNotFound
		}
		return nil, err
	}
	return &earning, nil
}

func (r *EarningRepository) GetBySubOrderID(ctx context.Context, tx *gorm.DB, subOrderID int64) (*model.Earning, error) {
	var earning model.Earning
	err := pick(r.db, tx).WithContext(ctx).Where("sub_order_id = ?", subOrderID).First(&earning).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEarningNotFound
		}
		return nil, err
	}
	return &earning, nil
}

func (r *EarningRepository) ListBySubOrderIDs(ctx context.Context, tx *gorm.DB, subOrderIDs []int64) ([]*model.Earning, error) {
	var earnings []*model.Earning
	if len(subOrderIDs) == 0 {
		return earnings, nil
	}
	err := pick(r.db, tx).WithContext(ctx).
		Where("sub_order_id IN ?", subOrderIDs).
		Order("id ASC").
		Find(&earnings).Error
	return earnings, err
}

func (r *EarningRepository) ListBySellerID(ctx context.Context, sellerID, status string, page, pageSize int) ([]*model.Earning, int64, error) {
	var earnings []*model.Earning
	var total int64

	query := r.db.WithContext(ctx).Model(&model.Earning{}).Where("seller_id = ?", sellerID)
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
		Find(&earnings).Error

	return earnings, total, err
}

func (r *EarningRepository) ListByPayoutID(ctx context.Context, tx *gorm.DB, payoutID int64) ([]*model.Earning, error) {
	var earnings []*model.Earning
	err := pick(r.db, tx).WithContext(ctx).
		Where("payout_id = ?", payoutID).
		Order("id ASC").
		Find(&earnings).Error
	return earnings, err
}

// SumNetByStatus 卖家某状态收益净额之和，提现额度以此为准
func (r *EarningRepository) SumNetByStatus(ctx context.Context, tx *gorm.DB, sellerID, status string) (int64, error) {
	var sum int64
	err := pick(r.db, tx).WithContext(ctx).
		Model(&model.Earning{}).
		Select("COALESCE(SUM(net_amount), 0)").
		Where("seller_id = ? AND status = ?", sellerID, status).
		Scan(&sum).Error
	return sum, err
}

// ListAvailableOldestFirst 按到账日期、id 升序返回可提现收益
func (r *EarningRepository) ListAvailableOldestFirst(ctx context.Context, tx *gorm.DB, sellerID string) ([]*model.Earning, error) {
	var earnings []*model.Earning
	err := pick(r.db, tx).WithContext(ctx).
		Where("seller_id = ? AND status = ? AND on_hold = ?", sellerID, model.EarningStatusAvailable, false).
		Order("available_date ASC, id ASC").
		Find(&earnings).Error
	return earnings, err
}

// ListMatured 到期的 pending 收益
func (r *EarningRepository) ListMatured(ctx context.Context, now time.Time, limit int) ([]*model.Earning, error) {
	var earnings []*model.Earning
	err := r.db.WithContext(ctx).
		Where("status = ? AND available_date <= ? AND on_hold = ?", model.EarningStatusPending, now, false).
		Order("available_date ASC, id ASC").
		Limit(limit).
		Find(&earnings).Error
	return earnings, err
}

// MarkAvailable pending -> available，返回是否由本次调用完成迁移
func (r *EarningRepository) MarkAvailable(ctx context.Context, tx *gorm.DB, id int64, now time.Time) (bool, error) {
	result := pick(r.db, tx).WithContext(ctx).
		Model(&model.Earning{}).
		Where("id = ? AND status = ? AND available_date <= ? AND on_hold = ?", id, model.EarningStatusPending, now, false).
		Update("status", model.EarningStatusAvailable)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// Reserve available -> processing 并打上 payout_id，必须全部命中，否则视为并发冲突
func (r *EarningRepository) Reserve(ctx context.Context, tx *gorm.DB, ids []int64, payoutID int64) error {
	result := pick(r.db, tx).WithContext(ctx).
		Model(&model.Earning{}).
		Where("id IN ? AND status = ? AND payout_id IS NULL AND on_hold = ?", ids, model.EarningStatusAvailable, false).
		Updates(map[string]interface{}{
			"status":    model.EarningStatusProcessing,
			"payout_id": payoutID,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected != int64(len(ids)) {
		return ErrConcurrentUpdate
	}
	return nil
}

// ReleaseByPayout processing -> available 并清空 payout_id，是 Reserve 的逆操作
func (r *EarningRepository) ReleaseByPayout(ctx context.Context, tx *gorm.DB, payoutID int64) (int64, error) {
	result := pick(r.db, tx).WithContext(ctx).
		Model(&model.Earning{}).
		Where("payout_id = ? AND status = ?", payoutID, model.EarningStatusProcessing).
		Updates(map[string]interface{}{
			"status":    model.EarningStatusAvailable,
			"payout_id": gorm.Expr("NULL"),
		})
	return result.RowsAffected, result.Error
}

// MarkPaidByPayout processing -> paid
func (r *EarningRepository) MarkPaidByPayout(ctx context.Context, tx *gorm.DB, payoutID int64) (int64, error) {
	result := pick(r.db, tx).WithContext(ctx).
		Model(&model.Earning{}).
		Where("payout_id = ? AND status = ?", payoutID, model.EarningStatusProcessing).
		Update("status", model.EarningStatusPaid)
	return result.RowsAffected, result.Error
}

// Hold 冻结子订单对应的收益，返回是否命中
func (r *EarningRepository) Hold(ctx context.Context, tx *gorm.DB, subOrderID int64) (bool, error) {
	result := pick(r.db, tx).WithContext(ctx).
		Model(&model.Earning{}).
		Where("sub_order_id = ? AND on_hold = ?", subOrderID, false).
		Update("on_hold", true)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// ListNeedsAudit 费率需复核或已冻结的收益
func (r *EarningRepository) ListNeedsAudit(ctx context.Context, limit int) ([]*model.Earning, error) {
	var earnings []*model.Earning
	err := r.db.WithContext(ctx).
		Where("needs_audit = ? OR on_hold = ?", true, true).
		Order("id ASC").
		Limit(limit).
		Find(&earnings).Error
	return earnings, err
}

// ListForStatement 卖家对账单，按创建时间升序，不分页
func (r *EarningRepository) ListForStatement(ctx context.Context, sellerID string, from, to *time.Time) ([]*model.Earning, error) {
	var earnings []*model.Earning
	query := r.db.WithContext(ctx).Where("seller_id = ?", sellerID)
	if from != nil {
		query = query.Where("created_at >= ?", *from)
	}
	if to != nil {
		query = query.Where("created_at < ?", *to)
	}
	err := query.Order("created_at ASC, id ASC").Find(&earnings).Error
	return earnings, err
}

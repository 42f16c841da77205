package repository

import (
	"context"
	"errors"
	"time"

	"settlement/internal/model"

	"gorm.io/gorm"
)

type SubOrderRepository struct {
	db *gorm.DB
}

func NewSubOrderRepository(db *gorm.DB) *SubOrderRepository {
	return &SubOrderRepository{db: db}
}

// Create 依赖 (order_id, seller_id) 唯一键防止重复拆单
func (r *SubOrderRepository) Create(ctx context.Context, tx *gorm.DB, subOrder *model.SubOrder) error {
	return pick(r.db, tx).WithContext(ctx).Create(subOrder).Error
}

func (r *SubOrderRepository) GetByID(ctx context.Context, tx *gorm.DB, id int64) (*model.SubOrder, error) {
	var subOrder model.SubOrder
	err := pick(r.db, tx).WithContext(ctx).Where("id = ?", id).First(&subOrder).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSubOrderNotFound
		}
		return nil, err
	}
	return &subOrder, nil
}

func (r *SubOrderRepository) GetByOrderAndSeller(ctx context.Context, tx *gorm.DB, orderID, sellerID string) (*model.SubOrder, error) {
	var subOrder model.SubOrder
	err := pick(r.db, tx).WithContext(ctx).
		Where("order_id = ? AND seller_id = ?", orderID, sellerID).
		First(&subOrder).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSubOrderNotFound
		}
		return nil, err
	}
	return &subOrder, nil
}

func (r *SubOrderRepository) ListByOrderID(ctx context.Context, tx *gorm.DB, orderID string) ([]*model.SubOrder, error) {
	var subOrders []*model.SubOrder
	err := pick(r.db, tx).WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("id ASC").
		Find(&subOrders).Error
	return subOrders, err
}

func (r *SubOrderRepository) ListStatusesByOrderID(ctx context.Context, tx *gorm.DB, orderID string) ([]string, error) {
	var statuses []string
	err := pick(r.db, tx).WithContext(ctx).
		Model(&model.SubOrder{}).
		Where("order_id = ?", orderID).
		Order("id ASC").
		Pluck("fulfillment_status", &statuses).Error
	return statuses, err
}

func (r *SubOrderRepository) ListBySellerID(ctx context.Context, sellerID, status string, page, pageSize int) ([]*model.SubOrder, int64, error) {
	var subOrders []*model.SubOrder
	var total int64

	query := r.db.WithContext(ctx).Model(&model.SubOrder{}).Where("seller_id = ?", sellerID)
	if status != "" {
		query = query.Where("fulfillment_status = ?", status)
	}

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = query.
		Order("id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&subOrders).Error

	return subOrders, total, err
}

// SumSellerSubtotalSince 卖家在时间窗口内的销售额，excludeOrderID 排除当前订单
func (r *SubOrderRepository) SumSellerSubtotalSince(ctx context.Context, sellerID string, since time.Time, excludeOrderID string) (int64, error) {
	var sum int64
	err := r.db.WithContext(ctx).
		Model(&model.SubOrder{}).
		Select("COALESCE(SUM(subtotal), 0)").
		Where("seller_id = ? AND created_at >= ? AND order_id <> ? AND fulfillment_status <> ?",
			sellerID, since, excludeOrderID, model.FulfillmentCancelled).
		Scan(&sum).Error
	return sum, err
}

// UpdateFulfillment 条件更新履约状态，from 不匹配时返回 ErrStatusConflict
func (r *SubOrderRepository) UpdateFulfillment(ctx context.Context, tx *gorm.DB, id int64, fromStatus, toStatus string, extra map[string]interface{}) error {
	updates := map[string]interface{}{
		"fulfillment_status": toStatus,
	}
	for k, v := range extra {
		updates[k] = v
	}

	result := pick(r.db, tx).WithContext(ctx).
		Model(&model.SubOrder{}).
		Where("id = ? AND fulfillment_status = ?", id, fromStatus).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStatusConflict
	}
	return nil
}

// UpdatePayoutStatus 同步冗余的结算状态
func (r *SubOrderRepository) UpdatePayoutStatus(ctx context.Context, tx *gorm.DB, ids []int64, status string) error {
	if len(ids) == 0 {
		return nil
	}
	return pick(r.db, tx).WithContext(ctx).
		Model(&model.SubOrder{}).
		Where("id IN ?", ids).
		Update("payout_status", status).Error
}

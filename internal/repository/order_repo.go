package repository

import (
	"context"
	"errors"
	"time"

	"settlement/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type OrderRepository struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// CreateIfAbsent 按订单号幂等写入订单和订单行，返回是否新建
func (r *OrderRepository) CreateIfAbsent(ctx context.Context, tx *gorm.DB, order *model.Order, items []*model.OrderItem) (bool, error) {
	result := pick(r.db, tx).WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoNothing: true,
		}).
		Create(order)
	if result.Error != nil {
		if IsDuplicateKey(result.Error) {
			return false, nil
		}
		return false, result.Error
	}
	if result.RowsAffected == 0 {
		return false, nil
	}

	for _, item := range items {
		item.OrderID = order.ID
	}
	if len(items) > 0 {
		if err := pick(r.db, tx).WithContext(ctx).Create(&items).Error; err != nil {
			return false, err
		}
	}
	return true, nil
}

func (r *OrderRepository) GetByID(ctx context.Context, tx *gorm.DB, orderID string) (*model.Order, error) {
	var order model.Order
	err := pick(r.db, tx).WithContext(ctx).Where("id = ?", orderID).First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}

func (r *OrderRepository) GetItems(ctx context.Context, tx *gorm.DB, orderID string) ([]*model.OrderItem, error) {
	var items []*model.OrderItem
	err := pick(r.db, tx).WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("id ASC").
		Find(&items).Error
	return items, err
}

// UpdateSettlement 回写拆单结果
func (r *OrderRepository) UpdateSettlement(ctx context.Context, tx *gorm.DB, orderID, settlementStatus string, reconciliationRequired bool, splitAt time.Time) error {
	result := pick(r.db, tx).WithContext(ctx).
		Model(&model.Order{}).
		Where("id = ?", orderID).
		Updates(map[string]interface{}{
			"settlement_status":       settlementStatus,
			"reconciliation_required": reconciliationRequired,
			"split_at":                &splitAt,
		})
	return result.Error
}

func (r *OrderRepository) SetReconciliationRequired(ctx context.Context, tx *gorm.DB, orderID string, required bool) error {
	return pick(r.db, tx).WithContext(ctx).
		Model(&model.Order{}).
		Where("id = ?", orderID).
		Update("reconciliation_required", required).Error
}

func (r *OrderRepository) UpdateStatus(ctx context.Context, tx *gorm.DB, orderID, status string) error {
	return pick(r.db, tx).WithContext(ctx).
		Model(&model.Order{}).
		Where("id = ?", orderID).
		Update("status", status).Error
}

func (r *OrderRepository) ListByPayerID(ctx context.Context, payerID string, page, pageSize int) ([]*model.Order, int64, error) {
	var orders []*model.Order
	var total int64

	query := r.db.WithContext(ctx).Model(&model.Order{}).Where("payer_id = ?", payerID)

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&orders).Error

	return orders, total, err
}

package repository

import (
	"context"
	"errors"

	"settlement/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// BalanceRepository 卖家余额的原子操作
//
// 所有资金字段的修改都是一条带前置条件的 UPDATE：
//
//	UPDATE seller_balance SET pending_balance = pending_balance - ? WHERE seller_id = ? AND pending_balance >= ?
//
// 影响行数为 0 即视为前置条件不满足，绝不在内存中读-改-写
type BalanceRepository struct {
	db *gorm.DB
}

func NewBalanceRepository(db *gorm.DB) *BalanceRepository {
	return &BalanceRepository{db: db}
}

func (r *BalanceRepository) GetBySellerID(ctx context.Context, tx *gorm.DB, sellerID string) (*model.SellerBalance, error) {
	var balance model.SellerBalance
	err := pick(r.db, tx).WithContext(ctx).Where("seller_id = ?", sellerID).First(&balance).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBalanceNotFound
		}
		return nil, err
	}
	return &balance, nil
}

// GetOrCreate 不存在时插入一条全零记录，并发插入靠唯一键兜底
func (r *BalanceRepository) GetOrCreate(ctx context.Context, tx *gorm.DB, sellerID string) (*model.SellerBalance, error) {
	balance, err := r.GetBySellerID(ctx, tx, sellerID)
	if err == nil {
		return balance, nil
	}
	if !errors.Is(err, ErrBalanceNotFound) {
		return nil, err
	}

	err = pick(r.db, tx).WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "seller_id"}},
			DoNothing: true,
		}).
		Create(&model.SellerBalance{SellerID: sellerID}).Error
	if err != nil && !IsDuplicateKey(err) {
		return nil, err
	}

	return r.GetBySellerID(ctx, tx, sellerID)
}

func (r *BalanceRepository) increase(ctx context.Context, tx *gorm.DB, sellerID, column string, amount int64) error {
	result := pick(r.db, tx).WithContext(ctx).
		Model(&model.SellerBalance{}).
		Where("seller_id = ?", sellerID).
		Updates(map[string]interface{}{
			column:    gorm.Expr(column+" + ?", amount),
			"version": gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrBalanceNotFound
	}
	return nil
}

// move 从 from 桶转 amount 到 to 桶（to 为空表示只扣减），前置条件 from >= amount
func (r *BalanceRepository) move(ctx context.Context, tx *gorm.DB, sellerID, from, to string, amount int64, insufficient error) error {
	updates := map[string]interface{}{
		from:      gorm.Expr(from+" - ?", amount),
		"version": gorm.Expr("version + 1"),
	}
	if to != "" {
		updates[to] = gorm.Expr(to+" + ?", amount)
	}

	result := pick(r.db, tx).WithContext(ctx).
		Model(&model.SellerBalance{}).
		Where("seller_id = ? AND "+from+" >= ?", sellerID, amount).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		if _, err := r.GetBySellerID(ctx, tx, sellerID); err != nil {
			return err
		}
		return insufficient
	}
	return nil
}

func (r *BalanceRepository) AddToEscrow(ctx context.Context, tx *gorm.DB, sellerID string, amount int64) error {
	return r.increase(ctx, tx, sellerID, "escrow_balance", amount)
}

func (r *BalanceRepository) ReleaseEscrowToPending(ctx context.Context, tx *gorm.DB, sellerID string, amount int64) error {
	return r.move(ctx, tx, sellerID, "escrow_balance", "pending_balance", amount, ErrInsufficientEscrow)
}

func (r *BalanceRepository) AddToPending(ctx context.Context, tx *gorm.DB, sellerID string, amount int64) error {
	return r.increase(ctx, tx, sellerID, "pending_balance", amount)
}

func (r *BalanceRepository) MovePendingToAvailable(ctx context.Context, tx *gorm.DB, sellerID string, amount int64) error {
	return r.move(ctx, tx, sellerID, "pending_balance", "available_balance", amount, ErrInsufficientPending)
}

func (r *BalanceRepository) DeductFromAvailable(ctx context.Context, tx *gorm.DB, sellerID string, amount int64) error {
	return r.move(ctx, tx, sellerID, "available_balance", "", amount, ErrInsufficientAvailable)
}

// CreditAvailable 是 DeductFromAvailable 的逆操作，仅用于提现驳回
func (r *BalanceRepository) CreditAvailable(ctx context.Context, tx *gorm.DB, sellerID string, amount int64) error {
	return r.increase(ctx, tx, sellerID, "available_balance", amount)
}

// RecordCommission 累计佣金只增不减
func (r *BalanceRepository) RecordCommission(ctx context.Context, tx *gorm.DB, sellerID string, amount int64) error {
	return r.increase(ctx, tx, sellerID, "total_commission_paid", amount)
}

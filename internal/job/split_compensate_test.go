package job

import (
	"errors"
	"testing"

	"settlement/internal/model"
	"settlement/internal/repository"
	"settlement/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestSplitCompensateRetriesFailedGroups(t *testing.T) {
	e := newJobEnv(t)
	failing := "seller-2"
	require.NoError(t, e.db.Callback().Create().Before("gorm:create").Register("test:fail_earning", func(tx *gorm.DB) {
		if earning, ok := tx.Statement.Dest.(*model.Earning); ok && earning.SellerID == failing {
			_ = tx.AddError(errors.New("injected earning failure"))
		}
	}))

	_, err := e.orders.ConfirmPayment(e.ctx, confirmation("order-1", "seller-1", "seller-2"))
	require.ErrorIs(t, err, service.ErrSplitPartialFailure)

	compensate := NewSplitCompensateJob(e.db, e.splitter, e.cfg)

	// 仍然失败：记录保持 open，重试次数增加
	assert.Equal(t, 0, compensate.RunOnce(e.ctx))
	reconRepo := repository.NewReconciliationRepository(e.db)
	item, err := reconRepo.FindOpen(e.ctx, nil, "order-1", "seller-2", model.ReconKindSplitFailure)
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, 1, item.Attempts)

	failing = ""
	assert.Equal(t, 1, compensate.RunOnce(e.ctx))

	order := e.order(t, "order-1")
	assert.Equal(t, model.SettlementStatusSplit, order.SettlementStatus)
	assert.False(t, order.ReconciliationRequired)
	assert.Equal(t, int64(8500), e.balance(t, "seller-2").PendingBalance)

	assert.Equal(t, 0, compensate.RunOnce(e.ctx), "nothing left to compensate")
}

func TestSplitCompensateStopsAfterMaxAttempts(t *testing.T) {
	e := newJobEnv(t)
	require.NoError(t, e.db.Callback().Create().Before("gorm:create").Register("test:fail_earning", func(tx *gorm.DB) {
		if earning, ok := tx.Statement.Dest.(*model.Earning); ok && earning.SellerID == "seller-2" {
			_ = tx.AddError(errors.New("injected earning failure"))
		}
	}))

	_, err := e.orders.ConfirmPayment(e.ctx, confirmation("order-1", "seller-1", "seller-2"))
	require.ErrorIs(t, err, service.ErrSplitPartialFailure)

	compensate := NewSplitCompensateJob(e.db, e.splitter, e.cfg)
	for i := 0; i < e.cfg.Jobs.CompensateMaxAttempts; i++ {
		compensate.RunOnce(e.ctx)
	}

	items, err := repository.NewReconciliationRepository(e.db).ListOpenByKind(e.ctx, model.ReconKindSplitFailure, e.cfg.Jobs.CompensateMaxAttempts, 10)
	require.NoError(t, err)
	assert.Empty(t, items, "exhausted items are left for manual handling")

	order := e.order(t, "order-1")
	assert.Equal(t, model.SettlementStatusPartiallySplit, order.SettlementStatus)
	assert.True(t, order.ReconciliationRequired)
}

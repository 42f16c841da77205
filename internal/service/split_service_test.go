package service

import (
	"errors"
	"testing"
	"time"

	"settlement/internal/model"
	"settlement/internal/repository"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func subOrdersBySeller(res *SplitResult) map[string]*model.SubOrder {
	m := make(map[string]*model.SubOrder, len(res.SubOrders))
	for _, sub := range res.SubOrders {
		m[sub.SellerID] = sub
	}
	return m
}

func TestSplitTwoSellersDefaultRate(t *testing.T) {
	e := newTestEnv(t)

	res, err := e.confirm("order-A",
		line("seller-1", "books", 6000, 1),
		line("seller-2", "books", 2000, 2),
	)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.False(t, res.AlreadySplit)
	require.Len(t, res.SubOrders, 2)
	require.Len(t, res.Earnings, 2)

	subs := subOrdersBySeller(res)
	s1, s2 := subs["seller-1"], subs["seller-2"]
	require.NotNil(t, s1)
	require.NotNil(t, s2)

	assert.Equal(t, int64(6000), s1.Subtotal)
	assert.Equal(t, int64(900), s1.CommissionAmount)
	assert.Equal(t, int64(5100), s1.SellerPayout)
	assert.Equal(t, int64(4000), s2.Subtotal)
	assert.Equal(t, int64(600), s2.CommissionAmount)
	assert.Equal(t, int64(3400), s2.SellerPayout)
	assert.True(t, s1.CommissionRate.Equal(decimal.NewFromInt(15)))

	var total int64
	for _, earning := range res.Earnings {
		total += earning.NetAmount + earning.CommissionAmount
		assert.Equal(t, model.EarningStatusPending, earning.Status)
		assert.True(t, earning.AvailableDate.Equal(e.clock.Now().AddDate(0, 0, 7)))
		assert.False(t, earning.NeedsAudit)
	}
	assert.Equal(t, int64(10000), total)

	b1 := e.balance("seller-1")
	assert.Equal(t, int64(5100), b1.PendingBalance)
	assert.Equal(t, int64(0), b1.AvailableBalance)
	assert.Equal(t, int64(900), b1.TotalCommissionPaid)

	order := e.order("order-A")
	assert.Equal(t, model.SettlementStatusSplit, order.SettlementStatus)
	assert.False(t, order.ReconciliationRequired)
	assert.NotNil(t, order.SplitAt)

	assert.Equal(t, []string{model.EventSubOrderCreated}, e.outboxEvents(s1.SubOrderNo))
}

func TestSplitIsIdempotent(t *testing.T) {
	e := newTestEnv(t)

	first, err := e.confirm("order-1", line("seller-1", "books", 6000, 1), line("seller-2", "books", 4000, 1))
	require.NoError(t, err)

	second, err := e.confirm("order-1", line("seller-1", "books", 6000, 1), line("seller-2", "books", 4000, 1))
	require.NoError(t, err)
	assert.True(t, second.AlreadySplit)
	require.Len(t, second.SubOrders, 2)

	firstIDs := map[int64]bool{}
	for _, sub := range first.SubOrders {
		firstIDs[sub.ID] = true
	}
	for _, sub := range second.SubOrders {
		assert.True(t, firstIDs[sub.ID], "resplit must return existing sub-orders")
	}

	third, err := e.splitter.ResplitOrder(e.ctx, "order-1")
	require.NoError(t, err)
	assert.True(t, third.AlreadySplit)

	var count int64
	require.NoError(t, e.db.Model(&model.SubOrder{}).Where("order_id = ?", "order-1").Count(&count).Error)
	assert.Equal(t, int64(2), count)
	require.NoError(t, e.db.Model(&model.Earning{}).Where("order_id = ?", "order-1").Count(&count).Error)
	assert.Equal(t, int64(2), count)

	assert.Equal(t, int64(5100), e.balance("seller-1").PendingBalance)
	assert.Equal(t, int64(3400), e.balance("seller-2").PendingBalance)
}

func TestSplitSingleSellerStillCreatesSubOrder(t *testing.T) {
	e := newTestEnv(t)

	res, err := e.confirm("order-single", line("seller-1", "books", 999, 1))
	require.NoError(t, err)
	require.Len(t, res.SubOrders, 1)

	sub := res.SubOrders[0]
	assert.Equal(t, int64(999), sub.Subtotal)
	assert.Equal(t, int64(150), sub.CommissionAmount)
	assert.Equal(t, int64(849), sub.SellerPayout)
	assert.Equal(t, model.FulfillmentPending, sub.FulfillmentStatus)
}

func TestSplitDominantCategory(t *testing.T) {
	e := newTestEnv(t)

	res, err := e.confirm("order-mixed",
		line("seller-1", "books", 1000, 1),
		line("seller-1", "electronics", 3000, 1),
		line("seller-1", "toys", 1500, 2),
	)
	require.NoError(t, err)
	require.Len(t, res.SubOrders, 1)

	sub := res.SubOrders[0]
	assert.Equal(t, "electronics", sub.CategoryID, "equal line totals resolve to the earlier line")
	assert.Equal(t, int64(7000), sub.Subtotal)
	assert.Equal(t, int64(350), sub.CommissionAmount)
	assert.Len(t, sub.Items, 3)
}

func TestSplitTierFromTrailingVolume(t *testing.T) {
	e := newTestEnv(t)

	res, err := e.confirm("order-big", line("seller-1", "books", 1_000_000, 1))
	require.NoError(t, err)
	assert.Equal(t, int64(150_000), res.SubOrders[0].CommissionAmount, "own order is not part of trailing volume")

	e.clock.Advance(24 * time.Hour)
	res, err = e.confirm("order-silver", line("seller-1", "books", 10000, 1))
	require.NoError(t, err)
	assert.Equal(t, int64(1200), res.SubOrders[0].CommissionAmount)

	e.clock.Advance(31 * 24 * time.Hour)
	res, err = e.confirm("order-bronze", line("seller-1", "books", 10000, 1))
	require.NoError(t, err)
	assert.Equal(t, int64(1500), res.SubOrders[0].CommissionAmount)
}

func TestSplitUsesLatestSettings(t *testing.T) {
	e := newTestEnv(t)

	_, err := e.settings.Update(e.ctx, &UpdateSettingsRequest{
		DefaultRate:         "15",
		CategoryRates:       map[string]string{"books": "20"},
		HoldingPeriodDays:   3,
		MinimumPayoutAmount: 1000,
		MaximumPayoutAmount: 1_000_000,
		PayoutMethods:       []string{"bank_transfer"},
	}, "admin")
	require.NoError(t, err)

	res, err := e.confirm("order-1", line("seller-1", "books", 10000, 1))
	require.NoError(t, err)
	assert.Equal(t, int64(2000), res.Earnings[0].CommissionAmount)
	assert.True(t, res.Earnings[0].AvailableDate.Equal(e.clock.Now().AddDate(0, 0, 3)))
}

// failEarningsFor 让指定卖家的收益写入失败，返回的函数用于恢复
func failEarningsFor(t *testing.T, db *gorm.DB, sellerID string) func() {
	failing := sellerID
	require.NoError(t, db.Callback().Create().Before("gorm:create").Register("test:fail_earning", func(tx *gorm.DB) {
		if earning, ok := tx.Statement.Dest.(*model.Earning); ok && failing != "" && earning.SellerID == failing {
			_ = tx.AddError(errors.New("injected earning failure"))
		}
	}))
	return func() { failing = "" }
}

func TestSplitPartialFailureAndRetry(t *testing.T) {
	e := newTestEnv(t)
	restore := failEarningsFor(t, e.db, "seller-2")

	res, err := e.confirm("order-partial",
		line("seller-1", "books", 6000, 1),
		line("seller-2", "books", 4000, 1),
	)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSplitPartialFailure)

	var partial *SplitPartialFailureError
	require.ErrorAs(t, err, &partial)
	require.Len(t, partial.Failures, 1)
	assert.Equal(t, "seller-2", partial.Failures[0].SellerID)

	require.NotNil(t, res)
	assert.False(t, res.Success)
	require.Len(t, res.SubOrders, 1)
	assert.Equal(t, "seller-1", res.SubOrders[0].SellerID)

	order := e.order("order-partial")
	assert.Equal(t, model.SettlementStatusPartiallySplit, order.SettlementStatus)
	assert.True(t, order.ReconciliationRequired)

	reconRepo := repository.NewReconciliationRepository(e.db)
	item, err := reconRepo.FindOpen(e.ctx, nil, "order-partial", "seller-2", model.ReconKindSplitFailure)
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Contains(t, item.Detail, "injected earning failure")

	// 失败的分组没有留下子订单或余额
	_, err = repository.NewSubOrderRepository(e.db).GetByOrderAndSeller(e.ctx, nil, "order-partial", "seller-2")
	assert.ErrorIs(t, err, repository.ErrSubOrderNotFound)
	assert.Equal(t, int64(0), e.balance("seller-2").PendingBalance)
	assert.Equal(t, int64(5100), e.balance("seller-1").PendingBalance)

	// 再次失败只更新同一条对账记录
	_, err = e.splitter.ResplitOrder(e.ctx, "order-partial")
	assert.ErrorIs(t, err, ErrSplitPartialFailure)
	open, err := reconRepo.CountOpenByOrder(e.ctx, nil, "order-partial", model.ReconKindSplitFailure)
	require.NoError(t, err)
	assert.Equal(t, int64(1), open)

	restore()
	res, err = e.splitter.ResplitOrder(e.ctx, "order-partial")
	require.NoError(t, err)
	assert.True(t, res.Success)
	require.Len(t, res.SubOrders, 2)

	order = e.order("order-partial")
	assert.Equal(t, model.SettlementStatusSplit, order.SettlementStatus)
	assert.False(t, order.ReconciliationRequired)
	assert.Equal(t, int64(3400), e.balance("seller-2").PendingBalance)
	assert.Equal(t, int64(5100), e.balance("seller-1").PendingBalance)

	item, err = reconRepo.FindOpen(e.ctx, nil, "order-partial", "seller-2", model.ReconKindSplitFailure)
	require.NoError(t, err)
	assert.Nil(t, item)
}

func TestSplitValidation(t *testing.T) {
	e := newTestEnv(t)

	_, err := e.splitter.SplitOrder(e.ctx, "", []*model.OrderItem{{SellerID: "s", Quantity: 1}})
	var validationErr *ValidationError
	assert.ErrorAs(t, err, &validationErr)

	_, err = e.splitter.SplitOrder(e.ctx, "order-x", nil)
	assert.ErrorAs(t, err, &validationErr)

	_, err = e.splitter.SplitOrder(e.ctx, "order-x", []*model.OrderItem{{SellerID: "", Quantity: 1}})
	assert.ErrorAs(t, err, &validationErr)

	_, err = e.splitter.SplitOrder(e.ctx, "missing", []*model.OrderItem{{SellerID: "s", Quantity: 1, UnitPrice: 10}})
	assert.ErrorIs(t, err, repository.ErrOrderNotFound)
}

func TestSplitRejectsOverflowingItems(t *testing.T) {
	e := newTestEnv(t)
	_, err := e.confirm("order-1", line("seller-1", "books", 1000, 1))
	require.NoError(t, err)

	const big = int64(1) << 62
	items := []*model.OrderItem{
		{SellerID: "seller-x", CategoryID: "books", UnitPrice: big, Quantity: 1},
		{SellerID: "seller-y", CategoryID: "books", UnitPrice: big, Quantity: 3},
		{SellerID: "seller-z", CategoryID: "books", UnitPrice: 1000, Quantity: 1},
	}
	_, err = e.splitter.SplitOrder(e.ctx, "order-1", items)
	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "items[1]", validationErr.Field)

	_, err = e.splitter.SplitOrder(e.ctx, "order-1", []*model.OrderItem{
		{SellerID: "seller-x", CategoryID: "books", UnitPrice: big, Quantity: 2},
	})
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "items[0]", validationErr.Field)

	assert.Zero(t, e.balance("seller-x").PendingBalance)
	_, err = repository.NewSubOrderRepository(e.db).GetByOrderAndSeller(e.ctx, nil, "order-1", "seller-x")
	assert.ErrorIs(t, err, repository.ErrSubOrderNotFound)
}

func TestGroupBySellerKeepsFirstSeenOrder(t *testing.T) {
	groups := groupBySeller([]*model.OrderItem{
		{SellerID: "b", UnitPrice: 1, Quantity: 1},
		{SellerID: "a", UnitPrice: 2, Quantity: 1},
		{SellerID: "b", UnitPrice: 3, Quantity: 2},
	})
	require.Len(t, groups, 2)
	assert.Equal(t, "b", groups[0].sellerID)
	assert.Equal(t, int64(7), groups[0].subtotal())
	assert.Equal(t, "a", groups[1].sellerID)
}

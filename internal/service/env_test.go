package service

import (
	"context"
	"fmt"
	"strconv"
	"testing"
	"time"

	"settlement/internal/config"
	"settlement/internal/infrastructure/lock"
	"settlement/internal/model"
	"settlement/internal/repository"
	"settlement/internal/testutil"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type testEnv struct {
	t        *testing.T
	ctx      context.Context
	db       *gorm.DB
	cfg      *config.Config
	clock    *testutil.Clock
	ledger   *LedgerService
	settings *SettingsService
	splitter *SplitService
	orders   *OrderService
	payouts  *PayoutService
	fulfill  *FulfillmentService
	recon    *ReconciliationService
	reports  *ReportService
	seq      int
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := testutil.NewDB(t)
	cfg := testutil.Config()
	cfg.Settlement.CategoryRates = map[string]string{
		"gift_card":   "0",
		"electronics": "5",
	}
	clock := testutil.NewClock(time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC))
	locks := lock.NewLocalFactory()

	ledger := NewLedgerService(db)
	settings := NewSettingsService(db, &cfg.Settlement)
	splitter := NewSplitService(db, locks, settings, ledger, cfg).WithClock(clock.Now)

	return &testEnv{
		t:        t,
		ctx:      context.Background(),
		db:       db,
		cfg:      cfg,
		clock:    clock,
		ledger:   ledger,
		settings: settings,
		splitter: splitter,
		orders:   NewOrderService(db, repository.NewProductRepository(db), splitter).WithClock(clock.Now),
		payouts:  NewPayoutService(db, locks, settings, ledger, cfg).WithClock(clock.Now),
		fulfill:  NewFulfillmentService(db, cfg).WithClock(clock.Now),
		recon:    NewReconciliationService(db),
		reports:  NewReportService(db, ledger),
	}
}

func price(v int64) *int64 { return &v }

func line(sellerID, categoryID string, unitPrice, quantity int64) PaymentLineItem {
	return PaymentLineItem{
		ProductID:  fmt.Sprintf("p-%s-%s-%d", sellerID, categoryID, unitPrice),
		SellerID:   sellerID,
		CategoryID: categoryID,
		UnitPrice:  price(unitPrice),
		Quantity:   quantity,
	}
}

func (e *testEnv) confirm(orderID string, lines ...PaymentLineItem) (*SplitResult, error) {
	var amount int64
	for _, l := range lines {
		amount += *l.UnitPrice * l.Quantity
	}
	return e.orders.ConfirmPayment(e.ctx, &PaymentConfirmation{
		OrderID: orderID,
		PayerID: "payer-1",
		Amount:  amount,
		Items:   lines,
	})
}

// matureAll 与收益到期任务相同的步骤，service 包内无法引用 job 包
func (e *testEnv) matureAll() int {
	e.t.Helper()

	earningRepo := repository.NewEarningRepository(e.db)
	subOrderRepo := repository.NewSubOrderRepository(e.db)
	now := e.clock.Now()

	earnings, err := earningRepo.ListMatured(e.ctx, now, 1000)
	require.NoError(e.t, err)
	for _, earning := range earnings {
		err := e.db.Transaction(func(tx *gorm.DB) error {
			ok, err := earningRepo.MarkAvailable(e.ctx, tx, earning.ID, now)
			if err != nil || !ok {
				return err
			}
			ref := Ref{Type: model.RefTypeEarning, ID: strconv.FormatInt(earning.ID, 10)}
			if err := e.ledger.MovePendingToAvailable(e.ctx, tx, earning.SellerID, earning.NetAmount, ref); err != nil {
				return err
			}
			return subOrderRepo.UpdatePayoutStatus(e.ctx, tx, []int64{earning.SubOrderID}, model.EarningStatusAvailable)
		})
		require.NoError(e.t, err)
	}
	return len(earnings)
}

// seedAvailable 为卖家准备若干笔已到期的免佣金收益，按参数顺序到期
func (e *testEnv) seedAvailable(sellerID string, nets ...int64) []*model.Earning {
	e.t.Helper()

	var earnings []*model.Earning
	for _, net := range nets {
		e.seq++
		res, err := e.confirm(fmt.Sprintf("seed-%s-%d", sellerID, e.seq), line(sellerID, "gift_card", net, 1))
		require.NoError(e.t, err)
		require.Len(e.t, res.Earnings, 1)
		earnings = append(earnings, res.Earnings[0])
		e.clock.Advance(time.Second)
	}
	e.clock.Advance(7 * 24 * time.Hour)
	e.matureAll()
	return earnings
}

func (e *testEnv) balance(sellerID string) *model.SellerBalance {
	e.t.Helper()
	b, err := e.ledger.GetOrCreateBalance(e.ctx, nil, sellerID)
	require.NoError(e.t, err)
	return b
}

func (e *testEnv) earning(id int64) *model.Earning {
	e.t.Helper()
	got, err := repository.NewEarningRepository(e.db).GetByID(e.ctx, nil, id)
	require.NoError(e.t, err)
	return got
}

func (e *testEnv) order(orderID string) *model.Order {
	e.t.Helper()
	got, err := repository.NewOrderRepository(e.db).GetByID(e.ctx, nil, orderID)
	require.NoError(e.t, err)
	return got
}

func (e *testEnv) outboxEvents(key string) []string {
	e.t.Helper()
	msgs, err := repository.NewOutboxRepository(e.db).ListByKey(e.ctx, key)
	require.NoError(e.t, err)
	events := make([]string, 0, len(msgs))
	for _, m := range msgs {
		events = append(events, m.EventType)
	}
	return events
}

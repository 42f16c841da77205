package job

import (
	"context"
	"testing"
	"time"

	"settlement/internal/config"
	"settlement/internal/infrastructure/lock"
	"settlement/internal/model"
	"settlement/internal/repository"
	"settlement/internal/service"
	"settlement/internal/testutil"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type jobEnv struct {
	ctx      context.Context
	db       *gorm.DB
	cfg      *config.Config
	clock    *testutil.Clock
	ledger   *service.LedgerService
	splitter *service.SplitService
	orders   *service.OrderService
}

func newJobEnv(t *testing.T) *jobEnv {
	t.Helper()

	db := testutil.NewDB(t)
	cfg := testutil.Config()
	clock := testutil.NewClock(time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC))

	ledger := service.NewLedgerService(db)
	settings := service.NewSettingsService(db, &cfg.Settlement)
	splitter := service.NewSplitService(db, lock.NewLocalFactory(), settings, ledger, cfg).WithClock(clock.Now)

	return &jobEnv{
		ctx:      context.Background(),
		db:       db,
		cfg:      cfg,
		clock:    clock,
		ledger:   ledger,
		splitter: splitter,
		orders:   service.NewOrderService(db, nil, splitter).WithClock(clock.Now),
	}
}

func confirmation(orderID string, sellers ...string) *service.PaymentConfirmation {
	req := &service.PaymentConfirmation{OrderID: orderID, PayerID: "payer-1"}
	for _, seller := range sellers {
		unitPrice := int64(10000)
		req.Items = append(req.Items, service.PaymentLineItem{
			ProductID:  "sku-" + seller,
			SellerID:   seller,
			CategoryID: "books",
			UnitPrice:  &unitPrice,
			Quantity:   1,
		})
		req.Amount += unitPrice
	}
	return req
}

func (e *jobEnv) balance(t *testing.T, sellerID string) *model.SellerBalance {
	t.Helper()
	b, err := e.ledger.GetOrCreateBalance(e.ctx, nil, sellerID)
	require.NoError(t, err)
	return b
}

func (e *jobEnv) order(t *testing.T, orderID string) *model.Order {
	t.Helper()
	o, err := repository.NewOrderRepository(e.db).GetByID(e.ctx, nil, orderID)
	require.NoError(t, err)
	return o
}

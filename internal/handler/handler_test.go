package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"settlement/internal/infrastructure/lock"
	"settlement/internal/job"
	"settlement/internal/model"
	"settlement/internal/repository"
	"settlement/internal/service"
	"settlement/internal/testutil"
	"settlement/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type apiEnv struct {
	db     *gorm.DB
	clock  *testutil.Clock
	router *gin.Engine
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()

	db := testutil.NewDB(t)
	cfg := testutil.Config()
	cfg.Server.RequestTimeoutSeconds = 5
	clock := testutil.NewClock(time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC))
	locks := lock.NewLocalFactory()

	ledger := service.NewLedgerService(db)
	settings := service.NewSettingsService(db, &cfg.Settlement)
	splitter := service.NewSplitService(db, locks, settings, ledger, cfg).WithClock(clock.Now)

	svc := &Services{
		Orders:      service.NewOrderService(db, repository.NewProductRepository(db), splitter).WithClock(clock.Now),
		Splitter:    splitter,
		Payouts:     service.NewPayoutService(db, locks, settings, ledger, cfg).WithClock(clock.Now),
		Fulfillment: service.NewFulfillmentService(db, cfg).WithClock(clock.Now),
		Ledger:      ledger,
		Settings:    settings,
		Recon:       service.NewReconciliationService(db),
		Reports:     service.NewReportService(db, ledger),
		Sweep:       job.NewAvailabilitySweepJob(db, ledger, cfg).WithClock(clock.Now),
	}
	return &apiEnv{db: db, clock: clock, router: SetupRouter(NewHandler(svc), cfg)}
}

type apiResponse struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (e *apiEnv) do(t *testing.T, method, path string, body interface{}) apiResponse {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Operator-ID", "admin-1")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	var resp apiResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

func decode(t *testing.T, resp apiResponse, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(resp.Data, v))
}

func paymentBody(orderID string, sellers ...string) gin.H {
	var (
		items  []gin.H
		amount int64
	)
	for _, seller := range sellers {
		items = append(items, gin.H{
			"product_id":  "sku-" + seller,
			"seller_id":   seller,
			"category_id": "books",
			"unit_price":  10000,
			"quantity":    1,
		})
		amount += 10000
	}
	return gin.H{"order_id": orderID, "payer_id": "payer-1", "amount": amount, "currency": "USD", "items": items}
}

func TestHealth(t *testing.T) {
	e := newAPIEnv(t)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ok")
}

func TestConfirmPaymentFlow(t *testing.T) {
	e := newAPIEnv(t)

	resp := e.do(t, http.MethodPost, "/api/v1/payments/confirmed", paymentBody("order-1", "seller-1", "seller-2"))
	require.Equal(t, response.CodeSuccess, resp.Code, resp.Message)
	var result service.SplitResult
	decode(t, resp, &result)
	assert.True(t, result.Success)
	assert.Len(t, result.SubOrders, 2)

	resp = e.do(t, http.MethodPost, "/api/v1/payments/confirmed", paymentBody("order-1", "seller-1", "seller-2"))
	require.Equal(t, response.CodeSuccess, resp.Code)
	decode(t, resp, &result)
	assert.True(t, result.AlreadySplit)

	resp = e.do(t, http.MethodGet, "/api/v1/sellers/seller-1/balance", nil)
	require.Equal(t, response.CodeSuccess, resp.Code)
	var balance model.SellerBalance
	decode(t, resp, &balance)
	assert.Equal(t, int64(8500), balance.PendingBalance)
	assert.Equal(t, int64(1500), balance.TotalCommissionPaid)

	resp = e.do(t, http.MethodGet, "/api/v1/orders/order-1", nil)
	assert.Equal(t, response.CodeSuccess, resp.Code)

	resp = e.do(t, http.MethodGet, "/api/v1/orders/missing", nil)
	assert.Equal(t, response.CodeOrderNotFound, resp.Code)
}

func TestConfirmPaymentValidation(t *testing.T) {
	e := newAPIEnv(t)

	body := paymentBody("order-1", "seller-1")
	body["amount"] = 1
	resp := e.do(t, http.MethodPost, "/api/v1/payments/confirmed", body)
	assert.Equal(t, response.CodeParamError, resp.Code)

	resp = e.do(t, http.MethodGet, "/api/v1/orders/order-1", nil)
	assert.Equal(t, response.CodeOrderNotFound, resp.Code, "rejected confirmation must not persist")

	resp = e.do(t, http.MethodGet, "/api/v1/orders", nil)
	assert.Equal(t, response.CodeParamError, resp.Code, "payer_id is required")
}

func TestConfirmPaymentPartialFailure(t *testing.T) {
	e := newAPIEnv(t)
	require.NoError(t, e.db.Callback().Create().Before("gorm:create").Register("test:fail_earning", func(tx *gorm.DB) {
		if earning, ok := tx.Statement.Dest.(*model.Earning); ok && earning.SellerID == "seller-2" {
			_ = tx.AddError(errors.New("injected earning failure"))
		}
	}))

	resp := e.do(t, http.MethodPost, "/api/v1/payments/confirmed", paymentBody("order-1", "seller-1", "seller-2"))
	require.Equal(t, response.CodeSplitPartialFailure, resp.Code)

	var result service.SplitResult
	decode(t, resp, &result)
	assert.False(t, result.Success)
	require.Len(t, result.SubOrders, 1)
	assert.Equal(t, "seller-1", result.SubOrders[0].SellerID)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, "seller-2", result.Failures[0].SellerID)
}

func TestPayoutFlow(t *testing.T) {
	e := newAPIEnv(t)

	resp := e.do(t, http.MethodPost, "/api/v1/payments/confirmed", paymentBody("order-1", "seller-1"))
	require.Equal(t, response.CodeSuccess, resp.Code)

	payoutBody := gin.H{"amount": 5000, "method": "bank_transfer", "account_details": gin.H{"iban": "DE001"}}
	resp = e.do(t, http.MethodPost, "/api/v1/sellers/seller-1/payouts", payoutBody)
	assert.Equal(t, response.CodeInsufficientFunds, resp.Code, "earnings still pending")

	e.clock.Advance(7 * 24 * time.Hour)
	resp = e.do(t, http.MethodPost, "/api/v1/admin/jobs/release-earnings", nil)
	require.Equal(t, response.CodeSuccess, resp.Code)
	var sweep job.SweepResult
	decode(t, resp, &sweep)
	assert.Equal(t, 1, sweep.Released)

	resp = e.do(t, http.MethodPost, "/api/v1/sellers/seller-1/payouts", payoutBody)
	require.Equal(t, response.CodeSuccess, resp.Code, resp.Message)
	var payout model.PayoutRequest
	decode(t, resp, &payout)
	assert.Equal(t, model.PayoutStatusPendingApproval, payout.Status)
	assert.Equal(t, int64(8500), payout.ReservedAmount)

	resp = e.do(t, http.MethodPost, "/api/v1/sellers/seller-1/payouts", payoutBody)
	assert.Equal(t, response.CodeInsufficientFunds, resp.Code)

	resp = e.do(t, http.MethodPost, "/api/v1/admin/payouts/"+payout.PayoutNo+"/approve", gin.H{})
	require.Equal(t, response.CodeSuccess, resp.Code, resp.Message)
	decode(t, resp, &payout)
	assert.Equal(t, model.PayoutStatusApproved, payout.Status)

	resp = e.do(t, http.MethodPost, "/api/v1/admin/payouts/"+payout.PayoutNo+"/reject", gin.H{"reason": "late"})
	assert.Equal(t, response.CodePayoutStatusInvalid, resp.Code)

	resp = e.do(t, http.MethodPost, "/api/v1/admin/payouts/"+payout.PayoutNo+"/complete", gin.H{"external_reference": "bank-123"})
	require.Equal(t, response.CodeSuccess, resp.Code, resp.Message)
	decode(t, resp, &payout)
	assert.Equal(t, model.PayoutStatusPaid, payout.Status)

	resp = e.do(t, http.MethodGet, "/api/v1/payouts/PO-missing", nil)
	assert.Equal(t, response.CodePayoutNotFound, resp.Code)
}

func TestPayoutValidation(t *testing.T) {
	e := newAPIEnv(t)

	resp := e.do(t, http.MethodPost, "/api/v1/sellers/seller-1/payouts", gin.H{"amount": 500, "method": "bank_transfer"})
	assert.Equal(t, response.CodeParamError, resp.Code, "below minimum")

	resp = e.do(t, http.MethodPost, "/api/v1/sellers/seller-1/payouts", gin.H{"amount": 5000, "method": "cheque"})
	assert.Equal(t, response.CodeParamError, resp.Code, "unknown method")
}

func TestSettingsEndpoints(t *testing.T) {
	e := newAPIEnv(t)

	resp := e.do(t, http.MethodGet, "/api/v1/admin/settings", nil)
	require.Equal(t, response.CodeSuccess, resp.Code)
	var view service.SettingsView
	decode(t, resp, &view)
	assert.Equal(t, int64(0), view.Version)
	assert.Equal(t, "15", view.DefaultRate)

	update := gin.H{
		"default_rate":          "12",
		"category_rates":        gin.H{"books": "20"},
		"tiers":                 []gin.H{{"name": "bronze", "min_volume": 0, "rate": "12"}},
		"holding_period_days":   3,
		"minimum_payout_amount": 2000,
		"maximum_payout_amount": 500000,
		"payout_methods":        []string{"bank_transfer"},
	}
	resp = e.do(t, http.MethodPut, "/api/v1/admin/settings", update)
	require.Equal(t, response.CodeSuccess, resp.Code, resp.Message)
	decode(t, resp, &view)
	assert.Equal(t, int64(1), view.Version)

	resp = e.do(t, http.MethodGet, "/api/v1/admin/settings", nil)
	decode(t, resp, &view)
	assert.Equal(t, int64(1), view.Version)
	assert.Equal(t, "20", view.CategoryRates["books"])
	assert.Equal(t, 3, view.HoldingPeriodDays)

	update["default_rate"] = "150"
	resp = e.do(t, http.MethodPut, "/api/v1/admin/settings", update)
	assert.Equal(t, response.CodeParamError, resp.Code)
}

func TestSubOrderStatusAndReconciliation(t *testing.T) {
	e := newAPIEnv(t)

	resp := e.do(t, http.MethodPost, "/api/v1/payments/confirmed", paymentBody("order-1", "seller-1", "seller-2"))
	require.Equal(t, response.CodeSuccess, resp.Code)
	var result service.SplitResult
	decode(t, resp, &result)
	sub := result.SubOrders[0]
	path := "/api/v1/sub-orders/" + strconv.FormatInt(sub.ID, 10) + "/status"

	resp = e.do(t, http.MethodPost, path, gin.H{"status": model.FulfillmentShipped})
	assert.Equal(t, response.CodeSubOrderStatusInvalid, resp.Code, "cannot skip confirmed")

	resp = e.do(t, http.MethodPost, path, gin.H{"status": model.FulfillmentCancelled, "reason": "out of stock"})
	require.Equal(t, response.CodeSuccess, resp.Code, resp.Message)

	resp = e.do(t, http.MethodGet, "/api/v1/admin/reconciliation?status=open", nil)
	require.Equal(t, response.CodeSuccess, resp.Code)
	assert.Contains(t, string(resp.Data), model.ReconKindSubOrderCancelled)

	resp = e.do(t, http.MethodPost, "/api/v1/admin/reconciliation/999/resolve", gin.H{"note": "x"})
	assert.Equal(t, response.CodeNotFound, resp.Code)
}

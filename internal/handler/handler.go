package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"settlement/internal/job"
	"settlement/internal/repository"
	"settlement/internal/service"
	"settlement/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Services 处理器依赖的全部服务
type Services struct {
	Orders      *service.OrderService
	Splitter    *service.SplitService
	Payouts     *service.PayoutService
	Fulfillment *service.FulfillmentService
	Ledger      *service.LedgerService
	Settings    *service.SettingsService
	Recon       *service.ReconciliationService
	Reports     *service.ReportService
	Sweep       *job.AvailabilitySweepJob
}

// Handler 统一处理器
type Handler struct {
	svc *Services
}

func NewHandler(svc *Services) *Handler {
	return &Handler{svc: svc}
}

// writeError 业务错误映射到响应码，未知错误不向调用方暴露细节
func writeError(c *gin.Context, err error) {
	var (
		validationErr  *service.ValidationError
		fundsErr       *service.InsufficientFundsError
		payoutErr      *service.InvalidPayoutStateError
		fulfillmentErr *service.InvalidFulfillmentStateError
	)

	switch {
	case errors.As(err, &validationErr):
		response.ParamError(c, validationErr.Error())
	case errors.As(err, &fundsErr):
		response.BusinessError(c, response.CodeInsufficientFunds, fundsErr.Error())
	case errors.As(err, &payoutErr):
		response.BusinessError(c, response.CodePayoutStatusInvalid, payoutErr.Error())
	case errors.As(err, &fulfillmentErr):
		response.BusinessError(c, response.CodeSubOrderStatusInvalid, fulfillmentErr.Error())
	case errors.Is(err, repository.ErrOrderNotFound):
		response.BusinessError(c, response.CodeOrderNotFound, err.Error())
	case errors.Is(err, repository.ErrPayoutNotFound):
		response.BusinessError(c, response.CodePayoutNotFound, err.Error())
	case errors.Is(err, repository.ErrSubOrderNotFound),
		errors.Is(err, repository.ErrEarningNotFound),
		errors.Is(err, repository.ErrReconNotFound),
		errors.Is(err, repository.ErrBalanceNotFound):
		response.NotFound(c, err.Error())
	case repository.IsDuplicateKey(err):
		response.BusinessError(c, response.CodeDuplicateRequest, "重复请求")
	case errors.Is(err, repository.ErrConcurrentUpdate),
		errors.Is(err, repository.ErrStatusConflict),
		errors.Is(err, service.ErrSystemBusy):
		response.BusinessError(c, response.CodeConcurrentUpdate, "系统繁忙，请稍后重试")
	default:
		logrus.WithFields(logrus.Fields{
			"component":  "http",
			"request_id": c.GetString(requestIDKey),
			"path":       c.FullPath(),
		}).WithError(err).Error("请求处理失败")
		response.ServerError(c, "服务器内部错误")
	}
}

func pageParams(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	return page, pageSize
}

// timeQuery 支持 RFC3339 和 2006-01-02
func timeQuery(c *gin.Context, key string) (*time.Time, error) {
	raw := c.Query(key)
	if raw == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, fmt.Errorf("%s 时间格式错误", key)
}

func operator(c *gin.Context, fromBody string) string {
	if fromBody != "" {
		return fromBody
	}
	return c.GetHeader("X-Operator-ID")
}

// splitResponse 部分拆单失败时返回 1009 和已成功的子订单
func splitResponse(c *gin.Context, result *service.SplitResult, err error) {
	if err != nil {
		if errors.Is(err, service.ErrSplitPartialFailure) && result != nil {
			response.ErrorWithData(c, response.CodeSplitPartialFailure, err.Error(), result)
			return
		}
		writeError(c, err)
		return
	}
	response.Success(c, result)
}

// ============================================================
// 订单
// ============================================================

// ConfirmPayment 支付成功回调
// POST /api/v1/payments/confirmed
func (h *Handler) ConfirmPayment(c *gin.Context) {
	var req service.PaymentConfirmation
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.svc.Orders.ConfirmPayment(c.Request.Context(), &req)
	splitResponse(c, result, err)
}

// GetOrder GET /api/v1/orders/:order_id
func (h *Handler) GetOrder(c *gin.Context) {
	detail, err := h.svc.Orders.GetOrderDetail(c.Request.Context(), c.Param("order_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, detail)
}

// ListOrders GET /api/v1/orders?payer_id=xxx
func (h *Handler) ListOrders(c *gin.Context) {
	payerID := c.Query("payer_id")
	if payerID == "" {
		response.ParamError(c, "payer_id 不能为空")
		return
	}
	page, pageSize := pageParams(c)
	result, err := h.svc.Orders.ListPayerOrders(c.Request.Context(), payerID, page, pageSize)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, result)
}

// ResplitOrder 手动重试拆单
// POST /api/v1/orders/:order_id/split
func (h *Handler) ResplitOrder(c *gin.Context) {
	result, err := h.svc.Splitter.ResplitOrder(c.Request.Context(), c.Param("order_id"))
	splitResponse(c, result, err)
}

// RecomputeRollup POST /api/v1/orders/:order_id/rollup
func (h *Handler) RecomputeRollup(c *gin.Context) {
	status, err := h.svc.Fulfillment.RecomputeRollup(c.Request.Context(), c.Param("order_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, gin.H{"order_id": c.Param("order_id"), "status": status})
}

// UpdateSubOrderStatus POST /api/v1/sub-orders/:id/status
func (h *Handler) UpdateSubOrderStatus(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.ParamError(c, "id 参数错误")
		return
	}

	var req service.UpdateFulfillmentInput
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	sub, err := h.svc.Fulfillment.UpdateStatus(c.Request.Context(), id, &req)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, sub)
}

// ============================================================
// 卖家
// ============================================================

// GetSellerBalance GET /api/v1/sellers/:seller_id/balance
func (h *Handler) GetSellerBalance(c *gin.Context) {
	view, err := h.svc.Ledger.GetBalanceView(c.Request.Context(), c.Param("seller_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, view)
}

// ListSellerLedger GET /api/v1/sellers/:seller_id/ledger
func (h *Handler) ListSellerLedger(c *gin.Context) {
	page, pageSize := pageParams(c)
	result, err := h.svc.Ledger.ListEntries(c.Request.Context(), c.Param("seller_id"), page, pageSize)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, result)
}

// CheckSellerLedger GET /api/v1/admin/sellers/:seller_id/ledger-check
func (h *Handler) CheckSellerLedger(c *gin.Context) {
	checks, err := h.svc.Ledger.CheckEntries(c.Request.Context(), c.Param("seller_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, checks)
}

// ListSellerEarnings GET /api/v1/sellers/:seller_id/earnings?status=available
func (h *Handler) ListSellerEarnings(c *gin.Context) {
	page, pageSize := pageParams(c)
	result, err := h.svc.Payouts.ListEarnings(c.Request.Context(), c.Param("seller_id"), c.Query("status"), page, pageSize)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, result)
}

// ExportSellerEarnings GET /api/v1/sellers/:seller_id/earnings/export
func (h *Handler) ExportSellerEarnings(c *gin.Context) {
	from, err := timeQuery(c, "from")
	if err != nil {
		response.ParamError(c, err.Error())
		return
	}
	to, err := timeQuery(c, "to")
	if err != nil {
		response.ParamError(c, err.Error())
		return
	}

	sellerID := c.Param("seller_id")
	data, err := h.svc.Reports.ExportSellerStatement(c.Request.Context(), sellerID, from, to)
	if err != nil {
		writeError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="earnings_%s.xlsx"`, sellerID))
	c.Data(http.StatusOK, xlsxContentType, data)
}

// ListSellerSubOrders GET /api/v1/sellers/:seller_id/sub-orders?status=shipped
func (h *Handler) ListSellerSubOrders(c *gin.Context) {
	page, pageSize := pageParams(c)
	result, err := h.svc.Orders.ListSellerSubOrders(c.Request.Context(), c.Param("seller_id"), c.Query("status"), page, pageSize)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, result)
}

// ListSellerPayouts GET /api/v1/sellers/:seller_id/payouts
func (h *Handler) ListSellerPayouts(c *gin.Context) {
	page, pageSize := pageParams(c)
	filter := repository.PayoutFilter{SellerID: c.Param("seller_id"), Status: c.Query("status")}
	result, err := h.svc.Payouts.ListPayouts(c.Request.Context(), filter, page, pageSize)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, result)
}

// RequestPayout POST /api/v1/sellers/:seller_id/payouts
func (h *Handler) RequestPayout(c *gin.Context) {
	var req service.PayoutRequestInput
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	req.SellerID = c.Param("seller_id")
	if req.RequestID == "" {
		req.RequestID = c.GetHeader("Idempotency-Key")
	}

	payout, err := h.svc.Payouts.RequestPayout(c.Request.Context(), &req)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, payout)
}

// GetPayout GET /api/v1/payouts/:payout_no
func (h *Handler) GetPayout(c *gin.Context) {
	detail, err := h.svc.Payouts.GetPayout(c.Request.Context(), c.Param("payout_no"))
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, detail)
}

// ============================================================
// 管理端
// ============================================================

func (h *Handler) payoutFilter(c *gin.Context) (repository.PayoutFilter, error) {
	filter := repository.PayoutFilter{SellerID: c.Query("seller_id"), Status: c.Query("status")}
	from, err := timeQuery(c, "from")
	if err != nil {
		return filter, err
	}
	to, err := timeQuery(c, "to")
	if err != nil {
		return filter, err
	}
	filter.From, filter.To = from, to
	return filter, nil
}

// ListPayouts GET /api/v1/admin/payouts?status=pending_approval
func (h *Handler) ListPayouts(c *gin.Context) {
	filter, err := h.payoutFilter(c)
	if err != nil {
		response.ParamError(c, err.Error())
		return
	}
	page, pageSize := pageParams(c)
	result, err := h.svc.Payouts.ListPayouts(c.Request.Context(), filter, page, pageSize)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, result)
}

// ExportPayouts GET /api/v1/admin/payouts/export
func (h *Handler) ExportPayouts(c *gin.Context) {
	filter, err := h.payoutFilter(c)
	if err != nil {
		response.ParamError(c, err.Error())
		return
	}
	data, err := h.svc.Reports.ExportPayouts(c.Request.Context(), filter)
	if err != nil {
		writeError(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="payouts.xlsx"`)
	c.Data(http.StatusOK, xlsxContentType, data)
}

type ReviewRequest struct {
	Operator          string `json:"operator"`
	Reason            string `json:"reason"`
	ExternalReference string `json:"external_reference"`
}

func bindReview(c *gin.Context) (*ReviewRequest, bool) {
	var req ReviewRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.ParamError(c, "参数错误: "+err.Error())
			return nil, false
		}
	}
	req.Operator = operator(c, req.Operator)
	return &req, true
}

// ApprovePayout POST /api/v1/admin/payouts/:payout_no/approve
func (h *Handler) ApprovePayout(c *gin.Context) {
	req, ok := bindReview(c)
	if !ok {
		return
	}
	payout, err := h.svc.Payouts.ApprovePayout(c.Request.Context(), c.Param("payout_no"), req.Operator)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, payout)
}

// RejectPayout POST /api/v1/admin/payouts/:payout_no/reject
func (h *Handler) RejectPayout(c *gin.Context) {
	req, ok := bindReview(c)
	if !ok {
		return
	}
	payout, err := h.svc.Payouts.RejectPayout(c.Request.Context(), c.Param("payout_no"), req.Operator, req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, payout)
}

// CompletePayout 外部打款完成
// POST /api/v1/admin/payouts/:payout_no/complete
func (h *Handler) CompletePayout(c *gin.Context) {
	req, ok := bindReview(c)
	if !ok {
		return
	}
	payout, err := h.svc.Payouts.CompletePayout(c.Request.Context(), c.Param("payout_no"), req.ExternalReference)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, payout)
}

// GetSettings GET /api/v1/admin/settings
func (h *Handler) GetSettings(c *gin.Context) {
	snap, err := h.svc.Settings.Snapshot(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, snap.View())
}

// UpdateSettings PUT /api/v1/admin/settings
func (h *Handler) UpdateSettings(c *gin.Context) {
	var req service.UpdateSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	snap, err := h.svc.Settings.Update(c.Request.Context(), &req, operator(c, ""))
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, snap.View())
}

// ListReconciliation GET /api/v1/admin/reconciliation?status=open
func (h *Handler) ListReconciliation(c *gin.Context) {
	page, pageSize := pageParams(c)
	result, err := h.svc.Recon.List(c.Request.Context(), c.Query("status"), page, pageSize)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, result)
}

// ListAuditEarnings GET /api/v1/admin/earnings/needs-audit?limit=100
func (h *Handler) ListAuditEarnings(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	earnings, err := h.svc.Recon.ListAuditEarnings(c.Request.Context(), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, earnings)
}

type ResolveRequest struct {
	Operator string `json:"operator"`
	Note     string `json:"note"`
}

// ResolveReconciliation POST /api/v1/admin/reconciliation/:id/resolve
func (h *Handler) ResolveReconciliation(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.ParamError(c, "id 参数错误")
		return
	}
	var req ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	if err := h.svc.Recon.Resolve(c.Request.Context(), id, operator(c, req.Operator), req.Note); err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, gin.H{"id": id})
}

// ReleaseEarnings 供外部 cron 触发收益到期处理
// POST /api/v1/admin/jobs/release-earnings
func (h *Handler) ReleaseEarnings(c *gin.Context) {
	result, err := h.svc.Sweep.RunOnce(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, result)
}

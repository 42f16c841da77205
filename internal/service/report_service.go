package service

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"settlement/internal/repository"

	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"
)

const timeLayout = "2006-01-02 15:04:05"

// ReportService 导出 XLSX 报表，金额列保留分为单位
type ReportService struct {
	payoutRepo  *repository.PayoutRepository
	earningRepo *repository.EarningRepository
	ledger      *LedgerService
}

func NewReportService(db *gorm.DB, ledger *LedgerService) *ReportService {
	return &ReportService{
		payoutRepo:  repository.NewPayoutRepository(db),
		earningRepo: repository.NewEarningRepository(db),
		ledger:      ledger,
	}
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func writeRows(f *excelize.File, sheet string, rows [][]interface{}) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return err
		}
	}
	return nil
}

func render(f *excelize.File) ([]byte, error) {
	defer f.Close()
	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("生成报表失败: %w", err)
	}
	return buf.Bytes(), nil
}

// ExportPayouts 管理端提现明细
func (s *ReportService) ExportPayouts(ctx context.Context, filter repository.PayoutFilter) ([]byte, error) {
	payouts, err := s.payoutRepo.ListAll(ctx, filter)
	if err != nil {
		return nil, err
	}

	rows := [][]interface{}{{
		"Payout No", "Seller", "Amount", "Reserved", "Method", "Status",
		"Requested At", "Approved At", "Approved By", "Rejected At", "Reason", "Paid At", "Reference",
	}}
	for _, p := range payouts {
		created := p.CreatedAt
		rows = append(rows, []interface{}{
			p.PayoutNo, p.SellerID, p.Amount, p.ReservedAmount, p.Method, p.Status,
			formatTime(&created), formatTime(p.ApprovedAt), p.ApprovedBy, formatTime(p.RejectedAt),
			p.FailureReason, formatTime(p.PaidAt), p.ExternalReference,
		})
	}

	f := excelize.NewFile()
	const sheet = "Payouts"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		f.Close()
		return nil, err
	}
	if err := writeRows(f, sheet, rows); err != nil {
		f.Close()
		return nil, err
	}
	return render(f)
}

// ExportSellerStatement 卖家收益对账单：明细页加汇总页
func (s *ReportService) ExportSellerStatement(ctx context.Context, sellerID string, from, to *time.Time) ([]byte, error) {
	if sellerID == "" {
		return nil, newValidationError("seller_id", "不能为空")
	}

	earnings, err := s.earningRepo.ListForStatement(ctx, sellerID, from, to)
	if err != nil {
		return nil, err
	}
	view, err := s.ledger.GetBalanceView(ctx, sellerID)
	if err != nil {
		return nil, err
	}

	rows := [][]interface{}{{
		"Earning ID", "Order", "Sub-Order ID", "Gross", "Rate (%)", "Commission", "Net", "Status", "Available Date", "Payout ID", "Needs Audit",
	}}
	var gross, commissionTotal, net int64
	for _, e := range earnings {
		payoutID := ""
		if e.PayoutID != nil {
			payoutID = fmt.Sprintf("%d", *e.PayoutID)
		}
		availableDate := e.AvailableDate
		rows = append(rows, []interface{}{
			e.ID, e.OrderID, e.SubOrderID, e.GrossAmount, e.CommissionRate.String(), e.CommissionAmount,
			e.NetAmount, e.Status, formatTime(&availableDate), payoutID, e.NeedsAudit,
		})
		gross += e.GrossAmount
		commissionTotal += e.CommissionAmount
		net += e.NetAmount
	}
	rows = append(rows, []interface{}{"Total", "", "", gross, "", commissionTotal, net})

	summary := [][]interface{}{
		{"Seller", sellerID},
		{"Pending Balance", view.PendingBalance},
		{"Available Balance", view.AvailableBalance},
		{"Processing Earnings", view.ProcessingEarnings},
		{"Paid Earnings", view.PaidEarnings},
		{"Total Commission Paid", view.TotalCommissionPaid},
	}

	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", "Earnings"); err != nil {
		f.Close()
		return nil, err
	}
	if _, err := f.NewSheet("Summary"); err != nil {
		f.Close()
		return nil, err
	}
	if err := writeRows(f, "Earnings", rows); err != nil {
		f.Close()
		return nil, err
	}
	if err := writeRows(f, "Summary", summary); err != nil {
		f.Close()
		return nil, err
	}
	return render(f)
}

// ReadSheet 读取导出文件的某一页，测试和对账脚本使用
func ReadSheet(data []byte, sheet string) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return f.GetRows(sheet)
}

package service

import (
	"context"
	"errors"
	"fmt"

	"settlement/internal/model"
	"settlement/internal/repository"
	"settlement/pkg/idgen"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Ref 账本流水关联的业务对象
type Ref struct {
	Type   string
	ID     string
	Remark string
}

// LedgerService 卖家余额的唯一写入口
//
// 每个操作是一条带前置条件的 UPDATE 加对应的流水，二者同事务。
// 传入 tx 时加入调用方事务，否则自己开一个。金额为 0 时直接返回。
type LedgerService struct {
	db          *gorm.DB
	balanceRepo *repository.BalanceRepository
	entryRepo   *repository.BalanceEntryRepository
	earningRepo *repository.EarningRepository
}

func NewLedgerService(db *gorm.DB) *LedgerService {
	return &LedgerService{
		db:          db,
		balanceRepo: repository.NewBalanceRepository(db),
		entryRepo:   repository.NewBalanceEntryRepository(db),
		earningRepo: repository.NewEarningRepository(db),
	}
}

func (s *LedgerService) GetOrCreateBalance(ctx context.Context, tx *gorm.DB, sellerID string) (*model.SellerBalance, error) {
	if sellerID == "" {
		return nil, newValidationError("seller_id", "不能为空")
	}
	return s.balanceRepo.GetOrCreate(ctx, tx, sellerID)
}

type entryLeg struct {
	bucket string
	sign   int64
}

// apply 校验金额、执行余额更新并记流水
func (s *LedgerService) apply(ctx context.Context, tx *gorm.DB, sellerID string, amount int64, entryType string, ref Ref,
	op func(tx *gorm.DB) error, legs ...entryLeg) error {
	if sellerID == "" {
		return newValidationError("seller_id", "不能为空")
	}
	if amount < 0 {
		return newValidationError("amount", "不能为负")
	}
	if amount == 0 {
		return nil
	}

	run := func(tx *gorm.DB) error {
		if _, err := s.balanceRepo.GetOrCreate(ctx, tx, sellerID); err != nil {
			return fmt.Errorf("获取卖家余额失败: %w", err)
		}
		if err := op(tx); err != nil {
			return s.translate(ctx, tx, sellerID, amount, err)
		}

		entries := make([]*model.BalanceEntry, 0, len(legs))
		for _, leg := range legs {
			entries = append(entries, &model.BalanceEntry{
				EntryNo:  idgen.GenerateEntryNo(),
				SellerID: sellerID,
				Bucket:   leg.bucket,
				Amount:   leg.sign * amount,
				Type:     entryType,
				RefType:  ref.Type,
				RefID:    ref.ID,
				Remark:   ref.Remark,
			})
		}
		if err := s.entryRepo.Create(ctx, tx, entries...); err != nil {
			return fmt.Errorf("记录账本流水失败: %w", err)
		}
		return nil
	}

	if tx != nil {
		return run(tx)
	}
	return s.db.WithContext(ctx).Transaction(run)
}

// translate 把前置条件失败转成带当前余额的业务错误
func (s *LedgerService) translate(ctx context.Context, tx *gorm.DB, sellerID string, amount int64, err error) error {
	var bucket string
	switch {
	case errors.Is(err, repository.ErrInsufficientEscrow):
		bucket = model.BucketEscrow
	case errors.Is(err, repository.ErrInsufficientPending):
		bucket = model.BucketPending
	case errors.Is(err, repository.ErrInsufficientAvailable):
		bucket = model.BucketAvailable
	default:
		return err
	}

	fundsErr := &InsufficientFundsError{Bucket: bucket, SellerID: sellerID, Requested: amount}
	if balance, getErr := s.balanceRepo.GetBySellerID(ctx, tx, sellerID); getErr == nil {
		switch bucket {
		case model.BucketEscrow:
			fundsErr.Available = balance.EscrowBalance
		case model.BucketPending:
			fundsErr.Available = balance.PendingBalance
		case model.BucketAvailable:
			fundsErr.Available = balance.AvailableBalance
		}
	}

	logrus.WithFields(logrus.Fields{
		"component": "ledger",
		"seller_id": sellerID,
		"bucket":    bucket,
		"requested": amount,
		"available": fundsErr.Available,
	}).Warn("账本前置条件不满足")
	return fundsErr
}

func (s *LedgerService) AddToEscrow(ctx context.Context, tx *gorm.DB, sellerID string, amount int64, ref Ref) error {
	return s.apply(ctx, tx, sellerID, amount, model.EntryTypeEscrowHold, ref,
		func(tx *gorm.DB) error { return s.balanceRepo.AddToEscrow(ctx, tx, sellerID, amount) },
		entryLeg{model.BucketEscrow, 1})
}

func (s *LedgerService) ReleaseEscrowToPending(ctx context.Context, tx *gorm.DB, sellerID string, amount int64, ref Ref) error {
	return s.apply(ctx, tx, sellerID, amount, model.EntryTypeEscrowRelease, ref,
		func(tx *gorm.DB) error { return s.balanceRepo.ReleaseEscrowToPending(ctx, tx, sellerID, amount) },
		entryLeg{model.BucketEscrow, -1}, entryLeg{model.BucketPending, 1})
}

func (s *LedgerService) AddToPending(ctx context.Context, tx *gorm.DB, sellerID string, amount int64, ref Ref) error {
	return s.apply(ctx, tx, sellerID, amount, model.EntryTypeEarningPending, ref,
		func(tx *gorm.DB) error { return s.balanceRepo.AddToPending(ctx, tx, sellerID, amount) },
		entryLeg{model.BucketPending, 1})
}

func (s *LedgerService) MovePendingToAvailable(ctx context.Context, tx *gorm.DB, sellerID string, amount int64, ref Ref) error {
	return s.apply(ctx, tx, sellerID, amount, model.EntryTypeMatured, ref,
		func(tx *gorm.DB) error { return s.balanceRepo.MovePendingToAvailable(ctx, tx, sellerID, amount) },
		entryLeg{model.BucketPending, -1}, entryLeg{model.BucketAvailable, 1})
}

func (s *LedgerService) DeductFromAvailable(ctx context.Context, tx *gorm.DB, sellerID string, amount int64, ref Ref) error {
	return s.apply(ctx, tx, sellerID, amount, model.EntryTypePayoutReserve, ref,
		func(tx *gorm.DB) error { return s.balanceRepo.DeductFromAvailable(ctx, tx, sellerID, amount) },
		entryLeg{model.BucketAvailable, -1})
}

// CreditAvailable DeductFromAvailable 的逆操作，只在提现驳回时使用
func (s *LedgerService) CreditAvailable(ctx context.Context, tx *gorm.DB, sellerID string, amount int64, ref Ref) error {
	return s.apply(ctx, tx, sellerID, amount, model.EntryTypePayoutRelease, ref,
		func(tx *gorm.DB) error { return s.balanceRepo.CreditAvailable(ctx, tx, sellerID, amount) },
		entryLeg{model.BucketAvailable, 1})
}

func (s *LedgerService) RecordCommission(ctx context.Context, tx *gorm.DB, sellerID string, amount int64, ref Ref) error {
	return s.apply(ctx, tx, sellerID, amount, model.EntryTypeCommission, ref,
		func(tx *gorm.DB) error { return s.balanceRepo.RecordCommission(ctx, tx, sellerID, amount) },
		entryLeg{model.BucketCommission, 1})
}

// BalanceView 余额汇总与按收益状态重新计算的金额，二者不一致时记录告警
type BalanceView struct {
	*model.SellerBalance
	PendingEarnings    int64 `json:"pending_earnings"`
	AvailableEarnings  int64 `json:"available_earnings"`
	ProcessingEarnings int64 `json:"processing_earnings"`
	PaidEarnings       int64 `json:"paid_earnings"`
}

func (s *LedgerService) GetBalanceView(ctx context.Context, sellerID string) (*BalanceView, error) {
	balance, err := s.GetOrCreateBalance(ctx, nil, sellerID)
	if err != nil {
		return nil, err
	}

	view := &BalanceView{SellerBalance: balance}
	sums := []struct {
		status string
		dst    *int64
	}{
		{model.EarningStatusPending, &view.PendingEarnings},
		{model.EarningStatusAvailable, &view.AvailableEarnings},
		{model.EarningStatusProcessing, &view.ProcessingEarnings},
		{model.EarningStatusPaid, &view.PaidEarnings},
	}
	for _, sum := range sums {
		v, err := s.earningRepo.SumNetByStatus(ctx, nil, sellerID, sum.status)
		if err != nil {
			return nil, fmt.Errorf("汇总收益失败: %w", err)
		}
		*sum.dst = v
	}

	// 已预留给提现的收益不再计入 available_balance
	if view.PendingEarnings != balance.PendingBalance || view.AvailableEarnings != balance.AvailableBalance {
		logrus.WithFields(logrus.Fields{
			"component":          "ledger",
			"seller_id":          sellerID,
			"pending_balance":    balance.PendingBalance,
			"pending_earnings":   view.PendingEarnings,
			"available_balance":  balance.AvailableBalance,
			"available_earnings": view.AvailableEarnings,
		}).Error("卖家余额与收益明细不一致")
	}
	return view, nil
}

// BucketCheck 某个资金桶的余额与流水合计
type BucketCheck struct {
	Bucket  string `json:"bucket"`
	Balance int64  `json:"balance"`
	Entries int64  `json:"entries"`
	Matched bool   `json:"matched"`
}

// CheckEntries 用流水合计核对卖家余额
func (s *LedgerService) CheckEntries(ctx context.Context, sellerID string) ([]BucketCheck, error) {
	balance, err := s.GetOrCreateBalance(ctx, nil, sellerID)
	if err != nil {
		return nil, err
	}

	checks := []BucketCheck{
		{Bucket: model.BucketEscrow, Balance: balance.EscrowBalance},
		{Bucket: model.BucketPending, Balance: balance.PendingBalance},
		{Bucket: model.BucketAvailable, Balance: balance.AvailableBalance},
		{Bucket: model.BucketCommission, Balance: balance.TotalCommissionPaid},
	}
	for i := range checks {
		sum, err := s.entryRepo.SumByBucket(ctx, sellerID, checks[i].Bucket)
		if err != nil {
			return nil, fmt.Errorf("汇总账本流水失败: %w", err)
		}
		checks[i].Entries = sum
		checks[i].Matched = sum == checks[i].Balance
		if !checks[i].Matched {
			logrus.WithFields(logrus.Fields{
				"component": "ledger",
				"seller_id": sellerID,
				"bucket":    checks[i].Bucket,
				"balance":   checks[i].Balance,
				"entries":   sum,
			}).Error("余额与账本流水不一致")
		}
	}
	return checks, nil
}

func (s *LedgerService) ListEntries(ctx context.Context, sellerID string, page, pageSize int) (*PageResult, error) {
	page, pageSize = normalizePage(page, pageSize)
	entries, total, err := s.entryRepo.ListBySellerID(ctx, sellerID, page, pageSize)
	if err != nil {
		return nil, err
	}
	return &PageResult{List: entries, Total: total, Page: page, PageSize: pageSize}, nil
}

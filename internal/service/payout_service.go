package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"settlement/internal/config"
	"settlement/internal/infrastructure/lock"
	"settlement/internal/model"
	"settlement/internal/repository"
	"settlement/pkg/idgen"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ============================================================================
// 提现
// ============================================================================
//
//   pending_approval ──approve──> approved ──complete──> paid
//          │
//          └────────reject──────> rejected
//
// 申请：按卖家加锁，以 available 收益之和为准校验额度，按到账日期从早到晚
// 整笔挑选收益直到覆盖申请金额；提现单、收益预留、余额扣减在同一个事务里。
// 驳回：预留的逆操作，收益回到 available，payout_id 清空，余额加回同样的金额。
//
// ============================================================================

const SystemOperator = "system"

type PayoutRequestInput struct {
	RequestID      string            `json:"request_id"`
	SellerID       string            `json:"-"`
	Amount         int64             `json:"amount"`
	Method         string            `json:"method"`
	AccountDetails map[string]string `json:"account_details"`
}

type PayoutService struct {
	db           *gorm.DB
	cfg          *config.Config
	locks        lock.Factory
	settings     *SettingsService
	ledger       *LedgerService
	payoutRepo   *repository.PayoutRepository
	earningRepo  *repository.EarningRepository
	subOrderRepo *repository.SubOrderRepository
	outboxRepo   *repository.OutboxRepository
	now          func() time.Time
}

func NewPayoutService(db *gorm.DB, locks lock.Factory, settings *SettingsService, ledger *LedgerService, cfg *config.Config) *PayoutService {
	return &PayoutService{
		db:           db,
		cfg:          cfg,
		locks:        locks,
		settings:     settings,
		ledger:       ledger,
		payoutRepo:   repository.NewPayoutRepository(db),
		earningRepo:  repository.NewEarningRepository(db),
		subOrderRepo: repository.NewSubOrderRepository(db),
		outboxRepo:   repository.NewOutboxRepository(db),
		now:          utcNow,
	}
}

func (s *PayoutService) WithClock(now func() time.Time) *PayoutService {
	s.now = now
	return s
}

func (s *PayoutService) RequestPayout(ctx context.Context, in *PayoutRequestInput) (*model.PayoutRequest, error) {
	if in.SellerID == "" {
		return nil, newValidationError("seller_id", "不能为空")
	}
	if in.Amount <= 0 {
		return nil, newValidationError("amount", "必须大于0")
	}
	if in.Method == "" {
		return nil, newValidationError("method", "不能为空")
	}

	snap, err := s.settings.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	payoutSettings := snap.Payout
	if !payoutSettings.MethodAllowed(in.Method) {
		return nil, newValidationError("method", "不支持的提现方式: "+in.Method)
	}
	if in.Amount < payoutSettings.MinimumPayoutAmount {
		return nil, newValidationError("amount", fmt.Sprintf("低于最低提现金额 %d", payoutSettings.MinimumPayoutAmount))
	}
	if payoutSettings.MaximumPayoutAmount > 0 && in.Amount > payoutSettings.MaximumPayoutAmount {
		return nil, newValidationError("amount", fmt.Sprintf("超过最高提现金额 %d", payoutSettings.MaximumPayoutAmount))
	}

	if in.RequestID == "" {
		in.RequestID = idgen.GenerateRequestID()
	}

	if existing, err := s.findByRequestID(ctx, in); existing != nil || err != nil {
		return existing, err
	}

	unlock, err := acquire(ctx, s.locks, lock.SellerPayoutKey(in.SellerID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	// 拿到锁后再查一次幂等
	if existing, err := s.findByRequestID(ctx, in); existing != nil || err != nil {
		return existing, err
	}

	log := logrus.WithFields(logrus.Fields{
		"component":  "payout",
		"seller_id":  in.SellerID,
		"request_id": in.RequestID,
		"amount":     in.Amount,
	})

	payout := &model.PayoutRequest{
		PayoutNo:       idgen.GeneratePayoutNo(),
		RequestID:      in.RequestID,
		SellerID:       in.SellerID,
		Amount:         in.Amount,
		Method:         in.Method,
		AccountDetails: in.AccountDetails,
		Status:         model.PayoutStatusPendingApproval,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		earnings, err := s.earningRepo.ListAvailableOldestFirst(ctx, tx, in.SellerID)
		if err != nil {
			return fmt.Errorf("查询可提现收益失败: %w", err)
		}

		var total int64
		for _, e := range earnings {
			total += e.NetAmount
		}
		if total < in.Amount {
			return &InsufficientFundsError{
				Bucket:    model.BucketAvailable,
				SellerID:  in.SellerID,
				Requested: in.Amount,
				Available: total,
			}
		}

		var (
			reserved    int64
			earningIDs  []int64
			subOrderIDs []int64
		)
		for _, e := range earnings {
			if reserved >= in.Amount {
				break
			}
			reserved += e.NetAmount
			earningIDs = append(earningIDs, e.ID)
			subOrderIDs = append(subOrderIDs, e.SubOrderID)
		}
		// 实际打款金额是整笔收益之和，同样受最高提现金额约束
		if payoutSettings.MaximumPayoutAmount > 0 && reserved > payoutSettings.MaximumPayoutAmount {
			return newValidationError("amount", fmt.Sprintf("需锁定的收益合计 %d 超过最高提现金额 %d", reserved, payoutSettings.MaximumPayoutAmount))
		}

		payout.ReservedAmount = reserved
		if err := s.payoutRepo.Create(ctx, tx, payout); err != nil {
			return fmt.Errorf("创建提现单失败: %w", err)
		}
		if err := s.earningRepo.Reserve(ctx, tx, earningIDs, payout.ID); err != nil {
			return err
		}
		if err := s.subOrderRepo.UpdatePayoutStatus(ctx, tx, subOrderIDs, model.EarningStatusProcessing); err != nil {
			return err
		}

		ref := Ref{Type: model.RefTypePayout, ID: payout.PayoutNo}
		if err := s.ledger.DeductFromAvailable(ctx, tx, in.SellerID, reserved, ref); err != nil {
			if errors.Is(err, repository.ErrInsufficientAvailable) {
				log.WithField("reserved", reserved).Error("可提现收益与余额不一致，拒绝提现")
			}
			return err
		}
		return nil
	})
	if err != nil {
		var fundsErr *InsufficientFundsError
		if errors.As(err, &fundsErr) {
			log.WithField("available", fundsErr.Available).Warn("可提现余额不足")
		}
		if repository.IsDuplicateKey(err) {
			if existing, getErr := s.findByRequestID(ctx, in); existing != nil {
				return existing, nil
			} else if getErr != nil {
				return nil, getErr
			}
		}
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"payout_no": payout.PayoutNo,
		"reserved":  payout.ReservedAmount,
	}).Info("提现申请已创建")

	if payoutSettings.ShouldAutoApprove(payout.Amount) {
		return s.ApprovePayout(ctx, payout.PayoutNo, SystemOperator)
	}
	return payout, nil
}

func (s *PayoutService) findByRequestID(ctx context.Context, in *PayoutRequestInput) (*model.PayoutRequest, error) {
	existing, err := s.payoutRepo.GetByRequestID(ctx, in.RequestID)
	if err != nil {
		return nil, fmt.Errorf("查询提现单失败: %w", err)
	}
	if existing == nil {
		return nil, nil
	}
	if existing.SellerID != in.SellerID {
		return nil, newValidationError("request_id", "已被其他卖家使用")
	}
	return existing, nil
}

// transition 在事务内做条件状态迁移，并发修改时报告最新状态
func (s *PayoutService) transition(ctx context.Context, tx *gorm.DB, payoutNo, from, to string, extra map[string]interface{}) (*model.PayoutRequest, error) {
	payout, err := s.payoutRepo.GetByPayoutNo(ctx, tx, payoutNo)
	if err != nil {
		return nil, err
	}
	if payout.Status != from {
		return nil, &InvalidPayoutStateError{PayoutNo: payoutNo, Current: payout.Status, Target: to}
	}

	if err := s.payoutRepo.Transition(ctx, tx, payoutNo, from, to, extra); err != nil {
		if errors.Is(err, repository.ErrStatusConflict) {
			current, getErr := s.payoutRepo.GetByPayoutNo(ctx, tx, payoutNo)
			if getErr != nil {
				return nil, getErr
			}
			return nil, &InvalidPayoutStateError{PayoutNo: payoutNo, Current: current.Status, Target: to}
		}
		return nil, err
	}
	return payout, nil
}

func (s *PayoutService) ApprovePayout(ctx context.Context, payoutNo, approvedBy string) (*model.PayoutRequest, error) {
	if approvedBy == "" {
		return nil, newValidationError("approved_by", "不能为空")
	}

	now := s.now()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		payout, err := s.transition(ctx, tx, payoutNo, model.PayoutStatusPendingApproval, model.PayoutStatusApproved, map[string]interface{}{
			"approved_at": &now,
			"approved_by": approvedBy,
		})
		if err != nil {
			return err
		}

		return writeOutbox(ctx, tx, s.outboxRepo, s.cfg.Kafka.Topic.Notification, payoutNo, model.EventPayoutApproved, map[string]interface{}{
			"payout_no":   payoutNo,
			"seller_id":   payout.SellerID,
			"amount":      payout.ReservedAmount,
			"method":      payout.Method,
			"approved_by": approvedBy,
		})
	})
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"component":   "payout",
		"payout_no":   payoutNo,
		"approved_by": approvedBy,
	}).Info("提现已审核通过")
	return s.payoutRepo.GetByPayoutNo(ctx, nil, payoutNo)
}

// RejectPayout 驳回并释放预留的收益
func (s *PayoutService) RejectPayout(ctx context.Context, payoutNo, rejectedBy, reason string) (*model.PayoutRequest, error) {
	if rejectedBy == "" {
		return nil, newValidationError("rejected_by", "不能为空")
	}
	if reason == "" {
		return nil, newValidationError("reason", "不能为空")
	}

	now := s.now()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		payout, err := s.transition(ctx, tx, payoutNo, model.PayoutStatusPendingApproval, model.PayoutStatusRejected, map[string]interface{}{
			"rejected_at":    &now,
			"rejected_by":    rejectedBy,
			"failure_reason": reason,
		})
		if err != nil {
			return err
		}

		earnings, err := s.earningRepo.ListByPayoutID(ctx, tx, payout.ID)
		if err != nil {
			return err
		}
		released, err := s.earningRepo.ReleaseByPayout(ctx, tx, payout.ID)
		if err != nil {
			return err
		}
		if released != int64(len(earnings)) {
			return repository.ErrConcurrentUpdate
		}

		subOrderIDs := make([]int64, 0, len(earnings))
		for _, e := range earnings {
			subOrderIDs = append(subOrderIDs, e.SubOrderID)
		}
		if err := s.subOrderRepo.UpdatePayoutStatus(ctx, tx, subOrderIDs, model.EarningStatusAvailable); err != nil {
			return err
		}

		ref := Ref{Type: model.RefTypePayout, ID: payoutNo, Remark: reason}
		if err := s.ledger.CreditAvailable(ctx, tx, payout.SellerID, payout.ReservedAmount, ref); err != nil {
			return err
		}

		return writeOutbox(ctx, tx, s.outboxRepo, s.cfg.Kafka.Topic.Notification, payoutNo, model.EventPayoutRejected, map[string]interface{}{
			"payout_no": payoutNo,
			"seller_id": payout.SellerID,
			"amount":    payout.Amount,
			"reason":    reason,
		})
	})
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"component":   "payout",
		"payout_no":   payoutNo,
		"rejected_by": rejectedBy,
		"reason":      reason,
	}).Info("提现已驳回，收益已释放")
	return s.payoutRepo.GetByPayoutNo(ctx, nil, payoutNo)
}

// CompletePayout 外部打款完成回调，approved -> paid
func (s *PayoutService) CompletePayout(ctx context.Context, payoutNo, externalReference string) (*model.PayoutRequest, error) {
	now := s.now()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		payout, err := s.transition(ctx, tx, payoutNo, model.PayoutStatusApproved, model.PayoutStatusPaid, map[string]interface{}{
			"paid_at":            &now,
			"external_reference": externalReference,
		})
		if err != nil {
			return err
		}

		earnings, err := s.earningRepo.ListByPayoutID(ctx, tx, payout.ID)
		if err != nil {
			return err
		}
		if _, err := s.earningRepo.MarkPaidByPayout(ctx, tx, payout.ID); err != nil {
			return err
		}
		subOrderIDs := make([]int64, 0, len(earnings))
		for _, e := range earnings {
			subOrderIDs = append(subOrderIDs, e.SubOrderID)
		}
		if err := s.subOrderRepo.UpdatePayoutStatus(ctx, tx, subOrderIDs, model.EarningStatusPaid); err != nil {
			return err
		}

		return writeOutbox(ctx, tx, s.outboxRepo, s.cfg.Kafka.Topic.Notification, payoutNo, model.EventPayoutPaid, map[string]interface{}{
			"payout_no":          payoutNo,
			"seller_id":          payout.SellerID,
			"amount":             payout.ReservedAmount,
			"external_reference": externalReference,
		})
	})
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"component": "payout",
		"payout_no": payoutNo,
		"reference": externalReference,
	}).Info("提现已打款")
	return s.payoutRepo.GetByPayoutNo(ctx, nil, payoutNo)
}

type PayoutDetail struct {
	*model.PayoutRequest
	Earnings []*model.Earning `json:"earnings"`
}

func (s *PayoutService) GetPayout(ctx context.Context, payoutNo string) (*PayoutDetail, error) {
	payout, err := s.payoutRepo.GetByPayoutNo(ctx, nil, payoutNo)
	if err != nil {
		return nil, err
	}
	earnings, err := s.earningRepo.ListByPayoutID(ctx, nil, payout.ID)
	if err != nil {
		return nil, err
	}
	return &PayoutDetail{PayoutRequest: payout, Earnings: earnings}, nil
}

func (s *PayoutService) ListPayouts(ctx context.Context, filter repository.PayoutFilter, page, pageSize int) (*PageResult, error) {
	page, pageSize = normalizePage(page, pageSize)
	payouts, total, err := s.payoutRepo.List(ctx, filter, page, pageSize)
	if err != nil {
		return nil, err
	}
	return &PageResult{List: payouts, Total: total, Page: page, PageSize: pageSize}, nil
}

func (s *PayoutService) ListEarnings(ctx context.Context, sellerID, status string, page, pageSize int) (*PageResult, error) {
	page, pageSize = normalizePage(page, pageSize)
	earnings, total, err := s.earningRepo.ListBySellerID(ctx, sellerID, status, page, pageSize)
	if err != nil {
		return nil, err
	}
	return &PageResult{List: earnings, Total: total, Page: page, PageSize: pageSize}, nil
}

package job

import (
	"context"
	"strconv"
	"time"

	"settlement/internal/config"
	"settlement/internal/model"
	"settlement/internal/repository"
	"settlement/internal/service"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// AvailabilitySweepJob 把到期的 pending 收益转为 available
//
// 每条收益一个事务：条件更新收益状态成功后才移动余额，
// 多个实例同时跑或被外部 cron 重复触发都不会重复入账。
type AvailabilitySweepJob struct {
	db           *gorm.DB
	ledger       *service.LedgerService
	earningRepo  *repository.EarningRepository
	subOrderRepo *repository.SubOrderRepository
	stopCh       chan struct{}
	interval     time.Duration
	batchSize    int
	now          func() time.Time
	log          *logrus.Entry
}

func NewAvailabilitySweepJob(db *gorm.DB, ledger *service.LedgerService, cfg *config.Config) *AvailabilitySweepJob {
	interval := time.Duration(cfg.Jobs.SweepIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	batchSize := cfg.Jobs.SweepBatchSize
	if batchSize <= 0 {
		batchSize = 200
	}

	return &AvailabilitySweepJob{
		db:           db,
		ledger:       ledger,
		earningRepo:  repository.NewEarningRepository(db),
		subOrderRepo: repository.NewSubOrderRepository(db),
		stopCh:       make(chan struct{}),
		interval:     interval,
		batchSize:    batchSize,
		now:          func() time.Time { return time.Now().UTC() },
		log:          logrus.WithField("component", "AvailabilitySweepJob"),
	}
}

func (j *AvailabilitySweepJob) WithClock(now func() time.Time) *AvailabilitySweepJob {
	j.now = now
	return j
}

func (j *AvailabilitySweepJob) Start(ctx context.Context) {
	j.log.Info("收益到期任务启动")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.log.Info("收到停止信号，任务退出")
			return
		case <-j.stopCh:
			j.log.Info("任务停止")
			return
		case <-ticker.C:
			if _, err := j.RunOnce(ctx); err != nil {
				j.log.WithError(err).Error("收益到期处理失败")
			}
		}
	}
}

func (j *AvailabilitySweepJob) Stop() {
	close(j.stopCh)
}

type SweepResult struct {
	Scanned  int   `json:"scanned"`
	Released int   `json:"released"`
	Skipped  int   `json:"skipped"`
	Failed   int   `json:"failed"`
	Amount   int64 `json:"amount"`
}

// RunOnce 处理所有已到期收益，一批全部失败或没有新进展时停止
func (j *AvailabilitySweepJob) RunOnce(ctx context.Context) (*SweepResult, error) {
	total := &SweepResult{}
	now := j.now()

	for {
		earnings, err := j.earningRepo.ListMatured(ctx, now, j.batchSize)
		if err != nil {
			return total, err
		}
		if len(earnings) == 0 {
			break
		}

		released := 0
		for _, earning := range earnings {
			total.Scanned++
			ok, err := j.release(ctx, earning, now)
			switch {
			case err != nil:
				total.Failed++
				j.log.WithFields(logrus.Fields{
					"earning_id": earning.ID,
					"seller_id":  earning.SellerID,
					"order_id":   earning.OrderID,
					"amount":     earning.NetAmount,
				}).WithError(err).Error("收益转可提现失败")
			case ok:
				released++
				total.Released++
				total.Amount += earning.NetAmount
			default:
				total.Skipped++
			}
		}

		if released == 0 || len(earnings) < j.batchSize {
			break
		}
	}

	if total.Released > 0 || total.Failed > 0 {
		j.log.WithFields(logrus.Fields{
			"released": total.Released,
			"skipped":  total.Skipped,
			"failed":   total.Failed,
			"amount":   total.Amount,
		}).Info("收益到期处理完成")
	}
	return total, nil
}

// release 返回 false 表示已被其他执行者处理
func (j *AvailabilitySweepJob) release(ctx context.Context, earning *model.Earning, now time.Time) (bool, error) {
	var released bool
	err := j.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := j.earningRepo.MarkAvailable(ctx, tx, earning.ID, now)
		if err != nil || !ok {
			return err
		}

		ref := service.Ref{Type: model.RefTypeEarning, ID: strconv.FormatInt(earning.ID, 10)}
		if err := j.ledger.MovePendingToAvailable(ctx, tx, earning.SellerID, earning.NetAmount, ref); err != nil {
			return err
		}
		if err := j.subOrderRepo.UpdatePayoutStatus(ctx, tx, []int64{earning.SubOrderID}, model.EarningStatusAvailable); err != nil {
			return err
		}
		released = true
		return nil
	})
	return released, err
}

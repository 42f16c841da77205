package job

import (
	"context"
	"errors"
	"time"

	"settlement/internal/config"
	"settlement/internal/model"
	"settlement/internal/repository"
	"settlement/internal/service"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// SplitCompensateJob 重试拆单失败的卖家分组，超过最大次数后留给人工处理
type SplitCompensateJob struct {
	splitter    *service.SplitService
	reconRepo   *repository.ReconciliationRepository
	stopCh      chan struct{}
	interval    time.Duration
	batchSize   int
	maxAttempts int
	log         *logrus.Entry
}

func NewSplitCompensateJob(db *gorm.DB, splitter *service.SplitService, cfg *config.Config) *SplitCompensateJob {
	interval := time.Duration(cfg.Jobs.CompensateIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	batchSize := cfg.Jobs.CompensateBatchSize
	if batchSize <= 0 {
		batchSize = 50
	}
	maxAttempts := cfg.Jobs.CompensateMaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}

	return &SplitCompensateJob{
		splitter:    splitter,
		reconRepo:   repository.NewReconciliationRepository(db),
		stopCh:      make(chan struct{}),
		interval:    interval,
		batchSize:   batchSize,
		maxAttempts: maxAttempts,
		log:         logrus.WithField("component", "SplitCompensateJob"),
	}
}

func (j *SplitCompensateJob) Start(ctx context.Context) {
	j.log.Info("拆单补偿任务启动")

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
			j.RunOnce(ctx)
		}
	}
}

func (j *SplitCompensateJob) Stop() {
	close(j.stopCh)
}

// RunOnce 返回重试后完全拆分成功的订单数
func (j *SplitCompensateJob) RunOnce(ctx context.Context) int {
	items, err := j.reconRepo.ListOpenByKind(ctx, model.ReconKindSplitFailure, j.maxAttempts, j.batchSize)
	if err != nil {
		j.log.WithError(err).Error("查询待补偿记录失败")
		return 0
	}
	if len(items) == 0 {
		return 0
	}

	byOrder := make(map[string][]*model.ReconciliationItem)
	var orders []string
	for _, item := range items {
		if _, ok := byOrder[item.OrderID]; !ok {
			orders = append(orders, item.OrderID)
		}
		byOrder[item.OrderID] = append(byOrder[item.OrderID], item)
	}

	recovered := 0
	for _, orderID := range orders {
		for _, item := range byOrder[orderID] {
			if err := j.reconRepo.IncrementAttempts(ctx, item.ID); err != nil {
				j.log.WithField("id", item.ID).WithError(err).Error("更新重试次数失败")
			}
		}

		log := j.log.WithField("order_id", orderID)
		_, err := j.splitter.ResplitOrder(ctx, orderID)
		switch {
		case err == nil:
			recovered++
			log.Info("拆单补偿成功")
		case errors.Is(err, service.ErrSplitPartialFailure):
			log.WithError(err).Warn("拆单补偿仍有失败")
		default:
			log.WithError(err).Error("拆单补偿失败")
		}
	}
	return recovered
}

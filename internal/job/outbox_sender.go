package job

import (
	"context"
	"time"

	"settlement/internal/config"
	"settlement/internal/infrastructure/mq"
	"settlement/internal/model"
	"settlement/internal/repository"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// OutboxSender 投递通知消息，投递失败只影响通知本身
type OutboxSender struct {
	outboxRepo    *repository.OutboxRepository
	publisher     mq.Publisher
	stopCh        chan struct{}
	interval      time.Duration
	batchSize     int
	maxRetryCount int
	log           *logrus.Entry
}

func NewOutboxSender(db *gorm.DB, publisher mq.Publisher, cfg *config.Config) *OutboxSender {
	interval := time.Duration(cfg.Jobs.OutboxIntervalMillis) * time.Millisecond
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	batchSize := cfg.Jobs.OutboxBatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	maxRetry := cfg.Jobs.OutboxMaxRetryCount
	if maxRetry <= 0 {
		maxRetry = 5
	}

	return &OutboxSender{
		outboxRepo:    repository.NewOutboxRepository(db),
		publisher:     publisher,
		stopCh:        make(chan struct{}),
		interval:      interval,
		batchSize:     batchSize,
		maxRetryCount: maxRetry,
		log:           logrus.WithField("component", "OutboxSender"),
	}
}

func (s *OutboxSender) Start(ctx context.Context) {
	s.log.Info("消息发送任务启动")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("收到停止信号，任务退出")
			return
		case <-s.stopCh:
			s.log.Info("任务停止")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

func (s *OutboxSender) Stop() {
	close(s.stopCh)
}

// RunOnce 发送一批待发送消息，返回成功条数
func (s *OutboxSender) RunOnce(ctx context.Context) int {
	messages, err := s.outboxRepo.GetPendingMessages(ctx, s.batchSize)
	if err != nil {
		s.log.WithError(err).Error("查询消息失败")
		return 0
	}

	sent := 0
	for _, msg := range messages {
		if s.sendMessage(ctx, msg) {
			sent++
		}
	}
	return sent
}

func (s *OutboxSender) sendMessage(ctx context.Context, msg *model.OutboxMessage) bool {
	log := s.log.WithFields(logrus.Fields{
		"id":    msg.ID,
		"topic": msg.Topic,
		"key":   msg.MessageKey,
		"event": msg.EventType,
	})

	err := s.publisher.Publish(ctx, msg.Topic, msg.MessageKey, msg.Payload)
	if err == nil {
		if updateErr := s.outboxRepo.UpdateStatus(ctx, msg.ID, model.OutboxStatusSent); updateErr != nil {
			log.WithError(updateErr).Error("更新消息状态失败")
		} else {
			log.Debug("消息发送成功")
		}
		return true
	}

	log.WithError(err).Warn("消息发送失败")

	if err := s.outboxRepo.IncrementRetryCount(ctx, msg.ID); err != nil {
		log.WithError(err).Error("增加重试次数失败")
	}

	if msg.RetryCount+1 >= s.maxRetryCount {
		if err := s.outboxRepo.MarkAsFailed(ctx, msg.ID); err != nil {
			log.WithError(err).Error("标记消息失败状态失败")
		} else {
			log.Error("消息超过最大重试次数，标记为失败")
		}
	}
	return false
}

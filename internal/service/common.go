package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"settlement/internal/infrastructure/lock"
	"settlement/internal/model"
	"settlement/internal/repository"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	lockExpiration    = 30 * time.Second
	lockRetryInterval = 100 * time.Millisecond
	lockMaxRetries    = 50
)

func utcNow() time.Time {
	return time.Now().UTC()
}

// acquire 获取锁，返回释放函数
func acquire(ctx context.Context, locks lock.Factory, key string) (func(), error) {
	l := locks.NewLock(key, uuid.NewString(), lockExpiration)
	if err := l.Lock(ctx, lockRetryInterval, lockMaxRetries); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSystemBusy, err)
	}
	return func() {
		_ = l.Unlock(context.Background())
	}, nil
}

// writeOutbox 与业务数据同事务写入通知消息
func writeOutbox(ctx context.Context, tx *gorm.DB, repo *repository.OutboxRepository, topic, key, eventType string, payload map[string]interface{}) error {
	payload["event"] = eventType
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return repo.Create(ctx, tx, &model.OutboxMessage{
		MessageKey: key,
		Topic:      topic,
		EventType:  eventType,
		Payload:    string(data),
		Status:     model.OutboxStatusPending,
	})
}

func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return page, pageSize
}

type PageResult struct {
	List     interface{} `json:"list"`
	Total    int64       `json:"total"`
	Page     int         `json:"page"`
	PageSize int         `json:"page_size"`
}

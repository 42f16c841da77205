package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// ============================================================================
// 分布式锁
// ============================================================================
//
// 结算里需要串行化的两个维度：
//
//   - 按卖家：同一卖家的两笔提现申请不能同时挑选 available 收益
//   - 按订单：支付确认重复投递、补偿任务重试时，同一订单的拆单不能并发执行
//
// 锁只用来减少冲突，正确性仍由数据库的条件更新和唯一键保证。
//
// 加锁：SET key value NX EX timeout
// 释放：Lua 脚本比较 value 后再 DEL，避免删掉别人的锁
//
// ============================================================================

var (
	ErrLockFailed  = errors.New("获取分布式锁失败")
	ErrLockExpired = errors.New("锁已过期")
)

const unlockScript = `
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`

// Locker 一把具体的锁
type Locker interface {
	TryLock(ctx context.Context) (bool, error)
	Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error
	Unlock(ctx context.Context) error
}

// Factory 按 key 创建锁，生产环境用 Redis，单机部署和测试用进程内实现
type Factory interface {
	NewLock(key, owner string, expiration time.Duration) Locker
}

// DistributedLock Redis 分布式锁
type DistributedLock struct {
	client     *redis.Client
	key        string
	value      string // 持有者标识，释放时校验
	expiration time.Duration
}

func NewDistributedLock(client *redis.Client, key, value string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

// TryLock 非阻塞加锁
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	success, err := l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
	if err != nil {
		return false, err
	}
	return success, nil
}

// Lock 阻塞加锁，最多重试 maxRetries 次
func (l *DistributedLock) Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error {
	return retryLock(ctx, l, retryInterval, maxRetries)
}

func (l *DistributedLock) Unlock(ctx context.Context) error {
	res, err := l.client.Eval(ctx, unlockScript, []string{l.key}, l.value).Int64()
	if err != nil {
		return err
	}
	if res == 0 {
		return ErrLockExpired
	}
	return nil
}

func retryLock(ctx context.Context, l Locker, retryInterval time.Duration, maxRetries int) error {
	for i := 0; i < maxRetries; i++ {
		success, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if success {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
		}
	}
	return ErrLockFailed
}

type RedisFactory struct {
	client *redis.Client
}

func NewRedisFactory(client *redis.Client) *RedisFactory {
	return &RedisFactory{client: client}
}

func (f *RedisFactory) NewLock(key, owner string, expiration time.Duration) Locker {
	return NewDistributedLock(f.client, key, owner, expiration)
}

// SellerPayoutKey 提现按卖家加锁
func SellerPayoutKey(sellerID string) string {
	return fmt.Sprintf("settlement:lock:payout:seller:%s", sellerID)
}

// OrderSplitKey 拆单按订单加锁
func OrderSplitKey(orderID string) string {
	return fmt.Sprintf("settlement:lock:split:order:%s", orderID)
}

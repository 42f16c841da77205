package lock

import (
	"context"
	"sync"
	"time"
)

// LocalFactory 进程内锁，语义与 Redis 版一致（带过期时间、按 owner 释放）
type LocalFactory struct {
	mu     sync.Mutex
	owners map[string]localEntry
	now    func() time.Time
}

type localEntry struct {
	owner    string
	expireAt time.Time
}

func NewLocalFactory() *LocalFactory {
	return &LocalFactory{
		owners: make(map[string]localEntry),
		now:    time.Now,
	}
}

func (f *LocalFactory) NewLock(key, owner string, expiration time.Duration) Locker {
	return &localLock{factory: f, key: key, owner: owner, expiration: expiration}
}

func (f *LocalFactory) tryAcquire(key, owner string, expiration time.Duration) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.now()
	if cur, ok := f.owners[key]; ok && now.Before(cur.expireAt) {
		return false
	}
	f.owners[key] = localEntry{owner: owner, expireAt: now.Add(expiration)}
	return true
}

func (f *LocalFactory) release(key, owner string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	cur, ok := f.owners[key]
	if !ok || cur.owner != owner {
		return ErrLockExpired
	}
	delete(f.owners, key)
	return nil
}

type localLock struct {
	factory    *LocalFactory
	key        string
	owner      string
	expiration time.Duration
}

func (l *localLock) TryLock(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return l.factory.tryAcquire(l.key, l.owner, l.expiration), nil
}

func (l *localLock) Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error {
	return retryLock(ctx, l, retryInterval, maxRetries)
}

func (l *localLock) Unlock(ctx context.Context) error {
	return l.factory.release(l.key, l.owner)
}

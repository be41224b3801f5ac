// internal/service/inventory/infrastructure/adapter/local_locker.go
package adapter

import (
	"context"
	"errors"
	"sync"

	"serialstock/internal/service/inventory/domain"
)

// LocalLocker 是 domain.Locker 的进程内实现：每个 key 一个容量为 1 的信号量。
// 供测试和单实例部署使用，多实例部署必须换成分布式实现。
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

// NewLocalLocker 创建进程内锁
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]chan struct{})}
}

func (l *LocalLocker) Acquire(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	ch, ok := l.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.locks[key] = ch
	}
	l.mu.Unlock()

	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, domain.ErrLockTimeout
		}
		return nil, ctx.Err()
	}
}

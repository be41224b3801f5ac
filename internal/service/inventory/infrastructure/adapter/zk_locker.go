// internal/service/inventory/infrastructure/adapter/zk_locker.go
package adapter

import (
	"context"
	"errors"
	"time"

	"serialstock/internal/pkg/logger"
	"serialstock/internal/service/inventory/domain"
	"serialstock/internal/zookeeper"
)

// ZkLocker 是 domain.Locker 的 ZooKeeper 实现。
// 每次 Acquire 建一个新的锁实例：临时顺序节点本身就是一次性资源。
type ZkLocker struct {
	conn    *zookeeper.Conn
	waitFor time.Duration
}

// NewZkLocker 创建 ZooKeeper 锁适配器
func NewZkLocker(conn *zookeeper.Conn, waitFor time.Duration) *ZkLocker {
	return &ZkLocker{conn: conn, waitFor: waitFor}
}

func (l *ZkLocker) Acquire(ctx context.Context, key string) (func(), error) {
	lock, err := zookeeper.NewDistributedLock(l.conn, key, l.waitFor)
	if err != nil {
		return nil, err
	}
	if err := lock.Lock(ctx); err != nil {
		if errors.Is(err, zookeeper.ErrWaitTimeout) {
			return nil, domain.ErrLockTimeout
		}
		return nil, err
	}
	return func() {
		if err := lock.Unlock(); err != nil {
			logger.Ctx(ctx).Error().Err(err).Str("key", key).Msg("failed to release zookeeper lock")
		}
	}, nil
}

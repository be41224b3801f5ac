// internal/service/inventory/infrastructure/adapter/redis_locker.go
package adapter

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"serialstock/internal/pkg/logger"
	"serialstock/internal/pkg/redis"
	"serialstock/internal/service/inventory/domain"
)

const unlockScriptName = "stock_unlock"

// 只有持有者的令牌才能删除锁，避免误删他人续上的锁
var unlockScript = `
-- KEYS[1]: 锁的 Key
-- ARGV[1]: 持有者令牌
if redis.call('get', KEYS[1]) == ARGV[1] then
    return redis.call('del', KEYS[1])
else
    return 0
end
`

// RedisLocker 是 domain.Locker 的 Redis 实现：
// SET NX PX 抢锁，带令牌的 Lua 比较删除解锁，抢不到时退避轮询直到等待超时。
// 适合没有 ZooKeeper 的小型部署。
type RedisLocker struct {
	client  *redis.Client
	ttl     time.Duration
	waitFor time.Duration
	backoff time.Duration
}

// NewRedisLocker 创建 Redis 锁适配器并加载解锁脚本
func NewRedisLocker(client *redis.Client, ttl, waitFor time.Duration) (*RedisLocker, error) {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if waitFor <= 0 {
		waitFor = 10 * time.Second
	}
	if err := client.LoadScriptFromContent(unlockScriptName, unlockScript); err != nil {
		return nil, fmt.Errorf("failed to load unlock script: %w", err)
	}
	return &RedisLocker{
		client:  client,
		ttl:     ttl,
		waitFor: waitFor,
		backoff: 50 * time.Millisecond,
	}, nil
}

func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	redisKey := "stock:lock:{" + key + "}"
	token := uuid.New().String()
	deadline := time.Now().Add(l.waitFor)

	for {
		ok, err := l.client.GetClient().SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire redis lock %s: %w", key, err)
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return nil, domain.ErrLockTimeout
		}
		select {
		case <-time.After(l.backoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return func() {
		// 解锁用独立上下文：调用方的 ctx 可能已经结束
		unlockCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := l.client.RunScript(unlockCtx, unlockScriptName, []string{redisKey}, token); err != nil {
			logger.Logger.Error().Err(err).Str("key", key).Msg("failed to release redis lock")
		}
	}, nil
}

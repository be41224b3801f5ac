// internal/pkg/redis/client.go
package redis

import (
	"context"
	"fmt"
	"sync"

	goredis "github.com/redis/go-redis/v9"
)

// Client 封装了 go-redis 客户端，集中管理按名注册的 Lua 脚本
type Client struct {
	rdb     *goredis.Client
	mu      sync.RWMutex
	scripts map[string]*goredis.Script
}

// NewClient 创建 Redis 客户端并做一次连通性探测
func NewClient(ctx context.Context, addr, password string, db int) (*Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis at %s: %w", addr, err)
	}
	return &Client{rdb: rdb, scripts: make(map[string]*goredis.Script)}, nil
}

// GetClient 暴露底层客户端，供需要 pipeline 等高级能力的调用方使用
func (c *Client) GetClient() *goredis.Client {
	return c.rdb
}

// LoadScriptFromContent 注册一段具名 Lua 脚本
func (c *Client) LoadScriptFromContent(name, content string) error {
	if content == "" {
		return fmt.Errorf("script %q is empty", name)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scripts[name] = goredis.NewScript(content)
	return nil
}

// RunScript 执行已注册的脚本，EVALSHA 未命中时自动回退 EVAL
func (c *Client) RunScript(ctx context.Context, name string, keys []string, args ...interface{}) (interface{}, error) {
	c.mu.RLock()
	script, ok := c.scripts[name]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("script %q is not loaded", name)
	}
	return script.Run(ctx, c.rdb, keys, args...).Result()
}

// Close 关闭底层连接
func (c *Client) Close() error {
	return c.rdb.Close()
}

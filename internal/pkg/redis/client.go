// internal/pkg/redis/client.go
package redis

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Client 封装了 go-redis 的 UniversalClient，并管理业务方注册的 Lua 脚本。
// 单地址时是普通客户端，多地址时自动使用集群模式。
type Client struct {
	rdb redis.UniversalClient

	mu      sync.RWMutex
	scripts map[string]*redis.Script
}

// NewClient 根据逗号分隔的地址列表创建客户端，并做一次连通性检查。
func NewClient(addrs, password string, db int) (*Client, error) {
	addrList := strings.Split(addrs, ",")
	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        addrList,
		Password:     password,
		DB:           db,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  500 * time.Millisecond,
		WriteTimeout: 500 * time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis %s: %w", addrs, err)
	}

	log.Info().Strs("addrs", addrList).Msg("✅ Successfully connected to Redis.")
	return Wrap(rdb), nil
}

// Wrap 用已有的客户端构造 Client，测试时可以传入指向 miniredis 的客户端。
func Wrap(rdb redis.UniversalClient) *Client {
	return &Client{rdb: rdb, scripts: make(map[string]*redis.Script)}
}

// GetClient 暴露底层客户端，用于 pipeline 等高级操作。
func (c *Client) GetClient() redis.UniversalClient {
	return c.rdb
}

// LoadScriptFromContent 注册一个 Lua 脚本，之后可以通过名字执行。
func (c *Client) LoadScriptFromContent(name, src string) error {
	if strings.TrimSpace(src) == "" {
		return fmt.Errorf("script %q is empty", name)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scripts[name] = redis.NewScript(src)
	return nil
}

// RunScript 执行已注册的脚本；go-redis 会先尝试 EVALSHA，缓存未命中时退回 EVAL。
func (c *Client) RunScript(ctx context.Context, name string, keys []string, args ...interface{}) (interface{}, error) {
	c.mu.RLock()
	script, ok := c.scripts[name]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("script %q is not loaded", name)
	}
	return script.Run(ctx, c.rdb, keys, args...).Result()
}

// Close 关闭底层连接池。
func (c *Client) Close() error {
	return c.rdb.Close()
}

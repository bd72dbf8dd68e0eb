// Package cache provides internal cache management.
// This package is internal and should not be imported by external projects.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/skillflow/internal/tlsutil"
)

var (
	// ErrCacheMiss 键不存在或已过期
	ErrCacheMiss = errors.New("cache miss")
	// ErrClosed 管理器已关闭
	ErrClosed = errors.New("cache manager is closed")
)

// IsCacheMiss 判断是否为缓存未命中
func IsCacheMiss(err error) bool {
	return errors.Is(err, ErrCacheMiss)
}

// Config Redis 连接配置
type Config struct {
	Addr         string
	Password     string
	DB           int
	TLS          bool
	MaxRetries   int
	PoolSize     int
	MinIdleConns int
	// DefaultTTL Set 传入 0 时使用
	DefaultTTL time.Duration
	// HealthCheckInterval <=0 关闭后台 Ping
	HealthCheckInterval time.Duration
	// DialTimeout 建连时的 Ping 超时
	DialTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.Addr == "" {
		c.Addr = "localhost:6379"
	}
	if c.DefaultTTL <= 0 {
		c.DefaultTTL = 5 * time.Minute
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 5 * time.Second
	}
}

// Stats 命中统计
type Stats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Errors int64 `json:"errors"`
}

// =============================================================================
// 💾 Manager
// =============================================================================

// Manager 承载技能摘要缓存与告警列表的 Redis 客户端
type Manager struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
	stop   chan struct{}
	done   chan struct{}

	hits, misses, errs atomic.Int64
}

// NewManager 连接 Redis，连不上直接返回错误，由调用方决定是否降级
func NewManager(cfg Config, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.applyDefaults()

	opts := &redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   cfg.MaxRetries,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	}
	if cfg.TLS {
		opts.TLSConfig = tlsutil.RedisTLSConfig(cfg.Addr)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", cfg.Addr, err)
	}

	m := &Manager{
		client: client,
		ttl:    cfg.DefaultTTL,
		logger: logger.With(zap.String("component", "cache")),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	if cfg.HealthCheckInterval > 0 {
		go m.watchHealth(cfg.HealthCheckInterval)
	} else {
		close(m.done)
	}

	m.logger.Info("redis connected", zap.String("addr", cfg.Addr), zap.Int("db", cfg.DB))
	return m, nil
}

// run 在读锁下执行 fn，关闭后返回 ErrClosed
func (m *Manager) run(fn func() error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return fn()
}

func (m *Manager) fail(op, key string, err error) error {
	m.errs.Add(1)
	m.logger.Warn("redis "+op+" failed", zap.String("key", key), zap.Error(err))
	return fmt.Errorf("cache %s %s: %w", op, key, err)
}

// Get 读取字符串值，不存在时返回 ErrCacheMiss
func (m *Manager) Get(ctx context.Context, key string) (string, error) {
	var val string
	err := m.run(func() error {
		v, err := m.client.Get(ctx, key).Result()
		switch {
		case errors.Is(err, redis.Nil):
			m.misses.Add(1)
			return ErrCacheMiss
		case err != nil:
			return m.fail("get", key, err)
		}
		m.hits.Add(1)
		val = v
		return nil
	})
	return val, err
}

// Set 写入字符串值，ttl 为 0 时使用默认 TTL
func (m *Manager) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl == 0 {
		ttl = m.ttl
	}
	return m.run(func() error {
		if err := m.client.Set(ctx, key, value, ttl).Err(); err != nil {
			return m.fail("set", key, err)
		}
		return nil
	})
}

// GetJSON 读取并反序列化到 dest
func (m *Manager) GetJSON(ctx context.Context, key string, dest any) error {
	val, err := m.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(val), dest); err != nil {
		return fmt.Errorf("decode cached %s: %w", key, err)
	}
	return nil
}

// SetJSON 序列化后写入
func (m *Manager) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return m.Set(ctx, key, string(data), ttl)
}

// Delete 删除键，用于技能热更新后使摘要失效
func (m *Manager) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return m.run(func() error {
		if err := m.client.Del(ctx, keys...).Err(); err != nil {
			return m.fail("del", keys[0], err)
		}
		return nil
	})
}

// PushCapped LPUSH 后 LTRIM 到 limit 条，两步在同一事务管道里，limit<=0 不裁剪
func (m *Manager) PushCapped(ctx context.Context, key, value string, limit int64) error {
	return m.run(func() error {
		pipe := m.client.TxPipeline()
		pipe.LPush(ctx, key, value)
		if limit > 0 {
			pipe.LTrim(ctx, key, 0, limit-1)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return m.fail("push", key, err)
		}
		return nil
	})
}

// PushJSON 序列化后压入有界列表
func (m *Manager) PushJSON(ctx context.Context, key string, value any, limit int64) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return m.PushCapped(ctx, key, string(data), limit)
}

// Range 列表前 n 条，最新在前；n<=0 返回全部
func (m *Manager) Range(ctx context.Context, key string, n int64) ([]string, error) {
	stop := int64(-1)
	if n > 0 {
		stop = n - 1
	}
	var vals []string
	err := m.run(func() error {
		v, err := m.client.LRange(ctx, key, 0, stop).Result()
		if err != nil {
			return m.fail("range", key, err)
		}
		vals = v
		return nil
	})
	return vals, err
}

// Ping 检查连接
func (m *Manager) Ping(ctx context.Context) error {
	return m.run(func() error { return m.client.Ping(ctx).Err() })
}

// Stats 返回命中统计快照
func (m *Manager) Stats() Stats {
	return Stats{Hits: m.hits.Load(), Misses: m.misses.Load(), Errors: m.errs.Load()}
}

// Close 停止健康检查并关闭客户端，重复调用无副作用
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	close(m.stop)
	m.mu.Unlock()

	<-m.done
	m.logger.Info("redis connection closed")
	return m.client.Close()
}

func (m *Manager) watchHealth(interval time.Duration) {
	defer close(m.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
		}
		ctx, cancel := context.WithTimeout(context.Background(), interval/2)
		err := m.client.Ping(ctx).Err()
		cancel()
		if err != nil {
			m.logger.Warn("redis health check failed", zap.Error(err))
		}
	}
}

// Package cache 进程内热缓存
package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/thinkinglens/backend/internal/application/workflow"
	"github.com/thinkinglens/backend/internal/domain/session"
	"github.com/thinkinglens/backend/internal/infrastructure/config"
	"github.com/thinkinglens/backend/internal/infrastructure/log"
)

// entry 缓存条目，持有序列化后的会话状态
type entry struct {
	state     []byte
	expiresAt time.Time
}

// SessionCache 会话仓储的读穿透缓存
// 条目保存提交时刻的序列化状态，每次命中反序列化出独立副本：
// 调用方对副本的任何未提交改动都不会透过缓存被后续读取看到
type SessionCache struct {
	inner  workflow.SessionRepository
	ttl    time.Duration
	mu     sync.RWMutex
	items  map[string]entry
	logger *slog.Logger
}

// NewSessionCache 包装持久仓储；缓存被禁用时直接透传
func NewSessionCache(inner workflow.SessionRepository, cfg *config.Config) workflow.SessionRepository {
	if cfg.Cache.Disabled {
		return inner
	}
	ttl := cfg.Cache.TTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &SessionCache{
		inner:  inner,
		ttl:    ttl,
		items:  make(map[string]entry),
		logger: log.NewModuleLogger("cache", "session"),
	}
}

// Load 先查缓存，未命中或过期时回源；命中时返回反序列化的独立副本
func (c *SessionCache) Load(ctx context.Context, id string) (*session.Session, error) {
	c.mu.RLock()
	e, ok := c.items[id]
	c.mu.RUnlock()
	if ok && time.Now().Before(e.expiresAt) {
		sess := &session.Session{}
		if err := json.Unmarshal(e.state, sess); err == nil {
			return sess, nil
		}
		// 损坏的条目直接失效并回源
		c.Invalidate(id)
	}

	sess, err := c.inner.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	c.store(sess)
	return sess, nil
}

// Commit 写穿透：持久化成功后再刷新缓存
func (c *SessionCache) Commit(ctx context.Context, sess *session.Session, idemKey string, result *session.TurnResult) error {
	if err := c.inner.Commit(ctx, sess, idemKey, result); err != nil {
		// 持久化失败时丢弃缓存副本，避免返回未提交的状态
		c.mu.Lock()
		delete(c.items, sess.ID)
		c.mu.Unlock()
		return err
	}
	c.store(sess)
	return nil
}

// FindTurnResult 幂等查找不走缓存，直接查持久存储
func (c *SessionCache) FindTurnResult(ctx context.Context, sessionID, idemKey string) (*session.TurnResult, error) {
	return c.inner.FindTurnResult(ctx, sessionID, idemKey)
}

// Invalidate 移除单个会话的缓存条目
func (c *SessionCache) Invalidate(id string) {
	c.mu.Lock()
	delete(c.items, id)
	c.mu.Unlock()
}

// store 缓存序列化快照；序列化失败时宁缺毋错，条目直接失效
func (c *SessionCache) store(sess *session.Session) {
	state, err := json.Marshal(sess)
	if err != nil {
		c.logger.Warn("Failed to serialize session for cache",
			"session_id", sess.ID,
			"error", err,
		)
		c.Invalidate(sess.ID)
		return
	}
	c.mu.Lock()
	c.items[sess.ID] = entry{state: state, expiresAt: time.Now().Add(c.ttl)}
	c.mu.Unlock()
}

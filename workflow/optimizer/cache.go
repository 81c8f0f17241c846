package optimizer

import (
	"container/list"
	"context"
	"path"
	"sync"
	"time"

	"github.com/BaSui01/flowcore/config"
	"github.com/BaSui01/flowcore/internal/cache"
	"github.com/BaSui01/flowcore/internal/metrics"
	"go.uber.org/zap"
)

const cacheType = "context"

// Backend is a shared second-level store consulted on local misses.
type Backend interface {
	Get(ctx context.Context, key string) (any, bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	DeletePattern(ctx context.Context, pattern string) (int, error)
	Exists(ctx context.Context, key string) (bool, error)
	// Touch resets the expiry of key to ttl, which is always positive.
	Touch(ctx context.Context, key string, ttl time.Duration) error
}

// RedisBackend stores values as JSON through the Redis cache manager.
// Values read back are JSON-decoded: numbers become float64 and objects map[string]any.
type RedisBackend struct {
	manager *cache.Manager
}

// NewRedisBackend wraps a cache manager.
func NewRedisBackend(m *cache.Manager) *RedisBackend {
	return &RedisBackend{manager: m}
}

// Get implements Backend.
func (b *RedisBackend) Get(ctx context.Context, key string) (any, bool, error) {
	var v any
	if err := b.manager.GetJSON(ctx, key, &v); err != nil {
		if cache.IsCacheMiss(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return v, true, nil
}

// Set implements Backend.
func (b *RedisBackend) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	return b.manager.SetJSON(ctx, key, value, ttl)
}

// Delete implements Backend.
func (b *RedisBackend) Delete(ctx context.Context, key string) error {
	return b.manager.Delete(ctx, key)
}

// DeletePattern implements Backend.
func (b *RedisBackend) DeletePattern(ctx context.Context, pattern string) (int, error) {
	return b.manager.DeletePattern(ctx, pattern)
}

// Exists implements Backend.
func (b *RedisBackend) Exists(ctx context.Context, key string) (bool, error) {
	n, err := b.manager.Exists(ctx, key)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Touch implements Backend.
func (b *RedisBackend) Touch(ctx context.Context, key string, ttl time.Duration) error {
	return b.manager.Expire(ctx, key, ttl)
}

type cacheEntry struct {
	key        string
	value      any
	createdAt  time.Time
	lastAccess time.Time
	ttl        time.Duration
}

func (e *cacheEntry) expired(now time.Time) bool {
	return e.ttl > 0 && now.Sub(e.createdAt) >= e.ttl
}

// CacheStats is a snapshot of cache counters.
type CacheStats struct {
	Size      int     `json:"size"`
	MaxSize   int     `json:"max_size"`
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Evictions int64   `json:"evictions"`
	HitRate   float64 `json:"hit_rate"`
}

// CacheOption configures a ContextCache.
type CacheOption func(*ContextCache)

// WithBackend adds a shared second-level store.
func WithBackend(b Backend) CacheOption {
	return func(c *ContextCache) { c.backend = b }
}

// WithCacheLogger sets the logger.
func WithCacheLogger(l *zap.Logger) CacheOption {
	return func(c *ContextCache) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithCacheMetrics records hits, misses and evictions.
func WithCacheMetrics(m *metrics.Collector) CacheOption {
	return func(c *ContextCache) { c.metrics = m }
}

// ContextCache 上下文缓存
// TTL 在读取时检查，容量溢出时按 LRU 淘汰；computeFn 在锁外执行，
// 同一个键的并发未命中可能重复计算，以最后写入为准
type ContextCache struct {
	maxSize    int
	defaultTTL time.Duration
	backend    Backend
	logger     *zap.Logger
	metrics    *metrics.Collector

	mu        sync.Mutex
	items     map[string]*list.Element
	order     *list.List // front = most recently used
	hits      int64
	misses    int64
	evictions int64
}

// NewContextCache 创建上下文缓存
func NewContextCache(cfg config.CacheConfig, opts ...CacheOption) *ContextCache {
	c := &ContextCache{
		maxSize:    cfg.MaxSize,
		defaultTTL: cfg.DefaultTTL,
		logger:     zap.NewNop(),
		items:      make(map[string]*list.Element),
		order:      list.New(),
	}
	if c.maxSize <= 0 {
		c.maxSize = config.DefaultCacheConfig().MaxSize
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(zap.String("component", "context_cache"))
	return c
}

func (c *ContextCache) resolveTTL(ttl []time.Duration) time.Duration {
	if len(ttl) > 0 && ttl[0] != 0 {
		if ttl[0] < 0 {
			return 0
		}
		return ttl[0]
	}
	return c.defaultTTL
}

// lookup returns a live local entry, evicting it if expired. Caller holds mu.
func (c *ContextCache) lookup(key string, now time.Time) (*cacheEntry, bool) {
	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	entry := el.Value.(*cacheEntry)
	if entry.expired(now) {
		c.removeElement(el)
		c.evictions++
		c.metrics.RecordCacheEviction(cacheType, "ttl")
		return nil, false
	}
	entry.lastAccess = now
	c.order.MoveToFront(el)
	return entry, true
}

// store inserts or replaces key and evicts the least recently used entries
// beyond capacity. Caller holds mu.
func (c *ContextCache) store(key string, value any, ttl time.Duration, now time.Time) {
	if el, ok := c.items[key]; ok {
		entry := el.Value.(*cacheEntry)
		entry.value, entry.createdAt, entry.lastAccess, entry.ttl = value, now, now, ttl
		c.order.MoveToFront(el)
		return
	}
	c.items[key] = c.order.PushFront(&cacheEntry{key: key, value: value, createdAt: now, lastAccess: now, ttl: ttl})
	for c.order.Len() > c.maxSize {
		c.removeElement(c.order.Back())
		c.evictions++
		c.metrics.RecordCacheEviction(cacheType, "lru")
	}
}

func (c *ContextCache) removeElement(el *list.Element) {
	c.order.Remove(el)
	delete(c.items, el.Value.(*cacheEntry).key)
}

// Get returns a cached value. Only the local store is consulted.
func (c *ContextCache) Get(_ context.Context, key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.lookup(key, time.Now())
	if !ok {
		return nil, false
	}
	return entry.value, true
}

// Set stores value locally and in the backend. ttl 0 (or omitted) uses the
// default TTL; a negative ttl never expires.
func (c *ContextCache) Set(ctx context.Context, key string, value any, ttl ...time.Duration) {
	d := c.resolveTTL(ttl)
	c.mu.Lock()
	c.store(key, value, d, time.Now())
	c.mu.Unlock()
	c.writeBackend(ctx, key, value, d)
}

// GetOrCompute returns the cached value for key, computing and storing it on a miss.
func (c *ContextCache) GetOrCompute(ctx context.Context, key string, fn func(ctx context.Context) (any, error), ttl ...time.Duration) (any, error) {
	d := c.resolveTTL(ttl)

	c.mu.Lock()
	if entry, ok := c.lookup(key, time.Now()); ok {
		c.hits++
		c.mu.Unlock()
		c.metrics.RecordCacheHit(cacheType)
		return entry.value, nil
	}
	c.mu.Unlock()

	if c.backend != nil {
		v, ok, err := c.backend.Get(ctx, key)
		if err != nil {
			c.logger.Warn("cache backend read failed", zap.String("key", key), zap.Error(err))
		} else if ok {
			c.mu.Lock()
			c.hits++
			c.store(key, v, d, time.Now())
			c.mu.Unlock()
			c.metrics.RecordCacheHit(cacheType)
			if d > 0 {
				// 共享副本随读取续期
				if err := c.backend.Touch(ctx, key, d); err != nil {
					c.logger.Warn("cache backend touch failed", zap.String("key", key), zap.Error(err))
				}
			}
			return v, nil
		}
	}

	c.mu.Lock()
	c.misses++
	c.mu.Unlock()
	c.metrics.RecordCacheMiss(cacheType)

	v, err := fn(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.store(key, v, d, time.Now())
	c.mu.Unlock()
	c.writeBackend(ctx, key, v, d)
	return v, nil
}

func (c *ContextCache) writeBackend(ctx context.Context, key string, value any, ttl time.Duration) {
	if c.backend == nil {
		return
	}
	backendTTL := ttl
	if backendTTL == 0 {
		backendTTL = -1
	}
	if err := c.backend.Set(ctx, key, value, backendTTL); err != nil {
		c.logger.Warn("cache backend write failed", zap.String("key", key), zap.Error(err))
	}
}

// Invalidate removes key locally and from the backend.
func (c *ContextCache) Invalidate(ctx context.Context, key string) bool {
	c.mu.Lock()
	el, ok := c.items[key]
	if ok {
		c.removeElement(el)
	}
	c.mu.Unlock()

	if c.backend != nil {
		if err := c.backend.Delete(ctx, key); err != nil {
			c.logger.Warn("cache backend delete failed", zap.String("key", key), zap.Error(err))
		}
	}
	return ok
}

// InvalidatePattern removes every local key matching the glob and forwards
// the pattern to the backend. It returns the number of local keys removed.
func (c *ContextCache) InvalidatePattern(ctx context.Context, pattern string) int {
	c.mu.Lock()
	removed := 0
	for key, el := range c.items {
		if ok, _ := path.Match(pattern, key); ok {
			c.removeElement(el)
			removed++
		}
	}
	c.mu.Unlock()

	if c.backend != nil {
		if _, err := c.backend.DeletePattern(ctx, pattern); err != nil {
			c.logger.Warn("cache backend pattern delete failed", zap.String("pattern", pattern), zap.Error(err))
		}
	}
	c.logger.Debug("cache pattern invalidated", zap.String("pattern", pattern), zap.Int("removed", removed))
	return removed
}

// WarmUp preloads entries locally and returns how many were stored. Keys
// already present in the backend keep their shared value there.
func (c *ContextCache) WarmUp(ctx context.Context, entries map[string]any, ttl time.Duration) int {
	d := c.resolveTTL([]time.Duration{ttl})
	now := time.Now()
	for key, value := range entries {
		c.mu.Lock()
		c.store(key, value, d, now)
		c.mu.Unlock()

		if c.backend == nil {
			continue
		}
		exists, err := c.backend.Exists(ctx, key)
		if err != nil {
			c.logger.Warn("cache backend exists check failed", zap.String("key", key), zap.Error(err))
			continue
		}
		if !exists {
			c.writeBackend(ctx, key, value, d)
		}
	}
	return len(entries)
}

// HitRate returns hits / (hits + misses), or 0 before any lookup.
func (c *ContextCache) HitRate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hitRateLocked()
}

func (c *ContextCache) hitRateLocked() float64 {
	total := c.hits + c.misses
	if total == 0 {
		return 0
	}
	return float64(c.hits) / float64(total)
}

// Stats returns a snapshot of the cache counters.
func (c *ContextCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{
		Size:      c.order.Len(),
		MaxSize:   c.maxSize,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		HitRate:   c.hitRateLocked(),
	}
}

// Len returns the number of local entries, expired ones included until read.
func (c *ContextCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Clear drops every local entry. Counters are kept.
func (c *ContextCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element)
	c.order.Init()
}

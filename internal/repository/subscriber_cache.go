package repository

import (
	"context"
	"sync"
	"time"

	"github.com/qs3c/vpn_access_server/internal/model"
)

// SubscriberReader is the read side of the subscriber store.
type SubscriberReader interface {
	GetByExternalKey(ctx context.Context, key string) (*model.Subscriber, error)
}

// CacheStats 缓存统计
type CacheStats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Size      int
}

type cacheEntry struct {
	sub        model.Subscriber
	expiration time.Time
	lastUsed   int64
}

// CachedSubscriberReader is a read-through LRU cache with TTL in front of a
// SubscriberReader. It serves status queries only; the payment path reads the
// store directly and calls Invalidate after every write.
type CachedSubscriberReader struct {
	next    SubscriberReader
	ttl     time.Duration
	maxSize int
	now     func() time.Time

	mu      sync.Mutex
	entries map[string]*cacheEntry
	clock   int64
	epoch   uint64 // 每次 Invalidate 递增
	stats   CacheStats
}

func NewCachedSubscriberReader(next SubscriberReader, ttl time.Duration, maxSize int) *CachedSubscriberReader {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &CachedSubscriberReader{
		next:    next,
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		entries: make(map[string]*cacheEntry, maxSize),
	}
}

// GetByExternalKey serves key from cache or reads it through. A read that
// overlaps an Invalidate is returned but not cached.
func (c *CachedSubscriberReader) GetByExternalKey(ctx context.Context, key string) (*model.Subscriber, error) {
	sub, epoch, ok := c.get(key)
	if ok {
		return sub, nil
	}

	sub, err := c.next.GetByExternalKey(ctx, key)
	if err != nil || sub == nil {
		return sub, err
	}
	c.set(key, sub, epoch)
	return sub, nil
}

// Invalidate drops the cached copy of key.
func (c *CachedSubscriberReader) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	delete(c.entries, key)
}

func (c *CachedSubscriberReader) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Size = len(c.entries)
	return s
}

func (c *CachedSubscriberReader) get(key string) (*model.Subscriber, uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok || c.now().After(entry.expiration) {
		c.stats.Misses++
		return nil, c.epoch, false
	}

	c.clock++
	entry.lastUsed = c.clock
	c.stats.Hits++
	cp := entry.sub
	return &cp, c.epoch, true
}

func (c *CachedSubscriberReader) set(key string, sub *model.Subscriber, epoch uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// 读取期间发生过失效，结果可能已过时
	if epoch != c.epoch {
		return
	}

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxSize {
		var oldestKey string
		var oldest int64
		first := true
		for k, e := range c.entries {
			if first || e.lastUsed < oldest {
				oldestKey, oldest, first = k, e.lastUsed, false
			}
		}
		delete(c.entries, oldestKey)
		c.stats.Evictions++
	}

	c.clock++
	c.entries[key] = &cacheEntry{
		sub:        *sub,
		expiration: c.now().Add(c.ttl),
		lastUsed:   c.clock,
	}
}

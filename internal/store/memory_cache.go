package store

import (
	"context"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"
)

// MemoryCache implements Cache on a size-bounded LRU.
type MemoryCache struct {
	lru    *lru.Cache
	now    func() time.Time
	logger *zap.Logger
}

type cacheItem struct {
	value     []byte
	expiresAt time.Time
}

// NewMemoryCache creates a new in-memory cache holding at most maxSize entries
func NewMemoryCache(maxSize int, logger *zap.Logger) (*MemoryCache, error) {
	c, err := lru.New(maxSize)
	if err != nil {
		return nil, err
	}
	return &MemoryCache{
		lru:    c,
		now:    time.Now,
		logger: logger,
	}, nil
}

// Get retrieves a value from cache
func (c *MemoryCache) Get(ctx context.Context, key string) ([]byte, error) {
	v, ok := c.lru.Get(key)
	if !ok {
		return nil, ErrNotFound
	}
	item := v.(cacheItem)
	if !c.now().Before(item.expiresAt) {
		c.lru.Remove(key)
		return nil, ErrNotFound
	}
	return item.value, nil
}

// Set stores a value in cache with TTL
func (c *MemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if evicted := c.lru.Add(key, cacheItem{value: value, expiresAt: c.now().Add(ttl)}); evicted {
		c.logger.Debug("Cache entry evicted", zap.Int("size", c.lru.Len()))
	}
	return nil
}

// Delete removes a value from cache
func (c *MemoryCache) Delete(ctx context.Context, key string) error {
	c.lru.Remove(key)
	return nil
}

// DeletePrefix removes every entry under prefix.
func (c *MemoryCache) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	removed := 0
	for _, k := range c.lru.Keys() {
		if s, ok := k.(string); ok && strings.HasPrefix(s, prefix) {
			c.lru.Remove(k)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of items in cache
func (c *MemoryCache) Len() int {
	return c.lru.Len()
}

// Ping always succeeds.
func (c *MemoryCache) Ping(ctx context.Context) error {
	return nil
}

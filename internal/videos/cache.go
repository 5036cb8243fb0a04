package videos

import (
	"context"
	"sync"
	"time"

	"github.com/geoclip/geoclip/internal/metrics"
	"github.com/geoclip/geoclip/internal/storage"
)

const (
	defaultCacheEntries = 32
	maxCacheableBytes   = 8 << 20
	defaultCacheTTL     = time.Minute
)

type cacheEntry struct {
	object  storage.Object
	expires time.Time
}

// CachingStorage wraps another Storage with a TTL-based in-memory read cache.
// Writes and deletes go straight through and invalidate the key.
type CachingStorage struct {
	base       storage.Storage
	ttl        time.Duration
	maxEntries int
	metrics    *metrics.Metrics
	now        func() time.Time

	mu    sync.RWMutex
	items map[string]cacheEntry
}

// NewCachingStorage returns a Storage that caches reads for the provided TTL.
func NewCachingStorage(base storage.Storage, ttl time.Duration, m *metrics.Metrics) *CachingStorage {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &CachingStorage{
		base:       base,
		ttl:        ttl,
		maxEntries: defaultCacheEntries,
		metrics:    m,
		now:        time.Now,
		items:      make(map[string]cacheEntry),
	}
}

// Get returns a cached object when available, otherwise it delegates to the
// underlying storage and caches small results.
func (c *CachingStorage) Get(ctx context.Context, key string) (storage.Object, error) {
	now := c.now()

	c.mu.RLock()
	entry, ok := c.items[key]
	c.mu.RUnlock()
	if ok && now.Before(entry.expires) {
		c.metrics.ObserveCache(true)
		return entry.object, nil
	}
	c.metrics.ObserveCache(false)

	obj, err := c.base.Get(ctx, key)
	if err != nil {
		return storage.Object{}, err
	}

	if len(obj.Data) <= maxCacheableBytes {
		c.mu.Lock()
		c.evictLocked(now)
		c.items[key] = cacheEntry{object: obj, expires: now.Add(c.ttl)}
		c.mu.Unlock()
	}

	return obj, nil
}

func (c *CachingStorage) Put(ctx context.Context, key, contentType string, data []byte) error {
	c.invalidate(key)
	return c.base.Put(ctx, key, contentType, data)
}

func (c *CachingStorage) Delete(ctx context.Context, key string) error {
	c.invalidate(key)
	return c.base.Delete(ctx, key)
}

func (c *CachingStorage) invalidate(key string) {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
}

// evictLocked drops expired entries and, when still full, the entry closest
// to expiry.
func (c *CachingStorage) evictLocked(now time.Time) {
	var oldestKey string
	var oldest time.Time
	for key, entry := range c.items {
		if !now.Before(entry.expires) {
			delete(c.items, key)
			continue
		}
		if oldestKey == "" || entry.expires.Before(oldest) {
			oldestKey, oldest = key, entry.expires
		}
	}
	if len(c.items) >= c.maxEntries && oldestKey != "" {
		delete(c.items, oldestKey)
	}
}

var _ storage.Storage = (*CachingStorage)(nil)

package diagnosis

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Cache - хранилище результатов по отпечатку. Промах - (nil, false, nil).
// После истечения ttl запись не возвращается.
type Cache interface {
	Get(ctx context.Context, fp Fingerprint) (*Result, bool, error)
	Put(ctx context.Context, fp Fingerprint, r Result, ttl time.Duration) error
}

type cacheEntry struct {
	result    Result
	expiresAt time.Time
}

// MemoryCache - LRU в памяти с TTL на запись.
type MemoryCache struct {
	mu  sync.Mutex
	lru *lru.Cache[Fingerprint, cacheEntry]
	now func() time.Time
}

func NewMemoryCache(size int) (*MemoryCache, error) {
	c, err := lru.New[Fingerprint, cacheEntry](size)
	if err != nil {
		return nil, err
	}
	return &MemoryCache{lru: c, now: time.Now}, nil
}

func (c *MemoryCache) Get(_ context.Context, fp Fingerprint) (*Result, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lru.Get(fp)
	if !ok {
		return nil, false, nil
	}
	if !c.now().Before(e.expiresAt) {
		c.lru.Remove(fp)
		return nil, false, nil
	}
	r := e.result.Clone()
	return &r, true, nil
}

func (c *MemoryCache) Put(_ context.Context, fp Fingerprint, r Result, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(fp, cacheEntry{result: r.Clone(), expiresAt: c.now().Add(ttl)})
	return nil
}

func (c *MemoryCache) Len() int { return c.lru.Len() }

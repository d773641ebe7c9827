package resolver

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Cache maps a month key ("2-2017") to a resolved month page URL.
// Implementations may be in-memory or database backed.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Put(ctx context.Context, key, url string) error
}

// MemoryCache is an in-process LRU cache of month page URLs. Month
// pages never move once published, so entries are never invalidated,
// only evicted under pressure.
type MemoryCache struct {
	lru *lru.Cache[string, string]
}

// NewMemoryCache creates a cache holding at most size entries.
func NewMemoryCache(size int) (*MemoryCache, error) {
	cache, err := lru.New[string, string](size)
	if err != nil {
		return nil, err
	}
	return &MemoryCache{lru: cache}, nil
}

func (c *MemoryCache) Get(_ context.Context, key string) (string, bool, error) {
	url, ok := c.lru.Get(key)
	return url, ok, nil
}

func (c *MemoryCache) Put(_ context.Context, key, url string) error {
	c.lru.Add(key, url)
	return nil
}

// Len reports the number of cached months.
func (c *MemoryCache) Len() int {
	return c.lru.Len()
}

package store

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/ksteinarsson/vaxta-crawler/internal/pkg/model"
)

const memCacheSize = 32

// Entry is one cached pipeline result.
type Entry struct {
	Record    *model.RateRecord
	SourceURL string
	FetchedAt time.Time
}

// MemCache is a small in-process TTL cache keyed by bank id, consulted before
// hitting postgres or re-scraping.
type MemCache struct {
	lru *expirable.LRU[string, Entry]
}

func NewMemCache(ttl time.Duration) *MemCache {
	return &MemCache{lru: expirable.NewLRU[string, Entry](memCacheSize, nil, ttl)}
}

func (c *MemCache) Get(bankID string) (Entry, bool) {
	return c.lru.Get(bankID)
}

func (c *MemCache) Put(bankID string, e Entry) {
	c.lru.Add(bankID, e)
}

func (c *MemCache) Invalidate(bankID string) {
	c.lru.Remove(bankID)
}

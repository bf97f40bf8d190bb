package windowcache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/yanqian/sunspot/internal/domain/timeline"
)

// MemoryCache is the in-process layer backed by go-cache.
type MemoryCache struct {
	items *gocache.Cache
	ttl   time.Duration
}

// NewMemoryCache constructs a cache whose entries expire after ttl.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	if ttl <= 0 {
		ttl = 36 * time.Hour
	}
	return &MemoryCache{items: gocache.New(ttl, ttl/4), ttl: ttl}
}

// Get returns the schedule stored under key.
func (c *MemoryCache) Get(_ context.Context, key string) (timeline.DaySchedule, bool, error) {
	v, ok := c.items.Get(key)
	if !ok {
		return timeline.DaySchedule{}, false, nil
	}
	schedule, ok := v.(timeline.DaySchedule)
	return schedule, ok, nil
}

// Set replaces the schedule under key.
func (c *MemoryCache) Set(_ context.Context, key string, schedule timeline.DaySchedule) error {
	c.items.Set(key, schedule, c.ttl)
	return nil
}

// Delete drops keys.
func (c *MemoryCache) Delete(_ context.Context, keys ...string) error {
	for _, key := range keys {
		c.items.Delete(key)
	}
	return nil
}

// Flush drops every entry.
func (c *MemoryCache) Flush() {
	c.items.Flush()
}

package solar

import (
	"fmt"
	"math"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// CachedCalculator memoizes positions on a fine location/second grid.
type CachedCalculator struct {
	inner Calculator
	cache *gocache.Cache
}

// NewCachedCalculator wraps inner with a bounded-TTL lookup table.
func NewCachedCalculator(inner Calculator, ttl time.Duration) *CachedCalculator {
	if inner == nil {
		inner = NewCalculator()
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &CachedCalculator{inner: inner, cache: gocache.New(ttl, 2*ttl)}
}

// Position implements Calculator.
func (c *CachedCalculator) Position(obs Observer, at time.Time) Position {
	at = at.UTC().Truncate(time.Second)
	key := gridKey(obs, at)
	if v, ok := c.cache.Get(key); ok {
		return v.(Position)
	}
	pos := c.inner.Position(obs, at)
	c.cache.SetDefault(key, pos)
	return pos
}

// Len reports the number of cached entries.
func (c *CachedCalculator) Len() int {
	return c.cache.ItemCount()
}

// gridKey quantizes to 1e-5 degrees (about a meter) and whole seconds.
func gridKey(obs Observer, at time.Time) string {
	return fmt.Sprintf("%d:%d:%d:%d",
		int64(math.Round(obs.Latitude*1e5)),
		int64(math.Round(obs.Longitude*1e5)),
		int64(math.Round(obs.Altitude)),
		at.Unix())
}

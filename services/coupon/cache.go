package coupon

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/singleflight"
)

var (
	cacheHits = promauto.NewCounter(prometheus.CounterOpts{Name: "coupon_cache_hits_total"})
	cacheMiss = promauto.NewCounter(prometheus.CounterOpts{Name: "coupon_cache_miss_total"})
)

type cacheKey struct {
	TenantID string
	Code     string
}

type cacheEntry struct {
	coupon    *Coupon
	fetchedAt time.Time
}

// DefinitionCache keeps recently resolved coupon definitions in memory for
// the validation hot path. Entries expire after a short TTL, so admin edits
// show up within one cache window. Concurrent misses for the same code are
// collapsed through singleflight.
type DefinitionCache struct {
	mu    sync.RWMutex
	items map[cacheKey]cacheEntry
	ttl   time.Duration
	group singleflight.Group
}

func NewDefinitionCache(ttl time.Duration) *DefinitionCache {
	return &DefinitionCache{
		items: make(map[cacheKey]cacheEntry),
		ttl:   ttl,
	}
}

// Resolve returns the cached definition for (tenant, code) or loads it with
// fetch on a miss. The code must already be normalized.
func (c *DefinitionCache) Resolve(ctx context.Context, tenantID, code string, fetch func(context.Context) (*Coupon, error)) (*Coupon, error) {
	key := cacheKey{TenantID: tenantID, Code: code}

	c.mu.RLock()
	entry, ok := c.items[key]
	c.mu.RUnlock()
	if ok && (c.ttl <= 0 || time.Since(entry.fetchedAt) <= c.ttl) {
		cacheHits.Inc()
		return entry.coupon, nil
	}
	cacheMiss.Inc()

	v, err, _ := c.group.Do(tenantID+"/"+code, func() (interface{}, error) {
		coupon, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.items[key] = cacheEntry{coupon: coupon, fetchedAt: time.Now()}
		c.mu.Unlock()
		return coupon, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Coupon), nil
}

func (c *DefinitionCache) Invalidate(tenantID, code string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, cacheKey{TenantID: tenantID, Code: code})
}

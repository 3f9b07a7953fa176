package routing

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/example/carpool/internal/models"
)

// Cache is a tiny in-memory cache for route measurements keyed by the full
// waypoint sequence.
type Cache struct {
	mu    sync.RWMutex
	store map[string]cacheEntry
	ttl   time.Duration
}

type cacheEntry struct {
	m  Measurement
	ts time.Time
}

// NewCache creates a cache with the provided TTL.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{store: make(map[string]cacheEntry), ttl: ttl}
}

func keyFor(waypoints []models.Coord) string {
	var sb strings.Builder
	for i, p := range waypoints {
		if i > 0 {
			sb.WriteByte('>')
		}
		fmt.Fprintf(&sb, "%.6f,%.6f", p.Lat, p.Lon)
	}
	return sb.String()
}

// Get returns the cached measurement and true if present and not expired.
func (c *Cache) Get(waypoints []models.Coord) (Measurement, bool) {
	k := keyFor(waypoints)
	c.mu.RLock()
	e, ok := c.store[k]
	c.mu.RUnlock()
	if !ok {
		return Measurement{}, false
	}
	if time.Since(e.ts) > c.ttl {
		c.mu.Lock()
		delete(c.store, k)
		c.mu.Unlock()
		return Measurement{}, false
	}
	return e.m, true
}

// Set stores a measurement in the cache.
func (c *Cache) Set(waypoints []models.Coord, m Measurement) {
	k := keyFor(waypoints)
	c.mu.Lock()
	c.store[k] = cacheEntry{m: m, ts: time.Now()}
	c.mu.Unlock()
}

// CachedOracle wraps an Oracle with a measurement cache. Only successful
// measurements are cached; failures pass through.
type CachedOracle struct {
	Inner Oracle
	Cache *Cache
}

func (c CachedOracle) Measure(ctx context.Context, waypoints []models.Coord) (Measurement, error) {
	if m, ok := c.Cache.Get(waypoints); ok {
		return m, nil
	}
	m, err := c.Inner.Measure(ctx, waypoints)
	if err != nil {
		return Measurement{}, err
	}
	c.Cache.Set(waypoints, m)
	return m, nil
}

package mapbox

import (
	"context"
	"fmt"

	"github.com/couchcryptid/storm-nowcast-service/internal/observability"
	"github.com/couchcryptid/storm-nowcast-service/internal/warning"
	lru "github.com/hashicorp/golang-lru/v2"
)

// CachedLocator wraps a Locator with an in-memory LRU cache keyed on the
// coordinate rounded to two decimal places (about 1 km).
type CachedLocator struct {
	inner   warning.Locator
	cache   *lru.Cache[string, string]
	metrics *observability.Metrics
}

// NewCachedLocator creates a cache decorator around a locator.
func NewCachedLocator(inner warning.Locator, maxEntries int, metrics *observability.Metrics) *CachedLocator {
	if maxEntries < 1 {
		maxEntries = 1
	}
	// New only fails for a non-positive size.
	cache, _ := lru.New[string, string](maxEntries)
	return &CachedLocator{
		inner:   inner,
		cache:   cache,
		metrics: metrics,
	}
}

func (c *CachedLocator) PlaceName(ctx context.Context, lat, lon float64) (string, error) {
	key := cacheKey(lat, lon)
	if name, ok := c.cache.Get(key); ok {
		c.metrics.GeocodeCache.WithLabelValues("hit").Inc()
		return name, nil
	}
	c.metrics.GeocodeCache.WithLabelValues("miss").Inc()

	name, err := c.inner.PlaceName(ctx, lat, lon)
	if err != nil {
		return "", err
	}
	// Empty results are not cached so they are retried on the next warning.
	if name != "" {
		c.cache.Add(key, name)
	}
	return name, nil
}

func cacheKey(lat, lon float64) string {
	return fmt.Sprintf("%.2f,%.2f", lat, lon)
}

package tileserver

import (
	"context"
	"fmt"

	"github.com/couchcryptid/emissions-equity-map/internal/domain"
	"github.com/couchcryptid/emissions-equity-map/internal/observability"
	"github.com/couchcryptid/emissions-equity-map/internal/tiles"
	lru "github.com/hashicorp/golang-lru/v2"
)

// CachedFetcher wraps a tiles.Fetcher with an in-memory LRU cache of decoded tiles.
type CachedFetcher struct {
	inner   tiles.Fetcher
	cache   *lru.Cache[tiles.TileID, []domain.Region]
	metrics *observability.Metrics
}

// NewCachedFetcher creates a cache decorator holding up to size tiles.
func NewCachedFetcher(inner tiles.Fetcher, size int, metrics *observability.Metrics) (*CachedFetcher, error) {
	cache, err := lru.New[tiles.TileID, []domain.Region](size)
	if err != nil {
		return nil, fmt.Errorf("create tile cache: %w", err)
	}
	return &CachedFetcher{inner: inner, cache: cache, metrics: metrics}, nil
}

func (c *CachedFetcher) FetchTile(ctx context.Context, id tiles.TileID) ([]domain.Region, error) {
	if regions, ok := c.cache.Get(id); ok {
		c.metrics.TileCacheHit("fetch", true)
		return regions, nil
	}
	c.metrics.TileCacheHit("fetch", false)
	regions, err := c.inner.FetchTile(ctx, id)
	if err != nil {
		return nil, err
	}
	// Only cache non-empty tiles so a tile missing during a server rollout is retried.
	if len(regions) > 0 {
		c.cache.Add(id, regions)
	}
	return regions, nil
}

func (c *CachedFetcher) Available(ctx context.Context) error {
	return c.inner.Available(ctx)
}

// Len returns the number of cached tiles.
func (c *CachedFetcher) Len() int { return c.cache.Len() }

// Purge drops every cached tile.
func (c *CachedFetcher) Purge() { c.cache.Purge() }

package embed

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto"
)

// cacheMaxCost bounds the cache at roughly 64 MB of vectors.
const cacheMaxCost = 64 << 20

// Cached wraps a Provider with a ristretto cache keyed by the exact text.
// Consolidation and contradiction sweeps re-embed the same record content
// repeatedly within a generation; caching avoids paying the provider
// round-trip each time.
type Cached struct {
	inner Provider
	cache *ristretto.Cache
}

// NewCached wraps inner with an embedding cache.
func NewCached(inner Provider) (*Cached, error) {
	if inner == nil {
		return nil, fmt.Errorf("inner provider is required")
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 100_000,
		MaxCost:     cacheMaxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("creating embedding cache: %w", err)
	}
	return &Cached{inner: inner, cache: cache}, nil
}

// Embed returns the cached vector for text, or calls the inner provider and
// caches the result. Errors are never cached.
func (c *Cached) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := c.cache.Get(text); ok {
		if vec, ok := v.([]float32); ok {
			return vec, nil
		}
	}

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	// Cost is the vector's byte footprint. Set is best-effort; a rejected
	// entry only means a future re-embed.
	c.cache.Set(text, vec, int64(len(vec)*4))
	return vec, nil
}

// Close releases the cache's goroutines.
func (c *Cached) Close() {
	c.cache.Close()
}

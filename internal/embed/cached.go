package embed

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is the default LRU capacity for query embeddings.
const DefaultCacheSize = 256

// CachedProvider wraps a Provider with an LRU cache for query
// embeddings. Repeated questions against the same vault skip the
// provider round trip entirely. Document embedding is passed through
// uncached: documents are embedded once per content change anyway.
type CachedProvider struct {
	inner Provider
	cache *lru.Cache[string, []float32]
}

var _ Provider = (*CachedProvider)(nil)

// NewCachedProvider wraps a provider with a query-embedding cache.
func NewCachedProvider(inner Provider, size int) (*CachedProvider, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding cache: %w", err)
	}
	return &CachedProvider{inner: inner, cache: cache}, nil
}

// EmbedDocuments delegates to the wrapped provider.
func (c *CachedProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	return c.inner.EmbedDocuments(ctx, texts)
}

// EmbedQuery returns a cached vector when available.
func (c *CachedProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if v, ok := c.cache.Get(text); ok {
		return v, nil
	}

	v, err := c.inner.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}

	c.cache.Add(text, v)
	return v, nil
}

// ModelName returns the wrapped provider's model identifier.
func (c *CachedProvider) ModelName() string { return c.inner.ModelName() }

// Dimensions returns the wrapped provider's embedding dimension.
func (c *CachedProvider) Dimensions() int { return c.inner.Dimensions() }

// Available delegates to the wrapped provider.
func (c *CachedProvider) Available(ctx context.Context) bool { return c.inner.Available(ctx) }

// Close closes the wrapped provider.
func (c *CachedProvider) Close() error { return c.inner.Close() }

package embed

import (
	"context"
	"fmt"

	"github.com/brendenrossin/secondbrain/internal/config"
)

// NewProvider constructs the configured embedding backend. The backend
// set is closed and the choice is made once here, never re-branched per
// call. The result is wrapped with a query-embedding cache.
func NewProvider(ctx context.Context, cfg config.EmbeddingConfig) (Provider, error) {
	var (
		inner Provider
		err   error
	)

	switch cfg.Provider {
	case "ollama":
		inner, err = NewOllamaProvider(ctx, OllamaConfig{
			Host:      cfg.OllamaHost,
			Model:     cfg.Model,
			BatchSize: cfg.BatchSize,
			Timeout:   cfg.Timeout,
		})
	case "openai":
		inner, err = NewOpenAIProvider(OpenAIConfig{
			BaseURL:   cfg.OpenAIBaseURL,
			Model:     cfg.Model,
			BatchSize: cfg.BatchSize,
			Timeout:   cfg.Timeout,
		})
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	return NewCachedProvider(inner, cfg.CacheSize)
}

// IdentityOf returns the persisted identity for a provider, using the
// configured provider tag.
func IdentityOf(providerTag string, p Provider) Identity {
	return Identity{
		Provider:   providerTag,
		Model:      p.ModelName(),
		Dimensions: p.Dimensions(),
	}
}

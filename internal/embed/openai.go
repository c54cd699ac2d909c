package embed

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/brendenrossin/secondbrain/internal/errors"
)

// OpenAI defaults.
const (
	DefaultOpenAIModel = "text-embedding-3-small"

	// openAIMaxConcurrency bounds parallel embedding requests.
	openAIMaxConcurrency = 4
)

// OpenAIConfig configures the OpenAI-compatible embedding backend.
type OpenAIConfig struct {
	// APIKey defaults to the OPENAI_API_KEY environment variable.
	APIKey string

	// BaseURL overrides the endpoint for OpenAI-compatible servers.
	BaseURL string

	Model     string
	BatchSize int
	Timeout   time.Duration
}

// OpenAIProvider generates embeddings via an OpenAI-compatible API.
type OpenAIProvider struct {
	client *openai.Client
	config OpenAIConfig
	dims   int
}

var _ Provider = (*OpenAIProvider)(nil)

// NewOpenAIProvider creates an OpenAI embedding provider.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, apperrors.New(apperrors.ErrCodeProviderUnavailable,
			"OPENAI_API_KEY not set", nil)
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}
	if cfg.BatchSize <= 0 || cfg.BatchSize > MaxBatchSize {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	dims := 1536
	if cfg.Model == "text-embedding-3-large" {
		dims = 3072
	}

	return &OpenAIProvider{
		client: openai.NewClientWithConfig(clientCfg),
		config: cfg,
		dims:   dims,
	}, nil
}

// EmbedDocuments embeds document texts, dispatching batches with bounded
// concurrency.
func (p *OpenAIProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, len(texts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(openAIMaxConcurrency)

	for start := 0; start < len(texts); start += p.config.BatchSize {
		end := start + p.config.BatchSize
		if end > len(texts) {
			end = len(texts)
		}
		start, end := start, end

		g.Go(func() error {
			vecs, err := p.embed(gctx, texts[start:end])
			if err != nil {
				return err
			}
			copy(out[start:end], vecs)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// EmbedQuery embeds a search query. OpenAI embedding models use the same
// representation for queries and documents, so no prefix is applied.
func (p *OpenAIProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// ModelName returns the model identifier.
func (p *OpenAIProvider) ModelName() string {
	return p.config.Model
}

// Dimensions returns the embedding dimension.
func (p *OpenAIProvider) Dimensions() int {
	return p.dims
}

// Available reports whether the provider is configured.
func (p *OpenAIProvider) Available(ctx context.Context) bool {
	return p.client != nil
}

// Close releases resources.
func (p *OpenAIProvider) Close() error {
	return nil
}

// embed issues one embeddings call with retry on retryable failures.
func (p *OpenAIProvider) embed(ctx context.Context, texts []string) ([][]float32, error) {
	return apperrors.RetryWithResult(ctx, apperrors.DefaultRetryConfig(), func() ([][]float32, error) {
		callCtx, cancel := context.WithTimeout(ctx, p.config.Timeout)
		defer cancel()

		resp, err := p.client.CreateEmbeddings(callCtx, openai.EmbeddingRequest{
			Model: openai.EmbeddingModel(p.config.Model),
			Input: texts,
		})
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, apperrors.ProviderTimeout("embedding call timed out", err)
			}
			return nil, apperrors.ProviderError("embedding call failed", err)
		}
		if len(resp.Data) != len(texts) {
			return nil, apperrors.ProviderError(
				fmt.Sprintf("got %d embeddings for %d inputs", len(resp.Data), len(texts)), nil)
		}

		vecs := make([][]float32, len(resp.Data))
		for i, d := range resp.Data {
			v := make([]float32, len(d.Embedding))
			for j, x := range d.Embedding {
				v[j] = float32(x)
			}
			normalizeVector(v)
			vecs[i] = v
		}
		return vecs, nil
	})
}

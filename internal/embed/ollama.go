package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	apperrors "github.com/brendenrossin/secondbrain/internal/errors"
)

// Ollama defaults.
const (
	DefaultOllamaHost  = "http://localhost:11434"
	DefaultOllamaModel = "nomic-embed-text"

	// nomic-style task prefixes. The model was trained with distinct
	// instructions for corpus documents and search queries.
	documentPrefix = "search_document: "
	queryPrefix    = "search_query: "
)

// OllamaConfig configures the Ollama embedding backend.
type OllamaConfig struct {
	Host      string
	Model     string
	BatchSize int
	Timeout   time.Duration

	// SkipHealthCheck disables the startup probe (tests only).
	SkipHealthCheck bool
}

// OllamaProvider generates embeddings via Ollama's HTTP API.
type OllamaProvider struct {
	client *http.Client
	config OllamaConfig
	dims   int

	mu     sync.Mutex
	closed bool
}

var _ Provider = (*OllamaProvider)(nil)

// NewOllamaProvider creates an Ollama embedding provider and probes the
// endpoint to detect the embedding dimensionality.
func NewOllamaProvider(ctx context.Context, cfg OllamaConfig) (*OllamaProvider, error) {
	if cfg.Host == "" {
		cfg.Host = DefaultOllamaHost
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOllamaModel
	}
	if cfg.BatchSize <= 0 || cfg.BatchSize > MaxBatchSize {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	// Timeouts are applied per request via context, not on the client,
	// so callers keep cancellation control.
	p := &OllamaProvider{
		client: &http.Client{Transport: &http.Transport{
			MaxIdleConns:    4,
			IdleConnTimeout: 10 * time.Second,
		}},
		config: cfg,
	}

	if !cfg.SkipHealthCheck {
		probeCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()

		vec, err := p.embedBatch(probeCtx, []string{documentPrefix + "dimension probe"})
		if err != nil {
			return nil, apperrors.New(apperrors.ErrCodeProviderUnavailable,
				fmt.Sprintf("ollama at %s not reachable", cfg.Host), err)
		}
		p.dims = len(vec[0])
	}

	return p, nil
}

// EmbedDocuments embeds document texts in provider-sized batches.
func (p *OllamaProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	prefixed := make([]string, len(texts))
	for i, t := range texts {
		prefixed[i] = documentPrefix + t
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(prefixed); start += p.config.BatchSize {
		end := start + p.config.BatchSize
		if end > len(prefixed) {
			end = len(prefixed)
		}

		vecs, err := apperrors.RetryWithResult(ctx, apperrors.DefaultRetryConfig(), func() ([][]float32, error) {
			callCtx, cancel := context.WithTimeout(ctx, p.config.Timeout)
			defer cancel()
			return p.embedBatch(callCtx, prefixed[start:end])
		})
		if err != nil {
			return nil, classifyProviderErr(err)
		}
		out = append(out, vecs...)
	}

	return out, nil
}

// EmbedQuery embeds a search query with the query instruction prefix.
func (p *OllamaProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	vecs, err := p.embedBatch(callCtx, []string{queryPrefix + text})
	if err != nil {
		return nil, classifyProviderErr(err)
	}
	return vecs[0], nil
}

// ModelName returns the model identifier.
func (p *OllamaProvider) ModelName() string {
	return p.config.Model
}

// Dimensions returns the embedding dimension.
func (p *OllamaProvider) Dimensions() int {
	return p.dims
}

// Available probes the Ollama endpoint.
func (p *OllamaProvider) Available(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.config.Host+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

// Close releases idle connections.
func (p *OllamaProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if t, ok := p.client.Transport.(*http.Transport); ok {
		t.CloseIdleConnections()
	}
	return nil
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// embedBatch issues one /api/embed call. Vectors are normalized to unit
// length for cosine similarity.
func (p *OllamaProvider) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(ollamaEmbedRequest{Model: p.config.Model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.Host+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, string(msg))
	}

	var parsed ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode embed response: %w", err)
	}
	if len(parsed.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama returned %d embeddings for %d inputs", len(parsed.Embeddings), len(texts))
	}

	for _, v := range parsed.Embeddings {
		normalizeVector(v)
	}
	return parsed.Embeddings, nil
}

// classifyProviderErr maps transport failures onto the provider error
// taxonomy.
func classifyProviderErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.ProviderTimeout("embedding call timed out", err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return apperrors.ProviderError("embedding call failed", err)
}

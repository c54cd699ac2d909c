// Package embed provides pluggable text embedding backends behind a
// single provider interface.
package embed

import (
	"context"
	"math"
	"time"
)

// Common embedding constants.
const (
	// DefaultBatchSize is the default number of documents per request.
	DefaultBatchSize = 32

	// MaxBatchSize caps batch size to prevent memory exhaustion.
	MaxBatchSize = 256

	// DefaultTimeout is the default per-call embedding timeout.
	DefaultTimeout = 60 * time.Second

	// DefaultMaxRetries is the default number of retry attempts.
	DefaultMaxRetries = 3
)

// Provider generates vector embeddings for text.
//
// Document and query embedding are distinct operations because some
// model families require a different instruction prefix for queries
// than for documents; conflating them silently degrades retrieval.
type Provider interface {
	// EmbedDocuments generates embeddings for document texts.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery generates an embedding for a search query.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// ModelName returns the model identifier.
	ModelName() string

	// Dimensions returns the embedding dimension.
	Dimensions() int

	// Available checks if the provider is ready.
	Available(ctx context.Context) bool

	// Close releases resources.
	Close() error
}

// Identity describes the provider that produced a set of vectors. It is
// persisted alongside the vector index so a later provider switch is
// detected instead of silently serving an inconsistent index.
type Identity struct {
	Provider   string
	Model      string
	Dimensions int
}

// Matches reports whether two identities describe the same embedding
// space.
func (id Identity) Matches(other Identity) bool {
	return id.Provider == other.Provider &&
		id.Model == other.Model &&
		id.Dimensions == other.Dimensions
}

// normalizeVector normalizes a vector to unit length in place.
func normalizeVector(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
}

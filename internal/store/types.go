// Package store provides the persistence layer: the SQLite lexical store
// with its chunk content table and FTS5 shadow index, the index tracker
// table, and the HNSW vector store.
package store

import (
	"time"
)

// ChunkRecord is a row in the chunk content table. The content table is
// the source of truth for the lexical index; the FTS5 shadow structures
// are derived from it by explicit rebuild.
type ChunkRecord struct {
	ChunkID     string
	NoteID      string
	NotePath    string
	NoteTitle   string
	HeadingPath string
	Text        string
	Folder      string
	NoteDate    time.Time
}

// LexicalResult is a single ranked full-text search hit.
type LexicalResult struct {
	ChunkID string
	// Score is the negated FTS5 bm25() value; higher is better.
	Score float64
}

// IndexRecord tracks the indexed identity of one vault file. A record
// exists for every tracked file and is deleted when the file disappears
// from the vault.
type IndexRecord struct {
	FilePath      string
	ContentHash   string
	MTime         time.Time
	LastIndexedAt time.Time
}

// VectorResult is a single vector similarity hit.
type VectorResult struct {
	ChunkID string
	// Distance is the cosine distance (0 identical, 2 opposite).
	Distance float32
	// Score is the normalized similarity (0-1).
	Score float32
}

// State keys persisted in the lexical store's key-value table.
const (
	// StateKeyEmbeddingProvider mirrors the vector store's provider tag.
	StateKeyEmbeddingProvider = "embedding_provider"
	// StateKeyEmbeddingModel mirrors the vector store's model name.
	StateKeyEmbeddingModel = "embedding_model"
	// StateKeyEmbeddingDimensions mirrors the vector dimensionality.
	StateKeyEmbeddingDimensions = "embedding_dimensions"
	// StateKeySchemaVersion tracks the SQLite schema version.
	StateKeySchemaVersion = "schema_version"
)

// CurrentSchemaVersion is the current SQLite schema version.
const CurrentSchemaVersion = "1"

package store

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"

	"github.com/brendenrossin/secondbrain/internal/embed"
)

// VectorStore holds chunk embeddings in a pure Go HNSW graph.
//
// Chunk IDs map to internal uint64 keys. Replacement and removal use
// lazy deletion: mappings are dropped but graph nodes stay, since
// deleting nodes from a coder/hnsw graph can break it when the last
// node goes. Orphaned nodes are shed naturally on the next full rebuild.
type VectorStore struct {
	mu    sync.RWMutex
	graph *hnsw.Graph[uint64]

	dims     int
	identity embed.Identity

	idMap   map[string]uint64 // chunk ID -> internal key
	keyMap  map[uint64]string // internal key -> chunk ID
	noteMap map[string]string // chunk ID -> note ID
	nextKey uint64

	closed bool
}

// vectorMetadata is the gob sidecar persisted next to the graph file.
// It carries the embedding identity so a provider or model change is
// detected on load instead of silently mixing vector spaces.
type vectorMetadata struct {
	IDMap    map[string]uint64
	NoteMap  map[string]string
	NextKey  uint64
	Dims     int
	Identity embed.Identity
}

func newGraph() *hnsw.Graph[uint64] {
	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = 16
	graph.EfSearch = 20
	graph.Ml = 0.25
	return graph
}

// NewVectorStore creates an empty vector store bound to an embedding
// identity.
func NewVectorStore(identity embed.Identity) (*VectorStore, error) {
	if identity.Dimensions <= 0 {
		return nil, fmt.Errorf("invalid embedding dimensions: %d", identity.Dimensions)
	}

	return &VectorStore{
		graph:    newGraph(),
		dims:     identity.Dimensions,
		identity: identity,
		idMap:    make(map[string]uint64),
		keyMap:   make(map[uint64]string),
		noteMap:  make(map[string]string),
	}, nil
}

// Identity returns the embedding identity the store was built with.
func (s *VectorStore) Identity() embed.Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity
}

// CheckIdentity reports whether the store's persisted identity matches
// the active provider.
func (s *VectorStore) CheckIdentity(active embed.Identity) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity.Matches(active)
}

// Clear drops every vector and mapping, replacing the graph outright.
// A full rebuild is also when lazily deleted orphan nodes get shed.
func (s *VectorStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.graph = newGraph()
	s.idMap = make(map[string]uint64)
	s.keyMap = make(map[uint64]string)
	s.noteMap = make(map[string]string)
	s.nextKey = 0
}

// Add inserts chunk embeddings. An existing chunk ID is replaced via
// lazy deletion of the old node.
func (s *VectorStore) Add(ctx context.Context, ids []string, noteIDs []string, vectors [][]float32) error {
	if len(ids) == 0 {
		return nil
	}
	if len(ids) != len(vectors) || len(ids) != len(noteIDs) {
		return fmt.Errorf("ids, noteIDs and vectors length mismatch: %d vs %d vs %d",
			len(ids), len(noteIDs), len(vectors))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	for _, v := range vectors {
		if len(v) != s.dims {
			return fmt.Errorf("dimension mismatch: expected %d, got %d", s.dims, len(v))
		}
	}

	for i, id := range ids {
		if existingKey, exists := s.idMap[id]; exists {
			delete(s.keyMap, existingKey)
			delete(s.idMap, id)
		}

		key := s.nextKey
		s.nextKey++

		vec := make([]float32, len(vectors[i]))
		copy(vec, vectors[i])
		normalizeVectorInPlace(vec)

		s.graph.Add(hnsw.MakeNode(key, vec))

		s.idMap[id] = key
		s.keyMap[key] = id
		s.noteMap[id] = noteIDs[i]
	}

	return nil
}

// Search finds the k nearest chunks to a query vector.
func (s *VectorStore) Search(ctx context.Context, query []float32, k int) ([]VectorResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}
	if len(query) != s.dims {
		return nil, fmt.Errorf("dimension mismatch: expected %d, got %d", s.dims, len(query))
	}
	if s.graph.Len() == 0 {
		return []VectorResult{}, nil
	}

	q := make([]float32, len(query))
	copy(q, query)
	normalizeVectorInPlace(q)

	// Over-fetch to compensate for lazy-deleted nodes still in the graph.
	nodes := s.graph.Search(q, k+s.orphanBudget())

	results := make([]VectorResult, 0, k)
	for _, node := range nodes {
		id, exists := s.keyMap[node.Key]
		if !exists {
			continue
		}

		distance := s.graph.Distance(q, node.Value)
		results = append(results, VectorResult{
			ChunkID:  id,
			Distance: distance,
			Score:    1.0 - distance/2.0,
		})
		if len(results) == k {
			break
		}
	}

	return results, nil
}

// orphanBudget bounds how many extra candidates Search requests to
// cover orphaned graph nodes.
func (s *VectorStore) orphanBudget() int {
	orphans := s.graph.Len() - len(s.idMap)
	if orphans < 0 {
		return 0
	}
	if orphans > 50 {
		return 50
	}
	return orphans
}

// DeleteChunks removes chunks by ID via lazy deletion.
func (s *VectorStore) DeleteChunks(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	for _, id := range ids {
		if key, exists := s.idMap[id]; exists {
			delete(s.keyMap, key)
			delete(s.idMap, id)
			delete(s.noteMap, id)
		}
	}
	return nil
}

// DeleteNote removes every chunk belonging to a note.
func (s *VectorStore) DeleteNote(ctx context.Context, noteID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	for id, nid := range s.noteMap {
		if nid != noteID {
			continue
		}
		if key, exists := s.idMap[id]; exists {
			delete(s.keyMap, key)
			delete(s.idMap, id)
		}
		delete(s.noteMap, id)
	}
	return nil
}

// AllIDs returns all live chunk IDs. Used for consistency checks
// against the lexical store.
func (s *VectorStore) AllIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil
	}

	ids := make([]string, 0, len(s.idMap))
	for id := range s.idMap {
		ids = append(ids, id)
	}
	return ids
}

// Contains reports whether a chunk ID is live in the store.
func (s *VectorStore) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false
	}
	_, exists := s.idMap[id]
	return exists
}

// Count returns the number of live vectors.
func (s *VectorStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0
	}
	return len(s.idMap)
}

// Save persists the graph and its metadata sidecar atomically
// (temp file + rename).
func (s *VectorStore) Save(path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create index file: %w", err)
	}

	if err := s.graph.Export(file); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to export graph: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close index file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename index file: %w", err)
	}

	if err := s.saveMetadata(path + ".meta"); err != nil {
		return fmt.Errorf("failed to save metadata: %w", err)
	}
	return nil
}

func (s *VectorStore) saveMetadata(path string) error {
	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create temp metadata file: %w", err)
	}

	meta := vectorMetadata{
		IDMap:    s.idMap,
		NoteMap:  s.noteMap,
		NextKey:  s.nextKey,
		Dims:     s.dims,
		Identity: s.identity,
	}

	if err := gob.NewEncoder(file).Encode(meta); err != nil {
		if closeErr := file.Close(); closeErr != nil {
			slog.Warn("failed to close temp file during cleanup", slog.String("error", closeErr.Error()))
		}
		os.Remove(tmpPath)
		return fmt.Errorf("encode metadata: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close metadata file: %w", err)
	}
	return os.Rename(tmpPath, path)
}

// Load restores the graph and metadata from disk.
func (s *VectorStore) Load(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	if err := s.loadMetadata(path + ".meta"); err != nil {
		return fmt.Errorf("failed to load metadata: %w", err)
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open index file: %w", err)
	}
	defer file.Close()

	// coder/hnsw Import requires an io.ByteReader.
	if err := s.graph.Import(bufio.NewReader(file)); err != nil {
		return fmt.Errorf("failed to import graph: %w", err)
	}
	return nil
}

func (s *VectorStore) loadMetadata(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open metadata file: %w", err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			slog.Warn("failed to close metadata file", slog.String("error", err.Error()))
		}
	}()

	var meta vectorMetadata
	if err := gob.NewDecoder(file).Decode(&meta); err != nil {
		return fmt.Errorf("decode vector metadata: %w", err)
	}

	s.idMap = meta.IDMap
	s.noteMap = meta.NoteMap
	s.nextKey = meta.NextKey
	s.dims = meta.Dims
	s.identity = meta.Identity
	if s.noteMap == nil {
		s.noteMap = make(map[string]string)
	}

	s.keyMap = make(map[uint64]string, len(s.idMap))
	for id, key := range s.idMap {
		s.keyMap[key] = id
	}
	return nil
}

// ReadVectorStoreIdentity reads the persisted embedding identity from a
// vector store's metadata sidecar. A missing file returns a zero
// Identity (fresh start).
func ReadVectorStoreIdentity(vectorPath string) (embed.Identity, error) {
	file, err := os.Open(vectorPath + ".meta")
	if err != nil {
		if os.IsNotExist(err) {
			return embed.Identity{}, nil
		}
		return embed.Identity{}, fmt.Errorf("failed to open vector metadata: %w", err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			slog.Warn("failed to close vector metadata file", slog.String("error", err.Error()))
		}
	}()

	var meta vectorMetadata
	if err := gob.NewDecoder(file).Decode(&meta); err != nil {
		return embed.Identity{}, fmt.Errorf("failed to decode vector metadata: %w", err)
	}
	return meta.Identity, nil
}

// Close releases resources. Idempotent.
func (s *VectorStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.graph = nil
	return nil
}

// normalizeVectorInPlace scales a vector to unit length in place.
func normalizeVectorInPlace(v []float32) {
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

package search

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brendenrossin/secondbrain/internal/embed"
	"github.com/brendenrossin/secondbrain/internal/store"
)

// queryEmbed returns a fixed query vector, or an error when broken.
type queryEmbed struct {
	vec    []float32
	broken bool
}

func (q queryEmbed) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = q.vec
	}
	return out, nil
}

func (q queryEmbed) EmbedQuery(_ context.Context, _ string) ([]float32, error) {
	if q.broken {
		return nil, errors.New("embedding backend offline")
	}
	return q.vec, nil
}

func (queryEmbed) ModelName() string                { return "fixed" }
func (q queryEmbed) Dimensions() int                { return len(q.vec) }
func (queryEmbed) Available(_ context.Context) bool { return true }
func (queryEmbed) Close() error                     { return nil }

func newRetrieverStores(t *testing.T) (*store.SQLiteStore, *store.VectorStore) {
	t.Helper()

	lexical, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = lexical.Close() })

	vectors, err := store.NewVectorStore(embed.Identity{Provider: "fixed", Model: "fixed", Dimensions: 4})
	require.NoError(t, err)
	t.Cleanup(func() { _ = vectors.Close() })

	return lexical, vectors
}

func seedRetriever(t *testing.T, lexical *store.SQLiteStore, vectors *store.VectorStore) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, lexical.ReplaceNoteChunks(ctx, "n1", []store.ChunkRecord{
		{ChunkID: "c1", NoteID: "n1", NotePath: "garden.md", NoteTitle: "Garden",
			HeadingPath: "Garden", Text: "Raised beds for tomatoes.", Folder: "."},
		{ChunkID: "c2", NoteID: "n1", NotePath: "garden.md", NoteTitle: "Garden",
			HeadingPath: "Garden > Soil", Text: "Compost mix ratios.", Folder: "."},
	}))
	require.NoError(t, lexical.RebuildLexicalIndex(ctx))

	require.NoError(t, vectors.Add(ctx,
		[]string{"c1", "c2"},
		[]string{"n1", "n1"},
		[][]float32{{1, 0, 0, 0}, {0, 1, 0, 0}},
	))
}

func TestRetrieveHydratesCandidates(t *testing.T) {
	lexical, vectors := newRetrieverStores(t)
	seedRetriever(t, lexical, vectors)

	r := NewRetriever(lexical, vectors, queryEmbed{vec: []float32{1, 0, 0, 0}}, RetrieverConfig{})
	candidates, err := r.Retrieve(context.Background(), "tomatoes")
	require.NoError(t, err)
	require.NotEmpty(t, candidates)

	top := candidates[0]
	assert.Equal(t, "c1", top.ChunkID)
	assert.Equal(t, "garden.md", top.NotePath)
	assert.Equal(t, "Garden", top.NoteTitle)
	assert.Equal(t, "Raised beds for tomatoes.", top.Text)
	assert.True(t, top.InBothLists(), "c1 matches both lexically and by vector")
	assert.Greater(t, top.FusedScore, 0.0)
}

func TestRetrieveDegradesWhenEmbeddingFails(t *testing.T) {
	lexical, vectors := newRetrieverStores(t)
	seedRetriever(t, lexical, vectors)

	r := NewRetriever(lexical, vectors, queryEmbed{vec: []float32{1, 0, 0, 0}, broken: true}, RetrieverConfig{})
	candidates, err := r.Retrieve(context.Background(), "compost")
	require.NoError(t, err, "lexical arm alone must carry the query")
	require.Len(t, candidates, 1)

	assert.Equal(t, "c2", candidates[0].ChunkID)
	assert.Equal(t, 0, candidates[0].VectorRank)
	assert.Greater(t, candidates[0].LexicalRank, 0)
}

func TestRetrieveEmptyStores(t *testing.T) {
	lexical, vectors := newRetrieverStores(t)

	r := NewRetriever(lexical, vectors, queryEmbed{vec: []float32{1, 0, 0, 0}}, RetrieverConfig{})
	candidates, err := r.Retrieve(context.Background(), "anything")
	require.NoError(t, err)
	assert.Empty(t, candidates)
}

func TestRetrieveRespectsConfiguredDepth(t *testing.T) {
	lexical, vectors := newRetrieverStores(t)
	seedRetriever(t, lexical, vectors)

	r := NewRetriever(lexical, vectors, queryEmbed{vec: []float32{1, 0, 0, 0}}, RetrieverConfig{
		LexicalK: 1,
		VectorK:  1,
	})
	candidates, err := r.Retrieve(context.Background(), "garden")
	require.NoError(t, err)

	// Each arm contributes at most one candidate.
	assert.LessOrEqual(t, len(candidates), 2)
}

package index

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brendenrossin/secondbrain/internal/chunk"
	"github.com/brendenrossin/secondbrain/internal/embed"
	"github.com/brendenrossin/secondbrain/internal/store"
	"github.com/brendenrossin/secondbrain/internal/vault"
)

// fakeProvider returns deterministic content-derived vectors and counts
// document embedding calls.
type fakeProvider struct {
	docCalls atomic.Int64
	docTexts atomic.Int64
}

func (f *fakeProvider) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	f.docCalls.Add(1)
	f.docTexts.Add(int64(len(texts)))
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = fakeVector(t)
	}
	return out, nil
}

func (f *fakeProvider) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return fakeVector(text), nil
}

func (f *fakeProvider) ModelName() string               { return "fake-embed" }
func (f *fakeProvider) Dimensions() int                 { return 4 }
func (f *fakeProvider) Available(_ context.Context) bool { return true }
func (f *fakeProvider) Close() error                    { return nil }

func fakeVector(text string) []float32 {
	sum := sha256.Sum256([]byte(text))
	v := make([]float32, 4)
	for i := 0; i < 4; i++ {
		bits := binary.BigEndian.Uint32(sum[i*4 : i*4+4])
		v[i] = float32(bits%1000)/1000.0 + 0.001
	}
	return v
}

type syncHarness struct {
	root       string
	provider   *fakeProvider
	lexical    *store.SQLiteStore
	vectors    *store.VectorStore
	syncer     *Syncer
	vectorPath string
}

func newSyncHarness(t *testing.T) *syncHarness {
	t.Helper()

	root := t.TempDir()
	dataDir := t.TempDir()

	connector, err := vault.NewConnector(root, nil)
	require.NoError(t, err)

	lexical, err := store.NewSQLiteStore(filepath.Join(dataDir, "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = lexical.Close() })

	provider := &fakeProvider{}
	vectors, err := store.NewVectorStore(embed.Identity{
		Provider:   "fake",
		Model:      provider.ModelName(),
		Dimensions: provider.Dimensions(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = vectors.Close() })

	vectorPath := filepath.Join(dataDir, "vectors.hnsw")
	chunker := chunk.New(chunk.Options{})

	return &syncHarness{
		root:       root,
		provider:   provider,
		lexical:    lexical,
		vectors:    vectors,
		syncer:     NewSyncer(connector, chunker, provider, lexical, vectors, vectorPath),
		vectorPath: vectorPath,
	}
}

func (h *syncHarness) write(t *testing.T, rel, content string) {
	t.Helper()
	abs := filepath.Join(h.root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
}

func (h *syncHarness) touch(t *testing.T, rel string, at time.Time) {
	t.Helper()
	abs := filepath.Join(h.root, filepath.FromSlash(rel))
	require.NoError(t, os.Chtimes(abs, at, at))
}

func TestFirstRunIsFullBuild(t *testing.T) {
	h := newSyncHarness(t)
	ctx := context.Background()

	h.write(t, "garden.md", "# Garden\n\nRaised beds.\n")
	h.write(t, "recipes/bread.md", "# Bread\n\nSourdough ratios.\n")

	report, err := h.syncer.Sync(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Scanned)
	assert.Equal(t, 2, report.Indexed)
	assert.Equal(t, 0, report.Unchanged)
	assert.Greater(t, report.Chunks, 0)

	ids, err := h.lexical.AllChunkIDs(ctx)
	require.NoError(t, err)
	assert.Len(t, ids, report.Chunks)
	assert.Equal(t, report.Chunks, h.vectors.Count())

	// Vector store persisted.
	_, err = os.Stat(h.vectorPath)
	assert.NoError(t, err)
}

func TestSecondRunIsIdempotent(t *testing.T) {
	h := newSyncHarness(t)
	ctx := context.Background()

	h.write(t, "garden.md", "# Garden\n\nRaised beds.\n")
	_, err := h.syncer.Sync(ctx)
	require.NoError(t, err)

	before, err := h.lexical.AllChunkIDs(ctx)
	require.NoError(t, err)
	callsBefore := h.provider.docCalls.Load()

	report, err := h.syncer.Sync(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Unchanged)
	assert.Equal(t, 0, report.Indexed)
	assert.Equal(t, 0, report.Touched)

	after, err := h.lexical.AllChunkIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, callsBefore, h.provider.docCalls.Load(), "no re-embedding on a no-op run")
}

func TestTouchedFileIsNotReembedded(t *testing.T) {
	h := newSyncHarness(t)
	ctx := context.Background()

	h.write(t, "garden.md", "# Garden\n\nRaised beds.\n")
	_, err := h.syncer.Sync(ctx)
	require.NoError(t, err)

	before, err := h.lexical.AllChunkIDs(ctx)
	require.NoError(t, err)
	callsBefore := h.provider.docCalls.Load()

	// Same content, new mtime.
	h.touch(t, "garden.md", time.Now().Add(time.Hour))

	report, err := h.syncer.Sync(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Touched)
	assert.Equal(t, 0, report.Indexed)
	assert.Equal(t, callsBefore, h.provider.docCalls.Load(), "touch must not re-embed")

	after, err := h.lexical.AllChunkIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	// The stored mtime advanced, so the next run takes the fast path.
	report, err = h.syncer.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Unchanged)
	assert.Equal(t, 0, report.Touched)
}

func TestEditReplacesChunksInBothStores(t *testing.T) {
	h := newSyncHarness(t)
	ctx := context.Background()

	h.write(t, "garden.md", "# Garden\n\nRaised beds.\n")
	_, err := h.syncer.Sync(ctx)
	require.NoError(t, err)

	before, err := h.lexical.AllChunkIDs(ctx)
	require.NoError(t, err)

	h.write(t, "garden.md", "# Garden\n\nTerraced slopes instead.\n")
	h.touch(t, "garden.md", time.Now().Add(time.Hour))

	report, err := h.syncer.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Indexed)

	after, err := h.lexical.AllChunkIDs(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, before, after)

	// Old chunks fully purged from both stores.
	for _, id := range before {
		assert.False(t, h.vectors.Contains(id))
	}
	for _, id := range after {
		assert.True(t, h.vectors.Contains(id))
	}

	results, err := h.lexical.SearchLexical(ctx, "terraced", 10)
	require.NoError(t, err)
	assert.Len(t, results, 1)

	results, err = h.lexical.SearchLexical(ctx, "raised", 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestDeletionPropagatesEverywhere(t *testing.T) {
	h := newSyncHarness(t)
	ctx := context.Background()

	h.write(t, "keep.md", "# Keep\n\nStaying put.\n")
	h.write(t, "gone.md", "# Gone\n\nSoon removed.\n")
	_, err := h.syncer.Sync(ctx)
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(h.root, "gone.md")))

	report, err := h.syncer.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Deleted)

	// Tracker record gone.
	records, err := h.lexical.AllIndexRecords(ctx)
	require.NoError(t, err)
	_, exists := records["gone.md"]
	assert.False(t, exists)

	// Lexical hits gone, including from the rebuilt FTS index.
	results, err := h.lexical.SearchLexical(ctx, "removed", 10)
	require.NoError(t, err)
	assert.Empty(t, results)

	// Stores agree afterward.
	lexOnly, vecOnly, err := h.syncer.CheckConsistency(ctx)
	require.NoError(t, err)
	assert.Empty(t, lexOnly)
	assert.Empty(t, vecOnly)
}

func TestRebuildPurgesVanishedNotes(t *testing.T) {
	h := newSyncHarness(t)
	ctx := context.Background()

	h.write(t, "keep.md", "# Keep\n\nStaying put.\n")
	h.write(t, "gone.md", "# Gone\n\nEphemeral content.\n")
	_, err := h.syncer.Sync(ctx)
	require.NoError(t, err)

	// The note vanishes and the user reaches straight for a full
	// rebuild, without an incremental run in between. The rebuild has to
	// purge the note even though no tracker row points at it anymore.
	require.NoError(t, os.Remove(filepath.Join(h.root, "gone.md")))
	require.NoError(t, h.syncer.Reset(ctx))

	report, err := h.syncer.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Indexed)

	results, err := h.lexical.SearchLexical(ctx, "ephemeral", 10)
	require.NoError(t, err)
	assert.Empty(t, results)

	results, err = h.lexical.SearchLexical(ctx, "staying", 10)
	require.NoError(t, err)
	assert.Len(t, results, 1)

	records, err := h.lexical.AllIndexRecords(ctx)
	require.NoError(t, err)
	_, exists := records["gone.md"]
	assert.False(t, exists)

	lexOnly, vecOnly, err := h.syncer.CheckConsistency(ctx)
	require.NoError(t, err)
	assert.Empty(t, lexOnly)
	assert.Empty(t, vecOnly)
}

func TestStoresStayConsistentAcrossRuns(t *testing.T) {
	h := newSyncHarness(t)
	ctx := context.Background()

	h.write(t, "a.md", "# A\n\nalpha text\n")
	h.write(t, "b.md", "# B\n\nbeta text\n")
	_, err := h.syncer.Sync(ctx)
	require.NoError(t, err)

	h.write(t, "a.md", "# A\n\nedited alpha\n")
	h.touch(t, "a.md", time.Now().Add(time.Hour))
	require.NoError(t, os.Remove(filepath.Join(h.root, "b.md")))
	h.write(t, "c.md", "# C\n\nbrand new\n")

	_, err = h.syncer.Sync(ctx)
	require.NoError(t, err)

	lexOnly, vecOnly, err := h.syncer.CheckConsistency(ctx)
	require.NoError(t, err)
	assert.Empty(t, lexOnly)
	assert.Empty(t, vecOnly)
}

func TestEmbeddingIdentityRecorded(t *testing.T) {
	h := newSyncHarness(t)
	ctx := context.Background()

	h.write(t, "a.md", "# A\n\nsome text\n")
	_, err := h.syncer.Sync(ctx)
	require.NoError(t, err)

	model, err := h.lexical.GetState(ctx, store.StateKeyEmbeddingModel)
	require.NoError(t, err)
	assert.Equal(t, "fake-embed", model)
}

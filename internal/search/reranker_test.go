package search

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brendenrossin/secondbrain/internal/llm"
)

// fakeChat returns a canned response or error from Complete.
type fakeChat struct {
	response string
	err      error
	delay    time.Duration
}

func (f *fakeChat) Complete(ctx context.Context, _ []llm.Message) (string, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return f.response, f.err
}

func (f *fakeChat) Stream(ctx context.Context, _ []llm.Message) (<-chan string, <-chan error) {
	tokens := make(chan string)
	errs := make(chan error, 1)
	close(tokens)
	if f.err != nil {
		errs <- f.err
	}
	close(errs)
	return tokens, errs
}

func (f *fakeChat) Model() string { return "fake" }

var _ llm.ChatClient = (*fakeChat)(nil)

func rerankFixture() []*RetrievalCandidate {
	return []*RetrievalCandidate{
		{ChunkID: "c1", FusedScore: 0.030, RerankScore: -1},
		{ChunkID: "c2", FusedScore: 0.020, RerankScore: -1},
		{ChunkID: "c3", FusedScore: 0.010, RerankScore: -1},
	}
}

func TestRerankReordersByScore(t *testing.T) {
	client := &fakeChat{response: `[{"index":1,"score":0.2},{"index":2,"score":0.9},{"index":3,"score":0.5}]`}
	out := NewReranker(client, 0).Rerank(context.Background(), "q", rerankFixture())

	require.Len(t, out, 3)
	assert.Equal(t, "c2", out[0].ChunkID)
	assert.Equal(t, "c3", out[1].ChunkID)
	assert.Equal(t, "c1", out[2].ChunkID)
	for _, c := range out {
		assert.Equal(t, ProvenanceReranked, c.Provenance)
	}
}

func TestRerankErrorFallsBackToFusedOrder(t *testing.T) {
	client := &fakeChat{err: errors.New("provider down")}
	out := NewReranker(client, 0).Rerank(context.Background(), "q", rerankFixture())

	require.Len(t, out, 3)
	assert.Equal(t, "c1", out[0].ChunkID)
	assert.Equal(t, "c2", out[1].ChunkID)
	assert.Equal(t, "c3", out[2].ChunkID)
	for _, c := range out {
		assert.Equal(t, ProvenanceFallback, c.Provenance)
		assert.Equal(t, c.FusedScore, c.RerankScore)
	}
}

func TestRerankTimeoutFallsBack(t *testing.T) {
	client := &fakeChat{response: `[{"index":1,"score":0.9}]`, delay: time.Second}
	out := NewReranker(client, 20*time.Millisecond).Rerank(context.Background(), "q", rerankFixture())

	require.Len(t, out, 3)
	assert.Equal(t, "c1", out[0].ChunkID)
	assert.Equal(t, ProvenanceFallback, out[0].Provenance)
}

func TestRerankUnparseableFallsBack(t *testing.T) {
	client := &fakeChat{response: "I cannot help with that."}
	out := NewReranker(client, 0).Rerank(context.Background(), "q", rerankFixture())

	assert.Equal(t, "c1", out[0].ChunkID)
	assert.Equal(t, ProvenanceFallback, out[0].Provenance)
}

func TestRerankPartialScoresFallBack(t *testing.T) {
	// A response missing a candidate cannot be trusted for any of them.
	client := &fakeChat{response: `[{"index":1,"score":0.9},{"index":2,"score":0.5}]`}
	out := NewReranker(client, 0).Rerank(context.Background(), "q", rerankFixture())

	assert.Equal(t, ProvenanceFallback, out[0].Provenance)
}

func TestRerankJSONWrappedInProse(t *testing.T) {
	client := &fakeChat{response: "Here are the scores:\n[{\"index\":1,\"score\":0.1},{\"index\":2,\"score\":0.8},{\"index\":3,\"score\":0.3}]\nHope that helps!"}
	out := NewReranker(client, 0).Rerank(context.Background(), "q", rerankFixture())

	assert.Equal(t, "c2", out[0].ChunkID)
	assert.Equal(t, ProvenanceReranked, out[0].Provenance)
}

func TestRerankRegexFallbackParsing(t *testing.T) {
	// Malformed JSON but recoverable index/score pairs.
	raw := "index: 1 score: 0.2\nindex: 2 score: 0.9\nindex: 3 score: 0.4"
	scores, ok := parseScores(raw, 3)
	require.True(t, ok)
	assert.InDelta(t, 0.2, scores[0], 1e-9)
	assert.InDelta(t, 0.9, scores[1], 1e-9)
	assert.InDelta(t, 0.4, scores[2], 1e-9)
}

func TestParseScoresClampsRange(t *testing.T) {
	scores, ok := parseScores(`[{"index":1,"score":1.7}]`, 1)
	require.True(t, ok)
	assert.Equal(t, 1.0, scores[0])
}

func TestRerankEmptyInput(t *testing.T) {
	out := NewReranker(&fakeChat{}, 0).Rerank(context.Background(), "q", nil)
	assert.Empty(t, out)
}

func TestRerankNilClientFallsBack(t *testing.T) {
	out := NewReranker(nil, 0).Rerank(context.Background(), "q", rerankFixture())
	assert.Equal(t, ProvenanceFallback, out[0].Provenance)
}

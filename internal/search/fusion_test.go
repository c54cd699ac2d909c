package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brendenrossin/secondbrain/internal/store"
)

func lexList(ids ...string) []store.LexicalResult {
	out := make([]store.LexicalResult, len(ids))
	for i, id := range ids {
		out[i] = store.LexicalResult{ChunkID: id, Score: float64(len(ids) - i)}
	}
	return out
}

func vecList(ids ...string) []store.VectorResult {
	out := make([]store.VectorResult, len(ids))
	for i, id := range ids {
		out[i] = store.VectorResult{ChunkID: id, Score: float32(len(ids)-i) / float32(len(ids))}
	}
	return out
}

func TestFuseEmptyInputs(t *testing.T) {
	fused := NewFuser(0).Fuse(nil, nil)
	assert.NotNil(t, fused)
	assert.Empty(t, fused)
}

func TestFuseBothListsOutranksSingleList(t *testing.T) {
	// "both" appears in both lists at rank 2; singles hold rank 1 in
	// exactly one list. With equal individual ranks held, membership in
	// both lists must dominate.
	lexical := lexList("lexonly", "both")
	vector := vecList("veconly", "both")

	fused := NewFuser(60).Fuse(lexical, vector)
	require.Len(t, fused, 3)
	assert.Equal(t, "both", fused[0].ChunkID)

	// 2/(60+2) > 1/(60+1): arithmetic check of the property.
	assert.Greater(t, fused[0].FusedScore, fused[1].FusedScore)
}

func TestFuseScoreFormula(t *testing.T) {
	fused := NewFuser(60).Fuse(lexList("a", "b"), vecList("b", "c"))
	require.Len(t, fused, 3)

	byID := map[string]*RetrievalCandidate{}
	for _, c := range fused {
		byID[c.ChunkID] = c
	}

	// Absence from a list contributes nothing.
	assert.InDelta(t, 1.0/61.0, byID["a"].FusedScore, 1e-12)
	assert.InDelta(t, 1.0/62.0+1.0/61.0, byID["b"].FusedScore, 1e-12)
	assert.InDelta(t, 1.0/62.0, byID["c"].FusedScore, 1e-12)
}

func TestFuseRanksAreOneIndexed(t *testing.T) {
	fused := NewFuser(60).Fuse(lexList("a"), vecList("a"))
	require.Len(t, fused, 1)
	assert.Equal(t, 1, fused[0].LexicalRank)
	assert.Equal(t, 1, fused[0].VectorRank)
	assert.True(t, fused[0].InBothLists())
}

func TestFuseAbsentRankIsZero(t *testing.T) {
	fused := NewFuser(60).Fuse(lexList("a"), nil)
	require.Len(t, fused, 1)
	assert.Equal(t, 1, fused[0].LexicalRank)
	assert.Equal(t, 0, fused[0].VectorRank)
	assert.False(t, fused[0].InBothLists())
}

func TestFuseDeterministicTieBreak(t *testing.T) {
	// Same-rank ties cannot happen within one list, so build the tie
	// across lists: each candidate holds rank 1 in exactly one list.
	fused := NewFuser(60).Fuse(lexList("zzz"), vecList("aaa"))
	require.Len(t, fused, 2)
	assert.Equal(t, fused[0].FusedScore, fused[1].FusedScore)

	// Repeated fusion yields the identical order.
	again := NewFuser(60).Fuse(lexList("zzz"), vecList("aaa"))
	assert.Equal(t, fused[0].ChunkID, again[0].ChunkID)
	assert.Equal(t, fused[1].ChunkID, again[1].ChunkID)
}

func TestFuseChunkIDTieBreakIsLexicographic(t *testing.T) {
	// Two vector-only candidates at distinct ranks never tie; force a
	// pure tie with two single-element lists and zero lexical score.
	lexical := []store.LexicalResult{{ChunkID: "bbb", Score: 0}}
	vector := []store.VectorResult{{ChunkID: "aaa", Score: 0}}

	fused := NewFuser(60).Fuse(lexical, vector)
	require.Len(t, fused, 2)
	assert.Equal(t, "aaa", fused[0].ChunkID)
	assert.Equal(t, "bbb", fused[1].ChunkID)
}

func TestBestPerNote(t *testing.T) {
	candidates := []*RetrievalCandidate{
		{ChunkID: "c1", NotePath: "a.md"},
		{ChunkID: "c2", NotePath: "b.md"},
		{ChunkID: "c3", NotePath: "a.md"},
		{ChunkID: "c4", NotePath: "c.md"},
	}

	deduped := BestPerNote(candidates)
	require.Len(t, deduped, 3)
	assert.Equal(t, "c1", deduped[0].ChunkID)
	assert.Equal(t, "c2", deduped[1].ChunkID)
	assert.Equal(t, "c4", deduped[2].ChunkID)
}

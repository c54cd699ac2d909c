// Package search provides hybrid retrieval: independent lexical and
// vector searches fused with Reciprocal Rank Fusion, link expansion of
// cross-note references, and an LLM reranking pass with defensive
// fallback.
package search

import (
	"sort"
	"time"

	"github.com/brendenrossin/secondbrain/internal/store"
)

// DefaultRRFConstant is the standard RRF smoothing parameter.
// k=60 is empirically validated across domains.
const DefaultRRFConstant = 60

// Rerank provenance markers.
const (
	ProvenanceReranked = "reranked"
	ProvenanceFallback = "fallback"
)

// RetrievalCandidate is a single fused retrieval hit. Component ranks
// are 1-indexed; 0 means the candidate was absent from that list.
type RetrievalCandidate struct {
	ChunkID     string
	NotePath    string
	NoteTitle   string
	HeadingPath string
	Text        string
	Folder      string
	NoteDate    time.Time

	LexicalRank  int
	VectorRank   int
	LexicalScore float64
	VectorScore  float64
	FusedScore   float64

	// RerankScore is set by the reranking pass; -1 until then.
	RerankScore float64
	// Provenance records whether the candidate's final order came from
	// reranking or fell back to fusion order.
	Provenance string
}

// InBothLists reports whether the candidate appeared in both component
// rankings.
func (c *RetrievalCandidate) InBothLists() bool {
	return c.LexicalRank > 0 && c.VectorRank > 0
}

// Fuser combines lexical and vector rankings with RRF.
type Fuser struct {
	K int
}

// NewFuser creates a fuser with the given smoothing constant.
// If k <= 0, the default of 60 is used.
func NewFuser(k int) *Fuser {
	if k <= 0 {
		k = DefaultRRFConstant
	}
	return &Fuser{K: k}
}

// Fuse combines the two rankings. A candidate's fused score is
// Σ 1/(k + rank) over the lists it appears in; absence from a list
// contributes nothing. Ties break deterministically so repeated
// queries are reproducible.
//
// Sort order: FusedScore (desc) → in both lists (first) →
// LexicalScore (desc) → ChunkID (asc).
func (f *Fuser) Fuse(lexical []store.LexicalResult, vector []store.VectorResult) []*RetrievalCandidate {
	if len(lexical) == 0 && len(vector) == 0 {
		return []*RetrievalCandidate{}
	}

	candidates := make(map[string]*RetrievalCandidate, len(lexical)+len(vector))

	getOrCreate := func(id string) *RetrievalCandidate {
		if c, ok := candidates[id]; ok {
			return c
		}
		c := &RetrievalCandidate{ChunkID: id, RerankScore: -1}
		candidates[id] = c
		return c
	}

	for rank, r := range lexical {
		c := getOrCreate(r.ChunkID)
		c.LexicalRank = rank + 1
		c.LexicalScore = r.Score
		c.FusedScore += 1.0 / float64(f.K+rank+1)
	}

	for rank, r := range vector {
		c := getOrCreate(r.ChunkID)
		c.VectorRank = rank + 1
		c.VectorScore = float64(r.Score)
		c.FusedScore += 1.0 / float64(f.K+rank+1)
	}

	results := make([]*RetrievalCandidate, 0, len(candidates))
	for _, c := range candidates {
		results = append(results, c)
	}

	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.FusedScore != b.FusedScore {
			return a.FusedScore > b.FusedScore
		}
		if a.InBothLists() != b.InBothLists() {
			return a.InBothLists()
		}
		if a.LexicalScore != b.LexicalScore {
			return a.LexicalScore > b.LexicalScore
		}
		return a.ChunkID < b.ChunkID
	})

	return results
}

// BestPerNote collapses a chunk-level ranking to its best chunk per
// note, preserving order. Evaluation view only; answering uses the full
// chunk-level list.
func BestPerNote(candidates []*RetrievalCandidate) []*RetrievalCandidate {
	seen := make(map[string]bool, len(candidates))
	out := make([]*RetrievalCandidate, 0, len(candidates))
	for _, c := range candidates {
		if seen[c.NotePath] {
			continue
		}
		seen[c.NotePath] = true
		out = append(out, c)
	}
	return out
}

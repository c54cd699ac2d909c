package search

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/brendenrossin/secondbrain/internal/llm"
)

// DefaultRerankTimeout is the hard deadline on the reranking call.
const DefaultRerankTimeout = 20 * time.Second

const rerankSystemPrompt = `You score search results for relevance to a question.
For each numbered passage, assign a relevance score between 0.0 (irrelevant) and 1.0 (directly answers the question).
Consider the passage's folder and date when the question has a temporal or topical scope.
Respond with ONLY a JSON array of objects: [{"index": 1, "score": 0.8}, ...], one object per passage, no other text.`

// scoreLinePattern extracts "index ... score" pairs from malformed
// model output. Second line of the fallback chain.
var scoreLinePattern = regexp.MustCompile(`(?m)(?:"?index"?\s*[:=]?\s*)(\d+)\D+?([01](?:\.\d+)?)`)

type rerankEntry struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

// Reranker reorders fused candidates by LLM-scored relevance. Every
// failure mode falls back to the fused order with provenance marked,
// never an error to the caller.
type Reranker struct {
	client  llm.ChatClient
	timeout time.Duration
}

// NewReranker creates a reranker. timeout <= 0 uses the default.
func NewReranker(client llm.ChatClient, timeout time.Duration) *Reranker {
	if timeout <= 0 {
		timeout = DefaultRerankTimeout
	}
	return &Reranker{client: client, timeout: timeout}
}

// Rerank scores candidates in a single batched call and returns them
// re-sorted by rerank score. On timeout, provider failure, or
// unparseable output, candidates keep their fused order, rerank scores
// mirror fused scores, and provenance is marked fallback.
func (r *Reranker) Rerank(ctx context.Context, query string, candidates []*RetrievalCandidate) []*RetrievalCandidate {
	if len(candidates) == 0 {
		return candidates
	}
	if r.client == nil {
		return markFallback(candidates)
	}

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	raw, err := r.client.Complete(callCtx, []llm.Message{
		{Role: llm.RoleSystem, Content: rerankSystemPrompt},
		{Role: llm.RoleUser, Content: buildRerankPrompt(query, candidates)},
	})
	if err != nil {
		slog.Warn("rerank call failed, falling back to fused order",
			slog.String("error", err.Error()))
		return markFallback(candidates)
	}

	scores, ok := parseScores(raw, len(candidates))
	if !ok {
		slog.Warn("rerank response unparseable, falling back to fused order")
		return markFallback(candidates)
	}

	for i, c := range candidates {
		c.RerankScore = scores[i]
		c.Provenance = ProvenanceReranked
	}

	out := make([]*RetrievalCandidate, len(candidates))
	copy(out, candidates)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].RerankScore != out[j].RerankScore {
			return out[i].RerankScore > out[j].RerankScore
		}
		return out[i].ChunkID < out[j].ChunkID
	})
	return out
}

// markFallback restores fused-order semantics: order unchanged, rerank
// scores mirror fused scores.
func markFallback(candidates []*RetrievalCandidate) []*RetrievalCandidate {
	for _, c := range candidates {
		c.RerankScore = c.FusedScore
		c.Provenance = ProvenanceFallback
	}
	return candidates
}

// buildRerankPrompt numbers each candidate with its structural metadata.
func buildRerankPrompt(query string, candidates []*RetrievalCandidate) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\nPassages:\n", query)

	for i, c := range candidates {
		fmt.Fprintf(&b, "\n[%d] note: %s", i+1, c.NotePath)
		if c.Folder != "" {
			fmt.Fprintf(&b, " | folder: %s", c.Folder)
		}
		if !c.NoteDate.IsZero() {
			fmt.Fprintf(&b, " | date: %s", c.NoteDate.Format("2006-01-02"))
		}
		if c.HeadingPath != "" {
			fmt.Fprintf(&b, " | section: %s", c.HeadingPath)
		}
		fmt.Fprintf(&b, "\n%s\n", truncate(c.Text, 800))
	}
	return b.String()
}

// parseScores runs the defensive parse chain: strict JSON first, then
// regex extraction. Either path must yield a score for every candidate.
func parseScores(raw string, n int) ([]float64, bool) {
	if scores, ok := parseScoresJSON(raw, n); ok {
		return scores, true
	}
	return parseScoresRegex(raw, n)
}

func parseScoresJSON(raw string, n int) ([]float64, bool) {
	start := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "]")
	if start < 0 || end <= start {
		return nil, false
	}

	var entries []rerankEntry
	if err := json.Unmarshal([]byte(raw[start:end+1]), &entries); err != nil {
		return nil, false
	}
	return collectScores(entries, n)
}

func parseScoresRegex(raw string, n int) ([]float64, bool) {
	matches := scoreLinePattern.FindAllStringSubmatch(raw, -1)
	entries := make([]rerankEntry, 0, len(matches))
	for _, m := range matches {
		idx, err1 := strconv.Atoi(m[1])
		score, err2 := strconv.ParseFloat(m[2], 64)
		if err1 != nil || err2 != nil {
			continue
		}
		entries = append(entries, rerankEntry{Index: idx, Score: score})
	}
	return collectScores(entries, n)
}

func collectScores(entries []rerankEntry, n int) ([]float64, bool) {
	scores := make([]float64, n)
	seen := make([]bool, n)
	for _, e := range entries {
		if e.Index < 1 || e.Index > n {
			continue
		}
		if e.Score < 0 {
			e.Score = 0
		}
		if e.Score > 1 {
			e.Score = 1
		}
		scores[e.Index-1] = e.Score
		seen[e.Index-1] = true
	}
	for _, ok := range seen {
		if !ok {
			return nil, false
		}
	}
	return scores, true
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

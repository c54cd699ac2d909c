package search

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"github.com/brendenrossin/secondbrain/internal/store"
)

// DefaultMaxLinked caps how many linked chunks supplement an answer.
const DefaultMaxLinked = 3

// wikilinkPattern matches [[Target]] and [[Target|alias]] references.
var wikilinkPattern = regexp.MustCompile(`\[\[([^\[\]|]+)(?:\|[^\[\]]*)?\]\]`)

// LinkedChunk is supplementary context pulled in through a cross-note
// reference. Linked chunks are never citations: they were not retrieved
// for the query itself.
type LinkedChunk struct {
	SourceChunkID string
	Reference     string
	Chunk         store.ChunkRecord
}

// LinkExpander resolves cross-note references found in top candidates
// to each target note's first chunk.
type LinkExpander struct {
	lexical   *store.SQLiteStore
	maxLinked int
}

// NewLinkExpander creates a link expander. maxLinked <= 0 uses the
// default cap.
func NewLinkExpander(lexical *store.SQLiteStore, maxLinked int) *LinkExpander {
	if maxLinked <= 0 {
		maxLinked = DefaultMaxLinked
	}
	return &LinkExpander{lexical: lexical, maxLinked: maxLinked}
}

// Expand scans candidate text for references and resolves them
// case-insensitively against note titles and paths. Targets already in
// the candidate set and duplicate targets are skipped. Resolution
// failures are skipped silently; link expansion is best-effort.
func (e *LinkExpander) Expand(ctx context.Context, candidates []*RetrievalCandidate) []LinkedChunk {
	inSet := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		inSet[strings.ToLower(c.NotePath)] = true
	}

	seen := make(map[string]bool)
	var linked []LinkedChunk

	for _, c := range candidates {
		for _, m := range wikilinkPattern.FindAllStringSubmatch(c.Text, -1) {
			if len(linked) >= e.maxLinked {
				return linked
			}

			ref := strings.TrimSpace(m[1])
			if ref == "" {
				continue
			}
			key := strings.ToLower(ref)
			if seen[key] {
				continue
			}
			seen[key] = true

			chunk, err := e.lexical.FirstChunkOfNote(ctx, ref)
			if err != nil {
				slog.Debug("link resolution failed",
					slog.String("reference", ref),
					slog.String("error", err.Error()))
				continue
			}
			if chunk == nil {
				continue
			}
			if inSet[strings.ToLower(chunk.NotePath)] {
				continue
			}

			linked = append(linked, LinkedChunk{
				SourceChunkID: c.ChunkID,
				Reference:     ref,
				Chunk:         *chunk,
			})
		}
	}

	return linked
}

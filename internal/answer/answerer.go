// Package answer runs the question-answering pipeline:
// Retrieve → Expand → Rerank → Synthesize. Each stage degrades rather
// than aborts: a failed expansion is skipped, a failed rerank falls back
// to fused order, and only synthesis failure surfaces a typed error,
// since its output is the answer itself.
package answer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	apperrors "github.com/brendenrossin/secondbrain/internal/errors"
	"github.com/brendenrossin/secondbrain/internal/llm"
	"github.com/brendenrossin/secondbrain/internal/search"
)

// Retrieval-quality labels attached to every answer.
const (
	// LabelNoResults: nothing cleared the minimum fused-score floor.
	LabelNoResults = "NO_RESULTS"
	// LabelIrrelevant: candidates exist but top rerank scores are all low.
	LabelIrrelevant = "IRRELEVANT"
	// LabelHallucinationRisk: high vector similarity paired with a low
	// rerank score. The model found the text semantically close without
	// it being actually relevant, which is exactly when a synthesized
	// answer is most likely to sound right and be wrong.
	LabelHallucinationRisk = "HALLUCINATION_RISK"
	// LabelPass: retrieval looks sound.
	LabelPass = "PASS"
)

const synthesisSystemPrompt = `You answer questions using ONLY the provided context passages.
Cite passages inline as [1], [2] etc. matching their numbering.
If the context does not contain the answer, say so plainly instead of guessing.
Material under "Connected notes" is background only; never cite it.`

// Citation is the caller-facing view of a candidate actually used in an
// answer.
type Citation struct {
	NotePath        string  `json:"note_path"`
	NoteTitle       string  `json:"note_title"`
	HeadingPath     string  `json:"heading_path"`
	ChunkID         string  `json:"chunk_id"`
	Snippet         string  `json:"snippet"`
	SimilarityScore float64 `json:"similarity_score"`
	RerankScore     float64 `json:"rerank_score"`
}

// Result is a complete answer.
type Result struct {
	ConversationID string
	Answer         string
	Citations      []Citation
	Label          string
	Provenance     string
}

// Event is one element of a streaming answer. Exactly one of the
// payload fields is set, selected by Type.
type Event struct {
	Type string // "citations", "token", "done"

	Citations []Citation
	Token     string

	// Done payload.
	ConversationID string
	Label          string
	Err            error
}

// Event type tags.
const (
	EventCitations = "citations"
	EventToken     = "token"
	EventDone      = "done"
)

// Config tunes labeling floors and context sizing.
type Config struct {
	ContextChunks     int
	FusedScoreFloor   float64
	RerankFloor       float64
	SimilarityCeiling float64
}

// Answerer orchestrates the pipeline.
type Answerer struct {
	retriever *search.Retriever
	expander  *search.LinkExpander
	reranker  *search.Reranker
	client    llm.ChatClient
	cfg       Config
}

// New wires the answer pipeline.
func New(retriever *search.Retriever, expander *search.LinkExpander, reranker *search.Reranker,
	client llm.ChatClient, cfg Config) *Answerer {
	if cfg.ContextChunks <= 0 {
		cfg.ContextChunks = 8
	}
	return &Answerer{
		retriever: retriever,
		expander:  expander,
		reranker:  reranker,
		client:    client,
		cfg:       cfg,
	}
}

// Answer runs the full pipeline and blocks until the answer is
// complete. An empty conversationID starts a new conversation; the
// effective ID is echoed in the result either way.
func (a *Answerer) Answer(ctx context.Context, query, conversationID string) (*Result, error) {
	prep, err := a.prepare(ctx, query, conversationID)
	if err != nil {
		return nil, err
	}

	result := &Result{
		ConversationID: prep.conversationID,
		Citations:      prep.citations,
		Label:          prep.label,
		Provenance:     prep.provenance,
	}

	if prep.label == LabelNoResults {
		result.Answer = "I could not find anything in the vault relevant to that question."
		return result, nil
	}

	text, err := a.client.Complete(ctx, prep.messages)
	if err != nil {
		return nil, apperrors.SynthesisFailed("answer synthesis failed", err)
	}
	result.Answer = text
	return result, nil
}

// AnswerStream runs the pipeline and streams the synthesis. The caller
// receives a citations event first, then token deltas, then a terminal
// done event carrying the conversation ID (generated when the caller
// passed none). Cancelling the context stops the stream; the channel
// always closes after the done event.
func (a *Answerer) AnswerStream(ctx context.Context, query, conversationID string) <-chan Event {
	events := make(chan Event)

	go func() {
		defer close(events)

		prep, err := a.prepare(ctx, query, conversationID)
		if err != nil {
			emit(ctx, events, Event{Type: EventDone, Err: err})
			return
		}

		if !emit(ctx, events, Event{Type: EventCitations, Citations: prep.citations}) {
			return
		}

		done := Event{
			Type:           EventDone,
			ConversationID: prep.conversationID,
			Label:          prep.label,
		}

		if prep.label == LabelNoResults {
			emit(ctx, events, done)
			return
		}

		tokens, errs := a.client.Stream(ctx, prep.messages)
		for token := range tokens {
			if !emit(ctx, events, Event{Type: EventToken, Token: token}) {
				return
			}
		}
		if err := <-errs; err != nil {
			done.Err = apperrors.SynthesisFailed("answer synthesis failed", err)
		}
		emit(ctx, events, done)
	}()

	return events
}

// emit sends an event unless the context is already cancelled.
func emit(ctx context.Context, ch chan<- Event, ev Event) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// prepared carries the shared pipeline state between the blocking and
// streaming entry points.
type prepared struct {
	conversationID string
	citations      []Citation
	label          string
	provenance     string
	messages       []llm.Message
}

// prepare runs Retrieve → Expand → Rerank and builds the synthesis
// prompt.
func (a *Answerer) prepare(ctx context.Context, query, conversationID string) (*prepared, error) {
	if conversationID == "" {
		conversationID = uuid.NewString()
	}

	candidates, err := a.retriever.Retrieve(ctx, query)
	if err != nil {
		return nil, err
	}

	candidates = aboveFloor(candidates, a.cfg.FusedScoreFloor)
	if len(candidates) == 0 {
		return &prepared{
			conversationID: conversationID,
			citations:      []Citation{},
			label:          LabelNoResults,
		}, nil
	}

	if len(candidates) > a.cfg.ContextChunks {
		candidates = candidates[:a.cfg.ContextChunks]
	}

	// Expansion is best-effort; a failure inside the expander is logged
	// there and yields no linked chunks.
	var linked []search.LinkedChunk
	if a.expander != nil {
		linked = a.expander.Expand(ctx, candidates)
	}

	candidates = a.reranker.Rerank(ctx, query, candidates)

	label := a.classify(candidates)
	provenance := search.ProvenanceFallback
	if len(candidates) > 0 && candidates[0].Provenance == search.ProvenanceReranked {
		provenance = search.ProvenanceReranked
	}

	citations := make([]Citation, len(candidates))
	for i, c := range candidates {
		citations[i] = Citation{
			NotePath:        c.NotePath,
			NoteTitle:       c.NoteTitle,
			HeadingPath:     c.HeadingPath,
			ChunkID:         c.ChunkID,
			Snippet:         snippet(c.Text),
			SimilarityScore: c.VectorScore,
			RerankScore:     c.RerankScore,
		}
	}

	return &prepared{
		conversationID: conversationID,
		citations:      citations,
		label:          label,
		provenance:     provenance,
		messages: []llm.Message{
			{Role: llm.RoleSystem, Content: synthesisSystemPrompt},
			{Role: llm.RoleUser, Content: buildContext(query, candidates, linked)},
		},
	}, nil
}

// classify applies the retrieval-quality label policy.
func (a *Answerer) classify(candidates []*search.RetrievalCandidate) string {
	if len(candidates) == 0 {
		return LabelNoResults
	}

	// Labels only apply to reranked scores; fallback scores are fused
	// scores in disguise and would misfire the thresholds.
	if candidates[0].Provenance != search.ProvenanceReranked {
		return LabelPass
	}

	topRerank := candidates[0].RerankScore
	for _, c := range candidates {
		if c.RerankScore > topRerank {
			topRerank = c.RerankScore
		}
	}

	if topRerank < a.cfg.RerankFloor {
		for _, c := range candidates {
			if c.VectorScore >= a.cfg.SimilarityCeiling {
				slog.Warn("hallucination risk detected",
					slog.String("chunk_id", c.ChunkID),
					slog.Float64("similarity", c.VectorScore),
					slog.Float64("rerank", c.RerankScore))
				return LabelHallucinationRisk
			}
		}
		return LabelIrrelevant
	}
	return LabelPass
}

func aboveFloor(candidates []*search.RetrievalCandidate, floor float64) []*search.RetrievalCandidate {
	out := candidates[:0]
	for _, c := range candidates {
		if c.FusedScore >= floor {
			out = append(out, c)
		}
	}
	return out
}

// buildContext assembles the synthesis prompt: numbered cited passages
// first, connected notes clearly separated after.
func buildContext(query string, candidates []*search.RetrievalCandidate, linked []search.LinkedChunk) string {
	var b strings.Builder
	b.WriteString("Context passages:\n")

	for i, c := range candidates {
		fmt.Fprintf(&b, "\n[%d] %s", i+1, c.NotePath)
		if c.HeadingPath != "" {
			fmt.Fprintf(&b, " (%s)", c.HeadingPath)
		}
		if !c.NoteDate.IsZero() {
			fmt.Fprintf(&b, " dated %s", c.NoteDate.Format("2006-01-02"))
		}
		fmt.Fprintf(&b, "\n%s\n", c.Text)
	}

	if len(linked) > 0 {
		b.WriteString("\nConnected notes (background only, do not cite):\n")
		for _, l := range linked {
			fmt.Fprintf(&b, "\n- %s\n%s\n", l.Chunk.NotePath, snippet(l.Chunk.Text))
		}
	}

	fmt.Fprintf(&b, "\nQuestion: %s\n", query)
	return b.String()
}

// snippet trims chunk text for citation display.
func snippet(text string) string {
	const maxSnippet = 240

	text = strings.Join(strings.Fields(text), " ")
	if len(text) <= maxSnippet {
		return text
	}

	cut := strings.LastIndex(text[:maxSnippet], " ")
	if cut <= 0 {
		cut = maxSnippet
	}
	return text[:cut] + "..."
}

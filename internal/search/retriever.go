package search

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/brendenrossin/secondbrain/internal/embed"
	"github.com/brendenrossin/secondbrain/internal/store"
)

// Retrieval depth defaults.
const (
	DefaultLexicalK = 20
	DefaultVectorK  = 20
)

// Retriever runs the hybrid retrieval path: lexical and vector searches
// in parallel, fused into one ranked candidate list hydrated with chunk
// metadata.
type Retriever struct {
	lexical  *store.SQLiteStore
	vectors  *store.VectorStore
	provider embed.Provider
	fuser    *Fuser

	lexicalK int
	vectorK  int
}

// RetrieverConfig configures retrieval depth and fusion.
type RetrieverConfig struct {
	LexicalK    int
	VectorK     int
	RRFConstant int
}

// NewRetriever creates a hybrid retriever.
func NewRetriever(lexical *store.SQLiteStore, vectors *store.VectorStore, provider embed.Provider, cfg RetrieverConfig) *Retriever {
	if cfg.LexicalK <= 0 {
		cfg.LexicalK = DefaultLexicalK
	}
	if cfg.VectorK <= 0 {
		cfg.VectorK = DefaultVectorK
	}

	return &Retriever{
		lexical:  lexical,
		vectors:  vectors,
		provider: provider,
		fuser:    NewFuser(cfg.RRFConstant),
		lexicalK: cfg.LexicalK,
		vectorK:  cfg.VectorK,
	}
}

// Retrieve runs both searches concurrently and fuses the rankings.
// A failure of one arm degrades to the other arm's ranking alone;
// retrieval fails only when both arms fail.
func (r *Retriever) Retrieve(ctx context.Context, query string) ([]*RetrievalCandidate, error) {
	var (
		lexResults []store.LexicalResult
		vecResults []store.VectorResult
		lexErr     error
		vecErr     error
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		lexResults, lexErr = r.lexical.SearchLexical(gctx, query, r.lexicalK)
		return nil
	})

	g.Go(func() error {
		qvec, err := r.provider.EmbedQuery(gctx, query)
		if err != nil {
			vecErr = err
			return nil
		}
		vecResults, vecErr = r.vectors.Search(gctx, qvec, r.vectorK)
		return nil
	})

	_ = g.Wait()

	if lexErr != nil && vecErr != nil {
		return nil, lexErr
	}
	if lexErr != nil {
		slog.Warn("lexical search failed, using vector results only",
			slog.String("error", lexErr.Error()))
	}
	if vecErr != nil {
		slog.Warn("vector search failed, using lexical results only",
			slog.String("error", vecErr.Error()))
	}

	fused := r.fuser.Fuse(lexResults, vecResults)
	if err := r.hydrate(ctx, fused); err != nil {
		return nil, err
	}
	return fused, nil
}

// hydrate fills candidate metadata from the chunk content table.
func (r *Retriever) hydrate(ctx context.Context, candidates []*RetrievalCandidate) error {
	if len(candidates) == 0 {
		return nil
	}

	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.ChunkID
	}

	records, err := r.lexical.GetChunks(ctx, ids)
	if err != nil {
		return err
	}

	byID := make(map[string]store.ChunkRecord, len(records))
	for _, rec := range records {
		byID[rec.ChunkID] = rec
	}

	for _, c := range candidates {
		rec, ok := byID[c.ChunkID]
		if !ok {
			// Vector hit with no content row: the stores drifted. Leave
			// the candidate text empty; the consistency check surfaces
			// the drift on the next indexing run.
			slog.Warn("chunk missing from content table", slog.String("chunk_id", c.ChunkID))
			continue
		}
		c.NotePath = rec.NotePath
		c.NoteTitle = rec.NoteTitle
		c.HeadingPath = rec.HeadingPath
		c.Text = rec.Text
		c.Folder = rec.Folder
		c.NoteDate = rec.NoteDate
	}
	return nil
}

package index

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/brendenrossin/secondbrain/internal/chunk"
	"github.com/brendenrossin/secondbrain/internal/embed"
	"github.com/brendenrossin/secondbrain/internal/store"
	"github.com/brendenrossin/secondbrain/internal/vault"
)

// Report summarizes one indexing run.
type Report struct {
	Scanned   int
	Unchanged int
	Touched   int
	Indexed   int
	Deleted   int
	Skipped   int
	Chunks    int
	Duration  time.Duration
}

// Syncer drives incremental synchronization between the vault and both
// stores. It assumes the caller holds the writer lock.
type Syncer struct {
	connector *vault.Connector
	chunker   *chunk.Chunker
	provider  embed.Provider
	lexical   *store.SQLiteStore
	vectors   *store.VectorStore

	// vectorPath is where the vector store persists after a run.
	vectorPath string
}

// NewSyncer wires the sync engine.
func NewSyncer(connector *vault.Connector, chunker *chunk.Chunker, provider embed.Provider,
	lexical *store.SQLiteStore, vectors *store.VectorStore, vectorPath string) *Syncer {
	return &Syncer{
		connector:  connector,
		chunker:    chunker,
		provider:   provider,
		lexical:    lexical,
		vectors:    vectors,
		vectorPath: vectorPath,
	}
}

// Sync runs one incremental indexing pass.
//
// Classification per path, cheapest check first:
//   - stored mtime equal: unchanged, no read, no hash.
//   - mtime differs but content hash matches: touch, stored mtime
//     updated so the fast path works next run.
//   - hash differs or path untracked: reindex.
//   - tracked path absent from the scan: purge from both stores.
//
// An empty tracker classifies everything as new, so the first run is a
// full build with no special casing. Per-note store writes land before
// the tracker row (write-then-commit), so a crash mid-run re-indexes the
// note instead of stranding stale entries. The lexical shadow index is
// rebuilt once at the end, after all content mutations.
func (s *Syncer) Sync(ctx context.Context) (*Report, error) {
	start := time.Now()
	report := &Report{}

	files, err := s.connector.Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("vault scan failed: %w", err)
	}
	report.Scanned = len(files)

	tracked, err := s.lexical.AllIndexRecords(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load index records: %w", err)
	}

	current := make(map[string]bool, len(files))
	mutated := false

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		current[f.Path] = true

		rec, known := tracked[f.Path]
		if known && rec.MTime.Equal(f.MTime) {
			report.Unchanged++
			continue
		}

		note, err := s.connector.Load(f.Path)
		if err != nil {
			// Soft failure: skip the file, keep the run going.
			slog.Warn("skipping unreadable file",
				slog.String("path", f.Path),
				slog.String("error", err.Error()))
			report.Skipped++
			continue
		}

		if known && rec.ContentHash == note.ContentHash {
			if err := s.lexical.TouchIndexRecord(ctx, f.Path, f.MTime); err != nil {
				return nil, err
			}
			report.Touched++
			continue
		}

		n, err := s.indexNote(ctx, note)
		if err != nil {
			return nil, fmt.Errorf("failed to index %s: %w", f.Path, err)
		}

		if err := s.lexical.UpsertIndexRecord(ctx, store.IndexRecord{
			FilePath:      f.Path,
			ContentHash:   note.ContentHash,
			MTime:         f.MTime,
			LastIndexedAt: time.Now(),
		}); err != nil {
			return nil, err
		}

		report.Indexed++
		report.Chunks += n
		mutated = true
	}

	// Deterministic deletion order keeps runs reproducible in logs.
	var removed []string
	for path := range tracked {
		if !current[path] {
			removed = append(removed, path)
		}
	}
	sort.Strings(removed)

	for _, path := range removed {
		if err := s.deleteNote(ctx, path); err != nil {
			return nil, fmt.Errorf("failed to delete %s: %w", path, err)
		}
		report.Deleted++
		mutated = true
	}

	if mutated {
		if err := s.lexical.RebuildLexicalIndex(ctx); err != nil {
			return nil, err
		}
		if err := s.vectors.Save(s.vectorPath); err != nil {
			return nil, fmt.Errorf("failed to persist vector store: %w", err)
		}
		if err := s.recordIdentity(ctx); err != nil {
			return nil, err
		}
	}

	report.Duration = time.Since(start)
	slog.Info("sync complete",
		slog.Int("scanned", report.Scanned),
		slog.Int("unchanged", report.Unchanged),
		slog.Int("touched", report.Touched),
		slog.Int("indexed", report.Indexed),
		slog.Int("deleted", report.Deleted),
		slog.Int("skipped", report.Skipped),
		slog.Duration("duration", report.Duration))

	return report, nil
}

// Reset wipes both stores and the tracker so the next Sync performs a
// full build from the vault. Notes that vanished from the vault since
// the last run go with everything else; an incremental run can no
// longer see them once their tracker rows are gone.
func (s *Syncer) Reset(ctx context.Context) error {
	if err := s.lexical.ClearIndex(ctx); err != nil {
		return fmt.Errorf("failed to clear lexical store: %w", err)
	}
	s.vectors.Clear()
	return nil
}

// indexNote replaces a note's chunks in both stores. Returns the chunk
// count written.
func (s *Syncer) indexNote(ctx context.Context, note *vault.Note) (int, error) {
	chunks := s.chunker.Chunk(note)

	records := make([]store.ChunkRecord, len(chunks))
	texts := make([]string, len(chunks))
	ids := make([]string, len(chunks))
	noteIDs := make([]string, len(chunks))
	for i, c := range chunks {
		records[i] = store.ChunkRecord{
			ChunkID:     c.ID,
			NoteID:      c.NoteID,
			NotePath:    c.NotePath,
			NoteTitle:   c.NoteTitle,
			HeadingPath: c.HeadingPathString(),
			Text:        c.Text,
			Folder:      c.Folder,
			NoteDate:    c.Date,
		}
		texts[i] = c.Text
		ids[i] = c.ID
		noteIDs[i] = c.NoteID
	}

	vectors, err := s.provider.EmbedDocuments(ctx, texts)
	if err != nil {
		return 0, err
	}

	if err := s.lexical.ReplaceNoteChunks(ctx, note.ID, records); err != nil {
		return 0, err
	}

	// Full replacement on the vector side too: drop every old chunk of
	// the note, then add the current set.
	if err := s.vectors.DeleteNote(ctx, note.ID); err != nil {
		return 0, err
	}
	if err := s.vectors.Add(ctx, ids, noteIDs, vectors); err != nil {
		return 0, err
	}

	return len(chunks), nil
}

// deleteNote purges a vanished note from both stores and the tracker.
func (s *Syncer) deleteNote(ctx context.Context, path string) error {
	noteID := vault.NoteID(path)

	if err := s.lexical.DeleteNote(ctx, noteID); err != nil {
		return err
	}
	if err := s.vectors.DeleteNote(ctx, noteID); err != nil {
		return err
	}
	return s.lexical.DeleteIndexRecord(ctx, path)
}

// recordIdentity mirrors the vector store's embedding identity into the
// lexical store's state table so status checks need only one store.
func (s *Syncer) recordIdentity(ctx context.Context) error {
	id := s.vectors.Identity()
	if err := s.lexical.SetState(ctx, store.StateKeyEmbeddingProvider, id.Provider); err != nil {
		return err
	}
	if err := s.lexical.SetState(ctx, store.StateKeyEmbeddingModel, id.Model); err != nil {
		return err
	}
	return s.lexical.SetState(ctx, store.StateKeyEmbeddingDimensions, fmt.Sprintf("%d", id.Dimensions))
}

// CheckConsistency compares chunk IDs between the two stores and
// returns the IDs present in exactly one. Both slices empty means the
// stores agree.
func (s *Syncer) CheckConsistency(ctx context.Context) (lexicalOnly, vectorOnly []string, err error) {
	lexIDs, err := s.lexical.AllChunkIDs(ctx)
	if err != nil {
		return nil, nil, err
	}

	vecSet := make(map[string]bool)
	for _, id := range s.vectors.AllIDs() {
		vecSet[id] = true
	}

	lexSet := make(map[string]bool, len(lexIDs))
	for _, id := range lexIDs {
		lexSet[id] = true
		if !vecSet[id] {
			lexicalOnly = append(lexicalOnly, id)
		}
	}
	for id := range vecSet {
		if !lexSet[id] {
			vectorOnly = append(vectorOnly, id)
		}
	}

	sort.Strings(lexicalOnly)
	sort.Strings(vectorOnly)
	return lexicalOnly, vectorOnly, nil
}

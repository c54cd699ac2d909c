package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	apperrors "github.com/brendenrossin/secondbrain/internal/errors"
)

// SQLiteStore holds the chunk content table, its FTS5 shadow index, the
// index tracker table, and a small key-value state table in one database
// file.
//
// The FTS5 table is an external-content table over `chunks` with NO
// triggers. Replace-style writes through triggers corrupt FTS shadow
// structures when the content is externally sourced, so synchronization
// is explicit: all content mutations for an indexing run complete first,
// then RebuildLexicalIndex regenerates the shadow in one atomic command.
type SQLiteStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	closed bool
}

// corruptionMarkers identify corruption-class SQLite errors. The
// response is always reconnect-and-rebuild, never in-place repair.
var corruptionMarkers = []string{
	"database disk image is malformed",
	"malformed database schema",
	"fts5: corrupt",
	"database corruption",
}

// NewSQLiteStore opens (or creates) the store at path. An empty path
// creates an in-memory store for testing.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	s := &SQLiteStore{path: path}
	if err := s.connect(); err != nil {
		return nil, err
	}
	return s, nil
}

// connect opens the database and applies schema and pragmas.
func (s *SQLiteStore) connect() error {
	dsn := ":memory:"
	if s.path != "" {
		if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
			return fmt.Errorf("failed to create store directory: %w", err)
		}
		dsn = s.path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// Single connection: SQLite locking works per connection, and the
	// indexing path is single-writer by design.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// WAL keeps readers unblocked during indexing runs; busy_timeout is
	// the bounded wait on lock contention.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	s.db = db
	s.closed = false
	return nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS chunks (
		chunk_id     TEXT PRIMARY KEY,
		note_id      TEXT NOT NULL,
		note_path    TEXT NOT NULL,
		note_title   TEXT NOT NULL DEFAULT '',
		heading_path TEXT NOT NULL DEFAULT '',
		text         TEXT NOT NULL,
		folder       TEXT NOT NULL DEFAULT '',
		note_date    TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_note_id ON chunks(note_id);

	-- External-content FTS5 shadow over chunks. No triggers: the shadow
	-- is regenerated explicitly after each indexing run.
	CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(
		text,
		content='chunks',
		content_rowid='rowid',
		tokenize='unicode61 remove_diacritics 2'
	);

	CREATE TABLE IF NOT EXISTS index_records (
		file_path       TEXT PRIMARY KEY,
		content_hash    TEXT NOT NULL,
		mtime           TEXT NOT NULL,
		last_indexed_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS state (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	INSERT OR IGNORE INTO state (key, value) VALUES ('schema_version', '1');
	`
	_, err := db.Exec(schema)
	return err
}

// isCorruption reports whether an error is corruption-class.
func isCorruption(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range corruptionMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// reconnect closes and reopens the database from disk, then rebuilds
// the FTS shadow from the content table. Used on corruption-class
// errors; a reconnect must re-open from a known-good state rather than
// attempt in-place repair.
func (s *SQLiteStore) reconnect(ctx context.Context) error {
	slog.Warn("reconnecting lexical store after corruption-class error",
		slog.String("path", s.path))

	if s.db != nil {
		_ = s.db.Close()
	}
	if err := s.connect(); err != nil {
		return apperrors.StoreCorruption("reconnect failed", err)
	}
	if _, err := s.db.ExecContext(ctx, `INSERT INTO chunks_fts(chunks_fts) VALUES('rebuild')`); err != nil {
		return apperrors.StoreCorruption("post-reconnect rebuild failed", err)
	}
	return nil
}

// exec runs fn, and on a corruption-class error reconnects once and
// retries.
func (s *SQLiteStore) exec(ctx context.Context, fn func() error) error {
	err := fn()
	if !isCorruption(err) {
		return err
	}

	if rerr := s.reconnect(ctx); rerr != nil {
		return rerr
	}
	if err := fn(); err != nil {
		if isCorruption(err) {
			return apperrors.StoreCorruption("store still corrupt after reconnect", err)
		}
		return err
	}
	return nil
}

// ReplaceNoteChunks replaces all chunks of a note in the content table:
// delete-then-reinsert, never patching, so edits can never strand stale
// sibling chunks. The FTS shadow is NOT touched here.
func (s *SQLiteStore) ReplaceNoteChunks(ctx context.Context, noteID string, chunks []ChunkRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	return s.exec(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE note_id = ?`, noteID); err != nil {
			return fmt.Errorf("failed to delete note chunks: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO chunks (chunk_id, note_id, note_path, note_title, heading_path, text, folder, note_date)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare insert: %w", err)
		}
		defer stmt.Close()

		for _, c := range chunks {
			_, err := stmt.ExecContext(ctx, c.ChunkID, c.NoteID, c.NotePath, c.NoteTitle,
				c.HeadingPath, c.Text, c.Folder, c.NoteDate.Format(time.RFC3339))
			if err != nil {
				return fmt.Errorf("failed to insert chunk %s: %w", c.ChunkID, err)
			}
		}

		return tx.Commit()
	})
}

// DeleteNote removes all chunks of a note from the content table.
func (s *SQLiteStore) DeleteNote(ctx context.Context, noteID string) error {
	return s.ReplaceNoteChunks(ctx, noteID, nil)
}

// ClearIndex wipes the content table and the tracker, then regenerates
// the empty FTS shadow. Full rebuilds go through here; an incremental
// run can only purge notes the tracker still knows about, so a rebuild
// must not depend on tracker state to find stale content.
func (s *SQLiteStore) ClearIndex(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	return s.exec(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, `DELETE FROM chunks`); err != nil {
			return fmt.Errorf("failed to clear chunks: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM index_records`); err != nil {
			return fmt.Errorf("failed to clear index records: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}

		if _, err := s.db.ExecContext(ctx, `INSERT INTO chunks_fts(chunks_fts) VALUES('rebuild')`); err != nil {
			return fmt.Errorf("failed to rebuild lexical index: %w", err)
		}
		return nil
	})
}

// RebuildLexicalIndex regenerates the FTS5 shadow structures from the
// content table in one atomic command. Called exactly once per indexing
// run, after all content mutations have committed.
func (s *SQLiteStore) RebuildLexicalIndex(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	return s.exec(ctx, func() error {
		if _, err := s.db.ExecContext(ctx, `INSERT INTO chunks_fts(chunks_fts) VALUES('rebuild')`); err != nil {
			return fmt.Errorf("failed to rebuild lexical index: %w", err)
		}
		return nil
	})
}

// SearchLexical runs a ranked full-text query over chunk content.
// Query text is sanitized into quoted OR-ed tokens so user punctuation
// can never produce FTS5 syntax errors.
func (s *SQLiteStore) SearchLexical(ctx context.Context, query string, limit int) ([]LexicalResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}
	if limit <= 0 {
		limit = 20
	}

	match := sanitizeMatchQuery(query)
	if match == "" {
		return []LexicalResult{}, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT c.chunk_id, bm25(chunks_fts) AS score
		FROM chunks_fts
		JOIN chunks c ON c.rowid = chunks_fts.rowid
		WHERE chunks_fts MATCH ?
		ORDER BY score
		LIMIT ?`, match, limit)
	if err != nil {
		if strings.Contains(err.Error(), "fts5:") || strings.Contains(err.Error(), "syntax error") {
			return []LexicalResult{}, nil
		}
		return nil, fmt.Errorf("lexical search failed: %w", err)
	}
	defer rows.Close()

	var results []LexicalResult
	for rows.Next() {
		var r LexicalResult
		if err := rows.Scan(&r.ChunkID, &r.Score); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		// FTS5 bm25() is negative where lower is better; negate so
		// higher is better.
		r.Score = -r.Score
		results = append(results, r)
	}

	return results, rows.Err()
}

// sanitizeMatchQuery turns free text into a safe FTS5 MATCH expression:
// each token double-quoted, joined with OR.
func sanitizeMatchQuery(query string) string {
	fields := strings.FieldsFunc(query, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r > 127)
	})

	var tokens []string
	for _, f := range fields {
		if len(f) < 2 {
			continue
		}
		tokens = append(tokens, `"`+f+`"`)
	}
	return strings.Join(tokens, " OR ")
}

// GetChunks fetches chunk records by ID, preserving the input order.
func (s *SQLiteStore) GetChunks(ctx context.Context, ids []string) ([]ChunkRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT chunk_id, note_id, note_path, note_title, heading_path, text, folder, note_date
		FROM chunks WHERE chunk_id IN (%s)`, strings.Join(placeholders, ",")), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch chunks: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]ChunkRecord, len(ids))
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		byID[c.ChunkID] = c
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]ChunkRecord, 0, len(ids))
	for _, id := range ids {
		if c, ok := byID[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

// FirstChunkOfNote resolves a cross-note reference to that note's first
// chunk. The reference is matched case-insensitively against note title
// and path (with or without the .md extension).
func (s *SQLiteStore) FirstChunkOfNote(ctx context.Context, ref string) (*ChunkRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, nil
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT chunk_id, note_id, note_path, note_title, heading_path, text, folder, note_date
		FROM chunks
		WHERE lower(note_title) = lower(?)
		   OR lower(note_path) = lower(?)
		   OR lower(note_path) = lower(?)
		ORDER BY note_path, rowid
		LIMIT 1`, ref, ref, ref+".md")

	c, err := scanChunk(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

// AllChunkIDs returns every chunk ID in the content table, sorted.
// Used for consistency checks between stores.
func (s *SQLiteStore) AllChunkIDs(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	rows, err := s.db.QueryContext(ctx, `SELECT chunk_id FROM chunks ORDER BY chunk_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunk IDs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ChunkCount returns the number of chunks in the content table.
func (s *SQLiteStore) ChunkCount(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, fmt.Errorf("store is closed")
	}

	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&n)
	return n, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChunk(row rowScanner) (ChunkRecord, error) {
	var c ChunkRecord
	var date string
	if err := row.Scan(&c.ChunkID, &c.NoteID, &c.NotePath, &c.NoteTitle,
		&c.HeadingPath, &c.Text, &c.Folder, &date); err != nil {
		return c, err
	}
	if t, err := time.Parse(time.RFC3339, date); err == nil {
		c.NoteDate = t
	}
	return c, nil
}

// --- Index tracker ---

// AllIndexRecords loads the tracker table keyed by file path.
func (s *SQLiteStore) AllIndexRecords(ctx context.Context) (map[string]IndexRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT file_path, content_hash, mtime, last_indexed_at FROM index_records`)
	if err != nil {
		return nil, fmt.Errorf("failed to query index records: %w", err)
	}
	defer rows.Close()

	records := make(map[string]IndexRecord)
	for rows.Next() {
		var r IndexRecord
		var mtime, indexed string
		if err := rows.Scan(&r.FilePath, &r.ContentHash, &mtime, &indexed); err != nil {
			return nil, err
		}
		if t, err := time.Parse(time.RFC3339Nano, mtime); err == nil {
			r.MTime = t
		}
		if t, err := time.Parse(time.RFC3339Nano, indexed); err == nil {
			r.LastIndexedAt = t
		}
		records[r.FilePath] = r
	}
	return records, rows.Err()
}

// UpsertIndexRecord writes a tracker row. Called only after both stores'
// writes for the note have succeeded (write-then-commit ordering).
func (s *SQLiteStore) UpsertIndexRecord(ctx context.Context, r IndexRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	return s.exec(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO index_records (file_path, content_hash, mtime, last_indexed_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(file_path) DO UPDATE SET
				content_hash = excluded.content_hash,
				mtime = excluded.mtime,
				last_indexed_at = excluded.last_indexed_at`,
			r.FilePath, r.ContentHash,
			r.MTime.Format(time.RFC3339Nano),
			r.LastIndexedAt.Format(time.RFC3339Nano))
		if err != nil {
			return fmt.Errorf("failed to upsert index record: %w", err)
		}
		return nil
	})
}

// TouchIndexRecord updates only the stored mtime of a tracker row.
// Used when a file's mtime changed but its content hash did not.
func (s *SQLiteStore) TouchIndexRecord(ctx context.Context, filePath string, mtime time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	return s.exec(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`UPDATE index_records SET mtime = ? WHERE file_path = ?`,
			mtime.Format(time.RFC3339Nano), filePath)
		if err != nil {
			return fmt.Errorf("failed to touch index record: %w", err)
		}
		return nil
	})
}

// DeleteIndexRecord removes a tracker row.
func (s *SQLiteStore) DeleteIndexRecord(ctx context.Context, filePath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	return s.exec(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM index_records WHERE file_path = ?`, filePath)
		if err != nil {
			return fmt.Errorf("failed to delete index record: %w", err)
		}
		return nil
	})
}

// --- State ---

// GetState reads a value from the state table. Missing keys return "".
func (s *SQLiteStore) GetState(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return "", fmt.Errorf("store is closed")
	}

	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// SetState writes a value to the state table.
func (s *SQLiteStore) SetState(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

// Checkpoint forces a WAL checkpoint for durability.
func (s *SQLiteStore) Checkpoint() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	_, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return err
}

// Close checkpoints and closes the store. Idempotent.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	if s.db != nil {
		_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
		return s.db.Close()
	}
	return nil
}

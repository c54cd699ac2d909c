// Package index implements the incremental sync engine: single-writer
// lock acquisition, change classification against the index tracker,
// dual-store writes, and the post-run lexical rebuild.
package index

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	apperrors "github.com/brendenrossin/secondbrain/internal/errors"
)

// DefaultLockStaleAfter is how long a writer's lock survives without
// the process before it is reclaimed.
const DefaultLockStaleAfter = 10 * time.Minute

// lockInfo is the JSON sidecar written next to the lock file. The flock
// itself serializes live processes; the sidecar lets a later writer
// reclaim a lock whose holder crashed.
type lockInfo struct {
	PID        int       `json:"pid"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// WriterLock is the advisory single-writer indexing lock.
type WriterLock struct {
	fl         *flock.Flock
	infoPath   string
	staleAfter time.Duration
}

// NewWriterLock creates a lock rooted in the data directory.
func NewWriterLock(dataDir string, staleAfter time.Duration) *WriterLock {
	if staleAfter <= 0 {
		staleAfter = DefaultLockStaleAfter
	}
	lockPath := filepath.Join(dataDir, "index.lock")
	return &WriterLock{
		fl:         flock.New(lockPath),
		infoPath:   lockPath + ".info",
		staleAfter: staleAfter,
	}
}

// Acquire takes the writer lock without blocking. A held lock whose
// sidecar is stale is reclaimed: the crashed holder cannot release it,
// and waiting forever would wedge indexing permanently. A live holder
// produces a LockContention error, which is retryable.
func (l *WriterLock) Acquire() error {
	if err := os.MkdirAll(filepath.Dir(l.infoPath), 0o755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	locked, err := l.fl.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	if locked {
		return l.writeInfo()
	}

	info, err := l.readInfo()
	if err == nil && time.Since(info.AcquiredAt) > l.staleAfter {
		slog.Warn("reclaiming stale indexing lock",
			slog.Int("holder_pid", info.PID),
			slog.Time("acquired_at", info.AcquiredAt))

		// The holder is presumed dead. The OS releases a flock when its
		// process exits, so a blocking retry resolves immediately if so.
		locked, err := l.fl.TryLock()
		if err != nil {
			return fmt.Errorf("failed to reclaim stale lock: %w", err)
		}
		if locked {
			return l.writeInfo()
		}
	}

	holder := 0
	if info != nil {
		holder = info.PID
	}
	return apperrors.LockContention(
		fmt.Sprintf("another indexing process holds the lock (pid %d)", holder), nil)
}

// Release drops the lock and removes the sidecar. Idempotent.
func (l *WriterLock) Release() error {
	_ = os.Remove(l.infoPath)
	return l.fl.Unlock()
}

func (l *WriterLock) writeInfo() error {
	info := lockInfo{PID: os.Getpid(), AcquiredAt: time.Now()}
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to marshal lock info: %w", err)
	}
	if err := os.WriteFile(l.infoPath, data, 0o644); err != nil {
		_ = l.fl.Unlock()
		return fmt.Errorf("failed to write lock info: %w", err)
	}
	return nil
}

func (l *WriterLock) readInfo() (*lockInfo, error) {
	data, err := os.ReadFile(l.infoPath)
	if err != nil {
		return nil, err
	}
	var info lockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

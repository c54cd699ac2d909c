// Package vault enumerates and parses Markdown notes in a vault directory.
// It is the single source of file identity: every content hash compared
// anywhere in the indexing pipeline comes from HashContent over raw file
// bytes.
package vault

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// FileStat is the cheap identity of a vault file, collected during a scan
// without reading the file body.
type FileStat struct {
	// Path is the vault-relative path, always forward-slashed.
	Path string

	// MTime is the file modification time.
	MTime time.Time

	// Size is the file size in bytes.
	Size int64
}

// Note is a fully loaded vault note.
type Note struct {
	// ID is a stable hash of the vault-relative path.
	ID string

	// Path is the vault-relative path.
	Path string

	// Title comes from frontmatter, the first H1, or the file name.
	Title string

	// Frontmatter holds the parsed YAML header, nil when absent.
	Frontmatter map[string]any

	// Body is the Markdown body with the frontmatter block stripped.
	Body string

	// ContentHash is HashContent over the raw file bytes, frontmatter
	// included. Staleness comparisons must use this exact digest.
	ContentHash string

	// MTime is the file modification time.
	MTime time.Time

	// Folder is the vault-relative directory of the note.
	Folder string

	// Date is the note date from frontmatter, falling back to MTime.
	Date time.Time
}

// HashContent returns the hex-encoded SHA-256 digest of raw file bytes.
// This is the only content-hash function in the repository; the index
// tracker and the connector both compare digests produced here, so the
// byte range can never drift between components.
func HashContent(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// NoteID derives the stable note identifier from a vault-relative path.
func NoteID(relPath string) string {
	h := sha256.Sum256([]byte(relPath))
	return hex.EncodeToString(h[:])[:16]
}

package vault

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeNote(t *testing.T, root, rel, content string) {
	t.Helper()
	abs := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
}

func TestScanFindsMarkdownOnly(t *testing.T) {
	root := t.TempDir()
	writeNote(t, root, "a.md", "# A")
	writeNote(t, root, "sub/b.markdown", "# B")
	writeNote(t, root, "sub/c.txt", "not indexed")
	writeNote(t, root, "image.png", "binary-ish")

	c, err := NewConnector(root, nil)
	require.NoError(t, err)

	stats, err := c.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, stats, 2)
	assert.Equal(t, "a.md", stats[0].Path)
	assert.Equal(t, "sub/b.markdown", stats[1].Path)
}

func TestScanHonorsExcludes(t *testing.T) {
	root := t.TempDir()
	writeNote(t, root, "keep.md", "# Keep")
	writeNote(t, root, "inbox/raw/capture.md", "raw capture")
	writeNote(t, root, "daily/agg.generated.md", "machine output")

	c, err := NewConnector(root, []string{"inbox/raw/**", "**/*.generated.md"})
	require.NoError(t, err)

	stats, err := c.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, "keep.md", stats[0].Path)
}

func TestScanSkipsHiddenDirectories(t *testing.T) {
	root := t.TempDir()
	writeNote(t, root, "note.md", "# Note")
	writeNote(t, root, ".secondbrain/internal.md", "index state")
	writeNote(t, root, ".obsidian/workspace.md", "editor state")

	c, err := NewConnector(root, nil)
	require.NoError(t, err)

	stats, err := c.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, "note.md", stats[0].Path)
}

func TestScanSortedAndStable(t *testing.T) {
	root := t.TempDir()
	writeNote(t, root, "z.md", "z")
	writeNote(t, root, "a.md", "a")
	writeNote(t, root, "m/n.md", "n")

	c, err := NewConnector(root, nil)
	require.NoError(t, err)

	first, err := c.Scan(context.Background())
	require.NoError(t, err)
	second, err := c.Scan(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, "a.md", first[0].Path)
	assert.Equal(t, "z.md", first[2].Path)
}

func TestLoadHashesRawBytes(t *testing.T) {
	root := t.TempDir()
	content := "---\ntitle: Budget\n---\n\n# Budget\n\nNumbers.\n"
	writeNote(t, root, "budget.md", content)

	c, err := NewConnector(root, nil)
	require.NoError(t, err)

	note, err := c.Load("budget.md")
	require.NoError(t, err)

	// The hash covers raw bytes, frontmatter included, and equals the
	// one exported hashing function applied to the same bytes.
	sum := sha256.Sum256([]byte(content))
	assert.Equal(t, hex.EncodeToString(sum[:]), note.ContentHash)
	assert.Equal(t, HashContent([]byte(content)), note.ContentHash)
}

func TestLoadParsesFrontmatter(t *testing.T) {
	root := t.TempDir()
	writeNote(t, root, "trip.md", "---\ntitle: Kyoto Trip\ndate: 2025-04-02\ntags: [travel]\n---\n\nItinerary details.\n")

	c, err := NewConnector(root, nil)
	require.NoError(t, err)

	note, err := c.Load("trip.md")
	require.NoError(t, err)

	assert.Equal(t, "Kyoto Trip", note.Title)
	assert.True(t, note.Date.Equal(time.Date(2025, 4, 2, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, "Itinerary details.\n", note.Body)
	assert.Equal(t, "", note.Folder)
}

func TestLoadInvalidFrontmatterFallsBack(t *testing.T) {
	root := t.TempDir()
	writeNote(t, root, "broken.md", "---\n:[bad yaml\n---\n\n# Broken Note\n\nBody.\n")

	c, err := NewConnector(root, nil)
	require.NoError(t, err)

	note, err := c.Load("broken.md")
	require.NoError(t, err)

	// Malformed frontmatter is treated as body text rather than
	// failing the load.
	assert.Equal(t, "Broken Note", note.Title)
	assert.Contains(t, note.Body, "Body.")
}

func TestLoadTitleFallsBackToFilename(t *testing.T) {
	root := t.TempDir()
	writeNote(t, root, "meeting-notes.md", "just text, no heading\n")

	c, err := NewConnector(root, nil)
	require.NoError(t, err)

	note, err := c.Load("meeting-notes.md")
	require.NoError(t, err)
	assert.Equal(t, "meeting-notes", note.Title)
}

func TestLoadMissingFileIsTransient(t *testing.T) {
	root := t.TempDir()
	c, err := NewConnector(root, nil)
	require.NoError(t, err)

	_, err = c.Load("gone.md")
	require.Error(t, err)
}

func TestNoteIDStable(t *testing.T) {
	assert.Equal(t, NoteID("projects/garden.md"), NoteID("projects/garden.md"))
	assert.NotEqual(t, NoteID("projects/garden.md"), NoteID("projects/garden2.md"))
	assert.Len(t, NoteID("a.md"), 16)
}

func TestConnectorRejectsMissingRoot(t *testing.T) {
	_, err := NewConnector(filepath.Join(t.TempDir(), "nope"), nil)
	require.Error(t, err)
}

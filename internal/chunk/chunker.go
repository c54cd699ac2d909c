// Package chunk splits note bodies into heading-scoped chunks with
// deterministic, content-addressed identities.
package chunk

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"time"

	"github.com/brendenrossin/secondbrain/internal/vault"
)

// Defaults for chunk sizing.
const (
	DefaultTargetChars  = 2000
	DefaultOverlapChars = 200
)

// HeadingPathSeparator joins ancestor headings into a single string for
// hashing and display.
const HeadingPathSeparator = " > "

// Chunk is a retrievable unit of note content.
type Chunk struct {
	// ID is sha256(note_id, heading path, normalized text), truncated.
	// It deliberately contains no positional component: inserting an
	// unrelated section earlier in a note must not churn sibling IDs.
	ID string

	// NoteID is the owning note's stable identifier.
	NoteID string

	// NotePath is the vault-relative path of the owning note.
	NotePath string

	// NoteTitle is the owning note's title.
	NoteTitle string

	// HeadingPath is the ordered list of ancestor headings.
	HeadingPath []string

	// Text is the chunk content, heading line included.
	Text string

	// Folder is the owning note's vault-relative directory.
	Folder string

	// Date is the owning note's date.
	Date time.Time
}

// HeadingPathString returns the heading path joined for display/storage.
func (c *Chunk) HeadingPathString() string {
	return strings.Join(c.HeadingPath, HeadingPathSeparator)
}

// Options configures the chunker.
type Options struct {
	TargetChars  int
	OverlapChars int
}

// Chunker performs heading-scoped Markdown chunking.
type Chunker struct {
	targetChars  int
	overlapChars int
}

var headingPattern = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)

// New creates a chunker, applying defaults for zero options.
func New(opts Options) *Chunker {
	if opts.TargetChars <= 0 {
		opts.TargetChars = DefaultTargetChars
	}
	if opts.OverlapChars < 0 || opts.OverlapChars >= opts.TargetChars {
		opts.OverlapChars = DefaultOverlapChars
	}
	return &Chunker{
		targetChars:  opts.TargetChars,
		overlapChars: opts.OverlapChars,
	}
}

// Chunk splits a note body along heading boundaries. Oversized sections
// are split at paragraph boundaries near the target size with overlap,
// never inside a fenced code block or table.
func (c *Chunker) Chunk(note *vault.Note) []Chunk {
	if strings.TrimSpace(note.Body) == "" {
		return nil
	}

	var chunks []Chunk
	for _, sec := range parseSections(note.Body) {
		if strings.TrimSpace(sec.content) == "" {
			continue
		}

		for _, text := range c.splitSection(sec.content) {
			chunks = append(chunks, c.build(note, sec.headingPath, text))
		}
	}

	return chunks
}

// build assembles a chunk and computes its content-addressed ID.
func (c *Chunker) build(note *vault.Note, headingPath []string, text string) Chunk {
	return Chunk{
		ID:          ID(note.ID, headingPath, text),
		NoteID:      note.ID,
		NotePath:    note.Path,
		NoteTitle:   note.Title,
		HeadingPath: headingPath,
		Text:        strings.TrimRight(text, "\n "),
		Folder:      note.Folder,
		Date:        note.Date,
	}
}

// ID computes the deterministic chunk identity from note ID, heading
// path, and normalized chunk text. Editing one chunk never changes the
// ID of any sibling.
func ID(noteID string, headingPath []string, text string) string {
	h := sha256.New()
	h.Write([]byte(noteID))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(headingPath, HeadingPathSeparator)))
	h.Write([]byte{0})
	h.Write([]byte(NormalizeText(text)))
	return hex.EncodeToString(h.Sum(nil))[:16]
}

var (
	spaceRuns   = regexp.MustCompile(`[ \t]+`)
	newlineRuns = regexp.MustCompile(`\n{3,}`)
)

// NormalizeText collapses cosmetic whitespace runs before hashing so
// formatting-only edits do not churn chunk IDs.
func NormalizeText(text string) string {
	text = spaceRuns.ReplaceAllString(text, " ")
	text = newlineRuns.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// section is a heading-scoped slice of the note body.
type section struct {
	headingPath []string
	content     string
}

// parseSections walks the body line by line maintaining a heading stack.
// Heading lines inside fenced code blocks are content, not structure.
func parseSections(body string) []section {
	lines := strings.Split(body, "\n")

	var sections []section
	stack := make([]string, 6)
	depth := 0
	inFence := false

	var sb strings.Builder
	flush := func() {
		if sb.Len() == 0 {
			return
		}
		// Level jumps (# straight to ###) leave empty slots in the
		// stack; the heading path carries only real headings.
		path := make([]string, 0, depth)
		for _, h := range stack[:depth] {
			if h != "" {
				path = append(path, h)
			}
		}
		sections = append(sections, section{headingPath: path, content: sb.String()})
		sb.Reset()
	}

	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inFence = !inFence
		}

		if !inFence {
			if m := headingPattern.FindStringSubmatch(line); m != nil {
				flush()

				level := len(m[1])
				title := strings.TrimSpace(m[2])
				stack[level-1] = title
				for i := level; i < 6; i++ {
					stack[i] = ""
				}
				depth = level

				sb.WriteString(line)
				sb.WriteString("\n")
				continue
			}
		}

		sb.WriteString(line)
		sb.WriteString("\n")
	}
	flush()

	return sections
}

// splitSection returns the section whole when it fits, otherwise splits
// it at paragraph boundaries with overlap. Fenced code blocks and tables
// are atomic units and are never divided.
func (c *Chunker) splitSection(content string) []string {
	content = strings.TrimRight(content, "\n")
	if len(content) <= c.targetChars {
		return []string{content}
	}

	paragraphs := atomicParagraphs(content)

	var parts []string
	var cur strings.Builder

	for _, para := range paragraphs {
		if cur.Len() > 0 && cur.Len()+len(para)+2 > c.targetChars {
			part := cur.String()
			parts = append(parts, part)
			cur.Reset()

			// Seed the next chunk with trailing context from the
			// previous one.
			if c.overlapChars > 0 {
				cur.WriteString(tailOnBoundary(part, c.overlapChars))
				cur.WriteString("\n\n")
			}
		}

		if cur.Len() > 0 {
			cur.WriteString("\n\n")
		}
		cur.WriteString(para)
	}

	if cur.Len() > 0 {
		parts = append(parts, cur.String())
	}

	return parts
}

// atomicParagraphs splits content on blank lines, then re-merges pieces
// belonging to one fenced code block or table so they stay whole.
func atomicParagraphs(content string) []string {
	raw := strings.Split(content, "\n\n")

	var paragraphs []string
	inFence := false
	var fence strings.Builder

	for _, part := range raw {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}

		if inFence {
			fence.WriteString("\n\n")
			fence.WriteString(trimmed)
			if strings.Count(trimmed, "```")%2 == 1 {
				paragraphs = append(paragraphs, fence.String())
				fence.Reset()
				inFence = false
			}
			continue
		}

		if strings.Count(trimmed, "```")%2 == 1 {
			inFence = true
			fence.WriteString(trimmed)
			continue
		}

		paragraphs = append(paragraphs, trimmed)
	}

	if inFence {
		paragraphs = append(paragraphs, fence.String())
	}

	return paragraphs
}

// tailOnBoundary returns up to n trailing characters of s, snapped
// forward to the next line boundary so overlap never starts mid-line.
func tailOnBoundary(s string, n int) string {
	if len(s) <= n {
		return s
	}
	tail := s[len(s)-n:]
	if idx := strings.IndexByte(tail, '\n'); idx >= 0 && idx+1 < len(tail) {
		return tail[idx+1:]
	}
	return tail
}

package vault

import (
	"bytes"
	"path"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var h1Pattern = regexp.MustCompile(`(?m)^#\s+(.+)$`)

// splitFrontmatter separates YAML frontmatter (between leading ---
// delimiters) from the Markdown body. If no frontmatter is found the
// entire content is body. Invalid YAML falls back to body-only rather
// than failing the note.
func splitFrontmatter(data []byte) (map[string]any, string) {
	const delim = "---"
	trimmed := bytes.TrimLeft(data, "\n\r")

	if !bytes.HasPrefix(trimmed, []byte(delim)) {
		return nil, string(data)
	}

	rest := trimmed[len(delim):]
	idx := bytes.Index(rest, []byte("\n"+delim))
	if idx < 0 {
		return nil, string(data)
	}

	yamlBlock := rest[:idx]
	afterDelim := rest[idx+1+len(delim):]
	body := strings.TrimLeft(string(afterDelim), "\n\r")

	var fm map[string]any
	if err := yaml.Unmarshal(yamlBlock, &fm); err != nil {
		return nil, string(data)
	}

	return fm, body
}

// deriveTitle picks the note title: frontmatter title, first H1, then
// file name without extension.
func deriveTitle(fm map[string]any, body, relPath string) string {
	if fm != nil {
		if t, ok := fm["title"].(string); ok && strings.TrimSpace(t) != "" {
			return strings.TrimSpace(t)
		}
	}
	if m := h1Pattern.FindStringSubmatch(body); m != nil {
		return strings.TrimSpace(m[1])
	}
	base := path.Base(relPath)
	return strings.TrimSuffix(base, path.Ext(base))
}

// deriveDate picks the note date from frontmatter, falling back to mtime.
// Accepts time.Time values (yaml dates) and common string layouts.
func deriveDate(fm map[string]any, mtime time.Time) time.Time {
	if fm == nil {
		return mtime
	}
	v, ok := fm["date"]
	if !ok {
		return mtime
	}

	switch d := v.(type) {
	case time.Time:
		return d
	case string:
		for _, layout := range []string{"2006-01-02", time.RFC3339, "2006-01-02 15:04"} {
			if t, err := time.Parse(layout, d); err == nil {
				return t
			}
		}
	}
	return mtime
}

package vault

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	apperrors "github.com/brendenrossin/secondbrain/internal/errors"
)

// Connector enumerates Markdown files under a vault root, honoring an
// exclude-pattern list so noise never enters the index.
type Connector struct {
	root     string
	excludes []*regexp.Regexp
}

// NewConnector creates a connector for the given vault root.
// Exclude patterns are glob-style, relative to the root; `**` matches
// across path separators. Invalid patterns are rejected up front.
func NewConnector(root string, excludes []string) (*Connector, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve vault root: %w", err)
	}

	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, apperrors.New(apperrors.ErrCodeVaultNotFound,
			fmt.Sprintf("vault root %s not accessible", absRoot), err)
	}
	if !info.IsDir() {
		return nil, apperrors.New(apperrors.ErrCodeVaultNotFound,
			fmt.Sprintf("vault root %s is not a directory", absRoot), nil)
	}

	c := &Connector{root: absRoot}
	for _, pat := range excludes {
		re, err := compileGlob(pat)
		if err != nil {
			return nil, fmt.Errorf("invalid exclude pattern %q: %w", pat, err)
		}
		c.excludes = append(c.excludes, re)
	}

	return c, nil
}

// Root returns the absolute vault root.
func (c *Connector) Root() string {
	return c.root
}

// Scan walks the vault and returns identity stats for every indexable
// Markdown file. Unreadable entries are logged and skipped; a scan never
// aborts on a single bad file.
func (c *Connector) Scan(ctx context.Context) ([]FileStat, error) {
	var stats []FileStat

	err := filepath.WalkDir(c.root, func(p string, d fs.DirEntry, walkErr error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if walkErr != nil {
			slog.Warn("skipping unreadable vault entry",
				slog.String("path", p),
				slog.String("error", walkErr.Error()))
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(c.root, p)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			// Index state and hidden directories never enter the scan.
			if rel != "." && (strings.HasPrefix(d.Name(), ".") || c.excluded(rel+"/")) {
				return filepath.SkipDir
			}
			return nil
		}

		if !isMarkdown(rel) || c.excluded(rel) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			slog.Warn("skipping unstatable vault file",
				slog.String("path", rel),
				slog.String("error", err.Error()))
			return nil
		}

		stats = append(stats, FileStat{
			Path:  rel,
			MTime: info.ModTime(),
			Size:  info.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("vault scan failed: %w", err)
	}

	sort.Slice(stats, func(i, j int) bool { return stats[i].Path < stats[j].Path })
	return stats, nil
}

// Load reads and parses a single note. The content hash is computed over
// the raw bytes before any frontmatter handling.
func (c *Connector) Load(relPath string) (*Note, error) {
	abs := filepath.Join(c.root, filepath.FromSlash(relPath))

	info, err := os.Stat(abs)
	if err != nil {
		return nil, apperrors.TransientIO(fmt.Sprintf("cannot stat %s", relPath), err)
	}

	raw, err := os.ReadFile(abs)
	if err != nil {
		return nil, apperrors.TransientIO(fmt.Sprintf("cannot read %s", relPath), err)
	}

	fm, body := splitFrontmatter(raw)

	folder := filepath.ToSlash(filepath.Dir(relPath))
	if folder == "." {
		folder = ""
	}

	return &Note{
		ID:          NoteID(relPath),
		Path:        relPath,
		Title:       deriveTitle(fm, body, relPath),
		Frontmatter: fm,
		Body:        body,
		ContentHash: HashContent(raw),
		MTime:       info.ModTime(),
		Folder:      folder,
		Date:        deriveDate(fm, info.ModTime()),
	}, nil
}

// excluded reports whether a vault-relative path matches any exclude
// pattern.
func (c *Connector) excluded(rel string) bool {
	for _, re := range c.excludes {
		if re.MatchString(rel) {
			return true
		}
	}
	return false
}

func isMarkdown(rel string) bool {
	switch strings.ToLower(filepath.Ext(rel)) {
	case ".md", ".markdown":
		return true
	}
	return false
}

// compileGlob translates a glob pattern into a regexp. `**` crosses path
// separators, `*` and `?` do not.
func compileGlob(pattern string) (*regexp.Regexp, error) {
	var sb strings.Builder
	sb.WriteString("^")

	i := 0
	for i < len(pattern) {
		ch := pattern[i]
		switch ch {
		case '*':
			if i+1 < len(pattern) && pattern[i+1] == '*' {
				// `**/` also matches zero directories.
				if i+2 < len(pattern) && pattern[i+2] == '/' {
					sb.WriteString(`(?:.*/)?`)
					i += 3
				} else {
					sb.WriteString(`.*`)
					i += 2
				}
			} else {
				sb.WriteString(`[^/]*`)
				i++
			}
		case '?':
			sb.WriteString(`[^/]`)
			i++
		default:
			sb.WriteString(regexp.QuoteMeta(string(ch)))
			i++
		}
	}

	sb.WriteString("$")
	return regexp.Compile(sb.String())
}

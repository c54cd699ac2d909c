package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/brendenrossin/secondbrain/internal/search"
)

type searchOptions struct {
	limit   int
	format  string // "text", "json"
	byNote  bool
	rawText bool
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the vault without answering",
		Long: `Run hybrid retrieval over the vault and print the fused ranking.

Lexical and vector searches run independently and are combined with
Reciprocal Rank Fusion. No LLM call is made.

Examples:
  secondbrain search "garden redesign"
  secondbrain search "tax deadline" --limit 5 --format json
  secondbrain search "reading list" --by-note`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd.Context(), strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 10, "Maximum number of results")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")
	cmd.Flags().BoolVar(&opts.byNote, "by-note", false, "Collapse to the best chunk per note")
	cmd.Flags().BoolVar(&opts.rawText, "text", false, "Print full chunk text instead of a snippet")

	return cmd
}

func runSearch(ctx context.Context, query string, opts searchOptions) error {
	app, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	candidates, err := app.newRetriever().Retrieve(ctx, query)
	if err != nil {
		return err
	}

	if opts.byNote {
		candidates = search.BestPerNote(candidates)
	}
	if opts.limit > 0 && len(candidates) > opts.limit {
		candidates = candidates[:opts.limit]
	}

	if opts.format == "json" {
		return json.NewEncoder(os.Stdout).Encode(candidates)
	}

	if len(candidates) == 0 {
		fmt.Println("no results")
		return nil
	}

	for i, c := range candidates {
		fmt.Printf("%2d. %s", i+1, c.NotePath)
		if c.HeadingPath != "" {
			fmt.Printf("  (%s)", c.HeadingPath)
		}
		fmt.Printf("\n    fused=%.4f lex#%d vec#%d\n", c.FusedScore, c.LexicalRank, c.VectorRank)
		if opts.rawText {
			fmt.Printf("    %s\n", strings.ReplaceAll(c.Text, "\n", "\n    "))
		} else {
			fmt.Printf("    %s\n", firstLine(c.Text))
		}
	}
	return nil
}

func firstLine(text string) string {
	text = strings.TrimSpace(text)
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = text[:i]
	}
	if len(text) > 120 {
		text = text[:120] + "..."
	}
	return text
}

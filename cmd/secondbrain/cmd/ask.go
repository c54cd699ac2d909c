package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/brendenrossin/secondbrain/internal/answer"
	"github.com/brendenrossin/secondbrain/internal/search"
)

func newAskCmd() *cobra.Command {
	var stream bool
	var conversationID string

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a question from the vault with citations",
		Long: `Retrieve relevant chunks, rerank them, and synthesize a grounded
answer citing specific notes.

The pipeline degrades gracefully: if reranking fails the fused order is
used; only a synthesis failure is a hard error.

Examples:
  secondbrain ask "what did I decide about the garden redesign?"
  secondbrain ask --stream "summarize my notes on sourdough"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(cmd.Context(), strings.Join(args, " "), conversationID, stream)
		},
	}

	cmd.Flags().BoolVar(&stream, "stream", false, "Stream the answer as it is generated")
	cmd.Flags().StringVar(&conversationID, "conversation", "", "Continue an existing conversation by ID")

	return cmd
}

func runAsk(ctx context.Context, question, conversationID string, stream bool) error {
	// Ctrl-C cancels synthesis cleanly mid-stream.
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	app, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	client, err := app.newChatClient()
	if err != nil {
		return err
	}

	answerer := answer.New(
		app.newRetriever(),
		search.NewLinkExpander(app.lexical, app.cfg.Retrieval.MaxLinked),
		search.NewReranker(client, app.cfg.Retrieval.RerankTimeout),
		client,
		answer.Config{
			ContextChunks:     app.cfg.Answer.ContextChunks,
			FusedScoreFloor:   app.cfg.Answer.FusedScoreFloor,
			RerankFloor:       app.cfg.Answer.RerankFloor,
			SimilarityCeiling: app.cfg.Answer.SimilarityCeiling,
		})

	if stream {
		return runAskStream(ctx, answerer, question, conversationID)
	}

	result, err := answerer.Answer(ctx, question, conversationID)
	if err != nil {
		return err
	}

	fmt.Println(result.Answer)
	printCitations(result.Citations)
	printLabel(result.Label)
	return nil
}

func runAskStream(ctx context.Context, answerer *answer.Answerer, question, conversationID string) error {
	var citations []answer.Citation

	for ev := range answerer.AnswerStream(ctx, question, conversationID) {
		switch ev.Type {
		case answer.EventCitations:
			citations = ev.Citations
		case answer.EventToken:
			fmt.Print(ev.Token)
		case answer.EventDone:
			fmt.Println()
			if ev.Err != nil {
				return ev.Err
			}
			printCitations(citations)
			printLabel(ev.Label)
		}
	}
	return ctx.Err()
}

func printCitations(citations []answer.Citation) {
	if len(citations) == 0 {
		return
	}
	fmt.Println("\nSources:")
	for i, c := range citations {
		fmt.Printf("  [%d] %s", i+1, c.NotePath)
		if c.HeadingPath != "" {
			fmt.Printf(" (%s)", c.HeadingPath)
		}
		fmt.Println()
	}
}

func printLabel(label string) {
	if label == answer.LabelPass {
		return
	}
	fmt.Fprintf(os.Stderr, "\nretrieval quality: %s\n", label)
}

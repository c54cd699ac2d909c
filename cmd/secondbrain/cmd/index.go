package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func newIndexCmd() *cobra.Command {
	var rebuild bool
	var check bool

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Synchronize the index with the vault",
		Long: `Scan the vault and bring both indexes up to date.

Only changed notes are re-chunked and re-embedded; untouched notes are
skipped via mtime and content-hash checks. Deleted notes are purged.

Use --rebuild to discard both indexes and the tracker state and build
everything from scratch (required after switching embedding providers).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runIndex(cmd.Context(), rebuild, check)
		},
	}

	cmd.Flags().BoolVar(&rebuild, "rebuild", false, "Discard the index and rebuild everything from scratch")
	cmd.Flags().BoolVar(&check, "check", false, "Verify store consistency after syncing")

	return cmd
}

func runIndex(ctx context.Context, rebuild, check bool) error {
	app, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	lock, err := app.lock()
	if err != nil {
		return err
	}
	defer func() { _ = lock.Release() }()

	syncer := app.newSyncer()

	if rebuild {
		if err := syncer.Reset(ctx); err != nil {
			return err
		}
	}

	report, err := syncer.Sync(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("scanned %d notes: %d indexed (%d chunks), %d unchanged, %d touched, %d deleted, %d skipped in %s\n",
		report.Scanned, report.Indexed, report.Chunks, report.Unchanged,
		report.Touched, report.Deleted, report.Skipped,
		report.Duration.Round(time.Millisecond))

	if check {
		lexOnly, vecOnly, err := syncer.CheckConsistency(ctx)
		if err != nil {
			return err
		}
		if len(lexOnly) == 0 && len(vecOnly) == 0 {
			fmt.Println("consistency check passed: stores agree")
		} else {
			fmt.Fprintf(os.Stderr, "consistency check FAILED: %d chunks lexical-only, %d vector-only\n",
				len(lexOnly), len(vecOnly))
			return fmt.Errorf("stores are inconsistent, run 'secondbrain index --rebuild'")
		}
	}

	return nil
}

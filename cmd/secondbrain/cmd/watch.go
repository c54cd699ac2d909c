package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/brendenrossin/secondbrain/internal/watch"
)

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep the index synchronized while you edit",
		Long: `Run an initial sync, then watch the vault and re-sync on changes.

The indexing writer lock is held for the whole session, so other
indexing processes will report busy until this one exits.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWatch(cmd.Context())
		},
	}
	return cmd
}

func runWatch(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

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
	report, err := syncer.Sync(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("initial sync: %d indexed, %d deleted, %d unchanged\n",
		report.Indexed, report.Deleted, report.Unchanged)
	fmt.Println("watching for changes (ctrl-c to stop)")

	w := watch.New(app.cfg.Vault.Root, syncer, 0)
	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Package cmd provides the CLI commands for SecondBrain.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/brendenrossin/secondbrain/internal/config"
	"github.com/brendenrossin/secondbrain/internal/logging"
	"github.com/brendenrossin/secondbrain/pkg/version"
)

var (
	vaultRoot      string
	debugMode      bool
	loggingCleanup func()
)

// NewRootCmd creates the root command for the secondbrain CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secondbrain",
		Short: "Index and question a Markdown note vault",
		Long: `SecondBrain maintains a hybrid search index over a folder of
Markdown notes and answers natural-language questions against it with
cited evidence.

Point it at a vault, run 'secondbrain index', then ask away:

  secondbrain index --vault ~/notes
  secondbrain ask "what did I decide about the garden redesign?"`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.SetVersionTemplate("secondbrain version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&vaultRoot, "vault", ".", "Path to the note vault")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")

	cmd.PersistentPreRunE = setupLogging
	cmd.PersistentPostRun = func(_ *cobra.Command, _ []string) {
		if loggingCleanup != nil {
			loggingCleanup()
		}
	}

	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newAskCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

func setupLogging(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(vaultRoot)
	if err != nil {
		// Logging setup must not block commands that diagnose a broken
		// config; fall back to stderr-only defaults.
		logCfg := logging.DefaultConfig(os.TempDir())
		logCfg.WriteToStderr = true
		cleanup, serr := logging.SetupDefault(logCfg)
		if serr != nil {
			return fmt.Errorf("failed to set up logging: %w", serr)
		}
		loggingCleanup = cleanup
		return nil
	}

	logCfg := logging.DefaultConfig(cfg.Vault.DataDir)
	logCfg.Level = cfg.Logging.Level
	if debugMode {
		logCfg.Level = "debug"
		logCfg.WriteToStderr = true
	}

	cleanup, err := logging.SetupDefault(logCfg)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	loggingCleanup = cleanup
	return nil
}

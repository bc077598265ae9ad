// Package commands wires the forge CLI: one file per subcommand, shared
// run plumbing in run.go, and shared environment resolution in setup.go.
package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bootforge/bootforge/pkg/engine"
)

// Global flags shared by every subcommand.
var (
	dataDir    string
	verbose    bool
	jsonOutput bool
	noColor    bool
)

// Build metadata handed down from main via ldflags.
var (
	buildVersion = "dev"
	buildCommit  = "unknown"
	buildDate    = "unknown"
)

// Execute runs the root command. Every error it returns is classified so
// main can map it to an exit code; whatever cobra itself rejects, like an
// unknown subcommand, counts as bad arguments.
func Execute(ctx context.Context, version, commit, date string) error {
	rootCmd := newRootCommand(version, commit, date)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		var e *engine.EngineError
		if !errors.As(err, &e) {
			return engine.NewValidationError(err.Error(), nil).WithCode(engine.ErrCodeBadArguments)
		}
		return err
	}
	return nil
}

func newRootCommand(version, commit, date string) *cobra.Command {
	buildVersion, buildCommit, buildDate = version, commit, date

	rootCmd := &cobra.Command{
		Use:   "forge",
		Short: "Idempotent workstation bootstrap for macOS",
		Long: `forge provisions a research workstation from a declarative profile:
the Miniforge conda toolchain, Homebrew terminal packages, R
configuration files, and shell initialization.

Every run walks the same lifecycle: detect what is already present,
confirm, snapshot mutable files, execute only the missing steps, then
re-probe to verify the outcome. Re-running a converged workflow changes
nothing.

State lives under ~/.bootforge (override with --data-dir or
$BOOTFORGE_HOME): per-workflow logs, pre-mutation backups, the run
history database, and per-run event journals.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return engine.NewValidationError(err.Error(), nil).WithCode(engine.ErrCodeBadArguments)
	})

	// Global flags
	rootCmd.PersistentFlags().StringVarP(&dataDir, "data-dir", "d", "", "data directory (default $BOOTFORGE_HOME or ~/.bootforge)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "machine-readable output on stdout")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	// Add subcommands
	rootCmd.AddCommand(
		newInstallCommand(),
		newUninstallCommand(),
		newSyncCommand(),
		newStatusCommand(),
		newHistoryCommand(),
		newBackupsCommand(),
		newValidateCommand(),
		newPolicyCommand(),
		newVersionCommand(),
	)

	return rootCmd
}

package commands

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/bootforge/bootforge/pkg/engine"
	"github.com/bootforge/bootforge/pkg/eventstream"
	"github.com/bootforge/bootforge/pkg/stores"
	"github.com/bootforge/bootforge/pkg/telemetry"
)

var historyLimit int

// newHistoryCommand creates the history command with its subcommands
func newHistoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect past runs",
		Long: `History reads the run store. Every real run is recorded with its
state transitions, step results, verification outcome, and event
journal; dry runs leave no history.`,
	}

	cmd.AddCommand(
		newHistoryListCommand(),
		newHistoryShowCommand(),
	)

	return cmd
}

// newHistoryListCommand creates the history list command
func newHistoryListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded runs, newest first",
		Example: `  # The last twenty runs
  forge history list

  # Only the most recent run, machine-readable
  forge history list --limit 1 --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistoryList(cmd.Context())
		},
	}

	cmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum number of runs to show")

	return cmd
}

// newHistoryShowCommand creates the history show command
func newHistoryShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one run in full: steps, verification, and events",
		Args:  cobra.ExactArgs(1),
		Example: `  # Replay a failed install
  forge history show 2f9c41d8-77e3-4be1-9f1c-8a4f4c2d8a10`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistoryShow(cmd.Context(), args[0])
		},
	}
}

func runHistoryList(ctx context.Context) error {
	dataRoot, err := resolveDataDir()
	if err != nil {
		return err
	}
	store, err := openStoreIfExists(ctx, dataRoot)
	if err != nil {
		return err
	}
	if store == nil {
		fmt.Println("No runs recorded yet.")
		return nil
	}
	defer store.Close()

	runs, err := store.ListRuns(ctx, historyLimit, 0)
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(struct {
			Runs []*stores.Run `json:"runs"`
		}{runs})
	}

	if len(runs) == 0 {
		fmt.Println("No runs recorded yet.")
		return nil
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tRUN ID\tWORKFLOW\tMODE\tSTATE\tEXIT\tSTEPS\tDURATION")
	for _, run := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%d/%d/%d\t%s\n",
			run.StartedAt.Local().Format("2006-01-02 15:04:05"),
			shortID(run.ID),
			run.Workflow,
			modeLabel(run.DryRun),
			run.State,
			exitLabel(run.ExitCode),
			run.StepsRun, run.StepsSkipped, run.StepsFailed,
			run.Duration.Round(10*time.Millisecond),
		)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Println("\nSteps are run/skipped/failed. Use forge history show <run-id> for details.")
	return nil
}

func runHistoryShow(ctx context.Context, runID string) error {
	dataRoot, err := resolveDataDir()
	if err != nil {
		return err
	}
	store, err := openStoreIfExists(ctx, dataRoot)
	if err != nil {
		return err
	}
	if store == nil {
		return engine.NewStorageError("run not found: "+runID, nil).
			WithCode(engine.ErrCodeNotFound)
	}
	defer store.Close()

	run, err := store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	steps, err := store.ListSteps(ctx, runID)
	if err != nil {
		return err
	}

	// Dry runs and runs from before journaling have no journal file.
	events, err := eventstream.ReadFile(eventstream.JournalPath(journalsDir(dataRoot), runID))
	if err != nil {
		e := engine.AsEngineError(err, engine.ErrorClassStorage)
		if e == nil || e.Code != engine.ErrCodeNotFound {
			return err
		}
		events = nil
	}

	if jsonOutput {
		return printJSON(struct {
			Run    *stores.Run          `json:"run"`
			Steps  []*stores.StepRecord `json:"steps"`
			Events []telemetry.Event    `json:"events,omitempty"`
		}{run, steps, events})
	}

	fmt.Printf("Run:          %s\n", run.ID)
	fmt.Printf("Workflow:     %s (%s)\n", run.Workflow, modeLabel(run.DryRun))
	fmt.Printf("State:        %s\n", run.State)
	fmt.Printf("Exit code:    %s\n", exitLabel(run.ExitCode))
	fmt.Printf("Started:      %s\n", run.StartedAt.Local().Format("2006-01-02 15:04:05"))
	fmt.Printf("Duration:     %s\n", run.Duration.Round(10*time.Millisecond))
	fmt.Printf("Steps:        %d run, %d skipped, %d failed\n", run.StepsRun, run.StepsSkipped, run.StepsFailed)
	if run.BackupRoot != nil {
		fmt.Printf("Backup:       %s\n", *run.BackupRoot)
	}
	if run.VerificationPass != nil {
		issues := 0
		if run.VerificationIssues != nil {
			issues = *run.VerificationIssues
		}
		fmt.Printf("Verification: %s (%d issue(s))\n", passLabel(*run.VerificationPass), issues)
	}
	if run.FailureCode != nil {
		msg := ""
		if run.FailureMessage != nil {
			msg = *run.FailureMessage
		}
		fmt.Printf("Failure:      %s: %s\n", *run.FailureCode, msg)
	}
	if run.LogPath != nil {
		fmt.Printf("Log:          %s\n", *run.LogPath)
	}

	if len(steps) > 0 {
		fmt.Println()
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "SEQ\tSTEP\tOUTCOME\tATTEMPTS\tDURATION\tDETAIL")
		for _, s := range steps {
			detail := ""
			if s.Reason != nil {
				detail = *s.Reason
			}
			if s.ErrorMessage != nil {
				detail = *s.ErrorMessage
			}
			fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\t%s\n",
				s.Seq, s.Name, s.Outcome, s.Attempts,
				s.Duration.Round(10*time.Millisecond), detail)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	if len(events) > 0 {
		fmt.Printf("\nEvents (%d):\n", len(events))
		for _, ev := range events {
			fmt.Printf("  %s  %-22s %s\n",
				ev.Timestamp.Local().Format("15:04:05.000"), ev.Type, ev.Message)
		}
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func modeLabel(dryRun bool) string {
	if dryRun {
		return "dry-run"
	}
	return "real"
}

func exitLabel(code *int) string {
	if code == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *code)
}

func passLabel(pass bool) string {
	if pass {
		return "pass"
	}
	return "fail"
}

package commands

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/bootforge/bootforge/pkg/stores"
)

var backupsLimit int

// newBackupsCommand creates the backups command
func newBackupsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backups",
		Short: "List pre-mutation snapshots",
		Long: `Backups lists the snapshots taken before mutating runs, newest first.
Each entry names the snapshot directory under the data root; restoring
is a manual copy from there.`,
		Example: `  # Snapshots from recent runs
  forge backups

  # Machine-readable, including per-file entries
  forge backups --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackups(cmd.Context())
		},
	}

	cmd.Flags().IntVar(&backupsLimit, "limit", 20, "maximum number of backups to show")

	return cmd
}

func runBackups(ctx context.Context) error {
	dataRoot, err := resolveDataDir()
	if err != nil {
		return err
	}
	store, err := openStoreIfExists(ctx, dataRoot)
	if err != nil {
		return err
	}
	if store == nil {
		fmt.Println("No backups recorded yet.")
		return nil
	}
	defer store.Close()

	backups, err := store.ListBackups(ctx, backupsLimit, 0)
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(struct {
			Backups []*stores.BackupRecord `json:"backups"`
		}{backups})
	}

	if len(backups) == 0 {
		fmt.Println("No backups recorded yet.")
		return nil
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CREATED\tRUN ID\tCOPIED\tSKIPPED\tFAILED\tROOT")
	for _, b := range backups {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%s\n",
			b.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			shortID(b.RunID),
			b.Copied, b.Skipped, b.Failed,
			b.Root,
		)
	}
	return tw.Flush()
}

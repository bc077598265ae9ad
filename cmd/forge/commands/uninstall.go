package commands

import (
	"github.com/spf13/cobra"

	"github.com/bootforge/bootforge/pkg/engine"
	"github.com/bootforge/bootforge/pkg/workflow"
)

var (
	uninstallDryRun     bool
	uninstallForce      bool
	uninstallKeepCache  bool
	uninstallKeepConfig bool
	uninstallNoBackup   bool
	uninstallProfile    string
)

// newUninstallCommand creates the uninstall command
func newUninstallCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "uninstall",
		Short: "Remove the conda toolchain and undo shell integration",
		Long: `Uninstall removes what install put in place:

- Deletes the conda install directory
- Removes the conda package cache (keep it with --keep-cache)
- Removes conda defaults and synced configuration files (keep them
  with --keep-config)
- Strips the managed block from the shell startup file

A confirmation prompt lists what will be deleted; mutable files are
snapshotted first unless --no-backup is set. Homebrew packages are left
alone.`,
		Example: `  # See what uninstall would remove
  forge uninstall --dry-run

  # Remove the toolchain but keep the package cache and configs
  forge uninstall --keep-cache --keep-config`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return executeRun(cmd.Context(), workflowRun{
				name:        "uninstall",
				profilePath: uninstallProfile,
				config: engine.RunConfiguration{
					DryRun:     uninstallDryRun,
					Force:      uninstallForce,
					KeepCache:  uninstallKeepCache,
					KeepConfig: uninstallKeepConfig,
					NoBackup:   uninstallNoBackup,
				},
				build: workflow.Uninstall,
			})
		},
	}

	cmd.Flags().BoolVar(&uninstallDryRun, "dry-run", false, "preview the run without changing anything")
	cmd.Flags().BoolVar(&uninstallForce, "force", false, "skip confirmation prompts")
	cmd.Flags().BoolVar(&uninstallKeepCache, "keep-cache", false, "keep the conda package cache")
	cmd.Flags().BoolVar(&uninstallKeepConfig, "keep-config", false, "keep conda defaults and synced configuration files")
	cmd.Flags().BoolVar(&uninstallNoBackup, "no-backup", false, "skip the pre-mutation snapshot")
	cmd.Flags().StringVarP(&uninstallProfile, "profile", "p", "", "profile file the machine was installed from")

	return cmd
}

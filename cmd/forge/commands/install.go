package commands

import (
	"github.com/spf13/cobra"

	"github.com/bootforge/bootforge/pkg/engine"
	"github.com/bootforge/bootforge/pkg/workflow"
)

var (
	installDryRun        bool
	installForce         bool
	installPath          string
	installNoBackup      bool
	installKeepInstaller bool
	installNoInit        bool
	installProfile       string
)

// newInstallCommand creates the install command
func newInstallCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "install",
		Short: "Install the conda toolchain, packages, and shell integration",
		Long: `Install provisions the workstation from a profile:

- Downloads and runs the Miniforge installer when conda is absent
- Writes conda defaults with the profile's channels
- Installs the profile's Homebrew formulae
- Adds conda initialization to the login shell startup file

Detection runs first and steps whose outcome is already in place are
skipped, so re-running a converged install changes nothing.`,
		Example: `  # Preview what a first install would do
  forge install --dry-run

  # Install using the embedded workstation profile
  forge install

  # Install from a team profile without prompting
  forge install --profile team.cue --force`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return executeRun(cmd.Context(), workflowRun{
				name:        "install",
				profilePath: installProfile,
				config: engine.RunConfiguration{
					DryRun:        installDryRun,
					Force:         installForce,
					InstallPath:   installPath,
					NoBackup:      installNoBackup,
					KeepInstaller: installKeepInstaller,
					NoInit:        installNoInit,
				},
				build: workflow.Install,
			})
		},
	}

	cmd.Flags().BoolVar(&installDryRun, "dry-run", false, "preview the run without changing anything")
	cmd.Flags().BoolVar(&installForce, "force", false, "skip confirmation prompts")
	cmd.Flags().StringVar(&installPath, "install-path", "", "conda install directory (default from profile)")
	cmd.Flags().BoolVar(&installNoBackup, "no-backup", false, "skip the pre-mutation snapshot")
	cmd.Flags().BoolVar(&installKeepInstaller, "keep-installer", false, "keep the downloaded installer script")
	cmd.Flags().BoolVar(&installNoInit, "no-init", false, "skip shell startup initialization")
	cmd.Flags().StringVarP(&installProfile, "profile", "p", "", "profile file (.cue, .yaml, .star); default is the embedded profile")

	return cmd
}

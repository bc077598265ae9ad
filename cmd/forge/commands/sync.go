package commands

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/bootforge/bootforge/pkg/engine"
	"github.com/bootforge/bootforge/pkg/workflow"
)

var (
	syncDryRun          bool
	syncForce           bool
	syncNoBackup        bool
	syncProfile         string
	syncDest            string
	syncRemote          string
	syncIdentity        string
	syncInsecureHostKey bool
)

// newSyncCommand creates the sync command
func newSyncCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Sync the profile's configuration files into place",
		Long: `Sync copies the profile's R configuration files to their destinations,
either into the local home directory or onto a remote host over SSH.

Sources resolve relative to the profile file's directory, so sync needs
an on-disk profile. Files whose checksum already matches are skipped; a
confirmation prompt appears when existing files would be overwritten.`,
		Example: `  # Sync configs from a profile into the local home directory
  forge sync --profile team.cue

  # Mirror the same configs onto a lab host
  forge sync --profile team.cue --remote alice@lab-01

  # Preview a sync against a remote host
  forge sync --profile team.cue --remote alice@lab-01:2222 --dry-run`,
		RunE: func(cmd *cobra.Command, args []string) error {
			abs, err := filepath.Abs(syncProfile)
			if err != nil {
				return engine.NewValidationError("cannot resolve profile path", err).
					WithCode(engine.ErrCodeBadArguments)
			}
			return executeRun(cmd.Context(), workflowRun{
				name:        "sync",
				profilePath: syncProfile,
				config: engine.RunConfiguration{
					DryRun:     syncDryRun,
					Force:      syncForce,
					NoBackup:   syncNoBackup,
					SyncSource: filepath.Dir(abs),
					SyncDest:   syncDest,
				},
				remote: &remoteOptions{
					endpoint:        syncRemote,
					identityFile:    syncIdentity,
					insecureHostKey: syncInsecureHostKey,
				},
				build: workflow.Sync,
			})
		},
	}

	cmd.Flags().BoolVar(&syncDryRun, "dry-run", false, "preview the run without changing anything")
	cmd.Flags().BoolVar(&syncForce, "force", false, "skip confirmation prompts")
	cmd.Flags().BoolVar(&syncNoBackup, "no-backup", false, "skip the pre-mutation snapshot")
	cmd.Flags().StringVarP(&syncProfile, "profile", "p", "", "profile file whose configs to sync (required)")
	cmd.Flags().StringVar(&syncDest, "dest", "", "destination directory (default the home directory)")
	cmd.Flags().StringVar(&syncRemote, "remote", "", "remote endpoint as user@host[:port]")
	cmd.Flags().StringVarP(&syncIdentity, "identity", "i", "", "SSH private key file")
	cmd.Flags().BoolVar(&syncInsecureHostKey, "insecure-host-key", false, "skip remote host key verification")
	cmd.MarkFlagRequired("profile")

	return cmd
}

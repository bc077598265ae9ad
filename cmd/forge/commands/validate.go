package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bootforge/bootforge/pkg/profile"
)

// newValidateCommand creates the validate command
func newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <profile>",
		Short: "Validate a profile file without running anything",
		Long: `Validate parses the profile, applies schema defaults, and runs the
same validation the workflows use. Problems are listed with their
source position where the format provides one.`,
		Args: cobra.ExactArgs(1),
		Example: `  # Check a CUE profile
  forge validate team.cue

  # Check a YAML profile
  forge validate team.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd.Context(), args[0])
		},
	}
}

func runValidate(ctx context.Context, path string) error {
	tel, err := newTelemetry("", "")
	if err != nil {
		return err
	}
	defer tel.Shutdown(context.Background())

	loader, err := profile.NewLoader(tel.Logger)
	if err != nil {
		return err
	}

	prof, err := loader.Load(ctx, path)
	if err != nil {
		if issues := profile.ProfileIssues(err); len(issues) > 0 {
			fmt.Printf("Profile %s is invalid:\n", path)
			for _, issue := range issues {
				fmt.Printf("  - %s\n", issue)
			}
		}
		return err
	}

	if jsonOutput {
		return printJSON(struct {
			Valid   bool             `json:"valid"`
			Profile *profile.Profile `json:"profile"`
		}{true, prof})
	}

	fmt.Printf("Profile %s is valid.\n\n", prof.Name)
	fmt.Printf("  conda:     %s -> %s\n", prof.Conda.Version, prof.Conda.InstallPath)
	fmt.Printf("  channels:  %s\n", strings.Join(prof.Conda.Channels, ", "))
	fmt.Printf("  formulae:  %s\n", strings.Join(prof.Brew.Formulae, ", "))
	fmt.Printf("  r configs: %d file(s)\n", len(prof.RConfigs))
	return nil
}

package commands

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/bootforge/bootforge/pkg/engine"
	"github.com/bootforge/bootforge/pkg/profile"
	"github.com/bootforge/bootforge/pkg/workflow"
)

var statusProfile string

// statusTarget is one row of status output.
type statusTarget struct {
	Target   string `json:"target"`
	Kind     string `json:"kind"`
	Path     string `json:"path"`
	Presence string `json:"presence"`
	Version  string `json:"version,omitempty"`
	Detail   string `json:"detail,omitempty"`
	LastRun  string `json:"last_run,omitempty"`
	Drifted  bool   `json:"drifted,omitempty"`
}

// newStatusCommand creates the status command
func newStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show what is installed and what has drifted",
		Long: `Status probes every target the profile's workflows manage: the conda
binary and install directory, conda defaults, the shell startup file,
Homebrew, and synced configuration files.

When a run store exists, each target's current presence is compared
with what the last verified run observed and differences are flagged
as drift. Status never mutates anything.`,
		Example: `  # Probe the machine against the embedded profile
  forge status

  # Probe against a team profile, machine-readable
  forge status --profile team.cue --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context())
		},
	}

	cmd.Flags().StringVarP(&statusProfile, "profile", "p", "", "profile file (.cue, .yaml, .star); default is the embedded profile")

	return cmd
}

func runStatus(ctx context.Context) error {
	dataRoot, err := resolveDataDir()
	if err != nil {
		return err
	}
	tel, err := newTelemetry("", dataRoot)
	if err != nil {
		return err
	}
	defer tel.Shutdown(context.Background())
	log := tel.Logger

	loader, err := profile.NewLoader(log)
	if err != nil {
		return err
	}
	prof, err := loadProfile(ctx, loader, statusProfile)
	if err != nil {
		return err
	}

	var cfg engine.RunConfiguration
	cfg.DataDir = dataRoot
	if err := detectEnvironment(&cfg); err != nil {
		return err
	}

	targets := workflow.StatusTargets(prof, cfg)
	detections := engine.NewLocalProber(log).DetectAll(ctx, targets)

	lastSeen := map[string]string{}
	if store, err := openStoreIfExists(ctx, dataRoot); err != nil {
		log.Warnf("Run store unavailable: %v", err)
	} else if store != nil {
		defer store.Close()
		states, err := store.ListTargetStates(ctx)
		if err != nil {
			log.Warnf("Could not read target states: %v", err)
		}
		for _, s := range states {
			lastSeen[s.Target] = s.Presence
		}
	}

	rows := make([]statusTarget, 0, len(detections))
	for _, det := range detections {
		row := statusTarget{
			Target:   det.Target.Name,
			Kind:     string(det.Target.Kind),
			Path:     det.Target.Path,
			Presence: string(det.Presence),
			Version:  det.Version,
			Detail:   det.Detail,
		}
		if last, ok := lastSeen[det.Target.Name]; ok {
			row.LastRun = last
			row.Drifted = last != row.Presence
		}
		rows = append(rows, row)
	}

	if jsonOutput {
		return printJSON(struct {
			Profile string         `json:"profile"`
			Targets []statusTarget `json:"targets"`
		}{prof.Name, rows})
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TARGET\tKIND\tPRESENCE\tVERSION\tLAST RUN\tPATH")
	drifted := 0
	for _, row := range rows {
		version := row.Version
		if version == "" {
			version = "-"
		}
		last := row.LastRun
		if last == "" {
			last = "-"
		}
		if row.Drifted {
			last += "*"
			drifted++
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", row.Target, row.Kind, row.Presence, version, last, row.Path)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if drifted > 0 {
		fmt.Printf("\n* %d target(s) changed since the last verified run\n", drifted)
	}
	return nil
}

package workflow

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/bootforge/bootforge/pkg/engine"
	"github.com/bootforge/bootforge/pkg/profile"
	"github.com/bootforge/bootforge/pkg/sysops"
)

// Sync builds the sync workflow: it places the profile's R configuration
// files into the home directory, or mirrors them onto a remote host when
// the run names one. Sources resolve against the configured sync source
// directory, destinations against the home directory unless overridden.
func Sync(p *profile.Profile, cfg engine.RunConfiguration, deps Deps) (*engine.Workflow, error) {
	deps = deps.normalized()
	if deps.Log == nil {
		return nil, engine.NewValidationError("workflow logger is required", nil)
	}
	if len(p.RConfigs) == 0 {
		return nil, engine.NewValidationError("profile lists no configuration files to sync", nil).
			WithCode(engine.ErrCodeBadArguments)
	}
	if cfg.SyncSource == "" {
		return nil, engine.NewValidationError("sync source directory is required", nil).
			WithCode(engine.ErrCodeBadArguments)
	}
	remote := cfg.Remote != ""
	if remote && deps.Uploader == nil {
		return nil, engine.NewValidationError("remote sync requires a connected transport", nil)
	}

	l := resolveLayout(p, cfg)

	var (
		steps   []engine.Step
		targets []engine.Target
		sources []string
		dests   []string
	)
	for _, m := range p.RConfigs {
		src := filepath.Join(cfg.SyncSource, m.Source)
		var dest string
		if remote {
			// Relative remote paths resolve against the remote home.
			dest = path.Join(cfg.SyncDest, m.Dest)
		} else {
			base := cfg.SyncDest
			if base == "" {
				base = l.home
			}
			dest = filepath.Join(base, m.Dest)
		}

		targets = append(targets, engine.Target{
			Name: configTargetName(m.Dest),
			Kind: engine.KindFile,
			Path: dest,
		})
		sources = append(sources, src)
		dests = append(dests, dest)

		if remote {
			steps = append(steps, uploadStep(deps, m, src, dest, cfg.Remote))
		} else {
			steps = append(steps, copyStep(m, src, dest))
		}
	}

	return &engine.Workflow{
		Name:        "sync",
		Description: "Sync the profile's configuration files into place",
		Targets:     targets,
		Preflight: func(*engine.RunContext) error {
			if err := platformCheck(deps.GOOS); err != nil {
				return err
			}
			for _, src := range sources {
				if _, err := os.Stat(src); err != nil {
					return engine.NewValidationError("sync source "+src+" is missing", err).
						WithCode(engine.ErrCodeBadArguments)
				}
			}
			return nil
		},
		Prompt: func(rc *engine.RunContext) string {
			existing := 0
			for _, t := range targets {
				if rc.Detected(t.Name).Presence == engine.PresencePresent {
					existing++
				}
			}
			if existing == 0 {
				return ""
			}
			return fmt.Sprintf("Overwrite %d existing configuration file(s)?", existing)
		},
		BackupPaths: func(*engine.RunContext) []string {
			// The upload-only transport cannot snapshot remote files.
			if remote {
				return nil
			}
			return dests
		},
		Steps: steps,
		Expectations: func(*engine.RunContext) []engine.Expectation {
			exps := make([]engine.Expectation, 0, len(targets))
			for _, t := range targets {
				exps = append(exps, engine.Expectation{Target: t, Want: engine.PresencePresent})
			}
			return exps
		},
		Guidance: func(rc *engine.RunContext) []string {
			if rc.Config.DryRun {
				return []string{"Run again without --dry-run to apply these changes"}
			}
			if remote {
				return []string{"Files were uploaded to " + rc.Config.Remote + "; log in there to pick them up"}
			}
			return []string{"Open a new shell session to pick up the synced configuration"}
		},
	}, nil
}

// copyStep places one configuration file locally. The guard compares
// checksums so an unchanged file is reported as a skip, not a copy.
func copyStep(m profile.FileMapping, src, dest string) engine.Step {
	return engine.Step{
		Name:         "copy_" + stepSlug(m.Dest),
		Description:  "Copy " + m.Dest + " into place",
		Class:        engine.StepFatal,
		FailureClass: engine.ErrorClassMutation,
		Paths:        []string{dest},
		Guard: func(*engine.RunContext) (bool, string) {
			srcSum, err := sysops.FileSHA256(src)
			if err != nil {
				return true, ""
			}
			destSum, err := sysops.FileSHA256(dest)
			if err != nil {
				return true, ""
			}
			if srcSum == destSum {
				return false, m.Dest + " is already in sync"
			}
			return true, ""
		},
		Run: func(ctx context.Context, rc *engine.RunContext) error {
			return rc.Record(rc.Exec.Perform(ctx, engine.Operation{
				Description: "copy " + src + " to " + dest,
				Run: func(context.Context) error {
					return sysops.CopyFile(src, dest)
				},
			}))
		},
	}
}

// uploadStep mirrors one configuration file onto the remote host. Remote
// paths stay out of Paths; plan review confines local mutations only.
func uploadStep(deps Deps, m profile.FileMapping, src, dest, endpoint string) engine.Step {
	return engine.Step{
		Name:         "upload_" + stepSlug(m.Dest),
		Description:  "Upload " + m.Dest + " to " + endpoint,
		Class:        engine.StepFatal,
		FailureClass: engine.ErrorClassDownload,
		Run: func(ctx context.Context, rc *engine.RunContext) error {
			return rc.Record(rc.Exec.Perform(ctx, engine.Operation{
				Description: "upload " + src + " to " + endpoint + ":" + dest,
				Run: func(ctx context.Context) error {
					mode := os.FileMode(0o644)
					if fi, err := os.Stat(src); err == nil {
						mode = fi.Mode().Perm()
					}
					return deps.Uploader.UploadFile(ctx, src, dest, mode)
				},
			}))
		},
	}
}

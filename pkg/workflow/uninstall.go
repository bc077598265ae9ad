package workflow

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/bootforge/bootforge/pkg/engine"
	"github.com/bootforge/bootforge/pkg/profile"
	"github.com/bootforge/bootforge/pkg/shellinit"
	"github.com/bootforge/bootforge/pkg/sysops"
)

// Uninstall builds the uninstall workflow, the mirror of install: list
// what is about to disappear, remove the toolchain, its caches and its
// configuration, and take the startup block back out.
func Uninstall(p *profile.Profile, cfg engine.RunConfiguration, deps Deps) (*engine.Workflow, error) {
	deps = deps.normalized()
	if deps.Log == nil {
		return nil, engine.NewValidationError("workflow logger is required", nil)
	}
	if deps.Runner == nil {
		return nil, engine.NewValidationError("command runner is required", nil)
	}
	if deps.Editor == nil {
		return nil, engine.NewValidationError("shell config editor is required", nil)
	}
	log := deps.Log.NewComponentLogger("workflow")

	l := resolveLayout(p, cfg)

	condaTarget := engine.Target{Name: targetCondaBinary, Kind: engine.KindExecutable, Path: l.condaBin, VersionArgs: versionProbe}
	dirTarget := engine.Target{Name: targetInstallDir, Kind: engine.KindDirectory, Path: l.installPath}
	defaultsTarget := engine.Target{Name: targetCondaDefaults, Kind: engine.KindFile, Path: l.condarc}
	cacheTarget := engine.Target{Name: targetCondaCache, Kind: engine.KindDirectory, Path: l.condaCache}
	startupTarget := engine.Target{Name: targetShellStartup, Kind: engine.KindFile, Path: l.startupFile}
	brewTarget := engine.Target{Name: targetHomebrew, Kind: engine.KindExecutable, Path: "brew", VersionArgs: versionProbe}

	configTargets := make([]engine.Target, 0, len(p.RConfigs))
	for _, m := range p.RConfigs {
		configTargets = append(configTargets, engine.Target{
			Name: configTargetName(m.Dest),
			Kind: engine.KindFile,
			Path: filepath.Join(l.home, m.Dest),
		})
	}

	steps := []engine.Step{
		{
			Name:         "list_environments",
			Description:  "List conda environments before removal",
			Class:        engine.StepSoft,
			FailureClass: engine.ErrorClassInternal,
			Guard:        onlyIfDetected(targetCondaBinary, "conda is not installed"),
			Run: func(ctx context.Context, rc *engine.RunContext) error {
				return rc.Record(rc.Exec.Perform(ctx, engine.Operation{
					Description: "list the conda environments that will be removed",
					Command:     l.condaBin + " env list",
					Run: func(ctx context.Context) error {
						result, err := deps.Runner.Run(ctx, sysops.CommandSpec{
							Command: l.condaBin,
							Args:    []string{"env", "list"},
						})
						if err != nil {
							return err
						}
						for _, line := range strings.Split(strings.TrimSpace(result.Stdout), "\n") {
							if line != "" && !strings.HasPrefix(line, "#") {
								log.Infof("Environment: %s", line)
							}
						}
						return nil
					},
				}))
			},
		},
		{
			Name:         "remove_install_dir",
			Description:  "Remove the installation directory",
			Class:        engine.StepFatal,
			FailureClass: engine.ErrorClassMutation,
			Paths:        []string{l.installPath},
			Guard:        onlyIfDetected(targetInstallDir, "nothing installed at "+l.installPath),
			Run: func(ctx context.Context, rc *engine.RunContext) error {
				return rc.Record(rc.Exec.Perform(ctx, engine.Operation{
					Description: "remove the installation directory " + l.installPath,
					Run: func(context.Context) error {
						if err := os.RemoveAll(l.installPath); err != nil {
							return engine.NewMutationError("could not remove "+l.installPath, err)
						}
						return nil
					},
				}))
			},
		},
		{
			Name:         "remove_caches",
			Description:  "Remove the conda cache directory",
			Class:        engine.StepSoft,
			FailureClass: engine.ErrorClassMutation,
			Paths:        []string{l.condaCache},
			Guard: func(rc *engine.RunContext) (bool, string) {
				if rc.Config.KeepCache {
					return false, "keeping caches (--keep-cache)"
				}
				return true, ""
			},
			Run: func(ctx context.Context, rc *engine.RunContext) error {
				return rc.Record(rc.Exec.Perform(ctx, engine.Operation{
					Description: "remove the conda cache directory " + l.condaCache,
					Run: func(context.Context) error {
						if err := os.RemoveAll(l.condaCache); err != nil {
							return engine.NewMutationError("could not remove "+l.condaCache, err)
						}
						return nil
					},
				}))
			},
		},
		{
			Name:         "remove_config",
			Description:  "Remove conda and R configuration files",
			Class:        engine.StepSoft,
			FailureClass: engine.ErrorClassMutation,
			Paths:        l.configFiles,
			Guard: func(rc *engine.RunContext) (bool, string) {
				if rc.Config.KeepConfig {
					return false, "keeping configuration files (--keep-config)"
				}
				return true, ""
			},
			Run: func(ctx context.Context, rc *engine.RunContext) error {
				return rc.Record(rc.Exec.Perform(ctx, engine.Operation{
					Description: "remove configuration files " + strings.Join(l.configFiles, ", "),
					Run: func(context.Context) error {
						for _, file := range l.configFiles {
							if err := os.Remove(file); err != nil && !os.IsNotExist(err) {
								return engine.NewMutationError("could not remove "+file, err)
							}
						}
						return nil
					},
				}))
			},
		},
		{
			Name:         "remove_shell_init",
			Description:  "Remove the conda block from the shell startup file",
			Class:        engine.StepFatal,
			FailureClass: engine.ErrorClassShellInit,
			Paths:        []string{l.startupFile},
			Guard:        onlyIfDetected(targetShellStartup, "no shell startup file at "+l.startupFile),
			Run: func(ctx context.Context, rc *engine.RunContext) error {
				return rc.Record(rc.Exec.Perform(ctx, engine.Operation{
					Description: "remove the " + shellinit.DefaultMarker + " block from " + l.startupFile,
					Run: func(context.Context) error {
						changed, err := deps.Editor.RemoveBlock(l.startupFile, shellinit.DefaultMarker)
						if err != nil {
							return engine.NewShellInitError("could not update "+l.startupFile, err)
						}
						if !changed {
							log.Debugf("No managed block in %s", l.startupFile)
						}
						return nil
					},
				}))
			},
		},
	}

	for _, formula := range p.Brew.Formulae {
		steps = append(steps, engine.Step{
			Name:         "brew_uninstall_" + stepSlug(formula),
			Description:  "Uninstall Homebrew formula " + formula,
			Class:        engine.StepSoft,
			FailureClass: engine.ErrorClassMutation,
			Guard:        onlyIfDetected(targetHomebrew, "homebrew is not installed"),
			Run: func(ctx context.Context, rc *engine.RunContext) error {
				return rc.Record(rc.Exec.Perform(ctx, engine.Operation{
					Description: "uninstall Homebrew formula " + formula,
					Command:     "brew uninstall " + formula,
					Run: func(ctx context.Context) error {
						_, err := deps.Runner.Run(ctx, sysops.CommandSpec{Command: "brew", Args: []string{"uninstall", formula}})
						return err
					},
				}))
			},
		})
	}

	targets := []engine.Target{condaTarget, dirTarget, defaultsTarget, cacheTarget, startupTarget, brewTarget}
	targets = append(targets, configTargets...)

	return &engine.Workflow{
		Name:        "uninstall",
		Description: "Remove the Miniforge toolchain and its configuration",
		Targets:     targets,
		Preflight:   platformPreflight(deps.GOOS),
		Prompt: func(*engine.RunContext) string {
			return "Remove the installation at " + l.installPath + " and its configuration?"
		},
		BackupPaths: func(*engine.RunContext) []string {
			paths := []string{l.startupFile}
			return append(paths, l.configFiles...)
		},
		Steps: steps,
		Expectations: func(rc *engine.RunContext) []engine.Expectation {
			exps := []engine.Expectation{
				{Target: condaTarget, Want: engine.PresenceAbsent},
				{Target: dirTarget, Want: engine.PresenceAbsent},
			}
			exps = append(exps, keptOrAbsent(rc, cacheTarget, rc.Config.KeepCache)...)
			exps = append(exps, keptOrAbsent(rc, defaultsTarget, rc.Config.KeepConfig)...)
			for _, t := range configTargets {
				exps = append(exps, keptOrAbsent(rc, t, rc.Config.KeepConfig)...)
			}
			return exps
		},
		Guidance: func(rc *engine.RunContext) []string {
			if rc.Config.DryRun {
				return []string{"Run again without --dry-run to apply these changes"}
			}
			return []string{"Restart your terminal so the removed shell init stops taking effect"}
		},
	}, nil
}

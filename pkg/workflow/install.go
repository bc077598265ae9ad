package workflow

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/bootforge/bootforge/pkg/engine"
	"github.com/bootforge/bootforge/pkg/profile"
	"github.com/bootforge/bootforge/pkg/shellinit"
	"github.com/bootforge/bootforge/pkg/sysops"
)

// downloadRetry is the fixed retry policy for the installer download.
var downloadRetry = engine.RetryPolicy{MaxAttempts: 3, Delay: 5 * time.Second}

// Install builds the install workflow: fetch the Miniforge installer, run
// it in batch mode, write conda defaults, wire the shell startup file and
// bring in the profile's Homebrew formulae.
func Install(p *profile.Profile, cfg engine.RunConfiguration, deps Deps) (*engine.Workflow, error) {
	deps = deps.normalized()
	if deps.Log == nil {
		return nil, engine.NewValidationError("workflow logger is required", nil)
	}
	if deps.Runner == nil {
		return nil, engine.NewValidationError("command runner is required", nil)
	}
	if deps.Downloader == nil {
		return nil, engine.NewValidationError("downloader is required", nil)
	}
	if deps.Editor == nil {
		return nil, engine.NewValidationError("shell config editor is required", nil)
	}
	log := deps.Log.NewComponentLogger("workflow")

	l := resolveLayout(p, cfg)

	installerURL, err := p.Conda.InstallerURL(deps.GOOS, deps.GOARCH)
	if err != nil {
		return nil, err
	}
	installerPath := filepath.Join(cfg.DataDir, "cache", installerFileName(installerURL))

	condaTarget := engine.Target{Name: targetCondaBinary, Kind: engine.KindExecutable, Path: l.condaBin, VersionArgs: versionProbe}
	dirTarget := engine.Target{Name: targetInstallDir, Kind: engine.KindDirectory, Path: l.installPath}
	startupTarget := engine.Target{Name: targetShellStartup, Kind: engine.KindFile, Path: l.startupFile}
	brewTarget := engine.Target{Name: targetHomebrew, Kind: engine.KindExecutable, Path: "brew", VersionArgs: versionProbe}

	steps := []engine.Step{
		{
			Name:         "download_installer",
			Description:  "Download the Miniforge installer",
			Class:        engine.StepFatal,
			FailureClass: engine.ErrorClassDownload,
			Paths:        []string{installerPath},
			Guard:        unlessDetected(targetCondaBinary, "conda is already installed at "+l.condaBin),
			Run: func(ctx context.Context, rc *engine.RunContext) error {
				return rc.Record(rc.Exec.PerformWithRetry(ctx, engine.Operation{
					Description: "download the Miniforge installer to " + installerPath,
					Run: func(ctx context.Context) error {
						_, err := deps.Downloader.Fetch(ctx, installerURL, installerPath, p.Conda.MinInstallerBytes)
						return err
					},
				}, downloadRetry))
			},
		},
		{
			Name:         "run_installer",
			Description:  "Run the Miniforge installer",
			Class:        engine.StepFatal,
			FailureClass: engine.ErrorClassMutation,
			Paths:        []string{l.installPath},
			Guard:        unlessDetected(targetCondaBinary, "conda is already installed at "+l.condaBin),
			Run: func(ctx context.Context, rc *engine.RunContext) error {
				args := []string{installerPath, "-b", "-u", "-p", l.installPath}
				return rc.Record(rc.Exec.Perform(ctx, engine.Operation{
					Description: "install Miniforge into " + l.installPath,
					Command:     "/bin/bash " + strings.Join(args, " "),
					Run: func(ctx context.Context) error {
						_, err := deps.Runner.Run(ctx, sysops.CommandSpec{Command: "/bin/bash", Args: args})
						return err
					},
				}))
			},
		},
		{
			Name:         "write_conda_defaults",
			Description:  "Write the conda defaults file",
			Class:        engine.StepSoft,
			FailureClass: engine.ErrorClassMutation,
			Paths:        []string{l.condarc},
			Run: func(ctx context.Context, rc *engine.RunContext) error {
				return rc.Record(rc.Exec.Perform(ctx, engine.Operation{
					Description: "write conda defaults to " + l.condarc,
					Run: func(context.Context) error {
						content := condarcContent(p.Conda.Channels)
						if err := os.WriteFile(l.condarc, []byte(content), 0o644); err != nil {
							return engine.NewMutationError("could not write "+l.condarc, err)
						}
						return nil
					},
				}))
			},
		},
		{
			Name:         "shell_init",
			Description:  "Wire conda into the shell startup file",
			Class:        engine.StepFatal,
			FailureClass: engine.ErrorClassShellInit,
			Paths:        []string{l.startupFile},
			Guard: func(rc *engine.RunContext) (bool, string) {
				if rc.Config.NoInit {
					return false, "shell init disabled (--no-init)"
				}
				return true, ""
			},
			Run: func(ctx context.Context, rc *engine.RunContext) error {
				return rc.Record(rc.Exec.Perform(ctx, engine.Operation{
					Description: fmt.Sprintf("add the %s block to %s", shellinit.DefaultMarker, l.startupFile),
					Run: func(context.Context) error {
						changed, err := deps.Editor.EnsureBlock(l.startupFile, shellinit.DefaultMarker, shellInitBlock(l.installPath))
						if err != nil {
							return engine.NewShellInitError("could not update "+l.startupFile, err)
						}
						if !changed {
							log.Debugf("Startup block already present in %s", l.startupFile)
						}
						return nil
					},
				}))
			},
		},
	}

	for _, formula := range p.Brew.Formulae {
		steps = append(steps, engine.Step{
			Name:         "brew_install_" + stepSlug(formula),
			Description:  "Install Homebrew formula " + formula,
			Class:        engine.StepSoft,
			FailureClass: engine.ErrorClassMutation,
			Guard:        onlyIfDetected(targetHomebrew, "homebrew is not installed"),
			Run: func(ctx context.Context, rc *engine.RunContext) error {
				return rc.Record(rc.Exec.Perform(ctx, engine.Operation{
					Description: "install Homebrew formula " + formula,
					Command:     "brew install " + formula,
					Run: func(ctx context.Context) error {
						_, err := deps.Runner.Run(ctx, sysops.CommandSpec{Command: "brew", Args: []string{"install", formula}})
						return err
					},
				}))
			},
		})
	}

	steps = append(steps, engine.Step{
		Name:         "remove_installer",
		Description:  "Remove the downloaded installer",
		Class:        engine.StepSoft,
		FailureClass: engine.ErrorClassMutation,
		Paths:        []string{installerPath},
		Guard: func(rc *engine.RunContext) (bool, string) {
			if rc.Config.KeepInstaller {
				return false, "keeping the installer (--keep-installer)"
			}
			return true, ""
		},
		Run: func(ctx context.Context, rc *engine.RunContext) error {
			return rc.Record(rc.Exec.Perform(ctx, engine.Operation{
				Description: "remove the downloaded installer " + installerPath,
				Run: func(context.Context) error {
					if err := os.Remove(installerPath); err != nil && !os.IsNotExist(err) {
						return engine.NewMutationError("could not remove "+installerPath, err)
					}
					return nil
				},
			}))
		},
	})

	return &engine.Workflow{
		Name:        "install",
		Description: "Install the Miniforge toolchain and terminal tooling",
		Targets:     []engine.Target{condaTarget, dirTarget, startupTarget, brewTarget},
		Preflight:   platformPreflight(deps.GOOS),
		Prompt: func(rc *engine.RunContext) string {
			if rc.Detected(targetCondaBinary).Presence == engine.PresencePresent ||
				rc.Detected(targetInstallDir).Presence == engine.PresencePresent {
				return "An installation already exists at " + l.installPath + ". Reinstall over it?"
			}
			return "Install Miniforge into " + l.installPath + "?"
		},
		BackupPaths: func(*engine.RunContext) []string {
			return []string{l.startupFile, l.condarc}
		},
		Steps: steps,
		Expectations: func(rc *engine.RunContext) []engine.Expectation {
			exps := []engine.Expectation{
				{Target: condaTarget, Want: engine.PresencePresent},
				{Target: dirTarget, Want: engine.PresencePresent},
			}
			if !rc.Config.NoInit {
				exps = append(exps, engine.Expectation{Target: startupTarget, Want: engine.PresencePresent})
			}
			return exps
		},
		Guidance: func(rc *engine.RunContext) []string {
			if rc.Config.DryRun {
				return []string{"Run again without --dry-run to apply these changes"}
			}
			if rc.Config.NoInit {
				return []string{"Shell init was skipped (--no-init); add " + filepath.Join(l.installPath, "bin") + " to your PATH to use conda"}
			}
			return []string{"Restart your terminal or run `source " + l.startupFile + "` to start using conda"}
		},
	}, nil
}

// installerFileName extracts the installer file name from its URL.
func installerFileName(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
		return path.Base(u.Path)
	}
	return path.Base(rawURL)
}

// condarcContent renders the managed conda defaults file.
func condarcContent(channels []string) string {
	var b strings.Builder
	b.WriteString("# Managed by bootforge. Edit the profile and rerun forge install.\n")
	b.WriteString("channels:\n")
	for _, ch := range channels {
		b.WriteString("  - " + ch + "\n")
	}
	b.WriteString("auto_activate_base: false\n")
	return b.String()
}

// shellInitBlock renders the lines placed between the startup markers:
// conda on PATH plus its shell hook.
func shellInitBlock(installPath string) string {
	bin := filepath.Join(installPath, "bin")
	condaSh := filepath.Join(installPath, "etc", "profile.d", "conda.sh")
	return "export PATH=\"" + bin + ":$PATH\"\n" +
		"[ -f \"" + condaSh + "\" ] && . \"" + condaSh + "\""
}

// Package workflow defines the ordered, typed step lists of the three
// provisioning variants: install, uninstall and sync. Builders resolve
// every mutated path up front from the run configuration and the machine
// profile, so the plan policy gate reviews real paths and guards can skip
// work that detection already proved unnecessary.
package workflow

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/bootforge/bootforge/pkg/engine"
	"github.com/bootforge/bootforge/pkg/profile"
	"github.com/bootforge/bootforge/pkg/sysops"
	"github.com/bootforge/bootforge/pkg/telemetry"
)

// Target names shared between detection, guards, prompts and expectations.
const (
	targetCondaBinary   = "conda binary"
	targetInstallDir    = "install directory"
	targetShellStartup  = "shell startup file"
	targetHomebrew      = "homebrew binary"
	targetCondaDefaults = "conda defaults"
	targetCondaCache    = "conda cache"
)

// versionProbe is the read-only invocation that captures a present tool's
// version for verification reports and status output.
var versionProbe = []string{"--version"}

// Uploader mirrors local files to a remote host. The ssh transport client
// implements it for forge sync --remote.
type Uploader interface {
	UploadFile(ctx context.Context, localPath, remotePath string, mode os.FileMode) error
}

// Deps holds the collaborators workflow steps call into. GOOS and GOARCH
// default to the build platform; tests pin them to exercise the macOS
// paths anywhere.
type Deps struct {
	Log        *telemetry.Logger
	Runner     sysops.Runner
	Downloader sysops.Downloader
	Editor     engine.ConfigEditor

	// Uploader is required only for remote sync.
	Uploader Uploader

	GOOS   string
	GOARCH string
}

func (d Deps) normalized() Deps {
	if d.GOOS == "" {
		d.GOOS = runtime.GOOS
	}
	if d.GOARCH == "" {
		d.GOARCH = runtime.GOARCH
	}
	return d
}

// layout is the resolved filesystem footprint of one provisioning run.
// Everything a step mutates is derived here, once, from the configuration
// and the profile.
type layout struct {
	home        string
	installPath string
	condaBin    string
	condarc     string
	startupFile string
	condaCache  string

	// configFiles is the condarc plus every profile config destination.
	configFiles []string
}

func resolveLayout(p *profile.Profile, cfg engine.RunConfiguration) layout {
	home := cfg.HomeDir
	install := cfg.InstallPath
	if install == "" {
		install = p.Conda.InstallPath
	}
	install = expandHome(install, home)

	l := layout{
		home:        home,
		installPath: install,
		condaBin:    filepath.Join(install, "bin", "conda"),
		condarc:     filepath.Join(home, ".condarc"),
		startupFile: shellStartupFile(home, cfg.Shell),
		condaCache:  filepath.Join(home, ".conda"),
	}
	l.configFiles = append(l.configFiles, l.condarc)
	for _, m := range p.RConfigs {
		l.configFiles = append(l.configFiles, filepath.Join(home, m.Dest))
	}
	return l
}

// expandHome resolves a leading ~ against the run's home directory.
func expandHome(path, home string) string {
	switch {
	case path == "~":
		return home
	case strings.HasPrefix(path, "~/"):
		return filepath.Join(home, path[2:])
	default:
		return path
	}
}

// shellStartupFile picks the startup file the login shell actually reads.
// macOS terminals run login shells, so bash reads .bash_profile.
func shellStartupFile(home, shell string) string {
	if shell == "" {
		shell = "zsh"
	}
	switch filepath.Base(shell) {
	case "zsh":
		return filepath.Join(home, ".zshrc")
	case "bash":
		return filepath.Join(home, ".bash_profile")
	default:
		return filepath.Join(home, ".profile")
	}
}

// stepSlug turns a formula or destination name into a stable step name
// suffix: lower case, everything else collapsed to underscores.
func stepSlug(name string) string {
	s := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		default:
			return '_'
		}
	}, name)
	return strings.Trim(s, "_")
}

func configTargetName(dest string) string { return "config " + dest }

// platformCheck rejects anything but macOS.
func platformCheck(goos string) error {
	if goos != "darwin" {
		return engine.NewPlatformError("bootforge provisions macOS machines, not "+goos, nil).
			WithCode(engine.ErrCodeUnsupportedOS)
	}
	return nil
}

// platformPreflight adapts platformCheck to the workflow preflight hook.
func platformPreflight(goos string) func(*engine.RunContext) error {
	return func(*engine.RunContext) error { return platformCheck(goos) }
}

// unlessDetected skips the step once detection found the target present,
// which is what makes a second install run a no-op.
func unlessDetected(target, reason string) func(*engine.RunContext) (bool, string) {
	return func(rc *engine.RunContext) (bool, string) {
		if rc.Detected(target).Presence == engine.PresencePresent {
			return false, reason
		}
		return true, ""
	}
}

// onlyIfDetected runs the step only when detection found the target
// present, and skips it otherwise.
func onlyIfDetected(target, reason string) func(*engine.RunContext) (bool, string) {
	return func(rc *engine.RunContext) (bool, string) {
		if rc.Detected(target).Presence != engine.PresencePresent {
			return false, reason
		}
		return true, ""
	}
}

// keptOrAbsent expects a target to be gone after removal, or unchanged
// when a keep flag spared it. Targets that were never probed produce no
// expectation.
func keptOrAbsent(rc *engine.RunContext, t engine.Target, kept bool) []engine.Expectation {
	if !kept {
		return []engine.Expectation{{Target: t, Want: engine.PresenceAbsent}}
	}
	if got := rc.Detected(t.Name).Presence; got != engine.PresenceUnknown {
		return []engine.Expectation{{Target: t, Want: got}}
	}
	return nil
}

// StatusTargets returns the probe set forge status reports drift on: the
// toolchain artifacts plus every configuration file the profile manages.
func StatusTargets(p *profile.Profile, cfg engine.RunConfiguration) []engine.Target {
	l := resolveLayout(p, cfg)
	targets := []engine.Target{
		{Name: targetCondaBinary, Kind: engine.KindExecutable, Path: l.condaBin, VersionArgs: versionProbe},
		{Name: targetInstallDir, Kind: engine.KindDirectory, Path: l.installPath},
		{Name: targetCondaDefaults, Kind: engine.KindFile, Path: l.condarc},
		{Name: targetShellStartup, Kind: engine.KindFile, Path: l.startupFile},
		{Name: targetHomebrew, Kind: engine.KindExecutable, Path: "brew", VersionArgs: versionProbe},
	}
	for _, m := range p.RConfigs {
		targets = append(targets, engine.Target{
			Name: configTargetName(m.Dest),
			Kind: engine.KindFile,
			Path: filepath.Join(l.home, m.Dest),
		})
	}
	return targets
}

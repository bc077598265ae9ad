package engine

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/bootforge/bootforge/pkg/telemetry"
)

// LocalProber detects artifacts on the local machine: commands on PATH,
// files and directories. All checks are read-only.
type LocalProber struct {
	log *telemetry.Logger

	// lookPath resolves a command name. Injectable for tests.
	lookPath func(name string) (string, error)

	// stat examines a filesystem path. Injectable for tests.
	stat func(name string) (os.FileInfo, error)

	// version runs a resolved executable's version invocation. Injectable
	// for tests.
	version func(ctx context.Context, path string, args []string) (string, error)
}

// NewLocalProber creates a prober for the local machine.
func NewLocalProber(log *telemetry.Logger) *LocalProber {
	return &LocalProber{
		log:      log.NewComponentLogger("probe"),
		lookPath: exec.LookPath,
		stat:     os.Stat,
		version:  runVersion,
	}
}

// runVersion captures the first output line of a version invocation.
func runVersion(ctx context.Context, path string, args []string) (string, error) {
	out, err := exec.CommandContext(ctx, path, args...).Output()
	if err != nil {
		return "", err
	}
	line, _, _ := strings.Cut(strings.TrimSpace(string(out)), "\n")
	return strings.TrimSpace(line), nil
}

// Detect probes a single target. Anything that cannot be examined reports
// as absent.
func (p *LocalProber) Detect(ctx context.Context, target Target) Detection {
	det := Detection{Target: target, Presence: PresenceAbsent}

	switch target.Kind {
	case KindExecutable:
		if filepath.IsAbs(target.Path) {
			if info, err := p.stat(target.Path); err == nil && !info.IsDir() && info.Mode()&0o111 != 0 {
				det.Presence = PresencePresent
				det.Detail = target.Path
			}
		} else if resolved, err := p.lookPath(target.Path); err == nil {
			det.Presence = PresencePresent
			det.Detail = resolved
		}
		if det.Presence == PresencePresent && len(target.VersionArgs) > 0 {
			if ver, err := p.version(ctx, det.Detail, target.VersionArgs); err == nil {
				det.Version = ver
			} else {
				p.log.Debugf("version probe %s: %v", target.Name, err)
			}
		}

	case KindFile:
		if info, err := p.stat(target.Path); err == nil && !info.IsDir() {
			det.Presence = PresencePresent
		}

	case KindDirectory:
		if info, err := p.stat(target.Path); err == nil && info.IsDir() {
			det.Presence = PresencePresent
		}
	}

	p.log.Debugf("probe %s (%s %s): %s", target.Name, target.Kind, target.Path, det.Presence)
	return det
}

// DetectAll probes targets in order.
func (p *LocalProber) DetectAll(ctx context.Context, targets []Target) []Detection {
	detections := make([]Detection, 0, len(targets))
	for _, t := range targets {
		detections = append(detections, p.Detect(ctx, t))
	}
	return detections
}

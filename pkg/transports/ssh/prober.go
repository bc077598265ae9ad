package ssh

import (
	"context"
	"os"

	"github.com/bootforge/bootforge/pkg/engine"
	"github.com/bootforge/bootforge/pkg/telemetry"
)

// RemoteProber detects artifacts on a connected remote host through SFTP
// stat calls. Like the local prober, anything that cannot be examined
// reports as absent.
type RemoteProber struct {
	log *telemetry.Logger

	// stat examines a remote path. Injectable for tests.
	stat func(name string) (os.FileInfo, error)
}

// NewRemoteProber creates a prober backed by the client's SFTP session.
func NewRemoteProber(client *Client, log *telemetry.Logger) *RemoteProber {
	return &RemoteProber{
		log:  log.NewComponentLogger("probe"),
		stat: client.Stat,
	}
}

// Detect probes a single remote target. Remote hosts have no PATH lookup,
// so executables are only detected at absolute paths.
func (p *RemoteProber) Detect(ctx context.Context, target engine.Target) engine.Detection {
	det := engine.Detection{Target: target, Presence: engine.PresenceAbsent}

	info, err := p.stat(target.Path)
	if err == nil {
		switch target.Kind {
		case engine.KindFile:
			if !info.IsDir() {
				det.Presence = engine.PresencePresent
			}
		case engine.KindDirectory:
			if info.IsDir() {
				det.Presence = engine.PresencePresent
			}
		case engine.KindExecutable:
			if !info.IsDir() && info.Mode()&0o111 != 0 {
				det.Presence = engine.PresencePresent
				det.Detail = target.Path
			}
		}
	}

	p.log.Debugf("remote probe %s (%s %s): %s", target.Name, target.Kind, target.Path, det.Presence)
	return det
}

// DetectAll probes targets in order.
func (p *RemoteProber) DetectAll(ctx context.Context, targets []engine.Target) []engine.Detection {
	detections := make([]engine.Detection, 0, len(targets))
	for _, t := range targets {
		detections = append(detections, p.Detect(ctx, t))
	}
	return detections
}

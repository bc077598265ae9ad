package engine

import (
	"context"

	"github.com/bootforge/bootforge/pkg/telemetry"
)

// VerificationEngine re-probes targets after execution and compares the
// detected state against the workflow's post-conditions.
type VerificationEngine struct {
	probe  Prober
	log    *telemetry.Logger
	dryRun bool
}

// NewVerificationEngine creates a verifier. In dry-run mode verification is
// simulated: expectations are announced but never checked against real
// state, and the report always passes.
func NewVerificationEngine(probe Prober, log *telemetry.Logger, dryRun bool) *VerificationEngine {
	return &VerificationEngine{
		probe:  probe,
		log:    log.NewComponentLogger("verify"),
		dryRun: dryRun,
	}
}

// Verify checks each expectation and counts mismatches.
func (v *VerificationEngine) Verify(ctx context.Context, expectations []Expectation) *VerificationReport {
	report := &VerificationReport{}

	if v.dryRun {
		report.Simulated = true
		report.Pass = true
		for _, exp := range expectations {
			v.log.DryRunf("Would verify %s is %s", exp.Target.Name, exp.Want)
			report.Results = append(report.Results, TargetResult{
				Target: exp.Target,
				Want:   exp.Want,
				Got:    PresenceUnknown,
				OK:     true,
			})
		}
		return report
	}

	for _, exp := range expectations {
		det := v.probe.Detect(ctx, exp.Target)
		result := TargetResult{
			Target:  exp.Target,
			Want:    exp.Want,
			Got:     det.Presence,
			OK:      det.Presence == exp.Want,
			Detail:  det.Detail,
			Version: det.Version,
		}
		if !result.OK {
			report.Issues++
			v.log.Warnf("Verification: %s is %s, expected %s", exp.Target.Name, result.Got, result.Want)
		}
		report.Results = append(report.Results, result)
	}

	report.Pass = report.Issues == 0
	if report.Pass {
		v.log.Infof("Verification passed (%d target(s) checked)", len(report.Results))
	} else {
		v.log.Errorf("Verification found %d issue(s) across %d target(s)", report.Issues, len(report.Results))
	}
	return report
}

package engine

import (
	"context"
)

// Prober performs read-only detection of existing installations and
// artifacts. Probing never mutates state and never fails: targets that
// cannot be examined report as absent.
type Prober interface {
	// Detect probes a single target.
	Detect(ctx context.Context, target Target) Detection

	// DetectAll probes targets in order.
	DetectAll(ctx context.Context, targets []Target) []Detection
}

// Gate guards destructive operations behind interactive confirmation.
type Gate interface {
	// Confirm presents the prompt and reads one line of input. Only a
	// case-insensitive "y" or "yes" confirms; anything else, including
	// empty input, is a decline. A decline is final for that call site.
	// When force is in effect, Confirm returns true without any I/O.
	Confirm(prompt string) bool
}

// Snapshotter takes a timestamped pre-mutation snapshot of mutable state.
// Snapshots are purely additive and best-effort: a snapshot failure is
// logged, never required for forward progress.
type Snapshotter interface {
	// Snapshot copies the given paths into a fresh timestamped directory
	// and returns the manifest. Absent paths are skipped, copy failures
	// are recorded in the manifest. Returns nil when there is nothing
	// to snapshot.
	Snapshot(ctx context.Context, paths []string) *BackupManifest
}

// Verifier re-probes post-conditions after execution.
type Verifier interface {
	// Verify compares the detected presence of each target against its
	// expectation. In dry-run mode verification is simulated and always
	// passes.
	Verify(ctx context.Context, expectations []Expectation) *VerificationReport
}

// ConfigEditor performs idempotent marker-block edits on shell startup
// files. Implementations write atomically (temp file plus rename) and keep
// a one-generation backup of the edited file.
type ConfigEditor interface {
	// EnsureBlock inserts or replaces the managed block identified by
	// marker. Returns true when the file changed.
	EnsureBlock(path, marker, content string) (bool, error)

	// RemoveBlock deletes the managed block identified by marker.
	// Returns true when the file changed. A missing file or missing
	// block is not an error.
	RemoveBlock(path, marker string) (bool, error)
}

// PlanStepSummary is the policy-visible shape of one workflow step.
type PlanStepSummary struct {
	// Name is the step name.
	Name string `json:"name"`

	// Description is the step description.
	Description string `json:"description"`

	// Class is the step failure class.
	Class StepClass `json:"class"`

	// Paths lists the filesystem paths the step mutates, resolved to
	// absolute form.
	Paths []string `json:"paths,omitempty"`
}

// PlanDocument is the input handed to plan policy evaluation before any
// mutation starts.
type PlanDocument struct {
	// RunID is the run identifier.
	RunID string `json:"run_id"`

	// Workflow is the workflow name.
	Workflow string `json:"workflow"`

	// DryRun is true for simulated runs.
	DryRun bool `json:"dry_run"`

	// Force is true when confirmation prompts are bypassed.
	Force bool `json:"force"`

	// NoBackup is true when the pre-mutation snapshot is disabled.
	NoBackup bool `json:"no_backup"`

	// Home is the home directory the run provisions into.
	Home string `json:"home"`

	// Remote is the remote endpoint for sync runs, empty for local
	// workflows. Always serialized so policies can test for absence.
	Remote string `json:"remote"`

	// Steps summarizes the ordered step list.
	Steps []PlanStepSummary `json:"steps"`

	// Detections holds the probe results feeding the plan.
	Detections []Detection `json:"detections"`
}

// PlanReviewer evaluates a plan against policy before execution. A nil
// error allows the plan; a denial returns a policy-class error.
type PlanReviewer interface {
	ReviewPlan(ctx context.Context, plan *PlanDocument) error
}

// PlanFor summarizes a prospective run for policy review. The
// orchestrator builds its plan this way after detection; callers that
// evaluate policies without running a workflow feed in their own
// detections. Targets missing from detections appear as unknown.
func PlanFor(wf *Workflow, cfg RunConfiguration, runID string, detections []Detection) *PlanDocument {
	byName := make(map[string]Detection, len(detections))
	for _, d := range detections {
		byName[d.Target.Name] = d
	}

	plan := &PlanDocument{
		RunID:    runID,
		Workflow: wf.Name,
		DryRun:   cfg.DryRun,
		Force:    cfg.Force,
		NoBackup: cfg.NoBackup,
		Home:     cfg.HomeDir,
		Remote:   cfg.Remote,
	}
	for _, step := range wf.Steps {
		plan.Steps = append(plan.Steps, PlanStepSummary{
			Name:        step.Name,
			Description: step.Description,
			Class:       step.Class,
			Paths:       step.Paths,
		})
	}
	for _, t := range wf.Targets {
		d, ok := byName[t.Name]
		if !ok {
			d = Detection{Target: t, Presence: PresenceUnknown}
		}
		plan.Detections = append(plan.Detections, d)
	}
	return plan
}

// Recorder persists run progress to the run store. Recording is
// best-effort: failures are logged and never abort the run.
type Recorder interface {
	// RecordRunStart persists a new run row.
	RecordRunStart(ctx context.Context, report *RunReport) error

	// RecordTransition persists a state transition.
	RecordTransition(ctx context.Context, runID string, from, to WorkflowState) error

	// RecordStep persists one step result.
	RecordStep(ctx context.Context, runID string, result StepResult) error

	// RecordBackup persists a backup manifest.
	RecordBackup(ctx context.Context, runID string, manifest *BackupManifest) error

	// RecordVerification persists the verification report.
	RecordVerification(ctx context.Context, runID string, report *VerificationReport) error

	// RecordRunEnd persists the final report for the run.
	RecordRunEnd(ctx context.Context, report *RunReport) error
}

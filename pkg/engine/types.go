package engine

import (
	"context"
	"time"
)

// Target represents a named filesystem or command artifact a workflow
// manages. Targets are checked for existence before and after mutation.
type Target struct {
	// Name is the logical name of the target (e.g. "conda binary").
	Name string `json:"name"`

	// Kind is the expected filesystem kind of the target.
	Kind TargetKind `json:"kind"`

	// Path is the filesystem path, or the bare command name for
	// executables resolved on PATH.
	Path string `json:"path"`

	// VersionArgs, when set on an executable target, is the read-only
	// argument list run to capture the target's version, e.g. ["--version"].
	VersionArgs []string `json:"version_args,omitempty"`
}

// Detection is the result of probing one target.
type Detection struct {
	// Target is the probed target.
	Target Target `json:"target"`

	// Presence is the detected existence of the target.
	Presence Presence `json:"presence"`

	// Detail carries extra probe output, such as the resolved binary path.
	Detail string `json:"detail,omitempty"`

	// Version is the captured version line of a present executable whose
	// target carries a version invocation.
	Version string `json:"version,omitempty"`
}

// Expectation is a post-condition checked during verification.
type Expectation struct {
	// Target is the target to re-probe.
	Target Target `json:"target"`

	// Want is the presence the target must have after the run.
	Want Presence `json:"want"`
}

// RetryPolicy controls re-attempts of a single operation. The delay between
// attempts is fixed, not exponential.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int `json:"max_attempts"`

	// Delay is the fixed pause between consecutive attempts.
	Delay time.Duration `json:"delay"`
}

// Normalize clamps the policy to at least one attempt and a non-negative delay.
func (p RetryPolicy) Normalize() RetryPolicy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.Delay < 0 {
		p.Delay = 0
	}
	return p
}

// SingleAttempt returns the default policy: one attempt, no delay.
func SingleAttempt() RetryPolicy {
	return RetryPolicy{MaxAttempts: 1}
}

// Operation is a single side-effecting action performed through the
// executor. The executor owns dry-run handling and retries; Run is only
// invoked on the real path.
type Operation struct {
	// Description is the human-readable description of the action,
	// phrased so it reads after "Would " in a dry-run preview
	// (e.g. "download Miniforge installer").
	Description string `json:"description"`

	// Command is the exact command line the operation will run, shown in
	// dry-run previews. Empty for pure in-process operations.
	Command string `json:"command,omitempty"`

	// Run performs the real action. Never called in dry-run mode.
	Run func(ctx context.Context) error `json:"-"`
}

// ActionRecord is the structured result of one executor invocation.
type ActionRecord struct {
	// Description is the operation description.
	Description string `json:"description"`

	// Command is the operation command preview, if any.
	Command string `json:"command,omitempty"`

	// Outcome is the final outcome of the action.
	Outcome StepOutcome `json:"outcome"`

	// Attempts is the number of attempts made. Zero for simulated actions.
	Attempts int `json:"attempts"`

	// StartedAt is when the first attempt started.
	StartedAt time.Time `json:"started_at"`

	// Duration is the total time spent including retry delays.
	Duration time.Duration `json:"duration"`

	// Error is the classified error after the final attempt, if any.
	Error *EngineError `json:"error,omitempty"`
}

// BackupEntry records the fate of one artifact during a snapshot.
type BackupEntry struct {
	// Source is the original path of the artifact.
	Source string `json:"source"`

	// Dest is the path inside the snapshot directory. Empty when skipped.
	Dest string `json:"dest,omitempty"`

	// Status is "copied", "skipped" or "failed".
	Status string `json:"status"`

	// Detail explains a skip or failure.
	Detail string `json:"detail,omitempty"`
}

// Backup entry statuses.
const (
	BackupCopied  = "copied"
	BackupSkipped = "skipped"
	BackupFailed  = "failed"
)

// BackupManifest describes one timestamped pre-mutation snapshot.
type BackupManifest struct {
	// Root is the snapshot directory.
	Root string `json:"root"`

	// CreatedAt is when the snapshot was taken.
	CreatedAt time.Time `json:"created_at"`

	// Entries lists the fate of every requested artifact.
	Entries []BackupEntry `json:"entries"`
}

// Copied returns the number of artifacts copied into the snapshot.
func (m *BackupManifest) Copied() int { return m.countStatus(BackupCopied) }

// Skipped returns the number of artifacts skipped because they were absent.
func (m *BackupManifest) Skipped() int { return m.countStatus(BackupSkipped) }

// Failed returns the number of artifacts that could not be copied.
func (m *BackupManifest) Failed() int { return m.countStatus(BackupFailed) }

func (m *BackupManifest) countStatus(status string) int {
	n := 0
	for _, e := range m.Entries {
		if e.Status == status {
			n++
		}
	}
	return n
}

// TargetResult is the verification verdict for one target.
type TargetResult struct {
	// Target is the verified target.
	Target Target `json:"target"`

	// Want is the expected presence.
	Want Presence `json:"want"`

	// Got is the detected presence.
	Got Presence `json:"got"`

	// OK is true when Got matches Want.
	OK bool `json:"ok"`

	// Detail carries extra probe output for the mismatch report.
	Detail string `json:"detail,omitempty"`

	// Version is the captured version of a present executable target.
	Version string `json:"version,omitempty"`
}

// VerificationReport is the outcome of re-probing all post-conditions.
type VerificationReport struct {
	// Results holds the per-target verdicts.
	Results []TargetResult `json:"results"`

	// Issues is the number of mismatched targets.
	Issues int `json:"issues"`

	// Pass is true iff Issues is zero.
	Pass bool `json:"pass"`

	// Simulated is true when verification ran in dry-run mode and is
	// non-authoritative.
	Simulated bool `json:"simulated"`
}

// RunConfiguration is the immutable per-run configuration assembled from
// CLI flags and environment before the run starts. Flags are pure data;
// none of them triggers behavior at parse time.
type RunConfiguration struct {
	// Workflow is the workflow name being run.
	Workflow string `json:"workflow"`

	// DryRun simulates every mutation and prints what would happen.
	DryRun bool `json:"dry_run"`

	// Force bypasses every confirmation prompt.
	Force bool `json:"force"`

	// InstallPath overrides the default installation directory.
	InstallPath string `json:"install_path,omitempty"`

	// KeepCache retains package caches during uninstall.
	KeepCache bool `json:"keep_cache"`

	// KeepConfig retains user configuration files during uninstall.
	KeepConfig bool `json:"keep_config"`

	// NoBackup disables the pre-mutation snapshot.
	NoBackup bool `json:"no_backup"`

	// KeepInstaller retains the downloaded installer after install.
	KeepInstaller bool `json:"keep_installer"`

	// NoInit skips shell startup-file editing.
	NoInit bool `json:"no_init"`

	// HomeDir is the user's home directory.
	HomeDir string `json:"home_dir"`

	// Shell is the user's login shell (e.g. "zsh", "bash").
	Shell string `json:"shell"`

	// DataDir is the engine data root (logs, backups, state, runs).
	DataDir string `json:"data_dir"`

	// SyncSource is the source directory for the file-sync workflow.
	SyncSource string `json:"sync_source,omitempty"`

	// SyncDest is the destination for the file-sync workflow. For remote
	// sync it is the remote path.
	SyncDest string `json:"sync_dest,omitempty"`

	// Remote is the "user@host" endpoint for remote file-sync, empty for
	// local sync.
	Remote string `json:"remote,omitempty"`
}

// RunContext carries the mutable state of one run through the workflow
// steps. A run is single-threaded, so no locking guards these fields.
type RunContext struct {
	// RunID is the unique identifier of this run.
	RunID string

	// Config is the immutable run configuration.
	Config RunConfiguration

	// Exec performs operations with dry-run and retry handling.
	Exec *ActionExecutor

	// Detections holds the probe results from the Detecting phase,
	// keyed by target name.
	Detections map[string]Detection

	// Backup is the snapshot manifest, nil when no backup was taken.
	Backup *BackupManifest

	// Actions accumulates every executor invocation in order.
	Actions []ActionRecord
}

// Detected returns the detection for a target name, with Unknown presence
// if the target was never probed.
func (rc *RunContext) Detected(name string) Detection {
	if d, ok := rc.Detections[name]; ok {
		return d
	}
	return Detection{Presence: PresenceUnknown}
}

// Record appends an action record and returns its error, which keeps
// step bodies to one line per operation.
func (rc *RunContext) Record(rec ActionRecord) error {
	rc.Actions = append(rc.Actions, rec)
	if rec.Error != nil {
		return rec.Error
	}
	return nil
}

// Step is one named unit of an ordered workflow. Classification and retry
// policy are fixed by the workflow definition.
type Step struct {
	// Name is the stable machine-readable step name.
	Name string `json:"name"`

	// Description is the human-readable step description.
	Description string `json:"description"`

	// Class decides whether a failure aborts the run or only warns.
	Class StepClass `json:"class"`

	// FailureClass is the error class a fatal failure escalates with,
	// which fixes the process exit code.
	FailureClass ErrorClass `json:"failure_class"`

	// Paths lists the absolute filesystem paths the step mutates. Policy
	// review sees these before anything runs.
	Paths []string `json:"paths,omitempty"`

	// Guard decides at run time whether the step is needed. A false
	// verdict skips the step with the returned reason. Nil means the
	// step always runs.
	Guard func(rc *RunContext) (bool, string) `json:"-"`

	// Run performs the step through the run context's executor.
	Run func(ctx context.Context, rc *RunContext) error `json:"-"`
}

// StepResult records the outcome of one workflow step.
type StepResult struct {
	// Name is the step name.
	Name string `json:"name"`

	// Outcome is the final outcome of the step.
	Outcome StepOutcome `json:"outcome"`

	// Reason explains a skip.
	Reason string `json:"reason,omitempty"`

	// Attempts is the number of attempts of the step's last action.
	Attempts int `json:"attempts"`

	// Duration is the time spent in the step.
	Duration time.Duration `json:"duration"`

	// Error is the classified error for failed steps.
	Error *EngineError `json:"error,omitempty"`
}

// Workflow is an ordered, typed definition of one provisioning variant
// (install, uninstall, file-sync).
type Workflow struct {
	// Name is the workflow name.
	Name string `json:"name"`

	// Description is shown in help output and run summaries.
	Description string `json:"description"`

	// Targets are the artifacts probed during the Detecting phase.
	Targets []Target `json:"targets"`

	// Preflight validates the environment before anything else runs.
	// A non-nil error aborts the run with no mutation. Nil skips the check.
	Preflight func(rc *RunContext) error `json:"-"`

	// Prompt returns the confirmation question for this run, or empty
	// when no confirmation is needed. Detection results are available,
	// so conflicting pre-existing state can force a prompt.
	Prompt func(rc *RunContext) string `json:"-"`

	// BackupPaths returns the artifacts to snapshot before mutation.
	BackupPaths func(rc *RunContext) []string `json:"-"`

	// Steps is the ordered step list executed by the orchestrator.
	Steps []Step `json:"steps"`

	// Expectations returns the post-conditions verified after execution.
	Expectations func(rc *RunContext) []Expectation `json:"-"`

	// Guidance returns next-step hints for the final summary of a
	// successful run. Nil means the workflow has none.
	Guidance func(rc *RunContext) []string `json:"-"`
}

// RunReport is the final structured summary of one run.
type RunReport struct {
	// RunID is the unique identifier of the run.
	RunID string `json:"run_id"`

	// Workflow is the workflow name.
	Workflow string `json:"workflow"`

	// DryRun is true for simulated runs.
	DryRun bool `json:"dry_run"`

	// State is the terminal workflow state.
	State WorkflowState `json:"state"`

	// ExitCode is the process exit code determined during Reporting.
	ExitCode int `json:"exit_code"`

	// StartedAt is when the run started.
	StartedAt time.Time `json:"started_at"`

	// Duration is the total run duration.
	Duration time.Duration `json:"duration"`

	// Steps holds the per-step results in execution order.
	Steps []StepResult `json:"steps"`

	// StepsRun is the number of steps that executed (or simulated).
	StepsRun int `json:"steps_run"`

	// StepsSkipped is the number of steps skipped by their guards.
	StepsSkipped int `json:"steps_skipped"`

	// StepsFailed is the number of steps that failed.
	StepsFailed int `json:"steps_failed"`

	// BackupRoot is the snapshot directory, empty when no backup was taken.
	BackupRoot string `json:"backup_root,omitempty"`

	// Verification is the post-execution verification report.
	Verification *VerificationReport `json:"verification,omitempty"`

	// Failure is the first fatal failure encountered, if any.
	Failure *EngineError `json:"failure,omitempty"`

	// LogPath is the persistent log file for follow-up.
	LogPath string `json:"log_path,omitempty"`

	// Guidance holds next-step hints shown to the user.
	Guidance []string `json:"guidance,omitempty"`
}

// Succeeded returns true when the run finished with exit code 0.
func (r *RunReport) Succeeded() bool {
	return r.ExitCode == ExitSuccess
}

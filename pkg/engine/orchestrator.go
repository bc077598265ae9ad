package engine

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/bootforge/bootforge/pkg/telemetry"
)

// Orchestrator drives workflow runs through the state machine:
// Init -> Detecting -> Confirming -> BackingUp -> Executing -> Verifying ->
// Reporting -> Succeeded or Failed. Runs are single-threaded and
// synchronous; every phase completes before the next starts.
type Orchestrator struct {
	tel    *telemetry.Telemetry
	probe  Prober
	gate   Gate
	backup Snapshotter
	rec    Recorder
	policy PlanReviewer
}

// Deps holds the orchestrator's collaborators. Telemetry, Probe and Gate
// are required; Backup, Recorder and Policy may be nil, which disables
// snapshots, run persistence and the policy gate respectively.
type Deps struct {
	Telemetry *telemetry.Telemetry
	Probe     Prober
	Gate      Gate
	Backup    Snapshotter
	Recorder  Recorder
	Policy    PlanReviewer
}

// NewOrchestrator creates an orchestrator from its collaborators.
func NewOrchestrator(deps Deps) (*Orchestrator, error) {
	if deps.Telemetry == nil {
		return nil, NewValidationError("telemetry is required", nil)
	}
	if deps.Probe == nil {
		return nil, NewValidationError("prober is required", nil)
	}
	if deps.Gate == nil {
		return nil, NewValidationError("confirmation gate is required", nil)
	}
	return &Orchestrator{
		tel:    deps.Telemetry,
		probe:  deps.Probe,
		gate:   deps.Gate,
		backup: deps.Backup,
		rec:    deps.Recorder,
		policy: deps.Policy,
	}, nil
}

// Run executes one workflow under the given configuration and returns the
// final report. Run never returns an error: failures are part of the
// report, and the caller maps report.ExitCode to the process exit code.
func (o *Orchestrator) Run(ctx context.Context, wf *Workflow, cfg RunConfiguration) *RunReport {
	runID := uuid.New().String()
	log := o.tel.Logger.WithRunID(runID).WithWorkflow(wf.Name)

	report := &RunReport{
		RunID:     runID,
		Workflow:  wf.Name,
		DryRun:    cfg.DryRun,
		State:     StateInit,
		StartedAt: time.Now(),
		LogPath:   o.tel.Logger.FilePath(),
	}

	rc := &RunContext{
		RunID:      runID,
		Config:     cfg,
		Exec:       NewActionExecutor(log, cfg.DryRun),
		Detections: make(map[string]Detection),
	}

	ctx, runSpan := o.tel.Tracer.StartRunSpan(ctx, runID, wf.Name, cfg.DryRun)
	defer runSpan.End()
	if id := telemetry.TraceID(ctx); id != "" {
		log = log.WithField("trace_id", id)
	}

	mode := "real"
	if cfg.DryRun {
		mode = "dry-run"
		log.DryRun("Dry-run mode: no changes will be made")
	}
	log.Infof("Starting %s run %s", wf.Name, runID)
	o.tel.Metrics.RecordRunStarted(wf.Name, mode)
	o.tel.Events.PublishRunStarted(runID, wf.Name, cfg.DryRun)
	o.record(log, func(c context.Context) error { return o.rec.RecordRunStart(c, report) })

	// Init: environment preflight, before anything else touches the system.
	if wf.Preflight != nil {
		if err := wf.Preflight(rc); err != nil {
			e := AsEngineError(err, ErrorClassPlatform)
			log.Errorf("Preflight failed: %v", e)
			return o.finish(ctx, log, wf, rc, report, e, runSpan)
		}
	}

	// Detecting.
	o.transition(ctx, log, report, StateDetecting)
	for _, det := range o.probe.DetectAll(ctx, wf.Targets) {
		rc.Detections[det.Target.Name] = det
		telemetry.AddEvent(runSpan, "target.detected",
			telemetry.AttrTargetName.String(det.Target.Name),
			telemetry.AttrTargetKind.String(string(det.Target.Kind)),
			telemetry.AttrPresence.String(string(det.Presence)))
		if det.Detail != "" {
			log.Infof("Detected %s: %s (%s)", det.Target.Name, det.Presence, det.Detail)
		} else {
			log.Infof("Detected %s: %s", det.Target.Name, det.Presence)
		}
	}

	// Confirming.
	o.transition(ctx, log, report, StateConfirming)
	if prompt := o.promptFor(wf, rc); prompt != "" {
		if cfg.DryRun {
			log.DryRunf("Would ask for confirmation: %q", prompt)
		} else if !o.gate.Confirm(prompt) {
			log.Info("Cancelled by user")
			return o.finish(ctx, log, wf, rc, report, NewCancelledError("cancelled by user"), runSpan)
		}
	}

	// Plan policy gate, still before any mutation.
	if o.policy != nil {
		if err := o.policy.ReviewPlan(ctx, o.buildPlan(wf, rc)); err != nil {
			e := AsEngineError(err, ErrorClassPolicy)
			log.Errorf("Plan denied by policy: %v", e)
			o.tel.Events.PublishPolicyDenied(runID, wf.Name, e.Code, e.Message)
			return o.finish(ctx, log, wf, rc, report, e, runSpan)
		}
	}

	// BackingUp, real path only.
	o.transition(ctx, log, report, StateBackingUp)
	o.backUp(ctx, log, wf, rc, report)

	// Executing.
	o.transition(ctx, log, report, StateExecuting)
	failure := o.executeSteps(ctx, log, wf, rc, report)

	// Verifying always runs, even after a failed step, so the user gets
	// an accurate final picture.
	o.transition(ctx, log, report, StateVerifying)
	verifier := NewVerificationEngine(o.probe, log, cfg.DryRun)
	var expectations []Expectation
	if wf.Expectations != nil {
		expectations = wf.Expectations(rc)
	}
	vr := verifier.Verify(ctx, expectations)
	report.Verification = vr
	if !vr.Simulated {
		o.tel.Metrics.SetVerificationIssues(wf.Name, vr.Issues)
	}
	o.tel.Events.PublishVerificationCompleted(runID, wf.Name, vr.Issues, vr.Pass)
	o.record(log, func(c context.Context) error { return o.rec.RecordVerification(c, runID, vr) })

	return o.finish(ctx, log, wf, rc, report, failure, runSpan)
}

// promptFor asks the workflow for its confirmation prompt. Detection
// results are already in place, so a workflow can force a prompt when it
// found conflicting pre-existing state.
func (o *Orchestrator) promptFor(wf *Workflow, rc *RunContext) string {
	if wf.Prompt == nil {
		return ""
	}
	return wf.Prompt(rc)
}

// buildPlan summarizes the run for policy evaluation.
func (o *Orchestrator) buildPlan(wf *Workflow, rc *RunContext) *PlanDocument {
	detections := make([]Detection, 0, len(rc.Detections))
	for _, t := range wf.Targets {
		if d, ok := rc.Detections[t.Name]; ok {
			detections = append(detections, d)
		}
	}
	return PlanFor(wf, rc.Config, rc.RunID, detections)
}

// backUp takes the pre-mutation snapshot on the real path.
func (o *Orchestrator) backUp(ctx context.Context, log *telemetry.Logger, wf *Workflow, rc *RunContext, report *RunReport) {
	var paths []string
	if wf.BackupPaths != nil {
		paths = wf.BackupPaths(rc)
	}

	switch {
	case len(paths) == 0:
		return
	case rc.Config.NoBackup:
		log.Info("Backup disabled (--no-backup)")
		return
	case rc.Config.DryRun:
		log.DryRunf("Would back up: %s", strings.Join(paths, ", "))
		return
	case o.backup == nil:
		log.Warn("No snapshot manager wired, skipping backup")
		return
	}

	manifest := o.backup.Snapshot(ctx, paths)
	if manifest == nil {
		return
	}
	rc.Backup = manifest
	report.BackupRoot = manifest.Root
	for _, entry := range manifest.Entries {
		o.tel.Metrics.RecordBackupEntry(wf.Name, entry.Status)
	}
	o.tel.Events.PublishBackupCreated(rc.RunID, wf.Name, manifest.Root, manifest.Copied(), manifest.Failed())
	o.record(log, func(c context.Context) error { return o.rec.RecordBackup(c, rc.RunID, manifest) })
}

// executeSteps walks the ordered step list. It returns the first fatal
// failure, or nil when every step succeeded, was skipped, or failed softly.
func (o *Orchestrator) executeSteps(ctx context.Context, log *telemetry.Logger, wf *Workflow, rc *RunContext, report *RunReport) *EngineError {
	for _, step := range wf.Steps {
		result := o.executeStep(ctx, log, wf, rc, step)
		report.Steps = append(report.Steps, result)
		o.record(log, func(c context.Context) error { return o.rec.RecordStep(c, rc.RunID, result) })

		switch result.Outcome {
		case OutcomeSkipped:
			report.StepsSkipped++
		case OutcomeFailed:
			report.StepsFailed++
			if step.Class == StepFatal {
				log.WithError(result.Error).Errorf("Fatal step %s failed, aborting run", step.Name)
				return result.Error
			}
			log.Warnf("Step %s failed: %v (continuing)", step.Name, result.Error)
		default:
			report.StepsRun++
		}
	}
	return nil
}

// executeStep runs one step with its guard, span and events.
func (o *Orchestrator) executeStep(ctx context.Context, log *telemetry.Logger, wf *Workflow, rc *RunContext, step Step) StepResult {
	log = log.WithStep(step.Name)
	result := StepResult{Name: step.Name}

	if step.Guard != nil {
		if needed, reason := step.Guard(rc); !needed {
			result.Outcome = OutcomeSkipped
			result.Reason = reason
			log.Infof("Skipping %s: %s", step.Name, reason)
			o.tel.Events.PublishStepSkipped(rc.RunID, wf.Name, step.Name, reason)
			o.tel.Metrics.RecordStepExecution(wf.Name, step.Name, string(OutcomeSkipped), 0)
			return result
		}
	}

	stepCtx, span := o.tel.Tracer.StartStepSpan(ctx, step.Name, string(step.Class))
	defer span.End()
	o.tel.Events.PublishStepStarted(rc.RunID, wf.Name, step.Name, step.Description)

	rc.Exec.OnRetry(func(attempt, maxAttempts int) {
		o.tel.Metrics.RecordStepRetry(wf.Name, step.Name)
		o.tel.Events.PublishStepRetried(rc.RunID, wf.Name, step.Name, attempt, maxAttempts)
	})

	start := time.Now()
	before := len(rc.Actions)
	err := step.Run(stepCtx, rc)
	result.Duration = time.Since(start)

	if actions := rc.Actions[before:]; len(actions) > 0 {
		result.Attempts = actions[len(actions)-1].Attempts
	}

	if err != nil {
		result.Outcome = OutcomeFailed
		result.Error = AsEngineError(err, step.FailureClass).WithStep(step.Name)
		span.SetAttributes(telemetry.AttrErrorClass.String(string(result.Error.Class)))
		if result.Error.Code != "" {
			span.SetAttributes(telemetry.AttrErrorCode.String(result.Error.Code))
		}
		telemetry.RecordError(span, result.Error)
	} else if rc.Config.DryRun {
		result.Outcome = OutcomeSimulated
	} else {
		result.Outcome = OutcomeSucceeded
	}
	span.SetAttributes(
		telemetry.AttrOutcome.String(string(result.Outcome)),
		telemetry.AttrAttempts.Int(result.Attempts))

	o.tel.Metrics.RecordStepExecution(wf.Name, step.Name, string(result.Outcome), result.Duration)
	o.tel.Events.PublishStepCompleted(rc.RunID, wf.Name, step.Name, string(result.Outcome), result.Attempts, result.Duration)
	return result
}

// finish runs the Reporting phase: it fixes the exit code, emits the final
// summary and moves the run to its terminal state.
func (o *Orchestrator) finish(ctx context.Context, log *telemetry.Logger, wf *Workflow, rc *RunContext, report *RunReport, failure *EngineError, runSpan trace.Span) *RunReport {
	o.transition(ctx, log, report, StateReporting)

	report.Duration = time.Since(report.StartedAt)
	report.Failure = failure

	switch {
	case failure != nil:
		report.ExitCode = failure.ExitCode()
	case report.Verification != nil && !report.Verification.Simulated && !report.Verification.Pass:
		report.ExitCode = ExitVerificationFailed
		report.Failure = NewVerificationError("post-run verification found issues")
	default:
		report.ExitCode = ExitSuccess
	}

	if report.ExitCode == ExitSuccess && wf.Guidance != nil {
		report.Guidance = wf.Guidance(rc)
	}

	o.summarize(log, rc, report)

	terminal := StateSucceeded
	status := "succeeded"
	if report.ExitCode != ExitSuccess {
		terminal = StateFailed
		status = "failed"
		telemetry.RecordError(runSpan, report.Failure)
	} else {
		telemetry.RecordSuccess(runSpan)
	}
	o.transition(ctx, log, report, terminal)

	o.tel.Metrics.RecordRunCompleted(report.Workflow, status, report.Duration)
	if report.Failure != nil {
		o.tel.Metrics.RecordError(string(report.Failure.Class), report.Failure.Code)
	}
	o.tel.Events.PublishRunCompleted(report.RunID, report.Workflow, status, report.ExitCode, report.Duration)
	o.record(log, func(c context.Context) error { return o.rec.RecordRunEnd(c, report) })

	// Dry runs leave no trace on disk beyond the log file.
	if !report.DryRun && o.tel.Config != nil {
		if err := o.tel.Metrics.WriteTextfile(o.tel.Config.Metrics.TextfilePath); err != nil {
			log.Warnf("Could not write metrics snapshot: %v", err)
		}
	}

	return report
}

// summarize emits the final human-readable summary.
func (o *Orchestrator) summarize(log *telemetry.Logger, rc *RunContext, report *RunReport) {
	log.Infof("Run summary: %d step(s) run, %d skipped, %d failed",
		report.StepsRun, report.StepsSkipped, report.StepsFailed)
	if report.BackupRoot != "" {
		log.Infof("Backup saved to %s", report.BackupRoot)
	}
	if report.Failure != nil {
		log.Errorf("Run failed: %v (exit code %d)", report.Failure, report.ExitCode)
		if report.LogPath != "" {
			log.Infof("See %s for the full log", report.LogPath)
		}
	} else if report.DryRun {
		log.Info("Dry run complete, no changes were made")
	} else {
		log.Infof("%s completed successfully", capitalize(report.Workflow))
	}
	for _, hint := range report.Guidance {
		log.Info(hint)
	}
}

// transition moves the run to the next state and records it everywhere.
func (o *Orchestrator) transition(ctx context.Context, log *telemetry.Logger, report *RunReport, next WorkflowState) {
	from := report.State
	report.State = next
	log.Debugf("State %s -> %s", from, next)
	telemetry.AddEvent(telemetry.SpanFromContext(ctx), "state.changed",
		telemetry.AttrState.String(string(next)))
	o.tel.Events.PublishStateChanged(report.RunID, report.Workflow, string(from), string(next))
	o.record(log, func(c context.Context) error { return o.rec.RecordTransition(c, report.RunID, from, next) })
}

// record persists run progress, tolerating both an unwired recorder and
// store failures. The run store is an observer, never a gate.
func (o *Orchestrator) record(log *telemetry.Logger, fn func(ctx context.Context) error) {
	if o.rec == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := fn(ctx); err != nil {
		log.Warnf("Run store write failed: %v", err)
	}
}

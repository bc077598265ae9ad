package stores

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/bootforge/bootforge/pkg/engine"
	"github.com/bootforge/bootforge/pkg/telemetry"
)

// Recorder adapts a Store to the engine's recording hooks. The
// orchestrator treats every call as best-effort, so methods return
// plain storage errors and never retry.
type Recorder struct {
	store Store
	seq   map[string]int
}

// NewRecorder wraps a store for run recording.
func NewRecorder(store Store) *Recorder {
	return &Recorder{
		store: store,
		seq:   make(map[string]int),
	}
}

// RecordRunStart persists the initial run row.
func (r *Recorder) RecordRunStart(ctx context.Context, report *engine.RunReport) error {
	return r.store.CreateRun(ctx, &Run{
		ID:        report.RunID,
		Workflow:  report.Workflow,
		DryRun:    report.DryRun,
		State:     string(report.State),
		StartedAt: report.StartedAt,
	})
}

// RecordTransition appends a state-change event to the run log.
func (r *Recorder) RecordTransition(ctx context.Context, runID string, from, to engine.WorkflowState) error {
	payload, err := json.Marshal(map[string]string{
		"from": string(from),
		"to":   string(to),
	})
	if err != nil {
		return engine.NewInternalError("could not encode transition", err)
	}
	p := string(payload)
	return r.store.AppendEvent(ctx, &EventRecord{
		RunID:   runID,
		Type:    telemetry.EventTypeStateChanged,
		Payload: &p,
	})
}

// RecordStep persists one step result in execution order.
func (r *Recorder) RecordStep(ctx context.Context, runID string, result engine.StepResult) error {
	r.seq[runID]++
	step := &StepRecord{
		RunID:    runID,
		Seq:      r.seq[runID],
		Name:     result.Name,
		Outcome:  string(result.Outcome),
		Attempts: result.Attempts,
		Duration: result.Duration,
	}
	if result.Reason != "" {
		step.Reason = &result.Reason
	}
	if result.Error != nil {
		code := result.Error.Code
		msg := result.Error.Message
		step.ErrorCode = &code
		step.ErrorMessage = &msg
	}
	return r.store.CreateStep(ctx, step)
}

// RecordBackup persists the backup manifest with per-artifact entries.
func (r *Recorder) RecordBackup(ctx context.Context, runID string, manifest *engine.BackupManifest) error {
	entries, err := json.Marshal(manifest.Entries)
	if err != nil {
		return engine.NewInternalError("could not encode backup entries", err)
	}
	return r.store.CreateBackup(ctx, &BackupRecord{
		RunID:     runID,
		Root:      manifest.Root,
		CreatedAt: manifest.CreatedAt,
		Copied:    manifest.Copied(),
		Skipped:   manifest.Skipped(),
		Failed:    manifest.Failed(),
		Entries:   string(entries),
	})
}

// RecordVerification writes the verdict onto the run and, for real
// runs, refreshes the last observed state of every verified target.
func (r *Recorder) RecordVerification(ctx context.Context, runID string, report *engine.VerificationReport) error {
	if err := r.store.UpdateRunVerification(ctx, runID, report.Pass, report.Issues); err != nil {
		return err
	}
	if report.Simulated {
		return nil
	}
	for _, result := range report.Results {
		state := &TargetState{
			Target:   result.Target.Name,
			Kind:     string(result.Target.Kind),
			Path:     result.Target.Path,
			Presence: string(result.Got),
			RunID:    runID,
		}
		if result.Detail != "" {
			detail := result.Detail
			state.Detail = &detail
		}
		if err := r.store.UpsertTargetState(ctx, state); err != nil {
			return fmt.Errorf("target %s: %w", result.Target.Name, err)
		}
	}
	return nil
}

// RecordRunEnd writes the terminal run fields.
func (r *Recorder) RecordRunEnd(ctx context.Context, report *engine.RunReport) error {
	delete(r.seq, report.RunID)

	completed := report.StartedAt.Add(report.Duration)
	exitCode := report.ExitCode
	run := &Run{
		ID:           report.RunID,
		State:        string(report.State),
		ExitCode:     &exitCode,
		CompletedAt:  &completed,
		Duration:     report.Duration,
		StepsRun:     report.StepsRun,
		StepsSkipped: report.StepsSkipped,
		StepsFailed:  report.StepsFailed,
	}
	if report.BackupRoot != "" {
		run.BackupRoot = &report.BackupRoot
	}
	if report.Failure != nil {
		code := report.Failure.Code
		msg := report.Failure.Message
		run.FailureCode = &code
		run.FailureMessage = &msg
	}
	if report.LogPath != "" {
		run.LogPath = &report.LogPath
	}
	return r.store.FinishRun(ctx, run)
}

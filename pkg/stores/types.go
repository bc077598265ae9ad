package stores

import (
	"context"
	"time"
)

// Run is one persisted workflow run. The row is created when the run
// starts and completed by FinishRun; verification lands separately
// because it is computed after the last step.
type Run struct {
	ID                 string        `json:"id"`
	Workflow           string        `json:"workflow"`
	DryRun             bool          `json:"dry_run"`
	State              string        `json:"state"`
	ExitCode           *int          `json:"exit_code,omitempty"`
	StartedAt          time.Time     `json:"started_at"`
	CompletedAt        *time.Time    `json:"completed_at,omitempty"`
	Duration           time.Duration `json:"duration"`
	StepsRun           int           `json:"steps_run"`
	StepsSkipped       int           `json:"steps_skipped"`
	StepsFailed        int           `json:"steps_failed"`
	BackupRoot         *string       `json:"backup_root,omitempty"`
	VerificationPass   *bool         `json:"verification_pass,omitempty"`
	VerificationIssues *int          `json:"verification_issues,omitempty"`
	FailureCode        *string       `json:"failure_code,omitempty"`
	FailureMessage     *string       `json:"failure_message,omitempty"`
	LogPath            *string       `json:"log_path,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
}

// StepRecord is one persisted step result, ordered by Seq within a run.
type StepRecord struct {
	ID           int64         `json:"id"`
	RunID        string        `json:"run_id"`
	Seq          int           `json:"seq"`
	Name         string        `json:"name"`
	Outcome      string        `json:"outcome"`
	Reason       *string       `json:"reason,omitempty"`
	Attempts     int           `json:"attempts"`
	Duration     time.Duration `json:"duration"`
	ErrorCode    *string       `json:"error_code,omitempty"`
	ErrorMessage *string       `json:"error_message,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
}

// EventRecord is one append-only run log entry.
type EventRecord struct {
	ID        int64     `json:"id"`
	RunID     string    `json:"run_id"`
	Type      string    `json:"type"`
	Payload   *string   `json:"payload,omitempty"` // JSON blob
	Timestamp time.Time `json:"timestamp"`
}

// TargetState is the last observed presence of one workflow target.
// Verification writes it after every real run; `forge status` reads it
// to show what the machine looked like last time.
type TargetState struct {
	Target     string    `json:"target"`
	Kind       string    `json:"kind"`
	Path       string    `json:"path"`
	Presence   string    `json:"presence"`
	Detail     *string   `json:"detail,omitempty"`
	RunID      string    `json:"run_id"`
	ObservedAt time.Time `json:"observed_at"`
}

// BackupRecord is one persisted backup manifest.
type BackupRecord struct {
	ID        int64     `json:"id"`
	RunID     string    `json:"run_id"`
	Root      string    `json:"root"`
	CreatedAt time.Time `json:"created_at"`
	Copied    int       `json:"copied"`
	Skipped   int       `json:"skipped"`
	Failed    int       `json:"failed"`
	Entries   string    `json:"entries"` // JSON array of per-artifact entries
}

// Store is the persistence layer for runs, steps, events, target
// states, and backup manifests.
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error

	// Runs
	CreateRun(ctx context.Context, run *Run) error
	FinishRun(ctx context.Context, run *Run) error
	UpdateRunVerification(ctx context.Context, runID string, pass bool, issues int) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, limit, offset int) ([]*Run, error)

	// Steps
	CreateStep(ctx context.Context, step *StepRecord) error
	ListSteps(ctx context.Context, runID string) ([]*StepRecord, error)

	// Events
	AppendEvent(ctx context.Context, event *EventRecord) error
	ListEvents(ctx context.Context, runID string) ([]*EventRecord, error)

	// Target states
	UpsertTargetState(ctx context.Context, state *TargetState) error
	ListTargetStates(ctx context.Context) ([]*TargetState, error)

	// Backups
	CreateBackup(ctx context.Context, backup *BackupRecord) error
	ListBackups(ctx context.Context, limit, offset int) ([]*BackupRecord, error)
}

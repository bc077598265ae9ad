package engine

import (
	"encoding/json"
	"fmt"
)

// WorkflowState represents the phase a workflow run is currently in.
type WorkflowState string

const (
	// StateInit indicates the run has been created but not yet started.
	StateInit WorkflowState = "init"

	// StateDetecting indicates pre-existing state is being probed.
	StateDetecting WorkflowState = "detecting"

	// StateConfirming indicates the run is waiting on the confirmation gate.
	StateConfirming WorkflowState = "confirming"

	// StateBackingUp indicates a pre-mutation snapshot is being taken.
	StateBackingUp WorkflowState = "backing_up"

	// StateExecuting indicates the ordered steps are running.
	StateExecuting WorkflowState = "executing"

	// StateVerifying indicates post-conditions are being re-probed.
	StateVerifying WorkflowState = "verifying"

	// StateReporting indicates the final summary is being produced.
	StateReporting WorkflowState = "reporting"

	// StateSucceeded indicates the run finished with exit code 0.
	StateSucceeded WorkflowState = "succeeded"

	// StateFailed indicates the run finished with a non-zero exit code.
	StateFailed WorkflowState = "failed"
)

// IsTerminal returns true if the state represents a final state. Terminal
// states are never re-entered.
func (s WorkflowState) IsTerminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// IsActive returns true if the run is still progressing through phases.
func (s WorkflowState) IsActive() bool {
	return !s.IsTerminal() && s.Validate() == nil
}

// Validate checks if the workflow state is valid.
func (s WorkflowState) Validate() error {
	switch s {
	case StateInit, StateDetecting, StateConfirming, StateBackingUp,
		StateExecuting, StateVerifying, StateReporting, StateSucceeded, StateFailed:
		return nil
	default:
		return fmt.Errorf("invalid workflow state: %s", s)
	}
}

// StepOutcome represents the result of executing one workflow step or one
// action through the executor.
type StepOutcome string

const (
	// OutcomeSucceeded indicates the step completed successfully.
	OutcomeSucceeded StepOutcome = "succeeded"

	// OutcomeFailed indicates the step failed after exhausting its retries.
	OutcomeFailed StepOutcome = "failed"

	// OutcomeSimulated indicates the step was previewed in dry-run mode and
	// no real mutation took place.
	OutcomeSimulated StepOutcome = "simulated"

	// OutcomeSkipped indicates the step's guard decided it was not needed.
	OutcomeSkipped StepOutcome = "skipped"
)

// IsFailure returns true if the outcome counts against the run verdict.
func (o StepOutcome) IsFailure() bool {
	return o == OutcomeFailed
}

// Validate checks if the step outcome is valid.
func (o StepOutcome) Validate() error {
	switch o {
	case OutcomeSucceeded, OutcomeFailed, OutcomeSimulated, OutcomeSkipped:
		return nil
	default:
		return fmt.Errorf("invalid step outcome: %s", o)
	}
}

// StepClass represents the failure policy of a workflow step. The class is
// fixed by the workflow definition, never decided at runtime.
type StepClass string

const (
	// StepFatal aborts the whole run when the step fails.
	StepFatal StepClass = "fatal"

	// StepSoft logs a warning when the step fails and continues the run.
	StepSoft StepClass = "soft"
)

// Validate checks if the step class is valid.
func (c StepClass) Validate() error {
	switch c {
	case StepFatal, StepSoft:
		return nil
	default:
		return fmt.Errorf("invalid step class: %s", c)
	}
}

// Presence represents the detected existence of an installation target.
type Presence string

const (
	// PresencePresent indicates the target exists with the expected kind.
	PresencePresent Presence = "present"

	// PresenceAbsent indicates the target does not exist.
	PresenceAbsent Presence = "absent"

	// PresenceUnknown indicates detection has not run for the target yet.
	PresenceUnknown Presence = "unknown"
)

// Validate checks if the presence value is valid.
func (p Presence) Validate() error {
	switch p {
	case PresencePresent, PresenceAbsent, PresenceUnknown:
		return nil
	default:
		return fmt.Errorf("invalid presence: %s", p)
	}
}

// TargetKind represents the filesystem kind an installation target is
// expected to have.
type TargetKind string

const (
	// KindFile expects a regular file at the target path.
	KindFile TargetKind = "file"

	// KindDirectory expects a directory at the target path.
	KindDirectory TargetKind = "directory"

	// KindExecutable expects a command resolvable on PATH, or an executable
	// file when the path is absolute.
	KindExecutable TargetKind = "executable"
)

// Validate checks if the target kind is valid.
func (k TargetKind) Validate() error {
	switch k {
	case KindFile, KindDirectory, KindExecutable:
		return nil
	default:
		return fmt.Errorf("invalid target kind: %s", k)
	}
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (s WorkflowState) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (s *WorkflowState) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = WorkflowState(str)
	return s.Validate()
}

// Package engine provides the core types and the workflow state machine for
// the bootforge provisioning engine. A run moves through the phases:
// Init -> Detecting -> Confirming -> BackingUp -> Executing -> Verifying -> Reporting.
package engine

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of an error. The class decides
// the process exit code and whether a failure aborts or merely degrades a run.
type ErrorClass string

const (
	// ErrorClassValidation indicates bad CLI arguments or an invalid
	// configuration. Surfaces before any mutation.
	ErrorClassValidation ErrorClass = "validation"

	// ErrorClassPlatform indicates the host OS or architecture is not
	// supported. Fatal, aborts before any mutation.
	ErrorClassPlatform ErrorClass = "platform"

	// ErrorClassCancelled indicates the user declined the confirmation gate.
	// A decline is final, the run aborts cleanly with nothing mutated.
	ErrorClassCancelled ErrorClass = "cancelled"

	// ErrorClassDownload indicates a network or download failure.
	// Transient, usually worth a retry policy.
	ErrorClassDownload ErrorClass = "download"

	// ErrorClassMutation indicates a package-manager or filesystem mutation
	// failed. Transient, usually worth a retry policy.
	ErrorClassMutation ErrorClass = "mutation"

	// ErrorClassVerification indicates post-execution state did not match
	// expectations. Mutations already happened, so the run is not aborted,
	// only its verdict is downgraded.
	ErrorClassVerification ErrorClass = "verification"

	// ErrorClassShellInit indicates shell startup-file editing failed.
	ErrorClassShellInit ErrorClass = "shell_init"

	// ErrorClassPolicy indicates the plan was denied by a policy rule.
	ErrorClassPolicy ErrorClass = "policy"

	// ErrorClassStorage indicates the run store or journal could not be
	// written. Best-effort, never escalated to the run verdict.
	ErrorClassStorage ErrorClass = "storage"

	// ErrorClassInternal indicates an unexpected engine failure.
	ErrorClassInternal ErrorClass = "internal"
)

// Process exit codes, fixed small integers shared by every workflow.
const (
	ExitSuccess             = 0
	ExitFailure             = 1
	ExitBadArguments        = 2
	ExitUnsupportedPlatform = 3
	ExitUserCancelled       = 4
	ExitDownloadFailed      = 5
	ExitMutationFailed      = 6
	ExitVerificationFailed  = 7
	ExitShellInitFailed     = 8
	ExitPolicyDenied        = 9
)

// ExitCodeForClass maps an error class to its process exit code.
func ExitCodeForClass(class ErrorClass) int {
	switch class {
	case ErrorClassValidation:
		return ExitBadArguments
	case ErrorClassPlatform:
		return ExitUnsupportedPlatform
	case ErrorClassCancelled:
		return ExitUserCancelled
	case ErrorClassDownload:
		return ExitDownloadFailed
	case ErrorClassMutation:
		return ExitMutationFailed
	case ErrorClassVerification:
		return ExitVerificationFailed
	case ErrorClassShellInit:
		return ExitShellInitFailed
	case ErrorClassPolicy:
		return ExitPolicyDenied
	default:
		return ExitFailure
	}
}

// ExitCodeFromError maps any error to a process exit code. Nil maps to
// success, unclassified errors map to the generic failure code.
func ExitCodeFromError(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var e *EngineError
	if errors.As(err, &e) {
		return ExitCodeForClass(e.Class)
	}
	return ExitFailure
}

// EngineError represents a classified error with workflow context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Step is the workflow step that was executing, if applicable.
	Step string `json:"step,omitempty"`

	// Target is the installation target involved, if applicable.
	Target string `json:"target,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	switch {
	case e.Step != "" && e.Target != "":
		return fmt.Sprintf("[%s] %s (step=%s, target=%s)%s",
			e.Class, e.Message, e.Step, e.Target, e.causeSuffix())
	case e.Step != "":
		return fmt.Sprintf("[%s] %s (step=%s)%s", e.Class, e.Message, e.Step, e.causeSuffix())
	default:
		return fmt.Sprintf("[%s] %s%s", e.Class, e.Message, e.causeSuffix())
	}
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

func (e *EngineError) causeSuffix() string {
	if e.Err != nil {
		return ": " + e.Err.Error()
	}
	return ""
}

// Is implements error equality checking for errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// ExitCode returns the process exit code for this error.
func (e *EngineError) ExitCode() int {
	return ExitCodeForClass(e.Class)
}

// NewValidationError creates a new validation error.
func NewValidationError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassValidation, Message: message, Err: err}
}

// NewPlatformError creates a new unsupported-platform error.
func NewPlatformError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassPlatform, Message: message, Err: err}
}

// NewCancelledError creates a new user-cancellation error.
func NewCancelledError(message string) *EngineError {
	return &EngineError{Class: ErrorClassCancelled, Message: message, Code: ErrCodeUserCancelled}
}

// NewDownloadError creates a new download/network error.
func NewDownloadError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassDownload, Message: message, Err: err}
}

// NewMutationError creates a new mutation error.
func NewMutationError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassMutation, Message: message, Err: err}
}

// NewVerificationError creates a new verification error.
func NewVerificationError(message string) *EngineError {
	return &EngineError{Class: ErrorClassVerification, Message: message, Code: ErrCodeVerificationFailed}
}

// NewShellInitError creates a new shell-initialization error.
func NewShellInitError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassShellInit, Message: message, Err: err}
}

// NewPolicyError creates a new policy-denial error.
func NewPolicyError(message string) *EngineError {
	return &EngineError{Class: ErrorClassPolicy, Message: message, Code: ErrCodePolicyDenied}
}

// NewStorageError creates a new storage error.
func NewStorageError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassStorage, Message: message, Err: err}
}

// NewInternalError creates a new internal error.
func NewInternalError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassInternal, Message: message, Err: err}
}

// WithStep adds step context to an error.
func (e *EngineError) WithStep(step string) *EngineError {
	e.Step = step
	return e
}

// WithTarget adds target context to an error.
func (e *EngineError) WithTarget(target string) *EngineError {
	e.Target = target
	return e
}

// WithCode adds an error code to an error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// AsEngineError returns err as an EngineError, wrapping unclassified errors
// with the given fallback class.
func AsEngineError(err error, fallback ErrorClass) *EngineError {
	if err == nil {
		return nil
	}
	var e *EngineError
	if errors.As(err, &e) {
		return e
	}
	return &EngineError{Class: fallback, Message: "operation failed", Err: err}
}

// IsClass returns true if the error is classified with the given class.
func IsClass(err error, class ErrorClass) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == class
	}
	return false
}

// IsCancelled returns true if the error is a user cancellation.
func IsCancelled(err error) bool {
	return IsClass(err, ErrorClassCancelled)
}

// IsRetryable returns true if the error class represents a transient
// operational failure worth re-attempting. Cancellations, platform
// mismatches, validation failures and policy denials never are.
func IsRetryable(err error) bool {
	var e *EngineError
	if !errors.As(err, &e) {
		// Unclassified errors from external commands are assumed transient.
		return true
	}
	switch e.Class {
	case ErrorClassDownload, ErrorClassMutation, ErrorClassStorage, ErrorClassInternal:
		return true
	default:
		return false
	}
}

// Common error codes.
const (
	ErrCodeBadArguments       = "BAD_ARGUMENTS"
	ErrCodeProfileInvalid     = "PROFILE_INVALID"
	ErrCodeUnsupportedOS      = "UNSUPPORTED_OS"
	ErrCodeUnsupportedArch    = "UNSUPPORTED_ARCH"
	ErrCodeUserCancelled      = "USER_CANCELLED"
	ErrCodeDownloadFailed     = "DOWNLOAD_FAILED"
	ErrCodeSizeCheckFailed    = "SIZE_CHECK_FAILED"
	ErrCodeCommandFailed      = "COMMAND_FAILED"
	ErrCodeCopyFailed         = "COPY_FAILED"
	ErrCodeVerificationFailed = "VERIFICATION_FAILED"
	ErrCodeShellInitFailed    = "SHELL_INIT_FAILED"
	ErrCodePolicyDenied       = "POLICY_DENIED"
	ErrCodePolicyInvalid      = "POLICY_INVALID"
	ErrCodeStorageFailed      = "STORAGE_FAILED"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeInternal           = "INTERNAL_ERROR"
)

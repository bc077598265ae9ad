package engine

import (
	"context"
	"time"

	"github.com/bootforge/bootforge/pkg/telemetry"
)

// ActionExecutor is the single chokepoint for side-effecting operations.
// Every mutation a workflow performs goes through Perform, which gives each
// operation uniform dry-run handling, retry handling and logging.
type ActionExecutor struct {
	log    *telemetry.Logger
	dryRun bool

	// sleep pauses between retry attempts. Injectable so tests do not
	// wait out real delays.
	sleep func(ctx context.Context, d time.Duration) error

	// onRetry is notified after each failed non-final attempt,
	// before the retry delay.
	onRetry func(attempt, maxAttempts int)
}

// NewActionExecutor creates an executor. With dryRun set, Perform never
// invokes operations; it logs what would happen and reports simulation.
func NewActionExecutor(log *telemetry.Logger, dryRun bool) *ActionExecutor {
	return &ActionExecutor{
		log:    log,
		dryRun: dryRun,
		sleep:  sleepContext,
	}
}

// DryRun reports whether the executor is in simulation mode.
func (e *ActionExecutor) DryRun() bool {
	return e.dryRun
}

// OnRetry installs a hook invoked on every retry. The orchestrator uses it
// to publish retry events carrying the current step name.
func (e *ActionExecutor) OnRetry(hook func(attempt, maxAttempts int)) {
	e.onRetry = hook
}

// Perform executes op with a single attempt.
func (e *ActionExecutor) Perform(ctx context.Context, op Operation) ActionRecord {
	return e.PerformWithRetry(ctx, op, SingleAttempt())
}

// PerformWithRetry executes op under the given retry policy.
//
// In dry-run mode the operation is not invoked. The executor emits a
// "Would <description>" preview plus the exact command line, and the record
// reports a simulated outcome with zero attempts.
//
// On the real path the operation runs up to MaxAttempts times with a fixed
// delay between attempts. Every non-final failure logs one warning; the
// final failure logs one error. The delay is context-aware, so process
// cancellation cuts a retry pause short.
func (e *ActionExecutor) PerformWithRetry(ctx context.Context, op Operation, policy RetryPolicy) ActionRecord {
	rec := ActionRecord{
		Description: op.Description,
		Command:     op.Command,
		StartedAt:   time.Now(),
	}

	if e.dryRun {
		e.log.DryRunf("Would %s", op.Description)
		if op.Command != "" {
			e.log.Detect(op.Command)
		}
		rec.Outcome = OutcomeSimulated
		return rec
	}

	policy = policy.Normalize()
	e.log.Info(capitalize(op.Description))

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		rec.Attempts = attempt

		err := op.Run(ctx)
		if err == nil {
			rec.Outcome = OutcomeSucceeded
			rec.Duration = time.Since(rec.StartedAt)
			return rec
		}
		lastErr = err

		if attempt < policy.MaxAttempts {
			e.log.Warnf("Failed to %s (attempt %d/%d), retrying in %s: %v",
				op.Description, attempt, policy.MaxAttempts, policy.Delay, err)
			if e.onRetry != nil {
				e.onRetry(attempt, policy.MaxAttempts)
			}
			if serr := e.sleep(ctx, policy.Delay); serr != nil {
				lastErr = NewInternalError("retry interrupted", serr)
				break
			}
			continue
		}

		e.log.Errorf("Failed to %s after %d attempt(s): %v",
			op.Description, policy.MaxAttempts, err)
	}

	rec.Outcome = OutcomeFailed
	rec.Error = AsEngineError(lastErr, ErrorClassMutation)
	rec.Duration = time.Since(rec.StartedAt)
	return rec
}

// sleepContext pauses for d or until the context is cancelled.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		// Still honor an already-cancelled context between attempts.
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			return nil
		}
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// capitalize upper-cases the first byte of an ASCII description so the
// "download installer" phrasing reads as a sentence in the info log.
func capitalize(s string) string {
	if s == "" {
		return s
	}
	c := s[0]
	if c >= 'a' && c <= 'z' {
		return string(c-'a'+'A') + s[1:]
	}
	return s
}

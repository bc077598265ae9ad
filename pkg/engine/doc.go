// Package engine implements the idempotent provisioning workflow engine at
// the heart of bootforge.
//
// # Architecture
//
// A run walks a fixed state machine:
//
//	Init -> Detecting -> Confirming -> BackingUp -> Executing -> Verifying -> Reporting -> {Succeeded | Failed}
//
// Each phase is owned by one component:
//
//   - LocalProber detects pre-existing state (commands on PATH, files,
//     directories) without mutating anything.
//   - TerminalGate guards destructive operations behind a single y/N
//     prompt. A decline is final; force bypasses the prompt entirely.
//   - SnapshotManager copies mutable state into a timestamped backup
//     directory before the first mutation. Backups are best-effort and
//     never block the run.
//   - ActionExecutor performs every side-effecting operation: it owns
//     dry-run previews, fixed-delay retries and uniform logging.
//   - VerificationEngine re-probes the targets afterwards and compares
//     them against the workflow's post-conditions.
//   - Orchestrator drives the phases in order and produces the final
//     RunReport with counts, backup location and the process exit code.
//
// # Dry-run symmetry
//
// With DryRun set, the executor logs a "Would <action>" preview plus the
// exact command line for every operation, in the same order the real run
// would perform them, and reports each action as simulated. No filesystem
// or process mutation happens; verification is simulated as well. The only
// file a dry run touches is the log file.
//
// # Idempotent re-runs
//
// Workflows are written so a second invocation detects completed work and
// skips it via step guards. A crash mid-run leaves partial state that the
// next run repairs the same way.
//
// # Failure policy
//
// Each step is classified fatal or soft by the workflow definition. A
// fatal failure aborts execution with the step's error class fixing the
// exit code; a soft failure logs a warning and the run continues.
// Verification runs in either case so the final picture is accurate.
package engine

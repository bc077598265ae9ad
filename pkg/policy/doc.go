// Package policy gates workflow plans with Open Policy Agent (OPA)
// Rego rules before any mutation runs.
//
// The run lifecycle hands the resolved plan (workflow name, flags, the
// ordered step list with the paths each step mutates, and the probe
// detections) to the Gate after confirmation and before backup. A plan
// with an error-severity violation is denied and the run exits with
// the policy code; warning-severity violations are logged and the run
// proceeds.
//
// # Usage
//
//	gate, err := policy.NewGate(ctx, log, filepath.Join(dataDir, "policies"))
//	if err != nil {
//	    return err
//	}
//
//	eval, err := gate.Evaluate(ctx, plan)
//	if err != nil {
//	    return err
//	}
//	for _, v := range eval.Violations {
//	    fmt.Printf("%s [%s]: %s\n", v.Policy, v.Severity, v.Message)
//	}
//
// When wired into a run the Gate is used through its ReviewPlan
// method, which folds the evaluation into the engine's error model.
//
// # Builtin policies
//
//   - home-boundary: step mutation paths must stay under the home
//     directory or an allowlisted system prefix
//   - uninstall-backup: uninstall with backups disabled requires force
//   - remote-sync: remote upload steps require an explicit endpoint
//
// # User policies
//
// User policies are .rego files under <data-dir>/policies. Each module
// declares its own package and exposes a deny set whose members are
// message strings or objects with message, severity, and step keys:
//
//	# severity: warning
//	# Flag installs that skip confirmation prompts
//	package userpolicy.confirm
//
//	import rego.v1
//
//	deny contains msg if {
//	    input.workflow == "install"
//	    input.force
//	    msg := "forced installs skip confirmation prompts"
//	}
//
// Leading comment directives set severity (default error) and may
// disable a policy. `forge policy watch` watches the directory with
// fsnotify and recompiles after a debounced burst of changes.
package policy

package policy

// BuiltinPolicies returns the policies compiled into the binary. They
// guard the plan against the mistakes that are expensive to undo:
// mutations escaping the home directory, uninstalls that destroy the
// only copy of an environment, and sync runs aimed at nowhere.
func BuiltinPolicies() []Policy {
	return []Policy{
		homeBoundaryPolicy(),
		uninstallBackupPolicy(),
		remoteSyncPolicy(),
	}
}

// homeBoundaryPolicy confines step mutations to the user's home
// directory plus a short allowlist of system prefixes that package
// managers legitimately own.
func homeBoundaryPolicy() Policy {
	return Policy{
		Name:        "home-boundary",
		Description: "Mutation paths must stay under the home directory or an allowlisted prefix",
		Severity:    SeverityError,
		Enabled:     true,
		Source:      SourceBuiltin,
		Rego: `package bootforge.paths

import rego.v1

# Prefixes outside the home directory that provisioning may touch:
# Homebrew's own trees and the temp locations installers land in.
allowed_prefixes := [
	"/opt/homebrew",
	"/usr/local",
	"/tmp",
	"/private/tmp",
	"/private/var/folders",
	"/var/folders",
]

under(path, prefix) if {
	prefix != ""
	path == prefix
}

under(path, prefix) if {
	prefix != ""
	startswith(path, concat("", [prefix, "/"]))
}

allowed(path) if {
	under(path, input.home)
}

allowed(path) if {
	some prefix in allowed_prefixes
	under(path, prefix)
}

deny contains violation if {
	some step in input.steps
	some path in step.paths
	not allowed(path)
	violation := {
		"message": sprintf("step %q mutates %q outside the home directory", [step.name, path]),
		"severity": "error",
		"step": step.name,
	}
}

deny contains violation if {
	input.home == ""
	some step in input.steps
	count(step.paths) > 0
	violation := {
		"message": "plan carries mutation paths but no home directory to confine them to",
		"severity": "error",
	}
}
`,
	}
}

// uninstallBackupPolicy refuses to remove an installation without a
// snapshot unless the operator forces it.
func uninstallBackupPolicy() Policy {
	return Policy{
		Name:        "uninstall-backup",
		Description: "Uninstall without a pre-mutation backup requires force",
		Severity:    SeverityError,
		Enabled:     true,
		Source:      SourceBuiltin,
		Rego: `package bootforge.backup

import rego.v1

deny contains violation if {
	input.workflow == "uninstall"
	input.no_backup
	not input.force
	violation := {
		"message": "uninstall with backups disabled requires force",
		"severity": "error",
	}
}
`,
	}
}

// remoteSyncPolicy requires remote upload steps to name their endpoint.
func remoteSyncPolicy() Policy {
	return Policy{
		Name:        "remote-sync",
		Description: "Remote sync steps require an explicit remote endpoint",
		Severity:    SeverityError,
		Enabled:     true,
		Source:      SourceBuiltin,
		Rego: `package bootforge.sync

import rego.v1

deny contains violation if {
	input.workflow == "sync"
	input.remote == ""
	some step in input.steps
	startswith(step.name, "upload_")
	violation := {
		"message": sprintf("step %q uploads to a remote but no endpoint is configured", [step.name]),
		"severity": "error",
		"step": step.name,
	}
}
`,
	}
}

package policy

import "time"

// Severity ranks a violation. Error-severity violations deny the plan;
// anything weaker is reported and the run proceeds.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Blocks reports whether a violation at this severity denies the plan.
func (s Severity) Blocks() bool {
	return s == SeverityError
}

// ParseSeverity maps a string to a Severity, falling back to the given
// default for unknown or empty input.
func ParseSeverity(s string, def Severity) Severity {
	switch Severity(s) {
	case SeverityInfo, SeverityWarning, SeverityError:
		return Severity(s)
	default:
		return def
	}
}

// Source tells where a policy was loaded from.
type Source string

const (
	// SourceBuiltin marks policies compiled into the binary.
	SourceBuiltin Source = "builtin"

	// SourceUser marks policies loaded from the user policy directory.
	SourceUser Source = "user"
)

// Policy is one Rego rule set evaluated against a plan. The module must
// expose a `deny` set under its package; each member is either a plain
// message string or an object with at least a "message" key.
type Policy struct {
	// Name identifies the policy. User policies take their name from the
	// file name.
	Name string `json:"name"`

	// Description is a short human-readable summary.
	Description string `json:"description,omitempty"`

	// Severity applies to violations that do not carry their own.
	Severity Severity `json:"severity"`

	// Enabled controls whether the policy participates in evaluation.
	Enabled bool `json:"enabled"`

	// Source tells where the policy came from.
	Source Source `json:"source"`

	// Path is the file the policy was loaded from, empty for builtins.
	Path string `json:"path,omitempty"`

	// Rego is the policy module source.
	Rego string `json:"-"`
}

// Violation is one deny result produced by a policy.
type Violation struct {
	// Policy is the name of the policy that produced the violation.
	Policy string `json:"policy"`

	// Severity is the violation severity.
	Severity Severity `json:"severity"`

	// Message describes what the plan does wrong.
	Message string `json:"message"`

	// Step names the offending workflow step when the policy identified
	// one.
	Step string `json:"step,omitempty"`
}

// Evaluation is the aggregate result of reviewing one plan.
type Evaluation struct {
	// Allowed is true when no blocking violation was found.
	Allowed bool `json:"allowed"`

	// Violations holds every violation, blocking or not.
	Violations []Violation `json:"violations,omitempty"`

	// Evaluated is the number of enabled policies that ran.
	Evaluated int `json:"evaluated"`

	// Duration is the total evaluation time.
	Duration time.Duration `json:"duration"`
}

// Blocking returns the violations that deny the plan.
func (e *Evaluation) Blocking() []Violation {
	var out []Violation
	for _, v := range e.Violations {
		if v.Severity.Blocks() {
			out = append(out, v)
		}
	}
	return out
}

// Warnings returns the violations that are reported but do not deny.
func (e *Evaluation) Warnings() []Violation {
	var out []Violation
	for _, v := range e.Violations {
		if !v.Severity.Blocks() {
			out = append(out, v)
		}
	}
	return out
}

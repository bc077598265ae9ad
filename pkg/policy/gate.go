package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"

	"github.com/bootforge/bootforge/pkg/engine"
	"github.com/bootforge/bootforge/pkg/telemetry"
)

// Gate evaluates workflow plans against the builtin policies plus any
// user policies found in the configured directory. It sits between
// confirmation and backup in the run lifecycle: a plan with an
// error-severity violation never reaches a mutation.
//
// The mutex only matters for `forge policy watch`, whose change handler
// reloads policies while the main goroutine may be reading them.
type Gate struct {
	mu       sync.RWMutex
	log      *telemetry.Logger
	userDir  string
	compiled []*compiledPolicy
}

type compiledPolicy struct {
	policy   Policy
	prepared rego.PreparedEvalQuery
}

// NewGate compiles the builtin policies and everything under userDir.
// An empty userDir loads builtins only. A user policy that fails to
// parse or compile is an error, not a skip: a silently dropped policy
// would let through exactly the plans it was written to stop.
func NewGate(ctx context.Context, log *telemetry.Logger, userDir string) (*Gate, error) {
	g := &Gate{
		log:     log.NewComponentLogger("policy"),
		userDir: userDir,
	}
	if err := g.Reload(ctx); err != nil {
		return nil, err
	}
	return g, nil
}

// Reload recompiles the full policy set. On failure the previous set
// stays in effect.
func (g *Gate) Reload(ctx context.Context) error {
	policies := BuiltinPolicies()
	if g.userDir != "" {
		user, err := LoadDir(g.userDir)
		if err != nil {
			return err
		}
		policies = append(policies, user...)
	}

	compiled := make([]*compiledPolicy, 0, len(policies))
	for _, p := range policies {
		cp, err := compilePolicy(ctx, p)
		if err != nil {
			return err
		}
		compiled = append(compiled, cp)
	}

	g.mu.Lock()
	g.compiled = compiled
	g.mu.Unlock()

	g.log.Debugf("Loaded %d policies (%d builtin)", len(compiled), len(BuiltinPolicies()))
	return nil
}

// Policies returns the loaded policies in evaluation order: builtins
// first, then user policies sorted by name.
func (g *Gate) Policies() []Policy {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]Policy, 0, len(g.compiled))
	for _, cp := range g.compiled {
		out = append(out, cp.policy)
	}
	return out
}

// ReviewPlan implements the plan review hook of the run lifecycle.
// Warning-severity violations are logged and the plan proceeds. Any
// error-severity violation denies the plan with a policy-class error.
func (g *Gate) ReviewPlan(ctx context.Context, plan *engine.PlanDocument) error {
	eval, err := g.Evaluate(ctx, plan)
	if err != nil {
		return err
	}

	for _, w := range eval.Warnings() {
		g.log.Warnf("Policy %s: %s", w.Policy, w.Message)
	}

	blocking := eval.Blocking()
	if len(blocking) == 0 {
		g.log.Debugf("Plan for %q allowed by %d policies", plan.Workflow, eval.Evaluated)
		return nil
	}

	messages := make([]string, 0, len(blocking))
	for _, v := range blocking {
		messages = append(messages, v.Message)
	}
	return engine.NewPolicyError(blocking[0].Message).
		WithDetail("policy", blocking[0].Policy).
		WithDetail("violations", messages)
}

// Evaluate runs every enabled policy against the plan and returns the
// full result, blocking and non-blocking violations alike.
func (g *Gate) Evaluate(ctx context.Context, plan *engine.PlanDocument) (*Evaluation, error) {
	input, err := planInput(plan)
	if err != nil {
		return nil, engine.NewInternalError("could not encode plan for policy evaluation", err)
	}

	g.mu.RLock()
	compiled := g.compiled
	g.mu.RUnlock()

	start := time.Now()
	eval := &Evaluation{Allowed: true}
	for _, cp := range compiled {
		if !cp.policy.Enabled {
			continue
		}
		rs, err := cp.prepared.Eval(ctx, rego.EvalInput(input))
		if err != nil {
			return nil, engine.NewInternalError(fmt.Sprintf("policy %q failed to evaluate", cp.policy.Name), err)
		}
		eval.Evaluated++
		for _, raw := range denyResults(rs) {
			eval.Violations = append(eval.Violations, asViolation(cp.policy, raw))
		}
	}
	for _, v := range eval.Violations {
		if v.Severity.Blocks() {
			eval.Allowed = false
			break
		}
	}
	eval.Duration = time.Since(start)
	return eval, nil
}

// compilePolicy parses the module, derives the deny query from its
// package declaration, and prepares it for repeated evaluation.
func compilePolicy(ctx context.Context, p Policy) (*compiledPolicy, error) {
	module, err := ast.ParseModule(p.Name+".rego", p.Rego)
	if err != nil {
		return nil, engine.NewValidationError(fmt.Sprintf("policy %q does not parse", p.Name), err).
			WithCode(engine.ErrCodePolicyInvalid)
	}

	pkg := strings.TrimPrefix(module.Package.Path.String(), "data.")
	prepared, err := rego.New(
		rego.Module(p.Name+".rego", p.Rego),
		rego.Query("data."+pkg+".deny"),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, engine.NewValidationError(fmt.Sprintf("policy %q does not compile", p.Name), err).
			WithCode(engine.ErrCodePolicyInvalid)
	}

	return &compiledPolicy{policy: p, prepared: prepared}, nil
}

// planInput round-trips the plan through JSON so policies see the wire
// field names rather than Go struct fields.
func planInput(plan *engine.PlanDocument) (interface{}, error) {
	raw, err := json.Marshal(plan)
	if err != nil {
		return nil, err
	}
	var input interface{}
	if err := json.Unmarshal(raw, &input); err != nil {
		return nil, err
	}
	return input, nil
}

// denyResults flattens the members of every deny set in the result.
func denyResults(rs rego.ResultSet) []interface{} {
	var out []interface{}
	for _, result := range rs {
		for _, expr := range result.Expressions {
			if set, ok := expr.Value.([]interface{}); ok {
				out = append(out, set...)
			}
		}
	}
	return out
}

// asViolation converts one deny member into a Violation. Plain strings
// become the message; objects may carry message, severity, and step.
func asViolation(p Policy, raw interface{}) Violation {
	v := Violation{Policy: p.Name, Severity: p.Severity}
	switch r := raw.(type) {
	case string:
		v.Message = r
	case map[string]interface{}:
		if msg, ok := r["message"].(string); ok {
			v.Message = msg
		}
		if sev, ok := r["severity"].(string); ok {
			v.Severity = ParseSeverity(sev, p.Severity)
		}
		if step, ok := r["step"].(string); ok {
			v.Step = step
		}
	default:
		v.Message = fmt.Sprintf("%v", raw)
	}
	return v
}

package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/bootforge/bootforge/pkg/engine"
	"github.com/bootforge/bootforge/pkg/policy"
	"github.com/bootforge/bootforge/pkg/profile"
	"github.com/bootforge/bootforge/pkg/shellinit"
	"github.com/bootforge/bootforge/pkg/sysops"
	"github.com/bootforge/bootforge/pkg/telemetry"
	"github.com/bootforge/bootforge/pkg/transports/ssh"
	"github.com/bootforge/bootforge/pkg/workflow"
)

// Shared by eval and watch; only one subcommand runs per invocation.
var (
	policyProfile  string
	policyForce    bool
	policyNoBackup bool
	policyRemote   string
)

// newPolicyCommand creates the policy command with its subcommands
func newPolicyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect and test plan policies",
		Long: `Every run's plan is reviewed by the policy gate before anything
mutates: builtin policies compiled into the binary plus any .rego
files under <data-dir>/policies. These subcommands are for writing
and testing policies without running a workflow.`,
	}

	cmd.AddCommand(
		newPolicyListCommand(),
		newPolicyEvalCommand(),
		newPolicyWatchCommand(),
	)

	return cmd
}

// newPolicyListCommand creates the policy list command
func newPolicyListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List loaded policies in evaluation order",
		Example: `  # Builtins plus everything under <data-dir>/policies
  forge policy list`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPolicyList(cmd.Context())
		},
	}
}

// newPolicyEvalCommand creates the policy eval command
func newPolicyEvalCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "eval <install|uninstall|sync>",
		Short: "Evaluate a workflow plan against the loaded policies",
		Long: `Eval builds the named workflow's plan exactly as a run would --
resolved paths, probe results, flags -- and feeds it through the
policy gate without executing anything. A denied plan exits with the
policy-violation code, so eval works in scripts and CI.

With --remote the plan carries the endpoint but nothing is dialed;
targets that would need the remote connection appear as unknown.`,
		Args: cobra.ExactArgs(1),
		Example: `  # Would an install on this machine pass policy?
  forge policy eval install

  # Test the uninstall-backup policy
  forge policy eval uninstall --no-backup

  # See the exact input document policies receive
  forge policy eval install --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPolicyEval(cmd.Context(), args[0])
		},
	}

	addPlanFlags(cmd)

	return cmd
}

// newPolicyWatchCommand creates the policy watch command
func newPolicyWatchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch <install|uninstall|sync>",
		Short: "Re-evaluate a plan whenever a policy file changes",
		Long: `Watch builds the named workflow's plan once, then watches the policy
directory and re-runs the evaluation after every change. Edit a .rego
file, save, and see the verdict; a policy that no longer compiles is
reported and the previous set stays in effect. Stop with Ctrl-C.`,
		Args: cobra.ExactArgs(1),
		Example: `  # Iterate on a policy against the install plan
  forge policy watch install`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPolicyWatch(cmd.Context(), args[0])
		},
	}

	addPlanFlags(cmd)

	return cmd
}

func addPlanFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&policyProfile, "profile", "p", "", "profile file (.cue, .yaml, .star); default is the embedded profile")
	cmd.Flags().BoolVar(&policyForce, "force", false, "build the plan as a forced run")
	cmd.Flags().BoolVar(&policyNoBackup, "no-backup", false, "build the plan without the pre-mutation snapshot")
	cmd.Flags().StringVar(&policyRemote, "remote", "", "remote endpoint as user@host[:port] (sync plans only, never dialed)")
}

func runPolicyList(ctx context.Context) error {
	dataRoot, err := resolveDataDir()
	if err != nil {
		return err
	}
	tel, err := newTelemetry("", dataRoot)
	if err != nil {
		return err
	}
	defer tel.Shutdown(context.Background())

	gate, err := policy.NewGate(ctx, tel.Logger, policiesDir(dataRoot))
	if err != nil {
		return err
	}
	policies := gate.Policies()

	if jsonOutput {
		return printJSON(struct {
			Directory string          `json:"directory"`
			Policies  []policy.Policy `json:"policies"`
		}{policiesDir(dataRoot), policies})
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSEVERITY\tSOURCE\tENABLED\tDESCRIPTION")
	for _, p := range policies {
		desc := p.Description
		if desc == "" && p.Path != "" {
			desc = p.Path
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			p.Name, p.Severity, p.Source, enabledLabel(p.Enabled), desc)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Printf("\nUser policies load from %s\n", policiesDir(dataRoot))
	return nil
}

func runPolicyEval(ctx context.Context, workflowName string) error {
	dataRoot, err := resolveDataDir()
	if err != nil {
		return err
	}
	tel, err := newTelemetry("", dataRoot)
	if err != nil {
		return err
	}
	defer tel.Shutdown(context.Background())
	log := tel.Logger

	plan, err := buildPolicyPlan(ctx, log, workflowName, dataRoot)
	if err != nil {
		return err
	}

	gate, err := policy.NewGate(ctx, log, policiesDir(dataRoot))
	if err != nil {
		return err
	}
	eval, err := gate.Evaluate(ctx, plan)
	if err != nil {
		return err
	}

	if jsonOutput {
		if err := printJSON(struct {
			Plan       *engine.PlanDocument `json:"plan"`
			Evaluation *policy.Evaluation   `json:"evaluation"`
		}{plan, eval}); err != nil {
			return err
		}
	} else {
		printEvaluation(plan, eval)
	}

	if !eval.Allowed {
		return engine.NewPolicyError(
			fmt.Sprintf("%s plan denied by %d policy violation(s)", plan.Workflow, len(eval.Blocking())))
	}
	return nil
}

func runPolicyWatch(ctx context.Context, workflowName string) error {
	dataRoot, err := resolveDataDir()
	if err != nil {
		return err
	}
	tel, err := newTelemetry("", dataRoot)
	if err != nil {
		return err
	}
	defer tel.Shutdown(context.Background())
	log := tel.Logger

	plan, err := buildPolicyPlan(ctx, log, workflowName, dataRoot)
	if err != nil {
		return err
	}

	// The watcher needs the directory to exist, even if it is empty.
	dir := policiesDir(dataRoot)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return engine.NewStorageError("cannot create policy directory "+dir, err)
	}

	gate, err := policy.NewGate(ctx, log, dir)
	if err != nil {
		return err
	}

	evaluate := func() {
		eval, err := gate.Evaluate(ctx, plan)
		if err != nil {
			log.Errorf("Evaluation failed: %v", err)
			return
		}
		printEvaluation(plan, eval)
	}

	fmt.Printf("Watching %s (Ctrl-C to stop)\n\n", dir)
	evaluate()

	return policy.Watch(ctx, log, dir, func() {
		fmt.Printf("\n--- %s ---\n", time.Now().Format("15:04:05"))
		if err := gate.Reload(ctx); err != nil {
			log.Errorf("Reload failed, previous policies stay in effect: %v", err)
			return
		}
		evaluate()
	})
}

// buildPolicyPlan builds the named workflow from the current profile and
// environment and summarizes it the way the orchestrator would before
// review. Local plans carry real probe results; remote plans skip
// probing, so their targets appear as unknown.
func buildPolicyPlan(ctx context.Context, log *telemetry.Logger, workflowName, dataRoot string) (*engine.PlanDocument, error) {
	builders := map[string]func(*profile.Profile, engine.RunConfiguration, workflow.Deps) (*engine.Workflow, error){
		"install":   workflow.Install,
		"uninstall": workflow.Uninstall,
		"sync":      workflow.Sync,
	}
	build, ok := builders[workflowName]
	if !ok {
		return nil, engine.NewValidationError(
			fmt.Sprintf("unknown workflow %q, want install, uninstall or sync", workflowName), nil).
			WithCode(engine.ErrCodeBadArguments)
	}

	cfg := engine.RunConfiguration{
		Workflow: workflowName,
		DataDir:  dataRoot,
		Force:    policyForce,
		NoBackup: policyNoBackup,
	}
	if err := detectEnvironment(&cfg); err != nil {
		return nil, err
	}

	loader, err := profile.NewLoader(log)
	if err != nil {
		return nil, err
	}
	prof, err := loadProfile(ctx, loader, policyProfile)
	if err != nil {
		return nil, err
	}

	deps := workflow.Deps{
		Log:        log,
		Runner:     sysops.NewLocalRunner(log),
		Downloader: sysops.NewHTTPDownloader(log),
		Editor:     shellinit.NewEditor(log),
	}

	if workflowName == "sync" {
		if policyProfile == "" {
			return nil, engine.NewValidationError("sync evaluation requires --profile", nil).
				WithCode(engine.ErrCodeBadArguments)
		}
		abs, err := filepath.Abs(policyProfile)
		if err != nil {
			return nil, engine.NewValidationError("cannot resolve profile path", err).
				WithCode(engine.ErrCodeBadArguments)
		}
		cfg.SyncSource = filepath.Dir(abs)
	}
	if policyRemote != "" {
		if _, err := ssh.ParseEndpoint(policyRemote); err != nil {
			return nil, err
		}
		cfg.Remote = policyRemote
		deps.Uploader = planOnlyUploader{}
	}

	wf, err := build(prof, cfg, deps)
	if err != nil {
		return nil, err
	}

	var detections []engine.Detection
	if cfg.Remote == "" {
		detections = engine.NewLocalProber(log).DetectAll(ctx, wf.Targets)
	}
	return engine.PlanFor(wf, cfg, uuid.New().String(), detections), nil
}

// planOnlyUploader satisfies the sync builder's transport requirement
// when only the plan is wanted. Evaluation never executes steps.
type planOnlyUploader struct{}

func (planOnlyUploader) UploadFile(context.Context, string, string, os.FileMode) error {
	return engine.NewInternalError("plan-only transport cannot upload", nil)
}

func printEvaluation(plan *engine.PlanDocument, eval *policy.Evaluation) {
	fmt.Printf("Plan %s: %d step(s), force %s, backup %s\n",
		plan.Workflow, len(plan.Steps), onOff(plan.Force), onOff(!plan.NoBackup))
	fmt.Printf("Policies: %d evaluated in %s\n", eval.Evaluated, eval.Duration.Round(time.Millisecond))

	if len(eval.Violations) > 0 {
		fmt.Println()
		for _, v := range eval.Violations {
			where := ""
			if v.Step != "" {
				where = v.Step + ": "
			}
			fmt.Printf("  %-4s  %-24s %s%s\n", sevLabel(v.Severity), v.Policy, where, v.Message)
		}
	}

	fmt.Println()
	if eval.Allowed {
		fmt.Println("Plan allowed.")
	} else {
		fmt.Printf("Plan denied by %d policy violation(s).\n", len(eval.Blocking()))
	}
}

func sevLabel(s policy.Severity) string {
	switch s {
	case policy.SeverityError:
		return "DENY"
	case policy.SeverityWarning:
		return "WARN"
	default:
		return "INFO"
	}
}

func enabledLabel(enabled bool) string {
	if enabled {
		return "yes"
	}
	return "no"
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

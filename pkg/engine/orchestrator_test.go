package engine

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bootforge/bootforge/pkg/telemetry"
)

// newTestTelemetry builds a quiet telemetry stack: buffered console,
// file sink in a temp dir, in-memory metrics, synchronous events, no-op
// tracing.
func newTestTelemetry(t *testing.T) (*telemetry.Telemetry, string) {
	t.Helper()

	logPath := filepath.Join(t.TempDir(), "run.log")
	log := telemetry.NewLoggerWithConsole(telemetry.LoggingConfig{
		Level:    "debug",
		FilePath: logPath,
		NoColor:  true,
	}, &bytes.Buffer{})
	t.Cleanup(func() { log.Close() })

	metrics, err := telemetry.NewMetrics(telemetry.MetricsConfig{Enabled: true, Namespace: "bootforge"})
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	tracer, err := telemetry.NewTracer(telemetry.TracingConfig{Enabled: false}, "bootforge", "test", "test")
	if err != nil {
		t.Fatalf("NewTracer: %v", err)
	}

	return &telemetry.Telemetry{
		Logger:  log,
		Metrics: metrics,
		Tracer:  tracer,
		Events:  telemetry.NewEventBus(telemetry.EventsConfig{Enabled: true}),
	}, logPath
}

// stubGate answers every prompt with a fixed verdict and counts calls.
type stubGate struct {
	answer bool
	calls  int
}

func (g *stubGate) Confirm(string) bool {
	g.calls++
	return g.answer
}

// stubSnapshotter records requested paths and fabricates a manifest.
type stubSnapshotter struct {
	root  string
	calls [][]string
}

func (s *stubSnapshotter) Snapshot(_ context.Context, paths []string) *BackupManifest {
	s.calls = append(s.calls, paths)
	m := &BackupManifest{Root: s.root}
	for _, p := range paths {
		m.Entries = append(m.Entries, BackupEntry{Source: p, Status: BackupCopied})
	}
	return m
}

// captureRecorder collects recorder calls, optionally failing every one.
type captureRecorder struct {
	fail        bool
	starts      int
	transitions []string
	steps       []StepResult
	backups     int
	verica      int
	ends        int
}

func (r *captureRecorder) err() error {
	if r.fail {
		return errors.New("store unavailable")
	}
	return nil
}

func (r *captureRecorder) RecordRunStart(context.Context, *RunReport) error {
	r.starts++
	return r.err()
}

func (r *captureRecorder) RecordTransition(_ context.Context, _ string, from, to WorkflowState) error {
	r.transitions = append(r.transitions, string(from)+">"+string(to))
	return r.err()
}

func (r *captureRecorder) RecordStep(_ context.Context, _ string, result StepResult) error {
	r.steps = append(r.steps, result)
	return r.err()
}

func (r *captureRecorder) RecordBackup(context.Context, string, *BackupManifest) error {
	r.backups++
	return r.err()
}

func (r *captureRecorder) RecordVerification(context.Context, string, *VerificationReport) error {
	r.verica++
	return r.err()
}

func (r *captureRecorder) RecordRunEnd(context.Context, *RunReport) error {
	r.ends++
	return r.err()
}

// denyReviewer denies every plan.
type denyReviewer struct{ seen *PlanDocument }

func (d *denyReviewer) ReviewPlan(_ context.Context, plan *PlanDocument) error {
	d.seen = plan
	return NewPolicyError("backups must stay enabled for uninstall")
}

// mutateStep returns a step that flips a target present in the stub probe,
// imitating a real mutation, and counts real invocations.
func mutateStep(name string, class StepClass, probe *stubProber, target string, to Presence, calls *int) Step {
	return Step{
		Name:         name,
		Description:  "apply " + name,
		Class:        class,
		FailureClass: ErrorClassMutation,
		Run: func(ctx context.Context, rc *RunContext) error {
			return rc.Record(rc.Exec.Perform(ctx, Operation{
				Description: "apply " + name,
				Command:     "apply " + name,
				Run: func(context.Context) error {
					*calls++
					probe.presence[target] = to
					return nil
				},
			}))
		},
	}
}

// failingStep returns a step whose operation always fails with class.
func failingStep(name string, stepClass StepClass, errClass ErrorClass, calls *int) Step {
	return Step{
		Name:         name,
		Description:  "apply " + name,
		Class:        stepClass,
		FailureClass: errClass,
		Run: func(ctx context.Context, rc *RunContext) error {
			return rc.Record(rc.Exec.Perform(ctx, Operation{
				Description: "apply " + name,
				Run: func(context.Context) error {
					*calls++
					return &EngineError{Class: errClass, Message: name + " failed"}
				},
			}))
		},
	}
}

// installFixture builds an install-like workflow over the stub probe: one
// directory target, a prompt when it already exists, one mutating step and
// a present post-condition.
func installFixture(probe *stubProber, calls *int) *Workflow {
	target := Target{Name: "install directory", Kind: KindDirectory, Path: "/opt/miniforge"}
	return &Workflow{
		Name:    "install",
		Targets: []Target{target},
		Prompt: func(rc *RunContext) string {
			if rc.Detected("install directory").Presence == PresencePresent {
				return "An installation already exists. Continue anyway?"
			}
			return ""
		},
		BackupPaths: func(rc *RunContext) []string {
			if rc.Detected("install directory").Presence == PresencePresent {
				return []string{"/opt/miniforge"}
			}
			return nil
		},
		Steps: []Step{
			mutateStep("create_install_dir", StepFatal, probe, "install directory", PresencePresent, calls),
		},
		Expectations: func(*RunContext) []Expectation {
			return []Expectation{{Target: target, Want: PresencePresent}}
		},
	}
}

func newOrchestrator(t *testing.T, deps Deps) *Orchestrator {
	t.Helper()

	o, err := NewOrchestrator(deps)
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}
	return o
}

func TestOrchestrator_Run_FreshInstallSucceeds(t *testing.T) {
	tel, _ := newTestTelemetry(t)
	probe := &stubProber{presence: map[string]Presence{}}
	gate := &stubGate{answer: false} // must never be consulted on a fresh install
	rec := &captureRecorder{}

	calls := 0
	wf := installFixture(probe, &calls)
	o := newOrchestrator(t, Deps{Telemetry: tel, Probe: probe, Gate: gate, Recorder: rec})

	report := o.Run(context.Background(), wf, RunConfiguration{Workflow: "install"})

	if report.ExitCode != ExitSuccess {
		t.Fatalf("exit code = %d, want 0 (failure: %v)", report.ExitCode, report.Failure)
	}
	if report.State != StateSucceeded {
		t.Errorf("state = %q, want succeeded", report.State)
	}
	if calls != 1 {
		t.Errorf("mutation ran %d times, want 1", calls)
	}
	if gate.calls != 0 {
		t.Errorf("gate consulted %d times on a fresh install, want 0", gate.calls)
	}
	if report.StepsRun != 1 || report.StepsFailed != 0 || report.StepsSkipped != 0 {
		t.Errorf("step counts = %d/%d/%d, want 1/0/0",
			report.StepsRun, report.StepsSkipped, report.StepsFailed)
	}
	if report.Verification == nil || !report.Verification.Pass {
		t.Errorf("verification = %+v, want pass", report.Verification)
	}
	if rec.starts != 1 || rec.ends != 1 {
		t.Errorf("recorder starts/ends = %d/%d, want 1/1", rec.starts, rec.ends)
	}
}

func TestOrchestrator_Run_GuidanceOnlyOnSuccess(t *testing.T) {
	cases := []struct {
		name string
		fail bool
		want int
	}{
		{name: "successful run carries the workflow hints", fail: false, want: 1},
		{name: "failed run reports no hints", fail: true, want: 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tel, _ := newTestTelemetry(t)
			probe := &stubProber{presence: map[string]Presence{}}

			calls := 0
			wf := installFixture(probe, &calls)
			wf.Guidance = func(*RunContext) []string {
				return []string{"Restart your terminal to pick up the changes"}
			}
			if tc.fail {
				wf.Steps = []Step{failingStep("create_install_dir", StepFatal, ErrorClassMutation, &calls)}
			}

			o := newOrchestrator(t, Deps{Telemetry: tel, Probe: probe, Gate: &stubGate{answer: true}, Recorder: &captureRecorder{}})
			report := o.Run(context.Background(), wf, RunConfiguration{Workflow: "install"})

			if len(report.Guidance) != tc.want {
				t.Fatalf("guidance = %v, want %d hint(s)", report.Guidance, tc.want)
			}
			if tc.want > 0 && report.Guidance[0] != "Restart your terminal to pick up the changes" {
				t.Errorf("guidance[0] = %q", report.Guidance[0])
			}
		})
	}
}

func TestOrchestrator_Run_DryRunTouchesNothing(t *testing.T) {
	tel, logPath := newTestTelemetry(t)
	probe := &stubProber{presence: map[string]Presence{
		"install directory": PresencePresent, // conflict, would normally prompt
	}}
	gate := &stubGate{answer: false}
	snap := &stubSnapshotter{root: "/tmp/backups/x"}

	calls := 0
	wf := installFixture(probe, &calls)
	o := newOrchestrator(t, Deps{Telemetry: tel, Probe: probe, Gate: gate, Backup: snap})

	report := o.Run(context.Background(), wf, RunConfiguration{Workflow: "install", DryRun: true})

	if report.ExitCode != ExitSuccess {
		t.Fatalf("exit code = %d, want 0", report.ExitCode)
	}
	if calls != 0 {
		t.Errorf("dry run invoked the mutation %d times", calls)
	}
	if gate.calls != 0 {
		t.Errorf("dry run consulted the gate %d times", gate.calls)
	}
	if len(snap.calls) != 0 {
		t.Errorf("dry run took %d snapshots", len(snap.calls))
	}
	if len(report.Steps) != 1 || report.Steps[0].Outcome != OutcomeSimulated {
		t.Errorf("step outcomes = %+v, want one simulated", report.Steps)
	}
	if report.Verification == nil || !report.Verification.Simulated {
		t.Errorf("verification = %+v, want simulated", report.Verification)
	}

	levels := logLevels(t, logPath)
	if countLevel(levels, "dry-run") == 0 {
		t.Error("no dry-run preview lines were logged")
	}
}

func TestOrchestrator_Run_DeclineCancelsBeforeMutation(t *testing.T) {
	tel, _ := newTestTelemetry(t)
	probe := &stubProber{presence: map[string]Presence{
		"install directory": PresencePresent,
	}}
	gate := &stubGate{answer: false}
	snap := &stubSnapshotter{root: "/tmp/backups/x"}

	calls := 0
	wf := installFixture(probe, &calls)
	o := newOrchestrator(t, Deps{Telemetry: tel, Probe: probe, Gate: gate, Backup: snap})

	report := o.Run(context.Background(), wf, RunConfiguration{Workflow: "install"})

	if report.ExitCode != ExitUserCancelled {
		t.Fatalf("exit code = %d, want %d", report.ExitCode, ExitUserCancelled)
	}
	if report.State != StateFailed {
		t.Errorf("state = %q, want failed", report.State)
	}
	if gate.calls != 1 {
		t.Errorf("gate consulted %d times, want 1", gate.calls)
	}
	if calls != 0 {
		t.Errorf("mutation ran %d times after a decline", calls)
	}
	if len(snap.calls) != 0 {
		t.Errorf("snapshot taken %d times after a decline", len(snap.calls))
	}
	if !IsCancelled(report.Failure) {
		t.Errorf("failure = %v, want cancelled class", report.Failure)
	}
}

func TestOrchestrator_Run_ForceBypassesPrompt(t *testing.T) {
	tel, _ := newTestTelemetry(t)
	probe := &stubProber{presence: map[string]Presence{
		"install directory": PresencePresent,
	}}
	log, _ := newCapturedLogger(t)
	// Real gate fed a decline: force must win without reading it.
	gate := NewTerminalGate(strings.NewReader("n\n"), &bytes.Buffer{}, log, true)

	calls := 0
	wf := installFixture(probe, &calls)
	o := newOrchestrator(t, Deps{Telemetry: tel, Probe: probe, Gate: gate})

	report := o.Run(context.Background(), wf, RunConfiguration{Workflow: "install", Force: true})

	if report.ExitCode != ExitSuccess {
		t.Fatalf("exit code = %d, want 0 (failure: %v)", report.ExitCode, report.Failure)
	}
	if calls != 1 {
		t.Errorf("mutation ran %d times, want 1", calls)
	}
}

func TestOrchestrator_Run_FatalStepAbortsWithItsExitCode(t *testing.T) {
	tel, _ := newTestTelemetry(t)
	probe := &stubProber{presence: map[string]Presence{}}

	fatalCalls, laterCalls := 0, 0
	wf := &Workflow{
		Name: "install",
		Steps: []Step{
			failingStep("download_installer", StepFatal, ErrorClassDownload, &fatalCalls),
			mutateStep("run_installer", StepFatal, probe, "install directory", PresencePresent, &laterCalls),
		},
		Expectations: func(*RunContext) []Expectation {
			return []Expectation{{Target: Target{Name: "install directory"}, Want: PresencePresent}}
		},
	}
	o := newOrchestrator(t, Deps{Telemetry: tel, Probe: probe, Gate: &stubGate{answer: true}})

	report := o.Run(context.Background(), wf, RunConfiguration{Workflow: "install"})

	if report.ExitCode != ExitDownloadFailed {
		t.Fatalf("exit code = %d, want %d", report.ExitCode, ExitDownloadFailed)
	}
	if laterCalls != 0 {
		t.Errorf("step after the fatal failure ran %d times", laterCalls)
	}
	if report.StepsFailed != 1 {
		t.Errorf("failed steps = %d, want 1", report.StepsFailed)
	}
	if report.Verification == nil {
		t.Error("verification skipped after fatal failure, must always run")
	}
	if report.Failure == nil || report.Failure.Step != "download_installer" {
		t.Errorf("failure = %+v, want step context", report.Failure)
	}
}

func TestOrchestrator_Run_SoftStepFailureContinues(t *testing.T) {
	tel, _ := newTestTelemetry(t)
	probe := &stubProber{presence: map[string]Presence{}}

	softCalls, laterCalls := 0, 0
	wf := &Workflow{
		Name: "uninstall",
		Steps: []Step{
			failingStep("clear_cache", StepSoft, ErrorClassMutation, &softCalls),
			mutateStep("remove_install_dir", StepFatal, probe, "install directory", PresenceAbsent, &laterCalls),
		},
		Expectations: func(*RunContext) []Expectation {
			return []Expectation{{Target: Target{Name: "install directory"}, Want: PresenceAbsent}}
		},
	}
	o := newOrchestrator(t, Deps{Telemetry: tel, Probe: probe, Gate: &stubGate{answer: true}})

	report := o.Run(context.Background(), wf, RunConfiguration{Workflow: "uninstall"})

	if report.ExitCode != ExitSuccess {
		t.Fatalf("exit code = %d, want 0 after a soft failure (failure: %v)", report.ExitCode, report.Failure)
	}
	if laterCalls != 1 {
		t.Errorf("step after the soft failure ran %d times, want 1", laterCalls)
	}
	if report.StepsFailed != 1 || report.StepsRun != 1 {
		t.Errorf("run/failed = %d/%d, want 1/1", report.StepsRun, report.StepsFailed)
	}
}

func TestOrchestrator_Run_VerificationIssuesFailTheRun(t *testing.T) {
	tel, _ := newTestTelemetry(t)
	probe := &stubProber{presence: map[string]Presence{}}

	calls := 0
	wf := &Workflow{
		Name: "install",
		Steps: []Step{
			// The step succeeds but never makes the target present.
			failingStepSucceeds("run_installer", &calls),
		},
		Expectations: func(*RunContext) []Expectation {
			return []Expectation{{Target: Target{Name: "install directory"}, Want: PresencePresent}}
		},
	}
	o := newOrchestrator(t, Deps{Telemetry: tel, Probe: probe, Gate: &stubGate{answer: true}})

	report := o.Run(context.Background(), wf, RunConfiguration{Workflow: "install"})

	if report.ExitCode != ExitVerificationFailed {
		t.Fatalf("exit code = %d, want %d", report.ExitCode, ExitVerificationFailed)
	}
	if report.Failure == nil || report.Failure.Class != ErrorClassVerification {
		t.Errorf("failure = %+v, want verification class", report.Failure)
	}
}

// failingStepSucceeds is a step whose operation succeeds without mutating
// anything, so post-conditions stay unmet.
func failingStepSucceeds(name string, calls *int) Step {
	return Step{
		Name:         name,
		Description:  "apply " + name,
		Class:        StepFatal,
		FailureClass: ErrorClassMutation,
		Run: func(ctx context.Context, rc *RunContext) error {
			return rc.Record(rc.Exec.Perform(ctx, Operation{
				Description: "apply " + name,
				Run: func(context.Context) error {
					*calls++
					return nil
				},
			}))
		},
	}
}

func TestOrchestrator_Run_GuardSkipsCompletedWork(t *testing.T) {
	tel, _ := newTestTelemetry(t)
	probe := &stubProber{presence: map[string]Presence{
		"install directory": PresencePresent,
	}}

	calls := 0
	step := mutateStep("create_install_dir", StepFatal, probe, "install directory", PresencePresent, &calls)
	step.Guard = func(rc *RunContext) (bool, string) {
		if rc.Detected("install directory").Presence == PresencePresent {
			return false, "already present"
		}
		return true, ""
	}

	wf := &Workflow{
		Name:    "install",
		Targets: []Target{{Name: "install directory", Kind: KindDirectory, Path: "/opt/miniforge"}},
		Steps:   []Step{step},
		Expectations: func(*RunContext) []Expectation {
			return []Expectation{{Target: Target{Name: "install directory"}, Want: PresencePresent}}
		},
	}
	o := newOrchestrator(t, Deps{Telemetry: tel, Probe: probe, Gate: &stubGate{answer: true}})

	report := o.Run(context.Background(), wf, RunConfiguration{Workflow: "install"})

	if report.ExitCode != ExitSuccess {
		t.Fatalf("exit code = %d, want 0 (failure: %v)", report.ExitCode, report.Failure)
	}
	if calls != 0 {
		t.Errorf("guarded step ran %d times on a completed install", calls)
	}
	if report.StepsSkipped != 1 {
		t.Errorf("skipped steps = %d, want 1", report.StepsSkipped)
	}
	if len(report.Steps) != 1 || report.Steps[0].Reason != "already present" {
		t.Errorf("step results = %+v, want skip reason recorded", report.Steps)
	}
}

func TestOrchestrator_Run_SecondRunIsIdempotent(t *testing.T) {
	tel, _ := newTestTelemetry(t)
	probe := &stubProber{presence: map[string]Presence{}}

	calls := 0
	wf := installFixture(probe, &calls)
	wf.Steps[0].Guard = func(rc *RunContext) (bool, string) {
		if rc.Detected("install directory").Presence == PresencePresent {
			return false, "already installed"
		}
		return true, ""
	}
	o := newOrchestrator(t, Deps{Telemetry: tel, Probe: probe, Gate: &stubGate{answer: true}})

	first := o.Run(context.Background(), wf, RunConfiguration{Workflow: "install"})
	if first.ExitCode != ExitSuccess || calls != 1 {
		t.Fatalf("first run: exit %d, mutations %d, want 0 and 1", first.ExitCode, calls)
	}

	// The probe now reports the directory present, so the second run asks
	// the reinstall prompt (the stub gate accepts), skips the mutation and
	// still verifies clean.
	second := o.Run(context.Background(), wf, RunConfiguration{Workflow: "install"})

	if second.ExitCode != ExitSuccess {
		t.Fatalf("second run: exit %d, want 0 (failure: %v)", second.ExitCode, second.Failure)
	}
	if calls != 1 {
		t.Errorf("mutation ran %d times across two runs, want 1", calls)
	}
	if second.StepsRun != 0 || second.StepsSkipped != 1 {
		t.Errorf("second run steps = %d run/%d skipped, want 0/1", second.StepsRun, second.StepsSkipped)
	}
	if second.Verification == nil || !second.Verification.Pass {
		t.Errorf("second run verification = %+v, want pass", second.Verification)
	}
}

func TestOrchestrator_Run_PolicyDenialStopsBeforeMutation(t *testing.T) {
	tel, _ := newTestTelemetry(t)
	probe := &stubProber{presence: map[string]Presence{}}
	reviewer := &denyReviewer{}

	calls := 0
	wf := installFixture(probe, &calls)
	o := newOrchestrator(t, Deps{Telemetry: tel, Probe: probe, Gate: &stubGate{answer: true}, Policy: reviewer})

	report := o.Run(context.Background(), wf, RunConfiguration{Workflow: "install", NoBackup: true})

	if report.ExitCode != ExitPolicyDenied {
		t.Fatalf("exit code = %d, want %d", report.ExitCode, ExitPolicyDenied)
	}
	if calls != 0 {
		t.Errorf("mutation ran %d times after policy denial", calls)
	}
	if reviewer.seen == nil {
		t.Fatal("reviewer never saw the plan")
	}
	if !reviewer.seen.NoBackup || reviewer.seen.Workflow != "install" {
		t.Errorf("plan document = %+v", reviewer.seen)
	}
	if len(reviewer.seen.Steps) != 1 {
		t.Errorf("plan steps = %d, want 1", len(reviewer.seen.Steps))
	}
}

func TestOrchestrator_Run_BackupTakenBeforeMutation(t *testing.T) {
	tel, _ := newTestTelemetry(t)
	probe := &stubProber{presence: map[string]Presence{
		"install directory": PresencePresent,
	}}
	snap := &stubSnapshotter{root: "/tmp/backups/20260314"}
	rec := &captureRecorder{}

	calls := 0
	wf := installFixture(probe, &calls)
	o := newOrchestrator(t, Deps{Telemetry: tel, Probe: probe, Gate: &stubGate{answer: true}, Backup: snap, Recorder: rec})

	report := o.Run(context.Background(), wf, RunConfiguration{Workflow: "install"})

	if report.ExitCode != ExitSuccess {
		t.Fatalf("exit code = %d, want 0 (failure: %v)", report.ExitCode, report.Failure)
	}
	if len(snap.calls) != 1 {
		t.Fatalf("snapshot taken %d times, want 1", len(snap.calls))
	}
	if snap.calls[0][0] != "/opt/miniforge" {
		t.Errorf("snapshot paths = %v", snap.calls[0])
	}
	if report.BackupRoot != "/tmp/backups/20260314" {
		t.Errorf("backup root = %q", report.BackupRoot)
	}
	if rec.backups != 1 {
		t.Errorf("recorder backups = %d, want 1", rec.backups)
	}
}

func TestOrchestrator_Run_NoBackupFlagSkipsSnapshot(t *testing.T) {
	tel, _ := newTestTelemetry(t)
	probe := &stubProber{presence: map[string]Presence{
		"install directory": PresencePresent,
	}}
	snap := &stubSnapshotter{root: "/tmp/backups/x"}

	calls := 0
	wf := installFixture(probe, &calls)
	o := newOrchestrator(t, Deps{Telemetry: tel, Probe: probe, Gate: &stubGate{answer: true}, Backup: snap})

	report := o.Run(context.Background(), wf, RunConfiguration{Workflow: "install", NoBackup: true})

	if report.ExitCode != ExitSuccess {
		t.Fatalf("exit code = %d, want 0", report.ExitCode)
	}
	if len(snap.calls) != 0 {
		t.Errorf("snapshot taken %d times with --no-backup", len(snap.calls))
	}
	if report.BackupRoot != "" {
		t.Errorf("backup root = %q, want empty", report.BackupRoot)
	}
}

func TestOrchestrator_Run_StoreFailuresDoNotAffectVerdict(t *testing.T) {
	tel, _ := newTestTelemetry(t)
	probe := &stubProber{presence: map[string]Presence{}}
	rec := &captureRecorder{fail: true}

	calls := 0
	wf := installFixture(probe, &calls)
	o := newOrchestrator(t, Deps{Telemetry: tel, Probe: probe, Gate: &stubGate{answer: true}, Recorder: rec})

	report := o.Run(context.Background(), wf, RunConfiguration{Workflow: "install"})

	if report.ExitCode != ExitSuccess {
		t.Fatalf("exit code = %d, want 0 despite store failures (failure: %v)", report.ExitCode, report.Failure)
	}
}

func TestOrchestrator_Run_PreflightFailureAbortsEverything(t *testing.T) {
	tel, _ := newTestTelemetry(t)
	probe := &stubProber{presence: map[string]Presence{}}
	gate := &stubGate{answer: true}

	calls := 0
	wf := installFixture(probe, &calls)
	wf.Preflight = func(*RunContext) error {
		return NewPlatformError("unsupported platform: linux/amd64", nil).WithCode(ErrCodeUnsupportedOS)
	}
	o := newOrchestrator(t, Deps{Telemetry: tel, Probe: probe, Gate: gate})

	report := o.Run(context.Background(), wf, RunConfiguration{Workflow: "install"})

	if report.ExitCode != ExitUnsupportedPlatform {
		t.Fatalf("exit code = %d, want %d", report.ExitCode, ExitUnsupportedPlatform)
	}
	if calls != 0 || gate.calls != 0 {
		t.Errorf("mutation or gate touched after preflight failure (calls=%d gate=%d)", calls, gate.calls)
	}
}

func TestOrchestrator_Run_EventsArriveInOrder(t *testing.T) {
	tel, _ := newTestTelemetry(t)
	probe := &stubProber{presence: map[string]Presence{}}

	var types []string
	tel.Events.Subscribe(func(e telemetry.Event) { types = append(types, e.Type) }, nil)

	calls := 0
	wf := installFixture(probe, &calls)
	o := newOrchestrator(t, Deps{Telemetry: tel, Probe: probe, Gate: &stubGate{answer: true}})

	o.Run(context.Background(), wf, RunConfiguration{Workflow: "install"})

	if len(types) == 0 {
		t.Fatal("no events published")
	}
	if types[0] != telemetry.EventTypeRunStarted {
		t.Errorf("first event = %q, want run.started", types[0])
	}
	if types[len(types)-1] != telemetry.EventTypeRunCompleted {
		t.Errorf("last event = %q, want run.completed", types[len(types)-1])
	}

	idx := func(typ string) int {
		for i, tt := range types {
			if tt == typ {
				return i
			}
		}
		return -1
	}
	started, completed := idx(telemetry.EventTypeStepStarted), idx(telemetry.EventTypeStepCompleted)
	if started == -1 || completed == -1 || started > completed {
		t.Errorf("step events out of order: %v", types)
	}
}

func TestNewOrchestrator_RequiresCoreDeps(t *testing.T) {
	tel, _ := newTestTelemetry(t)
	probe := &stubProber{}

	if _, err := NewOrchestrator(Deps{Probe: probe, Gate: &stubGate{}}); err == nil {
		t.Error("missing telemetry accepted")
	}
	if _, err := NewOrchestrator(Deps{Telemetry: tel, Gate: &stubGate{}}); err == nil {
		t.Error("missing prober accepted")
	}
	if _, err := NewOrchestrator(Deps{Telemetry: tel, Probe: probe}); err == nil {
		t.Error("missing gate accepted")
	}
}

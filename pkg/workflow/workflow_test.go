package workflow

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/bootforge/bootforge/pkg/engine"
	"github.com/bootforge/bootforge/pkg/profile"
	"github.com/bootforge/bootforge/pkg/sysops"
	"github.com/bootforge/bootforge/pkg/telemetry"
)

func newTestLogger(t *testing.T) *telemetry.Logger {
	t.Helper()

	log := telemetry.NewLoggerWithConsole(telemetry.LoggingConfig{
		Level:   "debug",
		NoColor: true,
	}, &bytes.Buffer{})
	t.Cleanup(func() { log.Close() })
	return log
}

// fakeRunner records every command and answers from a canned result.
type fakeRunner struct {
	calls  []sysops.CommandSpec
	stdout string
	err    error
}

func (r *fakeRunner) Run(_ context.Context, spec sysops.CommandSpec) (*sysops.CommandResult, error) {
	r.calls = append(r.calls, spec)
	if r.err != nil {
		return &sysops.CommandResult{ExitCode: 1}, r.err
	}
	return &sysops.CommandResult{Stdout: r.stdout}, nil
}

type fetchCall struct {
	url     string
	dest    string
	minSize int64
}

// fakeDownloader records fetches without touching the network.
type fakeDownloader struct {
	calls []fetchCall
	size  int64
	err   error
}

func (d *fakeDownloader) Fetch(_ context.Context, url, dest string, minSize int64) (int64, error) {
	d.calls = append(d.calls, fetchCall{url: url, dest: dest, minSize: minSize})
	return d.size, d.err
}

type blockEdit struct {
	path    string
	marker  string
	content string
}

// fakeEditor records marker-block edits.
type fakeEditor struct {
	ensured []blockEdit
	removed []blockEdit
	changed bool
	err     error
}

func (e *fakeEditor) EnsureBlock(path, marker, content string) (bool, error) {
	e.ensured = append(e.ensured, blockEdit{path: path, marker: marker, content: content})
	return e.changed, e.err
}

func (e *fakeEditor) RemoveBlock(path, marker string) (bool, error) {
	e.removed = append(e.removed, blockEdit{path: path, marker: marker})
	return e.changed, e.err
}

type uploadCall struct {
	local  string
	remote string
	mode   os.FileMode
}

// fakeUploader records remote mirror calls.
type fakeUploader struct {
	uploads []uploadCall
	err     error
}

func (u *fakeUploader) UploadFile(_ context.Context, local, remote string, mode os.FileMode) error {
	u.uploads = append(u.uploads, uploadCall{local: local, remote: remote, mode: mode})
	return u.err
}

func testProfile() *profile.Profile {
	return &profile.Profile{
		Name: "workstation",
		Conda: profile.CondaSpec{
			Version:           "24.3.0-0",
			URLTemplate:       "https://releases.example.com/miniforge/Miniforge3-%s-%s.sh",
			InstallPath:       "~/miniforge3",
			Channels:          []string{"conda-forge"},
			MinInstallerBytes: 1 << 20,
		},
		Brew: profile.BrewSpec{Formulae: []string{"ripgrep", "jq"}},
		RConfigs: []profile.FileMapping{
			{Source: "r/Rprofile", Dest: ".Rprofile"},
			{Source: "r/Renviron", Dest: ".Renviron"},
		},
	}
}

func testConfig(t *testing.T, workflow string) engine.RunConfiguration {
	t.Helper()

	home := t.TempDir()
	return engine.RunConfiguration{
		Workflow: workflow,
		HomeDir:  home,
		Shell:    "zsh",
		DataDir:  filepath.Join(home, ".bootforge"),
	}
}

// testDeps wires fakes for everything a builder may require, pinned to the
// supported platform.
func testDeps(t *testing.T) (Deps, *fakeRunner, *fakeDownloader, *fakeEditor) {
	t.Helper()

	runner := &fakeRunner{}
	dl := &fakeDownloader{size: 4 << 20}
	editor := &fakeEditor{changed: true}
	deps := Deps{
		Log:        newTestLogger(t),
		Runner:     runner,
		Downloader: dl,
		Editor:     editor,
		GOOS:       "darwin",
		GOARCH:     "arm64",
	}
	return deps, runner, dl, editor
}

func newRunContext(t *testing.T, cfg engine.RunConfiguration, dryRun bool) *engine.RunContext {
	t.Helper()

	return &engine.RunContext{
		RunID:      "run-test",
		Config:     cfg,
		Exec:       engine.NewActionExecutor(newTestLogger(t), dryRun),
		Detections: make(map[string]engine.Detection),
	}
}

func detect(rc *engine.RunContext, name string, presence engine.Presence) {
	rc.Detections[name] = engine.Detection{
		Target:   engine.Target{Name: name},
		Presence: presence,
	}
}

func stepByName(t *testing.T, wf *engine.Workflow, name string) engine.Step {
	t.Helper()

	for _, s := range wf.Steps {
		if s.Name == name {
			return s
		}
	}
	t.Fatalf("workflow %s has no step %q", wf.Name, name)
	return engine.Step{}
}

func stepNames(wf *engine.Workflow) []string {
	names := make([]string, 0, len(wf.Steps))
	for _, s := range wf.Steps {
		names = append(names, s.Name)
	}
	return names
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile %s: %v", path, err)
	}
}

func TestExpandHome(t *testing.T) {
	tests := []struct {
		name string
		path string
		want string
	}{
		{name: "tilde only", path: "~", want: "/home/kay"},
		{name: "tilde prefix", path: "~/miniforge3", want: "/home/kay/miniforge3"},
		{name: "absolute untouched", path: "/opt/miniforge3", want: "/opt/miniforge3"},
		{name: "tilde mid-path untouched", path: "/data/~/x", want: "/data/~/x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := expandHome(tt.path, "/home/kay"); got != tt.want {
				t.Errorf("expandHome(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestShellStartupFile(t *testing.T) {
	tests := []struct {
		name  string
		shell string
		want  string
	}{
		{name: "zsh", shell: "zsh", want: "/home/kay/.zshrc"},
		{name: "zsh full path", shell: "/bin/zsh", want: "/home/kay/.zshrc"},
		{name: "bash reads bash_profile on login", shell: "/bin/bash", want: "/home/kay/.bash_profile"},
		{name: "empty defaults to zsh", shell: "", want: "/home/kay/.zshrc"},
		{name: "anything else gets profile", shell: "/usr/local/bin/fish", want: "/home/kay/.profile"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := shellStartupFile("/home/kay", tt.shell); got != tt.want {
				t.Errorf("shellStartupFile(%q) = %q, want %q", tt.shell, got, tt.want)
			}
		})
	}
}

func TestStepSlug(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "ripgrep", want: "ripgrep"},
		{in: ".Rprofile", want: "rprofile"},
		{in: "dir/.Renviron", want: "dir__renviron"},
		{in: "gcc@13", want: "gcc_13"},
	}
	for _, tt := range tests {
		if got := stepSlug(tt.in); got != tt.want {
			t.Errorf("stepSlug(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPlatformCheck(t *testing.T) {
	if err := platformCheck("darwin"); err != nil {
		t.Fatalf("platformCheck(darwin): %v", err)
	}

	err := platformCheck("linux")
	if err == nil {
		t.Fatal("platformCheck(linux) accepted")
	}
	if got := engine.ExitCodeFromError(err); got != engine.ExitUnsupportedPlatform {
		t.Errorf("exit code = %d, want %d", got, engine.ExitUnsupportedPlatform)
	}
}

func TestStatusTargets(t *testing.T) {
	cfg := testConfig(t, "status")
	targets := StatusTargets(testProfile(), cfg)

	want := []string{
		targetCondaBinary,
		targetInstallDir,
		targetCondaDefaults,
		targetShellStartup,
		targetHomebrew,
		"config .Rprofile",
		"config .Renviron",
	}
	if len(targets) != len(want) {
		t.Fatalf("got %d targets, want %d", len(targets), len(want))
	}
	for i, name := range want {
		if targets[i].Name != name {
			t.Errorf("target %d = %q, want %q", i, targets[i].Name, name)
		}
	}

	if got := targets[0].Path; got != filepath.Join(cfg.HomeDir, "miniforge3", "bin", "conda") {
		t.Errorf("conda binary path = %q", got)
	}
	if got := targets[5].Path; got != filepath.Join(cfg.HomeDir, ".Rprofile") {
		t.Errorf("config path = %q", got)
	}
}

package profile

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/bootforge/bootforge/pkg/engine"
	"github.com/bootforge/bootforge/pkg/telemetry"
)

func newTestLoader(t *testing.T) *Loader {
	t.Helper()

	log := telemetry.NewLoggerWithConsole(telemetry.LoggingConfig{
		Level:   "debug",
		NoColor: true,
	}, &bytes.Buffer{})
	t.Cleanup(func() { log.Close() })

	l, err := NewLoader(log)
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}
	return l
}

func writeProfile(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoader_Default_EmbeddedProfile(t *testing.T) {
	l := newTestLoader(t)

	p, err := l.Default()
	if err != nil {
		t.Fatalf("Default: %v", err)
	}

	if p.Name != "workstation" {
		t.Errorf("name = %q", p.Name)
	}
	if p.Conda.Version != "latest" {
		t.Errorf("conda version = %q, want latest", p.Conda.Version)
	}
	if p.Conda.InstallPath != "~/miniforge3" {
		t.Errorf("install path = %q", p.Conda.InstallPath)
	}
	if len(p.Conda.Channels) != 2 || p.Conda.Channels[0] != "conda-forge" {
		t.Errorf("channels = %v", p.Conda.Channels)
	}
	if p.Conda.MinInstallerBytes != 1048576 {
		t.Errorf("min installer bytes = %d", p.Conda.MinInstallerBytes)
	}
	if len(p.Brew.Formulae) == 0 {
		t.Error("no brew formulae in the default profile")
	}
	if len(p.RConfigs) != 2 || p.RConfigs[0].Dest != ".Rprofile" {
		t.Errorf("r_configs = %+v", p.RConfigs)
	}
}

func TestLoader_Load_CUEProfileInheritsDefaults(t *testing.T) {
	l := newTestLoader(t)
	path := writeProfile(t, "genomics.cue", `
name: "genomics"
conda: {
	version:      "24.11.3-0"
	install_path: "/opt/miniforge"
}
brew: formulae: ["samtools", "bcftools"]
`)

	p, err := l.Load(context.Background(), path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if p.Name != "genomics" {
		t.Errorf("name = %q", p.Name)
	}
	if p.Conda.Version != "24.11.3-0" || p.Conda.InstallPath != "/opt/miniforge" {
		t.Errorf("conda = %+v", p.Conda)
	}
	// Untouched fields keep schema defaults.
	if p.Conda.URLTemplate == "" || p.Conda.MinInstallerBytes != 1048576 {
		t.Errorf("defaults not applied: %+v", p.Conda)
	}
	if len(p.Conda.Channels) != 2 {
		t.Errorf("channels = %v, want schema default", p.Conda.Channels)
	}
	if len(p.Brew.Formulae) != 2 || p.Brew.Formulae[0] != "samtools" {
		t.Errorf("formulae = %v", p.Brew.Formulae)
	}
}

func TestLoader_Load_YAMLProfile(t *testing.T) {
	l := newTestLoader(t)
	path := writeProfile(t, "lab.yaml", `
name: lab
conda:
  channels: [conda-forge]
brew:
  formulae: [git]
r_configs:
  - source: r/Rprofile
    dest: .Rprofile
`)

	p, err := l.Load(context.Background(), path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if p.Name != "lab" {
		t.Errorf("name = %q", p.Name)
	}
	if len(p.Conda.Channels) != 1 || p.Conda.Channels[0] != "conda-forge" {
		t.Errorf("channels = %v", p.Conda.Channels)
	}
	if p.Conda.Version != "latest" {
		t.Errorf("version = %q, want schema default", p.Conda.Version)
	}
	if len(p.RConfigs) != 1 || p.RConfigs[0].Source != "r/Rprofile" {
		t.Errorf("r_configs = %+v", p.RConfigs)
	}
}

func TestLoader_Load_StarlarkComputedFormulae(t *testing.T) {
	l := newTestLoader(t)
	path := writeProfile(t, "scripted.star", `
def profile():
    formulae = ["git", "tmux"]
    if platform.os == "darwin":
        formulae.append("coreutils")
    return {
        "name": "scripted",
        "conda": {"channels": ["conda-forge"]},
        "brew": {"formulae": formulae},
    }
`)

	p, err := l.Load(context.Background(), path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if p.Name != "scripted" {
		t.Errorf("name = %q", p.Name)
	}

	want := []string{"git", "tmux"}
	if runtime.GOOS == "darwin" {
		want = append(want, "coreutils")
	}
	if len(p.Brew.Formulae) != len(want) {
		t.Fatalf("formulae = %v, want %v", p.Brew.Formulae, want)
	}
	for i, f := range want {
		if p.Brew.Formulae[i] != f {
			t.Errorf("formulae[%d] = %q, want %q", i, p.Brew.Formulae[i], f)
		}
	}
	if p.Conda.InstallPath != "~/miniforge3" {
		t.Errorf("install path = %q, want schema default", p.Conda.InstallPath)
	}
}

func TestLoader_Load_UnsupportedExtension(t *testing.T) {
	l := newTestLoader(t)
	path := writeProfile(t, "p.toml", `name = "x"`)

	_, err := l.Load(context.Background(), path)
	var e *engine.EngineError
	if !asEngineError(err, &e) || e.Code != engine.ErrCodeBadArguments {
		t.Errorf("error = %v, want bad-argument code", err)
	}
}

func TestLoader_Load_MissingFile(t *testing.T) {
	l := newTestLoader(t)

	_, err := l.Load(context.Background(), filepath.Join(t.TempDir(), "nope.cue"))
	if !engine.IsClass(err, engine.ErrorClassValidation) {
		t.Errorf("error = %v, want validation class", err)
	}
}

func TestLoader_Load_ConstraintViolationCarriesIssues(t *testing.T) {
	l := newTestLoader(t)
	path := writeProfile(t, "bad.cue", `
name: "has spaces and !"
`)

	_, err := l.Load(context.Background(), path)
	var e *engine.EngineError
	if !asEngineError(err, &e) || e.Code != engine.ErrCodeProfileInvalid {
		t.Fatalf("error = %v, want invalid-profile code", err)
	}
	if issues := ProfileIssues(err); len(issues) == 0 {
		t.Error("no issues attached to the error")
	}
}

func TestLoader_Load_UnknownFieldRejected(t *testing.T) {
	l := newTestLoader(t)
	path := writeProfile(t, "typo.cue", `
name: "ok"
formulas: ["git"]
`)

	if _, err := l.Load(context.Background(), path); err == nil {
		t.Error("unknown top-level field accepted")
	}
}

func TestLoader_Load_NegativeMinBytesRejected(t *testing.T) {
	l := newTestLoader(t)
	path := writeProfile(t, "neg.yaml", `
name: neg
conda:
  min_installer_bytes: -5
`)

	if _, err := l.Load(context.Background(), path); err == nil {
		t.Error("negative size constraint accepted")
	}
}

func TestLoader_Load_YAMLSyntaxError(t *testing.T) {
	l := newTestLoader(t)
	path := writeProfile(t, "broken.yaml", "name: [unclosed\n  - x: {{\n")

	_, err := l.Load(context.Background(), path)
	var e *engine.EngineError
	if !asEngineError(err, &e) || e.Code != engine.ErrCodeProfileInvalid {
		t.Errorf("error = %v, want invalid-profile code", err)
	}
}

func TestLoader_Load_StarlarkWithoutProfileFunc(t *testing.T) {
	l := newTestLoader(t)
	path := writeProfile(t, "empty.star", `x = 1`)

	_, err := l.Load(context.Background(), path)
	if !engine.IsClass(err, engine.ErrorClassValidation) {
		t.Errorf("error = %v, want validation class", err)
	}
}

func TestLoader_Load_StarlarkNonDictReturn(t *testing.T) {
	l := newTestLoader(t)
	path := writeProfile(t, "list.star", `
def profile():
    return ["not", "a", "dict"]
`)

	if _, err := l.Load(context.Background(), path); err == nil {
		t.Error("non-dict profile() return accepted")
	}
}

func TestProfileIssues_UnrelatedError(t *testing.T) {
	if issues := ProfileIssues(engine.NewMutationError("x", nil)); issues != nil {
		t.Errorf("issues = %v, want nil", issues)
	}
}

func asEngineError(err error, target **engine.EngineError) bool {
	e := engine.AsEngineError(err, engine.ErrorClassInternal)
	if e == nil {
		return false
	}
	*target = e
	return true
}

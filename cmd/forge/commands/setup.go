package commands

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/mattn/go-isatty"

	"github.com/bootforge/bootforge/pkg/engine"
	"github.com/bootforge/bootforge/pkg/profile"
	"github.com/bootforge/bootforge/pkg/stores"
	"github.com/bootforge/bootforge/pkg/telemetry"
)

// envDataDir overrides the default data directory location.
const envDataDir = "BOOTFORGE_HOME"

// resolveDataDir picks the data directory: the --data-dir flag wins, then
// $BOOTFORGE_HOME, then ~/.bootforge.
func resolveDataDir() (string, error) {
	if dataDir != "" {
		return dataDir, nil
	}
	if env := os.Getenv(envDataDir); env != "" {
		return env, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", engine.NewPlatformError("cannot resolve home directory", err)
	}
	return filepath.Join(home, ".bootforge"), nil
}

// Data directory layout.
func statePath(dataRoot string) string   { return filepath.Join(dataRoot, "state.db") }
func journalsDir(dataRoot string) string { return filepath.Join(dataRoot, "runs") }
func backupsDir(dataRoot string) string  { return filepath.Join(dataRoot, "backups") }
func policiesDir(dataRoot string) string { return filepath.Join(dataRoot, "policies") }

// detectEnvironment fills in the home directory and login shell the run
// provisions against.
func detectEnvironment(cfg *engine.RunConfiguration) error {
	home, err := os.UserHomeDir()
	if err != nil {
		return engine.NewPlatformError("cannot resolve home directory", err)
	}
	cfg.HomeDir = home
	cfg.Shell = os.Getenv("SHELL")
	return nil
}

// colorDisabled reports whether colored console output should be off: the
// --no-color flag, the NO_COLOR convention, or a non-terminal stderr.
func colorDisabled() bool {
	if noColor || os.Getenv("NO_COLOR") != "" {
		return true
	}
	fd := os.Stderr.Fd()
	return !isatty.IsTerminal(fd) && !isatty.IsCygwinTerminal(fd)
}

// newTelemetry builds the telemetry stack for one command invocation.
// Workflow runs additionally log to <data>/logs/<workflow>.log and publish
// the last run's metrics to <data>/metrics/last_run.prom; read-only
// commands pass workflow as "" and log to the console only.
func newTelemetry(workflow, dataRoot string) (*telemetry.Telemetry, error) {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = buildVersion
	cfg.Logging.NoColor = colorDisabled()
	if verbose {
		cfg.Logging.Level = "debug"
	}
	if workflow != "" {
		logDir := filepath.Join(dataRoot, "logs")
		if err := os.MkdirAll(logDir, 0o755); err == nil {
			cfg.Logging.FilePath = filepath.Join(logDir, workflow+".log")
		}
		metricsDir := filepath.Join(dataRoot, "metrics")
		if err := os.MkdirAll(metricsDir, 0o755); err == nil {
			cfg.Metrics.TextfilePath = filepath.Join(metricsDir, "last_run.prom")
		}
	}

	// Developer observability knobs, all optional: a /metrics listener and
	// trace export to stdout or an OTLP collector.
	cfg.Metrics.ListenAddress = os.Getenv("BOOTFORGE_METRICS_ADDR")
	if exporter := os.Getenv("BOOTFORGE_TRACE"); exporter != "" {
		cfg.Tracing.Enabled = true
		cfg.Tracing.Exporter = exporter
		cfg.Tracing.Endpoint = os.Getenv("BOOTFORGE_TRACE_ENDPOINT")
	}

	return telemetry.NewTelemetry(cfg)
}

// loadProfile resolves the profile for a command: an explicit path when
// given, the embedded default otherwise.
func loadProfile(ctx context.Context, loader *profile.Loader, path string) (*profile.Profile, error) {
	if path == "" {
		return loader.Default()
	}
	return loader.Load(ctx, path)
}

// openStoreIfExists opens the run store for read-only commands. A missing
// database means nothing has been recorded yet; callers get (nil, nil)
// and report that instead of creating an empty store.
func openStoreIfExists(ctx context.Context, dataRoot string) (*stores.SQLiteStore, error) {
	path := statePath(dataRoot)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, engine.NewStorageError("cannot access run store", err)
	}
	return stores.Open(ctx, stores.Config{Path: path})
}

// printJSON renders v as indented JSON on stdout for --json consumers.
func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

package commands

import (
	"context"
	"os"

	"github.com/bootforge/bootforge/pkg/engine"
	"github.com/bootforge/bootforge/pkg/eventstream"
	"github.com/bootforge/bootforge/pkg/policy"
	"github.com/bootforge/bootforge/pkg/profile"
	"github.com/bootforge/bootforge/pkg/shellinit"
	"github.com/bootforge/bootforge/pkg/stores"
	"github.com/bootforge/bootforge/pkg/sysops"
	"github.com/bootforge/bootforge/pkg/transports/ssh"
	"github.com/bootforge/bootforge/pkg/workflow"
)

// remoteOptions carries the ssh flags of workflows that can target a
// remote host.
type remoteOptions struct {
	endpoint        string
	identityFile    string
	insecureHostKey bool
}

// workflowRun describes one workflow invocation: which builder to call
// and the knobs the command collected from its flags.
type workflowRun struct {
	name        string
	profilePath string
	config      engine.RunConfiguration
	remote      *remoteOptions
	build       func(*profile.Profile, engine.RunConfiguration, workflow.Deps) (*engine.Workflow, error)
}

// executeRun assembles the full stack behind a workflow command and runs
// it: telemetry, profile, system collaborators, run store, event journal,
// policy gate, orchestrator. The returned error is the run's failure,
// already classified for the exit code.
func executeRun(ctx context.Context, run workflowRun) error {
	dataRoot, err := resolveDataDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dataRoot, 0o755); err != nil {
		return engine.NewStorageError("cannot create data directory "+dataRoot, err)
	}

	cfg := run.config
	cfg.Workflow = run.name
	cfg.DataDir = dataRoot
	if err := detectEnvironment(&cfg); err != nil {
		return err
	}

	tel, err := newTelemetry(run.name, dataRoot)
	if err != nil {
		return err
	}
	defer tel.Shutdown(context.Background())
	log := tel.Logger
	tel.Metrics.StartMetricsServer(log)

	log.WithFields(map[string]interface{}{
		"data_dir": dataRoot,
		"home":     cfg.HomeDir,
		"shell":    cfg.Shell,
		"dry_run":  cfg.DryRun,
	}).Debug("Environment resolved")

	loader, err := profile.NewLoader(log)
	if err != nil {
		return err
	}
	prof, err := loadProfile(ctx, loader, run.profilePath)
	if err != nil {
		return err
	}

	deps := workflow.Deps{
		Log:        log,
		Runner:     sysops.NewLocalRunner(log),
		Downloader: sysops.NewHTTPDownloader(log),
		Editor:     shellinit.NewEditor(log),
	}

	// Remote runs dial before the workflow is built: the builder refuses
	// a remote endpoint without a connected transport.
	var prober engine.Prober = engine.NewLocalProber(log)
	if run.remote != nil && run.remote.endpoint != "" {
		sshCfg, err := ssh.ParseEndpoint(run.remote.endpoint)
		if err != nil {
			return err
		}
		sshCfg.IdentityFile = run.remote.identityFile
		sshCfg.InsecureHostKey = run.remote.insecureHostKey
		if err := sshCfg.Validate(); err != nil {
			return err
		}
		client, err := ssh.Dial(ctx, sshCfg, log)
		if err != nil {
			return err
		}
		defer client.Close()
		deps.Uploader = client
		prober = ssh.NewRemoteProber(client, log)
		cfg.Remote = run.remote.endpoint
	}

	wf, err := run.build(prof, cfg, deps)
	if err != nil {
		return err
	}

	// Dry runs record into a throwaway in-memory store so the lifecycle
	// stays identical without leaving history behind. A broken store
	// never blocks a run.
	storePath := statePath(dataRoot)
	if cfg.DryRun {
		storePath = stores.MemoryPath
	}
	var recorder engine.Recorder
	if store, err := stores.Open(ctx, stores.Config{Path: storePath}); err != nil {
		log.Warnf("Run store unavailable, continuing without history: %v", err)
	} else {
		defer store.Close()
		recorder = stores.NewRecorder(store)
	}

	if !cfg.DryRun {
		router := eventstream.NewRouter(journalsDir(dataRoot), log)
		defer router.Close()
		tel.Events.Subscribe(router.Subscriber(), nil)
	}
	if jsonOutput {
		tel.Events.Subscribe(eventstream.Stream(os.Stdout, log), nil)
	}

	gate, err := policy.NewGate(ctx, log, policiesDir(dataRoot))
	if err != nil {
		return err
	}

	orch, err := engine.NewOrchestrator(engine.Deps{
		Telemetry: tel,
		Probe:     prober,
		Gate:      engine.NewTerminalGate(os.Stdin, os.Stdout, log, cfg.Force),
		Backup:    engine.NewSnapshotManager(log, backupsDir(dataRoot)),
		Recorder:  recorder,
		Policy:    gate,
	})
	if err != nil {
		return err
	}

	report := orch.Run(ctx, wf, cfg)
	if report.Failure != nil {
		return report.Failure
	}
	return nil
}

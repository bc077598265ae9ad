// Package telemetry provides observability instrumentation for bootforge.
//
// The telemetry package integrates structured logging (zerolog), tracing
// (OpenTelemetry), metrics (Prometheus), and run event publishing into one
// bundle handed to every engine component.
//
// # Architecture
//
// The telemetry system is built on four pillars:
//
//  1. Dual-Sink Logging - every workflow event is rendered on the console
//     and appended to a persistent per-workflow log file
//  2. Tracing - OpenTelemetry spans around runs and steps, with state
//     changes and detections recorded as span events
//  3. Metrics Collection - Prometheus metrics with a textfile snapshot
//     written after each real run
//  4. Run Events - synchronous in-order event bus feeding the run store,
//     the run journal, and the --json stream
//
// # Usage
//
// Initialize telemetry at process startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceVersion = "1.0.0"
//	cfg.Logging.FilePath = filepath.Join(dataDir, "logs", "install.log")
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
// # Dual-Sink Logging
//
// The logger carries the five workflow event kinds. Info, warning, and
// error map to the usual zerolog severities; dry-run and detect are the
// simulation kinds and bypass the level filter so a preview is always
// complete:
//
//	logger := tel.Logger.NewComponentLogger("executor")
//	logger.Info("Installing Miniforge")
//	logger.DryRun("Would install Miniforge")
//	logger.Detect("sh /tmp/miniforge.sh -b -p /opt/miniforge")
//
// A file sink that cannot be opened or written silently degrades the
// logger to console-only; logging never fails a run.
//
// # Run Events
//
// Subscribers see events synchronously in emission order:
//
//	tel.Events.Subscribe(func(e telemetry.Event) {
//	    journal.Append(e)
//	}, nil)
//
// # Metrics
//
// After a real run the engine writes all metric families to a textfile for
// node_exporter's textfile collector:
//
//	tel.Metrics.WriteTextfile(filepath.Join(dataDir, "metrics", "last_run.prom"))
package telemetry

// Package stores persists run history in SQLite: runs, per-run steps
// and events, last observed target states, and backup manifests. The
// schema is applied through embedded golang-migrate migrations. Real
// runs write to a file under the data directory with WAL enabled;
// dry runs write to an in-memory database so simulation leaves no
// trace. Recorder adapts the store to the engine's best-effort
// recording hooks.
package stores

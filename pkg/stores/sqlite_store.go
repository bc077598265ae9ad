package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/bootforge/bootforge/pkg/engine"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// MemoryPath selects an in-memory database. Dry runs record here so a
// simulated run leaves no trace on disk.
const MemoryPath = ":memory:"

// SQLiteStore implements Store on a single SQLite file (or in memory).
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// Config holds SQLite store configuration.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a store for the given path. Init must be
// called before use.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, engine.NewValidationError("database path is required", nil)
	}
	return &SQLiteStore{path: cfg.Path}, nil
}

// Open is the common construction path: create, connect, migrate.
func Open(ctx context.Context, cfg Config) (*SQLiteStore, error) {
	s, err := NewSQLiteStore(cfg)
	if err != nil {
		return nil, err
	}
	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Init opens the database connection with WAL mode, a busy timeout,
// and foreign keys enforced. The modernc driver applies pragmas from
// the DSN.
func (s *SQLiteStore) Init(ctx context.Context) error {
	var dsn string
	if s.path == MemoryPath {
		// A private in-memory database per connection would lose the
		// schema between pool checkouts; share one database and keep a
		// single connection.
		dsn = "file::memory:?cache=shared&_pragma=foreign_keys(1)"
	} else {
		if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
			return engine.NewStorageError("could not create database directory", err)
		}
		dsn = fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=synchronous(NORMAL)", s.path)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return engine.NewStorageError("could not open database", err)
	}

	if s.path == MemoryPath {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(4)
		db.SetMaxIdleConns(2)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return engine.NewStorageError("could not connect to database", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate applies the embedded schema migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return engine.NewStorageError("database not initialized", nil)
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return engine.NewStorageError("could not read embedded migrations", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return engine.NewStorageError("could not prepare migration driver", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return engine.NewStorageError("could not create migrator", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return engine.NewStorageError("could not apply migrations", err)
	}
	return nil
}

// CreateRun inserts the initial run row.
func (s *SQLiteStore) CreateRun(ctx context.Context, run *Run) error {
	query := `
		INSERT INTO runs (id, workflow, dry_run, state, started_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	now := time.Now()
	run.CreatedAt = now
	run.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, query,
		run.ID,
		run.Workflow,
		run.DryRun,
		run.State,
		run.StartedAt,
		run.CreatedAt,
		run.UpdatedAt,
	)
	if err != nil {
		return engine.NewStorageError("could not create run", err)
	}
	return nil
}

// FinishRun writes the terminal fields of a run.
func (s *SQLiteStore) FinishRun(ctx context.Context, run *Run) error {
	query := `
		UPDATE runs
		SET state = ?, exit_code = ?, completed_at = ?, duration_ns = ?,
			steps_run = ?, steps_skipped = ?, steps_failed = ?,
			backup_root = ?, failure_code = ?, failure_message = ?,
			log_path = ?, updated_at = ?
		WHERE id = ?
	`

	run.UpdatedAt = time.Now()
	result, err := s.db.ExecContext(ctx, query,
		run.State,
		run.ExitCode,
		run.CompletedAt,
		int64(run.Duration),
		run.StepsRun,
		run.StepsSkipped,
		run.StepsFailed,
		run.BackupRoot,
		run.FailureCode,
		run.FailureMessage,
		run.LogPath,
		run.UpdatedAt,
		run.ID,
	)
	if err != nil {
		return engine.NewStorageError("could not finish run", err)
	}
	return requireRow(result, "run", run.ID)
}

// UpdateRunVerification writes the verification verdict onto the run.
func (s *SQLiteStore) UpdateRunVerification(ctx context.Context, runID string, pass bool, issues int) error {
	query := `
		UPDATE runs
		SET verification_pass = ?, verification_issues = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query, pass, issues, time.Now(), runID)
	if err != nil {
		return engine.NewStorageError("could not update run verification", err)
	}
	return requireRow(result, "run", runID)
}

const runColumns = `id, workflow, dry_run, state, exit_code, started_at, completed_at,
	duration_ns, steps_run, steps_skipped, steps_failed, backup_root,
	verification_pass, verification_issues, failure_code, failure_message,
	log_path, created_at, updated_at`

// GetRun retrieves a run by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE id = ?`

	run, err := scanRun(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engine.NewStorageError(fmt.Sprintf("run not found: %s", id), nil).
			WithCode(engine.ErrCodeNotFound)
	}
	if err != nil {
		return nil, engine.NewStorageError("could not get run", err)
	}
	return run, nil
}

// ListRuns lists runs newest-first with pagination.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit, offset int) ([]*Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC, id LIMIT ? OFFSET ?`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, engine.NewStorageError("could not list runs", err)
	}
	defer rows.Close()

	runs := []*Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, engine.NewStorageError("could not scan run", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, engine.NewStorageError("could not iterate runs", err)
	}
	return runs, nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row scanner) (*Run, error) {
	run := &Run{}
	var durationNS sql.NullInt64
	err := row.Scan(
		&run.ID,
		&run.Workflow,
		&run.DryRun,
		&run.State,
		&run.ExitCode,
		&run.StartedAt,
		&run.CompletedAt,
		&durationNS,
		&run.StepsRun,
		&run.StepsSkipped,
		&run.StepsFailed,
		&run.BackupRoot,
		&run.VerificationPass,
		&run.VerificationIssues,
		&run.FailureCode,
		&run.FailureMessage,
		&run.LogPath,
		&run.CreatedAt,
		&run.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if durationNS.Valid {
		run.Duration = time.Duration(durationNS.Int64)
	}
	return run, nil
}

// CreateStep inserts one step result.
func (s *SQLiteStore) CreateStep(ctx context.Context, step *StepRecord) error {
	query := `
		INSERT INTO steps (run_id, seq, name, outcome, reason, attempts, duration_ns, error_code, error_message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	step.CreatedAt = time.Now()
	result, err := s.db.ExecContext(ctx, query,
		step.RunID,
		step.Seq,
		step.Name,
		step.Outcome,
		step.Reason,
		step.Attempts,
		int64(step.Duration),
		step.ErrorCode,
		step.ErrorMessage,
		step.CreatedAt,
	)
	if err != nil {
		return engine.NewStorageError("could not create step", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return engine.NewStorageError("could not read step id", err)
	}
	step.ID = id
	return nil
}

// ListSteps lists the steps of a run in execution order.
func (s *SQLiteStore) ListSteps(ctx context.Context, runID string) ([]*StepRecord, error) {
	query := `
		SELECT id, run_id, seq, name, outcome, reason, attempts, duration_ns, error_code, error_message, created_at
		FROM steps
		WHERE run_id = ?
		ORDER BY seq ASC
	`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, engine.NewStorageError("could not list steps", err)
	}
	defer rows.Close()

	steps := []*StepRecord{}
	for rows.Next() {
		step := &StepRecord{}
		var durationNS int64
		err := rows.Scan(
			&step.ID,
			&step.RunID,
			&step.Seq,
			&step.Name,
			&step.Outcome,
			&step.Reason,
			&step.Attempts,
			&durationNS,
			&step.ErrorCode,
			&step.ErrorMessage,
			&step.CreatedAt,
		)
		if err != nil {
			return nil, engine.NewStorageError("could not scan step", err)
		}
		step.Duration = time.Duration(durationNS)
		steps = append(steps, step)
	}
	if err := rows.Err(); err != nil {
		return nil, engine.NewStorageError("could not iterate steps", err)
	}
	return steps, nil
}

// AppendEvent appends one event to the run log.
func (s *SQLiteStore) AppendEvent(ctx context.Context, event *EventRecord) error {
	query := `
		INSERT INTO events (run_id, type, payload, timestamp)
		VALUES (?, ?, ?, ?)
	`

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	result, err := s.db.ExecContext(ctx, query,
		event.RunID,
		event.Type,
		event.Payload,
		event.Timestamp,
	)
	if err != nil {
		return engine.NewStorageError("could not append event", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return engine.NewStorageError("could not read event id", err)
	}
	event.ID = id
	return nil
}

// ListEvents lists the events of a run in append order.
func (s *SQLiteStore) ListEvents(ctx context.Context, runID string) ([]*EventRecord, error) {
	query := `
		SELECT id, run_id, type, payload, timestamp
		FROM events
		WHERE run_id = ?
		ORDER BY id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, engine.NewStorageError("could not list events", err)
	}
	defer rows.Close()

	events := []*EventRecord{}
	for rows.Next() {
		event := &EventRecord{}
		err := rows.Scan(
			&event.ID,
			&event.RunID,
			&event.Type,
			&event.Payload,
			&event.Timestamp,
		)
		if err != nil {
			return nil, engine.NewStorageError("could not scan event", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, engine.NewStorageError("could not iterate events", err)
	}
	return events, nil
}

// UpsertTargetState records the latest observed presence of a target.
func (s *SQLiteStore) UpsertTargetState(ctx context.Context, state *TargetState) error {
	query := `
		INSERT INTO target_states (target, kind, path, presence, detail, run_id, observed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(target) DO UPDATE SET
			kind = excluded.kind,
			path = excluded.path,
			presence = excluded.presence,
			detail = excluded.detail,
			run_id = excluded.run_id,
			observed_at = excluded.observed_at
	`

	if state.ObservedAt.IsZero() {
		state.ObservedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, query,
		state.Target,
		state.Kind,
		state.Path,
		state.Presence,
		state.Detail,
		state.RunID,
		state.ObservedAt,
	)
	if err != nil {
		return engine.NewStorageError("could not upsert target state", err)
	}
	return nil
}

// ListTargetStates lists the last observed state of every known target.
func (s *SQLiteStore) ListTargetStates(ctx context.Context) ([]*TargetState, error) {
	query := `
		SELECT target, kind, path, presence, detail, run_id, observed_at
		FROM target_states
		ORDER BY target ASC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, engine.NewStorageError("could not list target states", err)
	}
	defer rows.Close()

	states := []*TargetState{}
	for rows.Next() {
		state := &TargetState{}
		err := rows.Scan(
			&state.Target,
			&state.Kind,
			&state.Path,
			&state.Presence,
			&state.Detail,
			&state.RunID,
			&state.ObservedAt,
		)
		if err != nil {
			return nil, engine.NewStorageError("could not scan target state", err)
		}
		states = append(states, state)
	}
	if err := rows.Err(); err != nil {
		return nil, engine.NewStorageError("could not iterate target states", err)
	}
	return states, nil
}

// CreateBackup inserts one backup manifest row.
func (s *SQLiteStore) CreateBackup(ctx context.Context, backup *BackupRecord) error {
	query := `
		INSERT INTO backups (run_id, root, created_at, copied, skipped, failed, entries)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		backup.RunID,
		backup.Root,
		backup.CreatedAt,
		backup.Copied,
		backup.Skipped,
		backup.Failed,
		backup.Entries,
	)
	if err != nil {
		return engine.NewStorageError("could not create backup record", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return engine.NewStorageError("could not read backup id", err)
	}
	backup.ID = id
	return nil
}

// ListBackups lists backup manifests newest-first with pagination.
func (s *SQLiteStore) ListBackups(ctx context.Context, limit, offset int) ([]*BackupRecord, error) {
	query := `
		SELECT id, run_id, root, created_at, copied, skipped, failed, entries
		FROM backups
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, engine.NewStorageError("could not list backups", err)
	}
	defer rows.Close()

	backups := []*BackupRecord{}
	for rows.Next() {
		backup := &BackupRecord{}
		err := rows.Scan(
			&backup.ID,
			&backup.RunID,
			&backup.Root,
			&backup.CreatedAt,
			&backup.Copied,
			&backup.Skipped,
			&backup.Failed,
			&backup.Entries,
		)
		if err != nil {
			return nil, engine.NewStorageError("could not scan backup", err)
		}
		backups = append(backups, backup)
	}
	if err := rows.Err(); err != nil {
		return nil, engine.NewStorageError("could not iterate backups", err)
	}
	return backups, nil
}

// requireRow turns a zero-row update into a not-found error.
func requireRow(result sql.Result, kind, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return engine.NewStorageError("could not read rows affected", err)
	}
	if rows == 0 {
		return engine.NewStorageError(fmt.Sprintf("%s not found: %s", kind, id), nil).
			WithCode(engine.ErrCodeNotFound)
	}
	return nil
}

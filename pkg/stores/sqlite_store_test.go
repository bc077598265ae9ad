package stores

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bootforge/bootforge/pkg/engine"
)

func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := Open(context.Background(), Config{Path: MemoryPath})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func seedRun(t *testing.T, store *SQLiteStore, id string, startedAt time.Time) {
	t.Helper()

	err := store.CreateRun(context.Background(), &Run{
		ID:        id,
		Workflow:  "install",
		State:     "init",
		StartedAt: startedAt,
	})
	if err != nil {
		t.Fatalf("CreateRun %s: %v", id, err)
	}
}

func TestNewSQLiteStore_EmptyPathRejected(t *testing.T) {
	_, err := NewSQLiteStore(Config{})
	if !engine.IsClass(err, engine.ErrorClassValidation) {
		t.Fatalf("error = %v, want validation class", err)
	}
}

func TestOpen_FileDatabaseCreatesParentDirs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "forge.db")

	store, err := Open(context.Background(), Config{Path: path})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	if _, err := os.Stat(path); err != nil {
		t.Errorf("database file missing: %v", err)
	}
}

func TestMigrate_CreatesSchema(t *testing.T) {
	store := setupTestStore(t)

	for _, table := range []string{"runs", "steps", "events", "target_states", "backups"} {
		var count int
		err := store.db.QueryRowContext(context.Background(), "SELECT COUNT(*) FROM "+table).Scan(&count)
		if err != nil {
			t.Errorf("table %s not accessible: %v", table, err)
		}
	}
}

func TestMigrate_IsIdempotent(t *testing.T) {
	store := setupTestStore(t)

	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
}

func TestRunLifecycle(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	started := time.Now().Add(-time.Minute)

	seedRun(t, store, "run-001", started)

	created, err := store.GetRun(ctx, "run-001")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if created.Workflow != "install" || created.State != "init" {
		t.Errorf("created = %s/%s, want install/init", created.Workflow, created.State)
	}
	if created.ExitCode != nil || created.CompletedAt != nil {
		t.Errorf("terminal fields set before finish: %+v", created)
	}

	if err := store.UpdateRunVerification(ctx, "run-001", true, 0); err != nil {
		t.Fatalf("UpdateRunVerification: %v", err)
	}

	exitCode := 7
	completed := started.Add(42 * time.Second)
	backupRoot := "/Users/dev/.bootforge/backups/run-001"
	failCode := engine.ErrCodeVerificationFailed
	failMsg := "2 targets did not match"
	logPath := "/Users/dev/.bootforge/logs/run-001.log"
	err = store.FinishRun(ctx, &Run{
		ID:             "run-001",
		State:          "failed",
		ExitCode:       &exitCode,
		CompletedAt:    &completed,
		Duration:       42 * time.Second,
		StepsRun:       5,
		StepsSkipped:   1,
		StepsFailed:    1,
		BackupRoot:     &backupRoot,
		FailureCode:    &failCode,
		FailureMessage: &failMsg,
		LogPath:        &logPath,
	})
	if err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	final, err := store.GetRun(ctx, "run-001")
	if err != nil {
		t.Fatalf("GetRun after finish: %v", err)
	}
	if final.State != "failed" {
		t.Errorf("State = %s", final.State)
	}
	if final.ExitCode == nil || *final.ExitCode != 7 {
		t.Errorf("ExitCode = %v, want 7", final.ExitCode)
	}
	if final.Duration != 42*time.Second {
		t.Errorf("Duration = %v", final.Duration)
	}
	if final.StepsRun != 5 || final.StepsSkipped != 1 || final.StepsFailed != 1 {
		t.Errorf("step counts = %d/%d/%d", final.StepsRun, final.StepsSkipped, final.StepsFailed)
	}
	if final.BackupRoot == nil || *final.BackupRoot != backupRoot {
		t.Errorf("BackupRoot = %v", final.BackupRoot)
	}
	if final.FailureCode == nil || *final.FailureCode != failCode {
		t.Errorf("FailureCode = %v", final.FailureCode)
	}
	if final.VerificationPass == nil || !*final.VerificationPass {
		t.Errorf("VerificationPass = %v, want true", final.VerificationPass)
	}
	if final.VerificationIssues == nil || *final.VerificationIssues != 0 {
		t.Errorf("VerificationIssues = %v, want 0", final.VerificationIssues)
	}
	if final.CompletedAt == nil {
		t.Error("CompletedAt = nil")
	}
}

func TestGetRun_MissingIsNotFound(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.GetRun(context.Background(), "nope")
	e := engine.AsEngineError(err, engine.ErrorClassInternal)
	if e == nil || e.Code != engine.ErrCodeNotFound {
		t.Fatalf("error = %v, want NOT_FOUND", err)
	}
}

func TestFinishRun_MissingIsNotFound(t *testing.T) {
	store := setupTestStore(t)

	exit := 0
	err := store.FinishRun(context.Background(), &Run{ID: "nope", State: "succeeded", ExitCode: &exit})
	e := engine.AsEngineError(err, engine.ErrorClassInternal)
	if e == nil || e.Code != engine.ErrCodeNotFound {
		t.Fatalf("error = %v, want NOT_FOUND", err)
	}
}

func TestListRuns_NewestFirstWithPagination(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	seedRun(t, store, "run-a", base)
	seedRun(t, store, "run-b", base.Add(10*time.Minute))
	seedRun(t, store, "run-c", base.Add(20*time.Minute))

	page, err := store.ListRuns(ctx, 2, 0)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(page) != 2 || page[0].ID != "run-c" || page[1].ID != "run-b" {
		t.Errorf("first page = %v", runIDs(page))
	}

	rest, err := store.ListRuns(ctx, 2, 2)
	if err != nil {
		t.Fatalf("ListRuns offset: %v", err)
	}
	if len(rest) != 1 || rest[0].ID != "run-a" {
		t.Errorf("second page = %v", runIDs(rest))
	}
}

func runIDs(runs []*Run) []string {
	ids := make([]string, 0, len(runs))
	for _, r := range runs {
		ids = append(ids, r.ID)
	}
	return ids
}

func TestSteps_OrderedBySeq(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	seedRun(t, store, "run-001", time.Now())

	reason := "already present"
	errCode := engine.ErrCodeDownloadFailed
	errMsg := "download failed after 3 attempts"
	records := []*StepRecord{
		{RunID: "run-001", Seq: 3, Name: "cleanup_installer", Outcome: "skipped", Reason: &reason},
		{RunID: "run-001", Seq: 1, Name: "download_installer", Outcome: "failed", Attempts: 3, Duration: 15 * time.Second, ErrorCode: &errCode, ErrorMessage: &errMsg},
		{RunID: "run-001", Seq: 2, Name: "run_installer", Outcome: "succeeded", Attempts: 1},
	}
	for _, rec := range records {
		if err := store.CreateStep(ctx, rec); err != nil {
			t.Fatalf("CreateStep %s: %v", rec.Name, err)
		}
		if rec.ID == 0 {
			t.Errorf("step %s: ID not backfilled", rec.Name)
		}
	}

	steps, err := store.ListSteps(ctx, "run-001")
	if err != nil {
		t.Fatalf("ListSteps: %v", err)
	}
	if len(steps) != 3 {
		t.Fatalf("steps = %d, want 3", len(steps))
	}
	if steps[0].Name != "download_installer" || steps[1].Name != "run_installer" || steps[2].Name != "cleanup_installer" {
		t.Errorf("order = %s, %s, %s", steps[0].Name, steps[1].Name, steps[2].Name)
	}
	if steps[0].ErrorCode == nil || *steps[0].ErrorCode != errCode {
		t.Errorf("ErrorCode = %v", steps[0].ErrorCode)
	}
	if steps[0].Duration != 15*time.Second {
		t.Errorf("Duration = %v", steps[0].Duration)
	}
	if steps[2].Reason == nil || *steps[2].Reason != reason {
		t.Errorf("Reason = %v", steps[2].Reason)
	}
	if steps[1].ErrorCode != nil {
		t.Errorf("clean step carries error: %v", *steps[1].ErrorCode)
	}
}

func TestSteps_RequireExistingRun(t *testing.T) {
	store := setupTestStore(t)

	err := store.CreateStep(context.Background(), &StepRecord{RunID: "ghost", Seq: 1, Name: "x", Outcome: "succeeded"})
	if err == nil {
		t.Fatal("CreateStep accepted a step for an unknown run")
	}
}

func TestEvents_AppendOrder(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	seedRun(t, store, "run-001", time.Now())

	payload := `{"from":"init","to":"detecting"}`
	for i, typ := range []string{"run.started", "state.changed", "run.completed"} {
		ev := &EventRecord{RunID: "run-001", Type: typ}
		if i == 1 {
			ev.Payload = &payload
		}
		if err := store.AppendEvent(ctx, ev); err != nil {
			t.Fatalf("AppendEvent %s: %v", typ, err)
		}
		if ev.ID == 0 {
			t.Errorf("event %s: ID not backfilled", typ)
		}
		if ev.Timestamp.IsZero() {
			t.Errorf("event %s: timestamp not defaulted", typ)
		}
	}

	events, err := store.ListEvents(ctx, "run-001")
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("events = %d, want 3", len(events))
	}
	if events[0].Type != "run.started" || events[2].Type != "run.completed" {
		t.Errorf("order = %s ... %s", events[0].Type, events[2].Type)
	}
	if events[1].Payload == nil || *events[1].Payload != payload {
		t.Errorf("Payload = %v", events[1].Payload)
	}
}

func TestTargetStates_UpsertReplaces(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	first := &TargetState{
		Target:   "conda binary",
		Kind:     "command",
		Path:     "conda",
		Presence: "absent",
		RunID:    "run-001",
	}
	if err := store.UpsertTargetState(ctx, first); err != nil {
		t.Fatalf("UpsertTargetState: %v", err)
	}

	detail := "/Users/dev/miniforge3/bin/conda"
	second := &TargetState{
		Target:   "conda binary",
		Kind:     "command",
		Path:     "conda",
		Presence: "present",
		Detail:   &detail,
		RunID:    "run-002",
	}
	if err := store.UpsertTargetState(ctx, second); err != nil {
		t.Fatalf("UpsertTargetState update: %v", err)
	}

	states, err := store.ListTargetStates(ctx)
	if err != nil {
		t.Fatalf("ListTargetStates: %v", err)
	}
	if len(states) != 1 {
		t.Fatalf("states = %d, want 1 (upsert must replace)", len(states))
	}
	got := states[0]
	if got.Presence != "present" || got.RunID != "run-002" {
		t.Errorf("state = %+v, want updated row", got)
	}
	if got.Detail == nil || *got.Detail != detail {
		t.Errorf("Detail = %v", got.Detail)
	}
}

func TestBackups_ListNewestFirst(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)
	seedRun(t, store, "run-001", base)
	seedRun(t, store, "run-002", base.Add(time.Minute))

	entries, _ := json.Marshal([]engine.BackupEntry{
		{Source: "/Users/dev/.zshrc", Dest: "backup/.zshrc", Status: engine.BackupCopied},
		{Source: "/Users/dev/.condarc", Status: engine.BackupSkipped, Detail: "not present"},
	})

	older := &BackupRecord{RunID: "run-001", Root: "/b/run-001", CreatedAt: base, Copied: 1, Skipped: 1, Entries: string(entries)}
	newer := &BackupRecord{RunID: "run-002", Root: "/b/run-002", CreatedAt: base.Add(time.Minute), Copied: 2, Entries: "[]"}
	for _, b := range []*BackupRecord{older, newer} {
		if err := store.CreateBackup(ctx, b); err != nil {
			t.Fatalf("CreateBackup: %v", err)
		}
	}

	backups, err := store.ListBackups(ctx, 10, 0)
	if err != nil {
		t.Fatalf("ListBackups: %v", err)
	}
	if len(backups) != 2 {
		t.Fatalf("backups = %d, want 2", len(backups))
	}
	if backups[0].Root != "/b/run-002" {
		t.Errorf("order = %s first, want newest", backups[0].Root)
	}

	var decoded []engine.BackupEntry
	if err := json.Unmarshal([]byte(backups[1].Entries), &decoded); err != nil {
		t.Fatalf("entries do not decode: %v", err)
	}
	if len(decoded) != 2 || decoded[0].Status != engine.BackupCopied {
		t.Errorf("decoded entries = %+v", decoded)
	}
}

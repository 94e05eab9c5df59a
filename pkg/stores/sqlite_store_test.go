package stores

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

// setupTestStore creates a migrated SQLite store in a temporary directory.
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{
		Path: filepath.Join(t.TempDir(), "history.db"),
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	return store
}

func strPtr(s string) *string { return &s }

func TestStoreLifecycle(t *testing.T) {
	if _, err := NewSQLiteStore(Config{}); err == nil {
		t.Fatal("expected error for empty path")
	}

	store, err := NewSQLiteStore(Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Migrate(ctx); err == nil {
		t.Fatal("expected Migrate to fail before Init")
	}
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate in-memory store: %v", err)
	}
	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
}

func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for _, table := range []string{"runs", "status_events", "audit"} {
		var count int
		if err := store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count); err != nil {
			t.Errorf("table %s does not exist or is not accessible: %v", table, err)
		}
	}

	// Running migrations twice is a no-op.
	if err := store.Migrate(ctx); err != nil {
		t.Errorf("second Migrate() error = %v", err)
	}
}

func TestRunLifecycle(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	run := &Run{
		ID:       "run-1",
		Sequence: "M42",
		PlanPath: "plans/m42.yaml",
		Status:   "pending",
		Metadata: `{"operator":"remote"}`,
	}
	if err := store.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}
	if run.StartedAt.IsZero() || run.CreatedAt.IsZero() {
		t.Error("CreateRun() did not default timestamps")
	}

	if err := store.UpdateRunStatus(ctx, "run-1", "running"); err != nil {
		t.Fatalf("UpdateRunStatus() error = %v", err)
	}

	got, err := store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if got.Status != "running" || got.Sequence != "M42" || got.PlanPath != "plans/m42.yaml" {
		t.Errorf("GetRun() = %+v", got)
	}
	if got.CompletedAt != nil {
		t.Error("running run has a completion time")
	}

	if err := store.FinishRun(ctx, "run-1", "running", nil, nil); err == nil {
		t.Error("FinishRun() accepted a non-terminal status")
	}
	if err := store.FinishRun(ctx, "run-1", "failed", strPtr("sequence failed"), strPtr("lights: camera fault")); err != nil {
		t.Fatalf("FinishRun() error = %v", err)
	}

	got, err = store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if got.Status != "failed" || got.CompletedAt == nil {
		t.Errorf("finished run = %+v", got)
	}
	if got.FailureMessage == nil || *got.FailureMessage != "lights: camera fault" {
		t.Errorf("FailureMessage = %v", got.FailureMessage)
	}
}

func TestRunNotFound(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if _, err := store.GetRun(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetRun() error = %v, want ErrNotFound", err)
	}
	if err := store.UpdateRunStatus(ctx, "missing", "running"); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateRunStatus() error = %v, want ErrNotFound", err)
	}
	if err := store.DeleteRun(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("DeleteRun() error = %v, want ErrNotFound", err)
	}
	if _, err := store.Summarize(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Summarize() error = %v, want ErrNotFound", err)
	}
}

func TestListRuns(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	base := time.Date(2024, 3, 10, 20, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		run := &Run{ID: id, Sequence: "seq", Status: "succeeded", StartedAt: base.Add(time.Duration(i) * time.Hour)}
		if err := store.CreateRun(ctx, run); err != nil {
			t.Fatalf("CreateRun(%s) error = %v", id, err)
		}
	}

	runs, err := store.ListRuns(ctx, 2, 0)
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "c" || runs[1].ID != "b" {
		t.Errorf("ListRuns(2, 0) = %v", runIDs(runs))
	}

	runs, err = store.ListRuns(ctx, 10, 2)
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if len(runs) != 1 || runs[0].ID != "a" {
		t.Errorf("ListRuns(10, 2) = %v", runIDs(runs))
	}
}

func runIDs(runs []*Run) []string {
	ids := make([]string, len(runs))
	for i, r := range runs {
		ids[i] = r.ID
	}
	return ids
}

func TestStatusEventsAndSummary(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if err := store.CreateRun(ctx, &Run{ID: "run-1", Sequence: "night", Status: "running"}); err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}

	transitions := []StatusEvent{
		{EntityID: "slew", EntityPath: "/night/slew", OldStatus: "created", NewStatus: "running"},
		{EntityID: "slew", EntityPath: "/night/slew", OldStatus: "running", NewStatus: "finished"},
		{EntityID: "L", EntityPath: "/night/L", OldStatus: "created", NewStatus: "running"},
		{EntityID: "L", EntityPath: "/night/L", OldStatus: "running", NewStatus: "failed"},
		{EntityID: "park", EntityPath: "/night/park", OldStatus: "created", NewStatus: "skipped"},
	}
	for i := range transitions {
		ev := transitions[i]
		ev.RunID = "run-1"
		ev.EntityType = "instruction"
		if err := store.AppendStatusEvent(ctx, &ev); err != nil {
			t.Fatalf("AppendStatusEvent() error = %v", err)
		}
		if ev.ID == 0 {
			t.Error("AppendStatusEvent() did not set ID")
		}
	}

	events, err := store.ListStatusEvents(ctx, "run-1", 100, 0)
	if err != nil {
		t.Fatalf("ListStatusEvents() error = %v", err)
	}
	if len(events) != 5 {
		t.Fatalf("ListStatusEvents() returned %d events, want 5", len(events))
	}
	if events[0].EntityPath != "/night/slew" || events[4].NewStatus != "skipped" {
		t.Errorf("events out of order: first %+v last %+v", events[0], events[4])
	}

	summary, err := store.Summarize(ctx, "run-1")
	if err != nil {
		t.Fatalf("Summarize() error = %v", err)
	}
	want := map[string]int{"finished": 1, "failed": 1, "skipped": 1}
	if summary.Events != 5 {
		t.Errorf("Events = %d, want 5", summary.Events)
	}
	for status, n := range want {
		if summary.Statuses[status] != n {
			t.Errorf("Statuses[%s] = %d, want %d", status, summary.Statuses[status], n)
		}
	}
	if summary.Statuses["running"] != 0 {
		t.Errorf("superseded status counted: %v", summary.Statuses)
	}

	if err := store.DeleteRun(ctx, "run-1"); err != nil {
		t.Fatalf("DeleteRun() error = %v", err)
	}
	events, err = store.ListStatusEvents(ctx, "run-1", 100, 0)
	if err != nil {
		t.Fatalf("ListStatusEvents() error = %v", err)
	}
	if len(events) != 0 {
		t.Errorf("status events survived run deletion: %d", len(events))
	}
}

func TestStatusEventRequiresRun(t *testing.T) {
	store := setupTestStore(t)
	err := store.AppendStatusEvent(context.Background(), &StatusEvent{
		RunID: "ghost", EntityID: "x", EntityPath: "/x", OldStatus: "created", NewStatus: "running",
	})
	if err == nil {
		t.Error("expected foreign key violation for unknown run")
	}
}

func TestAuditEntries(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	entries := []*AuditEntry{
		{Action: "run.interrupt", Actor: "api", TargetID: strPtr("run-1")},
		{Action: "run.skip", Actor: "api", TargetID: strPtr("run-1"), Details: strPtr(`{"skipped":2}`)},
		{Action: "run.interrupt", Actor: "cli"},
	}
	for _, e := range entries {
		if err := store.CreateAuditEntry(ctx, e); err != nil {
			t.Fatalf("CreateAuditEntry() error = %v", err)
		}
	}

	all, err := store.ListAuditEntries(ctx, nil, 10, 0)
	if err != nil {
		t.Fatalf("ListAuditEntries() error = %v", err)
	}
	if len(all) != 3 || all[0].Actor != "cli" {
		t.Errorf("ListAuditEntries(nil) = %d entries, first actor %q", len(all), all[0].Actor)
	}

	interrupts, err := store.ListAuditEntries(ctx, strPtr("run.interrupt"), 10, 0)
	if err != nil {
		t.Fatalf("ListAuditEntries() error = %v", err)
	}
	if len(interrupts) != 2 {
		t.Errorf("interrupt entries = %d, want 2", len(interrupts))
	}
}

package db

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mamutelabs/steward/internal/audit"
	"github.com/mamutelabs/steward/internal/models"
)

// newTestStore opens a store on a per-test file. A plain ":memory:" DSN gives
// every pooled connection its own empty database, so a file is used instead.
func newTestStore(t *testing.T) Store {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "steward.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore error: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func entry(seq uint64, typ audit.EventType, actionID string, sev audit.Severity) audit.Entry {
	return audit.Entry{
		Seq:       seq,
		Timestamp: time.Now().UTC(),
		Type:      typ,
		Severity:  sev,
		ActionID:  actionID,
	}
}

func TestAppendAuditEntry_IdempotentPerSeq(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	e := entry(1, audit.EventExecutionSucceeded, "clean_logs", audit.SeverityInfo)
	if err := store.AppendAuditEntry(ctx, e); err != nil {
		t.Fatalf("append error: %v", err)
	}
	// Replaying the same sequence number must not duplicate the entry.
	e.Message = "replay"
	if err := store.AppendAuditEntry(ctx, e); err != nil {
		t.Fatalf("replay append error: %v", err)
	}

	got, err := store.QueryAuditEntries(ctx, AuditQuery{})
	if err != nil {
		t.Fatalf("query error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("entries = %d, want 1", len(got))
	}
	if got[0].Message == "replay" {
		t.Error("replay overwrote the original entry")
	}
}

func TestQueryAuditEntries_Filters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seed := []audit.Entry{
		entry(1, audit.EventDecisionMade, "clean_logs", audit.SeverityInfo),
		entry(2, audit.EventExecutionFailed, "clean_logs", audit.SeverityError),
		entry(3, audit.EventDecisionMade, "backup_database", audit.SeverityInfo),
		entry(4, audit.EventRollbackFailed, "backup_database", audit.SeverityCritical),
		entry(5, audit.EventConfirmationExpired, "clean_logs", audit.SeverityWarning),
	}
	for _, e := range seed {
		if err := store.AppendAuditEntry(ctx, e); err != nil {
			t.Fatalf("append seq %d error: %v", e.Seq, err)
		}
	}

	t.Run("newest first", func(t *testing.T) {
		got, err := store.QueryAuditEntries(ctx, AuditQuery{})
		if err != nil {
			t.Fatalf("query error: %v", err)
		}
		if len(got) != 5 {
			t.Fatalf("entries = %d, want 5", len(got))
		}
		for i := 1; i < len(got); i++ {
			if got[i].Seq >= got[i-1].Seq {
				t.Fatalf("not newest first: seq %d before %d", got[i-1].Seq, got[i].Seq)
			}
		}
	})

	t.Run("by action", func(t *testing.T) {
		got, err := store.QueryAuditEntries(ctx, AuditQuery{ActionID: "backup_database"})
		if err != nil {
			t.Fatalf("query error: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("entries = %d, want 2", len(got))
		}
		for _, e := range got {
			if e.ActionID != "backup_database" {
				t.Errorf("unexpected action %s", e.ActionID)
			}
		}
	})

	t.Run("by min severity", func(t *testing.T) {
		got, err := store.QueryAuditEntries(ctx, AuditQuery{MinSeverity: audit.SeverityWarning})
		if err != nil {
			t.Fatalf("query error: %v", err)
		}
		if len(got) != 3 {
			t.Fatalf("entries = %d, want 3 at warning or above", len(got))
		}
	})

	t.Run("limit", func(t *testing.T) {
		got, err := store.QueryAuditEntries(ctx, AuditQuery{Limit: 2})
		if err != nil {
			t.Fatalf("query error: %v", err)
		}
		if len(got) != 2 || got[0].Seq != 5 {
			t.Fatalf("entries = %+v, want the 2 newest", got)
		}
	})
}

func TestQueryAuditEntries_RoundTripsMetadata(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	e := entry(1, audit.EventDecisionMade, "clean_logs", audit.SeverityInfo)
	e.Metadata = map[string]interface{}{"confidence": 0.85, "risk": "medium"}
	if err := store.AppendAuditEntry(ctx, e); err != nil {
		t.Fatalf("append error: %v", err)
	}

	got, err := store.QueryAuditEntries(ctx, AuditQuery{})
	if err != nil {
		t.Fatalf("query error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("entries = %d, want 1", len(got))
	}
	if got[0].Metadata["risk"] != "medium" {
		t.Errorf("metadata = %v", got[0].Metadata)
	}
	if got[0].Metadata["confidence"] != 0.85 {
		t.Errorf("metadata confidence = %v", got[0].Metadata["confidence"])
	}
}

func TestRecentOutcomes(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seed := []audit.Entry{
		entry(1, audit.EventExecutionSucceeded, "reindex_database", audit.SeverityInfo),
		entry(2, audit.EventDecisionMade, "reindex_database", audit.SeverityInfo), // not an outcome
		entry(3, audit.EventExecutionFailed, "reindex_database", audit.SeverityError),
		entry(4, audit.EventExecutionSucceeded, "clean_logs", audit.SeverityInfo), // other action
		entry(5, audit.EventExecutionRolledBack, "reindex_database", audit.SeverityWarning),
		entry(6, audit.EventRollbackFailed, "reindex_database", audit.SeverityCritical),
	}
	for _, e := range seed {
		if err := store.AppendAuditEntry(ctx, e); err != nil {
			t.Fatalf("append seq %d error: %v", e.Seq, err)
		}
	}

	got, err := store.RecentOutcomes(ctx, "reindex_database", 10)
	if err != nil {
		t.Fatalf("RecentOutcomes error: %v", err)
	}
	// Newest first; a failed rollback counts as a failure.
	want := []models.ExecStatus{
		models.ExecFailed,
		models.ExecRolledBack,
		models.ExecFailed,
		models.ExecSucceeded,
	}
	if len(got) != len(want) {
		t.Fatalf("outcomes = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("outcome[%d] = %s, want %s", i, got[i], want[i])
		}
	}

	limited, err := store.RecentOutcomes(ctx, "reindex_database", 2)
	if err != nil {
		t.Fatalf("RecentOutcomes limit error: %v", err)
	}
	if len(limited) != 2 || limited[0] != models.ExecFailed || limited[1] != models.ExecRolledBack {
		t.Errorf("limited outcomes = %v", limited)
	}

	none, err := store.RecentOutcomes(ctx, "never_ran", 10)
	if err != nil {
		t.Fatalf("RecentOutcomes empty error: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("outcomes for unknown action = %v, want none", none)
	}
}

func TestConfirmationLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	req := models.ConfirmationRequest{
		ID: "c-1",
		Decision: models.Decision{
			ID:       "d-1",
			ActionID: "clean_logs",
			Outcome:  models.OutcomeConfirm,
		},
		CreatedAt: now,
		ExpiresAt: now.Add(15 * time.Minute),
		Status:    models.ConfirmPending,
	}
	if err := store.SaveConfirmation(ctx, req); err != nil {
		t.Fatalf("save error: %v", err)
	}

	pending, err := store.LoadPendingConfirmations(ctx)
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending = %d, want 1", len(pending))
	}
	got := pending[0]
	if got.ID != "c-1" || got.Decision.ActionID != "clean_logs" || got.Status != models.ConfirmPending {
		t.Errorf("loaded = %+v", got)
	}
	if !got.ExpiresAt.Equal(req.ExpiresAt) {
		t.Errorf("expires_at = %v, want %v", got.ExpiresAt, req.ExpiresAt)
	}

	if err := store.UpdateConfirmationStatus(ctx, "c-1", models.ConfirmApproved); err != nil {
		t.Fatalf("update error: %v", err)
	}
	pending, err = store.LoadPendingConfirmations(ctx)
	if err != nil {
		t.Fatalf("load after update error: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("pending after approval = %d, want 0", len(pending))
	}

	if err := store.UpdateConfirmationStatus(ctx, "ghost", models.ConfirmDenied); err == nil {
		t.Error("updating an unknown confirmation must fail")
	}
}

func TestSaveConfirmation_UpsertsStatus(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	req := models.ConfirmationRequest{
		ID:        "c-1",
		Decision:  models.Decision{ID: "d-1", ActionID: "a"},
		CreatedAt: now,
		ExpiresAt: now.Add(time.Minute),
		Status:    models.ConfirmPending,
	}
	if err := store.SaveConfirmation(ctx, req); err != nil {
		t.Fatalf("save error: %v", err)
	}
	req.Status = models.ConfirmExpired
	if err := store.SaveConfirmation(ctx, req); err != nil {
		t.Fatalf("re-save error: %v", err)
	}

	pending, err := store.LoadPendingConfirmations(ctx)
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("pending = %d, want 0 after status upsert", len(pending))
	}
}

func TestMaintenance(t *testing.T) {
	store := newTestStore(t)
	m, ok := store.(Maintenance)
	if !ok {
		t.Fatal("sqlite store must implement Maintenance")
	}
	ctx := context.Background()

	if err := m.Analyze(ctx); err != nil {
		t.Errorf("Analyze error: %v", err)
	}
	if err := m.Reindex(ctx); err != nil {
		t.Errorf("Reindex error: %v", err)
	}

	report, err := m.IntegrityCheck(ctx)
	if err != nil {
		t.Fatalf("IntegrityCheck error: %v", err)
	}
	if report != "ok" {
		t.Errorf("integrity report = %q, want ok", report)
	}

	if m.PoolSize() != 4 {
		t.Errorf("default pool size = %d, want 4", m.PoolSize())
	}
	m.SetPoolSize(8)
	if m.PoolSize() != 8 {
		t.Errorf("pool size = %d, want 8", m.PoolSize())
	}
}

func TestBackupTo(t *testing.T) {
	store := newTestStore(t)
	m := store.(Maintenance)
	ctx := context.Background()

	if err := store.AppendAuditEntry(ctx, entry(1, audit.EventEngineStarted, "", audit.SeverityInfo)); err != nil {
		t.Fatalf("append error: %v", err)
	}

	path := filepath.Join(t.TempDir(), "snapshot.db")
	if err := m.BackupTo(ctx, path); err != nil {
		t.Fatalf("BackupTo error: %v", err)
	}

	// The snapshot is a complete database containing the audit trail.
	restored, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("open snapshot: %v", err)
	}
	defer restored.Close()

	got, err := restored.QueryAuditEntries(ctx, AuditQuery{})
	if err != nil {
		t.Fatalf("query snapshot: %v", err)
	}
	if len(got) != 1 || got[0].Type != audit.EventEngineStarted {
		t.Errorf("snapshot entries = %+v", got)
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "steward.db")
	first, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("first open error: %v", err)
	}
	if err := first.AppendAuditEntry(context.Background(), entry(1, audit.EventEngineStarted, "", audit.SeverityInfo)); err != nil {
		t.Fatalf("append error: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("close error: %v", err)
	}

	// Reopening must not re-run migrations or lose data.
	second, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("second open error: %v", err)
	}
	defer second.Close()
	got, err := second.QueryAuditEntries(context.Background(), AuditQuery{})
	if err != nil {
		t.Fatalf("query error: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("entries after reopen = %d, want 1", len(got))
	}
}

func TestSeveritiesAtLeast(t *testing.T) {
	got := severitiesAtLeast(audit.SeverityError)
	if len(got) != 2 {
		t.Fatalf("levels = %v, want error and critical", got)
	}
	joined := ""
	for _, s := range got {
		joined += string(s) + ","
	}
	if !strings.Contains(joined, "error") || !strings.Contains(joined, "critical") {
		t.Errorf("levels = %v", got)
	}
}

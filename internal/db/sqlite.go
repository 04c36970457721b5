package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver (no CGO required)

	"github.com/mamutelabs/steward/internal/audit"
	"github.com/mamutelabs/steward/internal/models"
)

// schema defines the tables for the engine's persistence layer.
// Version is tracked in the schema_versions table.
var migrations = []struct {
	version int
	sql     string
}{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_versions (
    version     INTEGER PRIMARY KEY,
    applied_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS audit_entries (
    seq             INTEGER PRIMARY KEY,
    timestamp       DATETIME NOT NULL,
    event_type      TEXT NOT NULL,
    severity        TEXT NOT NULL,
    action_id       TEXT NOT NULL DEFAULT '',
    opportunity_id  TEXT NOT NULL DEFAULT '',
    decision_id     TEXT NOT NULL DEFAULT '',
    confirmation_id TEXT NOT NULL DEFAULT '',
    execution_id    TEXT NOT NULL DEFAULT '',
    outcome         TEXT NOT NULL DEFAULT '',
    status          TEXT NOT NULL DEFAULT '',
    message         TEXT NOT NULL DEFAULT '',
    error           TEXT NOT NULL DEFAULT '',
    metadata        TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_audit_action    ON audit_entries(action_id, seq DESC);
CREATE INDEX IF NOT EXISTS idx_audit_type      ON audit_entries(event_type);
CREATE INDEX IF NOT EXISTS idx_audit_severity  ON audit_entries(severity);

CREATE TABLE IF NOT EXISTS confirmations (
    id          TEXT PRIMARY KEY,
    decision    TEXT NOT NULL,
    created_at  DATETIME NOT NULL,
    expires_at  DATETIME NOT NULL,
    status      TEXT NOT NULL DEFAULT 'pending'
);
CREATE INDEX IF NOT EXISTS idx_confirmations_status ON confirmations(status);
`,
	},
}

type sqliteStore struct {
	db *sql.DB

	poolMu  sync.Mutex
	maxOpen int
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path and
// runs all pending schema migrations. Pass ":memory:" for an in-memory store.
func NewSQLiteStore(path string) (Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}

	// Enable WAL mode for better concurrency and performance.
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	s := &sqliteStore{db: db}
	if path == ":memory:" {
		// Each pooled connection to ":memory:" would get its own database.
		s.SetPoolSize(1)
	} else {
		s.SetPoolSize(4)
	}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// migrate applies any unapplied migrations in order.
func (s *sqliteStore) migrate() error {
	// Ensure schema_versions table exists before reading from it.
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_versions (
        version    INTEGER PRIMARY KEY,
        applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
    )`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := s.db.QueryRow(`SELECT COUNT(*) FROM schema_versions WHERE version = ?`, m.version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.version, err)
		}
		if count > 0 {
			continue // already applied
		}

		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("apply migration %d: %w", m.version, err)
		}

		if _, err := s.db.Exec(`INSERT INTO schema_versions(version) VALUES(?)`, m.version); err != nil {
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
	}
	return nil
}

func (s *sqliteStore) Close() error { return s.db.Close() }

func (s *sqliteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// ─── Audit store ──────────────────────────────────────────────────────────────

func (s *sqliteStore) AppendAuditEntry(ctx context.Context, e audit.Entry) error {
	metadata, err := json.Marshal(e.Metadata)
	if err != nil {
		metadata = []byte("{}")
	}
	// INSERT OR IGNORE keeps the append idempotent per sequence number.
	_, err = s.db.ExecContext(ctx, `
        INSERT OR IGNORE INTO audit_entries
            (seq, timestamp, event_type, severity, action_id, opportunity_id,
             decision_id, confirmation_id, execution_id, outcome, status,
             message, error, metadata)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Seq, e.Timestamp.UTC(), string(e.Type), string(e.Severity),
		e.ActionID, e.OpportunityID, e.DecisionID, e.ConfirmationID,
		e.ExecutionID, string(e.Outcome), e.Status, e.Message, e.Error,
		string(metadata),
	)
	if err != nil {
		return fmt.Errorf("append audit entry %d: %w", e.Seq, err)
	}
	return nil
}

func (s *sqliteStore) QueryAuditEntries(ctx context.Context, q AuditQuery) ([]audit.Entry, error) {
	query := `SELECT seq, timestamp, event_type, severity, action_id,
                     opportunity_id, decision_id, confirmation_id, execution_id,
                     outcome, status, message, error, metadata
              FROM audit_entries WHERE 1=1`
	args := []interface{}{}

	if q.ActionID != "" {
		query += ` AND action_id = ?`
		args = append(args, q.ActionID)
	}
	if q.MinSeverity != "" {
		levels := severitiesAtLeast(q.MinSeverity)
		query += ` AND severity IN (` + placeholders(len(levels)) + `)`
		for _, l := range levels {
			args = append(args, string(l))
		}
	}
	query += ` ORDER BY seq DESC`
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []audit.Entry
	for rows.Next() {
		var e audit.Entry
		var eventType, severity, outcome, metadata string
		if err := rows.Scan(&e.Seq, &e.Timestamp, &eventType, &severity,
			&e.ActionID, &e.OpportunityID, &e.DecisionID, &e.ConfirmationID,
			&e.ExecutionID, &outcome, &e.Status, &e.Message, &e.Error,
			&metadata); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Type = audit.EventType(eventType)
		e.Severity = audit.Severity(severity)
		e.Outcome = models.Outcome(outcome)
		if metadata != "" && metadata != "{}" {
			_ = json.Unmarshal([]byte(metadata), &e.Metadata)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// outcomeEvents maps terminal execution event types to the status the
// scorer's moving average counts. A failed rollback still means the
// execution failed.
var outcomeEvents = map[audit.EventType]models.ExecStatus{
	audit.EventExecutionSucceeded:  models.ExecSucceeded,
	audit.EventExecutionFailed:     models.ExecFailed,
	audit.EventExecutionRolledBack: models.ExecRolledBack,
	audit.EventRollbackFailed:      models.ExecFailed,
}

func (s *sqliteStore) RecentOutcomes(ctx context.Context, actionID string, limit int) ([]models.ExecStatus, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT event_type FROM audit_entries
        WHERE action_id = ?
          AND event_type IN (?, ?, ?, ?)
        ORDER BY seq DESC LIMIT ?`,
		actionID,
		string(audit.EventExecutionSucceeded),
		string(audit.EventExecutionFailed),
		string(audit.EventExecutionRolledBack),
		string(audit.EventRollbackFailed),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query outcomes for %s: %w", actionID, err)
	}
	defer rows.Close()

	var outcomes []models.ExecStatus
	for rows.Next() {
		var eventType string
		if err := rows.Scan(&eventType); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		if status, ok := outcomeEvents[audit.EventType(eventType)]; ok {
			outcomes = append(outcomes, status)
		}
	}
	return outcomes, rows.Err()
}

// ─── Confirmation store ───────────────────────────────────────────────────────

func (s *sqliteStore) SaveConfirmation(ctx context.Context, req models.ConfirmationRequest) error {
	decision, err := json.Marshal(req.Decision)
	if err != nil {
		return fmt.Errorf("marshal decision for confirmation %s: %w", req.ID, err)
	}
	_, err = s.db.ExecContext(ctx, `
        INSERT INTO confirmations (id, decision, created_at, expires_at, status)
        VALUES (?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET status = excluded.status`,
		req.ID, string(decision), req.CreatedAt.UTC(), req.ExpiresAt.UTC(), string(req.Status),
	)
	if err != nil {
		return fmt.Errorf("save confirmation %s: %w", req.ID, err)
	}
	return nil
}

func (s *sqliteStore) UpdateConfirmationStatus(ctx context.Context, id string, status models.ConfirmStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE confirmations SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("update confirmation %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update confirmation %s: not found", id)
	}
	return nil
}

func (s *sqliteStore) LoadPendingConfirmations(ctx context.Context) ([]models.ConfirmationRequest, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, decision, created_at, expires_at, status
        FROM confirmations WHERE status = 'pending'
        ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("load pending confirmations: %w", err)
	}
	defer rows.Close()

	var reqs []models.ConfirmationRequest
	for rows.Next() {
		var req models.ConfirmationRequest
		var decision, status string
		var createdAt, expiresAt time.Time
		if err := rows.Scan(&req.ID, &decision, &createdAt, &expiresAt, &status); err != nil {
			return nil, fmt.Errorf("scan confirmation: %w", err)
		}
		if err := json.Unmarshal([]byte(decision), &req.Decision); err != nil {
			return nil, fmt.Errorf("unmarshal decision for %s: %w", req.ID, err)
		}
		req.CreatedAt = createdAt
		req.ExpiresAt = expiresAt
		req.Status = models.ConfirmStatus(status)
		reqs = append(reqs, req)
	}
	return reqs, rows.Err()
}

// ─── helpers ──────────────────────────────────────────────────────────────────

func severitiesAtLeast(min audit.Severity) []audit.Severity {
	all := []audit.Severity{
		audit.SeverityInfo,
		audit.SeverityWarning,
		audit.SeverityError,
		audit.SeverityCritical,
	}
	out := make([]audit.Severity, 0, len(all))
	for _, s := range all {
		if s.AtLeast(min) {
			out = append(out, s)
		}
	}
	return out
}

// Analyze implements Maintenance.
func (s *sqliteStore) Analyze(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `ANALYZE`); err != nil {
		return fmt.Errorf("analyze: %w", err)
	}
	return nil
}

// Reindex implements Maintenance.
func (s *sqliteStore) Reindex(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `REINDEX`); err != nil {
		return fmt.Errorf("reindex: %w", err)
	}
	return nil
}

// IntegrityCheck implements Maintenance. SQLite returns one row per problem,
// or a single row "ok" for a healthy database.
func (s *sqliteStore) IntegrityCheck(ctx context.Context) (string, error) {
	rows, err := s.db.QueryContext(ctx, `PRAGMA integrity_check`)
	if err != nil {
		return "", fmt.Errorf("integrity check: %w", err)
	}
	defer rows.Close()

	var lines []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return "", fmt.Errorf("integrity check scan: %w", err)
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("integrity check rows: %w", err)
	}
	return strings.Join(lines, "\n"), nil
}

// BackupTo implements Maintenance using VACUUM INTO, which produces a
// consistent, compacted snapshot without blocking readers.
func (s *sqliteStore) BackupTo(ctx context.Context, path string) error {
	// VACUUM INTO takes a literal filename; parameters are not allowed there.
	escaped := strings.ReplaceAll(path, "'", "''")
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`VACUUM INTO '%s'`, escaped)); err != nil {
		return fmt.Errorf("backup to %q: %w", path, err)
	}
	return nil
}

// SetPoolSize implements Maintenance.
func (s *sqliteStore) SetPoolSize(n int) {
	s.poolMu.Lock()
	defer s.poolMu.Unlock()
	s.maxOpen = n
	s.db.SetMaxOpenConns(n)
}

// PoolSize implements Maintenance.
func (s *sqliteStore) PoolSize() int {
	s.poolMu.Lock()
	defer s.poolMu.Unlock()
	return s.maxOpen
}

func placeholders(n int) string {
	out := ""
	for i := 0; i < n; i++ {
		if i > 0 {
			out += ", "
		}
		out += "?"
	}
	return out
}

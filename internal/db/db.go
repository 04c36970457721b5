package db

// Package db provides the engine's durable state: the append-only audit log
// and any still-pending confirmation requests. Everything else the engine
// works with is transient per analysis pass.

import (
	"context"

	"github.com/mamutelabs/steward/internal/audit"
	"github.com/mamutelabs/steward/internal/models"
)

// Store is the persistence interface for the steward engine.
type Store interface {
	AuditStore
	ConfirmationStore

	// Close releases database resources.
	Close() error

	// Ping verifies the connection is alive.
	Ping(ctx context.Context) error
}

// AuditQuery filters audit entry reads.
type AuditQuery struct {
	ActionID    string
	MinSeverity audit.Severity
	Limit       int
}

// AuditStore persists and queries audit entries.
type AuditStore interface {
	// AppendAuditEntry writes one entry. The write is idempotent with
	// respect to the entry's sequence number.
	AppendAuditEntry(ctx context.Context, e audit.Entry) error

	// QueryAuditEntries returns entries matching q, newest first.
	QueryAuditEntries(ctx context.Context, q AuditQuery) ([]audit.Entry, error)

	// RecentOutcomes returns the terminal execution outcomes recorded for an
	// action, newest first, derived from the audit trail. Used by the
	// confidence scorer's moving average.
	RecentOutcomes(ctx context.Context, actionID string, limit int) ([]models.ExecStatus, error)
}

// ConfirmationStore persists confirmation requests so pending approvals
// survive restarts.
type ConfirmationStore interface {
	SaveConfirmation(ctx context.Context, req models.ConfirmationRequest) error
	UpdateConfirmationStatus(ctx context.Context, id string, status models.ConfirmStatus) error
	LoadPendingConfirmations(ctx context.Context) ([]models.ConfirmationRequest, error)
}

// Maintenance exposes database upkeep operations. The builtin maintenance
// actions run against this interface; the SQLite store implements it.
type Maintenance interface {
	// Analyze refreshes the query planner's statistics.
	Analyze(ctx context.Context) error

	// Reindex rebuilds all indexes.
	Reindex(ctx context.Context) error

	// IntegrityCheck runs a full consistency check and returns its report.
	// A healthy database reports "ok".
	IntegrityCheck(ctx context.Context) (string, error)

	// BackupTo writes a consistent snapshot of the database to path.
	BackupTo(ctx context.Context, path string) error

	// SetPoolSize adjusts the connection pool limit.
	SetPoolSize(n int)

	// PoolSize returns the current connection pool limit.
	PoolSize() int
}

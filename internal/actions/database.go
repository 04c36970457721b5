package actions

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mamutelabs/steward/internal/db"
	"github.com/mamutelabs/steward/internal/engine/registry"
	"github.com/mamutelabs/steward/internal/models"
)

// maxPoolSize bounds how far the connection tuner will grow the pool.
const maxPoolSize = 16

// QueryOptimizer refreshes the query planner's statistics.
type QueryOptimizer struct {
	db db.Maintenance
}

// NewQueryOptimizer creates the handler.
func NewQueryOptimizer(m db.Maintenance) *QueryOptimizer {
	return &QueryOptimizer{db: m}
}

// Execute implements registry.Handler.
func (h *QueryOptimizer) Execute(ctx context.Context, op models.Opportunity) (registry.Result, error) {
	if err := h.db.Analyze(ctx); err != nil {
		return registry.Result{}, err
	}
	return registry.Result{Summary: "refreshed query planner statistics"}, nil
}

// IntegrityChecker runs a full consistency check. Detected corruption is
// reported in the summary, not treated as an execution failure: the check
// itself succeeded.
type IntegrityChecker struct {
	db db.Maintenance
}

// NewIntegrityChecker creates the handler.
func NewIntegrityChecker(m db.Maintenance) *IntegrityChecker {
	return &IntegrityChecker{db: m}
}

// Execute implements registry.Handler.
func (h *IntegrityChecker) Execute(ctx context.Context, op models.Opportunity) (registry.Result, error) {
	report, err := h.db.IntegrityCheck(ctx)
	if err != nil {
		return registry.Result{}, err
	}
	if strings.TrimSpace(report) == "ok" {
		return registry.Result{Summary: "integrity check passed"}, nil
	}
	problems := len(strings.Split(strings.TrimSpace(report), "\n"))
	return registry.Result{
		Summary: fmt.Sprintf("integrity check found %d problems: %s", problems, report),
	}, nil
}

// Reindexer rebuilds all database indexes.
type Reindexer struct {
	db db.Maintenance
}

// NewReindexer creates the handler.
func NewReindexer(m db.Maintenance) *Reindexer {
	return &Reindexer{db: m}
}

// Execute implements registry.Handler.
func (h *Reindexer) Execute(ctx context.Context, op models.Opportunity) (registry.Result, error) {
	start := time.Now()
	if err := h.db.Reindex(ctx); err != nil {
		return registry.Result{}, err
	}
	return registry.Result{
		Summary: fmt.Sprintf("rebuilt all indexes in %s", time.Since(start).Round(time.Millisecond)),
	}, nil
}

// BackupHandler snapshots the database into the backup directory. The
// rollback token is the snapshot path; rolling back removes a snapshot that
// was left half-written.
type BackupHandler struct {
	db  db.Maintenance
	dir string
}

// NewBackupHandler creates the handler over a backup directory.
func NewBackupHandler(m db.Maintenance, dir string) *BackupHandler {
	return &BackupHandler{db: m, dir: dir}
}

// Execute implements registry.Handler.
func (h *BackupHandler) Execute(ctx context.Context, op models.Opportunity) (registry.Result, error) {
	if h.dir == "" {
		return registry.Result{}, fmt.Errorf("backup: no backup directory configured")
	}
	if err := os.MkdirAll(h.dir, 0o755); err != nil {
		return registry.Result{}, fmt.Errorf("backup: create %s: %w", h.dir, err)
	}

	path := filepath.Join(h.dir, fmt.Sprintf("steward-%s.db", time.Now().UTC().Format("20060102T150405Z")))
	if err := h.db.BackupTo(ctx, path); err != nil {
		return registry.Result{RollbackToken: path}, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return registry.Result{RollbackToken: path}, fmt.Errorf("backup: stat snapshot: %w", err)
	}
	return registry.Result{
		Summary:       fmt.Sprintf("wrote database snapshot %s (%.1f MB)", path, float64(info.Size())/(1<<20)),
		RollbackToken: path,
	}, nil
}

// Rollback implements registry.Rollbacker: it removes the snapshot file.
func (h *BackupHandler) Rollback(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := os.Remove(token); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("backup rollback: remove %s: %w", token, err)
	}
	return nil
}

// ConnectionTuner grows the database connection pool when it saturates.
// The rollback token is the previous pool size.
type ConnectionTuner struct {
	db db.Maintenance
}

// NewConnectionTuner creates the handler.
func NewConnectionTuner(m db.Maintenance) *ConnectionTuner {
	return &ConnectionTuner{db: m}
}

// Execute implements registry.Handler.
func (h *ConnectionTuner) Execute(ctx context.Context, op models.Opportunity) (registry.Result, error) {
	if err := ctx.Err(); err != nil {
		return registry.Result{}, err
	}

	current := h.db.PoolSize()
	target := current * 2
	if current <= 0 {
		target = 4
	}
	if target > maxPoolSize {
		target = maxPoolSize
	}
	if target == current {
		return registry.Result{
			Summary: fmt.Sprintf("connection pool already at its limit of %d", current),
		}, nil
	}

	h.db.SetPoolSize(target)
	return registry.Result{
		Summary:       fmt.Sprintf("grew connection pool from %d to %d", current, target),
		RollbackToken: strconv.Itoa(current),
	}, nil
}

// Rollback implements registry.Rollbacker: it restores the previous pool
// size.
func (h *ConnectionTuner) Rollback(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	prev, err := strconv.Atoi(token)
	if err != nil {
		return fmt.Errorf("connection tuner rollback: bad token %q: %w", token, err)
	}
	h.db.SetPoolSize(prev)
	return nil
}

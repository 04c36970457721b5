package actions

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mamutelabs/steward/internal/engine/registry"
	"github.com/mamutelabs/steward/internal/models"
)

// logRetention is how long a log file must sit untouched before the cleaner
// considers it stale.
const logRetention = 7 * 24 * time.Hour

// LogCleaner prunes stale log files from a directory. Files are moved into
// a trash directory rather than unlinked, so the move is fully reversible
// until the rollback window has passed.
type LogCleaner struct {
	dir    string
	logger *zap.Logger
}

// NewLogCleaner creates the handler over a log directory.
func NewLogCleaner(dir string, logger *zap.Logger) *LogCleaner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogCleaner{dir: dir, logger: logger}
}

// Execute implements registry.Handler. The rollback token is the path of the
// trash directory holding the moved files.
func (h *LogCleaner) Execute(ctx context.Context, op models.Opportunity) (registry.Result, error) {
	if h.dir == "" {
		return registry.Result{}, fmt.Errorf("log cleaner: no log directory configured")
	}

	entries, err := os.ReadDir(h.dir)
	if err != nil {
		return registry.Result{}, fmt.Errorf("log cleaner: read %s: %w", h.dir, err)
	}

	cutoff := time.Now().Add(-logRetention)
	var stale []string
	var staleBytes int64
	for _, entry := range entries {
		if entry.IsDir() || !isLogFile(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			stale = append(stale, entry.Name())
			staleBytes += info.Size()
		}
	}
	if len(stale) == 0 {
		return registry.Result{Summary: "no stale log files found"}, nil
	}

	trash := filepath.Join(h.dir, fmt.Sprintf(".trash-%d", time.Now().UnixNano()))
	if err := os.MkdirAll(trash, 0o755); err != nil {
		return registry.Result{}, fmt.Errorf("log cleaner: create trash dir: %w", err)
	}

	moved := 0
	for _, name := range stale {
		if err := ctx.Err(); err != nil {
			// Hand back what was already moved for rollback.
			return registry.Result{RollbackToken: trash}, err
		}
		if err := os.Rename(filepath.Join(h.dir, name), filepath.Join(trash, name)); err != nil {
			return registry.Result{RollbackToken: trash}, fmt.Errorf("log cleaner: move %s: %w", name, err)
		}
		moved++
	}

	h.logger.Info("log cleanup complete",
		zap.Int("files", moved),
		zap.Int64("bytes", staleBytes),
		zap.String("trash", trash))

	return registry.Result{
		Summary:       fmt.Sprintf("moved %d stale log files (%.1f MB) out of %s", moved, float64(staleBytes)/(1<<20), h.dir),
		RollbackToken: trash,
	}, nil
}

// Rollback implements registry.Rollbacker: it restores every file from the
// trash directory back into the log directory.
func (h *LogCleaner) Rollback(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}

	entries, err := os.ReadDir(token)
	if err != nil {
		return fmt.Errorf("log cleaner rollback: read %s: %w", token, err)
	}
	for _, entry := range entries {
		if err := os.Rename(filepath.Join(token, entry.Name()), filepath.Join(h.dir, entry.Name())); err != nil {
			return fmt.Errorf("log cleaner rollback: restore %s: %w", entry.Name(), err)
		}
	}
	return os.Remove(token)
}

// isLogFile matches plain and rotated log file names (app.log, app.log.1,
// app.log.gz).
func isLogFile(name string) bool {
	if strings.HasSuffix(name, ".log") || strings.HasSuffix(name, ".log.gz") {
		return true
	}
	base := strings.TrimRight(name, "0123456789")
	return strings.HasSuffix(base, ".log.")
}

package actions

// Package actions provides the builtin operational handlers and their risk
// descriptors. Each handler does one concrete piece of upkeep: reclaiming
// process memory, rotating log files aside, or maintaining the SQLite store.
//
// Registration groups handlers by the resource they contend on so the
// executor's keyed locks serialize them correctly:
//   - process:memory     memory reclamation
//   - filesystem:logs    log cleanup
//   - database:primary   all database maintenance

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/mamutelabs/steward/internal/db"
	"github.com/mamutelabs/steward/internal/engine/detect"
	"github.com/mamutelabs/steward/internal/engine/registry"
	"github.com/mamutelabs/steward/internal/models"
)

// Resource keys the builtin handlers contend on.
const (
	ResourceMemory   = "process:memory"
	ResourceLogs     = "filesystem:logs"
	ResourceDatabase = "database:primary"
)

// Deps carries the collaborators the builtin handlers operate on.
type Deps struct {
	// DB is the maintenance surface of the primary database.
	DB db.Maintenance

	// LogDir is the directory the log cleaner prunes.
	LogDir string

	// BackupDir receives database snapshots.
	BackupDir string

	Logger *zap.Logger
}

// RegisterBuiltin registers every builtin handler under its well-known
// action ID.
func RegisterBuiltin(reg *registry.Registry, deps Deps) error {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	logger := deps.Logger.Named("actions")

	fixed := func(key string) registry.ResourceKeyFunc {
		return func(models.Opportunity) string { return key }
	}

	entries := []struct {
		handler registry.Handler
		desc    registry.Descriptor
	}{
		{
			handler: NewMemoryOptimizer(logger),
			desc: registry.Descriptor{
				ActionID:    detect.ActionOptimizeMemory,
				RiskLevel:   models.RiskLow,
				Idempotent:  true,
				ResourceKey: fixed(ResourceMemory),
			},
		},
		{
			handler: NewLogCleaner(deps.LogDir, logger),
			desc: registry.Descriptor{
				ActionID:          detect.ActionCleanLogs,
				RiskLevel:         models.RiskMedium,
				RollbackSupported: true,
				ResourceKey:       fixed(ResourceLogs),
			},
		},
		{
			handler: NewQueryOptimizer(deps.DB),
			desc: registry.Descriptor{
				ActionID:    detect.ActionOptimizeQueries,
				RiskLevel:   models.RiskLow,
				Idempotent:  true,
				ResourceKey: fixed(ResourceDatabase),
			},
		},
		{
			handler: NewIntegrityChecker(deps.DB),
			desc: registry.Descriptor{
				ActionID:    detect.ActionCheckIntegrity,
				RiskLevel:   models.RiskLow,
				Idempotent:  true,
				ResourceKey: fixed(ResourceDatabase),
			},
		},
		{
			handler: NewReindexer(deps.DB),
			desc: registry.Descriptor{
				ActionID:    detect.ActionReindexDatabase,
				RiskLevel:   models.RiskMedium,
				Idempotent:  true,
				ResourceKey: fixed(ResourceDatabase),
			},
		},
		{
			handler: NewBackupHandler(deps.DB, deps.BackupDir),
			desc: registry.Descriptor{
				ActionID:          detect.ActionBackupDatabase,
				RiskLevel:         models.RiskLow,
				RollbackSupported: true,
				ResourceKey:       fixed(ResourceDatabase),
			},
		},
		{
			handler: NewConnectionTuner(deps.DB),
			desc: registry.Descriptor{
				ActionID:          detect.ActionTuneConnections,
				RiskLevel:         models.RiskMedium,
				RollbackSupported: true,
				ResourceKey:       fixed(ResourceDatabase),
			},
		},
	}

	for _, e := range entries {
		if err := reg.Register(e.handler, e.desc); err != nil {
			return fmt.Errorf("register builtin actions: %w", err)
		}
	}
	return nil
}

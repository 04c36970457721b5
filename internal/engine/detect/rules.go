package detect

import (
	"fmt"

	"github.com/mamutelabs/steward/internal/models"
)

// Comparison operators for threshold rules.
const (
	Above = ">"
	Below = "<"
)

// ThresholdRule triggers when a single named signal crosses a threshold.
// Most built-in rules are threshold rules; anything more elaborate can
// implement Rule directly.
type ThresholdRule struct {
	RuleName       string
	SignalName     string
	Op             string // Above or Below
	Threshold      float64
	ActionID       string
	BaseConfidence float64

	// Describe builds the opportunity description from the observed value.
	// Optional; a generic description is used when nil.
	Describe func(v float64) string
}

// Name implements Rule.
func (r ThresholdRule) Name() string { return r.RuleName }

// Evaluate implements Rule.
func (r ThresholdRule) Evaluate(s Snapshot) (models.Opportunity, bool) {
	sig, ok := s.Signal(r.SignalName)
	if !ok {
		return models.Opportunity{}, false
	}
	triggered := false
	switch r.Op {
	case Above:
		triggered = sig.Value > r.Threshold
	case Below:
		triggered = sig.Value < r.Threshold
	}
	if !triggered {
		return models.Opportunity{}, false
	}

	desc := fmt.Sprintf("%s is %.2f%s (threshold %s %.2f)", r.SignalName, sig.Value, sig.Unit, r.Op, r.Threshold)
	if r.Describe != nil {
		desc = r.Describe(sig.Value)
	}
	return models.Opportunity{
		ActionID:       r.ActionID,
		Description:    desc,
		BaseConfidence: r.BaseConfidence,
		Context: map[string]interface{}{
			"rule":        r.RuleName,
			"signal":      r.SignalName,
			"value":       sig.Value,
			"unit":        sig.Unit,
			"threshold":   r.Threshold,
			"source":      sig.Source,
			"observed_at": sig.ObservedAt,
		},
	}, true
}

// Canonical action IDs referenced by the built-in rules. The operational
// modules register handlers under these IDs at startup.
const (
	ActionOptimizeMemory   = "optimize_memory"
	ActionCleanLogs        = "clean_logs"
	ActionOptimizeQueries  = "optimize_queries"
	ActionCheckIntegrity   = "check_integrity"
	ActionReindexDatabase  = "reindex_database"
	ActionBackupDatabase   = "backup_database"
	ActionTuneConnections  = "tune_connection_pool"
)

// BuiltinRules returns the standing health checks the engine ships with:
// memory pressure, log growth, slow queries, integrity problems, disk
// pressure, index bloat, stale backups, connection saturation, and a low
// cache hit ratio.
func BuiltinRules() []Rule {
	return []Rule{
		ThresholdRule{
			RuleName:       "memory_pressure",
			SignalName:     "memory_used_percent",
			Op:             Above,
			Threshold:      80,
			ActionID:       ActionOptimizeMemory,
			BaseConfidence: 0.90,
			Describe: func(v float64) string {
				return fmt.Sprintf("memory usage at %.1f%%, reclaimable caches can be trimmed", v)
			},
		},
		ThresholdRule{
			RuleName:       "log_growth",
			SignalName:     "log_size_mb",
			Op:             Above,
			Threshold:      100,
			ActionID:       ActionCleanLogs,
			BaseConfidence: 0.95,
			Describe: func(v float64) string {
				return fmt.Sprintf("log directory holds %.0fMB, old entries can be pruned", v)
			},
		},
		ThresholdRule{
			RuleName:       "disk_pressure",
			SignalName:     "disk_used_percent",
			Op:             Above,
			Threshold:      90,
			ActionID:       ActionCleanLogs,
			BaseConfidence: 0.90,
			Describe: func(v float64) string {
				return fmt.Sprintf("disk usage at %.1f%%, pruning logs frees space", v)
			},
		},
		ThresholdRule{
			RuleName:       "slow_queries",
			SignalName:     "slow_query_count",
			Op:             Above,
			Threshold:      0,
			ActionID:       ActionOptimizeQueries,
			BaseConfidence: 0.90,
			Describe: func(v float64) string {
				return fmt.Sprintf("%.0f slow queries observed, query plans need attention", v)
			},
		},
		ThresholdRule{
			RuleName:       "integrity_issues",
			SignalName:     "integrity_issue_count",
			Op:             Above,
			Threshold:      0,
			ActionID:       ActionCheckIntegrity,
			BaseConfidence: 0.85,
			Describe: func(v float64) string {
				return fmt.Sprintf("%.0f data integrity problems flagged", v)
			},
		},
		ThresholdRule{
			RuleName:       "index_bloat",
			SignalName:     "index_bloat_percent",
			Op:             Above,
			Threshold:      30,
			ActionID:       ActionReindexDatabase,
			BaseConfidence: 0.85,
		},
		ThresholdRule{
			RuleName:       "stale_backup",
			SignalName:     "hours_since_backup",
			Op:             Above,
			Threshold:      24,
			ActionID:       ActionBackupDatabase,
			BaseConfidence: 0.85,
			Describe: func(v float64) string {
				return fmt.Sprintf("last backup was %.0f hours ago", v)
			},
		},
		ThresholdRule{
			RuleName:       "connection_saturation",
			SignalName:     "db_connections_used_percent",
			Op:             Above,
			Threshold:      90,
			ActionID:       ActionTuneConnections,
			BaseConfidence: 0.80,
		},
		ThresholdRule{
			RuleName:       "low_cache_hit_ratio",
			SignalName:     "cache_hit_ratio_percent",
			Op:             Below,
			Threshold:      70,
			ActionID:       ActionTuneConnections,
			BaseConfidence: 0.80,
			Describe: func(v float64) string {
				return fmt.Sprintf("cache hit ratio at %.1f%%, a larger pool keeps hot pages resident", v)
			},
		},
	}
}

package telemetry

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mamutelabs/steward/internal/models"
)

// OpsCollector derives operational signals from the filesystem: how much
// space the log directory holds and how old the newest database snapshot is.
// The remaining builtin signals (memory pressure, query statistics) come
// from whatever external collectors the deployment wires in.
type OpsCollector struct {
	// LogDir is the directory whose *.log files are sized.
	LogDir string

	// BackupDir is the directory holding database snapshots.
	BackupDir string
}

// GetSignalSnapshot implements Collector.
func (c OpsCollector) GetSignalSnapshot(ctx context.Context) ([]models.Signal, error) {
	now := time.Now().UTC()
	const source = "steward-ops"
	var signals []models.Signal

	if c.LogDir != "" {
		var total int64
		err := filepath.WalkDir(c.LogDir, func(path string, d os.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return nil
			}
			if !strings.Contains(d.Name(), ".log") {
				return nil
			}
			if info, err := d.Info(); err == nil {
				total += info.Size()
			}
			return nil
		})
		if err == nil {
			signals = append(signals, models.Signal{
				Name:       "log_size_mb",
				Value:      float64(total) / (1 << 20),
				Unit:       "MB",
				ObservedAt: now,
				Source:     source,
			})
		}
	}

	if c.BackupDir != "" {
		if newest, ok := newestFile(c.BackupDir); ok {
			signals = append(signals, models.Signal{
				Name:       "hours_since_backup",
				Value:      now.Sub(newest).Hours(),
				Unit:       "h",
				ObservedAt: now,
				Source:     source,
			})
		} else {
			// No snapshot at all reads as an arbitrarily stale one.
			signals = append(signals, models.Signal{
				Name:       "hours_since_backup",
				Value:      24 * 365,
				Unit:       "h",
				ObservedAt: now,
				Source:     source,
			})
		}
	}

	return signals, nil
}

func newestFile(dir string) (time.Time, bool) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return time.Time{}, false
	}
	var newest time.Time
	found := false
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(newest) {
			newest = info.ModTime()
			found = true
		}
	}
	return newest, found
}

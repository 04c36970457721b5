package telemetry

// Package telemetry defines the signal snapshot interface the engine
// consumes. The concrete gathering of metrics lives with the operational
// collaborators; this package only supplies the contract plus adapters and
// a process-level collector useful out of the box.

import (
	"context"
	"errors"
	"runtime"
	"time"

	"github.com/mamutelabs/steward/internal/models"
)

// Collector supplies one snapshot of operational signals per analysis pass.
type Collector interface {
	GetSignalSnapshot(ctx context.Context) ([]models.Signal, error)
}

// CollectorFunc adapts a function to the Collector interface.
type CollectorFunc func(ctx context.Context) ([]models.Signal, error)

// GetSignalSnapshot implements Collector.
func (f CollectorFunc) GetSignalSnapshot(ctx context.Context) ([]models.Signal, error) {
	return f(ctx)
}

// Static returns a collector that always reports the same signals. Useful
// for tests and dry runs.
func Static(signals ...models.Signal) Collector {
	return CollectorFunc(func(context.Context) ([]models.Signal, error) {
		return signals, nil
	})
}

// Multi merges the snapshots of several collectors. A failing collector
// contributes nothing; its error is joined into the returned error while
// the remaining signals are still delivered, so one broken source never
// blinds the whole pass.
type Multi []Collector

// GetSignalSnapshot implements Collector.
func (m Multi) GetSignalSnapshot(ctx context.Context) ([]models.Signal, error) {
	var signals []models.Signal
	var errs []error
	for _, c := range m {
		s, err := c.GetSignalSnapshot(ctx)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		signals = append(signals, s...)
	}
	return signals, errors.Join(errs...)
}

// RuntimeCollector reports Go process signals: heap usage, goroutine count,
// and GC pause totals.
type RuntimeCollector struct{}

// GetSignalSnapshot implements Collector.
func (RuntimeCollector) GetSignalSnapshot(context.Context) ([]models.Signal, error) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	now := time.Now().UTC()

	const source = "go-runtime"
	return []models.Signal{
		{Name: "process_heap_alloc_mb", Value: float64(ms.HeapAlloc) / (1 << 20), Unit: "MB", ObservedAt: now, Source: source},
		{Name: "process_heap_sys_mb", Value: float64(ms.HeapSys) / (1 << 20), Unit: "MB", ObservedAt: now, Source: source},
		{Name: "process_goroutines", Value: float64(runtime.NumGoroutine()), Unit: "count", ObservedAt: now, Source: source},
		{Name: "process_gc_pause_total_ms", Value: float64(ms.PauseTotalNs) / 1e6, Unit: "ms", ObservedAt: now, Source: source},
	}, nil
}

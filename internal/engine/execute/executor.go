package execute

// Package execute serializes and runs approved actions.
//
// Responsibilities:
//   - Accept submissions for auto and approved decisions only
//   - Enforce a global cap on simultaneously running executions
//   - Enforce per-resource-key mutual exclusion with a bounded lock wait
//   - Apply a per-action timeout via context cancellation
//   - Orchestrate rollback on failure and suspend actions whose rollback
//     itself failed (circuit breaker)
//   - Release the resource lock on every exit path
//
// Submit is synchronous: it returns once the execution record reached a
// terminal state. Callers that want parallelism across distinct resources
// run their submissions on separate goroutines; the semaphore and the keyed
// locks bound what actually runs.

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mamutelabs/steward/internal/audit"
	"github.com/mamutelabs/steward/internal/engine/registry"
	"github.com/mamutelabs/steward/internal/metrics"
	"github.com/mamutelabs/steward/internal/models"
)

var (
	// ErrResourceBusy is returned when the resource lock wait times out.
	// The submission is rejected, not queued; the caller may retry later.
	ErrResourceBusy = errors.New("resource busy")

	// ErrActionSuspended is returned for actions tripped by the circuit
	// breaker after a rollback failure.
	ErrActionSuspended = errors.New("action suspended pending manual intervention")

	// ErrNotEligible is returned for decisions that are neither auto nor
	// approved confirmations.
	ErrNotEligible = errors.New("decision not eligible for execution")

	// ErrShuttingDown is returned for submissions after Stop.
	ErrShuttingDown = errors.New("executor is shutting down")
)

// Config tunes the executor's concurrency and failure handling.
type Config struct {
	// MaxConcurrent caps simultaneously running executions.
	MaxConcurrent int

	// LockWaitTimeout bounds how long a submission waits for its resource
	// lock before failing with ErrResourceBusy.
	LockWaitTimeout time.Duration

	// ActionTimeout cancels a handler that runs longer.
	ActionTimeout time.Duration

	// BreakerAutoRecover re-enables suspended actions after BreakerCooldown
	// instead of requiring an explicit resume.
	BreakerAutoRecover bool
	BreakerCooldown    time.Duration
}

// DefaultConfig returns the default executor settings.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent:   4,
		LockWaitTimeout: 5 * time.Second,
		ActionTimeout:   2 * time.Minute,
		BreakerCooldown: 30 * time.Minute,
	}
}

// Executor runs approved actions under locking discipline.
type Executor struct {
	cfg      Config
	registry *registry.Registry
	recorder *audit.Recorder
	logger   *zap.Logger

	sem     chan struct{}
	locks   *keyedLocks
	breaker *breaker

	// onTerminal is invoked after a record reaches a terminal state.
	onTerminal func(models.ExecutionRecord)

	mu      sync.RWMutex
	records map[string]*models.ExecutionRecord

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	stopped bool
}

// New creates an executor.
func New(cfg Config, reg *registry.Registry, recorder *audit.Recorder, logger *zap.Logger) *Executor {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultConfig().MaxConcurrent
	}
	if cfg.LockWaitTimeout <= 0 {
		cfg.LockWaitTimeout = DefaultConfig().LockWaitTimeout
	}
	if cfg.ActionTimeout <= 0 {
		cfg.ActionTimeout = DefaultConfig().ActionTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Executor{
		cfg:      cfg,
		registry: reg,
		recorder: recorder,
		logger:   logger,
		sem:      make(chan struct{}, cfg.MaxConcurrent),
		locks:    newKeyedLocks(),
		breaker:  newBreaker(cfg.BreakerAutoRecover, cfg.BreakerCooldown),
		records:  make(map[string]*models.ExecutionRecord),
		baseCtx:  ctx,
		cancel:   cancel,
	}
}

// OnTerminal registers a callback for terminal execution records. Must be
// set before the first Submit.
func (e *Executor) OnTerminal(fn func(models.ExecutionRecord)) { e.onTerminal = fn }

// Stop cancels in-flight executions and waits for them to finish. Handlers
// observe the cancellation and must land in a completed or rolled-back
// state.
func (e *Executor) Stop() {
	e.mu.Lock()
	e.stopped = true
	e.mu.Unlock()
	e.cancel()
	e.wg.Wait()
}

// Suspended reports whether the circuit breaker currently blocks an action.
func (e *Executor) Suspended(actionID string) bool { return e.breaker.tripped(actionID) }

// SuspendedActions lists actions blocked by the circuit breaker.
func (e *Executor) SuspendedActions() []string { return e.breaker.trippedActions() }

// Resume clears an action's circuit breaker. Returns false when the action
// was not suspended.
func (e *Executor) Resume(actionID string) bool {
	ok := e.breaker.reset(actionID)
	if ok {
		metrics.SuspendedActions.Set(float64(len(e.breaker.trippedActions())))
		e.recorder.Record(audit.NewEntry(audit.EventActionResumed).
			WithAction(actionID).
			WithMessage("circuit breaker cleared manually"))
	}
	return ok
}

// Record returns an execution record by ID.
func (e *Executor) Record(id string) (models.ExecutionRecord, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	rec, ok := e.records[id]
	if !ok {
		return models.ExecutionRecord{}, false
	}
	return *rec, true
}

// FailuresSince counts executions that ended failed or rolled back after t.
func (e *Executor) FailuresSince(t time.Time) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	n := 0
	for _, rec := range e.records {
		if rec.FinishedAt.After(t) &&
			(rec.Status == models.ExecFailed || rec.Status == models.ExecRolledBack) {
			n++
		}
	}
	return n
}

// Submit runs one decision to a terminal state. Only auto decisions and
// approved confirmations are accepted. The returned record is a snapshot;
// on rejection errors (eligibility, suspension, unknown action, busy
// resource) the record carries the rejection in its Error field.
func (e *Executor) Submit(ctx context.Context, d models.Decision, approved bool) (models.ExecutionRecord, error) {
	if d.Outcome != models.OutcomeAuto && !(d.Outcome == models.OutcomeConfirm && approved) {
		return models.ExecutionRecord{}, fmt.Errorf("submit %s (%s): %w", d.ID, d.Outcome, ErrNotEligible)
	}

	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return models.ExecutionRecord{}, ErrShuttingDown
	}
	e.wg.Add(1)
	e.mu.Unlock()
	defer e.wg.Done()

	if e.breaker.tripped(d.ActionID) {
		e.recorder.Record(audit.NewEntry(audit.EventExecutionRejected).
			WithSeverity(audit.SeverityWarning).
			WithAction(d.ActionID).
			WithMessage("action suspended by circuit breaker"))
		return models.ExecutionRecord{}, fmt.Errorf("submit %s: %w", d.ActionID, ErrActionSuspended)
	}

	entry, err := e.registry.Resolve(d.ActionID)
	if err != nil {
		e.recorder.Record(audit.NewEntry(audit.EventExecutionRejected).
			WithAction(d.ActionID).
			WithError(err).
			WithSeverity(audit.SeverityWarning))
		return models.ExecutionRecord{}, err
	}

	op := models.Opportunity{
		ID:          d.OpportunityID,
		ActionID:    d.ActionID,
		Description: d.Description,
		Context:     d.Context,
	}
	resourceKey := entry.Descriptor.ResourceKey(op)

	rec := &models.ExecutionRecord{
		ID:          uuid.NewString(),
		DecisionID:  d.ID,
		ActionID:    d.ActionID,
		ResourceKey: resourceKey,
		Status:      models.ExecPending,
		StartedAt:   time.Now().UTC(),
	}
	e.mu.Lock()
	e.records[rec.ID] = rec
	e.mu.Unlock()

	e.recorder.Record(audit.NewEntry(audit.EventExecutionSubmitted).
		WithExecution(*rec).
		WithMetadata("resource_key", resourceKey))

	// Per-resource mutual exclusion, bounded wait.
	lockStart := time.Now()
	if err := e.locks.acquire(ctx, resourceKey, e.cfg.LockWaitTimeout); err != nil {
		metrics.ResourceLockWait.Observe(time.Since(lockStart).Seconds())
		if errors.Is(err, ErrResourceBusy) {
			metrics.ResourceBusyRejections.Inc()
		}
		e.finish(rec, models.ExecFailed, "", fmt.Sprintf("resource %s: %v", resourceKey, err), false)
		e.recorder.Record(audit.NewEntry(audit.EventExecutionRejected).
			WithSeverity(audit.SeverityWarning).
			WithExecution(*rec).
			WithMessage("resource lock wait timed out"))
		return e.snapshot(rec), fmt.Errorf("submit %s on %s: %w", d.ActionID, resourceKey, err)
	}
	metrics.ResourceLockWait.Observe(time.Since(lockStart).Seconds())
	defer e.locks.release(resourceKey)

	// Global worker cap.
	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		e.finish(rec, models.ExecFailed, "", ctx.Err().Error(), false)
		return e.snapshot(rec), ctx.Err()
	case <-e.baseCtx.Done():
		e.finish(rec, models.ExecFailed, "", "executor shutdown", false)
		return e.snapshot(rec), ErrShuttingDown
	}
	defer func() { <-e.sem }()

	return e.run(rec, entry, op)
}

// run drives pending → running → terminal under the already-held lock.
func (e *Executor) run(rec *models.ExecutionRecord, entry registry.Entry, op models.Opportunity) (models.ExecutionRecord, error) {
	e.transition(rec, models.ExecRunning)
	e.recorder.Record(audit.NewEntry(audit.EventExecutionStarted).WithExecution(*rec))

	runCtx, cancel := context.WithTimeout(e.baseCtx, e.cfg.ActionTimeout)
	defer cancel()

	start := time.Now()
	result, err := entry.Handler.Execute(runCtx, op)
	metrics.ExecutionDuration.WithLabelValues(rec.ActionID).Observe(time.Since(start).Seconds())

	if err == nil {
		e.finish(rec, models.ExecSucceeded, result.Summary, "", false)
		e.recorder.Record(audit.NewEntry(audit.EventExecutionSucceeded).
			WithExecution(*rec).
			WithMessage(result.Summary))
		return e.snapshot(rec), nil
	}

	// Handler failed or timed out. The token the handler produced before
	// failing is all we have to undo with.
	rec.RollbackToken = result.RollbackToken
	e.logger.Warn("action execution failed",
		zap.String("action_id", rec.ActionID),
		zap.String("execution_id", rec.ID),
		zap.Error(err))

	if !entry.Descriptor.RollbackSupported {
		e.finish(rec, models.ExecFailed, result.Summary, err.Error(), false)
		e.recorder.Record(audit.NewEntry(audit.EventExecutionFailed).
			WithSeverity(audit.SeverityError).
			WithExecution(*rec))
		return e.snapshot(rec), nil
	}

	return e.rollback(rec, entry, err)
}

// rollback attempts to undo a failed execution. Rollback runs on a fresh
// timeout context: the execution context is already cancelled or expired.
func (e *Executor) rollback(rec *models.ExecutionRecord, entry registry.Entry, execErr error) (models.ExecutionRecord, error) {
	rb := entry.Handler.(registry.Rollbacker) // enforced at registration

	rbCtx, cancel := context.WithTimeout(context.Background(), e.cfg.ActionTimeout)
	defer cancel()

	if rbErr := rb.Rollback(rbCtx, rec.RollbackToken); rbErr != nil {
		// Rollback failure is terminal and never retried automatically.
		e.finish(rec, models.ExecFailed, "", fmt.Sprintf("execute: %v; rollback: %v", execErr, rbErr), true)
		e.breaker.trip(rec.ActionID)
		metrics.SuspendedActions.Set(float64(len(e.breaker.trippedActions())))
		e.recorder.Record(audit.NewEntry(audit.EventRollbackFailed).
			WithSeverity(audit.SeverityCritical).
			WithExecution(*rec).
			WithMessage("rollback failed, action suspended from auto-apply"))
		e.recorder.Record(audit.NewEntry(audit.EventActionSuspended).
			WithSeverity(audit.SeverityCritical).
			WithAction(rec.ActionID).
			WithMessage("circuit breaker tripped by rollback failure"))
		return e.snapshot(rec), nil
	}

	e.finish(rec, models.ExecRolledBack, "", execErr.Error(), false)
	e.recorder.Record(audit.NewEntry(audit.EventExecutionRolledBack).
		WithSeverity(audit.SeverityWarning).
		WithExecution(*rec))
	return e.snapshot(rec), nil
}

func (e *Executor) transition(rec *models.ExecutionRecord, status models.ExecStatus) {
	e.mu.Lock()
	rec.Status = status
	e.mu.Unlock()
}

func (e *Executor) finish(rec *models.ExecutionRecord, status models.ExecStatus, summary, errText string, manual bool) {
	e.mu.Lock()
	rec.Status = status
	rec.FinishedAt = time.Now().UTC()
	rec.ResultSummary = summary
	rec.Error = errText
	rec.NeedsManualIntervention = manual
	snapshot := *rec
	e.mu.Unlock()

	metrics.ExecutionsTotal.WithLabelValues(rec.ActionID, string(status)).Inc()
	if e.onTerminal != nil {
		e.onTerminal(snapshot)
	}
}

func (e *Executor) snapshot(rec *models.ExecutionRecord) models.ExecutionRecord {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return *rec
}

package engine

// Package engine is the orchestration facade over the improvement pipeline:
// collect signals, detect opportunities, score them, gate them by policy,
// then hand each decision to its channel (executor, confirmation queue, or
// suggestion list). Every transition is recorded through the audit recorder.
//
// Proactive mode is the master switch. With it off the engine still observes,
// scores, and decides, but downgrades every auto and confirm outcome to
// suggest: full visibility, zero side effects.

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/mamutelabs/steward/internal/audit"
	"github.com/mamutelabs/steward/internal/engine/confirm"
	"github.com/mamutelabs/steward/internal/engine/detect"
	"github.com/mamutelabs/steward/internal/engine/execute"
	"github.com/mamutelabs/steward/internal/engine/policy"
	"github.com/mamutelabs/steward/internal/engine/registry"
	"github.com/mamutelabs/steward/internal/engine/score"
	"github.com/mamutelabs/steward/internal/metrics"
	"github.com/mamutelabs/steward/internal/models"
	"github.com/mamutelabs/steward/internal/telemetry"

	"github.com/google/uuid"
)

// Config tunes the engine loop.
type Config struct {
	// ProactiveMode is the initial state of the master switch.
	ProactiveMode bool

	// AnalysisInterval spaces the periodic passes started by Run. Zero
	// disables the periodic loop; passes then run only on demand.
	AnalysisInterval time.Duration
}

// AnalysisResult summarizes one full pass.
type AnalysisResult struct {
	PassedAt      time.Time                    `json:"passed_at"`
	SignalCount   int                          `json:"signal_count"`
	Opportunities int                          `json:"opportunities"`
	Applied       []models.ExecutionRecord     `json:"applied"`
	Failed        []models.ExecutionRecord     `json:"failed"`
	Pending       []models.ConfirmationRequest `json:"pending"`
	Suggested     []models.Decision            `json:"suggested"`
}

// Status is the engine's externally visible state.
type Status struct {
	ProactiveMode        bool     `json:"proactive_mode"`
	RegisteredActions    []string `json:"registered_actions"`
	PendingConfirmations int      `json:"pending_confirmations"`
	SuspendedActions     []string `json:"suspended_actions"`
	RecentFailures       int      `json:"recent_failures"`
}

// Engine wires the pipeline stages together.
type Engine struct {
	cfg       Config
	collector telemetry.Collector
	registry  *registry.Registry
	detector  *detect.Detector
	scorer    *score.Scorer
	gate      *policy.Gate
	confirms  *confirm.Manager
	executor  *execute.Executor
	recorder  *audit.Recorder
	logger    *zap.Logger

	proactive atomic.Bool

	// passMu serializes analysis passes; overlapping passes would double-count
	// the same unresolved opportunities.
	passMu sync.Mutex

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New assembles an engine from its stages and wires the cross-stage
// callbacks: terminal executions clear the scorer's redetect state, expired
// confirmations are audited as denials by timeout.
func New(
	cfg Config,
	collector telemetry.Collector,
	reg *registry.Registry,
	detector *detect.Detector,
	scorer *score.Scorer,
	gate *policy.Gate,
	confirms *confirm.Manager,
	executor *execute.Executor,
	recorder *audit.Recorder,
	logger *zap.Logger,
) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		cfg:       cfg,
		collector: collector,
		registry:  reg,
		detector:  detector,
		scorer:    scorer,
		gate:      gate,
		confirms:  confirms,
		executor:  executor,
		recorder:  recorder,
		logger:    logger.Named("engine"),
		stopCh:    make(chan struct{}),
	}
	e.proactive.Store(cfg.ProactiveMode)

	executor.OnTerminal(func(rec models.ExecutionRecord) {
		scorer.MarkResolved(rec.ActionID)
	})
	confirms.OnExpire(func(req models.ConfirmationRequest) {
		metrics.PendingConfirmations.Set(float64(confirms.PendingCount()))
		metrics.ConfirmationsTotal.WithLabelValues(string(models.ConfirmExpired)).Inc()
		scorer.MarkResolved(req.Decision.ActionID)
		recorder.Record(audit.NewEntry(audit.EventConfirmationExpired).
			WithSeverity(audit.SeverityWarning).
			WithConfirmation(req).
			WithMessage("confirmation expired unanswered, treated as denied"))
	})
	return e
}

// Start freezes the registry, restores persisted confirmations, and launches
// the confirmation sweeper plus, when configured, the periodic analysis loop.
func (e *Engine) Start(ctx context.Context) error {
	e.registry.Freeze()
	if err := e.confirms.Restore(ctx); err != nil {
		return fmt.Errorf("engine start: %w", err)
	}
	e.confirms.Start()
	metrics.PendingConfirmations.Set(float64(e.confirms.PendingCount()))

	e.recorder.Record(audit.NewEntry(audit.EventEngineStarted).
		WithMetadata("proactive_mode", e.proactive.Load()).
		WithMetadata("registered_actions", len(e.registry.ActionIDs())))

	if e.cfg.AnalysisInterval > 0 {
		e.wg.Add(1)
		go e.loop()
	}
	return nil
}

// Stop shuts the loop, the confirmation sweeper, and the executor down, in
// that order, so no new work enters a stage that is already draining.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
	e.wg.Wait()
	e.confirms.Stop()
	e.executor.Stop()
	e.recorder.Record(audit.NewEntry(audit.EventEngineStopped))
}

func (e *Engine) loop() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.AnalysisInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), e.cfg.AnalysisInterval)
			if _, err := e.AnalyzeAndImprove(ctx); err != nil {
				e.logger.Warn("periodic analysis pass failed", zap.Error(err))
			}
			cancel()
		case <-e.stopCh:
			return
		}
	}
}

// AnalyzeAndImprove runs one full pass: snapshot, detect, score, decide, and
// dispatch. Auto decisions for distinct resources execute in parallel; the
// pass returns once all of them reached a terminal state.
func (e *Engine) AnalyzeAndImprove(ctx context.Context) (AnalysisResult, error) {
	e.passMu.Lock()
	defer e.passMu.Unlock()

	start := time.Now()
	result := AnalysisResult{PassedAt: start.UTC()}

	signals, err := e.collector.GetSignalSnapshot(ctx)
	if err != nil && len(signals) == 0 {
		return result, fmt.Errorf("signal snapshot: %w", err)
	}
	if err != nil {
		// Partial snapshot. Proceed with what arrived.
		e.logger.Warn("signal snapshot incomplete", zap.Error(err))
	}
	result.SignalCount = len(signals)

	opportunities := e.validated(e.detector.Detect(signals))
	result.Opportunities = len(opportunities)
	for _, op := range opportunities {
		metrics.OpportunitiesDetected.WithLabelValues(op.ActionID).Inc()
	}

	scored := e.scorer.ScoreAll(ctx, opportunities)
	decisions := make([]models.Decision, 0, len(scored))
	for _, sc := range scored {
		decisions = append(decisions, e.decide(sc))
	}

	// Dispatch. Auto submissions run concurrently so independent resources
	// don't serialize behind each other; the keyed locks and the executor's
	// semaphore bound what actually overlaps.
	var (
		wg      sync.WaitGroup
		applyMu sync.Mutex
	)
	for _, d := range decisions {
		switch d.Outcome {
		case models.OutcomeAuto:
			wg.Add(1)
			go func(d models.Decision) {
				defer wg.Done()
				rec, err := e.executor.Submit(ctx, d, false)
				if err != nil {
					e.logger.Warn("auto-apply rejected",
						zap.String("action_id", d.ActionID), zap.Error(err))
				}
				if rec.ID == "" {
					return
				}
				applyMu.Lock()
				if rec.Status == models.ExecSucceeded {
					result.Applied = append(result.Applied, rec)
				} else {
					result.Failed = append(result.Failed, rec)
				}
				applyMu.Unlock()
			}(d)

		case models.OutcomeConfirm:
			req := e.confirms.Request(ctx, d)
			metrics.PendingConfirmations.Set(float64(e.confirms.PendingCount()))
			e.recorder.Record(audit.NewEntry(audit.EventConfirmationRequested).
				WithConfirmation(req).
				WithMessage(d.Description))
			result.Pending = append(result.Pending, req)

		case models.OutcomeSuggest:
			result.Suggested = append(result.Suggested, d)
		}
	}
	wg.Wait()

	metrics.AnalysisPassesTotal.Inc()
	metrics.AnalysisPassDuration.Observe(time.Since(start).Seconds())
	e.logger.Info("analysis pass complete",
		zap.Int("signals", result.SignalCount),
		zap.Int("opportunities", result.Opportunities),
		zap.Int("applied", len(result.Applied)),
		zap.Int("failed", len(result.Failed)),
		zap.Int("pending", len(result.Pending)),
		zap.Int("suggested", len(result.Suggested)),
		zap.Duration("took", time.Since(start)),
	)
	return result, nil
}

// validated drops opportunities referencing unregistered actions. A rule
// emitting an unknown action ID is a programming error worth surfacing, not
// worth crashing a pass over.
func (e *Engine) validated(ops []models.Opportunity) []models.Opportunity {
	valid := ops[:0:0]
	for _, op := range ops {
		if !e.registry.Has(op.ActionID) {
			e.recorder.Record(audit.NewEntry(audit.EventOpportunityDropped).
				WithSeverity(audit.SeverityWarning).
				WithAction(op.ActionID).
				WithMetadata("opportunity_id", op.ID).
				WithMessage("opportunity references unregistered action"))
			continue
		}
		valid = append(valid, op)
	}
	return valid
}

// decide runs one scored opportunity through the policy gate and the two
// runtime overrides: proactive mode off downgrades actionable outcomes to
// suggest, and a tripped circuit breaker downgrades auto to confirm.
func (e *Engine) decide(sc score.Scored) models.Decision {
	entry, err := e.registry.Resolve(sc.Opportunity.ActionID)
	if err != nil {
		// Unreachable after validated(); treat as drop.
		return models.Decision{Outcome: models.OutcomeDrop}
	}

	outcome := e.gate.Decide(sc.Confidence, entry.Descriptor.RiskLevel)

	if !e.proactive.Load() && (outcome == models.OutcomeAuto || outcome == models.OutcomeConfirm) {
		outcome = models.OutcomeSuggest
	}
	if outcome == models.OutcomeAuto && e.executor.Suspended(sc.Opportunity.ActionID) {
		outcome = models.OutcomeConfirm
	}

	d := models.Decision{
		ID:            uuid.NewString(),
		OpportunityID: sc.Opportunity.ID,
		ActionID:      sc.Opportunity.ActionID,
		Description:   sc.Opportunity.Description,
		Context:       sc.Opportunity.Context,
		Confidence:    sc.Confidence,
		Outcome:       outcome,
		DecidedAt:     time.Now().UTC(),
	}

	metrics.DecisionsTotal.WithLabelValues(d.ActionID, string(d.Outcome)).Inc()
	metrics.ConfidenceScore.Observe(d.Confidence)
	e.recorder.Record(audit.NewEntry(audit.EventDecisionMade).
		WithDecision(d).
		WithMetadata("confidence", d.Confidence).
		WithMetadata("risk_level", string(entry.Descriptor.RiskLevel)))
	return d
}

// ConfirmAction resolves a pending confirmation. Approval submits the
// decision to the executor and returns its terminal record; denial returns
// a nil record. Resolving an unknown or already-terminal request fails.
func (e *Engine) ConfirmAction(ctx context.Context, id string, approved bool) (*models.ExecutionRecord, error) {
	req, err := e.confirms.Resolve(ctx, id, approved)
	if err != nil {
		return nil, err
	}
	metrics.PendingConfirmations.Set(float64(e.confirms.PendingCount()))
	metrics.ConfirmationsTotal.WithLabelValues(string(req.Status)).Inc()

	if !approved {
		e.scorer.MarkResolved(req.Decision.ActionID)
		e.recorder.Record(audit.NewEntry(audit.EventConfirmationDenied).
			WithConfirmation(req))
		return nil, nil
	}

	e.recorder.Record(audit.NewEntry(audit.EventConfirmationApproved).
		WithConfirmation(req))

	rec, err := e.executor.Submit(ctx, req.Decision, true)
	if err != nil {
		return nil, fmt.Errorf("confirm %s: %w", id, err)
	}
	return &rec, nil
}

// ToggleProactiveMode flips the master switch and reports the previous state.
func (e *Engine) ToggleProactiveMode(enabled bool) bool {
	prev := e.proactive.Swap(enabled)
	if prev != enabled {
		e.recorder.Record(audit.NewEntry(audit.EventProactiveModeSet).
			WithMetadata("enabled", enabled).
			WithMessage(fmt.Sprintf("proactive mode set to %v", enabled)))
		e.logger.Info("proactive mode changed", zap.Bool("enabled", enabled))
	}
	return prev
}

// ProactiveMode reports the current switch state.
func (e *Engine) ProactiveMode() bool { return e.proactive.Load() }

// SetPolicyTable swaps the policy thresholds at runtime.
func (e *Engine) SetPolicyTable(t policy.Table) error {
	if err := e.gate.SetTable(t); err != nil {
		return err
	}
	e.recorder.Record(audit.NewEntry(audit.EventPolicyTableSwap).
		WithMetadata("thresholds", len(t)))
	return nil
}

// ResumeAction clears a suspended action's circuit breaker.
func (e *Engine) ResumeAction(actionID string) bool {
	ok := e.executor.Resume(actionID)
	if ok {
		e.scorer.MarkResolved(actionID)
	}
	return ok
}

// PendingConfirmations lists requests still awaiting an answer.
func (e *Engine) PendingConfirmations() []models.ConfirmationRequest {
	return e.confirms.Pending()
}

// GetStatus reports the engine's current state.
func (e *Engine) GetStatus() Status {
	return Status{
		ProactiveMode:        e.proactive.Load(),
		RegisteredActions:    e.registry.ActionIDs(),
		PendingConfirmations: e.confirms.PendingCount(),
		SuspendedActions:     e.executor.SuspendedActions(),
		RecentFailures:       e.executor.FailuresSince(time.Now().Add(-1 * time.Hour)),
	}
}

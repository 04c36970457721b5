package score

// Package score attaches a confidence value in [0,1] to each detected
// opportunity.
//
// Confidence combines three inputs:
//   - the base confidence supplied by the triggering rule
//   - an exponential moving average of the action's historical execution
//     outcomes (successes raise future confidence, failures and rollbacks
//     lower it)
//   - a recency decay for opportunities re-detected many times in quick
//     succession without being resolved, which prevents the engine from
//     oscillating over the same unresolved problem
//
// Scoring is deterministic and auditable: no sampling, no learned weights.
// When several opportunities in one pass share an action ID the scorer keeps
// a single candidate carrying the maximum confidence, ties broken by the
// earliest detection time.

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mamutelabs/steward/internal/models"
)

// neutralSuccessRate is the EMA prior used when an action has no history.
// An action that has never run is neither trusted nor distrusted.
const neutralSuccessRate = 0.5

// History supplies past execution outcomes, newest first. Implemented by the
// audit store.
type History interface {
	RecentOutcomes(ctx context.Context, actionID string, limit int) ([]models.ExecStatus, error)
}

// Config tunes the scoring function. The decay constant and window size are
// deliberately configuration parameters, not hardcoded values.
type Config struct {
	// EMAAlpha is the smoothing factor of the success-rate moving average.
	EMAAlpha float64

	// HistoryWindow is how many past executions feed the moving average.
	HistoryWindow int

	// HistoryWeight scales how far the moving average may push confidence
	// away from the rule's base value (plus or minus HistoryWeight/2).
	HistoryWeight float64

	// RedetectWindow is the period over which repeated detections of the
	// same action are counted.
	RedetectWindow time.Duration

	// RedetectPenalty is the per-repeat decay strength; each unresolved
	// re-detection inside the window divides confidence by
	// (1 + RedetectPenalty * repeats).
	RedetectPenalty float64
}

// DefaultConfig returns the default scoring parameters.
func DefaultConfig() Config {
	return Config{
		EMAAlpha:        0.3,
		HistoryWindow:   50,
		HistoryWeight:   0.2,
		RedetectWindow:  10 * time.Minute,
		RedetectPenalty: 0.15,
	}
}

// Scored is an opportunity with its final confidence attached.
type Scored struct {
	Opportunity models.Opportunity
	Confidence  float64
}

// Scorer computes confidence values. The only mutable state is the
// per-action record of recent unresolved detections.
type Scorer struct {
	cfg     Config
	history History
	logger  *zap.Logger

	mu        sync.Mutex
	redetects map[string][]time.Time
}

// New creates a scorer. history may be nil, in which case the moving average
// stays at its neutral prior.
func New(cfg Config, history History, logger *zap.Logger) *Scorer {
	if cfg.EMAAlpha <= 0 || cfg.EMAAlpha > 1 {
		cfg.EMAAlpha = DefaultConfig().EMAAlpha
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = DefaultConfig().HistoryWindow
	}
	if cfg.HistoryWeight < 0 {
		cfg.HistoryWeight = DefaultConfig().HistoryWeight
	}
	if cfg.RedetectWindow <= 0 {
		cfg.RedetectWindow = DefaultConfig().RedetectWindow
	}
	if cfg.RedetectPenalty < 0 {
		cfg.RedetectPenalty = DefaultConfig().RedetectPenalty
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scorer{
		cfg:       cfg,
		history:   history,
		logger:    logger,
		redetects: make(map[string][]time.Time),
	}
}

// ScoreAll deduplicates one pass's opportunities by action ID and returns a
// scored candidate per action, ordered by descending confidence.
func (s *Scorer) ScoreAll(ctx context.Context, ops []models.Opportunity) []Scored {
	best := make(map[string]models.Opportunity, len(ops))
	for _, op := range ops {
		cur, ok := best[op.ActionID]
		switch {
		case !ok:
			best[op.ActionID] = op
		case op.BaseConfidence > cur.BaseConfidence:
			best[op.ActionID] = op
		case op.BaseConfidence == cur.BaseConfidence && op.DetectedAt.Before(cur.DetectedAt):
			best[op.ActionID] = op
		}
	}

	scored := make([]Scored, 0, len(best))
	for _, op := range best {
		scored = append(scored, Scored{Opportunity: op, Confidence: s.Score(ctx, op)})
	}
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Confidence != scored[j].Confidence {
			return scored[i].Confidence > scored[j].Confidence
		}
		return scored[i].Opportunity.ActionID < scored[j].Opportunity.ActionID
	})
	return scored
}

// Score computes the confidence for a single opportunity and records the
// detection for future redetect decay.
func (s *Scorer) Score(ctx context.Context, op models.Opportunity) float64 {
	ema := s.successRate(ctx, op.ActionID)
	decay := s.redetectDecay(op.ActionID, op.DetectedAt)

	confidence := op.BaseConfidence + s.cfg.HistoryWeight*(ema-neutralSuccessRate)
	confidence *= decay
	confidence = clamp01(confidence)

	s.logger.Debug("scored opportunity",
		zap.String("action_id", op.ActionID),
		zap.Float64("base", op.BaseConfidence),
		zap.Float64("success_rate", ema),
		zap.Float64("redetect_decay", decay),
		zap.Float64("confidence", confidence),
	)
	return confidence
}

// MarkResolved clears the redetect history for an action. Called when an
// execution for the action reaches a terminal state or a confirmation is
// resolved, so the next detection starts from full confidence again.
func (s *Scorer) MarkResolved(actionID string) {
	s.mu.Lock()
	delete(s.redetects, actionID)
	s.mu.Unlock()
}

// successRate folds the action's recent outcomes (oldest first) into an EMA,
// starting from the neutral prior. Succeeded counts as 1, failed and rolled
// back count as 0; non-terminal states are skipped.
func (s *Scorer) successRate(ctx context.Context, actionID string) float64 {
	if s.history == nil {
		return neutralSuccessRate
	}
	outcomes, err := s.history.RecentOutcomes(ctx, actionID, s.cfg.HistoryWindow)
	if err != nil {
		s.logger.Warn("outcome history unavailable, using neutral prior",
			zap.String("action_id", actionID), zap.Error(err))
		return neutralSuccessRate
	}

	ema := neutralSuccessRate
	// Outcomes arrive newest first; fold oldest first so the newest result
	// has the strongest influence.
	for i := len(outcomes) - 1; i >= 0; i-- {
		var v float64
		switch outcomes[i] {
		case models.ExecSucceeded:
			v = 1
		case models.ExecFailed, models.ExecRolledBack:
			v = 0
		default:
			continue
		}
		ema = s.cfg.EMAAlpha*v + (1-s.cfg.EMAAlpha)*ema
	}
	return ema
}

// redetectDecay records the current detection and returns the decay factor
// based on how many unresolved detections fall inside the window.
func (s *Scorer) redetectDecay(actionID string, at time.Time) float64 {
	if at.IsZero() {
		at = time.Now().UTC()
	}
	cutoff := at.Add(-s.cfg.RedetectWindow)

	s.mu.Lock()
	defer s.mu.Unlock()

	recent := s.redetects[actionID][:0:0]
	for _, t := range s.redetects[actionID] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	repeats := len(recent)
	s.redetects[actionID] = append(recent, at)

	return 1 / (1 + s.cfg.RedetectPenalty*float64(repeats))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

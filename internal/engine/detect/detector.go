package detect

// Package detect turns a telemetry snapshot into candidate opportunities.
//
// Responsibilities:
//   - Evaluate an extensible set of independent rules against one snapshot
//   - Emit zero or one opportunity per rule
//   - Stay stateless, deterministic, and side-effect free
//
// Rules never communicate with each other. Two rules may reference the same
// action ID within one pass; deduplication is the scorer's job, which keeps
// rules simple and composable.

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mamutelabs/steward/internal/models"
)

// Snapshot indexes one analysis pass's signals by name for rule lookups.
// When the collector reports a signal name more than once, the most recent
// observation wins.
type Snapshot struct {
	byName map[string]models.Signal
	all    []models.Signal
}

// NewSnapshot builds a snapshot from the collector's raw signal list.
func NewSnapshot(signals []models.Signal) Snapshot {
	s := Snapshot{byName: make(map[string]models.Signal, len(signals)), all: signals}
	for _, sig := range signals {
		prev, ok := s.byName[sig.Name]
		if !ok || sig.ObservedAt.After(prev.ObservedAt) {
			s.byName[sig.Name] = sig
		}
	}
	return s
}

// Value returns the named signal's value and whether it was observed.
func (s Snapshot) Value(name string) (float64, bool) {
	sig, ok := s.byName[name]
	return sig.Value, ok
}

// Signal returns the full named signal and whether it was observed.
func (s Snapshot) Signal(name string) (models.Signal, bool) {
	sig, ok := s.byName[name]
	return sig, ok
}

// Signals returns the raw signal list for rules that inspect several inputs.
func (s Snapshot) Signals() []models.Signal { return s.all }

// Rule examines one or more named signals and, if its trigger condition
// holds, emits a single opportunity referencing a specific action ID.
type Rule interface {
	Name() string
	Evaluate(s Snapshot) (models.Opportunity, bool)
}

// Detector runs all rules against a snapshot.
type Detector struct {
	rules  []Rule
	logger *zap.Logger
}

// New creates a detector over the given rule set.
func New(logger *zap.Logger, rules ...Rule) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{rules: rules, logger: logger}
}

// AddRule appends a rule. Not safe to call concurrently with Detect.
func (d *Detector) AddRule(r Rule) {
	d.rules = append(d.rules, r)
}

// Rules returns the registered rule count.
func (d *Detector) Rules() int { return len(d.rules) }

// Detect evaluates every rule against the snapshot and returns the emitted
// opportunities. Rules run concurrently; they share no mutable state and no
// ordering is required between them.
func (d *Detector) Detect(signals []models.Signal) []models.Opportunity {
	snapshot := NewSnapshot(signals)
	now := time.Now().UTC()

	results := make([]models.Opportunity, len(d.rules))
	hits := make([]bool, len(d.rules))

	var wg sync.WaitGroup
	for i, rule := range d.rules {
		wg.Add(1)
		go func(i int, rule Rule) {
			defer wg.Done()
			op, ok := rule.Evaluate(snapshot)
			if !ok {
				return
			}
			if op.ID == "" {
				op.ID = uuid.NewString()
			}
			if op.DetectedAt.IsZero() {
				op.DetectedAt = now
			}
			results[i] = op
			hits[i] = true
		}(i, rule)
	}
	wg.Wait()

	opportunities := make([]models.Opportunity, 0, len(d.rules))
	for i, hit := range hits {
		if !hit {
			continue
		}
		d.logger.Debug("rule triggered",
			zap.String("rule", d.rules[i].Name()),
			zap.String("action_id", results[i].ActionID),
			zap.Float64("base_confidence", results[i].BaseConfidence),
		)
		opportunities = append(opportunities, results[i])
	}
	return opportunities
}

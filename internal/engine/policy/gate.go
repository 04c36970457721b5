package policy

// Package policy maps (confidence, risk level) to an outcome.
//
// The mapping is table-driven: operators configure an ordered list of
// confidence thresholds, each naming the outcome granted at or above it.
// One hard override applies before the table: destructive actions are never
// auto-applied, their best attainable outcome is confirm.
//
// Decide is pure. Reconfiguration swaps in a new immutable table atomically
// so in-flight decisions never observe a half-written table.

import (
	"fmt"
	"sync/atomic"

	"github.com/mamutelabs/steward/internal/models"
)

// Threshold grants an outcome at or above a confidence value.
type Threshold struct {
	MinConfidence float64        `json:"min_confidence" mapstructure:"min_confidence"`
	Outcome       models.Outcome `json:"outcome" mapstructure:"outcome"`
}

// Table is an ordered threshold list, highest confidence first. Confidence
// below every threshold yields drop.
type Table []Threshold

// Validate checks the table is well formed: non-empty, confidence values in
// [0,1] and strictly descending, outcomes recognized. A malformed table is a
// configuration error and must halt initialization.
func (t Table) Validate() error {
	if len(t) == 0 {
		return fmt.Errorf("policy table must not be empty")
	}
	prev := 1.1
	for i, th := range t {
		if th.MinConfidence < 0 || th.MinConfidence > 1 {
			return fmt.Errorf("policy table entry %d: min_confidence %.3f out of [0,1]", i, th.MinConfidence)
		}
		if th.MinConfidence >= prev {
			return fmt.Errorf("policy table entry %d: thresholds must be strictly descending", i)
		}
		switch th.Outcome {
		case models.OutcomeAuto, models.OutcomeConfirm, models.OutcomeSuggest, models.OutcomeDrop:
		default:
			return fmt.Errorf("policy table entry %d: unknown outcome %q", i, th.Outcome)
		}
		prev = th.MinConfidence
	}
	return nil
}

// DefaultTable mirrors the historical auto-apply threshold of 0.8.
func DefaultTable() Table {
	return Table{
		{MinConfidence: 0.8, Outcome: models.OutcomeAuto},
		{MinConfidence: 0.6, Outcome: models.OutcomeConfirm},
		{MinConfidence: 0.4, Outcome: models.OutcomeSuggest},
	}
}

// Gate is the deterministic decision function. Safe for unlimited concurrent
// readers; SetTable is an administrative reconfiguration event.
type Gate struct {
	table atomic.Pointer[Table]
}

// NewGate creates a gate over a validated table.
func NewGate(t Table) (*Gate, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	g := &Gate{}
	g.store(t)
	return g, nil
}

// Decide maps confidence and risk to an outcome under the current table.
// Identical inputs produce identical outputs for the lifetime of a table.
func (g *Gate) Decide(confidence float64, risk models.RiskLevel) models.Outcome {
	outcome := models.OutcomeDrop
	for _, th := range *g.table.Load() {
		if confidence >= th.MinConfidence {
			outcome = th.Outcome
			break
		}
	}
	if risk == models.RiskDestructive && outcome == models.OutcomeAuto {
		outcome = models.OutcomeConfirm
	}
	return outcome
}

// SetTable atomically replaces the threshold table.
func (g *Gate) SetTable(t Table) error {
	if err := t.Validate(); err != nil {
		return err
	}
	g.store(t)
	return nil
}

// CurrentTable returns a copy of the active table.
func (g *Gate) CurrentTable() Table {
	t := *g.table.Load()
	out := make(Table, len(t))
	copy(out, t)
	return out
}

func (g *Gate) store(t Table) {
	// Copy so later caller mutations cannot leak into the active table.
	own := make(Table, len(t))
	copy(own, t)
	g.table.Store(&own)
}

package models

// Package models defines the core data types shared by the steward engine
// components: signals, opportunities, decisions, confirmation requests, and
// execution records.
//
// All entities here are value types. Opportunities and Decisions are immutable
// once created; ExecutionRecord status transitions are driven exclusively by
// the executor; ConfirmationRequest status transitions are driven exclusively
// by the confirmation manager.

import (
	"fmt"
	"time"
)

// RiskLevel classifies how dangerous an action is to apply.
type RiskLevel string

const (
	RiskLow         RiskLevel = "low"
	RiskMedium      RiskLevel = "medium"
	RiskHigh        RiskLevel = "high"
	RiskDestructive RiskLevel = "destructive"
)

// ParseRiskLevel validates a risk level string from configuration or storage.
func ParseRiskLevel(s string) (RiskLevel, error) {
	switch RiskLevel(s) {
	case RiskLow, RiskMedium, RiskHigh, RiskDestructive:
		return RiskLevel(s), nil
	}
	return "", fmt.Errorf("unknown risk level %q", s)
}

// Outcome is the policy gate's verdict for a scored opportunity.
type Outcome string

const (
	OutcomeAuto    Outcome = "auto"
	OutcomeConfirm Outcome = "confirm"
	OutcomeSuggest Outcome = "suggest"
	OutcomeDrop    Outcome = "drop"
)

// Signal is a single telemetry observation supplied by the collector for one
// analysis pass. Signals are read-only and never persisted by the engine.
type Signal struct {
	Name       string    `json:"name"`
	Value      float64   `json:"value"`
	Unit       string    `json:"unit"`
	ObservedAt time.Time `json:"observed_at"`
	Source     string    `json:"source"`
}

// Opportunity is a detected candidate for applying a named action.
type Opportunity struct {
	ID             string                 `json:"id"`
	ActionID       string                 `json:"action_id"`
	Description    string                 `json:"description"`
	Context        map[string]interface{} `json:"context,omitempty"`
	DetectedAt     time.Time              `json:"detected_at"`
	BaseConfidence float64                `json:"base_confidence"`
}

// Decision records the policy gate's verdict for exactly one opportunity.
type Decision struct {
	ID            string                 `json:"id"`
	OpportunityID string                 `json:"opportunity_id"`
	ActionID      string                 `json:"action_id"`
	Description   string                 `json:"description"`
	Context       map[string]interface{} `json:"context,omitempty"`
	Confidence    float64                `json:"confidence"`
	Outcome       Outcome                `json:"outcome"`
	DecidedAt     time.Time              `json:"decided_at"`
}

// ConfirmStatus is the lifecycle state of a confirmation request.
type ConfirmStatus string

const (
	ConfirmPending  ConfirmStatus = "pending"
	ConfirmApproved ConfirmStatus = "approved"
	ConfirmDenied   ConfirmStatus = "denied"
	ConfirmExpired  ConfirmStatus = "expired"
)

// Terminal reports whether the status is final.
func (s ConfirmStatus) Terminal() bool {
	return s == ConfirmApproved || s == ConfirmDenied || s == ConfirmExpired
}

// ConfirmationRequest holds a decision awaiting human approval.
type ConfirmationRequest struct {
	ID        string        `json:"id"`
	Decision  Decision      `json:"decision"`
	CreatedAt time.Time     `json:"created_at"`
	ExpiresAt time.Time     `json:"expires_at"`
	Status    ConfirmStatus `json:"status"`
}

// ExecStatus is the lifecycle state of an execution record.
type ExecStatus string

const (
	ExecPending    ExecStatus = "pending"
	ExecRunning    ExecStatus = "running"
	ExecSucceeded  ExecStatus = "succeeded"
	ExecFailed     ExecStatus = "failed"
	ExecRolledBack ExecStatus = "rolled_back"
)

// Terminal reports whether the status is final.
func (s ExecStatus) Terminal() bool {
	return s == ExecSucceeded || s == ExecFailed || s == ExecRolledBack
}

// ExecutionRecord tracks one action execution from submission to completion.
type ExecutionRecord struct {
	ID            string     `json:"id"`
	DecisionID    string     `json:"decision_id"`
	ActionID      string     `json:"action_id"`
	ResourceKey   string     `json:"resource_key"`
	Status        ExecStatus `json:"status"`
	StartedAt     time.Time  `json:"started_at"`
	FinishedAt    time.Time  `json:"finished_at,omitzero"`
	ResultSummary string     `json:"result_summary,omitempty"`
	Error         string     `json:"error,omitempty"`
	RollbackToken string     `json:"-"`

	// NeedsManualIntervention is set when a rollback attempt itself failed
	// and the action was suspended from further auto-apply.
	NeedsManualIntervention bool `json:"needs_manual_intervention,omitempty"`
}

// ValidationError reports a malformed input item, such as an opportunity
// referencing an unregistered action. The offending item is dropped and
// logged; it never aborts the analysis pass.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Message)
}

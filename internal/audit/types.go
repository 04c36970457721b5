package audit

import (
	"time"

	"github.com/mamutelabs/steward/internal/models"
)

// EventType identifies the kind of engine transition an entry records.
type EventType string

const (
	// Decision events
	EventDecisionMade EventType = "decision.made"

	// Confirmation events
	EventConfirmationRequested EventType = "confirmation.requested"
	EventConfirmationApproved  EventType = "confirmation.approved"
	EventConfirmationDenied    EventType = "confirmation.denied"
	EventConfirmationExpired   EventType = "confirmation.expired"

	// Execution events
	EventExecutionSubmitted  EventType = "execution.submitted"
	EventExecutionStarted    EventType = "execution.started"
	EventExecutionSucceeded  EventType = "execution.succeeded"
	EventExecutionFailed     EventType = "execution.failed"
	EventExecutionRolledBack EventType = "execution.rolled_back"
	EventRollbackFailed      EventType = "execution.rollback_failed"
	EventExecutionRejected   EventType = "execution.rejected"

	// Action availability events
	EventActionSuspended EventType = "action.suspended"
	EventActionResumed   EventType = "action.resumed"

	// Validation events
	EventOpportunityDropped EventType = "opportunity.dropped"

	// System events
	EventEngineStarted     EventType = "engine.started"
	EventEngineStopped     EventType = "engine.stopped"
	EventProactiveModeSet  EventType = "engine.proactive_mode_set"
	EventPolicyTableSwap   EventType = "engine.policy_table_swapped"
)

// Severity classifies an entry for notification routing.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityInfo:     0,
	SeverityWarning:  1,
	SeverityError:    2,
	SeverityCritical: 3,
}

// AtLeast reports whether s is at or above min.
func (s Severity) AtLeast(min Severity) bool {
	return severityRank[s] >= severityRank[min]
}

// Entry is one immutable line of the append-only audit log. Seq is assigned
// by the recorder's single writer and increases monotonically.
type Entry struct {
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"event_type"`
	Severity  Severity  `json:"severity"`

	ActionID       string `json:"action_id,omitempty"`
	OpportunityID  string `json:"opportunity_id,omitempty"`
	DecisionID     string `json:"decision_id,omitempty"`
	ConfirmationID string `json:"confirmation_id,omitempty"`
	ExecutionID    string `json:"execution_id,omitempty"`

	Outcome models.Outcome `json:"outcome,omitempty"`
	Status  string         `json:"status,omitempty"`
	Message string         `json:"message,omitempty"`
	Error   string         `json:"error,omitempty"`

	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// NewEntry creates an entry with timestamp and default severity set.
func NewEntry(t EventType) Entry {
	return Entry{
		Timestamp: time.Now().UTC(),
		Type:      t,
		Severity:  SeverityInfo,
	}
}

// WithSeverity sets the severity.
func (e Entry) WithSeverity(s Severity) Entry {
	e.Severity = s
	return e
}

// WithAction sets the action ID.
func (e Entry) WithAction(actionID string) Entry {
	e.ActionID = actionID
	return e
}

// WithDecision copies decision identifiers and outcome.
func (e Entry) WithDecision(d models.Decision) Entry {
	e.DecisionID = d.ID
	e.OpportunityID = d.OpportunityID
	e.ActionID = d.ActionID
	e.Outcome = d.Outcome
	return e
}

// WithExecution copies execution identifiers and status.
func (e Entry) WithExecution(rec models.ExecutionRecord) Entry {
	e.ExecutionID = rec.ID
	e.DecisionID = rec.DecisionID
	e.ActionID = rec.ActionID
	e.Status = string(rec.Status)
	if rec.Error != "" {
		e.Error = rec.Error
	}
	return e
}

// WithConfirmation copies confirmation identifiers and status.
func (e Entry) WithConfirmation(req models.ConfirmationRequest) Entry {
	e.ConfirmationID = req.ID
	e.DecisionID = req.Decision.ID
	e.ActionID = req.Decision.ActionID
	e.Status = string(req.Status)
	return e
}

// WithMessage sets the human-readable message.
func (e Entry) WithMessage(msg string) Entry {
	e.Message = msg
	return e
}

// WithError sets error text and bumps severity to at least error.
func (e Entry) WithError(err error) Entry {
	if err != nil {
		e.Error = err.Error()
		if !e.Severity.AtLeast(SeverityError) {
			e.Severity = SeverityError
		}
	}
	return e
}

// WithMetadata attaches one metadata key.
func (e Entry) WithMetadata(key string, value interface{}) Entry {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

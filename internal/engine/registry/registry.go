package registry

// Package registry holds the static catalog of executable actions.
//
// Responsibilities:
//   - Map an action ID to its handler and risk metadata
//   - Enforce registration-time contracts (unique IDs, rollback capability)
//   - Freeze the catalog before the first analysis pass so that no runtime
//     mutation is possible
//
// Registration happens once at startup, one call per operational module
// (backup, cache, maintenance, etc.). After Freeze, only reads are served
// and late registration attempts fail.

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mamutelabs/steward/internal/models"
)

var (
	// ErrAlreadyRegistered is returned when an action ID is registered twice.
	ErrAlreadyRegistered = errors.New("action already registered")

	// ErrRegistryFrozen is returned for registration attempts after startup.
	ErrRegistryFrozen = errors.New("registry is frozen")

	// ErrUnknownAction is returned when resolving an unregistered action ID.
	ErrUnknownAction = errors.New("unknown action")

	// ErrRollbackNotImplemented is returned when a descriptor declares
	// rollback support but the handler does not implement Rollbacker.
	ErrRollbackNotImplemented = errors.New("descriptor declares rollback support but handler implements no rollback")
)

// Result is what a handler reports after a successful execution.
type Result struct {
	// Summary is a short human-readable description of what was done.
	Summary string

	// RollbackToken is opaque data sufficient to undo the execution.
	// Empty when the action produced nothing to undo.
	RollbackToken string
}

// Handler executes one action. Implementations must observe ctx cancellation
// (raised on timeout or shutdown) and terminate either fully completed or
// with a state their Rollback method can cleanly undo.
type Handler interface {
	Execute(ctx context.Context, op models.Opportunity) (Result, error)
}

// Rollbacker is the optional undo capability of a handler. Required when the
// descriptor sets RollbackSupported.
type Rollbacker interface {
	Rollback(ctx context.Context, token string) error
}

// ResourceKeyFunc derives the lock key an execution will contend on,
// for example "database:primary" or "filesystem:logs".
type ResourceKeyFunc func(op models.Opportunity) string

// Descriptor is the immutable risk metadata attached to a registered action.
type Descriptor struct {
	ActionID          string
	RiskLevel         models.RiskLevel
	Idempotent        bool
	RollbackSupported bool
	ResourceKey       ResourceKeyFunc
}

// Entry pairs a handler with its descriptor.
type Entry struct {
	Handler    Handler
	Descriptor Descriptor
}

// Registry is the startup-built action catalog. Reads are safe for unlimited
// concurrent callers once Freeze has been called.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
	frozen  bool
}

// New creates an empty, unfrozen registry.
func New() *Registry {
	return &Registry{entries: make(map[string]Entry)}
}

// Register adds an action to the catalog. It fails with ErrAlreadyRegistered
// for duplicate IDs, ErrRollbackNotImplemented when the descriptor claims a
// rollback capability the handler lacks, and ErrRegistryFrozen after Freeze.
func (r *Registry) Register(handler Handler, desc Descriptor) error {
	if desc.ActionID == "" {
		return fmt.Errorf("register: %w", &models.ValidationError{Field: "action_id", Message: "must not be empty"})
	}
	if handler == nil {
		return fmt.Errorf("register %s: %w", desc.ActionID, &models.ValidationError{Field: "handler", Message: "must not be nil"})
	}
	if _, err := models.ParseRiskLevel(string(desc.RiskLevel)); err != nil {
		return fmt.Errorf("register %s: %w", desc.ActionID, err)
	}
	if desc.RollbackSupported {
		if _, ok := handler.(Rollbacker); !ok {
			return fmt.Errorf("register %s: %w", desc.ActionID, ErrRollbackNotImplemented)
		}
	}
	if desc.ResourceKey == nil {
		// Default contention domain is the action itself.
		id := desc.ActionID
		desc.ResourceKey = func(models.Opportunity) string { return "action:" + id }
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return fmt.Errorf("register %s: %w", desc.ActionID, ErrRegistryFrozen)
	}
	if _, exists := r.entries[desc.ActionID]; exists {
		return fmt.Errorf("register %s: %w", desc.ActionID, ErrAlreadyRegistered)
	}
	r.entries[desc.ActionID] = Entry{Handler: handler, Descriptor: desc}
	return nil
}

// Freeze closes the registry for writes. Called by the engine before the
// first analysis pass; idempotent.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Resolve returns the handler and descriptor for an action ID.
func (r *Registry) Resolve(actionID string) (Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[actionID]
	if !ok {
		return Entry{}, fmt.Errorf("resolve %s: %w", actionID, ErrUnknownAction)
	}
	return entry, nil
}

// Has reports whether an action ID is registered.
func (r *Registry) Has(actionID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[actionID]
	return ok
}

// ActionIDs returns the registered action IDs in unspecified order.
func (r *Registry) ActionIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	return ids
}

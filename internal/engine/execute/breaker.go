package execute

import (
	"sync"
	"time"
)

// breaker suspends an action's auto-apply eligibility after a rollback
// failure. Whether a suspension clears itself after a cooldown or requires
// an explicit human resume is a configuration choice; the default is manual
// clearing.
type breaker struct {
	autoRecover bool
	cooldown    time.Duration

	mu        sync.Mutex
	suspended map[string]time.Time
}

func newBreaker(autoRecover bool, cooldown time.Duration) *breaker {
	return &breaker{
		autoRecover: autoRecover,
		cooldown:    cooldown,
		suspended:   make(map[string]time.Time),
	}
}

// trip suspends an action.
func (b *breaker) trip(actionID string) {
	b.mu.Lock()
	b.suspended[actionID] = time.Now().UTC()
	b.mu.Unlock()
}

// tripped reports whether the action is currently suspended, clearing the
// suspension first when cooldown recovery applies.
func (b *breaker) tripped(actionID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	since, ok := b.suspended[actionID]
	if !ok {
		return false
	}
	if b.autoRecover && b.cooldown > 0 && time.Since(since) >= b.cooldown {
		delete(b.suspended, actionID)
		return false
	}
	return true
}

// reset clears a suspension manually. Returns false when nothing was tripped.
func (b *breaker) reset(actionID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.suspended[actionID]; !ok {
		return false
	}
	delete(b.suspended, actionID)
	return true
}

// trippedActions lists currently suspended action IDs.
func (b *breaker) trippedActions() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.suspended))
	for id := range b.suspended {
		out = append(out, id)
	}
	return out
}

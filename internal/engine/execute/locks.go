package execute

import (
	"context"
	"sync"
	"time"
)

// keyedLocks provides per-resource-key mutual exclusion with a bounded
// acquisition wait. A held key maps to a channel that is closed on release,
// waking every waiter to retry.
type keyedLocks struct {
	mu   sync.Mutex
	held map[string]chan struct{}
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{held: make(map[string]chan struct{})}
}

// acquire takes the key's exclusive lock, waiting up to wait. It returns
// ErrResourceBusy when the wait elapses and ctx.Err() on cancellation.
func (k *keyedLocks) acquire(ctx context.Context, key string, wait time.Duration) error {
	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		k.mu.Lock()
		release, busy := k.held[key]
		if !busy {
			k.held[key] = make(chan struct{})
			k.mu.Unlock()
			return nil
		}
		k.mu.Unlock()

		select {
		case <-release:
			// Holder released; race other waiters for the key.
		case <-timer.C:
			return ErrResourceBusy
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// release frees the key and wakes all waiters. Calling release for a key
// that is not held is a programming error and panics.
func (k *keyedLocks) release(key string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	ch, ok := k.held[key]
	if !ok {
		panic("execute: release of unheld resource key " + key)
	}
	delete(k.held, key)
	close(ch)
}

// heldKeys returns the currently locked resource keys.
func (k *keyedLocks) heldKeys() []string {
	k.mu.Lock()
	defer k.mu.Unlock()
	keys := make([]string, 0, len(k.held))
	for key := range k.held {
		keys = append(keys, key)
	}
	return keys
}

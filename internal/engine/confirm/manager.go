package confirm

// Package confirm holds decisions awaiting human approval.
//
// Every request carries a TTL. A background sweeper expires overdue requests;
// an expired request is treated exactly like a denied one downstream, so the
// fail-safe default is "no action without a timely yes". Resolution and
// expiry are guarded by a single status transition per request: exactly one
// of approved, denied, or expired wins.

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mamutelabs/steward/internal/models"
)

var (
	// ErrNotFound is returned when resolving an unknown request ID.
	ErrNotFound = errors.New("confirmation request not found")

	// ErrAlreadyResolved is returned when resolving a terminal request.
	ErrAlreadyResolved = errors.New("confirmation request already resolved")
)

// Store persists pending requests so they survive restarts. May be nil.
type Store interface {
	SaveConfirmation(ctx context.Context, req models.ConfirmationRequest) error
	UpdateConfirmationStatus(ctx context.Context, id string, status models.ConfirmStatus) error
	LoadPendingConfirmations(ctx context.Context) ([]models.ConfirmationRequest, error)
}

// Manager owns the confirmation request lifecycle.
type Manager struct {
	ttl           time.Duration
	sweepInterval time.Duration
	store         Store
	logger        *zap.Logger

	// onExpire is invoked outside the lock for each request the sweeper
	// expires, so the engine can audit and notify.
	onExpire func(models.ConfirmationRequest)

	mu       sync.Mutex
	requests map[string]*models.ConfirmationRequest

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a manager. store may be nil for a purely in-memory lifecycle.
func New(ttl, sweepInterval time.Duration, store Store, logger *zap.Logger) *Manager {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	if sweepInterval <= 0 {
		sweepInterval = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		ttl:           ttl,
		sweepInterval: sweepInterval,
		store:         store,
		logger:        logger,
		requests:      make(map[string]*models.ConfirmationRequest),
		stopCh:        make(chan struct{}),
	}
}

// OnExpire registers the expiry callback. Must be called before Start.
func (m *Manager) OnExpire(fn func(models.ConfirmationRequest)) { m.onExpire = fn }

// Start launches the expiry sweeper.
func (m *Manager) Start() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.sweep(time.Now().UTC())
			case <-m.stopCh:
				return
			}
		}
	}()
}

// Stop halts the sweeper. Pending requests stay pending.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
}

// Request creates a pending confirmation for a decision.
func (m *Manager) Request(ctx context.Context, decision models.Decision) models.ConfirmationRequest {
	now := time.Now().UTC()
	req := models.ConfirmationRequest{
		ID:        uuid.NewString(),
		Decision:  decision,
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
		Status:    models.ConfirmPending,
	}

	m.mu.Lock()
	m.requests[req.ID] = &req
	m.mu.Unlock()

	if m.store != nil {
		if err := m.store.SaveConfirmation(ctx, req); err != nil {
			m.logger.Warn("failed to persist confirmation request",
				zap.String("id", req.ID), zap.Error(err))
		}
	}
	return req
}

// Resolve transitions a pending request to approved or denied. It fails with
// ErrNotFound for unknown IDs and ErrAlreadyResolved for terminal requests,
// including requests the sweeper expired first.
func (m *Manager) Resolve(ctx context.Context, id string, approved bool) (models.ConfirmationRequest, error) {
	status := models.ConfirmDenied
	if approved {
		status = models.ConfirmApproved
	}

	m.mu.Lock()
	req, ok := m.requests[id]
	if !ok {
		m.mu.Unlock()
		return models.ConfirmationRequest{}, fmt.Errorf("resolve %s: %w", id, ErrNotFound)
	}
	if req.Status.Terminal() {
		resolved := *req
		m.mu.Unlock()
		return resolved, fmt.Errorf("resolve %s (%s): %w", id, resolved.Status, ErrAlreadyResolved)
	}
	req.Status = status
	resolved := *req
	m.mu.Unlock()

	m.persistStatus(ctx, id, status)
	return resolved, nil
}

// Get returns a request by ID.
func (m *Manager) Get(id string) (models.ConfirmationRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[id]
	if !ok {
		return models.ConfirmationRequest{}, fmt.Errorf("get %s: %w", id, ErrNotFound)
	}
	return *req, nil
}

// Pending returns all still-pending requests.
func (m *Manager) Pending() []models.ConfirmationRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.ConfirmationRequest, 0, len(m.requests))
	for _, req := range m.requests {
		if req.Status == models.ConfirmPending {
			out = append(out, *req)
		}
	}
	return out
}

// PendingCount returns the number of still-pending requests.
func (m *Manager) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, req := range m.requests {
		if req.Status == models.ConfirmPending {
			n++
		}
	}
	return n
}

// Restore reloads persisted pending requests after a restart. Requests whose
// TTL elapsed while the process was down are expired immediately.
func (m *Manager) Restore(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	reqs, err := m.store.LoadPendingConfirmations(ctx)
	if err != nil {
		return fmt.Errorf("restore confirmations: %w", err)
	}
	m.mu.Lock()
	for i := range reqs {
		req := reqs[i]
		m.requests[req.ID] = &req
	}
	m.mu.Unlock()

	m.sweep(time.Now().UTC())
	m.logger.Info("restored pending confirmations", zap.Int("count", len(reqs)))
	return nil
}

// sweep expires every pending request past its deadline.
func (m *Manager) sweep(now time.Time) {
	var expired []models.ConfirmationRequest

	m.mu.Lock()
	for _, req := range m.requests {
		if req.Status == models.ConfirmPending && now.After(req.ExpiresAt) {
			req.Status = models.ConfirmExpired
			expired = append(expired, *req)
		}
	}
	m.mu.Unlock()

	for _, req := range expired {
		m.persistStatus(context.Background(), req.ID, models.ConfirmExpired)
		m.logger.Info("confirmation request expired",
			zap.String("id", req.ID),
			zap.String("action_id", req.Decision.ActionID))
		if m.onExpire != nil {
			m.onExpire(req)
		}
	}
}

func (m *Manager) persistStatus(ctx context.Context, id string, status models.ConfirmStatus) {
	if m.store == nil {
		return
	}
	if err := m.store.UpdateConfirmationStatus(ctx, id, status); err != nil {
		m.logger.Warn("failed to persist confirmation status",
			zap.String("id", id), zap.String("status", string(status)), zap.Error(err))
	}
}

package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/mamutelabs/steward/internal/db"
	"github.com/mamutelabs/steward/internal/engine"
	"github.com/mamutelabs/steward/internal/middleware"
	"github.com/mamutelabs/steward/internal/notify"
)

// Config holds the HTTP server settings.
type Config struct {
	Host        string
	Port        int
	TLSEnabled  bool
	TLSCertPath string
	TLSKeyPath  string
}

// Server exposes the engine over REST plus a WebSocket event stream.
type Server struct {
	config *Config

	// Core components
	engine  *engine.Engine
	store   db.Store
	hub     *notify.Hub
	limiter *middleware.RateLimiter
	logger  *zap.Logger

	// HTTP server
	httpServer *http.Server

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// State
	mu      sync.RWMutex
	running bool
}

// NewServer creates a new server over an assembled engine.
func NewServer(cfg *Config, eng *engine.Engine, store db.Store, hub *notify.Hub, logger *zap.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if eng == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		config:  cfg,
		engine:  eng,
		store:   store,
		hub:     hub,
		limiter: middleware.NewRateLimiter(120),
		logger:  logger.Named("server"),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Start starts the server.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}
	s.running = true
	s.mu.Unlock()

	mux := http.NewServeMux()
	s.registerHandlers(mux)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.config.Host, s.config.Port),
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Info("starting HTTP server",
			zap.String("host", s.config.Host),
			zap.Int("port", s.config.Port),
			zap.Bool("tls", s.config.TLSEnabled))

		var err error
		if s.config.TLSEnabled {
			err = s.httpServer.ListenAndServeTLS(s.config.TLSCertPath, s.config.TLSKeyPath)
		} else {
			err = s.httpServer.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop gracefully stops the server.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("server is not running")
	}
	s.running = false
	s.mu.Unlock()

	if s.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("error shutting down HTTP server", zap.Error(err))
		}
	}

	if s.hub != nil {
		s.hub.Close()
	}
	s.limiter.Stop()

	s.cancel()
	s.wg.Wait()
	return nil
}

// Wait blocks until the server is stopped.
func (s *Server) Wait() {
	<-s.ctx.Done()
}

// IsRunning returns whether the server is running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// registerHandlers registers HTTP handlers.
func (s *Server) registerHandlers(mux *http.ServeMux) {
	// Health and readiness
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)

	// Engine endpoints. Mutating routes sit behind the rate limiter.
	mux.HandleFunc("/api/v1/analyze", s.limiter.WrapFunc(s.handleAnalyze))
	mux.HandleFunc("/api/v1/status", s.handleStatus)
	mux.HandleFunc("/api/v1/proactive", s.limiter.WrapFunc(s.handleProactive))

	// Confirmation endpoints
	mux.HandleFunc("/api/v1/confirmations", s.handleConfirmations)
	mux.HandleFunc("/api/v1/confirmations/", s.limiter.WrapFunc(s.handleConfirmationResolve))

	// Action endpoints
	mux.HandleFunc("/api/v1/actions/", s.limiter.WrapFunc(s.handleActionResume))

	// Audit endpoints
	mux.HandleFunc("/api/v1/audit/events", s.handleAuditEvents)

	// Prometheus metrics
	mux.Handle("/metrics", promhttp.Handler())

	// Live event stream
	if s.hub != nil {
		mux.Handle("/ws", s.hub)
	}
}

package main

// Package main is the entry point for the steward server application.
//
// Responsibilities:
//   - Load and validate configuration from YAML and environment variables
//   - Open the SQLite store backing the audit trail and pending confirmations
//   - Start the single-writer audit recorder with its notification sinks
//   - Register the builtin action handlers and freeze the catalog
//   - Start the engine (telemetry, detection, scoring, policy, execution)
//   - Start the REST API server with the WebSocket event stream
//   - Implement graceful shutdown with context cancellation
//
// Architecture Flow:
//   1. Telemetry collectors → signal snapshot per analysis pass
//   2. Detection rules → opportunities → confidence scoring → policy gate
//   3. Auto decisions run under resource locks; confirm decisions wait for
//      a human answer; suggest decisions surface over the API
//   4. Every transition lands in the audit log and fans out to sinks
//
// Graceful Shutdown:
//   - Stops the periodic analysis loop
//   - Waits for in-flight executions to reach a terminal state
//   - Closes all HTTP listeners
//   - Finalizes the audit log

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/mamutelabs/steward/internal/actions"
	"github.com/mamutelabs/steward/internal/audit"
	"github.com/mamutelabs/steward/internal/config"
	"github.com/mamutelabs/steward/internal/db"
	"github.com/mamutelabs/steward/internal/engine"
	"github.com/mamutelabs/steward/internal/engine/confirm"
	"github.com/mamutelabs/steward/internal/engine/detect"
	"github.com/mamutelabs/steward/internal/engine/execute"
	"github.com/mamutelabs/steward/internal/engine/policy"
	"github.com/mamutelabs/steward/internal/engine/registry"
	"github.com/mamutelabs/steward/internal/engine/score"
	"github.com/mamutelabs/steward/internal/models"
	"github.com/mamutelabs/steward/internal/notify"
	"github.com/mamutelabs/steward/internal/server"
	"github.com/mamutelabs/steward/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "steward: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	configPath := os.Getenv("STEWARD_CONFIG")
	if configPath == "" {
		configPath = "/etc/steward/config.yaml"
	}

	mgr, err := config.NewConfigManager(configPath)
	if err != nil {
		return fmt.Errorf("create config manager: %w", err)
	}
	if err := mgr.Load(ctx); err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if err := mgr.Validate(ctx); err != nil {
		return err
	}
	cfg := mgr.Get(ctx)

	logger, err := buildLogger(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	// Durable state: audit trail plus pending confirmations.
	if err := os.MkdirAll(filepath.Dir(cfg.Database.SQLitePath), 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}
	store, err := db.NewSQLiteStore(cfg.Database.SQLitePath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	// Audit recorder with its notification sinks.
	recorder, err := audit.NewRecorder(audit.Config{
		AuditLogPath: cfg.Audit.LogPath,
		MaxSize:      cfg.Audit.MaxSizeMB,
		MaxBackups:   cfg.Audit.MaxBackups,
		MaxAge:       cfg.Audit.MaxAgeDays,
		Compress:     cfg.Audit.Compress,
		QueueSize:    cfg.Audit.QueueSize,
	}, store, logger)
	if err != nil {
		return fmt.Errorf("start audit recorder: %w", err)
	}
	defer recorder.Close()

	hub := notify.NewHub(cfg.Server.AllowedOrigins, logger)
	recorder.RegisterSink(notify.NewLogSink(logger), audit.SeverityWarning)
	recorder.RegisterSink(hub, audit.SeverityInfo)

	// Action catalog.
	reg := registry.New()
	maintenance, _ := store.(db.Maintenance)
	logDir := filepath.Dir(cfg.Audit.LogPath)
	if err := actions.RegisterBuiltin(reg, actions.Deps{
		DB:        maintenance,
		LogDir:    logDir,
		BackupDir: cfg.Database.BackupDir,
		Logger:    logger,
	}); err != nil {
		return err
	}

	// Pipeline stages.
	detector := detect.New(logger, detect.BuiltinRules()...)
	scorer := score.New(score.Config{
		EMAAlpha:        cfg.Scoring.EMAAlpha,
		HistoryWindow:   cfg.Scoring.HistoryWindow,
		HistoryWeight:   cfg.Scoring.HistoryWeight,
		RedetectWindow:  time.Duration(cfg.Scoring.RedetectWindowSeconds) * time.Second,
		RedetectPenalty: cfg.Scoring.RedetectPenalty,
	}, store, logger)

	table := policy.DefaultTable()
	if len(cfg.Policy.Thresholds) > 0 {
		table = make(policy.Table, 0, len(cfg.Policy.Thresholds))
		for _, th := range cfg.Policy.Thresholds {
			table = append(table, policy.Threshold{
				MinConfidence: th.MinConfidence,
				Outcome:       models.Outcome(th.Outcome),
			})
		}
	}
	gate, err := policy.NewGate(table)
	if err != nil {
		return fmt.Errorf("policy table: %w", err)
	}

	confirms := confirm.New(
		time.Duration(cfg.Confirmation.TTLSeconds)*time.Second,
		time.Duration(cfg.Confirmation.SweepIntervalSeconds)*time.Second,
		store, logger)

	executor := execute.New(execute.Config{
		MaxConcurrent:      cfg.Executor.MaxConcurrent,
		LockWaitTimeout:    time.Duration(cfg.Executor.LockWaitTimeoutSeconds) * time.Second,
		ActionTimeout:      time.Duration(cfg.Executor.ActionTimeoutSeconds) * time.Second,
		BreakerAutoRecover: cfg.Executor.BreakerAutoRecover,
		BreakerCooldown:    time.Duration(cfg.Executor.BreakerCooldownSeconds) * time.Second,
	}, reg, recorder, logger)

	collector := telemetry.Multi{
		telemetry.RuntimeCollector{},
		telemetry.OpsCollector{LogDir: logDir, BackupDir: cfg.Database.BackupDir},
	}

	eng := engine.New(engine.Config{
		ProactiveMode:    cfg.Engine.ProactiveMode,
		AnalysisInterval: time.Duration(cfg.Engine.AnalysisIntervalSeconds) * time.Second,
	}, collector, reg, detector, scorer, gate, confirms, executor, recorder, logger)

	if err := eng.Start(ctx); err != nil {
		return err
	}

	srv, err := server.NewServer(&server.Config{
		Port:        cfg.Server.Port,
		TLSEnabled:  cfg.Server.TLSEnabled,
		TLSCertPath: cfg.Server.TLSCertPath,
		TLSKeyPath:  cfg.Server.TLSKeyPath,
	}, eng, store, hub, logger)
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}
	if err := srv.Start(); err != nil {
		return fmt.Errorf("start server: %w", err)
	}

	logger.Info("steward started",
		zap.Int("port", cfg.Server.Port),
		zap.Bool("proactive_mode", cfg.Engine.ProactiveMode),
		zap.Int("analysis_interval_s", cfg.Engine.AnalysisIntervalSeconds))

	// Wait for shutdown signal (Ctrl+C or SIGTERM).
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	logger.Info("received shutdown signal")

	if err := srv.Stop(); err != nil {
		logger.Warn("error stopping server", zap.Error(err))
	}
	eng.Stop()
	recorder.Flush()

	logger.Info("shutdown complete")
	return nil
}

// buildLogger constructs the application logger from the logging section.
func buildLogger(level, format string) (*zap.Logger, error) {
	zapCfg := zap.NewProductionConfig()
	if format == "text" {
		zapCfg.Encoding = "console"
	}
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	zapCfg.Level = lvl
	return zapCfg.Build()
}

package config

import (
	"fmt"
	"os"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed for %s: %s", e.Field, e.Message)
}

// Validate validates the configuration and returns validation errors.
func (c *Config) Validate() []error {
	var errs []error

	// Validate server configuration
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", c.Server.Port),
		})
	}

	if c.Server.TLSEnabled {
		if c.Server.TLSCertPath == "" {
			errs = append(errs, &ValidationError{
				Field:   "server.tls_cert_path",
				Message: "tls_cert_path is required when tls_enabled is true",
			})
		} else if _, err := os.Stat(c.Server.TLSCertPath); os.IsNotExist(err) {
			errs = append(errs, &ValidationError{
				Field:   "server.tls_cert_path",
				Message: fmt.Sprintf("certificate file does not exist: %s", c.Server.TLSCertPath),
			})
		}

		if c.Server.TLSKeyPath == "" {
			errs = append(errs, &ValidationError{
				Field:   "server.tls_key_path",
				Message: "tls_key_path is required when tls_enabled is true",
			})
		} else if _, err := os.Stat(c.Server.TLSKeyPath); os.IsNotExist(err) {
			errs = append(errs, &ValidationError{
				Field:   "server.tls_key_path",
				Message: fmt.Sprintf("key file does not exist: %s", c.Server.TLSKeyPath),
			})
		}
	}

	// Validate engine configuration
	if c.Engine.AnalysisIntervalSeconds < 0 {
		errs = append(errs, &ValidationError{
			Field:   "engine.analysis_interval_seconds",
			Message: fmt.Sprintf("analysis_interval_seconds cannot be negative, got %d", c.Engine.AnalysisIntervalSeconds),
		})
	}

	// Validate policy thresholds: values in range, strictly descending,
	// outcomes recognized. An empty list means the built-in table applies.
	validOutcomes := map[string]bool{
		"auto":    true,
		"confirm": true,
		"suggest": true,
		"drop":    true,
	}
	prev := 1.1
	for i, th := range c.Policy.Thresholds {
		field := fmt.Sprintf("policy.thresholds[%d]", i)
		if th.MinConfidence < 0 || th.MinConfidence > 1 {
			errs = append(errs, &ValidationError{
				Field:   field + ".min_confidence",
				Message: fmt.Sprintf("must be between 0 and 1, got %.3f", th.MinConfidence),
			})
		}
		if th.MinConfidence >= prev {
			errs = append(errs, &ValidationError{
				Field:   field + ".min_confidence",
				Message: "thresholds must be strictly descending",
			})
		}
		if !validOutcomes[strings.ToLower(th.Outcome)] {
			errs = append(errs, &ValidationError{
				Field:   field + ".outcome",
				Message: fmt.Sprintf("invalid outcome '%s', must be one of: auto, confirm, suggest, drop", th.Outcome),
			})
		}
		prev = th.MinConfidence
	}

	// Validate scoring configuration
	if c.Scoring.EMAAlpha <= 0 || c.Scoring.EMAAlpha > 1 {
		errs = append(errs, &ValidationError{
			Field:   "scoring.ema_alpha",
			Message: fmt.Sprintf("ema_alpha must be in (0, 1], got %.3f", c.Scoring.EMAAlpha),
		})
	}

	if c.Scoring.HistoryWindow < 1 {
		errs = append(errs, &ValidationError{
			Field:   "scoring.history_window",
			Message: fmt.Sprintf("history_window must be at least 1, got %d", c.Scoring.HistoryWindow),
		})
	}

	if c.Scoring.HistoryWeight < 0 || c.Scoring.HistoryWeight > 1 {
		errs = append(errs, &ValidationError{
			Field:   "scoring.history_weight",
			Message: fmt.Sprintf("history_weight must be between 0 and 1, got %.3f", c.Scoring.HistoryWeight),
		})
	}

	if c.Scoring.RedetectWindowSeconds < 0 {
		errs = append(errs, &ValidationError{
			Field:   "scoring.redetect_window_seconds",
			Message: fmt.Sprintf("redetect_window_seconds cannot be negative, got %d", c.Scoring.RedetectWindowSeconds),
		})
	}

	if c.Scoring.RedetectPenalty < 0 {
		errs = append(errs, &ValidationError{
			Field:   "scoring.redetect_penalty",
			Message: fmt.Sprintf("redetect_penalty cannot be negative, got %.3f", c.Scoring.RedetectPenalty),
		})
	}

	// Validate confirmation configuration
	if c.Confirmation.TTLSeconds < 1 {
		errs = append(errs, &ValidationError{
			Field:   "confirmation.ttl_seconds",
			Message: fmt.Sprintf("ttl_seconds must be at least 1, got %d", c.Confirmation.TTLSeconds),
		})
	}

	if c.Confirmation.SweepIntervalSeconds < 1 {
		errs = append(errs, &ValidationError{
			Field:   "confirmation.sweep_interval_seconds",
			Message: fmt.Sprintf("sweep_interval_seconds must be at least 1, got %d", c.Confirmation.SweepIntervalSeconds),
		})
	}

	// Validate executor configuration
	if c.Executor.MaxConcurrent < 1 {
		errs = append(errs, &ValidationError{
			Field:   "executor.max_concurrent",
			Message: fmt.Sprintf("max_concurrent must be at least 1, got %d", c.Executor.MaxConcurrent),
		})
	}

	if c.Executor.LockWaitTimeoutSeconds < 1 {
		errs = append(errs, &ValidationError{
			Field:   "executor.lock_wait_timeout_seconds",
			Message: fmt.Sprintf("lock_wait_timeout_seconds must be at least 1, got %d", c.Executor.LockWaitTimeoutSeconds),
		})
	}

	if c.Executor.ActionTimeoutSeconds < 1 {
		errs = append(errs, &ValidationError{
			Field:   "executor.action_timeout_seconds",
			Message: fmt.Sprintf("action_timeout_seconds must be at least 1, got %d", c.Executor.ActionTimeoutSeconds),
		})
	}

	if c.Executor.BreakerAutoRecover && c.Executor.BreakerCooldownSeconds < 1 {
		errs = append(errs, &ValidationError{
			Field:   "executor.breaker_cooldown_seconds",
			Message: "breaker_cooldown_seconds must be at least 1 when breaker_auto_recover is true",
		})
	}

	// Validate database configuration
	if c.Database.SQLitePath == "" {
		errs = append(errs, &ValidationError{
			Field:   "database.sqlite_path",
			Message: "sqlite_path is required",
		})
	}

	// Validate audit configuration
	if c.Audit.LogPath == "" {
		errs = append(errs, &ValidationError{
			Field:   "audit.log_path",
			Message: "log_path is required",
		})
	}

	if c.Audit.QueueSize < 1 {
		errs = append(errs, &ValidationError{
			Field:   "audit.queue_size",
			Message: fmt.Sprintf("queue_size must be at least 1, got %d", c.Audit.QueueSize),
		})
	}

	// Validate logging configuration
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, &ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid log level '%s', must be one of: debug, info, warn, error", c.Logging.Level),
		})
	}

	validLogFormats := map[string]bool{
		"json": true,
		"text": true,
	}
	if !validLogFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, &ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("invalid log format '%s', must be one of: json, text", c.Logging.Format),
		})
	}

	return errs
}

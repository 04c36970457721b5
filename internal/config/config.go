package config

import "context"

// Package config provides configuration management for steward.
//
// Responsibilities:
//   - Load configuration from YAML files and environment variables
//   - Validate configuration on startup
//   - Provide runtime access to all configuration
//   - Support configuration reloading (for some settings)
//   - Establish reasonable defaults
//
// Configuration Sources (priority order, high to low):
//   1. Environment variables (STEWARD_* prefix)
//   2. YAML config files (default: /etc/steward/config.yaml)
//   3. Built-in defaults (lowest priority)
//
// Main Configuration Sections:
//
//   1. Server
//      - port: Listen port (default 8084)
//      - tls_enabled: Enable TLS
//      - tls_cert_path: Path to certificate
//      - tls_key_path: Path to key
//      - allowed_origins: Origins permitted on the WebSocket endpoint
//
//   2. Engine
//      - proactive_mode: Start with autonomous actions enabled
//      - analysis_interval_seconds: Spacing of periodic passes (0 = on demand)
//
//   3. Policy
//      - thresholds: Ordered confidence thresholds mapping to outcomes
//
//   4. Scoring
//      - ema_alpha: Smoothing factor of the success-rate moving average
//      - history_window: Past executions feeding the moving average
//      - history_weight: Influence of history on final confidence
//      - redetect_window_seconds: Window for counting repeat detections
//      - redetect_penalty: Per-repeat confidence decay strength
//
//   5. Confirmation
//      - ttl_seconds: How long a pending request stays answerable
//      - sweep_interval_seconds: Expiry sweeper period
//
//   6. Executor
//      - max_concurrent: Cap on simultaneously running actions
//      - lock_wait_timeout_seconds: Bounded wait for a busy resource
//      - action_timeout_seconds: Per-action execution deadline
//      - breaker_auto_recover: Re-enable suspended actions after cooldown
//      - breaker_cooldown_seconds: Cooldown before auto-recovery
//
//   7. Database
//      - sqlite_path: Path to the SQLite file backing audit and confirmations
//      - backup_dir: Directory receiving database snapshots
//
//   8. Audit
//      - log_path: Append-only audit log file
//      - max_size_mb / max_backups / max_age_days / compress: Rotation policy
//      - queue_size: Recorder queue depth
//
//   9. Logging
//      - level: "debug" | "info" | "warn" | "error"
//      - format: "json" | "text"

// Config struct contains all configuration fields
type Config struct {
	// Server configuration
	Server struct {
		Port        int
		TLSEnabled  bool
		TLSCertPath string
		TLSKeyPath  string
		// AllowedOrigins is a list of origins permitted to open WebSocket
		// connections. Use ["*"] to allow any origin (development only).
		AllowedOrigins []string
	}

	// Engine configuration
	Engine struct {
		ProactiveMode           bool
		AnalysisIntervalSeconds int
	}

	// Policy configuration
	Policy struct {
		Thresholds []PolicyThreshold
	}

	// Scoring configuration
	Scoring struct {
		EMAAlpha              float64
		HistoryWindow         int
		HistoryWeight         float64
		RedetectWindowSeconds int
		RedetectPenalty       float64
	}

	// Confirmation configuration
	Confirmation struct {
		TTLSeconds           int
		SweepIntervalSeconds int
	}

	// Executor configuration
	Executor struct {
		MaxConcurrent          int
		LockWaitTimeoutSeconds int
		ActionTimeoutSeconds   int
		BreakerAutoRecover     bool
		BreakerCooldownSeconds int
	}

	// Database configuration
	Database struct {
		SQLitePath string
		BackupDir  string
	}

	// Audit configuration
	Audit struct {
		LogPath    string
		MaxSizeMB  int
		MaxBackups int
		MaxAgeDays int
		Compress   bool
		QueueSize  int
	}

	// Logging configuration
	Logging struct {
		Level  string
		Format string
	}
}

// PolicyThreshold is one configured confidence threshold. Mirrors the policy
// package's table entries without importing it.
type PolicyThreshold struct {
	MinConfidence float64 `mapstructure:"min_confidence"`
	Outcome       string  `mapstructure:"outcome"`
}

// ConfigManager defines the interface for configuration access.
type ConfigManager interface {
	// Load loads configuration from all sources.
	Load(ctx context.Context) error

	// Get returns the current configuration.
	Get(ctx context.Context) *Config

	// Validate validates configuration is correct and complete.
	Validate(ctx context.Context) error

	// Watch watches for configuration changes and reloads (if supported).
	Watch(ctx context.Context) <-chan Config

	// Reload reloads configuration from sources (selective settings).
	Reload(ctx context.Context) error
}

// NewConfigManager creates a new configuration manager.
func NewConfigManager(configPath string) (ConfigManager, error) {
	mgr := &viperConfigManager{
		configPath: configPath,
		config:     DefaultConfig(),
		watchChan:  make(chan Config, 1),
	}
	return mgr, nil
}

// NewConfigManagerWithDefaults creates a config manager with default config path.
func NewConfigManagerWithDefaults() (ConfigManager, error) {
	return NewConfigManager("/etc/steward/config.yaml")
}

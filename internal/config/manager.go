package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// viperConfigManager implements ConfigManager using Viper.
type viperConfigManager struct {
	configPath string
	config     *Config
	viper      *viper.Viper
	watchChan  chan Config
}

// Load loads configuration from all sources.
func (m *viperConfigManager) Load(ctx context.Context) error {
	// Initialize viper
	m.viper = viper.New()

	// Set config file path
	m.viper.SetConfigFile(m.configPath)
	m.viper.SetConfigType("yaml")

	// Set environment variable prefix
	m.viper.SetEnvPrefix("STEWARD")
	m.viper.AutomaticEnv()
	m.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set defaults
	m.setDefaults()

	// Try to read config file (optional)
	if err := m.viper.ReadInConfig(); err != nil {
		// Config file not found is OK, we'll use defaults + env vars
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// File not found via viper - OK, use defaults
		} else if os.IsNotExist(err) {
			// File not found via os - OK, use defaults
		} else {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Unmarshal into config struct
	if err := m.unmarshalConfig(); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Apply environment variable overrides
	m.applyEnvOverrides()

	return nil
}

// Get returns the current configuration.
func (m *viperConfigManager) Get(ctx context.Context) *Config {
	return m.config
}

// Validate validates configuration is correct and complete.
func (m *viperConfigManager) Validate(ctx context.Context) error {
	errs := m.config.Validate()
	if len(errs) > 0 {
		// Combine all errors into a single error message
		var errMsgs []string
		for _, err := range errs {
			errMsgs = append(errMsgs, err.Error())
		}
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errMsgs, "\n  - "))
	}
	return nil
}

// Watch watches for configuration changes and reloads.
func (m *viperConfigManager) Watch(ctx context.Context) <-chan Config {
	// Start watching config file
	m.viper.WatchConfig()
	m.viper.OnConfigChange(func(e fsnotify.Event) {
		// Reload config
		if err := m.unmarshalConfig(); err != nil {
			// Log error but don't send to channel
			return
		}
		// Send updated config to channel
		select {
		case m.watchChan <- *m.config:
		default:
			// Channel full, skip this update
		}
	})

	return m.watchChan
}

// Reload reloads configuration from sources.
func (m *viperConfigManager) Reload(ctx context.Context) error {
	// Re-read config file
	if err := m.viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Unmarshal into config struct
	if err := m.unmarshalConfig(); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Apply environment variable overrides
	m.applyEnvOverrides()

	return nil
}

// setDefaults sets default values in viper.
func (m *viperConfigManager) setDefaults() {
	defaults := DefaultConfig()

	// Server defaults
	m.viper.SetDefault("server.port", defaults.Server.Port)
	m.viper.SetDefault("server.tls_enabled", defaults.Server.TLSEnabled)
	m.viper.SetDefault("server.tls_cert_path", defaults.Server.TLSCertPath)
	m.viper.SetDefault("server.tls_key_path", defaults.Server.TLSKeyPath)
	m.viper.SetDefault("server.allowed_origins", defaults.Server.AllowedOrigins)

	// Engine defaults
	m.viper.SetDefault("engine.proactive_mode", defaults.Engine.ProactiveMode)
	m.viper.SetDefault("engine.analysis_interval_seconds", defaults.Engine.AnalysisIntervalSeconds)

	// Scoring defaults
	m.viper.SetDefault("scoring.ema_alpha", defaults.Scoring.EMAAlpha)
	m.viper.SetDefault("scoring.history_window", defaults.Scoring.HistoryWindow)
	m.viper.SetDefault("scoring.history_weight", defaults.Scoring.HistoryWeight)
	m.viper.SetDefault("scoring.redetect_window_seconds", defaults.Scoring.RedetectWindowSeconds)
	m.viper.SetDefault("scoring.redetect_penalty", defaults.Scoring.RedetectPenalty)

	// Confirmation defaults
	m.viper.SetDefault("confirmation.ttl_seconds", defaults.Confirmation.TTLSeconds)
	m.viper.SetDefault("confirmation.sweep_interval_seconds", defaults.Confirmation.SweepIntervalSeconds)

	// Executor defaults
	m.viper.SetDefault("executor.max_concurrent", defaults.Executor.MaxConcurrent)
	m.viper.SetDefault("executor.lock_wait_timeout_seconds", defaults.Executor.LockWaitTimeoutSeconds)
	m.viper.SetDefault("executor.action_timeout_seconds", defaults.Executor.ActionTimeoutSeconds)
	m.viper.SetDefault("executor.breaker_auto_recover", defaults.Executor.BreakerAutoRecover)
	m.viper.SetDefault("executor.breaker_cooldown_seconds", defaults.Executor.BreakerCooldownSeconds)

	// Database defaults
	m.viper.SetDefault("database.sqlite_path", defaults.Database.SQLitePath)
	m.viper.SetDefault("database.backup_dir", defaults.Database.BackupDir)

	// Audit defaults
	m.viper.SetDefault("audit.log_path", defaults.Audit.LogPath)
	m.viper.SetDefault("audit.max_size_mb", defaults.Audit.MaxSizeMB)
	m.viper.SetDefault("audit.max_backups", defaults.Audit.MaxBackups)
	m.viper.SetDefault("audit.max_age_days", defaults.Audit.MaxAgeDays)
	m.viper.SetDefault("audit.compress", defaults.Audit.Compress)
	m.viper.SetDefault("audit.queue_size", defaults.Audit.QueueSize)

	// Logging defaults
	m.viper.SetDefault("logging.level", defaults.Logging.Level)
	m.viper.SetDefault("logging.format", defaults.Logging.Format)
}

// unmarshalConfig unmarshals viper config into Config struct.
func (m *viperConfigManager) unmarshalConfig() error {
	cfg := &Config{}

	// Server
	cfg.Server.Port = m.viper.GetInt("server.port")
	cfg.Server.TLSEnabled = m.viper.GetBool("server.tls_enabled")
	cfg.Server.TLSCertPath = m.viper.GetString("server.tls_cert_path")
	cfg.Server.TLSKeyPath = m.viper.GetString("server.tls_key_path")
	cfg.Server.AllowedOrigins = m.viper.GetStringSlice("server.allowed_origins")

	// Engine
	cfg.Engine.ProactiveMode = m.viper.GetBool("engine.proactive_mode")
	cfg.Engine.AnalysisIntervalSeconds = m.viper.GetInt("engine.analysis_interval_seconds")

	// Policy thresholds are an ordered list of structured entries; an absent
	// key leaves the slice nil and the default table applies downstream.
	if err := m.viper.UnmarshalKey("policy.thresholds", &cfg.Policy.Thresholds); err != nil {
		return fmt.Errorf("policy.thresholds: %w", err)
	}

	// Scoring
	cfg.Scoring.EMAAlpha = m.viper.GetFloat64("scoring.ema_alpha")
	cfg.Scoring.HistoryWindow = m.viper.GetInt("scoring.history_window")
	cfg.Scoring.HistoryWeight = m.viper.GetFloat64("scoring.history_weight")
	cfg.Scoring.RedetectWindowSeconds = m.viper.GetInt("scoring.redetect_window_seconds")
	cfg.Scoring.RedetectPenalty = m.viper.GetFloat64("scoring.redetect_penalty")

	// Confirmation
	cfg.Confirmation.TTLSeconds = m.viper.GetInt("confirmation.ttl_seconds")
	cfg.Confirmation.SweepIntervalSeconds = m.viper.GetInt("confirmation.sweep_interval_seconds")

	// Executor
	cfg.Executor.MaxConcurrent = m.viper.GetInt("executor.max_concurrent")
	cfg.Executor.LockWaitTimeoutSeconds = m.viper.GetInt("executor.lock_wait_timeout_seconds")
	cfg.Executor.ActionTimeoutSeconds = m.viper.GetInt("executor.action_timeout_seconds")
	cfg.Executor.BreakerAutoRecover = m.viper.GetBool("executor.breaker_auto_recover")
	cfg.Executor.BreakerCooldownSeconds = m.viper.GetInt("executor.breaker_cooldown_seconds")

	// Database
	cfg.Database.SQLitePath = m.viper.GetString("database.sqlite_path")
	cfg.Database.BackupDir = m.viper.GetString("database.backup_dir")

	// Audit
	cfg.Audit.LogPath = m.viper.GetString("audit.log_path")
	cfg.Audit.MaxSizeMB = m.viper.GetInt("audit.max_size_mb")
	cfg.Audit.MaxBackups = m.viper.GetInt("audit.max_backups")
	cfg.Audit.MaxAgeDays = m.viper.GetInt("audit.max_age_days")
	cfg.Audit.Compress = m.viper.GetBool("audit.compress")
	cfg.Audit.QueueSize = m.viper.GetInt("audit.queue_size")

	// Logging
	cfg.Logging.Level = m.viper.GetString("logging.level")
	cfg.Logging.Format = m.viper.GetString("logging.format")

	m.config = cfg
	return nil
}

// applyEnvOverrides applies environment variable overrides for settings that
// are commonly injected directly in container deployments.
func (m *viperConfigManager) applyEnvOverrides() {
	// Port from environment - only override if explicitly set
	if portEnv := os.Getenv("STEWARD_PORT"); portEnv != "" {
		if port, err := strconv.Atoi(portEnv); err == nil {
			m.config.Server.Port = port
		}
	}

	// Database path from environment
	if path := os.Getenv("STEWARD_SQLITE_PATH"); path != "" {
		m.config.Database.SQLitePath = path
	}

	// Proactive mode kill switch from environment
	if modeEnv := os.Getenv("STEWARD_PROACTIVE_MODE"); modeEnv != "" {
		if enabled, err := strconv.ParseBool(modeEnv); err == nil {
			m.config.Engine.ProactiveMode = enabled
		}
	}
}

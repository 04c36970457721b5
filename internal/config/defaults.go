package config

// DefaultConfig returns a configuration with all default values.
func DefaultConfig() *Config {
	cfg := &Config{}

	// Server defaults
	cfg.Server.Port = 8084
	cfg.Server.TLSEnabled = false
	cfg.Server.TLSCertPath = ""
	cfg.Server.TLSKeyPath = ""
	cfg.Server.AllowedOrigins = []string{"http://localhost:3000", "http://localhost:5173"}

	// Engine defaults
	cfg.Engine.ProactiveMode = true
	cfg.Engine.AnalysisIntervalSeconds = 300

	// Policy defaults: empty means the built-in threshold table applies.
	cfg.Policy.Thresholds = nil

	// Scoring defaults
	cfg.Scoring.EMAAlpha = 0.3
	cfg.Scoring.HistoryWindow = 50
	cfg.Scoring.HistoryWeight = 0.2
	cfg.Scoring.RedetectWindowSeconds = 600
	cfg.Scoring.RedetectPenalty = 0.15

	// Confirmation defaults
	cfg.Confirmation.TTLSeconds = 900
	cfg.Confirmation.SweepIntervalSeconds = 30

	// Executor defaults
	cfg.Executor.MaxConcurrent = 4
	cfg.Executor.LockWaitTimeoutSeconds = 5
	cfg.Executor.ActionTimeoutSeconds = 120
	cfg.Executor.BreakerAutoRecover = false
	cfg.Executor.BreakerCooldownSeconds = 1800

	// Database defaults
	cfg.Database.SQLitePath = "/var/lib/steward/steward.db"
	cfg.Database.BackupDir = "/var/lib/steward/backups"

	// Audit defaults
	cfg.Audit.LogPath = "/var/log/steward/audit.log"
	cfg.Audit.MaxSizeMB = 100
	cfg.Audit.MaxBackups = 5
	cfg.Audit.MaxAgeDays = 30
	cfg.Audit.Compress = true
	cfg.Audit.QueueSize = 1024

	// Logging defaults
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	return cfg
}

package tactile

import (
	"meanie3d/internal/config"
)

// ConfigFromSettings derives an executor configuration from the tool settings.
func ConfigFromSettings(cfg *config.Config) ExecutorConfig {
	ec := DefaultExecutorConfig()
	ec.DefaultTimeout = cfg.GetExecutionTimeout()
	if cfg.Execution.LibraryPath != "" {
		ec.LibraryPath = cfg.Execution.LibraryPath
	}
	if len(cfg.Execution.AllowedEnvVars) > 0 {
		ec.AllowedEnvironment = append([]string(nil), cfg.Execution.AllowedEnvVars...)
	}
	if cfg.Execution.MaxOutputBytes > 0 {
		ec.MaxOutputBytes = cfg.Execution.MaxOutputBytes
	}
	return ec
}

// NewExecutorFromSettings builds the direct executor used by every command,
// reporting its events to audit when given.
func NewExecutorFromSettings(cfg *config.Config, audit *AuditLogger) *DirectExecutor {
	ec := ConfigFromSettings(cfg)
	if audit != nil {
		ec.AuditCallback = audit.Log
	}
	return NewDirectExecutorWithConfig(ec)
}

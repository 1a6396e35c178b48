package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation: %s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors collects multiple validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validator validates configuration.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new validator.
func NewValidator() *Validator {
	return &Validator{errors: make(ValidationErrors, 0)}
}

// Validate validates the entire configuration.
func (v *Validator) Validate(cfg *Config) error {
	v.validateLog(&cfg.Log)
	v.validateServer(&cfg.Server)
	v.validateState(&cfg.State)
	v.validateOrchestrator(&cfg.Orchestrator)
	v.validateRetention(&cfg.Retention)

	if len(v.errors) > 0 {
		return v.errors
	}
	return nil
}

func (v *Validator) validateLog(cfg *LogConfig) {
	switch cfg.Level {
	case "debug", "info", "warn", "error":
	default:
		v.addError("log.level", cfg.Level, "must be one of debug, info, warn, error")
	}
	switch cfg.Format {
	case "auto", "text", "json":
	default:
		v.addError("log.format", cfg.Format, "must be one of auto, text, json")
	}
}

func (v *Validator) validateServer(cfg *ServerConfig) {
	if strings.TrimSpace(cfg.Addr) == "" {
		v.addError("server.addr", cfg.Addr, "listen address cannot be empty")
	}
}

func (v *Validator) validateState(cfg *StateConfig) {
	if strings.TrimSpace(cfg.Path) == "" {
		v.addError("state.path", cfg.Path, "database path cannot be empty")
	}
}

func (v *Validator) validateOrchestrator(cfg *OrchestratorConfig) {
	if cfg.MaxConcurrent < 1 {
		v.addError("orchestrator.max_concurrent", cfg.MaxConcurrent, "must be at least 1")
	}
	if cfg.ShutdownTimeout <= 0 {
		v.addError("orchestrator.shutdown_timeout", cfg.ShutdownTimeout, "must be positive")
	}
	if cfg.HealthCheckInterval <= 0 {
		v.addError("orchestrator.health_check_interval", cfg.HealthCheckInterval, "must be positive")
	}
}

func (v *Validator) validateRetention(cfg *RetentionConfig) {
	if cfg.Days < 0 {
		v.addError("retention.days", cfg.Days, "cannot be negative")
	}
	if cfg.MaxEvents < 0 {
		v.addError("retention.max_events", cfg.MaxEvents, "cannot be negative")
	}
}

func (v *Validator) addError(field string, value interface{}, message string) {
	v.errors = append(v.errors, ValidationError{Field: field, Value: value, Message: message})
}

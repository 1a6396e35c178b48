// Package config loads and validates server configuration from files,
// environment variables and CLI flags.
package config

import "time"

// Config holds all application configuration.
type Config struct {
	Log          LogConfig          `mapstructure:"log"`
	Server       ServerConfig       `mapstructure:"server"`
	State        StateConfig        `mapstructure:"state"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Retention    RetentionConfig    `mapstructure:"retention"`
}

// LogConfig configures logging behavior.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// StateConfig configures state persistence.
type StateConfig struct {
	Path string `mapstructure:"path"`
}

// OrchestratorConfig configures workflow execution limits.
type OrchestratorConfig struct {
	// MaxConcurrent is the hard ceiling of concurrent workflows.
	MaxConcurrent int `mapstructure:"max_concurrent"`
	// ShutdownTimeout bounds the graceful-drain wait before forced cancel.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// HealthCheckInterval is the delay between worktree health sweeps.
	HealthCheckInterval time.Duration `mapstructure:"health_check_interval"`
}

// RetentionConfig configures event pruning at shutdown.
type RetentionConfig struct {
	// Days keeps events of workflows finished within this many days.
	Days int `mapstructure:"days"`
	// MaxEvents is reserved for a future per-workflow cap; accepted, unused.
	MaxEvents int `mapstructure:"max_events"`
}

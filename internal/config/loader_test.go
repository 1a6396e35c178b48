package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// emptyConfigFile writes an empty config file so Load exercises only
// defaults and environment overrides.
func emptyConfigFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("# empty\n"), 0o644); err != nil {
		t.Fatalf("WriteFile error: %v", err)
	}
	return path
}

func TestLoader_Defaults(t *testing.T) {
	cfg, err := NewLoader().WithConfigFile(emptyConfigFile(t)).Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}

	if cfg.Orchestrator.MaxConcurrent != 5 {
		t.Errorf("max_concurrent = %d, want 5", cfg.Orchestrator.MaxConcurrent)
	}
	if cfg.Orchestrator.ShutdownTimeout != 30*time.Second {
		t.Errorf("shutdown_timeout = %s, want 30s", cfg.Orchestrator.ShutdownTimeout)
	}
	if cfg.Orchestrator.HealthCheckInterval != 30*time.Second {
		t.Errorf("health_check_interval = %s, want 30s", cfg.Orchestrator.HealthCheckInterval)
	}
	if cfg.Retention.Days != 30 {
		t.Errorf("retention.days = %d, want 30", cfg.Retention.Days)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "auto" {
		t.Errorf("log defaults = %s/%s", cfg.Log.Level, cfg.Log.Format)
	}
}

func TestLoader_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
log:
  level: debug
orchestrator:
  max_concurrent: 2
  shutdown_timeout: 5s
retention:
  days: 7
`)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("WriteFile error: %v", err)
	}

	cfg, err := NewLoader().WithConfigFile(path).Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("log.level = %s, want debug", cfg.Log.Level)
	}
	if cfg.Orchestrator.MaxConcurrent != 2 {
		t.Errorf("max_concurrent = %d, want 2", cfg.Orchestrator.MaxConcurrent)
	}
	if cfg.Orchestrator.ShutdownTimeout != 5*time.Second {
		t.Errorf("shutdown_timeout = %s, want 5s", cfg.Orchestrator.ShutdownTimeout)
	}
	if cfg.Retention.Days != 7 {
		t.Errorf("retention.days = %d, want 7", cfg.Retention.Days)
	}
}

func TestLoader_EnvOverride(t *testing.T) {
	t.Setenv("AMELIA_ORCHESTRATOR_MAX_CONCURRENT", "9")

	cfg, err := NewLoader().WithConfigFile(emptyConfigFile(t)).Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Orchestrator.MaxConcurrent != 9 {
		t.Errorf("max_concurrent = %d, want 9 from env", cfg.Orchestrator.MaxConcurrent)
	}
}

func TestLoader_InvalidConfigRejected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("orchestrator:\n  max_concurrent: 0\n"), 0o644); err != nil {
		t.Fatalf("WriteFile error: %v", err)
	}

	if _, err := NewLoader().WithConfigFile(path).Load(); err == nil {
		t.Fatal("expected validation error for max_concurrent=0")
	}
}

func TestValidator(t *testing.T) {
	t.Parallel()
	cfg := &Config{
		Log:    LogConfig{Level: "verbose", Format: "auto"},
		Server: ServerConfig{Addr: ""},
		State:  StateConfig{Path: "state.db"},
		Orchestrator: OrchestratorConfig{
			MaxConcurrent:       5,
			ShutdownTimeout:     30 * time.Second,
			HealthCheckInterval: -time.Second,
		},
		Retention: RetentionConfig{Days: -1},
	}

	err := NewValidator().Validate(cfg)
	if err == nil {
		t.Fatal("expected validation errors")
	}
	verrs, ok := err.(ValidationErrors)
	if !ok {
		t.Fatalf("error type = %T, want ValidationErrors", err)
	}
	if len(verrs) != 4 {
		t.Errorf("got %d errors, want 4: %v", len(verrs), verrs)
	}
}

func TestAtomicWrite(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	if err := AtomicWrite(path, []byte(DefaultConfigYAML)); err != nil {
		t.Fatalf("AtomicWrite error: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile error: %v", err)
	}
	if string(data) != DefaultConfigYAML {
		t.Error("content mismatch after atomic write")
	}

	// Overwrite keeps the new content intact.
	if err := AtomicWrite(path, []byte("log:\n  level: warn\n")); err != nil {
		t.Fatalf("AtomicWrite overwrite error: %v", err)
	}
	data, _ = os.ReadFile(path)
	if string(data) != "log:\n  level: warn\n" {
		t.Errorf("overwrite content = %q", string(data))
	}
}

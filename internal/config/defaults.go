package config

// DefaultConfigYAML contains the default configuration YAML content.
// It is written by `amelia init` and kept in sync with setDefaults.
const DefaultConfigYAML = `# Amelia server configuration
#
# Values not specified here use sensible defaults.

log:
  # debug, info, warn, error
  level: info
  # auto, text, json (auto = pretty on a terminal, JSON otherwise)
  format: auto

server:
  addr: 127.0.0.1:7420

state:
  # SQLite database holding workflows and their event log
  path: .amelia/state.db

orchestrator:
  # Hard ceiling of concurrently running workflows
  max_concurrent: 5
  # How long shutdown waits for workflows to finish before cancelling them
  shutdown_timeout: 30s
  # Delay between worktree health sweeps
  health_check_interval: 30s

retention:
  # Events of workflows finished longer ago than this are pruned at shutdown
  days: 30
  # Reserved; accepted but currently unused
  max_events: 0
`

package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/ameliahq/amelia/internal/config"
	"github.com/ameliahq/amelia/internal/core"
)

// RetentionCollector prunes the event log of long-finished workflows.
// It runs only during shutdown, when no workflow can be writing events.
type RetentionCollector struct {
	store  core.EventStore
	cfg    config.RetentionConfig
	logger *slog.Logger
}

// NewRetentionCollector creates a retention collector.
func NewRetentionCollector(store core.EventStore, cfg config.RetentionConfig, logger *slog.Logger) *RetentionCollector {
	if logger == nil {
		logger = slog.Default()
	}
	return &RetentionCollector{store: store, cfg: cfg, logger: logger}
}

// CleanupOnShutdown deletes events of workflows that finished more than
// retention.days ago, then drops finished workflows left with no events.
// Returns the deleted event and workflow counts. A zero retention
// window disables pruning. retention.max_events is accepted in config
// but not applied yet.
func (c *RetentionCollector) CleanupOnShutdown(ctx context.Context) (eventsDeleted, workflowsDeleted int64, err error) {
	if c.cfg.Days <= 0 {
		return 0, 0, nil
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -c.cfg.Days)

	eventsDeleted, err = c.store.PruneEventsBefore(ctx, cutoff)
	if err != nil {
		return 0, 0, err
	}
	workflowsDeleted, err = c.store.PruneOrphanWorkflows(ctx)
	if err != nil {
		return eventsDeleted, 0, err
	}

	if eventsDeleted > 0 || workflowsDeleted > 0 {
		c.logger.Info("retention cleanup finished",
			"events_deleted", eventsDeleted,
			"workflows_deleted", workflowsDeleted,
			"cutoff", cutoff.Format(time.RFC3339))
	}
	return eventsDeleted, workflowsDeleted, nil
}

// Package retention sweeps chunk logs of finished runs. A chunk log only
// matters while a client might still resume the stream; once the run is
// complete and the retention period has passed, the durable parts in the
// store are the source of truth and the log can go.
package retention

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adhocore/gronx"

	"draftflow/pkg/config"
	"draftflow/pkg/logger"
	"draftflow/pkg/models"
	"draftflow/pkg/store"
	"draftflow/pkg/stream"
)

// Start starts the retention scheduler if enabled. Returns a cancel func.
func Start(ctx context.Context, cfg config.RetentionConfig, streams *stream.Registry) (context.CancelFunc, error) {
	if !cfg.Enabled {
		logger.Info("retention_disabled")
		return func() {}, nil
	}

	cronExpr := cfg.Cron
	if !gronx.IsValid(cronExpr) {
		logger.Error("retention_invalid_cron", "cron", cronExpr)
		return nil, fmt.Errorf("invalid retention cron expression: %s", cronExpr)
	}

	logger.Info("retention_enabled", "cron", cronExpr, "period", cfg.Period.Duration(), "dir", streams.Dir())
	ctx2, cancel := context.WithCancel(ctx)
	go runScheduler(ctx2, cfg, streams, cronExpr)
	return cancel, nil
}

// runScheduler uses gronx to compute the next tick for the configured cron
// expression and sleeps until that time.
func runScheduler(ctx context.Context, cfg config.RetentionConfig, streams *stream.Registry, cronExpr string) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		default:
		}

		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(cronExpr, now, false)
		if err != nil {
			logger.Error("retention_nexttick_failed", "cron", cronExpr, "error", err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		select {
		case <-time.After(time.Until(next)):
			if _, err := RunOnce(cfg, streams); err != nil {
				logger.Error("retention_run_error", "error", err)
			}
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		}
	}
}

// RunOnce sweeps the chunk-log directory once and returns how many logs
// were removed. Only logs of complete runs older than the retention period
// are touched; logs of running runs and logs with no run record stay.
func RunOnce(cfg config.RetentionConfig, streams *stream.Registry) (int, error) {
	entries, err := os.ReadDir(streams.Dir())
	if err != nil {
		return 0, fmt.Errorf("failed to read stream dir: %w", err)
	}
	cutoff := time.Now().UTC().Add(-cfg.Period.Duration()).UnixNano()

	removed := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".chunks") {
			continue
		}
		runID := strings.TrimSuffix(e.Name(), ".chunks")
		run, err := store.GetRun(runID)
		if err != nil {
			if err == store.ErrNotFound {
				// orphan log; the run never recorded. Leave it for operators.
				logger.Warn("retention_orphan_chunk_log", "run", runID, "path", filepath.Join(streams.Dir(), e.Name()))
				continue
			}
			return removed, err
		}
		if run.Status != models.RunComplete || run.CompletedTS > cutoff {
			continue
		}
		if cfg.DryRun {
			logger.Info("retention_would_remove", "run", runID)
			continue
		}
		if err := streams.Remove(runID); err != nil {
			logger.Error("retention_remove_failed", "run", runID, "error", err)
			return removed, err
		}
		removed++
	}
	logger.Info("retention_sweep_done", "removed", removed, "dry_run", cfg.DryRun)
	return removed, nil
}

// ABOUTME: Persists last-run status and run history after every invocation
// ABOUTME: Best effort: persistence failures are logged and never change the run result
package rollup

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/harperreed/rollupsync/models"
	"go.uber.org/zap"
)

// recordTimeout bounds the audit writes once the run itself is over.
const recordTimeout = 10 * time.Second

// RunRecorder writes run outcomes to the store.
type RunRecorder struct {
	store  Store
	logger *zap.Logger
}

// NewRunRecorder creates a recorder over store.
func NewRunRecorder(store Store, logger *zap.Logger) *RunRecorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunRecorder{store: store, logger: logger}
}

// Record saves the compact summary on the config row and appends a run
// history entry when the store has the history table. The writes outlive
// cancellation of ctx so that cancelled and timed out runs are still recorded.
func (r *RunRecorder) Record(ctx context.Context, cfg models.RollupConfig, result models.RunResult) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	log := r.logger.With(zap.String("job", result.JobKey), zap.String("run_id", result.RunID))

	totals := runTotals(result)
	summary, err := json.Marshal(totals)
	if err != nil {
		log.Warn("failed to encode run summary", zap.Error(err))
		summary = []byte("{}")
	}

	finished := result.FinishedAt
	cfg.JobKey = result.JobKey
	cfg.LastSyncedAt = &finished
	cfg.LastSyncStatus = result.Status
	cfg.LastSyncSummary = string(summary)
	if err := r.store.SaveLastRun(ctx, cfg); err != nil {
		log.Warn("failed to save last run status", zap.Error(err))
	}

	if !r.store.Capabilities().RunHistory {
		log.Debug("run history table not present, skipping history")
		return
	}

	errorsJSON := ""
	if len(result.Errors) > 0 {
		if b, err := json.Marshal(result.Errors); err == nil {
			errorsJSON = string(b)
		}
	}
	fullTotals, err := json.Marshal(map[string]any{
		"totals":     totals,
		"per_source": result.PerSource,
		"filter":     result.Filter,
		"dropped":    result.ErrorsDropped,
	})
	if err != nil {
		fullTotals = summary
	}

	entry := models.RunHistoryEntry{
		ID:               uuid.New().String(),
		RunID:            result.RunID,
		JobKey:           result.JobKey,
		Kind:             result.Kind,
		Status:           result.Status,
		Mode:             string(result.Mode),
		DryRun:           result.DryRun,
		TriggerSource:    result.Trigger.Source,
		TriggeredByID:    result.Trigger.UserID,
		TriggeredByEmail: result.Trigger.Email,
		StartedAt:        result.StartedAt,
		FinishedAt:       result.FinishedAt,
		Totals:           string(fullTotals),
		Errors:           errorsJSON,
	}
	if err := r.store.AppendRunHistory(ctx, entry); err != nil {
		log.Warn("failed to append run history", zap.Error(err))
	}
}

// runTotals is the compact summary stored on the config row.
func runTotals(result models.RunResult) map[string]any {
	summary := map[string]any{
		"kind":    result.Kind,
		"status":  result.Status,
		"dry_run": result.DryRun,
		"errors":  result.ErrorCount(),
		"took_ms": result.FinishedAt.Sub(result.StartedAt).Milliseconds(),
	}
	if result.Mode != "" {
		summary["mode"] = result.Mode
	}
	if result.Sync != nil {
		summary["sync"] = result.Sync
	}
	if result.Wipe != nil {
		summary["wipe"] = result.Wipe
	}
	return summary
}

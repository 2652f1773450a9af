// ABOUTME: Database operations for the append-only rollup audit tables
// ABOUTME: Run history and config history; both are no-ops when the table is missing
package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/harperreed/rollupsync/models"
)

// DefaultHistoryLimit caps history listings when callers pass no limit.
const DefaultHistoryLimit = 20

// AppendRunHistory inserts one run history row. Without the run history
// table it does nothing.
func (s *Store) AppendRunHistory(ctx context.Context, entry models.RunHistoryEntry) error {
	if !s.caps.RunHistory {
		return nil
	}
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO rollup_run_history (
			id, run_id, job_key, kind, status, mode, dry_run, trigger_source,
			triggered_by_id, triggered_by_email, started_at, finished_at, totals, errors
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`),
		entry.ID, entry.RunID, entry.JobKey, string(entry.Kind), string(entry.Status),
		nullString(entry.Mode), entry.DryRun, entry.TriggerSource,
		nullString(entry.TriggeredByID), nullString(entry.TriggeredByEmail),
		entry.StartedAt.UTC(), entry.FinishedAt.UTC(), entry.Totals, nullString(entry.Errors),
	)
	if err != nil {
		return wrap("append run history", err)
	}
	return nil
}

// ListRunHistory returns the newest runs for jobKey first. An empty jobKey
// lists every job.
func (s *Store) ListRunHistory(ctx context.Context, jobKey string, limit int) ([]models.RunHistoryEntry, error) {
	if !s.caps.RunHistory {
		return nil, nil
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	query := `
		SELECT id, run_id, job_key, kind, status, mode, dry_run, trigger_source,
			triggered_by_id, triggered_by_email, started_at, finished_at, totals, errors
		FROM rollup_run_history`
	args := []any{}
	if jobKey != "" {
		query += ` WHERE job_key = ?`
		args = append(args, jobKey)
	}
	query += ` ORDER BY started_at DESC, run_id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, wrap("list run history", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []models.RunHistoryEntry
	for rows.Next() {
		var entry models.RunHistoryEntry
		var kind, status string
		var mode, byID, byEmail, errs sql.NullString
		if err := rows.Scan(
			&entry.ID,
			&entry.RunID,
			&entry.JobKey,
			&kind,
			&status,
			&mode,
			&entry.DryRun,
			&entry.TriggerSource,
			&byID,
			&byEmail,
			&entry.StartedAt,
			&entry.FinishedAt,
			&entry.Totals,
			&errs,
		); err != nil {
			return nil, wrap("scan run history", err)
		}
		entry.Kind = models.RunKind(kind)
		runStatus, err := models.ParseRunStatus(status)
		if err != nil {
			return nil, err
		}
		entry.Status = runStatus
		entry.Mode = mode.String
		entry.TriggeredByID = byID.String
		entry.TriggeredByEmail = byEmail.String
		entry.Errors = errs.String
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// ListConfigHistory returns the newest config changes for jobKey first.
func (s *Store) ListConfigHistory(ctx context.Context, jobKey string, limit int) ([]models.ConfigHistoryEntry, error) {
	if !s.caps.ConfigHistory {
		return nil, nil
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT id, job_key, changed_fields, before_json, after_json, changed_by_id, changed_by_email, created_at
		FROM rollup_config_history
		WHERE job_key = ?
		ORDER BY created_at DESC
		LIMIT ?
	`), jobKey, limit)
	if err != nil {
		return nil, wrap("list config history", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []models.ConfigHistoryEntry
	for rows.Next() {
		var entry models.ConfigHistoryEntry
		var fields string
		var before, byID, byEmail sql.NullString
		if err := rows.Scan(
			&entry.ID,
			&entry.JobKey,
			&fields,
			&before,
			&entry.After,
			&byID,
			&byEmail,
			&entry.CreatedAt,
		); err != nil {
			return nil, wrap("scan config history", err)
		}
		if err := json.Unmarshal([]byte(fields), &entry.ChangedFields); err != nil {
			return nil, fmt.Errorf("failed to decode changed fields: %w", err)
		}
		entry.Before = before.String
		entry.ChangedByID = byID.String
		entry.ChangedByEmail = byEmail.String
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

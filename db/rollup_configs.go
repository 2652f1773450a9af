// ABOUTME: Database operations for the rollup_configs table
// ABOUTME: Transactional config upsert with diff-only history and last-run status updates
package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/harperreed/rollupsync/models"
)

const configColumns = `job_key, target_account_key, source_account_keys, enabled,
	schedule_interval_hours, schedule_minute_utc, full_sync_enabled, full_sync_hour_utc,
	full_sync_minute_utc, scrub_invalid_emails, scrub_invalid_phones, updated_by_id,
	updated_by_email, last_synced_at, last_sync_status, last_sync_summary, created_at, updated_at`

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// GetConfig returns the persisted config for jobKey, or nil if none exists.
func (s *Store) GetConfig(ctx context.Context, jobKey string) (*models.RollupConfig, error) {
	cfg, err := s.getConfig(ctx, s.db, jobKey)
	if err != nil {
		return nil, wrap("get rollup config", err)
	}
	return cfg, nil
}

func (s *Store) getConfig(ctx context.Context, q queryRower, jobKey string) (*models.RollupConfig, error) {
	row := q.QueryRowContext(ctx, s.q(`SELECT `+configColumns+` FROM rollup_configs WHERE job_key = ?`), jobKey)
	cfg, err := scanConfig(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return cfg, err
}

// UpsertConfig writes the editable fields of cfg. Inside the same transaction
// it diffs against the previous row and appends a history entry when any
// field changed and the history table exists.
func (s *Store) UpsertConfig(ctx context.Context, cfg models.RollupConfig, actor models.Actor) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, wrap("begin transaction", err)
	}
	defer rollback(tx)

	prev, err := s.getConfig(ctx, tx, cfg.JobKey)
	if err != nil {
		return nil, wrap("load previous rollup config", err)
	}
	changed := models.DiffConfig(prev, cfg)

	sources, err := encodeKeys(cfg.SourceAccountKeys)
	if err != nil {
		return nil, err
	}

	now := s.timestamp()
	_, err = tx.ExecContext(ctx, s.q(`
		INSERT INTO rollup_configs (
			job_key, target_account_key, source_account_keys, enabled,
			schedule_interval_hours, schedule_minute_utc, full_sync_enabled, full_sync_hour_utc,
			full_sync_minute_utc, scrub_invalid_emails, scrub_invalid_phones,
			updated_by_id, updated_by_email, created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(job_key) DO UPDATE SET
			target_account_key = excluded.target_account_key,
			source_account_keys = excluded.source_account_keys,
			enabled = excluded.enabled,
			schedule_interval_hours = excluded.schedule_interval_hours,
			schedule_minute_utc = excluded.schedule_minute_utc,
			full_sync_enabled = excluded.full_sync_enabled,
			full_sync_hour_utc = excluded.full_sync_hour_utc,
			full_sync_minute_utc = excluded.full_sync_minute_utc,
			scrub_invalid_emails = excluded.scrub_invalid_emails,
			scrub_invalid_phones = excluded.scrub_invalid_phones,
			updated_by_id = excluded.updated_by_id,
			updated_by_email = excluded.updated_by_email,
			updated_at = excluded.updated_at
	`),
		cfg.JobKey, nullString(cfg.TargetAccountKey), sources, cfg.Enabled,
		cfg.ScheduleIntervalHours, cfg.ScheduleMinuteUTC, cfg.FullSyncEnabled, cfg.FullSyncHourUTC,
		cfg.FullSyncMinuteUTC, cfg.ScrubInvalidEmails, cfg.ScrubInvalidPhones,
		nullString(actor.UserID), nullString(actor.Email), now, now,
	)
	if err != nil {
		return nil, wrap("upsert rollup config", err)
	}

	if len(changed) > 0 && s.caps.ConfigHistory {
		if err := s.insertConfigHistory(ctx, tx, prev, cfg, changed, actor, now); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, wrap("commit rollup config", err)
	}
	return changed, nil
}

// SaveLastRun records the outcome of the latest run on an existing config
// row. Jobs without a persisted row are left alone; their runs live only in
// run history until the config is first saved.
func (s *Store) SaveLastRun(ctx context.Context, cfg models.RollupConfig) error {
	_, err := s.db.ExecContext(ctx, s.q(`
		UPDATE rollup_configs
		SET last_synced_at = ?, last_sync_status = ?, last_sync_summary = ?
		WHERE job_key = ?
	`),
		nullTime(cfg.LastSyncedAt), nullString(string(cfg.LastSyncStatus)), nullString(cfg.LastSyncSummary),
		cfg.JobKey,
	)
	if err != nil {
		return wrap("save last run", err)
	}
	return nil
}

func (s *Store) insertConfigHistory(ctx context.Context, tx *sql.Tx, prev *models.RollupConfig, next models.RollupConfig, changed []string, actor models.Actor, now time.Time) error {
	fields, err := json.Marshal(changed)
	if err != nil {
		return fmt.Errorf("failed to encode changed fields: %w", err)
	}
	after, err := json.Marshal(editableConfig(next))
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	var before sql.NullString
	if prev != nil {
		b, err := json.Marshal(editableConfig(*prev))
		if err != nil {
			return fmt.Errorf("failed to encode previous config: %w", err)
		}
		before = sql.NullString{String: string(b), Valid: true}
	}

	_, err = tx.ExecContext(ctx, s.q(`
		INSERT INTO rollup_config_history (id, job_key, changed_fields, before_json, after_json, changed_by_id, changed_by_email, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`), uuid.New().String(), next.JobKey, string(fields), before, string(after), nullString(actor.UserID), nullString(actor.Email), now)
	if err != nil {
		return wrap("append config history", err)
	}
	return nil
}

// editableConfig strips audit and last-run fields so history snapshots only
// carry what an admin can change.
func editableConfig(cfg models.RollupConfig) map[string]any {
	sources := cfg.SourceAccountKeys
	if sources == nil {
		sources = []string{}
	}
	return map[string]any{
		"target_account_key":      cfg.TargetAccountKey,
		"source_account_keys":     sources,
		"enabled":                 cfg.Enabled,
		"schedule_interval_hours": cfg.ScheduleIntervalHours,
		"schedule_minute_utc":     cfg.ScheduleMinuteUTC,
		"full_sync_enabled":       cfg.FullSyncEnabled,
		"full_sync_hour_utc":      cfg.FullSyncHourUTC,
		"full_sync_minute_utc":    cfg.FullSyncMinuteUTC,
		"scrub_invalid_emails":    cfg.ScrubInvalidEmails,
		"scrub_invalid_phones":    cfg.ScrubInvalidPhones,
	}
}

func encodeKeys(keys []string) (string, error) {
	if keys == nil {
		keys = []string{}
	}
	b, err := json.Marshal(keys)
	if err != nil {
		return "", fmt.Errorf("failed to encode account keys: %w", err)
	}
	return string(b), nil
}

func scanConfig(row rowScanner) (*models.RollupConfig, error) {
	var cfg models.RollupConfig
	var target, sources, updatedByID, updatedByEmail, status, summary sql.NullString
	var lastSynced sql.NullTime
	if err := row.Scan(
		&cfg.JobKey,
		&target,
		&sources,
		&cfg.Enabled,
		&cfg.ScheduleIntervalHours,
		&cfg.ScheduleMinuteUTC,
		&cfg.FullSyncEnabled,
		&cfg.FullSyncHourUTC,
		&cfg.FullSyncMinuteUTC,
		&cfg.ScrubInvalidEmails,
		&cfg.ScrubInvalidPhones,
		&updatedByID,
		&updatedByEmail,
		&lastSynced,
		&status,
		&summary,
		&cfg.CreatedAt,
		&cfg.UpdatedAt,
	); err != nil {
		return nil, err
	}

	cfg.TargetAccountKey = target.String
	cfg.SourceAccountKeys = []string{}
	if sources.Valid && sources.String != "" {
		if err := json.Unmarshal([]byte(sources.String), &cfg.SourceAccountKeys); err != nil {
			return nil, fmt.Errorf("failed to decode source account keys: %w", err)
		}
	}
	cfg.UpdatedByID = updatedByID.String
	cfg.UpdatedByEmail = updatedByEmail.String
	if lastSynced.Valid {
		t := lastSynced.Time.UTC()
		cfg.LastSyncedAt = &t
	}
	runStatus, err := models.ParseRunStatus(status.String)
	if err != nil {
		return nil, err
	}
	cfg.LastSyncStatus = runStatus
	cfg.LastSyncSummary = summary.String
	return &cfg, nil
}

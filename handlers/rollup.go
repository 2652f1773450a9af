// ABOUTME: Rollup MCP tool handlers
// ABOUTME: Implements run_rollup_sync, run_rollup_wipe, config read/update, and history listing tools
package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/harperreed/rollupsync/models"
	"github.com/harperreed/rollupsync/rollup"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// HistoryStore lists the audit history written by the engine.
type HistoryStore interface {
	ListRunHistory(ctx context.Context, jobKey string, limit int) ([]models.RunHistoryEntry, error)
	ListConfigHistory(ctx context.Context, jobKey string, limit int) ([]models.ConfigHistoryEntry, error)
	Capabilities() models.StoreCapabilities
}

type RollupHandlers struct {
	engine     *rollup.Engine
	history    HistoryStore
	defaultJob string
	now        func() time.Time
}

func NewRollupHandlers(engine *rollup.Engine, history HistoryStore, defaultJob string) *RollupHandlers {
	if defaultJob == "" {
		defaultJob = models.DefaultJobKey
	}
	return &RollupHandlers{engine: engine, history: history, defaultJob: defaultJob, now: time.Now}
}

// Register adds every rollup tool to server.
func (h *RollupHandlers) Register(server *mcp.Server) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "run_rollup_sync",
		Description: "Collect contacts from every source account, dedupe them, and upsert them into the rollup target account",
	}, h.RunSync)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "run_rollup_wipe",
		Description: "Delete rollup-created contacts (or all contacts) from the rollup target account. Requires confirm unless dry_run is set",
	}, h.RunWipe)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_rollup_config",
		Description: "Show the rollup job configuration, the accounts it may use, and when it runs next",
	}, h.GetConfig)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "update_rollup_config",
		Description: "Change the rollup job configuration. Omitted fields keep their current value",
	}, h.UpdateConfig)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_rollup_runs",
		Description: "List recent rollup sync and wipe runs, newest first",
	}, h.ListRuns)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_rollup_config_changes",
		Description: "List recent changes to the rollup job configuration, newest first",
	}, h.ListConfigChanges)
}

type RunSyncInput struct {
	JobKey          string `json:"job_key,omitempty" jsonschema:"Rollup job key (default from config)"`
	DryRun          bool   `json:"dry_run,omitempty" jsonschema:"Read and dedupe without writing to the target"`
	FullSync        bool   `json:"full_sync,omitempty" jsonschema:"Ignore the incremental window and sync every contact"`
	EnforceSchedule bool   `json:"enforce_schedule,omitempty" jsonschema:"Only run if the schedule selects the current minute"`
	ActorEmail      string `json:"actor_email,omitempty" jsonschema:"Email of the person requesting the run"`
}

type RunWipeInput struct {
	JobKey     string `json:"job_key,omitempty" jsonschema:"Rollup job key (default from config)"`
	Mode       string `json:"mode,omitempty" jsonschema:"Which contacts to delete: tagged (default) or all"`
	DryRun     bool   `json:"dry_run,omitempty" jsonschema:"Count eligible contacts without deleting"`
	Confirm    bool   `json:"confirm,omitempty" jsonschema:"Must be true to delete contacts"`
	ActorEmail string `json:"actor_email,omitempty" jsonschema:"Email of the person requesting the wipe"`
}

type RunOutput struct {
	RunID         string                            `json:"run_id"`
	JobKey        string                            `json:"job_key"`
	Kind          string                            `json:"kind"`
	Status        string                            `json:"status"`
	Mode          string                            `json:"mode,omitempty"`
	Skipped       bool                              `json:"skipped"`
	DryRun        bool                              `json:"dry_run"`
	StartedAt     string                            `json:"started_at"`
	FinishedAt    string                            `json:"finished_at"`
	Sync          *models.SyncTotals                `json:"sync,omitempty"`
	PerSource     map[string]models.SourceSyncStats `json:"per_source,omitempty"`
	Wipe          *models.WipeTotals                `json:"wipe,omitempty"`
	Filter        *models.WipeBreakdown             `json:"filter,omitempty"`
	Errors        map[string][]string               `json:"errors,omitempty"`
	ErrorsDropped map[string]int                    `json:"errors_dropped,omitempty"`
}

func (h *RollupHandlers) RunSync(ctx context.Context, request *mcp.CallToolRequest, input RunSyncInput) (*mcp.CallToolResult, RunOutput, error) {
	result := h.engine.RunSync(ctx, rollup.SyncOptions{
		JobKey:          h.job(input.JobKey),
		DryRun:          input.DryRun,
		FullSync:        input.FullSync,
		EnforceSchedule: input.EnforceSchedule,
		Trigger:         models.Trigger{Source: models.TriggerMCP, Email: input.ActorEmail},
	})
	return nil, runToOutput(result), nil
}

func (h *RollupHandlers) RunWipe(ctx context.Context, request *mcp.CallToolRequest, input RunWipeInput) (*mcp.CallToolResult, RunOutput, error) {
	mode, err := models.ParseWipeMode(input.Mode)
	if err != nil {
		return nil, RunOutput{}, err
	}
	if !input.DryRun && !input.Confirm {
		return nil, RunOutput{}, fmt.Errorf("confirm must be true to delete contacts (or set dry_run)")
	}

	result := h.engine.RunWipe(ctx, rollup.WipeOptions{
		JobKey:  h.job(input.JobKey),
		Mode:    mode,
		DryRun:  input.DryRun,
		Trigger: models.Trigger{Source: models.TriggerMCP, Email: input.ActorEmail},
	})
	return nil, runToOutput(result), nil
}

type GetConfigInput struct {
	JobKey string `json:"job_key,omitempty" jsonschema:"Rollup job key (default from config)"`
}

type AccountOutput struct {
	Key      string `json:"key"`
	Name     string `json:"name"`
	Provider string `json:"provider"`
}

type ConfigOutput struct {
	JobKey                string          `json:"job_key"`
	Persisted             bool            `json:"persisted"`
	TargetAccountKey      string          `json:"target_account_key"`
	SourceAccountKeys     []string        `json:"source_account_keys"`
	Enabled               bool            `json:"enabled"`
	ScheduleIntervalHours int             `json:"schedule_interval_hours"`
	ScheduleMinuteUTC     int             `json:"schedule_minute_utc"`
	FullSyncEnabled       bool            `json:"full_sync_enabled"`
	FullSyncHourUTC       int             `json:"full_sync_hour_utc"`
	FullSyncMinuteUTC     int             `json:"full_sync_minute_utc"`
	ScrubInvalidEmails    bool            `json:"scrub_invalid_emails"`
	ScrubInvalidPhones    bool            `json:"scrub_invalid_phones"`
	LastSyncedAt          string          `json:"last_synced_at,omitempty"`
	LastSyncStatus        string          `json:"last_sync_status,omitempty"`
	LastSyncSummary       string          `json:"last_sync_summary,omitempty"`
	NextRunAt             string          `json:"next_run_at,omitempty"`
	NextRunMode           string          `json:"next_run_mode,omitempty"`
	TargetOptions         []AccountOutput `json:"target_options"`
	SourceOptions         []AccountOutput `json:"source_options"`
	ChangedFields         []string        `json:"changed_fields,omitempty"`
}

func (h *RollupHandlers) GetConfig(ctx context.Context, request *mcp.CallToolRequest, input GetConfigInput) (*mcp.CallToolResult, ConfigOutput, error) {
	snap, err := h.engine.Configs().GetSnapshot(ctx, h.job(input.JobKey), nil)
	if err != nil {
		return nil, ConfigOutput{}, fmt.Errorf("failed to load rollup config: %w", err)
	}
	return nil, h.configToOutput(snap), nil
}

type UpdateConfigInput struct {
	JobKey                string   `json:"job_key,omitempty" jsonschema:"Rollup job key (default from config)"`
	TargetAccountKey      *string  `json:"target_account_key,omitempty" jsonschema:"Account key of the rollup target"`
	SourceAccountKeys     []string `json:"source_account_keys,omitempty" jsonschema:"Account keys to collect contacts from"`
	Enabled               *bool    `json:"enabled,omitempty" jsonschema:"Whether scheduled runs are enabled"`
	ScheduleIntervalHours *int     `json:"schedule_interval_hours,omitempty" jsonschema:"Hours between incremental runs (1-24)"`
	ScheduleMinuteUTC     *int     `json:"schedule_minute_utc,omitempty" jsonschema:"Minute of the hour for incremental runs (0-55)"`
	FullSyncEnabled       *bool    `json:"full_sync_enabled,omitempty" jsonschema:"Whether a daily full sync runs"`
	FullSyncHourUTC       *int     `json:"full_sync_hour_utc,omitempty" jsonschema:"UTC hour of the daily full sync (0-23)"`
	FullSyncMinuteUTC     *int     `json:"full_sync_minute_utc,omitempty" jsonschema:"Minute of the daily full sync (0-55)"`
	ScrubInvalidEmails    *bool    `json:"scrub_invalid_emails,omitempty" jsonschema:"Discard invalid-format emails before upsert"`
	ScrubInvalidPhones    *bool    `json:"scrub_invalid_phones,omitempty" jsonschema:"Discard invalid-format phones before upsert"`
	ActorEmail            string   `json:"actor_email,omitempty" jsonschema:"Email of the person making the change"`
}

func (h *RollupHandlers) UpdateConfig(ctx context.Context, request *mcp.CallToolRequest, input UpdateConfigInput) (*mcp.CallToolResult, ConfigOutput, error) {
	jobKey := h.job(input.JobKey)
	configs := h.engine.Configs()

	snap, err := configs.GetSnapshot(ctx, jobKey, nil)
	if err != nil {
		return nil, ConfigOutput{}, fmt.Errorf("failed to load rollup config: %w", err)
	}

	edit := rollup.InputFromConfig(snap.Config)
	if input.TargetAccountKey != nil {
		if !hasAccount(snap.TargetOptions, *input.TargetAccountKey) {
			return nil, ConfigOutput{}, fmt.Errorf("%s is not a rollup target account", *input.TargetAccountKey)
		}
		edit.TargetAccountKey = *input.TargetAccountKey
	}
	if input.SourceAccountKeys != nil {
		for _, key := range input.SourceAccountKeys {
			if !hasAccount(snap.SourceOptions, key) {
				return nil, ConfigOutput{}, fmt.Errorf("%s is not a source account", key)
			}
		}
		edit.SourceAccountKeys = input.SourceAccountKeys
	}
	setBool(&edit.Enabled, input.Enabled)
	setInt(&edit.ScheduleIntervalHours, input.ScheduleIntervalHours)
	setInt(&edit.ScheduleMinuteUTC, input.ScheduleMinuteUTC)
	setBool(&edit.FullSyncEnabled, input.FullSyncEnabled)
	setInt(&edit.FullSyncHourUTC, input.FullSyncHourUTC)
	setInt(&edit.FullSyncMinuteUTC, input.FullSyncMinuteUTC)
	setBool(&edit.ScrubInvalidEmails, input.ScrubInvalidEmails)
	setBool(&edit.ScrubInvalidPhones, input.ScrubInvalidPhones)

	_, changed, err := configs.UpsertConfig(ctx, jobKey, edit, models.Actor{Email: input.ActorEmail})
	if err != nil {
		return nil, ConfigOutput{}, err
	}

	snap, err = configs.GetSnapshot(ctx, jobKey, nil)
	if err != nil {
		return nil, ConfigOutput{}, fmt.Errorf("failed to reload rollup config: %w", err)
	}
	out := h.configToOutput(snap)
	out.ChangedFields = changed
	return nil, out, nil
}

type ListRunsInput struct {
	JobKey string `json:"job_key,omitempty" jsonschema:"Rollup job key (default from config)"`
	Limit  int    `json:"limit,omitempty" jsonschema:"Maximum number of runs (default 20)"`
}

type RunHistoryOutput struct {
	RunID         string `json:"run_id"`
	JobKey        string `json:"job_key"`
	Kind          string `json:"kind"`
	Status        string `json:"status"`
	Mode          string `json:"mode,omitempty"`
	DryRun        bool   `json:"dry_run"`
	TriggerSource string `json:"trigger_source"`
	TriggeredBy   string `json:"triggered_by,omitempty"`
	StartedAt     string `json:"started_at"`
	FinishedAt    string `json:"finished_at"`
	Totals        string `json:"totals"`
	Errors        string `json:"errors,omitempty"`
}

type ListRunsOutput struct {
	Available bool               `json:"available"`
	Runs      []RunHistoryOutput `json:"runs"`
}

func (h *RollupHandlers) ListRuns(ctx context.Context, request *mcp.CallToolRequest, input ListRunsInput) (*mcp.CallToolResult, ListRunsOutput, error) {
	out := ListRunsOutput{Available: h.history.Capabilities().RunHistory, Runs: []RunHistoryOutput{}}
	entries, err := h.history.ListRunHistory(ctx, h.job(input.JobKey), input.Limit)
	if err != nil {
		return nil, ListRunsOutput{}, fmt.Errorf("failed to list runs: %w", err)
	}
	for _, e := range entries {
		by := e.TriggeredByEmail
		if by == "" {
			by = e.TriggeredByID
		}
		out.Runs = append(out.Runs, RunHistoryOutput{
			RunID:         e.RunID,
			JobKey:        e.JobKey,
			Kind:          string(e.Kind),
			Status:        string(e.Status),
			Mode:          e.Mode,
			DryRun:        e.DryRun,
			TriggerSource: e.TriggerSource,
			TriggeredBy:   by,
			StartedAt:     formatTime(e.StartedAt),
			FinishedAt:    formatTime(e.FinishedAt),
			Totals:        e.Totals,
			Errors:        e.Errors,
		})
	}
	return nil, out, nil
}

type ConfigChangeOutput struct {
	ChangedFields []string `json:"changed_fields"`
	ChangedBy     string   `json:"changed_by,omitempty"`
	Before        string   `json:"before,omitempty"`
	After         string   `json:"after"`
	CreatedAt     string   `json:"created_at"`
}

type ListConfigChangesOutput struct {
	Available bool                 `json:"available"`
	Changes   []ConfigChangeOutput `json:"changes"`
}

func (h *RollupHandlers) ListConfigChanges(ctx context.Context, request *mcp.CallToolRequest, input ListRunsInput) (*mcp.CallToolResult, ListConfigChangesOutput, error) {
	out := ListConfigChangesOutput{Available: h.history.Capabilities().ConfigHistory, Changes: []ConfigChangeOutput{}}
	entries, err := h.history.ListConfigHistory(ctx, h.job(input.JobKey), input.Limit)
	if err != nil {
		return nil, ListConfigChangesOutput{}, fmt.Errorf("failed to list config changes: %w", err)
	}
	for _, e := range entries {
		by := e.ChangedByEmail
		if by == "" {
			by = e.ChangedByID
		}
		out.Changes = append(out.Changes, ConfigChangeOutput{
			ChangedFields: e.ChangedFields,
			ChangedBy:     by,
			Before:        e.Before,
			After:         e.After,
			CreatedAt:     formatTime(e.CreatedAt),
		})
	}
	return nil, out, nil
}

func (h *RollupHandlers) job(jobKey string) string {
	if jobKey == "" {
		return h.defaultJob
	}
	return jobKey
}

func (h *RollupHandlers) configToOutput(snap rollup.ConfigSnapshot) ConfigOutput {
	cfg := snap.Config
	out := ConfigOutput{
		JobKey:                cfg.JobKey,
		Persisted:             snap.Persisted,
		TargetAccountKey:      cfg.TargetAccountKey,
		SourceAccountKeys:     cfg.SourceAccountKeys,
		Enabled:               cfg.Enabled,
		ScheduleIntervalHours: cfg.ScheduleIntervalHours,
		ScheduleMinuteUTC:     cfg.ScheduleMinuteUTC,
		FullSyncEnabled:       cfg.FullSyncEnabled,
		FullSyncHourUTC:       cfg.FullSyncHourUTC,
		FullSyncMinuteUTC:     cfg.FullSyncMinuteUTC,
		ScrubInvalidEmails:    cfg.ScrubInvalidEmails,
		ScrubInvalidPhones:    cfg.ScrubInvalidPhones,
		LastSyncStatus:        string(cfg.LastSyncStatus),
		LastSyncSummary:       cfg.LastSyncSummary,
		TargetOptions:         accountsToOutput(snap.TargetOptions),
		SourceOptions:         accountsToOutput(snap.SourceOptions),
	}
	if cfg.LastSyncedAt != nil {
		out.LastSyncedAt = formatTime(*cfg.LastSyncedAt)
	}
	if cfg.Enabled {
		if next, mode := rollup.NextRun(cfg, h.now()); !next.IsZero() {
			out.NextRunAt = formatTime(next)
			out.NextRunMode = string(mode)
		}
	}
	return out
}

func runToOutput(r models.RunResult) RunOutput {
	return RunOutput{
		RunID:         r.RunID,
		JobKey:        r.JobKey,
		Kind:          string(r.Kind),
		Status:        string(r.Status),
		Mode:          string(r.Mode),
		Skipped:       r.Skipped,
		DryRun:        r.DryRun,
		StartedAt:     formatTime(r.StartedAt),
		FinishedAt:    formatTime(r.FinishedAt),
		Sync:          r.Sync,
		PerSource:     r.PerSource,
		Wipe:          r.Wipe,
		Filter:        r.Filter,
		Errors:        r.Errors,
		ErrorsDropped: r.ErrorsDropped,
	}
}

func accountsToOutput(accounts []models.Account) []AccountOutput {
	out := make([]AccountOutput, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, AccountOutput{Key: a.Key, Name: a.Name, Provider: a.Provider})
	}
	return out
}

func hasAccount(accounts []models.Account, key string) bool {
	for _, a := range accounts {
		if a.Key == key {
			return true
		}
	}
	return false
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

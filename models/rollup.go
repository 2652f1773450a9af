// ABOUTME: Data models for rollup jobs, accounts, and their audit metadata
// ABOUTME: Defines RollupConfig, Account, Actor, Trigger and the closed status/mode enums
package models

import (
	"fmt"
	"time"
)

// DefaultJobKey names the rollup job used when callers don't pick one.
const DefaultJobKey = "default"

// Schedule field bounds. Values outside these ranges are clamped on write.
const (
	MinScheduleIntervalHours = 1
	MaxScheduleIntervalHours = 24
	MaxScheduleMinute        = 55
	MaxFullSyncHour          = 23
)

// Provider identifiers for accounts.
const (
	ProviderREST   = "rest"
	ProviderGoogle = "google"
)

// Account is one CRM account known to the platform.
type Account struct {
	Key          string    `json:"key"`
	Name         string    `json:"name"`
	Provider     string    `json:"provider"`
	RollupTarget bool      `json:"rollup_target"`
	BaseURL      string    `json:"base_url,omitempty"`
	Credentials  string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// RollupConfig is the persisted configuration of one named rollup job.
type RollupConfig struct {
	JobKey                string   `json:"job_key"`
	TargetAccountKey      string   `json:"target_account_key"`
	SourceAccountKeys     []string `json:"source_account_keys"`
	Enabled               bool     `json:"enabled"`
	ScheduleIntervalHours int      `json:"schedule_interval_hours"`
	ScheduleMinuteUTC     int      `json:"schedule_minute_utc"`
	FullSyncEnabled       bool     `json:"full_sync_enabled"`
	FullSyncHourUTC       int      `json:"full_sync_hour_utc"`
	FullSyncMinuteUTC     int      `json:"full_sync_minute_utc"`
	ScrubInvalidEmails    bool     `json:"scrub_invalid_emails"`
	ScrubInvalidPhones    bool     `json:"scrub_invalid_phones"`

	UpdatedByID    string    `json:"updated_by_id,omitempty"`
	UpdatedByEmail string    `json:"updated_by_email,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`

	LastSyncedAt    *time.Time `json:"last_synced_at,omitempty"`
	LastSyncStatus  RunStatus  `json:"last_sync_status,omitempty"`
	LastSyncSummary string     `json:"last_sync_summary,omitempty"`
}

// Clamp forces every numeric schedule field into its valid range.
func (c *RollupConfig) Clamp() {
	c.ScheduleIntervalHours = clampInt(c.ScheduleIntervalHours, MinScheduleIntervalHours, MaxScheduleIntervalHours)
	c.ScheduleMinuteUTC = clampInt(c.ScheduleMinuteUTC, 0, MaxScheduleMinute)
	c.FullSyncHourUTC = clampInt(c.FullSyncHourUTC, 0, MaxFullSyncHour)
	c.FullSyncMinuteUTC = clampInt(c.FullSyncMinuteUTC, 0, MaxScheduleMinute)
}

// HasSource reports whether key is one of the configured source accounts.
func (c *RollupConfig) HasSource(key string) bool {
	for _, k := range c.SourceAccountKeys {
		if k == key {
			return true
		}
	}
	return false
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Actor identifies who changed a configuration.
type Actor struct {
	UserID string `json:"user_id,omitempty"`
	Email  string `json:"email,omitempty"`
}

// Trigger describes what started a run.
type Trigger struct {
	Source string `json:"source"`
	UserID string `json:"user_id,omitempty"`
	Email  string `json:"email,omitempty"`
}

// Trigger sources.
const (
	TriggerManual = "manual"
	TriggerCron   = "cron"
	TriggerMCP    = "mcp"
)

// RunStatus is the outcome of a sync or wipe invocation.
type RunStatus string

const (
	RunStatusOK       RunStatus = "ok"
	RunStatusFailed   RunStatus = "failed"
	RunStatusDisabled RunStatus = "disabled"
)

// ParseRunStatus converts a stored value back into a RunStatus.
func ParseRunStatus(s string) (RunStatus, error) {
	switch RunStatus(s) {
	case RunStatusOK, RunStatusFailed, RunStatusDisabled:
		return RunStatus(s), nil
	case "":
		return "", nil
	}
	return "", fmt.Errorf("unknown run status %q", s)
}

// SyncMode is what the scheduler decided for an invocation.
type SyncMode string

const (
	SyncModeSkip        SyncMode = "skip"
	SyncModeIncremental SyncMode = "incremental"
	SyncModeFull        SyncMode = "full"
)

// WipeMode selects which target contacts a wipe may delete.
type WipeMode string

const (
	WipeModeAll    WipeMode = "all"
	WipeModeTagged WipeMode = "tagged"
)

// ParseWipeMode validates a user supplied wipe mode. Empty means tagged.
func ParseWipeMode(s string) (WipeMode, error) {
	switch WipeMode(s) {
	case "", WipeModeTagged:
		return WipeModeTagged, nil
	case WipeModeAll:
		return WipeModeAll, nil
	}
	return "", fmt.Errorf("invalid wipe mode %q (expected all or tagged)", s)
}

// RunKind distinguishes sync runs from wipe runs in history.
type RunKind string

const (
	RunKindSync RunKind = "sync"
	RunKindWipe RunKind = "wipe"
)

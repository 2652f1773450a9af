// ABOUTME: Run results and audit history rows for rollup sync and wipe invocations
// ABOUTME: Counters are plain ints; error lists are capped per category to bound memory
package models

import "time"

// MaxErrorsPerCategory bounds how many messages a run keeps per error category.
const MaxErrorsPerCategory = 25

// Error categories used in RunResult.Errors.
const (
	ErrorCategoryConfig  = "config"
	ErrorCategoryTarget  = "target"
	ErrorCategorySources = "sources"
	ErrorCategoryUpserts = "upserts"
	ErrorCategoryDeletes = "deletes"
	ErrorCategoryStore   = "store"
)

// SourceSyncStats are the counters collected for one source account.
type SourceSyncStats struct {
	Fetched                  int    `json:"fetched"`
	Considered               int    `json:"considered"`
	Accepted                 int    `json:"accepted"`
	SkippedInvalid           int    `json:"skipped_invalid"`
	LocalDuplicatesCollapsed int    `json:"local_duplicates_collapsed"`
	Error                    string `json:"error,omitempty"`
}

// SyncTotals aggregates a sync run.
type SyncTotals struct {
	Sources                   int `json:"sources"`
	SourcesFailed             int `json:"sources_failed"`
	Fetched                   int `json:"fetched"`
	Considered                int `json:"considered"`
	Accepted                  int `json:"accepted"`
	SkippedInvalid            int `json:"skipped_invalid"`
	LocalDuplicatesCollapsed  int `json:"local_duplicates_collapsed"`
	GlobalDuplicatesCollapsed int `json:"global_duplicates_collapsed"`
	UniqueContacts            int `json:"unique_contacts"`
	QueuedForTarget           int `json:"queued_for_target"`
	TruncatedByMaxUpserts     int `json:"truncated_by_max_upserts"`
	UpsertsAttempted          int `json:"upserts_attempted"`
	UpsertsSucceeded          int `json:"upserts_succeeded"`
	UpsertsFailed             int `json:"upserts_failed"`
}

// WipeTotals aggregates a wipe run.
type WipeTotals struct {
	Listed           int `json:"listed"`
	UniqueListed     int `json:"unique_listed"`
	EligibleContacts int `json:"eligible_contacts"`
	TruncatedByMax   int `json:"truncated_by_max_deletes"`
	QueuedForDelete  int `json:"queued_for_delete"`
	DeletesAttempted int `json:"deletes_attempted"`
	DeletesSucceeded int `json:"deletes_succeeded"`
	DeletesFailed    int `json:"deletes_failed"`
}

// WipeBreakdown explains how the wipe filter classified listed contacts.
type WipeBreakdown struct {
	Mode         WipeMode `json:"mode"`
	MarkerTagged int      `json:"marker_tagged"`
	SourceTagged int      `json:"source_tagged"`
	Untagged     int      `json:"untagged"`
}

// RunResult is returned by every sync and wipe invocation.
type RunResult struct {
	RunID      string    `json:"run_id"`
	JobKey     string    `json:"job_key"`
	Kind       RunKind   `json:"kind"`
	Status     RunStatus `json:"status"`
	Mode       SyncMode  `json:"mode,omitempty"`
	Skipped    bool      `json:"skipped,omitempty"`
	DryRun     bool      `json:"dry_run"`
	Trigger    Trigger   `json:"trigger"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Sync      *SyncTotals                `json:"sync,omitempty"`
	PerSource map[string]SourceSyncStats `json:"per_source,omitempty"`
	Wipe      *WipeTotals                `json:"wipe,omitempty"`
	Filter    *WipeBreakdown             `json:"filter,omitempty"`

	Errors        map[string][]string `json:"errors,omitempty"`
	ErrorsDropped map[string]int      `json:"errors_dropped,omitempty"`
}

// AddError records msg under category, keeping at most MaxErrorsPerCategory
// messages and counting the rest.
func (r *RunResult) AddError(category, msg string) {
	if r.Errors == nil {
		r.Errors = make(map[string][]string)
	}
	if len(r.Errors[category]) >= MaxErrorsPerCategory {
		if r.ErrorsDropped == nil {
			r.ErrorsDropped = make(map[string]int)
		}
		r.ErrorsDropped[category]++
		return
	}
	r.Errors[category] = append(r.Errors[category], msg)
}

// ErrorCount returns the number of recorded errors including dropped ones.
func (r *RunResult) ErrorCount() int {
	n := 0
	for _, msgs := range r.Errors {
		n += len(msgs)
	}
	for _, dropped := range r.ErrorsDropped {
		n += dropped
	}
	return n
}

// RunHistoryEntry is an append-only audit row for one invocation.
type RunHistoryEntry struct {
	ID               string    `json:"id"`
	RunID            string    `json:"run_id"`
	JobKey           string    `json:"job_key"`
	Kind             RunKind   `json:"kind"`
	Status           RunStatus `json:"status"`
	Mode             string    `json:"mode,omitempty"`
	DryRun           bool      `json:"dry_run"`
	TriggerSource    string    `json:"trigger_source"`
	TriggeredByID    string    `json:"triggered_by_id,omitempty"`
	TriggeredByEmail string    `json:"triggered_by_email,omitempty"`
	StartedAt        time.Time `json:"started_at"`
	FinishedAt       time.Time `json:"finished_at"`
	Totals           string    `json:"totals"`
	Errors           string    `json:"errors,omitempty"`
}

// ConfigHistoryEntry is an append-only audit row for one config change.
type ConfigHistoryEntry struct {
	ID             string    `json:"id"`
	JobKey         string    `json:"job_key"`
	ChangedFields  []string  `json:"changed_fields"`
	Before         string    `json:"before,omitempty"`
	After          string    `json:"after"`
	ChangedByID    string    `json:"changed_by_id,omitempty"`
	ChangedByEmail string    `json:"changed_by_email,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// StoreCapabilities lists optional tables a persistence backend found when it
// was opened. Missing tables mean the feature is skipped, never an error.
type StoreCapabilities struct {
	ConfigHistory bool `json:"config_history"`
	RunHistory    bool `json:"run_history"`
}

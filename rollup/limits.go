// ABOUTME: Tunable concurrency limits and per-run caps for the rollup engine
// ABOUTME: Supplied by the caller; the engine never reads the environment itself
package rollup

import "time"

// Limits bounds the work and concurrency of a single run.
type Limits struct {
	// SourceConcurrency is how many sources are collected at once (1-10).
	SourceConcurrency int `yaml:"source_concurrency" json:"source_concurrency"`
	// WriteConcurrency is how many upserts or deletes run at once (1-10).
	WriteConcurrency int `yaml:"write_concurrency" json:"write_concurrency"`

	PageSize                    int `yaml:"page_size" json:"page_size"`
	MaxSourceContactsPerAccount int `yaml:"max_source_contacts_per_account" json:"max_source_contacts_per_account"`
	MaxUpserts                  int `yaml:"max_upserts" json:"max_upserts"`
	MaxDeletes                  int `yaml:"max_deletes" json:"max_deletes"`
	MaxWipeListContacts         int `yaml:"max_wipe_list_contacts" json:"max_wipe_list_contacts"`
	MaxTags                     int `yaml:"max_tags" json:"max_tags"`

	// LookbackGrace is added to the schedule interval to form the incremental window.
	LookbackGrace time.Duration `yaml:"lookback_grace" json:"lookback_grace"`

	RetryAttempts int           `yaml:"retry_attempts" json:"retry_attempts"`
	RetryDelay    time.Duration `yaml:"retry_delay" json:"retry_delay"`

	MarkerTag          string `yaml:"marker_tag" json:"marker_tag"`
	DefaultPhoneRegion string `yaml:"default_phone_region" json:"default_phone_region"`
}

// Source tag prefix stamped per contributing account.
const SourceTagPrefix = "rollup-src:"

// DefaultLimits returns the documented defaults.
func DefaultLimits() Limits {
	return Limits{
		SourceConcurrency:           3,
		WriteConcurrency:            4,
		PageSize:                    100,
		MaxSourceContactsPerAccount: 10000,
		MaxUpserts:                  5000,
		MaxDeletes:                  5000,
		MaxWipeListContacts:         50000,
		MaxTags:                     50,
		LookbackGrace:               time.Hour,
		RetryAttempts:               3,
		RetryDelay:                  500 * time.Millisecond,
		MarkerTag:                   "rollup",
		DefaultPhoneRegion:          "US",
	}
}

// Clamp replaces zero values with defaults and forces values into range.
func (l Limits) Clamp() Limits {
	d := DefaultLimits()
	l.SourceConcurrency = clamp(orDefault(l.SourceConcurrency, d.SourceConcurrency), 1, 10)
	l.WriteConcurrency = clamp(orDefault(l.WriteConcurrency, d.WriteConcurrency), 1, 10)
	l.PageSize = clamp(orDefault(l.PageSize, d.PageSize), 1, 500)
	l.MaxSourceContactsPerAccount = clamp(orDefault(l.MaxSourceContactsPerAccount, d.MaxSourceContactsPerAccount), 1, 1000000)
	l.MaxUpserts = clamp(orDefault(l.MaxUpserts, d.MaxUpserts), 1, 1000000)
	l.MaxDeletes = clamp(orDefault(l.MaxDeletes, d.MaxDeletes), 1, 1000000)
	l.MaxWipeListContacts = clamp(orDefault(l.MaxWipeListContacts, d.MaxWipeListContacts), 1, 1000000)
	l.MaxTags = clamp(orDefault(l.MaxTags, d.MaxTags), 2, 1000)
	if l.LookbackGrace < 0 {
		l.LookbackGrace = 0
	}
	l.RetryAttempts = clamp(orDefault(l.RetryAttempts, d.RetryAttempts), 1, 3)
	if l.RetryDelay < 0 {
		l.RetryDelay = 0
	}
	if l.MarkerTag == "" {
		l.MarkerTag = d.MarkerTag
	}
	if l.DefaultPhoneRegion == "" {
		l.DefaultPhoneRegion = d.DefaultPhoneRegion
	}
	return l
}

func orDefault(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

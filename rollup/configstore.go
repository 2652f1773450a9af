// ABOUTME: Reads, sanitizes, and writes rollup job configuration
// ABOUTME: Computes defaults lazily and validates keys against the live account universe
package rollup

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/harperreed/rollupsync/models"
)

// AccountFilter narrows the account universe a snapshot considers. Nil keeps all.
type AccountFilter func(models.Account) bool

// ConfigSnapshot is a sanitized config plus the accounts it may reference.
type ConfigSnapshot struct {
	Config        models.RollupConfig
	Persisted     bool
	TargetOptions []models.Account
	SourceOptions []models.Account
}

// ConfigInput is an admin edit of a job's configuration.
type ConfigInput struct {
	TargetAccountKey      string
	SourceAccountKeys     []string
	Enabled               bool
	ScheduleIntervalHours int
	ScheduleMinuteUTC     int
	FullSyncEnabled       bool
	FullSyncHourUTC       int
	FullSyncMinuteUTC     int
	ScrubInvalidEmails    bool
	ScrubInvalidPhones    bool
}

// InputFromConfig converts a config into an editable input, so callers can
// change a few fields and write the rest back unchanged.
func InputFromConfig(cfg models.RollupConfig) ConfigInput {
	return ConfigInput{
		TargetAccountKey:      cfg.TargetAccountKey,
		SourceAccountKeys:     append([]string(nil), cfg.SourceAccountKeys...),
		Enabled:               cfg.Enabled,
		ScheduleIntervalHours: cfg.ScheduleIntervalHours,
		ScheduleMinuteUTC:     cfg.ScheduleMinuteUTC,
		FullSyncEnabled:       cfg.FullSyncEnabled,
		FullSyncHourUTC:       cfg.FullSyncHourUTC,
		FullSyncMinuteUTC:     cfg.FullSyncMinuteUTC,
		ScrubInvalidEmails:    cfg.ScrubInvalidEmails,
		ScrubInvalidPhones:    cfg.ScrubInvalidPhones,
	}
}

// ConfigStore wraps the persistence port with the rollup config rules.
type ConfigStore struct {
	store Store
}

// NewConfigStore creates a config store over store.
func NewConfigStore(store Store) *ConfigStore {
	return &ConfigStore{store: store}
}

// GetSnapshot loads the config for jobKey, computing defaults when nothing is
// persisted and dropping keys that no longer name a valid account.
func (s *ConfigStore) GetSnapshot(ctx context.Context, jobKey string, filter AccountFilter) (ConfigSnapshot, error) {
	if jobKey == "" {
		jobKey = models.DefaultJobKey
	}

	accounts, err := s.store.ListAccounts(ctx)
	if err != nil {
		return ConfigSnapshot{}, fmt.Errorf("failed to list accounts: %w", err)
	}

	var snap ConfigSnapshot
	for _, acct := range accounts {
		if filter != nil && !filter(acct) {
			continue
		}
		if acct.RollupTarget {
			snap.TargetOptions = append(snap.TargetOptions, acct)
		} else {
			snap.SourceOptions = append(snap.SourceOptions, acct)
		}
	}
	sortAccounts(snap.TargetOptions)
	sortAccounts(snap.SourceOptions)

	defaults := defaultConfig(jobKey, snap)

	persisted, err := s.store.GetConfig(ctx, jobKey)
	if err != nil {
		return ConfigSnapshot{}, fmt.Errorf("failed to load rollup config: %w", err)
	}
	if persisted == nil {
		snap.Config = defaults
		return snap, nil
	}

	snap.Persisted = true
	snap.Config = sanitize(*persisted, defaults, snap)
	return snap, nil
}

// UpsertConfig validates input and writes it for jobKey. History is appended
// by the store inside the same transaction when fields changed.
func (s *ConfigStore) UpsertConfig(ctx context.Context, jobKey string, input ConfigInput, actor models.Actor) (models.RollupConfig, []string, error) {
	if jobKey == "" {
		jobKey = models.DefaultJobKey
	}

	cfg := models.RollupConfig{
		JobKey:                jobKey,
		TargetAccountKey:      strings.TrimSpace(input.TargetAccountKey),
		Enabled:               input.Enabled,
		ScheduleIntervalHours: input.ScheduleIntervalHours,
		ScheduleMinuteUTC:     input.ScheduleMinuteUTC,
		FullSyncEnabled:       input.FullSyncEnabled,
		FullSyncHourUTC:       input.FullSyncHourUTC,
		FullSyncMinuteUTC:     input.FullSyncMinuteUTC,
		ScrubInvalidEmails:    input.ScrubInvalidEmails,
		ScrubInvalidPhones:    input.ScrubInvalidPhones,
		UpdatedByID:           actor.UserID,
		UpdatedByEmail:        actor.Email,
	}
	cfg.Clamp()

	for _, key := range input.SourceAccountKeys {
		key = strings.TrimSpace(key)
		if key == "" || key == cfg.TargetAccountKey {
			continue
		}
		cfg.SourceAccountKeys = models.UnionStrings(cfg.SourceAccountKeys, []string{key})
	}
	if cfg.SourceAccountKeys == nil {
		cfg.SourceAccountKeys = []string{}
	}

	changed, err := s.store.UpsertConfig(ctx, cfg, actor)
	if err != nil {
		return models.RollupConfig{}, nil, fmt.Errorf("failed to save rollup config: %w", err)
	}
	return cfg, changed, nil
}

// defaultConfig targets the first rollup-eligible account and sources every other one.
func defaultConfig(jobKey string, snap ConfigSnapshot) models.RollupConfig {
	cfg := models.RollupConfig{
		JobKey:                jobKey,
		Enabled:               false,
		ScheduleIntervalHours: 1,
		ScheduleMinuteUTC:     0,
		FullSyncEnabled:       false,
		FullSyncHourUTC:       3,
		FullSyncMinuteUTC:     0,
		SourceAccountKeys:     []string{},
	}
	if len(snap.TargetOptions) > 0 {
		cfg.TargetAccountKey = snap.TargetOptions[0].Key
	}
	for _, acct := range snap.SourceOptions {
		cfg.SourceAccountKeys = append(cfg.SourceAccountKeys, acct.Key)
	}
	return cfg
}

// sanitize drops keys that are no longer valid. An invalid target falls back
// to the default target; an empty source set falls back to every valid
// non-target source account.
func sanitize(cfg, defaults models.RollupConfig, snap ConfigSnapshot) models.RollupConfig {
	targets := keySet(snap.TargetOptions)
	sources := keySet(snap.SourceOptions)

	if _, ok := targets[cfg.TargetAccountKey]; !ok {
		cfg.TargetAccountKey = defaults.TargetAccountKey
	}

	var kept []string
	for _, key := range cfg.SourceAccountKeys {
		if _, ok := sources[key]; !ok || key == cfg.TargetAccountKey {
			continue
		}
		kept = models.UnionStrings(kept, []string{key})
	}
	if len(kept) == 0 {
		for _, acct := range snap.SourceOptions {
			if acct.Key != cfg.TargetAccountKey {
				kept = append(kept, acct.Key)
			}
		}
	}
	if kept == nil {
		kept = []string{}
	}
	cfg.SourceAccountKeys = kept
	cfg.Clamp()
	return cfg
}

func keySet(accounts []models.Account) map[string]struct{} {
	set := make(map[string]struct{}, len(accounts))
	for _, acct := range accounts {
		set[acct.Key] = struct{}{}
	}
	return set
}

// sortAccounts orders accounts by creation time, then key, so "first" is stable.
func sortAccounts(accounts []models.Account) {
	sort.SliceStable(accounts, func(i, j int) bool {
		if !accounts[i].CreatedAt.Equal(accounts[j].CreatedAt) {
			return accounts[i].CreatedAt.Before(accounts[j].CreatedAt)
		}
		return accounts[i].Key < accounts[j].Key
	})
}

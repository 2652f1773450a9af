// ABOUTME: Tests for the rollup Store against temporary SQLite databases
// ABOUTME: Covers accounts, config upsert with history, last-run status, and capability probing
package db

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/harperreed/rollupsync/crm"
	"github.com/harperreed/rollupsync/models"
	"github.com/harperreed/rollupsync/rollup"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ rollup.Store      = (*Store)(nil)
	_ crm.AccountLookup = (*Store)(nil)
)

// newTestStore opens a fresh database with a clock that advances a second per call.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "rollup.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	clock := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return store
}

func testConfig() models.RollupConfig {
	return models.RollupConfig{
		JobKey:                models.DefaultJobKey,
		TargetAccountKey:      "hq",
		SourceAccountKeys:     []string{"east", "west"},
		ScheduleIntervalHours: 2,
		ScheduleMinuteUTC:     15,
		FullSyncHourUTC:       3,
	}
}

func TestStoreCapabilities(t *testing.T) {
	store := newTestStore(t)
	assert.Equal(t, models.StoreCapabilities{ConfigHistory: true, RunHistory: true}, store.Capabilities())
	assert.Equal(t, DialectSQLite, store.Dialect())
}

func TestAccounts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	hq := &models.Account{Key: "hq", Name: "Headquarters", Provider: models.ProviderREST, RollupTarget: true, BaseURL: "https://crm.example.com", Credentials: `{"token":"t"}`}
	require.NoError(t, store.CreateAccount(ctx, hq))
	require.NoError(t, store.CreateAccount(ctx, &models.Account{Key: "east", Provider: models.ProviderGoogle}))

	assert.Error(t, store.CreateAccount(ctx, &models.Account{Key: "hq", Provider: models.ProviderREST}), "duplicate key")
	assert.Error(t, store.CreateAccount(ctx, &models.Account{Key: "x", Provider: "fax"}))
	assert.Error(t, store.CreateAccount(ctx, &models.Account{Key: " ", Provider: models.ProviderREST}))

	got, err := store.GetAccount(ctx, "hq")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Headquarters", got.Name)
	assert.True(t, got.RollupTarget)
	assert.Equal(t, "https://crm.example.com", got.BaseURL)
	assert.Equal(t, `{"token":"t"}`, got.Credentials)

	missing, err := store.GetAccount(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	accounts, err := store.ListAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	assert.Equal(t, "hq", accounts[0].Key)
	assert.Equal(t, "east", accounts[1].Key)
	assert.Equal(t, "east", accounts[1].Name, "name defaults to key")
	assert.False(t, accounts[1].RollupTarget)

	require.NoError(t, store.UpdateAccountCredentials(ctx, "east", `{"access_token":"a"}`))
	east, err := store.GetAccount(ctx, "east")
	require.NoError(t, err)
	assert.Equal(t, `{"access_token":"a"}`, east.Credentials)
	assert.Error(t, store.UpdateAccountCredentials(ctx, "nope", "x"))

	require.NoError(t, store.DeleteAccount(ctx, "east"))
	assert.Error(t, store.DeleteAccount(ctx, "east"))
}

func TestGetConfigMissing(t *testing.T) {
	store := newTestStore(t)
	cfg, err := store.GetConfig(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, cfg)
}

func TestUpsertConfigAppendsDiffOnlyHistory(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	actor := models.Actor{UserID: "u1", Email: "admin@example.com"}

	cfg := testConfig()
	changed, err := store.UpsertConfig(ctx, cfg, actor)
	require.NoError(t, err)
	assert.Contains(t, changed, "target_account_key")
	assert.Contains(t, changed, "source_account_keys")

	got, err := store.GetConfig(ctx, cfg.JobKey)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "hq", got.TargetAccountKey)
	assert.Equal(t, []string{"east", "west"}, got.SourceAccountKeys)
	assert.Equal(t, 2, got.ScheduleIntervalHours)
	assert.Equal(t, 15, got.ScheduleMinuteUTC)
	assert.Equal(t, "admin@example.com", got.UpdatedByEmail)
	assert.False(t, got.CreatedAt.IsZero())

	// Same editable fields in another order: no change, no history.
	same := cfg
	same.SourceAccountKeys = []string{"west", "east"}
	changed, err = store.UpsertConfig(ctx, same, actor)
	require.NoError(t, err)
	assert.Empty(t, changed)

	next := cfg
	next.Enabled = true
	changed, err = store.UpsertConfig(ctx, next, models.Actor{Email: "other@example.com"})
	require.NoError(t, err)
	assert.Equal(t, []string{"enabled"}, changed)

	history, err := store.ListConfigHistory(ctx, cfg.JobKey, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)

	latest := history[0]
	assert.Equal(t, []string{"enabled"}, latest.ChangedFields)
	assert.Equal(t, "other@example.com", latest.ChangedByEmail)
	var before, after map[string]any
	require.NoError(t, json.Unmarshal([]byte(latest.Before), &before))
	require.NoError(t, json.Unmarshal([]byte(latest.After), &after))
	assert.Equal(t, false, before["enabled"])
	assert.Equal(t, true, after["enabled"])

	first := history[1]
	assert.Empty(t, first.Before, "first write has no previous snapshot")
	assert.Equal(t, "u1", first.ChangedByID)
}

func TestUpsertConfigKeepsLastRun(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	cfg := testConfig()
	_, err := store.UpsertConfig(ctx, cfg, models.Actor{})
	require.NoError(t, err)

	finished := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	cfg.LastSyncedAt = &finished
	cfg.LastSyncStatus = models.RunStatusOK
	cfg.LastSyncSummary = `{"kind":"sync"}`
	require.NoError(t, store.SaveLastRun(ctx, cfg))

	edit := testConfig()
	edit.Enabled = true
	_, err = store.UpsertConfig(ctx, edit, models.Actor{})
	require.NoError(t, err)

	got, err := store.GetConfig(ctx, cfg.JobKey)
	require.NoError(t, err)
	require.NotNil(t, got.LastSyncedAt)
	assert.True(t, finished.Equal(*got.LastSyncedAt))
	assert.Equal(t, models.RunStatusOK, got.LastSyncStatus)
	assert.True(t, got.Enabled)
}

func TestSaveLastRun(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.UpsertConfig(ctx, testConfig(), models.Actor{})
	require.NoError(t, err)

	// Last-run writes never touch the editable columns.
	run := testConfig()
	run.TargetAccountKey = "elsewhere"
	finished := time.Date(2025, 2, 1, 8, 0, 0, 0, time.UTC)
	run.LastSyncedAt = &finished
	run.LastSyncStatus = models.RunStatusFailed
	run.LastSyncSummary = `{"errors":1}`
	require.NoError(t, store.SaveLastRun(ctx, run))

	got, err := store.GetConfig(ctx, models.DefaultJobKey)
	require.NoError(t, err)
	assert.Equal(t, "hq", got.TargetAccountKey)
	assert.Equal(t, models.RunStatusFailed, got.LastSyncStatus)
	assert.Equal(t, `{"errors":1}`, got.LastSyncSummary)

	history, err := store.ListConfigHistory(ctx, models.DefaultJobKey, 10)
	require.NoError(t, err)
	assert.Len(t, history, 1, "last-run writes are not config changes")
}

func TestSaveLastRunSkipsMissingRow(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	finished := time.Date(2025, 2, 1, 8, 0, 0, 0, time.UTC)
	require.NoError(t, store.SaveLastRun(ctx, models.RollupConfig{
		JobKey:         "nightly",
		LastSyncedAt:   &finished,
		LastSyncStatus: models.RunStatusFailed,
	}))

	got, err := store.GetConfig(ctx, "nightly")
	require.NoError(t, err)
	assert.Nil(t, got, "last-run writes never create a config row")

	history, err := store.ListConfigHistory(ctx, "nightly", 10)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestRunHistory(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	for i, job := range []string{"default", "default", "nightly"} {
		started := base.Add(time.Duration(i) * time.Hour)
		require.NoError(t, store.AppendRunHistory(ctx, models.RunHistoryEntry{
			ID:            "h" + string(rune('a'+i)),
			RunID:         "run" + string(rune('a'+i)),
			JobKey:        job,
			Kind:          models.RunKindSync,
			Status:        models.RunStatusOK,
			Mode:          string(models.SyncModeIncremental),
			TriggerSource: models.TriggerCron,
			StartedAt:     started,
			FinishedAt:    started.Add(time.Minute),
			Totals:        `{}`,
		}))
	}

	runs, err := store.ListRunHistory(ctx, "default", 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "runb", runs[0].RunID, "newest first")
	assert.Equal(t, models.TriggerCron, runs[0].TriggerSource)
	assert.Equal(t, "incremental", runs[0].Mode)
	assert.Empty(t, runs[0].Errors)

	all, err := store.ListRunHistory(ctx, "", 2)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "runc", all[0].RunID)
}

func TestMissingHistoryTablesDisableCapabilities(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(filepath.Join(dir, "rollup.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	_, err = store.DB().Exec(`DROP TABLE rollup_config_history; DROP TABLE rollup_run_history;`)
	require.NoError(t, err)

	legacy, err := NewStore(store.DB(), store.Dialect())
	require.NoError(t, err)
	assert.Equal(t, models.StoreCapabilities{}, legacy.Capabilities())

	ctx := context.Background()
	changed, err := legacy.UpsertConfig(ctx, testConfig(), models.Actor{})
	require.NoError(t, err, "config writes succeed without history")
	assert.NotEmpty(t, changed)

	require.NoError(t, legacy.AppendRunHistory(ctx, models.RunHistoryEntry{ID: "x", RunID: "y", JobKey: "default"}))

	history, err := legacy.ListConfigHistory(ctx, models.DefaultJobKey, 10)
	require.NoError(t, err)
	assert.Empty(t, history)
	runs, err := legacy.ListRunHistory(ctx, "", 10)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

type noAdapters struct{}

func (noAdapters) Resolve(ctx context.Context, key string) (rollup.ContactsAdapter, error) {
	return nil, errors.New("no credentials")
}

func TestEngineRecordsRunsInStore(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateAccount(ctx, &models.Account{Key: "hq", Provider: models.ProviderREST, RollupTarget: true}))
	require.NoError(t, store.CreateAccount(ctx, &models.Account{Key: "east", Provider: models.ProviderREST}))

	engine := rollup.NewEngine(store, noAdapters{})
	result := engine.RunSync(ctx, rollup.SyncOptions{})
	assert.Equal(t, models.RunStatusFailed, result.Status)
	assert.NotEmpty(t, result.Errors[models.ErrorCategoryTarget])

	cfg, err := store.GetConfig(ctx, models.DefaultJobKey)
	require.NoError(t, err)
	assert.Nil(t, cfg, "a run against an unsaved job does not persist the default snapshot")

	runs, err := store.ListRunHistory(ctx, models.DefaultJobKey, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, result.RunID, runs[0].RunID)
	assert.Equal(t, models.TriggerManual, runs[0].TriggerSource)
	assert.Contains(t, runs[0].Errors, "no credentials")
}

// stubCRM is an empty, writable CRM account.
type stubCRM struct{}

func (stubCRM) ListContacts(ctx context.Context, req models.PageRequest) (models.ContactPage, error) {
	return models.ContactPage{Final: true}, nil
}

func (stubCRM) NormalizeContact(raw models.RawContact) models.CanonicalContact {
	return models.CanonicalContact{ID: raw.RecordID()}
}

func (stubCRM) UpsertContact(ctx context.Context, req models.UpsertRequest, shape models.BodyShape) error {
	return nil
}

func (stubCRM) DeleteContact(ctx context.Context, id string) error { return nil }

// cancelingCRM cancels the run while its first page is in flight.
type cancelingCRM struct {
	stubCRM
	cancel context.CancelFunc
}

func (c cancelingCRM) ListContacts(ctx context.Context, req models.PageRequest) (models.ContactPage, error) {
	c.cancel()
	<-ctx.Done()
	return models.ContactPage{}, ctx.Err()
}

type adapterMap map[string]rollup.ContactsAdapter

func (m adapterMap) Resolve(ctx context.Context, key string) (rollup.ContactsAdapter, error) {
	if adapter, ok := m[key]; ok {
		return adapter, nil
	}
	return nil, errors.New("no credentials")
}

func TestEngineRecordsCancelledRun(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateAccount(ctx, &models.Account{Key: "hq", Provider: models.ProviderREST, RollupTarget: true}))
	require.NoError(t, store.CreateAccount(ctx, &models.Account{Key: "east", Provider: models.ProviderREST}))
	_, err := store.UpsertConfig(ctx, models.RollupConfig{
		JobKey:            models.DefaultJobKey,
		TargetAccountKey:  "hq",
		SourceAccountKeys: []string{"east"},
	}, models.Actor{})
	require.NoError(t, err)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	engine := rollup.NewEngine(store, adapterMap{"hq": stubCRM{}, "east": cancelingCRM{cancel: cancel}})
	result := engine.RunSync(runCtx, rollup.SyncOptions{FullSync: true})
	require.Error(t, runCtx.Err())

	runs, err := store.ListRunHistory(ctx, models.DefaultJobKey, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1, "cancelled runs are still recorded")
	assert.Equal(t, result.RunID, runs[0].RunID)
	assert.Contains(t, runs[0].Errors, "context canceled")

	cfg, err := store.GetConfig(ctx, models.DefaultJobKey)
	require.NoError(t, err)
	require.NotNil(t, cfg)
	require.NotNil(t, cfg.LastSyncedAt)
	assert.Equal(t, result.Status, cfg.LastSyncStatus)
}

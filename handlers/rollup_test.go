// ABOUTME: Tests for rollup MCP tool handlers
// ABOUTME: Runs the handlers against a temporary SQLite store and an in-memory CRM
package handlers

import (
	"context"
	"fmt"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/harperreed/rollupsync/db"
	"github.com/harperreed/rollupsync/models"
	"github.com/harperreed/rollupsync/rollup"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memRecord struct {
	id    string
	email string
	tags  []string
}

func (r memRecord) RecordID() string { return r.id }
func (r memRecord) Provider() string { return "mem" }

// memCRM is a single-page CRM account that records writes.
type memCRM struct {
	mu      sync.Mutex
	records []memRecord
	upserts []models.UpsertRequest
	deletes []string
}

func (c *memCRM) ListContacts(ctx context.Context, req models.PageRequest) (models.ContactPage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	page := models.ContactPage{Final: true}
	for _, r := range c.records {
		page.Records = append(page.Records, r)
	}
	return page, nil
}

func (c *memCRM) NormalizeContact(raw models.RawContact) models.CanonicalContact {
	r := raw.(memRecord)
	return models.CanonicalContact{ID: r.id, Email: r.email, Tags: r.tags}
}

func (c *memCRM) UpsertContact(ctx context.Context, req models.UpsertRequest, shape models.BodyShape) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.upserts = append(c.upserts, req)
	return nil
}

func (c *memCRM) DeleteContact(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deletes = append(c.deletes, id)
	return nil
}

type mapResolver map[string]rollup.ContactsAdapter

func (m mapResolver) Resolve(ctx context.Context, key string) (rollup.ContactsAdapter, error) {
	adapter, ok := m[key]
	if !ok {
		return nil, fmt.Errorf("no adapter for %s", key)
	}
	return adapter, nil
}

type fixture struct {
	handlers *RollupHandlers
	store    *db.Store
	target   *memCRM
}

func setup(t *testing.T) fixture {
	t.Helper()
	store, err := db.Open(filepath.Join(t.TempDir(), "rollup.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	require.NoError(t, store.CreateAccount(ctx, &models.Account{Key: "hq", Provider: models.ProviderREST, RollupTarget: true}))
	require.NoError(t, store.CreateAccount(ctx, &models.Account{Key: "east", Provider: models.ProviderREST}))

	target := &memCRM{records: []memRecord{
		{id: "t1", email: "old@example.com", tags: []string{"rollup"}},
		{id: "t2", email: "mine@example.com"},
	}}
	source := &memCRM{records: []memRecord{
		{id: "s1", email: "Ada@Example.com"},
		{id: "s2", email: "grace@example.com"},
		{id: "s3", email: "ada@example.com"},
	}}

	limits := rollup.DefaultLimits()
	limits.RetryDelay = 0
	engine := rollup.NewEngine(store, mapResolver{"hq": target, "east": source}, rollup.WithLimits(limits))
	h := NewRollupHandlers(engine, store, "")
	h.now = func() time.Time { return time.Date(2025, 6, 1, 10, 7, 0, 0, time.UTC) }
	return fixture{handlers: h, store: store, target: target}
}

func TestRunSyncDryRun(t *testing.T) {
	f := setup(t)

	_, out, err := f.handlers.RunSync(context.Background(), nil, RunSyncInput{DryRun: true, FullSync: true})
	require.NoError(t, err)
	assert.Equal(t, "ok", out.Status)
	assert.Equal(t, "full", out.Mode)
	assert.True(t, out.DryRun)
	require.NotNil(t, out.Sync)
	assert.Equal(t, 2, out.Sync.UniqueContacts)
	assert.Equal(t, 1, out.Sync.LocalDuplicatesCollapsed)
	assert.Empty(t, f.target.upserts)
}

func TestRunSyncWritesAndRecords(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, out, err := f.handlers.RunSync(ctx, nil, RunSyncInput{FullSync: true, ActorEmail: "admin@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "ok", out.Status)
	assert.Equal(t, 2, out.Sync.UpsertsSucceeded)
	assert.Len(t, f.target.upserts, 2)
	assert.NotEmpty(t, out.RunID)

	_, runs, err := f.handlers.ListRuns(ctx, nil, ListRunsInput{})
	require.NoError(t, err)
	assert.True(t, runs.Available)
	require.Len(t, runs.Runs, 1)
	assert.Equal(t, out.RunID, runs.Runs[0].RunID)
	assert.Equal(t, models.TriggerMCP, runs.Runs[0].TriggerSource)
	assert.Equal(t, "admin@example.com", runs.Runs[0].TriggeredBy)
}

func TestRunSyncEnforceScheduleWhenDisabled(t *testing.T) {
	f := setup(t)

	_, out, err := f.handlers.RunSync(context.Background(), nil, RunSyncInput{EnforceSchedule: true})
	require.NoError(t, err)
	assert.Equal(t, "disabled", out.Status)
	assert.True(t, out.Skipped)
}

func TestRunWipe(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, _, err := f.handlers.RunWipe(ctx, nil, RunWipeInput{})
	assert.Error(t, err, "real wipe needs confirm")

	_, _, err = f.handlers.RunWipe(ctx, nil, RunWipeInput{Mode: "some", DryRun: true})
	assert.Error(t, err)

	_, out, err := f.handlers.RunWipe(ctx, nil, RunWipeInput{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, "ok", out.Status)
	require.NotNil(t, out.Wipe)
	assert.Equal(t, 1, out.Wipe.EligibleContacts)
	require.NotNil(t, out.Filter)
	assert.Equal(t, 1, out.Filter.MarkerTagged)
	assert.Equal(t, 1, out.Filter.Untagged)
	assert.Empty(t, f.target.deletes)

	_, out, err = f.handlers.RunWipe(ctx, nil, RunWipeInput{Confirm: true})
	require.NoError(t, err)
	assert.Equal(t, 1, out.Wipe.DeletesSucceeded)
	assert.Equal(t, []string{"t1"}, f.target.deletes)
}

func TestGetConfigDefaults(t *testing.T) {
	f := setup(t)

	_, out, err := f.handlers.GetConfig(context.Background(), nil, GetConfigInput{})
	require.NoError(t, err)
	assert.False(t, out.Persisted)
	assert.Equal(t, models.DefaultJobKey, out.JobKey)
	assert.Equal(t, "hq", out.TargetAccountKey)
	assert.Equal(t, []string{"east"}, out.SourceAccountKeys)
	assert.Empty(t, out.NextRunAt, "disabled jobs have no next run")
	require.Len(t, out.TargetOptions, 1)
	require.Len(t, out.SourceOptions, 1)
}

func TestUpdateConfig(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	enabled := true
	minute := 30
	_, out, err := f.handlers.UpdateConfig(ctx, nil, UpdateConfigInput{
		Enabled:           &enabled,
		ScheduleMinuteUTC: &minute,
		ActorEmail:        "admin@example.com",
	})
	require.NoError(t, err)
	assert.True(t, out.Persisted)
	assert.True(t, out.Enabled)
	assert.Equal(t, 30, out.ScheduleMinuteUTC)
	assert.Contains(t, out.ChangedFields, "enabled")
	assert.Equal(t, "2025-06-01T10:30:00Z", out.NextRunAt)
	assert.Equal(t, "incremental", out.NextRunMode)

	// Omitted fields keep their value; an unchanged edit reports no changes.
	_, out, err = f.handlers.UpdateConfig(ctx, nil, UpdateConfigInput{Enabled: &enabled})
	require.NoError(t, err)
	assert.Empty(t, out.ChangedFields)
	assert.Equal(t, 30, out.ScheduleMinuteUTC)

	_, changes, err := f.handlers.ListConfigChanges(ctx, nil, ListRunsInput{})
	require.NoError(t, err)
	require.Len(t, changes.Changes, 1)
	assert.Equal(t, "admin@example.com", changes.Changes[0].ChangedBy)
}

func TestUpdateConfigRejectsUnknownAccounts(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	bogus := "east"
	_, _, err := f.handlers.UpdateConfig(ctx, nil, UpdateConfigInput{TargetAccountKey: &bogus})
	assert.Error(t, err, "east is not rollup eligible")

	_, _, err = f.handlers.UpdateConfig(ctx, nil, UpdateConfigInput{SourceAccountKeys: []string{"nope"}})
	assert.Error(t, err)
}

func TestUpdateConfigScrubDescriptions(t *testing.T) {
	input := reflect.TypeOf(UpdateConfigInput{})
	for field, want := range map[string]string{
		"ScrubInvalidEmails": "Discard invalid-format emails before upsert",
		"ScrubInvalidPhones": "Discard invalid-format phones before upsert",
	} {
		f, ok := input.FieldByName(field)
		require.True(t, ok, field)
		assert.Equal(t, want, f.Tag.Get("jsonschema"))
	}
}

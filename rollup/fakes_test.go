// ABOUTME: In-memory fakes for the rollup ports used across engine tests
// ABOUTME: Provides a store, an adapter resolver, paged source adapters, and a writable target
package rollup

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/harperreed/rollupsync/models"
)

// statusErr is a provider error carrying an HTTP status.
type statusErr struct {
	status int
}

func (e *statusErr) Error() string   { return fmt.Sprintf("provider returned %d", e.status) }
func (e *statusErr) HTTPStatus() int { return e.status }

// fakeRecord is the raw contact variant produced by fake adapters.
type fakeRecord struct {
	ID        string
	FirstName string
	LastName  string
	Email     string
	Phone     string
	Tags      []string
	AddedAt   *time.Time
}

func (r fakeRecord) RecordID() string { return r.ID }
func (r fakeRecord) Provider() string { return "fake" }

// fakeSource pages through a fixed record list using the record index as cursor.
type fakeSource struct {
	mu       sync.Mutex
	records  []fakeRecord
	listErr  error
	calls    int
	noCursor bool
}

func newFakeSource(records ...fakeRecord) *fakeSource {
	return &fakeSource{records: records}
}

func (s *fakeSource) ListContacts(ctx context.Context, req models.PageRequest) (models.ContactPage, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.listErr != nil {
		return models.ContactPage{}, s.listErr
	}
	return s.page(req), nil
}

func (s *fakeSource) page(req models.PageRequest) models.ContactPage {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := 0
	if req.Cursor != "" {
		if n, err := strconv.Atoi(req.Cursor); err == nil {
			start = n
		} else {
			// A record id cursor resumes after that record.
			for i, rec := range s.records {
				if rec.ID == req.Cursor {
					start = i + 1
				}
			}
		}
	}
	if start > len(s.records) {
		start = len(s.records)
	}
	end := start + req.Limit
	if end > len(s.records) {
		end = len(s.records)
	}
	var page models.ContactPage
	for _, rec := range s.records[start:end] {
		page.Records = append(page.Records, rec)
	}
	if end < len(s.records) && !s.noCursor {
		page.NextCursor = strconv.Itoa(end)
	}
	return page
}

func (s *fakeSource) NormalizeContact(raw models.RawContact) models.CanonicalContact {
	rec := raw.(fakeRecord)
	return models.CanonicalContact{
		ID:        rec.ID,
		FirstName: rec.FirstName,
		LastName:  rec.LastName,
		Email:     rec.Email,
		Phone:     rec.Phone,
		Tags:      rec.Tags,
		AddedAt:   rec.AddedAt,
	}
}

// fakeSearchSource rejects the primary listing and serves everything via search.
type fakeSearchSource struct {
	*fakeSource
	searches int
}

func (s *fakeSearchSource) SearchContacts(ctx context.Context, req models.PageRequest) (models.ContactPage, error) {
	s.searches++
	return s.page(req), nil
}

// cancelingSource cancels the run's context from inside ListContacts, the
// way a daemon timeout or SIGINT lands mid-fetch.
type cancelingSource struct {
	*fakeSource
	cancel context.CancelFunc
}

func (s *cancelingSource) ListContacts(ctx context.Context, req models.PageRequest) (models.ContactPage, error) {
	s.cancel()
	<-ctx.Done()
	return models.ContactPage{}, ctx.Err()
}

// fakeTarget records writes and can fail specific operations.
type fakeTarget struct {
	*fakeSource

	mu          sync.Mutex
	upserts     []models.UpsertRequest
	shapes      []models.BodyShape
	deleted     []string
	upsertErrs  map[models.BodyShape]error
	deleteErrs  map[string]error
	upsertCalls int
	deleteCalls int
}

func newFakeTarget(records ...fakeRecord) *fakeTarget {
	return &fakeTarget{
		fakeSource: newFakeSource(records...),
		upsertErrs: make(map[models.BodyShape]error),
		deleteErrs: make(map[string]error),
	}
}

func (t *fakeTarget) UpsertContact(ctx context.Context, req models.UpsertRequest, shape models.BodyShape) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.upsertCalls++
	if err := t.upsertErrs[shape]; err != nil {
		return err
	}
	t.upserts = append(t.upserts, req)
	t.shapes = append(t.shapes, shape)
	return nil
}

func (t *fakeTarget) DeleteContact(ctx context.Context, id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.deleteCalls++
	if err := t.deleteErrs[id]; err != nil {
		return err
	}
	t.deleted = append(t.deleted, id)
	return nil
}

func (t *fakeTarget) upsertedEmails() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var emails []string
	for _, u := range t.upserts {
		emails = append(emails, u.Email)
	}
	sort.Strings(emails)
	return emails
}

// fakeResolver maps account keys to adapters.
type fakeResolver struct {
	adapters map[string]ContactsAdapter
	errs     map[string]error
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{adapters: make(map[string]ContactsAdapter), errs: make(map[string]error)}
}

func (r *fakeResolver) Resolve(ctx context.Context, key string) (ContactsAdapter, error) {
	if err := r.errs[key]; err != nil {
		return nil, err
	}
	adapter, ok := r.adapters[key]
	if !ok {
		return nil, errors.New("no credentials for account")
	}
	return adapter, nil
}

// memStore is an in-memory rollup.Store.
type memStore struct {
	mu            sync.Mutex
	accounts      []models.Account
	configs       map[string]models.RollupConfig
	configHistory []models.ConfigHistoryEntry
	runs          []models.RunHistoryEntry
	caps          models.StoreCapabilities
	listErr       error
	saveErr       error
	appendErr     error
	lastRuns      int
}

func newMemStore(accounts ...models.Account) *memStore {
	return &memStore{
		accounts: accounts,
		configs:  make(map[string]models.RollupConfig),
		caps:     models.StoreCapabilities{ConfigHistory: true, RunHistory: true},
	}
}

func (s *memStore) ListAccounts(ctx context.Context) ([]models.Account, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return append([]models.Account(nil), s.accounts...), nil
}

func (s *memStore) GetConfig(ctx context.Context, jobKey string) (*models.RollupConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.configs[jobKey]
	if !ok {
		return nil, nil
	}
	cfg.SourceAccountKeys = append([]string(nil), cfg.SourceAccountKeys...)
	return &cfg, nil
}

func (s *memStore) UpsertConfig(ctx context.Context, cfg models.RollupConfig, actor models.Actor) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var prev *models.RollupConfig
	if existing, ok := s.configs[cfg.JobKey]; ok {
		prev = &existing
		cfg.LastSyncedAt = existing.LastSyncedAt
		cfg.LastSyncStatus = existing.LastSyncStatus
		cfg.LastSyncSummary = existing.LastSyncSummary
	}
	changed := models.DiffConfig(prev, cfg)
	s.configs[cfg.JobKey] = cfg
	if len(changed) > 0 && s.caps.ConfigHistory {
		s.configHistory = append(s.configHistory, models.ConfigHistoryEntry{
			JobKey:         cfg.JobKey,
			ChangedFields:  changed,
			ChangedByID:    actor.UserID,
			ChangedByEmail: actor.Email,
		})
	}
	return changed, nil
}

func (s *memStore) SaveLastRun(ctx context.Context, cfg models.RollupConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRuns++
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.saveErr != nil {
		return s.saveErr
	}
	existing, ok := s.configs[cfg.JobKey]
	if !ok {
		return nil
	}
	existing.LastSyncedAt = cfg.LastSyncedAt
	existing.LastSyncStatus = cfg.LastSyncStatus
	existing.LastSyncSummary = cfg.LastSyncSummary
	s.configs[cfg.JobKey] = existing
	return nil
}

func (s *memStore) AppendRunHistory(ctx context.Context, entry models.RunHistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.appendErr != nil {
		return s.appendErr
	}
	s.runs = append(s.runs, entry)
	return nil
}

func (s *memStore) Capabilities() models.StoreCapabilities {
	return s.caps
}

func ts(value string) *time.Time {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		panic(err)
	}
	return &t
}

func fastLimits() Limits {
	l := DefaultLimits()
	l.RetryDelay = 0
	return l
}

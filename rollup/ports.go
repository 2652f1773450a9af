// ABOUTME: Interfaces the rollup engine consumes: CRM adapters and the persistence port
// ABOUTME: Implemented by package crm and package db, faked in tests
package rollup

import (
	"context"

	"github.com/harperreed/rollupsync/models"
)

// ContactsAdapter reads contacts from one CRM account.
type ContactsAdapter interface {
	// ListContacts fetches one page from the primary listing endpoint.
	ListContacts(ctx context.Context, req models.PageRequest) (models.ContactPage, error)
	// NormalizeContact extracts canonical fields from a record this adapter returned.
	NormalizeContact(raw models.RawContact) models.CanonicalContact
}

// Searcher is implemented by adapters whose provider exposes an alternate
// search endpoint that pages through the same contacts as ListContacts.
type Searcher interface {
	SearchContacts(ctx context.Context, req models.PageRequest) (models.ContactPage, error)
}

// TargetAPI is a ContactsAdapter that can also write to its account.
type TargetAPI interface {
	ContactsAdapter
	UpsertContact(ctx context.Context, req models.UpsertRequest, shape models.BodyShape) error
	DeleteContact(ctx context.Context, id string) error
}

// AdapterResolver resolves credentials and the contacts capability for an account.
type AdapterResolver interface {
	Resolve(ctx context.Context, accountKey string) (ContactsAdapter, error)
}

// Store is the persistence port for rollup configuration and audit history.
type Store interface {
	ListAccounts(ctx context.Context) ([]models.Account, error)
	// GetConfig returns nil, nil when nothing is persisted for jobKey.
	GetConfig(ctx context.Context, jobKey string) (*models.RollupConfig, error)
	// UpsertConfig writes cfg and, in the same transaction, appends a config
	// history entry when any editable field changed. It returns the changed fields.
	UpsertConfig(ctx context.Context, cfg models.RollupConfig, actor models.Actor) ([]string, error)
	// SaveLastRun updates the last-run columns for cfg.JobKey. It is a no-op
	// when no row exists for the job.
	SaveLastRun(ctx context.Context, cfg models.RollupConfig) error
	AppendRunHistory(ctx context.Context, entry models.RunHistoryEntry) error
	Capabilities() models.StoreCapabilities
}

// HTTPStatusError is implemented by adapter errors that carry a provider
// response status.
type HTTPStatusError interface {
	error
	HTTPStatus() int
}

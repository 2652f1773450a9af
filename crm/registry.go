// ABOUTME: Resolves account keys to provider adapters with their credentials
// ABOUTME: Implements the engine's adapter resolver over the account registry
package crm

import (
	"context"
	"fmt"
	"net/http"

	"github.com/harperreed/rollupsync/models"
	"github.com/harperreed/rollupsync/rollup"
	"golang.org/x/oauth2"
)

// AccountLookup loads one account by key, returning nil when it doesn't exist.
type AccountLookup interface {
	GetAccount(ctx context.Context, key string) (*models.Account, error)
}

// RegistryOptions configures adapter construction.
type RegistryOptions struct {
	HTTPClient  *http.Client
	OAuthConfig *oauth2.Config
	UserAgent   string
}

// Registry builds adapters for accounts on demand.
type Registry struct {
	accounts AccountLookup
	opts     RegistryOptions
}

// NewRegistry creates a registry over accounts.
func NewRegistry(accounts AccountLookup, opts RegistryOptions) *Registry {
	return &Registry{accounts: accounts, opts: opts}
}

// Resolve returns the adapter for accountKey. REST accounts resolve to a
// *RestAdapter, which can also be a rollup target; Google accounts resolve
// to a read only *GoogleAdapter.
func (r *Registry) Resolve(ctx context.Context, accountKey string) (rollup.ContactsAdapter, error) {
	account, err := r.accounts.GetAccount(ctx, accountKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load account: %w", err)
	}
	if account == nil {
		return nil, fmt.Errorf("unknown account %q", accountKey)
	}

	switch account.Provider {
	case models.ProviderREST:
		token, err := ParseRestToken(account.Credentials)
		if err != nil {
			return nil, err
		}
		adapter, err := NewRestAdapter(RestOptions{
			BaseURL:    account.BaseURL,
			Token:      token,
			HTTPClient: r.opts.HTTPClient,
			UserAgent:  r.opts.UserAgent,
		})
		if err != nil {
			return nil, err
		}
		return adapter, nil
	case models.ProviderGoogle:
		if r.opts.OAuthConfig == nil || r.opts.OAuthConfig.ClientID == "" {
			return nil, fmt.Errorf("google client credentials are not configured")
		}
		token, err := ParseGoogleToken(account.Credentials)
		if err != nil {
			return nil, err
		}
		service, err := NewPeopleService(ctx, r.opts.OAuthConfig, token)
		if err != nil {
			return nil, err
		}
		return NewGoogleAdapter(service), nil
	}
	return nil, fmt.Errorf("account %q has unsupported provider %q", accountKey, account.Provider)
}

// ABOUTME: Database operations for the accounts table
// ABOUTME: The account universe that rollup configs reference by key
package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/harperreed/rollupsync/models"
)

const accountColumns = `key, name, provider, rollup_target, base_url, credentials, created_at`

// CreateAccount inserts a new account.
func (s *Store) CreateAccount(ctx context.Context, acct *models.Account) error {
	acct.Key = strings.TrimSpace(acct.Key)
	if acct.Key == "" {
		return fmt.Errorf("account key is required")
	}
	switch acct.Provider {
	case models.ProviderREST, models.ProviderGoogle:
	default:
		return fmt.Errorf("unsupported provider %q", acct.Provider)
	}
	if acct.Name == "" {
		acct.Name = acct.Key
	}
	acct.CreatedAt = s.timestamp()

	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO accounts (key, name, provider, rollup_target, base_url, credentials, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`), acct.Key, acct.Name, acct.Provider, acct.RollupTarget, nullString(acct.BaseURL), nullString(acct.Credentials), acct.CreatedAt)
	if err != nil {
		return wrap("create account", err)
	}
	return nil
}

// GetAccount returns the account for key, or nil if it does not exist.
func (s *Store) GetAccount(ctx context.Context, key string) (*models.Account, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+accountColumns+` FROM accounts WHERE key = ?`), key)
	acct, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("get account", err)
	}
	return acct, nil
}

// ListAccounts returns every account ordered by creation time.
func (s *Store) ListAccounts(ctx context.Context) ([]models.Account, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY created_at, key`)
	if err != nil {
		return nil, wrap("list accounts", err)
	}
	defer func() { _ = rows.Close() }()

	var accounts []models.Account
	for rows.Next() {
		acct, err := scanAccount(rows)
		if err != nil {
			return nil, wrap("scan account", err)
		}
		accounts = append(accounts, *acct)
	}
	return accounts, rows.Err()
}

// UpdateAccountCredentials replaces the stored credentials for key.
func (s *Store) UpdateAccountCredentials(ctx context.Context, key, credentials string) error {
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE accounts SET credentials = ? WHERE key = ?`), nullString(credentials), key)
	if err != nil {
		return wrap("update account credentials", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("account not found: %s", key)
	}
	return nil
}

// DeleteAccount removes the account for key. Configs referencing it are
// sanitized on their next read.
func (s *Store) DeleteAccount(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM accounts WHERE key = ?`), key)
	if err != nil {
		return wrap("delete account", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("account not found: %s", key)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*models.Account, error) {
	var acct models.Account
	var baseURL, credentials sql.NullString
	if err := row.Scan(
		&acct.Key,
		&acct.Name,
		&acct.Provider,
		&acct.RollupTarget,
		&baseURL,
		&credentials,
		&acct.CreatedAt,
	); err != nil {
		return nil, err
	}
	acct.BaseURL = baseURL.String
	acct.Credentials = credentials.String
	return &acct, nil
}

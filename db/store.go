// ABOUTME: Store implements the rollup persistence port over database/sql
// ABOUTME: Probes optional audit tables once at open and exposes them as capability flags
package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/harperreed/rollupsync/models"
)

// Store persists accounts, rollup configs, and audit history.
type Store struct {
	db      *sql.DB
	dialect Dialect
	caps    models.StoreCapabilities
	now     func() time.Time
}

// Open opens dsn, initializes the schema, and wraps it in a Store.
func Open(dsn string) (*Store, error) {
	db, dialect, err := OpenDatabase(dsn)
	if err != nil {
		return nil, err
	}
	store, err := NewStore(db, dialect)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewStore wraps an open database. The history tables are probed here, so a
// database migrated later needs a new Store to pick them up.
func NewStore(db *sql.DB, dialect Dialect) (*Store, error) {
	s := &Store{db: db, dialect: dialect, now: time.Now}
	if err := s.probe(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) probe() error {
	configHistory, err := TableExists(s.db, s.dialect, ConfigHistoryTable)
	if err != nil {
		return err
	}
	runHistory, err := TableExists(s.db, s.dialect, RunHistoryTable)
	if err != nil {
		return err
	}
	s.caps = models.StoreCapabilities{ConfigHistory: configHistory, RunHistory: runHistory}
	return nil
}

// Capabilities reports which optional audit tables were found at open.
func (s *Store) Capabilities() models.StoreCapabilities {
	return s.caps
}

// DB returns the underlying connection pool.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Dialect returns the SQL flavor of the store.
func (s *Store) Dialect() Dialect {
	return s.dialect
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) q(query string) string {
	return rebind(s.dialect, query)
}

func (s *Store) timestamp() time.Time {
	return s.now().UTC()
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func rollback(tx *sql.Tx) {
	_ = tx.Rollback()
}

func wrap(action string, err error) error {
	return fmt.Errorf("failed to %s: %w", action, err)
}


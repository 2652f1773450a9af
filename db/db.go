// ABOUTME: Database connection management and initialization
// ABOUTME: Opens SQLite (WAL) by default or Postgres when the DSN has a postgres scheme
package db

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Dialect is the SQL flavor of an open database.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// DialectForDSN picks the dialect from the DSN scheme. Anything that is not a
// postgres URL is treated as a SQLite file path.
func DialectForDSN(dsn string) Dialect {
	dsn = strings.TrimSpace(dsn)
	if !strings.Contains(dsn, "://") {
		return DialectSQLite
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return DialectSQLite
	}
	switch strings.ToLower(parsed.Scheme) {
	case "postgres", "postgresql":
		return DialectPostgres
	}
	return DialectSQLite
}

// OpenDatabase opens the database named by dsn and initializes the schema.
func OpenDatabase(dsn string) (*sql.DB, Dialect, error) {
	db, dialect, err := Connect(dsn)
	if err != nil {
		return nil, "", err
	}

	if err := InitSchema(db, dialect); err != nil {
		_ = db.Close()
		return nil, "", err
	}

	return db, dialect, nil
}

// Connect opens the database named by dsn without touching the schema.
func Connect(dsn string) (*sql.DB, Dialect, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, "", fmt.Errorf("database DSN is empty")
	}

	dialect := DialectForDSN(dsn)
	var (
		db  *sql.DB
		err error
	)
	switch dialect {
	case DialectPostgres:
		db, err = sql.Open("postgres", dsn)
		if err != nil {
			return nil, "", err
		}
		if err := db.Ping(); err != nil {
			_ = db.Close()
			return nil, "", fmt.Errorf("failed to connect to postgres: %w", err)
		}
	default:
		path := SQLitePath(dsn)
		// Ensure directory exists
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, "", err
		}

		db, err = sql.Open("sqlite3", path+"?_journal_mode=WAL")
		if err != nil {
			return nil, "", err
		}

		// Configure connection pool for SQLite (avoid database locked errors)
		db.SetMaxOpenConns(1)
	}

	return db, dialect, nil
}

// SQLitePath returns the file path of a SQLite DSN.
func SQLitePath(dsn string) string {
	return strings.TrimPrefix(strings.TrimSpace(dsn), "sqlite://")
}

// rebind rewrites ? placeholders to $n for postgres.
func rebind(dialect Dialect, query string) string {
	if dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

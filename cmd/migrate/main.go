// ABOUTME: Migration utility that adds the audit history tables to an existing database.
// ABOUTME: Provides dry-run and backup capabilities for safe schema migration.

package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/harperreed/rollupsync/cli"
	"github.com/harperreed/rollupsync/db"
	"go.uber.org/zap"
)

type options struct {
	dryRun bool
	backup bool
}

func main() {
	dsn := flag.String("db", "", "SQLite path or postgres:// URL (required)")
	dryRun := flag.Bool("dry-run", false, "Show what would happen without making changes")
	backup := flag.Bool("backup", true, "Create backup of a SQLite file before migration")
	verbose := flag.Bool("v", false, "Verbose logging")
	flag.Parse()

	logger, err := cli.NewLogger(*verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if *dsn == "" {
		logger.Fatal("-db flag is required")
	}

	if err := migrate(*dsn, options{dryRun: *dryRun, backup: *backup}, logger); err != nil {
		logger.Fatal("migration failed", zap.Error(err))
	}

	logger.Info("migration completed successfully")
}

func migrate(dsn string, opts options, logger *zap.Logger) error {
	dialect := db.DialectForDSN(dsn)
	if dialect == db.DialectSQLite {
		path := db.SQLitePath(dsn)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return fmt.Errorf("database file does not exist: %s", path)
		}
		if opts.backup && !opts.dryRun {
			backupPath, err := backupFile(path, time.Now())
			if err != nil {
				return err
			}
			logger.Info("backup created", zap.String("path", backupPath))
		}
	}

	database, dialect, err := db.Connect(dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = database.Close() }()

	missing := map[string]bool{}
	for _, table := range []string{"accounts", "rollup_configs", db.ConfigHistoryTable, db.RunHistoryTable} {
		exists, err := db.TableExists(database, dialect, table)
		if err != nil {
			return err
		}
		missing[table] = !exists
	}
	logger.Info("current schema",
		zap.String("dialect", string(dialect)),
		zap.Bool("core_tables", !missing["accounts"] && !missing["rollup_configs"]),
		zap.Bool("config_history", !missing[db.ConfigHistoryTable]),
		zap.Bool("run_history", !missing[db.RunHistoryTable]),
	)

	needCore := missing["accounts"] || missing["rollup_configs"]
	needHistory := missing[db.ConfigHistoryTable] || missing[db.RunHistoryTable]

	if opts.dryRun {
		if !needCore && !needHistory {
			logger.Info("[DRY RUN] schema is up to date, nothing to do")
			return nil
		}
		if needCore {
			logger.Info("[DRY RUN] would create tables: accounts, rollup_configs")
		}
		if needHistory {
			logger.Info("[DRY RUN] would create tables", zap.Strings("tables", []string{db.ConfigHistoryTable, db.RunHistoryTable}))
		}
		return nil
	}

	if needCore {
		if err := db.InitCoreSchema(database, dialect); err != nil {
			return err
		}
		logger.Info("core tables created")
	}
	if needHistory {
		if err := db.InitHistorySchema(database, dialect); err != nil {
			return err
		}
		logger.Info("history tables created")
	} else {
		logger.Info("history tables already exist, skipping creation")
	}
	return nil
}

func backupFile(path string, now time.Time) (string, error) {
	backupPath := fmt.Sprintf("%s.backup.%s", path, now.Format("20060102-150405"))
	input, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read database: %w", err)
	}
	if err := os.WriteFile(backupPath, input, 0600); err != nil {
		return "", fmt.Errorf("failed to create backup: %w", err)
	}
	return backupPath, nil
}

// ABOUTME: Root cobra command and shared wiring for every subcommand
// ABOUTME: Loads config, builds the zap logger, and lazily opens the store and engine
package cli

import (
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/harperreed/rollupsync/config"
	"github.com/harperreed/rollupsync/crm"
	"github.com/harperreed/rollupsync/db"
	"github.com/harperreed/rollupsync/rollup"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Database   string
	JobKey     string
	Verbose    bool
	JSON       bool
}

// App is the state shared by subcommands for one invocation.
type App struct {
	opts    *RootOptions
	version string
	out     io.Writer

	cfg    *config.Config
	logger *zap.Logger
	store  *db.Store
	engine *rollup.Engine
}

// NewRootCommand creates the root command for the rollupsync CLI.
func NewRootCommand(version string) *cobra.Command {
	opts := &RootOptions{}
	app := &App{opts: opts, version: version, out: os.Stdout}

	cmd := &cobra.Command{
		Use:           "rollupsync",
		Short:         "Roll up contacts from many CRM accounts into one",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			app.out = cmd.OutOrStdout()
			return app.init()
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return app.Close()
		},
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "config file (default: $XDG_CONFIG_HOME/rollupsync/config.yaml)")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "SQLite path or postgres:// URL (overrides config)")
	cmd.PersistentFlags().StringVar(&opts.JobKey, "job", "", "rollup job key (overrides config)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose logging")
	cmd.PersistentFlags().BoolVar(&opts.JSON, "json", false, "print results as JSON")

	cmd.AddCommand(newAccountsCommand(app))
	cmd.AddCommand(newConfigCommand(app))
	cmd.AddCommand(newSyncCommand(app))
	cmd.AddCommand(newWipeCommand(app))
	cmd.AddCommand(newHistoryCommand(app))
	cmd.AddCommand(newDaemonCommand(app))
	cmd.AddCommand(newMCPCommand(app))

	return cmd
}

func (a *App) init() error {
	cfg, err := config.Load(a.opts.ConfigPath)
	if err != nil {
		return err
	}
	if a.opts.Database != "" {
		cfg.Database = a.opts.Database
	}
	if a.opts.JobKey != "" {
		cfg.JobKey = a.opts.JobKey
	}
	a.cfg = cfg

	logger, err := NewLogger(a.opts.Verbose)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	a.logger = logger
	return nil
}

// Store opens the database on first use.
func (a *App) Store() (*db.Store, error) {
	if a.store != nil {
		return a.store, nil
	}
	store, err := db.Open(a.cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	a.logger.Debug("database opened",
		zap.String("dialect", string(store.Dialect())),
		zap.Bool("config_history", store.Capabilities().ConfigHistory),
		zap.Bool("run_history", store.Capabilities().RunHistory),
	)
	a.store = store
	return store, nil
}

// Engine builds the rollup engine over the store and the account registry.
func (a *App) Engine() (*rollup.Engine, error) {
	if a.engine != nil {
		return a.engine, nil
	}
	store, err := a.Store()
	if err != nil {
		return nil, err
	}
	a.engine = rollup.NewEngine(store, a.Registry(store),
		rollup.WithLimits(a.cfg.Limits),
		rollup.WithLogger(a.logger),
	)
	return a.engine, nil
}

// Registry resolves account keys to CRM adapters.
func (a *App) Registry(accounts crm.AccountLookup) *crm.Registry {
	opts := crm.RegistryOptions{
		HTTPClient: &http.Client{Timeout: a.cfg.HTTPTimeout},
		UserAgent:  a.cfg.UserAgent + "/" + a.version,
	}
	if a.cfg.GoogleConfigured() {
		opts.OAuthConfig = crm.NewOAuthConfig(a.cfg.Google.ClientID, a.cfg.Google.ClientSecret)
	}
	return crm.NewRegistry(accounts, opts)
}

// Close releases the store and flushes the logger.
func (a *App) Close() error {
	if a.logger != nil {
		_ = a.logger.Sync()
	}
	if a.store == nil {
		return nil
	}
	err := a.store.Close()
	a.store = nil
	a.engine = nil
	return err
}

func (a *App) jobKey() string {
	return a.cfg.JobKey
}

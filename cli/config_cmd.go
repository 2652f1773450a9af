// ABOUTME: Rollup job configuration CLI commands
// ABOUTME: Shows the sanitized config snapshot, edits fields, and lists config changes
package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/harperreed/rollupsync/db"
	"github.com/harperreed/rollupsync/models"
	"github.com/harperreed/rollupsync/rollup"
	"github.com/spf13/cobra"
)

func newConfigCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or change the rollup job configuration",
	}
	cmd.AddCommand(newConfigShowCommand(app))
	cmd.AddCommand(newConfigSetCommand(app))
	cmd.AddCommand(newConfigHistoryCommand(app))
	return cmd
}

func newConfigShowCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the job configuration and when it runs next",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			view, err := loadConfigView(cmd.Context(), app, time.Now())
			if err != nil {
				return err
			}
			return NewPrinter(app.out, app.opts.JSON).Config(view)
		},
	}
}

func loadConfigView(ctx context.Context, app *App, now time.Time) (ConfigView, error) {
	engine, err := app.Engine()
	if err != nil {
		return ConfigView{}, err
	}
	snap, err := engine.Configs().GetSnapshot(ctx, app.jobKey(), nil)
	if err != nil {
		return ConfigView{}, fmt.Errorf("failed to load rollup config: %w", err)
	}
	view := ConfigView{
		Config:       snap.Config,
		Persisted:    snap.Persisted,
		Targets:      accountKeys(snap.TargetOptions),
		Sources:      accountKeys(snap.SourceOptions),
		Capabilities: app.store.Capabilities(),
	}
	if snap.Config.Enabled {
		if next, mode := rollup.NextRun(snap.Config, now); !next.IsZero() {
			view.NextRun = &next
			view.NextRunMode = mode
		}
	}
	return view, nil
}

type configSetOptions struct {
	target         string
	sources        []string
	enabled        bool
	intervalHours  int
	minute         int
	fullSync       bool
	fullSyncHour   int
	fullSyncMinute int
	scrubEmails    bool
	scrubPhones    bool
	actor          string
}

func newConfigSetCommand(app *App) *cobra.Command {
	opts := &configSetOptions{}
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Change configuration fields; omitted flags keep their value",
		Long: `Change the rollup job configuration.

Only the flags you pass are changed. Account keys must name registered
accounts: the target must be a rollup target, sources must not be.

Example:
  rollupsync config set --target hq --sources east,west --enabled
  rollupsync config set --interval-hours 6 --minute 15
  rollupsync config set --full-sync --full-sync-hour 3`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigSet(cmd, app, opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.target, "target", "", "rollup target account key")
	f.StringSliceVar(&opts.sources, "sources", nil, "comma separated source account keys")
	f.BoolVar(&opts.enabled, "enabled", false, "enable scheduled runs")
	f.IntVar(&opts.intervalHours, "interval-hours", 0, "hours between incremental runs (1-24)")
	f.IntVar(&opts.minute, "minute", 0, "UTC minute of incremental runs (0-55)")
	f.BoolVar(&opts.fullSync, "full-sync", false, "enable the daily full sync")
	f.IntVar(&opts.fullSyncHour, "full-sync-hour", 0, "UTC hour of the daily full sync (0-23)")
	f.IntVar(&opts.fullSyncMinute, "full-sync-minute", 0, "UTC minute of the daily full sync (0-55)")
	f.BoolVar(&opts.scrubEmails, "scrub-emails", false, "discard invalid-format emails before upsert")
	f.BoolVar(&opts.scrubPhones, "scrub-phones", false, "discard invalid-format phones before upsert")
	f.StringVar(&opts.actor, "actor", "", "email recorded in the config history (default: $USER)")
	return cmd
}

func runConfigSet(cmd *cobra.Command, app *App, opts *configSetOptions) error {
	ctx := cmd.Context()
	engine, err := app.Engine()
	if err != nil {
		return err
	}
	configs := engine.Configs()
	snap, err := configs.GetSnapshot(ctx, app.jobKey(), nil)
	if err != nil {
		return fmt.Errorf("failed to load rollup config: %w", err)
	}

	changed := cmd.Flags().Changed
	edit := rollup.InputFromConfig(snap.Config)
	if changed("target") {
		if !containsKey(snap.TargetOptions, opts.target) {
			return fmt.Errorf("%s is not a rollup target account", opts.target)
		}
		edit.TargetAccountKey = opts.target
	}
	if changed("sources") {
		sources := make([]string, 0, len(opts.sources))
		for _, key := range opts.sources {
			key = strings.TrimSpace(key)
			if key == "" {
				continue
			}
			if !containsKey(snap.SourceOptions, key) {
				return fmt.Errorf("%s is not a source account", key)
			}
			sources = append(sources, key)
		}
		edit.SourceAccountKeys = sources
	}
	if changed("enabled") {
		edit.Enabled = opts.enabled
	}
	if changed("interval-hours") {
		edit.ScheduleIntervalHours = opts.intervalHours
	}
	if changed("minute") {
		edit.ScheduleMinuteUTC = opts.minute
	}
	if changed("full-sync") {
		edit.FullSyncEnabled = opts.fullSync
	}
	if changed("full-sync-hour") {
		edit.FullSyncHourUTC = opts.fullSyncHour
	}
	if changed("full-sync-minute") {
		edit.FullSyncMinuteUTC = opts.fullSyncMinute
	}
	if changed("scrub-emails") {
		edit.ScrubInvalidEmails = opts.scrubEmails
	}
	if changed("scrub-phones") {
		edit.ScrubInvalidPhones = opts.scrubPhones
	}

	actor := models.Actor{Email: opts.actor}
	if actor.Email == "" {
		actor.UserID = currentUser()
	}
	_, fields, err := configs.UpsertConfig(ctx, app.jobKey(), edit, actor)
	if err != nil {
		return err
	}

	if len(fields) == 0 {
		fmt.Fprintln(app.out, "→ No changes")
	} else {
		fmt.Fprintf(app.out, "✓ Updated %s\n", strings.Join(fields, ", "))
	}

	view, err := loadConfigView(ctx, app, time.Now())
	if err != nil {
		return err
	}
	return NewPrinter(app.out, app.opts.JSON).Config(view)
}

func newConfigHistoryCommand(app *App) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent configuration changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := app.Store()
			if err != nil {
				return err
			}
			changes, err := store.ListConfigHistory(cmd.Context(), app.jobKey(), limit)
			if err != nil {
				return err
			}
			return NewPrinter(app.out, app.opts.JSON).ConfigChanges(changes, store.Capabilities().ConfigHistory)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", db.DefaultHistoryLimit, "maximum number of changes")
	return cmd
}

func accountKeys(accounts []models.Account) []string {
	keys := make([]string, 0, len(accounts))
	for _, a := range accounts {
		keys = append(keys, a.Key)
	}
	return keys
}

func containsKey(accounts []models.Account, key string) bool {
	for _, a := range accounts {
		if a.Key == key {
			return true
		}
	}
	return false
}

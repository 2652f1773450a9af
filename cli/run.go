// ABOUTME: Manual sync and wipe CLI commands
// ABOUTME: Runs one rollup invocation, prints the result, and fails the process on a failed run
package cli

import (
	"fmt"
	"os"
	"os/user"

	"github.com/harperreed/rollupsync/db"
	"github.com/harperreed/rollupsync/models"
	"github.com/harperreed/rollupsync/rollup"
	"github.com/spf13/cobra"
)

func newSyncCommand(app *App) *cobra.Command {
	var (
		dryRun          bool
		fullSync        bool
		enforceSchedule bool
	)
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Collect, dedupe, and upsert contacts into the rollup target",
		Long: `Run one rollup sync.

Without --full the sync is incremental: only contacts changed since the
last interval (plus a grace hour) are collected. With --enforce-schedule
the sync only runs when the job's schedule selects the current minute,
which is what the daemon does every minute.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := app.Engine()
			if err != nil {
				return err
			}
			result := engine.RunSync(cmd.Context(), rollup.SyncOptions{
				JobKey:          app.jobKey(),
				DryRun:          dryRun,
				FullSync:        fullSync,
				EnforceSchedule: enforceSchedule,
				Trigger:         manualTrigger(),
			})
			return printRun(app, result)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "read and dedupe without writing to the target")
	cmd.Flags().BoolVar(&fullSync, "full", false, "sync every contact instead of the incremental window")
	cmd.Flags().BoolVar(&enforceSchedule, "enforce-schedule", false, "only run when the schedule selects this minute")
	return cmd
}

func newWipeCommand(app *App) *cobra.Command {
	var (
		mode   string
		dryRun bool
		yes    bool
	)
	cmd := &cobra.Command{
		Use:   "wipe",
		Short: "Delete rollup contacts from the target account",
		Long: `Delete contacts from the rollup target account.

The default mode "tagged" only deletes contacts carrying the rollup marker
tag or a source account tag. Mode "all" deletes every contact in the
target. A real wipe requires --yes; use --dry-run to see what would go.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			wipeMode, err := models.ParseWipeMode(mode)
			if err != nil {
				return err
			}
			if !dryRun && !yes {
				return fmt.Errorf("refusing to delete contacts without --yes (or use --dry-run)")
			}
			engine, err := app.Engine()
			if err != nil {
				return err
			}
			result := engine.RunWipe(cmd.Context(), rollup.WipeOptions{
				JobKey:  app.jobKey(),
				Mode:    wipeMode,
				DryRun:  dryRun,
				Trigger: manualTrigger(),
			})
			return printRun(app, result)
		},
	}
	cmd.Flags().StringVar(&mode, "mode", string(models.WipeModeTagged), "which contacts to delete: tagged or all")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "count eligible contacts without deleting")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm deleting contacts")
	return cmd
}

func newHistoryCommand(app *App) *cobra.Command {
	var (
		limit   int
		allJobs bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent sync and wipe runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := app.Store()
			if err != nil {
				return err
			}
			jobKey := app.jobKey()
			if allJobs {
				jobKey = ""
			}
			runs, err := store.ListRunHistory(cmd.Context(), jobKey, limit)
			if err != nil {
				return err
			}
			return NewPrinter(app.out, app.opts.JSON).Runs(runs, store.Capabilities().RunHistory)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", db.DefaultHistoryLimit, "maximum number of runs")
	cmd.Flags().BoolVar(&allJobs, "all", false, "include runs of every job")
	return cmd
}

func printRun(app *App, result models.RunResult) error {
	if err := NewPrinter(app.out, app.opts.JSON).Run(result); err != nil {
		return err
	}
	if result.Status == models.RunStatusFailed {
		return fmt.Errorf("rollup %s %s failed", result.Kind, result.RunID)
	}
	return nil
}

func manualTrigger() models.Trigger {
	return models.Trigger{Source: models.TriggerManual, UserID: currentUser()}
}

func currentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return os.Getenv("USER")
}

// ABOUTME: Scheduler daemon that asks the engine to run every minute
// ABOUTME: Each tick is a schedule-enforced sync; the engine decides whether the minute is due
package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/harperreed/rollupsync/models"
	"github.com/harperreed/rollupsync/rollup"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type syncRunner interface {
	RunSync(ctx context.Context, opts rollup.SyncOptions) models.RunResult
}

func newDaemonCommand(app *App) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run scheduled syncs until interrupted",
		Long: `Run the rollup scheduler in the foreground.

Every minute the daemon triggers a schedule-enforced sync. Minutes the
schedule does not select are recorded as skipped runs. Stop it with
Ctrl+C or SIGTERM; an in-flight run is cancelled.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := app.Engine()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			log := app.logger.With(zap.String("job", app.jobKey()))
			log.Info("rollup daemon started", zap.Duration("run_timeout", timeout))
			runDaemon(ctx, engine, app.jobKey(), minuteTicks(ctx), timeout, func(r models.RunResult) {
				if r.Skipped {
					log.Debug("rollup tick skipped", zap.String("run_id", r.RunID), zap.String("status", string(r.Status)))
					return
				}
				fields := []zap.Field{
					zap.String("run_id", r.RunID),
					zap.String("status", string(r.Status)),
					zap.String("mode", string(r.Mode)),
					zap.Int("errors", r.ErrorCount()),
				}
				if r.Sync != nil {
					fields = append(fields,
						zap.Int("unique_contacts", r.Sync.UniqueContacts),
						zap.Int("upserts_succeeded", r.Sync.UpsertsSucceeded),
						zap.Int("upserts_failed", r.Sync.UpsertsFailed),
					)
				}
				if r.Status == models.RunStatusFailed {
					log.Warn("rollup run failed", fields...)
					return
				}
				log.Info("rollup run finished", fields...)
			})
			log.Info("rollup daemon stopped")
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "run-timeout", 50*time.Minute, "maximum duration of one scheduled run")
	return cmd
}

// runDaemon triggers one schedule-enforced sync per tick until ctx is done or
// ticks is closed. Ticks that arrive while a run is in flight are dropped.
func runDaemon(ctx context.Context, runner syncRunner, jobKey string, ticks <-chan time.Time, timeout time.Duration, onResult func(models.RunResult)) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-ticks:
			if !ok {
				return
			}
			var (
				runCtx context.Context
				cancel context.CancelFunc
			)
			if timeout > 0 {
				runCtx, cancel = context.WithTimeout(ctx, timeout)
			} else {
				runCtx, cancel = context.WithCancel(ctx)
			}
			result := runner.RunSync(runCtx, rollup.SyncOptions{
				JobKey:          jobKey,
				EnforceSchedule: true,
				Trigger:         models.Trigger{Source: models.TriggerCron},
			})
			cancel()
			if onResult != nil {
				onResult(result)
			}
		}
	}
}

// minuteTicks delivers a tick at the start of every wall-clock minute.
func minuteTicks(ctx context.Context) <-chan time.Time {
	ticks := make(chan time.Time)
	go func() {
		defer close(ticks)
		timer := time.NewTimer(untilNextMinute(time.Now()))
		defer timer.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case t := <-timer.C:
				select {
				case ticks <- t:
				default:
				}
				timer.Reset(untilNextMinute(time.Now()))
			}
		}
	}()
	return ticks
}

func untilNextMinute(now time.Time) time.Duration {
	return now.Truncate(time.Minute).Add(time.Minute).Sub(now)
}

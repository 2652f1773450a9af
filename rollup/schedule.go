// ABOUTME: Sync-mode scheduling for rollup jobs
// ABOUTME: Pure functions of config and a UTC timestamp deciding skip, incremental, or full
package rollup

import (
	"time"

	"github.com/harperreed/rollupsync/models"
)

// ResolveMode decides what an invocation at now should do. A full sync slot
// wins over an incremental slot falling on the same minute.
func ResolveMode(cfg models.RollupConfig, now time.Time) models.SyncMode {
	now = now.UTC()
	hour, minute := now.Hour(), now.Minute()

	if cfg.FullSyncEnabled && hour == cfg.FullSyncHourUTC && minute == cfg.FullSyncMinuteUTC {
		return models.SyncModeFull
	}

	interval := cfg.ScheduleIntervalHours
	if interval < models.MinScheduleIntervalHours {
		interval = models.MinScheduleIntervalHours
	}
	if minute == cfg.ScheduleMinuteUTC && hour%interval == 0 {
		return models.SyncModeIncremental
	}

	return models.SyncModeSkip
}

// NextRun returns the first minute strictly after after at which ResolveMode
// would not skip, and the mode it would pick. Both schedules repeat daily, so
// the search never looks further than one day ahead.
func NextRun(cfg models.RollupConfig, after time.Time) (time.Time, models.SyncMode) {
	t := after.UTC().Truncate(time.Minute).Add(time.Minute)
	end := t.Add(24 * time.Hour)
	for ; t.Before(end); t = t.Add(time.Minute) {
		if mode := ResolveMode(cfg, t); mode != models.SyncModeSkip {
			return t, mode
		}
	}
	return time.Time{}, models.SyncModeSkip
}

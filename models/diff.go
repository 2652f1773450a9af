// ABOUTME: Field-level diff between two rollup configurations
// ABOUTME: Used to build minimal changed-field lists for config history
package models

import "sort"

// DiffConfig lists the user editable fields that differ between prev and next.
// A nil prev means every field is new. Audit and last-run fields are ignored.
func DiffConfig(prev *RollupConfig, next RollupConfig) []string {
	if prev == nil {
		prev = &RollupConfig{}
	}

	var changed []string
	if prev.TargetAccountKey != next.TargetAccountKey {
		changed = append(changed, "target_account_key")
	}
	if !sameSet(prev.SourceAccountKeys, next.SourceAccountKeys) {
		changed = append(changed, "source_account_keys")
	}
	if prev.Enabled != next.Enabled {
		changed = append(changed, "enabled")
	}
	if prev.ScheduleIntervalHours != next.ScheduleIntervalHours {
		changed = append(changed, "schedule_interval_hours")
	}
	if prev.ScheduleMinuteUTC != next.ScheduleMinuteUTC {
		changed = append(changed, "schedule_minute_utc")
	}
	if prev.FullSyncEnabled != next.FullSyncEnabled {
		changed = append(changed, "full_sync_enabled")
	}
	if prev.FullSyncHourUTC != next.FullSyncHourUTC {
		changed = append(changed, "full_sync_hour_utc")
	}
	if prev.FullSyncMinuteUTC != next.FullSyncMinuteUTC {
		changed = append(changed, "full_sync_minute_utc")
	}
	if prev.ScrubInvalidEmails != next.ScrubInvalidEmails {
		changed = append(changed, "scrub_invalid_emails")
	}
	if prev.ScrubInvalidPhones != next.ScrubInvalidPhones {
		changed = append(changed, "scrub_invalid_phones")
	}
	return changed
}

func sameSet(a, b []string) bool {
	a = UnionStrings(nil, a)
	b = UnionStrings(nil, b)
	if len(a) != len(b) {
		return false
	}
	sort.Strings(a)
	sort.Strings(b)
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

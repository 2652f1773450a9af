// ABOUTME: Cross-source deduplication of prepared contacts
// ABOUTME: Merges by dedupe key in encounter order and truncates to the per-run upsert cap
package rollup

import "github.com/harperreed/rollupsync/models"

// DedupeResult is the merged contact set of a sync run.
type DedupeResult struct {
	Contacts                  []models.PreparedContact
	Unique                    int
	GlobalDuplicatesCollapsed int
	TruncatedByMaxUpserts     int
}

// DedupeGlobal merges contacts sharing a dedupe key, then keeps the first
// maxUpserts by arrival order. The input is not modified.
func DedupeGlobal(contacts []models.PreparedContact, maxUpserts int) DedupeResult {
	var result DedupeResult

	byKey := make(map[string]int, len(contacts))
	merged := make([]models.PreparedContact, 0, len(contacts))
	for _, pc := range contacts {
		if i, ok := byKey[pc.DedupeKey]; ok {
			merged[i].Merge(pc)
			result.GlobalDuplicatesCollapsed++
			continue
		}
		byKey[pc.DedupeKey] = len(merged)
		merged = append(merged, pc.Clone())
	}

	result.Unique = len(merged)
	if maxUpserts >= 0 && len(merged) > maxUpserts {
		result.TruncatedByMaxUpserts = len(merged) - maxUpserts
		merged = merged[:maxUpserts]
	}
	result.Contacts = merged
	return result
}

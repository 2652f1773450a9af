// ABOUTME: Wipe of target contacts created by rollup runs
// ABOUTME: Lists, filters by mode, caps, and deletes through the TargetWriter
package rollup

import (
	"context"
	"strings"

	"github.com/harperreed/rollupsync/models"
	"go.uber.org/zap"
)

// WipeOutcome is the result of one WipeEngine run.
type WipeOutcome struct {
	Totals    models.WipeTotals
	Breakdown models.WipeBreakdown
	// Failures holds delete errors in the order the deletes were queued.
	Failures []error
}

// WipeEngine deletes eligible contacts from the target account.
type WipeEngine struct {
	limits Limits
	logger *zap.Logger
}

// NewWipeEngine creates a wipe engine bounded by limits.
func NewWipeEngine(limits Limits, logger *zap.Logger) *WipeEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WipeEngine{limits: limits.Clamp(), logger: logger}
}

// Run lists target contacts, keeps the ones mode selects, and deletes them
// unless dryRun is set. A listing failure is returned as a *FetchError.
func (e *WipeEngine) Run(ctx context.Context, targetKey string, target TargetAPI, writer *TargetWriter, mode models.WipeMode, dryRun bool) (WipeOutcome, error) {
	outcome := WipeOutcome{Breakdown: models.WipeBreakdown{Mode: mode}}

	fetched, err := fetchAllContacts(ctx, target, pageOptions{
		AccountKey: targetKey,
		PageSize:   e.limits.PageSize,
		MaxRecords: e.limits.MaxWipeListContacts,
	})
	outcome.Totals.Listed = fetched.Raw
	if err != nil {
		return outcome, err
	}

	var eligible []string
	seen := make(map[string]struct{}, len(fetched.Records))
	for _, raw := range fetched.Records {
		id := raw.RecordID()
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		contact := target.NormalizeContact(raw)
		marker, source := e.classify(contact.Tags)
		switch {
		case marker:
			outcome.Breakdown.MarkerTagged++
		case source:
			outcome.Breakdown.SourceTagged++
		default:
			outcome.Breakdown.Untagged++
		}

		if mode == models.WipeModeAll || marker || source {
			eligible = append(eligible, id)
		}
	}
	outcome.Totals.UniqueListed = len(seen)
	outcome.Totals.EligibleContacts = len(eligible)

	if len(eligible) > e.limits.MaxDeletes {
		outcome.Totals.TruncatedByMax = len(eligible) - e.limits.MaxDeletes
		eligible = eligible[:e.limits.MaxDeletes]
	}
	outcome.Totals.QueuedForDelete = len(eligible)

	if dryRun {
		return outcome, nil
	}

	tasks := make([]func(context.Context) (struct{}, error), len(eligible))
	for i, id := range eligible {
		tasks[i] = func(ctx context.Context) (struct{}, error) {
			return struct{}{}, writer.Delete(ctx, id)
		}
	}
	for _, res := range RunBounded(ctx, e.limits.WriteConcurrency, tasks) {
		outcome.Totals.DeletesAttempted++
		if res.Err != nil {
			outcome.Totals.DeletesFailed++
			outcome.Failures = append(outcome.Failures, res.Err)
			continue
		}
		outcome.Totals.DeletesSucceeded++
	}

	e.logger.Info("wipe finished",
		zap.String("target", targetKey),
		zap.String("mode", string(mode)),
		zap.Int("succeeded", outcome.Totals.DeletesSucceeded),
		zap.Int("failed", outcome.Totals.DeletesFailed),
	)
	return outcome, nil
}

// classify reports whether tags carry the marker tag or any source tag.
func (e *WipeEngine) classify(tags []string) (marker, source bool) {
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if strings.EqualFold(tag, e.limits.MarkerTag) {
			marker = true
		}
		if len(tag) > len(SourceTagPrefix) && strings.EqualFold(tag[:len(SourceTagPrefix)], SourceTagPrefix) {
			source = true
		}
	}
	return marker, source
}

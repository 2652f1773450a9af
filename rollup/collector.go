// ABOUTME: Per-source collection: fetch, normalize, window, validate, and locally dedupe
// ABOUTME: Every failure is caught at the source boundary and reported in the outcome
package rollup

import (
	"context"
	"fmt"
	"time"

	"github.com/harperreed/rollupsync/models"
	"go.uber.org/zap"
)

// SourceOutcome is what one source contributes to a sync run.
type SourceOutcome struct {
	AccountKey string
	Prepared   []models.PreparedContact
	Stats      models.SourceSyncStats
	Err        error
}

// SourceCollector collects prepared contacts from one source account at a time.
type SourceCollector struct {
	resolver AdapterResolver
	limits   Limits
	logger   *zap.Logger
}

// NewSourceCollector creates a collector that resolves adapters through resolver.
func NewSourceCollector(resolver AdapterResolver, limits Limits, logger *zap.Logger) *SourceCollector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SourceCollector{resolver: resolver, limits: limits.Clamp(), logger: logger}
}

// CollectRequest carries the run-scoped inputs for one source.
type CollectRequest struct {
	AccountKey string
	Config     models.RollupConfig
	Full       bool
	Now        time.Time
}

// Collect runs the whole per-source pipeline. It never returns an error
// directly; failures are reported in SourceOutcome.Err.
func (c *SourceCollector) Collect(ctx context.Context, req CollectRequest) (outcome SourceOutcome) {
	outcome.AccountKey = req.AccountKey
	log := c.logger.With(zap.String("source", req.AccountKey))

	defer func() {
		if r := recover(); r != nil {
			outcome.Prepared = nil
			outcome.Err = fmt.Errorf("account %s: collector panicked: %v", req.AccountKey, r)
		}
		if outcome.Err != nil {
			outcome.Stats.Error = outcome.Err.Error()
			log.Warn("source collection failed", zap.Error(outcome.Err))
		}
	}()

	adapter, err := c.resolver.Resolve(ctx, req.AccountKey)
	if err != nil {
		outcome.Err = &CredentialError{AccountKey: req.AccountKey, Err: err}
		return outcome
	}

	fetched, err := fetchAllContacts(ctx, adapter, pageOptions{
		AccountKey: req.AccountKey,
		PageSize:   c.limits.PageSize,
		MaxRecords: c.limits.MaxSourceContactsPerAccount,
	})
	outcome.Stats.Fetched = len(fetched.Records)
	if err != nil {
		outcome.Err = err
		return outcome
	}
	if fetched.UsedSearch {
		log.Info("primary listing rejected first page, used search endpoint")
	}

	canonical := make([]models.CanonicalContact, 0, len(fetched.Records))
	for _, raw := range fetched.Records {
		canonical = append(canonical, adapter.NormalizeContact(raw))
	}

	if !req.Full {
		canonical = withinWindow(canonical, incrementalCutoff(req.Config, req.Now, c.limits))
	}
	outcome.Stats.Considered = len(canonical)

	outcome.Prepared, outcome.Stats = c.prepare(req, canonical, outcome.Stats)

	log.Debug("source collected",
		zap.Int("fetched", outcome.Stats.Fetched),
		zap.Int("considered", outcome.Stats.Considered),
		zap.Int("accepted", outcome.Stats.Accepted),
		zap.Int("skipped_invalid", outcome.Stats.SkippedInvalid),
		zap.Int("local_duplicates", outcome.Stats.LocalDuplicatesCollapsed),
	)
	return outcome
}

// prepare validates identifiers and merges same-source duplicates.
func (c *SourceCollector) prepare(req CollectRequest, contacts []models.CanonicalContact, stats models.SourceSyncStats) ([]models.PreparedContact, models.SourceSyncStats) {
	byKey := make(map[string]int)
	var prepared []models.PreparedContact

	for _, cc := range contacts {
		id := resolveIdentity(cc.Email, cc.Phone, req.Config.ScrubInvalidEmails, req.Config.ScrubInvalidPhones, c.limits.DefaultPhoneRegion)
		if id.DedupeKey == "" {
			stats.SkippedInvalid++
			continue
		}

		pc := models.PreparedContact{
			DedupeKey:         id.DedupeKey,
			FirstName:         cc.FirstName,
			LastName:          cc.LastName,
			Name:              cc.Name,
			Email:             id.Email,
			Phone:             id.Phone,
			Tags:              models.UnionStrings(nil, cc.Tags),
			SourceAccountKeys: []string{req.AccountKey},
		}

		if i, ok := byKey[pc.DedupeKey]; ok {
			prepared[i].Merge(pc)
			stats.LocalDuplicatesCollapsed++
			continue
		}
		byKey[pc.DedupeKey] = len(prepared)
		prepared = append(prepared, pc)
	}

	stats.Accepted = len(prepared)
	return prepared, stats
}

// incrementalCutoff is the oldest "added" time an incremental run accepts.
func incrementalCutoff(cfg models.RollupConfig, now time.Time, limits Limits) time.Time {
	interval := cfg.ScheduleIntervalHours
	if interval < models.MinScheduleIntervalHours {
		interval = models.MinScheduleIntervalHours
	}
	return now.Add(-(time.Duration(interval)*time.Hour + limits.LookbackGrace))
}

// withinWindow drops contacts whose added time is missing or before cutoff.
func withinWindow(contacts []models.CanonicalContact, cutoff time.Time) []models.CanonicalContact {
	kept := contacts[:0]
	for _, cc := range contacts {
		if cc.AddedAt == nil || cc.AddedAt.Before(cutoff) {
			continue
		}
		kept = append(kept, cc)
	}
	return kept
}

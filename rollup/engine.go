// ABOUTME: Orchestrates rollup sync and wipe invocations end to end
// ABOUTME: Each call is one bounded batch job that always returns a RunResult
package rollup

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/harperreed/rollupsync/models"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

// Engine runs rollup jobs against a store and a set of CRM adapters.
type Engine struct {
	store     Store
	configs   *ConfigStore
	resolver  AdapterResolver
	collector *SourceCollector
	wiper     *WipeEngine
	recorder  *RunRecorder
	limits    Limits
	logger    *zap.Logger
	now       func() time.Time

	idMu    sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// Option configures an Engine.
type Option func(*Engine)

// WithLimits overrides the default limits.
func WithLimits(limits Limits) Option {
	return func(e *Engine) { e.limits = limits.Clamp() }
}

// WithLogger sets the structured logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine wires the engine components together.
func NewEngine(store Store, resolver AdapterResolver, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		resolver: resolver,
		limits:   DefaultLimits(),
		logger:   zap.NewNop(),
		now:      time.Now,
		entropy:  ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.configs = NewConfigStore(store)
	e.collector = NewSourceCollector(resolver, e.limits, e.logger)
	e.wiper = NewWipeEngine(e.limits, e.logger)
	e.recorder = NewRunRecorder(store, e.logger)
	return e
}

// Configs exposes the config store used by the engine.
func (e *Engine) Configs() *ConfigStore {
	return e.configs
}

// SyncOptions are supplied by whatever triggered a sync.
type SyncOptions struct {
	JobKey          string
	DryRun          bool
	FullSync        bool
	EnforceSchedule bool
	Trigger         models.Trigger
	AccountFilter   AccountFilter
}

// WipeOptions are supplied by whatever triggered a wipe.
type WipeOptions struct {
	JobKey        string
	Mode          models.WipeMode
	DryRun        bool
	Trigger       models.Trigger
	AccountFilter AccountFilter
}

// RunSync collects every source, dedupes, and upserts into the target.
func (e *Engine) RunSync(ctx context.Context, opts SyncOptions) models.RunResult {
	result := e.newResult(models.RunKindSync, opts.JobKey, opts.DryRun, opts.Trigger)
	result.Sync = &models.SyncTotals{}
	log := e.logger.With(zap.String("job", result.JobKey), zap.String("run_id", result.RunID))

	snap, err := e.configs.GetSnapshot(ctx, result.JobKey, opts.AccountFilter)
	if err != nil {
		return e.fail(ctx, models.RollupConfig{JobKey: result.JobKey}, result, models.ErrorCategoryConfig, err)
	}
	cfg := snap.Config

	if opts.EnforceSchedule && !cfg.Enabled {
		result.Status = models.RunStatusDisabled
		result.Mode = models.SyncModeSkip
		result.Skipped = true
		return e.finish(ctx, cfg, result)
	}

	switch {
	case opts.EnforceSchedule:
		result.Mode = ResolveMode(cfg, result.StartedAt)
	case opts.FullSync:
		result.Mode = models.SyncModeFull
	default:
		result.Mode = models.SyncModeIncremental
	}
	if result.Mode == models.SyncModeSkip {
		result.Skipped = true
		return e.finish(ctx, cfg, result)
	}

	target, err := e.resolveTarget(ctx, cfg)
	if err != nil {
		return e.fail(ctx, cfg, result, models.ErrorCategoryTarget, err)
	}

	log.Info("rollup sync starting",
		zap.String("mode", string(result.Mode)),
		zap.String("target", cfg.TargetAccountKey),
		zap.Int("sources", len(cfg.SourceAccountKeys)),
		zap.Bool("dry_run", opts.DryRun),
	)

	full := result.Mode == models.SyncModeFull
	tasks := make([]func(context.Context) (SourceOutcome, error), len(cfg.SourceAccountKeys))
	for i, key := range cfg.SourceAccountKeys {
		tasks[i] = func(ctx context.Context) (SourceOutcome, error) {
			out := e.collector.Collect(ctx, CollectRequest{AccountKey: key, Config: cfg, Full: full, Now: result.StartedAt})
			return out, out.Err
		}
	}

	result.PerSource = make(map[string]models.SourceSyncStats, len(tasks))
	var prepared []models.PreparedContact
	for i, res := range RunBounded(ctx, e.limits.SourceConcurrency, tasks) {
		key := cfg.SourceAccountKeys[i]
		out := res.Value
		if res.Err != nil && out.AccountKey == "" {
			out = SourceOutcome{AccountKey: key, Err: res.Err}
			out.Stats.Error = res.Err.Error()
		}

		totals := result.Sync
		totals.Sources++
		totals.Fetched += out.Stats.Fetched
		totals.Considered += out.Stats.Considered
		totals.Accepted += out.Stats.Accepted
		totals.SkippedInvalid += out.Stats.SkippedInvalid
		totals.LocalDuplicatesCollapsed += out.Stats.LocalDuplicatesCollapsed
		result.PerSource[key] = out.Stats

		if out.Err != nil {
			totals.SourcesFailed++
			result.AddError(models.ErrorCategorySources, out.Err.Error())
			continue
		}
		prepared = append(prepared, out.Prepared...)
	}

	deduped := DedupeGlobal(prepared, e.limits.MaxUpserts)
	result.Sync.GlobalDuplicatesCollapsed = deduped.GlobalDuplicatesCollapsed
	result.Sync.UniqueContacts = deduped.Unique
	result.Sync.QueuedForTarget = len(deduped.Contacts)
	result.Sync.TruncatedByMaxUpserts = deduped.TruncatedByMaxUpserts

	if !opts.DryRun {
		e.upsertAll(ctx, target, deduped.Contacts, &result)
	}

	log.Info("rollup sync finished",
		zap.Int("unique", result.Sync.UniqueContacts),
		zap.Int("queued", result.Sync.QueuedForTarget),
		zap.Int("upserted", result.Sync.UpsertsSucceeded),
		zap.Int("failed", result.Sync.UpsertsFailed),
		zap.Int("sources_failed", result.Sync.SourcesFailed),
	)
	return e.finish(ctx, cfg, result)
}

func (e *Engine) upsertAll(ctx context.Context, target TargetAPI, contacts []models.PreparedContact, result *models.RunResult) {
	writer := NewTargetWriter(target, NewRetryPolicy(e.limits), e.limits)

	tasks := make([]func(context.Context) (struct{}, error), len(contacts))
	for i, pc := range contacts {
		tasks[i] = func(ctx context.Context) (struct{}, error) {
			return struct{}{}, writer.Upsert(ctx, pc)
		}
	}
	for _, res := range RunBounded(ctx, e.limits.WriteConcurrency, tasks) {
		result.Sync.UpsertsAttempted++
		if res.Err != nil {
			result.Sync.UpsertsFailed++
			result.AddError(models.ErrorCategoryUpserts, res.Err.Error())
			continue
		}
		result.Sync.UpsertsSucceeded++
	}
}

// RunWipe deletes eligible contacts from the job's target account.
func (e *Engine) RunWipe(ctx context.Context, opts WipeOptions) models.RunResult {
	result := e.newResult(models.RunKindWipe, opts.JobKey, opts.DryRun, opts.Trigger)
	result.Wipe = &models.WipeTotals{}

	mode := opts.Mode
	if mode == "" {
		mode = models.WipeModeTagged
	}
	result.Filter = &models.WipeBreakdown{Mode: mode}

	snap, err := e.configs.GetSnapshot(ctx, result.JobKey, opts.AccountFilter)
	if err != nil {
		return e.fail(ctx, models.RollupConfig{JobKey: result.JobKey}, result, models.ErrorCategoryConfig, err)
	}
	cfg := snap.Config

	if mode != models.WipeModeAll && mode != models.WipeModeTagged {
		return e.fail(ctx, cfg, result, models.ErrorCategoryConfig, &ConfigError{Reason: fmt.Sprintf("invalid wipe mode %q", mode)})
	}

	target, err := e.resolveTarget(ctx, cfg)
	if err != nil {
		return e.fail(ctx, cfg, result, models.ErrorCategoryTarget, err)
	}

	writer := NewTargetWriter(target, NewRetryPolicy(e.limits), e.limits)
	outcome, err := e.wiper.Run(ctx, cfg.TargetAccountKey, target, writer, mode, opts.DryRun)
	*result.Wipe = outcome.Totals
	*result.Filter = outcome.Breakdown
	if err != nil {
		return e.fail(ctx, cfg, result, models.ErrorCategoryTarget, err)
	}
	for _, failure := range outcome.Failures {
		result.AddError(models.ErrorCategoryDeletes, failure.Error())
	}

	return e.finish(ctx, cfg, result)
}

// resolveTarget checks the whole-run preconditions on the target account.
func (e *Engine) resolveTarget(ctx context.Context, cfg models.RollupConfig) (TargetAPI, error) {
	if cfg.TargetAccountKey == "" {
		return nil, &ConfigError{Reason: "no rollup target account configured"}
	}
	adapter, err := e.resolver.Resolve(ctx, cfg.TargetAccountKey)
	if err != nil {
		return nil, &CredentialError{AccountKey: cfg.TargetAccountKey, Err: err}
	}
	target, ok := adapter.(TargetAPI)
	if !ok {
		return nil, &UnsupportedProviderError{AccountKey: cfg.TargetAccountKey}
	}
	return target, nil
}

func (e *Engine) newResult(kind models.RunKind, jobKey string, dryRun bool, trigger models.Trigger) models.RunResult {
	if jobKey == "" {
		jobKey = models.DefaultJobKey
	}
	if trigger.Source == "" {
		trigger.Source = models.TriggerManual
	}
	now := e.now().UTC()
	return models.RunResult{
		RunID:     e.newRunID(now),
		JobKey:    jobKey,
		Kind:      kind,
		Status:    models.RunStatusOK,
		DryRun:    dryRun,
		Trigger:   trigger,
		StartedAt: now,
	}
}

func (e *Engine) newRunID(now time.Time) string {
	e.idMu.Lock()
	defer e.idMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(now), e.entropy).String()
}

func (e *Engine) fail(ctx context.Context, cfg models.RollupConfig, result models.RunResult, category string, err error) models.RunResult {
	result.Status = models.RunStatusFailed
	result.AddError(category, err.Error())
	e.logger.Warn("rollup run failed",
		zap.String("job", result.JobKey),
		zap.String("run_id", result.RunID),
		zap.String("kind", string(result.Kind)),
		zap.Error(err),
	)
	return e.finish(ctx, cfg, result)
}

func (e *Engine) finish(ctx context.Context, cfg models.RollupConfig, result models.RunResult) models.RunResult {
	result.FinishedAt = e.now().UTC()
	e.recorder.Record(ctx, cfg, result)
	return result
}

package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/custodia-labs/cashsync/internal/core/domain"
	"github.com/custodia-labs/cashsync/internal/core/ports/driven"
	"github.com/custodia-labs/cashsync/internal/core/ports/driving"
	"github.com/custodia-labs/cashsync/internal/logger"
)

// Ensure SyncOrchestrator implements the interface.
var _ driving.SyncService = (*SyncOrchestrator)(nil)

// SyncCompletionHook is called after a sync run completes successfully.
type SyncCompletionHook func(ctx context.Context, result domain.SyncResult)

// runningSync is the in-process handle of an executing sync.
type runningSync struct {
	syncID string
	cancel context.CancelFunc
}

// SyncOrchestrator pulls upstream entities page by page into the local
// ledger, checkpointing after every page so that a run can resume.
type SyncOrchestrator struct {
	credentials driven.CredentialProvider
	source      driven.AccountingSource
	ledger      driven.LedgerStore
	states      driven.SyncStateStore
	progress    *ProgressTracker
	clock       driven.Clock
	config      domain.SyncConfig
	reconLimit  *TenantLimiter
	entities    []domain.EntityName
	hooks       []SyncCompletionHook

	// Runs executing in this process, keyed by tenant.
	mu     sync.Mutex
	active map[string]*runningSync
	wg     sync.WaitGroup
}

// NewSyncOrchestrator creates a new sync orchestrator.
func NewSyncOrchestrator(
	credentials driven.CredentialProvider,
	source driven.AccountingSource,
	ledger driven.LedgerStore,
	states driven.SyncStateStore,
	progress *ProgressTracker,
	clock driven.Clock,
	config domain.SyncConfig,
) *SyncOrchestrator {
	return &SyncOrchestrator{
		credentials: credentials,
		source:      source,
		ledger:      ledger,
		states:      states,
		progress:    progress,
		clock:       clock,
		config:      config,
		reconLimit:  NewTenantLimiter(clock, config.ReconciliationPerHour),
		entities:    slices.Clone(domain.EntityOrder),
		active:      make(map[string]*runningSync),
	}
}

// OnComplete registers a hook run after every successful sync.
// Hooks must be registered before the first sync starts.
func (o *SyncOrchestrator) OnComplete(hook SyncCompletionHook) {
	o.hooks = append(o.hooks, hook)
}

// StartSync validates the request, claims the tenant and runs the sync in
// the background. The returned ID can be polled with GetProgress.
func (o *SyncOrchestrator) StartSync(
	ctx context.Context,
	tenantID string,
	mode domain.SyncMode,
	opts domain.SyncOptions,
) (string, error) {
	state, err := o.prepare(ctx, tenantID, mode, opts)
	if err != nil {
		return "", err
	}
	runCtx, rs, err := o.admit(ctx, state, true, true)
	if err != nil {
		return "", err
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		_, _ = o.run(runCtx, state, rs)
	}()
	return state.SyncID, nil
}

// RunSync runs a sync to completion. A failed run still returns its result
// alongside the error.
func (o *SyncOrchestrator) RunSync(
	ctx context.Context,
	tenantID string,
	mode domain.SyncMode,
	opts domain.SyncOptions,
) (*domain.SyncResult, error) {
	state, err := o.prepare(ctx, tenantID, mode, opts)
	if err != nil {
		return nil, err
	}
	runCtx, rs, err := o.admit(ctx, state, true, false)
	if err != nil {
		return nil, err
	}
	return o.run(runCtx, state, rs)
}

// ResumeSync restarts an in-progress or failed sync from its checkpoint,
// with its original mode and options.
func (o *SyncOrchestrator) ResumeSync(ctx context.Context, syncID string) (string, error) {
	state, err := o.resumable(ctx, syncID)
	if err != nil {
		return "", err
	}
	runCtx, rs, err := o.admit(ctx, state, false, true)
	if err != nil {
		return "", err
	}

	logger.Info("sync %s: resuming after %d completed entities", state.SyncID, len(state.CompletedEntities))
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		_, _ = o.run(runCtx, state, rs)
	}()
	return state.SyncID, nil
}

// RecoverInterrupted resumes every in-progress sync not running in this
// process. It is meant to be called once at startup.
func (o *SyncOrchestrator) RecoverInterrupted(ctx context.Context) ([]string, error) {
	states, err := o.states.ListByStatus(ctx, domain.SyncInProgress)
	if err != nil {
		return nil, fmt.Errorf("list interrupted syncs: %w", err)
	}
	var resumed []string
	for _, s := range states {
		if o.runningByID(s.SyncID) != nil {
			continue
		}
		id, err := o.ResumeSync(ctx, s.SyncID)
		if err != nil {
			logger.Warn("sync %s: cannot resume: %v", s.SyncID, err)
			continue
		}
		resumed = append(resumed, id)
	}
	return resumed, nil
}

// CancelSync asks a sync to stop at the next page boundary. A sync that is
// recorded as in progress but not running here is marked failed directly.
func (o *SyncOrchestrator) CancelSync(ctx context.Context, syncID string) error {
	if rs := o.runningByID(syncID); rs != nil {
		logger.Info("sync %s: cancellation requested", syncID)
		rs.cancel()
		return nil
	}

	state, err := o.states.Get(ctx, syncID)
	if err != nil {
		return fmt.Errorf("get sync state: %w", err)
	}
	if state.Status.Terminal() {
		return fmt.Errorf("%w: sync %s is already %s", domain.ErrConflict, syncID, state.Status)
	}
	state.Status = domain.SyncFailed
	state.Error = domain.ErrCancelled.Error()
	state.UpdatedAt = o.clock.Now()
	if err := o.states.Save(ctx, *state); err != nil {
		return fmt.Errorf("save sync state: %w", err)
	}
	o.track(ctx, syncID, domain.ProgressUpdate{
		Status: domain.Ptr(domain.SyncFailed),
		Error:  domain.Ptr(state.Error),
	})
	return nil
}

// GetProgress returns the live progress of a sync.
func (o *SyncOrchestrator) GetProgress(ctx context.Context, syncID string) (*domain.SyncProgress, error) {
	return o.progress.Get(ctx, syncID)
}

// GetCheckpoint returns the persisted checkpoint of a sync. An unknown sync
// yields a checkpoint with Exists false.
func (o *SyncOrchestrator) GetCheckpoint(ctx context.Context, syncID string) (*domain.Checkpoint, error) {
	state, err := o.states.Get(ctx, syncID)
	if errors.Is(err, domain.ErrNotFound) {
		return &domain.Checkpoint{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get sync state: %w", err)
	}
	cp := domain.CheckpointFrom(state)
	return &cp, nil
}

// Wait blocks until every background sync started by this orchestrator returns.
func (o *SyncOrchestrator) Wait() {
	o.wg.Wait()
}

// Shutdown cancels every running sync and waits for them to checkpoint.
func (o *SyncOrchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	for _, rs := range o.active {
		rs.cancel()
	}
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// prepare validates a start request and builds its initial state.
func (o *SyncOrchestrator) prepare(
	ctx context.Context,
	tenantID string,
	mode domain.SyncMode,
	opts domain.SyncOptions,
) (*domain.SyncState, error) {
	if tenantID == "" {
		return nil, domain.ValidationErrorf("tenant is required")
	}
	if _, err := domain.ParseSyncMode(string(mode)); err != nil {
		return nil, err
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if _, err := o.credentials.GetValidCredential(ctx, tenantID); err != nil {
		return nil, err
	}

	now := o.clock.Now()
	if mode == domain.SyncModeReconciliation && opts.FromDate.IsZero() && opts.ToDate.IsZero() {
		opts.FromDate = now.Add(-o.config.ReconciliationWindow)
		opts.ToDate = now
	}
	return &domain.SyncState{
		SyncID:    uuid.NewString(),
		TenantID:  tenantID,
		Mode:      mode,
		Status:    domain.SyncInProgress,
		Options:   opts,
		StartedAt: now,
		UpdatedAt: now,
	}, nil
}

// resumable loads a state and checks that it may be resumed.
func (o *SyncOrchestrator) resumable(ctx context.Context, syncID string) (*domain.SyncState, error) {
	state, err := o.states.Get(ctx, syncID)
	if err != nil {
		return nil, fmt.Errorf("get sync state: %w", err)
	}
	if state.Status == domain.SyncCompleted {
		return nil, fmt.Errorf("%w: sync %s already completed", domain.ErrConflict, syncID)
	}
	if o.runningByID(syncID) != nil {
		return nil, fmt.Errorf("%w: sync %s is running", domain.ErrSyncInProgress, syncID)
	}
	active, err := o.states.Active(ctx, state.TenantID)
	switch {
	case err == nil && active.SyncID != syncID:
		return nil, fmt.Errorf("%w: tenant %s is running sync %s", domain.ErrSyncInProgress, state.TenantID, active.SyncID)
	case err != nil && !errors.Is(err, domain.ErrNotFound):
		return nil, fmt.Errorf("get active sync: %w", err)
	}
	if _, err := o.credentials.GetValidCredential(ctx, state.TenantID); err != nil {
		return nil, err
	}

	state.Status = domain.SyncInProgress
	state.Error = ""
	state.UpdatedAt = o.clock.Now()
	return state, nil
}

// admit claims the tenant in-process, records the state and initialises
// progress. With detach, the run outlives ctx.
func (o *SyncOrchestrator) admit(
	ctx context.Context,
	state *domain.SyncState,
	create, detach bool,
) (context.Context, *runningSync, error) {
	parent := ctx
	if detach {
		parent = context.WithoutCancel(ctx)
	}
	runCtx, cancel := context.WithCancel(parent)
	rs := &runningSync{syncID: state.SyncID, cancel: cancel}

	o.mu.Lock()
	if other, ok := o.active[state.TenantID]; ok {
		o.mu.Unlock()
		cancel()
		return nil, nil, fmt.Errorf("%w: tenant %s is running sync %s", domain.ErrSyncInProgress, state.TenantID, other.syncID)
	}
	o.active[state.TenantID] = rs
	o.mu.Unlock()

	if create && state.Mode == domain.SyncModeReconciliation && !o.reconLimit.Allow(state.TenantID) {
		o.release(state.TenantID, rs)
		return nil, nil, fmt.Errorf("tenant %s: %w", state.TenantID, domain.ErrReconciliationLimited)
	}

	var err error
	if create {
		err = o.states.Create(ctx, state.Clone())
	} else {
		err = o.states.Save(ctx, state.Clone())
	}
	if err != nil {
		o.release(state.TenantID, rs)
		return nil, nil, fmt.Errorf("record sync state: %w", err)
	}

	if err := o.progress.Init(ctx, state.SyncID, state.TenantID, o.entities); err != nil {
		logger.Warn("sync %s: init progress: %v", state.SyncID, err)
	}
	for _, e := range state.CompletedEntities {
		c, _ := state.LookupCursor(e)
		o.track(ctx, state.SyncID, domain.ProgressUpdate{
			Steps: map[domain.EntityName]domain.StepProgress{e: {Status: domain.SyncCompleted, Count: c.Processed()}},
		})
	}
	o.track(ctx, state.SyncID, domain.ProgressUpdate{
		Status:    domain.Ptr(domain.SyncInProgress),
		StartedAt: domain.Ptr(state.StartedAt),
		Error:     domain.Ptr(""),
	})
	return runCtx, rs, nil
}

func (o *SyncOrchestrator) release(tenantID string, rs *runningSync) {
	rs.cancel()
	o.mu.Lock()
	if o.active[tenantID] == rs {
		delete(o.active, tenantID)
	}
	o.mu.Unlock()
}

func (o *SyncOrchestrator) runningByID(syncID string) *runningSync {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, rs := range o.active {
		if rs.syncID == syncID {
			return rs
		}
	}
	return nil
}

// run processes every entity not yet completed, in dependency order.
func (o *SyncOrchestrator) run(ctx context.Context, state *domain.SyncState, rs *runningSync) (*domain.SyncResult, error) {
	defer o.release(state.TenantID, rs)
	started := o.clock.Now()

	logger.Info("sync %s: starting %s sync for tenant %s", state.SyncID, state.Mode, state.TenantID)

	watermarks, err := o.priorWatermarks(ctx, state)
	if err != nil {
		return o.fail(ctx, state, "", started, err)
	}

	for _, entity := range o.entities {
		if state.IsCompleted(entity) {
			logger.Debug("sync %s: %s already completed, skipping", state.SyncID, entity)
			continue
		}
		if err := o.syncEntity(ctx, state, entity, watermarks[entity]); err != nil {
			return o.fail(ctx, state, entity, started, err)
		}
	}
	return o.complete(ctx, state, started)
}

// priorWatermarks returns the per-entity watermarks of the last successful
// full or incremental sync. Only incremental runs use them.
func (o *SyncOrchestrator) priorWatermarks(ctx context.Context, state *domain.SyncState) (map[domain.EntityName]time.Time, error) {
	marks := make(map[domain.EntityName]time.Time)
	if state.Mode != domain.SyncModeIncremental {
		return marks, nil
	}
	last, err := o.states.LatestSuccessful(ctx, state.TenantID, domain.SyncModeFull, domain.SyncModeIncremental)
	if errors.Is(err, domain.ErrNotFound) {
		logger.Info("sync %s: no previous successful sync, pulling everything", state.SyncID)
		return marks, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get last successful sync: %w", err)
	}
	for _, e := range o.entities {
		marks[e] = last.Watermark(e)
	}
	return marks, nil
}

// syncEntity pulls the pages of one entity starting from its checkpoint.
// A fetched page is always applied and checkpointed together, even when
// the run is cancelled meanwhile.
//
//nolint:gocyclo // Page loop with sequential apply, checkpoint and report steps
func (o *SyncOrchestrator) syncEntity(
	ctx context.Context,
	state *domain.SyncState,
	entity domain.EntityName,
	watermark time.Time,
) error {
	cur := state.Cursor(entity)
	query := driven.PageQuery{Cursor: cur.Cursor}
	if state.Mode == domain.SyncModeIncremental {
		query.ModifiedSince = watermark
		if cur.Watermark.IsZero() {
			cur.Watermark = watermark
		}
	}
	if domain.DatedEntities[entity] || entity == domain.EntityBankSummary {
		query.FromDate = state.Options.FromDate
		query.ToDate = state.Options.ToDate
	}

	// Missing-upstream detection needs every upstream ID of the entity, so
	// it only runs when the entity is read from its first page.
	var seen map[string]bool
	if state.Mode == domain.SyncModeReconciliation && cur.Cursor == "" && cur.Pages == 0 {
		seen = make(map[string]bool)
	}

	logger.Debug("sync %s: %s from page %d", state.SyncID, entity, cur.Pages+1)
	o.track(ctx, state.SyncID, domain.ProgressUpdate{
		CurrentStep: domain.Ptr(string(entity)),
		Steps: map[domain.EntityName]domain.StepProgress{
			entity: {Status: domain.SyncInProgress, Count: cur.Processed()},
		},
	})

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		cred, err := o.credentials.GetValidCredential(ctx, state.TenantID)
		if err != nil {
			return err
		}
		page, err := o.source.FetchPage(ctx, cred, state.TenantID, entity, query)
		if err != nil {
			return fmt.Errorf("fetch %s page %d: %w", entity, cur.Pages+1, err)
		}

		writeCtx := context.WithoutCancel(ctx)
		if err := o.applyPage(writeCtx, state, entity, cur, page.Records, seen); err != nil {
			return err
		}
		cur.Pages++
		if page.Done {
			if seen != nil {
				if err := o.flagMissingUpstream(writeCtx, state, entity, cur, seen); err != nil {
					return err
				}
			}
			cur.Cursor = query.Cursor
			state.MarkCompleted(entity)
		} else {
			if page.NextCursor == "" {
				return fmt.Errorf("%w: %s page %d has no next cursor", domain.ErrInternal, entity, cur.Pages)
			}
			cur.Cursor = page.NextCursor
		}
		state.UpdatedAt = o.clock.Now()
		if err := o.states.Save(writeCtx, state.Clone()); err != nil {
			return fmt.Errorf("save checkpoint: %w", err)
		}
		logger.Debug("sync %s: checkpoint %s page %d (%d processed)", state.SyncID, entity, cur.Pages, cur.Processed())
		o.reportPage(writeCtx, state, entity, *cur, page)

		if page.Done {
			return nil
		}
		query.Cursor = page.NextCursor
	}
}

// applyPage upserts or reconciles one page and advances the cursor counters.
func (o *SyncOrchestrator) applyPage(
	ctx context.Context,
	state *domain.SyncState,
	entity domain.EntityName,
	cur *domain.EntityCursor,
	records []domain.UpstreamRecord,
	seen map[string]bool,
) error {
	if state.Mode == domain.SyncModeReconciliation {
		findings, err := o.reconcile(ctx, state.TenantID, entity, records)
		if err != nil {
			return err
		}
		if len(findings) > 0 {
			if err := o.ledger.FlagDrift(ctx, state.TenantID, findings); err != nil {
				return fmt.Errorf("flag drift: %w", err)
			}
			logger.Info("sync %s: %d drift findings in %s", state.SyncID, len(findings), entity)
		}
		cur.Compared += len(records)
		cur.Drifted += len(findings)
	} else {
		unresolved, err := o.unresolvedReferences(ctx, state.TenantID, entity, records)
		if err != nil {
			return err
		}
		if unresolved > 0 {
			logger.Warn("sync %s: %d %s records reference unknown records", state.SyncID, unresolved, entity)
		}
		res, err := o.ledger.UpsertPage(ctx, state.TenantID, entity, records, o.clock.Now())
		if err != nil {
			return fmt.Errorf("upsert %s: %w", entity, err)
		}
		if len(res.Reappeared) > 0 {
			logger.Info("sync %s: %d %s records are back upstream: %v", state.SyncID, len(res.Reappeared), entity, res.Reappeared)
		}
		cur.Created += res.Created
		cur.Updated += res.Updated
		cur.Unresolved += unresolved
	}

	for _, r := range records {
		if r.UpdatedAt.After(cur.Watermark) {
			cur.Watermark = r.UpdatedAt
		}
		if seen != nil {
			seen[r.ExternalID] = true
		}
	}
	return nil
}

// reconcile compares upstream records with their local copies.
func (o *SyncOrchestrator) reconcile(
	ctx context.Context,
	tenantID string,
	entity domain.EntityName,
	records []domain.UpstreamRecord,
) ([]domain.DriftFinding, error) {
	now := o.clock.Now()
	var findings []domain.DriftFinding
	for _, rec := range records {
		local, err := o.ledger.Get(ctx, tenantID, entity, rec.ExternalID)
		if errors.Is(err, domain.ErrNotFound) {
			findings = append(findings, domain.DriftFinding{
				Entity:     entity,
				ExternalID: rec.ExternalID,
				Kind:       domain.DriftMissingLocal,
				DetectedAt: now,
			})
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("get local %s %s: %w", entity, rec.ExternalID, err)
		}
		for _, field := range domain.CompareFields(local.Fields, rec.Fields) {
			findings = append(findings, domain.DriftFinding{
				Entity:        entity,
				ExternalID:    rec.ExternalID,
				Kind:          domain.DriftFieldMismatch,
				Field:         field,
				LocalValue:    local.Fields[field],
				UpstreamValue: rec.Fields[field],
				DetectedAt:    now,
			})
		}
	}
	return findings, nil
}

// flagMissingUpstream flags local records, within the window, that the
// upstream no longer returned. Records already flagged are left alone.
func (o *SyncOrchestrator) flagMissingUpstream(
	ctx context.Context,
	state *domain.SyncState,
	entity domain.EntityName,
	cur *domain.EntityCursor,
	seen map[string]bool,
) error {
	local, err := o.ledger.List(ctx, state.TenantID, entity)
	if err != nil {
		return fmt.Errorf("list local %s: %w", entity, err)
	}
	now := o.clock.Now()
	var findings []domain.DriftFinding
	for _, r := range local {
		if seen[r.ExternalID] || r.MissingUpstream {
			continue
		}
		if domain.DatedEntities[entity] && !inWindow(r.Field("date"), state.Options) {
			continue
		}
		findings = append(findings, domain.DriftFinding{
			Entity:     entity,
			ExternalID: r.ExternalID,
			Kind:       domain.DriftMissingUpstream,
			DetectedAt: now,
		})
	}
	if len(findings) == 0 {
		return nil
	}
	if err := o.ledger.FlagDrift(ctx, state.TenantID, findings); err != nil {
		return fmt.Errorf("flag drift: %w", err)
	}
	cur.Drifted += len(findings)
	logger.Info("sync %s: %d %s records missing upstream", state.SyncID, len(findings), entity)
	return nil
}

// inWindow reports whether a record date falls inside the option window.
// Undated records are never considered inside.
func inWindow(value string, opts domain.SyncOptions) bool {
	if len(value) < len(domain.DateFormat) {
		return false
	}
	d, err := domain.ParseDate(value[:len(domain.DateFormat)])
	if err != nil {
		return false
	}
	if !opts.FromDate.IsZero() && d.Before(domain.DateOf(opts.FromDate)) {
		return false
	}
	if !opts.ToDate.IsZero() && d.After(domain.DateOf(opts.ToDate)) {
		return false
	}
	return true
}

// unresolvedReferences counts records referencing IDs not materialised yet.
func (o *SyncOrchestrator) unresolvedReferences(
	ctx context.Context,
	tenantID string,
	entity domain.EntityName,
	records []domain.UpstreamRecord,
) (int, error) {
	refs := domain.EntityReferences[entity]
	if len(refs) == 0 || len(records) == 0 {
		return 0, nil
	}

	wanted := make(map[domain.EntityName][]string)
	for field, target := range refs {
		for _, r := range records {
			if id := r.Fields[field]; id != "" {
				wanted[target] = append(wanted[target], id)
			}
		}
	}
	existing := make(map[domain.EntityName]map[string]bool, len(wanted))
	for target, ids := range wanted {
		found, err := o.ledger.Existing(ctx, tenantID, target, ids)
		if err != nil {
			return 0, fmt.Errorf("resolve %s references: %w", target, err)
		}
		existing[target] = found
	}

	unresolved := 0
	for _, r := range records {
		for field, target := range refs {
			if id := r.Fields[field]; id != "" && !existing[target][id] {
				unresolved++
				break
			}
		}
	}
	return unresolved, nil
}

// reportPage publishes the progress reached after a checkpoint.
func (o *SyncOrchestrator) reportPage(
	ctx context.Context,
	state *domain.SyncState,
	entity domain.EntityName,
	cur domain.EntityCursor,
	page *driven.Page,
) {
	step := domain.StepProgress{Status: domain.SyncInProgress, Count: cur.Processed()}
	if page.Done {
		step.Status = domain.SyncCompleted
	}

	done := float64(len(state.CompletedEntities))
	if !page.Done && page.TotalPages > 0 {
		done += min(float64(cur.Pages)/float64(page.TotalPages), 1)
	}
	pct := min(int(100*done/float64(len(o.entities))), 99)

	o.track(ctx, state.SyncID, domain.ProgressUpdate{
		Percentage:  domain.Ptr(pct),
		CurrentStep: domain.Ptr(string(entity)),
		Steps:       map[domain.EntityName]domain.StepProgress{entity: step},
	})
}

func (o *SyncOrchestrator) complete(ctx context.Context, state *domain.SyncState, started time.Time) (*domain.SyncResult, error) {
	now := o.clock.Now()
	state.Status = domain.SyncCompleted
	state.CompletedAt = now
	state.UpdatedAt = now

	writeCtx := context.WithoutCancel(ctx)
	if err := o.states.Save(writeCtx, state.Clone()); err != nil {
		return o.fail(ctx, state, "", started, fmt.Errorf("save sync state: %w", err))
	}
	o.track(writeCtx, state.SyncID, domain.ProgressUpdate{
		Status:      domain.Ptr(domain.SyncCompleted),
		Percentage:  domain.Ptr(100),
		CurrentStep: domain.Ptr(""),
		CompletedAt: domain.Ptr(now),
	})

	result := o.result(state, started)
	logger.Info("%s in %s", result, result.Duration)
	for _, hook := range o.hooks {
		hook(writeCtx, result)
	}
	return &result, nil
}

// fail records an unrecoverable error and stops the run. The checkpoint
// stays valid for a later resume.
func (o *SyncOrchestrator) fail(
	ctx context.Context,
	state *domain.SyncState,
	entity domain.EntityName,
	started time.Time,
	cause error,
) (*domain.SyncResult, error) {
	if ctx.Err() != nil && !errors.Is(cause, domain.ErrCancelled) {
		cause = fmt.Errorf("%w: %w", domain.ErrCancelled, cause)
	}

	o.dropRejectedCredential(state.TenantID, cause)

	state.Status = domain.SyncFailed
	state.UpdatedAt = o.clock.Now()
	if errors.Is(cause, domain.ErrCancelled) {
		state.Error = domain.ErrCancelled.Error()
	} else {
		state.Error = domain.HumanMessage(cause)
	}

	writeCtx := context.WithoutCancel(ctx)
	if err := o.states.Save(writeCtx, state.Clone()); err != nil {
		logger.Error("sync %s: save failed state: %v", state.SyncID, err)
	}

	update := domain.ProgressUpdate{
		Status: domain.Ptr(domain.SyncFailed),
		Error:  domain.Ptr(state.Error),
	}
	if entity != "" {
		c, _ := state.LookupCursor(entity)
		update.Steps = map[domain.EntityName]domain.StepProgress{
			entity: {Status: domain.SyncFailed, Count: c.Processed(), Error: state.Error},
		}
	}
	o.track(writeCtx, state.SyncID, update)

	if errors.Is(cause, domain.ErrCancelled) {
		logger.Info("sync %s: cancelled", state.SyncID)
	} else {
		logger.Error("sync %s: failed (%s): %v", state.SyncID, domain.Kind(cause), cause)
	}
	result := o.result(state, started)
	return &result, cause
}

// dropRejectedCredential evicts a cached credential that upstream refused.
func (o *SyncOrchestrator) dropRejectedCredential(tenantID string, cause error) {
	var authErr *domain.AuthError
	if !errors.As(cause, &authErr) || authErr.Reason != domain.AuthReasonExpired {
		return
	}
	if inv, ok := o.credentials.(driven.CredentialInvalidator); ok {
		inv.InvalidateCache(tenantID)
		logger.Warn("sync: dropped cached credential of tenant %s", tenantID)
	}
}

func (o *SyncOrchestrator) result(state *domain.SyncState, started time.Time) domain.SyncResult {
	created, updated, drifted := state.Totals()
	return domain.SyncResult{
		SyncID:   state.SyncID,
		TenantID: state.TenantID,
		Mode:     state.Mode,
		Status:   state.Status,
		Created:  created,
		Updated:  updated,
		Drifted:  drifted,
		Entities: slices.Clone(state.Cursors),
		Error:    state.Error,
		Duration: o.clock.Now().Sub(started),
	}
}

// track applies a progress update. Progress is advisory, so failures are
// logged and never fail the sync.
func (o *SyncOrchestrator) track(ctx context.Context, syncID string, u domain.ProgressUpdate) {
	if err := o.progress.Update(ctx, syncID, u); err != nil {
		logger.Warn("sync %s: %v", syncID, err)
	}
}

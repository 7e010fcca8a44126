package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/custodia-labs/cashsync/internal/core/domain"
	"github.com/custodia-labs/cashsync/internal/core/ports/driven"
)

const progressKeyPrefix = "sync:progress:"

// Field names tracked by the per-field sequence guard.
const (
	fieldTenant      = "tenant_id"
	fieldStatus      = "status"
	fieldCurrentStep = "current_step"
	fieldStartedAt   = "started_at"
	fieldCompletedAt = "completed_at"
	fieldError       = "error"
	fieldStepPrefix  = "steps."
)

// ProgressTracker records the live state of sync runs in a shared KVStore.
// Updates merge into the stored snapshot field by field; a field is only
// overwritten by an update carrying a higher sequence than the one that
// last wrote it. Percentage merges as a maximum and never decreases.
type ProgressTracker struct {
	kv    driven.KVStore
	clock driven.Clock
	ttl   time.Duration

	mu      sync.Mutex
	lastSeq uint64
}

// NewProgressTracker creates a tracker whose entries expire ttl after their last write.
func NewProgressTracker(kv driven.KVStore, clock driven.Clock, ttl time.Duration) *ProgressTracker {
	if ttl <= 0 {
		ttl = domain.DefaultConfig().Sync.ProgressTTL
	}
	return &ProgressTracker{kv: kv, clock: clock, ttl: ttl}
}

// nextSeq returns a sequence that is strictly increasing within the process
// and tracks wall time so that writers in other processes interleave sanely.
func (t *ProgressTracker) nextSeq() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	seq := uint64(t.clock.Now().UnixNano())
	if seq <= t.lastSeq {
		seq = t.lastSeq + 1
	}
	t.lastSeq = seq
	return seq
}

func progressKey(syncID string) string {
	return progressKeyPrefix + syncID
}

// Init writes a pending snapshot listing every entity of the run. An existing
// snapshot is kept and only gains the missing steps.
func (t *ProgressTracker) Init(ctx context.Context, syncID, tenantID string, entities []domain.EntityName) error {
	steps := make(map[domain.EntityName]domain.StepProgress, len(entities))
	for _, e := range entities {
		steps[e] = domain.StepProgress{Status: domain.SyncPending}
	}
	return t.merge(ctx, syncID, func(p *domain.SyncProgress, seq uint64) {
		if p.TenantID == "" {
			p.TenantID = tenantID
			p.FieldSeq[fieldTenant] = seq
		}
		for e, s := range steps {
			if _, ok := p.Steps[e]; !ok {
				p.Steps[e] = s
			}
		}
	})
}

// Update merges a partial update into the snapshot of syncID.
func (t *ProgressTracker) Update(ctx context.Context, syncID string, u domain.ProgressUpdate) error {
	return t.merge(ctx, syncID, func(p *domain.SyncProgress, seq uint64) {
		apply := func(field string) bool {
			if seq <= p.FieldSeq[field] {
				return false
			}
			p.FieldSeq[field] = seq
			return true
		}
		if u.TenantID != nil && apply(fieldTenant) {
			p.TenantID = *u.TenantID
		}
		if u.Status != nil && apply(fieldStatus) {
			p.Status = *u.Status
		}
		if u.Percentage != nil {
			p.Percentage = max(p.Percentage, min(max(*u.Percentage, 0), 100))
		}
		if u.CurrentStep != nil && apply(fieldCurrentStep) {
			p.CurrentStep = *u.CurrentStep
		}
		if u.StartedAt != nil && apply(fieldStartedAt) {
			p.StartedAt = *u.StartedAt
		}
		if u.CompletedAt != nil && apply(fieldCompletedAt) {
			p.CompletedAt = *u.CompletedAt
		}
		if u.Error != nil && apply(fieldError) {
			p.Error = *u.Error
		}
		for e, s := range u.Steps {
			if apply(fieldStepPrefix + string(e)) {
				p.Steps[e] = s
			}
		}
	})
}

// Get returns the snapshot of syncID, or domain.ErrNotFound when no such
// sync was ever tracked or its entry expired.
func (t *ProgressTracker) Get(ctx context.Context, syncID string) (*domain.SyncProgress, error) {
	data, err := t.kv.Get(ctx, progressKey(syncID))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("progress of sync %s: %w", syncID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get progress: %w", err)
	}
	var p domain.SyncProgress
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode progress: %w", err)
	}
	if p.Steps == nil {
		p.Steps = map[domain.EntityName]domain.StepProgress{}
	}
	return &p, nil
}

// Delete drops the snapshot of syncID.
func (t *ProgressTracker) Delete(ctx context.Context, syncID string) error {
	return t.kv.Delete(ctx, progressKey(syncID))
}

func (t *ProgressTracker) merge(ctx context.Context, syncID string, fn func(p *domain.SyncProgress, seq uint64)) error {
	seq := t.nextSeq()
	now := t.clock.Now()
	err := t.kv.Merge(ctx, progressKey(syncID), func(current []byte, exists bool) ([]byte, error) {
		p := domain.SyncProgress{SyncID: syncID, Status: domain.SyncPending}
		if exists {
			if err := json.Unmarshal(current, &p); err != nil {
				return nil, fmt.Errorf("decode progress: %w", err)
			}
		}
		if p.Steps == nil {
			p.Steps = map[domain.EntityName]domain.StepProgress{}
		}
		if p.FieldSeq == nil {
			p.FieldSeq = map[string]uint64{}
		}
		fn(&p, seq)
		if now.After(p.LastUpdated) {
			p.LastUpdated = now
		}
		return json.Marshal(p)
	}, t.ttl)
	if err != nil {
		return fmt.Errorf("update progress of sync %s: %w", syncID, err)
	}
	return nil
}

package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/custodia-labs/cashsync/internal/core/domain"
	"github.com/custodia-labs/cashsync/internal/core/ports/driven"
)

// Ensure SyncStateStore implements the interface.
var _ driven.SyncStateStore = (*SyncStateStore)(nil)

// SyncStateStore is an in-memory implementation of driven.SyncStateStore.
type SyncStateStore struct {
	mu     sync.RWMutex
	states map[string]domain.SyncState
}

// NewSyncStateStore creates a new in-memory sync state store.
func NewSyncStateStore() *SyncStateStore {
	return &SyncStateStore{
		states: make(map[string]domain.SyncState),
	}
}

// Create stores a new state unless the tenant already has one in progress.
func (s *SyncStateStore) Create(_ context.Context, state domain.SyncState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.states[state.SyncID]; ok {
		return domain.ErrConflict
	}
	if state.Status == domain.SyncInProgress {
		for _, existing := range s.states {
			if existing.TenantID == state.TenantID && existing.Status == domain.SyncInProgress {
				return domain.ErrSyncInProgress
			}
		}
	}
	s.states[state.SyncID] = state.Clone()
	return nil
}

// Save stores or updates sync state.
func (s *SyncStateStore) Save(_ context.Context, state domain.SyncState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.SyncID] = state.Clone()
	return nil
}

// Get retrieves sync state by ID.
func (s *SyncStateStore) Get(_ context.Context, syncID string) (*domain.SyncState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.states[syncID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	c := state.Clone()
	return &c, nil
}

// Active returns the in-progress state of a tenant.
func (s *SyncStateStore) Active(_ context.Context, tenantID string) (*domain.SyncState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, state := range s.states {
		if state.TenantID == tenantID && state.Status == domain.SyncInProgress {
			c := state.Clone()
			return &c, nil
		}
	}
	return nil, domain.ErrNotFound
}

// LatestSuccessful returns the most recently completed state matching modes.
func (s *SyncStateStore) LatestSuccessful(
	_ context.Context,
	tenantID string,
	modes ...domain.SyncMode,
) (*domain.SyncState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *domain.SyncState
	for _, state := range s.states {
		if state.TenantID != tenantID || state.Status != domain.SyncCompleted {
			continue
		}
		if len(modes) > 0 && !slices.Contains(modes, state.Mode) {
			continue
		}
		if latest == nil || state.CompletedAt.After(latest.CompletedAt) {
			c := state.Clone()
			latest = &c
		}
	}
	if latest == nil {
		return nil, domain.ErrNotFound
	}
	return latest, nil
}

// ListByStatus returns states with the given status, oldest first.
func (s *SyncStateStore) ListByStatus(_ context.Context, status domain.SyncStatus) ([]domain.SyncState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.SyncState
	for _, state := range s.states {
		if state.Status == status {
			out = append(out, state.Clone())
		}
	}
	slices.SortFunc(out, func(a, b domain.SyncState) int {
		return a.StartedAt.Compare(b.StartedAt)
	})
	return out, nil
}

// PruneCompleted removes terminal states finished before cutoff. Each
// tenant's latest successful full or incremental state is kept because
// it carries the watermark of the next incremental sync.
func (s *SyncStateStore) PruneCompleted(ctx context.Context, cutoff time.Time) (int, error) {
	keep := make(map[string]bool)
	tenants := make(map[string]bool)

	s.mu.RLock()
	for _, state := range s.states {
		tenants[state.TenantID] = true
	}
	s.mu.RUnlock()

	for tenant := range tenants {
		latest, err := s.LatestSuccessful(ctx, tenant, domain.SyncModeFull, domain.SyncModeIncremental)
		if err == nil {
			keep[latest.SyncID] = true
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, state := range s.states {
		if !state.Status.Terminal() || keep[id] {
			continue
		}
		finished := state.CompletedAt
		if finished.IsZero() {
			finished = state.UpdatedAt
		}
		if finished.Before(cutoff) {
			delete(s.states, id)
			removed++
		}
	}
	return removed, nil
}

// Delete removes sync state.
func (s *SyncStateStore) Delete(_ context.Context, syncID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, syncID)
	return nil
}

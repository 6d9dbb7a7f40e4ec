package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"swap-escrow/internal/domain"
	"swap-escrow/internal/storage"
)

// SwapStore is an in-memory implementation of storage.SwapStore.
// Events written with swaps go to the SwapEventStore it was built with.
type SwapStore struct {
	mu     sync.RWMutex
	data   map[string]*domain.Swap // keyed by swap id
	events *SwapEventStore
}

// NewSwapStore creates a new in-memory swap store writing its outbox to events.
func NewSwapStore(events *SwapEventStore) *SwapStore {
	return &SwapStore{
		data:   make(map[string]*domain.Swap),
		events: events,
	}
}

// Insert adds a new swap and its CREATED event. Returns ErrDuplicateKey if id exists.
func (s *SwapStore) Insert(_ context.Context, swap *domain.Swap, ev *domain.SwapEvent) error {
	if swap == nil || swap.ID == "" || ev == nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[swap.ID]; exists {
		return storage.ErrDuplicateKey
	}
	if err := s.events.append(ev); err != nil {
		return err
	}

	s.data[swap.ID] = swap.Clone()
	return nil
}

// GetByID retrieves a swap by its ID. Returns ErrNotFound if not exists.
func (s *SwapStore) GetByID(_ context.Context, id string) (*domain.Swap, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	swap, ok := s.data[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return swap.Clone(), nil
}

// GetForUpdate is GetByID: in-process callers serialize on their own locks.
func (s *SwapStore) GetForUpdate(ctx context.Context, id string) (*domain.Swap, error) {
	return s.GetByID(ctx, id)
}

// Transition moves a swap from status from to status to and appends ev.
func (s *SwapStore) Transition(_ context.Context, id string, from, to domain.SwapStatus, at time.Time, ev *domain.SwapEvent) error {
	if ev == nil || !from.CanTransitionTo(to) {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	swap, ok := s.data[id]
	if !ok {
		return storage.ErrNotFound
	}
	if swap.Status != from {
		return storage.ErrStaleStatus
	}
	if err := s.events.append(ev); err != nil {
		return err
	}

	resolved := at
	swap.Status = to
	swap.ResolvedAt = &resolved
	return nil
}

// List retrieves swaps matching filter, ordered by created_at ASC, id ASC.
func (s *SwapStore) List(_ context.Context, filter storage.SwapFilter) ([]*domain.Swap, error) {
	if filter.Party == "" || !filter.Role.IsValid() {
		return nil, storage.ErrInvalidInput
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Swap
	for _, swap := range s.data {
		if !swap.Involves(filter.Party, filter.Role) {
			continue
		}
		if filter.Status != nil && swap.Status != *filter.Status {
			continue
		}
		result = append(result, swap.Clone())
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})

	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

var _ storage.SwapStore = (*SwapStore)(nil)

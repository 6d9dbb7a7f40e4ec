package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"swap-escrow/internal/domain"
	"swap-escrow/internal/storage"
)

// swapEventKey is the composite key for swap event deduplication.
type swapEventKey struct {
	SwapID string
	Kind   domain.EventKind
}

// SwapEventStore is an in-memory implementation of storage.SwapEventStore.
type SwapEventStore struct {
	mu     sync.RWMutex
	data   []*domain.SwapEvent // ordered by id
	keys   map[swapEventKey]bool
	nextID int64
}

// NewSwapEventStore creates a new in-memory swap event outbox.
func NewSwapEventStore() *SwapEventStore {
	return &SwapEventStore{
		data:   make([]*domain.SwapEvent, 0),
		keys:   make(map[swapEventKey]bool),
		nextID: 1,
	}
}

// append assigns the next id to e and stores a copy.
// Returns ErrDuplicateKey if (swap_id, kind) exists.
func (s *SwapEventStore) append(e *domain.SwapEvent) error {
	if e.SwapID == "" || !e.Kind.IsValid() {
		return storage.ErrInvalidInput
	}

	key := swapEventKey{SwapID: e.SwapID, Kind: e.Kind}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.keys[key] {
		return storage.ErrDuplicateKey
	}

	e.ID = s.nextID
	s.nextID++

	cp := *e
	cp.DeliveredAt = nil
	s.data = append(s.data, &cp)
	s.keys[key] = true
	return nil
}

// GetPending retrieves up to limit undelivered events, ordered by id ASC.
func (s *SwapEventStore) GetPending(_ context.Context, limit int) ([]*domain.SwapEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.SwapEvent
	for _, e := range s.data {
		if e.DeliveredAt != nil {
			continue
		}
		cp := *e
		result = append(result, &cp)
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}

// MarkDelivered stamps the given events as delivered. Unknown ids are ignored.
func (s *SwapEventStore) MarkDelivered(_ context.Context, ids []int64, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		i := sort.Search(len(s.data), func(i int) bool { return s.data[i].ID >= id })
		if i < len(s.data) && s.data[i].ID == id && s.data[i].DeliveredAt == nil {
			delivered := at
			s.data[i].DeliveredAt = &delivered
		}
	}
	return nil
}

// GetBySwapID retrieves all events of a swap, ordered by id ASC.
func (s *SwapEventStore) GetBySwapID(_ context.Context, swapID string) ([]*domain.SwapEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.SwapEvent
	for _, e := range s.data {
		if e.SwapID == swapID {
			cp := *e
			result = append(result, &cp)
		}
	}
	return result, nil
}

// CountPending returns the number of undelivered events.
func (s *SwapEventStore) CountPending(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, e := range s.data {
		if e.DeliveredAt == nil {
			n++
		}
	}
	return n, nil
}

var _ storage.SwapEventStore = (*SwapEventStore)(nil)

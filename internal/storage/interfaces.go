package storage

import (
	"context"
	"time"

	"swap-escrow/internal/domain"
)

// SwapFilter selects swaps for listing.
type SwapFilter struct {
	Party  domain.Identity    // required
	Role   domain.Role        // RoleAny matches initiator or counterparty
	Status *domain.SwapStatus // nil matches every status
	Limit  int                // 0 means no limit
}

// SwapStore provides access to swaps storage.
// Writes also append the transition's event to the outbox in the same unit,
// so a committed transition always has its notification recorded.
type SwapStore interface {
	// Insert adds a new swap and its CREATED event. Returns ErrDuplicateKey if id exists.
	Insert(ctx context.Context, s *domain.Swap, ev *domain.SwapEvent) error

	// GetByID retrieves a swap by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, id string) (*domain.Swap, error)

	// GetForUpdate retrieves a swap and locks it for the rest of the current
	// unit of work where the backend supports row locks. Returns ErrNotFound.
	GetForUpdate(ctx context.Context, id string) (*domain.Swap, error)

	// Transition moves a swap from status from to status to and appends ev.
	// Returns ErrNotFound, or ErrStaleStatus if the stored status is not from.
	Transition(ctx context.Context, id string, from, to domain.SwapStatus, at time.Time, ev *domain.SwapEvent) error

	// List retrieves swaps matching filter, ordered by created_at ASC, id ASC.
	List(ctx context.Context, filter SwapFilter) ([]*domain.Swap, error)
}

// SwapEventStore provides access to the swap_events outbox.
type SwapEventStore interface {
	// GetPending retrieves up to limit undelivered events, ordered by id ASC.
	GetPending(ctx context.Context, limit int) ([]*domain.SwapEvent, error)

	// MarkDelivered stamps the given events as delivered. Unknown ids are ignored.
	MarkDelivered(ctx context.Context, ids []int64, at time.Time) error

	// GetBySwapID retrieves all events of a swap, ordered by id ASC.
	GetBySwapID(ctx context.Context, swapID string) ([]*domain.SwapEvent, error)

	// CountPending returns the number of undelivered events.
	CountPending(ctx context.Context) (int, error)
}

// EventLogStore provides access to the analytical event log (ClickHouse).
// The log is deduplicated on (swap_id, kind).
type EventLogStore interface {
	// InsertBulk appends events. Re-delivered events are tolerated.
	InsertBulk(ctx context.Context, events []*domain.SwapEvent) error

	// GetBySwapID retrieves the distinct events of a swap, ordered by timestamp ASC.
	GetBySwapID(ctx context.Context, swapID string) ([]*domain.SwapEvent, error)

	// CountByKind returns the number of distinct events per kind within [start, end].
	CountByKind(ctx context.Context, start, end time.Time) (map[domain.EventKind]uint64, error)
}

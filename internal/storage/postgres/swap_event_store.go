package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"swap-escrow/internal/domain"
	"swap-escrow/internal/storage"
)

// SwapEventStore implements storage.SwapEventStore over the swap_events outbox.
type SwapEventStore struct {
	pool *Pool
}

// NewSwapEventStore creates a new SwapEventStore.
func NewSwapEventStore(pool *Pool) *SwapEventStore {
	return &SwapEventStore{pool: pool}
}

// Compile-time interface check.
var _ storage.SwapEventStore = (*SwapEventStore)(nil)

// insertEvent appends e to the outbox and sets its id.
// Returns ErrDuplicateKey if (swap_id, kind) exists.
func insertEvent(ctx context.Context, pool *Pool, e *domain.SwapEvent) error {
	query := `
		INSERT INTO swap_events (swap_id, kind, initiator, counterparty, timestamp)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`

	err := pool.DB(ctx).QueryRow(ctx, query,
		e.SwapID,
		string(e.Kind),
		string(e.Initiator),
		string(e.Counterparty),
		e.Timestamp,
	).Scan(&e.ID)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert swap event: %w", err)
	}
	return nil
}

// GetPending retrieves up to limit undelivered events, ordered by id ASC.
func (s *SwapEventStore) GetPending(ctx context.Context, limit int) ([]*domain.SwapEvent, error) {
	query := `
		SELECT id, swap_id, kind, initiator, counterparty, timestamp, delivered_at
		FROM swap_events
		WHERE delivered_at IS NULL
		ORDER BY id ASC
		LIMIT NULLIF($1::int, 0)
	`

	rows, err := s.pool.DB(ctx).Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("get pending swap events: %w", err)
	}
	defer rows.Close()

	return scanSwapEvents(rows)
}

// MarkDelivered stamps the given events as delivered. Unknown ids are ignored.
func (s *SwapEventStore) MarkDelivered(ctx context.Context, ids []int64, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}

	_, err := s.pool.DB(ctx).Exec(ctx,
		`UPDATE swap_events SET delivered_at = $2 WHERE id = ANY($1) AND delivered_at IS NULL`,
		ids, at,
	)
	if err != nil {
		return fmt.Errorf("mark swap events delivered: %w", err)
	}
	return nil
}

// GetBySwapID retrieves all events of a swap, ordered by id ASC.
func (s *SwapEventStore) GetBySwapID(ctx context.Context, swapID string) ([]*domain.SwapEvent, error) {
	query := `
		SELECT id, swap_id, kind, initiator, counterparty, timestamp, delivered_at
		FROM swap_events
		WHERE swap_id = $1
		ORDER BY id ASC
	`

	rows, err := s.pool.DB(ctx).Query(ctx, query, swapID)
	if err != nil {
		return nil, fmt.Errorf("get swap events by swap id: %w", err)
	}
	defer rows.Close()

	return scanSwapEvents(rows)
}

// CountPending returns the number of undelivered events.
func (s *SwapEventStore) CountPending(ctx context.Context) (int, error) {
	var n int
	err := s.pool.DB(ctx).QueryRow(ctx, `SELECT count(*) FROM swap_events WHERE delivered_at IS NULL`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending swap events: %w", err)
	}
	return n, nil
}

// scanSwapEvents scans multiple rows into a slice of SwapEvent.
func scanSwapEvents(rows pgx.Rows) ([]*domain.SwapEvent, error) {
	var events []*domain.SwapEvent

	for rows.Next() {
		var (
			e                             domain.SwapEvent
			kind, initiator, counterparty string
		)

		err := rows.Scan(
			&e.ID,
			&e.SwapID,
			&kind,
			&initiator,
			&counterparty,
			&e.Timestamp,
			&e.DeliveredAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan swap event row: %w", err)
		}

		e.Kind = domain.EventKind(kind)
		e.Initiator = domain.Identity(initiator)
		e.Counterparty = domain.Identity(counterparty)
		events = append(events, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate swap event rows: %w", err)
	}

	return events, nil
}

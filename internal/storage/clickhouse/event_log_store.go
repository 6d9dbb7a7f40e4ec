package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"swap-escrow/internal/domain"
	"swap-escrow/internal/storage"
)

// EventLogStore implements storage.EventLogStore using ClickHouse.
type EventLogStore struct {
	conn *Conn
}

// NewEventLogStore creates a new EventLogStore.
func NewEventLogStore(conn *Conn) *EventLogStore {
	return &EventLogStore{conn: conn}
}

// Compile-time interface check.
var _ storage.EventLogStore = (*EventLogStore)(nil)

// InsertBulk appends events in one batch. Re-deliveries of the same
// (swap_id, kind) collapse on merge and are filtered by FINAL on read.
func (s *EventLogStore) InsertBulk(ctx context.Context, events []*domain.SwapEvent) error {
	if len(events) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO swap_event_log (
			swap_id, kind, initiator, counterparty, timestamp, outbox_id
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, e := range events {
		err = batch.Append(
			e.SwapID,
			string(e.Kind),
			string(e.Initiator),
			string(e.Counterparty),
			e.Timestamp.UTC(),
			e.ID,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetBySwapID retrieves the distinct events of a swap, ordered by timestamp ASC.
func (s *EventLogStore) GetBySwapID(ctx context.Context, swapID string) ([]*domain.SwapEvent, error) {
	query := `
		SELECT swap_id, kind, initiator, counterparty, timestamp, outbox_id
		FROM swap_event_log FINAL
		WHERE swap_id = ?
		ORDER BY timestamp ASC, outbox_id ASC
	`

	rows, err := s.conn.Query(ctx, query, swapID)
	if err != nil {
		return nil, fmt.Errorf("query by swap id: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// CountByKind returns the number of distinct events per kind within [start, end].
func (s *EventLogStore) CountByKind(ctx context.Context, start, end time.Time) (map[domain.EventKind]uint64, error) {
	query := `
		SELECT kind, count()
		FROM swap_event_log FINAL
		WHERE timestamp >= ? AND timestamp <= ?
		GROUP BY kind
	`

	rows, err := s.conn.Query(ctx, query, start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("count by kind: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.EventKind]uint64)
	for rows.Next() {
		var (
			kind string
			n    uint64
		)
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("scan count row: %w", err)
		}
		counts[domain.EventKind(kind)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate count rows: %w", err)
	}
	return counts, nil
}

func scanEvents(rows driver.Rows) ([]*domain.SwapEvent, error) {
	var events []*domain.SwapEvent

	for rows.Next() {
		var (
			swapID, kind, initiator, counterparty string
			ts                                    time.Time
			outboxID                              int64
		)
		if err := rows.Scan(&swapID, &kind, &initiator, &counterparty, &ts, &outboxID); err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		events = append(events, &domain.SwapEvent{
			ID:           outboxID,
			Kind:         domain.EventKind(kind),
			SwapID:       swapID,
			Initiator:    domain.Identity(initiator),
			Counterparty: domain.Identity(counterparty),
			Timestamp:    ts,
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate event rows: %w", err)
	}
	return events, nil
}

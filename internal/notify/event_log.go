package notify

import (
	"context"

	"swap-escrow/internal/domain"
	"swap-escrow/internal/storage"
)

// EventLogPublisher appends events to the analytical event log.
type EventLogPublisher struct {
	store storage.EventLogStore
}

// NewEventLogPublisher wraps store as a Publisher.
func NewEventLogPublisher(store storage.EventLogStore) *EventLogPublisher {
	return &EventLogPublisher{store: store}
}

// Name implements Publisher.
func (p *EventLogPublisher) Name() string { return "clickhouse" }

// Publish implements Publisher. The log collapses re-deliveries.
func (p *EventLogPublisher) Publish(ctx context.Context, events []*domain.SwapEvent) error {
	return p.store.InsertBulk(ctx, events)
}

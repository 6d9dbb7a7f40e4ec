package domain

import "time"

// EventKind is the transition a swap event announces.
type EventKind string

const (
	EventCreated   EventKind = "CREATED"
	EventCompleted EventKind = "COMPLETED"
	EventCancelled EventKind = "CANCELLED"
)

// IsValid checks if the kind is a valid value.
func (k EventKind) IsValid() bool {
	return k == EventCreated || k == EventCompleted || k == EventCancelled
}

// EventKindFor maps a status to the event that announces entering it.
func EventKindFor(status SwapStatus) EventKind {
	switch status {
	case StatusCompleted:
		return EventCompleted
	case StatusCancelled:
		return EventCancelled
	default:
		return EventCreated
	}
}

// SwapEvent is one notification about a swap transition.
// Corresponds to swap_events (outbox) table in PostgreSQL.
// Delivery is at-least-once; consumers de-duplicate on (SwapID, Kind).
type SwapEvent struct {
	ID           int64      `json:"id"` // outbox sequence, assigned by the store
	Kind         EventKind  `json:"kind"`
	SwapID       string     `json:"swap_id"`
	Initiator    Identity   `json:"initiator"`
	Counterparty Identity   `json:"counterparty"`
	Timestamp    time.Time  `json:"timestamp"`
	DeliveredAt  *time.Time `json:"-"`
}

// NewSwapEvent builds the event for s entering its current status.
func NewSwapEvent(s *Swap, at time.Time) *SwapEvent {
	return &SwapEvent{
		Kind:         EventKindFor(s.Status),
		SwapID:       s.ID,
		Initiator:    s.Initiator,
		Counterparty: s.Counterparty,
		Timestamp:    at,
	}
}

// DedupKey is the key consumers de-duplicate deliveries on.
func (e *SwapEvent) DedupKey() string {
	return e.SwapID + "|" + string(e.Kind)
}

// Involves reports whether id is a party of the event's swap.
func (e *SwapEvent) Involves(id Identity) bool {
	return e.Initiator == id || e.Counterparty == id
}

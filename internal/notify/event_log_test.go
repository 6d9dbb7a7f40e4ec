package notify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"swap-escrow/internal/domain"
	"swap-escrow/internal/storage"
)

type fakeEventLog struct {
	storage.EventLogStore
	inserted []*domain.SwapEvent
	err      error
}

func (f *fakeEventLog) InsertBulk(_ context.Context, events []*domain.SwapEvent) error {
	if f.err != nil {
		return f.err
	}
	f.inserted = append(f.inserted, events...)
	return nil
}

func TestEventLogPublisher(t *testing.T) {
	log := &fakeEventLog{}
	pub := NewEventLogPublisher(log)
	assert.Equal(t, "clickhouse", pub.Name())

	events := []*domain.SwapEvent{{ID: 1, Kind: domain.EventCreated, SwapID: "s1", Timestamp: time.Now()}}
	require.NoError(t, pub.Publish(context.Background(), events))
	assert.Equal(t, events, log.inserted)

	log.err = storage.ErrInvalidInput
	assert.ErrorIs(t, pub.Publish(context.Background(), events), storage.ErrInvalidInput)
}

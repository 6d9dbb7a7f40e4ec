package notify

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"swap-escrow/internal/domain"
)

func setupRedis(t *testing.T) string {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor: wait.ForLog("Ready to accept connections").
				WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	return fmt.Sprintf("redis://%s:%s/0", host, port.Port())
}

func TestRedisStreamPublisher_Publish(t *testing.T) {
	url := setupRedis(t)
	ctx := context.Background()

	pub, err := NewRedisStreamPublisher(ctx, url, "test:events")
	require.NoError(t, err)
	defer pub.Close()

	events := []*domain.SwapEvent{
		{ID: 1, Kind: domain.EventCreated, SwapID: "s1", Initiator: alice, Counterparty: bob, Timestamp: t0},
		{ID: 2, Kind: domain.EventCompleted, SwapID: "s1", Initiator: alice, Counterparty: bob, Timestamp: t0.Add(time.Minute)},
	}
	require.NoError(t, pub.Publish(ctx, events))

	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	client := redis.NewClient(opts)
	defer client.Close()

	entries, err := client.XRange(ctx, "test:events", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 2)

	for i, entry := range entries {
		got, err := ParseStreamEntry(entry.Values)
		require.NoError(t, err)
		assert.Equal(t, events[i].ID, got.ID)
		assert.Equal(t, events[i].Kind, got.Kind)
		assert.Equal(t, events[i].SwapID, got.SwapID)
		assert.Equal(t, alice, got.Initiator)
		assert.Equal(t, bob, got.Counterparty)
		assert.True(t, events[i].Timestamp.Equal(got.Timestamp))
		assert.Equal(t, events[i].DedupKey(), entry.Values["dedup_key"])
	}
}

func TestNewRedisStreamPublisher_BadURL(t *testing.T) {
	_, err := NewRedisStreamPublisher(context.Background(), "http://localhost:6379", "")
	require.Error(t, err)
}

func TestParseStreamEntry(t *testing.T) {
	e := &domain.SwapEvent{ID: 7, Kind: domain.EventCancelled, SwapID: "s9", Initiator: alice, Counterparty: bob, Timestamp: t0}

	// Redis returns every field as a string.
	values := map[string]any{}
	for k, v := range streamValues(e) {
		values[k] = fmt.Sprint(v)
	}

	got, err := ParseStreamEntry(values)
	require.NoError(t, err)
	assert.Equal(t, int64(7), got.ID)
	assert.Equal(t, domain.EventCancelled, got.Kind)
	assert.True(t, t0.Equal(got.Timestamp))

	values["kind"] = "EXPIRED"
	_, err = ParseStreamEntry(values)
	assert.Error(t, err)

	delete(values, "timestamp")
	_, err = ParseStreamEntry(values)
	assert.Error(t, err)
}

func TestRedisStreamTail_Next(t *testing.T) {
	url := setupRedis(t)
	ctx := context.Background()

	tail, err := NewRedisStreamTail(ctx, url, "test:tail")
	require.NoError(t, err)
	defer tail.Close()
	tail.block = 200 * time.Millisecond

	// Nothing yet: times out without error.
	events, err := tail.Next(ctx)
	require.NoError(t, err)
	assert.Empty(t, events)

	pub, err := NewRedisStreamPublisher(ctx, url, "test:tail")
	require.NoError(t, err)
	defer pub.Close()

	require.NoError(t, pub.Publish(ctx, []*domain.SwapEvent{
		{ID: 3, Kind: domain.EventCreated, SwapID: "tail-1", Initiator: alice, Counterparty: bob, Timestamp: t0},
	}))

	events, err = tail.Next(ctx)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "tail-1", events[0].SwapID)

	// Entries written before the tail was opened are not replayed.
	late, err := NewRedisStreamTail(ctx, url, "test:tail")
	require.NoError(t, err)
	defer late.Close()
	late.block = 200 * time.Millisecond
	events, err = late.Next(ctx)
	require.NoError(t, err)
	assert.Empty(t, events)
}

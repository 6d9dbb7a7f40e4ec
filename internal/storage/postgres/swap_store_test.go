package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"swap-escrow/internal/domain"
	"swap-escrow/internal/domain/domaintest"
	"swap-escrow/internal/storage"
)

var (
	alice = domaintest.Identity("alice")
	bob   = domaintest.Identity("bob")
	carol = domaintest.Identity("carol")
	t0    = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
)

func newTestSwap(id string, initiator, counterparty domain.Identity, createdAt time.Time) *domain.Swap {
	return &domain.Swap{
		ID:           id,
		Initiator:    initiator,
		Counterparty: counterparty,
		Inputs:       domaintest.Basket("TKA", 100, "TKC", 7),
		Outputs:      domaintest.Basket("TKB", 50),
		Deadline:     createdAt.Add(time.Hour),
		Status:       domain.StatusActive,
		CreatedAt:    createdAt,
		InputHolds:   []domain.HoldID{"h-" + domain.HoldID(id) + "-0", "h-" + domain.HoldID(id) + "-1"},
	}
}

func insertTestSwap(t *testing.T, ctx context.Context, store *SwapStore, s *domain.Swap) {
	t.Helper()
	require.NoError(t, store.Insert(ctx, s, domain.NewSwapEvent(s, s.CreatedAt)))
}

func TestSwapStore_InsertAndGetByID(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewSwapStore(pool)

	swap := newTestSwap("s1", alice, bob, t0)
	insertTestSwap(t, ctx, store, swap)

	got, err := store.GetByID(ctx, "s1")
	require.NoError(t, err)

	assert.Equal(t, swap.ID, got.ID)
	assert.Equal(t, alice, got.Initiator)
	assert.Equal(t, bob, got.Counterparty)
	assert.True(t, swap.Inputs.Equal(got.Inputs))
	assert.True(t, swap.Outputs.Equal(got.Outputs))
	assert.Equal(t, swap.InputHolds, got.InputHolds)
	assert.True(t, swap.Deadline.Equal(got.Deadline))
	assert.True(t, swap.CreatedAt.Equal(got.CreatedAt))
	assert.Equal(t, domain.StatusActive, got.Status)
	assert.Nil(t, got.ResolvedAt)

	events, err := NewSwapEventStore(pool).GetBySwapID(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventCreated, events[0].Kind)
	assert.NotZero(t, events[0].ID)
}

func TestSwapStore_InsertDuplicate(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewSwapStore(pool)

	swap := newTestSwap("s1", alice, bob, t0)
	insertTestSwap(t, ctx, store, swap)

	err := store.Insert(ctx, swap, domain.NewSwapEvent(swap, t0))
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
}

func TestSwapStore_GetByIDNotFound(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewSwapStore(pool)

	_, err := store.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = store.GetForUpdate(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSwapStore_Transition(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewSwapStore(pool)

	swap := newTestSwap("s1", alice, bob, t0)
	insertTestSwap(t, ctx, store, swap)

	at := t0.Add(10 * time.Minute)
	swap.Status = domain.StatusCancelled
	require.NoError(t, store.Transition(ctx, "s1", domain.StatusActive, domain.StatusCancelled, at, domain.NewSwapEvent(swap, at)))

	got, err := store.GetByID(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, got.Status)
	require.NotNil(t, got.ResolvedAt)
	assert.True(t, at.Equal(*got.ResolvedAt))

	swap.Status = domain.StatusCompleted
	err = store.Transition(ctx, "s1", domain.StatusActive, domain.StatusCompleted, at, domain.NewSwapEvent(swap, at))
	assert.ErrorIs(t, err, storage.ErrStaleStatus)

	ev := &domain.SwapEvent{Kind: domain.EventCompleted, SwapID: "missing", Timestamp: at}
	err = store.Transition(ctx, "missing", domain.StatusActive, domain.StatusCompleted, at, ev)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	events, err := NewSwapEventStore(pool).GetBySwapID(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, domain.EventCancelled, events[1].Kind)
}

func TestSwapStore_TransitionRolledBackWithEnclosingTx(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewSwapStore(pool)

	swap := newTestSwap("s1", alice, bob, t0)
	insertTestSwap(t, ctx, store, swap)

	errAbort := errors.New("abort")
	err := pool.InTx(ctx, func(ctx context.Context) error {
		locked, err := store.GetForUpdate(ctx, "s1")
		if err != nil {
			return err
		}
		locked.Status = domain.StatusCompleted
		if err := store.Transition(ctx, "s1", domain.StatusActive, domain.StatusCompleted, t0, domain.NewSwapEvent(locked, t0)); err != nil {
			return err
		}
		return errAbort
	})
	require.ErrorIs(t, err, errAbort)

	got, err := store.GetByID(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, got.Status)

	n, err := NewSwapEventStore(pool).CountPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSwapStore_List(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewSwapStore(pool)

	insertTestSwap(t, ctx, store, newTestSwap("s3", alice, bob, t0.Add(2*time.Minute)))
	insertTestSwap(t, ctx, store, newTestSwap("s1", alice, bob, t0))
	insertTestSwap(t, ctx, store, newTestSwap("s2", bob, alice, t0.Add(time.Minute)))
	insertTestSwap(t, ctx, store, newTestSwap("s4", bob, carol, t0.Add(3*time.Minute)))

	cancelled := newTestSwap("s3", alice, bob, t0)
	cancelled.Status = domain.StatusCancelled
	require.NoError(t, store.Transition(ctx, "s3", domain.StatusActive, domain.StatusCancelled, t0, domain.NewSwapEvent(cancelled, t0)))

	active := domain.StatusActive
	tests := []struct {
		name   string
		filter storage.SwapFilter
		want   []string
	}{
		{"any role", storage.SwapFilter{Party: alice}, []string{"s1", "s2", "s3"}},
		{"initiator", storage.SwapFilter{Party: alice, Role: domain.RoleInitiator}, []string{"s1", "s3"}},
		{"counterparty", storage.SwapFilter{Party: alice, Role: domain.RoleCounterparty}, []string{"s2"}},
		{"status", storage.SwapFilter{Party: alice, Status: &active}, []string{"s1", "s2"}},
		{"limit", storage.SwapFilter{Party: bob, Limit: 2}, []string{"s1", "s2"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			swaps, err := store.List(ctx, tt.filter)
			require.NoError(t, err)

			var ids []string
			for _, s := range swaps {
				ids = append(ids, s.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

package postgres

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"cosmossdk.io/math"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"swap-escrow/internal/domain"
	"swap-escrow/internal/domain/domaintest"
	"swap-escrow/internal/ledger"
)

func TestLedger_HoldReleaseRoundTrip(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	l := NewLedger(pool)
	tka := domaintest.Asset("TKA")

	// 10^24: beyond int64, within NUMERIC(78,0).
	big, ok := math.NewIntFromString("1000000000000000000000000")
	require.True(t, ok)

	require.NoError(t, l.Credit(ctx, alice, tka, big))
	require.NoError(t, l.Approve(ctx, alice, tka, big))

	amount := math.NewInt(100).Mul(math.NewInt(1_000_000_000_000_000_000))
	id, err := l.Hold(ctx, tka, alice, amount, "s1")
	require.NoError(t, err)

	b, err := l.Balance(ctx, alice, tka)
	require.NoError(t, err)
	assert.True(t, b.Free.Equal(big.Sub(amount)))
	assert.True(t, b.Held.Equal(amount))
	assert.True(t, b.Allowance.Equal(big.Sub(amount)))

	holds, err := l.HoldsByTag(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, holds, 1)
	assert.Equal(t, id, holds[0].ID)
	assert.Equal(t, alice, holds[0].Owner)

	require.NoError(t, l.Release(ctx, id, bob))

	bb, err := l.Balance(ctx, bob, tka)
	require.NoError(t, err)
	assert.True(t, bb.Free.Equal(amount))

	err = l.Release(ctx, id, bob)
	assert.ErrorIs(t, err, ledger.ErrHoldNotFound)
}

func TestLedger_HoldErrors(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	l := NewLedger(pool)
	tka := domaintest.Asset("TKA")

	_, err := l.Hold(ctx, tka, carol, math.NewInt(1), "s1")
	assert.ErrorIs(t, err, ledger.ErrNotAuthorized)

	require.NoError(t, l.Credit(ctx, alice, tka, math.NewInt(10)))
	_, err = l.Hold(ctx, tka, alice, math.NewInt(1), "s1")
	assert.ErrorIs(t, err, ledger.ErrNotAuthorized)

	require.NoError(t, l.Approve(ctx, alice, tka, math.NewInt(100)))
	_, err = l.Hold(ctx, tka, alice, math.NewInt(11), "s1")
	assert.ErrorIs(t, err, ledger.ErrInsufficientFunds)

	_, err = l.Hold(ctx, tka, alice, math.ZeroInt(), "s1")
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)
}

func TestLedger_AtomicallySharesTxWithSwapStore(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	l := NewLedger(pool)
	swaps := NewSwapStore(pool)
	tka := domaintest.Asset("TKA")
	tkb := domaintest.Asset("TKB")

	require.NoError(t, l.Credit(ctx, alice, tka, math.NewInt(1000)))
	require.NoError(t, l.Approve(ctx, alice, tka, math.NewInt(1000)))

	// The second hold fails, so neither the first hold nor the swap row survive.
	err := l.Atomically(ctx, func(ctx context.Context, c ledger.Custodian) error {
		h, err := c.Hold(ctx, tka, alice, math.NewInt(100), "s1")
		if err != nil {
			return err
		}
		s := newTestSwap("s1", alice, bob, t0)
		s.InputHolds = []domain.HoldID{h}
		if err := swaps.Insert(ctx, s, domain.NewSwapEvent(s, t0)); err != nil {
			return err
		}
		_, err = c.Hold(ctx, tkb, alice, math.NewInt(1), "s1")
		return err
	})
	require.ErrorIs(t, err, ledger.ErrNotAuthorized)

	_, err = swaps.GetByID(ctx, "s1")
	assert.Error(t, err)

	b, err := l.Balance(ctx, alice, tka)
	require.NoError(t, err)
	assert.Equal(t, "1000", b.Free.String())
	assert.True(t, b.Held.IsZero())

	holds, err := l.HoldsByTag(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, holds)
}

// crossHolds runs two units that hold the same two accounts in opposite
// order. Both take their first lock before either asks for the second, so
// the first attempts deadlock.
func crossHolds(t *testing.T, l *Ledger) [2]error {
	t.Helper()
	ctx := context.Background()
	tka, tkb := domaintest.Asset("TKA"), domaintest.Asset("TKB")
	for _, owner := range []domain.Identity{alice, bob} {
		for _, asset := range []domain.AssetID{tka, tkb} {
			require.NoError(t, l.Credit(ctx, owner, asset, math.NewInt(100)))
			require.NoError(t, l.Approve(ctx, owner, asset, math.NewInt(100)))
		}
	}

	type leg struct {
		owner domain.Identity
		asset domain.AssetID
	}
	orders := [2][2]leg{
		{{alice, tka}, {bob, tkb}},
		{{bob, tkb}, {alice, tka}},
	}
	ready := [2]chan struct{}{make(chan struct{}), make(chan struct{})}

	var (
		errs [2]error
		wg   sync.WaitGroup
	)
	for i := range orders {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var attempts atomic.Int32
			errs[i] = l.Atomically(ctx, func(ctx context.Context, c ledger.Custodian) error {
				first := orders[i][0]
				if _, err := c.Hold(ctx, first.asset, first.owner, math.NewInt(10), "cross"); err != nil {
					return err
				}
				if attempts.Add(1) == 1 {
					close(ready[i])
					select {
					case <-ready[1-i]:
					case <-time.After(10 * time.Second):
					}
				}
				second := orders[i][1]
				_, err := c.Hold(ctx, second.asset, second.owner, math.NewInt(10), "cross")
				return err
			})
		}(i)
	}
	wg.Wait()
	return errs
}

func TestLedger_AtomicallyRetriesDeadlock(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	l := NewLedger(pool)
	errs := crossHolds(t, l)
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	ctx := context.Background()
	a, err := l.Balance(ctx, alice, domaintest.Asset("TKA"))
	require.NoError(t, err)
	assert.Equal(t, "20", a.Held.String())
	assert.Equal(t, "80", a.Free.String())

	b, err := l.Balance(ctx, bob, domaintest.Asset("TKB"))
	require.NoError(t, err)
	assert.Equal(t, "20", b.Held.String())

	holds, err := l.HoldsByTag(ctx, "cross")
	require.NoError(t, err)
	assert.Len(t, holds, 4)
}

func TestLedger_AtomicallyReportsConflict(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	l := NewLedger(pool, WithConflictRetries(0))
	errs := crossHolds(t, l)

	var conflicts, succeeded int
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ledger.ErrConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, conflicts)

	// The aborted unit left nothing behind.
	holds, err := l.HoldsByTag(context.Background(), "cross")
	require.NoError(t, err)
	assert.Len(t, holds, 2)
}

func TestIsConflictError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"deadlock", fmt.Errorf("lock ledger account: %w", &pgconn.PgError{Code: "40P01"}), true},
		{"serialization", &pgconn.PgError{Code: "40001"}, true},
		{"unique violation", &pgconn.PgError{Code: "23505"}, false},
		{"plain", errors.New("boom"), false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isConflictError(tt.err))
		})
	}
}

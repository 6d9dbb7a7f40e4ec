package domain_test

import (
	"testing"
	"time"

	"cosmossdk.io/math"
	"github.com/stretchr/testify/assert"

	"swap-escrow/internal/domain"
	"swap-escrow/internal/domain/domaintest"
)

func TestSwapStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from, to domain.SwapStatus
		want     bool
	}{
		{domain.StatusActive, domain.StatusCompleted, true},
		{domain.StatusActive, domain.StatusCancelled, true},
		{domain.StatusActive, domain.StatusActive, false},
		{domain.StatusCompleted, domain.StatusCancelled, false},
		{domain.StatusCancelled, domain.StatusCompleted, false},
		{domain.StatusCompleted, domain.StatusActive, false},
		{domain.StatusCancelled, domain.StatusActive, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestSwap_RoleOfAndInvolves(t *testing.T) {
	alice := domaintest.Identity("alice")
	bob := domaintest.Identity("bob")
	carol := domaintest.Identity("carol")
	s := &domain.Swap{Initiator: alice, Counterparty: bob}

	assert.Equal(t, domain.RoleInitiator, s.RoleOf(alice))
	assert.Equal(t, domain.RoleCounterparty, s.RoleOf(bob))
	assert.Equal(t, domain.RoleAny, s.RoleOf(carol))

	assert.True(t, s.Involves(alice, domain.RoleAny))
	assert.True(t, s.Involves(alice, domain.RoleInitiator))
	assert.False(t, s.Involves(alice, domain.RoleCounterparty))
	assert.False(t, s.Involves(carol, domain.RoleAny))
}

func TestNewSwapView(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s := &domain.Swap{
		ID:       "swap1",
		Inputs:   domaintest.Basket("TKA", 100),
		Outputs:  domaintest.Basket("TKB", 50),
		Deadline: now.Add(time.Hour),
		Status:   domain.StatusActive,
	}

	v := domain.NewSwapView(s, now)
	assert.False(t, v.Expired)
	assert.Equal(t, "ACTIVE", v.DisplayStatus)

	// The deadline itself counts as expired.
	v = domain.NewSwapView(s, s.Deadline)
	assert.True(t, v.Expired)
	assert.Equal(t, domain.DisplayExpired, v.DisplayStatus)

	s.Status = domain.StatusCompleted
	v = domain.NewSwapView(s, now.Add(2*time.Hour))
	assert.True(t, v.Expired)
	assert.Equal(t, "COMPLETED", v.DisplayStatus)
}

func TestSwap_CloneIsDeep(t *testing.T) {
	resolved := time.Now()
	s := &domain.Swap{
		Inputs:     domaintest.Basket("TKA", 100),
		InputHolds: []domain.HoldID{"h1"},
		ResolvedAt: &resolved,
	}
	c := s.Clone()
	c.Inputs[0].Amount = math.NewInt(1)
	c.InputHolds[0] = "other"
	*c.ResolvedAt = resolved.Add(time.Hour)

	assert.Equal(t, int64(100), s.Inputs[0].Amount.Int64())
	assert.Equal(t, domain.HoldID("h1"), s.InputHolds[0])
	assert.Equal(t, resolved, *s.ResolvedAt)
}

func TestBasket_TotalsAndEqual(t *testing.T) {
	b := domaintest.Basket("TKA", 100, "TKB", 5, "TKA", 20)
	totals := b.Totals()
	assert.Equal(t, int64(120), totals[domaintest.Asset("TKA")].Int64())
	assert.Equal(t, int64(5), totals[domaintest.Asset("TKB")].Int64())

	assert.True(t, b.Equal(b.Clone()))
	assert.False(t, b.Equal(domaintest.Basket("TKA", 100)))
	assert.False(t, b.Equal(domaintest.Basket("TKA", 100, "TKB", 5, "TKA", 21)))
}

func TestAssetAmount_IsPositive(t *testing.T) {
	asset := domaintest.Asset("TKA")
	assert.True(t, domain.NewAssetAmount(asset, 1).IsPositive())
	assert.False(t, domain.NewAssetAmount(asset, 0).IsPositive())
	assert.False(t, domain.NewAssetAmount(asset, -3).IsPositive())
	assert.False(t, domain.AssetAmount{Asset: asset}.IsPositive())
}

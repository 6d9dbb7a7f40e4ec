// Package ledger defines the asset-transfer collaborator the escrow core
// drives: a custodian that can hold amounts out of an owner's free balance
// and release them to any recipient.
package ledger

import (
	"context"
	"errors"

	"cosmossdk.io/math"

	"swap-escrow/internal/domain"
)

// Custody errors.
var (
	// ErrInsufficientFunds is returned when the owner's free balance is below the amount.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrNotAuthorized is returned when the owner has not approved the escrow
	// to take the amount (allowance too low).
	ErrNotAuthorized = errors.New("not authorized")

	// ErrHoldNotFound is returned when releasing a hold that does not exist
	// or was already released.
	ErrHoldNotFound = errors.New("hold not found")

	// ErrInvalidAmount is returned for nil, zero or negative amounts.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrConflict is returned by Atomically when the unit kept colliding with
	// concurrent units (deadlock or serialization failure) and was rolled
	// back. Nothing was applied; the caller may retry.
	ErrConflict = errors.New("unit of work conflict")
)

// Custodian holds and releases amounts.
type Custodian interface {
	// Hold moves amount of asset out of owner's free balance into a hold
	// attributed to tag. Returns ErrInsufficientFunds or ErrNotAuthorized.
	Hold(ctx context.Context, asset domain.AssetID, owner domain.Identity, amount math.Int, tag string) (domain.HoldID, error)

	// Release removes the hold and credits its amount to to's free balance.
	// Returns ErrHoldNotFound if the hold does not exist.
	Release(ctx context.Context, id domain.HoldID, to domain.Identity) error
}

// Ledger is a Custodian that can group operations into an all-or-nothing unit.
type Ledger interface {
	Custodian

	// Atomically runs fn as one unit of work. If fn returns an error every
	// hold and release it performed is undone and the error is returned.
	// fn must use the ctx and Custodian it is given; implementations may
	// carry transaction state in ctx for stores sharing the same backend.
	// Implementations may run fn again after a rolled-back attempt, and
	// return ErrConflict when concurrent units kept aborting it.
	Atomically(ctx context.Context, fn func(ctx context.Context, c Custodian) error) error
}

// Balance is an owner's position in one asset.
type Balance struct {
	Owner     domain.Identity `json:"owner"`
	Asset     domain.AssetID  `json:"asset"`
	Free      math.Int        `json:"free"`
	Held      math.Int        `json:"held"`
	Allowance math.Int        `json:"allowance"`
}

// Accounts is the account-management surface of a ledger.
// The escrow core never calls it; servers, the demo and tests do.
type Accounts interface {
	// Credit adds amount to owner's free balance.
	Credit(ctx context.Context, owner domain.Identity, asset domain.AssetID, amount math.Int) error

	// Approve sets the amount of asset the escrow may hold from owner.
	Approve(ctx context.Context, owner domain.Identity, asset domain.AssetID, amount math.Int) error

	// Balance returns owner's position in asset. Unknown accounts are zero.
	Balance(ctx context.Context, owner domain.Identity, asset domain.AssetID) (*Balance, error)

	// HoldsByTag returns the outstanding holds attributed to tag, oldest first.
	HoldsByTag(ctx context.Context, tag string) ([]*domain.Hold, error)
}

// ValidAmount reports whether amount can be held, credited or approved.
func ValidAmount(amount math.Int) bool {
	return !amount.IsNil() && amount.IsPositive()
}

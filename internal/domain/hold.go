package domain

import (
	"time"

	"cosmossdk.io/math"
)

// HoldID identifies an amount held in custody by the ledger.
type HoldID string

// Hold is an amount removed from an owner's free balance and earmarked by tag.
type Hold struct {
	ID        HoldID
	Asset     AssetID
	Owner     Identity
	Amount    math.Int
	Tag       string    // swap id the hold is attributed to
	CreatedAt time.Time
}

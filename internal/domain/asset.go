package domain

import (
	"fmt"

	"cosmossdk.io/math"
)

// AssetAmount is a quantity of one asset in base units.
type AssetAmount struct {
	Asset  AssetID  `json:"asset"`
	Amount math.Int `json:"amount"`
}

// NewAssetAmount builds an AssetAmount from an int64 quantity.
func NewAssetAmount(asset AssetID, amount int64) AssetAmount {
	return AssetAmount{Asset: asset, Amount: math.NewInt(amount)}
}

// IsPositive reports whether the amount is set and strictly greater than zero.
func (a AssetAmount) IsPositive() bool {
	return !a.Amount.IsNil() && a.Amount.IsPositive()
}

// String formats the amount as "<amount> <asset>".
func (a AssetAmount) String() string {
	if a.Amount.IsNil() {
		return fmt.Sprintf("<nil> %s", a.Asset)
	}
	return fmt.Sprintf("%s %s", a.Amount, a.Asset)
}

// Basket is an ordered list of asset amounts one side offers or expects.
type Basket []AssetAmount

// Clone returns a copy of the basket. math.Int is immutable, so a shallow
// copy of each entry is enough.
func (b Basket) Clone() Basket {
	if b == nil {
		return nil
	}
	out := make(Basket, len(b))
	copy(out, b)
	return out
}

// Totals sums the basket per asset.
func (b Basket) Totals() map[AssetID]math.Int {
	totals := make(map[AssetID]math.Int, len(b))
	for _, entry := range b {
		if entry.Amount.IsNil() {
			continue
		}
		if cur, ok := totals[entry.Asset]; ok {
			totals[entry.Asset] = cur.Add(entry.Amount)
		} else {
			totals[entry.Asset] = entry.Amount
		}
	}
	return totals
}

// Equal reports whether both baskets hold the same entries in the same order.
func (b Basket) Equal(other Basket) bool {
	if len(b) != len(other) {
		return false
	}
	for i := range b {
		if b[i].Asset != other[i].Asset {
			return false
		}
		if b[i].Amount.IsNil() || other[i].Amount.IsNil() {
			if b[i].Amount.IsNil() != other[i].Amount.IsNil() {
				return false
			}
			continue
		}
		if !b[i].Amount.Equal(other[i].Amount) {
			return false
		}
	}
	return true
}

// Package domaintest provides deterministic identities and assets for tests.
package domaintest

import (
	"crypto/ed25519"
	"crypto/sha256"

	"github.com/mr-tron/base58"

	"swap-escrow/internal/domain"
)

// Identity derives a valid wallet identity from name.
func Identity(name string) domain.Identity {
	seed := sha256.Sum256([]byte("identity:" + name))
	priv := ed25519.NewKeyFromSeed(seed[:])
	return domain.IdentityFromPublicKey(priv.Public().(ed25519.PublicKey))
}

// Asset derives a valid asset id from symbol.
func Asset(symbol string) domain.AssetID {
	sum := sha256.Sum256([]byte("asset:" + symbol))
	return domain.AssetID(base58.Encode(sum[:]))
}

// Basket builds a basket from alternating symbol/amount pairs.
func Basket(pairs ...any) domain.Basket {
	if len(pairs)%2 != 0 {
		panic("domaintest.Basket: odd number of arguments")
	}
	out := make(domain.Basket, 0, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		symbol := pairs[i].(string)
		amount := pairs[i+1].(int)
		out = append(out, domain.NewAssetAmount(Asset(symbol), int64(amount)))
	}
	return out
}

package domain

import (
	"crypto/ed25519"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// keyLength is the decoded length of identities and asset ids.
const keyLength = 32

// Validation errors for identifiers.
var (
	// ErrMalformedIdentity is returned when an identity is not a base58 ed25519 public key.
	ErrMalformedIdentity = errors.New("malformed identity")

	// ErrMalformedAsset is returned when an asset id is not a base58 32-byte address.
	ErrMalformedAsset = errors.New("malformed asset id")
)

// Identity identifies a party: base58-encoded 32-byte ed25519 public key.
type Identity string

// ParseIdentity validates s and returns it as an Identity.
// The decoded bytes must be a point on the ed25519 curve; program-derived
// (off-curve) addresses cannot hold or receive escrowed assets.
func ParseIdentity(s string) (Identity, error) {
	if s == "" {
		return "", fmt.Errorf("%w: empty", ErrMalformedIdentity)
	}
	raw, err := base58.Decode(s)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedIdentity, err)
	}
	if len(raw) != keyLength {
		return "", fmt.Errorf("%w: decoded length %d, want %d", ErrMalformedIdentity, len(raw), keyLength)
	}
	if _, err := new(edwards25519.Point).SetBytes(raw); err != nil {
		return "", fmt.Errorf("%w: not an ed25519 public key", ErrMalformedIdentity)
	}
	return Identity(s), nil
}

// IdentityFromPublicKey encodes an ed25519 public key as an Identity.
func IdentityFromPublicKey(pub ed25519.PublicKey) Identity {
	return Identity(base58.Encode(pub))
}

// IsZero reports whether the identity is unset.
func (id Identity) IsZero() bool {
	return id == ""
}

// Validate checks that the identity is well-formed.
func (id Identity) Validate() error {
	_, err := ParseIdentity(string(id))
	return err
}

// String returns the string representation of Identity.
func (id Identity) String() string {
	return string(id)
}

// AssetID identifies a fungible asset (token mint address, base58).
type AssetID string

// ParseAssetID validates s and returns it as an AssetID.
func ParseAssetID(s string) (AssetID, error) {
	if s == "" {
		return "", fmt.Errorf("%w: empty", ErrMalformedAsset)
	}
	raw, err := base58.Decode(s)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedAsset, err)
	}
	if len(raw) != keyLength {
		return "", fmt.Errorf("%w: decoded length %d, want %d", ErrMalformedAsset, len(raw), keyLength)
	}
	return AssetID(s), nil
}

// Validate checks that the asset id is well-formed.
func (a AssetID) Validate() error {
	_, err := ParseAssetID(string(a))
	return err
}

// String returns the string representation of AssetID.
func (a AssetID) String() string {
	return string(a)
}

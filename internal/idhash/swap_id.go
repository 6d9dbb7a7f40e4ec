package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"

	"swap-escrow/internal/domain"
)

// ComputeSwapID computes a swap_id using SHA256.
// Formula: SHA256(initiator|counterparty|created_at_ns|nonce)
// Returns hex-encoded hash (64 characters).
// The nonce makes ids unique even for identical offers created in the same
// nanosecond; callers pass a fresh one per swap (see NewNonce).
func ComputeSwapID(
	initiator domain.Identity,
	counterparty domain.Identity,
	createdAtNs int64,
	nonce string,
) string {
	data := fmt.Sprintf("%s|%s|%d|%s",
		initiator,
		counterparty,
		createdAtNs,
		nonce,
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

// NewNonce returns a random nonce for ComputeSwapID.
func NewNonce() string {
	return uuid.NewString()
}

// IsSwapID reports whether s has the shape of a swap id.
func IsSwapID(s string) bool {
	if len(s) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

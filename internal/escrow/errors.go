package escrow

import (
	"errors"
	"fmt"

	errorsmod "cosmossdk.io/errors"

	"swap-escrow/internal/domain"
	"swap-escrow/internal/ledger"
)

// Codespace is the error codespace of the escrow module.
const Codespace = "escrow"

// Registered escrow errors. Codes are stable and travel over the HTTP API.
var (
	ErrInvalidCounterparty = errorsmod.Register(Codespace, 2, "invalid counterparty")
	ErrInvalidDeadline     = errorsmod.Register(Codespace, 3, "deadline must be in the future")
	ErrEmptyBasket         = errorsmod.Register(Codespace, 4, "basket must not be empty")
	ErrMismatchedBasket    = errorsmod.Register(Codespace, 5, "malformed basket")
	ErrNonPositiveAmount   = errorsmod.Register(Codespace, 6, "amount must be positive")
	ErrSwapNotFound        = errorsmod.Register(Codespace, 7, "swap not found")
	ErrSwapNotActive       = errorsmod.Register(Codespace, 8, "swap not active")
	ErrUnauthorized        = errorsmod.Register(Codespace, 9, "unauthorized")
	ErrDeadlineExpired     = errorsmod.Register(Codespace, 10, "deadline expired")
	ErrDeadlineNotExpired  = errorsmod.Register(Codespace, 11, "deadline not expired")
	ErrCustodyFailure      = errorsmod.Register(Codespace, 12, "custody failure")
)

// CustodyReason says why the ledger refused a hold.
type CustodyReason string

const (
	ReasonInsufficientFunds CustodyReason = "INSUFFICIENT_FUNDS"
	ReasonNotAuthorized     CustodyReason = "NOT_AUTHORIZED"
)

// CustodyError is returned when the ledger refuses to hold an amount.
// It matches ErrCustodyFailure with errors.Is and unwraps to the ledger error.
type CustodyError struct {
	Reason CustodyReason
	Asset  domain.AssetID
	Err    error
}

func (e *CustodyError) Error() string {
	return fmt.Sprintf("%s: %s (%s): %v", ErrCustodyFailure.Error(), e.Reason, e.Asset, e.Err)
}

func (e *CustodyError) Unwrap() error { return e.Err }

// Is reports whether target is ErrCustodyFailure.
func (e *CustodyError) Is(target error) bool {
	return target == ErrCustodyFailure
}

// ABCICode returns the registered code of ErrCustodyFailure.
func (e *CustodyError) ABCICode() uint32 { return ErrCustodyFailure.ABCICode() }

// Codespace returns the escrow codespace.
func (e *CustodyError) Codespace() string { return Codespace }

// custodyError maps a ledger hold error to a CustodyError.
// Errors that are not refusals are returned unchanged.
func custodyError(asset domain.AssetID, err error) error {
	switch {
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return &CustodyError{Reason: ReasonInsufficientFunds, Asset: asset, Err: err}
	case errors.Is(err, ledger.ErrNotAuthorized):
		return &CustodyError{Reason: ReasonNotAuthorized, Asset: asset, Err: err}
	default:
		return err
	}
}

// ErrorName returns a stable metric/log label for err.
func ErrorName(err error) string {
	var custody *CustodyError
	if errors.As(err, &custody) {
		return "custody_" + string(custody.Reason)
	}
	for name, target := range namedErrors {
		if errors.Is(err, target) {
			return name
		}
	}
	if errors.Is(err, ledger.ErrConflict) {
		return "conflict"
	}
	return "internal"
}

var namedErrors = map[string]error{
	"invalid_counterparty": ErrInvalidCounterparty,
	"invalid_deadline":     ErrInvalidDeadline,
	"empty_basket":         ErrEmptyBasket,
	"mismatched_basket":    ErrMismatchedBasket,
	"non_positive_amount":  ErrNonPositiveAmount,
	"swap_not_found":       ErrSwapNotFound,
	"swap_not_active":      ErrSwapNotActive,
	"unauthorized":         ErrUnauthorized,
	"deadline_expired":     ErrDeadlineExpired,
	"deadline_not_expired": ErrDeadlineNotExpired,
	"custody_failure":      ErrCustodyFailure,
}

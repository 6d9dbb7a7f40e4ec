package api

import (
	"errors"
	"net/http"

	errorsmod "cosmossdk.io/errors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"swap-escrow/internal/escrow"
	"swap-escrow/internal/ledger"
	"swap-escrow/internal/storage"
)

// ErrorBody is the JSON error envelope.
type ErrorBody struct {
	Code      uint32 `json:"code"`
	Codespace string `json:"codespace"`
	Name      string `json:"name"`
	Message   string `json:"message"`
	Reason    string `json:"reason,omitempty"`
}

// ErrorResponse wraps ErrorBody under "error".
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

var errorStatus = []struct {
	err    *errorsmod.Error
	status int
}{
	{escrow.ErrSwapNotFound, http.StatusNotFound},
	{escrow.ErrInvalidCounterparty, http.StatusBadRequest},
	{escrow.ErrInvalidDeadline, http.StatusBadRequest},
	{escrow.ErrEmptyBasket, http.StatusBadRequest},
	{escrow.ErrMismatchedBasket, http.StatusBadRequest},
	{escrow.ErrNonPositiveAmount, http.StatusBadRequest},
	{escrow.ErrUnauthorized, http.StatusForbidden},
	{escrow.ErrSwapNotActive, http.StatusConflict},
	{escrow.ErrDeadlineExpired, http.StatusConflict},
	{escrow.ErrDeadlineNotExpired, http.StatusConflict},
	{escrow.ErrCustodyFailure, http.StatusUnprocessableEntity},
}

// errorResponse maps err to an HTTP status and envelope.
// A ledger conflict becomes 503 so clients retry it. Unrecognised errors
// become 500 without leaking their text.
func errorResponse(err error) (int, ErrorResponse) {
	for _, e := range errorStatus {
		if !errors.Is(err, e.err) {
			continue
		}
		body := ErrorBody{
			Code:      e.err.ABCICode(),
			Codespace: e.err.Codespace(),
			Name:      escrow.ErrorName(err),
			Message:   err.Error(),
		}
		var custody *escrow.CustodyError
		if errors.As(err, &custody) {
			body.Reason = string(custody.Reason)
		}
		return e.status, ErrorResponse{Error: body}
	}

	if errors.Is(err, storage.ErrInvalidInput) || errors.Is(err, ledger.ErrInvalidAmount) {
		return http.StatusBadRequest, ErrorResponse{Error: ErrorBody{
			Name:    "invalid_input",
			Message: err.Error(),
		}}
	}

	if errors.Is(err, ledger.ErrConflict) {
		return http.StatusServiceUnavailable, ErrorResponse{Error: ErrorBody{
			Name:    "conflict",
			Message: "concurrent update, retry the request",
		}}
	}

	return http.StatusInternalServerError, ErrorResponse{Error: ErrorBody{
		Name:    "internal",
		Message: "internal error",
	}}
}

func (s *Server) fail(c *gin.Context, err error) {
	status, body := errorResponse(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("route", c.FullPath()),
			zap.Error(err),
		)
	}
	c.AbortWithStatusJSON(status, body)
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Error: ErrorBody{
		Name:    "invalid_input",
		Message: msg,
	}})
}

package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"cosmossdk.io/math"
	errorsmod "cosmossdk.io/errors"
	"github.com/gin-gonic/gin"

	"swap-escrow/internal/domain"
	"swap-escrow/internal/escrow"
	"swap-escrow/internal/storage"
)

// CreateSwapRequest is the body of POST /v1/swaps.
type CreateSwapRequest struct {
	Counterparty domain.Identity `json:"counterparty"`
	Inputs       domain.Basket   `json:"inputs"`
	Outputs      domain.Basket   `json:"outputs"`
	Deadline     time.Time       `json:"deadline"`
}

// CreateSwapResponse is returned by POST /v1/swaps.
type CreateSwapResponse struct {
	ID string `json:"id"`
}

// ListSwapsResponse is returned by GET /v1/swaps.
type ListSwapsResponse struct {
	Swaps []*domain.SwapView `json:"swaps"`
}

// ApprovalRequest is the body of POST /v1/accounts/approvals.
// The caller is the owner.
type ApprovalRequest struct {
	Asset  domain.AssetID `json:"asset"`
	Amount math.Int       `json:"amount"`
}

// CreditRequest is the body of POST /v1/accounts/credits.
type CreditRequest struct {
	Owner  domain.Identity `json:"owner"`
	Asset  domain.AssetID  `json:"asset"`
	Amount math.Int        `json:"amount"`
}

func (s *Server) createSwap(c *gin.Context) {
	var req CreateSwapRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}

	id, err := s.registry.Create(c.Request.Context(), caller(c), escrow.CreateRequest{
		Counterparty: req.Counterparty,
		Inputs:       req.Inputs,
		Outputs:      req.Outputs,
		Deadline:     req.Deadline,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, CreateSwapResponse{ID: id})
}

func (s *Server) executeSwap(c *gin.Context) {
	view, err := s.registry.Execute(c.Request.Context(), caller(c), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) cancelSwap(c *gin.Context) {
	view, err := s.registry.Cancel(c.Request.Context(), caller(c), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) getSwap(c *gin.Context) {
	view, err := s.registry.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// listSwaps serves GET /v1/swaps?party=&role=&status=&limit=
func (s *Server) listSwaps(c *gin.Context) {
	filter := storage.SwapFilter{
		Party: domain.Identity(c.Query("party")),
		Role:  domain.Role(strings.ToUpper(c.Query("role"))),
	}
	if raw := c.Query("status"); raw != "" {
		status := domain.SwapStatus(strings.ToUpper(raw))
		filter.Status = &status
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			badRequest(c, "limit must be a non-negative integer")
			return
		}
		filter.Limit = limit
	}

	views, err := s.registry.List(c.Request.Context(), filter)
	if err != nil {
		s.fail(c, err)
		return
	}
	if views == nil {
		views = []*domain.SwapView{}
	}
	c.JSON(http.StatusOK, ListSwapsResponse{Swaps: views})
}

func (s *Server) getBalance(c *gin.Context) {
	owner, err := domain.ParseIdentity(c.Param("owner"))
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	asset, err := domain.ParseAssetID(c.Param("asset"))
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	bal, err := s.accounts.Balance(c.Request.Context(), owner, asset)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, bal)
}

func (s *Server) approve(c *gin.Context) {
	owner, err := domain.ParseIdentity(string(caller(c)))
	if err != nil {
		s.fail(c, errorsmod.Wrapf(escrow.ErrUnauthorized, "caller: %v", err))
		return
	}

	var req ApprovalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	if err := req.Asset.Validate(); err != nil {
		badRequest(c, err.Error())
		return
	}
	if req.Amount.IsNil() || req.Amount.IsNegative() {
		badRequest(c, "amount must be zero or positive")
		return
	}

	ctx := c.Request.Context()
	if err := s.accounts.Approve(ctx, owner, req.Asset, req.Amount); err != nil {
		s.fail(c, err)
		return
	}
	bal, err := s.accounts.Balance(ctx, owner, req.Asset)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, bal)
}

// credit is the development faucet.
func (s *Server) credit(c *gin.Context) {
	var req CreditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	if err := req.Owner.Validate(); err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := req.Asset.Validate(); err != nil {
		badRequest(c, err.Error())
		return
	}

	ctx := c.Request.Context()
	if err := s.accounts.Credit(ctx, req.Owner, req.Asset, req.Amount); err != nil {
		s.fail(c, err)
		return
	}
	bal, err := s.accounts.Balance(ctx, req.Owner, req.Asset)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, bal)
}

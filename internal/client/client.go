// Package client is a Go client for the escrowd HTTP API and its event stream.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	errorsmod "cosmossdk.io/errors"
	"cosmossdk.io/math"

	"swap-escrow/internal/api"
	"swap-escrow/internal/domain"
	"swap-escrow/internal/escrow"
	"swap-escrow/internal/ledger"
)

// Default configuration values.
const (
	DefaultTimeout     = 30 * time.Second
	DefaultMaxRetries  = 3
	DefaultRetryDelay  = 500 * time.Millisecond
	DefaultMaxDelay    = 10 * time.Second
	DefaultBackoffMult = 2.0
)

// Client calls escrowd on behalf of one caller identity.
type Client struct {
	endpoint    string
	caller      domain.Identity
	client      *http.Client
	maxRetries  int
	retryDelay  time.Duration
	maxDelay    time.Duration
	backoffMult float64
}

// Option configures Client.
type Option func(*Client)

// WithCaller sets the identity sent in the caller header.
func WithCaller(id domain.Identity) Option {
	return func(c *Client) {
		c.caller = id
	}
}

// WithTimeout sets HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.client.Timeout = d
	}
}

// WithMaxRetries sets maximum retry attempts.
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		c.maxRetries = n
	}
}

// WithRetryDelay sets initial retry delay.
func WithRetryDelay(d time.Duration) Option {
	return func(c *Client) {
		c.retryDelay = d
	}
}

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.client = hc
	}
}

// New creates a client for the escrowd base URL, e.g. http://localhost:8080.
func New(endpoint string, opts ...Option) *Client {
	c := &Client{
		endpoint:    strings.TrimRight(endpoint, "/"),
		client:      &http.Client{Timeout: DefaultTimeout},
		maxRetries:  DefaultMaxRetries,
		retryDelay:  DefaultRetryDelay,
		maxDelay:    DefaultMaxDelay,
		backoffMult: DefaultBackoffMult,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// As returns a copy of the client acting as id.
func (c *Client) As(id domain.Identity) *Client {
	cp := *c
	cp.caller = id
	return &cp
}

// APIError is a non-2xx response. It unwraps to the registered escrow
// error with the same code, so errors.Is(err, escrow.ErrSwapNotActive) works.
type APIError struct {
	Status int
	Body   api.ErrorBody
}

func (e *APIError) Error() string {
	return fmt.Sprintf("escrowd %d %s: %s", e.Status, e.Body.Name, e.Body.Message)
}

// Unwrap returns the matching registered error, or nil.
func (e *APIError) Unwrap() error {
	if e.Body.Codespace != escrow.Codespace {
		return nil
	}
	if err, ok := registered[e.Body.Code]; ok {
		return err
	}
	return nil
}

var registered = map[uint32]*errorsmod.Error{}

func init() {
	for _, err := range []*errorsmod.Error{
		escrow.ErrInvalidCounterparty,
		escrow.ErrInvalidDeadline,
		escrow.ErrEmptyBasket,
		escrow.ErrMismatchedBasket,
		escrow.ErrNonPositiveAmount,
		escrow.ErrSwapNotFound,
		escrow.ErrSwapNotActive,
		escrow.ErrUnauthorized,
		escrow.ErrDeadlineExpired,
		escrow.ErrDeadlineNotExpired,
		escrow.ErrCustodyFailure,
	} {
		registered[err.ABCICode()] = err
	}
}

// CreateSwap creates a swap and returns its id. It is not retried once the
// request may have reached the server.
func (c *Client) CreateSwap(ctx context.Context, req api.CreateSwapRequest) (string, error) {
	var resp api.CreateSwapResponse
	if err := c.do(ctx, http.MethodPost, "/v1/swaps", req, &resp, false); err != nil {
		return "", err
	}
	return resp.ID, nil
}

// ExecuteSwap completes the swap as the counterparty.
func (c *Client) ExecuteSwap(ctx context.Context, id string) (*domain.SwapView, error) {
	var view domain.SwapView
	if err := c.do(ctx, http.MethodPost, "/v1/swaps/"+url.PathEscape(id)+"/execute", nil, &view, true); err != nil {
		return nil, err
	}
	return &view, nil
}

// CancelSwap cancels the swap.
func (c *Client) CancelSwap(ctx context.Context, id string) (*domain.SwapView, error) {
	var view domain.SwapView
	if err := c.do(ctx, http.MethodPost, "/v1/swaps/"+url.PathEscape(id)+"/cancel", nil, &view, true); err != nil {
		return nil, err
	}
	return &view, nil
}

// GetSwap fetches one swap.
func (c *Client) GetSwap(ctx context.Context, id string) (*domain.SwapView, error) {
	var view domain.SwapView
	if err := c.do(ctx, http.MethodGet, "/v1/swaps/"+url.PathEscape(id), nil, &view, true); err != nil {
		return nil, err
	}
	return &view, nil
}

// ListFilter selects swaps for ListSwaps. Empty fields are omitted.
type ListFilter struct {
	Party  domain.Identity
	Role   domain.Role
	Status domain.SwapStatus
	Limit  int
}

// ListSwaps lists the swaps a party takes part in.
func (c *Client) ListSwaps(ctx context.Context, f ListFilter) ([]*domain.SwapView, error) {
	q := url.Values{}
	q.Set("party", string(f.Party))
	if f.Role != domain.RoleAny {
		q.Set("role", string(f.Role))
	}
	if f.Status != "" {
		q.Set("status", string(f.Status))
	}
	if f.Limit > 0 {
		q.Set("limit", fmt.Sprint(f.Limit))
	}

	var resp api.ListSwapsResponse
	if err := c.do(ctx, http.MethodGet, "/v1/swaps?"+q.Encode(), nil, &resp, true); err != nil {
		return nil, err
	}
	return resp.Swaps, nil
}

// Balance returns owner's position in asset.
func (c *Client) Balance(ctx context.Context, owner domain.Identity, asset domain.AssetID) (*ledger.Balance, error) {
	var bal ledger.Balance
	path := fmt.Sprintf("/v1/accounts/%s/balances/%s", url.PathEscape(string(owner)), url.PathEscape(string(asset)))
	if err := c.do(ctx, http.MethodGet, path, nil, &bal, true); err != nil {
		return nil, err
	}
	return &bal, nil
}

// Approve sets the caller's allowance for asset.
func (c *Client) Approve(ctx context.Context, asset domain.AssetID, amount math.Int) (*ledger.Balance, error) {
	var bal ledger.Balance
	req := api.ApprovalRequest{Asset: asset, Amount: amount}
	if err := c.do(ctx, http.MethodPost, "/v1/accounts/approvals", req, &bal, true); err != nil {
		return nil, err
	}
	return &bal, nil
}

// Credit uses the development faucet. Retrying could credit twice.
func (c *Client) Credit(ctx context.Context, owner domain.Identity, asset domain.AssetID, amount math.Int) (*ledger.Balance, error) {
	var bal ledger.Balance
	req := api.CreditRequest{Owner: owner, Asset: asset, Amount: amount}
	if err := c.do(ctx, http.MethodPost, "/v1/accounts/credits", req, &bal, false); err != nil {
		return nil, err
	}
	return &bal, nil
}

// do performs one API call with retries and exponential backoff.
// Transport errors and 5xx are retried only when retryAll is set;
// 429 and 503 are always retried. API errors are returned as *APIError.
func (c *Client) do(ctx context.Context, method, path string, in, out any, retryAll bool) error {
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}

	delay := c.retryDelay
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * c.backoffMult)
			if delay > c.maxDelay {
				delay = c.maxDelay
			}
		}

		req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.caller != "" {
			req.Header.Set(api.CallerHeader, string(c.caller))
		}

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("http request: %w", err)
			if !retryAll || ctx.Err() != nil {
				return lastErr
			}
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			if !retryAll {
				return lastErr
			}
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			if out == nil {
				return nil
			}
			if err := json.Unmarshal(respBody, out); err != nil {
				return fmt.Errorf("unmarshal response: %w", err)
			}
			return nil
		}

		apiErr := decodeError(resp.StatusCode, respBody)
		switch {
		case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode == http.StatusServiceUnavailable:
			lastErr = apiErr
			continue
		case resp.StatusCode >= 500 && retryAll:
			lastErr = apiErr
			continue
		default:
			return apiErr
		}
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

func decodeError(status int, body []byte) *APIError {
	var resp api.ErrorResponse
	if err := json.Unmarshal(body, &resp); err != nil || resp.Error.Name == "" {
		return &APIError{Status: status, Body: api.ErrorBody{
			Name:    http.StatusText(status),
			Message: strings.TrimSpace(string(body)),
		}}
	}
	return &APIError{Status: status, Body: resp.Error}
}

// IsCustodyReason reports whether err is a custody failure with reason.
func IsCustodyReason(err error, reason escrow.CustodyReason) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return errors.Is(apiErr, escrow.ErrCustodyFailure) && apiErr.Body.Reason == string(reason)
}

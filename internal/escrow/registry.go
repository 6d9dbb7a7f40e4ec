// Package escrow implements the swap registry: the state machine that
// creates, executes and cancels basket swaps and drives custody through
// a ledger.Ledger.
//
// Every mutating operation on one swap runs under that swap's lock and
// inside a single ledger unit of work. Holds, releases, the status
// transition and the outbox event therefore commit or roll back together.
package escrow

import (
	"context"
	"errors"
	"fmt"
	"time"

	errorsmod "cosmossdk.io/errors"
	"go.uber.org/zap"

	"swap-escrow/internal/domain"
	"swap-escrow/internal/idhash"
	"swap-escrow/internal/ledger"
	"swap-escrow/internal/observability"
	"swap-escrow/internal/storage"
)

// DefaultMaxBasketSize bounds the entries of one basket.
const DefaultMaxBasketSize = 32

// CreateRequest is the caller-supplied part of a new swap.
type CreateRequest struct {
	Counterparty domain.Identity
	Inputs       domain.Basket
	Outputs      domain.Basket
	Deadline     time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock sets the time source. Defaults to time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Registry) { r.logger = logger }
}

// WithMaxBasketSize bounds basket length. Zero or less disables the bound.
func WithMaxBasketSize(n int) Option {
	return func(r *Registry) { r.maxBasketSize = n }
}

// Registry owns swap records and enforces the swap lifecycle.
type Registry struct {
	ledger        ledger.Ledger
	swaps         storage.SwapStore
	locks         *lockTable
	now           func() time.Time
	logger        *zap.Logger
	maxBasketSize int
}

// NewRegistry creates a registry over the given ledger and store.
// The store must take part in the ledger's units of work (see ledger.Ledger).
func NewRegistry(l ledger.Ledger, swaps storage.SwapStore, opts ...Option) *Registry {
	r := &Registry{
		ledger:        l,
		swaps:         swaps,
		locks:         newLockTable(),
		now:           time.Now,
		logger:        zap.NewNop(),
		maxBasketSize: DefaultMaxBasketSize,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create validates req, holds every input entry from caller and stores the
// new swap as ACTIVE. Returns the swap id. The request preconditions are
// checked first; a malformed caller then fails with ErrUnauthorized.
func (r *Registry) Create(ctx context.Context, caller domain.Identity, req CreateRequest) (string, error) {
	id, err := r.create(ctx, caller, req)
	if err != nil {
		r.reject("create", id, caller, err)
		return "", err
	}

	observability.RecordSwapCreated()
	r.logger.Info("swap created",
		zap.String("swap_id", id),
		zap.String("initiator", caller.String()),
		zap.String("counterparty", req.Counterparty.String()),
		zap.Int("inputs", len(req.Inputs)),
		zap.Int("outputs", len(req.Outputs)),
		zap.Time("deadline", req.Deadline),
	)
	return id, nil
}

func (r *Registry) create(ctx context.Context, caller domain.Identity, req CreateRequest) (string, error) {
	now := r.now()
	if err := r.validateCreate(caller, req, now); err != nil {
		return "", err
	}
	if err := caller.Validate(); err != nil {
		return "", errorsmod.Wrap(ErrUnauthorized, "caller identity")
	}

	swap := &domain.Swap{
		ID:           idhash.ComputeSwapID(caller, req.Counterparty, now.UnixNano(), idhash.NewNonce()),
		Initiator:    caller,
		Counterparty: req.Counterparty,
		Inputs:       req.Inputs.Clone(),
		Outputs:      req.Outputs.Clone(),
		Deadline:     req.Deadline,
		Status:       domain.StatusActive,
		CreatedAt:    now,
	}

	start := time.Now()
	err := r.ledger.Atomically(ctx, func(ctx context.Context, c ledger.Custodian) error {
		holds, err := holdBasket(ctx, c, swap.Inputs, caller, swap.ID)
		if err != nil {
			return err
		}
		swap.InputHolds = holds

		if err := r.swaps.Insert(ctx, swap, domain.NewSwapEvent(swap, now)); err != nil {
			return fmt.Errorf("insert swap %s: %w", swap.ID, err)
		}
		return nil
	})
	observability.ObserveUnitOfWork("create", start)
	if err != nil {
		return swap.ID, err
	}
	return swap.ID, nil
}

// validateCreate checks the creation preconditions in order; the first failure wins.
func (r *Registry) validateCreate(caller domain.Identity, req CreateRequest, now time.Time) error {
	if req.Counterparty.IsZero() {
		return errorsmod.Wrap(ErrInvalidCounterparty, "counterparty is empty")
	}
	if err := req.Counterparty.Validate(); err != nil {
		return errorsmod.Wrap(ErrInvalidCounterparty, err.Error())
	}
	if req.Counterparty == caller {
		return errorsmod.Wrap(ErrInvalidCounterparty, "counterparty is the initiator")
	}

	if !req.Deadline.After(now) {
		return errorsmod.Wrapf(ErrInvalidDeadline, "deadline %s is not after %s",
			req.Deadline.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano))
	}

	if len(req.Inputs) == 0 {
		return errorsmod.Wrap(ErrEmptyBasket, "inputs")
	}
	if len(req.Outputs) == 0 {
		return errorsmod.Wrap(ErrEmptyBasket, "outputs")
	}

	if err := r.validateBasket("inputs", req.Inputs); err != nil {
		return err
	}
	return r.validateBasket("outputs", req.Outputs)
}

func (r *Registry) validateBasket(side string, b domain.Basket) error {
	if r.maxBasketSize > 0 && len(b) > r.maxBasketSize {
		return errorsmod.Wrapf(ErrMismatchedBasket, "%s: %d entries, at most %d", side, len(b), r.maxBasketSize)
	}
	for i, entry := range b {
		if !entry.IsPositive() {
			return errorsmod.Wrapf(ErrNonPositiveAmount, "%s[%d]", side, i)
		}
		if err := entry.Asset.Validate(); err != nil {
			return errorsmod.Wrapf(ErrMismatchedBasket, "%s[%d]: %v", side, i, err)
		}
	}
	return nil
}

// Execute completes an ACTIVE swap on behalf of its counterparty: the
// outputs are taken from caller and paid to the initiator, and the held
// inputs are paid to the counterparty.
func (r *Registry) Execute(ctx context.Context, caller domain.Identity, id string) (*domain.SwapView, error) {
	unlock := r.locks.lock(id)
	defer unlock()

	var (
		swap *domain.Swap
		now  time.Time
	)
	start := time.Now()
	err := r.ledger.Atomically(ctx, func(ctx context.Context, c ledger.Custodian) error {
		var err error
		swap, err = r.loadActive(ctx, id)
		if err != nil {
			return err
		}
		if caller != swap.Counterparty {
			return errorsmod.Wrapf(ErrUnauthorized, "only the counterparty can execute swap %s", id)
		}
		now = r.now()
		if swap.IsExpired(now) {
			return errorsmod.Wrapf(ErrDeadlineExpired, "swap %s expired at %s", id, swap.Deadline.Format(time.RFC3339Nano))
		}

		outputHolds, err := holdBasket(ctx, c, swap.Outputs, caller, id)
		if err != nil {
			return err
		}
		if err := releaseAll(ctx, c, swap.InputHolds, swap.Counterparty); err != nil {
			return fmt.Errorf("pay inputs of %s: %w", id, err)
		}
		if err := releaseAll(ctx, c, outputHolds, swap.Initiator); err != nil {
			return fmt.Errorf("pay outputs of %s: %w", id, err)
		}

		return r.transition(ctx, swap, domain.StatusCompleted, now)
	})
	observability.ObserveUnitOfWork("execute", start)
	if err != nil {
		r.reject("execute", id, caller, err)
		return nil, err
	}

	observability.RecordTransition(domain.StatusCompleted.String())
	r.logger.Info("swap completed",
		zap.String("swap_id", id),
		zap.String("initiator", swap.Initiator.String()),
		zap.String("counterparty", swap.Counterparty.String()),
	)
	return domain.NewSwapView(swap, now), nil
}

// Cancel returns the held inputs of an ACTIVE swap to its initiator.
// The initiator may cancel at any time, the counterparty only once the
// deadline has passed.
func (r *Registry) Cancel(ctx context.Context, caller domain.Identity, id string) (*domain.SwapView, error) {
	unlock := r.locks.lock(id)
	defer unlock()

	var (
		swap *domain.Swap
		now  time.Time
	)
	start := time.Now()
	err := r.ledger.Atomically(ctx, func(ctx context.Context, c ledger.Custodian) error {
		var err error
		swap, err = r.loadActive(ctx, id)
		if err != nil {
			return err
		}
		now = r.now()
		switch caller {
		case swap.Initiator:
		case swap.Counterparty:
			if !swap.IsExpired(now) {
				return errorsmod.Wrapf(ErrDeadlineNotExpired, "counterparty may cancel swap %s from %s", id, swap.Deadline.Format(time.RFC3339Nano))
			}
		default:
			return errorsmod.Wrapf(ErrUnauthorized, "caller is not a party of swap %s", id)
		}

		if err := releaseAll(ctx, c, swap.InputHolds, swap.Initiator); err != nil {
			return fmt.Errorf("refund inputs of %s: %w", id, err)
		}

		return r.transition(ctx, swap, domain.StatusCancelled, now)
	})
	observability.ObserveUnitOfWork("cancel", start)
	if err != nil {
		r.reject("cancel", id, caller, err)
		return nil, err
	}

	observability.RecordTransition(domain.StatusCancelled.String())
	r.logger.Info("swap cancelled",
		zap.String("swap_id", id),
		zap.String("initiator", swap.Initiator.String()),
		zap.String("counterparty", swap.Counterparty.String()),
		zap.String("cancelled_by", string(swap.RoleOf(caller))),
	)
	return domain.NewSwapView(swap, now), nil
}

// Get returns the swap with its read-time fields. No authorization.
func (r *Registry) Get(ctx context.Context, id string) (*domain.SwapView, error) {
	swap, err := r.swaps.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, errorsmod.Wrapf(ErrSwapNotFound, "swap %s", id)
		}
		return nil, fmt.Errorf("get swap %s: %w", id, err)
	}
	return domain.NewSwapView(swap, r.now()), nil
}

// List returns the swaps a party takes part in, oldest first.
func (r *Registry) List(ctx context.Context, filter storage.SwapFilter) ([]*domain.SwapView, error) {
	if err := filter.Party.Validate(); err != nil {
		return nil, fmt.Errorf("list swaps: party: %v: %w", err, storage.ErrInvalidInput)
	}
	if !filter.Role.IsValid() {
		return nil, fmt.Errorf("list swaps: role %q: %w", filter.Role, storage.ErrInvalidInput)
	}
	if filter.Status != nil && !filter.Status.IsValid() {
		return nil, fmt.Errorf("list swaps: status %q: %w", *filter.Status, storage.ErrInvalidInput)
	}

	swaps, err := r.swaps.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list swaps: %w", err)
	}

	now := r.now()
	views := make([]*domain.SwapView, len(swaps))
	for i, s := range swaps {
		views[i] = domain.NewSwapView(s, now)
	}
	return views, nil
}

// loadActive reads and locks swap id, and checks it is ACTIVE.
func (r *Registry) loadActive(ctx context.Context, id string) (*domain.Swap, error) {
	swap, err := r.swaps.GetForUpdate(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, errorsmod.Wrapf(ErrSwapNotFound, "swap %s", id)
		}
		return nil, fmt.Errorf("load swap %s: %w", id, err)
	}
	if swap.Status != domain.StatusActive {
		return nil, errorsmod.Wrapf(ErrSwapNotActive, "swap %s is %s", id, swap.Status)
	}
	if len(swap.InputHolds) != len(swap.Inputs) {
		return nil, fmt.Errorf("swap %s: %d input holds for %d inputs", id, len(swap.InputHolds), len(swap.Inputs))
	}
	return swap, nil
}

// transition sets swap to status and records it with its event.
func (r *Registry) transition(ctx context.Context, swap *domain.Swap, to domain.SwapStatus, at time.Time) error {
	from := swap.Status
	swap.Status = to
	resolved := at
	swap.ResolvedAt = &resolved

	err := r.swaps.Transition(ctx, swap.ID, from, to, at, domain.NewSwapEvent(swap, at))
	if errors.Is(err, storage.ErrStaleStatus) {
		return errorsmod.Wrapf(ErrSwapNotActive, "swap %s changed concurrently", swap.ID)
	}
	if err != nil {
		return fmt.Errorf("transition swap %s to %s: %w", swap.ID, to, err)
	}
	return nil
}

// reject records a failed operation.
func (r *Registry) reject(op, id string, caller domain.Identity, err error) {
	name := ErrorName(err)
	observability.RecordRejection(op, name)

	fields := []zap.Field{
		zap.String("operation", op),
		zap.String("swap_id", id),
		zap.String("caller", caller.String()),
		zap.Error(err),
	}

	var custody *CustodyError
	switch {
	case errors.As(err, &custody):
		observability.RecordCustodyFailure(string(custody.Reason))
		r.logger.Warn("custody refused", append(fields, zap.String("asset", custody.Asset.String()))...)
	case name == "conflict":
		r.logger.Warn("swap operation conflicted with concurrent units", fields...)
	case name == "internal":
		r.logger.Error("swap operation failed", fields...)
	default:
		r.logger.Debug("swap operation rejected", fields...)
	}
}

// holdBasket holds every entry of b from owner, tagged with swapID.
func holdBasket(ctx context.Context, c ledger.Custodian, b domain.Basket, owner domain.Identity, swapID string) ([]domain.HoldID, error) {
	holds := make([]domain.HoldID, 0, len(b))
	for _, entry := range b {
		h, err := c.Hold(ctx, entry.Asset, owner, entry.Amount, swapID)
		if err != nil {
			return nil, custodyError(entry.Asset, err)
		}
		holds = append(holds, h)
	}
	return holds, nil
}

// releaseAll releases every hold to to.
func releaseAll(ctx context.Context, c ledger.Custodian, holds []domain.HoldID, to domain.Identity) error {
	for _, h := range holds {
		if err := c.Release(ctx, h, to); err != nil {
			return err
		}
	}
	return nil
}

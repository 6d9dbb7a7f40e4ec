package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cosmossdk.io/math"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"swap-escrow/internal/domain"
	"swap-escrow/internal/ledger"
)

// DefaultConflictRetries is how many times Atomically re-runs a unit that
// was aborted by a deadlock or serialization failure.
const DefaultConflictRetries = 3

// Ledger implements ledger.Ledger and ledger.Accounts on PostgreSQL.
// Amounts are NUMERIC(78,0) columns, exchanged with the driver as text.
// Atomically opens a transaction that SwapStore and SwapEventStore built
// on the same Pool join through ctx.
type Ledger struct {
	pool    *Pool
	retries uint64
}

// LedgerOption configures a Ledger.
type LedgerOption func(*Ledger)

// WithConflictRetries sets how many times a conflicting unit is re-run.
// Zero disables retries.
func WithConflictRetries(n uint64) LedgerOption {
	return func(l *Ledger) { l.retries = n }
}

// NewLedger creates a new Ledger.
func NewLedger(pool *Pool, opts ...LedgerOption) *Ledger {
	l := &Ledger{pool: pool, retries: DefaultConflictRetries}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Compile-time interface checks.
var (
	_ ledger.Ledger   = (*Ledger)(nil)
	_ ledger.Accounts = (*Ledger)(nil)
)

// Atomically runs fn in one transaction. Account rows are locked in the
// order fn touches them, so units moving the same assets in opposite
// directions can deadlock; PostgreSQL aborts one of them and the whole unit
// is re-run with backoff. fn must therefore be safe to call again. When the
// retries are exhausted the error wraps ledger.ErrConflict.
// Inside an outer transaction fn runs once and conflicts are left to the
// outermost unit.
func (l *Ledger) Atomically(ctx context.Context, fn func(ctx context.Context, c ledger.Custodian) error) error {
	run := func() error {
		return l.pool.InTx(ctx, func(ctx context.Context) error {
			return fn(ctx, l)
		})
	}
	if inTx(ctx) {
		return run()
	}

	op := func() error {
		err := run()
		if err != nil && !isConflictError(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 20 * time.Millisecond
	policy.MaxInterval = 500 * time.Millisecond
	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(policy, l.retries), ctx))
	if isConflictError(err) {
		return fmt.Errorf("%w: %w", ledger.ErrConflict, err)
	}
	return err
}

// Hold moves amount out of owner's free balance and allowance into a new hold.
func (l *Ledger) Hold(ctx context.Context, asset domain.AssetID, owner domain.Identity, amount math.Int, tag string) (domain.HoldID, error) {
	if !ledger.ValidAmount(amount) {
		return "", ledger.ErrInvalidAmount
	}

	id := domain.HoldID(uuid.NewString())
	err := l.pool.InTx(ctx, func(ctx context.Context) error {
		db := l.pool.DB(ctx)

		var freeText, allowanceText string
		err := db.QueryRow(ctx, `
			SELECT free::text, allowance::text
			FROM ledger_accounts
			WHERE owner = $1 AND asset = $2
			FOR UPDATE
		`, string(owner), string(asset)).Scan(&freeText, &allowanceText)
		if err != nil {
			if isNotFoundError(err) {
				return fmt.Errorf("hold %s of %s from %s: no account: %w", amount, asset, owner, ledger.ErrNotAuthorized)
			}
			return fmt.Errorf("lock ledger account: %w", err)
		}

		free, err := parseAmount(freeText)
		if err != nil {
			return err
		}
		allowance, err := parseAmount(allowanceText)
		if err != nil {
			return err
		}

		if allowance.LT(amount) {
			return fmt.Errorf("hold %s of %s from %s: allowance %s: %w", amount, asset, owner, allowance, ledger.ErrNotAuthorized)
		}
		if free.LT(amount) {
			return fmt.Errorf("hold %s of %s from %s: balance %s: %w", amount, asset, owner, free, ledger.ErrInsufficientFunds)
		}

		_, err = db.Exec(ctx, `
			UPDATE ledger_accounts
			SET free = free - $3::text::numeric, allowance = allowance - $3::text::numeric
			WHERE owner = $1 AND asset = $2
		`, string(owner), string(asset), amount.String())
		if err != nil {
			return fmt.Errorf("debit ledger account: %w", err)
		}

		_, err = db.Exec(ctx, `
			INSERT INTO ledger_holds (id, asset, owner, amount, tag)
			VALUES ($1, $2, $3, $4::text::numeric, $5)
		`, string(id), string(asset), string(owner), amount.String(), tag)
		if err != nil {
			return fmt.Errorf("insert hold: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// Release deletes the hold and credits its amount to to.
func (l *Ledger) Release(ctx context.Context, id domain.HoldID, to domain.Identity) error {
	return l.pool.InTx(ctx, func(ctx context.Context) error {
		var asset, amountText string
		err := l.pool.DB(ctx).QueryRow(ctx,
			`DELETE FROM ledger_holds WHERE id = $1 RETURNING asset, amount::text`, string(id),
		).Scan(&asset, &amountText)
		if err != nil {
			if isNotFoundError(err) {
				return fmt.Errorf("release %s: %w", id, ledger.ErrHoldNotFound)
			}
			return fmt.Errorf("delete hold: %w", err)
		}

		return l.credit(ctx, to, domain.AssetID(asset), amountText)
	})
}

// Credit adds amount to owner's free balance.
func (l *Ledger) Credit(ctx context.Context, owner domain.Identity, asset domain.AssetID, amount math.Int) error {
	if !ledger.ValidAmount(amount) {
		return ledger.ErrInvalidAmount
	}
	return l.credit(ctx, owner, asset, amount.String())
}

func (l *Ledger) credit(ctx context.Context, owner domain.Identity, asset domain.AssetID, amount string) error {
	_, err := l.pool.DB(ctx).Exec(ctx, `
		INSERT INTO ledger_accounts (owner, asset, free)
		VALUES ($1, $2, $3::text::numeric)
		ON CONFLICT (owner, asset) DO UPDATE SET free = ledger_accounts.free + EXCLUDED.free
	`, string(owner), string(asset), amount)
	if err != nil {
		return fmt.Errorf("credit ledger account: %w", err)
	}
	return nil
}

// Approve sets the allowance of asset the escrow may hold from owner.
// A zero amount revokes the allowance.
func (l *Ledger) Approve(ctx context.Context, owner domain.Identity, asset domain.AssetID, amount math.Int) error {
	if amount.IsNil() || amount.IsNegative() {
		return ledger.ErrInvalidAmount
	}

	_, err := l.pool.DB(ctx).Exec(ctx, `
		INSERT INTO ledger_accounts (owner, asset, allowance)
		VALUES ($1, $2, $3::text::numeric)
		ON CONFLICT (owner, asset) DO UPDATE SET allowance = EXCLUDED.allowance
	`, string(owner), string(asset), amount.String())
	if err != nil {
		return fmt.Errorf("approve ledger allowance: %w", err)
	}
	return nil
}

// Balance returns owner's position in asset. Unknown accounts are zero.
func (l *Ledger) Balance(ctx context.Context, owner domain.Identity, asset domain.AssetID) (*ledger.Balance, error) {
	var freeText, allowanceText, heldText string
	err := l.pool.DB(ctx).QueryRow(ctx, `
		SELECT
			COALESCE((SELECT free FROM ledger_accounts WHERE owner = $1 AND asset = $2), 0)::text,
			COALESCE((SELECT allowance FROM ledger_accounts WHERE owner = $1 AND asset = $2), 0)::text,
			COALESCE((SELECT SUM(amount) FROM ledger_holds WHERE owner = $1 AND asset = $2), 0)::text
	`, string(owner), string(asset)).Scan(&freeText, &allowanceText, &heldText)
	if err != nil {
		return nil, fmt.Errorf("get ledger balance: %w", err)
	}

	b := &ledger.Balance{Owner: owner, Asset: asset}
	if b.Free, err = parseAmount(freeText); err != nil {
		return nil, err
	}
	if b.Allowance, err = parseAmount(allowanceText); err != nil {
		return nil, err
	}
	if b.Held, err = parseAmount(heldText); err != nil {
		return nil, err
	}
	return b, nil
}

// HoldsByTag returns the outstanding holds attributed to tag, oldest first.
func (l *Ledger) HoldsByTag(ctx context.Context, tag string) ([]*domain.Hold, error) {
	rows, err := l.pool.DB(ctx).Query(ctx, `
		SELECT id, asset, owner, amount::text, tag, created_at
		FROM ledger_holds
		WHERE tag = $1
		ORDER BY seq ASC
	`, tag)
	if err != nil {
		return nil, fmt.Errorf("get holds by tag: %w", err)
	}
	defer rows.Close()

	var holds []*domain.Hold
	for rows.Next() {
		var (
			h                        domain.Hold
			id, asset, owner, amount string
		)
		if err := rows.Scan(&id, &asset, &owner, &amount, &h.Tag, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan hold row: %w", err)
		}
		h.ID = domain.HoldID(id)
		h.Asset = domain.AssetID(asset)
		h.Owner = domain.Identity(owner)
		if h.Amount, err = parseAmount(amount); err != nil {
			return nil, err
		}
		holds = append(holds, &h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate hold rows: %w", err)
	}
	return holds, nil
}

var errBadNumeric = errors.New("malformed numeric")

// parseAmount parses a NUMERIC rendered as text.
func parseAmount(s string) (math.Int, error) {
	v, ok := math.NewIntFromString(s)
	if !ok {
		return math.Int{}, fmt.Errorf("parse amount %q: %w", s, errBadNumeric)
	}
	return v, nil
}

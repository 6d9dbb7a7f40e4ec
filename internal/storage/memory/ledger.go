package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"cosmossdk.io/math"
	"github.com/google/uuid"

	"swap-escrow/internal/domain"
	"swap-escrow/internal/ledger"
)

type accountKey struct {
	Owner domain.Identity
	Asset domain.AssetID
}

type account struct {
	free      math.Int
	allowance math.Int
}

type holdEntry struct {
	hold *domain.Hold
	seq  uint64
}

// Ledger is an in-memory implementation of ledger.Ledger and ledger.Accounts.
// A single mutex serializes all operations; Atomically keeps it for the
// whole unit and replays an undo journal when the unit fails.
type Ledger struct {
	mu       sync.Mutex
	accounts map[accountKey]*account
	holds    map[domain.HoldID]*holdEntry
	seq      uint64
	now      func() time.Time
}

// NewLedger creates an empty in-memory ledger.
func NewLedger() *Ledger {
	return &Ledger{
		accounts: make(map[accountKey]*account),
		holds:    make(map[domain.HoldID]*holdEntry),
		now:      time.Now,
	}
}

// Hold implements ledger.Custodian as a single-operation unit.
func (l *Ledger) Hold(ctx context.Context, asset domain.AssetID, owner domain.Identity, amount math.Int, tag string) (domain.HoldID, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return (&ledgerTx{l: l}).Hold(ctx, asset, owner, amount, tag)
}

// Release implements ledger.Custodian as a single-operation unit.
func (l *Ledger) Release(ctx context.Context, id domain.HoldID, to domain.Identity) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return (&ledgerTx{l: l}).Release(ctx, id, to)
}

// Atomically runs fn with the ledger locked. fn must not call back into
// the Ledger directly; it gets a Custodian bound to the unit.
func (l *Ledger) Atomically(ctx context.Context, fn func(ctx context.Context, c ledger.Custodian) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	tx := &ledgerTx{l: l}
	committed := false
	defer func() {
		if !committed {
			tx.rollback()
		}
	}()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	committed = true
	return nil
}

// Credit adds amount to owner's free balance.
func (l *Ledger) Credit(_ context.Context, owner domain.Identity, asset domain.AssetID, amount math.Int) error {
	if !ledger.ValidAmount(amount) {
		return ledger.ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	acc := l.account(owner, asset)
	acc.free = acc.free.Add(amount)
	return nil
}

// Approve sets the allowance of asset the escrow may hold from owner.
// A zero amount revokes the allowance.
func (l *Ledger) Approve(_ context.Context, owner domain.Identity, asset domain.AssetID, amount math.Int) error {
	if amount.IsNil() || amount.IsNegative() {
		return ledger.ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.account(owner, asset).allowance = amount
	return nil
}

// Balance returns owner's position in asset.
func (l *Ledger) Balance(_ context.Context, owner domain.Identity, asset domain.AssetID) (*ledger.Balance, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	b := &ledger.Balance{
		Owner:     owner,
		Asset:     asset,
		Free:      math.ZeroInt(),
		Held:      math.ZeroInt(),
		Allowance: math.ZeroInt(),
	}
	if acc, ok := l.accounts[accountKey{Owner: owner, Asset: asset}]; ok {
		b.Free = acc.free
		b.Allowance = acc.allowance
	}
	for _, e := range l.holds {
		if e.hold.Owner == owner && e.hold.Asset == asset {
			b.Held = b.Held.Add(e.hold.Amount)
		}
	}
	return b, nil
}

// HoldsByTag returns the outstanding holds attributed to tag, oldest first.
func (l *Ledger) HoldsByTag(_ context.Context, tag string) ([]*domain.Hold, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var entries []*holdEntry
	for _, e := range l.holds {
		if e.hold.Tag == tag {
			entries = append(entries, e)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })

	result := make([]*domain.Hold, len(entries))
	for i, e := range entries {
		h := *e.hold
		result[i] = &h
	}
	return result, nil
}

// account returns the entry for (owner, asset), creating it. Caller holds mu.
func (l *Ledger) account(owner domain.Identity, asset domain.AssetID) *account {
	key := accountKey{Owner: owner, Asset: asset}
	acc, ok := l.accounts[key]
	if !ok {
		acc = &account{free: math.ZeroInt(), allowance: math.ZeroInt()}
		l.accounts[key] = acc
	}
	return acc
}

// ledgerTx performs custody operations with the ledger mutex already held
// and journals how to undo each of them.
type ledgerTx struct {
	l    *Ledger
	undo []func()
}

func (t *ledgerTx) Hold(_ context.Context, asset domain.AssetID, owner domain.Identity, amount math.Int, tag string) (domain.HoldID, error) {
	if !ledger.ValidAmount(amount) {
		return "", ledger.ErrInvalidAmount
	}

	l := t.l
	acc := l.account(owner, asset)
	if acc.allowance.LT(amount) {
		return "", fmt.Errorf("hold %s of %s from %s: allowance %s: %w", amount, asset, owner, acc.allowance, ledger.ErrNotAuthorized)
	}
	if acc.free.LT(amount) {
		return "", fmt.Errorf("hold %s of %s from %s: balance %s: %w", amount, asset, owner, acc.free, ledger.ErrInsufficientFunds)
	}

	prevFree, prevAllowance := acc.free, acc.allowance
	acc.free = acc.free.Sub(amount)
	acc.allowance = acc.allowance.Sub(amount)

	l.seq++
	id := domain.HoldID(uuid.NewString())
	l.holds[id] = &holdEntry{
		hold: &domain.Hold{
			ID:        id,
			Asset:     asset,
			Owner:     owner,
			Amount:    amount,
			Tag:       tag,
			CreatedAt: l.now(),
		},
		seq: l.seq,
	}

	t.undo = append(t.undo, func() {
		delete(l.holds, id)
		acc.free = prevFree
		acc.allowance = prevAllowance
	})
	return id, nil
}

func (t *ledgerTx) Release(_ context.Context, id domain.HoldID, to domain.Identity) error {
	l := t.l
	e, ok := l.holds[id]
	if !ok {
		return fmt.Errorf("release %s: %w", id, ledger.ErrHoldNotFound)
	}

	acc := l.account(to, e.hold.Asset)
	prevFree := acc.free
	acc.free = acc.free.Add(e.hold.Amount)
	delete(l.holds, id)

	t.undo = append(t.undo, func() {
		l.holds[id] = e
		acc.free = prevFree
	})
	return nil
}

// rollback undoes journaled operations in reverse order.
func (t *ledgerTx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

var (
	_ ledger.Ledger   = (*Ledger)(nil)
	_ ledger.Accounts = (*Ledger)(nil)
)

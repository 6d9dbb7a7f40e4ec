package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"swap-escrow/internal/domain"
	"swap-escrow/internal/storage"
)

// SwapStore implements storage.SwapStore using PostgreSQL.
// Writes join the transaction carried by ctx (see Pool.InTx).
type SwapStore struct {
	pool *Pool
}

// NewSwapStore creates a new SwapStore.
func NewSwapStore(pool *Pool) *SwapStore {
	return &SwapStore{pool: pool}
}

// Compile-time interface check.
var _ storage.SwapStore = (*SwapStore)(nil)

const swapColumns = `id, initiator, counterparty, inputs, outputs, input_holds, deadline, status, created_at, resolved_at`

// Insert adds a new swap and its CREATED event. Returns ErrDuplicateKey if id exists.
func (s *SwapStore) Insert(ctx context.Context, swap *domain.Swap, ev *domain.SwapEvent) error {
	if swap == nil || swap.ID == "" || ev == nil {
		return storage.ErrInvalidInput
	}

	inputs, err := json.Marshal(swap.Inputs)
	if err != nil {
		return fmt.Errorf("marshal inputs: %w", err)
	}
	outputs, err := json.Marshal(swap.Outputs)
	if err != nil {
		return fmt.Errorf("marshal outputs: %w", err)
	}
	holds := swap.InputHolds
	if holds == nil {
		holds = []domain.HoldID{}
	}
	inputHolds, err := json.Marshal(holds)
	if err != nil {
		return fmt.Errorf("marshal input holds: %w", err)
	}

	return s.pool.InTx(ctx, func(ctx context.Context) error {
		query := `
			INSERT INTO swaps (` + swapColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`
		_, err := s.pool.DB(ctx).Exec(ctx, query,
			swap.ID,
			string(swap.Initiator),
			string(swap.Counterparty),
			inputs,
			outputs,
			inputHolds,
			swap.Deadline,
			string(swap.Status),
			swap.CreatedAt,
			swap.ResolvedAt,
		)
		if err != nil {
			if isDuplicateKeyError(err) {
				return storage.ErrDuplicateKey
			}
			return fmt.Errorf("insert swap: %w", err)
		}
		return insertEvent(ctx, s.pool, ev)
	})
}

// GetByID retrieves a swap by its ID. Returns ErrNotFound if not exists.
func (s *SwapStore) GetByID(ctx context.Context, id string) (*domain.Swap, error) {
	query := `SELECT ` + swapColumns + ` FROM swaps WHERE id = $1`
	return s.getOne(ctx, query, id)
}

// GetForUpdate retrieves a swap with a row lock held until the enclosing
// transaction ends. Outside a transaction the lock is released immediately.
func (s *SwapStore) GetForUpdate(ctx context.Context, id string) (*domain.Swap, error) {
	query := `SELECT ` + swapColumns + ` FROM swaps WHERE id = $1 FOR UPDATE`
	return s.getOne(ctx, query, id)
}

func (s *SwapStore) getOne(ctx context.Context, query, id string) (*domain.Swap, error) {
	rows, err := s.pool.DB(ctx).Query(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("get swap: %w", err)
	}
	defer rows.Close()

	swaps, err := scanSwaps(rows)
	if err != nil {
		return nil, err
	}
	if len(swaps) == 0 {
		return nil, storage.ErrNotFound
	}
	return swaps[0], nil
}

// Transition moves a swap from status from to status to and appends ev.
func (s *SwapStore) Transition(ctx context.Context, id string, from, to domain.SwapStatus, at time.Time, ev *domain.SwapEvent) error {
	if ev == nil || !from.CanTransitionTo(to) {
		return storage.ErrInvalidInput
	}

	return s.pool.InTx(ctx, func(ctx context.Context) error {
		db := s.pool.DB(ctx)

		tag, err := db.Exec(ctx,
			`UPDATE swaps SET status = $3, resolved_at = $4 WHERE id = $1 AND status = $2`,
			id, string(from), string(to), at,
		)
		if err != nil {
			return fmt.Errorf("update swap status: %w", err)
		}

		if tag.RowsAffected() == 0 {
			var exists bool
			if err := db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM swaps WHERE id = $1)`, id).Scan(&exists); err != nil {
				return fmt.Errorf("check swap exists: %w", err)
			}
			if !exists {
				return storage.ErrNotFound
			}
			return storage.ErrStaleStatus
		}

		return insertEvent(ctx, s.pool, ev)
	})
}

// List retrieves swaps matching filter, ordered by created_at ASC, id ASC.
func (s *SwapStore) List(ctx context.Context, filter storage.SwapFilter) ([]*domain.Swap, error) {
	if filter.Party == "" || !filter.Role.IsValid() {
		return nil, storage.ErrInvalidInput
	}

	var (
		where []string
		args  = []any{string(filter.Party)}
	)
	switch filter.Role {
	case domain.RoleInitiator:
		where = append(where, "initiator = $1")
	case domain.RoleCounterparty:
		where = append(where, "counterparty = $1")
	default:
		where = append(where, "(initiator = $1 OR counterparty = $1)")
	}
	if filter.Status != nil {
		args = append(args, string(*filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}

	query := `SELECT ` + swapColumns + ` FROM swaps WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY created_at ASC, id ASC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.DB(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list swaps: %w", err)
	}
	defer rows.Close()

	return scanSwaps(rows)
}

// scanSwaps scans multiple rows into a slice of Swap.
func scanSwaps(rows pgx.Rows) ([]*domain.Swap, error) {
	var swaps []*domain.Swap

	for rows.Next() {
		var (
			swap                           domain.Swap
			initiator, counterparty, state string
			inputs, outputs, inputHolds    []byte
		)

		err := rows.Scan(
			&swap.ID,
			&initiator,
			&counterparty,
			&inputs,
			&outputs,
			&inputHolds,
			&swap.Deadline,
			&state,
			&swap.CreatedAt,
			&swap.ResolvedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan swap row: %w", err)
		}

		swap.Initiator = domain.Identity(initiator)
		swap.Counterparty = domain.Identity(counterparty)
		swap.Status = domain.SwapStatus(state)
		if err := json.Unmarshal(inputs, &swap.Inputs); err != nil {
			return nil, fmt.Errorf("decode inputs of %s: %w", swap.ID, err)
		}
		if err := json.Unmarshal(outputs, &swap.Outputs); err != nil {
			return nil, fmt.Errorf("decode outputs of %s: %w", swap.ID, err)
		}
		if err := json.Unmarshal(inputHolds, &swap.InputHolds); err != nil {
			return nil, fmt.Errorf("decode input holds of %s: %w", swap.ID, err)
		}

		swaps = append(swaps, &swap)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate swap rows: %w", err)
	}

	return swaps, nil
}

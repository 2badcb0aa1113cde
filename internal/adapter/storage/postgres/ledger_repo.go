package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"sweepstakes-wallet/internal/core/domain"
	"sweepstakes-wallet/internal/core/ports"
	"sweepstakes-wallet/pkg/apperror"
	"sweepstakes-wallet/pkg/money"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	ledgerColumns = `id, user_id, currency, operation_type, kind, amount, locked_delta,
		balance_before, balance_after, locked_after, idempotency_key, transaction_id,
		initiator_id, correlation_id, reverses_entry_id, approval_request_id, reason, status, created_at`

	uniqueViolation          = "23505"
	reversalUniqueConstraint = "ledger_entries_reverses_entry_id_key"
)

// LedgerRepo implements ports.LedgerRepository. Rows are insert-only.
type LedgerRepo struct {
	pool Pool
}

// NewLedgerRepo creates a new LedgerRepo.
func NewLedgerRepo(pool Pool) *LedgerRepo {
	return &LedgerRepo{pool: pool}
}

// Append inserts an entry within a database transaction.
func (r *LedgerRepo) Append(ctx context.Context, tx pgx.Tx, e *domain.LedgerEntry) error {
	query := `INSERT INTO ledger_entries (` + ledgerColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`

	_, err := tx.Exec(ctx, query,
		e.ID, e.UserID, e.Currency, e.Operation, e.Kind, e.Amount, e.LockedDelta,
		e.BalanceBefore, e.BalanceAfter, e.LockedAfter, e.IdempotencyKey, e.TransactionID,
		e.InitiatorID, e.CorrelationID, nullString(e.ReversesEntryID), nullString(e.ApprovalRequestID),
		e.Reason, e.Status, e.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == reversalUniqueConstraint {
			return apperror.ErrAlreadyReversed(e.ReversesEntryID)
		}
		return fmt.Errorf("insert ledger entry: %w", err)
	}
	return nil
}

// GetByID fetches an entry by id.
func (r *LedgerRepo) GetByID(ctx context.Context, id string) (*domain.LedgerEntry, error) {
	query := `SELECT ` + ledgerColumns + ` FROM ledger_entries WHERE id = $1`

	e, err := scanEntry(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("get ledger entry: %w", err)
	}
	return e, nil
}

// FindReversal returns the entry reversing entryID, read inside tx.
func (r *LedgerRepo) FindReversal(ctx context.Context, tx pgx.Tx, entryID string) (*domain.LedgerEntry, error) {
	query := `SELECT ` + ledgerColumns + ` FROM ledger_entries WHERE reverses_entry_id = $1`

	e, err := scanEntry(tx.QueryRow(ctx, query, entryID))
	if err != nil {
		return nil, fmt.Errorf("find reversal: %w", err)
	}
	return e, nil
}

// ListByUser returns entries oldest first.
func (r *LedgerRepo) ListByUser(ctx context.Context, userID uuid.UUID, filter ports.LedgerFilter) ([]*domain.LedgerEntry, error) {
	var (
		where = []string{"user_id = $1"}
		args  = []any{userID}
	)
	if filter.Currency != "" {
		args = append(args, filter.Currency)
		where = append(where, fmt.Sprintf("currency = $%d", len(args)))
	}
	if !filter.Range.From.IsZero() {
		args = append(args, filter.Range.From)
		where = append(where, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if !filter.Range.To.IsZero() {
		args = append(args, filter.Range.To)
		where = append(where, fmt.Sprintf("created_at < $%d", len(args)))
	}

	query := `SELECT ` + ledgerColumns + ` FROM ledger_entries WHERE ` +
		strings.Join(where, " AND ") + ` ORDER BY created_at ASC, id ASC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []*domain.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger entries: %w", err)
	}
	return entries, nil
}

// SumWithdrawals totals withdrawals since the given instant that were not reversed.
func (r *LedgerRepo) SumWithdrawals(ctx context.Context, userID uuid.UUID, since time.Time) (money.Money, error) {
	query := `SELECT COALESCE(SUM(-e.amount), 0) FROM ledger_entries e
		WHERE e.user_id = $1 AND e.kind = $2 AND e.created_at >= $3
			AND NOT EXISTS (SELECT 1 FROM ledger_entries rv WHERE rv.reverses_entry_id = e.id)`

	var total money.Money
	if err := r.pool.QueryRow(ctx, query, userID, domain.KindWithdrawal, since).Scan(&total); err != nil {
		return money.Money{}, fmt.Errorf("sum withdrawals: %w", err)
	}
	return total, nil
}

// CountByKind counts entries of kind since the given instant that were not reversed.
func (r *LedgerRepo) CountByKind(ctx context.Context, userID uuid.UUID, kind domain.OperationKind, since time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM ledger_entries e
		WHERE e.user_id = $1 AND e.kind = $2 AND e.created_at >= $3
			AND NOT EXISTS (SELECT 1 FROM ledger_entries rv WHERE rv.reverses_entry_id = e.id)`

	var count int
	if err := r.pool.QueryRow(ctx, query, userID, kind, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("count ledger entries: %w", err)
	}
	return count, nil
}

func scanEntry(row pgx.Row) (*domain.LedgerEntry, error) {
	var (
		e                     domain.LedgerEntry
		reverses, approvalRef *string
	)
	err := row.Scan(
		&e.ID, &e.UserID, &e.Currency, &e.Operation, &e.Kind, &e.Amount, &e.LockedDelta,
		&e.BalanceBefore, &e.BalanceAfter, &e.LockedAfter, &e.IdempotencyKey, &e.TransactionID,
		&e.InitiatorID, &e.CorrelationID, &reverses, &approvalRef, &e.Reason, &e.Status, &e.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	e.ReversesEntryID = derefString(reverses)
	e.ApprovalRequestID = derefString(approvalRef)
	return &e, nil
}

package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"sweepstakes-wallet/internal/core/domain"

	"github.com/jackc/pgx/v5"
)

const approvalColumns = `id, user_id, kind, currency, amount, initiator_id, idempotency_key, required_approvals,
	approvals, operation, status, rejected_by, rejection_reason, transaction_id, created_at, updated_at, expires_at`

// ApprovalRepo implements ports.ApprovalRepository. Approvals and the parked
// operation are stored as JSONB.
type ApprovalRepo struct {
	pool Pool
}

// NewApprovalRepo creates a new ApprovalRepo.
func NewApprovalRepo(pool Pool) *ApprovalRepo {
	return &ApprovalRepo{pool: pool}
}

// Create inserts a request within a database transaction.
func (r *ApprovalRepo) Create(ctx context.Context, tx pgx.Tx, ar *domain.ApprovalRequest) error {
	approvals, operation, err := marshalApproval(ar)
	if err != nil {
		return err
	}

	query := `INSERT INTO approval_requests (` + approvalColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`

	_, err = tx.Exec(ctx, query,
		ar.ID, ar.UserID, ar.Kind, ar.Currency, ar.Amount, ar.InitiatorID, ar.IdempotencyKey, ar.RequiredApprovals,
		approvals, operation, ar.Status, ar.RejectedBy, ar.RejectionReason, ar.TransactionID,
		ar.CreatedAt, ar.UpdatedAt, ar.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("insert approval request: %w", err)
	}
	return nil
}

// GetByID fetches a request without locking.
func (r *ApprovalRepo) GetByID(ctx context.Context, id string) (*domain.ApprovalRequest, error) {
	query := `SELECT ` + approvalColumns + ` FROM approval_requests WHERE id = $1`

	ar, err := scanApproval(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("get approval request: %w", err)
	}
	return ar, nil
}

// GetByIDForUpdate fetches a request with pessimistic locking.
// This MUST be called within a transaction.
func (r *ApprovalRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id string) (*domain.ApprovalRequest, error) {
	query := `SELECT ` + approvalColumns + ` FROM approval_requests WHERE id = $1 FOR UPDATE`

	ar, err := scanApproval(tx.QueryRow(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("get approval request for update: %w", err)
	}
	return ar, nil
}

// Update persists the mutable state of a request.
func (r *ApprovalRepo) Update(ctx context.Context, tx pgx.Tx, ar *domain.ApprovalRequest) error {
	approvals, err := json.Marshal(ar.Approvals)
	if err != nil {
		return fmt.Errorf("marshal approvals: %w", err)
	}

	query := `UPDATE approval_requests
		SET approvals = $1, status = $2, rejected_by = $3, rejection_reason = $4, updated_at = $5
		WHERE id = $6`

	tag, err := tx.Exec(ctx, query, approvals, ar.Status, ar.RejectedBy, ar.RejectionReason, ar.UpdatedAt, ar.ID)
	if err != nil {
		return fmt.Errorf("update approval request: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("approval request not found: %s", ar.ID)
	}
	return nil
}

// ListPending returns pending requests, oldest first.
func (r *ApprovalRepo) ListPending(ctx context.Context, limit int) ([]*domain.ApprovalRequest, error) {
	query := `SELECT ` + approvalColumns + ` FROM approval_requests
		WHERE status = $1 ORDER BY created_at ASC LIMIT $2`

	return r.list(ctx, query, domain.ApprovalPending, limit)
}

// ListExpired returns pending requests whose deadline has passed.
func (r *ApprovalRepo) ListExpired(ctx context.Context, now time.Time, limit int) ([]*domain.ApprovalRequest, error) {
	query := `SELECT ` + approvalColumns + ` FROM approval_requests
		WHERE status = $1 AND expires_at <= $2 ORDER BY expires_at ASC LIMIT $3`

	return r.list(ctx, query, domain.ApprovalPending, now, limit)
}

func (r *ApprovalRepo) list(ctx context.Context, query string, args ...any) ([]*domain.ApprovalRequest, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list approval requests: %w", err)
	}
	defer rows.Close()

	var out []*domain.ApprovalRequest
	for rows.Next() {
		ar, err := scanApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("scan approval request: %w", err)
		}
		out = append(out, ar)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate approval requests: %w", err)
	}
	return out, nil
}

func marshalApproval(ar *domain.ApprovalRequest) (approvals, operation []byte, err error) {
	if approvals, err = json.Marshal(ar.Approvals); err != nil {
		return nil, nil, fmt.Errorf("marshal approvals: %w", err)
	}
	if operation, err = json.Marshal(ar.Operation); err != nil {
		return nil, nil, fmt.Errorf("marshal operation: %w", err)
	}
	return approvals, operation, nil
}

func scanApproval(row pgx.Row) (*domain.ApprovalRequest, error) {
	var (
		ar                   domain.ApprovalRequest
		approvals, operation []byte
	)
	err := row.Scan(
		&ar.ID, &ar.UserID, &ar.Kind, &ar.Currency, &ar.Amount, &ar.InitiatorID, &ar.IdempotencyKey,
		&ar.RequiredApprovals, &approvals, &operation, &ar.Status, &ar.RejectedBy, &ar.RejectionReason,
		&ar.TransactionID, &ar.CreatedAt, &ar.UpdatedAt, &ar.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(approvals, &ar.Approvals); err != nil {
		return nil, fmt.Errorf("unmarshal approvals: %w", err)
	}
	if err := json.Unmarshal(operation, &ar.Operation); err != nil {
		return nil, fmt.Errorf("unmarshal operation: %w", err)
	}
	return &ar, nil
}

package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sweepstakes-wallet/internal/core/domain"
	"sweepstakes-wallet/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// IdempotencyRepo implements ports.IdempotencyRepository.
type IdempotencyRepo struct {
	pool Pool
}

// NewIdempotencyRepo creates a new IdempotencyRepo.
func NewIdempotencyRepo(pool Pool) *IdempotencyRepo {
	return &IdempotencyRepo{pool: pool}
}

// Reserve clears an expired record for the key, then inserts rec if the key is free.
func (r *IdempotencyRepo) Reserve(ctx context.Context, rec *domain.IdempotencyRecord, now time.Time) (bool, error) {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM idempotency_records WHERE user_id = $1 AND idempotency_key = $2 AND expires_at <= $3`,
		rec.UserID, rec.Key, now,
	)
	if err != nil {
		return false, fmt.Errorf("delete expired idempotency record: %w", err)
	}

	query := `INSERT INTO idempotency_records (user_id, idempotency_key, status, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, idempotency_key) DO NOTHING`

	tag, err := r.pool.Exec(ctx, query, rec.UserID, rec.Key, rec.Status, rec.CreatedAt, rec.ExpiresAt)
	if err != nil {
		return false, fmt.Errorf("insert idempotency record: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Get fetches a record by user and key.
func (r *IdempotencyRepo) Get(ctx context.Context, userID uuid.UUID, key string) (*domain.IdempotencyRecord, error) {
	query := `SELECT user_id, idempotency_key, status, transaction_id, approval_request_id, result_json, created_at, expires_at
		FROM idempotency_records WHERE user_id = $1 AND idempotency_key = $2`

	var (
		rec        domain.IdempotencyRecord
		txID, apID *string
	)
	err := r.pool.QueryRow(ctx, query, userID, key).Scan(
		&rec.UserID, &rec.Key, &rec.Status, &txID, &apID, &rec.ResultJSON, &rec.CreatedAt, &rec.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get idempotency record: %w", err)
	}
	rec.TransactionID = derefString(txID)
	rec.ApprovalRequestID = derefString(apID)
	return &rec, nil
}

// Complete finalizes a PENDING or PENDING_APPROVAL record within a database transaction.
func (r *IdempotencyRepo) Complete(ctx context.Context, tx pgx.Tx, rec *domain.IdempotencyRecord) error {
	query := `UPDATE idempotency_records
		SET status = $1, transaction_id = $2, approval_request_id = $3, result_json = $4, expires_at = $5
		WHERE user_id = $6 AND idempotency_key = $7 AND status IN ('PENDING', 'PENDING_APPROVAL')`

	tag, err := tx.Exec(ctx, query,
		rec.Status, nullString(rec.TransactionID), nullString(rec.ApprovalRequestID), rec.ResultJSON, rec.ExpiresAt,
		rec.UserID, rec.Key,
	)
	if err != nil {
		return fmt.Errorf("complete idempotency record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ports.ErrRecordFinalized
	}
	return nil
}

// DeletePending removes a reservation that never completed.
func (r *IdempotencyRepo) DeletePending(ctx context.Context, userID uuid.UUID, key string) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM idempotency_records WHERE user_id = $1 AND idempotency_key = $2 AND status = 'PENDING'`,
		userID, key,
	)
	if err != nil {
		return fmt.Errorf("delete pending idempotency record: %w", err)
	}
	return nil
}

// PurgeExpired deletes every record past its expiry.
func (r *IdempotencyRepo) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM idempotency_records WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("purge idempotency records: %w", err)
	}
	return tag.RowsAffected(), nil
}

package postgres

import (
	"context"
	"fmt"

	"sweepstakes-wallet/internal/core/domain"
)

// AuditRepo implements ports.AuditRepository.
type AuditRepo struct {
	pool Pool
}

// NewAuditRepo creates a PostgreSQL-backed audit repository.
func NewAuditRepo(pool Pool) *AuditRepo {
	return &AuditRepo{pool: pool}
}

// Create inserts one audit event.
func (r *AuditRepo) Create(ctx context.Context, e *domain.AuditEvent) error {
	query := `INSERT INTO audit_events (id, transaction_id, user_id, operation_type, currency, amount,
			status, entry_id, correlation_id, initiator_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := r.pool.Exec(ctx, query,
		e.ID, e.TransactionID, e.UserID, e.Operation, e.Currency, e.Amount,
		e.Status, e.EntryID, e.CorrelationID, e.InitiatorID, e.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

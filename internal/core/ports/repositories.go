package ports

import (
	"context"
	"errors"
	"time"

	"sweepstakes-wallet/internal/core/domain"
	"sweepstakes-wallet/pkg/money"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ErrVersionConflict is returned by WalletRepository.Update when the stored
// version no longer matches the one the wallet was read at.
var ErrVersionConflict = errors.New("wallet version conflict")

// ErrRecordFinalized is returned by IdempotencyRepository.Complete when the
// record is no longer PENDING or PENDING_APPROVAL.
var ErrRecordFinalized = errors.New("idempotency record already finalized")

// WalletRepository defines persistence operations for wallets.
// Methods accepting pgx.Tx are used inside transaction blocks for pessimistic locking.
type WalletRepository interface {
	// Create inserts w unless the user already has a wallet. It reports whether a row was written.
	Create(ctx context.Context, tx pgx.Tx, w *domain.Wallet) (bool, error)
	GetByUserID(ctx context.Context, userID uuid.UUID) (*domain.Wallet, error)
	GetByUserIDForUpdate(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (*domain.Wallet, error)
	// Update persists balances when the stored version equals w.Version, then bumps w.Version.
	Update(ctx context.Context, tx pgx.Tx, w *domain.Wallet) error
}

// LedgerFilter narrows a ledger listing. Zero values mean no constraint.
type LedgerFilter struct {
	Currency domain.Currency
	Range    domain.TimeRange
	Limit    int
}

// LedgerRepository is the append-only store of ledger entries.
type LedgerRepository interface {
	Append(ctx context.Context, tx pgx.Tx, entry *domain.LedgerEntry) error
	GetByID(ctx context.Context, id string) (*domain.LedgerEntry, error)
	// FindReversal returns the entry reversing entryID, or nil.
	FindReversal(ctx context.Context, tx pgx.Tx, entryID string) (*domain.LedgerEntry, error)
	// ListByUser returns entries ordered by creation time, oldest first.
	ListByUser(ctx context.Context, userID uuid.UUID, filter LedgerFilter) ([]*domain.LedgerEntry, error)
	// SumWithdrawals totals non-reversed withdrawals created at or after since.
	SumWithdrawals(ctx context.Context, userID uuid.UUID, since time.Time) (money.Money, error)
	// CountByKind counts non-reversed entries of kind created at or after since.
	CountByKind(ctx context.Context, userID uuid.UUID, kind domain.OperationKind, since time.Time) (int, error)
}

// IdempotencyRepository is the durable side of the idempotency store.
type IdempotencyRepository interface {
	// Reserve drops an expired record for the same key, then inserts rec if the
	// key is free. It reports whether rec now owns the key.
	Reserve(ctx context.Context, rec *domain.IdempotencyRecord, now time.Time) (bool, error)
	Get(ctx context.Context, userID uuid.UUID, key string) (*domain.IdempotencyRecord, error)
	// Complete stores status, result and expiry inside tx. Only PENDING and
	// PENDING_APPROVAL records can be completed, otherwise ErrRecordFinalized.
	Complete(ctx context.Context, tx pgx.Tx, rec *domain.IdempotencyRecord) error
	// DeletePending removes a PENDING reservation.
	DeletePending(ctx context.Context, userID uuid.UUID, key string) error
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// ApprovalRepository stores approval requests.
type ApprovalRepository interface {
	Create(ctx context.Context, tx pgx.Tx, req *domain.ApprovalRequest) error
	GetByID(ctx context.Context, id string) (*domain.ApprovalRequest, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id string) (*domain.ApprovalRequest, error)
	Update(ctx context.Context, tx pgx.Tx, req *domain.ApprovalRequest) error
	ListPending(ctx context.Context, limit int) ([]*domain.ApprovalRequest, error)
	// ListExpired returns PENDING requests whose expiry is at or before now.
	ListExpired(ctx context.Context, now time.Time, limit int) ([]*domain.ApprovalRequest, error)
}

// AuditRepository persists audit events.
type AuditRepository interface {
	Create(ctx context.Context, event *domain.AuditEvent) error
}

// DBTransactor provides database transaction management.
type DBTransactor interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

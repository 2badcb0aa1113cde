package ports

import (
	"context"
	"time"

	"sweepstakes-wallet/internal/core/domain"

	"github.com/google/uuid"
)

// IdempotencyCache is the Redis-layer idempotency check (fast path).
type IdempotencyCache interface {
	Get(ctx context.Context, key string) ([]byte, error) // Returns cached result JSON or nil
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// UserLocker serializes mutations of one user's wallet.
type UserLocker interface {
	// Acquire blocks until the lock for userID is held or ctx is done.
	Acquire(ctx context.Context, userID uuid.UUID) (release func(), err error)
}

// Metrics records operational counters. Implementations must be safe for concurrent use.
type Metrics interface {
	ObserveOperation(kind domain.OperationKind, currency domain.Currency, outcome string, elapsed time.Duration)
	IncViolation(kind domain.ViolationKind)
	IncApproval(status domain.ApprovalStatus)
	IncDuplicate(kind domain.OperationKind)
}

// --- Service Ports (Business Logic) ---

// TransactionProcessor orchestrates every wallet mutation.
type TransactionProcessor interface {
	Process(ctx context.Context, req domain.OperationRequest) (*domain.OperationResult, error)
	Reverse(ctx context.Context, req domain.ReverseRequest) (*domain.OperationResult, error)
	Approve(ctx context.Context, requestID string, approver domain.Actor, note string) (*domain.ApprovalRequest, error)
	Reject(ctx context.Context, requestID string, approver domain.Actor, reason string) (*domain.ApprovalRequest, error)
	ExpireStale(ctx context.Context) (int, error)
	Balance(ctx context.Context, userID uuid.UUID) (*domain.WalletView, error)
	EnsureWallet(ctx context.Context, userID uuid.UUID) (*domain.WalletView, error)
}

// LedgerService serves ledger reads.
type LedgerService interface {
	EntriesFor(ctx context.Context, userID uuid.UUID, filter LedgerFilter) ([]*domain.LedgerEntry, error)
	Reconcile(ctx context.Context, userID uuid.UUID) ([]domain.Reconciliation, error)
}

// ApprovalQueries serves approval reads.
type ApprovalQueries interface {
	Get(ctx context.Context, id string) (*domain.ApprovalRequest, error)
	ListPending(ctx context.Context, limit int) ([]*domain.ApprovalRequest, error)
}

// AuditService records audit events without blocking the caller.
type AuditService interface {
	Record(ctx context.Context, event domain.AuditEvent)
}

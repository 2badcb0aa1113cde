package service

import (
	"context"
	"fmt"
	"time"

	"sweepstakes-wallet/internal/core/domain"
	"sweepstakes-wallet/internal/core/ports"
	"sweepstakes-wallet/pkg/apperror"
	"sweepstakes-wallet/pkg/money"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

// ApprovalPolicy decides which operations are parked for sign-off.
type ApprovalPolicy struct {
	Threshold       money.Money
	TripleThreshold money.Money
	Expiry          time.Duration
	ExemptGold      bool
}

// DefaultApprovalPolicy returns dual approval above 500 and triple from 10,000.
func DefaultApprovalPolicy() ApprovalPolicy {
	return ApprovalPolicy{
		Threshold:       money.MustParse("500.0000"),
		TripleThreshold: money.MustParse("10000.0000"),
		Expiry:          48 * time.Hour,
	}
}

// ApprovalService owns the approval state machine and its persistence.
// Mutating methods run inside the caller's database transaction.
type ApprovalService struct {
	repo    ports.ApprovalRepository
	policy  ApprovalPolicy
	metrics ports.Metrics
	now     func() time.Time
	log     zerolog.Logger
}

// NewApprovalService creates a new ApprovalService. metrics may be nil.
func NewApprovalService(repo ports.ApprovalRepository, policy ApprovalPolicy, metrics ports.Metrics, log zerolog.Logger) *ApprovalService {
	return &ApprovalService{
		repo:    repo,
		policy:  policy,
		metrics: metrics,
		now:     func() time.Time { return time.Now().UTC() },
		log:     log,
	}
}

// Requires reports whether req must wait for approval. The threshold is strict.
func (s *ApprovalService) Requires(req domain.OperationRequest) bool {
	if !req.Kind.RequiresApproval() {
		return false
	}
	if s.policy.ExemptGold && req.Currency == domain.CurrencyGold {
		return false
	}
	return req.Amount.GreaterThan(s.policy.Threshold)
}

// RequiredApprovals returns 3 at or above the triple threshold, else 2.
func (s *ApprovalService) RequiredApprovals(amount money.Money) int {
	if amount.Cmp(s.policy.TripleThreshold) >= 0 {
		return 3
	}
	return 2
}

// Create parks req as a PENDING approval request. No balance changes.
func (s *ApprovalService) Create(ctx context.Context, tx pgx.Tx, req domain.OperationRequest, idempotencyKey string) (*domain.ApprovalRequest, error) {
	now := s.now()
	ar := &domain.ApprovalRequest{
		ID:                domain.NewApprovalID(),
		Operation:         req,
		UserID:            req.UserID,
		Kind:              req.Kind,
		Currency:          req.Currency,
		Amount:            req.Amount,
		InitiatorID:       req.Initiator.ID,
		IdempotencyKey:    idempotencyKey,
		RequiredApprovals: s.RequiredApprovals(req.Amount),
		Approvals:         []domain.Approval{},
		Status:            domain.ApprovalPending,
		TransactionID:     req.TransactionID,
		CreatedAt:         now,
		UpdatedAt:         now,
		ExpiresAt:         now.Add(s.policy.Expiry),
	}

	if err := s.repo.Create(ctx, tx, ar); err != nil {
		return nil, fmt.Errorf("create approval request: %w", err)
	}

	s.observe(ar)
	s.log.Info().
		Str("approval_id", ar.ID).
		Str("user_id", ar.UserID.String()).
		Str("kind", string(ar.Kind)).
		Str("amount", ar.Amount.String()).
		Int("required_approvals", ar.RequiredApprovals).
		Msg("operation parked for approval")

	return ar, nil
}

// Approve records approver's sign-off. A pending request found past its
// expiry is moved to EXPIRED and returned together with ErrApprovalExpired,
// so the caller can commit that transition. The APPROVED metric belongs to
// the caller, once the operation has been applied and committed.
func (s *ApprovalService) Approve(ctx context.Context, tx pgx.Tx, id string, approver domain.Actor, note string) (*domain.ApprovalRequest, error) {
	ar, err := s.lockForUpdate(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if ar.IsExpired(now) {
		if err := s.expire(ctx, tx, ar, now); err != nil {
			return nil, err
		}
		return ar, apperror.ErrApprovalExpired()
	}

	if err := ar.AddApproval(approver, note, now); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, tx, ar); err != nil {
		return nil, fmt.Errorf("update approval request: %w", err)
	}

	s.log.Info().
		Str("approval_id", ar.ID).
		Str("approver_id", approver.ID.String()).
		Int("approvals", len(ar.Approvals)).
		Int("required_approvals", ar.RequiredApprovals).
		Str("status", string(ar.Status)).
		Msg("approval recorded")

	return ar, nil
}

// Reject terminates the request.
func (s *ApprovalService) Reject(ctx context.Context, tx pgx.Tx, id string, actor domain.Actor, reason string) (*domain.ApprovalRequest, error) {
	ar, err := s.lockForUpdate(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if ar.IsExpired(now) {
		if err := s.expire(ctx, tx, ar, now); err != nil {
			return nil, err
		}
		return ar, apperror.ErrApprovalExpired()
	}

	if err := ar.Reject(actor, reason, now); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, tx, ar); err != nil {
		return nil, fmt.Errorf("update approval request: %w", err)
	}

	s.observe(ar)
	s.log.Info().
		Str("approval_id", ar.ID).
		Str("rejected_by", actor.ID.String()).
		Str("reason", reason).
		Msg("approval request rejected")

	return ar, nil
}

// Expire moves a pending request past its deadline to EXPIRED.
func (s *ApprovalService) Expire(ctx context.Context, tx pgx.Tx, id string) (*domain.ApprovalRequest, error) {
	ar, err := s.lockForUpdate(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := s.expire(ctx, tx, ar, s.now()); err != nil {
		return nil, err
	}
	return ar, nil
}

// ListExpired returns pending requests that are due for expiry.
func (s *ApprovalService) ListExpired(ctx context.Context, limit int) ([]*domain.ApprovalRequest, error) {
	reqs, err := s.repo.ListExpired(ctx, s.now(), limit)
	if err != nil {
		return nil, fmt.Errorf("list expired approvals: %w", err)
	}
	return reqs, nil
}

// Get fetches an approval request by id.
func (s *ApprovalService) Get(ctx context.Context, id string) (*domain.ApprovalRequest, error) {
	ar, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get approval request: %w", err))
	}
	if ar == nil {
		return nil, apperror.ErrNotFound("Approval request")
	}
	return ar, nil
}

// ListPending returns requests awaiting sign-off, oldest first.
func (s *ApprovalService) ListPending(ctx context.Context, limit int) ([]*domain.ApprovalRequest, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	reqs, err := s.repo.ListPending(ctx, limit)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("list pending approvals: %w", err))
	}
	return reqs, nil
}

func (s *ApprovalService) lockForUpdate(ctx context.Context, tx pgx.Tx, id string) (*domain.ApprovalRequest, error) {
	ar, err := s.repo.GetByIDForUpdate(ctx, tx, id)
	if err != nil {
		return nil, fmt.Errorf("lock approval request: %w", err)
	}
	if ar == nil {
		return nil, apperror.ErrNotFound("Approval request")
	}
	return ar, nil
}

func (s *ApprovalService) expire(ctx context.Context, tx pgx.Tx, ar *domain.ApprovalRequest, now time.Time) error {
	if err := ar.Expire(now); err != nil {
		return err
	}
	if err := s.repo.Update(ctx, tx, ar); err != nil {
		return fmt.Errorf("update approval request: %w", err)
	}
	s.observe(ar)
	s.log.Info().Str("approval_id", ar.ID).Msg("approval request expired")
	return nil
}

func (s *ApprovalService) observe(ar *domain.ApprovalRequest) {
	if s.metrics != nil {
		s.metrics.IncApproval(ar.Status)
	}
}

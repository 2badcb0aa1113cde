package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"sweepstakes-wallet/internal/core/domain"
	"sweepstakes-wallet/internal/core/ports"
	"sweepstakes-wallet/pkg/apperror"
	"sweepstakes-wallet/pkg/logger"
	"sweepstakes-wallet/pkg/money"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

const expireBatchSize = 100

// ProcessorOptions holds the ledger limits and retry tuning.
type ProcessorOptions struct {
	MinWithdrawal  money.Money
	MaxWithdrawal  money.Money
	AMOEAmount     money.Money
	MaxAttempts    int
	RetryBaseDelay time.Duration
}

// DefaultProcessorOptions returns the production limits.
func DefaultProcessorOptions() ProcessorOptions {
	return ProcessorOptions{
		MinWithdrawal:  money.MustParse("50.0000"),
		MaxWithdrawal:  money.MustParse("5000.0000"),
		AMOEAmount:     money.MustParse("5.0000"),
		MaxAttempts:    3,
		RetryBaseDelay: 50 * time.Millisecond,
	}
}

// ProcessorDeps groups the collaborators of TransactionProcessorImpl.
// Audit and Metrics may be nil. A nil Locker falls back to LocalUserLocker.
type ProcessorDeps struct {
	Wallets     ports.WalletRepository
	Ledger      *LedgerService
	Idempotency *IdempotencyService
	Compliance  *ComplianceService
	Approvals   *ApprovalService
	Audit       ports.AuditService
	Locker      ports.UserLocker
	Transactor  ports.DBTransactor
	Metrics     ports.Metrics
}

// TransactionProcessorImpl implements ports.TransactionProcessor.
type TransactionProcessorImpl struct {
	wallets    ports.WalletRepository
	ledger     *LedgerService
	idem       *IdempotencyService
	compliance *ComplianceService
	approvals  *ApprovalService
	audit      ports.AuditService
	locker     ports.UserLocker
	transactor ports.DBTransactor
	metrics    ports.Metrics
	opts       ProcessorOptions
	retry      retryPolicy
	requests   *keyedMutex
	now        func() time.Time
	log        zerolog.Logger
}

// NewTransactionProcessor creates a new TransactionProcessorImpl.
func NewTransactionProcessor(deps ProcessorDeps, opts ProcessorOptions, log zerolog.Logger) *TransactionProcessorImpl {
	locker := deps.Locker
	if locker == nil {
		locker = NewLocalUserLocker(0)
	}
	return &TransactionProcessorImpl{
		wallets:    deps.Wallets,
		ledger:     deps.Ledger,
		idem:       deps.Idempotency,
		compliance: deps.Compliance,
		approvals:  deps.Approvals,
		audit:      deps.Audit,
		locker:     locker,
		transactor: deps.Transactor,
		metrics:    deps.Metrics,
		opts:       opts,
		retry:      retryPolicy{attempts: opts.MaxAttempts, base: opts.RetryBaseDelay},
		requests:   newKeyedMutex(),
		now:        func() time.Time { return time.Now().UTC() },
		log:        log,
	}
}

// mutation is one wallet change together with the ledger entry describing it.
type mutation struct {
	userID            uuid.UUID
	currency          domain.Currency
	kind              domain.OperationKind
	operation         domain.LedgerOperation
	amount            money.Money
	balanceDelta      money.Money
	lockedDelta       money.Money
	transactionID     string
	idempotencyKey    string
	initiatorID       uuid.UUID
	correlationID     string
	reason            string
	reversesEntryID   string
	approvalRequestID string
	status            domain.EntryStatus
}

func mutationFor(req domain.OperationRequest, key string) mutation {
	balanceDelta, lockedDelta := req.Kind.Deltas(req.Amount)
	return mutation{
		userID:         req.UserID,
		currency:       req.Currency,
		kind:           req.Kind,
		operation:      req.Kind.LedgerOperation(),
		amount:         req.Amount,
		balanceDelta:   balanceDelta,
		lockedDelta:    lockedDelta,
		transactionID:  req.TransactionID,
		idempotencyKey: key,
		initiatorID:    req.Initiator.ID,
		correlationID:  req.CorrelationID,
		reason:         req.Reason,
		status:         domain.EntryCompleted,
	}
}

// Process validates, deduplicates, gates and applies one operation.
func (p *TransactionProcessorImpl) Process(ctx context.Context, req domain.OperationRequest) (*domain.OperationResult, error) {
	start := time.Now()
	result, err := p.process(ctx, &req)
	p.finish(ctx, req, result, err, start)
	return result, err
}

func (p *TransactionProcessorImpl) process(ctx context.Context, req *domain.OperationRequest) (*domain.OperationResult, error) {
	if err := p.validate(req); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, apperror.ErrOperationTimeout(err)
	}

	key := domain.BuildIdempotencyKey(req.UserID, req.Kind, req.IdempotencyKey)
	req.TransactionID = domain.NewTransactionID()

	rec, reserved, err := p.reserve(ctx, req.UserID, key)
	if err != nil {
		return nil, err
	}
	if !reserved {
		return p.replay(ctx, rec, req.Kind)
	}

	if err := p.compliance.Check(ctx, *req); err != nil {
		p.idem.Release(ctx, req.UserID, key)
		return nil, p.classify(ctx, err)
	}

	if err := ctx.Err(); err != nil {
		p.idem.Release(ctx, req.UserID, key)
		return nil, apperror.ErrOperationTimeout(err)
	}

	if p.approvals.Requires(*req) {
		result, err := p.park(ctx, *req, rec)
		if err != nil {
			p.idem.Release(ctx, req.UserID, key)
			return nil, p.classify(ctx, err)
		}
		return result, nil
	}

	result, err := p.execute(ctx, mutationFor(*req, key), rec)
	if err != nil {
		p.idem.Release(ctx, req.UserID, key)
		return nil, err
	}
	return result, nil
}

// validate normalizes req and rejects it before any state is touched.
func (p *TransactionProcessorImpl) validate(req *domain.OperationRequest) error {
	if err := req.Subject.Validate(); err != nil {
		return err
	}
	if req.UserID == uuid.Nil {
		req.UserID = req.Subject.UserID
	}
	if req.UserID != req.Subject.UserID {
		return apperror.ErrInvalidSubject("subject does not own the target wallet")
	}
	if !req.Kind.Valid() {
		return apperror.ErrInvalidOperation("unsupported operation kind " + string(req.Kind))
	}
	if req.Initiator.ID == uuid.Nil {
		req.Initiator = domain.Actor{ID: req.UserID, Roles: req.Subject.Roles}
	}
	if req.Kind.AdminOnly() && !req.Initiator.HasRole(domain.RoleAdmin) {
		return apperror.ErrForbidden("adjustments require the ADMIN role")
	}

	if req.Kind == domain.KindAMOEGrant {
		if req.Currency == "" {
			req.Currency = domain.CurrencySweeps
		}
		if req.Currency != domain.CurrencySweeps {
			return apperror.ErrInvalidOperation("AMOE grants are paid in SWEEPS")
		}
		req.Amount = p.opts.AMOEAmount
	}
	if !req.Currency.Valid() {
		return apperror.ErrInvalidOperation("unsupported currency " + string(req.Currency))
	}
	if !req.Amount.IsPositive() {
		return apperror.ErrInvalidAmount("amount must be greater than zero")
	}

	if req.Kind == domain.KindWithdrawal {
		if !req.Currency.Withdrawable() {
			return apperror.ErrCurrencyNotWithdrawable(string(req.Currency))
		}
		if !req.Amount.IsWithinRange(p.opts.MinWithdrawal, p.opts.MaxWithdrawal) {
			return apperror.ErrAmountOutOfRange(req.Amount.String()).
				WithDetail("min", p.opts.MinWithdrawal.String()).
				WithDetail("max", p.opts.MaxWithdrawal.String())
		}
	}

	return domain.ValidateCallerKey(req.IdempotencyKey)
}

func (p *TransactionProcessorImpl) reserve(ctx context.Context, userID uuid.UUID, key string) (*domain.IdempotencyRecord, bool, error) {
	var (
		rec      *domain.IdempotencyRecord
		reserved bool
	)
	err := p.retry.do(ctx, func() error {
		var err error
		rec, reserved, err = p.idem.Reserve(ctx, userID, key, 0)
		return err
	})
	if err != nil {
		return nil, false, p.classify(ctx, err)
	}
	return rec, reserved, nil
}

func (p *TransactionProcessorImpl) replay(ctx context.Context, rec *domain.IdempotencyRecord, kind domain.OperationKind) (*domain.OperationResult, error) {
	result, err := DecodeResult(rec)
	if err != nil {
		return nil, err
	}
	result.Duplicate = true

	if p.metrics != nil {
		p.metrics.IncDuplicate(kind)
	}
	log := logger.FromContext(ctx, p.log)
	log.Info().
		Str("idempotency_key", rec.Key).
		Str("tx_id", result.TransactionID).
		Str("status", string(result.Status)).
		Msg("duplicate request, returning stored result")

	return result, nil
}

// park stores req as an approval request and finalizes the key to PENDING_APPROVAL.
func (p *TransactionProcessorImpl) park(ctx context.Context, req domain.OperationRequest, rec *domain.IdempotencyRecord) (*domain.OperationResult, error) {
	var result *domain.OperationResult
	err := p.inTx(ctx, func(tx pgx.Tx) error {
		ar, err := p.approvals.Create(ctx, tx, req, rec.Key)
		if err != nil {
			return err
		}
		result = &domain.OperationResult{
			TransactionID:     req.TransactionID,
			Status:            domain.OperationPendingApproval,
			UserID:            req.UserID,
			Kind:              req.Kind,
			Currency:          req.Currency,
			Amount:            req.Amount,
			ApprovalRequestID: ar.ID,
			ProcessedAt:       ar.CreatedAt,
		}
		// The key must outlive the approval window so retries keep seeing it.
		rec.ExpiresAt = ar.ExpiresAt.Add(p.idem.TTL())
		return p.idem.Commit(ctx, tx, rec, domain.IdempotencyPendingApproval, result)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// execute applies m under the user's lock in one database transaction.
func (p *TransactionProcessorImpl) execute(ctx context.Context, m mutation, rec *domain.IdempotencyRecord) (*domain.OperationResult, error) {
	release, err := p.locker.Acquire(ctx, m.userID)
	if err != nil {
		return nil, p.classify(ctx, fmt.Errorf("acquire user lock: %w", err))
	}
	defer release()

	var result *domain.OperationResult
	err = p.inTx(ctx, func(tx pgx.Tx) error {
		if m.reversesEntryID != "" {
			existing, err := p.ledger.ReversalOf(ctx, tx, m.reversesEntryID)
			if err != nil {
				return err
			}
			if existing != nil {
				return apperror.ErrAlreadyReversed(m.reversesEntryID)
			}
		}
		var err error
		result, err = p.apply(ctx, tx, m, rec)
		return err
	})

	log := logger.FromContext(ctx, p.log)
	if err != nil {
		log.Warn().Err(err).
			Str("user_id", m.userID.String()).
			Str("tx_id", m.transactionID).
			Str("kind", string(m.kind)).
			Msg("operation not applied")
		return nil, p.classify(ctx, err)
	}

	p.idem.CacheResult(ctx, rec)
	log.Info().
		Str("user_id", m.userID.String()).
		Str("tx_id", result.TransactionID).
		Str("entry_id", result.EntryID).
		Str("kind", string(m.kind)).
		Str("currency", string(m.currency)).
		Str("amount", m.amount.String()).
		Msg("operation applied")
	return result, nil
}

// apply mutates the wallet, appends the entry and finalizes rec inside tx.
func (p *TransactionProcessorImpl) apply(ctx context.Context, tx pgx.Tx, m mutation, rec *domain.IdempotencyRecord) (*domain.OperationResult, error) {
	wallet, err := p.loadWallet(ctx, tx, m.userID)
	if err != nil {
		return nil, err
	}

	now := p.now()
	before := wallet.Balance(m.currency)
	snap, err := wallet.Apply(m.currency, m.balanceDelta, m.lockedDelta, now)
	if err != nil {
		return nil, err
	}

	entry := &domain.LedgerEntry{
		ID:                domain.NewEntryID(),
		UserID:            m.userID,
		Currency:          m.currency,
		Operation:         m.operation,
		Kind:              m.kind,
		Amount:            m.balanceDelta,
		LockedDelta:       m.lockedDelta,
		BalanceBefore:     before,
		BalanceAfter:      snap.Balance,
		LockedAfter:       snap.Locked,
		IdempotencyKey:    m.idempotencyKey,
		TransactionID:     m.transactionID,
		InitiatorID:       m.initiatorID,
		CorrelationID:     m.correlationID,
		ReversesEntryID:   m.reversesEntryID,
		ApprovalRequestID: m.approvalRequestID,
		Reason:            m.reason,
		Status:            m.status,
		CreatedAt:         now,
	}
	if err := p.ledger.Append(ctx, tx, entry); err != nil {
		return nil, err
	}
	if err := p.wallets.Update(ctx, tx, wallet); err != nil {
		return nil, fmt.Errorf("update wallet: %w", err)
	}

	result := &domain.OperationResult{
		TransactionID:     m.transactionID,
		Status:            domain.OperationCompleted,
		UserID:            m.userID,
		Kind:              m.kind,
		Currency:          m.currency,
		Amount:            m.amount,
		EntryID:           entry.ID,
		ApprovalRequestID: m.approvalRequestID,
		Balance:           &snap,
		ProcessedAt:       now,
	}
	if err := p.idem.Commit(ctx, tx, rec, domain.IdempotencyCompleted, result); err != nil {
		return nil, err
	}
	return result, nil
}

// loadWallet locks the user's wallet, creating it on first use.
func (p *TransactionProcessorImpl) loadWallet(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (*domain.Wallet, error) {
	w, err := p.wallets.GetByUserIDForUpdate(ctx, tx, userID)
	if err != nil {
		return nil, fmt.Errorf("lock wallet: %w", err)
	}
	if w != nil {
		return w, nil
	}

	created, err := p.wallets.Create(ctx, tx, domain.NewWallet(userID, p.now()))
	if err != nil {
		return nil, fmt.Errorf("create wallet: %w", err)
	}
	if created {
		p.log.Info().Str("user_id", userID.String()).Msg("wallet created")
	}

	w, err = p.wallets.GetByUserIDForUpdate(ctx, tx, userID)
	if err != nil {
		return nil, fmt.Errorf("lock wallet: %w", err)
	}
	if w == nil {
		return nil, fmt.Errorf("wallet for user %s missing after create", userID)
	}
	return w, nil
}

// inTx runs fn in a fresh transaction, retrying transient failures.
// Commit failures are never retried.
func (p *TransactionProcessorImpl) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return p.retry.do(ctx, func() error {
		dbTx, err := p.transactor.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer dbTx.Rollback(ctx) //nolint:errcheck

		if err := fn(dbTx); err != nil {
			return err
		}
		if err := dbTx.Commit(ctx); err != nil {
			return p.classify(ctx, fmt.Errorf("commit tx: %w", err))
		}
		return nil
	})
}

// classify maps infrastructure failures onto AppErrors. Business errors pass through.
func (p *TransactionProcessorImpl) classify(ctx context.Context, err error) error {
	if _, ok := apperror.As(err); ok {
		return err
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled), ctx.Err() != nil:
		return apperror.ErrOperationTimeout(err)
	case errors.Is(err, ports.ErrVersionConflict), errors.Is(err, ports.ErrRecordFinalized):
		return apperror.ErrConcurrentModification(err)
	}
	return apperror.ErrTransactionFailed(err)
}

// Reverse books an offsetting entry for entryID and undoes its wallet change.
func (p *TransactionProcessorImpl) Reverse(ctx context.Context, rr domain.ReverseRequest) (*domain.OperationResult, error) {
	start := time.Now()
	req := domain.OperationRequest{
		Kind:          domain.KindReversal,
		Initiator:     rr.Initiator,
		CorrelationID: rr.CorrelationID,
		Reason:        rr.Reason,
	}
	result, err := p.reverse(ctx, rr, &req)
	p.finish(ctx, req, result, err, start)
	return result, err
}

func (p *TransactionProcessorImpl) reverse(ctx context.Context, rr domain.ReverseRequest, req *domain.OperationRequest) (*domain.OperationResult, error) {
	if !rr.Initiator.HasRole(domain.RoleAdmin) {
		return nil, apperror.ErrForbidden("reversals require the ADMIN role")
	}
	if strings.TrimSpace(rr.Reason) == "" {
		return nil, apperror.ErrInvalidOperation("reversal reason is required")
	}
	if err := domain.ValidateCallerKey(rr.IdempotencyKey); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, apperror.ErrOperationTimeout(err)
	}

	orig, err := p.ledger.Get(ctx, rr.EntryID)
	if err != nil {
		return nil, err
	}
	if orig.IsReversal() {
		return nil, apperror.ErrInvalidOperation("reversal entries cannot be reversed")
	}

	req.UserID = orig.UserID
	req.Currency = orig.Currency
	req.Amount = orig.Magnitude()
	req.TransactionID = domain.NewTransactionID()

	key := domain.BuildIdempotencyKey(orig.UserID, domain.KindReversal, rr.IdempotencyKey)
	rec, reserved, err := p.reserve(ctx, orig.UserID, key)
	if err != nil {
		return nil, err
	}
	if !reserved {
		return p.replay(ctx, rec, domain.KindReversal)
	}

	m := mutation{
		userID:          orig.UserID,
		currency:        orig.Currency,
		kind:            domain.KindReversal,
		operation:       orig.Operation,
		amount:          req.Amount,
		balanceDelta:    orig.Amount.Neg(),
		lockedDelta:     orig.LockedDelta.Neg(),
		transactionID:   req.TransactionID,
		idempotencyKey:  key,
		initiatorID:     rr.Initiator.ID,
		correlationID:   rr.CorrelationID,
		reason:          rr.Reason,
		reversesEntryID: orig.ID,
		status:          domain.EntryReversed,
	}
	result, err := p.execute(ctx, m, rec)
	if err != nil {
		p.idem.Release(ctx, orig.UserID, key)
		return nil, err
	}
	return result, nil
}

// Approve records a sign-off. Reaching the required count applies the stored
// operation in the same transaction as the final approval.
func (p *TransactionProcessorImpl) Approve(ctx context.Context, requestID string, approver domain.Actor, note string) (*domain.ApprovalRequest, error) {
	start := time.Now()
	unlock := p.requests.Lock(requestID)
	defer unlock()

	current, err := p.approvals.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}

	release, err := p.locker.Acquire(ctx, current.UserID)
	if err != nil {
		return nil, p.classify(ctx, fmt.Errorf("acquire user lock: %w", err))
	}
	defer release()

	var (
		updated *domain.ApprovalRequest
		rec     *domain.IdempotencyRecord
		result  *domain.OperationResult
		outcome error
	)
	err = p.inTx(ctx, func(tx pgx.Tx) error {
		updated, rec, result, outcome = nil, nil, nil, nil

		ar, err := p.approvals.Approve(ctx, tx, requestID, approver, note)
		if ar != nil && apperror.Is(err, apperror.CodeApprovalExpired) {
			updated, outcome = ar, err
			rec, result, err = p.settle(ctx, tx, ar, domain.OperationExpired)
			return err
		}
		if err != nil {
			return err
		}
		updated = ar
		if ar.Status != domain.ApprovalApproved {
			return nil
		}

		rec = p.approvalRecord(ar)
		m := mutationFor(approvedOperation(ar), ar.IdempotencyKey)
		m.approvalRequestID = ar.ID
		result, err = p.apply(ctx, tx, m, rec)
		return err
	})
	if err != nil {
		return nil, p.classify(ctx, err)
	}

	if rec != nil {
		p.idem.CacheResult(ctx, rec)
	}
	if result != nil {
		p.finish(ctx, approvedOperation(updated), result, nil, start)
	}
	if p.metrics != nil && outcome == nil && updated.Status == domain.ApprovalApproved {
		p.metrics.IncApproval(domain.ApprovalApproved)
	}
	return updated, outcome
}

// Reject terminates a pending request. The stored operation is never applied.
func (p *TransactionProcessorImpl) Reject(ctx context.Context, requestID string, actor domain.Actor, reason string) (*domain.ApprovalRequest, error) {
	start := time.Now()
	unlock := p.requests.Lock(requestID)
	defer unlock()

	var (
		updated *domain.ApprovalRequest
		rec     *domain.IdempotencyRecord
		result  *domain.OperationResult
		outcome error
	)
	err := p.inTx(ctx, func(tx pgx.Tx) error {
		updated, rec, result, outcome = nil, nil, nil, nil

		ar, err := p.approvals.Reject(ctx, tx, requestID, actor, reason)
		status := domain.OperationRejected
		if ar != nil && apperror.Is(err, apperror.CodeApprovalExpired) {
			status, outcome = domain.OperationExpired, err
		} else if err != nil {
			return err
		}
		updated = ar
		rec, result, err = p.settle(ctx, tx, ar, status)
		return err
	})
	if err != nil {
		return nil, p.classify(ctx, err)
	}

	p.idem.CacheResult(ctx, rec)
	p.finish(ctx, approvedOperation(updated), result, nil, start)
	return updated, outcome
}

// ExpireStale expires every pending request past its deadline and reports
// how many were moved.
func (p *TransactionProcessorImpl) ExpireStale(ctx context.Context) (int, error) {
	due, err := p.approvals.ListExpired(ctx, expireBatchSize)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, ar := range due {
		if err := p.expireOne(ctx, ar.ID); err != nil {
			if apperror.Is(err, apperror.CodeApprovalNotPending) {
				continue
			}
			p.log.Error().Err(err).Str("approval_id", ar.ID).Msg("failed to expire approval request")
			continue
		}
		expired++
	}
	if expired > 0 {
		p.log.Info().Int("expired", expired).Msg("stale approval requests expired")
	}
	return expired, nil
}

func (p *TransactionProcessorImpl) expireOne(ctx context.Context, id string) error {
	start := time.Now()
	unlock := p.requests.Lock(id)
	defer unlock()

	var (
		updated *domain.ApprovalRequest
		rec     *domain.IdempotencyRecord
		result  *domain.OperationResult
	)
	err := p.inTx(ctx, func(tx pgx.Tx) error {
		ar, err := p.approvals.Expire(ctx, tx, id)
		if err != nil {
			return err
		}
		updated = ar
		rec, result, err = p.settle(ctx, tx, ar, domain.OperationExpired)
		return err
	})
	if err != nil {
		return err
	}

	p.idem.CacheResult(ctx, rec)
	p.finish(ctx, approvedOperation(updated), result, nil, start)
	return nil
}

// settle finalizes the key of a request that will never be applied.
func (p *TransactionProcessorImpl) settle(ctx context.Context, tx pgx.Tx, ar *domain.ApprovalRequest, status domain.OperationStatus) (*domain.IdempotencyRecord, *domain.OperationResult, error) {
	rec := p.approvalRecord(ar)
	result := &domain.OperationResult{
		TransactionID:     ar.TransactionID,
		Status:            status,
		UserID:            ar.UserID,
		Kind:              ar.Kind,
		Currency:          ar.Currency,
		Amount:            ar.Amount,
		ApprovalRequestID: ar.ID,
		ProcessedAt:       p.now(),
	}
	if err := p.idem.Commit(ctx, tx, rec, domain.IdempotencyNotApplied, result); err != nil {
		return nil, nil, err
	}
	return rec, result, nil
}

func (p *TransactionProcessorImpl) approvalRecord(ar *domain.ApprovalRequest) *domain.IdempotencyRecord {
	return &domain.IdempotencyRecord{
		UserID:    ar.UserID,
		Key:       ar.IdempotencyKey,
		Status:    domain.IdempotencyPendingApproval,
		CreatedAt: ar.CreatedAt,
		ExpiresAt: p.now().Add(p.idem.TTL()),
	}
}

func approvedOperation(ar *domain.ApprovalRequest) domain.OperationRequest {
	req := ar.Operation
	req.TransactionID = ar.TransactionID
	return req
}

// Balance returns the stored wallet without creating it.
func (p *TransactionProcessorImpl) Balance(ctx context.Context, userID uuid.UUID) (*domain.WalletView, error) {
	w, err := p.wallets.GetByUserID(ctx, userID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get wallet: %w", err))
	}
	if w == nil {
		return nil, apperror.ErrNotFound("Wallet")
	}
	view := w.View()
	return &view, nil
}

// EnsureWallet creates the user's wallet if it does not exist yet.
func (p *TransactionProcessorImpl) EnsureWallet(ctx context.Context, userID uuid.UUID) (*domain.WalletView, error) {
	if userID == uuid.Nil {
		return nil, apperror.ErrInvalidSubject("user id is required")
	}
	release, err := p.locker.Acquire(ctx, userID)
	if err != nil {
		return nil, p.classify(ctx, fmt.Errorf("acquire user lock: %w", err))
	}
	defer release()

	var view domain.WalletView
	err = p.inTx(ctx, func(tx pgx.Tx) error {
		w, err := p.loadWallet(ctx, tx, userID)
		if err != nil {
			return err
		}
		view = w.View()
		return nil
	})
	if err != nil {
		return nil, p.classify(ctx, err)
	}
	return &view, nil
}

// finish records metrics and the audit event of one processed operation.
// Duplicates are counted but not audited again.
func (p *TransactionProcessorImpl) finish(ctx context.Context, req domain.OperationRequest, result *domain.OperationResult, err error, start time.Time) {
	outcome := outcomeOf(result, err)
	if p.metrics != nil {
		p.metrics.ObserveOperation(req.Kind, req.Currency, outcome, time.Since(start))
	}
	if p.audit == nil || (result != nil && result.Duplicate) {
		return
	}

	event := domain.AuditEvent{
		ID:            domain.NewAuditID(),
		TransactionID: req.TransactionID,
		UserID:        req.UserID,
		Operation:     req.Kind,
		Currency:      req.Currency,
		Amount:        req.Amount,
		Status:        outcome,
		CorrelationID: req.CorrelationID,
		InitiatorID:   req.Initiator.ID,
		Timestamp:     p.now(),
	}
	if result != nil {
		event.TransactionID = result.TransactionID
		event.EntryID = result.EntryID
	}
	p.audit.Record(ctx, event)
}

func outcomeOf(result *domain.OperationResult, err error) string {
	if err != nil {
		if appErr, ok := apperror.As(err); ok {
			return appErr.Code
		}
		return apperror.CodeInternal
	}
	if result == nil {
		return apperror.CodeInternal
	}
	return string(result.Status)
}

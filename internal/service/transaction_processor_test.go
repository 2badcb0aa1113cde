package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"sweepstakes-wallet/internal/core/domain"
	"sweepstakes-wallet/internal/core/ports"
	"sweepstakes-wallet/internal/core/ports/mocks"
	"sweepstakes-wallet/pkg/apperror"
	"sweepstakes-wallet/pkg/money"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

const (
	gold   = domain.CurrencyGold
	sweeps = domain.CurrencySweeps
)

// ==================== Apply ====================

func TestProcessor_CreditDebitLockUnlock(t *testing.T) {
	h := newHarness(t)
	user := uuid.New()

	res := h.mustProcess(t, playerOp(user, domain.KindCredit, gold, "100", "buy-00000001"))
	assert.Equal(t, domain.OperationCompleted, res.Status)
	assert.Equal(t, "100.0000", res.Balance.Balance.String())
	assert.Contains(t, res.TransactionID, domain.PrefixTransaction)
	assert.Contains(t, res.EntryID, domain.PrefixEntry)

	h.mustProcess(t, playerOp(user, domain.KindDebit, gold, "20.5", "spin-00000001"))
	res = h.mustProcess(t, playerOp(user, domain.KindLock, gold, "50", "lock-00000001"))
	assert.Equal(t, "79.5000", res.Balance.Balance.String())
	assert.Equal(t, "50.0000", res.Balance.Locked.String())
	assert.Equal(t, "29.5000", res.Balance.Available.String())

	// Locked funds cannot be spent
	_, err := h.proc.Process(context.Background(), playerOp(user, domain.KindDebit, gold, "30", "spin-00000002"))
	assert.True(t, apperror.Is(err, apperror.CodeInsufficientBalance))

	_, err = h.proc.Process(context.Background(), playerOp(user, domain.KindUnlock, gold, "60", "unlock-0000001"))
	assert.True(t, apperror.Is(err, apperror.CodeInsufficientBalance))

	h.mustProcess(t, playerOp(user, domain.KindUnlock, gold, "50", "unlock-0000002"))
	h.mustProcess(t, playerOp(user, domain.KindDebit, gold, "30", "spin-00000002"))

	assert.Equal(t, "49.5000", h.balance(t, user, gold))
	h.requireConsistent(t, user)
}

func TestProcessor_CurrenciesAreIndependent(t *testing.T) {
	h := newHarness(t)
	user := uuid.New()

	h.mustProcess(t, playerOp(user, domain.KindCredit, gold, "10", "buy-00000001"))
	h.mustProcess(t, playerOp(user, domain.KindCredit, sweeps, "3", "promo-0000001"))

	_, err := h.proc.Process(context.Background(), playerOp(user, domain.KindDebit, sweeps, "5", "spin-00000001"))
	assert.True(t, apperror.Is(err, apperror.CodeInsufficientBalance))

	assert.Equal(t, "10.0000", h.balance(t, user, gold))
	assert.Equal(t, "3.0000", h.balance(t, user, sweeps))
}

func TestProcessor_Validation(t *testing.T) {
	user := uuid.New()
	tests := []struct {
		name string
		req  domain.OperationRequest
		code string
	}{
		{"zero amount", playerOp(user, domain.KindCredit, gold, "0", "buy-00000001"), apperror.CodeInvalidAmount},
		{"unknown currency", playerOp(user, domain.KindCredit, "GEMS", "1", "buy-00000001"), apperror.CodeInvalidOperation},
		{"unknown kind", playerOp(user, "BONUS", gold, "1", "buy-00000001"), apperror.CodeInvalidOperation},
		{"short key", playerOp(user, domain.KindCredit, gold, "1", "short"), apperror.CodeInvalidIdempotencyKey},
		{"bad key chars", playerOp(user, domain.KindCredit, gold, "1", "key with spaces"), apperror.CodeInvalidIdempotencyKey},
		{"gold withdrawal", playerOp(user, domain.KindWithdrawal, gold, "100", "payout-000001"), apperror.CodeCurrencyNotWithdrawable},
		{"withdrawal below min", playerOp(user, domain.KindWithdrawal, sweeps, "49.9999", "payout-000001"), apperror.CodeAmountOutOfRange},
		{"withdrawal above max", playerOp(user, domain.KindWithdrawal, sweeps, "5000.0001", "payout-000001"), apperror.CodeAmountOutOfRange},
		{"player adjustment", playerOp(user, domain.KindAdjustmentCredit, gold, "1", "adj-00000001"), apperror.CodeForbidden},
		{"amoe in gold", playerOp(user, domain.KindAMOEGrant, gold, "", "amoe-0000001"), apperror.CodeInvalidOperation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			_, err := h.proc.Process(context.Background(), tt.req)
			require.Error(t, err)
			assert.True(t, apperror.Is(err, tt.code), "got %v", err)
		})
	}
}

func TestProcessor_SubjectMustOwnWallet(t *testing.T) {
	h := newHarness(t)
	req := playerOp(uuid.New(), domain.KindCredit, gold, "1", "buy-00000001")
	req.UserID = uuid.New()

	_, err := h.proc.Process(context.Background(), req)
	assert.True(t, apperror.Is(err, apperror.CodeInvalidSubject))

	req = playerOp(uuid.New(), domain.KindCredit, gold, "1", "buy-00000001")
	req.Subject.StateCode = ""
	_, err = h.proc.Process(context.Background(), req)
	assert.True(t, apperror.Is(err, apperror.CodeInvalidSubject))
}

func TestProcessor_CancelledContext(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.proc.Process(ctx, playerOp(uuid.New(), domain.KindCredit, gold, "1", "buy-00000001"))
	assert.True(t, apperror.Is(err, apperror.CodeOperationTimeout))
}

// ==================== Idempotency ====================

func TestProcessor_DuplicateKeyAppliesOnce(t *testing.T) {
	h := newHarness(t)
	user := uuid.New()

	first := h.mustProcess(t, playerOp(user, domain.KindCredit, gold, "25", "buy-00000001"))
	second := h.mustProcess(t, playerOp(user, domain.KindCredit, gold, "25", "buy-00000001"))

	assert.False(t, first.Duplicate)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.TransactionID, second.TransactionID)
	assert.Equal(t, first.EntryID, second.EntryID)
	assert.Equal(t, "25.0000", h.balance(t, user, gold))
	assert.Equal(t, 1, h.metrics.duplicates)

	// The stored result wins even if the retry changes the body
	third := h.mustProcess(t, playerOp(user, domain.KindCredit, gold, "999", "buy-00000001"))
	assert.True(t, third.Duplicate)
	assert.Equal(t, "25.0000", third.Amount.String())

	// The key is scoped by kind
	h.mustProcess(t, playerOp(user, domain.KindDebit, gold, "5", "buy-00000001"))
	assert.Equal(t, "20.0000", h.balance(t, user, gold))
}

func TestProcessor_FailedRequestReleasesKey(t *testing.T) {
	h := newHarness(t)
	user := uuid.New()

	_, err := h.proc.Process(context.Background(), playerOp(user, domain.KindDebit, gold, "10", "spin-00000001"))
	require.True(t, apperror.Is(err, apperror.CodeInsufficientBalance))

	h.mustProcess(t, playerOp(user, domain.KindCredit, gold, "10", "buy-00000001"))
	res := h.mustProcess(t, playerOp(user, domain.KindDebit, gold, "10", "spin-00000001"))
	assert.False(t, res.Duplicate)
	assert.Equal(t, "0.0000", h.balance(t, user, gold))
}

func TestProcessor_KeyReusableAfterExpiry(t *testing.T) {
	h := newHarness(t)
	user := uuid.New()

	h.mustProcess(t, playerOp(user, domain.KindCredit, gold, "10", "buy-00000001"))
	h.clock.Advance(25 * time.Hour)
	res := h.mustProcess(t, playerOp(user, domain.KindCredit, gold, "10", "buy-00000001"))

	assert.False(t, res.Duplicate)
	assert.Equal(t, "20.0000", h.balance(t, user, gold))
}

func TestProcessor_AbandonedReservationIsTakenOver(t *testing.T) {
	h := newHarness(t)
	user := uuid.New()
	key := domain.BuildIdempotencyKey(user, domain.KindCredit, "buy-00000001")

	// A worker reserves the key and dies before commit or release
	_, reserved, err := h.idem.Reserve(context.Background(), user, key, 0)
	require.NoError(t, err)
	require.True(t, reserved)

	h.clock.Advance(31 * time.Second)
	res := h.mustProcess(t, playerOp(user, domain.KindCredit, gold, "10", "buy-00000001"))
	assert.False(t, res.Duplicate)
	assert.Equal(t, "10.0000", h.balance(t, user, gold))

	// The committed result keeps the full TTL, not the reservation lease
	h.clock.Advance(23 * time.Hour)
	again := h.mustProcess(t, playerOp(user, domain.KindCredit, gold, "10", "buy-00000001"))
	assert.True(t, again.Duplicate)
	assert.Equal(t, res.TransactionID, again.TransactionID)
	assert.Equal(t, "10.0000", h.balance(t, user, gold))
}

func TestProcessor_ConcurrentDuplicates(t *testing.T) {
	h := newHarness(t)
	user := uuid.New()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		txIDs   = map[string]int{}
		applied int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := h.proc.Process(context.Background(), playerOp(user, domain.KindCredit, gold, "7", "buy-same-key"))
			if err != nil {
				return
			}
			mu.Lock()
			txIDs[res.TransactionID]++
			if !res.Duplicate {
				applied++
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, applied)
	assert.Len(t, txIDs, 1)
	assert.Equal(t, "7.0000", h.balance(t, user, gold))
	h.requireConsistent(t, user)
}

func TestProcessor_ConcurrentDebitsNeverOverdraw(t *testing.T) {
	h := newHarness(t)
	user := uuid.New()
	h.mustProcess(t, playerOp(user, domain.KindCredit, gold, "100", "buy-00000001"))

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok       int
		failures []error
	)
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := h.proc.Process(context.Background(),
				playerOp(user, domain.KindDebit, gold, "7", fmt.Sprintf("spin-%08d", i)))
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				ok++
				return
			}
			failures = append(failures, err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 14, ok)
	require.Len(t, failures, 11)
	for _, err := range failures {
		assert.True(t, apperror.Is(err, apperror.CodeInsufficientBalance), "unexpected failure: %v", err)
	}
	assert.Equal(t, "2.0000", h.balance(t, user, gold))
	h.requireConsistent(t, user)
}

// ==================== Compliance ====================

func TestProcessor_ComplianceViolationLeavesNoTrace(t *testing.T) {
	h := newHarness(t)
	user := uuid.New()

	req := playerOp(user, domain.KindCredit, sweeps, "10", "promo-0000001")
	req.Subject.StateCode = "WA"
	_, err := h.proc.Process(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, string(domain.ViolationStateRestriction), apperror.ViolationKindOf(err))

	_, err = h.proc.Balance(context.Background(), user)
	assert.True(t, apperror.Is(err, apperror.CodeNotFound), "no wallet is created")
	assert.Equal(t, []domain.ViolationKind{domain.ViolationStateRestriction}, h.metrics.violations)
}

func TestProcessor_AMOEDailyLimit(t *testing.T) {
	h := newHarness(t)
	user := uuid.New()

	res := h.mustProcess(t, playerOp(user, domain.KindAMOEGrant, "", "", "amoe-0000001"))
	assert.Equal(t, sweeps, res.Currency)
	assert.Equal(t, "5.0000", res.Amount.String())

	_, err := h.proc.Process(context.Background(), playerOp(user, domain.KindAMOEGrant, "", "", "amoe-0000002"))
	assert.Equal(t, string(domain.ViolationLimitExceeded), apperror.ViolationKindOf(err))

	h.clock.Advance(24 * time.Hour)
	h.mustProcess(t, playerOp(user, domain.KindAMOEGrant, "", "", "amoe-0000002"))
	assert.Equal(t, "10.0000", h.balance(t, user, sweeps))
}

func TestProcessor_DailyWithdrawalLimit(t *testing.T) {
	h := newHarness(t)
	user := uuid.New()
	h.mustProcess(t, playerOp(user, domain.KindCredit, sweeps, "6000", "promo-0000001"))

	for i := 0; i < 10; i++ {
		h.mustProcess(t, playerOp(user, domain.KindWithdrawal, sweeps, "500", fmt.Sprintf("payout-%06d", i)))
	}
	_, err := h.proc.Process(context.Background(), playerOp(user, domain.KindWithdrawal, sweeps, "50", "payout-999999"))
	assert.Equal(t, string(domain.ViolationLimitExceeded), apperror.ViolationKindOf(err))

	// Reversed withdrawals no longer count
	entries, err := h.ledger.EntriesFor(context.Background(), user, ports.LedgerFilter{Limit: 2})
	require.NoError(t, err)
	_, err = h.proc.Reverse(context.Background(), domain.ReverseRequest{
		EntryID:        entries[1].ID,
		Reason:         "payout failed at bank",
		IdempotencyKey: "rev-00000001",
		Initiator:      staffActor(domain.RoleAdmin),
	})
	require.NoError(t, err)
	h.mustProcess(t, playerOp(user, domain.KindWithdrawal, sweeps, "50", "payout-999999"))
}

func TestProcessor_WithdrawalRequiresKYC(t *testing.T) {
	h := newHarness(t)
	user := uuid.New()
	h.mustProcess(t, playerOp(user, domain.KindCredit, sweeps, "100", "promo-0000001"))

	req := playerOp(user, domain.KindWithdrawal, sweeps, "60", "payout-000001")
	req.Subject.KYCStatus = domain.KYCPending
	_, err := h.proc.Process(context.Background(), req)
	assert.Equal(t, string(domain.ViolationKYCRequired), apperror.ViolationKindOf(err))
}

// ==================== Approvals ====================

func TestProcessor_ThresholdIsStrict(t *testing.T) {
	h := newHarness(t)
	user := uuid.New()
	h.mustProcess(t, playerOp(user, domain.KindCredit, sweeps, "2000", "promo-0000001"))

	res := h.mustProcess(t, playerOp(user, domain.KindWithdrawal, sweeps, "500", "payout-000001"))
	assert.Equal(t, domain.OperationCompleted, res.Status)

	res = h.mustProcess(t, playerOp(user, domain.KindWithdrawal, sweeps, "500.0001", "payout-000002"))
	assert.Equal(t, domain.OperationPendingApproval, res.Status)
	assert.Contains(t, res.ApprovalRequestID, domain.PrefixApproval)
	assert.Empty(t, res.EntryID)
	assert.Equal(t, "1500.0000", h.balance(t, user, sweeps))
}

func TestProcessor_DualApprovalApplies(t *testing.T) {
	h := newHarness(t)
	user := uuid.New()
	h.mustProcess(t, playerOp(user, domain.KindCredit, sweeps, "1000", "promo-0000001"))

	parked := h.mustProcess(t, playerOp(user, domain.KindWithdrawal, sweeps, "600", "payout-000001"))
	require.Equal(t, domain.OperationPendingApproval, parked.Status)

	a1, a2 := staffActor(domain.RoleAdmin), staffActor()
	ar, err := h.proc.Approve(context.Background(), parked.ApprovalRequestID, a1, "checked")
	require.NoError(t, err)
	assert.Equal(t, domain.ApprovalPending, ar.Status)
	assert.Equal(t, "1000.0000", h.balance(t, user, sweeps))

	_, err = h.proc.Approve(context.Background(), parked.ApprovalRequestID, a1, "")
	assert.True(t, apperror.Is(err, apperror.CodeDuplicateApproval))

	ar, err = h.proc.Approve(context.Background(), parked.ApprovalRequestID, a2, "")
	require.NoError(t, err)
	assert.Equal(t, domain.ApprovalApproved, ar.Status)
	assert.Equal(t, "400.0000", h.balance(t, user, sweeps))
	assert.Equal(t, []domain.ApprovalStatus{domain.ApprovalPending, domain.ApprovalApproved}, h.metrics.approvals)

	entries, err := h.ledger.EntriesFor(context.Background(), user, ports.LedgerFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, parked.ApprovalRequestID, entries[1].ApprovalRequestID)
	assert.Equal(t, parked.TransactionID, entries[1].TransactionID)

	replay := h.mustProcess(t, playerOp(user, domain.KindWithdrawal, sweeps, "600", "payout-000001"))
	assert.True(t, replay.Duplicate)
	assert.Equal(t, domain.OperationCompleted, replay.Status)
	assert.Equal(t, entries[1].ID, replay.EntryID)

	_, err = h.proc.Approve(context.Background(), parked.ApprovalRequestID, staffActor(), "")
	assert.True(t, apperror.Is(err, apperror.CodeApprovalNotPending))
	h.requireConsistent(t, user)
}

func TestProcessor_TripleApprovalAtTenThousand(t *testing.T) {
	h := newHarness(t)
	user := uuid.New()
	admin := uuid.New()

	parked := h.mustProcess(t, adminOp(admin, user, domain.KindAdjustmentCredit, gold, "10000", "adj-00000001"))
	require.Equal(t, domain.OperationPendingApproval, parked.Status)

	ar, err := h.approvals.Get(context.Background(), parked.ApprovalRequestID)
	require.NoError(t, err)
	assert.Equal(t, 3, ar.RequiredApprovals)
	assert.Equal(t, admin, ar.InitiatorID)

	_, err = h.proc.Approve(context.Background(), ar.ID, domain.Actor{ID: admin, Roles: []domain.Role{domain.RoleAdmin}}, "")
	assert.True(t, apperror.Is(err, apperror.CodeSelfApproval))

	for i := 0; i < 2; i++ {
		ar, err = h.proc.Approve(context.Background(), ar.ID, staffActor(), "")
		require.NoError(t, err)
		assert.Equal(t, domain.ApprovalPending, ar.Status)
	}
	ar, err = h.proc.Approve(context.Background(), ar.ID, staffActor(domain.RoleAdmin), "")
	require.NoError(t, err)
	assert.Equal(t, domain.ApprovalApproved, ar.Status)
	assert.Equal(t, "10000.0000", h.balance(t, user, gold))
}

func TestProcessor_PlayerCannotApprove(t *testing.T) {
	h := newHarness(t)
	user := uuid.New()
	h.mustProcess(t, playerOp(user, domain.KindCredit, sweeps, "1000", "promo-0000001"))
	parked := h.mustProcess(t, playerOp(user, domain.KindWithdrawal, sweeps, "600", "payout-000001"))

	_, err := h.proc.Approve(context.Background(), parked.ApprovalRequestID,
		domain.Actor{ID: uuid.New(), Roles: []domain.Role{domain.RolePlayer}}, "")
	assert.True(t, apperror.Is(err, apperror.CodeForbidden))
}

func TestProcessor_FinalApprovalRechecksBalance(t *testing.T) {
	h := newHarness(t)
	user := uuid.New()
	h.mustProcess(t, playerOp(user, domain.KindCredit, sweeps, "1000", "promo-0000001"))
	parked := h.mustProcess(t, playerOp(user, domain.KindWithdrawal, sweeps, "600", "payout-000001"))

	_, err := h.proc.Approve(context.Background(), parked.ApprovalRequestID, staffActor(), "")
	require.NoError(t, err)
	h.mustProcess(t, playerOp(user, domain.KindDebit, sweeps, "500", "spin-00000001"))

	_, err = h.proc.Approve(context.Background(), parked.ApprovalRequestID, staffActor(), "")
	assert.True(t, apperror.Is(err, apperror.CodeInsufficientBalance))

	// The failed approval is rolled back with the mutation
	ar, err := h.approvals.Get(context.Background(), parked.ApprovalRequestID)
	require.NoError(t, err)
	assert.Equal(t, domain.ApprovalPending, ar.Status)
	assert.Len(t, ar.Approvals, 1)
	assert.Equal(t, "500.0000", h.balance(t, user, sweeps))
	assert.NotContains(t, h.metrics.approvals, domain.ApprovalApproved)
}

func TestProcessor_RejectSettlesKey(t *testing.T) {
	h := newHarness(t)
	user := uuid.New()
	h.mustProcess(t, playerOp(user, domain.KindCredit, sweeps, "1000", "promo-0000001"))
	parked := h.mustProcess(t, playerOp(user, domain.KindWithdrawal, sweeps, "600", "payout-000001"))

	// The initiator may withdraw their own request
	ar, err := h.proc.Reject(context.Background(), parked.ApprovalRequestID,
		domain.Actor{ID: user, Roles: []domain.Role{domain.RolePlayer}}, "changed my mind")
	require.NoError(t, err)
	assert.Equal(t, domain.ApprovalRejected, ar.Status)
	assert.Equal(t, user, *ar.RejectedBy)

	replay := h.mustProcess(t, playerOp(user, domain.KindWithdrawal, sweeps, "600", "payout-000001"))
	assert.Equal(t, domain.OperationRejected, replay.Status)
	assert.Equal(t, "1000.0000", h.balance(t, user, sweeps))

	_, err = h.proc.Reject(context.Background(), parked.ApprovalRequestID, staffActor(), "again")
	assert.True(t, apperror.Is(err, apperror.CodeApprovalRejected))
}

func TestProcessor_ApprovalExpiresOnDecision(t *testing.T) {
	h := newHarness(t)
	user := uuid.New()
	h.mustProcess(t, playerOp(user, domain.KindCredit, sweeps, "1000", "promo-0000001"))
	parked := h.mustProcess(t, playerOp(user, domain.KindWithdrawal, sweeps, "600", "payout-000001"))

	h.clock.Advance(48 * time.Hour)

	ar, err := h.proc.Approve(context.Background(), parked.ApprovalRequestID, staffActor(), "")
	assert.True(t, apperror.Is(err, apperror.CodeApprovalExpired))
	require.NotNil(t, ar)
	assert.Equal(t, domain.ApprovalExpired, ar.Status)

	// The expiry was committed and the key replays NOT_APPLIED
	stored, err := h.approvals.Get(context.Background(), parked.ApprovalRequestID)
	require.NoError(t, err)
	assert.Equal(t, domain.ApprovalExpired, stored.Status)

	replay := h.mustProcess(t, playerOp(user, domain.KindWithdrawal, sweeps, "600", "payout-000001"))
	assert.Equal(t, domain.OperationExpired, replay.Status)
	assert.Equal(t, "1000.0000", h.balance(t, user, sweeps))
}

func TestProcessor_ExpireStale(t *testing.T) {
	h := newHarness(t)
	user := uuid.New()
	h.mustProcess(t, playerOp(user, domain.KindCredit, sweeps, "3000", "promo-0000001"))
	first := h.mustProcess(t, playerOp(user, domain.KindWithdrawal, sweeps, "600", "payout-000001"))

	h.clock.Advance(24 * time.Hour)
	second := h.mustProcess(t, playerOp(user, domain.KindWithdrawal, sweeps, "700", "payout-000002"))

	n, err := h.proc.ExpireStale(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	h.clock.Advance(25 * time.Hour)
	n, err = h.proc.ExpireStale(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	ar, err := h.approvals.Get(context.Background(), first.ApprovalRequestID)
	require.NoError(t, err)
	assert.Equal(t, domain.ApprovalExpired, ar.Status)
	ar, err = h.approvals.Get(context.Background(), second.ApprovalRequestID)
	require.NoError(t, err)
	assert.Equal(t, domain.ApprovalPending, ar.Status)

	// The parked key outlives the approval window
	replay := h.mustProcess(t, playerOp(user, domain.KindWithdrawal, sweeps, "600", "payout-000001"))
	assert.True(t, replay.Duplicate)
	assert.Equal(t, domain.OperationExpired, replay.Status)
}

// ==================== Reversal ====================

func TestProcessor_ReversalRestoresBalance(t *testing.T) {
	h := newHarness(t)
	user := uuid.New()
	admin := staffActor(domain.RoleAdmin)

	h.mustProcess(t, playerOp(user, domain.KindCredit, gold, "50", "buy-00000001"))
	debit := h.mustProcess(t, playerOp(user, domain.KindDebit, gold, "20", "spin-00000001"))
	lock := h.mustProcess(t, playerOp(user, domain.KindLock, gold, "10", "lock-00000001"))

	rev, err := h.proc.Reverse(context.Background(), domain.ReverseRequest{
		EntryID: debit.EntryID, Reason: "game fault", IdempotencyKey: "rev-00000001", Initiator: admin,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.KindReversal, rev.Kind)
	assert.Equal(t, "20.0000", rev.Amount.String())
	assert.Equal(t, "50.0000", h.balance(t, user, gold))

	_, err = h.proc.Reverse(context.Background(), domain.ReverseRequest{
		EntryID: lock.EntryID, Reason: "stuck hold", IdempotencyKey: "rev-00000002", Initiator: admin,
	})
	require.NoError(t, err)
	view, err := h.proc.Balance(context.Background(), user)
	require.NoError(t, err)
	assert.True(t, view.Gold.Locked.IsZero())

	entry, err := h.ledger.Get(context.Background(), debit.EntryID)
	require.NoError(t, err)
	reversal, err := h.ledger.EntriesFor(context.Background(), user, ports.LedgerFilter{})
	require.NoError(t, err)
	last := reversal[len(reversal)-1]
	assert.Equal(t, entry.Operation, reversal[3].Operation)
	assert.Equal(t, lock.EntryID, last.ReversesEntryID)
	h.requireConsistent(t, user)
}

func TestProcessor_ReversalRules(t *testing.T) {
	h := newHarness(t)
	user := uuid.New()
	admin := staffActor(domain.RoleAdmin)
	credit := h.mustProcess(t, playerOp(user, domain.KindCredit, gold, "50", "buy-00000001"))

	rr := domain.ReverseRequest{EntryID: credit.EntryID, Reason: "chargeback", IdempotencyKey: "rev-00000001", Initiator: admin}

	officer := rr
	officer.Initiator = staffActor()
	_, err := h.proc.Reverse(context.Background(), officer)
	assert.True(t, apperror.Is(err, apperror.CodeForbidden))

	noReason := rr
	noReason.Reason = "  "
	_, err = h.proc.Reverse(context.Background(), noReason)
	assert.True(t, apperror.Is(err, apperror.CodeInvalidOperation))

	missing := rr
	missing.EntryID = "LE-missing"
	_, err = h.proc.Reverse(context.Background(), missing)
	assert.True(t, apperror.Is(err, apperror.CodeNotFound))

	rev, err := h.proc.Reverse(context.Background(), rr)
	require.NoError(t, err)

	// Same key replays, a new key is refused
	again, err := h.proc.Reverse(context.Background(), rr)
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
	assert.Equal(t, rev.EntryID, again.EntryID)

	second := rr
	second.IdempotencyKey = "rev-00000002"
	_, err = h.proc.Reverse(context.Background(), second)
	assert.True(t, apperror.Is(err, apperror.CodeAlreadyReversed))

	ofReversal := rr
	ofReversal.EntryID = rev.EntryID
	ofReversal.IdempotencyKey = "rev-00000003"
	_, err = h.proc.Reverse(context.Background(), ofReversal)
	assert.True(t, apperror.Is(err, apperror.CodeInvalidOperation))

	assert.Equal(t, "0.0000", h.balance(t, user, gold))
}

func TestProcessor_ReversalCannotOverdraw(t *testing.T) {
	h := newHarness(t)
	user := uuid.New()
	credit := h.mustProcess(t, playerOp(user, domain.KindCredit, gold, "50", "buy-00000001"))
	h.mustProcess(t, playerOp(user, domain.KindDebit, gold, "40", "spin-00000001"))

	_, err := h.proc.Reverse(context.Background(), domain.ReverseRequest{
		EntryID: credit.EntryID, Reason: "chargeback", IdempotencyKey: "rev-00000001", Initiator: staffActor(domain.RoleAdmin),
	})
	assert.True(t, apperror.Is(err, apperror.CodeInsufficientBalance))
	assert.Equal(t, "10.0000", h.balance(t, user, gold))
}

// ==================== Wallet & Audit ====================

func TestProcessor_EnsureWalletAndBalance(t *testing.T) {
	h := newHarness(t)
	user := uuid.New()

	_, err := h.proc.Balance(context.Background(), user)
	assert.True(t, apperror.Is(err, apperror.CodeNotFound))

	view, err := h.proc.EnsureWallet(context.Background(), user)
	require.NoError(t, err)
	assert.True(t, view.Gold.Balance.IsZero())
	assert.Equal(t, user, view.UserID)

	again, err := h.proc.EnsureWallet(context.Background(), user)
	require.NoError(t, err)
	assert.Equal(t, view.Version, again.Version)

	_, err = h.proc.EnsureWallet(context.Background(), uuid.Nil)
	assert.True(t, apperror.Is(err, apperror.CodeInvalidSubject))
}

func TestProcessor_AuditsEveryOutcome(t *testing.T) {
	h := newHarness(t)
	user := uuid.New()

	h.mustProcess(t, playerOp(user, domain.KindCredit, gold, "5", "buy-00000001"))
	h.mustProcess(t, playerOp(user, domain.KindCredit, gold, "5", "buy-00000001"))
	_, _ = h.proc.Process(context.Background(), playerOp(user, domain.KindDebit, gold, "50", "spin-00000001"))

	h.auditSvc.Wait(context.Background())
	events := h.audit.Events()
	require.Len(t, events, 2, "duplicates are not audited again")

	statuses := []string{events[0].Status, events[1].Status}
	assert.ElementsMatch(t, []string{string(domain.OperationCompleted), apperror.CodeInsufficientBalance}, statuses)
	for _, e := range events {
		assert.Contains(t, e.ID, domain.PrefixAudit)
		assert.Equal(t, user, e.UserID)
	}
	assert.Len(t, h.metrics.outcomes, 3)
}

// ==================== Retry & commit (mocks) ====================

type processorMocks struct {
	wallets    *mocks.MockWalletRepository
	ledger     *mocks.MockLedgerRepository
	idem       *mocks.MockIdempotencyRepository
	approvals  *mocks.MockApprovalRepository
	transactor *mocks.MockDBTransactor
	proc       *TransactionProcessorImpl
}

func setupMockProcessor(t *testing.T) *processorMocks {
	ctrl := gomock.NewController(t)
	m := &processorMocks{
		wallets:    mocks.NewMockWalletRepository(ctrl),
		ledger:     mocks.NewMockLedgerRepository(ctrl),
		idem:       mocks.NewMockIdempotencyRepository(ctrl),
		approvals:  mocks.NewMockApprovalRepository(ctrl),
		transactor: mocks.NewMockDBTransactor(ctrl),
	}
	log := newTestLogger()
	opts := DefaultProcessorOptions()
	opts.RetryBaseDelay = time.Millisecond
	m.proc = NewTransactionProcessor(ProcessorDeps{
		Wallets:     m.wallets,
		Ledger:      NewLedgerService(m.ledger, m.wallets, log),
		Idempotency: NewIdempotencyService(m.idem, nil, IdempotencyOptions{}, log),
		Compliance:  NewComplianceService(m.ledger, DefaultComplianceRules(), nil, log),
		Approvals:   NewApprovalService(m.approvals, DefaultApprovalPolicy(), nil, log),
		Transactor:  m.transactor,
	}, opts, log)
	return m
}

func walletWithGold(userID uuid.UUID, amount string) *domain.Wallet {
	w := domain.NewWallet(userID, time.Now())
	w.GoldBalance = money.MustParse(amount)
	w.Version = 3
	return w
}

func TestProcessor_RetriesVersionConflict(t *testing.T) {
	m := setupMockProcessor(t)
	user := uuid.New()
	tx := &mockTx{}

	m.idem.EXPECT().Reserve(gomock.Any(), gomock.Any(), gomock.Any()).Return(true, nil)
	m.transactor.EXPECT().Begin(gomock.Any()).Return(tx, nil).Times(2)
	m.wallets.EXPECT().GetByUserIDForUpdate(gomock.Any(), tx, user).
		DoAndReturn(func(context.Context, pgx.Tx, uuid.UUID) (*domain.Wallet, error) {
			return walletWithGold(user, "100"), nil
		}).Times(2)
	m.ledger.EXPECT().Append(gomock.Any(), tx, gomock.Any()).Return(nil).Times(2)
	gomock.InOrder(
		m.wallets.EXPECT().Update(gomock.Any(), tx, gomock.Any()).Return(ports.ErrVersionConflict),
		m.wallets.EXPECT().Update(gomock.Any(), tx, gomock.Any()).Return(nil),
	)
	m.idem.EXPECT().Complete(gomock.Any(), tx, gomock.Any()).
		DoAndReturn(func(_ context.Context, _ pgx.Tx, rec *domain.IdempotencyRecord) error {
			assert.Equal(t, domain.IdempotencyCompleted, rec.Status)
			assert.NotEmpty(t, rec.ResultJSON)
			return nil
		})

	res, err := m.proc.Process(context.Background(), playerOp(user, domain.KindDebit, gold, "10", "spin-00000001"))
	require.NoError(t, err)
	assert.Equal(t, "90.0000", res.Balance.Balance.String())
	assert.Equal(t, 1, tx.commits)
}

func TestProcessor_VersionConflictExhaustsRetries(t *testing.T) {
	m := setupMockProcessor(t)
	user := uuid.New()
	tx := &mockTx{}

	m.idem.EXPECT().Reserve(gomock.Any(), gomock.Any(), gomock.Any()).Return(true, nil)
	m.transactor.EXPECT().Begin(gomock.Any()).Return(tx, nil).Times(3)
	m.wallets.EXPECT().GetByUserIDForUpdate(gomock.Any(), tx, user).
		DoAndReturn(func(context.Context, pgx.Tx, uuid.UUID) (*domain.Wallet, error) {
			return walletWithGold(user, "100"), nil
		}).Times(3)
	m.ledger.EXPECT().Append(gomock.Any(), tx, gomock.Any()).Return(nil).Times(3)
	m.wallets.EXPECT().Update(gomock.Any(), tx, gomock.Any()).Return(ports.ErrVersionConflict).Times(3)
	m.idem.EXPECT().DeletePending(gomock.Any(), user, gomock.Any()).Return(nil)

	_, err := m.proc.Process(context.Background(), playerOp(user, domain.KindDebit, gold, "10", "spin-00000001"))
	assert.True(t, apperror.Is(err, apperror.CodeConcurrentModification))
	assert.Zero(t, tx.commits)
}

func TestProcessor_CommitFailureIsNotRetried(t *testing.T) {
	m := setupMockProcessor(t)
	user := uuid.New()
	tx := &mockTx{commitErr: errors.New("connection reset by peer")}

	m.idem.EXPECT().Reserve(gomock.Any(), gomock.Any(), gomock.Any()).Return(true, nil)
	m.transactor.EXPECT().Begin(gomock.Any()).Return(tx, nil).Times(1)
	m.wallets.EXPECT().GetByUserIDForUpdate(gomock.Any(), tx, user).Return(walletWithGold(user, "100"), nil)
	m.ledger.EXPECT().Append(gomock.Any(), tx, gomock.Any()).Return(nil)
	m.wallets.EXPECT().Update(gomock.Any(), tx, gomock.Any()).Return(nil)
	m.idem.EXPECT().Complete(gomock.Any(), tx, gomock.Any()).Return(nil)
	m.idem.EXPECT().DeletePending(gomock.Any(), user, gomock.Any()).Return(nil)

	_, err := m.proc.Process(context.Background(), playerOp(user, domain.KindDebit, gold, "10", "spin-00000001"))
	assert.True(t, apperror.Is(err, apperror.CodeTransactionFailed))
	assert.Equal(t, 1, tx.commits)
}

func TestProcessor_BeginFailureIsRetried(t *testing.T) {
	m := setupMockProcessor(t)
	user := uuid.New()
	tx := &mockTx{}

	m.idem.EXPECT().Reserve(gomock.Any(), gomock.Any(), gomock.Any()).Return(true, nil)
	gomock.InOrder(
		m.transactor.EXPECT().Begin(gomock.Any()).Return(nil, errors.New("pool exhausted")),
		m.transactor.EXPECT().Begin(gomock.Any()).Return(tx, nil),
	)
	m.wallets.EXPECT().GetByUserIDForUpdate(gomock.Any(), tx, user).Return(nil, nil)
	m.wallets.EXPECT().Create(gomock.Any(), tx, gomock.Any()).Return(true, nil)
	m.wallets.EXPECT().GetByUserIDForUpdate(gomock.Any(), tx, user).Return(domain.NewWallet(user, time.Now()), nil)
	m.ledger.EXPECT().Append(gomock.Any(), tx, gomock.Any()).Return(nil)
	m.wallets.EXPECT().Update(gomock.Any(), tx, gomock.Any()).Return(nil)
	m.idem.EXPECT().Complete(gomock.Any(), tx, gomock.Any()).Return(nil)

	res, err := m.proc.Process(context.Background(), playerOp(user, domain.KindCredit, gold, "10", "buy-00000001"))
	require.NoError(t, err)
	assert.Equal(t, "10.0000", res.Balance.Balance.String())
}

func TestClassify(t *testing.T) {
	p := &TransactionProcessorImpl{}
	ctx := context.Background()

	assert.True(t, apperror.Is(p.classify(ctx, apperror.ErrSelfApproval()), apperror.CodeSelfApproval))
	assert.True(t, apperror.Is(p.classify(ctx, context.DeadlineExceeded), apperror.CodeOperationTimeout))
	assert.True(t, apperror.Is(p.classify(ctx, fmt.Errorf("update: %w", ports.ErrVersionConflict)), apperror.CodeConcurrentModification))
	assert.True(t, apperror.Is(p.classify(ctx, ports.ErrRecordFinalized), apperror.CodeConcurrentModification))
	assert.True(t, apperror.Is(p.classify(ctx, errors.New("boom")), apperror.CodeTransactionFailed))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.True(t, apperror.Is(p.classify(cancelled, errors.New("boom")), apperror.CodeOperationTimeout))
}

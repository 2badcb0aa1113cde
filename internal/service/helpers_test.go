package service

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"sweepstakes-wallet/internal/adapter/storage/memory"
	"sweepstakes-wallet/internal/core/domain"
	"sweepstakes-wallet/pkg/logger"
	"sweepstakes-wallet/pkg/money"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestLogger() zerolog.Logger {
	return logger.NewWithWriter("error", io.Discard)
}

// mockTx implements pgx.Tx for testing
type mockTx struct {
	pgx.Tx
	commitErr error
	commits   int
}

func (m *mockTx) Rollback(_ context.Context) error { return nil }
func (m *mockTx) Commit(_ context.Context) error {
	m.commits++
	return m.commitErr
}

// testClock is a settable time source shared by every service of a harness.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	// A Wednesday, so day and week windows differ.
	return &testClock{now: time.Date(2026, 3, 11, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// harness wires the processor to the in-memory store.
type harness struct {
	proc      *TransactionProcessorImpl
	ledger    *LedgerService
	approvals *ApprovalService
	idem      *IdempotencyService
	audit     *memory.AuditRepo
	auditSvc  *AuditServiceImpl
	metrics   *recordingMetrics
	clock     *testClock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := newTestLogger()
	clock := newTestClock()
	store := memory.NewStore()
	wallets := memory.NewWalletRepo(store)
	ledgerRepo := memory.NewLedgerRepo(store)
	auditRepo := memory.NewAuditRepo(store)
	rec := &recordingMetrics{}

	idem := NewIdempotencyService(memory.NewIdempotencyRepo(store), nil, IdempotencyOptions{
		PollTimeout:  time.Second,
		PollInterval: time.Millisecond,
	}, log)
	compliance := NewComplianceService(ledgerRepo, DefaultComplianceRules(), rec, log)
	approvals := NewApprovalService(memory.NewApprovalRepo(store), DefaultApprovalPolicy(), rec, log)
	ledger := NewLedgerService(ledgerRepo, wallets, log)
	audit := NewAuditService(auditRepo, log)

	opts := DefaultProcessorOptions()
	opts.RetryBaseDelay = time.Millisecond
	proc := NewTransactionProcessor(ProcessorDeps{
		Wallets:     wallets,
		Ledger:      ledger,
		Idempotency: idem,
		Compliance:  compliance,
		Approvals:   approvals,
		Audit:       audit,
		Transactor:  memory.NewTransactor(store),
		Metrics:     rec,
	}, opts, log)

	idem.now = clock.Now
	compliance.now = clock.Now
	approvals.now = clock.Now
	proc.now = clock.Now

	return &harness{
		proc:      proc,
		ledger:    ledger,
		approvals: approvals,
		idem:      idem,
		audit:     auditRepo,
		auditSvc:  audit,
		metrics:   rec,
		clock:     clock,
	}
}

func verifiedSubject(userID uuid.UUID) domain.ComplianceSubject {
	return domain.ComplianceSubject{
		UserID:    userID,
		StateCode: "NJ",
		KYCStatus: domain.KYCVerified,
		Roles:     []domain.Role{domain.RolePlayer},
	}
}

func playerOp(userID uuid.UUID, kind domain.OperationKind, currency domain.Currency, amount, key string) domain.OperationRequest {
	req := domain.OperationRequest{
		UserID:         userID,
		Kind:           kind,
		Currency:       currency,
		IdempotencyKey: key,
		Subject:        verifiedSubject(userID),
	}
	if amount != "" {
		req.Amount = money.MustParse(amount)
	}
	return req
}

func adminOp(adminID, userID uuid.UUID, kind domain.OperationKind, currency domain.Currency, amount, key string) domain.OperationRequest {
	req := playerOp(userID, kind, currency, amount, key)
	req.Initiator = domain.Actor{ID: adminID, Roles: []domain.Role{domain.RoleAdmin}}
	return req
}

func staffActor(roles ...domain.Role) domain.Actor {
	if len(roles) == 0 {
		roles = []domain.Role{domain.RoleComplianceOfficer}
	}
	return domain.Actor{ID: uuid.New(), Roles: roles}
}

func (h *harness) mustProcess(t *testing.T, req domain.OperationRequest) *domain.OperationResult {
	t.Helper()
	res, err := h.proc.Process(context.Background(), req)
	require.NoError(t, err)
	return res
}

func (h *harness) balance(t *testing.T, userID uuid.UUID, c domain.Currency) string {
	t.Helper()
	view, err := h.proc.Balance(context.Background(), userID)
	require.NoError(t, err)
	if c == domain.CurrencyGold {
		return view.Gold.Balance.String()
	}
	return view.Sweeps.Balance.String()
}

// requireConsistent checks that the ledger reproduces the stored wallet.
func (h *harness) requireConsistent(t *testing.T, userID uuid.UUID) {
	t.Helper()
	report, err := h.ledger.Reconcile(context.Background(), userID)
	require.NoError(t, err)
	for _, r := range report {
		require.True(t, r.Consistent, "currency %s: ledger %s/%s wallet %s/%s",
			r.Currency, r.LedgerBalance, r.LedgerLocked, r.WalletBalance, r.WalletLocked)
	}
}

// recordingMetrics implements ports.Metrics in memory.
type recordingMetrics struct {
	mu         sync.Mutex
	outcomes   []string
	violations []domain.ViolationKind
	approvals  []domain.ApprovalStatus
	duplicates int
}

func (m *recordingMetrics) ObserveOperation(_ domain.OperationKind, _ domain.Currency, outcome string, _ time.Duration) {
	m.mu.Lock()
	m.outcomes = append(m.outcomes, outcome)
	m.mu.Unlock()
}

func (m *recordingMetrics) IncViolation(kind domain.ViolationKind) {
	m.mu.Lock()
	m.violations = append(m.violations, kind)
	m.mu.Unlock()
}

func (m *recordingMetrics) IncApproval(status domain.ApprovalStatus) {
	m.mu.Lock()
	m.approvals = append(m.approvals, status)
	m.mu.Unlock()
}

func (m *recordingMetrics) IncDuplicate(domain.OperationKind) {
	m.mu.Lock()
	m.duplicates++
	m.mu.Unlock()
}

package domain

import (
	"testing"
	"time"

	"sweepstakes-wallet/pkg/apperror"
	"sweepstakes-wallet/pkg/money"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func TestCurrency_Withdrawable(t *testing.T) {
	assert.True(t, CurrencySweeps.Withdrawable())
	assert.False(t, CurrencyGold.Withdrawable())
	assert.False(t, Currency("USD").Valid())

	c, err := ParseCurrency(" sweeps ")
	require.NoError(t, err)
	assert.Equal(t, CurrencySweeps, c)

	_, err = ParseCurrency("usd")
	assert.True(t, apperror.Is(err, apperror.CodeInvalidOperation))
}

func TestOperationKind_Classification(t *testing.T) {
	tests := []struct {
		kind      OperationKind
		approval  bool
		player    bool
		adminOnly bool
		ledgerOp  LedgerOperation
	}{
		{KindDebit, false, true, false, LedgerDebit},
		{KindCredit, false, false, false, LedgerCredit},
		{KindWithdrawal, true, true, false, LedgerDebit},
		{KindAdjustmentCredit, true, false, true, LedgerAdjustment},
		{KindAdjustmentDebit, true, false, true, LedgerAdjustment},
		{KindLock, false, true, false, LedgerLock},
		{KindUnlock, false, false, false, LedgerUnlock},
		{KindAMOEGrant, false, true, false, LedgerCredit},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.True(t, tt.kind.Valid())
			assert.Equal(t, tt.approval, tt.kind.RequiresApproval())
			assert.Equal(t, tt.player, tt.kind.PlayerInitiated())
			assert.Equal(t, tt.adminOnly, tt.kind.AdminOnly())
			assert.Equal(t, tt.ledgerOp, tt.kind.LedgerOperation())
		})
	}

	assert.False(t, KindReversal.Valid())
}

func TestOperationKind_Deltas(t *testing.T) {
	amt := money.MustParse("10")

	bal, locked := KindWithdrawal.Deltas(amt)
	assert.Equal(t, "-10.0000", bal.String())
	assert.True(t, locked.IsZero())

	bal, locked = KindUnlock.Deltas(amt)
	assert.True(t, bal.IsZero())
	assert.Equal(t, "-10.0000", locked.String())
}

func TestWallet_DebitCredit(t *testing.T) {
	w := NewWallet(uuid.New(), testNow)

	snap, err := w.Credit(CurrencySweeps, money.MustParse("100"), testNow)
	require.NoError(t, err)
	assert.Equal(t, "100.0000", snap.Balance.String())

	snap, err = w.Debit(CurrencySweeps, money.MustParse("30.5"), testNow)
	require.NoError(t, err)
	assert.Equal(t, "69.5000", snap.Balance.String())
	assert.Equal(t, "69.5000", snap.Available.String())

	assert.True(t, w.GoldBalance.IsZero(), "gold must be untouched")
}

func TestWallet_InsufficientBalance(t *testing.T) {
	w := NewWallet(uuid.New(), testNow)
	_, err := w.Credit(CurrencyGold, money.MustParse("40"), testNow)
	require.NoError(t, err)

	_, err = w.Debit(CurrencyGold, money.MustParse("100"), testNow)
	require.Error(t, err)

	appErr, ok := apperror.As(err)
	require.True(t, ok)
	assert.Equal(t, apperror.CodeInsufficientBalance, appErr.Code)
	assert.Equal(t, "100.0000", appErr.Details["requested"])
	assert.Equal(t, "40.0000", appErr.Details["available"])
	assert.Equal(t, "40.0000", w.GoldBalance.String(), "failed debit must not mutate")
}

func TestWallet_LockUnlock(t *testing.T) {
	w := NewWallet(uuid.New(), testNow)
	_, err := w.Credit(CurrencySweeps, money.MustParse("100"), testNow)
	require.NoError(t, err)

	snap, err := w.Lock(CurrencySweeps, money.MustParse("60"), testNow)
	require.NoError(t, err)
	assert.Equal(t, "100.0000", snap.Balance.String())
	assert.Equal(t, "60.0000", snap.Locked.String())
	assert.Equal(t, "40.0000", snap.Available.String())

	_, err = w.Debit(CurrencySweeps, money.MustParse("50"), testNow)
	assert.True(t, apperror.Is(err, apperror.CodeInsufficientBalance), "locked funds are not spendable")

	_, err = w.Lock(CurrencySweeps, money.MustParse("41"), testNow)
	assert.True(t, apperror.Is(err, apperror.CodeInsufficientBalance))

	_, err = w.Unlock(CurrencySweeps, money.MustParse("61"), testNow)
	assert.True(t, apperror.Is(err, apperror.CodeInsufficientBalance))

	snap, err = w.Unlock(CurrencySweeps, money.MustParse("60"), testNow)
	require.NoError(t, err)
	assert.True(t, snap.Locked.IsZero())
	assert.Equal(t, "100.0000", snap.Available.String())
}

func TestWallet_View(t *testing.T) {
	userID := uuid.New()
	w := NewWallet(userID, testNow)
	_, _ = w.Credit(CurrencyGold, money.MustParse("1"), testNow)

	v := w.View()
	assert.Equal(t, userID, v.UserID)
	assert.Equal(t, "1.0000", v.Gold.Balance.String())
	assert.True(t, v.Sweeps.Balance.IsZero())
}

func TestLedger_Totals(t *testing.T) {
	entries := []*LedgerEntry{
		{Amount: money.MustParse("100"), LockedDelta: money.Zero()},
		{Amount: money.Zero(), LockedDelta: money.MustParse("25")},
		{Amount: money.MustParse("-10"), LockedDelta: money.Zero()},
	}

	bal, locked, err := Totals(entries)
	require.NoError(t, err)
	assert.Equal(t, "90.0000", bal.String())
	assert.Equal(t, "25.0000", locked.String())
	assert.Equal(t, "25.0000", entries[1].Magnitude().String())
	assert.Equal(t, "10.0000", entries[2].Magnitude().String())
}

func TestTimeRange_Contains(t *testing.T) {
	r := TimeRange{From: testNow.Add(-time.Hour), To: testNow}

	assert.True(t, r.Contains(testNow.Add(-time.Minute)))
	assert.False(t, r.Contains(testNow))
	assert.False(t, r.Contains(testNow.Add(-2*time.Hour)))
	assert.True(t, TimeRange{}.Contains(testNow))
}

func TestValidateCallerKey(t *testing.T) {
	tests := []struct {
		key   string
		valid bool
	}{
		{"order-0001", true},
		{"ORDER_2026_abc", true},
		{"short", false},
		{"has space in it", false},
		{"colon:not:allowed", false},
		{string(make([]byte, 256)), false},
	}

	for _, tt := range tests {
		err := ValidateCallerKey(tt.key)
		if tt.valid {
			assert.NoError(t, err, tt.key)
		} else {
			assert.True(t, apperror.Is(err, apperror.CodeInvalidIdempotencyKey), tt.key)
		}
	}
}

func TestBuildIdempotencyKey(t *testing.T) {
	id := uuid.MustParse("550e8400-e29b-41d4-a716-446655440000")
	key := BuildIdempotencyKey(id, KindDebit, "ORD-0001")
	assert.Equal(t, "550e8400-e29b-41d4-a716-446655440000:DEBIT:ORD-0001", key)
}

func TestIdempotencyRecord_IsExpired(t *testing.T) {
	r := &IdempotencyRecord{ExpiresAt: testNow}
	assert.True(t, r.IsExpired(testNow))
	assert.False(t, r.IsExpired(testNow.Add(-time.Second)))
}

func TestComplianceSubject_Validate(t *testing.T) {
	valid := ComplianceSubject{UserID: uuid.New(), StateCode: "NY", KYCStatus: KYCVerified}
	assert.NoError(t, valid.Validate())

	missingUser := valid
	missingUser.UserID = uuid.Nil
	assert.True(t, apperror.Is(missingUser.Validate(), apperror.CodeInvalidSubject))

	badState := valid
	badState.StateCode = "NEW"
	assert.True(t, apperror.Is(badState.Validate(), apperror.CodeInvalidSubject))

	badKYC := valid
	badKYC.KYCStatus = "MAYBE"
	assert.True(t, apperror.Is(badKYC.Validate(), apperror.CodeInvalidSubject))

	badLevel := valid
	badLevel.KYCLevel = "PLATINUM"
	assert.True(t, apperror.Is(badLevel.Validate(), apperror.CodeInvalidSubject))
}

func TestComplianceSubject_EnhancedVerified(t *testing.T) {
	s := ComplianceSubject{KYCStatus: KYCVerified, KYCLevel: KYCLevelEnhanced}
	assert.True(t, s.EnhancedVerified())

	s.KYCLevel = KYCLevelBasic
	assert.False(t, s.EnhancedVerified())

	s = ComplianceSubject{KYCStatus: KYCPending, KYCLevel: KYCLevelEnhanced}
	assert.False(t, s.EnhancedVerified())
}

func TestComplianceSubject_SelfExcluded(t *testing.T) {
	until := testNow.Add(time.Hour)
	s := ComplianceSubject{SelfExclusionUntil: &until}

	assert.True(t, s.SelfExcluded(testNow))
	assert.False(t, s.SelfExcluded(until))
	assert.False(t, ComplianceSubject{}.SelfExcluded(testNow))
}

func newPendingRequest(initiator uuid.UUID, required int) *ApprovalRequest {
	return &ApprovalRequest{
		ID:                NewApprovalID(),
		InitiatorID:       initiator,
		RequiredApprovals: required,
		Status:            ApprovalPending,
		CreatedAt:         testNow,
		ExpiresAt:         testNow.Add(48 * time.Hour),
	}
}

func TestApprovalRequest_DualApproval(t *testing.T) {
	initiator := uuid.New()
	req := newPendingRequest(initiator, 2)

	first := Actor{ID: uuid.New(), Roles: []Role{RoleAdmin}}
	second := Actor{ID: uuid.New(), Roles: []Role{RoleComplianceOfficer}}

	require.NoError(t, req.AddApproval(first, "ok", testNow))
	assert.Equal(t, ApprovalPending, req.Status)

	err := req.AddApproval(first, "again", testNow)
	assert.True(t, apperror.Is(err, apperror.CodeDuplicateApproval))

	require.NoError(t, req.AddApproval(second, "", testNow))
	assert.Equal(t, ApprovalApproved, req.Status)
	assert.True(t, req.IsTerminal())

	err = req.AddApproval(Actor{ID: uuid.New(), Roles: []Role{RoleAdmin}}, "", testNow)
	assert.True(t, apperror.Is(err, apperror.CodeApprovalNotPending))
}

func TestApprovalRequest_Guards(t *testing.T) {
	initiator := uuid.New()
	req := newPendingRequest(initiator, 2)

	err := req.AddApproval(Actor{ID: initiator, Roles: []Role{RoleAdmin}}, "", testNow)
	assert.True(t, apperror.Is(err, apperror.CodeSelfApproval))

	err = req.AddApproval(Actor{ID: uuid.New(), Roles: []Role{RolePlayer}}, "", testNow)
	assert.True(t, apperror.Is(err, apperror.CodeForbidden))

	err = req.AddApproval(Actor{ID: uuid.New(), Roles: []Role{RoleAdmin}}, "", testNow.Add(49*time.Hour))
	assert.True(t, apperror.Is(err, apperror.CodeApprovalExpired))
	assert.Empty(t, req.Approvals)
}

func TestApprovalRequest_RejectAndExpire(t *testing.T) {
	admin := Actor{ID: uuid.New(), Roles: []Role{RoleAdmin}}

	rejected := newPendingRequest(uuid.New(), 2)
	require.NoError(t, rejected.Reject(admin, "suspicious", testNow))
	assert.Equal(t, ApprovalRejected, rejected.Status)
	assert.Equal(t, admin.ID, *rejected.RejectedBy)
	assert.True(t, apperror.Is(rejected.AddApproval(admin, "", testNow), apperror.CodeApprovalRejected))

	expiring := newPendingRequest(uuid.New(), 2)
	assert.Error(t, expiring.Expire(testNow), "not yet due")
	require.NoError(t, expiring.Expire(testNow.Add(48*time.Hour)))
	assert.Equal(t, ApprovalExpired, expiring.Status)
	assert.True(t, apperror.Is(expiring.Reject(admin, "", testNow), apperror.CodeApprovalExpired))
}

func TestNewIDs_Prefixed(t *testing.T) {
	assert.Regexp(t, `^TXN-[0-9A-Z]{26}$`, NewTransactionID())
	assert.Regexp(t, `^LE-[0-9A-Z]{26}$`, NewEntryID())
	assert.Regexp(t, `^APR-[0-9A-Z]{26}$`, NewApprovalID())
	assert.Regexp(t, `^AUD-[0-9A-Z]{26}$`, NewAuditID())
	assert.NotEqual(t, NewEntryID(), NewEntryID())
}

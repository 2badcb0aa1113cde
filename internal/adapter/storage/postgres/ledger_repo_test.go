package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"sweepstakes-wallet/internal/core/domain"
	"sweepstakes-wallet/internal/core/ports"
	"sweepstakes-wallet/pkg/apperror"
	"sweepstakes-wallet/pkg/money"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ledgerColumnNames = []string{
	"id", "user_id", "currency", "operation_type", "kind", "amount", "locked_delta",
	"balance_before", "balance_after", "locked_after", "idempotency_key", "transaction_id",
	"initiator_id", "correlation_id", "reverses_entry_id", "approval_request_id", "reason", "status", "created_at",
}

func newTestEntry() *domain.LedgerEntry {
	return &domain.LedgerEntry{
		ID:             domain.NewEntryID(),
		UserID:         uuid.New(),
		Currency:       domain.CurrencySweeps,
		Operation:      domain.LedgerDebit,
		Kind:           domain.KindWithdrawal,
		Amount:         money.MustParse("-60.0000"),
		LockedDelta:    money.Zero(),
		BalanceBefore:  money.MustParse("100.0000"),
		BalanceAfter:   money.MustParse("40.0000"),
		LockedAfter:    money.Zero(),
		IdempotencyKey: "user:WITHDRAWAL:key-00001",
		TransactionID:  domain.NewTransactionID(),
		InitiatorID:    uuid.New(),
		Status:         domain.EntryCompleted,
		CreatedAt:      time.Now().UTC().Truncate(time.Microsecond),
	}
}

func entryRow(rows *pgxmock.Rows, e *domain.LedgerEntry) *pgxmock.Rows {
	var reverses, approval any
	if e.ReversesEntryID != "" {
		reverses = e.ReversesEntryID
	}
	if e.ApprovalRequestID != "" {
		approval = e.ApprovalRequestID
	}
	return rows.AddRow(
		e.ID, e.UserID, string(e.Currency), string(e.Operation), string(e.Kind), e.Amount.String(), e.LockedDelta.String(),
		e.BalanceBefore.String(), e.BalanceAfter.String(), e.LockedAfter.String(), e.IdempotencyKey, e.TransactionID,
		e.InitiatorID, e.CorrelationID, reverses, approval, e.Reason, string(e.Status), e.CreatedAt,
	)
}

func TestLedgerRepo_Append(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewLedgerRepo(mock)
	e := newTestEntry()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO ledger_entries").
		WithArgs(e.ID, e.UserID, e.Currency, e.Operation, e.Kind, e.Amount, e.LockedDelta,
			e.BalanceBefore, e.BalanceAfter, e.LockedAfter, e.IdempotencyKey, e.TransactionID,
			e.InitiatorID, e.CorrelationID, (*string)(nil), (*string)(nil), e.Reason, e.Status, e.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	assert.NoError(t, repo.Append(context.Background(), tx, e))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerRepo_Append_DuplicateReversal(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewLedgerRepo(mock)
	e := newTestEntry()
	e.ReversesEntryID = "LE-ORIGINAL"

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO ledger_entries").
		WithArgs(anyArgs(19)...).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "ledger_entries_reverses_entry_id_key"})

	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	err = repo.Append(context.Background(), tx, e)
	assert.True(t, apperror.Is(err, apperror.CodeAlreadyReversed))
}

func TestLedgerRepo_GetByID(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewLedgerRepo(mock)
	e := newTestEntry()
	e.ApprovalRequestID = "APR-1"

	mock.ExpectQuery("SELECT .+ FROM ledger_entries WHERE id").
		WithArgs(e.ID).
		WillReturnRows(entryRow(pgxmock.NewRows(ledgerColumnNames), e))

	got, err := repo.GetByID(context.Background(), e.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, e.ID, got.ID)
	assert.Equal(t, domain.CurrencySweeps, got.Currency)
	assert.Equal(t, "-60.0000", got.Amount.String())
	assert.Equal(t, "APR-1", got.ApprovalRequestID)
	assert.Empty(t, got.ReversesEntryID)
	assert.False(t, got.IsReversal())
}

func TestLedgerRepo_FindReversal_None(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewLedgerRepo(mock)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .+ FROM ledger_entries WHERE reverses_entry_id").
		WithArgs("LE-1").
		WillReturnRows(pgxmock.NewRows(ledgerColumnNames))

	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	got, err := repo.FindReversal(context.Background(), tx, "LE-1")
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestLedgerRepo_ListByUser_Filtered(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewLedgerRepo(mock)
	e1, e2 := newTestEntry(), newTestEntry()
	e2.UserID = e1.UserID
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	rows := pgxmock.NewRows(ledgerColumnNames)
	entryRow(rows, e1)
	entryRow(rows, e2)

	mock.ExpectQuery("SELECT .+ FROM ledger_entries WHERE user_id = \\$1 AND currency = \\$2 AND created_at >= \\$3 ORDER BY created_at ASC, id ASC LIMIT \\$4").
		WithArgs(e1.UserID, domain.CurrencySweeps, from, 50).
		WillReturnRows(rows)

	got, err := repo.ListByUser(context.Background(), e1.UserID, ports.LedgerFilter{
		Currency: domain.CurrencySweeps,
		Range:    domain.TimeRange{From: from},
		Limit:    50,
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, e1.ID, got[0].ID)
	assert.Equal(t, e2.ID, got[1].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerRepo_SumWithdrawals(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewLedgerRepo(mock)
	userID := uuid.New()
	since := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT COALESCE\\(SUM\\(-e.amount\\), 0\\) FROM ledger_entries e .+ NOT EXISTS").
		WithArgs(userID, domain.KindWithdrawal, since).
		WillReturnRows(pgxmock.NewRows([]string{"sum"}).AddRow("1250.5000"))

	total, err := repo.SumWithdrawals(context.Background(), userID, since)
	require.NoError(t, err)
	assert.Equal(t, "1250.5000", total.String())
}

func TestLedgerRepo_CountByKind(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewLedgerRepo(mock)
	userID := uuid.New()
	since := time.Now().UTC()

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM ledger_entries").
		WithArgs(userID, domain.KindAMOEGrant, since).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(2))

	count, err := repo.CountByKind(context.Background(), userID, domain.KindAMOEGrant, since)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestLedgerRepo_CountByKind_Error(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewLedgerRepo(mock)

	mock.ExpectQuery("SELECT COUNT").WithArgs(anyArgs(3)...).WillReturnError(errors.New("connection reset"))

	_, err = repo.CountByKind(context.Background(), uuid.New(), domain.KindAMOEGrant, time.Now())
	assert.ErrorContains(t, err, "count ledger entries")
}

package postgres

import (
	"context"
	"testing"
	"time"

	"sweepstakes-wallet/internal/core/domain"
	"sweepstakes-wallet/internal/core/ports"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRecord() *domain.IdempotencyRecord {
	now := time.Now().UTC().Truncate(time.Microsecond)
	userID := uuid.New()
	return &domain.IdempotencyRecord{
		UserID:    userID,
		Key:       domain.BuildIdempotencyKey(userID, domain.KindCredit, "order-0001"),
		Status:    domain.IdempotencyPending,
		CreatedAt: now,
		ExpiresAt: now.Add(24 * time.Hour),
	}
}

func TestIdempotencyRepo_Reserve(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewIdempotencyRepo(mock)
	rec := newTestRecord()

	mock.ExpectExec("DELETE FROM idempotency_records WHERE .+ expires_at <= \\$3").
		WithArgs(rec.UserID, rec.Key, rec.CreatedAt).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec("INSERT INTO idempotency_records .+ ON CONFLICT").
		WithArgs(rec.UserID, rec.Key, rec.Status, rec.CreatedAt, rec.ExpiresAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	reserved, err := repo.Reserve(context.Background(), rec, rec.CreatedAt)
	require.NoError(t, err)
	assert.True(t, reserved)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdempotencyRepo_Reserve_Taken(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewIdempotencyRepo(mock)
	rec := newTestRecord()

	mock.ExpectExec("DELETE FROM idempotency_records").
		WithArgs(rec.UserID, rec.Key, rec.CreatedAt).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec("INSERT INTO idempotency_records").
		WithArgs(rec.UserID, rec.Key, rec.Status, rec.CreatedAt, rec.ExpiresAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	reserved, err := repo.Reserve(context.Background(), rec, rec.CreatedAt)
	require.NoError(t, err)
	assert.False(t, reserved)
}

func TestIdempotencyRepo_Get(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewIdempotencyRepo(mock)
	rec := newTestRecord()

	mock.ExpectQuery("SELECT .+ FROM idempotency_records WHERE user_id = \\$1 AND idempotency_key = \\$2").
		WithArgs(rec.UserID, rec.Key).
		WillReturnRows(pgxmock.NewRows([]string{
			"user_id", "idempotency_key", "status", "transaction_id", "approval_request_id", "result_json", "created_at", "expires_at",
		}).AddRow(rec.UserID, rec.Key, "COMPLETED", "TXN-1", nil, []byte(`{"status":"COMPLETED"}`), rec.CreatedAt, rec.ExpiresAt))

	got, err := repo.Get(context.Background(), rec.UserID, rec.Key)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, domain.IdempotencyCompleted, got.Status)
	assert.Equal(t, "TXN-1", got.TransactionID)
	assert.Empty(t, got.ApprovalRequestID)
	assert.True(t, got.HasResult())
}

func TestIdempotencyRepo_Get_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewIdempotencyRepo(mock)

	mock.ExpectQuery("SELECT .+ FROM idempotency_records").
		WithArgs(pgxmock.AnyArg(), "missing").
		WillReturnRows(pgxmock.NewRows([]string{"user_id"}))

	got, err := repo.Get(context.Background(), uuid.New(), "missing")
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestIdempotencyRepo_Complete(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewIdempotencyRepo(mock)
	rec := newTestRecord()
	rec.Status = domain.IdempotencyCompleted
	rec.TransactionID = "TXN-1"
	rec.ResultJSON = []byte(`{}`)
	txID := "TXN-1"

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE idempotency_records .+ status IN \\('PENDING', 'PENDING_APPROVAL'\\)").
		WithArgs(rec.Status, &txID, (*string)(nil), rec.ResultJSON, rec.ExpiresAt, rec.UserID, rec.Key).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	assert.NoError(t, repo.Complete(context.Background(), tx, rec))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdempotencyRepo_Complete_AlreadyFinal(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewIdempotencyRepo(mock)
	rec := newTestRecord()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE idempotency_records").
		WithArgs(anyArgs(7)...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	assert.ErrorIs(t, repo.Complete(context.Background(), tx, rec), ports.ErrRecordFinalized)
}

func TestIdempotencyRepo_DeletePending(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewIdempotencyRepo(mock)
	rec := newTestRecord()

	mock.ExpectExec("DELETE FROM idempotency_records WHERE .+ status = 'PENDING'").
		WithArgs(rec.UserID, rec.Key).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	assert.NoError(t, repo.DeletePending(context.Background(), rec.UserID, rec.Key))
}

func TestIdempotencyRepo_PurgeExpired(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewIdempotencyRepo(mock)
	now := time.Now().UTC()

	mock.ExpectExec("DELETE FROM idempotency_records WHERE expires_at <= \\$1").
		WithArgs(now).
		WillReturnResult(pgxmock.NewResult("DELETE", 7))

	n, err := repo.PurgeExpired(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
}

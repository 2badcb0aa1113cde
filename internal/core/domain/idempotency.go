package domain

import (
	"fmt"
	"regexp"
	"time"

	"sweepstakes-wallet/pkg/apperror"

	"github.com/google/uuid"
)

// IdempotencyStatus tracks a reserved key through processing.
type IdempotencyStatus string

const (
	IdempotencyPending         IdempotencyStatus = "PENDING"
	IdempotencyCompleted       IdempotencyStatus = "COMPLETED"
	IdempotencyPendingApproval IdempotencyStatus = "PENDING_APPROVAL"
	IdempotencyNotApplied      IdempotencyStatus = "NOT_APPLIED"
)

// IdempotencyRecord remembers the outcome of a (user, key) pair until ExpiresAt.
type IdempotencyRecord struct {
	UserID            uuid.UUID         `json:"user_id"`
	Key               string            `json:"key"` // Format: "user_id:kind:caller_key"
	Status            IdempotencyStatus `json:"status"`
	TransactionID     string            `json:"transaction_id,omitempty"`
	ApprovalRequestID string            `json:"approval_request_id,omitempty"`
	ResultJSON        []byte            `json:"result_json,omitempty"` // Cached result to return
	CreatedAt         time.Time         `json:"created_at"`
	ExpiresAt         time.Time         `json:"expires_at"`
}

// IsExpired reports whether the key may be reused at now.
func (r *IdempotencyRecord) IsExpired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// HasResult reports whether a stored result can be replayed.
func (r *IdempotencyRecord) HasResult() bool {
	return r.Status != IdempotencyPending && len(r.ResultJSON) > 0
}

const (
	minCallerKeyLen = 8
	maxCallerKeyLen = 255
)

var callerKeyPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidateCallerKey checks the key supplied by the client.
func ValidateCallerKey(key string) error {
	if len(key) < minCallerKeyLen || len(key) > maxCallerKeyLen {
		return apperror.ErrInvalidIdempotencyKey(
			fmt.Sprintf("length must be between %d and %d", minCallerKeyLen, maxCallerKeyLen))
	}
	if !callerKeyPattern.MatchString(key) {
		return apperror.ErrInvalidIdempotencyKey("only letters, digits, '-' and '_' are allowed")
	}
	return nil
}

// BuildIdempotencyKey constructs the standard key format.
func BuildIdempotencyKey(userID uuid.UUID, kind OperationKind, callerKey string) string {
	return userID.String() + ":" + string(kind) + ":" + callerKey
}

package domain

import (
	"time"

	"sweepstakes-wallet/pkg/money"

	"github.com/google/uuid"
)

// AuditEvent records one processed operation, whatever its outcome.
type AuditEvent struct {
	ID            string        `json:"id"`
	TransactionID string        `json:"transaction_id,omitempty"`
	UserID        uuid.UUID     `json:"user_id"`
	Operation     OperationKind `json:"operation_type"`
	Currency      Currency      `json:"currency"`
	Amount        money.Money   `json:"amount"`
	Status        string        `json:"status"` // OperationStatus, or the error code on failure
	EntryID       string        `json:"entry_id,omitempty"`
	CorrelationID string        `json:"correlation_id,omitempty"`
	InitiatorID   uuid.UUID     `json:"initiator_id"`
	Timestamp     time.Time     `json:"timestamp"`
}

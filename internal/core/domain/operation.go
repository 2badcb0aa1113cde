package domain

import (
	"time"

	"sweepstakes-wallet/pkg/money"

	"github.com/google/uuid"
)

// OperationKind is the business request that produces a wallet mutation.
type OperationKind string

const (
	KindDebit            OperationKind = "DEBIT"
	KindCredit           OperationKind = "CREDIT"
	KindWithdrawal       OperationKind = "WITHDRAWAL"
	KindAdjustmentCredit OperationKind = "ADJUSTMENT_CREDIT"
	KindAdjustmentDebit  OperationKind = "ADJUSTMENT_DEBIT"
	KindLock             OperationKind = "LOCK"
	KindUnlock           OperationKind = "UNLOCK"
	KindAMOEGrant        OperationKind = "AMOE_GRANT"

	// KindReversal only appears on ledger entries and idempotency keys.
	KindReversal OperationKind = "REVERSAL"
)

// Valid reports whether k can be submitted to the processor.
func (k OperationKind) Valid() bool {
	switch k {
	case KindDebit, KindCredit, KindWithdrawal, KindAdjustmentCredit,
		KindAdjustmentDebit, KindLock, KindUnlock, KindAMOEGrant:
		return true
	}
	return false
}

// RequiresApproval reports whether large amounts of k need sign-off.
func (k OperationKind) RequiresApproval() bool {
	return k == KindWithdrawal || k == KindAdjustmentCredit || k == KindAdjustmentDebit
}

// PlayerInitiated kinds are blocked during self-exclusion.
func (k OperationKind) PlayerInitiated() bool {
	switch k {
	case KindDebit, KindWithdrawal, KindLock, KindAMOEGrant:
		return true
	}
	return false
}

// AdminOnly kinds need an ADMIN initiator.
func (k OperationKind) AdminOnly() bool {
	return k == KindAdjustmentCredit || k == KindAdjustmentDebit
}

// LedgerOperation maps k onto the ledger's operation taxonomy.
func (k OperationKind) LedgerOperation() LedgerOperation {
	switch k {
	case KindDebit, KindWithdrawal:
		return LedgerDebit
	case KindCredit, KindAMOEGrant:
		return LedgerCredit
	case KindAdjustmentCredit, KindAdjustmentDebit:
		return LedgerAdjustment
	case KindLock:
		return LedgerLock
	case KindUnlock:
		return LedgerUnlock
	}
	return ""
}

// Deltas returns the signed balance and locked changes k applies for amount.
func (k OperationKind) Deltas(amount money.Money) (balanceDelta, lockedDelta money.Money) {
	switch k {
	case KindDebit, KindWithdrawal, KindAdjustmentDebit:
		return amount.Neg(), money.Zero()
	case KindCredit, KindAMOEGrant, KindAdjustmentCredit:
		return amount, money.Zero()
	case KindLock:
		return money.Zero(), amount
	case KindUnlock:
		return money.Zero(), amount.Neg()
	}
	return money.Zero(), money.Zero()
}

// OperationRequest is one business request against a user's wallet.
type OperationRequest struct {
	TransactionID  string            `json:"transaction_id,omitempty"`
	UserID         uuid.UUID         `json:"user_id"`
	Kind           OperationKind     `json:"kind"`
	Currency       Currency          `json:"currency"`
	Amount         money.Money       `json:"amount"`
	IdempotencyKey string            `json:"idempotency_key"`
	Subject        ComplianceSubject `json:"subject"`
	Initiator      Actor             `json:"initiator"`
	CorrelationID  string            `json:"correlation_id,omitempty"`
	Reason         string            `json:"reason,omitempty"`
}

// OperationStatus is the outcome reported to the caller.
type OperationStatus string

const (
	OperationCompleted       OperationStatus = "COMPLETED"
	OperationPendingApproval OperationStatus = "PENDING_APPROVAL"
	OperationRejected        OperationStatus = "REJECTED"
	OperationExpired         OperationStatus = "EXPIRED"
)

// OperationResult is returned by the processor and stored verbatim in the
// idempotency record, so a duplicate request gets the same answer.
type OperationResult struct {
	TransactionID     string           `json:"transaction_id"`
	Status            OperationStatus  `json:"status"`
	UserID            uuid.UUID        `json:"user_id"`
	Kind              OperationKind    `json:"kind"`
	Currency          Currency         `json:"currency"`
	Amount            money.Money      `json:"amount"`
	EntryID           string           `json:"entry_id,omitempty"`
	ApprovalRequestID string           `json:"approval_request_id,omitempty"`
	Balance           *BalanceSnapshot `json:"balance,omitempty"`
	Duplicate         bool             `json:"duplicate"`
	ProcessedAt       time.Time        `json:"processed_at"`
}

// ReverseRequest asks for an offsetting entry against EntryID.
type ReverseRequest struct {
	EntryID        string `json:"entry_id"`
	Reason         string `json:"reason"`
	IdempotencyKey string `json:"idempotency_key"`
	Initiator      Actor  `json:"initiator"`
	CorrelationID  string `json:"correlation_id,omitempty"`
}

package domain

import (
	"time"

	"sweepstakes-wallet/pkg/money"

	"github.com/google/uuid"
)

// LedgerOperation is the accounting type of an entry.
type LedgerOperation string

const (
	LedgerDebit      LedgerOperation = "DEBIT"
	LedgerCredit     LedgerOperation = "CREDIT"
	LedgerLock       LedgerOperation = "LOCK"
	LedgerUnlock     LedgerOperation = "UNLOCK"
	LedgerAdjustment LedgerOperation = "ADJUSTMENT"
)

// EntryStatus marks ordinary entries apart from reversal entries.
type EntryStatus string

const (
	EntryCompleted EntryStatus = "COMPLETED"
	EntryReversed  EntryStatus = "REVERSED"
)

// LedgerEntry is an immutable record of one applied wallet mutation.
// Amount and LockedDelta are the signed changes applied to balance and
// locked, so summing them reproduces the wallet.
type LedgerEntry struct {
	ID                string          `json:"id"`
	UserID            uuid.UUID       `json:"user_id"`
	Currency          Currency        `json:"currency"`
	Operation         LedgerOperation `json:"operation_type"`
	Kind              OperationKind   `json:"kind"`
	Amount            money.Money     `json:"amount"`
	LockedDelta       money.Money     `json:"locked_delta"`
	BalanceBefore     money.Money     `json:"balance_before"`
	BalanceAfter      money.Money     `json:"balance_after"`
	LockedAfter       money.Money     `json:"locked_after"`
	IdempotencyKey    string          `json:"idempotency_key"`
	TransactionID     string          `json:"transaction_id"`
	InitiatorID       uuid.UUID       `json:"initiator_id"`
	CorrelationID     string          `json:"correlation_id,omitempty"`
	ReversesEntryID   string          `json:"reverses_entry_id,omitempty"`
	ApprovalRequestID string          `json:"approval_request_id,omitempty"`
	Reason            string          `json:"reason,omitempty"`
	Status            EntryStatus     `json:"status"`
	CreatedAt         time.Time       `json:"created_at"`
}

// IsReversal reports whether e offsets another entry.
func (e *LedgerEntry) IsReversal() bool {
	return e.ReversesEntryID != ""
}

// Magnitude is the unsigned amount the entry moved.
func (e *LedgerEntry) Magnitude() money.Money {
	if e.Amount.IsZero() {
		return e.LockedDelta.Abs()
	}
	return e.Amount.Abs()
}

// TimeRange bounds a ledger query. Zero values leave that side open.
type TimeRange struct {
	From time.Time
	To   time.Time
}

// Contains reports From <= t < To.
func (r TimeRange) Contains(t time.Time) bool {
	if !r.From.IsZero() && t.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && !t.Before(r.To) {
		return false
	}
	return true
}

// Totals sums the balance and locked deltas of entries.
func Totals(entries []*LedgerEntry) (balance, locked money.Money, err error) {
	balance, locked = money.Zero(), money.Zero()
	for _, e := range entries {
		if balance, err = balance.Add(e.Amount); err != nil {
			return money.Money{}, money.Money{}, err
		}
		if locked, err = locked.Add(e.LockedDelta); err != nil {
			return money.Money{}, money.Money{}, err
		}
	}
	return balance, locked, nil
}

// Reconciliation compares ledger totals with the stored wallet for one currency.
type Reconciliation struct {
	UserID        uuid.UUID   `json:"user_id"`
	Currency      Currency    `json:"currency"`
	LedgerBalance money.Money `json:"ledger_balance"`
	WalletBalance money.Money `json:"wallet_balance"`
	LedgerLocked  money.Money `json:"ledger_locked"`
	WalletLocked  money.Money `json:"wallet_locked"`
	Entries       int         `json:"entries"`
	Consistent    bool        `json:"consistent"`
}

package dto

import (
	"time"

	"sweepstakes-wallet/internal/core/domain"
	"sweepstakes-wallet/pkg/money"

	"github.com/google/uuid"
)

// TransactionRequest is the request body for POST /transactions.
// UserID may be omitted when it equals the X-User-ID header.
type TransactionRequest struct {
	UserID         string `json:"user_id" binding:"omitempty,uuid"`
	Kind           string `json:"kind" binding:"required,operation_kind"`
	Currency       string `json:"currency" binding:"omitempty,oneof=GOLD SWEEPS"`
	Amount         string `json:"amount" binding:"omitempty,money"`
	IdempotencyKey string `json:"idempotency_key" binding:"required,idempotency_key"`
	Reason         string `json:"reason" binding:"max=500" sanitize:"trim"`
}

// ReverseRequest is the request body for POST /transactions/reverse.
type ReverseRequest struct {
	EntryID        string `json:"entry_id" binding:"required,safe_id,max=64"`
	Reason         string `json:"reason" binding:"required,max=500" sanitize:"trim"`
	IdempotencyKey string `json:"idempotency_key" binding:"required,idempotency_key"`
}

// ApproveRequest is the request body for POST /approvals/:id/approve.
type ApproveRequest struct {
	Note string `json:"note" binding:"max=500" sanitize:"trim"`
}

// RejectRequest is the request body for POST /approvals/:id/reject.
type RejectRequest struct {
	Reason string `json:"reason" binding:"required,max=500" sanitize:"trim"`
}

// LedgerQuery holds the filters of GET /wallets/:userId/ledger.
type LedgerQuery struct {
	Currency string    `form:"currency" binding:"omitempty,oneof=GOLD SWEEPS"`
	From     time.Time `form:"from" time_format:"2006-01-02T15:04:05Z07:00"`
	To       time.Time `form:"to" time_format:"2006-01-02T15:04:05Z07:00"`
	Limit    int       `form:"limit" binding:"omitempty,min=1,max=1000"`
}

// ListQuery holds the paging of GET /approvals.
type ListQuery struct {
	Limit int `form:"limit" binding:"omitempty,min=1,max=500"`
}

// LedgerListResponse wraps a ledger listing.
type LedgerListResponse struct {
	UserID  uuid.UUID             `json:"user_id"`
	Entries []*domain.LedgerEntry `json:"entries"`
	Count   int                   `json:"count"`
}

// ApprovalResponse is an approval request without the compliance claims
// captured at submission.
type ApprovalResponse struct {
	ID                string                `json:"id"`
	UserID            uuid.UUID             `json:"user_id"`
	Kind              domain.OperationKind  `json:"kind"`
	Currency          domain.Currency       `json:"currency"`
	Amount            money.Money           `json:"amount"`
	InitiatorID       uuid.UUID             `json:"initiator_id"`
	RequiredApprovals int                   `json:"required_approvals"`
	Approvals         []domain.Approval     `json:"approvals"`
	Status            domain.ApprovalStatus `json:"status"`
	RejectedBy        *uuid.UUID            `json:"rejected_by,omitempty"`
	RejectionReason   string                `json:"rejection_reason,omitempty"`
	TransactionID     string                `json:"transaction_id"`
	CreatedAt         string                `json:"created_at"`
	ExpiresAt         string                `json:"expires_at"`
}

// ToApprovalResponse converts an approval request to its DTO.
func ToApprovalResponse(ar *domain.ApprovalRequest) ApprovalResponse {
	approvals := ar.Approvals
	if approvals == nil {
		approvals = []domain.Approval{}
	}
	return ApprovalResponse{
		ID:                ar.ID,
		UserID:            ar.UserID,
		Kind:              ar.Kind,
		Currency:          ar.Currency,
		Amount:            ar.Amount,
		InitiatorID:       ar.InitiatorID,
		RequiredApprovals: ar.RequiredApprovals,
		Approvals:         approvals,
		Status:            ar.Status,
		RejectedBy:        ar.RejectedBy,
		RejectionReason:   ar.RejectionReason,
		TransactionID:     ar.TransactionID,
		CreatedAt:         ar.CreatedAt.Format(time.RFC3339),
		ExpiresAt:         ar.ExpiresAt.Format(time.RFC3339),
	}
}

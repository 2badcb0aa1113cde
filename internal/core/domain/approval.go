package domain

import (
	"time"

	"sweepstakes-wallet/pkg/apperror"
	"sweepstakes-wallet/pkg/money"

	"github.com/google/uuid"
)

// ApprovalStatus is the lifecycle state of an approval request.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "PENDING"
	ApprovalApproved ApprovalStatus = "APPROVED"
	ApprovalRejected ApprovalStatus = "REJECTED"
	ApprovalExpired  ApprovalStatus = "EXPIRED"
)

// Approval is one sign-off on a request.
type Approval struct {
	ApproverID uuid.UUID `json:"approver_id"`
	Note       string    `json:"note,omitempty"`
	At         time.Time `json:"at"`
}

// ApprovalRequest parks an operation until enough approvers sign off.
// Terminal requests never change again.
type ApprovalRequest struct {
	ID                string           `json:"id"`
	Operation         OperationRequest `json:"operation"`
	UserID            uuid.UUID        `json:"user_id"`
	Kind              OperationKind    `json:"kind"`
	Currency          Currency         `json:"currency"`
	Amount            money.Money      `json:"amount"`
	InitiatorID       uuid.UUID        `json:"initiator_id"`
	IdempotencyKey    string           `json:"idempotency_key"`
	RequiredApprovals int              `json:"required_approvals"`
	Approvals         []Approval       `json:"approvals"`
	Status            ApprovalStatus   `json:"status"`
	RejectedBy        *uuid.UUID       `json:"rejected_by,omitempty"`
	RejectionReason   string           `json:"rejection_reason,omitempty"`
	TransactionID     string           `json:"transaction_id"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
	ExpiresAt         time.Time        `json:"expires_at"`
}

// IsTerminal returns true if the request is in a final state.
func (a *ApprovalRequest) IsTerminal() bool {
	return a.Status != ApprovalPending
}

// IsExpired reports whether a pending request has passed its deadline.
func (a *ApprovalRequest) IsExpired(now time.Time) bool {
	return a.Status == ApprovalPending && !now.Before(a.ExpiresAt)
}

// HasApproved reports whether approverID already signed off.
func (a *ApprovalRequest) HasApproved(approverID uuid.UUID) bool {
	for _, ap := range a.Approvals {
		if ap.ApproverID == approverID {
			return true
		}
	}
	return false
}

func (a *ApprovalRequest) checkPending(now time.Time) error {
	switch a.Status {
	case ApprovalPending:
		if a.IsExpired(now) {
			return apperror.ErrApprovalExpired()
		}
		return nil
	case ApprovalRejected:
		return apperror.ErrApprovalRejected()
	case ApprovalExpired:
		return apperror.ErrApprovalExpired()
	default:
		return apperror.ErrApprovalNotPending(string(a.Status))
	}
}

// AddApproval records approver's sign-off and moves the request to APPROVED
// once RequiredApprovals distinct approvers have signed.
func (a *ApprovalRequest) AddApproval(approver Actor, note string, now time.Time) error {
	if err := a.checkPending(now); err != nil {
		return err
	}
	if approver.ID == a.InitiatorID {
		return apperror.ErrSelfApproval()
	}
	if !approver.CanApprove() {
		return apperror.ErrForbidden("approver must be ADMIN or COMPLIANCE_OFFICER")
	}
	if a.HasApproved(approver.ID) {
		return apperror.ErrDuplicateApproval()
	}

	a.Approvals = append(a.Approvals, Approval{ApproverID: approver.ID, Note: note, At: now})
	if len(a.Approvals) >= a.RequiredApprovals {
		a.Status = ApprovalApproved
	}
	a.UpdatedAt = now
	return nil
}

// Reject terminates the request. Any approver role may reject, including
// the initiator withdrawing their own request.
func (a *ApprovalRequest) Reject(actor Actor, reason string, now time.Time) error {
	if err := a.checkPending(now); err != nil {
		return err
	}
	if actor.ID != a.InitiatorID && !actor.CanApprove() {
		return apperror.ErrForbidden("rejecter must be ADMIN or COMPLIANCE_OFFICER")
	}
	id := actor.ID
	a.Status = ApprovalRejected
	a.RejectedBy = &id
	a.RejectionReason = reason
	a.UpdatedAt = now
	return nil
}

// Expire terminates a pending request whose deadline has passed.
func (a *ApprovalRequest) Expire(now time.Time) error {
	if a.Status != ApprovalPending {
		return apperror.ErrApprovalNotPending(string(a.Status))
	}
	if !a.IsExpired(now) {
		return apperror.ErrInvalidOperation("approval request has not reached its expiry")
	}
	a.Status = ApprovalExpired
	a.UpdatedAt = now
	return nil
}

// Clone returns a deep copy.
func (a *ApprovalRequest) Clone() *ApprovalRequest {
	c := *a
	c.Approvals = append([]Approval(nil), a.Approvals...)
	if a.RejectedBy != nil {
		id := *a.RejectedBy
		c.RejectedBy = &id
	}
	c.Operation.Initiator.Roles = append([]Role(nil), a.Operation.Initiator.Roles...)
	c.Operation.Subject.Roles = append([]Role(nil), a.Operation.Subject.Roles...)
	return &c
}

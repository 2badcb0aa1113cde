package domain

import (
	"fmt"
	"time"

	"sweepstakes-wallet/pkg/apperror"

	"github.com/google/uuid"
)

// KYCStatus is the identity-verification state reported by the auth collaborator.
type KYCStatus string

const (
	KYCUnverified KYCStatus = "UNVERIFIED"
	KYCPending    KYCStatus = "PENDING"
	KYCVerified   KYCStatus = "VERIFIED"
	KYCRejected   KYCStatus = "REJECTED"
)

// KYCLevel is the depth of a completed verification.
type KYCLevel string

const (
	KYCLevelBasic    KYCLevel = "BASIC"
	KYCLevelEnhanced KYCLevel = "ENHANCED"
)

func (l KYCLevel) Valid() bool {
	return l == KYCLevelBasic || l == KYCLevelEnhanced
}

func (k KYCStatus) Valid() bool {
	switch k {
	case KYCUnverified, KYCPending, KYCVerified, KYCRejected:
		return true
	}
	return false
}

// Role is a privilege carried by an authenticated actor.
type Role string

const (
	RolePlayer            Role = "PLAYER"
	RoleAdmin             Role = "ADMIN"
	RoleComplianceOfficer Role = "COMPLIANCE_OFFICER"
	RoleSystem            Role = "SYSTEM"
)

// Actor is whoever initiates or approves an operation.
type Actor struct {
	ID    uuid.UUID `json:"id"`
	Roles []Role    `json:"roles,omitempty"`
}

func (a Actor) HasRole(r Role) bool {
	for _, have := range a.Roles {
		if have == r {
			return true
		}
	}
	return false
}

// CanApprove reports whether the actor may sign off approval requests.
func (a Actor) CanApprove() bool {
	return a.HasRole(RoleAdmin) || a.HasRole(RoleComplianceOfficer)
}

// ComplianceSubject is the user an operation applies to, as asserted by the
// auth collaborator. It is validated at entry and never persisted.
type ComplianceSubject struct {
	UserID             uuid.UUID  `json:"user_id"`
	StateCode          string     `json:"state_code"`
	KYCStatus          KYCStatus  `json:"kyc_status"`
	KYCLevel           KYCLevel   `json:"kyc_level,omitempty"`
	SelfExclusionUntil *time.Time `json:"self_exclusion_until,omitempty"`
	Roles              []Role     `json:"roles,omitempty"`
}

// Validate checks the claims are complete and well formed.
func (s ComplianceSubject) Validate() error {
	if s.UserID == uuid.Nil {
		return apperror.ErrInvalidSubject("subject user id is required")
	}
	if len(s.StateCode) != 2 {
		return apperror.ErrInvalidSubject(fmt.Sprintf("invalid state code %q", s.StateCode))
	}
	if !s.KYCStatus.Valid() {
		return apperror.ErrInvalidSubject(fmt.Sprintf("invalid kyc status %q", s.KYCStatus))
	}
	if s.KYCLevel != "" && !s.KYCLevel.Valid() {
		return apperror.ErrInvalidSubject(fmt.Sprintf("invalid kyc level %q", s.KYCLevel))
	}
	return nil
}

// EnhancedVerified reports a VERIFIED subject with enhanced due diligence.
func (s ComplianceSubject) EnhancedVerified() bool {
	return s.KYCStatus == KYCVerified && s.KYCLevel == KYCLevelEnhanced
}

// SelfExcluded reports whether a self-exclusion period is active at now.
func (s ComplianceSubject) SelfExcluded(now time.Time) bool {
	return s.SelfExclusionUntil != nil && now.Before(*s.SelfExclusionUntil)
}

// ViolationKind names the compliance rule that blocked an operation.
type ViolationKind string

const (
	ViolationStateRestriction ViolationKind = "STATE_RESTRICTION"
	ViolationSelfExclusion    ViolationKind = "SELF_EXCLUSION_ACTIVE"
	ViolationKYCRequired      ViolationKind = "KYC_REQUIRED"
	ViolationEnhancedKYC      ViolationKind = "ENHANCED_KYC_REQUIRED"
	ViolationLimitExceeded    ViolationKind = "LIMIT_EXCEEDED"
)

// NewViolation builds the CMP_001 error for kind.
func NewViolation(kind ViolationKind, message string) *apperror.AppError {
	return apperror.ErrComplianceViolation(string(kind), message)
}

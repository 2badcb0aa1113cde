package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError is a structured error that maps to HTTP responses.
type AppError struct {
	Code       string         `json:"error_code"`
	Message    string         `json:"message"`
	HTTPStatus int            `json:"-"`
	Details    map[string]any `json:"details,omitempty"`
	Err        error          `json:"-"` // Wrapped internal error (not exposed to client)
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetail attaches a client-visible detail and returns the same error.
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// New creates a new AppError.
func New(code string, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an internal error with an AppError.
func Wrap(code string, message string, httpStatus int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// As extracts the first AppError in err's chain.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// Is reports whether err carries an AppError with the given code.
func Is(err error, code string) bool {
	appErr, ok := As(err)
	return ok && appErr.Code == code
}

// ViolationKindOf returns the compliance violation kind carried by err, or "".
func ViolationKindOf(err error) string {
	appErr, ok := As(err)
	if !ok || appErr.Code != CodeComplianceViolation {
		return ""
	}
	kind, _ := appErr.Details["kind"].(string)
	return kind
}

const (
	CodeInvalidAmount           = "LED_001"
	CodeAmountOutOfRange        = "LED_002"
	CodeInsufficientBalance     = "LED_003"
	CodeCurrencyNotWithdrawable = "LED_004"
	CodeNotFound                = "LED_005"
	CodeInvalidIdempotencyKey   = "LED_006"
	CodeInvalidOperation        = "LED_007"
	CodeAlreadyReversed         = "LED_008"

	CodeComplianceViolation = "CMP_001"

	CodeApprovalPending    = "APR_001"
	CodeApprovalRejected   = "APR_002"
	CodeApprovalExpired    = "APR_003"
	CodeSelfApproval       = "APR_004"
	CodeApprovalNotPending = "APR_005"
	CodeDuplicateApproval  = "APR_006"

	CodeForbidden      = "AUTH_001"
	CodeInvalidSubject = "AUTH_002"

	CodeInternal               = "SYS_001"
	CodeConcurrentModification = "SYS_002"
	CodeTransactionFailed      = "SYS_003"
	CodeOperationTimeout       = "SYS_004"
	CodeRateLimitExceeded      = "SYS_005"
)

// ---- Ledger (LED) ----

func ErrInvalidAmount(reason string) *AppError {
	return New(CodeInvalidAmount, "Invalid amount", http.StatusBadRequest).WithDetail("reason", reason)
}

func ErrAmountOutOfRange(amount string) *AppError {
	return New(CodeAmountOutOfRange, "Amount out of range", http.StatusBadRequest).WithDetail("amount", amount)
}

func ErrInsufficientBalance(requested, available string) *AppError {
	return New(CodeInsufficientBalance, "Insufficient balance in wallet", http.StatusPaymentRequired).
		WithDetail("requested", requested).
		WithDetail("available", available)
}

func ErrCurrencyNotWithdrawable(currency string) *AppError {
	return New(CodeCurrencyNotWithdrawable, fmt.Sprintf("%s is not withdrawable", currency), http.StatusBadRequest).
		WithDetail("currency", currency)
}

func ErrNotFound(entity string) *AppError {
	return New(CodeNotFound, fmt.Sprintf("%s not found", entity), http.StatusNotFound)
}

func ErrInvalidIdempotencyKey(reason string) *AppError {
	return New(CodeInvalidIdempotencyKey, "Invalid idempotency key", http.StatusBadRequest).WithDetail("reason", reason)
}

func ErrInvalidOperation(message string) *AppError {
	return New(CodeInvalidOperation, message, http.StatusBadRequest)
}

func ErrAlreadyReversed(entryID string) *AppError {
	return New(CodeAlreadyReversed, "Ledger entry already reversed", http.StatusConflict).WithDetail("entry_id", entryID)
}

// ---- Compliance (CMP) ----

func ErrComplianceViolation(kind, message string) *AppError {
	return New(CodeComplianceViolation, message, http.StatusForbidden).WithDetail("kind", kind)
}

// ---- Approval workflow (APR) ----

func ErrApprovalPending(requestID string) *AppError {
	return New(CodeApprovalPending, "Operation awaiting approval", http.StatusAccepted).WithDetail("approval_request_id", requestID)
}

func ErrApprovalRejected() *AppError {
	return New(CodeApprovalRejected, "Approval request was rejected", http.StatusConflict)
}

func ErrApprovalExpired() *AppError {
	return New(CodeApprovalExpired, "Approval request has expired", http.StatusGone)
}

func ErrSelfApproval() *AppError {
	return New(CodeSelfApproval, "Initiator cannot approve own request", http.StatusForbidden)
}

func ErrApprovalNotPending(status string) *AppError {
	return New(CodeApprovalNotPending, "Approval request is not pending", http.StatusConflict).WithDetail("status", status)
}

func ErrDuplicateApproval() *AppError {
	return New(CodeDuplicateApproval, "Approver already approved this request", http.StatusConflict)
}

// ---- Authorization (AUTH) ----

func ErrForbidden(message string) *AppError {
	return New(CodeForbidden, message, http.StatusForbidden)
}

func ErrInvalidSubject(message string) *AppError {
	return New(CodeInvalidSubject, message, http.StatusUnauthorized)
}

// ---- System & Infrastructure (SYS) ----

// InternalError wraps an internal error as a SYS_001 error.
func InternalError(err error) *AppError {
	return Wrap(CodeInternal, "Internal server error", http.StatusInternalServerError, err)
}

func ErrConcurrentModification(err error) *AppError {
	return Wrap(CodeConcurrentModification, "Concurrent modification, retry the request", http.StatusConflict, err)
}

func ErrTransactionFailed(err error) *AppError {
	return Wrap(CodeTransactionFailed, "Transaction failed", http.StatusServiceUnavailable, err)
}

// ErrOperationTimeout means the outcome is unknown; the caller should retry with the same key.
func ErrOperationTimeout(err error) *AppError {
	return Wrap(CodeOperationTimeout, "Operation timed out, retry with the same idempotency key", http.StatusGatewayTimeout, err)
}

func ErrRateLimitExceeded() *AppError {
	return New(CodeRateLimitExceeded, "Too many requests, slow down", http.StatusTooManyRequests)
}

// Validation returns a LED_007-style validation error.
func Validation(message string) *AppError {
	return ErrInvalidOperation(message)
}

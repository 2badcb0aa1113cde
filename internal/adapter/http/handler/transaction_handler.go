package handler

import (
	"net/http"

	"sweepstakes-wallet/internal/adapter/http/dto"
	"sweepstakes-wallet/internal/adapter/http/middleware"
	"sweepstakes-wallet/internal/core/domain"
	"sweepstakes-wallet/internal/core/ports"
	"sweepstakes-wallet/pkg/apperror"
	"sweepstakes-wallet/pkg/money"
	"sweepstakes-wallet/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// TransactionHandler handles wallet mutation endpoints.
type TransactionHandler struct {
	processor ports.TransactionProcessor
}

// NewTransactionHandler creates a new TransactionHandler.
func NewTransactionHandler(processor ports.TransactionProcessor) *TransactionHandler {
	return &TransactionHandler{processor: processor}
}

// Submit handles POST /api/v1/transactions.
// 201 when applied, 202 when parked for approval, 200 for a replayed duplicate.
func (h *TransactionHandler) Submit(c *gin.Context) {
	subject, ok := middleware.SubjectFrom(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidSubject("missing "+middleware.HeaderUserID))
		return
	}
	actor, _ := middleware.ActorFrom(c)

	var req dto.TransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	op := domain.OperationRequest{
		UserID:         subject.UserID,
		Kind:           domain.OperationKind(req.Kind),
		Currency:       domain.Currency(req.Currency),
		IdempotencyKey: req.IdempotencyKey,
		Subject:        subject,
		Initiator:      actor,
		CorrelationID:  middleware.CorrelationID(c),
		Reason:         req.Reason,
	}
	if req.UserID != "" {
		op.UserID = uuid.MustParse(req.UserID)
	}
	if req.Amount != "" {
		amount, err := money.NormalizePositive(req.Amount)
		if err != nil {
			response.Error(c, err)
			return
		}
		op.Amount = amount
	}

	result, err := h.processor.Process(c.Request.Context(), op)
	if err != nil {
		response.Error(c, err)
		return
	}
	respondResult(c, result)
}

// Reverse handles POST /api/v1/transactions/reverse.
func (h *TransactionHandler) Reverse(c *gin.Context) {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidSubject("missing "+middleware.HeaderActorID))
		return
	}

	var req dto.ReverseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	result, err := h.processor.Reverse(c.Request.Context(), domain.ReverseRequest{
		EntryID:        req.EntryID,
		Reason:         req.Reason,
		IdempotencyKey: req.IdempotencyKey,
		Initiator:      actor,
		CorrelationID:  middleware.CorrelationID(c),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	respondResult(c, result)
}

func respondResult(c *gin.Context, result *domain.OperationResult) {
	switch {
	case result.Duplicate:
		response.OK(c, result)
	case result.Status == domain.OperationPendingApproval:
		response.Accepted(c, result)
	case result.Status == domain.OperationCompleted:
		response.Created(c, result)
	default:
		response.JSON(c, http.StatusOK, result)
	}
}

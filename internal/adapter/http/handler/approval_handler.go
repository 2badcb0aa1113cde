package handler

import (
	"errors"
	"io"

	"sweepstakes-wallet/internal/adapter/http/dto"
	"sweepstakes-wallet/internal/adapter/http/middleware"
	"sweepstakes-wallet/internal/core/domain"
	"sweepstakes-wallet/internal/core/ports"
	"sweepstakes-wallet/pkg/apperror"
	"sweepstakes-wallet/pkg/response"

	"github.com/gin-gonic/gin"
)

// ApprovalHandler handles the approval queue.
type ApprovalHandler struct {
	processor ports.TransactionProcessor
	queries   ports.ApprovalQueries
}

// NewApprovalHandler creates a new ApprovalHandler.
func NewApprovalHandler(processor ports.TransactionProcessor, queries ports.ApprovalQueries) *ApprovalHandler {
	return &ApprovalHandler{processor: processor, queries: queries}
}

// List handles GET /api/v1/approvals.
func (h *ApprovalHandler) List(c *gin.Context) {
	if _, ok := h.staff(c); !ok {
		return
	}

	var q dto.ListQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	reqs, err := h.queries.ListPending(c.Request.Context(), q.Limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	items := make([]dto.ApprovalResponse, 0, len(reqs))
	for _, ar := range reqs {
		items = append(items, dto.ToApprovalResponse(ar))
	}
	response.OK(c, items)
}

// Get handles GET /api/v1/approvals/:id. Staff and the initiator may read it.
func (h *ApprovalHandler) Get(c *gin.Context) {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidSubject("missing caller identity"))
		return
	}

	ar, err := h.queries.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	if !actor.CanApprove() && actor.ID != ar.InitiatorID && actor.ID != ar.UserID {
		response.Error(c, apperror.ErrForbidden("cannot read this approval request"))
		return
	}
	response.OK(c, dto.ToApprovalResponse(ar))
}

// Approve handles POST /api/v1/approvals/:id/approve.
func (h *ApprovalHandler) Approve(c *gin.Context) {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidSubject("missing caller identity"))
		return
	}

	var req dto.ApproveRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	ar, err := h.processor.Approve(c.Request.Context(), c.Param("id"), actor, req.Note)
	respondDecision(c, ar, err)
}

// Reject handles POST /api/v1/approvals/:id/reject.
func (h *ApprovalHandler) Reject(c *gin.Context) {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidSubject("missing caller identity"))
		return
	}

	var req dto.RejectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	ar, err := h.processor.Reject(c.Request.Context(), c.Param("id"), actor, req.Reason)
	respondDecision(c, ar, err)
}

// respondDecision reports an error even when the request moved to EXPIRED
// as a side effect.
func respondDecision(c *gin.Context, ar *domain.ApprovalRequest, err error) {
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.ToApprovalResponse(ar))
}

func (h *ApprovalHandler) staff(c *gin.Context) (domain.Actor, bool) {
	actor, ok := middleware.ActorFrom(c)
	if !ok || !actor.CanApprove() {
		response.Error(c, apperror.ErrForbidden("approval queue requires ADMIN or COMPLIANCE_OFFICER"))
		return domain.Actor{}, false
	}
	return actor, true
}

package handler

import (
	"sweepstakes-wallet/internal/adapter/http/dto"
	"sweepstakes-wallet/internal/adapter/http/middleware"
	"sweepstakes-wallet/internal/core/domain"
	"sweepstakes-wallet/internal/core/ports"
	"sweepstakes-wallet/pkg/apperror"
	"sweepstakes-wallet/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// WalletHandler handles wallet and ledger reads.
type WalletHandler struct {
	processor ports.TransactionProcessor
	ledger    ports.LedgerService
}

// NewWalletHandler creates a new WalletHandler.
func NewWalletHandler(processor ports.TransactionProcessor, ledger ports.LedgerService) *WalletHandler {
	return &WalletHandler{processor: processor, ledger: ledger}
}

// GetWallet handles GET /api/v1/wallets/:userId.
func (h *WalletHandler) GetWallet(c *gin.Context) {
	userID, ok := h.authorizeRead(c)
	if !ok {
		return
	}

	view, err := h.processor.Balance(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, view)
}

// OpenWallet handles PUT /api/v1/wallets/:userId. Creating an existing wallet is a no-op.
func (h *WalletHandler) OpenWallet(c *gin.Context) {
	userID, ok := h.authorizeRead(c)
	if !ok {
		return
	}

	view, err := h.processor.EnsureWallet(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, view)
}

// ListLedger handles GET /api/v1/wallets/:userId/ledger.
func (h *WalletHandler) ListLedger(c *gin.Context) {
	userID, ok := h.authorizeRead(c)
	if !ok {
		return
	}

	var q dto.LedgerQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	entries, err := h.ledger.EntriesFor(c.Request.Context(), userID, ports.LedgerFilter{
		Currency: domain.Currency(q.Currency),
		Range:    domain.TimeRange{From: q.From, To: q.To},
		Limit:    q.Limit,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	if entries == nil {
		entries = []*domain.LedgerEntry{}
	}

	response.OK(c, dto.LedgerListResponse{
		UserID:  userID,
		Entries: entries,
		Count:   len(entries),
	})
}

// Reconcile handles GET /api/v1/wallets/:userId/reconcile. Staff only.
func (h *WalletHandler) Reconcile(c *gin.Context) {
	actor, ok := middleware.ActorFrom(c)
	if !ok || !actor.CanApprove() {
		response.Error(c, apperror.ErrForbidden("reconciliation requires ADMIN or COMPLIANCE_OFFICER"))
		return
	}
	userID, err := uuid.Parse(c.Param("userId"))
	if err != nil {
		response.Error(c, apperror.Validation("invalid user id"))
		return
	}

	report, err := h.ledger.Reconcile(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, report)
}

// authorizeRead lets players read their own wallet and staff read any wallet.
func (h *WalletHandler) authorizeRead(c *gin.Context) (uuid.UUID, bool) {
	userID, err := uuid.Parse(c.Param("userId"))
	if err != nil {
		response.Error(c, apperror.Validation("invalid user id"))
		return uuid.Nil, false
	}
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidSubject("missing caller identity"))
		return uuid.Nil, false
	}
	if actor.ID != userID && !actor.CanApprove() {
		response.Error(c, apperror.ErrForbidden("cannot read another user's wallet"))
		return uuid.Nil, false
	}
	return userID, true
}

package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"

	"github.com/matheusmosca/ledger-transactions/internal/domain"
)

// OpenAccount abre a conta do usuário do header
func (h *LedgerHandler) OpenAccount(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "open_account")
	defer span.End()

	actor, ok := actorID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid " + userIDHeader})
		return
	}
	span.SetAttributes(attribute.Int64("user_id", actor))

	account, err := h.accounts.Open(ctx, actor)
	if err != nil {
		h.respondError(c, span, err)
		return
	}

	c.JSON(http.StatusCreated, accountResponse(account))
}

// GetAccount devolve a conta pelo public_id
func (h *LedgerHandler) GetAccount(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "get_account")
	defer span.End()

	account, err := h.accounts.Get(ctx, c.Param("public_id"))
	if err != nil {
		h.respondError(c, span, err)
		return
	}

	c.JSON(http.StatusOK, accountResponse(account))
}

// ActivateAccount reativa uma conta
func (h *LedgerHandler) ActivateAccount(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "activate_account")
	defer span.End()

	account, err := h.accounts.Activate(ctx, c.Param("public_id"))
	if err != nil {
		h.respondError(c, span, err)
		return
	}

	c.JSON(http.StatusOK, accountResponse(account))
}

// DeactivateAccount desativa uma conta; depósitos e transferências passam a ser recusados
func (h *LedgerHandler) DeactivateAccount(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "deactivate_account")
	defer span.End()

	account, err := h.accounts.Deactivate(ctx, c.Param("public_id"))
	if err != nil {
		h.respondError(c, span, err)
		return
	}

	c.JSON(http.StatusOK, accountResponse(account))
}

// CloseAccount encerra uma conta com saldo zero
func (h *LedgerHandler) CloseAccount(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "close_account")
	defer span.End()

	if err := h.accounts.Close(ctx, c.Param("public_id")); err != nil {
		h.respondError(c, span, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func accountResponse(a *domain.Account) gin.H {
	return gin.H{
		"public_id":  a.PublicID,
		"balance":    domain.FormatMoney(a.Balance),
		"status":     a.Status,
		"created_at": a.CreatedAt,
		"updated_at": a.UpdatedAt,
	}
}

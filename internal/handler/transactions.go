package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	"github.com/matheusmosca/ledger-transactions/internal/domain"
	"github.com/matheusmosca/ledger-transactions/internal/jobs"
	"github.com/matheusmosca/ledger-transactions/internal/ledger"
)

// DepositRequest representa a requisição de depósito
type DepositRequest struct {
	ToAccountID    string          `json:"to_account_id" binding:"required"`
	Amount         decimal.Decimal `json:"amount"`
	Description    string          `json:"description"`
	TransactionKey string          `json:"transaction_key"`
	Metadata       map[string]any  `json:"metadata"`
}

// TransferRequest representa a requisição de transferência
type TransferRequest struct {
	FromAccountID  string          `json:"from_account_id" binding:"required"`
	ToAccountID    string          `json:"to_account_id" binding:"required"`
	Amount         decimal.Decimal `json:"amount"`
	Description    string          `json:"description"`
	TransactionKey string          `json:"transaction_key"`
	Metadata       map[string]any  `json:"metadata"`
}

// ReversalRequest representa a requisição de estorno
type ReversalRequest struct {
	Reason         string `json:"reason"`
	TransactionKey string `json:"transaction_key"`
}

// CreateDeposit enfileira um depósito
func (h *LedgerHandler) CreateDeposit(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "create_deposit")
	defer span.End()

	actor, ok := actorID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid " + userIDHeader})
		return
	}

	var req DepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.RecordError(err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	span.SetAttributes(
		attribute.String("account.to", req.ToAccountID),
		attribute.String("amount", req.Amount.String()),
	)

	job, key, err := h.submitter.SubmitDeposit(ctx, ledger.DepositInput{
		ActorUserID:       actor,
		ToAccountPublicID: req.ToAccountID,
		Amount:            req.Amount,
		Description:       req.Description,
		TransactionKey:    req.TransactionKey,
		Metadata:          req.Metadata,
	})
	if err != nil {
		h.respondError(c, span, err)
		return
	}

	h.accepted(c, job, key)
}

// CreateTransfer enfileira uma transferência
func (h *LedgerHandler) CreateTransfer(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "create_transfer")
	defer span.End()

	actor, ok := actorID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid " + userIDHeader})
		return
	}

	var req TransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.RecordError(err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	span.SetAttributes(
		attribute.String("account.from", req.FromAccountID),
		attribute.String("account.to", req.ToAccountID),
		attribute.String("amount", req.Amount.String()),
	)

	job, key, err := h.submitter.SubmitTransfer(ctx, ledger.TransferInput{
		ActorUserID:         actor,
		FromAccountPublicID: req.FromAccountID,
		ToAccountPublicID:   req.ToAccountID,
		Amount:              req.Amount,
		Description:         req.Description,
		TransactionKey:      req.TransactionKey,
		Metadata:            req.Metadata,
	})
	if err != nil {
		h.respondError(c, span, err)
		return
	}

	h.accepted(c, job, key)
}

// ReverseTransaction enfileira o estorno da transação informada na rota
func (h *LedgerHandler) ReverseTransaction(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "reverse_transaction")
	defer span.End()

	actor, ok := actorID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid " + userIDHeader})
		return
	}

	var req ReversalRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			span.RecordError(err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	originalID := c.Param("public_id")
	span.SetAttributes(attribute.String("transaction.original", originalID))

	job, key, err := h.submitter.SubmitReversal(ctx, ledger.ReversalInput{
		ActorUserID:      actor,
		OriginalPublicID: originalID,
		Reason:           req.Reason,
		TransactionKey:   req.TransactionKey,
	})
	if err != nil {
		h.respondError(c, span, err)
		return
	}

	h.accepted(c, job, key)
}

// GetTransaction devolve uma transação pelo public_id
func (h *LedgerHandler) GetTransaction(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "get_transaction")
	defer span.End()

	t, err := h.transactions.GetTransaction(ctx, c.Param("public_id"))
	if err != nil {
		h.respondError(c, span, err)
		return
	}

	c.JSON(http.StatusOK, transactionResponse(t))
}

// ListAccountTransactions lista o histórico paginado de uma conta
func (h *LedgerHandler) ListAccountTransactions(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "list_account_transactions")
	defer span.End()

	page := ledger.Page{
		Number:  queryInt(c, "page", 1),
		PerPage: queryInt(c, "per_page", ledger.DefaultPerPage),
	}

	result, err := h.transactions.ListAccountTransactions(ctx, c.Param("public_id"), page)
	if err != nil {
		h.respondError(c, span, err)
		return
	}

	items := make([]gin.H, 0, len(result.Items))
	for _, t := range result.Items {
		items = append(items, transactionResponse(t))
	}
	c.JSON(http.StatusOK, gin.H{
		"items":    items,
		"total":    result.Total,
		"page":     result.Page,
		"per_page": result.PerPage,
	})
}

// JobStats devolve os contadores do monitor de jobs
func (h *LedgerHandler) JobStats(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "job_stats")
	defer span.End()

	stats, err := h.jobStatus.Stats(ctx)
	if err != nil {
		h.respondError(c, span, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// JobStatus devolve o estado de um job
func (h *LedgerHandler) JobStatus(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "job_status")
	defer span.End()

	status, err := h.jobStatus.Status(ctx, c.Param("job_id"))
	if err != nil {
		h.respondError(c, span, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h *LedgerHandler) accepted(c *gin.Context, job *jobs.Job, key string) {
	c.JSON(http.StatusAccepted, gin.H{
		"job_id":          job.ID,
		"transaction_key": key,
		"message":         "Transaction accepted for processing",
	})
}

// transactionResponse expõe apenas identificadores públicos
func transactionResponse(t *domain.Transaction) gin.H {
	body := gin.H{
		"public_id":  t.PublicID,
		"type":       t.Type,
		"amount":     domain.FormatMoney(t.Amount),
		"status":     t.Status,
		"created_at": t.CreatedAt,
		"updated_at": t.UpdatedAt,
	}
	if t.Description != nil {
		body["description"] = *t.Description
	}
	if t.TransactionKey != nil {
		body["transaction_key"] = *t.TransactionKey
	}
	if t.ErrorMessage != nil {
		body["error_message"] = *t.ErrorMessage
	}
	if t.Detail != nil && len(t.Detail.Metadata) > 0 {
		body["metadata"] = t.Detail.Metadata
	}
	return body
}

func queryInt(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

// Package handler expõe o ledger via HTTP (gin)
package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/matheusmosca/ledger-transactions/internal/domain"
	"github.com/matheusmosca/ledger-transactions/internal/jobs"
	"github.com/matheusmosca/ledger-transactions/internal/ledger"
)

const userIDHeader = "X-User-ID"

// AccountServiceInterface define as operações de conta usadas pelos handlers
type AccountServiceInterface interface {
	Open(ctx context.Context, userID int64) (*domain.Account, error)
	Get(ctx context.Context, publicID string) (*domain.Account, error)
	Activate(ctx context.Context, publicID string) (*domain.Account, error)
	Deactivate(ctx context.Context, publicID string) (*domain.Account, error)
	Close(ctx context.Context, publicID string) error
}

// TransactionQueryInterface define as consultas de transações
type TransactionQueryInterface interface {
	GetTransaction(ctx context.Context, publicID string) (*domain.Transaction, error)
	ListAccountTransactions(ctx context.Context, accountPublicID string, page ledger.Page) (ledger.PageResult[*domain.Transaction], error)
}

// JobSubmitterInterface enfileira as operações de escrita
type JobSubmitterInterface interface {
	SubmitDeposit(ctx context.Context, in ledger.DepositInput) (*jobs.Job, string, error)
	SubmitTransfer(ctx context.Context, in ledger.TransferInput) (*jobs.Job, string, error)
	SubmitReversal(ctx context.Context, in ledger.ReversalInput) (*jobs.Job, string, error)
}

// LedgerHandler contém os handlers HTTP
type LedgerHandler struct {
	accounts     AccountServiceInterface
	transactions TransactionQueryInterface
	submitter    JobSubmitterInterface
	jobStatus    jobs.StatusReader
	tracer       trace.Tracer
	logger       *zap.Logger
}

// NewLedgerHandler cria uma nova instância de LedgerHandler
func NewLedgerHandler(
	accounts AccountServiceInterface,
	transactions TransactionQueryInterface,
	submitter JobSubmitterInterface,
	jobStatus jobs.StatusReader,
	tracer trace.Tracer,
	logger *zap.Logger,
) *LedgerHandler {
	return &LedgerHandler{
		accounts:     accounts,
		transactions: transactions,
		submitter:    submitter,
		jobStatus:    jobStatus,
		tracer:       tracer,
		logger:       logger,
	}
}

// NewRouter registra as rotas do serviço
func NewRouter(h *LedgerHandler, serviceName string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(serviceName))

	r.GET("/health", h.HealthCheck)

	api := r.Group("/api")
	{
		api.POST("/accounts", h.OpenAccount)
		api.GET("/accounts/:public_id", h.GetAccount)
		api.POST("/accounts/:public_id/activate", h.ActivateAccount)
		api.POST("/accounts/:public_id/deactivate", h.DeactivateAccount)
		api.DELETE("/accounts/:public_id", h.CloseAccount)
		api.GET("/accounts/:public_id/transactions", h.ListAccountTransactions)

		api.POST("/transactions/deposits", h.CreateDeposit)
		api.POST("/transactions/transfers", h.CreateTransfer)
		api.POST("/transactions/:public_id/reversals", h.ReverseTransaction)
		api.GET("/transactions/:public_id", h.GetTransaction)

		api.GET("/jobs/stats", h.JobStats)
		api.GET("/jobs/:job_id", h.JobStatus)
	}

	return r
}

// HealthCheck verifica se o serviço está saudável
func (h *LedgerHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// actorID lê o usuário autenticado do header; a autenticação acontece fora do serviço
func actorID(c *gin.Context) (int64, bool) {
	raw := c.GetHeader(userIDHeader)
	if raw == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// respondError mapeia erros de domínio para status HTTP
func (h *LedgerHandler) respondError(c *gin.Context, span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	var (
		validation *domain.ValidationError
		funds      *domain.InsufficientFundsError
		txErr      *domain.TransactionError
	)
	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &validation):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.As(err, &funds):
		status = http.StatusUnprocessableEntity
	case errors.As(err, &txErr):
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		h.logger.Error("❌ request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(status, gin.H{"error": "internal server error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

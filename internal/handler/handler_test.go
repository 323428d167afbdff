package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/matheusmosca/ledger-transactions/internal/domain"
	"github.com/matheusmosca/ledger-transactions/internal/jobs"
	"github.com/matheusmosca/ledger-transactions/internal/ledger"
	"github.com/matheusmosca/ledger-transactions/internal/repository/memory"
)

type testServer struct {
	router *gin.Engine
	store  *memory.Store
	queue  *jobs.MemoryQueue
	runner *jobs.Runner
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := zap.NewNop()
	store := memory.NewStore()
	transactions := store.Transactions()
	processor := ledger.NewProcessor(store, store, transactions, logger)
	useCase := ledger.NewTransactionUseCase(store, store, transactions, processor, nil, logger)
	accounts := ledger.NewAccountService(store, store, nil, logger)

	queue := jobs.NewMemoryQueue(8)
	monitor := jobs.NewLogMonitor(logger)
	runner := jobs.NewRunner(useCase, store, transactions, queue, monitor, nil, jobs.Options{Backoff: time.Millisecond}, logger)

	h := NewLedgerHandler(accounts, useCase, runner, monitor, otel.Tracer("ledger-test"), logger)
	return &testServer{
		router: NewRouter(h, "ledger-test"),
		store:  store,
		queue:  queue,
		runner: runner,
	}
}

func (s *testServer) do(t *testing.T, method, path string, userID int64, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if userID > 0 {
		req.Header.Set(userIDHeader, strconv.FormatInt(userID, 10))
	}

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

// drain executa todos os jobs enfileirados
func (s *testServer) drain(t *testing.T) {
	t.Helper()
	for s.queue.Len() > 0 {
		job, err := s.queue.Dequeue(context.Background())
		require.NoError(t, err)
		_ = s.runner.Execute(context.Background(), job)
	}
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestHealthCheck(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/health", 0, nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", decode(t, w)["status"])
}

func TestOpenAccount(t *testing.T) {
	// Arrange
	s := newTestServer(t)

	// Act
	created := s.do(t, http.MethodPost, "/api/accounts", 10, nil)
	duplicate := s.do(t, http.MethodPost, "/api/accounts", 10, nil)
	anonymous := s.do(t, http.MethodPost, "/api/accounts", 0, nil)

	// Assert
	require.Equal(t, http.StatusCreated, created.Code)
	body := decode(t, created)
	assert.Equal(t, "0.00", body["balance"])
	assert.Equal(t, "active", body["status"])

	assert.Equal(t, http.StatusConflict, duplicate.Code)
	assert.Equal(t, http.StatusUnauthorized, anonymous.Code)

	fetched := s.do(t, http.MethodGet, "/api/accounts/"+body["public_id"].(string), 10, nil)
	assert.Equal(t, http.StatusOK, fetched.Code)
}

func TestGetAccount_NotFound(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/api/accounts/does-not-exist", 1, nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDepositAndTransferFlow(t *testing.T) {
	// Arrange
	s := newTestServer(t)
	alice := decode(t, s.do(t, http.MethodPost, "/api/accounts", 21, nil))["public_id"].(string)
	bob := decode(t, s.do(t, http.MethodPost, "/api/accounts", 22, nil))["public_id"].(string)

	// Act
	deposit := s.do(t, http.MethodPost, "/api/transactions/deposits", 21, DepositRequest{
		ToAccountID: alice,
		Amount:      decimal.RequireFromString("100"),
	})
	s.drain(t)
	transfer := s.do(t, http.MethodPost, "/api/transactions/transfers", 21, TransferRequest{
		FromAccountID:  alice,
		ToAccountID:    bob,
		Amount:         decimal.RequireFromString("30.5"),
		TransactionKey: "transfer-1",
	})
	s.drain(t)

	// Assert
	require.Equal(t, http.StatusAccepted, deposit.Code)
	assert.NotEmpty(t, decode(t, deposit)["job_id"])
	require.Equal(t, http.StatusAccepted, transfer.Code)
	assert.Equal(t, "transfer-1", decode(t, transfer)["transaction_key"])

	account := decode(t, s.do(t, http.MethodGet, "/api/accounts/"+alice, 21, nil))
	assert.Equal(t, "69.50", account["balance"])

	history := s.do(t, http.MethodGet, "/api/accounts/"+bob+"/transactions?page=1&per_page=5", 22, nil)
	require.Equal(t, http.StatusOK, history.Code)
	body := decode(t, history)
	assert.EqualValues(t, 1, body["total"])
	items := body["items"].([]any)
	require.Len(t, items, 1)
	item := items[0].(map[string]any)
	assert.Equal(t, "30.50", item["amount"])
	assert.Equal(t, "completed", item["status"])

	got := s.do(t, http.MethodGet, "/api/transactions/"+item["public_id"].(string), 22, nil)
	assert.Equal(t, http.StatusOK, got.Code)
}

func TestReverseTransactionFlow(t *testing.T) {
	// Arrange
	s := newTestServer(t)
	account := decode(t, s.do(t, http.MethodPost, "/api/accounts", 31, nil))["public_id"].(string)
	s.do(t, http.MethodPost, "/api/transactions/deposits", 31, DepositRequest{
		ToAccountID: account,
		Amount:      decimal.RequireFromString("40"),
	})
	s.drain(t)
	items := decode(t, s.do(t, http.MethodGet, "/api/accounts/"+account+"/transactions", 31, nil))["items"].([]any)
	original := items[0].(map[string]any)["public_id"].(string)

	// Act
	w := s.do(t, http.MethodPost, "/api/transactions/"+original+"/reversals", 31, ReversalRequest{Reason: "duplicate charge"})
	s.drain(t)

	// Assert
	require.Equal(t, http.StatusAccepted, w.Code)
	reversed := decode(t, s.do(t, http.MethodGet, "/api/transactions/"+original, 31, nil))
	assert.Equal(t, "reversed", reversed["status"])
	assert.Equal(t, "0.00", decode(t, s.do(t, http.MethodGet, "/api/accounts/"+account, 31, nil))["balance"])
}

func TestCreateDeposit_Validation(t *testing.T) {
	s := newTestServer(t)

	invalidAmount := s.do(t, http.MethodPost, "/api/transactions/deposits", 1, DepositRequest{ToAccountID: "acc", Amount: decimal.Zero})
	missingAccount := s.do(t, http.MethodPost, "/api/transactions/deposits", 1, map[string]any{"amount": "10"})
	sameAccount := s.do(t, http.MethodPost, "/api/transactions/transfers", 1, TransferRequest{
		FromAccountID: "acc",
		ToAccountID:   "acc",
		Amount:        decimal.NewFromInt(1),
	})

	assert.Equal(t, http.StatusBadRequest, invalidAmount.Code)
	assert.Equal(t, http.StatusBadRequest, missingAccount.Code)
	assert.Equal(t, http.StatusBadRequest, sameAccount.Code)
	assert.Zero(t, s.queue.Len())
}

func TestCloseAccount(t *testing.T) {
	s := newTestServer(t)
	account := decode(t, s.do(t, http.MethodPost, "/api/accounts", 41, nil))["public_id"].(string)

	deactivated := s.do(t, http.MethodPost, "/api/accounts/"+account+"/deactivate", 41, nil)
	closed := s.do(t, http.MethodDelete, "/api/accounts/"+account, 41, nil)
	gone := s.do(t, http.MethodGet, "/api/accounts/"+account, 41, nil)

	assert.Equal(t, http.StatusOK, deactivated.Code)
	assert.Equal(t, "inactive", decode(t, deactivated)["status"])
	assert.Equal(t, http.StatusNoContent, closed.Code)
	assert.Equal(t, http.StatusNotFound, gone.Code)
}

func TestJobEndpoints(t *testing.T) {
	s := newTestServer(t)
	account := decode(t, s.do(t, http.MethodPost, "/api/accounts", 51, nil))["public_id"].(string)
	accepted := decode(t, s.do(t, http.MethodPost, "/api/transactions/deposits", 51, DepositRequest{
		ToAccountID: account,
		Amount:      decimal.RequireFromString("5"),
	}))
	s.drain(t)

	stats := s.do(t, http.MethodGet, "/api/jobs/stats", 51, nil)
	status := s.do(t, http.MethodGet, "/api/jobs/"+accepted["job_id"].(string), 51, nil)
	missing := s.do(t, http.MethodGet, "/api/jobs/unknown", 51, nil)

	require.Equal(t, http.StatusOK, stats.Code)
	assert.EqualValues(t, 1, decode(t, stats)["completed"])
	require.Equal(t, http.StatusOK, status.Code)
	assert.Equal(t, "completed", decode(t, status)["status"])
	assert.Equal(t, http.StatusNotFound, missing.Code)
}

func TestRespondError_Mapping(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := &LedgerHandler{logger: zap.NewNop()}
	_, span := otel.Tracer("ledger-test").Start(context.Background(), "test")
	defer span.End()

	cases := []struct {
		err  error
		want int
	}{
		{&domain.ValidationError{Field: "amount", Message: "bad"}, http.StatusBadRequest},
		{&domain.NotFoundError{Resource: "account", Key: "x"}, http.StatusNotFound},
		{&domain.InsufficientFundsError{Operation: "transfer"}, http.StatusUnprocessableEntity},
		{domain.NewTransactionError("already reversed"), http.StatusConflict},
		{errors.New("connection reset"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

		h.respondError(c, span, tc.err)

		assert.Equal(t, tc.want, w.Code, tc.err.Error())
	}
}

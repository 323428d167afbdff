package notification

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/matheusmosca/ledger-transactions/internal/domain"
)

type fakeWriter struct {
	messages []kafka.Message
	err      error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

// MockNotifier simula um ledger.Notifier
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) NotifyTransactionCompleted(ctx context.Context, t *domain.Transaction, notifySender, notifyRecipient bool) error {
	return m.Called(ctx, t, notifySender, notifyRecipient).Error(0)
}

func (m *MockNotifier) NotifyTransactionFailed(ctx context.Context, t *domain.Transaction) error {
	return m.Called(ctx, t).Error(0)
}

func (m *MockNotifier) NotifyReversalCompleted(ctx context.Context, reversal, original *domain.Transaction) error {
	return m.Called(ctx, reversal, original).Error(0)
}

func completedTransfer() *domain.Transaction {
	tx := domain.NewTransaction(1, domain.TransactionTypeTransfer, decimal.RequireFromString("42.5"))
	tx.PublicID = "7d1f9a4e-0000-4000-8000-000000000001"
	tx.Status = domain.TransactionStatusCompleted
	tx.Detail = domain.NewTransactionDetail(domain.Int64Ptr(1), domain.Int64Ptr(2), nil)
	return tx
}

func TestKafkaNotifier_PublishesKeyedEvent(t *testing.T) {
	// Arrange
	writer := &fakeWriter{}
	notifier := NewKafkaNotifier(writer, zap.NewNop())
	tx := completedTransfer()

	// Act
	err := notifier.NotifyTransactionCompleted(context.Background(), tx, true, true)

	// Assert
	require.NoError(t, err)
	require.Len(t, writer.messages, 1)
	assert.Equal(t, tx.PublicID, string(writer.messages[0].Key))

	var event TransactionEvent
	require.NoError(t, json.Unmarshal(writer.messages[0].Value, &event))
	assert.Equal(t, EventTransactionCompleted, event.Event)
	assert.Equal(t, "42.50", event.Amount)
	assert.True(t, event.NotifySender)
	assert.True(t, event.NotifyRecipient)
	assert.Equal(t, int64(2), *event.ToAccountID)
}

func TestKafkaNotifier_WriteError(t *testing.T) {
	notifier := NewKafkaNotifier(&fakeWriter{err: errors.New("broker down")}, zap.NewNop())

	err := notifier.NotifyTransactionFailed(context.Background(), completedTransfer())

	assert.ErrorContains(t, err, "broker down")
}

func TestWebhookNotifier_RetriesServerErrors(t *testing.T) {
	// Arrange
	var calls atomic.Int32
	var received TransactionEvent
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	notifier := NewWebhookNotifier(server.URL, zap.NewNop())
	original := completedTransfer()
	reversal := domain.NewTransaction(1, domain.TransactionTypeReversal, original.Amount)
	reversal.PublicID = "reversal-1"

	// Act
	err := notifier.NotifyReversalCompleted(context.Background(), reversal, original)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, EventReversalCompleted, received.Event)
	assert.Equal(t, original.PublicID, received.OriginalID)
}

func TestWebhookNotifier_ClientError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	err := NewWebhookNotifier(server.URL, zap.NewNop()).NotifyTransactionFailed(context.Background(), completedTransfer())

	assert.ErrorContains(t, err, "status 400")
}

func TestMulti_DeliversToAll(t *testing.T) {
	// Arrange
	tx := completedTransfer()
	failing := new(MockNotifier)
	failing.On("NotifyTransactionCompleted", mock.Anything, tx, true, false).Return(errors.New("unavailable"))
	healthy := new(MockNotifier)
	healthy.On("NotifyTransactionCompleted", mock.Anything, tx, true, false).Return(nil)

	// Act
	err := Multi{failing, healthy}.NotifyTransactionCompleted(context.Background(), tx, true, false)

	// Assert
	assert.ErrorContains(t, err, "unavailable")
	failing.AssertExpectations(t)
	healthy.AssertExpectations(t)
}

func TestFailedEvent_DefaultsMessage(t *testing.T) {
	tx := completedTransfer()
	tx.Status = domain.TransactionStatusFailed

	event := FailedEvent(tx)

	assert.Equal(t, "unknown error", event.ErrorMessage)
	assert.True(t, event.NotifySender)
	assert.False(t, event.NotifyRecipient)
}

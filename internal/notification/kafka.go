package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/matheusmosca/ledger-transactions/internal/domain"
)

// messageWriter é satisfeito por *kafka.Writer
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaNotifier publica TransactionEvent em JSON, chaveado pelo public_id da transação
type KafkaNotifier struct {
	writer  messageWriter
	timeout time.Duration
	logger  *zap.Logger
}

// NewKafkaWriter cria o writer síncrono usado pelo notifier
func NewKafkaWriter(brokers []string, topic string, logger *zap.Logger) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		MaxAttempts:  3,
		BatchTimeout: 10 * time.Millisecond,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		Logger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Debug(fmt.Sprintf(msg, args...))
		}),
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Warn(fmt.Sprintf(msg, args...))
		}),
	}
}

// NewKafkaNotifier cria uma nova instância de KafkaNotifier
func NewKafkaNotifier(writer messageWriter, logger *zap.Logger) *KafkaNotifier {
	return &KafkaNotifier{
		writer:  writer,
		timeout: 10 * time.Second,
		logger:  logger,
	}
}

func (n *KafkaNotifier) NotifyTransactionCompleted(ctx context.Context, t *domain.Transaction, notifySender, notifyRecipient bool) error {
	return n.publish(ctx, CompletedEvent(t, notifySender, notifyRecipient))
}

func (n *KafkaNotifier) NotifyTransactionFailed(ctx context.Context, t *domain.Transaction) error {
	return n.publish(ctx, FailedEvent(t))
}

func (n *KafkaNotifier) NotifyReversalCompleted(ctx context.Context, reversal, original *domain.Transaction) error {
	return n.publish(ctx, ReversalEvent(reversal, original))
}

func (n *KafkaNotifier) publish(ctx context.Context, event TransactionEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	msg := kafka.Message{
		Key:   []byte(event.TransactionID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event", Value: []byte(event.Event)},
		},
	}
	if err := n.writer.WriteMessages(ctx, msg); err != nil {
		n.logger.Error("❌ failed to publish event to Kafka",
			zap.String("event", event.Event),
			zap.String("transaction_id", event.TransactionID),
			zap.Error(err),
		)
		return fmt.Errorf("failed to publish %s: %w", event.Event, err)
	}

	n.logger.Debug("📤 event published", zap.String("event", event.Event), zap.String("transaction_id", event.TransactionID))
	return nil
}

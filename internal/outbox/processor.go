package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/MinhoYeon/opentm-sub001/internal/domain"
	kafka_infra "github.com/MinhoYeon/opentm-sub001/internal/infrastructure/kafka"
	"github.com/MinhoYeon/opentm-sub001/internal/repository/outbox_repo"
)

// Processor drains pending outbox rows to Kafka. Publication is best-effort
// downstream integration: a failed batch stays PENDING and is retried on the
// next tick, request paths never wait on it.
type Processor struct {
	db           *sql.DB
	outboxRepo   outbox_repo.OutboxRepository
	producer     kafka_infra.Producer
	pollInterval time.Duration
	pollTimeout  time.Duration
	logger       *zap.Logger
}

func NewProcessor(
	db *sql.DB,
	outboxRepo outbox_repo.OutboxRepository,
	producer kafka_infra.Producer,
	pollInterval time.Duration,
	pollTimeout time.Duration,
	logger *zap.Logger,
) *Processor {
	return &Processor{
		db:           db,
		outboxRepo:   outboxRepo,
		producer:     producer,
		pollInterval: pollInterval,
		pollTimeout:  pollTimeout,
		logger:       logger,
	}
}

// Start blocks until ctx is cancelled.
func (p *Processor) Start(ctx context.Context) {
	p.logger.Info("Starting outbox processor...", zap.Duration("poll_interval", p.pollInterval))
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Outbox processor stopping.")
			return
		case <-ticker.C:
			p.processOutboxMessages(ctx)
		}
	}
}

func (p *Processor) processOutboxMessages(ctx context.Context) {
	queryCtx, cancel := context.WithTimeout(ctx, p.pollTimeout)
	defer cancel()

	messages, err := p.outboxRepo.GetPendingMessages(queryCtx, p.db, 10)
	if err != nil {
		p.logger.Error("Failed to get pending outbox messages", zap.Error(err))
		return
	}
	if len(messages) == 0 {
		return
	}

	p.logger.Info("Found pending outbox messages", zap.Int("count", len(messages)))

	for _, msg := range messages {
		if err := p.producer.Produce(ctx, msg.OrderID, msg.Payload); err != nil {
			p.logger.Error("Failed to publish outbox message, will retry next poll",
				zap.String("message_id", msg.ID),
				zap.Error(err))
			continue
		}

		if err := p.outboxRepo.UpdateMessageStatusTx(ctx, p.db, msg.ID, domain.OutboxStatusSent); err != nil {
			p.logger.Error("Failed to mark outbox message as SENT",
				zap.String("message_id", msg.ID),
				zap.Error(err))
			continue
		}

		p.logger.Debug("Outbox message published", zap.String("message_id", msg.ID))
	}
}

// PaymentStatusEvent is the payload published for every payment intent
// status change.
type PaymentStatusEvent struct {
	OrderID    string    `json:"order_id"`
	Status     string    `json:"status"`
	EventType  string    `json:"event_type,omitempty"`
	PaymentKey string    `json:"payment_key,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

func PreparePaymentStatusPayload(orderID string, status domain.PaymentIntentStatus, eventType, paymentKey string, eventTime time.Time) ([]byte, error) {
	return json.Marshal(PaymentStatusEvent{
		OrderID:    orderID,
		Status:     string(status),
		EventType:  eventType,
		PaymentKey: paymentKey,
		Timestamp:  eventTime,
	})
}

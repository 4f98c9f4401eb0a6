package domain

import "time"

type OutboxMessageStatus string

const (
	OutboxStatusPending OutboxMessageStatus = "PENDING"
	OutboxStatusSent    OutboxMessageStatus = "SENT"
	OutboxStatusFailed  OutboxMessageStatus = "FAILED"
)

// OutboxMessage is a payment status event waiting to be published to Kafka.
// Rows are written in the same transaction as the intent status change and
// picked up by the outbox processor.
type OutboxMessage struct {
	ID          string
	OrderID     string
	MessageType string
	Payload     []byte
	Status      OutboxMessageStatus
	CreatedAt   time.Time
	SentAt      *time.Time
}

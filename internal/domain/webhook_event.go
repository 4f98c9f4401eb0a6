package domain

import (
	"encoding/json"
	"time"
)

// WebhookEvent is the append-only audit record of one inbound gateway
// callback. There is deliberately no dedupe key: the gateway delivers
// at-least-once, and every delivery is recorded.
type WebhookEvent struct {
	ID         string
	OrderID    *string
	EventType  string
	Status     string
	Signature  string
	RawPayload json.RawMessage
	ReceivedAt time.Time
}

// GatewayWebhookPayload is the typed shape of an inbound gateway callback
// body, validated at the boundary before any field access.
type GatewayWebhookPayload struct {
	EventType  string `json:"eventType"`
	OrderID    string `json:"orderId"`
	Status     string `json:"status"`
	PaymentKey string `json:"paymentKey,omitempty"`
}

package domain

import (
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrIntentNotFound       = errors.New("payment intent not found")
	ErrAmountMismatch       = errors.New("payment amount mismatch")
	ErrConfirmationNotFound = errors.New("bank transfer confirmation not found")
	ErrOrderNotFound        = errors.New("order not found")
	ErrStageNotFound        = errors.New("payment stage not found")
)

type PaymentIntentStatus string

const (
	IntentStatusPrepared              PaymentIntentStatus = "prepared"
	IntentStatusConfirmed             PaymentIntentStatus = "confirmed"
	IntentStatusCancelled             PaymentIntentStatus = "cancelled"
	IntentStatusPendingVirtualAccount PaymentIntentStatus = "pending_virtual_account"
	IntentStatusPendingBankTransfer   PaymentIntentStatus = "pending_bank_transfer"
	IntentStatusFailed                PaymentIntentStatus = "failed"
)

// PaymentIntent is one attempt to pay for an order. Rows are never deleted;
// confirm, webhooks and bank-transfer decisions only mutate status fields.
type PaymentIntent struct {
	OrderID                string
	Amount                 int64
	Currency               string
	OwnerID                string
	FilingOrderID          *string
	Status                 PaymentIntentStatus
	PaymentKey             *string
	RawRequest             json.RawMessage
	RawResponse            json.RawMessage
	LastEventType          *string
	BankConfirmRequestedAt *time.Time
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// MapEventStatus translates a gateway-reported status string into a canonical
// intent status. The boolean is false for event types that carry no status
// change; those are still acknowledged so the gateway does not retry.
func MapEventStatus(reported string) (PaymentIntentStatus, bool) {
	switch reported {
	case "DONE", "SUCCESS":
		return IntentStatusConfirmed, true
	case "CANCELED", "CANCELLED":
		return IntentStatusCancelled, true
	case "WAITING_FOR_DEPOSIT", "READY":
		return IntentStatusPendingVirtualAccount, true
	default:
		return "", false
	}
}

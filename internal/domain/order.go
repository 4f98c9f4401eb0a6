package domain

import (
	"encoding/json"
	"time"
)

type OrderStatus string

const (
	OrderStatusDraft                   OrderStatus = "draft"
	OrderStatusAwaitingPayment         OrderStatus = "awaiting_payment"
	OrderStatusAwaitingDocuments       OrderStatus = "awaiting_documents"
	OrderStatusAwaitingClientSign      OrderStatus = "awaiting_client_signature"
	OrderStatusPreparingFiling         OrderStatus = "preparing_filing"
	OrderStatusFiled                   OrderStatus = "filed"
	OrderStatusAwaitingRegistrationFee OrderStatus = "awaiting_registration_fee"
	OrderStatusCompleted               OrderStatus = "completed"
	OrderStatusRejected                OrderStatus = "rejected"
	OrderStatusCancelled               OrderStatus = "cancelled"
)

// statusRank orders the happy-path sequence. Side states (rejected,
// cancelled) rank zero, so any force-transition into them counts as a
// regression and requires a justification note.
var statusRank = map[OrderStatus]int{
	OrderStatusDraft:                   1,
	OrderStatusAwaitingPayment:         2,
	OrderStatusAwaitingDocuments:       3,
	OrderStatusAwaitingClientSign:      4,
	OrderStatusPreparingFiling:         5,
	OrderStatusFiled:                   6,
	OrderStatusAwaitingRegistrationFee: 7,
	OrderStatusCompleted:               8,
}

// StatusRank returns the position of a status in the happy-path sequence,
// or zero for side states and unknown values.
func StatusRank(s OrderStatus) int {
	return statusRank[s]
}

// IsKnownOrderStatus reports whether s is a declared lifecycle state.
func IsKnownOrderStatus(s OrderStatus) bool {
	if _, ok := statusRank[s]; ok {
		return true
	}
	return s == OrderStatusRejected || s == OrderStatusCancelled
}

// CanTransition reports whether from→to is an edge on the declared lifecycle
// graph: forward movement along the sequence (skips allowed), or entry into a
// side state from any non-terminal state. It is advisory for privileged
// callers; only the enforced transition path treats false as an error.
func CanTransition(from, to OrderStatus) bool {
	if from == to {
		return false
	}
	if to == OrderStatusRejected || to == OrderStatusCancelled {
		return from != OrderStatusCompleted && from != OrderStatusRejected && from != OrderStatusCancelled
	}
	fromRank, fromOK := statusRank[from]
	toRank, toOK := statusRank[to]
	if !fromOK || !toOK {
		return false
	}
	return toRank > fromRank
}

// Order is the downstream filing order whose lifecycle the payment core
// advances. Applicant PII and product details live outside this service.
type Order struct {
	ID              string
	OwnerID         string
	Status          OrderStatus
	StatusUpdatedAt time.Time
	FiledAt         *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type PaymentStage string

const (
	StageFiling       PaymentStage = "filing"
	StageOfficeAction PaymentStage = "office_action"
	StageRegistration PaymentStage = "registration"
)

func ParsePaymentStage(s string) (PaymentStage, bool) {
	switch PaymentStage(s) {
	case StageFiling, StageOfficeAction, StageRegistration:
		return PaymentStage(s), true
	default:
		return "", false
	}
}

type StageStatus string

const (
	StageStatusNotRequested    StageStatus = "not_requested"
	StageStatusQuoteSent       StageStatus = "quote_sent"
	StageStatusUnpaid          StageStatus = "unpaid"
	StageStatusPartial         StageStatus = "partial"
	StageStatusPaid            StageStatus = "paid"
	StageStatusOverdue         StageStatus = "overdue"
	StageStatusRefundRequested StageStatus = "refund_requested"
	StageStatusRefunded        StageStatus = "refunded"
)

func ParseStageStatus(s string) (StageStatus, bool) {
	switch StageStatus(s) {
	case StageStatusNotRequested, StageStatusQuoteSent, StageStatusUnpaid,
		StageStatusPartial, StageStatusPaid, StageStatusOverdue,
		StageStatusRefundRequested, StageStatusRefunded:
		return StageStatus(s), true
	default:
		return "", false
	}
}

// StageRecord tracks money owed and paid for one payment stage of an order.
type StageRecord struct {
	ID         string
	OrderID    string
	Stage      PaymentStage
	Amount     int64
	PaidAmount int64
	Status     StageStatus
	DueAt      *time.Time
	PaidAt     *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// StatusLog is the append-only audit row written for every accepted order
// status transition.
type StatusLog struct {
	ID         string
	OrderID    string
	FromStatus OrderStatus
	ToStatus   OrderStatus
	ActorID    string
	Note       string
	Metadata   json.RawMessage
	CreatedAt  time.Time
}

package domain

import "time"

type BankTransferStatus string

const (
	BankTransferStatusPending   BankTransferStatus = "pending"
	BankTransferStatusConfirmed BankTransferStatus = "confirmed"
	BankTransferStatusRejected  BankTransferStatus = "rejected"
)

// ParseBankTransferStatus validates a status filter value from a query string.
func ParseBankTransferStatus(s string) (BankTransferStatus, bool) {
	switch BankTransferStatus(s) {
	case BankTransferStatusPending, BankTransferStatusConfirmed, BankTransferStatusRejected:
		return BankTransferStatus(s), true
	default:
		return "", false
	}
}

// BankTransferConfirmation is a customer-initiated manual review request.
// Exactly one admin decision is applied per row; the decision path requires
// both the confirmation id and its owning intent's order id to match.
type BankTransferConfirmation struct {
	ID          string
	OrderID     string
	RequesterID string
	Note        string
	Status      BankTransferStatus
	Memo        *string
	ProcessedBy *string
	ProcessedAt *time.Time
	CreatedAt   time.Time
}

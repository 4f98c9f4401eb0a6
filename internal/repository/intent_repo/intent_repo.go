package intent_repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/MinhoYeon/opentm-sub001/internal/domain"
)

type intentRepository struct {
	db *sql.DB
}

func NewIntentRepository(db *sql.DB) IntentRepository {
	return &intentRepository{db: db}
}

func (r *intentRepository) UpsertTx(ctx context.Context, querier domain.Querier, intent *domain.PaymentIntent) error {
	query := `
		INSERT INTO payment_intents (
			order_id, amount, currency, owner_id, filing_order_id, status,
			payment_key, raw_request, raw_response, last_event_type, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (order_id) DO UPDATE SET
			amount = EXCLUDED.amount,
			currency = EXCLUDED.currency,
			status = EXCLUDED.status,
			raw_request = EXCLUDED.raw_request,
			raw_response = EXCLUDED.raw_response,
			updated_at = EXCLUDED.updated_at
	`
	_, err := querier.ExecContext(ctx, query,
		intent.OrderID,
		intent.Amount,
		intent.Currency,
		intent.OwnerID,
		intent.FilingOrderID,
		intent.Status,
		intent.PaymentKey,
		intent.RawRequest,
		intent.RawResponse,
		intent.LastEventType,
		intent.CreatedAt,
		intent.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert payment intent %s: %w", intent.OrderID, err)
	}
	return nil
}

func (r *intentRepository) GetByOrderIDTx(ctx context.Context, querier domain.Querier, orderID string) (*domain.PaymentIntent, error) {
	query := `
		SELECT order_id, amount, currency, owner_id, filing_order_id, status,
		       payment_key, raw_request, raw_response, last_event_type,
		       bank_confirm_requested_at, created_at, updated_at
		FROM payment_intents
		WHERE order_id = $1
	`
	intent := &domain.PaymentIntent{}
	err := querier.QueryRowContext(ctx, query, orderID).Scan(
		&intent.OrderID,
		&intent.Amount,
		&intent.Currency,
		&intent.OwnerID,
		&intent.FilingOrderID,
		&intent.Status,
		&intent.PaymentKey,
		&intent.RawRequest,
		&intent.RawResponse,
		&intent.LastEventType,
		&intent.BankConfirmRequestedAt,
		&intent.CreatedAt,
		&intent.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrIntentNotFound
		}
		return nil, fmt.Errorf("failed to get payment intent by order id %s: %w", orderID, err)
	}
	return intent, nil
}

// ConfirmTx flips the intent to confirmed with a single conditional update.
// The amount predicate is what rejects a tampered confirm racing a concurrent
// webhook; no application-level lock is taken.
func (r *intentRepository) ConfirmTx(ctx context.Context, querier domain.Querier, orderID, paymentKey string, amount int64, rawResponse json.RawMessage) error {
	query := `
		UPDATE payment_intents
		SET status = $1, payment_key = $2, raw_response = $3, updated_at = $4
		WHERE order_id = $5 AND amount = $6
	`
	res, err := querier.ExecContext(ctx, query,
		domain.IntentStatusConfirmed, paymentKey, rawResponse, time.Now(), orderID, amount)
	if err != nil {
		return fmt.Errorf("failed to confirm payment intent %s: %w", orderID, err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for intent confirm: %w", err)
	}
	if rowsAffected == 0 {
		// Distinguish a missing intent from an amount mismatch.
		if _, getErr := r.GetByOrderIDTx(ctx, querier, orderID); getErr != nil {
			return getErr
		}
		return domain.ErrAmountMismatch
	}
	return nil
}

// UpdateStatusTx is a deliberate last-write-wins update; webhook ordering is
// not enforced here.
func (r *intentRepository) UpdateStatusTx(ctx context.Context, querier domain.Querier, orderID string, status domain.PaymentIntentStatus, lastEventType string, paymentKey *string) error {
	query := `
		UPDATE payment_intents
		SET status = $1,
		    last_event_type = $2,
		    payment_key = COALESCE($3, payment_key),
		    updated_at = $4
		WHERE order_id = $5
	`
	res, err := querier.ExecContext(ctx, query, status, lastEventType, paymentKey, time.Now(), orderID)
	if err != nil {
		return fmt.Errorf("failed to update payment intent status %s: %w", orderID, err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for intent status update: %w", err)
	}
	if rowsAffected == 0 {
		return domain.ErrIntentNotFound
	}
	return nil
}

func (r *intentRepository) SetBankTransferRequestedTx(ctx context.Context, querier domain.Querier, orderID string, requestedAt time.Time) error {
	query := `
		UPDATE payment_intents
		SET status = $1, bank_confirm_requested_at = $2, updated_at = $3
		WHERE order_id = $4
	`
	res, err := querier.ExecContext(ctx, query,
		domain.IntentStatusPendingBankTransfer, requestedAt, time.Now(), orderID)
	if err != nil {
		return fmt.Errorf("failed to mark intent %s as pending bank transfer: %w", orderID, err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for bank transfer request: %w", err)
	}
	if rowsAffected == 0 {
		return domain.ErrIntentNotFound
	}
	return nil
}

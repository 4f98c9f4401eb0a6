package intent_repo

import (
	"context"
	"encoding/json"
	"time"

	"github.com/MinhoYeon/opentm-sub001/internal/domain"
)

// IntentRepository persists payment intents keyed by the caller-supplied
// order id. ConfirmTx is the one atomic operation: existence and amount are
// validated by the database in a single conditional update.
type IntentRepository interface {
	UpsertTx(ctx context.Context, querier domain.Querier, intent *domain.PaymentIntent) error
	GetByOrderIDTx(ctx context.Context, querier domain.Querier, orderID string) (*domain.PaymentIntent, error)
	ConfirmTx(ctx context.Context, querier domain.Querier, orderID, paymentKey string, amount int64, rawResponse json.RawMessage) error
	UpdateStatusTx(ctx context.Context, querier domain.Querier, orderID string, status domain.PaymentIntentStatus, lastEventType string, paymentKey *string) error
	SetBankTransferRequestedTx(ctx context.Context, querier domain.Querier, orderID string, requestedAt time.Time) error
}

package bank_repo

import (
	"context"
	"time"

	"github.com/MinhoYeon/opentm-sub001/internal/domain"
)

// BankTransferRepository persists manual-review requests for non-card
// payments. DecideTx applies at most one decision: the update is conditional
// on the row id, its order id, and the row still being pending.
type BankTransferRepository interface {
	CreateTx(ctx context.Context, querier domain.Querier, confirmation *domain.BankTransferConfirmation) error
	ListByStatusesTx(ctx context.Context, querier domain.Querier, statuses []domain.BankTransferStatus) ([]*domain.BankTransferConfirmation, error)
	DecideTx(ctx context.Context, querier domain.Querier, id, orderID string, status domain.BankTransferStatus, memo, actorID string, processedAt time.Time) error
}

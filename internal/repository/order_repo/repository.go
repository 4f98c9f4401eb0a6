package order_repo

import (
	"context"
	"time"

	"github.com/MinhoYeon/opentm-sub001/internal/domain"
)

// OrderRepository covers the downstream filing order: its lifecycle status,
// per-stage payment records, and the append-only status log.
type OrderRepository interface {
	GetOrderByIDTx(ctx context.Context, querier domain.Querier, id string) (*domain.Order, error)
	UpdateOrderStatusTx(ctx context.Context, querier domain.Querier, id string, status domain.OrderStatus, statusUpdatedAt time.Time, filedAt *time.Time) error
	InsertStatusLogTx(ctx context.Context, querier domain.Querier, log *domain.StatusLog) error
	ListStatusLogsTx(ctx context.Context, querier domain.Querier, orderID string) ([]*domain.StatusLog, error)
	GetStageTx(ctx context.Context, querier domain.Querier, orderID string, stage domain.PaymentStage) (*domain.StageRecord, error)
	ListStagesTx(ctx context.Context, querier domain.Querier, orderID string) ([]*domain.StageRecord, error)
	UpdateStageTx(ctx context.Context, querier domain.Querier, record *domain.StageRecord) error
}

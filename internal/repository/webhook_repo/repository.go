package webhook_repo

import (
	"context"

	"github.com/MinhoYeon/opentm-sub001/internal/domain"
)

// WebhookEventRepository is append-only. There is no update or delete;
// duplicate deliveries each get their own row.
type WebhookEventRepository interface {
	InsertTx(ctx context.Context, querier domain.Querier, event *domain.WebhookEvent) error
}

package webhook_repo

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/MinhoYeon/opentm-sub001/internal/domain"
)

type webhookEventRepository struct {
	db *sql.DB
}

func NewWebhookEventRepository(db *sql.DB) WebhookEventRepository {
	return &webhookEventRepository{db: db}
}

func (r *webhookEventRepository) InsertTx(ctx context.Context, querier domain.Querier, event *domain.WebhookEvent) error {
	query := `
		INSERT INTO webhook_events (id, order_id, event_type, status, signature, raw_payload, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := querier.ExecContext(ctx, query,
		event.ID,
		event.OrderID,
		event.EventType,
		event.Status,
		event.Signature,
		event.RawPayload,
		event.ReceivedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert webhook event: %w", err)
	}
	return nil
}

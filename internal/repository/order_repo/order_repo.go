package order_repo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/MinhoYeon/opentm-sub001/internal/domain"
)

type orderRepository struct {
	db *sql.DB
}

func NewOrderRepository(db *sql.DB) OrderRepository {
	return &orderRepository{db: db}
}

func (r *orderRepository) GetOrderByIDTx(ctx context.Context, querier domain.Querier, id string) (*domain.Order, error) {
	query := `
		SELECT id, owner_id, status, status_updated_at, filed_at, created_at, updated_at
		FROM orders
		WHERE id = $1
	`
	order := &domain.Order{}
	err := querier.QueryRowContext(ctx, query, id).Scan(
		&order.ID,
		&order.OwnerID,
		&order.Status,
		&order.StatusUpdatedAt,
		&order.FiledAt,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to get order by id %s: %w", id, err)
	}
	return order, nil
}

// UpdateOrderStatusTx sets filed_at only when it has never been stamped.
func (r *orderRepository) UpdateOrderStatusTx(ctx context.Context, querier domain.Querier, id string, status domain.OrderStatus, statusUpdatedAt time.Time, filedAt *time.Time) error {
	query := `
		UPDATE orders
		SET status = $1,
		    status_updated_at = $2,
		    filed_at = COALESCE(filed_at, $3),
		    updated_at = $4
		WHERE id = $5
	`
	res, err := querier.ExecContext(ctx, query, status, statusUpdatedAt, filedAt, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update order status %s: %w", id, err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for order status update: %w", err)
	}
	if rowsAffected == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

func (r *orderRepository) InsertStatusLogTx(ctx context.Context, querier domain.Querier, log *domain.StatusLog) error {
	query := `
		INSERT INTO status_logs (id, order_id, from_status, to_status, actor_id, note, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := querier.ExecContext(ctx, query,
		log.ID,
		log.OrderID,
		log.FromStatus,
		log.ToStatus,
		log.ActorID,
		log.Note,
		log.Metadata,
		log.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert status log for order %s: %w", log.OrderID, err)
	}
	return nil
}

func (r *orderRepository) ListStatusLogsTx(ctx context.Context, querier domain.Querier, orderID string) ([]*domain.StatusLog, error) {
	query := `
		SELECT id, order_id, from_status, to_status, actor_id, note, metadata, created_at
		FROM status_logs
		WHERE order_id = $1
		ORDER BY created_at ASC
	`
	rows, err := querier.QueryContext(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to list status logs for order %s: %w", orderID, err)
	}
	defer rows.Close()

	var logs []*domain.StatusLog
	for rows.Next() {
		l := &domain.StatusLog{}
		if err := rows.Scan(
			&l.ID,
			&l.OrderID,
			&l.FromStatus,
			&l.ToStatus,
			&l.ActorID,
			&l.Note,
			&l.Metadata,
			&l.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan status log: %w", err)
		}
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate status logs: %w", err)
	}
	return logs, nil
}

func (r *orderRepository) GetStageTx(ctx context.Context, querier domain.Querier, orderID string, stage domain.PaymentStage) (*domain.StageRecord, error) {
	query := `
		SELECT id, order_id, stage, amount, paid_amount, status, due_at, paid_at, created_at, updated_at
		FROM order_payment_stages
		WHERE order_id = $1 AND stage = $2
	`
	record := &domain.StageRecord{}
	err := querier.QueryRowContext(ctx, query, orderID, stage).Scan(
		&record.ID,
		&record.OrderID,
		&record.Stage,
		&record.Amount,
		&record.PaidAmount,
		&record.Status,
		&record.DueAt,
		&record.PaidAt,
		&record.CreatedAt,
		&record.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrStageNotFound
		}
		return nil, fmt.Errorf("failed to get %s stage for order %s: %w", stage, orderID, err)
	}
	return record, nil
}

// ListStagesTx returns the order's stages in filing → office_action →
// registration order.
func (r *orderRepository) ListStagesTx(ctx context.Context, querier domain.Querier, orderID string) ([]*domain.StageRecord, error) {
	query := `
		SELECT id, order_id, stage, amount, paid_amount, status, due_at, paid_at, created_at, updated_at
		FROM order_payment_stages
		WHERE order_id = $1
		ORDER BY CASE stage
			WHEN 'filing' THEN 1
			WHEN 'office_action' THEN 2
			WHEN 'registration' THEN 3
		END
	`
	rows, err := querier.QueryContext(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to list stages for order %s: %w", orderID, err)
	}
	defer rows.Close()

	var records []*domain.StageRecord
	for rows.Next() {
		record := &domain.StageRecord{}
		if err := rows.Scan(
			&record.ID,
			&record.OrderID,
			&record.Stage,
			&record.Amount,
			&record.PaidAmount,
			&record.Status,
			&record.DueAt,
			&record.PaidAt,
			&record.CreatedAt,
			&record.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan stage record: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate stage records: %w", err)
	}
	return records, nil
}

func (r *orderRepository) UpdateStageTx(ctx context.Context, querier domain.Querier, record *domain.StageRecord) error {
	query := `
		UPDATE order_payment_stages
		SET amount = $1, paid_amount = $2, status = $3, due_at = $4, paid_at = $5, updated_at = $6
		WHERE id = $7
	`
	res, err := querier.ExecContext(ctx, query,
		record.Amount,
		record.PaidAmount,
		record.Status,
		record.DueAt,
		record.PaidAt,
		time.Now(),
		record.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update %s stage for order %s: %w", record.Stage, record.OrderID, err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for stage update: %w", err)
	}
	if rowsAffected == 0 {
		return domain.ErrStageNotFound
	}
	return nil
}

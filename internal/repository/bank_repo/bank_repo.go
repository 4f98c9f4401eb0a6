package bank_repo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/MinhoYeon/opentm-sub001/internal/domain"
)

type bankTransferRepository struct {
	db *sql.DB
}

func NewBankTransferRepository(db *sql.DB) BankTransferRepository {
	return &bankTransferRepository{db: db}
}

func (r *bankTransferRepository) CreateTx(ctx context.Context, querier domain.Querier, confirmation *domain.BankTransferConfirmation) error {
	query := `
		INSERT INTO bank_transfer_confirmations (id, order_id, requester_id, note, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := querier.ExecContext(ctx, query,
		confirmation.ID,
		confirmation.OrderID,
		confirmation.RequesterID,
		confirmation.Note,
		confirmation.Status,
		confirmation.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create bank transfer confirmation for order %s: %w", confirmation.OrderID, err)
	}
	return nil
}

func (r *bankTransferRepository) ListByStatusesTx(ctx context.Context, querier domain.Querier, statuses []domain.BankTransferStatus) ([]*domain.BankTransferConfirmation, error) {
	query := `
		SELECT id, order_id, requester_id, note, status, memo, processed_by, processed_at, created_at
		FROM bank_transfer_confirmations
	`
	var args []any
	if len(statuses) > 0 {
		statusStrs := make([]string, len(statuses))
		for i, s := range statuses {
			statusStrs[i] = string(s)
		}
		query += ` WHERE status = ANY($1)`
		args = append(args, pq.Array(statusStrs))
	}
	query += ` ORDER BY created_at DESC`

	rows, err := querier.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list bank transfer confirmations: %w", err)
	}
	defer rows.Close()

	var confirmations []*domain.BankTransferConfirmation
	for rows.Next() {
		c := &domain.BankTransferConfirmation{}
		if err := rows.Scan(
			&c.ID,
			&c.OrderID,
			&c.RequesterID,
			&c.Note,
			&c.Status,
			&c.Memo,
			&c.ProcessedBy,
			&c.ProcessedAt,
			&c.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan bank transfer confirmation: %w", err)
		}
		confirmations = append(confirmations, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate bank transfer confirmations: %w", err)
	}
	return confirmations, nil
}

func (r *bankTransferRepository) DecideTx(ctx context.Context, querier domain.Querier, id, orderID string, status domain.BankTransferStatus, memo, actorID string, processedAt time.Time) error {
	query := `
		UPDATE bank_transfer_confirmations
		SET status = $1, memo = $2, processed_by = $3, processed_at = $4
		WHERE id = $5 AND order_id = $6 AND status = $7
	`
	res, err := querier.ExecContext(ctx, query,
		status, memo, actorID, processedAt, id, orderID, domain.BankTransferStatusPending)
	if err != nil {
		return fmt.Errorf("failed to decide bank transfer confirmation %s: %w", id, err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for bank transfer decision: %w", err)
	}
	if rowsAffected == 0 {
		return domain.ErrConfirmationNotFound
	}
	return nil
}

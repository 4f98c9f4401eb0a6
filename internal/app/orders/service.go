package orders

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/MinhoYeon/opentm-sub001/internal/domain"
	"github.com/MinhoYeon/opentm-sub001/internal/repository/order_repo"
	"github.com/MinhoYeon/opentm-sub001/internal/util"
)

var (
	ErrInvalidTransition = errors.New("status transition not allowed")
	ErrNoteRequired      = errors.New("a justification note is required for a status regression")
	ErrUnknownStatus     = errors.New("unknown order status")
	ErrPaidExceedsAmount = errors.New("paid amount cannot exceed stage amount")
)

// stageCompletionStatus maps a paid payment stage to the order status the
// auto-transition moves the order into.
var stageCompletionStatus = map[domain.PaymentStage]domain.OrderStatus{
	domain.StageFiling:       domain.OrderStatusPreparingFiling,
	domain.StageOfficeAction: domain.OrderStatusFiled,
	domain.StageRegistration: domain.OrderStatusCompleted,
}

// StageUpdate carries an admin edit of a payment stage record. Nil fields
// are left untouched.
type StageUpdate struct {
	Amount     *int64
	PaidAmount *int64
	Status     *domain.StageStatus
	DueAt      *time.Time
	PaidAt     *time.Time
}

type StatusService interface {
	ResolveInitialStatus(paymentAmount int64, skipGate bool) domain.OrderStatus
	CanTransitionStatus(from, to domain.OrderStatus) bool
	Transition(ctx context.Context, orderID string, requested domain.OrderStatus, actorID, note string, metadata json.RawMessage) (*domain.Order, error)
	ForceTransition(ctx context.Context, orderID string, requested domain.OrderStatus, actorID, note string, metadata json.RawMessage) (*domain.Order, error)
	UpdateStage(ctx context.Context, orderID string, stage domain.PaymentStage, update StageUpdate, actorID string) (*domain.StageRecord, error)
	ListStatusLogs(ctx context.Context, orderID string) ([]*domain.StatusLog, error)
	ApplyIntentPayment(ctx context.Context, orderID string, amount int64, actorID string) error
}

type statusService struct {
	db        *sql.DB
	orderRepo order_repo.OrderRepository
	logger    *zap.Logger
}

func NewStatusService(db *sql.DB, orderRepo order_repo.OrderRepository, logger *zap.Logger) StatusService {
	return &statusService{
		db:        db,
		orderRepo: orderRepo,
		logger:    logger,
	}
}

// ResolveInitialStatus picks where a new order starts: behind the payment
// gate when an upfront fee applies, at the head of the sequence otherwise.
func (s *statusService) ResolveInitialStatus(paymentAmount int64, skipGate bool) domain.OrderStatus {
	if skipGate || paymentAmount <= 0 {
		return domain.OrderStatusDraft
	}
	return domain.OrderStatusAwaitingPayment
}

// CanTransitionStatus is advisory. Privileged callers go through
// ForceTransition regardless of what this returns.
func (s *statusService) CanTransitionStatus(from, to domain.OrderStatus) bool {
	return domain.CanTransition(from, to)
}

// Transition is the enforced path: only edges on the declared graph pass.
func (s *statusService) Transition(ctx context.Context, orderID string, requested domain.OrderStatus, actorID, note string, metadata json.RawMessage) (*domain.Order, error) {
	return s.transition(ctx, orderID, requested, actorID, note, metadata, true)
}

// ForceTransition allows any edge but demands a non-empty note whenever the
// order moves backward in the sequence.
func (s *statusService) ForceTransition(ctx context.Context, orderID string, requested domain.OrderStatus, actorID, note string, metadata json.RawMessage) (*domain.Order, error) {
	return s.transition(ctx, orderID, requested, actorID, note, metadata, false)
}

func (s *statusService) transition(ctx context.Context, orderID string, requested domain.OrderStatus, actorID, note string, metadata json.RawMessage, strict bool) (*domain.Order, error) {
	if !domain.IsKnownOrderStatus(requested) {
		return nil, ErrUnknownStatus
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		s.logger.Error("Failed to begin transaction for status transition", zap.String("order_id", orderID), zap.Error(err))
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	order, err := s.orderRepo.GetOrderByIDTx(ctx, tx, orderID)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	allowed := domain.CanTransition(order.Status, requested)
	if strict && !allowed {
		tx.Rollback()
		s.logger.Warn("Rejected off-graph status transition",
			zap.String("order_id", orderID),
			zap.String("from", string(order.Status)),
			zap.String("to", string(requested)),
			zap.String("actor_id", actorID),
		)
		return nil, ErrInvalidTransition
	}
	if !strict {
		if !allowed {
			s.logger.Info("Privileged off-graph status transition",
				zap.String("order_id", orderID),
				zap.String("from", string(order.Status)),
				zap.String("to", string(requested)),
				zap.String("actor_id", actorID),
			)
		}
		if domain.StatusRank(requested) < domain.StatusRank(order.Status) && note == "" {
			tx.Rollback()
			return nil, ErrNoteRequired
		}
	}

	now := time.Now()
	var filedAt *time.Time
	if requested == domain.OrderStatusFiled {
		filedAt = &now
	}

	if err := s.orderRepo.UpdateOrderStatusTx(ctx, tx, orderID, requested, now, filedAt); err != nil {
		tx.Rollback()
		return nil, err
	}

	statusLog := &domain.StatusLog{
		ID:         util.GenerateUUID(),
		OrderID:    orderID,
		FromStatus: order.Status,
		ToStatus:   requested,
		ActorID:    actorID,
		Note:       note,
		Metadata:   metadata,
		CreatedAt:  now,
	}
	if err := s.orderRepo.InsertStatusLogTx(ctx, tx, statusLog); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		s.logger.Error("Failed to commit status transition", zap.String("order_id", orderID), zap.Error(err))
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.Info("Order status transitioned",
		zap.String("order_id", orderID),
		zap.String("from", string(order.Status)),
		zap.String("to", string(requested)),
		zap.String("actor_id", actorID),
	)

	return s.orderRepo.GetOrderByIDTx(ctx, s.db, orderID)
}

// UpdateStage applies an admin edit to a payment stage record. When the edit
// moves the stage from a non-paid status to paid, the auto-transition fires;
// its failure is logged and never rolls the stage update back.
func (s *statusService) UpdateStage(ctx context.Context, orderID string, stage domain.PaymentStage, update StageUpdate, actorID string) (*domain.StageRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		s.logger.Error("Failed to begin transaction for stage update", zap.String("order_id", orderID), zap.Error(err))
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	record, err := s.orderRepo.GetStageTx(ctx, tx, orderID, stage)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	oldStatus := record.Status

	if update.Amount != nil {
		record.Amount = *update.Amount
	}
	if update.PaidAmount != nil {
		record.PaidAmount = *update.PaidAmount
	}
	if update.Status != nil {
		record.Status = *update.Status
	}
	if update.DueAt != nil {
		record.DueAt = update.DueAt
	}
	if update.PaidAt != nil {
		record.PaidAt = update.PaidAt
	}
	if record.PaidAmount > record.Amount {
		tx.Rollback()
		return nil, ErrPaidExceedsAmount
	}
	if record.Status == domain.StageStatusPaid && record.PaidAt == nil {
		now := time.Now()
		record.PaidAt = &now
	}

	if err := s.orderRepo.UpdateStageTx(ctx, tx, record); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		s.logger.Error("Failed to commit stage update", zap.String("order_id", orderID), zap.Error(err))
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.Info("Payment stage updated",
		zap.String("order_id", orderID),
		zap.String("stage", string(stage)),
		zap.String("from_status", string(oldStatus)),
		zap.String("to_status", string(record.Status)),
		zap.String("actor_id", actorID),
	)

	s.maybeAutoTransition(ctx, orderID, stage, oldStatus, record.Status, actorID)
	return record, nil
}

func (s *statusService) ListStatusLogs(ctx context.Context, orderID string) ([]*domain.StatusLog, error) {
	if _, err := s.orderRepo.GetOrderByIDTx(ctx, s.db, orderID); err != nil {
		return nil, err
	}
	return s.orderRepo.ListStatusLogsTx(ctx, s.db, orderID)
}

// ApplyIntentPayment credits a confirmed payment intent against the order's
// earliest payable stage. Called by the payment reconciliation core after the
// intent commit; any error here is the caller's to log, not to fail on.
func (s *statusService) ApplyIntentPayment(ctx context.Context, orderID string, amount int64, actorID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	stages, err := s.orderRepo.ListStagesTx(ctx, tx, orderID)
	if err != nil {
		tx.Rollback()
		return err
	}

	var target *domain.StageRecord
	for _, record := range stages {
		if record.Status == domain.StageStatusPaid ||
			record.Status == domain.StageStatusRefunded ||
			record.Status == domain.StageStatusNotRequested ||
			record.Amount <= 0 {
			continue
		}
		target = record
		break
	}
	if target == nil {
		tx.Rollback()
		return domain.ErrStageNotFound
	}

	oldStatus := target.Status
	target.PaidAmount += amount
	if target.PaidAmount >= target.Amount {
		target.PaidAmount = target.Amount
		target.Status = domain.StageStatusPaid
		now := time.Now()
		target.PaidAt = &now
	} else {
		target.Status = domain.StageStatusPartial
	}

	if err := s.orderRepo.UpdateStageTx(ctx, tx, target); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.Info("Applied confirmed payment to stage",
		zap.String("order_id", orderID),
		zap.String("stage", string(target.Stage)),
		zap.Int64("amount", amount),
		zap.String("stage_status", string(target.Status)),
	)

	s.maybeAutoTransition(ctx, orderID, target.Stage, oldStatus, target.Status, actorID)
	return nil
}

// maybeAutoTransition fires only on a non-paid → paid edge, so a repeated
// paid update is a no-op trigger. The transition runs in privileged mode with
// a system note; failure is a warning, never a rollback of the stage record.
func (s *statusService) maybeAutoTransition(ctx context.Context, orderID string, stage domain.PaymentStage, oldStatus, newStatus domain.StageStatus, actorID string) {
	if oldStatus == domain.StageStatusPaid || newStatus != domain.StageStatusPaid {
		return
	}
	next, ok := stageCompletionStatus[stage]
	if !ok {
		return
	}
	order, err := s.orderRepo.GetOrderByIDTx(ctx, s.db, orderID)
	if err != nil {
		s.logger.Warn("Auto transition skipped, order lookup failed",
			zap.String("order_id", orderID), zap.Error(err))
		return
	}
	// Already at the target: forcing would log a self-transition.
	if order.Status == next {
		return
	}

	note := fmt.Sprintf("auto transition: %s stage paid", stage)
	if _, err := s.ForceTransition(ctx, orderID, next, actorID, note, nil); err != nil {
		s.logger.Warn("Auto transition after stage payment failed",
			zap.String("order_id", orderID),
			zap.String("stage", string(stage)),
			zap.String("target_status", string(next)),
			zap.Error(err),
		)
	}
}

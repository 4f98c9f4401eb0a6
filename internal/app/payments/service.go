package payments

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/MinhoYeon/opentm-sub001/internal/domain"
	"github.com/MinhoYeon/opentm-sub001/internal/gateway"
	"github.com/MinhoYeon/opentm-sub001/internal/notify"
	"github.com/MinhoYeon/opentm-sub001/internal/outbox"
	"github.com/MinhoYeon/opentm-sub001/internal/repository/bank_repo"
	"github.com/MinhoYeon/opentm-sub001/internal/repository/intent_repo"
	"github.com/MinhoYeon/opentm-sub001/internal/repository/outbox_repo"
	"github.com/MinhoYeon/opentm-sub001/internal/repository/webhook_repo"
	"github.com/MinhoYeon/opentm-sub001/internal/util"
	"github.com/MinhoYeon/opentm-sub001/internal/webhook"
)

var (
	ErrMalformedPayload = errors.New("malformed webhook payload")
	ErrMissingOrderID   = errors.New("webhook payload missing orderId")
)

// PaymentGateway is the outbound side of the reconciliation core. Satisfied
// by *gateway.Client; tests substitute a fake.
type PaymentGateway interface {
	Create(ctx context.Context, req gateway.CreateRequest) (json.RawMessage, error)
	Confirm(ctx context.Context, paymentKey, orderID string, amount int64) (json.RawMessage, error)
}

// StageReconciler cascades a paid intent into the downstream order. Failures
// are logged and swallowed: the financial record always wins over downstream
// automation.
type StageReconciler interface {
	ApplyIntentPayment(ctx context.Context, orderID string, amount int64, actorID string) error
}

type PrepareRequest struct {
	OrderID       string
	Amount        int64
	OrderName     string
	SuccessURL    string
	FailURL       string
	Currency      string
	CustomerName  string
	CustomerEmail string
	FilingOrderID *string
}

type PaymentService interface {
	Prepare(ctx context.Context, ownerID string, req *PrepareRequest) (*domain.PaymentIntent, error)
	Confirm(ctx context.Context, paymentKey, orderID string, amount int64) (*domain.PaymentIntent, error)
	ProcessWebhook(ctx context.Context, rawBody []byte, signature string) error
	RequestBankTransfer(ctx context.Context, orderID, requesterID, note string) (*domain.BankTransferConfirmation, error)
	ListBankTransfers(ctx context.Context, statuses []domain.BankTransferStatus) ([]*domain.BankTransferConfirmation, error)
	DecideBankTransfer(ctx context.Context, confirmationID, orderID string, decision domain.BankTransferStatus, memo, actorID string) error
}

type paymentService struct {
	db          *sql.DB
	gateway     PaymentGateway
	verifier    *webhook.Verifier
	intentRepo  intent_repo.IntentRepository
	webhookRepo webhook_repo.WebhookEventRepository
	bankRepo    bank_repo.BankTransferRepository
	outboxRepo  outbox_repo.OutboxRepository
	notifier    notify.AdminNotifier
	reconciler  StageReconciler
	logger      *zap.Logger
}

func NewPaymentService(
	db *sql.DB,
	gw PaymentGateway,
	verifier *webhook.Verifier,
	intentRepo intent_repo.IntentRepository,
	webhookRepo webhook_repo.WebhookEventRepository,
	bankRepo bank_repo.BankTransferRepository,
	outboxRepo outbox_repo.OutboxRepository,
	notifier notify.AdminNotifier,
	reconciler StageReconciler,
	logger *zap.Logger,
) PaymentService {
	return &paymentService{
		db:          db,
		gateway:     gw,
		verifier:    verifier,
		intentRepo:  intentRepo,
		webhookRepo: webhookRepo,
		bankRepo:    bankRepo,
		outboxRepo:  outboxRepo,
		notifier:    notifier,
		reconciler:  reconciler,
		logger:      logger,
	}
}

// Prepare registers a payment attempt with the gateway and upserts the
// intent. Repeated prepares for the same order id refresh the stored payloads
// instead of erroring, so a client retrying the "create payment" flow is
// harmless.
func (s *paymentService) Prepare(ctx context.Context, ownerID string, req *PrepareRequest) (*domain.PaymentIntent, error) {
	gwReq := gateway.CreateRequest{
		OrderID:       req.OrderID,
		Amount:        req.Amount,
		OrderName:     req.OrderName,
		SuccessURL:    req.SuccessURL,
		FailURL:       req.FailURL,
		Currency:      req.Currency,
		CustomerName:  req.CustomerName,
		CustomerEmail: req.CustomerEmail,
	}
	rawRequest, err := json.Marshal(gwReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal gateway create request: %w", err)
	}

	rawResponse, err := s.gateway.Create(ctx, gwReq)
	if err != nil {
		s.logger.Error("Gateway create call failed", zap.String("order_id", req.OrderID), zap.Error(err))
		return nil, err
	}

	now := time.Now()
	intent := &domain.PaymentIntent{
		OrderID:       req.OrderID,
		Amount:        req.Amount,
		Currency:      req.Currency,
		OwnerID:       ownerID,
		FilingOrderID: req.FilingOrderID,
		Status:        domain.IntentStatusPrepared,
		RawRequest:    rawRequest,
		RawResponse:   rawResponse,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.intentRepo.UpsertTx(ctx, s.db, intent); err != nil {
		s.logger.Error("Failed to upsert payment intent", zap.String("order_id", req.OrderID), zap.Error(err))
		return nil, fmt.Errorf("failed to persist payment intent: %w", err)
	}

	s.logger.Info("Payment intent prepared",
		zap.String("order_id", req.OrderID),
		zap.Int64("amount", req.Amount),
		zap.String("owner_id", ownerID),
	)
	return intent, nil
}

// Confirm validates the intent before the gateway call, confirms upstream,
// then flips the row with the store's atomic conditional update. The amount
// is checked twice: once against the loaded row (fail fast, no gateway call)
// and once inside the update predicate (defends against a concurrent writer
// between read and write).
func (s *paymentService) Confirm(ctx context.Context, paymentKey, orderID string, amount int64) (*domain.PaymentIntent, error) {
	intent, err := s.intentRepo.GetByOrderIDTx(ctx, s.db, orderID)
	if err != nil {
		return nil, err
	}
	if intent.Amount != amount {
		s.logger.Warn("Confirm amount does not match prepared intent",
			zap.String("order_id", orderID),
			zap.Int64("prepared_amount", intent.Amount),
			zap.Int64("confirm_amount", amount),
		)
		return nil, domain.ErrAmountMismatch
	}

	rawResponse, err := s.gateway.Confirm(ctx, paymentKey, orderID, amount)
	if err != nil {
		s.logger.Error("Gateway confirm call failed", zap.String("order_id", orderID), zap.Error(err))
		return nil, err
	}

	err = s.withTx(ctx, orderID, func(tx *sql.Tx) error {
		if err := s.intentRepo.ConfirmTx(ctx, tx, orderID, paymentKey, amount, rawResponse); err != nil {
			return err
		}
		return s.enqueueStatusEvent(ctx, tx, orderID, domain.IntentStatusConfirmed, "payment.confirmed", paymentKey)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Payment intent confirmed",
		zap.String("order_id", orderID),
		zap.String("payment_key", paymentKey),
		zap.Int64("amount", amount),
	)

	confirmed, err := s.intentRepo.GetByOrderIDTx(ctx, s.db, orderID)
	if err != nil {
		return nil, err
	}

	s.cascadeConfirmedIntent(ctx, confirmed)
	return confirmed, nil
}

// ProcessWebhook verifies the signature over the raw body before touching it,
// records the delivery unconditionally, and applies the pure status mapping.
// Unmapped event types are acknowledged without a status change so the
// gateway does not retry them.
func (s *paymentService) ProcessWebhook(ctx context.Context, rawBody []byte, signature string) error {
	if err := s.verifier.Verify(rawBody, signature); err != nil {
		s.logger.Warn("Webhook signature verification failed", zap.Error(err))
		return err
	}

	var payload domain.GatewayWebhookPayload
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		s.logger.Warn("Webhook payload is not valid JSON", zap.Error(err))
		return ErrMalformedPayload
	}
	if payload.OrderID == "" {
		return ErrMissingOrderID
	}

	mapped, hasMapping := domain.MapEventStatus(payload.Status)

	err := s.withTx(ctx, payload.OrderID, func(tx *sql.Tx) error {
		event := &domain.WebhookEvent{
			ID:         util.GenerateUUID(),
			OrderID:    &payload.OrderID,
			EventType:  payload.EventType,
			Status:     payload.Status,
			Signature:  signature,
			RawPayload: rawBody,
			ReceivedAt: time.Now(),
		}
		if err := s.webhookRepo.InsertTx(ctx, tx, event); err != nil {
			return err
		}

		if !hasMapping {
			s.logger.Info("Webhook event recorded without status mapping",
				zap.String("order_id", payload.OrderID),
				zap.String("event_type", payload.EventType),
				zap.String("reported_status", payload.Status),
			)
			return nil
		}

		var paymentKey *string
		if payload.PaymentKey != "" {
			paymentKey = &payload.PaymentKey
		}
		if err := s.intentRepo.UpdateStatusTx(ctx, tx, payload.OrderID, mapped, payload.EventType, paymentKey); err != nil {
			if errors.Is(err, domain.ErrIntentNotFound) {
				// The audit row is still committed; an unknown order must
				// not trigger gateway-side retries.
				s.logger.Warn("Webhook for unknown payment intent recorded",
					zap.String("order_id", payload.OrderID),
					zap.String("event_type", payload.EventType),
				)
				return nil
			}
			return err
		}
		return s.enqueueStatusEvent(ctx, tx, payload.OrderID, mapped, payload.EventType, payload.PaymentKey)
	})
	if err != nil {
		return err
	}

	if hasMapping {
		s.logger.Info("Webhook applied to payment intent",
			zap.String("order_id", payload.OrderID),
			zap.String("event_type", payload.EventType),
			zap.String("status", string(mapped)),
		)
		if mapped == domain.IntentStatusConfirmed {
			if intent, getErr := s.intentRepo.GetByOrderIDTx(ctx, s.db, payload.OrderID); getErr == nil {
				s.cascadeConfirmedIntent(ctx, intent)
			}
		}
	}
	return nil
}

// RequestBankTransfer opens a manual review for a non-card payment. The
// admin notification fires after commit and is best-effort only.
func (s *paymentService) RequestBankTransfer(ctx context.Context, orderID, requesterID, note string) (*domain.BankTransferConfirmation, error) {
	confirmation := &domain.BankTransferConfirmation{
		ID:          util.GenerateUUID(),
		OrderID:     orderID,
		RequesterID: requesterID,
		Note:        note,
		Status:      domain.BankTransferStatusPending,
		CreatedAt:   time.Now(),
	}

	err := s.withTx(ctx, orderID, func(tx *sql.Tx) error {
		if _, err := s.intentRepo.GetByOrderIDTx(ctx, tx, orderID); err != nil {
			return err
		}
		if err := s.bankRepo.CreateTx(ctx, tx, confirmation); err != nil {
			return err
		}
		if err := s.intentRepo.SetBankTransferRequestedTx(ctx, tx, orderID, confirmation.CreatedAt); err != nil {
			return err
		}
		return s.enqueueStatusEvent(ctx, tx, orderID, domain.IntentStatusPendingBankTransfer, "bank_transfer.requested", "")
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Bank transfer review requested",
		zap.String("order_id", orderID),
		zap.String("confirmation_id", confirmation.ID),
		zap.String("requester_id", requesterID),
	)

	s.notifier.NotifyBankTransferRequested(ctx, orderID, requesterID, note)
	return confirmation, nil
}

func (s *paymentService) ListBankTransfers(ctx context.Context, statuses []domain.BankTransferStatus) ([]*domain.BankTransferConfirmation, error) {
	confirmations, err := s.bankRepo.ListByStatusesTx(ctx, s.db, statuses)
	if err != nil {
		s.logger.Error("Failed to list bank transfer confirmations", zap.Error(err))
		return nil, err
	}
	return confirmations, nil
}

// DecideBankTransfer applies exactly one admin decision. The conditional
// update requires the confirmation id, its order id and pending status to all
// match; otherwise nothing mutates. The decision path intentionally sends no
// customer-facing notification.
func (s *paymentService) DecideBankTransfer(ctx context.Context, confirmationID, orderID string, decision domain.BankTransferStatus, memo, actorID string) error {
	var intentStatus domain.PaymentIntentStatus
	var eventType string
	switch decision {
	case domain.BankTransferStatusConfirmed:
		intentStatus = domain.IntentStatusConfirmed
		eventType = "bank_transfer.confirmed"
	case domain.BankTransferStatusRejected:
		intentStatus = domain.IntentStatusCancelled
		eventType = "bank_transfer.rejected"
	default:
		return fmt.Errorf("invalid bank transfer decision %q", decision)
	}

	err := s.withTx(ctx, orderID, func(tx *sql.Tx) error {
		if err := s.bankRepo.DecideTx(ctx, tx, confirmationID, orderID, decision, memo, actorID, time.Now()); err != nil {
			return err
		}
		if err := s.intentRepo.UpdateStatusTx(ctx, tx, orderID, intentStatus, eventType, nil); err != nil {
			return err
		}
		return s.enqueueStatusEvent(ctx, tx, orderID, intentStatus, eventType, "")
	})
	if err != nil {
		return err
	}

	s.logger.Info("Bank transfer decision applied",
		zap.String("order_id", orderID),
		zap.String("confirmation_id", confirmationID),
		zap.String("decision", string(decision)),
		zap.String("actor_id", actorID),
	)

	if intentStatus == domain.IntentStatusConfirmed {
		if intent, getErr := s.intentRepo.GetByOrderIDTx(ctx, s.db, orderID); getErr == nil {
			s.cascadeConfirmedIntent(ctx, intent)
		}
	}
	return nil
}

// cascadeConfirmedIntent pushes a paid intent into the linked order's payment
// stages. Any failure here is a warning, never a request failure: the payment
// record must stand regardless of downstream automation.
func (s *paymentService) cascadeConfirmedIntent(ctx context.Context, intent *domain.PaymentIntent) {
	if s.reconciler == nil || intent.FilingOrderID == nil {
		return
	}
	if err := s.reconciler.ApplyIntentPayment(ctx, *intent.FilingOrderID, intent.Amount, "system"); err != nil {
		s.logger.Warn("Failed to cascade confirmed payment into order stages",
			zap.String("order_id", intent.OrderID),
			zap.String("filing_order_id", *intent.FilingOrderID),
			zap.Error(err),
		)
	}
}

func (s *paymentService) enqueueStatusEvent(ctx context.Context, tx *sql.Tx, orderID string, status domain.PaymentIntentStatus, eventType, paymentKey string) error {
	payload, err := outbox.PreparePaymentStatusPayload(orderID, status, eventType, paymentKey, time.Now())
	if err != nil {
		return fmt.Errorf("failed to prepare outbox payload for order %s: %w", orderID, err)
	}
	msg := &domain.OutboxMessage{
		ID:          util.GenerateUUID(),
		OrderID:     orderID,
		MessageType: "payment_status_changed",
		Payload:     payload,
		Status:      domain.OutboxStatusPending,
		CreatedAt:   time.Now(),
	}
	return s.outboxRepo.CreateMessageTx(ctx, tx, msg)
}

func (s *paymentService) withTx(ctx context.Context, orderID string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		s.logger.Error("Failed to begin transaction", zap.String("order_id", orderID), zap.Error(err))
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Recovered panic during payment transaction, rolling back",
				zap.String("order_id", orderID), zap.Any("panic", r))
			tx.Rollback()
			panic(r)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Error("Failed to rollback transaction", zap.String("order_id", orderID), zap.Error(rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		s.logger.Error("Failed to commit transaction", zap.String("order_id", orderID), zap.Error(err))
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/MinhoYeon/opentm-sub001/internal/domain"
	"github.com/MinhoYeon/opentm-sub001/internal/gateway"
	"github.com/MinhoYeon/opentm-sub001/internal/webhook"
)

const testWebhookSecret = "whsec_test"

func signBody(body []byte) string {
	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

type fakeGateway struct {
	createCalls  int
	confirmCalls int
	err          error
}

func (g *fakeGateway) Create(ctx context.Context, req gateway.CreateRequest) (json.RawMessage, error) {
	g.createCalls++
	if g.err != nil {
		return nil, g.err
	}
	return json.RawMessage(`{"status":"READY"}`), nil
}

func (g *fakeGateway) Confirm(ctx context.Context, paymentKey, orderID string, amount int64) (json.RawMessage, error) {
	g.confirmCalls++
	if g.err != nil {
		return nil, g.err
	}
	return json.RawMessage(`{"status":"DONE"}`), nil
}

type fakeIntentRepo struct {
	intents map[string]*domain.PaymentIntent
}

func newFakeIntentRepo() *fakeIntentRepo {
	return &fakeIntentRepo{intents: make(map[string]*domain.PaymentIntent)}
}

func (r *fakeIntentRepo) UpsertTx(ctx context.Context, q domain.Querier, intent *domain.PaymentIntent) error {
	copied := *intent
	r.intents[intent.OrderID] = &copied
	return nil
}

func (r *fakeIntentRepo) GetByOrderIDTx(ctx context.Context, q domain.Querier, orderID string) (*domain.PaymentIntent, error) {
	intent, ok := r.intents[orderID]
	if !ok {
		return nil, domain.ErrIntentNotFound
	}
	copied := *intent
	return &copied, nil
}

func (r *fakeIntentRepo) ConfirmTx(ctx context.Context, q domain.Querier, orderID, paymentKey string, amount int64, rawResponse json.RawMessage) error {
	intent, ok := r.intents[orderID]
	if !ok {
		return domain.ErrIntentNotFound
	}
	if intent.Amount != amount {
		return domain.ErrAmountMismatch
	}
	intent.Status = domain.IntentStatusConfirmed
	intent.PaymentKey = &paymentKey
	intent.RawResponse = rawResponse
	return nil
}

func (r *fakeIntentRepo) UpdateStatusTx(ctx context.Context, q domain.Querier, orderID string, status domain.PaymentIntentStatus, lastEventType string, paymentKey *string) error {
	intent, ok := r.intents[orderID]
	if !ok {
		return domain.ErrIntentNotFound
	}
	intent.Status = status
	intent.LastEventType = &lastEventType
	if paymentKey != nil {
		intent.PaymentKey = paymentKey
	}
	return nil
}

func (r *fakeIntentRepo) SetBankTransferRequestedTx(ctx context.Context, q domain.Querier, orderID string, requestedAt time.Time) error {
	intent, ok := r.intents[orderID]
	if !ok {
		return domain.ErrIntentNotFound
	}
	intent.Status = domain.IntentStatusPendingBankTransfer
	intent.BankConfirmRequestedAt = &requestedAt
	return nil
}

type fakeWebhookRepo struct {
	events []*domain.WebhookEvent
}

func (r *fakeWebhookRepo) InsertTx(ctx context.Context, q domain.Querier, event *domain.WebhookEvent) error {
	copied := *event
	r.events = append(r.events, &copied)
	return nil
}

type fakeBankRepo struct {
	confirmations map[string]*domain.BankTransferConfirmation
}

func newFakeBankRepo() *fakeBankRepo {
	return &fakeBankRepo{confirmations: make(map[string]*domain.BankTransferConfirmation)}
}

func (r *fakeBankRepo) CreateTx(ctx context.Context, q domain.Querier, c *domain.BankTransferConfirmation) error {
	copied := *c
	r.confirmations[c.ID] = &copied
	return nil
}

func (r *fakeBankRepo) ListByStatusesTx(ctx context.Context, q domain.Querier, statuses []domain.BankTransferStatus) ([]*domain.BankTransferConfirmation, error) {
	var out []*domain.BankTransferConfirmation
	for _, c := range r.confirmations {
		if len(statuses) == 0 {
			out = append(out, c)
			continue
		}
		for _, s := range statuses {
			if c.Status == s {
				out = append(out, c)
				break
			}
		}
	}
	return out, nil
}

func (r *fakeBankRepo) DecideTx(ctx context.Context, q domain.Querier, id, orderID string, status domain.BankTransferStatus, memo, actorID string, processedAt time.Time) error {
	c, ok := r.confirmations[id]
	if !ok || c.OrderID != orderID || c.Status != domain.BankTransferStatusPending {
		return domain.ErrConfirmationNotFound
	}
	c.Status = status
	c.Memo = &memo
	c.ProcessedBy = &actorID
	c.ProcessedAt = &processedAt
	return nil
}

type fakeOutboxRepo struct {
	messages []*domain.OutboxMessage
}

func (r *fakeOutboxRepo) CreateMessageTx(ctx context.Context, q domain.Querier, msg *domain.OutboxMessage) error {
	copied := *msg
	r.messages = append(r.messages, &copied)
	return nil
}

func (r *fakeOutboxRepo) GetPendingMessages(ctx context.Context, q domain.Querier, limit int) ([]*domain.OutboxMessage, error) {
	return nil, nil
}

func (r *fakeOutboxRepo) UpdateMessageStatusTx(ctx context.Context, q domain.Querier, id string, status domain.OutboxMessageStatus) error {
	return nil
}

type fakeNotifier struct {
	calls int
}

func (n *fakeNotifier) NotifyBankTransferRequested(ctx context.Context, orderID, requesterID, note string) {
	n.calls++
}

type fakeReconciler struct {
	calls []string
	err   error
}

func (r *fakeReconciler) ApplyIntentPayment(ctx context.Context, orderID string, amount int64, actorID string) error {
	r.calls = append(r.calls, fmt.Sprintf("%s/%d", orderID, amount))
	return r.err
}

type serviceFixture struct {
	service     PaymentService
	mock        sqlmock.Sqlmock
	db          *sql.DB
	gateway     *fakeGateway
	intentRepo  *fakeIntentRepo
	webhookRepo *fakeWebhookRepo
	bankRepo    *fakeBankRepo
	outboxRepo  *fakeOutboxRepo
	notifier    *fakeNotifier
	reconciler  *fakeReconciler
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	f := &serviceFixture{
		mock:        mock,
		db:          db,
		gateway:     &fakeGateway{},
		intentRepo:  newFakeIntentRepo(),
		webhookRepo: &fakeWebhookRepo{},
		bankRepo:    newFakeBankRepo(),
		outboxRepo:  &fakeOutboxRepo{},
		notifier:    &fakeNotifier{},
		reconciler:  &fakeReconciler{},
	}
	f.service = NewPaymentService(
		db,
		f.gateway,
		webhook.NewVerifier(testWebhookSecret),
		f.intentRepo,
		f.webhookRepo,
		f.bankRepo,
		f.outboxRepo,
		f.notifier,
		f.reconciler,
		zap.NewNop(),
	)
	return f
}

func (f *serviceFixture) seedIntent(orderID string, amount int64) {
	now := time.Now()
	f.intentRepo.intents[orderID] = &domain.PaymentIntent{
		OrderID:   orderID,
		Amount:    amount,
		Currency:  "KRW",
		OwnerID:   "user-1",
		Status:    domain.IntentStatusPrepared,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestPrepare_UpsertsIntent(t *testing.T) {
	f := newServiceFixture(t)

	intent, err := f.service.Prepare(context.Background(), "user-1", &PrepareRequest{
		OrderID:    "o1",
		Amount:     10000,
		OrderName:  "Trademark filing fee",
		SuccessURL: "https://example.com/ok",
		FailURL:    "https://example.com/fail",
		Currency:   "KRW",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.IntentStatusPrepared, intent.Status)
	assert.Equal(t, 1, f.gateway.createCalls)
	assert.Contains(t, f.intentRepo.intents, "o1")
}

func TestPrepare_RetryRefreshesExistingIntent(t *testing.T) {
	f := newServiceFixture(t)
	f.seedIntent("o1", 5000)

	_, err := f.service.Prepare(context.Background(), "user-1", &PrepareRequest{
		OrderID:    "o1",
		Amount:     10000,
		OrderName:  "Trademark filing fee",
		SuccessURL: "https://example.com/ok",
		FailURL:    "https://example.com/fail",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(10000), f.intentRepo.intents["o1"].Amount)
}

func TestConfirm_HappyPath(t *testing.T) {
	f := newServiceFixture(t)
	f.seedIntent("o1", 10000)
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	intent, err := f.service.Confirm(context.Background(), "k1", "o1", 10000)
	require.NoError(t, err)
	assert.Equal(t, domain.IntentStatusConfirmed, intent.Status)
	require.NotNil(t, intent.PaymentKey)
	assert.Equal(t, "k1", *intent.PaymentKey)
	assert.Equal(t, 1, f.gateway.confirmCalls)
	assert.Len(t, f.outboxRepo.messages, 1)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestConfirm_MissingIntentReturnsNotFound(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.service.Confirm(context.Background(), "k1", "missing", 10000)
	assert.ErrorIs(t, err, domain.ErrIntentNotFound)
	assert.Equal(t, 0, f.gateway.confirmCalls)
}

func TestConfirm_AmountMismatchRejectedBeforeGatewayCall(t *testing.T) {
	f := newServiceFixture(t)
	f.seedIntent("o1", 10000)

	_, err := f.service.Confirm(context.Background(), "k1", "o1", 9999)
	assert.ErrorIs(t, err, domain.ErrAmountMismatch)
	assert.Equal(t, 0, f.gateway.confirmCalls)
	assert.Equal(t, domain.IntentStatusPrepared, f.intentRepo.intents["o1"].Status)
}

func TestConfirm_CascadesIntoLinkedOrder(t *testing.T) {
	f := newServiceFixture(t)
	f.seedIntent("o1", 10000)
	filingOrderID := "tm-1"
	f.intentRepo.intents["o1"].FilingOrderID = &filingOrderID
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	_, err := f.service.Confirm(context.Background(), "k1", "o1", 10000)
	require.NoError(t, err)
	assert.Equal(t, []string{"tm-1/10000"}, f.reconciler.calls)
}

func TestConfirm_ReconcilerFailureDoesNotFailConfirm(t *testing.T) {
	f := newServiceFixture(t)
	f.seedIntent("o1", 10000)
	filingOrderID := "tm-1"
	f.intentRepo.intents["o1"].FilingOrderID = &filingOrderID
	f.reconciler.err = errors.New("stage lookup failed")
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	intent, err := f.service.Confirm(context.Background(), "k1", "o1", 10000)
	require.NoError(t, err)
	assert.Equal(t, domain.IntentStatusConfirmed, intent.Status)
}

func webhookBody(t *testing.T, orderID, status, eventType string) []byte {
	t.Helper()
	body, err := json.Marshal(domain.GatewayWebhookPayload{
		EventType: eventType,
		OrderID:   orderID,
		Status:    status,
	})
	require.NoError(t, err)
	return body
}

func TestProcessWebhook_AppliesMappedStatus(t *testing.T) {
	f := newServiceFixture(t)
	f.seedIntent("o1", 10000)
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	body := webhookBody(t, "o1", "WAITING_FOR_DEPOSIT", "DEPOSIT_CALLBACK")
	err := f.service.ProcessWebhook(context.Background(), body, signBody(body))
	require.NoError(t, err)

	assert.Len(t, f.webhookRepo.events, 1)
	assert.Equal(t, domain.IntentStatusPendingVirtualAccount, f.intentRepo.intents["o1"].Status)
	require.NotNil(t, f.intentRepo.intents["o1"].LastEventType)
	assert.Equal(t, "DEPOSIT_CALLBACK", *f.intentRepo.intents["o1"].LastEventType)
}

func TestProcessWebhook_ReplayAppendsAuditButStatusConverges(t *testing.T) {
	f := newServiceFixture(t)
	f.seedIntent("o1", 10000)

	body := webhookBody(t, "o1", "DONE", "PAYMENT_STATUS_CHANGED")
	signature := signBody(body)
	for i := 0; i < 3; i++ {
		f.mock.ExpectBegin()
		f.mock.ExpectCommit()
		require.NoError(t, f.service.ProcessWebhook(context.Background(), body, signature))
	}

	// Every delivery is recorded; the final status equals a single
	// application of the mapping.
	assert.Len(t, f.webhookRepo.events, 3)
	assert.Equal(t, domain.IntentStatusConfirmed, f.intentRepo.intents["o1"].Status)
}

func TestProcessWebhook_RejectsBadSignatureBeforeAnyWrite(t *testing.T) {
	f := newServiceFixture(t)
	f.seedIntent("o1", 10000)

	body := webhookBody(t, "o1", "DONE", "PAYMENT_STATUS_CHANGED")
	err := f.service.ProcessWebhook(context.Background(), body, "invalid")
	assert.ErrorIs(t, err, webhook.ErrInvalidSignature)
	assert.Empty(t, f.webhookRepo.events)
	assert.Equal(t, domain.IntentStatusPrepared, f.intentRepo.intents["o1"].Status)
}

func TestProcessWebhook_MissingSignature(t *testing.T) {
	f := newServiceFixture(t)

	body := webhookBody(t, "o1", "DONE", "PAYMENT_STATUS_CHANGED")
	err := f.service.ProcessWebhook(context.Background(), body, "")
	assert.ErrorIs(t, err, webhook.ErrMissingSignature)
	assert.Empty(t, f.webhookRepo.events)
}

func TestProcessWebhook_MissingOrderID(t *testing.T) {
	f := newServiceFixture(t)

	body := []byte(`{"eventType":"PAYMENT_STATUS_CHANGED","status":"DONE"}`)
	err := f.service.ProcessWebhook(context.Background(), body, signBody(body))
	assert.ErrorIs(t, err, ErrMissingOrderID)
}

func TestProcessWebhook_UnmappedStatusStillRecorded(t *testing.T) {
	f := newServiceFixture(t)
	f.seedIntent("o1", 10000)
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	body := webhookBody(t, "o1", "PARTIAL_CANCELED", "PAYMENT_STATUS_CHANGED")
	err := f.service.ProcessWebhook(context.Background(), body, signBody(body))
	require.NoError(t, err)

	assert.Len(t, f.webhookRepo.events, 1)
	assert.Equal(t, domain.IntentStatusPrepared, f.intentRepo.intents["o1"].Status)
	assert.Empty(t, f.outboxRepo.messages)
}

func TestProcessWebhook_UnknownOrderStillAcknowledged(t *testing.T) {
	f := newServiceFixture(t)
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	body := webhookBody(t, "unknown", "DONE", "PAYMENT_STATUS_CHANGED")
	err := f.service.ProcessWebhook(context.Background(), body, signBody(body))
	require.NoError(t, err)
	assert.Len(t, f.webhookRepo.events, 1)
}

func TestRequestBankTransfer_MissingIntent(t *testing.T) {
	f := newServiceFixture(t)
	f.mock.ExpectBegin()
	f.mock.ExpectRollback()

	_, err := f.service.RequestBankTransfer(context.Background(), "missing", "user-1", "paid via wire")
	assert.ErrorIs(t, err, domain.ErrIntentNotFound)
	assert.Empty(t, f.bankRepo.confirmations)
	assert.Equal(t, 0, f.notifier.calls)
}

func TestRequestBankTransfer_CreatesPendingAndNotifies(t *testing.T) {
	f := newServiceFixture(t)
	f.seedIntent("o1", 10000)
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	confirmation, err := f.service.RequestBankTransfer(context.Background(), "o1", "user-1", "paid via wire")
	require.NoError(t, err)

	assert.Equal(t, domain.BankTransferStatusPending, confirmation.Status)
	assert.Len(t, f.bankRepo.confirmations, 1)
	assert.Equal(t, domain.IntentStatusPendingBankTransfer, f.intentRepo.intents["o1"].Status)
	assert.NotNil(t, f.intentRepo.intents["o1"].BankConfirmRequestedAt)
	assert.Equal(t, 1, f.notifier.calls)
}

func TestDecideBankTransfer_NotFoundMutatesNothing(t *testing.T) {
	f := newServiceFixture(t)
	f.seedIntent("o1", 10000)
	f.mock.ExpectBegin()
	f.mock.ExpectRollback()

	err := f.service.DecideBankTransfer(context.Background(), "no-such-id", "o1",
		domain.BankTransferStatusConfirmed, "checked ledger", "admin-1")
	assert.ErrorIs(t, err, domain.ErrConfirmationNotFound)
	assert.Equal(t, domain.IntentStatusPrepared, f.intentRepo.intents["o1"].Status)
}

func TestDecideBankTransfer_MismatchedOrderMutatesNothing(t *testing.T) {
	f := newServiceFixture(t)
	f.seedIntent("o1", 10000)
	f.seedIntent("o2", 20000)
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()
	confirmation, err := f.service.RequestBankTransfer(context.Background(), "o1", "user-1", "")
	require.NoError(t, err)

	f.mock.ExpectBegin()
	f.mock.ExpectRollback()
	err = f.service.DecideBankTransfer(context.Background(), confirmation.ID, "o2",
		domain.BankTransferStatusConfirmed, "", "admin-1")
	assert.ErrorIs(t, err, domain.ErrConfirmationNotFound)
	assert.Equal(t, domain.BankTransferStatusPending, f.bankRepo.confirmations[confirmation.ID].Status)
}

func TestDecideBankTransfer_ConfirmAndReject(t *testing.T) {
	tests := []struct {
		name       string
		decision   domain.BankTransferStatus
		wantIntent domain.PaymentIntentStatus
	}{
		{"confirmed", domain.BankTransferStatusConfirmed, domain.IntentStatusConfirmed},
		{"rejected", domain.BankTransferStatusRejected, domain.IntentStatusCancelled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newServiceFixture(t)
			f.seedIntent("o1", 10000)
			f.mock.ExpectBegin()
			f.mock.ExpectCommit()
			confirmation, err := f.service.RequestBankTransfer(context.Background(), "o1", "user-1", "")
			require.NoError(t, err)

			f.mock.ExpectBegin()
			f.mock.ExpectCommit()
			err = f.service.DecideBankTransfer(context.Background(), confirmation.ID, "o1",
				tt.decision, "reviewed", "admin-1")
			require.NoError(t, err)

			assert.Equal(t, tt.decision, f.bankRepo.confirmations[confirmation.ID].Status)
			assert.Equal(t, tt.wantIntent, f.intentRepo.intents["o1"].Status)
			require.NotNil(t, f.bankRepo.confirmations[confirmation.ID].ProcessedBy)
			assert.Equal(t, "admin-1", *f.bankRepo.confirmations[confirmation.ID].ProcessedBy)
		})
	}
}

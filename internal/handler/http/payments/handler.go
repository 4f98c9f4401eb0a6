package payments_http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/MinhoYeon/opentm-sub001/internal/app/payments"
	"github.com/MinhoYeon/opentm-sub001/internal/auth"
	"github.com/MinhoYeon/opentm-sub001/internal/domain"
	"github.com/MinhoYeon/opentm-sub001/internal/gateway"
	"github.com/MinhoYeon/opentm-sub001/internal/handler/http/httperr"
	"github.com/MinhoYeon/opentm-sub001/internal/webhook"
)

// SignatureHeader carries the gateway's HMAC signature on webhook deliveries.
const SignatureHeader = "X-Webhook-Signature"

type PaymentHandler struct {
	service payments.PaymentService
	logger  *zap.Logger
}

func NewPaymentHandler(s payments.PaymentService, l *zap.Logger) *PaymentHandler {
	return &PaymentHandler{service: s, logger: l}
}

type PrepareRequest struct {
	OrderID       string  `json:"orderId"`
	Amount        int64   `json:"amount"`
	OrderName     string  `json:"orderName"`
	SuccessURL    string  `json:"successUrl"`
	FailURL       string  `json:"failUrl"`
	Currency      string  `json:"currency,omitempty"`
	CustomerName  string  `json:"customerName,omitempty"`
	CustomerEmail string  `json:"customerEmail,omitempty"`
	FilingOrderID *string `json:"filingOrderId,omitempty"`
}

type ConfirmRequest struct {
	PaymentKey string `json:"paymentKey"`
	OrderID    string `json:"orderId"`
	Amount     int64  `json:"amount"`
}

type BankTransferRequest struct {
	OrderID string `json:"orderId"`
	Note    string `json:"note,omitempty"`
}

type BankDecisionRequest struct {
	PaymentID      string `json:"paymentId"`
	ConfirmationID string `json:"confirmationId"`
	Status         string `json:"status"`
	Memo           string `json:"memo,omitempty"`
}

type IntentResponse struct {
	OrderID    string `json:"orderId"`
	Amount     int64  `json:"amount"`
	Currency   string `json:"currency,omitempty"`
	Status     string `json:"status"`
	PaymentKey string `json:"paymentKey,omitempty"`
	CreatedAt  string `json:"createdAt"`
	UpdatedAt  string `json:"updatedAt"`
}

type ConfirmationResponse struct {
	ID          string  `json:"id"`
	OrderID     string  `json:"orderId"`
	RequesterID string  `json:"requesterId"`
	Note        string  `json:"note,omitempty"`
	Status      string  `json:"status"`
	Memo        *string `json:"memo,omitempty"`
	ProcessedBy *string `json:"processedBy,omitempty"`
	ProcessedAt *string `json:"processedAt,omitempty"`
	CreatedAt   string  `json:"createdAt"`
}

func mapIntentToResponse(intent *domain.PaymentIntent) IntentResponse {
	resp := IntentResponse{
		OrderID:   intent.OrderID,
		Amount:    intent.Amount,
		Currency:  intent.Currency,
		Status:    string(intent.Status),
		CreatedAt: intent.CreatedAt.Format(time.RFC3339),
		UpdatedAt: intent.UpdatedAt.Format(time.RFC3339),
	}
	if intent.PaymentKey != nil {
		resp.PaymentKey = *intent.PaymentKey
	}
	return resp
}

func mapConfirmationToResponse(c *domain.BankTransferConfirmation) ConfirmationResponse {
	resp := ConfirmationResponse{
		ID:          c.ID,
		OrderID:     c.OrderID,
		RequesterID: c.RequesterID,
		Note:        c.Note,
		Status:      string(c.Status),
		Memo:        c.Memo,
		ProcessedBy: c.ProcessedBy,
		CreatedAt:   c.CreatedAt.Format(time.RFC3339),
	}
	if c.ProcessedAt != nil {
		formatted := c.ProcessedAt.Format(time.RFC3339)
		resp.ProcessedAt = &formatted
	}
	return resp
}

func (h *PaymentHandler) PrepareHandler(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.IdentityFromContext(r.Context())

	var req PrepareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httperr.Write(w, http.StatusBadRequest, "Invalid request body", "")
		return
	}
	if req.OrderID == "" {
		httperr.Write(w, http.StatusBadRequest, "orderId is required", "")
		return
	}
	if req.Amount <= 0 {
		httperr.Write(w, http.StatusBadRequest, "amount must be positive", "")
		return
	}
	if req.OrderName == "" || req.SuccessURL == "" || req.FailURL == "" {
		httperr.Write(w, http.StatusBadRequest, "orderName, successUrl and failUrl are required", "")
		return
	}

	intent, err := h.service.Prepare(r.Context(), identity.ID, &payments.PrepareRequest{
		OrderID:       req.OrderID,
		Amount:        req.Amount,
		OrderName:     req.OrderName,
		SuccessURL:    req.SuccessURL,
		FailURL:       req.FailURL,
		Currency:      req.Currency,
		CustomerName:  req.CustomerName,
		CustomerEmail: req.CustomerEmail,
		FilingOrderID: req.FilingOrderID,
	})
	if err != nil {
		h.writeGatewayOrInternalError(w, err, "Failed to prepare payment")
		return
	}

	writeJSON(w, http.StatusCreated, mapIntentToResponse(intent), h.logger)
}

func (h *PaymentHandler) ConfirmHandler(w http.ResponseWriter, r *http.Request) {
	var req ConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httperr.Write(w, http.StatusBadRequest, "Invalid request body", "")
		return
	}
	if req.PaymentKey == "" || req.OrderID == "" {
		httperr.Write(w, http.StatusBadRequest, "paymentKey and orderId are required", "")
		return
	}
	if req.Amount <= 0 {
		httperr.Write(w, http.StatusBadRequest, "amount must be positive", "")
		return
	}

	intent, err := h.service.Confirm(r.Context(), req.PaymentKey, req.OrderID, req.Amount)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrIntentNotFound):
			httperr.Write(w, http.StatusNotFound, "Payment request not found", "")
		case errors.Is(err, domain.ErrAmountMismatch):
			h.logger.Warn("Confirm rejected on amount mismatch", zap.String("order_id", req.OrderID))
			httperr.Write(w, http.StatusBadRequest, "Payment amount does not match", "")
		default:
			h.writeGatewayOrInternalError(w, err, "Failed to confirm payment")
		}
		return
	}

	writeJSON(w, http.StatusOK, mapIntentToResponse(intent), h.logger)
}

// WebhookHandler reads the raw body so the signature is computed over exactly
// what the gateway sent. Success is returned even when no status mapping
// applies; a non-2xx would make the gateway retry a valid delivery.
func (h *PaymentHandler) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	rawBody, err := io.ReadAll(r.Body)
	if err != nil {
		httperr.Write(w, http.StatusBadRequest, "Failed to read request body", "")
		return
	}

	err = h.service.ProcessWebhook(r.Context(), rawBody, r.Header.Get(SignatureHeader))
	if err != nil {
		switch {
		case errors.Is(err, webhook.ErrMissingSignature):
			httperr.Write(w, http.StatusBadRequest, "Missing webhook signature", "missing_signature")
		case errors.Is(err, webhook.ErrInvalidSignature):
			httperr.Write(w, http.StatusBadRequest, "Invalid webhook signature", "invalid_signature")
		case errors.Is(err, payments.ErrMalformedPayload), errors.Is(err, payments.ErrMissingOrderID):
			httperr.Write(w, http.StatusBadRequest, "Invalid webhook payload", "")
		default:
			h.logger.Error("Failed to process webhook", zap.Error(err))
			httperr.Write(w, http.StatusInternalServerError, "Internal server error", "")
		}
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (h *PaymentHandler) BankTransferRequestHandler(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.IdentityFromContext(r.Context())

	var req BankTransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httperr.Write(w, http.StatusBadRequest, "Invalid request body", "")
		return
	}
	if req.OrderID == "" {
		httperr.Write(w, http.StatusBadRequest, "orderId is required", "")
		return
	}

	confirmation, err := h.service.RequestBankTransfer(r.Context(), req.OrderID, identity.ID, req.Note)
	if err != nil {
		if errors.Is(err, domain.ErrIntentNotFound) {
			httperr.Write(w, http.StatusNotFound, "Payment request not found", "")
			return
		}
		h.logger.Error("Failed to create bank transfer request", zap.String("order_id", req.OrderID), zap.Error(err))
		httperr.Write(w, http.StatusInternalServerError, "Internal server error", "")
		return
	}

	writeJSON(w, http.StatusCreated, mapConfirmationToResponse(confirmation), h.logger)
}

func (h *PaymentHandler) BankTransferListHandler(w http.ResponseWriter, r *http.Request) {
	var statuses []domain.BankTransferStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			status, ok := domain.ParseBankTransferStatus(strings.TrimSpace(part))
			if !ok {
				httperr.Write(w, http.StatusBadRequest, "Invalid status filter", "")
				return
			}
			statuses = append(statuses, status)
		}
	}

	confirmations, err := h.service.ListBankTransfers(r.Context(), statuses)
	if err != nil {
		httperr.Write(w, http.StatusInternalServerError, "Internal server error", "")
		return
	}

	resp := make([]ConfirmationResponse, 0, len(confirmations))
	for _, c := range confirmations {
		resp = append(resp, mapConfirmationToResponse(c))
	}
	writeJSON(w, http.StatusOK, resp, h.logger)
}

func (h *PaymentHandler) BankTransferDecisionHandler(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.IdentityFromContext(r.Context())

	var req BankDecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httperr.Write(w, http.StatusBadRequest, "Invalid request body", "")
		return
	}
	if req.ConfirmationID == "" || req.PaymentID == "" {
		httperr.Write(w, http.StatusBadRequest, "confirmationId and paymentId are required", "")
		return
	}
	decision, ok := domain.ParseBankTransferStatus(req.Status)
	if !ok || decision == domain.BankTransferStatusPending {
		httperr.Write(w, http.StatusBadRequest, "status must be confirmed or rejected", "")
		return
	}

	err := h.service.DecideBankTransfer(r.Context(), req.ConfirmationID, req.PaymentID, decision, req.Memo, identity.ID)
	if err != nil {
		if errors.Is(err, domain.ErrConfirmationNotFound) || errors.Is(err, domain.ErrIntentNotFound) {
			httperr.Write(w, http.StatusNotFound, "Bank transfer confirmation not found", "")
			return
		}
		h.logger.Error("Failed to apply bank transfer decision",
			zap.String("confirmation_id", req.ConfirmationID), zap.Error(err))
		httperr.Write(w, http.StatusInternalServerError, "Internal server error", "")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// writeGatewayOrInternalError maps upstream failures: timeout → 504, 4xx
// detail passes through on 502, 5xx detail is masked and logged server-side.
func (h *PaymentHandler) writeGatewayOrInternalError(w http.ResponseWriter, err error, logMsg string) {
	if errors.Is(err, gateway.ErrTimeout) {
		httperr.Write(w, http.StatusGatewayTimeout, "Payment gateway timeout", "")
		return
	}
	var gwErr *gateway.Error
	if errors.As(err, &gwErr) {
		if gwErr.IsClientSafe() {
			httperr.Write(w, http.StatusBadGateway, gwErr.Message, gwErr.Code)
			return
		}
		h.logger.Error(logMsg+" (masked upstream failure)",
			zap.Int("upstream_status", gwErr.StatusCode),
			zap.String("upstream_code", gwErr.Code),
			zap.String("upstream_message", gwErr.Message),
		)
		httperr.Write(w, http.StatusBadGateway, "Payment gateway error", "")
		return
	}
	h.logger.Error(logMsg, zap.Error(err))
	httperr.Write(w, http.StatusInternalServerError, "Internal server error", "")
}

func writeJSON(w http.ResponseWriter, statusCode int, body any, logger *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("Failed to write JSON response", zap.Error(err))
	}
}

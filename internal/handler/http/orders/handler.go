package orders_http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/MinhoYeon/opentm-sub001/internal/app/orders"
	"github.com/MinhoYeon/opentm-sub001/internal/auth"
	"github.com/MinhoYeon/opentm-sub001/internal/domain"
	"github.com/MinhoYeon/opentm-sub001/internal/handler/http/httperr"
)

type OrderHandler struct {
	service orders.StatusService
	logger  *zap.Logger
}

func NewOrderHandler(s orders.StatusService, l *zap.Logger) *OrderHandler {
	return &OrderHandler{service: s, logger: l}
}

type StatusPatchRequest struct {
	Status   string          `json:"status"`
	Note     string          `json:"note,omitempty"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

type StagePatchRequest struct {
	Amount     *int64     `json:"amount,omitempty"`
	PaidAmount *int64     `json:"paidAmount,omitempty"`
	Status     *string    `json:"status,omitempty"`
	DueAt      *time.Time `json:"dueAt,omitempty"`
	PaidAt     *time.Time `json:"paidAt,omitempty"`
}

type OrderResponse struct {
	ID              string  `json:"id"`
	Status          string  `json:"status"`
	StatusUpdatedAt string  `json:"statusUpdatedAt"`
	FiledAt         *string `json:"filedAt,omitempty"`
}

type StageResponse struct {
	OrderID    string  `json:"orderId"`
	Stage      string  `json:"stage"`
	Amount     int64   `json:"amount"`
	PaidAmount int64   `json:"paidAmount"`
	Status     string  `json:"status"`
	PaidAt     *string `json:"paidAt,omitempty"`
}

type StatusLogResponse struct {
	ID         string          `json:"id"`
	FromStatus string          `json:"fromStatus"`
	ToStatus   string          `json:"toStatus"`
	ActorID    string          `json:"actorId"`
	Note       string          `json:"note,omitempty"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
	CreatedAt  string          `json:"createdAt"`
}

func mapOrderToResponse(order *domain.Order) OrderResponse {
	resp := OrderResponse{
		ID:              order.ID,
		Status:          string(order.Status),
		StatusUpdatedAt: order.StatusUpdatedAt.Format(time.RFC3339),
	}
	if order.FiledAt != nil {
		formatted := order.FiledAt.Format(time.RFC3339)
		resp.FiledAt = &formatted
	}
	return resp
}

// StatusPatchHandler is the privileged transition path: the admin may request
// any edge, but a regression demands a justification note.
func (h *OrderHandler) StatusPatchHandler(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	identity, _ := auth.IdentityFromContext(r.Context())

	var req StatusPatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httperr.Write(w, http.StatusBadRequest, "Invalid request body", "")
		return
	}
	if req.Status == "" {
		httperr.Write(w, http.StatusBadRequest, "status is required", "")
		return
	}

	order, err := h.service.ForceTransition(r.Context(), orderID, domain.OrderStatus(req.Status), identity.ID, req.Note, req.Metadata)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrOrderNotFound):
			httperr.Write(w, http.StatusNotFound, "Order not found", "")
		case errors.Is(err, orders.ErrUnknownStatus):
			httperr.Write(w, http.StatusBadRequest, "Unknown order status", "")
		case errors.Is(err, orders.ErrNoteRequired):
			httperr.Write(w, http.StatusBadRequest, "A note is required when moving an order backward", "")
		default:
			h.logger.Error("Failed to transition order status", zap.String("order_id", orderID), zap.Error(err))
			httperr.Write(w, http.StatusInternalServerError, "Internal server error", "")
		}
		return
	}

	writeJSON(w, http.StatusOK, mapOrderToResponse(order), h.logger)
}

func (h *OrderHandler) StagePatchHandler(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	identity, _ := auth.IdentityFromContext(r.Context())

	stage, ok := domain.ParsePaymentStage(chi.URLParam(r, "stage"))
	if !ok {
		httperr.Write(w, http.StatusBadRequest, "Unknown payment stage", "")
		return
	}

	var req StagePatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httperr.Write(w, http.StatusBadRequest, "Invalid request body", "")
		return
	}

	update := orders.StageUpdate{
		Amount:     req.Amount,
		PaidAmount: req.PaidAmount,
		DueAt:      req.DueAt,
		PaidAt:     req.PaidAt,
	}
	if req.Status != nil {
		status, ok := domain.ParseStageStatus(*req.Status)
		if !ok {
			httperr.Write(w, http.StatusBadRequest, "Unknown stage status", "")
			return
		}
		update.Status = &status
	}

	record, err := h.service.UpdateStage(r.Context(), orderID, stage, update, identity.ID)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrStageNotFound):
			httperr.Write(w, http.StatusNotFound, "Payment stage not found", "")
		case errors.Is(err, orders.ErrPaidExceedsAmount):
			httperr.Write(w, http.StatusBadRequest, "paidAmount cannot exceed amount", "")
		default:
			h.logger.Error("Failed to update payment stage",
				zap.String("order_id", orderID), zap.String("stage", string(stage)), zap.Error(err))
			httperr.Write(w, http.StatusInternalServerError, "Internal server error", "")
		}
		return
	}

	resp := StageResponse{
		OrderID:    record.OrderID,
		Stage:      string(record.Stage),
		Amount:     record.Amount,
		PaidAmount: record.PaidAmount,
		Status:     string(record.Status),
	}
	if record.PaidAt != nil {
		formatted := record.PaidAt.Format(time.RFC3339)
		resp.PaidAt = &formatted
	}
	writeJSON(w, http.StatusOK, resp, h.logger)
}

func (h *OrderHandler) StatusLogsHandler(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")

	logs, err := h.service.ListStatusLogs(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			httperr.Write(w, http.StatusNotFound, "Order not found", "")
			return
		}
		h.logger.Error("Failed to list status logs", zap.String("order_id", orderID), zap.Error(err))
		httperr.Write(w, http.StatusInternalServerError, "Internal server error", "")
		return
	}

	resp := make([]StatusLogResponse, 0, len(logs))
	for _, l := range logs {
		resp = append(resp, StatusLogResponse{
			ID:         l.ID,
			FromStatus: string(l.FromStatus),
			ToStatus:   string(l.ToStatus),
			ActorID:    l.ActorID,
			Note:       l.Note,
			Metadata:   l.Metadata,
			CreatedAt:  l.CreatedAt.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, resp, h.logger)
}

func writeJSON(w http.ResponseWriter, statusCode int, body any, logger *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("Failed to write JSON response", zap.Error(err))
	}
}

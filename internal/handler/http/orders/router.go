package orders_http

import (
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/MinhoYeon/opentm-sub001/internal/app/orders"
	"github.com/MinhoYeon/opentm-sub001/internal/auth"
)

func RegisterRoutes(r chi.Router, s orders.StatusService, l *zap.Logger) {
	handler := NewOrderHandler(s, l.With(zap.String("component", "OrderHTTPHandler")))

	r.Route("/orders", func(r chi.Router) {
		r.Use(auth.RequireIdentity(l))
		r.Use(auth.RequireManagePayments(l))
		r.Patch("/{id}/status", handler.StatusPatchHandler)
		r.Patch("/{id}/stages/{stage}", handler.StagePatchHandler)
		r.Get("/{id}/status-logs", handler.StatusLogsHandler)
	})
}

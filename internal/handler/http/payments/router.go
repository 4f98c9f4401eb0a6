package payments_http

import (
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/MinhoYeon/opentm-sub001/internal/app/payments"
	"github.com/MinhoYeon/opentm-sub001/internal/auth"
)

func RegisterRoutes(r chi.Router, s payments.PaymentService, l *zap.Logger) {
	handler := NewPaymentHandler(s, l.With(zap.String("component", "PaymentHTTPHandler")))

	r.Route("/payments", func(r chi.Router) {
		// Gateway callbacks authenticate with the body signature, not a session.
		r.Post("/webhook", handler.WebhookHandler)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireIdentity(l))
			r.Post("/prepare", handler.PrepareHandler)
			r.Post("/confirm", handler.ConfirmHandler)
			r.Patch("/bank", handler.BankTransferRequestHandler)
		})

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireIdentity(l))
			r.Use(auth.RequireManagePayments(l))
			r.Get("/bank-transfers", handler.BankTransferListHandler)
			r.Patch("/bank/decision", handler.BankTransferDecisionHandler)
		})
	})
}

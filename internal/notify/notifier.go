package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// AdminNotifier tells operations staff that a bank-transfer review is
// waiting. Delivery is best-effort: a failed or unconfigured notification is
// logged and never fails the customer request.
type AdminNotifier interface {
	NotifyBankTransferRequested(ctx context.Context, orderID, requesterID, note string)
}

type webhookNotifier struct {
	url        string
	httpClient *http.Client
	logger     *zap.Logger
}

func NewAdminNotifier(url string, logger *zap.Logger) AdminNotifier {
	return &webhookNotifier{
		url:        url,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		logger:     logger,
	}
}

type bankTransferNotification struct {
	Event       string    `json:"event"`
	OrderID     string    `json:"order_id"`
	RequesterID string    `json:"requester_id"`
	Note        string    `json:"note,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}

func (n *webhookNotifier) NotifyBankTransferRequested(ctx context.Context, orderID, requesterID, note string) {
	if n.url == "" {
		n.logger.Info("Bank transfer review requested",
			zap.String("order_id", orderID),
			zap.String("requester_id", requesterID),
			zap.String("note", note),
		)
		return
	}

	payload, err := json.Marshal(bankTransferNotification{
		Event:       "bank_transfer_requested",
		OrderID:     orderID,
		RequesterID: requesterID,
		Note:        note,
		RequestedAt: time.Now(),
	})
	if err != nil {
		n.logger.Warn("Failed to marshal admin notification", zap.String("order_id", orderID), zap.Error(err))
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		n.logger.Warn("Failed to build admin notification request", zap.String("order_id", orderID), zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		n.logger.Warn("Failed to deliver admin notification", zap.String("order_id", orderID), zap.Error(err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		n.logger.Warn("Admin notification endpoint returned non-2xx",
			zap.String("order_id", orderID),
			zap.Int("status_code", resp.StatusCode),
		)
		return
	}
	n.logger.Debug("Admin notification delivered", zap.String("order_id", orderID))
}

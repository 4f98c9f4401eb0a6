package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// ErrTimeout is returned when the gateway does not answer within the
// configured deadline. The caller surfaces it as 504 and decides whether to
// retry the whole operation; the client itself never retries.
var ErrTimeout = errors.New("payment gateway timeout")

// Error carries a non-2xx gateway response. 4xx messages are safe to show to
// the client; 5xx messages must be masked by the handler.
type Error struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("gateway error %d (%s): %s", e.StatusCode, e.Code, e.Message)
}

// IsClientSafe reports whether the upstream failure detail may be exposed to
// the caller verbatim.
func (e *Error) IsClientSafe() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500
}

type CreateRequest struct {
	OrderID       string `json:"orderId"`
	Amount        int64  `json:"amount"`
	OrderName     string `json:"orderName"`
	SuccessURL    string `json:"successUrl"`
	FailURL       string `json:"failUrl"`
	Currency      string `json:"currency,omitempty"`
	CustomerName  string `json:"customerName,omitempty"`
	CustomerEmail string `json:"customerEmail,omitempty"`
}

type confirmRequest struct {
	PaymentKey string `json:"paymentKey"`
	OrderID    string `json:"orderId"`
	Amount     int64  `json:"amount"`
}

type Client struct {
	baseURL    string
	authHeader string
	timeout    time.Duration
	httpClient *http.Client
	logger     *zap.Logger
}

func NewClient(baseURL, secretKey string, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		authHeader: "Basic " + base64.StdEncoding.EncodeToString([]byte(secretKey+":")),
		timeout:    timeout,
		httpClient: &http.Client{},
		logger:     logger,
	}
}

// Create registers a payment attempt with the gateway and returns the raw
// response body for auditing.
func (c *Client) Create(ctx context.Context, req CreateRequest) (json.RawMessage, error) {
	return c.post(ctx, "/v1/payments", req)
}

// Confirm finalizes a payment the customer completed in the gateway UI.
func (c *Client) Confirm(ctx context.Context, paymentKey, orderID string, amount int64) (json.RawMessage, error) {
	return c.post(ctx, "/v1/payments/confirm", confirmRequest{
		PaymentKey: paymentKey,
		OrderID:    orderID,
		Amount:     amount,
	})
}

func (c *Client) post(ctx context.Context, path string, payload any) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal gateway request: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build gateway request: %w", err)
	}
	req.Header.Set("Authorization", c.authHeader)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || callCtx.Err() == context.DeadlineExceeded {
			c.logger.Error("Gateway call timed out", zap.String("path", path), zap.Duration("timeout", c.timeout))
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read gateway response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		gwErr := &Error{StatusCode: resp.StatusCode}
		var parsed struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal(respBody, &parsed); err == nil {
			gwErr.Code = parsed.Code
			gwErr.Message = parsed.Message
		}
		c.logger.Error("Gateway returned non-2xx response",
			zap.String("path", path),
			zap.Int("status_code", resp.StatusCode),
			zap.String("code", gwErr.Code),
			zap.String("message", gwErr.Message),
		)
		return nil, gwErr
	}

	return json.RawMessage(respBody), nil
}

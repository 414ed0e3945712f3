// Package gateway integrates the external payment gateway that collects
// brand funds: order creation, status polling and the signed confirmation
// webhook.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sachanni/brand-influencer-sub001/internal/common/money"
	"github.com/sachanni/brand-influencer-sub001/internal/payments"
)

// Config holds gateway client configuration.
type Config struct {
	BaseURL string `envconfig:"GATEWAY_BASE_URL" default:"https://api.gateway.example.com"`
	APIKey  string `envconfig:"GATEWAY_API_KEY"`
	// ServerKey signs webhook notifications; shared with the gateway.
	ServerKey   string        `envconfig:"GATEWAY_SERVER_KEY"`
	Timeout     time.Duration `envconfig:"GATEWAY_TIMEOUT" default:"30s"`
	WebhookPath string        `envconfig:"GATEWAY_WEBHOOK_PATH" default:"/webhooks/gateway"`
}

// orderRequest is the request body for gateway order creation. The
// gateway renders amounts as decimal strings in major units, the same
// form it later signs in webhook notifications.
type orderRequest struct {
	OrderID     string            `json:"order_id"`
	GrossAmount string            `json:"gross_amount"`
	Currency    string            `json:"currency"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// orderResponse is the response from gateway order creation.
type orderResponse struct {
	OrderID    string `json:"order_id"`
	Status     string `json:"status"`
	PaymentURL string `json:"payment_url,omitempty"`
	Message    string `json:"message,omitempty"`
}

// statusResponse is the wire form of a gateway order status query.
type statusResponse struct {
	OrderID           string     `json:"order_id"`
	TransactionID     string     `json:"transaction_id,omitempty"`
	TransactionStatus string     `json:"transaction_status"`
	SettledAt         *time.Time `json:"settled_at,omitempty"`
	ErrorCode         string     `json:"error_code,omitempty"`
	ErrorMessage      string     `json:"error_message,omitempty"`
}

// Client is an HTTP client for the payment gateway.
type Client struct {
	config     Config
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new gateway client.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	return &Client{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger,
	}
}

// CreateOrder registers a collection order with the gateway and returns
// the gateway's order ID. The order ID doubles as the correlation key
// for webhook notifications.
func (c *Client) CreateOrder(ctx context.Context, req payments.OrderRequest) (string, error) {
	orderID := req.OrderID
	if orderID == "" {
		return "", fmt.Errorf("order request missing order ID")
	}

	body, err := json.Marshal(orderRequest{
		OrderID:     orderID,
		GrossAmount: grossAmountString(req.Amount),
		Currency:    string(req.Amount.Currency),
		Metadata:    req.Metadata,
	})
	if err != nil {
		return "", fmt.Errorf("marshal order request: %w", err)
	}

	c.logger.Info("creating gateway order",
		"order_id", orderID,
		"amount", req.Amount.AmountMinor,
		"currency", req.Amount.Currency,
	)

	resp, err := c.do(ctx, http.MethodPost, "/v1/orders", body)
	if err != nil {
		return "", err
	}

	var order orderResponse
	if err := json.Unmarshal(resp, &order); err != nil {
		return "", fmt.Errorf("unmarshal order response: %w", err)
	}
	if order.OrderID == "" {
		order.OrderID = orderID
	}

	c.logger.Info("gateway order created",
		"order_id", order.OrderID,
		"status", order.Status,
	)

	return order.OrderID, nil
}

// GetStatus queries the gateway for the current state of an order. Used
// to resolve payments left processing after an order call timed out.
func (c *Client) GetStatus(ctx context.Context, orderID string) (payments.OrderStatus, error) {
	resp, err := c.do(ctx, http.MethodGet, "/v1/orders/"+orderID+"/status", nil)
	if err != nil {
		return payments.OrderStatus{}, err
	}

	var status statusResponse
	if err := json.Unmarshal(resp, &status); err != nil {
		return payments.OrderStatus{}, fmt.Errorf("unmarshal status response: %w", err)
	}

	return payments.OrderStatus{
		OrderID:       status.OrderID,
		TransactionID: status.TransactionID,
		State:         orderStateFor(status.TransactionStatus),
		ErrorCode:     status.ErrorCode,
		ErrorMessage:  status.ErrorMessage,
	}, nil
}

// orderStateFor maps the gateway's transaction statuses to the three
// outcomes the orchestrator acts on, mirroring the webhook dispatch.
func orderStateFor(transactionStatus string) payments.OrderState {
	switch transactionStatus {
	case "capture", "settlement":
		return payments.OrderStateSettled
	case "deny", "cancel", "expire", "failure":
		return payments.OrderStateFailed
	default:
		return payments.OrderStatePending
	}
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if httpResp.StatusCode >= 400 {
		return nil, fmt.Errorf("gateway api error: status=%d body=%s", httpResp.StatusCode, string(respBody))
	}

	return respBody, nil
}

var _ payments.Gateway = (*Client)(nil)

// grossAmountString formats an amount the way the gateway renders it
// inside signature material: major units with two decimal places.
func grossAmountString(m money.Money) string {
	unit := money.MajorUnit(m.Currency)
	major := m.AmountMinor / unit
	frac := m.AmountMinor % unit
	if frac < 0 {
		frac = -frac
	}
	return fmt.Sprintf("%d.%02d", major, frac)
}

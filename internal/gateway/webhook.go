package gateway

import (
	"context"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/sachanni/brand-influencer-sub001/internal/common/api"
	"github.com/sachanni/brand-influencer-sub001/internal/payments"
)

// Notification is the gateway's webhook callback body. SignatureKey is
// hex(sha512(order_id + status_code + gross_amount + server_key)).
type Notification struct {
	OrderID           string `json:"order_id"`
	TransactionID     string `json:"transaction_id"`
	TransactionStatus string `json:"transaction_status"`
	StatusCode        string `json:"status_code"`
	GrossAmount       string `json:"gross_amount"`
	SignatureKey      string `json:"signature_key"`
	ErrorCode         string `json:"error_code,omitempty"`
	ErrorMessage      string `json:"error_message,omitempty"`
}

// PaymentService is the orchestration boundary the webhook drives.
type PaymentService interface {
	GetStagePaymentByOrderID(ctx context.Context, orderID string) (*payments.StagePayment, error)
	ConfirmStagePayment(ctx context.Context, paymentID, confirmationID string) (*payments.StagePayment, error)
	FailStagePayment(ctx context.Context, paymentID, code, message string) error
}

// WebhookHandler verifies and applies gateway confirmation callbacks.
type WebhookHandler struct {
	serverKey string
	service   PaymentService
	logger    *slog.Logger
}

// NewWebhookHandler creates a new gateway webhook handler.
func NewWebhookHandler(cfg Config, service PaymentService, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		serverKey: cfg.ServerKey,
		service:   service,
		logger:    logger,
	}
}

// ServeHTTP handles incoming gateway notifications. An invalid signature
// is rejected before any state is touched. A duplicate notification for
// a finalized payment is acknowledged without effect so the gateway
// stops retrying.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.Error("failed to read webhook body", "error", err)
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	var note Notification
	if err := json.Unmarshal(body, &note); err != nil {
		h.logger.Error("failed to parse webhook payload", "error", err)
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	if !h.verifySignature(note) {
		h.logger.Warn("webhook signature rejected", "order_id", note.OrderID)
		api.Unauthorized(w, "invalid signature")
		return
	}

	h.logger.Info("received gateway notification",
		"order_id", note.OrderID,
		"transaction_status", note.TransactionStatus,
		"status_code", note.StatusCode,
	)

	record, err := h.service.GetStagePaymentByOrderID(ctx, note.OrderID)
	if err != nil {
		h.logger.Error("payment not found for order", "order_id", note.OrderID, "error", err)
		http.Error(w, "payment not found", http.StatusNotFound)
		return
	}

	switch note.TransactionStatus {
	case "capture", "settlement":
		h.handleSettled(ctx, record, note)
	case "deny", "cancel", "expire", "failure":
		h.handleFailed(ctx, record, note)
	case "pending":
		// The gateway will call again on a terminal status.
	default:
		h.logger.Warn("unknown transaction status", "status", note.TransactionStatus)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// verifySignature recomputes the SHA512 signature over the notification's
// identifying fields and the shared server key.
func (h *WebhookHandler) verifySignature(note Notification) bool {
	sum := sha512.Sum512([]byte(note.OrderID + note.StatusCode + note.GrossAmount + h.serverKey))
	expected := hex.EncodeToString(sum[:])
	return subtle.ConstantTimeCompare([]byte(expected), []byte(note.SignatureKey)) == 1
}

func (h *WebhookHandler) handleSettled(ctx context.Context, record *payments.StagePayment, note Notification) {
	confirmationID := note.TransactionID
	if confirmationID == "" {
		confirmationID = note.OrderID
	}

	if _, err := h.service.ConfirmStagePayment(ctx, record.ID, confirmationID); err != nil {
		if errors.Is(err, payments.ErrAlreadyFinalized) {
			h.logger.Info("duplicate settlement notification ignored",
				"order_id", note.OrderID,
				"payment_id", record.ID,
			)
			return
		}
		h.logger.Error("failed to confirm stage payment",
			"order_id", note.OrderID,
			"payment_id", record.ID,
			"error", err,
		)
	}
}

func (h *WebhookHandler) handleFailed(ctx context.Context, record *payments.StagePayment, note Notification) {
	code := note.ErrorCode
	if code == "" {
		code = note.TransactionStatus
	}

	if err := h.service.FailStagePayment(ctx, record.ID, code, note.ErrorMessage); err != nil {
		if errors.Is(err, payments.ErrAlreadyFinalized) {
			h.logger.Info("failure notification for finalized payment ignored",
				"order_id", note.OrderID,
				"payment_id", record.ID,
			)
			return
		}
		h.logger.Error("failed to fail stage payment",
			"order_id", note.OrderID,
			"payment_id", record.ID,
			"error", err,
		)
	}
}

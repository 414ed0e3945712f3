package payments

import (
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/sachanni/brand-influencer-sub001/internal/common/money"
)

// NATS subjects for payment events
const (
	SubjectStageCreated   = "payments.stage.created"
	SubjectStageCorrected = "payments.stage.corrected"
	SubjectStageSubmitted = "payments.stage.submitted"
	SubjectStageCompleted = "payments.stage.completed"
	SubjectStageFailed    = "payments.stage.failed"

	// SubjectAuditRetry carries audit writes that failed after the
	// payment itself was finalized, so a consumer can replay them
	// instead of the entries being dropped.
	SubjectAuditRetry = "payments.audit.retry"
)

// EventType identifies the type of payment event.
type EventType string

const (
	EventStageCreated   EventType = "payments.stage.created"
	EventStageCorrected EventType = "payments.stage.corrected"
	EventStageSubmitted EventType = "payments.stage.submitted"
	EventStageCompleted EventType = "payments.stage.completed"
	EventStageFailed    EventType = "payments.stage.failed"
	EventAuditRetry     EventType = "payments.audit.retry"
)

// Envelope wraps all payment events with common metadata.
type Envelope struct {
	ID            string          `json:"id"`
	Type          EventType       `json:"type"`
	CorrelationID string          `json:"correlation_id"`
	Timestamp     time.Time       `json:"timestamp"`
	Data          json.RawMessage `json:"data"`
}

// NewEnvelope creates a new event envelope.
func NewEnvelope(eventType EventType, correlationID string, data any) (*Envelope, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Envelope{
		ID:            ulid.Make().String(),
		Type:          eventType,
		CorrelationID: correlationID,
		Timestamp:     time.Now().UTC(),
		Data:          jsonData,
	}, nil
}

// StageEvent is published on stage creation, correction, submission,
// completion and failure.
type StageEvent struct {
	PaymentID  string      `json:"payment_id"`
	ProposalID string      `json:"proposal_id"`
	Stage      Stage       `json:"stage"`
	Status     StageStatus `json:"status"`
	Gross      money.Money `json:"gross"`
	Commission money.Money `json:"commission"`
	Net        money.Money `json:"net"`
	OrderID    string      `json:"gateway_order_id,omitempty"`
	ErrorCode  string      `json:"error_code,omitempty"`
}

// AuditRetryEvent carries a failed audit write for replay. Payload holds
// the JSON-encoded record that could not be persisted.
type AuditRetryEvent struct {
	Record  string          `json:"record"` // "transaction"
	Payload json.RawMessage `json:"payload"`
	Reason  string          `json:"reason"`
}

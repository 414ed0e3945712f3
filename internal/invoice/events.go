package invoice

import (
	"context"
	"time"
)

// NATS subjects for invoice events
const (
	SubjectGenerated  = "invoices.generated"
	SubjectReconciled = "invoices.reconciled"
)

// Publisher publishes events to NATS.
type Publisher interface {
	Publish(ctx context.Context, subject string, payload any) error
}

// GeneratedEvent is published once when a proposal's invoice is created.
type GeneratedEvent struct {
	InvoiceID  string    `json:"invoice_id"`
	ProposalID string    `json:"proposal_id"`
	Number     string    `json:"number"`
	TotalMinor int64     `json:"total_minor"`
	Currency   string    `json:"currency"`
	IssuedAt   time.Time `json:"issued_at"`
}

// ReconciledEvent is published after every reconciliation pass.
type ReconciledEvent struct {
	InvoiceID  string    `json:"invoice_id"`
	ProposalID string    `json:"proposal_id"`
	PaidMinor  int64     `json:"paid_minor"`
	TotalMinor int64     `json:"total_minor"`
	Status     Status    `json:"status"`
	OccurredAt time.Time `json:"occurred_at"`
}

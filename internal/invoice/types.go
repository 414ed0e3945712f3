// Package invoice builds the single invoice raised per proposal, its line
// items and tax breakdown, and the milestone payment schedule derived from
// the campaign's stage configuration. Reconciliation keeps the invoice's
// paid amount in step with completed stage payments.
package invoice

import (
	"time"

	"github.com/sachanni/brand-influencer-sub001/internal/common/money"
)

// Status is the invoice lifecycle.
type Status string

const (
	StatusSent          Status = "sent"
	StatusPartiallyPaid Status = "partially_paid"
	StatusPaid          Status = "paid"
)

// Invoice is the one invoice per proposal, generated when the proposal
// first becomes payable. Line items and tax lines are written once at
// generation time and never change; only the paid amount and status move.
type Invoice struct {
	ID         string `json:"id"`
	ProposalID string `json:"proposal_id"`
	Number     string `json:"number"`

	BrandID      string `json:"brand_id"`
	InfluencerID string `json:"influencer_id"`

	Subtotal money.Money `json:"subtotal"`
	Tax      money.Money `json:"tax"`
	Total    money.Money `json:"total"`
	Paid     money.Money `json:"paid"`

	TaxRegion  string `json:"tax_region"`
	TaxRateBps int64  `json:"tax_rate_bps"`

	Status   Status     `json:"status"`
	IssuedAt time.Time  `json:"issued_at"`
	PaidAt   *time.Time `json:"paid_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LineItem is one invoiced deliverable. Immutable after generation.
type LineItem struct {
	ID          string      `json:"id"`
	InvoiceID   string      `json:"invoice_id"`
	Position    int         `json:"position"`
	Description string      `json:"description"`
	Quantity    int         `json:"quantity"`
	UnitAmount  money.Money `json:"unit_amount"`
	Amount      money.Money `json:"amount"`
}

// TaxLine is one tax component of the invoice. Immutable after generation.
type TaxLine struct {
	ID           string      `json:"id"`
	InvoiceID    string      `json:"invoice_id"`
	Jurisdiction string      `json:"jurisdiction"`
	RateBps      int64       `json:"rate_bps"`
	Amount       money.Money `json:"amount"`
}

// MilestoneStatus is the lifecycle of one schedule row.
type MilestoneStatus string

const (
	MilestonePending MilestoneStatus = "pending"
	MilestoneReady   MilestoneStatus = "ready"
	MilestonePaid    MilestoneStatus = "paid"
)

// Milestone is one row of the payment schedule materialized at invoice
// generation. The first row starts ready; the rest stay pending until
// their trigger condition is satisfied and the preceding row is paid.
type Milestone struct {
	ID         string          `json:"id"`
	InvoiceID  string          `json:"invoice_id"`
	ProposalID string          `json:"proposal_id"`
	Position   int             `json:"position"`
	Stage      string          `json:"stage"`
	ShareBps   int64           `json:"share_bps"`
	Amount     money.Money     `json:"amount"`
	Status     MilestoneStatus `json:"status"`
	PaidAt     *time.Time      `json:"paid_at,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// GenerateInput carries everything the generator needs from the proposal.
type GenerateInput struct {
	ProposalID   string
	BrandID      string
	InfluencerID string
	Compensation money.Money
	TaxRegion    string
	// Deliverables become line items; empty means one generic line.
	Deliverables []string
	// StageShares is the milestone schedule source: stage name to basis
	// points, in payout order.
	StageShares []StageShare
}

// StageShare is one (stage, basis points) pair of the campaign split.
type StageShare struct {
	Stage string
	Bps   int64
}

// Package payments implements the campaign payment stage orchestration:
// deciding which stage of a proposal's compensation is payable, creating the
// stage payment and its commission ledger entry, handing the payment to the
// gateway, and finalizing state when the gateway confirms.
package payments

import (
	"time"

	"github.com/sachanni/brand-influencer-sub001/internal/common/money"
)

// Stage is a named portion of total campaign compensation paid at a
// distinct trigger point.
type Stage string

const (
	StageUpfront    Stage = "upfront"
	StageCompletion Stage = "completion"
	StageBonus      Stage = "bonus"
	StageFull       Stage = "full"
)

// Valid reports whether the stage is one of the known stages.
func (s Stage) Valid() bool {
	switch s {
	case StageUpfront, StageCompletion, StageBonus, StageFull:
		return true
	}
	return false
}

// ApprovalStatus describes human review progress on a proposal. It is
// independent of PaymentStatus and the two must never be conflated.
type ApprovalStatus string

const (
	ApprovalPending               ApprovalStatus = "pending"
	ApprovalApproved              ApprovalStatus = "approved"
	ApprovalDeliverablesSubmitted ApprovalStatus = "deliverables_submitted"
	ApprovalRejected              ApprovalStatus = "rejected"
)

// PaymentStatus describes money flow on a proposal.
type PaymentStatus string

const (
	PaymentNone              PaymentStatus = "none"
	PaymentUpfrontPending    PaymentStatus = "upfront_pending"
	PaymentWorkInProgress    PaymentStatus = "work_in_progress"
	PaymentCompletionPending PaymentStatus = "completion_pending"
	PaymentCompleted         PaymentStatus = "completed"
	PaymentFullyCompleted    PaymentStatus = "fully_completed"
)

// StageSplit is the campaign's configured division of compensation across
// stages, in basis points. A zero-value split means the campaign has no
// explicit configuration and the platform default applies.
type StageSplit struct {
	UpfrontBps    int64 `json:"upfront_bps"`
	CompletionBps int64 `json:"completion_bps"`
	BonusBps      int64 `json:"bonus_bps"`
}

// DefaultSplit is the platform fallback when a campaign has no configured
// split: half on approval, half on completion, no bonus.
func DefaultSplit() StageSplit {
	return StageSplit{UpfrontBps: 5000, CompletionBps: 5000, BonusBps: 0}
}

// IsZero reports whether no split has been configured.
func (s StageSplit) IsZero() bool {
	return s.UpfrontBps == 0 && s.CompletionBps == 0 && s.BonusBps == 0
}

// Total returns the sum of all configured shares.
func (s StageSplit) Total() int64 {
	return s.UpfrontBps + s.CompletionBps + s.BonusBps
}

// ShareFor returns the basis-point share for a stage. StageFull is always
// the whole compensation.
func (s StageSplit) ShareFor(stage Stage) int64 {
	switch stage {
	case StageUpfront:
		return s.UpfrontBps
	case StageCompletion:
		return s.CompletionBps
	case StageBonus:
		return s.BonusBps
	case StageFull:
		return 10000
	}
	return 0
}

// Proposal is one accepted (campaign, influencer) pairing. Only the fields
// the payment engine reads are modeled here; profile and content data live
// with their own services.
type Proposal struct {
	ID           string `json:"id"`
	CampaignID   string `json:"campaign_id"`
	BrandID      string `json:"brand_id"`
	InfluencerID string `json:"influencer_id"`

	ApprovalStatus ApprovalStatus `json:"approval_status"`
	PaymentStatus  PaymentStatus  `json:"payment_status"`

	// Compensation is the agreed figure before tax.
	Compensation money.Money `json:"compensation"`
	// TaxRegion is the brand's tax jurisdiction code.
	TaxRegion string `json:"tax_region"`
	// Split is the campaign's stage configuration; zero means default.
	Split StageSplit `json:"split"`
	// ContentPublished is set by the content workflow once published
	// output has been externally verified. Gates the bonus stage.
	ContentPublished bool `json:"content_published"`

	// Deliverables become invoice line items at generation time.
	Deliverables []string `json:"deliverables,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EffectiveSplit returns the campaign split, or the platform default when
// the campaign carries none.
func (p *Proposal) EffectiveSplit() StageSplit {
	if p.Split.IsZero() {
		return DefaultSplit()
	}
	return p.Split
}

// StageStatus is the lifecycle of a single stage payment.
type StageStatus string

const (
	StagePending    StageStatus = "pending"
	StageProcessing StageStatus = "processing"
	StageCompleted  StageStatus = "completed"
	StageFailed     StageStatus = "failed"
)

// StagePayment is one payment record per (proposal, stage). At most one
// non-failed record may exist per pair; the storage layer enforces this
// with a partial unique index.
type StagePayment struct {
	ID         string      `json:"id"`
	ProposalID string      `json:"proposal_id"`
	Stage      Stage       `json:"stage"`
	Status     StageStatus `json:"status"`

	// Gross is the tax-inclusive amount owed by the brand for this stage.
	Gross money.Money `json:"gross"`
	// Commission and Net mirror the ledger entry written alongside;
	// kept on the record for display and drift comparison.
	Commission money.Money `json:"commission"`
	Net        money.Money `json:"net"`

	StageBps int64 `json:"stage_bps"`

	DueAt time.Time `json:"due_at"`

	// Gateway references.
	GatewayOrderID        string `json:"gateway_order_id,omitempty"`
	GatewayConfirmationID string `json:"gateway_confirmation_id,omitempty"`

	// CorrectionNote records the reason an amount was rewritten while the
	// record was still pending.
	CorrectionNote string `json:"correction_note,omitempty"`

	FailureCode    string `json:"failure_code,omitempty"`
	FailureMessage string `json:"failure_message,omitempty"`

	CorrelationID string `json:"correlation_id,omitempty"`

	CompletedAt *time.Time `json:"completed_at,omitempty"`
	FailedAt    *time.Time `json:"failed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// EntryKind distinguishes initial commission entries from corrective ones.
type EntryKind string

const (
	EntryInitial    EntryKind = "initial"
	EntryCorrection EntryKind = "correction"
)

// CommissionEntry is an immutable commission ledger record appended
// alongside every created or corrected stage payment. Corrections are new
// entries, never mutations.
type CommissionEntry struct {
	ID             string      `json:"id"`
	ProposalID     string      `json:"proposal_id"`
	StagePaymentID string      `json:"stage_payment_id"`
	Stage          Stage       `json:"stage"`
	Kind           EntryKind   `json:"kind"`
	Gross          money.Money `json:"gross"`
	Commission     money.Money `json:"commission"`
	Net            money.Money `json:"net"`
	TaxRegion      string      `json:"tax_region"`
	TaxRateBps     int64       `json:"tax_rate_bps"`
	CommissionBps  int64       `json:"commission_bps"`
	CorrelationID  string      `json:"correlation_id"`
	CreatedAt      time.Time   `json:"created_at"`
}

// Transaction records the raw financial movement confirmed by the gateway,
// separate from the commission ledger.
type Transaction struct {
	ID                    string      `json:"id"`
	StagePaymentID        string      `json:"stage_payment_id"`
	ProposalID            string      `json:"proposal_id"`
	Amount                money.Money `json:"amount"`
	GatewayOrderID        string      `json:"gateway_order_id,omitempty"`
	GatewayConfirmationID string      `json:"gateway_confirmation_id"`
	OccurredAt            time.Time   `json:"occurred_at"`
	CreatedAt             time.Time   `json:"created_at"`
}

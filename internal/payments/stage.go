package payments

import (
	"errors"
	"fmt"
	"time"

	"github.com/sachanni/brand-influencer-sub001/internal/commission"
)

// NewStagePayment creates a pending stage payment from a computed
// breakdown.
func NewStagePayment(id, proposalID string, stage Stage, b commission.Breakdown, dueAt time.Time, correlationID string) (*StagePayment, error) {
	if id == "" {
		return nil, errors.New("id is required")
	}
	if proposalID == "" {
		return nil, errors.New("proposal_id is required")
	}
	if !stage.Valid() {
		return nil, fmt.Errorf("unknown stage %q", stage)
	}
	if !b.Gross.IsPositive() {
		return nil, errors.New("gross amount must be positive")
	}

	now := time.Now().UTC()
	return &StagePayment{
		ID:            id,
		ProposalID:    proposalID,
		Stage:         stage,
		Status:        StagePending,
		Gross:         b.Gross,
		Commission:    b.Commission,
		Net:           b.Net,
		StageBps:      b.StageBps,
		DueAt:         dueAt,
		CorrelationID: correlationID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// ApplyCorrection rewrites the amounts of a still-pending record from a
// fresh computation. Records past pending are immutable.
func (p *StagePayment) ApplyCorrection(b commission.Breakdown, note string) error {
	if p.Status != StagePending {
		return fmt.Errorf("cannot correct %s record: %w", p.Status, ErrAmountMismatch)
	}
	p.Gross = b.Gross
	p.Commission = b.Commission
	p.Net = b.Net
	p.StageBps = b.StageBps
	p.CorrectionNote = note
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// MarkProcessing moves a pending record to processing. Forward-only: once
// processing, the only legal transitions are completed or failed.
func (p *StagePayment) MarkProcessing() error {
	if p.Status != StagePending {
		return fmt.Errorf("can only submit pending payments, record is %s", p.Status)
	}
	p.Status = StageProcessing
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// MarkCompleted finalizes the record with the gateway confirmation.
// Pending is accepted as well as processing for flows where the gateway
// step was skipped.
func (p *StagePayment) MarkCompleted(confirmationID string, at time.Time) error {
	if p.Status != StageProcessing && p.Status != StagePending {
		return fmt.Errorf("record is %s: %w", p.Status, ErrAlreadyFinalized)
	}
	p.Status = StageCompleted
	p.GatewayConfirmationID = confirmationID
	p.CompletedAt = &at
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// MarkFailed finalizes the record as failed. A failed stage frees the
// (proposal, stage) slot for a fresh attempt.
func (p *StagePayment) MarkFailed(code, message string) error {
	if p.Status == StageCompleted || p.Status == StageFailed {
		return fmt.Errorf("record is %s: %w", p.Status, ErrAlreadyFinalized)
	}
	now := time.Now().UTC()
	p.Status = StageFailed
	p.FailureCode = code
	p.FailureMessage = message
	p.FailedAt = &now
	p.UpdatedAt = now
	return nil
}

// NewCommissionEntry builds the immutable ledger entry matching a stage
// payment and breakdown.
func NewCommissionEntry(id string, p *StagePayment, b commission.Breakdown, kind EntryKind) *CommissionEntry {
	return &CommissionEntry{
		ID:             id,
		ProposalID:     p.ProposalID,
		StagePaymentID: p.ID,
		Stage:          p.Stage,
		Kind:           kind,
		Gross:          b.Gross,
		Commission:     b.Commission,
		Net:            b.Net,
		TaxRegion:      b.TaxRegion,
		TaxRateBps:     b.TaxRateBps,
		CommissionBps:  b.CommissionBps,
		CorrelationID:  p.CorrelationID,
		CreatedAt:      time.Now().UTC(),
	}
}

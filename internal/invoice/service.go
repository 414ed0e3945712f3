package invoice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/sachanni/brand-influencer-sub001/internal/commission"
	"github.com/sachanni/brand-influencer-sub001/internal/common/database"
	"github.com/sachanni/brand-influencer-sub001/internal/common/money"
)

// Store persists invoices, their children and the milestone schedule.
type Store interface {
	CreateInvoice(ctx context.Context, inv *Invoice, items []*LineItem, taxes []*TaxLine, milestones []*Milestone) error
	GetByProposal(ctx context.Context, proposalID string) (*Invoice, error)
	GetLineItems(ctx context.Context, invoiceID string) ([]*LineItem, error)
	GetTaxLines(ctx context.Context, invoiceID string) ([]*TaxLine, error)
	GetMilestones(ctx context.Context, invoiceID string) ([]*Milestone, error)
	UpdateReconciliation(ctx context.Context, inv *Invoice) error
	SetMilestoneStatus(ctx context.Context, milestoneID string, status MilestoneStatus, paidAt *time.Time) error
}

// Renderer turns an invoice and its children into an opaque document byte
// stream. No business logic crosses this boundary.
type Renderer interface {
	Render(inv *Invoice, items []*LineItem, taxes []*TaxLine) ([]byte, error)
}

// Service generates and reconciles invoices.
type Service struct {
	store     Store
	calc      *commission.Calculator
	renderer  Renderer
	publisher Publisher
	logger    *slog.Logger
}

// NewService creates a new invoice service. A nil publisher disables
// events without affecting invoice processing.
func NewService(store Store, calc *commission.Calculator, renderer Renderer, publisher Publisher, logger *slog.Logger) *Service {
	return &Service{
		store:     store,
		calc:      calc,
		renderer:  renderer,
		publisher: publisher,
		logger:    logger,
	}
}

func (s *Service) publish(ctx context.Context, subject string, payload any) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, subject, payload); err != nil {
		s.logger.Error("event publish failed", "subject", subject, "error", err)
	}
}

// Generate creates the proposal's invoice, line items, tax line and
// milestone schedule. Safe to call repeatedly: a second call returns the
// existing invoice unchanged. The uniqueness guard is the invoices table's
// unique constraint on proposal_id, so two concurrent first calls cannot
// both insert.
func (s *Service) Generate(ctx context.Context, in GenerateInput) (*Invoice, error) {
	if existing, err := s.store.GetByProposal(ctx, in.ProposalID); err == nil {
		return existing, nil
	} else if !database.IsNotFound(err) {
		return nil, fmt.Errorf("looking up invoice: %w", err)
	}

	subtotal, tax, total, taxRateBps := s.calc.ComputeInvoiceTotals(in.Compensation, in.TaxRegion)

	now := time.Now().UTC()
	inv := &Invoice{
		ID:           ulid.Make().String(),
		ProposalID:   in.ProposalID,
		Number:       fmt.Sprintf("INV-%s", ulid.Make().String()),
		BrandID:      in.BrandID,
		InfluencerID: in.InfluencerID,
		Subtotal:     subtotal,
		Tax:          tax,
		Total:        total,
		Paid:         money.Zero(total.Currency),
		TaxRegion:    in.TaxRegion,
		TaxRateBps:   taxRateBps,
		Status:       StatusSent,
		IssuedAt:     now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	items := buildLineItems(inv, in)
	taxes := []*TaxLine{{
		ID:           ulid.Make().String(),
		InvoiceID:    inv.ID,
		Jurisdiction: in.TaxRegion,
		RateBps:      taxRateBps,
		Amount:       tax,
	}}
	milestones := buildMilestones(inv, in)

	if err := s.store.CreateInvoice(ctx, inv, items, taxes, milestones); err != nil {
		if database.IsUniqueViolation(err) || errors.Is(err, database.ErrAlreadyExists) {
			// Lost the generation race; the winner's invoice is the one.
			return s.store.GetByProposal(ctx, in.ProposalID)
		}
		return nil, fmt.Errorf("creating invoice: %w", err)
	}

	s.logger.Info("invoice generated",
		"invoice_id", inv.ID,
		"proposal_id", in.ProposalID,
		"number", inv.Number,
		"total", inv.Total.AmountMinor,
		"currency", inv.Total.Currency,
	)

	s.publish(ctx, SubjectGenerated, GeneratedEvent{
		InvoiceID:  inv.ID,
		ProposalID: inv.ProposalID,
		Number:     inv.Number,
		TotalMinor: inv.Total.AmountMinor,
		Currency:   string(inv.Total.Currency),
		IssuedAt:   inv.IssuedAt,
	})

	return inv, nil
}

func buildLineItems(inv *Invoice, in GenerateInput) []*LineItem {
	deliverables := in.Deliverables
	if len(deliverables) == 0 {
		deliverables = []string{"Campaign collaboration"}
	}

	shares := make([]int64, len(deliverables))
	for i := range shares {
		shares[i] = 1
	}
	amounts := inv.Subtotal.AllocateByBasisPoints(shares)

	items := make([]*LineItem, len(deliverables))
	for i, d := range deliverables {
		items[i] = &LineItem{
			ID:          ulid.Make().String(),
			InvoiceID:   inv.ID,
			Position:    i + 1,
			Description: d,
			Quantity:    1,
			UnitAmount:  amounts[i],
			Amount:      amounts[i],
		}
	}
	return items
}

func buildMilestones(inv *Invoice, in GenerateInput) []*Milestone {
	if len(in.StageShares) == 0 {
		return nil
	}

	shares := make([]int64, len(in.StageShares))
	for i, s := range in.StageShares {
		shares[i] = s.Bps
	}
	amounts := inv.Total.AllocateByBasisPoints(shares)

	now := time.Now().UTC()
	milestones := make([]*Milestone, len(in.StageShares))
	for i, s := range in.StageShares {
		status := MilestonePending
		if i == 0 {
			status = MilestoneReady
		}
		milestones[i] = &Milestone{
			ID:         ulid.Make().String(),
			InvoiceID:  inv.ID,
			ProposalID: in.ProposalID,
			Position:   i + 1,
			Stage:      s.Stage,
			ShareBps:   s.Bps,
			Amount:     amounts[i],
			Status:     status,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
	}
	return milestones
}

// Reconcile recomputes the invoice's paid amount from the completed stage
// total and applies the three-way status rule: paid when the sum meets or
// exceeds the total, partially paid when positive but below, sent
// otherwise. Idempotent; every stage completion calls it independently.
func (s *Service) Reconcile(ctx context.Context, proposalID string, paid money.Money) (*Invoice, error) {
	inv, err := s.store.GetByProposal(ctx, proposalID)
	if err != nil {
		return nil, fmt.Errorf("loading invoice for reconciliation: %w", err)
	}

	inv.Paid = paid
	now := time.Now().UTC()

	switch {
	case paid.GreaterOrEqual(inv.Total) && inv.Total.IsPositive():
		if inv.Status != StatusPaid {
			inv.Status = StatusPaid
			inv.PaidAt = &now
		}
	case paid.IsPositive():
		inv.Status = StatusPartiallyPaid
		inv.PaidAt = nil
	default:
		inv.Status = StatusSent
		inv.PaidAt = nil
	}
	inv.UpdatedAt = now

	if err := s.store.UpdateReconciliation(ctx, inv); err != nil {
		return nil, fmt.Errorf("updating invoice: %w", err)
	}

	s.logger.Info("invoice reconciled",
		"invoice_id", inv.ID,
		"proposal_id", proposalID,
		"paid", inv.Paid.AmountMinor,
		"total", inv.Total.AmountMinor,
		"status", inv.Status,
	)

	s.publish(ctx, SubjectReconciled, ReconciledEvent{
		InvoiceID:  inv.ID,
		ProposalID: proposalID,
		PaidMinor:  inv.Paid.AmountMinor,
		TotalMinor: inv.Total.AmountMinor,
		Status:     inv.Status,
		OccurredAt: now,
	})

	return inv, nil
}

// MarkMilestonePaid marks the schedule row for a stage as paid and
// promotes the next pending row to ready. Repeat calls for an already-paid
// stage are no-ops.
func (s *Service) MarkMilestonePaid(ctx context.Context, proposalID, stage string) error {
	inv, err := s.store.GetByProposal(ctx, proposalID)
	if err != nil {
		return fmt.Errorf("loading invoice: %w", err)
	}

	milestones, err := s.store.GetMilestones(ctx, inv.ID)
	if err != nil {
		return fmt.Errorf("loading milestones: %w", err)
	}

	now := time.Now().UTC()
	for i, m := range milestones {
		if m.Stage != stage {
			continue
		}
		if m.Status == MilestonePaid {
			return nil
		}
		if err := s.store.SetMilestoneStatus(ctx, m.ID, MilestonePaid, &now); err != nil {
			return fmt.Errorf("marking milestone paid: %w", err)
		}
		if i+1 < len(milestones) && milestones[i+1].Status == MilestonePending {
			if err := s.store.SetMilestoneStatus(ctx, milestones[i+1].ID, MilestoneReady, nil); err != nil {
				return fmt.Errorf("promoting next milestone: %w", err)
			}
		}
		return nil
	}
	return nil
}

// Get returns the proposal's invoice.
func (s *Service) Get(ctx context.Context, proposalID string) (*Invoice, error) {
	return s.store.GetByProposal(ctx, proposalID)
}

// Schedule returns the milestone schedule for a proposal's invoice.
func (s *Service) Schedule(ctx context.Context, proposalID string) ([]*Milestone, error) {
	inv, err := s.store.GetByProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	return s.store.GetMilestones(ctx, inv.ID)
}

// RenderDocument renders the invoice with its line items and tax lines to
// an opaque byte stream.
func (s *Service) RenderDocument(ctx context.Context, proposalID string) ([]byte, error) {
	inv, err := s.store.GetByProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	items, err := s.store.GetLineItems(ctx, inv.ID)
	if err != nil {
		return nil, fmt.Errorf("loading line items: %w", err)
	}
	taxes, err := s.store.GetTaxLines(ctx, inv.ID)
	if err != nil {
		return nil, fmt.Errorf("loading tax lines: %w", err)
	}
	return s.renderer.Render(inv, items, taxes)
}

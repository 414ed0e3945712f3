package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/sachanni/brand-influencer-sub001/internal/commission"
	"github.com/sachanni/brand-influencer-sub001/internal/common/database"
	"github.com/sachanni/brand-influencer-sub001/internal/common/middleware"
	"github.com/sachanni/brand-influencer-sub001/internal/common/money"
	"github.com/sachanni/brand-influencer-sub001/internal/invoice"
)

// Store persists proposals, stage payments, the commission ledger and the
// transaction log.
type Store interface {
	GetProposal(ctx context.Context, proposalID string) (*Proposal, error)
	CreateProposal(ctx context.Context, p *Proposal) error
	SetProposalPaymentStatus(ctx context.Context, proposalID string, status PaymentStatus) error

	GetActiveStagePayment(ctx context.Context, proposalID string, stage Stage) (*StagePayment, error)
	GetStagePayment(ctx context.Context, id string) (*StagePayment, error)
	GetStagePaymentByOrderID(ctx context.Context, orderID string) (*StagePayment, error)
	ListStagePayments(ctx context.Context, proposalID string) ([]*StagePayment, error)
	ListCompletedStagePayments(ctx context.Context, proposalID string) ([]*StagePayment, error)

	CreateStagePayment(ctx context.Context, record *StagePayment, entry *CommissionEntry) error
	CorrectStagePayment(ctx context.Context, record *StagePayment, entry *CommissionEntry) error
	MarkProcessing(ctx context.Context, id string) error
	SetGatewayOrder(ctx context.Context, id, orderID string) error
	MarkCompleted(ctx context.Context, id, confirmationID string, at time.Time) error
	MarkFailed(ctx context.Context, id, code, message string) error

	AppendTransaction(ctx context.Context, txn *Transaction) error
	ListCommissionEntries(ctx context.Context, proposalID string) ([]*CommissionEntry, error)
}

// Gateway creates collection orders with the external payment provider
// and reports their current state.
type Gateway interface {
	CreateOrder(ctx context.Context, req OrderRequest) (orderID string, err error)
	GetStatus(ctx context.Context, orderID string) (OrderStatus, error)
}

// OrderRequest is the order handed to the gateway. The order ID is chosen
// here, not by the gateway, so a timed-out create call can still be
// matched to its record later.
type OrderRequest struct {
	OrderID  string            `json:"order_id"`
	Amount   money.Money       `json:"amount"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// OrderState is the gateway's view of an order, normalized to the three
// outcomes the orchestrator acts on.
type OrderState string

const (
	OrderStatePending OrderState = "pending"
	OrderStateSettled OrderState = "settled"
	OrderStateFailed  OrderState = "failed"
)

// OrderStatus is the result of a gateway status poll.
type OrderStatus struct {
	OrderID       string     `json:"order_id"`
	TransactionID string     `json:"transaction_id,omitempty"`
	State         OrderState `json:"state"`
	ErrorCode     string     `json:"error_code,omitempty"`
	ErrorMessage  string     `json:"error_message,omitempty"`
}

// Publisher publishes events to NATS.
type Publisher interface {
	Publish(ctx context.Context, subject string, payload any) error
}

// InvoiceService is the invoice generation and reconciliation boundary.
type InvoiceService interface {
	Generate(ctx context.Context, in invoice.GenerateInput) (*invoice.Invoice, error)
	Reconcile(ctx context.Context, proposalID string, paid money.Money) (*invoice.Invoice, error)
	MarkMilestonePaid(ctx context.Context, proposalID, stage string) error
}

// Config holds orchestrator configuration.
type Config struct {
	// StageDueIn is how far ahead of creation a stage payment falls due.
	StageDueIn time.Duration `envconfig:"STAGE_DUE_IN" default:"168h"`
}

// Service orchestrates stage payments for proposals.
type Service struct {
	store     Store
	calc      *commission.Calculator
	invoices  InvoiceService
	gateway   Gateway
	publisher Publisher
	cfg       Config
	logger    *slog.Logger
}

// NewService creates a new payment orchestration service.
func NewService(store Store, calc *commission.Calculator, invoices InvoiceService, gateway Gateway, publisher Publisher, cfg Config, logger *slog.Logger) *Service {
	if cfg.StageDueIn <= 0 {
		cfg.StageDueIn = 7 * 24 * time.Hour
	}
	return &Service{
		store:     store,
		calc:      calc,
		invoices:  invoices,
		gateway:   gateway,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger,
	}
}

// NewProposalInput carries the fields accepted from the collaboration
// intake flow. Approval and payment status always start at their zero
// states; only the review workflow moves them.
type NewProposalInput struct {
	CampaignID   string
	BrandID      string
	InfluencerID string
	Compensation money.Money
	TaxRegion    string
	Split        StageSplit
	Deliverables []string
}

// CreateProposal registers an accepted collaboration so its stages can be
// paid. The stage split is checked here, before any record exists that
// EnsureStagePayment could act on.
func (s *Service) CreateProposal(ctx context.Context, in NewProposalInput) (*Proposal, error) {
	if !in.Compensation.IsPositive() {
		return nil, fmt.Errorf("compensation must be positive: %w", ErrInvalidState)
	}
	if _, ok := money.GetCurrencyInfo(in.Compensation.Currency); !ok {
		return nil, fmt.Errorf("unknown currency %q: %w", in.Compensation.Currency, ErrInvalidState)
	}
	if in.Split.Total() > 10000 {
		return nil, fmt.Errorf("campaign split exceeds 100%% (%d bps): %w", in.Split.Total(), ErrInvalidState)
	}

	now := time.Now().UTC()
	proposal := &Proposal{
		ID:               ulid.Make().String(),
		CampaignID:       in.CampaignID,
		BrandID:          in.BrandID,
		InfluencerID:     in.InfluencerID,
		ApprovalStatus:   ApprovalPending,
		PaymentStatus:    PaymentNone,
		Compensation:     in.Compensation,
		TaxRegion:        in.TaxRegion,
		Split:            in.Split,
		ContentPublished: false,
		Deliverables:     in.Deliverables,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := s.store.CreateProposal(ctx, proposal); err != nil {
		return nil, fmt.Errorf("creating proposal: %w", err)
	}

	s.logger.Info("proposal created",
		"proposal_id", proposal.ID,
		"campaign_id", proposal.CampaignID,
		"compensation", proposal.Compensation.AmountMinor,
		"currency", proposal.Compensation.Currency,
	)

	return proposal, nil
}

// GetProposal retrieves a proposal by ID.
func (s *Service) GetProposal(ctx context.Context, proposalID string) (*Proposal, error) {
	return s.store.GetProposal(ctx, proposalID)
}

// EnsureStagePayment returns the single non-failed stage payment for
// (proposal, stage), creating it if absent. Re-invocation with unchanged
// configuration is a no-op returning the existing record; a pending record
// whose stored amount has drifted from the recomputed one is corrected in
// place; drift on a record past pending is ErrAmountMismatch.
//
// A nil record with a nil error means the stage is not configured for this
// proposal (bonus without a bonus share or without published content).
func (s *Service) EnsureStagePayment(ctx context.Context, proposalID string, stage Stage) (*StagePayment, error) {
	if !stage.Valid() {
		return nil, fmt.Errorf("unknown stage %q: %w", stage, ErrInvalidState)
	}

	proposal, err := s.store.GetProposal(ctx, proposalID)
	if err != nil {
		return nil, fmt.Errorf("loading proposal: %w", err)
	}

	if err := s.checkPrecondition(proposal, stage); err != nil {
		return nil, err
	}

	split := proposal.EffectiveSplit()
	if split.Total() > 10000 {
		return nil, fmt.Errorf("campaign split exceeds 100%% (%d bps): %w", split.Total(), ErrInvalidState)
	}

	if stage == StageBonus && (split.BonusBps == 0 || !proposal.ContentPublished) {
		// Not an error: the bonus stage simply is not created.
		s.logger.Debug("bonus stage not applicable",
			"proposal_id", proposalID,
			"bonus_bps", split.BonusBps,
			"content_published", proposal.ContentPublished,
		)
		return nil, nil
	}

	stageBps := split.ShareFor(stage)
	if stageBps == 0 {
		return nil, fmt.Errorf("stage %s has no configured share: %w", stage, ErrInvalidState)
	}

	breakdown, err := s.calc.ComputeStage(proposal.Compensation, proposal.TaxRegion, stageBps)
	if err != nil {
		return nil, fmt.Errorf("computing stage amounts: %w", err)
	}

	// The proposal is payable, so the invoice and milestone schedule
	// must exist before any money moves. Generation is once-only guarded.
	if _, err := s.invoices.Generate(ctx, s.invoiceSeed(proposal, split)); err != nil {
		return nil, fmt.Errorf("generating invoice: %w", err)
	}

	existing, err := s.store.GetActiveStagePayment(ctx, proposalID, stage)
	switch {
	case err == nil:
		return s.reconcileExisting(ctx, existing, breakdown)
	case database.IsNotFound(err):
		// No non-failed record; create one below.
	default:
		return nil, fmt.Errorf("looking up stage payment: %w", err)
	}

	record, err := s.createStagePayment(ctx, proposal, stage, breakdown)
	if err != nil {
		if errors.Is(err, ErrDuplicateStage) {
			// Lost the race to a concurrent writer: its record is the
			// record. Re-fetch and return it.
			winner, fetchErr := s.store.GetActiveStagePayment(ctx, proposalID, stage)
			if fetchErr != nil {
				return nil, fmt.Errorf("re-fetching after duplicate: %w", ErrDuplicateStage)
			}
			return winner, nil
		}
		return nil, err
	}
	return record, nil
}

// checkPrecondition is the explicit table of which stages are legal per
// approval state. Rejection freezes payment activity entirely.
func (s *Service) checkPrecondition(p *Proposal, stage Stage) error {
	if p.ApprovalStatus == ApprovalRejected {
		return fmt.Errorf("proposal %s is rejected: %w", p.ID, ErrInvalidState)
	}

	switch stage {
	case StageUpfront, StageFull:
		if p.ApprovalStatus != ApprovalApproved && p.ApprovalStatus != ApprovalDeliverablesSubmitted {
			return fmt.Errorf("stage %s requires approval, proposal is %s: %w", stage, p.ApprovalStatus, ErrInvalidState)
		}
	case StageCompletion:
		if p.ApprovalStatus != ApprovalDeliverablesSubmitted {
			return fmt.Errorf("stage completion requires submitted deliverables, proposal is %s: %w", p.ApprovalStatus, ErrInvalidState)
		}
	case StageBonus:
		if p.ApprovalStatus != ApprovalDeliverablesSubmitted {
			return fmt.Errorf("stage bonus requires submitted deliverables, proposal is %s: %w", p.ApprovalStatus, ErrInvalidState)
		}
	}
	return nil
}

// reconcileExisting compares a stored record against the freshly computed
// amounts. Within tolerance the record is returned untouched. A drifted
// pending record is corrected in place with a corrective ledger entry; a
// drifted record past pending is immutable and surfaces ErrAmountMismatch.
func (s *Service) reconcileExisting(ctx context.Context, record *StagePayment, b commission.Breakdown) (*StagePayment, error) {
	if record.Gross.WithinTolerance(b.Gross) {
		return record, nil
	}

	if record.Status != StagePending {
		return nil, fmt.Errorf(
			"record %s is %s with stored gross %d, recomputed %d: %w",
			record.ID, record.Status, record.Gross.AmountMinor, b.Gross.AmountMinor, ErrAmountMismatch,
		)
	}

	note := fmt.Sprintf("amount corrected from %d to %d minor units on recomputation", record.Gross.AmountMinor, b.Gross.AmountMinor)
	if err := record.ApplyCorrection(b, note); err != nil {
		return nil, err
	}

	entry := NewCommissionEntry(ulid.Make().String(), record, b, EntryCorrection)
	if err := s.store.CorrectStagePayment(ctx, record, entry); err != nil {
		return nil, fmt.Errorf("persisting correction: %w", err)
	}

	s.logger.Warn("stage payment amount corrected",
		"payment_id", record.ID,
		"proposal_id", record.ProposalID,
		"stage", record.Stage,
		"gross", record.Gross.AmountMinor,
		"correlation_id", record.CorrelationID,
	)

	s.publish(ctx, SubjectStageCorrected, EventStageCorrected, record, "")

	return record, nil
}

func (s *Service) createStagePayment(ctx context.Context, proposal *Proposal, stage Stage, b commission.Breakdown) (*StagePayment, error) {
	correlationID := middleware.GetCorrelationID(ctx)
	if correlationID == "" {
		correlationID = ulid.Make().String()
	}

	record, err := NewStagePayment(
		ulid.Make().String(), proposal.ID, stage, b,
		time.Now().UTC().Add(s.cfg.StageDueIn), correlationID,
	)
	if err != nil {
		return nil, fmt.Errorf("building stage payment: %w", err)
	}

	entry := NewCommissionEntry(ulid.Make().String(), record, b, EntryInitial)

	// Record and ledger entry commit atomically; the partial unique
	// index turns a concurrent duplicate into ErrDuplicateStage.
	if err := s.store.CreateStagePayment(ctx, record, entry); err != nil {
		return nil, err
	}

	if status, ok := pendingStatusFor(stage); ok {
		if err := s.store.SetProposalPaymentStatus(ctx, proposal.ID, status); err != nil {
			s.logger.Error("failed to advance proposal payment status",
				"proposal_id", proposal.ID,
				"status", status,
				"error", err,
			)
		}
	}

	s.logger.Info("stage payment created",
		"payment_id", record.ID,
		"proposal_id", proposal.ID,
		"stage", stage,
		"gross", record.Gross.AmountMinor,
		"commission", record.Commission.AmountMinor,
		"net", record.Net.AmountMinor,
		"currency", record.Gross.Currency,
		"correlation_id", correlationID,
	)

	s.publish(ctx, SubjectStageCreated, EventStageCreated, record, "")

	return record, nil
}

func (s *Service) invoiceSeed(p *Proposal, split StageSplit) invoice.GenerateInput {
	shares := []invoice.StageShare{
		{Stage: string(StageUpfront), Bps: split.UpfrontBps},
		{Stage: string(StageCompletion), Bps: split.CompletionBps},
	}
	if split.BonusBps > 0 {
		shares = append(shares, invoice.StageShare{Stage: string(StageBonus), Bps: split.BonusBps})
	}
	return invoice.GenerateInput{
		ProposalID:   p.ID,
		BrandID:      p.BrandID,
		InfluencerID: p.InfluencerID,
		Compensation: p.Compensation,
		TaxRegion:    p.TaxRegion,
		Deliverables: p.Deliverables,
		StageShares:  shares,
	}
}

// pendingStatusFor maps a newly created stage to the proposal payment
// status it implies. Bonus creation does not move the proposal.
func pendingStatusFor(stage Stage) (PaymentStatus, bool) {
	switch stage {
	case StageUpfront, StageFull:
		return PaymentUpfrontPending, true
	case StageCompletion:
		return PaymentCompletionPending, true
	}
	return "", false
}

// completedStatusFor maps a confirmed stage to the proposal payment status
// it implies.
func completedStatusFor(stage Stage) (PaymentStatus, bool) {
	switch stage {
	case StageUpfront:
		return PaymentWorkInProgress, true
	case StageCompletion, StageFull:
		return PaymentCompleted, true
	case StageBonus:
		return PaymentFullyCompleted, true
	}
	return "", false
}

// SubmitStagePayment hands a pending stage payment to the gateway for
// collection. The record moves to processing and the order ID is
// persisted before the order call: once the order may exist remotely,
// the record must never silently return to pending, and the webhook or
// status poll must be able to find it. A definitive gateway rejection
// marks the record failed (and retryable via EnsureStagePayment); a
// timeout leaves it processing for ResolveStagePayment.
func (s *Service) SubmitStagePayment(ctx context.Context, paymentID string) (*StagePayment, error) {
	record, err := s.store.GetStagePayment(ctx, paymentID)
	if err != nil {
		return nil, fmt.Errorf("loading stage payment: %w", err)
	}

	if err := s.store.MarkProcessing(ctx, paymentID); err != nil {
		return nil, err
	}
	record.Status = StageProcessing

	orderID := "ORD-" + record.ID
	if err := s.store.SetGatewayOrder(ctx, paymentID, orderID); err != nil {
		return nil, err
	}
	record.GatewayOrderID = orderID

	returned, err := s.gateway.CreateOrder(ctx, OrderRequest{
		OrderID: orderID,
		Amount:  record.Gross,
		Metadata: map[string]string{
			"proposal_id": record.ProposalID,
			"payment_id":  record.ID,
			"stage":       string(record.Stage),
		},
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			// Unknown outcome: the order may have been created. Leave
			// the record processing for later reconciliation.
			s.logger.Warn("gateway order timed out, outcome unknown",
				"payment_id", record.ID,
				"gateway_order_id", orderID,
				"correlation_id", record.CorrelationID,
			)
			return record, fmt.Errorf("gateway order timed out: %w", ErrGatewayFailure)
		}

		if failErr := s.store.MarkFailed(ctx, paymentID, "ORDER_REJECTED", err.Error()); failErr != nil {
			s.logger.Error("failed to mark stage payment failed", "payment_id", paymentID, "error", failErr)
		}
		record.Status = StageFailed
		s.publish(ctx, SubjectStageFailed, EventStageFailed, record, "ORDER_REJECTED")
		return nil, fmt.Errorf("creating gateway order: %w", ErrGatewayFailure)
	}

	if returned != "" && returned != orderID {
		// The gateway assigned its own reference; webhook lookups use it.
		if err := s.store.SetGatewayOrder(ctx, paymentID, returned); err != nil {
			return nil, err
		}
		record.GatewayOrderID = returned
	}

	s.logger.Info("stage payment submitted to gateway",
		"payment_id", record.ID,
		"proposal_id", record.ProposalID,
		"gateway_order_id", orderID,
		"correlation_id", record.CorrelationID,
	)

	s.publish(ctx, SubjectStageSubmitted, EventStageSubmitted, record, "")

	return record, nil
}

// ResolveStagePayment polls the gateway for the outcome of a processing
// record, typically one stranded by an order call that timed out. A
// settled order is confirmed, a failed order is marked failed, and an
// order the gateway still reports pending leaves the record untouched.
// Records already finalized are returned as-is.
func (s *Service) ResolveStagePayment(ctx context.Context, paymentID string) (*StagePayment, error) {
	record, err := s.store.GetStagePayment(ctx, paymentID)
	if err != nil {
		return nil, fmt.Errorf("loading stage payment: %w", err)
	}

	switch record.Status {
	case StageCompleted, StageFailed:
		return record, nil
	case StagePending:
		return nil, fmt.Errorf("record %s has not been submitted: %w", paymentID, ErrInvalidState)
	}

	if record.GatewayOrderID == "" {
		return nil, fmt.Errorf("record %s has no gateway order: %w", paymentID, ErrInvalidState)
	}

	status, err := s.gateway.GetStatus(ctx, record.GatewayOrderID)
	if err != nil {
		return nil, fmt.Errorf("polling order %s: %w", record.GatewayOrderID, ErrGatewayFailure)
	}

	s.logger.Info("resolving stranded stage payment",
		"payment_id", record.ID,
		"gateway_order_id", record.GatewayOrderID,
		"state", status.State,
		"correlation_id", record.CorrelationID,
	)

	switch status.State {
	case OrderStateSettled:
		confirmationID := status.TransactionID
		if confirmationID == "" {
			confirmationID = record.GatewayOrderID
		}
		resolved, err := s.ConfirmStagePayment(ctx, record.ID, confirmationID)
		if errors.Is(err, ErrAlreadyFinalized) {
			// A concurrent webhook delivery got there first.
			return s.store.GetStagePayment(ctx, record.ID)
		}
		return resolved, err
	case OrderStateFailed:
		code := status.ErrorCode
		if code == "" {
			code = "ORDER_FAILED"
		}
		if err := s.FailStagePayment(ctx, record.ID, code, status.ErrorMessage); err != nil && !errors.Is(err, ErrAlreadyFinalized) {
			return nil, err
		}
		return s.store.GetStagePayment(ctx, record.ID)
	default:
		// Still pending at the gateway; the webhook or a later poll
		// finishes the job.
		return record, nil
	}
}

// ConfirmStagePayment finalizes a stage payment after the gateway
// confirms collection. Duplicate confirmations surface ErrAlreadyFinalized
// and change nothing. The transaction log append is best-effort: its
// failure is logged and queued for replay, never rolled back against the
// completed payment.
func (s *Service) ConfirmStagePayment(ctx context.Context, paymentID, confirmationID string) (*StagePayment, error) {
	record, err := s.store.GetStagePayment(ctx, paymentID)
	if err != nil {
		return nil, fmt.Errorf("loading stage payment: %w", err)
	}

	now := time.Now().UTC()
	if err := s.store.MarkCompleted(ctx, paymentID, confirmationID, now); err != nil {
		if errors.Is(err, ErrAlreadyFinalized) {
			s.logger.Info("duplicate confirmation ignored",
				"payment_id", paymentID,
				"status", record.Status,
				"confirmation_id", confirmationID,
			)
		}
		return nil, err
	}
	record.Status = StageCompleted
	record.GatewayConfirmationID = confirmationID
	record.CompletedAt = &now

	s.appendTransaction(ctx, record, now)

	if status, ok := completedStatusFor(record.Stage); ok {
		if err := s.store.SetProposalPaymentStatus(ctx, record.ProposalID, status); err != nil {
			s.logger.Error("failed to advance proposal payment status",
				"proposal_id", record.ProposalID,
				"status", status,
				"error", err,
			)
		}
	}

	s.reconcileInvoice(ctx, record)

	s.logger.Info("stage payment completed",
		"payment_id", record.ID,
		"proposal_id", record.ProposalID,
		"stage", record.Stage,
		"gross", record.Gross.AmountMinor,
		"confirmation_id", confirmationID,
		"correlation_id", record.CorrelationID,
	)

	s.publish(ctx, SubjectStageCompleted, EventStageCompleted, record, "")

	return record, nil
}

// appendTransaction writes the raw movement record. The payment is the
// source of truth; a failed append is queued for replay instead of
// blocking completion.
func (s *Service) appendTransaction(ctx context.Context, record *StagePayment, at time.Time) {
	txn := &Transaction{
		ID:                    ulid.Make().String(),
		StagePaymentID:        record.ID,
		ProposalID:            record.ProposalID,
		Amount:                record.Gross,
		GatewayOrderID:        record.GatewayOrderID,
		GatewayConfirmationID: record.GatewayConfirmationID,
		OccurredAt:            at,
		CreatedAt:             time.Now().UTC(),
	}

	if err := s.store.AppendTransaction(ctx, txn); err != nil {
		s.logger.Error("transaction append failed, queuing for replay",
			"payment_id", record.ID,
			"error", err,
			"correlation_id", record.CorrelationID,
		)
		payload, marshalErr := json.Marshal(txn)
		if marshalErr != nil {
			return
		}
		retry := AuditRetryEvent{Record: "transaction", Payload: payload, Reason: err.Error()}
		if env, envErr := NewEnvelope(EventAuditRetry, record.CorrelationID, retry); envErr == nil && s.publisher != nil {
			if pubErr := s.publisher.Publish(ctx, SubjectAuditRetry, env); pubErr != nil {
				s.logger.Error("audit retry publish failed", "error", pubErr)
			}
		}
	}
}

func (s *Service) reconcileInvoice(ctx context.Context, record *StagePayment) {
	completed, err := s.store.ListCompletedStagePayments(ctx, record.ProposalID)
	if err != nil {
		s.logger.Error("failed to list completed payments for reconciliation",
			"proposal_id", record.ProposalID,
			"error", err,
		)
		return
	}

	paid := money.Zero(record.Gross.Currency)
	for _, p := range completed {
		paid = paid.MustAdd(p.Gross)
	}

	if _, err := s.invoices.Reconcile(ctx, record.ProposalID, paid); err != nil {
		s.logger.Error("invoice reconciliation failed",
			"proposal_id", record.ProposalID,
			"paid", paid.AmountMinor,
			"error", err,
			"correlation_id", record.CorrelationID,
		)
		return
	}

	if err := s.invoices.MarkMilestonePaid(ctx, record.ProposalID, string(record.Stage)); err != nil {
		s.logger.Error("milestone update failed",
			"proposal_id", record.ProposalID,
			"stage", record.Stage,
			"error", err,
		)
	}
}

// FailStagePayment marks a stage payment failed after a gateway error or
// signature rejection. The proposal's payment status is left untouched; a
// later EnsureStagePayment call sees no non-failed record and starts
// fresh.
func (s *Service) FailStagePayment(ctx context.Context, paymentID, code, message string) error {
	record, err := s.store.GetStagePayment(ctx, paymentID)
	if err != nil {
		return fmt.Errorf("loading stage payment: %w", err)
	}

	if err := s.store.MarkFailed(ctx, paymentID, code, message); err != nil {
		return err
	}
	record.Status = StageFailed

	s.logger.Warn("stage payment failed",
		"payment_id", paymentID,
		"proposal_id", record.ProposalID,
		"stage", record.Stage,
		"code", code,
		"correlation_id", record.CorrelationID,
	)

	s.publish(ctx, SubjectStageFailed, EventStageFailed, record, code)

	return nil
}

// GetStagePayment retrieves a stage payment by ID.
func (s *Service) GetStagePayment(ctx context.Context, paymentID string) (*StagePayment, error) {
	return s.store.GetStagePayment(ctx, paymentID)
}

// GetStagePaymentByOrderID retrieves a stage payment by gateway order ID.
func (s *Service) GetStagePaymentByOrderID(ctx context.Context, orderID string) (*StagePayment, error) {
	return s.store.GetStagePaymentByOrderID(ctx, orderID)
}

// ListStagePayments lists all stage payments for a proposal.
func (s *Service) ListStagePayments(ctx context.Context, proposalID string) ([]*StagePayment, error) {
	return s.store.ListStagePayments(ctx, proposalID)
}

// ListCommissionEntries lists the append-only commission ledger for a
// proposal, oldest first.
func (s *Service) ListCommissionEntries(ctx context.Context, proposalID string) ([]*CommissionEntry, error) {
	return s.store.ListCommissionEntries(ctx, proposalID)
}

func (s *Service) publish(ctx context.Context, subject string, eventType EventType, record *StagePayment, errorCode string) {
	if s.publisher == nil {
		return
	}

	event := StageEvent{
		PaymentID:  record.ID,
		ProposalID: record.ProposalID,
		Stage:      record.Stage,
		Status:     record.Status,
		Gross:      record.Gross,
		Commission: record.Commission,
		Net:        record.Net,
		OrderID:    record.GatewayOrderID,
		ErrorCode:  errorCode,
	}

	env, err := NewEnvelope(eventType, record.CorrelationID, event)
	if err != nil {
		return
	}
	if err := s.publisher.Publish(ctx, subject, env); err != nil {
		s.logger.Error("event publish failed",
			"subject", subject,
			"payment_id", record.ID,
			"error", err,
		)
	}
}

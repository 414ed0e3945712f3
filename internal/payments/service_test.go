package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/sachanni/brand-influencer-sub001/internal/commission"
	"github.com/sachanni/brand-influencer-sub001/internal/common/database"
	"github.com/sachanni/brand-influencer-sub001/internal/common/money"
	"github.com/sachanni/brand-influencer-sub001/internal/invoice"
)

// memStore is an in-memory Store that enforces the same uniqueness and
// status-guard semantics as the SQL schema.
type memStore struct {
	mu           sync.Mutex
	proposals    map[string]*Proposal
	stages       map[string]*StagePayment
	entries      []*CommissionEntry
	transactions []*Transaction

	failTransactions bool
}

func newMemStore() *memStore {
	return &memStore{
		proposals: make(map[string]*Proposal),
		stages:    make(map[string]*StagePayment),
	}
}

func (m *memStore) CreateProposal(_ context.Context, p *Proposal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.proposals[p.ID]; ok {
		return fmt.Errorf("proposal %s: %w", p.ID, database.ErrAlreadyExists)
	}
	cp := *p
	m.proposals[p.ID] = &cp
	return nil
}

func (m *memStore) GetProposal(_ context.Context, id string) (*Proposal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.proposals[id]
	if !ok {
		return nil, fmt.Errorf("proposal: %w", database.ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (m *memStore) SetProposalPaymentStatus(_ context.Context, id string, status PaymentStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.proposals[id]
	if !ok {
		return fmt.Errorf("proposal: %w", database.ErrNotFound)
	}
	p.PaymentStatus = status
	return nil
}

func (m *memStore) GetActiveStagePayment(_ context.Context, proposalID string, stage Stage) (*StagePayment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.stages {
		if r.ProposalID == proposalID && r.Stage == stage && r.Status != StageFailed {
			cp := *r
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("stage payment: %w", database.ErrNotFound)
}

func (m *memStore) GetStagePayment(_ context.Context, id string) (*StagePayment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.stages[id]
	if !ok {
		return nil, fmt.Errorf("stage payment: %w", database.ErrNotFound)
	}
	cp := *r
	return &cp, nil
}

func (m *memStore) GetStagePaymentByOrderID(_ context.Context, orderID string) (*StagePayment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.stages {
		if r.GatewayOrderID == orderID {
			cp := *r
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("stage payment: %w", database.ErrNotFound)
}

func (m *memStore) ListStagePayments(_ context.Context, proposalID string) ([]*StagePayment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*StagePayment
	for _, r := range m.stages {
		if r.ProposalID == proposalID {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memStore) ListCompletedStagePayments(_ context.Context, proposalID string) ([]*StagePayment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*StagePayment
	for _, r := range m.stages {
		if r.ProposalID == proposalID && r.Status == StageCompleted {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memStore) CreateStagePayment(_ context.Context, record *StagePayment, entry *CommissionEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.stages {
		if r.ProposalID == record.ProposalID && r.Stage == record.Stage && r.Status != StageFailed {
			return fmt.Errorf("proposal %s stage %s: %w", record.ProposalID, record.Stage, ErrDuplicateStage)
		}
	}
	cp := *record
	m.stages[record.ID] = &cp
	m.entries = append(m.entries, entry)
	return nil
}

func (m *memStore) CorrectStagePayment(_ context.Context, record *StagePayment, entry *CommissionEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.stages[record.ID]
	if !ok || stored.Status != StagePending {
		return fmt.Errorf("record %s is no longer pending: %w", record.ID, ErrAmountMismatch)
	}
	cp := *record
	m.stages[record.ID] = &cp
	m.entries = append(m.entries, entry)
	return nil
}

func (m *memStore) MarkProcessing(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.stages[id]
	if !ok || r.Status != StagePending {
		return fmt.Errorf("record %s not pending: %w", id, ErrAlreadyFinalized)
	}
	r.Status = StageProcessing
	return nil
}

func (m *memStore) SetGatewayOrder(_ context.Context, id, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.stages[id]
	if !ok {
		return fmt.Errorf("stage payment: %w", database.ErrNotFound)
	}
	r.GatewayOrderID = orderID
	return nil
}

func (m *memStore) MarkCompleted(_ context.Context, id, confirmationID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.stages[id]
	if !ok {
		return fmt.Errorf("stage payment: %w", database.ErrNotFound)
	}
	if r.Status != StagePending && r.Status != StageProcessing {
		return fmt.Errorf("record %s: %w", id, ErrAlreadyFinalized)
	}
	r.Status = StageCompleted
	r.GatewayConfirmationID = confirmationID
	r.CompletedAt = &at
	return nil
}

func (m *memStore) MarkFailed(_ context.Context, id, code, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.stages[id]
	if !ok {
		return fmt.Errorf("stage payment: %w", database.ErrNotFound)
	}
	if r.Status != StagePending && r.Status != StageProcessing {
		return fmt.Errorf("record %s: %w", id, ErrAlreadyFinalized)
	}
	r.Status = StageFailed
	r.FailureCode = code
	r.FailureMessage = message
	return nil
}

func (m *memStore) AppendTransaction(_ context.Context, txn *Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failTransactions {
		return errors.New("transaction log unavailable")
	}
	m.transactions = append(m.transactions, txn)
	return nil
}

func (m *memStore) ListCommissionEntries(_ context.Context, proposalID string) ([]*CommissionEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*CommissionEntry
	for _, e := range m.entries {
		if e.ProposalID == proposalID {
			out = append(out, e)
		}
	}
	return out, nil
}

type fakeGateway struct {
	mu        sync.Mutex
	orders    int
	err       error
	status    OrderStatus
	statusErr error
	polled    []string
}

func (g *fakeGateway) CreateOrder(_ context.Context, req OrderRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return "", g.err
	}
	g.orders++
	return req.OrderID, nil
}

func (g *fakeGateway) GetStatus(_ context.Context, orderID string) (OrderStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.polled = append(g.polled, orderID)
	if g.statusErr != nil {
		return OrderStatus{}, g.statusErr
	}
	status := g.status
	status.OrderID = orderID
	return status, nil
}

type fakeInvoices struct {
	mu         sync.Mutex
	generated  int
	reconciled []money.Money
	milestones []string
}

func (f *fakeInvoices) Generate(_ context.Context, in invoice.GenerateInput) (*invoice.Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.generated++
	return &invoice.Invoice{ProposalID: in.ProposalID}, nil
}

func (f *fakeInvoices) Reconcile(_ context.Context, proposalID string, paid money.Money) (*invoice.Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconciled = append(f.reconciled, paid)
	return &invoice.Invoice{ProposalID: proposalID}, nil
}

func (f *fakeInvoices) MarkMilestonePaid(_ context.Context, _, stage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.milestones = append(f.milestones, stage)
	return nil
}

type capturingPublisher struct {
	mu       sync.Mutex
	subjects []string
}

func (p *capturingPublisher) Publish(_ context.Context, subject string, _ any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subjects = append(p.subjects, subject)
	return nil
}

func (p *capturingPublisher) seen(subject string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, s := range p.subjects {
		if s == subject {
			n++
		}
	}
	return n
}

type fixture struct {
	store     *memStore
	gateway   *fakeGateway
	invoices  *fakeInvoices
	publisher *capturingPublisher
	service   *Service
}

func newFixture() *fixture {
	store := newMemStore()
	gw := &fakeGateway{}
	inv := &fakeInvoices{}
	pub := &capturingPublisher{}
	svc := NewService(
		store,
		commission.New(commission.Config{CommissionBps: 500}),
		inv, gw, pub,
		Config{StageDueIn: 24 * time.Hour},
		slog.New(slog.NewTextHandler(discard{}, nil)),
	)
	return &fixture{store: store, gateway: gw, invoices: inv, publisher: pub, service: svc}
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func seedProposal(f *fixture, approval ApprovalStatus, split StageSplit, published bool) *Proposal {
	p := &Proposal{
		ID:               "prop-1",
		CampaignID:       "camp-1",
		BrandID:          "brand-1",
		InfluencerID:     "inf-1",
		ApprovalStatus:   approval,
		PaymentStatus:    PaymentNone,
		Compensation:     money.New(100000*100, money.INR),
		TaxRegion:        "IN",
		Split:            split,
		ContentPublished: published,
		CreatedAt:        time.Now().UTC(),
		UpdatedAt:        time.Now().UTC(),
	}
	f.store.proposals[p.ID] = p
	return p
}

func TestEnsureStagePaymentCreates(t *testing.T) {
	f := newFixture()
	seedProposal(f, ApprovalApproved, StageSplit{}, false)

	record, err := f.service.EnsureStagePayment(context.Background(), "prop-1", StageUpfront)
	if err != nil {
		t.Fatalf("EnsureStagePayment: %v", err)
	}
	if record == nil {
		t.Fatal("expected a record")
	}

	if record.Status != StagePending {
		t.Errorf("status = %s, want pending", record.Status)
	}
	if got, want := record.Gross.AmountMinor, int64(59000*100); got != want {
		t.Errorf("gross = %d, want %d", got, want)
	}
	if got, want := record.Commission.AmountMinor, int64(2950*100); got != want {
		t.Errorf("commission = %d, want %d", got, want)
	}
	if !record.Commission.MustAdd(record.Net).Equal(record.Gross) {
		t.Error("commission + net must equal gross")
	}

	entries, _ := f.store.ListCommissionEntries(context.Background(), "prop-1")
	if len(entries) != 1 || entries[0].Kind != EntryInitial {
		t.Fatalf("expected one initial ledger entry, got %d", len(entries))
	}

	if f.invoices.generated == 0 {
		t.Error("invoice should be generated when the proposal becomes payable")
	}
	if f.store.proposals["prop-1"].PaymentStatus != PaymentUpfrontPending {
		t.Errorf("proposal payment status = %s, want upfront_pending", f.store.proposals["prop-1"].PaymentStatus)
	}
	if f.publisher.seen(SubjectStageCreated) != 1 {
		t.Error("expected one created event")
	}
}

func TestEnsureStagePaymentIdempotent(t *testing.T) {
	f := newFixture()
	seedProposal(f, ApprovalApproved, StageSplit{}, false)

	first, err := f.service.EnsureStagePayment(context.Background(), "prop-1", StageUpfront)
	if err != nil {
		t.Fatalf("first ensure: %v", err)
	}
	second, err := f.service.EnsureStagePayment(context.Background(), "prop-1", StageUpfront)
	if err != nil {
		t.Fatalf("second ensure: %v", err)
	}

	if first.ID != second.ID {
		t.Errorf("expected the same record, got %s and %s", first.ID, second.ID)
	}
	entries, _ := f.store.ListCommissionEntries(context.Background(), "prop-1")
	if len(entries) != 1 {
		t.Errorf("repeat ensure must not add ledger entries, got %d", len(entries))
	}
	if f.publisher.seen(SubjectStageCreated) != 1 {
		t.Error("repeat ensure must not re-publish created event")
	}
}

func TestEnsureStagePaymentConcurrent(t *testing.T) {
	f := newFixture()
	seedProposal(f, ApprovalApproved, StageSplit{}, false)

	const n = 16
	ids := make([]string, n)
	errs := make([]error, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := f.service.EnsureStagePayment(context.Background(), "prop-1", StageUpfront)
			if r != nil {
				ids[i] = r.ID
			}
			errs[i] = err
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if ids[i] != ids[0] {
			t.Fatalf("caller %d got record %s, caller 0 got %s", i, ids[i], ids[0])
		}
	}

	records, _ := f.store.ListStagePayments(context.Background(), "prop-1")
	if len(records) != 1 {
		t.Fatalf("expected exactly one record, got %d", len(records))
	}
}

func TestEnsureStagePaymentCorrectsPending(t *testing.T) {
	f := newFixture()
	p := seedProposal(f, ApprovalApproved, StageSplit{}, false)

	record, err := f.service.EnsureStagePayment(context.Background(), "prop-1", StageUpfront)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}

	// Compensation renegotiated while the record is still pending.
	f.store.mu.Lock()
	p.Compensation = money.New(120000*100, money.INR)
	f.store.mu.Unlock()

	corrected, err := f.service.EnsureStagePayment(context.Background(), "prop-1", StageUpfront)
	if err != nil {
		t.Fatalf("ensure after change: %v", err)
	}

	if corrected.ID != record.ID {
		t.Errorf("correction must keep the record, got new ID %s", corrected.ID)
	}
	if got, want := corrected.Gross.AmountMinor, int64(70800*100); got != want {
		t.Errorf("corrected gross = %d, want %d", got, want)
	}
	if corrected.CorrectionNote == "" {
		t.Error("corrected record should carry a note")
	}

	entries, _ := f.store.ListCommissionEntries(context.Background(), "prop-1")
	if len(entries) != 2 {
		t.Fatalf("expected initial + corrective entries, got %d", len(entries))
	}
	if entries[1].Kind != EntryCorrection {
		t.Errorf("second entry kind = %s, want correction", entries[1].Kind)
	}
	if f.publisher.seen(SubjectStageCorrected) != 1 {
		t.Error("expected one corrected event")
	}
}

func TestEnsureStagePaymentMismatchAfterPending(t *testing.T) {
	f := newFixture()
	p := seedProposal(f, ApprovalApproved, StageSplit{}, false)

	record, err := f.service.EnsureStagePayment(context.Background(), "prop-1", StageUpfront)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if _, err := f.service.SubmitStagePayment(context.Background(), record.ID); err != nil {
		t.Fatalf("submit: %v", err)
	}

	f.store.mu.Lock()
	p.Compensation = money.New(120000*100, money.INR)
	f.store.mu.Unlock()

	if _, err := f.service.EnsureStagePayment(context.Background(), "prop-1", StageUpfront); !errors.Is(err, ErrAmountMismatch) {
		t.Fatalf("expected ErrAmountMismatch, got %v", err)
	}
}

func TestEnsureStagePaymentPreconditions(t *testing.T) {
	cases := []struct {
		name     string
		approval ApprovalStatus
		stage    Stage
		wantErr  bool
	}{
		{"upfront before approval", ApprovalPending, StageUpfront, true},
		{"upfront after approval", ApprovalApproved, StageUpfront, false},
		{"completion before deliverables", ApprovalApproved, StageCompletion, true},
		{"completion after deliverables", ApprovalDeliverablesSubmitted, StageCompletion, false},
		{"full after approval", ApprovalApproved, StageFull, false},
		{"rejected freezes everything", ApprovalRejected, StageUpfront, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture()
			seedProposal(f, tc.approval, StageSplit{}, false)

			_, err := f.service.EnsureStagePayment(context.Background(), "prop-1", tc.stage)
			if tc.wantErr {
				if !errors.Is(err, ErrInvalidState) {
					t.Fatalf("expected ErrInvalidState, got %v", err)
				}
			} else if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestEnsureFullStageUsesWholeCompensation(t *testing.T) {
	f := newFixture()
	seedProposal(f, ApprovalApproved, StageSplit{}, false)

	record, err := f.service.EnsureStagePayment(context.Background(), "prop-1", StageFull)
	if err != nil {
		t.Fatalf("ensure full: %v", err)
	}
	if got, want := record.Gross.AmountMinor, int64(118000*100); got != want {
		t.Errorf("full gross = %d, want %d", got, want)
	}
}

func TestEnsureBonusStageNotApplicable(t *testing.T) {
	f := newFixture()

	// No bonus share configured.
	seedProposal(f, ApprovalDeliverablesSubmitted, StageSplit{}, true)
	record, err := f.service.EnsureStagePayment(context.Background(), "prop-1", StageBonus)
	if err != nil {
		t.Fatalf("ensure bonus: %v", err)
	}
	if record != nil {
		t.Fatal("bonus without a configured share must be a no-op")
	}

	// Bonus share configured but content not yet published.
	f = newFixture()
	seedProposal(f, ApprovalDeliverablesSubmitted, StageSplit{UpfrontBps: 4000, CompletionBps: 4000, BonusBps: 2000}, false)
	record, err = f.service.EnsureStagePayment(context.Background(), "prop-1", StageBonus)
	if err != nil {
		t.Fatalf("ensure bonus: %v", err)
	}
	if record != nil {
		t.Fatal("bonus before content publication must be a no-op")
	}

	records, _ := f.store.ListStagePayments(context.Background(), "prop-1")
	if len(records) != 0 {
		t.Fatalf("no records should exist, got %d", len(records))
	}
}

func TestEnsureBonusStageCreatesWhenEligible(t *testing.T) {
	f := newFixture()
	seedProposal(f, ApprovalDeliverablesSubmitted, StageSplit{UpfrontBps: 4000, CompletionBps: 4000, BonusBps: 2000}, true)

	record, err := f.service.EnsureStagePayment(context.Background(), "prop-1", StageBonus)
	if err != nil {
		t.Fatalf("ensure bonus: %v", err)
	}
	if record == nil {
		t.Fatal("expected a bonus record")
	}
	// 20% of tax-inclusive 118,000.
	if got, want := record.Gross.AmountMinor, int64(23600*100); got != want {
		t.Errorf("bonus gross = %d, want %d", got, want)
	}
	// Bonus creation must not advance the proposal payment status.
	if f.store.proposals["prop-1"].PaymentStatus != PaymentNone {
		t.Errorf("payment status = %s, want none", f.store.proposals["prop-1"].PaymentStatus)
	}
}

func TestSubmitAndConfirmLifecycle(t *testing.T) {
	f := newFixture()
	seedProposal(f, ApprovalApproved, StageSplit{}, false)

	record, err := f.service.EnsureStagePayment(context.Background(), "prop-1", StageUpfront)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}

	submitted, err := f.service.SubmitStagePayment(context.Background(), record.ID)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if submitted.Status != StageProcessing {
		t.Errorf("status after submit = %s, want processing", submitted.Status)
	}
	if submitted.GatewayOrderID == "" {
		t.Error("submit must record the gateway order ID")
	}

	confirmed, err := f.service.ConfirmStagePayment(context.Background(), record.ID, "txn-abc")
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if confirmed.Status != StageCompleted {
		t.Errorf("status after confirm = %s, want completed", confirmed.Status)
	}
	if confirmed.GatewayConfirmationID != "txn-abc" {
		t.Errorf("confirmation ID = %s", confirmed.GatewayConfirmationID)
	}

	if len(f.store.transactions) != 1 {
		t.Fatalf("expected one transaction record, got %d", len(f.store.transactions))
	}
	if f.store.proposals["prop-1"].PaymentStatus != PaymentWorkInProgress {
		t.Errorf("payment status = %s, want work_in_progress", f.store.proposals["prop-1"].PaymentStatus)
	}

	if len(f.invoices.reconciled) != 1 {
		t.Fatalf("expected one reconciliation, got %d", len(f.invoices.reconciled))
	}
	if !f.invoices.reconciled[0].Equal(confirmed.Gross) {
		t.Errorf("reconciled paid = %d, want %d", f.invoices.reconciled[0].AmountMinor, confirmed.Gross.AmountMinor)
	}
	if len(f.invoices.milestones) != 1 || f.invoices.milestones[0] != "upfront" {
		t.Errorf("milestones marked = %v", f.invoices.milestones)
	}
}

func TestConfirmDuplicateIsNoOp(t *testing.T) {
	f := newFixture()
	seedProposal(f, ApprovalApproved, StageSplit{}, false)

	record, _ := f.service.EnsureStagePayment(context.Background(), "prop-1", StageUpfront)
	if _, err := f.service.SubmitStagePayment(context.Background(), record.ID); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := f.service.ConfirmStagePayment(context.Background(), record.ID, "txn-1"); err != nil {
		t.Fatalf("first confirm: %v", err)
	}

	if _, err := f.service.ConfirmStagePayment(context.Background(), record.ID, "txn-2"); !errors.Is(err, ErrAlreadyFinalized) {
		t.Fatalf("expected ErrAlreadyFinalized, got %v", err)
	}

	stored, _ := f.service.GetStagePayment(context.Background(), record.ID)
	if stored.GatewayConfirmationID != "txn-1" {
		t.Errorf("duplicate confirm must not overwrite confirmation, got %s", stored.GatewayConfirmationID)
	}
	if len(f.store.transactions) != 1 {
		t.Errorf("duplicate confirm must not append transactions, got %d", len(f.store.transactions))
	}
}

func TestConfirmSurvivesTransactionLogOutage(t *testing.T) {
	f := newFixture()
	seedProposal(f, ApprovalApproved, StageSplit{}, false)

	record, _ := f.service.EnsureStagePayment(context.Background(), "prop-1", StageUpfront)
	if _, err := f.service.SubmitStagePayment(context.Background(), record.ID); err != nil {
		t.Fatalf("submit: %v", err)
	}

	f.store.mu.Lock()
	f.store.failTransactions = true
	f.store.mu.Unlock()

	confirmed, err := f.service.ConfirmStagePayment(context.Background(), record.ID, "txn-1")
	if err != nil {
		t.Fatalf("confirm must succeed despite log outage: %v", err)
	}
	if confirmed.Status != StageCompleted {
		t.Errorf("status = %s, want completed", confirmed.Status)
	}
	if f.publisher.seen(SubjectAuditRetry) != 1 {
		t.Error("expected an audit retry event for the failed append")
	}
}

func TestFailedStageIsRetryable(t *testing.T) {
	f := newFixture()
	seedProposal(f, ApprovalApproved, StageSplit{}, false)

	record, _ := f.service.EnsureStagePayment(context.Background(), "prop-1", StageUpfront)
	if err := f.service.FailStagePayment(context.Background(), record.ID, "DECLINED", "card declined"); err != nil {
		t.Fatalf("fail: %v", err)
	}

	retry, err := f.service.EnsureStagePayment(context.Background(), "prop-1", StageUpfront)
	if err != nil {
		t.Fatalf("ensure after failure: %v", err)
	}
	if retry.ID == record.ID {
		t.Error("retry must create a fresh record")
	}
	if retry.Status != StagePending {
		t.Errorf("retry status = %s, want pending", retry.Status)
	}

	records, _ := f.store.ListStagePayments(context.Background(), "prop-1")
	if len(records) != 2 {
		t.Fatalf("failed record must be kept as history, got %d records", len(records))
	}
}

func TestSubmitGatewayRejection(t *testing.T) {
	f := newFixture()
	seedProposal(f, ApprovalApproved, StageSplit{}, false)

	record, _ := f.service.EnsureStagePayment(context.Background(), "prop-1", StageUpfront)

	f.gateway.err = errors.New("order rejected")
	if _, err := f.service.SubmitStagePayment(context.Background(), record.ID); !errors.Is(err, ErrGatewayFailure) {
		t.Fatalf("expected ErrGatewayFailure, got %v", err)
	}

	stored, _ := f.service.GetStagePayment(context.Background(), record.ID)
	if stored.Status != StageFailed {
		t.Errorf("status = %s, want failed", stored.Status)
	}
	if f.publisher.seen(SubjectStageFailed) != 1 {
		t.Error("expected a failed event")
	}
}

func TestSubmitGatewayTimeoutStaysProcessing(t *testing.T) {
	f := newFixture()
	seedProposal(f, ApprovalApproved, StageSplit{}, false)

	record, _ := f.service.EnsureStagePayment(context.Background(), "prop-1", StageUpfront)

	f.gateway.err = fmt.Errorf("order call: %w", context.DeadlineExceeded)
	if _, err := f.service.SubmitStagePayment(context.Background(), record.ID); !errors.Is(err, ErrGatewayFailure) {
		t.Fatalf("expected ErrGatewayFailure, got %v", err)
	}

	stored, _ := f.service.GetStagePayment(context.Background(), record.ID)
	if stored.Status != StageProcessing {
		t.Errorf("status after timeout = %s, want processing", stored.Status)
	}
	// The order ID must already be persisted so the webhook or a status
	// poll can still find the record.
	if got, want := stored.GatewayOrderID, "ORD-"+record.ID; got != want {
		t.Errorf("gateway order ID = %q, want %q", got, want)
	}
}

func TestOversubscribedSplitRejected(t *testing.T) {
	f := newFixture()
	seedProposal(f, ApprovalApproved, StageSplit{UpfrontBps: 6000, CompletionBps: 5000, BonusBps: 0}, false)

	if _, err := f.service.EnsureStagePayment(context.Background(), "prop-1", StageUpfront); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState for oversubscribed split, got %v", err)
	}
}

func TestCreateProposal(t *testing.T) {
	f := newFixture()

	proposal, err := f.service.CreateProposal(context.Background(), NewProposalInput{
		CampaignID:   "camp-1",
		BrandID:      "brand-1",
		InfluencerID: "inf-1",
		Compensation: money.New(100000*100, money.INR),
		TaxRegion:    "IN",
		Split:        StageSplit{UpfrontBps: 4000, CompletionBps: 4000, BonusBps: 2000},
		Deliverables: []string{"reel", "story"},
	})
	if err != nil {
		t.Fatalf("CreateProposal: %v", err)
	}
	if proposal.ID == "" {
		t.Fatal("expected a generated proposal ID")
	}
	if proposal.ApprovalStatus != ApprovalPending {
		t.Errorf("approval status = %s, want pending", proposal.ApprovalStatus)
	}
	if proposal.PaymentStatus != PaymentNone {
		t.Errorf("payment status = %s, want none", proposal.PaymentStatus)
	}

	stored, err := f.service.GetProposal(context.Background(), proposal.ID)
	if err != nil {
		t.Fatalf("GetProposal: %v", err)
	}
	if !stored.Compensation.Equal(proposal.Compensation) {
		t.Errorf("stored compensation = %d, want %d", stored.Compensation.AmountMinor, proposal.Compensation.AmountMinor)
	}
}

func TestCreateProposalRejectsBadInput(t *testing.T) {
	cases := []struct {
		name string
		in   NewProposalInput
	}{
		{"zero compensation", NewProposalInput{
			CampaignID: "c", BrandID: "b", InfluencerID: "i",
			Compensation: money.New(0, money.INR), TaxRegion: "IN",
		}},
		{"unknown currency", NewProposalInput{
			CampaignID: "c", BrandID: "b", InfluencerID: "i",
			Compensation: money.New(1000, money.Currency("XXX")), TaxRegion: "IN",
		}},
		{"oversubscribed split", NewProposalInput{
			CampaignID: "c", BrandID: "b", InfluencerID: "i",
			Compensation: money.New(1000, money.INR), TaxRegion: "IN",
			Split: StageSplit{UpfrontBps: 6000, CompletionBps: 5000},
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture()
			if _, err := f.service.CreateProposal(context.Background(), tc.in); !errors.Is(err, ErrInvalidState) {
				t.Fatalf("expected ErrInvalidState, got %v", err)
			}
		})
	}
}

// submitStranded drives a record into processing with the order call
// timing out, the situation ResolveStagePayment exists for.
func submitStranded(t *testing.T, f *fixture) *StagePayment {
	t.Helper()

	record, err := f.service.EnsureStagePayment(context.Background(), "prop-1", StageUpfront)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}

	f.gateway.mu.Lock()
	f.gateway.err = fmt.Errorf("order call: %w", context.DeadlineExceeded)
	f.gateway.mu.Unlock()
	if _, err := f.service.SubmitStagePayment(context.Background(), record.ID); !errors.Is(err, ErrGatewayFailure) {
		t.Fatalf("expected ErrGatewayFailure, got %v", err)
	}
	f.gateway.mu.Lock()
	f.gateway.err = nil
	f.gateway.mu.Unlock()

	stored, _ := f.service.GetStagePayment(context.Background(), record.ID)
	return stored
}

func TestResolveSettledOrderCompletes(t *testing.T) {
	f := newFixture()
	seedProposal(f, ApprovalApproved, StageSplit{}, false)
	record := submitStranded(t, f)

	f.gateway.status = OrderStatus{State: OrderStateSettled, TransactionID: "txn-99"}

	resolved, err := f.service.ResolveStagePayment(context.Background(), record.ID)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.Status != StageCompleted {
		t.Errorf("status = %s, want completed", resolved.Status)
	}
	if resolved.GatewayConfirmationID != "txn-99" {
		t.Errorf("confirmation ID = %s, want txn-99", resolved.GatewayConfirmationID)
	}
	if len(f.gateway.polled) != 1 || f.gateway.polled[0] != record.GatewayOrderID {
		t.Errorf("polled orders = %v, want [%s]", f.gateway.polled, record.GatewayOrderID)
	}
	if len(f.store.transactions) != 1 {
		t.Errorf("expected one transaction record, got %d", len(f.store.transactions))
	}
	if f.store.proposals["prop-1"].PaymentStatus != PaymentWorkInProgress {
		t.Errorf("payment status = %s, want work_in_progress", f.store.proposals["prop-1"].PaymentStatus)
	}
}

func TestResolveFailedOrderMarksFailed(t *testing.T) {
	f := newFixture()
	seedProposal(f, ApprovalApproved, StageSplit{}, false)
	record := submitStranded(t, f)

	f.gateway.status = OrderStatus{State: OrderStateFailed, ErrorCode: "EXPIRED", ErrorMessage: "order expired"}

	resolved, err := f.service.ResolveStagePayment(context.Background(), record.ID)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.Status != StageFailed {
		t.Errorf("status = %s, want failed", resolved.Status)
	}
	if resolved.FailureCode != "EXPIRED" {
		t.Errorf("failure code = %s, want EXPIRED", resolved.FailureCode)
	}
	if f.publisher.seen(SubjectStageFailed) != 1 {
		t.Error("expected a failed event")
	}
}

func TestResolvePendingOrderLeavesProcessing(t *testing.T) {
	f := newFixture()
	seedProposal(f, ApprovalApproved, StageSplit{}, false)
	record := submitStranded(t, f)

	f.gateway.status = OrderStatus{State: OrderStatePending}

	resolved, err := f.service.ResolveStagePayment(context.Background(), record.ID)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.Status != StageProcessing {
		t.Errorf("status = %s, want processing", resolved.Status)
	}
}

func TestResolveUnsubmittedRecordRejected(t *testing.T) {
	f := newFixture()
	seedProposal(f, ApprovalApproved, StageSplit{}, false)

	record, err := f.service.EnsureStagePayment(context.Background(), "prop-1", StageUpfront)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if _, err := f.service.ResolveStagePayment(context.Background(), record.ID); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestResolveFinalizedRecordIsNoOp(t *testing.T) {
	f := newFixture()
	seedProposal(f, ApprovalApproved, StageSplit{}, false)

	record, _ := f.service.EnsureStagePayment(context.Background(), "prop-1", StageUpfront)
	if _, err := f.service.SubmitStagePayment(context.Background(), record.ID); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := f.service.ConfirmStagePayment(context.Background(), record.ID, "txn-1"); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	resolved, err := f.service.ResolveStagePayment(context.Background(), record.ID)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.Status != StageCompleted {
		t.Errorf("status = %s, want completed", resolved.Status)
	}
	if len(f.gateway.polled) != 0 {
		t.Errorf("finalized record must not be polled, polled %v", f.gateway.polled)
	}
}

func TestConfirmStageAdvancesProposal(t *testing.T) {
	cases := []struct {
		stage    Stage
		approval ApprovalStatus
		split    StageSplit
		want     PaymentStatus
	}{
		{StageUpfront, ApprovalApproved, StageSplit{}, PaymentWorkInProgress},
		{StageCompletion, ApprovalDeliverablesSubmitted, StageSplit{}, PaymentCompleted},
		{StageFull, ApprovalApproved, StageSplit{}, PaymentCompleted},
		{StageBonus, ApprovalDeliverablesSubmitted, StageSplit{UpfrontBps: 4000, CompletionBps: 4000, BonusBps: 2000}, PaymentFullyCompleted},
	}

	for _, tc := range cases {
		t.Run(string(tc.stage), func(t *testing.T) {
			f := newFixture()
			seedProposal(f, tc.approval, tc.split, true)

			record, err := f.service.EnsureStagePayment(context.Background(), "prop-1", tc.stage)
			if err != nil {
				t.Fatalf("ensure: %v", err)
			}
			if _, err := f.service.ConfirmStagePayment(context.Background(), record.ID, "txn-1"); err != nil {
				t.Fatalf("confirm: %v", err)
			}
			if got := f.store.proposals["prop-1"].PaymentStatus; got != tc.want {
				t.Errorf("payment status = %s, want %s", got, tc.want)
			}
		})
	}
}

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/sachanni/brand-influencer-sub001/internal/commission"
	"github.com/sachanni/brand-influencer-sub001/internal/common/database"
	"github.com/sachanni/brand-influencer-sub001/internal/payments"
)

// proposalStore is a minimal in-memory payments.Store for handler tests;
// only the proposal paths are exercised here.
type proposalStore struct {
	mu        sync.Mutex
	proposals map[string]*payments.Proposal
}

func newProposalStore() *proposalStore {
	return &proposalStore{proposals: make(map[string]*payments.Proposal)}
}

func (s *proposalStore) CreateProposal(_ context.Context, p *payments.Proposal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.proposals[p.ID]; ok {
		return fmt.Errorf("proposal %s: %w", p.ID, database.ErrAlreadyExists)
	}
	cp := *p
	s.proposals[p.ID] = &cp
	return nil
}

func (s *proposalStore) GetProposal(_ context.Context, id string) (*payments.Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.proposals[id]
	if !ok {
		return nil, fmt.Errorf("proposal: %w", database.ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (s *proposalStore) SetProposalPaymentStatus(context.Context, string, payments.PaymentStatus) error {
	return nil
}

func (s *proposalStore) GetActiveStagePayment(context.Context, string, payments.Stage) (*payments.StagePayment, error) {
	return nil, fmt.Errorf("stage payment: %w", database.ErrNotFound)
}

func (s *proposalStore) GetStagePayment(context.Context, string) (*payments.StagePayment, error) {
	return nil, fmt.Errorf("stage payment: %w", database.ErrNotFound)
}

func (s *proposalStore) GetStagePaymentByOrderID(context.Context, string) (*payments.StagePayment, error) {
	return nil, fmt.Errorf("stage payment: %w", database.ErrNotFound)
}

func (s *proposalStore) ListStagePayments(context.Context, string) ([]*payments.StagePayment, error) {
	return nil, nil
}

func (s *proposalStore) ListCompletedStagePayments(context.Context, string) ([]*payments.StagePayment, error) {
	return nil, nil
}

func (s *proposalStore) CreateStagePayment(context.Context, *payments.StagePayment, *payments.CommissionEntry) error {
	return nil
}

func (s *proposalStore) CorrectStagePayment(context.Context, *payments.StagePayment, *payments.CommissionEntry) error {
	return nil
}

func (s *proposalStore) MarkProcessing(context.Context, string) error { return nil }

func (s *proposalStore) SetGatewayOrder(context.Context, string, string) error { return nil }

func (s *proposalStore) MarkCompleted(context.Context, string, string, time.Time) error { return nil }

func (s *proposalStore) MarkFailed(context.Context, string, string, string) error { return nil }

func (s *proposalStore) AppendTransaction(context.Context, *payments.Transaction) error { return nil }

func (s *proposalStore) ListCommissionEntries(context.Context, string) ([]*payments.CommissionEntry, error) {
	return nil, nil
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	service := payments.NewService(
		newProposalStore(),
		commission.New(commission.Config{CommissionBps: 500}),
		nil, nil, nil,
		payments.Config{StageDueIn: 24 * time.Hour},
		slog.New(slog.NewTextHandler(nopWriter{}, nil)),
	)
	return NewHandler(service, nil).Routes()
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string            `json:"code"`
		Details map[string]string `json:"details"`
	} `json:"error"`
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
			t.Fatalf("unmarshal response: %v", err)
		}
	}
	return rec, env
}

func TestCreateProposalEndpoint(t *testing.T) {
	router := newTestRouter(t)

	rec, env := doJSON(t, router, http.MethodPost, "/proposals", map[string]any{
		"campaign_id":        "camp-1",
		"brand_id":           "brand-1",
		"influencer_id":      "inf-1",
		"compensation_minor": 10000000,
		"currency":           "INR",
		"tax_region":         "IN",
		"upfront_bps":        5000,
		"completion_bps":     5000,
		"deliverables":       []string{"reel"},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}

	var created payments.Proposal
	if err := json.Unmarshal(env.Data, &created); err != nil {
		t.Fatalf("unmarshal proposal: %v", err)
	}
	if created.ID == "" {
		t.Fatal("expected a generated proposal ID")
	}
	if created.ApprovalStatus != payments.ApprovalPending {
		t.Errorf("approval status = %s, want pending", created.ApprovalStatus)
	}

	rec, env = doJSON(t, router, http.MethodGet, "/proposals/"+created.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d, want 200", rec.Code)
	}
}

func TestCreateProposalValidation(t *testing.T) {
	router := newTestRouter(t)

	// Missing brand, influencer and tax region; compensation not positive.
	rec, env := doJSON(t, router, http.MethodPost, "/proposals", map[string]any{
		"campaign_id":        "camp-1",
		"compensation_minor": 0,
		"currency":           "INR",
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422: %s", rec.Code, rec.Body.String())
	}
	if env.Error == nil || env.Error.Code != "VALIDATION_ERROR" {
		t.Fatalf("error = %+v, want VALIDATION_ERROR", env.Error)
	}
	if _, ok := env.Error.Details["BrandID"]; !ok {
		t.Errorf("expected a detail for the missing brand, got %v", env.Error.Details)
	}
}

func TestCreateProposalRejectsOversubscribedSplit(t *testing.T) {
	router := newTestRouter(t)

	rec, env := doJSON(t, router, http.MethodPost, "/proposals", map[string]any{
		"campaign_id":        "camp-1",
		"brand_id":           "brand-1",
		"influencer_id":      "inf-1",
		"compensation_minor": 10000000,
		"currency":           "INR",
		"tax_region":         "IN",
		"upfront_bps":        6000,
		"completion_bps":     5000,
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409: %s", rec.Code, rec.Body.String())
	}
	if env.Error == nil || env.Error.Code != "INVALID_STATE" {
		t.Fatalf("error = %+v, want INVALID_STATE", env.Error)
	}
}

func TestEnsureStageRejectsUnknownStage(t *testing.T) {
	router := newTestRouter(t)

	rec, env := doJSON(t, router, http.MethodPost, "/proposals/prop-1/stages/halfsies", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if env.Error == nil || env.Error.Code != "BAD_REQUEST" {
		t.Fatalf("error = %+v, want BAD_REQUEST", env.Error)
	}
}

func TestGetProposalNotFound(t *testing.T) {
	router := newTestRouter(t)

	rec, env := doJSON(t, router, http.MethodGet, "/proposals/nope", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if env.Error == nil || env.Error.Code != "NOT_FOUND" {
		t.Fatalf("error = %+v, want NOT_FOUND", env.Error)
	}
}

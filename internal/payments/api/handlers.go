package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sachanni/brand-influencer-sub001/internal/common/api"
	"github.com/sachanni/brand-influencer-sub001/internal/common/database"
	"github.com/sachanni/brand-influencer-sub001/internal/common/money"
	"github.com/sachanni/brand-influencer-sub001/internal/invoice"
	"github.com/sachanni/brand-influencer-sub001/internal/payments"
)

// Handler handles payment orchestration HTTP requests
type Handler struct {
	service  *payments.Service
	invoices *invoice.Service
}

// NewHandler creates a new payments handler
func NewHandler(service *payments.Service, invoices *invoice.Service) *Handler {
	return &Handler{service: service, invoices: invoices}
}

// Routes returns the payment routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	// Proposal intake
	r.Post("/proposals", h.CreateProposal)
	r.Get("/proposals/{proposalID}", h.GetProposal)

	// Stage payment routes
	r.Post("/proposals/{proposalID}/stages/{stage}", h.EnsureStage)
	r.Get("/proposals/{proposalID}/stages", h.ListStages)
	r.Get("/proposals/{proposalID}/ledger", h.ListLedger)
	r.Get("/payments/{paymentID}", h.GetPayment)
	r.Post("/payments/{paymentID}/submit", h.SubmitPayment)
	r.Post("/payments/{paymentID}/resolve", h.ResolvePayment)

	// Invoice routes
	r.Get("/proposals/{proposalID}/invoice", h.GetInvoice)
	r.Get("/proposals/{proposalID}/invoice/document", h.GetInvoiceDocument)
	r.Get("/proposals/{proposalID}/milestones", h.GetMilestones)

	return r
}

// CreateProposalRequest is the intake request body.
type CreateProposalRequest struct {
	CampaignID        string   `json:"campaign_id" validate:"required"`
	BrandID           string   `json:"brand_id" validate:"required"`
	InfluencerID      string   `json:"influencer_id" validate:"required"`
	CompensationMinor int64    `json:"compensation_minor" validate:"required,gt=0"`
	Currency          string   `json:"currency" validate:"required,len=3"`
	TaxRegion         string   `json:"tax_region" validate:"required"`
	UpfrontBps        int64    `json:"upfront_bps" validate:"gte=0"`
	CompletionBps     int64    `json:"completion_bps" validate:"gte=0"`
	BonusBps          int64    `json:"bonus_bps" validate:"gte=0"`
	Deliverables      []string `json:"deliverables"`
}

// CreateProposal handles POST /proposals
func (h *Handler) CreateProposal(w http.ResponseWriter, r *http.Request) {
	var req CreateProposalRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	proposal, err := h.service.CreateProposal(r.Context(), payments.NewProposalInput{
		CampaignID:   req.CampaignID,
		BrandID:      req.BrandID,
		InfluencerID: req.InfluencerID,
		Compensation: money.New(req.CompensationMinor, money.Currency(req.Currency)),
		TaxRegion:    req.TaxRegion,
		Split: payments.StageSplit{
			UpfrontBps:    req.UpfrontBps,
			CompletionBps: req.CompletionBps,
			BonusBps:      req.BonusBps,
		},
		Deliverables: req.Deliverables,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	api.WriteData(w, http.StatusCreated, proposal)
}

// GetProposal handles GET /proposals/{proposalID}
func (h *Handler) GetProposal(w http.ResponseWriter, r *http.Request) {
	proposalID := chi.URLParam(r, "proposalID")

	proposal, err := h.service.GetProposal(r.Context(), proposalID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	api.WriteData(w, http.StatusOK, proposal)
}

// EnsureStage handles POST /proposals/{proposalID}/stages/{stage}. The
// operation is idempotent: repeating it returns the existing record.
func (h *Handler) EnsureStage(w http.ResponseWriter, r *http.Request) {
	proposalID := chi.URLParam(r, "proposalID")
	stage := payments.Stage(chi.URLParam(r, "stage"))

	if !stage.Valid() {
		api.BadRequest(w, "unknown payment stage")
		return
	}

	record, err := h.service.EnsureStagePayment(r.Context(), proposalID, stage)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if record == nil {
		// Bonus stage not configured or content not yet published.
		api.WriteData(w, http.StatusOK, map[string]string{
			"status": "not_applicable",
		})
		return
	}

	api.WriteData(w, http.StatusCreated, record)
}

// ListStages handles GET /proposals/{proposalID}/stages
func (h *Handler) ListStages(w http.ResponseWriter, r *http.Request) {
	proposalID := chi.URLParam(r, "proposalID")

	records, err := h.service.ListStagePayments(r.Context(), proposalID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	api.WriteData(w, http.StatusOK, records)
}

// ListLedger handles GET /proposals/{proposalID}/ledger
func (h *Handler) ListLedger(w http.ResponseWriter, r *http.Request) {
	proposalID := chi.URLParam(r, "proposalID")

	entries, err := h.service.ListCommissionEntries(r.Context(), proposalID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	api.WriteData(w, http.StatusOK, entries)
}

// GetPayment handles GET /payments/{paymentID}
func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	paymentID := chi.URLParam(r, "paymentID")

	record, err := h.service.GetStagePayment(r.Context(), paymentID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	api.WriteData(w, http.StatusOK, record)
}

// SubmitPayment handles POST /payments/{paymentID}/submit
func (h *Handler) SubmitPayment(w http.ResponseWriter, r *http.Request) {
	paymentID := chi.URLParam(r, "paymentID")

	record, err := h.service.SubmitStagePayment(r.Context(), paymentID)
	if err != nil {
		if errors.Is(err, payments.ErrGatewayFailure) && record != nil {
			// Timed out with unknown outcome; the record stays
			// processing until the status poll resolves it.
			api.WriteData(w, http.StatusAccepted, record)
			return
		}
		writeServiceError(w, err)
		return
	}

	api.WriteData(w, http.StatusOK, record)
}

// ResolvePayment handles POST /payments/{paymentID}/resolve. It polls
// the gateway for a record stranded in processing and applies the
// outcome; a record the gateway still reports pending comes back
// unchanged.
func (h *Handler) ResolvePayment(w http.ResponseWriter, r *http.Request) {
	paymentID := chi.URLParam(r, "paymentID")

	record, err := h.service.ResolveStagePayment(r.Context(), paymentID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	api.WriteData(w, http.StatusOK, record)
}

// GetInvoice handles GET /proposals/{proposalID}/invoice
func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	proposalID := chi.URLParam(r, "proposalID")

	inv, err := h.invoices.Get(r.Context(), proposalID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	api.WriteData(w, http.StatusOK, inv)
}

// GetInvoiceDocument handles GET /proposals/{proposalID}/invoice/document
func (h *Handler) GetInvoiceDocument(w http.ResponseWriter, r *http.Request) {
	proposalID := chi.URLParam(r, "proposalID")

	doc, err := h.invoices.RenderDocument(r.Context(), proposalID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(doc)
}

// GetMilestones handles GET /proposals/{proposalID}/milestones
func (h *Handler) GetMilestones(w http.ResponseWriter, r *http.Request) {
	proposalID := chi.URLParam(r, "proposalID")

	milestones, err := h.invoices.Schedule(r.Context(), proposalID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	api.WriteData(w, http.StatusOK, milestones)
}

// writeServiceError maps domain errors to HTTP responses.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case database.IsNotFound(err):
		api.NotFound(w, "resource not found")
	case errors.Is(err, database.ErrAlreadyExists):
		api.Conflict(w, "resource already exists")
	case errors.Is(err, payments.ErrInvalidState):
		api.WriteError(w, http.StatusConflict, api.ErrCodeInvalidState, err.Error())
	case errors.Is(err, payments.ErrDuplicateStage):
		api.WriteError(w, http.StatusConflict, api.ErrCodeDuplicateStage, err.Error())
	case errors.Is(err, payments.ErrAmountMismatch):
		api.WriteError(w, http.StatusConflict, api.ErrCodeAmountMismatch, err.Error())
	case errors.Is(err, payments.ErrAlreadyFinalized):
		api.WriteError(w, http.StatusConflict, api.ErrCodeAlreadyFinalized, err.Error())
	case errors.Is(err, payments.ErrGatewayFailure):
		api.WriteError(w, http.StatusBadGateway, api.ErrCodeGatewayFailure, "payment gateway error")
	default:
		api.InternalError(w, "internal error")
	}
}

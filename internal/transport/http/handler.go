// Package httptransport is the thin HTTP layer over the pipeline. Handlers
// decode, guard, and delegate; verdicts are response data here, never HTTP
// errors.
package httptransport

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"fiscus/internal/domain"
	"fiscus/internal/normalize"
	"fiscus/internal/pipeline"
	"fiscus/internal/ratetable"
	"fiscus/internal/validate"
	dErrors "fiscus/pkg/domain-errors"
	"fiscus/pkg/platform/httputil"
	"fiscus/pkg/platform/sentinel"
	"fiscus/pkg/requestcontext"
)

// Service is what the handlers need from the pipeline.
type Service interface {
	Process(ctx context.Context, sub domain.Submission) (pipeline.Result, error)
	Status(ctx context.Context, documentID string) (domain.StatusRecord, error)
}

type InvoiceHandler struct {
	service Service
	rates   *ratetable.Table
	logger  *slog.Logger
	now     func() time.Time
}

func NewInvoiceHandler(service Service, rates *ratetable.Table, logger *slog.Logger) *InvoiceHandler {
	return &InvoiceHandler{
		service: service,
		rates:   rates,
		logger:  logger,
		now:     time.Now,
	}
}

func (h *InvoiceHandler) Register(r chi.Router) {
	r.Post("/invoices", h.handleSubmit)
	r.Get("/invoices/{documentID}/status", h.handleStatus)
	r.Get("/rates", h.handleRates)
}

// handleSubmit finalizes one submission. 201 on first insert, 200 with
// duplicate=true when the document already has a verdict, 400 only for
// undecodable bodies and keyless submissions the store cannot key.
func (h *InvoiceHandler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req SubmitInvoiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	if err := req.Validate(); err != nil {
		httputil.WriteError(w, err)
		return
	}

	res, err := h.service.Process(r.Context(), req.toSubmission(h.now().UTC()))
	if err != nil {
		var malformed *normalize.MalformedInputError
		if errors.As(err, &malformed) {
			httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, malformed.Error()))
			return
		}
		h.logger.ErrorContext(r.Context(), "submission failed",
			"error", err,
			"request_id", requestcontext.RequestID(r.Context()),
		)
		httputil.WriteError(w, err)
		return
	}

	status := http.StatusCreated
	if res.Duplicate {
		status = http.StatusOK
	}
	httputil.WriteJSON(w, status, SubmitInvoiceResponse{
		Duplicate: res.Duplicate,
		Status:    res.Record,
	})
}

func (h *InvoiceHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	documentID := chi.URLParam(r, "documentID")

	rec, err := h.service.Status(r.Context(), documentID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			httputil.WriteError(w, dErrors.Newf(dErrors.CodeNotFound, "no verdict for document %s", documentID))
			return
		}
		h.logger.ErrorContext(r.Context(), "status lookup failed",
			"document_id", documentID,
			"error", err,
			"request_id", requestcontext.RequestID(r.Context()),
		)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, rec)
}

func (h *InvoiceHandler) handleRates(w http.ResponseWriter, r *http.Request) {
	jurisdictions := h.rates.Jurisdictions()
	out := RatesResponse{
		RuleSetVersion: validate.RuleSetVersion,
		Jurisdictions:  make([]JurisdictionRates, 0, len(jurisdictions)),
	}
	for _, code := range jurisdictions {
		rates := h.rates.AllowedRates(code)
		rendered := make([]string, 0, len(rates))
		for _, rate := range rates {
			rendered = append(rendered, rate.String())
		}
		out.Jurisdictions = append(out.Jurisdictions, JurisdictionRates{Code: code, Rates: rendered})
	}

	httputil.WriteJSON(w, http.StatusOK, out)
}

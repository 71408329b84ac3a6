// Package handlers contains the HTTP handlers of the billing API.
//
// Handlers declare the narrow service interfaces they depend on next to
// their own code and receive implementations through constructors, so tests
// can substitute mocks.
package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"stowage/internal/config"
	"stowage/internal/core"
	"stowage/internal/types"
)

// defaultMaxBatchInvoices applies when no config is supplied.
const defaultMaxBatchInvoices = 500

// --- Service Interfaces ---

// Simulator computes draft invoices. *billing.Engine implements it.
type Simulator interface {
	Simulate(ctx context.Context, today time.Time) (*types.SimulationResult, error)
	Window(today time.Time) (types.BillingWindow, error)
}

// InvoiceMaterializer persists drafts. *billing.Materializer implements it.
type InvoiceMaterializer interface {
	Materialize(ctx context.Context, drafts []types.Invoice) (*types.MaterializeResult, error)
}

// InvoiceReader loads a persisted invoice. *db.InvoiceRepository
// implements it.
type InvoiceReader interface {
	GetInvoice(ctx context.Context, id string) (*types.Invoice, error)
}

// --- Request/Response Models ---

// SimulationRequest is the body of POST /v1/billing/simulations. The body
// may be omitted, in which case the simulation runs as of today (UTC).
type SimulationRequest struct {
	AsOf string `json:"as_of" validate:"omitempty,date_only"`
}

// MaterializeRequest is the body of POST /v1/billing/invoices. Invoices are
// the drafts returned by a simulation, possibly edited.
type MaterializeRequest struct {
	Invoices []types.Invoice `json:"invoices" validate:"required,min=1,dive"`
}

// partialResponse carries the result of a batch that only partly succeeded.
type partialResponse struct {
	Data  *types.MaterializeResult `json:"data"`
	Error core.ErrorDetail         `json:"error"`
}

// --- Billing Handler ---

// BillingHandler exposes simulation, materialization and period lookup.
type BillingHandler struct {
	simulator    Simulator
	materializer InvoiceMaterializer
	invoices     InvoiceReader
	validator    *core.Validator
	maxBatch     int
	now          func() time.Time
	logger       *slog.Logger
}

// NewBillingHandler creates a BillingHandler.
func NewBillingHandler(
	sim Simulator,
	mat InvoiceMaterializer,
	invoices InvoiceReader,
	cfg *config.Config,
	v *core.Validator,
	l *slog.Logger,
) *BillingHandler {
	if l == nil {
		l = slog.Default()
	}
	maxBatch := defaultMaxBatchInvoices
	if cfg != nil && cfg.Billing.MaxBatchInvoices > 0 {
		maxBatch = cfg.Billing.MaxBatchInvoices
	}

	return &BillingHandler{
		simulator:    sim,
		materializer: mat,
		invoices:     invoices,
		validator:    v,
		maxBatch:     maxBatch,
		now:          func() time.Time { return time.Now().UTC() },
		logger:       l,
	}
}

// RegisterRoutes mounts the billing endpoints.
func (h *BillingHandler) RegisterRoutes(r chi.Router) {
	r.Post("/billing/simulations", h.Simulate)
	r.Post("/billing/invoices", h.Materialize)
	r.Get("/billing/period", h.GetPeriod)
	r.Get("/invoices/{id}", h.GetInvoice)
}

// Simulate handles POST /v1/billing/simulations. Nothing is persisted.
func (h *BillingHandler) Simulate(w http.ResponseWriter, r *http.Request) {
	var req SimulationRequest
	if err := core.DecodeOptionalJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	asOf, err := h.asOf(req.AsOf)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	result, err := h.simulator.Simulate(r.Context(), asOf)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.Data(w, r, http.StatusOK, result)
}

// Materialize handles POST /v1/billing/invoices. It answers 201 when every
// draft was persisted and 207 when at least one failed; the body always
// lists both outcomes so the caller can resubmit only the failures.
func (h *BillingHandler) Materialize(w http.ResponseWriter, r *http.Request) {
	var req MaterializeRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if len(req.Invoices) > h.maxBatch {
		core.Error(w, r, types.NewAppErrorWithDetails(types.ErrCodeValidationBatchSize,
			fmt.Sprintf("at most %d invoices can be materialized per request", h.maxBatch), nil,
			map[string]any{"max": h.maxBatch, "received": len(req.Invoices)}))
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	result, err := h.materializer.Materialize(r.Context(), req.Invoices)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	if len(result.Failed) == 0 {
		core.Data(w, r, http.StatusCreated, result)
		return
	}

	types.LoggerFromContext(r.Context(), h.logger).WarnContext(r.Context(), "Invoice batch partially failed",
		"succeeded", result.Count,
		"failed", len(result.Failed),
	)
	appErr := types.NewAppError(types.ErrCodeBulkPartialFailure,
		fmt.Sprintf("%d of %d invoices failed", len(result.Failed), len(req.Invoices)), nil)
	core.JSON(w, r, appErr.HTTPStatus(), partialResponse{
		Data: result,
		Error: core.ErrorDetail{
			Code:      string(appErr.Code),
			Message:   appErr.Message,
			RequestID: types.GetRequestID(r.Context()),
		},
	})
}

// GetPeriod handles GET /v1/billing/period?as_of=YYYY-MM-DD.
func (h *BillingHandler) GetPeriod(w http.ResponseWriter, r *http.Request) {
	asOf, err := h.asOf(r.URL.Query().Get("as_of"))
	if err != nil {
		core.Error(w, r, err)
		return
	}

	window, err := h.simulator.Window(asOf)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.Data(w, r, http.StatusOK, window)
}

// GetInvoice handles GET /v1/invoices/{id}.
func (h *BillingHandler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !isUUID(id) {
		core.Error(w, r, types.NewAppError(types.ErrCodeNotFoundInvoice,
			fmt.Sprintf("invoice %s not found", id), nil))
		return
	}

	inv, err := h.invoices.GetInvoice(r.Context(), id)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.Data(w, r, http.StatusOK, inv)
}

// asOf parses a YYYY-MM-DD date, defaulting to the current UTC time.
func (h *BillingHandler) asOf(raw string) (time.Time, error) {
	if raw == "" {
		return h.now(), nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidDate,
			"as_of must be a date in YYYY-MM-DD format", err, map[string]any{"as_of": raw})
	}
	return t, nil
}

/*
handlers.go - HTTP API handlers for the payment and margin engine

PURPOSE:
  Exposes the margin service, the payment workflow dispatcher and the
  payment status aggregator via REST API. Handles HTTP request/response and
  JSON serialization, and delegates to the domain packages.

ENDPOINTS:
  Contracts:
    POST   /api/contracts                      Create contract from JSON
    GET    /api/contracts/{id}                 Get contract
    GET    /api/contracts/{id}/margins         Margin records of the contract

  Invoices:
    POST   /api/invoices                       Create invoice from JSON
    GET    /api/invoices/{id}                  Get invoice with margin totals

  Margins:
    POST   /api/invoices/{id}/margin           Calculate and persist the margin
    GET    /api/invoices/{id}/margin           Get the margin record
    GET    /api/invoices/{id}/margin/history   Margin history, newest first
    POST   /api/margins/{id}/override          Manual override
    POST   /api/margins/validate               Validate a margin configuration

  Payments:
    POST   /api/invoices/{id}/payments         Execute the payment workflow
    GET    /api/invoices/{id}/payments/status  Aggregated payment status

ACTOR AND TENANT:
  The acting user comes from the body's actor_id or the X-Actor-ID header.
  X-Tenant-ID, when present, scopes every contract, invoice, margin and
  payment endpoint to one tenant. Another tenant's entity answers 404.

ERROR HANDLING:
  Engine errors are mapped to HTTP statuses in errors.go.

SECURITY NOTE:
  No authentication or authorization. The actor header is trusted.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/warp/payment-engine/billing"
	"github.com/warp/payment-engine/factory"
	"github.com/warp/payment-engine/margin"
	"github.com/warp/payment-engine/workflow"
)

const (
	headerActorID  = "X-Actor-ID"
	headerTenantID = "X-Tenant-ID"

	maxBodyBytes = 1 << 20
)

// Store is the persistence the handlers need: the engine repository plus
// the writes for externally owned contracts and invoices.
type Store interface {
	billing.TxRepository
	SaveContract(ctx context.Context, c billing.Contract) error
	SaveInvoice(ctx context.Context, inv billing.Invoice) error
	Reset(ctx context.Context) error
	Ping(ctx context.Context) error
}

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store    Store
	Factory  *factory.Factory
	Margins  *margin.Service
	Payments *workflow.Dispatcher
	Status   *workflow.StatusService
	Logger   *zap.Logger

	mu              sync.Mutex
	currentScenario string
}

// NewHandler wires the domain services onto store. Audit events go to
// audit; a nil audit discards them.
func NewHandler(store Store, audit billing.AuditSink, logger *zap.Logger, cfg workflow.Config) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Store:    store,
		Factory:  factory.NewFactory(),
		Margins:  margin.NewService(store, audit, logger),
		Payments: workflow.NewDispatcher(store, audit, logger, cfg),
		Status:   workflow.NewStatusService(store),
		Logger:   logger.Named("api"),
	}
}

// Health reports whether the database is reachable.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Ping(r.Context()); err != nil {
		writeError(w, r, billing.Unavailable("ping database", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// CONTRACT HANDLERS
// =============================================================================

// CreateContract stores a contract parsed from JSON.
func (h *Handler) CreateContract(w http.ResponseWriter, r *http.Request) {
	var req factory.ContractJSON
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "Invalid request body", err)
		return
	}
	c, err := h.Factory.ContractFromJSON(req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	ctx := r.Context()
	existing, err := h.Store.GetContract(ctx, c.ID)
	if err != nil {
		writeError(w, r, billing.Unavailable("load contract", err))
		return
	}
	if existing != nil {
		writeError(w, r, &billing.ConflictError{Entity: "contract", ID: string(c.ID), Reason: "already exists"})
		return
	}
	if err := h.Store.SaveContract(ctx, *c); err != nil {
		writeError(w, r, billing.Unavailable("save contract", err))
		return
	}
	writeJSON(w, http.StatusCreated, h.Factory.ContractToJSON(c))
}

func (h *Handler) GetContract(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	c, err := h.Store.GetContract(r.Context(), billing.ContractID(id))
	if err != nil {
		writeError(w, r, billing.Unavailable("load contract", err))
		return
	}
	if c == nil || !sameTenant(r, c.TenantID) {
		writeError(w, r, &billing.NotFoundError{Entity: "contract", ID: id})
		return
	}
	writeJSON(w, http.StatusOK, h.Factory.ContractToJSON(c))
}

// ListContractMargins returns every margin record of a contract.
func (h *Handler) ListContractMargins(w http.ResponseWriter, r *http.Request) {
	id := billing.ContractID(chi.URLParam(r, "id"))
	if err := h.scopeContract(r, id); err != nil {
		writeError(w, r, err)
		return
	}
	recs, err := h.Margins.ListByContract(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	dtos := make([]MarginDTO, len(recs))
	for i := range recs {
		dtos[i] = toMarginDTO(&recs[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// INVOICE HANDLERS
// =============================================================================

// CreateInvoice stores an invoice parsed from JSON. Its contract must
// already exist.
func (h *Handler) CreateInvoice(w http.ResponseWriter, r *http.Request) {
	var req factory.InvoiceJSON
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "Invalid request body", err)
		return
	}
	inv, err := h.Factory.InvoiceFromJSON(req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	ctx := r.Context()
	existing, err := h.Store.GetInvoice(ctx, inv.ID)
	if err != nil {
		writeError(w, r, billing.Unavailable("load invoice", err))
		return
	}
	if existing != nil {
		writeError(w, r, &billing.ConflictError{Entity: "invoice", ID: string(inv.ID), Reason: "already exists"})
		return
	}
	contract, err := h.Store.GetContract(ctx, inv.ContractID)
	if err != nil {
		writeError(w, r, billing.Unavailable("load contract", err))
		return
	}
	if contract == nil {
		writeError(w, r, &billing.NotFoundError{Entity: "contract", ID: string(inv.ContractID)})
		return
	}
	if contract.TenantID != inv.TenantID {
		writeError(w, r, &billing.ValidationError{Field: "invoice", Problems: []string{"tenant_id: must match the contract's tenant"}})
		return
	}
	if err := h.Store.SaveInvoice(ctx, *inv); err != nil {
		writeError(w, r, billing.Unavailable("save invoice", err))
		return
	}
	writeJSON(w, http.StatusCreated, toInvoiceDTO(inv))
}

func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	inv, err := h.Store.GetInvoice(r.Context(), billing.InvoiceID(id))
	if err != nil {
		writeError(w, r, billing.Unavailable("load invoice", err))
		return
	}
	if inv == nil || !sameTenant(r, inv.TenantID) {
		writeError(w, r, &billing.NotFoundError{Entity: "invoice", ID: id})
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceDTO(inv))
}

// =============================================================================
// MARGIN HANDLERS
// =============================================================================

// CreateMargin calculates the invoice's margin from its contract.
func (h *Handler) CreateMargin(w http.ResponseWriter, r *http.Request) {
	var req CreateMarginRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeBadRequest(w, "Invalid request body", err)
		return
	}
	actor, ok := requireActor(w, r, req.ActorID)
	if !ok {
		return
	}

	id := billing.InvoiceID(chi.URLParam(r, "id"))
	if err := h.scopeInvoice(r, id); err != nil {
		writeError(w, r, err)
		return
	}

	res, err := h.Margins.CreateForInvoice(r.Context(), id, actor)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMarginResultDTO(res))
}

func (h *Handler) GetMargin(w http.ResponseWriter, r *http.Request) {
	id := billing.InvoiceID(chi.URLParam(r, "id"))
	if err := h.scopeInvoice(r, id); err != nil {
		writeError(w, r, err)
		return
	}
	rec, err := h.Margins.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toMarginDTO(rec))
}

func (h *Handler) GetMarginHistory(w http.ResponseWriter, r *http.Request) {
	id := billing.InvoiceID(chi.URLParam(r, "id"))
	if err := h.scopeInvoice(r, id); err != nil {
		writeError(w, r, err)
		return
	}
	entries, err := h.Margins.History(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toHistoryDTOs(entries))
}

// OverrideMargin replaces a margin record's value.
func (h *Handler) OverrideMargin(w http.ResponseWriter, r *http.Request) {
	var req OverrideMarginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "Invalid request body", err)
		return
	}
	if err := factory.Validate("override", req); err != nil {
		writeError(w, r, err)
		return
	}
	actor, ok := requireActor(w, r, req.ActorID)
	if !ok {
		return
	}

	id := billing.MarginID(chi.URLParam(r, "id"))
	if err := h.scopeMargin(r, id); err != nil {
		writeError(w, r, err)
		return
	}

	res, err := h.Margins.Override(r.Context(), id, margin.OverrideRequest{
		NewMarginAmount:     req.NewMarginAmount,
		NewMarginPercentage: req.NewMarginPercentage,
		ActorID:             actor,
		Notes:               req.Notes,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toMarginResultDTO(res))
}

// ValidateMargin checks a margin configuration without storing anything.
// Problems are reported in a 200 response.
func (h *Handler) ValidateMargin(w http.ResponseWriter, r *http.Request) {
	var req ValidateMarginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "Invalid request body", err)
		return
	}
	if err := factory.Validate("margin", req); err != nil {
		writeError(w, r, err)
		return
	}

	problems := margin.ValidateMarginData(margin.MarginData{
		Type:       billing.MarginType(req.MarginType),
		Percentage: req.MarginPercentage,
		Amount:     req.MarginAmount,
	})
	if problems == nil {
		problems = []string{}
	}
	writeJSON(w, http.StatusOK, ValidateMarginResponse{Valid: len(problems) == 0, Problems: problems})
}

// =============================================================================
// PAYMENT HANDLERS
// =============================================================================

// ExecutePayment runs the payment workflow for an invoice.
func (h *Handler) ExecutePayment(w http.ResponseWriter, r *http.Request) {
	var req ExecutePaymentRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeBadRequest(w, "Invalid request body", err)
		return
	}
	if err := factory.Validate("payment", req); err != nil {
		writeError(w, r, err)
		return
	}
	actor, ok := requireActor(w, r, req.ActorID)
	if !ok {
		return
	}

	res, err := h.Payments.Execute(r.Context(), workflow.ExecuteRequest{
		InvoiceID:    billing.InvoiceID(chi.URLParam(r, "id")),
		PaymentModel: billing.PaymentModel(req.PaymentModel),
		ActorID:      actor,
		TenantID:     billing.TenantID(r.Header.Get(headerTenantID)),
		Options:      req.Metadata.options(),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toWorkflowResultDTO(res))
}

func (h *Handler) GetPaymentStatus(w http.ResponseWriter, r *http.Request) {
	id := billing.InvoiceID(chi.URLParam(r, "id"))
	if err := h.scopeInvoice(r, id); err != nil {
		writeError(w, r, err)
		return
	}
	summary, err := h.Status.Status(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentStatusDTO(summary))
}

// =============================================================================
// HELPERS
// =============================================================================

func decodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
}

// decodeOptionalJSON accepts an empty body.
func decodeOptionalJSON(r *http.Request, v any) error {
	if err := decodeJSON(r, v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// =============================================================================
// TENANT SCOPING
// =============================================================================

// sameTenant reports whether an entity owned by tenant is visible to the
// request. Requests without X-Tenant-ID see every tenant.
func sameTenant(r *http.Request, tenant billing.TenantID) bool {
	scope := r.Header.Get(headerTenantID)
	return scope == "" || billing.TenantID(scope) == tenant
}

// scopeInvoice returns a NotFoundError when the invoice is missing or
// belongs to another tenant than X-Tenant-ID.
func (h *Handler) scopeInvoice(r *http.Request, id billing.InvoiceID) error {
	if r.Header.Get(headerTenantID) == "" {
		return nil
	}
	inv, err := h.Store.GetInvoice(r.Context(), id)
	if err != nil {
		return billing.Unavailable("load invoice", err)
	}
	if inv == nil || !sameTenant(r, inv.TenantID) {
		return &billing.NotFoundError{Entity: "invoice", ID: string(id)}
	}
	return nil
}

func (h *Handler) scopeContract(r *http.Request, id billing.ContractID) error {
	if r.Header.Get(headerTenantID) == "" {
		return nil
	}
	c, err := h.Store.GetContract(r.Context(), id)
	if err != nil {
		return billing.Unavailable("load contract", err)
	}
	if c == nil || !sameTenant(r, c.TenantID) {
		return &billing.NotFoundError{Entity: "contract", ID: string(id)}
	}
	return nil
}

// scopeMargin resolves the margin's invoice and applies scopeInvoice,
// reporting a miss against the margin id.
func (h *Handler) scopeMargin(r *http.Request, id billing.MarginID) error {
	if r.Header.Get(headerTenantID) == "" {
		return nil
	}
	rec, err := h.Store.GetMarginRecordByID(r.Context(), id)
	if err != nil {
		return billing.Unavailable("load margin record", err)
	}
	if rec == nil {
		return &billing.NotFoundError{Entity: "margin_record", ID: string(id)}
	}
	if err := h.scopeInvoice(r, rec.InvoiceID); err != nil {
		if billing.IsNotFound(err) {
			return &billing.NotFoundError{Entity: "margin_record", ID: string(id)}
		}
		return err
	}
	return nil
}

// requireActor resolves the acting user and writes a 400 when there is none.
func requireActor(w http.ResponseWriter, r *http.Request, fromBody string) (string, bool) {
	actor := fromBody
	if actor == "" {
		actor = r.Header.Get(headerActorID)
	}
	if actor == "" {
		writeError(w, r, &billing.ValidationError{
			Field:    "actor_id",
			Problems: []string{"actor_id or the " + headerActorID + " header is required"},
		})
		return "", false
	}
	return actor, true
}

/*
handlers.go - HTTP API handlers for the commission engine

PURPOSE:
  Exposes the ledger and settlement services via REST. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Transactions:
    POST   /api/transactions                Record a sale (vendor)
    GET    /api/transactions                List visible transactions
    GET    /api/transactions/{id}           Transaction detail

  Settlements:
    POST   /api/settlements                 Create a batch (admin)
    GET    /api/settlements/preview         Dry-run over a window (admin)
    GET    /api/settlements                 List visible settlements
    GET    /api/settlements/{id}            Detail with line items
    POST   /api/settlements/{id}/mark-paid  Pay an OPEN settlement (admin)

  Orders:
    POST   /api/orders                      Create an order (mechanic)
    GET    /api/orders                      List own orders (mechanic)
    GET    /api/orders/{code}               Lookup by code

  Directory (admin):
    GET/POST /api/vendors, /api/mechanics

  Stats:
    GET    /api/vendors/{id}/stats
    GET    /api/mechanics/{id}/stats

REQUEST FLOW:
  1. Parse HTTP request
  2. Resolve the actor from context (auth middleware)
  3. Call domain logic (ledger, settle)
  4. Serialize response
  5. Map domain errors onto HTTP statuses

ERROR HANDLING:
  The shared error taxonomy maps onto statuses:
  - 400: ValidationError
  - 403: ForbiddenError
  - 404: NotFoundError
  - 409: ConflictError
  - 422: InactiveResourceError
  - 500: everything else

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/gearlink/commission-engine/commission"
	"github.com/gearlink/commission-engine/ledger"
	"github.com/gearlink/commission-engine/settle"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Ledger *ledger.Ledger
	Settle *settle.Service
	Store  commission.Store
	Log    *zap.Logger
}

// NewHandler creates a handler over the given services.
func NewHandler(l *ledger.Ledger, s *settle.Service, store commission.Store, log *zap.Logger) *Handler {
	return &Handler{Ledger: l, Settle: s, Store: store, Log: log}
}

func (h *Handler) actor(r *http.Request) commission.Actor {
	a, _ := ActorFromContext(r.Context())
	return a
}

// =============================================================================
// TRANSACTION HANDLERS
// =============================================================================

// CreateTransaction records one sale for the authenticated vendor.
func (h *Handler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	actor := h.actor(r)
	if err := actor.Require("create-transaction", commission.RoleVendor, commission.RoleAdmin); err != nil {
		writeDomainError(w, err)
		return
	}

	var req CreateTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	amountTotal, err := commission.ParseMoney(req.AmountTotal)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid amountTotal", err)
		return
	}
	amountEligible, err := commission.ParseMoney(req.AmountEligible)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid amountEligible", err)
		return
	}

	// Admins may record on behalf of a vendor via ?vendorId=; vendors
	// always record for themselves.
	vendorID := commission.VendorID(actor.ID)
	if actor.Is(commission.RoleAdmin) {
		id, err := strconv.ParseInt(r.URL.Query().Get("vendorId"), 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "vendorId query param required for admin", err)
			return
		}
		vendorID = commission.VendorID(id)
	}

	res, err := h.Ledger.Record(r.Context(), ledger.RecordRequest{
		VendorID:       vendorID,
		MechanicID:     commission.MechanicID(req.MechanicID),
		MechanicCode:   req.MechanicCode,
		CustomerPhone:  req.CustomerPhone,
		AmountTotal:    amountTotal,
		AmountEligible: amountEligible,
		Note:           req.Note,
		IdempotencyKey: r.Header.Get("x-idempotency-key"),
		OrderCode:      req.OrderCode,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, toTransactionDTO(res.Transaction, res.Replayed))
}

// ListTransactions lists transactions visible to the actor.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	actor := h.actor(r)

	var f commission.TransactionFilter
	q := r.URL.Query()
	if s := q.Get("status"); s != "" {
		st := commission.TransactionStatus(s)
		f.Status = &st
	}
	if from, to := q.Get("from"), q.Get("to"); from != "" && to != "" {
		period, err := commission.ParseDateRange(from, to)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		f.Period = &period
	}
	if limit, err := strconv.Atoi(q.Get("limit")); err == nil && limit > 0 {
		f.Limit = limit
	}
	if offset, err := strconv.Atoi(q.Get("offset")); err == nil && offset > 0 {
		f.Offset = offset
	}

	txs, err := h.Ledger.List(r.Context(), actor, f)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	dtos := make([]TransactionDTO, len(txs))
	for i := range txs {
		dtos[i] = toTransactionDTO(&txs[i], false)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetTransaction returns one transaction the actor may see.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid transaction id", err)
		return
	}

	tx, err := h.Ledger.Get(r.Context(), h.actor(r), commission.TransactionID(id))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTO(tx, false))
}

// =============================================================================
// SETTLEMENT HANDLERS
// =============================================================================

func buildBatchRequest(vendorID int64, mechanicID *int64, from, to string) (settle.BatchRequest, error) {
	period, err := commission.ParseDateRange(from, to)
	if err != nil {
		return settle.BatchRequest{}, err
	}
	req := settle.BatchRequest{VendorID: commission.VendorID(vendorID), Period: period}
	if mechanicID != nil {
		mid := commission.MechanicID(*mechanicID)
		req.MechanicID = &mid
	}
	return req, nil
}

// CreateSettlement batches all eligible transactions for the window.
func (h *Handler) CreateSettlement(w http.ResponseWriter, r *http.Request) {
	var body CreateSettlementRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	req, err := buildBatchRequest(body.VendorID, body.MechanicID, body.From, body.To)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	res, err := h.Settle.Create(r.Context(), h.actor(r), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	dto := SettlementResultDTO{Created: res.Created, Count: res.Count}
	if res.Created {
		dto.SettlementID = int64(res.SettlementID)
		dto.Eligible = res.Totals.Eligible.String()
		dto.Mechanic = res.Totals.Mechanic.String()
		dto.Platform = res.Totals.Platform.String()
		writeJSON(w, http.StatusCreated, dto)
		return
	}
	writeJSON(w, http.StatusOK, dto)
}

// PreviewSettlement dry-runs a batch over a window.
func (h *Handler) PreviewSettlement(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	vendorID, err := strconv.ParseInt(q.Get("vendorId"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "vendorId query param required", err)
		return
	}
	var mechanicID *int64
	if raw := q.Get("mechanicId"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid mechanicId", err)
			return
		}
		mechanicID = &id
	}

	req, err := buildBatchRequest(vendorID, mechanicID, q.Get("from"), q.Get("to"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	res, err := h.Settle.Preview(r.Context(), h.actor(r), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	dto := PreviewDTO{
		Count:    res.Count,
		Eligible: res.Totals.Eligible.String(),
		Mechanic: res.Totals.Mechanic.String(),
		Platform: res.Totals.Platform.String(),
		Items:    make([]TransactionDTO, len(res.Items)),
	}
	for i := range res.Items {
		dto.Items[i] = toTransactionDTO(&res.Items[i], false)
	}
	writeJSON(w, http.StatusOK, dto)
}

// ListSettlements lists settlements visible to the actor.
func (h *Handler) ListSettlements(w http.ResponseWriter, r *http.Request) {
	var f commission.SettlementFilter
	q := r.URL.Query()
	if s := q.Get("status"); s != "" {
		st := commission.SettlementStatus(s)
		f.Status = &st
	}
	if vid, err := strconv.ParseInt(q.Get("vendorId"), 10, 64); err == nil {
		id := commission.VendorID(vid)
		f.VendorID = &id
	}
	if limit, err := strconv.Atoi(q.Get("limit")); err == nil && limit > 0 {
		f.Limit = limit
	}

	settlements, err := h.Settle.List(r.Context(), h.actor(r), f)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	dtos := make([]SettlementDTO, len(settlements))
	for i := range settlements {
		dtos[i] = toSettlementDTO(&settlements[i], nil)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetSettlement returns one settlement with its line items.
func (h *Handler) GetSettlement(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid settlement id", err)
		return
	}

	actor := h.actor(r)
	st, err := h.Settle.Get(r.Context(), actor, commission.SettlementID(id))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	items, err := h.Settle.Items(r.Context(), actor, st.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSettlementDTO(st, items))
}

// MarkSettlementPaid pays an OPEN settlement.
func (h *Handler) MarkSettlementPaid(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid settlement id", err)
		return
	}

	st, err := h.Settle.MarkPaid(r.Context(), h.actor(r), commission.SettlementID(id))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSettlementDTO(st, nil))
}

// =============================================================================
// ORDER HANDLERS
// =============================================================================

// CreateOrder creates an order for the authenticated mechanic.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	actor := h.actor(r)
	if err := actor.Require("create-order", commission.RoleMechanic); err != nil {
		writeDomainError(w, err)
		return
	}

	var req CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.CustomerPhone == "" {
		writeDomainError(w, &commission.ValidationError{Field: "customerPhone", Message: "is required"})
		return
	}
	if len(req.Items) == 0 {
		writeDomainError(w, &commission.ValidationError{Field: "items", Message: "at least one item is required"})
		return
	}

	order := &commission.Order{
		MechanicID:    commission.MechanicID(actor.ID),
		CustomerPhone: req.CustomerPhone,
		Note:          req.Note,
	}
	for _, it := range req.Items {
		if it.Title == "" {
			writeDomainError(w, &commission.ValidationError{Field: "items", Message: "item title is required"})
			return
		}
		order.Items = append(order.Items, commission.OrderItem{Title: it.Title, Quantity: it.Quantity, Note: it.Note})
	}

	if err := h.Store.CreateOrder(r.Context(), order); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toOrderDTO(order))
}

// ListOrders lists the authenticated mechanic's orders.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	actor := h.actor(r)
	if err := actor.Require("list-orders", commission.RoleMechanic); err != nil {
		writeDomainError(w, err)
		return
	}

	orders, err := h.Store.ListOrdersByMechanic(r.Context(), commission.MechanicID(actor.ID))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	dtos := make([]OrderDTO, len(orders))
	for i := range orders {
		dtos[i] = toOrderDTO(&orders[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetOrder looks up an order by its public code. Any authenticated role
// may look up a code; the code itself is the capability.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	if !commission.IsValidOrderCode(code) {
		writeError(w, http.StatusBadRequest, "malformed order code", nil)
		return
	}

	order, err := h.Store.GetOrderByCode(r.Context(), code)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if order == nil {
		writeError(w, http.StatusNotFound, "order not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toOrderDTO(order))
}

// =============================================================================
// DIRECTORY HANDLERS
// =============================================================================

// CreateVendor registers a vendor. Admin only.
func (h *Handler) CreateVendor(w http.ResponseWriter, r *http.Request) {
	if err := h.actor(r).Require("create-vendor", commission.RoleAdmin); err != nil {
		writeDomainError(w, err)
		return
	}

	var req CreateVendorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.StoreName == "" {
		writeDomainError(w, &commission.ValidationError{Field: "storeName", Message: "is required"})
		return
	}

	v := &commission.Vendor{StoreName: req.StoreName, City: req.City}
	if err := h.Store.SaveVendor(r.Context(), v); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toVendorDTO(*v))
}

// ListVendors lists all vendors. Admin only.
func (h *Handler) ListVendors(w http.ResponseWriter, r *http.Request) {
	if err := h.actor(r).Require("list-vendors", commission.RoleAdmin); err != nil {
		writeDomainError(w, err)
		return
	}

	vendors, err := h.Store.ListVendors(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	dtos := make([]VendorDTO, len(vendors))
	for i, v := range vendors {
		dtos[i] = toVendorDTO(v)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateMechanic registers a mechanic. Admin only.
func (h *Handler) CreateMechanic(w http.ResponseWriter, r *http.Request) {
	if err := h.actor(r).Require("create-mechanic", commission.RoleAdmin); err != nil {
		writeDomainError(w, err)
		return
	}

	var req CreateMechanicRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.FullName == "" {
		writeDomainError(w, &commission.ValidationError{Field: "fullName", Message: "is required"})
		return
	}

	m := &commission.Mechanic{FullName: req.FullName, QRActive: true}
	if err := h.Store.SaveMechanic(r.Context(), m); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMechanicDTO(*m))
}

// ListMechanics lists all mechanics. Admin only.
func (h *Handler) ListMechanics(w http.ResponseWriter, r *http.Request) {
	if err := h.actor(r).Require("list-mechanics", commission.RoleAdmin); err != nil {
		writeDomainError(w, err)
		return
	}

	mechanics, err := h.Store.ListMechanics(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	dtos := make([]MechanicDTO, len(mechanics))
	for i, m := range mechanics {
		dtos[i] = toMechanicDTO(m)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// STATS HANDLERS
// =============================================================================

func parseStatsWindow(r *http.Request) (commission.DateRange, error) {
	q := r.URL.Query()
	from, to := q.Get("from"), q.Get("to")
	if from == "" && to == "" {
		// Default to the trailing 30 days.
		now := time.Now().UTC()
		return commission.NewDateRange(now.AddDate(0, 0, -30), now)
	}
	return commission.ParseDateRange(from, to)
}

// VendorStats reports a vendor's window totals.
func (h *Handler) VendorStats(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid vendor id", err)
		return
	}
	period, err := parseStatsWindow(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	stats, err := h.Settle.VendorStats(r.Context(), h.actor(r), commission.VendorID(id), period)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStatsDTO(stats))
}

// MechanicStats reports a mechanic's window totals.
func (h *Handler) MechanicStats(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid mechanic id", err)
		return
	}
	period, err := parseStatsWindow(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	stats, err := h.Settle.MechanicStats(r.Context(), h.actor(r), commission.MechanicID(id), period)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStatsDTO(stats))
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	dto := ErrorDTO{Error: message}
	if err != nil {
		dto.Details = err.Error()
	}
	writeJSON(w, status, dto)
}

// writeDomainError maps the shared error taxonomy onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, commission.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, commission.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, commission.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, commission.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, commission.ErrInactiveResource):
		status = http.StatusUnprocessableEntity
	}
	writeError(w, status, err.Error(), nil)
}

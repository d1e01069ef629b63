/*
handlers.go - HTTP API handlers for the stock ledger

PURPOSE:
  Exposes the inventory coordinator via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to the coordinator.

ENDPOINTS:
  Products:
    GET    /api/products                   List products (?include_deleted=true)
    POST   /api/products                   Create product (admin)
    GET    /api/products/{id}              Get product
    PUT    /api/products/{id}              Update name / price (admin)
    DELETE /api/products/{id}              Soft-delete (admin)
    POST   /api/products/{id}/receipts     Receive stock into central (admin)

  Resellers:
    GET    /api/resellers                  List resellers (admin)
    POST   /api/resellers                  Create reseller (admin)
    GET    /api/resellers/{id}             Get reseller (admin or self)
    PUT    /api/resellers/{id}             Update reseller (admin)
    DELETE /api/resellers/{id}             Soft-delete (admin)

  Movements:
    POST   /api/allocations                Allocate central -> reseller (admin)
    PUT    /api/allocations/{id}           Edit delivery quantity (admin)
    DELETE /api/allocations/{id}           Delete delivery (admin)
    POST   /api/sales                      Record sale (reseller)
    PUT    /api/sales/{id}                 Edit sale quantity or product
    DELETE /api/sales/{id}                 Delete sale
    POST   /api/returns                    Return reseller stock to central

  Reports, audit, reconciliation, scenarios: see report_handlers.go.

ACTORS:
  Every /api request names its caller with two headers:
    X-Actor-ID    admin id, or the reseller id for resellers
    X-Actor-Role  admin | reseller
  Missing or unknown values are rejected with 401. Authentication itself
  happens in front of this service.

ERROR HANDLING:
  Errors are returned as JSON with a stable code (ledger.ErrorCode):
  - 400: validation
  - 401: missing or invalid actor headers
  - 403: admin-only endpoint, or another reseller's data
  - 404: not_found
  - 409: insufficient_central_stock, insufficient_reseller_stock, conflict
  - 503: busy (lock timeout, safe to retry)
  - 500: storage, internal

SEE ALSO:
  - dto.go: Request/response data structures
  - report_handlers.go: Read-side endpoints
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/warp/stock-ledger/inventory"
	"github.com/warp/stock-ledger/ledger"
)

const (
	HeaderActorID   = "X-Actor-ID"
	HeaderActorRole = "X-Actor-Role"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Coord     *inventory.Coordinator
	Runs      *RunLog
	Scheduler *ReconciliationScheduler // nil when disabled

	log zerolog.Logger

	// Track currently loaded scenario
	scenarioMu      sync.Mutex
	currentScenario string
}

// NewHandler creates a new handler around the coordinator.
func NewHandler(coord *inventory.Coordinator, runs *RunLog, log zerolog.Logger) *Handler {
	if runs == nil {
		runs = NewRunLog()
	}
	return &Handler{
		Coord: coord,
		Runs:  runs,
		log:   log.With().Str("component", "api").Logger(),
	}
}

// =============================================================================
// ACTOR
// =============================================================================

var (
	errNoActor   = errors.New("missing or invalid actor headers")
	errForbidden = errors.New("forbidden")
)

func actorFrom(r *http.Request) (inventory.Actor, error) {
	a := inventory.Actor{
		ID:   strings.TrimSpace(r.Header.Get(HeaderActorID)),
		Role: ledger.Role(strings.ToLower(strings.TrimSpace(r.Header.Get(HeaderActorRole)))),
	}
	if a.ID == "" {
		return a, errNoActor
	}
	switch a.Role {
	case ledger.RoleAdmin, ledger.RoleReseller:
		return a, nil
	}
	return a, errNoActor
}

// actor writes a 401 and returns false when the caller is not identified.
func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (inventory.Actor, bool) {
	a, err := actorFrom(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", err)
		return a, false
	}
	return a, true
}

// admin writes a 401 or 403 and returns false unless the caller is an admin.
func (h *Handler) admin(w http.ResponseWriter, r *http.Request) (inventory.Actor, bool) {
	a, ok := h.actor(w, r)
	if !ok {
		return a, false
	}
	if !a.IsAdmin() {
		writeError(w, http.StatusForbidden, "admin only", errForbidden)
		return a, false
	}
	return a, true
}

// scopedReseller resolves the reseller a read request is about. Resellers
// may only read their own data; an empty requested id means "myself".
func scopedReseller(a inventory.Actor, requested string) (ledger.ResellerID, error) {
	if own, ok := a.ResellerID(); ok {
		if requested != "" && ledger.ResellerID(requested) != own {
			return "", errForbidden
		}
		return own, nil
	}
	return ledger.ResellerID(requested), nil
}

// =============================================================================
// PRODUCT ENDPOINTS
// =============================================================================

// ListProducts returns all products, optionally including deleted ones.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.actor(w, r); !ok {
		return
	}
	includeDeleted, err := boolParam(r, "include_deleted")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	products, err := h.Coord.Products(r.Context(), includeDeleted)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]ProductDTO, len(products))
	for i, p := range products {
		out[i] = toProductDTO(p)
	}
	writeJSON(w, http.StatusOK, out)
}

// CreateProduct registers a product with optional initial stock.
func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.admin(w, r)
	if !ok {
		return
	}
	var req CreateProductRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	price, err := parsePrice("unit_price", req.UnitPrice)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	p, err := h.Coord.CreateProduct(r.Context(), actor, inventory.NewProduct{
		ID:           ledger.ProductID(req.ID),
		Name:         req.Name,
		UnitPrice:    price,
		InitialStock: req.InitialStock,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toProductDTO(p))
}

// GetProduct returns a single product, deleted ones included.
func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.actor(w, r); !ok {
		return
	}
	p, err := h.Coord.Product(r.Context(), ledger.ProductID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductDTO(p))
}

// UpdateProduct changes name and/or price. Past sales keep their price.
func (h *Handler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.admin(w, r)
	if !ok {
		return
	}
	var req UpdateProductRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	upd := inventory.ProductUpdate{Name: req.Name}
	if req.UnitPrice != nil {
		price, err := parsePrice("unit_price", *req.UnitPrice)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		upd.UnitPrice = &price
	}
	p, err := h.Coord.UpdateProduct(r.Context(), actor, ledger.ProductID(chi.URLParam(r, "id")), upd)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductDTO(p))
}

// DeleteProduct soft-deletes a product.
func (h *Handler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.admin(w, r)
	if !ok {
		return
	}
	p, err := h.Coord.DeleteProduct(r.Context(), actor, ledger.ProductID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductDTO(p))
}

// ReceiveStock adds stock to the central pool.
func (h *Handler) ReceiveStock(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.admin(w, r)
	if !ok {
		return
	}
	var req ReceiveStockRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	e, err := h.Coord.ReceiveStock(r.Context(), actor, ledger.ProductID(chi.URLParam(r, "id")), req.Quantity, req.Reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEntryDTO(e))
}

// =============================================================================
// RESELLER ENDPOINTS
// =============================================================================

// ListResellers returns all resellers, optionally including deleted ones.
func (h *Handler) ListResellers(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.admin(w, r); !ok {
		return
	}
	includeDeleted, err := boolParam(r, "include_deleted")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	resellers, err := h.Coord.Resellers(r.Context(), includeDeleted)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]ResellerDTO, len(resellers))
	for i, res := range resellers {
		out[i] = toResellerDTO(res)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) CreateReseller(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.admin(w, r)
	if !ok {
		return
	}
	var req CreateResellerRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.Coord.CreateReseller(r.Context(), actor, inventory.NewReseller{
		ID:      ledger.ResellerID(req.ID),
		Name:    req.Name,
		Contact: req.Contact,
		Address: req.Address,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toResellerDTO(res))
}

func (h *Handler) GetReseller(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, err := scopedReseller(actor, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.Coord.Reseller(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toResellerDTO(res))
}

func (h *Handler) UpdateReseller(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.admin(w, r)
	if !ok {
		return
	}
	var req UpdateResellerRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.Coord.UpdateReseller(r.Context(), actor, ledger.ResellerID(chi.URLParam(r, "id")), inventory.ResellerUpdate{
		Name:    req.Name,
		Contact: req.Contact,
		Address: req.Address,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toResellerDTO(res))
}

// DeleteReseller soft-deletes a reseller. Stock it still holds stays in the
// ledger and can be returned.
func (h *Handler) DeleteReseller(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.admin(w, r)
	if !ok {
		return
	}
	res, err := h.Coord.DeleteReseller(r.Context(), actor, ledger.ResellerID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toResellerDTO(res))
}

// =============================================================================
// MOVEMENT ENDPOINTS
// =============================================================================

// Allocate moves stock from central to a reseller.
func (h *Handler) Allocate(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.admin(w, r)
	if !ok {
		return
	}
	var req AllocateRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	e, err := h.Coord.Allocate(r.Context(), actor, ledger.ProductID(req.ProductID), ledger.ResellerID(req.ResellerID), req.Quantity)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEntryDTO(e))
}

// EditDelivery replaces the quantity of a delivery. The id may be the
// original allocation or any later correction of it.
func (h *Handler) EditDelivery(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.admin(w, r)
	if !ok {
		return
	}
	var req EditDeliveryRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	e, err := h.Coord.EditDelivery(r.Context(), actor, ledger.EntryID(chi.URLParam(r, "id")), req.NewQuantity)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTO(e))
}

// DeleteDelivery reverses a delivery, returning its stock to central.
func (h *Handler) DeleteDelivery(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.admin(w, r)
	if !ok {
		return
	}
	e, err := h.Coord.DeleteDelivery(r.Context(), actor, ledger.EntryID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTO(e))
}

// RecordSale records a sale by the calling reseller.
func (h *Handler) RecordSale(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	if _, isReseller := actor.ResellerID(); !isReseller {
		writeError(w, http.StatusForbidden, "sales are recorded by resellers", errForbidden)
		return
	}
	var req RecordSaleRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	e, err := h.Coord.RecordSale(r.Context(), actor, ledger.ProductID(req.ProductID), req.Quantity)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEntryDTO(e))
}

// EditSale changes a sale's quantity or moves it to another product.
func (h *Handler) EditSale(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req EditSaleRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	id := ledger.EntryID(chi.URLParam(r, "id"))

	var (
		e   ledger.Entry
		err error
	)
	if req.NewQuantity != nil {
		e, err = h.Coord.EditSaleQuantity(r.Context(), actor, id, *req.NewQuantity)
	} else {
		e, err = h.Coord.EditSaleProduct(r.Context(), actor, id, ledger.ProductID(*req.NewProductID))
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTO(e))
}

// DeleteSale reverses a sale, restoring the reseller's stock.
func (h *Handler) DeleteSale(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	e, err := h.Coord.DeleteSale(r.Context(), actor, ledger.EntryID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTO(e))
}

// ReturnStock moves reseller-held stock back to central. Resellers return
// their own stock; admins name the reseller.
func (h *Handler) ReturnStock(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req ReturnStockRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	resellerID, err := scopedReseller(actor, req.ResellerID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	e, err := h.Coord.ReturnStock(r.Context(), actor, resellerID, ledger.ProductID(req.ProductID), req.Quantity)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEntryDTO(e))
}

// =============================================================================
// HELPERS
// =============================================================================

// decode reads a JSON body into dst and validates it. Unknown fields are
// rejected.
func decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return &ledger.ValidationError{Field: "body", Reason: err.Error()}
	}
	return validateRequest(dst)
}

func boolParam(r *http.Request, name string) (bool, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, &ledger.ValidationError{Field: name, Reason: "must be true or false"}
	}
	return b, nil
}

func intParam(r *http.Request, name string, def int) (int, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, &ledger.ValidationError{Field: name, Reason: "must be an integer"}
	}
	return n, nil
}

// fail maps err to a status code and writes the error body.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, errForbidden) {
		writeError(w, http.StatusForbidden, "forbidden", err)
		return
	}

	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error().
			Err(err).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("request failed")
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}

	resp := ErrorResponse{
		Error:   err.Error(),
		Code:    ledger.ErrorCode(err),
		Details: err.Error(),
	}
	var ve *ledger.ValidationError
	if errors.As(err, &ve) {
		resp.Error = "validation failed"
		resp.Field = ve.Field
	}
	var se *ledger.InsufficientStockError
	if errors.As(err, &se) {
		resp.Error = "insufficient stock"
		resp.Available, resp.Requested = &se.Available, &se.Requested
	}
	writeJSON(w, status, resp)
}

func statusFor(err error) int {
	switch ledger.ErrorCode(err) {
	case "validation":
		return http.StatusBadRequest
	case "not_found":
		return http.StatusNotFound
	case "insufficient_central_stock", "insufficient_reseller_stock", "conflict":
		return http.StatusConflict
	case "busy":
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message, Code: http.StatusText(status)}
	if err != nil {
		resp.Details = err.Error()
	}
	switch status {
	case http.StatusUnauthorized:
		resp.Code = "unauthorized"
	case http.StatusForbidden:
		resp.Code = "forbidden"
	}
	writeJSON(w, status, resp)
}

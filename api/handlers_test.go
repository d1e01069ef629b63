/*
handlers_test.go - HTTP tests for the API handlers

Tests for:
- Full shampoo flow through the REST API
- Actor headers (401) and role checks (403)
- Error code and status mapping
- Sale edits, entry history, reseller scoping
- Reconciliation endpoints and /metrics
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/stock-ledger/inventory"
	"github.com/warp/stock-ledger/ledger"
	"github.com/warp/stock-ledger/ledger/store"
	"github.com/warp/stock-ledger/metrics"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

type caller struct {
	id   string
	role string
}

var (
	asAdmin  = caller{"admin-1", "admin"}
	asAna    = caller{"ana", "reseller"}
	asBruno  = caller{"bruno", "reseller"}
	asNobody = caller{}
)

type testAPI struct {
	t       *testing.T
	h       *Handler
	router  http.Handler
	metrics *metrics.Metrics
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	m := metrics.New(metrics.DefaultConfig())
	coord, err := inventory.NewCoordinator(context.Background(), store.NewMemory(), inventory.WithMetrics(m))
	require.NoError(t, err)
	h := NewHandler(coord, NewRunLog(), zerolog.Nop())
	return &testAPI{
		t:       t,
		h:       h,
		router:  NewRouter(h, RouterOptions{Metrics: m, Log: zerolog.Nop()}),
		metrics: m,
	}
}

func (a *testAPI) do(c caller, method, path string, body any) *httptest.ResponseRecorder {
	a.t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(a.t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if c.id != "" {
		req.Header.Set(HeaderActorID, c.id)
	}
	if c.role != "" {
		req.Header.Set(HeaderActorRole, c.role)
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

// ok performs the request, requires the status and decodes the body into out.
func (a *testAPI) ok(c caller, method, path string, body any, status int, out any) {
	a.t.Helper()
	rec := a.do(c, method, path, body)
	require.Equal(a.t, status, rec.Code, rec.Body.String())
	if out != nil {
		require.NoError(a.t, json.Unmarshal(rec.Body.Bytes(), out))
	}
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

// seedAPI creates shampoo (100 at 10.00), conditioner (50 at 15.00), Ana and
// Bruno through the API.
func (a *testAPI) seed() {
	a.t.Helper()
	a.ok(asAdmin, "POST", "/api/products", CreateProductRequest{
		ID: "shampoo", Name: "Shampoo", UnitPrice: "10.00", InitialStock: 100,
	}, http.StatusCreated, nil)
	a.ok(asAdmin, "POST", "/api/products", CreateProductRequest{
		ID: "conditioner", Name: "Conditioner", UnitPrice: "15.00", InitialStock: 50,
	}, http.StatusCreated, nil)
	a.ok(asAdmin, "POST", "/api/resellers", CreateResellerRequest{ID: "ana", Name: "Ana Souza"}, http.StatusCreated, nil)
	a.ok(asAdmin, "POST", "/api/resellers", CreateResellerRequest{ID: "bruno", Name: "Bruno Lima"}, http.StatusCreated, nil)
}

// =============================================================================
// FLOWS
// =============================================================================

func TestAPI_ShampooFlow(t *testing.T) {
	a := newTestAPI(t)
	a.seed()

	// GIVEN: 30 shampoo allocated to Ana
	var alloc EntryDTO
	a.ok(asAdmin, "POST", "/api/allocations", AllocateRequest{
		ProductID: "shampoo", ResellerID: "ana", Quantity: 30,
	}, http.StatusCreated, &alloc)
	assert.Equal(t, "allocation", alloc.Kind)
	assert.Equal(t, alloc.ID, alloc.OriginID)

	// WHEN: Ana sells 12 and returns 5
	var sale EntryDTO
	a.ok(asAna, "POST", "/api/sales", RecordSaleRequest{ProductID: "shampoo", Quantity: 12}, http.StatusCreated, &sale)
	require.NotNil(t, sale.UnitPrice)
	assert.True(t, sale.TotalPrice.Equal(decimal.NewFromInt(120)))
	a.ok(asAna, "POST", "/api/returns", ReturnStockRequest{ProductID: "shampoo", Quantity: 5}, http.StatusCreated, nil)

	// THEN: central is 75 and Ana holds 13
	var p ProductDTO
	a.ok(asAna, "GET", "/api/products/shampoo", nil, http.StatusOK, &p)
	assert.Equal(t, int64(75), p.CentralStock)

	var stock []StockLineDTO
	a.ok(asAna, "GET", "/api/stock", nil, http.StatusOK, &stock)
	assert.Equal(t, []StockLineDTO{{ProductID: "shampoo", ProductName: "Shampoo", Quantity: 13}}, stock)

	var report SalesReportDTO
	a.ok(asAna, "GET", "/api/reports/sales", nil, http.StatusOK, &report)
	assert.Equal(t, "ana", report.ResellerID)
	assert.Equal(t, int64(12), report.TotalSales)
	assert.True(t, report.TotalRevenue.Equal(decimal.NewFromInt(120)))
	require.Len(t, report.SalesDetails, 1)
	assert.Equal(t, sale.ID, report.SalesDetails[0].SaleID)

	// GIVEN: the same report asked for with month=all
	// WHEN: it is fetched for the current year
	// THEN: it covers the whole year, as month=0 does
	year := time.Now().UTC().Year()
	var allMonths, monthZero SalesReportDTO
	a.ok(asAna, "GET", fmt.Sprintf("/api/reports/sales?month=all&year=%d", year), nil, http.StatusOK, &allMonths)
	a.ok(asAna, "GET", fmt.Sprintf("/api/reports/sales?month=0&year=%d", year), nil, http.StatusOK, &monthZero)
	assert.Equal(t, monthZero, allMonths)
	assert.Equal(t, int64(12), allMonths.TotalSales)
	a.ok(asAna, "GET", "/api/reports/sales?month=ALL", nil, http.StatusOK, nil)

	var deliveries map[string]ProductDeliveriesDTO
	a.ok(asAdmin, "GET", "/api/reports/deliveries/ana", nil, http.StatusOK, &deliveries)
	require.Contains(t, deliveries, "shampoo")
	assert.Equal(t, int64(12), deliveries["shampoo"].Sold)
	assert.Equal(t, int64(13), deliveries["shampoo"].CurrentStock)
}

func TestAPI_EditSale(t *testing.T) {
	a := newTestAPI(t)
	a.seed()
	a.ok(asAdmin, "POST", "/api/allocations", AllocateRequest{ProductID: "shampoo", ResellerID: "ana", Quantity: 10}, http.StatusCreated, nil)
	a.ok(asAdmin, "POST", "/api/allocations", AllocateRequest{ProductID: "conditioner", ResellerID: "ana", Quantity: 10}, http.StatusCreated, nil)
	var sale EntryDTO
	a.ok(asAna, "POST", "/api/sales", RecordSaleRequest{ProductID: "shampoo", Quantity: 4}, http.StatusCreated, &sale)

	t.Run("neither field", func(t *testing.T) {
		rec := a.do(asAna, "PUT", "/api/sales/"+sale.ID, map[string]any{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "new_quantity", decodeError(t, rec).Field)
	})

	t.Run("both fields", func(t *testing.T) {
		rec := a.do(asAna, "PUT", "/api/sales/"+sale.ID, map[string]any{"new_quantity": 2, "new_product_id": "conditioner"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("another reseller", func(t *testing.T) {
		rec := a.do(asBruno, "PUT", "/api/sales/"+sale.ID, map[string]any{"new_quantity": 2})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	// WHEN: the quantity and then the product are changed
	var corr EntryDTO
	a.ok(asAna, "PUT", "/api/sales/"+sale.ID, map[string]any{"new_quantity": 6}, http.StatusOK, &corr)
	assert.Equal(t, "correction", corr.Kind)
	assert.Equal(t, "sale", corr.Corrects)
	assert.Equal(t, sale.ID, corr.OriginID)
	assert.Equal(t, int64(6), corr.Quantity)

	var moved EntryDTO
	a.ok(asAna, "PUT", "/api/sales/"+corr.ID, map[string]any{"new_product_id": "conditioner"}, http.StatusOK, &moved)
	assert.Equal(t, "conditioner", moved.ProductID)
	assert.True(t, moved.TotalPrice.Equal(decimal.NewFromInt(90)))

	// THEN: the chain keeps every link
	var history []EntryDTO
	a.ok(asAna, "GET", "/api/entries/"+sale.ID+"/history", nil, http.StatusOK, &history)
	require.Len(t, history, 3)
	assert.Equal(t, "superseded", history[0].Status)
	assert.Equal(t, "superseded", history[1].Status)
	assert.Equal(t, "active", history[2].Status)

	var stock []StockLineDTO
	a.ok(asAna, "GET", "/api/stock", nil, http.StatusOK, &stock)
	assert.Equal(t, []StockLineDTO{
		{ProductID: "conditioner", ProductName: "Conditioner", Quantity: 4},
		{ProductID: "shampoo", ProductName: "Shampoo", Quantity: 10},
	}, stock)

	// AND: deleting the sale restores conditioner
	a.ok(asAna, "DELETE", "/api/sales/"+sale.ID, nil, http.StatusOK, nil)
	a.ok(asAna, "GET", "/api/stock", nil, http.StatusOK, &stock)
	assert.Equal(t, int64(10), stock[0].Quantity)
}

func TestAPI_Deliveries(t *testing.T) {
	a := newTestAPI(t)
	a.seed()
	var alloc EntryDTO
	a.ok(asAdmin, "POST", "/api/allocations", AllocateRequest{ProductID: "shampoo", ResellerID: "bruno", Quantity: 20}, http.StatusCreated, &alloc)

	var edited EntryDTO
	a.ok(asAdmin, "PUT", "/api/allocations/"+alloc.ID, EditDeliveryRequest{NewQuantity: 15}, http.StatusOK, &edited)
	assert.Equal(t, int64(15), edited.Quantity)

	a.ok(asBruno, "POST", "/api/sales", RecordSaleRequest{ProductID: "shampoo", Quantity: 10}, http.StatusCreated, nil)

	// Bruno holds 5 of the 15 delivered
	rec := a.do(asAdmin, "DELETE", "/api/allocations/"+alloc.ID, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "conflict", decodeError(t, rec).Code)

	rec = a.do(asBruno, "DELETE", "/api/allocations/"+alloc.ID, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

// =============================================================================
// ACTORS AND ERRORS
// =============================================================================

func TestAPI_ActorHeaders(t *testing.T) {
	a := newTestAPI(t)
	a.seed()

	tests := []struct {
		name   string
		caller caller
		method string
		path   string
		body   any
		want   int
	}{
		{"no headers", asNobody, "GET", "/api/products", nil, http.StatusUnauthorized},
		{"no role", caller{id: "x"}, "GET", "/api/products", nil, http.StatusUnauthorized},
		{"unknown role", caller{"x", "owner"}, "GET", "/api/products", nil, http.StatusUnauthorized},
		{"system role not accepted", caller{"x", "system"}, "GET", "/api/products", nil, http.StatusUnauthorized},
		{"reseller creates product", asAna, "POST", "/api/products", CreateProductRequest{Name: "X", UnitPrice: "1"}, http.StatusForbidden},
		{"reseller allocates", asAna, "POST", "/api/allocations", AllocateRequest{ProductID: "shampoo", ResellerID: "ana", Quantity: 1}, http.StatusForbidden},
		{"admin records sale", asAdmin, "POST", "/api/sales", RecordSaleRequest{ProductID: "shampoo", Quantity: 1}, http.StatusForbidden},
		{"reseller reads other reseller", asAna, "GET", "/api/resellers/bruno", nil, http.StatusForbidden},
		{"reseller reads self", asAna, "GET", "/api/resellers/ana", nil, http.StatusOK},
		{"reseller reads admin report", asAna, "GET", "/api/reports/admin", nil, http.StatusForbidden},
		{"reseller reads other sales", asAna, "GET", "/api/reports/sales?reseller_id=bruno", nil, http.StatusForbidden},
		{"reseller returns for other", asAna, "POST", "/api/returns", ReturnStockRequest{ResellerID: "bruno", ProductID: "shampoo", Quantity: 1}, http.StatusForbidden},
		{"role is case-insensitive", caller{"admin-1", "ADMIN"}, "GET", "/api/resellers", nil, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := a.do(tt.caller, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestAPI_ErrorMapping(t *testing.T) {
	a := newTestAPI(t)
	a.seed()

	t.Run("insufficient central stock", func(t *testing.T) {
		rec := a.do(asAdmin, "POST", "/api/allocations", AllocateRequest{ProductID: "shampoo", ResellerID: "ana", Quantity: 500})
		require.Equal(t, http.StatusConflict, rec.Code)
		resp := decodeError(t, rec)
		assert.Equal(t, "insufficient_central_stock", resp.Code)
		require.NotNil(t, resp.Available)
		require.NotNil(t, resp.Requested)
		assert.Equal(t, int64(100), *resp.Available)
		assert.Equal(t, int64(500), *resp.Requested)
	})

	t.Run("insufficient reseller stock", func(t *testing.T) {
		rec := a.do(asAna, "POST", "/api/sales", RecordSaleRequest{ProductID: "shampoo", Quantity: 1})
		require.Equal(t, http.StatusConflict, rec.Code)
		resp := decodeError(t, rec)
		assert.Equal(t, "insufficient_reseller_stock", resp.Code)
		assert.Equal(t, int64(0), *resp.Available)
	})

	t.Run("not found", func(t *testing.T) {
		rec := a.do(asAdmin, "GET", "/api/products/nope", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "not_found", decodeError(t, rec).Code)
	})

	t.Run("validation field", func(t *testing.T) {
		rec := a.do(asAdmin, "POST", "/api/allocations", AllocateRequest{ProductID: "shampoo", ResellerID: "ana"})
		require.Equal(t, http.StatusBadRequest, rec.Code)
		resp := decodeError(t, rec)
		assert.Equal(t, "validation", resp.Code)
		assert.Equal(t, "quantity", resp.Field)
	})

	t.Run("unknown body field", func(t *testing.T) {
		rec := a.do(asAdmin, "POST", "/api/allocations", `{"product_id":"shampoo","reseller_id":"ana","quantity":1,"qty":2}`)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "body", decodeError(t, rec).Field)
	})

	t.Run("bad price", func(t *testing.T) {
		rec := a.do(asAdmin, "POST", "/api/products", CreateProductRequest{Name: "X", UnitPrice: "ten"})
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "unit_price", decodeError(t, rec).Field)
	})

	t.Run("bad month", func(t *testing.T) {
		rec := a.do(asAna, "GET", "/api/reports/sales?month=13&year=2024", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("bad kind filter", func(t *testing.T) {
		rec := a.do(asAdmin, "GET", "/api/entries?kind=gift", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "kind", decodeError(t, rec).Field)
	})
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&ledger.ValidationError{Field: "f", Reason: "r"}, http.StatusBadRequest},
		{&ledger.NotFoundError{Resource: "entry", ID: "e1"}, http.StatusNotFound},
		{&ledger.InsufficientStockError{ProductID: "p"}, http.StatusConflict},
		{&ledger.InsufficientStockError{ProductID: "p", ResellerID: "r"}, http.StatusConflict},
		{&ledger.ConflictError{EntryID: "e1"}, http.StatusConflict},
		{&ledger.BusyError{Scope: "p(x)", Err: errors.New("deadline")}, http.StatusServiceUnavailable},
		{&ledger.StorageError{Op: "append", Err: errors.New("disk")}, http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}

// =============================================================================
// READ SIDE
// =============================================================================

func TestAPI_AdminReports(t *testing.T) {
	a := newTestAPI(t)
	a.seed()
	a.ok(asAdmin, "POST", "/api/allocations", AllocateRequest{ProductID: "shampoo", ResellerID: "ana", Quantity: 10}, http.StatusCreated, nil)
	a.ok(asAdmin, "POST", "/api/allocations", AllocateRequest{ProductID: "conditioner", ResellerID: "bruno", Quantity: 10}, http.StatusCreated, nil)
	a.ok(asAna, "POST", "/api/sales", RecordSaleRequest{ProductID: "shampoo", Quantity: 3}, http.StatusCreated, nil)
	a.ok(asBruno, "POST", "/api/sales", RecordSaleRequest{ProductID: "conditioner", Quantity: 2}, http.StatusCreated, nil)

	var all map[string]ResellerSalesDTO
	a.ok(asAdmin, "GET", "/api/reports/admin", nil, http.StatusOK, &all)
	assert.Len(t, all, 2)
	assert.Equal(t, "Bruno Lima", all["bruno"].ResellerName)

	var filtered map[string]ResellerSalesDTO
	a.ok(asAdmin, "GET", "/api/reports/admin?name=lima", nil, http.StatusOK, &filtered)
	require.Len(t, filtered, 1)
	assert.True(t, filtered["bruno"].TotalRevenue.Equal(decimal.NewFromInt(30)))

	var byProduct []ProductSalesDTO
	a.ok(asAdmin, "GET", "/api/reports/sales/by-product", nil, http.StatusOK, &byProduct)
	require.Len(t, byProduct, 2)
	assert.Equal(t, "shampoo", byProduct[0].ProductID)

	var dash DashboardDTO
	a.ok(asAdmin, "GET", "/api/reports/dashboard", nil, http.StatusOK, &dash)
	assert.Equal(t, int64(5), dash.UnitsSold)
	assert.Equal(t, int64(15), dash.HeldStock)
	assert.Equal(t, int64(130), dash.CentralStock)

	var summaries []ResellerSummaryDTO
	a.ok(asAdmin, "GET", "/api/reports/resellers?with_sales=true", nil, http.StatusOK, &summaries)
	assert.Len(t, summaries, 2)

	var entries []EntryDTO
	a.ok(asAdmin, "GET", "/api/entries?kind=sale&limit=1", nil, http.StatusOK, &entries)
	require.Len(t, entries, 1)
	assert.Equal(t, "ana", entries[0].ResellerID)

	// Resellers see only their own entries
	a.ok(asBruno, "GET", "/api/entries", nil, http.StatusOK, &entries)
	for _, e := range entries {
		assert.Equal(t, "bruno", e.ResellerID)
	}
}

func TestAPI_ReconcileAndMetrics(t *testing.T) {
	a := newTestAPI(t)
	a.seed()

	var run ReconcileRunDTO
	a.ok(asAdmin, "GET", "/api/reconcile", nil, http.StatusOK, &run)
	assert.True(t, run.Clean)
	assert.Equal(t, "verify", run.Trigger)

	a.ok(asAdmin, "POST", "/api/reconcile/rebuild", nil, http.StatusOK, &run)
	assert.True(t, run.Repaired)
	assert.Equal(t, 2, run.Keys)

	var runs ReconcileRunsDTO
	a.ok(asAdmin, "GET", "/api/reconcile/runs", nil, http.StatusOK, &runs)
	require.Len(t, runs.Runs, 2)
	assert.Equal(t, "rebuild", runs.Runs[0].Trigger)
	assert.Nil(t, runs.NextRunAt)

	rec := a.do(asAna, "POST", "/api/reconcile", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	a.ok(asAdmin, "GET", "/api/products/shampoo", nil, http.StatusOK, nil)

	rec = a.do(asNobody, "GET", "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `path="/api/products/{id}"`), "route pattern label")
	assert.NotContains(t, body, `path="/api/products/shampoo"`)
	assert.Contains(t, body, "stock_ledger_reconcile_runs_total")
	assert.Contains(t, body, "stock_ledger_operations_total")

	rec = a.do(asNobody, "GET", "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

/*
report_handlers.go - Read-side HTTP handlers

PURPOSE:
  Reports, the audit trail and reconciliation endpoints. Nothing here
  appends to the ledger except the repair runs under /api/reconcile.

SEE ALSO:
  - inventory/reports.go: Report computations
  - inventory/reconcile.go: Verify / repair / rebuild
*/
package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/warp/stock-ledger/inventory"
	"github.com/warp/stock-ledger/ledger"
)

const (
	defaultEntryLimit = 100
	maxEntryLimit     = 1000
)

// =============================================================================
// REPORT ENDPOINTS
// =============================================================================
//
//   GET /api/stock                          Current held stock (?reseller_id=)
//   GET /api/reports/sales                  Sales of one reseller (?reseller_id=&month=&year=)
//   GET /api/reports/sales/by-product       Units and revenue per product
//   GET /api/reports/deliveries/{resellerID} Deliveries grouped by product
//   GET /api/reports/admin                  Sales grouped by reseller (admin)
//   GET /api/reports/resellers              Per-reseller totals (admin)
//   GET /api/reports/dashboard              Headline figures (admin)
//
// Resellers calling these see only their own data; month 0, "all" or absent
// means the whole year, year absent means all time.

func monthYear(r *http.Request) (month, year int, err error) {
	if !strings.EqualFold(r.URL.Query().Get("month"), "all") {
		if month, err = intParam(r, "month", 0); err != nil {
			return 0, 0, err
		}
	}
	if year, err = intParam(r, "year", 0); err != nil {
		return 0, 0, err
	}
	return month, year, nil
}

// CurrentStock lists what a reseller holds right now.
func (h *Handler) CurrentStock(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	resellerID, err := scopedReseller(actor, r.URL.Query().Get("reseller_id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	lines, err := h.Coord.Reports().CurrentStock(r.Context(), resellerID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]StockLineDTO, len(lines))
	for i, l := range lines {
		out[i] = StockLineDTO{ProductID: string(l.ProductID), ProductName: l.ProductName, Quantity: l.Quantity}
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) SalesReport(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	resellerID, err := scopedReseller(actor, r.URL.Query().Get("reseller_id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	month, year, err := monthYear(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	report, err := h.Coord.Reports().SalesReport(r.Context(), resellerID, month, year)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SalesReportDTO{
		ResellerID:   string(report.ResellerID),
		TotalSales:   report.TotalSales,
		TotalRevenue: report.TotalRevenue,
		SalesDetails: toSaleLineDTOs(report.SalesDetails),
	})
}

// SalesByProduct covers every reseller for admins, or the caller's own
// sales for resellers.
func (h *Handler) SalesByProduct(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	resellerID, err := scopedReseller(actor, r.URL.Query().Get("reseller_id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	month, year, err := monthYear(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	lines, err := h.Coord.Reports().SalesByProduct(r.Context(), resellerID, month, year)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]ProductSalesDTO, len(lines))
	for i, l := range lines {
		out[i] = ProductSalesDTO{
			ProductID:   string(l.ProductID),
			ProductName: l.ProductName,
			Quantity:    l.Quantity,
			Revenue:     l.Revenue,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) DeliveriesReport(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	resellerID, err := scopedReseller(actor, chi.URLParam(r, "resellerID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	report, err := h.Coord.Reports().DeliveriesReport(r.Context(), resellerID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDeliveriesDTO(report))
}

// AdminReport groups sales by reseller (?month=&year=&name=).
func (h *Handler) AdminReport(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.admin(w, r); !ok {
		return
	}
	month, year, err := monthYear(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	report, err := h.Coord.Reports().AdminReport(r.Context(), inventory.AdminReportFilter{
		Month: month,
		Year:  year,
		Name:  r.URL.Query().Get("name"),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make(map[string]ResellerSalesDTO, len(report))
	for id, rs := range report {
		out[string(id)] = ResellerSalesDTO{
			ResellerName: rs.ResellerName,
			SalesDetails: toSaleLineDTOs(rs.SalesDetails),
			TotalSales:   rs.TotalSales,
			TotalRevenue: rs.TotalRevenue,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// ResellerSummaries lists per-reseller totals (?with_sales=true filters).
func (h *Handler) ResellerSummaries(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.admin(w, r); !ok {
		return
	}
	withSales, err := boolParam(r, "with_sales")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	summaries, err := h.Coord.Reports().ResellerSummaries(r.Context(), withSales)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]ResellerSummaryDTO, len(summaries))
	for i, s := range summaries {
		out[i] = ResellerSummaryDTO{
			ResellerID:   string(s.ResellerID),
			Name:         s.Name,
			Status:       string(s.Status),
			TotalSales:   s.TotalSales,
			TotalRevenue: s.TotalRevenue,
			HeldStock:    s.HeldStock,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.admin(w, r); !ok {
		return
	}
	d, err := h.Coord.Reports().Dashboard(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, DashboardDTO{
		ActiveProducts:     d.ActiveProducts,
		ActiveResellers:    d.ActiveResellers,
		ResellersWithSales: d.ResellersWithSales,
		CentralStock:       d.CentralStock,
		HeldStock:          d.HeldStock,
		UnitsSold:          d.UnitsSold,
		Revenue:            d.Revenue,
	})
}

// =============================================================================
// AUDIT ENDPOINTS
// =============================================================================
//
//   GET /api/entries               Filtered ledger rows
//   GET /api/entries/{id}/history  Every link of an entry's chain

// ListEntries returns ledger rows in commit order. Query parameters:
// product_id, reseller_id, kind (comma separated), origin_id, from, to
// (RFC 3339), include_superseded, include_reversed, limit.
func (h *Handler) ListEntries(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	f, limit, err := entryFilter(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !actor.IsAdmin() {
		if f.ResellerID, err = scopedReseller(actor, string(f.ResellerID)); err != nil {
			h.fail(w, r, err)
			return
		}
	}
	entries, err := h.Coord.Reports().ListEntries(r.Context(), f, limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTOs(entries))
}

func (h *Handler) EntryHistory(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	entries, err := h.Coord.Reports().EntryHistory(r.Context(), ledger.EntryID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if own, isReseller := actor.ResellerID(); isReseller {
		for _, e := range entries {
			if e.ResellerID != own {
				h.fail(w, r, errForbidden)
				return
			}
		}
	}
	writeJSON(w, http.StatusOK, toEntryDTOs(entries))
}

func entryFilter(r *http.Request) (ledger.Filter, int, error) {
	q := r.URL.Query()
	f := ledger.Filter{
		ProductID:  ledger.ProductID(q.Get("product_id")),
		ResellerID: ledger.ResellerID(q.Get("reseller_id")),
		OriginID:   ledger.EntryID(q.Get("origin_id")),
	}
	if kinds := q.Get("kind"); kinds != "" {
		for _, k := range strings.Split(kinds, ",") {
			kind := ledger.Kind(strings.TrimSpace(k))
			if !kind.Valid() {
				return f, 0, &ledger.ValidationError{Field: "kind", Reason: "unknown kind " + string(kind)}
			}
			f.Kinds = append(f.Kinds, kind)
		}
	}
	var err error
	if f.From, err = timeParam(r, "from"); err != nil {
		return f, 0, err
	}
	if f.To, err = timeParam(r, "to"); err != nil {
		return f, 0, err
	}
	if f.IncludeSuperseded, err = boolParam(r, "include_superseded"); err != nil {
		return f, 0, err
	}
	if f.IncludeReversed, err = boolParam(r, "include_reversed"); err != nil {
		return f, 0, err
	}
	limit, err := intParam(r, "limit", defaultEntryLimit)
	if err != nil {
		return f, 0, err
	}
	if limit <= 0 || limit > maxEntryLimit {
		return f, 0, &ledger.ValidationError{Field: "limit", Reason: "must be between 1 and 1000"}
	}
	return f, limit, nil
}

func timeParam(r *http.Request, name string) (time.Time, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, &ledger.ValidationError{Field: name, Reason: "must be an RFC 3339 timestamp"}
	}
	return t, nil
}

// =============================================================================
// RECONCILIATION ENDPOINTS
// =============================================================================
//
//   GET  /api/reconcile          Verify only, never repairs
//   POST /api/reconcile          Verify and repair drift
//   POST /api/reconcile/rebuild  Recompute every balance from the ledger
//   GET  /api/reconcile/runs     Recent runs, newest first

func (h *Handler) VerifyBalances(w http.ResponseWriter, r *http.Request) {
	h.reconcile(w, r, "verify", h.Coord.Verify)
}

func (h *Handler) ReconcileBalances(w http.ResponseWriter, r *http.Request) {
	h.reconcile(w, r, "manual", h.Coord.Reconcile)
}

func (h *Handler) RebuildBalances(w http.ResponseWriter, r *http.Request) {
	h.reconcile(w, r, "rebuild", h.Coord.Rebuild)
}

type reconcileFunc func(ctx context.Context) (inventory.ReconcileResult, error)

func (h *Handler) reconcile(w http.ResponseWriter, r *http.Request, trigger string, fn reconcileFunc) {
	if _, ok := h.admin(w, r); !ok {
		return
	}
	result, err := fn(r.Context())
	run := ReconcileRun{Trigger: trigger, Result: result, Err: err}
	h.Runs.Add(run)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toReconcileRunDTO(run))
}

func (h *Handler) ListReconcileRuns(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.admin(w, r); !ok {
		return
	}
	runs := h.Runs.List()
	out := ReconcileRunsDTO{Runs: make([]ReconcileRunDTO, len(runs))}
	for i, run := range runs {
		out.Runs[i] = toReconcileRunDTO(run)
	}
	if h.Scheduler != nil && h.Scheduler.Enabled {
		next := h.Scheduler.GetNextRunTime()
		out.NextRunAt = &next
	}
	writeJSON(w, http.StatusOK, out)
}

func toReconcileRunDTO(run ReconcileRun) ReconcileRunDTO {
	res := run.Result
	dto := ReconcileRunDTO{
		Trigger:    run.Trigger,
		CheckedAt:  res.CheckedAt,
		Keys:       res.Keys,
		Clean:      run.Err == nil && res.Clean(),
		Repaired:   res.Repaired,
		ViewDrift:  toDriftDTOs(res.ViewDrift),
		StoreDrift: toDriftDTOs(res.StoreDrift),
	}
	if run.Err != nil {
		dto.Error = run.Err.Error()
	}
	return dto
}

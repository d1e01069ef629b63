/*
reports.go - Read-only aggregates over the ledger

PURPOSE:
  Builds the sales, deliveries and admin reports on demand by querying the
  store. Only active entries are read: a corrected sale appears once, with
  its corrected quantity, product and price; a deleted sale not at all.

TIME:
  Month/year windows apply to EffectiveAt, the business time of the
  original movement. Editing a March sale in April keeps it in March.

CONCURRENCY:
  Reports take no coordinator locks. Current stock figures come from the
  materialized view and may trail the ledger by at most one commit. With a
  shared store they are loaded from the persisted counters instead.

SEE ALSO:
  - ledger/period.go: MonthWindow
  - balance/view.go: Current stock
*/
package inventory

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/stock-ledger/balance"
	"github.com/warp/stock-ledger/ledger"
)

type Reports struct {
	store ledger.Store
	view  *balance.View

	// shared makes stock figures come from the store (see WithSharedStore).
	shared bool
}

func NewReports(store ledger.Store, view *balance.View) *Reports {
	return &Reports{store: store, view: view}
}

func (r *Reports) balances(ctx context.Context) (*balance.View, error) {
	if !r.shared {
		return r.view, nil
	}
	return balance.Load(ctx, r.store)
}

// =============================================================================
// REPORT TYPES
// =============================================================================

// SaleLine is one sale as it currently stands.
type SaleLine struct {
	SaleID      ledger.EntryID // id of the original sale
	EntryID     ledger.EntryID // current head (the sale or its latest correction)
	ResellerID  ledger.ResellerID
	ProductID   ledger.ProductID
	ProductName string
	Quantity    int64
	UnitPrice   decimal.Decimal
	TotalPrice  decimal.Decimal
	SoldAt      time.Time
}

type SalesReport struct {
	ResellerID   ledger.ResellerID
	TotalSales   int64 // units sold
	TotalRevenue decimal.Decimal
	SalesDetails []SaleLine
}

type DeliveryLine struct {
	DeliveryID  ledger.EntryID // id of the original allocation
	EntryID     ledger.EntryID
	Quantity    int64
	DeliveredAt time.Time
}

type ProductDeliveries struct {
	ProductName     string
	DeliveryDetails []DeliveryLine
	Sold            int64
	CurrentStock    int64
}

type ResellerSales struct {
	ResellerName string
	SalesDetails []SaleLine
	TotalSales   int64
	TotalRevenue decimal.Decimal
}

type AdminReportFilter struct {
	Month int // 0 = whole year (or all time with Year 0)
	Year  int
	Name  string // case-insensitive substring of the reseller name
}

type ProductSales struct {
	ProductID   ledger.ProductID
	ProductName string
	Quantity    int64
	Revenue     decimal.Decimal
}

type ResellerSummary struct {
	ResellerID   ledger.ResellerID
	Name         string
	Status       ledger.Status
	TotalSales   int64
	TotalRevenue decimal.Decimal
	HeldStock    int64
}

type Dashboard struct {
	ActiveProducts     int
	ActiveResellers    int
	ResellersWithSales int
	CentralStock       int64
	HeldStock          int64
	UnitsSold          int64
	Revenue            decimal.Decimal
}

type StockLine struct {
	ProductID   ledger.ProductID
	ProductName string
	Quantity    int64
}

// =============================================================================
// SALES
// =============================================================================

// SalesReport lists a reseller's sales in a month (month 0 = whole year,
// year 0 = all time).
func (r *Reports) SalesReport(ctx context.Context, resellerID ledger.ResellerID, month, year int) (SalesReport, error) {
	if err := checkID("reseller_id", string(resellerID)); err != nil {
		return SalesReport{}, err
	}
	window, err := ledger.MonthWindow(year, month)
	if err != nil {
		return SalesReport{}, err
	}
	lines, err := r.sales(ctx, window.Apply(ledger.Filter{ResellerID: resellerID}))
	if err != nil {
		return SalesReport{}, err
	}

	report := SalesReport{ResellerID: resellerID, SalesDetails: lines, TotalRevenue: decimal.Zero}
	report.TotalSales, report.TotalRevenue = totals(lines)
	return report, nil
}

// AdminReport groups sales by reseller. Only resellers with at least one sale
// in the window appear.
func (r *Reports) AdminReport(ctx context.Context, f AdminReportFilter) (map[ledger.ResellerID]ResellerSales, error) {
	window, err := ledger.MonthWindow(f.Year, f.Month)
	if err != nil {
		return nil, err
	}
	resellers, err := r.resellerNames(ctx)
	if err != nil {
		return nil, err
	}
	lines, err := r.sales(ctx, window.Apply(ledger.Filter{}))
	if err != nil {
		return nil, err
	}

	needle := strings.ToLower(strings.TrimSpace(f.Name))
	out := make(map[ledger.ResellerID]ResellerSales)
	for _, l := range lines {
		name := resellers[l.ResellerID]
		if needle != "" && !strings.Contains(strings.ToLower(name), needle) {
			continue
		}
		rs, ok := out[l.ResellerID]
		if !ok {
			rs = ResellerSales{ResellerName: name, TotalRevenue: decimal.Zero}
		}
		rs.SalesDetails = append(rs.SalesDetails, l)
		rs.TotalSales += l.Quantity
		rs.TotalRevenue = rs.TotalRevenue.Add(l.TotalPrice)
		out[l.ResellerID] = rs
	}
	return out, nil
}

// SalesByProduct sums units and revenue per product, best sellers first.
// An empty resellerID covers every reseller.
func (r *Reports) SalesByProduct(ctx context.Context, resellerID ledger.ResellerID, month, year int) ([]ProductSales, error) {
	window, err := ledger.MonthWindow(year, month)
	if err != nil {
		return nil, err
	}
	lines, err := r.sales(ctx, window.Apply(ledger.Filter{ResellerID: resellerID}))
	if err != nil {
		return nil, err
	}

	byProduct := make(map[ledger.ProductID]*ProductSales)
	for _, l := range lines {
		ps, ok := byProduct[l.ProductID]
		if !ok {
			ps = &ProductSales{ProductID: l.ProductID, ProductName: l.ProductName, Revenue: decimal.Zero}
			byProduct[l.ProductID] = ps
		}
		ps.Quantity += l.Quantity
		ps.Revenue = ps.Revenue.Add(l.TotalPrice)
	}

	out := make([]ProductSales, 0, len(byProduct))
	for _, ps := range byProduct {
		out = append(out, *ps)
	}
	slices.SortFunc(out, func(a, b ProductSales) int {
		if c := cmp.Compare(b.Quantity, a.Quantity); c != 0 {
			return c
		}
		return cmp.Compare(a.ProductName, b.ProductName)
	})
	return out, nil
}

// sales returns the active sale heads matching f, in commit order.
func (r *Reports) sales(ctx context.Context, f ledger.Filter) ([]SaleLine, error) {
	products, err := r.productNames(ctx)
	if err != nil {
		return nil, err
	}
	f.Kinds = []ledger.Kind{ledger.KindSale}

	var lines []SaleLine
	for e, err := range r.store.Query(ctx, f) {
		if err != nil {
			return nil, err
		}
		lines = append(lines, SaleLine{
			SaleID:      e.Origin(),
			EntryID:     e.ID,
			ResellerID:  e.ResellerID,
			ProductID:   e.ProductID,
			ProductName: products[e.ProductID],
			Quantity:    e.Quantity,
			UnitPrice:   e.UnitPrice,
			TotalPrice:  e.TotalPrice,
			SoldAt:      e.EffectiveAt,
		})
	}
	return lines, nil
}

func totals(lines []SaleLine) (int64, decimal.Decimal) {
	var units int64
	revenue := decimal.Zero
	for _, l := range lines {
		units += l.Quantity
		revenue = revenue.Add(l.TotalPrice)
	}
	return units, revenue
}

// =============================================================================
// DELIVERIES
// =============================================================================

// DeliveriesReport groups a reseller's allocations by product, with units
// sold and current stock. Products the reseller only sold (after a sale was
// moved to them) appear with no delivery lines.
func (r *Reports) DeliveriesReport(ctx context.Context, resellerID ledger.ResellerID) (map[ledger.ProductID]ProductDeliveries, error) {
	if err := checkID("reseller_id", string(resellerID)); err != nil {
		return nil, err
	}
	products, err := r.productNames(ctx)
	if err != nil {
		return nil, err
	}

	out := make(map[ledger.ProductID]ProductDeliveries)
	entry := func(p ledger.ProductID) ProductDeliveries {
		pd, ok := out[p]
		if !ok {
			pd = ProductDeliveries{ProductName: products[p]}
		}
		return pd
	}

	filter := ledger.Filter{
		ResellerID: resellerID,
		Kinds:      []ledger.Kind{ledger.KindAllocation, ledger.KindSale},
	}
	for e, err := range r.store.Query(ctx, filter) {
		if err != nil {
			return nil, err
		}
		pd := entry(e.ProductID)
		switch e.EffectKind() {
		case ledger.KindAllocation:
			pd.DeliveryDetails = append(pd.DeliveryDetails, DeliveryLine{
				DeliveryID:  e.Origin(),
				EntryID:     e.ID,
				Quantity:    e.Quantity,
				DeliveredAt: e.EffectiveAt,
			})
		case ledger.KindSale:
			pd.Sold += e.Quantity
		}
		out[e.ProductID] = pd
	}

	view, err := r.balances(ctx)
	if err != nil {
		return nil, err
	}
	for p, pd := range out {
		pd.CurrentStock = view.Held(resellerID, p)
		out[p] = pd
	}
	return out, nil
}

// CurrentStock lists what a reseller holds right now.
func (r *Reports) CurrentStock(ctx context.Context, resellerID ledger.ResellerID) ([]StockLine, error) {
	if err := checkID("reseller_id", string(resellerID)); err != nil {
		return nil, err
	}
	products, err := r.productNames(ctx)
	if err != nil {
		return nil, err
	}
	view, err := r.balances(ctx)
	if err != nil {
		return nil, err
	}
	held := view.HeldAll(resellerID)
	out := make([]StockLine, 0, len(held))
	for p, q := range held {
		out = append(out, StockLine{ProductID: p, ProductName: products[p], Quantity: q})
	}
	slices.SortFunc(out, func(a, b StockLine) int {
		if c := cmp.Compare(a.ProductName, b.ProductName); c != 0 {
			return c
		}
		return cmp.Compare(a.ProductID, b.ProductID)
	})
	return out, nil
}

// =============================================================================
// OVERVIEW
// =============================================================================

// ResellerSummaries returns sales totals and held stock per reseller.
func (r *Reports) ResellerSummaries(ctx context.Context, onlyWithSales bool) ([]ResellerSummary, error) {
	resellers, err := r.store.ListResellers(ctx)
	if err != nil {
		return nil, err
	}
	lines, err := r.sales(ctx, ledger.Filter{})
	if err != nil {
		return nil, err
	}

	view, err := r.balances(ctx)
	if err != nil {
		return nil, err
	}

	type agg struct {
		units   int64
		revenue decimal.Decimal
	}
	byReseller := make(map[ledger.ResellerID]agg)
	for _, l := range lines {
		a := byReseller[l.ResellerID]
		a.units += l.Quantity
		a.revenue = a.revenue.Add(l.TotalPrice)
		byReseller[l.ResellerID] = a
	}

	out := make([]ResellerSummary, 0, len(resellers))
	for _, res := range resellers {
		a, sold := byReseller[res.ID]
		if onlyWithSales && !sold {
			continue
		}
		var held int64
		for _, q := range view.HeldAll(res.ID) {
			held += q
		}
		out = append(out, ResellerSummary{
			ResellerID:   res.ID,
			Name:         res.Name,
			Status:       res.Status,
			TotalSales:   a.units,
			TotalRevenue: a.revenue,
			HeldStock:    held,
		})
	}
	return out, nil
}

// Dashboard returns the headline figures of the admin home screen.
func (r *Reports) Dashboard(ctx context.Context) (Dashboard, error) {
	products, err := r.store.ListProducts(ctx)
	if err != nil {
		return Dashboard{}, err
	}
	summaries, err := r.ResellerSummaries(ctx, false)
	if err != nil {
		return Dashboard{}, err
	}

	view, err := r.balances(ctx)
	if err != nil {
		return Dashboard{}, err
	}

	d := Dashboard{Revenue: decimal.Zero}
	for _, p := range products {
		if p.IsActive() {
			d.ActiveProducts++
		}
		d.CentralStock += view.Central(p.ID)
	}
	for _, s := range summaries {
		if s.Status == ledger.StatusActive {
			d.ActiveResellers++
		}
		if s.TotalSales > 0 {
			d.ResellersWithSales++
		}
		d.HeldStock += s.HeldStock
		d.UnitsSold += s.TotalSales
		d.Revenue = d.Revenue.Add(s.TotalRevenue)
	}
	return d, nil
}

// =============================================================================
// AUDIT
// =============================================================================

// EntryHistory returns every entry of id's chain, including superseded and
// reversed ones, in commit order.
func (r *Reports) EntryHistory(ctx context.Context, id ledger.EntryID) ([]ledger.Entry, error) {
	e, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return ledger.Collect(r.store.Query(ctx, ledger.Filter{
		OriginID:          e.Origin(),
		IncludeSuperseded: true,
		IncludeReversed:   true,
	}))
}

// ListEntries returns at most limit entries matching f (limit <= 0: no limit).
func (r *Reports) ListEntries(ctx context.Context, f ledger.Filter, limit int) ([]ledger.Entry, error) {
	var out []ledger.Entry
	for e, err := range r.store.Query(ctx, f) {
		if err != nil {
			return nil, err
		}
		out = append(out, e)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (r *Reports) productNames(ctx context.Context) (map[ledger.ProductID]string, error) {
	products, err := r.store.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	names := make(map[ledger.ProductID]string, len(products))
	for _, p := range products {
		names[p.ID] = p.Name
	}
	return names, nil
}

func (r *Reports) resellerNames(ctx context.Context) (map[ledger.ResellerID]string, error) {
	resellers, err := r.store.ListResellers(ctx)
	if err != nil {
		return nil, err
	}
	names := make(map[ledger.ResellerID]string, len(resellers))
	for _, res := range resellers {
		names[res.ID] = res.Name
	}
	return names, nil
}

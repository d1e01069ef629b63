/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the ledger with realistic
	data for testing and demos. Every scenario goes through the coordinator,
	so the resulting ledger is exactly what the same API calls would produce.

AVAILABLE SCENARIOS:

	empty:           Wipe everything
	shampoo:         One product, one reseller: allocate, sell, return
	multi-reseller:  Three products, three resellers, with edits, a moved
	                 sale, a deleted sale and a deleted reseller

HOW SCENARIOS WORK:
 1. Reset the store and the balance view (Coordinator.Reset)
 2. Create products (initial stock is a receipt entry)
 3. Create resellers
 4. Allocate, sell, correct and return through the coordinator

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "multi-reseller"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create loader function: loadXxxScenario(ctx)
 3. Add it to the 'loaders' map

NOTE:

	Scenarios reset the ledger. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Handler
  - inventory/coordinator.go: Operations used by the loaders
*/
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
	"github.com/warp/stock-ledger/inventory"
	"github.com/warp/stock-ledger/ledger"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "empty",
		Name:        "Empty",
		Description: "No products, resellers or entries",
	},
	{
		ID:          "shampoo",
		Name:        "Shampoo",
		Description: "One product and one reseller: allocate 30, sell 12, return 5",
	},
	{
		ID:          "multi-reseller",
		Name:        "Multi-Reseller",
		Description: "Three products and three resellers with edited, moved and deleted sales",
	},
}

var demoAdmin = inventory.Actor{ID: "demo-admin", Role: ledger.RoleAdmin}

func (h *Handler) loaders() map[string]func(context.Context) error {
	return map[string]func(context.Context) error{
		"empty":          func(context.Context) error { return nil },
		"shampoo":        h.loadShampooScenario,
		"multi-reseller": h.loadMultiResellerScenario,
	}
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.scenarioMu.Lock()
	current := h.currentScenario
	h.scenarioMu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the ledger and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.admin(w, r); !ok {
		return
	}
	var req LoadScenarioRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	load, ok := h.loaders()[req.ScenarioID]
	if !ok {
		h.fail(w, r, &ledger.ValidationError{Field: "scenario_id", Reason: "unknown scenario " + req.ScenarioID})
		return
	}

	h.scenarioMu.Lock()
	defer h.scenarioMu.Unlock()

	ctx := r.Context()
	h.currentScenario = ""
	if err := h.Coord.Reset(ctx); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := load(ctx); err != nil {
		h.fail(w, r, fmt.Errorf("load scenario %s: %w", req.ScenarioID, err))
		return
	}
	h.currentScenario = req.ScenarioID
	h.log.Info().Str("scenario", req.ScenarioID).Msg("scenario loaded")

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

// loader runs coordinator calls in sequence and keeps the first error.
type loader struct {
	ctx   context.Context
	coord *inventory.Coordinator
	err   error
}

func (l *loader) product(id, name, price string, stock int64) {
	if l.err != nil {
		return
	}
	_, l.err = l.coord.CreateProduct(l.ctx, demoAdmin, inventory.NewProduct{
		ID:           ledger.ProductID(id),
		Name:         name,
		UnitPrice:    decimal.RequireFromString(price),
		InitialStock: stock,
	})
}

func (l *loader) reseller(id, name, contact string) {
	if l.err != nil {
		return
	}
	_, l.err = l.coord.CreateReseller(l.ctx, demoAdmin, inventory.NewReseller{
		ID:      ledger.ResellerID(id),
		Name:    name,
		Contact: contact,
	})
}

func (l *loader) allocate(product, reseller string, qty int64) ledger.EntryID {
	if l.err != nil {
		return ""
	}
	var e ledger.Entry
	e, l.err = l.coord.Allocate(l.ctx, demoAdmin, ledger.ProductID(product), ledger.ResellerID(reseller), qty)
	return e.ID
}

func (l *loader) sell(reseller, product string, qty int64) ledger.EntryID {
	if l.err != nil {
		return ""
	}
	var e ledger.Entry
	e, l.err = l.coord.RecordSale(l.ctx, resellerActor(reseller), ledger.ProductID(product), qty)
	return e.ID
}

func (l *loader) giveBack(reseller, product string, qty int64) {
	if l.err != nil {
		return
	}
	_, l.err = l.coord.ReturnStock(l.ctx, resellerActor(reseller), ledger.ResellerID(reseller), ledger.ProductID(product), qty)
}

// do runs an arbitrary step.
func (l *loader) do(step func() error) {
	if l.err != nil {
		return
	}
	l.err = step()
}

func resellerActor(id string) inventory.Actor {
	return inventory.Actor{ID: id, Role: ledger.RoleReseller}
}

// loadShampooScenario: central 75, Ana holds 13, one sale of 12.
func (h *Handler) loadShampooScenario(ctx context.Context) error {
	l := &loader{ctx: ctx, coord: h.Coord}
	l.product("shampoo", "Shampoo", "10.00", 100)
	l.reseller("ana", "Ana Souza", "ana@example.com")
	l.allocate("shampoo", "ana", 30)
	l.sell("ana", "shampoo", 12)
	l.giveBack("ana", "shampoo", 5)
	return l.err
}

// loadMultiResellerScenario ends with:
//
//	central: shampoo 135, conditioner 100, soap 350
//	ana:     shampoo 25, conditioner 20
//	bruno:   shampoo 25, soap 22
//	carla:   deleted, holds nothing
func (h *Handler) loadMultiResellerScenario(ctx context.Context) error {
	l := &loader{ctx: ctx, coord: h.Coord}
	ana, bruno := resellerActor("ana"), resellerActor("bruno")

	l.product("shampoo", "Shampoo", "10.00", 200)
	l.product("conditioner", "Conditioner", "15.50", 120)
	l.product("soap", "Soap", "3.25", 300)
	l.reseller("ana", "Ana Souza", "ana@example.com")
	l.reseller("bruno", "Bruno Lima", "bruno@example.com")
	l.reseller("carla", "Carla Dias", "carla@example.com")

	l.allocate("shampoo", "ana", 40)
	l.allocate("conditioner", "ana", 20)
	brunoShampoo := l.allocate("shampoo", "bruno", 30)
	l.allocate("soap", "bruno", 50)
	l.allocate("soap", "carla", 10)

	anaShampooSale := l.sell("ana", "shampoo", 12)
	anaConditionerSale := l.sell("ana", "conditioner", 5)
	brunoMistake := l.sell("bruno", "shampoo", 8)
	l.sell("bruno", "soap", 20)

	// Corrections
	l.do(func() error {
		_, err := h.Coord.EditSaleQuantity(ctx, ana, anaShampooSale, 15)
		return err
	})
	l.do(func() error {
		_, err := h.Coord.EditSaleProduct(ctx, bruno, brunoMistake, "soap")
		return err
	})
	l.do(func() error {
		_, err := h.Coord.DeleteSale(ctx, ana, anaConditionerSale)
		return err
	})
	l.do(func() error {
		_, err := h.Coord.EditDelivery(ctx, demoAdmin, brunoShampoo, 25)
		return err
	})

	// Carla leaves
	l.giveBack("carla", "soap", 10)
	l.do(func() error {
		_, err := h.Coord.DeleteReseller(ctx, demoAdmin, "carla")
		return err
	})

	l.do(func() error {
		_, err := h.Coord.ReceiveStock(ctx, demoAdmin, "soap", 100, "supplier delivery")
		return err
	})
	return l.err
}

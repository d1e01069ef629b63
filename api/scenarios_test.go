/*
scenarios_test.go - Tests for the demo scenario loaders

Each scenario is loaded through the API and its final balances checked
against the materialized view and a full ledger replay.
*/
package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/stock-ledger/ledger"
)

func (a *testAPI) load(id string) {
	a.t.Helper()
	a.ok(asAdmin, "POST", "/api/scenarios/load", LoadScenarioRequest{ScenarioID: id}, http.StatusOK, nil)
}

func (a *testAPI) requireClean() {
	a.t.Helper()
	res, err := a.h.Coord.Verify(context.Background())
	require.NoError(a.t, err)
	require.True(a.t, res.Clean(), "view drift %v, store drift %v", res.ViewDrift, res.StoreDrift)
}

func TestScenario_Shampoo(t *testing.T) {
	a := newTestAPI(t)
	a.load("shampoo")

	view := a.h.Coord.View()
	assert.Equal(t, int64(75), view.Central("shampoo"))
	assert.Equal(t, int64(13), view.Held("ana", "shampoo"))
	a.requireClean()

	var current ScenarioDTO
	a.ok(asAdmin, "GET", "/api/scenarios/current", nil, http.StatusOK, &current)
	assert.Equal(t, "shampoo", current.ID)
}

func TestScenario_MultiReseller(t *testing.T) {
	a := newTestAPI(t)
	a.load("multi-reseller")

	view := a.h.Coord.View()
	assert.Equal(t, int64(135), view.Central("shampoo"))
	assert.Equal(t, int64(100), view.Central("conditioner"))
	assert.Equal(t, int64(350), view.Central("soap"))
	assert.Equal(t, map[ledger.ProductID]int64{"shampoo": 25, "conditioner": 20}, view.HeldAll("ana"))
	assert.Equal(t, map[ledger.ProductID]int64{"shampoo": 25, "soap": 22}, view.HeldAll("bruno"))
	assert.Empty(t, view.HeldAll("carla"))
	a.requireClean()

	var resellers []ResellerDTO
	a.ok(asAdmin, "GET", "/api/resellers", nil, http.StatusOK, &resellers)
	assert.Len(t, resellers, 2, "carla is deleted")

	// Ana's only remaining sale is the edited shampoo sale
	var report SalesReportDTO
	a.ok(asAna, "GET", "/api/reports/sales", nil, http.StatusOK, &report)
	require.Len(t, report.SalesDetails, 1)
	assert.Equal(t, int64(15), report.TotalSales)
	assert.NotEqual(t, report.SalesDetails[0].SaleID, report.SalesDetails[0].EntryID)

	// Bruno's moved sale counts under soap
	var bruno SalesReportDTO
	a.ok(asBruno, "GET", "/api/reports/sales", nil, http.StatusOK, &bruno)
	assert.Equal(t, int64(28), bruno.TotalSales)
	for _, l := range bruno.SalesDetails {
		assert.Equal(t, "soap", l.ProductID)
	}
}

func TestScenario_LoadResetsPreviousState(t *testing.T) {
	a := newTestAPI(t)
	a.load("multi-reseller")
	a.load("empty")

	var products []ProductDTO
	a.ok(asAdmin, "GET", "/api/products?include_deleted=true", nil, http.StatusOK, &products)
	assert.Empty(t, products)
	assert.Empty(t, a.h.Coord.View().Snapshot())
	a.requireClean()

	// Loading twice gives the same balances
	a.load("shampoo")
	a.load("shampoo")
	assert.Equal(t, int64(75), a.h.Coord.View().Central("shampoo"))
}

func TestScenario_AllScenariosLoadWithoutError(t *testing.T) {
	a := newTestAPI(t)

	var list []ScenarioDTO
	a.ok(asNobody, "GET", "/api/scenarios", nil, http.StatusOK, &list)
	require.Len(t, list, len(scenarios))

	for _, s := range list {
		t.Run(s.ID, func(t *testing.T) {
			a.load(s.ID)
			a.requireClean()
		})
	}
}

func TestScenario_Rejected(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(asAdmin, "POST", "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "scenario_id", decodeError(t, rec).Field)

	rec = a.do(asAna, "POST", "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "shampoo"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

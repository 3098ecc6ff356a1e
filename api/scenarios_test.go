/*
scenarios_test.go - Tests for demo scenarios

PURPOSE:
	Each scenario replaces the tariff table and stores one completed run
	that shows the part of the report it is named after.
*/
package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/tariff-engine/engine"
)

func TestScenario_NearestFacility(t *testing.T) {
	// GIVEN: Campinas orders paid to the Sao Paulo representative
	h := setupTestHandler(t)

	// WHEN: Loading the scenario
	report, err := h.loadScenario(context.Background(), "nearest-facility")
	require.NoError(t, err)

	// THEN: The local representative is suggested and savings are positive
	assert.Equal(t, engine.RunCompleted, report.Status)
	assert.Equal(t, 1, report.Summary.Unpaid)
	require.Len(t, report.Savings, 2)
	for _, s := range report.Savings {
		assert.Equal(t, engine.FacilityKey("REP SAO PAULO"), s.Scheduled)
		assert.Equal(t, engine.FacilityKey("REP CAMPINAS"), s.Suggested)
		assert.False(t, s.SameFacility)
	}
	assert.True(t, report.Summary.SavingsTotal.IsPositive())
}

func TestScenario_DuplicateSlot(t *testing.T) {
	h := setupTestHandler(t)

	report, err := h.loadScenario(context.Background(), "duplicate-slot")
	require.NoError(t, err)

	require.Len(t, report.Duplicates, 1)
	assert.Equal(t, []int{0, 1}, report.Duplicates[0].Members)
	assert.Equal(t, 1, report.Summary.ZeroOut)

	require.Len(t, report.Annotations, 3)
	assert.Equal(t, engine.RecommendKeep, report.Annotations[0].Recommendation)
	assert.Equal(t, engine.RecommendZeroOut, report.Annotations[1].Recommendation)
	assert.Equal(t, "2002", report.Annotations[1].OrderID)
	assert.Equal(t, engine.RecommendUnique, report.Annotations[2].Recommendation)
}

func TestScenario_MultiCityDay(t *testing.T) {
	h := setupTestHandler(t)

	report, err := h.loadScenario(context.Background(), "multi-city-day")
	require.NoError(t, err)

	// One itinerary, each city charged once, Petropolis by great-circle distance
	require.Len(t, report.Itineraries, 1)
	it := report.Itineraries[0]
	assert.Equal(t, 3, it.Orders)
	require.Len(t, it.Stops, 2)
	assert.Equal(t, engine.CityKey("NITEROI"), it.Stops[0].City)
	assert.Equal(t, []string{"3001", "3003"}, it.Stops[0].OrderIDs)
	assert.Equal(t, engine.SourceTariff, it.Stops[0].Source)
	assert.Equal(t, engine.SourceGreatCircle, it.Stops[1].Source)
	assert.Positive(t, report.Summary.Caveats[engine.CaveatTariffFallback])
}

func TestScenario_WeeklyRevisit(t *testing.T) {
	h := setupTestHandler(t)

	report, err := h.loadScenario(context.Background(), "weekly-revisit")
	require.NoError(t, err)

	require.Len(t, report.Revisits, 1)
	assert.Equal(t, 7, report.Revisits[0].DaysApart)
	assert.Equal(t, engine.CityKey("JUNDIAI"), report.Revisits[0].City)

	require.Len(t, report.Capillarity, 1)
	assert.Equal(t, engine.CityKey("SOROCABA"), report.Capillarity[0].City)
	assert.Equal(t, 1, report.Summary.Resolution.Unresolved)
}

func TestLoadScenario_HTTP(t *testing.T) {
	// GIVEN: A fresh handler
	h := setupTestHandler(t)
	router := NewRouter(h, nil)

	// WHEN: Loading a scenario over HTTP
	rec := doJSON(t, router, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "duplicate-slot"})

	// THEN: The run is stored, the directory is cached and the scenario is current
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[LoadScenarioResponse](t, rec)
	assert.Equal(t, string(engine.RunCompleted), resp.Status)

	rec = doJSON(t, router, http.MethodGet, "/api/runs/"+resp.RunID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/facilities", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]FacilityDTO](t, rec), 3)

	rec = doJSON(t, router, http.MethodGet, "/api/scenarios/current", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "duplicate-slot", decode[ScenarioDTO](t, rec).ID)
}

func TestLoadScenario_Unknown(t *testing.T) {
	router := NewRouter(setupTestHandler(t), nil)

	rec := doJSON(t, router, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListScenarios_AllHavePayments(t *testing.T) {
	for _, s := range scenarios {
		_, ok := scenarioPayments[s.ID]
		assert.True(t, ok, s.ID)
	}
}

/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that replace the tariff table with a small
	demo network and reconcile a matching payment table. Each scenario
	shows one part of the report.

AVAILABLE SCENARIOS:

	nearest-facility: Orders scheduled to a far representative, savings shown
	duplicate-slot:   Two payments for one billing slot, one unique by technician
	multi-city-day:   One representative visiting two cities on the same day
	weekly-revisit:   Same city visited again a week later, plus an unmapped city

HOW SCENARIOS WORK:
 1. Build the demo tariff table
 2. Replace the stored table and rebuild the cached directory
 3. Build the payment records
 4. Run a reconciliation (stored like any other run)

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "duplicate-slot"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create a payments function: xxxPayments() []engine.PaymentRecord
 3. Add it to 'scenarioPayments'

NOTE:

	Scenarios replace the stored tariff table. Only use in development/demo
	environments.

SEE ALSO:
  - handlers.go: CreateRun
  - engine/reconcile.go: Reconciler.Run
*/
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/warp/tariff-engine/engine"
	"github.com/warp/tariff-engine/factory"
	"github.com/warp/tariff-engine/geo"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "nearest-facility",
		Name:        "Nearest Facility",
		Description: "Campinas orders paid to the Sao Paulo representative while a local one exists",
		Category:    "routing",
	},
	{
		ID:          "duplicate-slot",
		Name:        "Duplicate Slot",
		Description: "Same date, city, representative and technician paid twice",
		Category:    "duplicates",
	},
	{
		ID:          "multi-city-day",
		Name:        "Multi-City Day",
		Description: "Rio representative visits Niteroi twice and Petropolis once on one day",
		Category:    "itinerary",
	},
	{
		ID:          "weekly-revisit",
		Name:        "Weekly Revisit",
		Description: "Jundiai visited again seven days later, plus a city with no tariff row",
		Category:    "review",
	},
}

var scenarioPayments = map[string]func() []engine.PaymentRecord{
	"nearest-facility": nearestFacilityPayments,
	"duplicate-slot":   duplicateSlotPayments,
	"multi-city-day":   multiCityDayPayments,
	"weekly-revisit":   weeklyRevisitPayments,
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	current := h.currentScenario
	h.mu.RUnlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current})
}

// LoadScenario loads a predefined scenario and reconciles it.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		writeEngineError(w, "Invalid request body", err)
		return
	}

	report, err := h.loadScenario(r.Context(), req.ScenarioID)
	if err != nil {
		writeEngineError(w, "Failed to load scenario", err)
		return
	}

	writeJSON(w, http.StatusOK, LoadScenarioResponse{
		ScenarioID: req.ScenarioID,
		RunID:      report.ID,
		Status:     string(report.Status),
	})
}

func (h *Handler) loadScenario(ctx context.Context, id string) (*engine.Report, error) {
	payments, ok := scenarioPayments[id]
	if !ok {
		return nil, fmt.Errorf("%w: unknown scenario %q", errBadRequest, id)
	}

	tariffs := demoTariffs()
	if err := h.Store.ReplaceTariffs(ctx, tariffs); err != nil {
		return nil, fmt.Errorf("failed to save demo tariffs: %w", err)
	}
	h.setDirectory(tariffs)

	report, err := h.Reconciler.Run(ctx, engine.RunInput{Tariffs: tariffs, Payments: payments()}, h.Options)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	h.currentScenario = id
	h.mu.Unlock()
	h.Logger.Info("scenario loaded", "scenario", id, "run_id", report.ID)
	return report, nil
}

// =============================================================================
// DEMO NETWORK
// =============================================================================

var (
	saoPaulo   = geo.Coordinate{Lat: -23.5505, Lon: -46.6333}
	campinas   = geo.Coordinate{Lat: -22.9056, Lon: -47.0608}
	jundiai    = geo.Coordinate{Lat: -23.1857, Lon: -46.8978}
	rio        = geo.Coordinate{Lat: -22.9068, Lon: -43.1729}
	niteroi    = geo.Coordinate{Lat: -22.8832, Lon: -43.1034}
	petropolis = geo.Coordinate{Lat: -22.5050, Lon: -43.1789}
)

// demoTariffs is a three-representative network. Petropolis has no fixed
// distance, so its trips fall back to great-circle distance.
func demoTariffs() []engine.TariffRow {
	return []engine.TariffRow{
		demoTariff("REP SAO PAULO", "SAO PAULO", saoPaulo, "CAMPINAS", campinas, "95", "1,20", "40"),
		demoTariff("REP SAO PAULO", "SAO PAULO", saoPaulo, "JUNDIAI", jundiai, "58", "1,20", "40"),
		demoTariff("REP CAMPINAS", "CAMPINAS", campinas, "CAMPINAS", campinas, "10", "1,00", "20"),
		demoTariff("REP CAMPINAS", "CAMPINAS", campinas, "JUNDIAI", jundiai, "40", "1,00", "20"),
		demoTariff("REP RIO", "RIO DE JANEIRO", rio, "NITEROI", niteroi, "15", "1,50", "0"),
		demoTariff("REP RIO", "RIO DE JANEIRO", rio, "PETROPOLIS", petropolis, "", "1,50", "20"),
	}
}

func demoTariff(facility, homeCity string, home geo.Coordinate, city string, cityCoord geo.Coordinate, fixedKm, rate, allowance string) engine.TariffRow {
	return engine.TariffRow{
		Facility:  facility,
		City:      city,
		CityCoord: cityCoord.Ptr(),
		Home:      home.Ptr(),
		HomeCity:  homeCity,
		HomeState: "SP",
		FixedKm:   factory.ParseNullDecimal(fixedKm),
		Rate:      factory.ParseNullDecimal(rate),
		Allowance: factory.ParseNullDecimal(allowance),
	}
}

func demoPayment(orderID, date, city, facility, tech, trip string) engine.PaymentRecord {
	d, _ := factory.ParseDate(date)
	return engine.PaymentRecord{
		DemandRecord: engine.DemandRecord{OrderID: factory.OrderRoot(orderID), City: city},
		Date:         d,
		Facility:     facility,
		Technician:   tech,
		Trip:         factory.ParseAmount(trip),
		Client:       "CLIENTE DEMO",
		Status:       "Serviços realizados",
	}
}

// =============================================================================
// SCENARIO PAYMENTS
// =============================================================================

func nearestFacilityPayments() []engine.PaymentRecord {
	return []engine.PaymentRecord{
		demoPayment("1001", "04/03/2024", "CAMPINAS", "REP SAO PAULO", "ANA", "R$ 180,00"),
		demoPayment("1002", "05/03/2024", "CAMPINAS", "REP SAO PAULO", "ANA", "R$ 180,00"),
		demoPayment("1003", "05/03/2024", "CAMPINAS", "REP CAMPINAS", "JOAO", "R$ 0,00"),
	}
}

func duplicateSlotPayments() []engine.PaymentRecord {
	return []engine.PaymentRecord{
		demoPayment("2001", "11/03/2024", "JUNDIAI", "REP SAO PAULO", "ANA", "R$ 91,20"),
		demoPayment("2002.1", "11/03/2024", "JUNDIAI", "REP SAO PAULO", "ANA", "R$ 91,20"),
		demoPayment("2003", "11/03/2024", "JUNDIAI", "REP SAO PAULO", "PEDRO", "R$ 91,20"),
	}
}

func multiCityDayPayments() []engine.PaymentRecord {
	return []engine.PaymentRecord{
		demoPayment("3001", "12/03/2024", "NITEROI", "REP RIO", "CARLA", "R$ 45,00"),
		demoPayment("3002", "12/03/2024", "PETROPOLIS", "REP RIO", "CARLA", "R$ 150,00"),
		demoPayment("3003", "12/03/2024", "NITEROI", "REP RIO", "CARLA", "R$ 45,00"),
	}
}

func weeklyRevisitPayments() []engine.PaymentRecord {
	return []engine.PaymentRecord{
		demoPayment("4001", "04/03/2024", "JUNDIAI", "REP CAMPINAS", "JOAO", "R$ 60,00"),
		demoPayment("4002", "11/03/2024", "JUNDIAI", "REP CAMPINAS", "JOAO", "R$ 60,00"),
		demoPayment("4003", "11/03/2024", "SOROCABA", "REP SAO PAULO", "ANA", "R$ 120,00"),
	}
}

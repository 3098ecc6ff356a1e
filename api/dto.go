/*
dto.go - Data Transfer Objects for the HTTP API

PURPOSE:
  Request and response shapes for the REST endpoints. Engine types already
  carry JSON tags and are returned as-is where they fit; the DTOs here cover
  request bodies and the flattened views (facility list, run list, rounded
  cost lines).

NAMING CONVENTION:
  - *Request:  incoming request bodies
  - *Response: wrapped outgoing payloads
  - *DTO:      flattened views of engine data

ROUNDING:
  Kilometres are shown with one decimal place and money with two, via
  engine.Amount.Rounded.

SEE ALSO:
  - handlers.go: Uses these DTOs
  - engine/types.go: Domain types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/tariff-engine/engine"
	"github.com/warp/tariff-engine/geo"
)

// =============================================================================
// TARIFF / FACILITY DTOs
// =============================================================================

// TariffTableResponse summarizes the loaded tariff table.
type TariffTableResponse struct {
	Rows       int                  `json:"rows"`
	Facilities int                  `json:"facilities"`
	Tariffs    int                  `json:"tariffs"`
	Excluded   []string             `json:"excluded,omitempty"`
	Routes     []engine.RouteTariff `json:"routes,omitempty"`
}

type FacilityDTO struct {
	Key       string          `json:"key"`
	Name      string          `json:"name"`
	Home      *geo.Coordinate `json:"home,omitempty"`
	HomeCity  string          `json:"home_city,omitempty"`
	HomeState string          `json:"home_state,omitempty"`
	Phone     string          `json:"phone,omitempty"`
	Cities    []string        `json:"cities,omitempty"`
}

type NearbyDTO struct {
	Facility   FacilityDTO `json:"facility"`
	DistanceKm float64     `json:"distance_km"`
}

// =============================================================================
// ASSIGN / COST DTOs
// =============================================================================

// AssignRequest ranks the K nearest facilities for each point.
type AssignRequest struct {
	K      int                   `json:"k"`
	Points []engine.DemandRecord `json:"points"`
}

type CandidateDTO struct {
	Rank       int     `json:"rank"`
	Facility   string  `json:"facility"`
	DistanceKm float64 `json:"distance_km"`
}

type AssignmentDTO struct {
	OrderID    string          `json:"order_id"`
	City       string          `json:"city"`
	Origin     engine.Origin   `json:"origin"`
	Coord      *geo.Coordinate `json:"coord,omitempty"`
	Candidates []CandidateDTO  `json:"candidates"`
	Error      string          `json:"error,omitempty"`
}

// CostRequest prices one trip for a named facility.
type CostRequest struct {
	Facility string              `json:"facility"`
	Point    engine.DemandRecord `json:"point"`
}

type CostDTO struct {
	OrderID     string                `json:"order_id,omitempty"`
	Facility    string                `json:"facility"`
	City        string                `json:"city"`
	OneWayKm    decimal.Decimal       `json:"one_way_km"`
	Source      engine.DistanceSource `json:"source"`
	AllowanceKm decimal.Decimal       `json:"allowance_km"`
	Rate        decimal.Decimal       `json:"rate"`
	BillableKm  decimal.Decimal       `json:"billable_km"`
	Cost        decimal.Decimal       `json:"cost"`
	Warnings    []string              `json:"warnings,omitempty"`
}

// =============================================================================
// RUN DTOs
// =============================================================================

// RunRequest starts a reconciliation. Tariffs default to the stored table.
type RunRequest struct {
	Tariffs  []engine.TariffRow     `json:"tariffs,omitempty"`
	Payments []engine.PaymentRecord `json:"payments"`
	Source   string                 `json:"source,omitempty"`
	K        int                    `json:"k,omitempty"`

	IncludeSpecial  *bool    `json:"include_special,omitempty"`
	ExcludedClients []string `json:"excluded_clients,omitempty"`
	AllowedStatuses []string `json:"allowed_statuses,omitempty"`
}

type RunDTO struct {
	ID          string                    `json:"id"`
	Source      string                    `json:"source,omitempty"`
	Status      engine.RunStatus          `json:"status"`
	Error       string                    `json:"error,omitempty"`
	StartedAt   string                    `json:"started_at"`
	CompletedAt string                    `json:"completed_at,omitempty"`
	Payments    int                       `json:"payments"`
	Caveats     int                       `json:"caveats"`
	Summary     *SummaryDTO               `json:"summary,omitempty"`
	CaveatKinds map[engine.CaveatKind]int `json:"caveat_kinds,omitempty"`
}

// SummaryDTO is engine.Summary with rounded totals.
type SummaryDTO struct {
	TariffRows      int                      `json:"tariff_rows"`
	Facilities      int                      `json:"facilities"`
	Excluded        []string                 `json:"excluded,omitempty"`
	Payments        int                      `json:"payments"`
	Filtered        int                      `json:"filtered"`
	SkippedSpecial  int                      `json:"skipped_special"`
	Unpaid          int                      `json:"unpaid"`
	Reconciled      int                      `json:"reconciled"`
	Ranked          int                      `json:"ranked"`
	Resolution      engine.ResolutionSummary `json:"resolution"`
	Unassigned      int                      `json:"unassigned"`
	DuplicateGroups int                      `json:"duplicate_groups"`
	ZeroOut         int                      `json:"zero_out"`
	PaidTotal       decimal.Decimal          `json:"paid_total"`
	SuggestedTotal  decimal.Decimal          `json:"suggested_total"`
	SavingsTotal    decimal.Decimal          `json:"savings_total"`
	ExcessTotal     decimal.Decimal          `json:"excess_total"`
	CorrectTotal    decimal.Decimal          `json:"correct_total"`
	VarianceTotal   decimal.Decimal          `json:"variance_total"`
}

// DuplicatesResponse bundles per-record annotations with their groups.
type DuplicatesResponse struct {
	Annotations []engine.Annotation     `json:"annotations"`
	Groups      []engine.DuplicateGroup `json:"groups"`
}

// =============================================================================
// SCENARIO DTOs
// =============================================================================

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category,omitempty"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

type LoadScenarioResponse struct {
	ScenarioID string `json:"scenario_id"`
	RunID      string `json:"run_id"`
	Status     string `json:"status"`
}

// =============================================================================
// COMMON
// =============================================================================

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toFacilityDTO(f engine.Facility, cities []string) FacilityDTO {
	return FacilityDTO{
		Key:       string(f.Key),
		Name:      f.Name,
		Home:      f.Home,
		HomeCity:  f.HomeCity,
		HomeState: f.HomeState,
		Phone:     f.Phone,
		Cities:    cities,
	}
}

func toAssignmentDTO(p engine.DemandPoint, a *engine.Assignment, err error) AssignmentDTO {
	dto := AssignmentDTO{
		OrderID:    p.OrderID,
		City:       string(p.City),
		Origin:     p.Origin,
		Coord:      p.Coord,
		Candidates: []CandidateDTO{},
	}
	if err != nil {
		dto.Error = err.Error()
		return dto
	}
	for _, c := range a.Candidates {
		dto.Candidates = append(dto.Candidates, CandidateDTO{
			Rank:       c.Rank,
			Facility:   string(c.Facility.Key),
			DistanceKm: c.DistanceKm,
		})
	}
	return dto
}

func toCostDTO(c engine.CostResult) CostDTO {
	dto := CostDTO{
		OrderID:     c.OrderID,
		Facility:    string(c.Facility),
		City:        string(c.City),
		OneWayKm:    c.OneWayKm.Rounded(),
		Source:      c.Source,
		AllowanceKm: c.Allowance.Rounded(),
		Rate:        c.Rate,
		BillableKm:  c.BillableKm.Rounded(),
		Cost:        c.Cost.Rounded(),
	}
	for _, w := range c.Warnings {
		dto.Warnings = append(dto.Warnings, w.String())
	}
	return dto
}

func toRunDTO(info engine.RunInfo) RunDTO {
	dto := RunDTO{
		ID:        info.ID,
		Source:    info.Source,
		Status:    info.Status,
		Error:     info.Error,
		StartedAt: info.StartedAt.Format(time.RFC3339),
		Payments:  info.Payments,
		Caveats:   info.Caveats,
	}
	if !info.CompletedAt.IsZero() {
		dto.CompletedAt = info.CompletedAt.Format(time.RFC3339)
	}
	return dto
}

func toSummaryDTO(s engine.Summary) *SummaryDTO {
	return &SummaryDTO{
		TariffRows:      s.TariffRows,
		Facilities:      s.Facilities,
		Excluded:        s.Excluded,
		Payments:        s.Payments,
		Filtered:        s.Filtered,
		SkippedSpecial:  s.SkippedSpecial,
		Unpaid:          s.Unpaid,
		Reconciled:      s.Reconciled,
		Ranked:          s.Ranked,
		Resolution:      s.Resolution,
		Unassigned:      s.UnassignedCount,
		DuplicateGroups: s.DuplicateGroups,
		ZeroOut:         s.ZeroOut,
		PaidTotal:       s.PaidTotal.Rounded(),
		SuggestedTotal:  s.SuggestedTotal.Rounded(),
		SavingsTotal:    s.SavingsTotal.Rounded(),
		ExcessTotal:     s.ExcessTotal.Rounded(),
		CorrectTotal:    s.CorrectTotal.Rounded(),
		VarianceTotal:   s.VarianceTotal.Rounded(),
	}
}

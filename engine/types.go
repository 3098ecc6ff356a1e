/*
Package engine provides the geospatial assignment and tariff reconciliation core.

PURPOSE:
  Assigns work orders to the nearest representative ("facility"), computes
  the contractually correct travel cost for a facility/city pair and
  reconciles historical payments against it: duplicate billings, daily
  itinerary cost and tariff coverage gaps ("capillarity").

KEY CONCEPTS IN THIS FILE (types.go):
  - Amount: a decimal quantity with a unit (km or BRL)
  - Keys: normalized facility, city and technician identifiers
  - Input records: TariffRow, DemandRecord, PaymentRecord

DESIGN PRINCIPLES:
  1. Immutability: inputs are never mutated, only grouped and annotated
  2. Precision: money and kilometres use decimal.Decimal
  3. Explicit state: the Directory and input tables are passed to every call
  4. Degrade, don't crash: missing tariff data becomes a Caveat

USAGE:
  dir := engine.NewDirectory(rows, engine.DefaultDirectoryOptions())
  rec := engine.NewReconciler(runStore, logger)
  report, err := rec.Run(ctx, engine.RunInput{Tariffs: rows, Payments: payments}, opts)

SEE ALSO:
  - directory.go: Facility directory and route tariffs
  - cost.go: Tariff cost model
  - reconcile.go: Run orchestration
*/
package engine

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/tariff-engine/geo"
)

// =============================================================================
// AMOUNT - Quantity with unit
// =============================================================================

type Amount struct {
	Value decimal.Decimal `json:"value"`
	Unit  Unit            `json:"unit"`
}

type Unit string

const (
	UnitKm  Unit = "km"
	UnitBRL Unit = "BRL"
)

func Km(value decimal.Decimal) Amount    { return Amount{Value: value, Unit: UnitKm} }
func Money(value decimal.Decimal) Amount { return Amount{Value: value, Unit: UnitBRL} }

func (a Amount) Add(b Amount) Amount          { return Amount{Value: a.Value.Add(b.Value), Unit: a.Unit} }
func (a Amount) Sub(b Amount) Amount          { return Amount{Value: a.Value.Sub(b.Value), Unit: a.Unit} }
func (a Amount) Mul(s decimal.Decimal) Amount { return Amount{Value: a.Value.Mul(s), Unit: a.Unit} }
func (a Amount) IsZero() bool                 { return a.Value.IsZero() }
func (a Amount) IsPositive() bool             { return a.Value.IsPositive() }
func (a Amount) ClampZero() Amount            { return Amount{Value: decimal.Max(a.Value, decimal.Zero), Unit: a.Unit} }

// Rounded returns the value rounded for reports: kilometres to one decimal
// place, money to two.
func (a Amount) Rounded() decimal.Decimal {
	if a.Unit == UnitKm {
		return a.Value.Round(1)
	}
	return a.Value.Round(2)
}

// =============================================================================
// KEYS
// =============================================================================

type FacilityKey string
type CityKey string

// NormalizeKey trims, collapses inner whitespace and upper-cases s. Names and
// cities from different spreadsheets only match after this.
func NormalizeKey(s string) string {
	return strings.ToUpper(strings.Join(strings.Fields(s), " "))
}

func FacilityKeyOf(name string) FacilityKey { return FacilityKey(NormalizeKey(name)) }
func CityKeyOf(name string) CityKey         { return CityKey(NormalizeKey(name)) }

// DateKey formats a date as the grouping key used across the engine.
func DateKey(t time.Time) string {
	return t.Format("2006-01-02")
}

// =============================================================================
// INPUT RECORDS - already mapped by the ingestion layer
// =============================================================================

// TariffRow is one row of the tariff table.
type TariffRow struct {
	Facility  string              `json:"facility"`
	City      string              `json:"city"`
	CityCoord *geo.Coordinate     `json:"city_coord,omitempty"`
	Home      *geo.Coordinate     `json:"home,omitempty"`
	HomeCity  string              `json:"home_city,omitempty"`
	HomeState string              `json:"home_state,omitempty"`
	Phone     string              `json:"phone,omitempty"`
	FixedKm   decimal.NullDecimal `json:"fixed_km"`
	Rate      decimal.NullDecimal `json:"rate"`
	Allowance decimal.NullDecimal `json:"allowance"`
}

// DemandRecord is the location part of a work order. Coordinate fields stay
// raw; the Resolver decides which one is usable.
type DemandRecord struct {
	OrderID   string `json:"order_id"`
	City      string `json:"city"`
	Latitude  string `json:"latitude,omitempty"`
	Longitude string `json:"longitude,omitempty"`
	LatLon    string `json:"lat_lon,omitempty"`
}

// PaymentRecord is a historical travel payment for one work order.
type PaymentRecord struct {
	DemandRecord
	Date       time.Time           `json:"date"`
	Facility   string              `json:"facility"`
	Technician string              `json:"technician"`
	Trip       decimal.Decimal     `json:"trip"`
	Toll       decimal.Decimal     `json:"toll"`
	Rate       decimal.NullDecimal `json:"rate"`
	Allowance  decimal.NullDecimal `json:"allowance"`
	Client     string              `json:"client,omitempty"`
	Status     string              `json:"status,omitempty"`
	HomeCity   string              `json:"home_city,omitempty"`
}

// Paid is the amount released for the record: trip allowance plus toll.
func (p PaymentRecord) Paid() Amount {
	return Money(p.Trip.Add(p.Toll))
}

// positive returns d when it is present and greater than zero.
func positive(d decimal.NullDecimal) (decimal.Decimal, bool) {
	if d.Valid && d.Decimal.IsPositive() {
		return d.Decimal, true
	}
	return decimal.Zero, false
}

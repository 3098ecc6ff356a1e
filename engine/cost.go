/*
cost.go - Tariff cost model

PURPOSE:
  Computes the contractual travel cost for one facility serving one demand
  point.

FORMULA:
  one_way  = tariff fixed km when present and > 0, else great-circle
             distance facility home -> demand point
  billable = max(0, one_way * 2 - allowance)
  cost     = billable * rate

DEFAULTS:
  A missing allowance, or a missing or non-positive rate, is treated as 0
  and reported as an incomplete_tariff warning on the result. Using the great-circle distance
  is reported as a tariff_fallback info. Neither is an error.

  The only error is when no distance can be produced at all: no usable
  tariff distance and no coordinate on one side of the fallback.

IDEMPOTENCE:
  CostModel has no mutable state. Evaluating the same pair twice against the
  same directory returns identical results.

SEE ALSO:
  - itinerary.go: Reuses OneWay for per-city distances
  - savings.go: Compares scheduled and suggested costs
*/
package engine

import (
	"github.com/shopspring/decimal"

	"github.com/warp/tariff-engine/geo"
)

type DistanceSource string

const (
	SourceTariff      DistanceSource = "tariff"
	SourceGreatCircle DistanceSource = "great_circle"
	SourceUnavailable DistanceSource = "unavailable"
)

var two = decimal.NewFromInt(2)

// CostResult is the priced trip for one demand point and facility.
type CostResult struct {
	OrderID    string          `json:"order_id,omitempty"`
	Facility   FacilityKey     `json:"facility"`
	City       CityKey         `json:"city"`
	OneWayKm   Amount          `json:"one_way_km"`
	Source     DistanceSource  `json:"source"`
	Allowance  Amount          `json:"allowance"`
	Rate       decimal.Decimal `json:"rate"`
	BillableKm Amount          `json:"billable_km"`
	Cost       Amount          `json:"cost"`
	Warnings   Caveats         `json:"warnings,omitempty"`
}

// BillableKm returns max(0, roundTripKm - allowance).
func BillableKm(roundTripKm, allowance Amount) Amount {
	return roundTripKm.Sub(allowance).ClampZero()
}

// CostModel prices trips against one directory.
type CostModel struct {
	dir *Directory
}

func NewCostModel(dir *Directory) *CostModel {
	return &CostModel{dir: dir}
}

// Evaluate prices the round trip from f to p.
func (m *CostModel) Evaluate(p DemandPoint, f Facility) (CostResult, error) {
	res := CostResult{OrderID: p.OrderID, Facility: f.Key, City: p.City}

	tariff, hasTariff := m.dir.Tariff(f.Key, p.City)
	oneWay, source, warnings, err := m.OneWay(p.OrderID, f, p.City, p.Coord)
	if err != nil {
		return res, err
	}
	res.OneWayKm, res.Source, res.Warnings = oneWay, source, warnings

	allowance, rate := decimal.Zero, decimal.Zero
	if hasTariff && tariff.Allowance.Valid {
		allowance = tariff.Allowance.Decimal
	} else {
		res.Warnings = append(res.Warnings, incompleteCaveat(p.OrderID, f.Key, p.City, "allowance"))
	}
	if r, ok := positive(tariff.Rate); hasTariff && ok {
		rate = r
	} else {
		res.Warnings = append(res.Warnings, incompleteCaveat(p.OrderID, f.Key, p.City, "rate"))
	}

	res.Allowance = Km(allowance)
	res.Rate = rate
	res.BillableKm = BillableKm(oneWay.Mul(two), res.Allowance)
	res.Cost = Money(res.BillableKm.Value.Mul(rate))
	return res, nil
}

// OneWay returns the one-way distance for f serving city, falling back to
// the great-circle distance from f's home to coord.
func (m *CostModel) OneWay(orderID string, f Facility, city CityKey, coord *geo.Coordinate) (Amount, DistanceSource, Caveats, error) {
	reason := "no tariff row"
	if t, ok := m.dir.Tariff(f.Key, city); ok {
		if km, ok := positive(t.FixedKm); ok {
			return Km(km), SourceTariff, nil, nil
		}
		reason = "fixed distance missing or not positive"
	}

	if f.Home == nil {
		return Amount{}, SourceUnavailable, nil, &DistanceUnavailableError{Facility: f.Key, City: city, Reason: reason + " and facility has no home coordinate"}
	}
	if coord == nil || !coord.Valid() {
		return Amount{}, SourceUnavailable, nil, &DistanceUnavailableError{Facility: f.Key, City: city, Reason: reason + " and demand point is unresolved"}
	}

	d := geo.Distance(*f.Home, *coord)
	return Km(decimal.NewFromFloat(d)), SourceGreatCircle, Caveats{fallbackCaveat(orderID, f.Key, city, reason)}, nil
}

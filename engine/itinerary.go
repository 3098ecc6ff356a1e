/*
itinerary.go - Daily itinerary cost aggregation

PURPOSE:
  Computes what one representative/technician pair should have been paid
  for a whole day of visits and compares it with what was paid.

RULES:
  1. Each distinct destination city counts once, whatever the number of
     orders served there that day. The first record per city supplies its
     values.
  2. km_total    = sum(one_way per distinct city) * 2
  3. billable    = max(0, km_total - allowance_of_day)
  4. correct     = billable * rate_of_day
  5. paid_total  = sum(paid of every record, repeats included)
  6. variance    = paid_total - correct

ALLOWANCE AND RATE OF THE DAY:
  Taken from the day's first record: a positive override on the payment
  record wins, else the tariff row for that record's city. When later
  cities carry different values the itinerary gets an inconsistent_tariff
  caveat; the first-record values are still used.

SEE ALSO:
  - cost.go: OneWay distance with great-circle fallback
  - reconcile.go: Calls AggregateAll
*/
package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// ItineraryKey identifies one working day of a representative/technician.
type ItineraryKey struct {
	Facility   FacilityKey `json:"facility"`
	Technician string      `json:"technician"`
	Date       string      `json:"date"`
}

// ItineraryKeyOf returns the itinerary a payment record belongs to.
func ItineraryKeyOf(p PaymentRecord) ItineraryKey {
	return ItineraryKey{
		Facility:   FacilityKeyOf(p.Facility),
		Technician: NormalizeKey(p.Technician),
		Date:       DateKey(p.Date),
	}
}

// Stop is one distinct destination city of an itinerary.
type Stop struct {
	City     CityKey        `json:"city"`
	CityName string         `json:"city_name"`
	OrderIDs []string       `json:"order_ids"`
	OneWayKm Amount         `json:"one_way_km"`
	Source   DistanceSource `json:"source"`
}

// Itinerary is the reconciled cost of one working day.
type Itinerary struct {
	Key         ItineraryKey    `json:"key"`
	Orders      int             `json:"orders"`
	Stops       []Stop          `json:"stops"`
	KmTotal     Amount          `json:"km_total"`
	Allowance   Amount          `json:"allowance"`
	Rate        decimal.Decimal `json:"rate"`
	BillableKm  Amount          `json:"billable_km"`
	CorrectCost Amount          `json:"correct_cost"`
	PaidTotal   Amount          `json:"paid_total"`
	Variance    Amount          `json:"variance"`
	Route       string          `json:"route"`
	CalcLog     []string        `json:"calc_log"`
	Caveats     Caveats         `json:"caveats,omitempty"`
}

// ItineraryAggregator computes itineraries against one directory.
type ItineraryAggregator struct {
	dir      *Directory
	resolver *Resolver
	costs    *CostModel
	workers  int
}

func NewItineraryAggregator(dir *Directory, workers int) *ItineraryAggregator {
	return &ItineraryAggregator{
		dir:      dir,
		resolver: NewResolver(dir),
		costs:    NewCostModel(dir),
		workers:  workers,
	}
}

// Aggregate computes the itinerary for records that all share one
// ItineraryKey, in input order. The key of the first record is used.
func (a *ItineraryAggregator) Aggregate(records []PaymentRecord) Itinerary {
	it := Itinerary{
		KmTotal:     Km(decimal.Zero),
		Allowance:   Km(decimal.Zero),
		BillableKm:  Km(decimal.Zero),
		CorrectCost: Money(decimal.Zero),
		PaidTotal:   Money(decimal.Zero),
		Variance:    Money(decimal.Zero),
		Rate:        decimal.Zero,
	}
	if len(records) == 0 {
		return it
	}

	first := records[0]
	it.Key = ItineraryKeyOf(first)
	it.Orders = len(records)

	facility, ok := a.dir.BillingFacility(first.Facility)
	if !ok {
		facility = Facility{Key: it.Key.Facility, Name: strings.TrimSpace(first.Facility)}
	}

	// Distinct cities, first occurrence wins.
	stopIndex := make(map[CityKey]int)
	var stopRecords []PaymentRecord
	for _, r := range records {
		it.PaidTotal = it.PaidTotal.Add(r.Paid())

		ck := CityKeyOf(r.City)
		if i, seen := stopIndex[ck]; seen {
			it.Stops[i].OrderIDs = append(it.Stops[i].OrderIDs, r.OrderID)
			continue
		}
		stopIndex[ck] = len(it.Stops)
		stopRecords = append(stopRecords, r)
		it.Stops = append(it.Stops, Stop{
			City:     ck,
			CityName: strings.TrimSpace(r.City),
			OrderIDs: []string{r.OrderID},
		})
	}

	oneWaySum := Km(decimal.Zero)
	for i, r := range stopRecords {
		point := a.resolver.Resolve(r.DemandRecord)
		km, source, warnings, err := a.costs.OneWay(r.OrderID, facility, it.Stops[i].City, point.Coord)
		if err != nil {
			it.Caveats = append(it.Caveats, Caveat{
				Kind:     CaveatDistanceUnavailable,
				Severity: SeverityWarning,
				OrderID:  r.OrderID,
				Facility: facility.Key,
				City:     it.Stops[i].City,
				Message:  err.Error() + "; city contributes 0 km",
			})
			km, source = Km(decimal.Zero), SourceUnavailable
		}
		it.Caveats = append(it.Caveats, warnings...)
		it.Stops[i].OneWayKm = km
		it.Stops[i].Source = source
		oneWaySum = oneWaySum.Add(km)
	}

	allowance, rate, dayCaveats := a.dayTariff(facility.Key, stopRecords)
	it.Caveats = append(it.Caveats, dayCaveats...)

	it.KmTotal = oneWaySum.Mul(two)
	it.Allowance = Km(allowance)
	it.Rate = rate
	it.BillableKm = BillableKm(it.KmTotal, it.Allowance)
	it.CorrectCost = Money(it.BillableKm.Value.Mul(rate))
	it.Variance = it.PaidTotal.Sub(it.CorrectCost)
	it.Route = routeOf(it.Stops)
	it.CalcLog = calcLog(it)
	return it
}

// dayTariff picks the allowance and rate of the day from the first record
// and reports when other cities disagree.
func (a *ItineraryAggregator) dayTariff(f FacilityKey, stops []PaymentRecord) (decimal.Decimal, decimal.Decimal, Caveats) {
	var caveats Caveats
	first := stops[0]
	firstCity := CityKeyOf(first.City)

	allowance, hasAllowance := a.recordAllowance(f, first)
	if !hasAllowance {
		caveats = append(caveats, incompleteCaveat(first.OrderID, f, firstCity, "allowance"))
	}
	rate, hasRate := a.recordRate(f, first)
	if !hasRate {
		caveats = append(caveats, incompleteCaveat(first.OrderID, f, firstCity, "rate"))
	}

	var disagree []string
	for _, r := range stops[1:] {
		al, okA := a.recordAllowance(f, r)
		rt, okR := a.recordRate(f, r)
		if (okA && !al.Equal(allowance)) || (okR && !rt.Equal(rate)) {
			disagree = append(disagree, NormalizeKey(r.City))
		}
	}
	if len(disagree) > 0 {
		caveats = append(caveats, Caveat{
			Kind:     CaveatInconsistentTariff,
			Severity: SeverityWarning,
			OrderID:  first.OrderID,
			Facility: f,
			City:     firstCity,
			Message: fmt.Sprintf("allowance/rate of %s used for the day; differing values in %s",
				firstCity, strings.Join(disagree, ", ")),
		})
	}
	return allowance, rate, caveats
}

func (a *ItineraryAggregator) recordAllowance(f FacilityKey, r PaymentRecord) (decimal.Decimal, bool) {
	if v, ok := positive(r.Allowance); ok {
		return v, true
	}
	if t, ok := a.dir.Tariff(f, CityKeyOf(r.City)); ok && t.Allowance.Valid {
		return t.Allowance.Decimal, true
	}
	return decimal.Zero, false
}

func (a *ItineraryAggregator) recordRate(f FacilityKey, r PaymentRecord) (decimal.Decimal, bool) {
	if v, ok := positive(r.Rate); ok {
		return v, true
	}
	if t, ok := a.dir.Tariff(f, CityKeyOf(r.City)); ok {
		if v, ok := positive(t.Rate); ok {
			return v, true
		}
	}
	return decimal.Zero, false
}

// AggregateAll groups records by ItineraryKey and computes every itinerary
// on the worker pool. Output is sorted by facility, technician and date.
func (a *ItineraryAggregator) AggregateAll(ctx context.Context, records []PaymentRecord) ([]Itinerary, error) {
	groups := make(map[ItineraryKey][]PaymentRecord)
	var keys []ItineraryKey
	for _, r := range records {
		k := ItineraryKeyOf(r)
		if _, seen := groups[k]; !seen {
			keys = append(keys, k)
		}
		groups[k] = append(groups[k], r)
	}

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Facility != keys[j].Facility {
			return keys[i].Facility < keys[j].Facility
		}
		if keys[i].Technician != keys[j].Technician {
			return keys[i].Technician < keys[j].Technician
		}
		return keys[i].Date < keys[j].Date
	})

	out := make([]Itinerary, len(keys))
	err := parallel(ctx, len(keys), a.workers, func(_ context.Context, i int) error {
		out[i] = a.Aggregate(groups[keys[i]])
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func routeOf(stops []Stop) string {
	parts := []string{"BASE"}
	for _, s := range stops {
		parts = append(parts, fmt.Sprintf("%s (OS: %s | %s km)",
			s.City, strings.Join(s.OrderIDs, ","), s.OneWayKm.Rounded().StringFixed(1)))
	}
	parts = append(parts, "BASE")
	return strings.Join(parts, " → ")
}

func calcLog(it Itinerary) []string {
	lines := make([]string, 0, len(it.Stops)+5)
	terms := make([]string, 0, len(it.Stops))
	for _, s := range it.Stops {
		lines = append(lines, fmt.Sprintf("%s: %s km one way (%s), %d order(s)",
			s.City, s.OneWayKm.Rounded().StringFixed(1), s.Source, len(s.OrderIDs)))
		terms = append(terms, s.OneWayKm.Rounded().StringFixed(1))
	}
	lines = append(lines,
		fmt.Sprintf("km total = (%s) x 2 = %s km", strings.Join(terms, " + "), it.KmTotal.Rounded().StringFixed(1)),
		fmt.Sprintf("billable = max(0, %s - %s) = %s km",
			it.KmTotal.Rounded().StringFixed(1), it.Allowance.Rounded().StringFixed(1), it.BillableKm.Rounded().StringFixed(1)),
		fmt.Sprintf("correct cost = %s x %s = %s",
			it.BillableKm.Rounded().StringFixed(1), it.Rate.StringFixed(2), it.CorrectCost.Rounded().StringFixed(2)),
		fmt.Sprintf("paid = %s over %d order(s)", it.PaidTotal.Rounded().StringFixed(2), it.Orders),
		fmt.Sprintf("variance = %s - %s = %s",
			it.PaidTotal.Rounded().StringFixed(2), it.CorrectCost.Rounded().StringFixed(2), it.Variance.Rounded().StringFixed(2)),
	)
	return lines
}

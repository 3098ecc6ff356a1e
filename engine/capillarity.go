package engine

import (
	"sort"
	"strings"

	"github.com/warp/tariff-engine/geo"
)

// DefaultNearbyRadiusKm bounds the facility hints of a capillarity row.
const DefaultNearbyRadiusKm = 150.0

const maxHints = 3

// MappingHint is a facility near an unmapped city that holds a tariff
// row for it.
type MappingHint struct {
	Facility   FacilityKey `json:"facility"`
	DistanceKm float64     `json:"distance_km"`
}

// CapillarityRow is one (representative, city, date) visited without a
// tariff row for the pair.
type CapillarityRow struct {
	Facility     FacilityKey   `json:"facility"`
	FacilityName string        `json:"facility_name"`
	City         CityKey       `json:"city"`
	CityName     string        `json:"city_name"`
	Date         string        `json:"date"`
	Visits       int           `json:"visits"`
	OrderIDs     []string      `json:"order_ids"`
	Hints        []MappingHint `json:"hints,omitempty"`
}

// Capillarity lists the payment records whose (representative, city) pair has
// no route tariff, grouped by (representative, city, date) and sorted by
// those fields. Hints name facilities within radiusKm of the city that serve
// it, nearest first; radiusKm <= 0 disables them. Diagnostic only.
func Capillarity(dir *Directory, records []PaymentRecord, radiusKm float64) []CapillarityRow {
	type rowKey struct {
		facility FacilityKey
		city     CityKey
		date     string
	}

	resolver := NewResolver(dir)
	rows := make(map[rowKey]*CapillarityRow)
	cityPoint := make(map[CityKey]*geo.Coordinate)
	var keys []rowKey

	for _, r := range records {
		fk, ck := FacilityKeyOf(r.Facility), CityKeyOf(r.City)
		if fk == "" || ck == "" {
			continue
		}
		if _, mapped := dir.Tariff(fk, ck); mapped {
			continue
		}

		k := rowKey{facility: fk, city: ck, date: DateKey(r.Date)}
		row, ok := rows[k]
		if !ok {
			row = &CapillarityRow{
				Facility:     fk,
				FacilityName: strings.TrimSpace(r.Facility),
				City:         ck,
				CityName:     strings.TrimSpace(r.City),
				Date:         k.date,
			}
			rows[k] = row
			keys = append(keys, k)
		}
		row.Visits++
		row.OrderIDs = append(row.OrderIDs, r.OrderID)

		if cityPoint[ck] == nil {
			if p := resolver.Resolve(r.DemandRecord); p.Resolved() {
				cityPoint[ck] = p.Coord
			}
		}
	}

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].facility != keys[j].facility {
			return keys[i].facility < keys[j].facility
		}
		if keys[i].city != keys[j].city {
			return keys[i].city < keys[j].city
		}
		return keys[i].date < keys[j].date
	})

	out := make([]CapillarityRow, 0, len(keys))
	for _, k := range keys {
		row := rows[k]
		if c := cityPoint[k.city]; c != nil && radiusKm > 0 {
			row.Hints = mappingHints(dir, *c, k.city, radiusKm)
		}
		out = append(out, *row)
	}
	return out
}

func mappingHints(dir *Directory, c geo.Coordinate, city CityKey, radiusKm float64) []MappingHint {
	nearby, err := dir.Nearby(c, radiusKm)
	if err != nil {
		return nil
	}
	var hints []MappingHint
	for _, n := range nearby {
		if len(hints) == maxHints {
			break
		}
		if _, serves := dir.Tariff(n.Facility.Key, city); !serves {
			continue
		}
		hints = append(hints, MappingHint{Facility: n.Facility.Key, DistanceKm: n.DistanceKm})
	}
	return hints
}

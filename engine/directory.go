/*
directory.go - Facility directory and route tariffs

PURPOSE:
  Holds the representatives and their per-city tariffs for one run. Built
  once from the tariff table, read-only afterwards, so any number of
  goroutines can rank and price against it without locking.

CONSTRUCTION RULES:
  - Facilities are keyed by normalized name; the first row wins and
    insertion order is kept (it is the ranking tie-break).
  - Route tariffs keep every (facility, city) pair; the first row per pair
    wins.
  - Special-contract facilities (name contains a configured pattern) are
    left out of ranking and cost computation unless IncludeSpecial is set.
  - The city coordinate table takes the first valid destination coordinate
    per city from every row, excluded facilities included.

SEE ALSO:
  - assignment.go: Ranks Facilities()
  - cost.go: Reads Tariff()
  - resolver.go: Reads CityCoordinate()
*/
package engine

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/warp/tariff-engine/geo"
)

// DefaultSpecialFacilities lists in-house and OEM contracts that are not
// ranked by default.
var DefaultSpecialFacilities = []string{"STELLANTIS", "CEABS", "FCA CHRYSLER"}

// DirectoryOptions configures directory construction.
type DirectoryOptions struct {
	SpecialPatterns []string
	IncludeSpecial  bool
}

func DefaultDirectoryOptions() DirectoryOptions {
	return DirectoryOptions{SpecialPatterns: DefaultSpecialFacilities}
}

// Facility is a field-service representative.
type Facility struct {
	Key       FacilityKey     `json:"key"`
	Name      string          `json:"name"`
	Home      *geo.Coordinate `json:"home,omitempty"`
	Phone     string          `json:"phone,omitempty"`
	HomeCity  string          `json:"home_city,omitempty"`
	HomeState string          `json:"home_state,omitempty"`
}

// RouteTariff is the contract for one facility serving one city.
type RouteTariff struct {
	Facility  FacilityKey         `json:"facility"`
	City      CityKey             `json:"city"`
	CityName  string              `json:"city_name"`
	FixedKm   decimal.NullDecimal `json:"fixed_km"`
	Rate      decimal.NullDecimal `json:"rate"`
	Allowance decimal.NullDecimal `json:"allowance"`
}

type tariffKey struct {
	facility FacilityKey
	city     CityKey
}

// Directory is the immutable facility/tariff lookup for a run.
type Directory struct {
	facilities []Facility
	byKey      map[FacilityKey]int
	tariffs    map[tariffKey]RouteTariff
	cityTariff map[CityKey][]FacilityKey
	cities     map[CityKey]geo.Coordinate
	excluded   []string
	index      *geo.Index

	// Special-contract facilities left out of ranking. Their rows still
	// price the days they billed.
	special        map[FacilityKey]Facility
	specialTariffs map[tariffKey]RouteTariff

	opts       DirectoryOptions
}

// NewDirectory builds a directory from tariff rows.
func NewDirectory(rows []TariffRow, opts DirectoryOptions) *Directory {
	d := &Directory{
		byKey:      make(map[FacilityKey]int),
		tariffs:    make(map[tariffKey]RouteTariff),
		cityTariff: make(map[CityKey][]FacilityKey),
		cities:     make(map[CityKey]geo.Coordinate),
		opts:       opts,

		special:        make(map[FacilityKey]Facility),
		specialTariffs: make(map[tariffKey]RouteTariff),
	}

	excluded := make(map[FacilityKey]bool)
	for _, row := range rows {
		fk := FacilityKeyOf(row.Facility)
		ck := CityKeyOf(row.City)

		if ck != "" && row.CityCoord != nil && row.CityCoord.Valid() {
			if _, ok := d.cities[ck]; !ok {
				d.cities[ck] = *row.CityCoord
			}
		}

		if fk == "" {
			continue
		}
		if !opts.IncludeSpecial && isSpecial(fk, opts.SpecialPatterns) {
			if !excluded[fk] {
				excluded[fk] = true
				d.excluded = append(d.excluded, strings.TrimSpace(row.Facility))
				d.special[fk] = facilityOf(fk, row)
			}
			if ck != "" {
				tk := tariffKey{facility: fk, city: ck}
				if _, ok := d.specialTariffs[tk]; !ok {
					d.specialTariffs[tk] = routeTariffOf(fk, ck, row)
				}
			}
			continue
		}

		if _, ok := d.byKey[fk]; !ok {
			d.byKey[fk] = len(d.facilities)
			d.facilities = append(d.facilities, facilityOf(fk, row))
		}

		if ck == "" {
			continue
		}
		tk := tariffKey{facility: fk, city: ck}
		if _, ok := d.tariffs[tk]; !ok {
			d.tariffs[tk] = routeTariffOf(fk, ck, row)
			d.cityTariff[ck] = append(d.cityTariff[ck], fk)
		}
	}

	items := make([]geo.Item, 0, len(d.facilities))
	for i, f := range d.facilities {
		if f.Home != nil {
			items = append(items, geo.Item{ID: string(f.Key), Coord: *f.Home, Seq: i})
		}
	}
	d.index = geo.NewIndex(items)

	return d
}

func facilityOf(fk FacilityKey, row TariffRow) Facility {
	var home *geo.Coordinate
	if row.Home != nil && row.Home.Valid() {
		home = row.Home.Ptr()
	}
	return Facility{
		Key:       fk,
		Name:      strings.TrimSpace(row.Facility),
		Home:      home,
		Phone:     strings.TrimSpace(row.Phone),
		HomeCity:  strings.TrimSpace(row.HomeCity),
		HomeState: strings.TrimSpace(row.HomeState),
	}
}

func routeTariffOf(fk FacilityKey, ck CityKey, row TariffRow) RouteTariff {
	return RouteTariff{
		Facility:  fk,
		City:      ck,
		CityName:  strings.TrimSpace(row.City),
		FixedKm:   row.FixedKm,
		Rate:      row.Rate,
		Allowance: row.Allowance,
	}
}

func isSpecial(key FacilityKey, patterns []string) bool {
	for _, p := range patterns {
		p = NormalizeKey(p)
		if p != "" && strings.Contains(string(key), p) {
			return true
		}
	}
	return false
}

// Facilities returns the rankable facilities in insertion order.
func (d *Directory) Facilities() []Facility {
	out := make([]Facility, len(d.facilities))
	copy(out, d.facilities)
	return out
}

// Len returns the number of rankable facilities.
func (d *Directory) Len() int {
	return len(d.facilities)
}

// Facility looks up a facility by name (any casing).
func (d *Directory) Facility(name string) (Facility, bool) {
	i, ok := d.byKey[FacilityKeyOf(name)]
	if !ok {
		return Facility{}, false
	}
	return d.facilities[i], true
}

// Tariff returns the route tariff for a facility/city pair. Rows of
// excluded special-contract facilities are found too; only rankable
// facilities are ever priced as suggestions.
func (d *Directory) Tariff(f FacilityKey, c CityKey) (RouteTariff, bool) {
	k := tariffKey{facility: f, city: c}
	if t, ok := d.tariffs[k]; ok {
		return t, true
	}
	t, ok := d.specialTariffs[k]
	return t, ok
}

// BillingFacility looks up any facility of the table, rankable or excluded.
func (d *Directory) BillingFacility(name string) (Facility, bool) {
	if f, ok := d.Facility(name); ok {
		return f, true
	}
	f, ok := d.special[FacilityKeyOf(name)]
	return f, ok
}

// TariffCount returns the number of distinct rankable (facility, city) pairs.
func (d *Directory) TariffCount() int {
	return len(d.tariffs)
}

// CityCoordinate returns the destination coordinate known for a city.
func (d *Directory) CityCoordinate(c CityKey) (geo.Coordinate, bool) {
	coord, ok := d.cities[c]
	return coord, ok
}

// Excluded returns the special-contract facility names left out of ranking.
func (d *Directory) Excluded() []string {
	out := make([]string, len(d.excluded))
	copy(out, d.excluded)
	return out
}

// IsExcluded reports whether name matches a special-contract pattern that
// this directory leaves out.
func (d *Directory) IsExcluded(name string) bool {
	return !d.opts.IncludeSpecial && isSpecial(FacilityKeyOf(name), d.opts.SpecialPatterns)
}

// Tariffs returns every route tariff, grouped by facility in directory order
// and sorted by city within a facility.
func (d *Directory) Tariffs() []RouteTariff {
	out := make([]RouteTariff, 0, len(d.tariffs))
	for _, t := range d.tariffs {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		fi, fj := d.byKey[out[i].Facility], d.byKey[out[j].Facility]
		if fi != fj {
			return fi < fj
		}
		return out[i].City < out[j].City
	})
	return out
}

// NearbyFacility is a facility found by a radius query.
type NearbyFacility struct {
	Facility   Facility `json:"facility"`
	DistanceKm float64  `json:"distance_km"`
}

// Nearby returns facilities whose home lies within radiusKm of c, nearest
// first.
func (d *Directory) Nearby(c geo.Coordinate, radiusKm float64) ([]NearbyFacility, error) {
	matches, err := d.index.Radius(c, radiusKm)
	if err != nil {
		return nil, err
	}
	out := make([]NearbyFacility, 0, len(matches))
	for _, m := range matches {
		out = append(out, NearbyFacility{Facility: d.facilities[m.Seq], DistanceKm: m.DistanceKm})
	}
	return out, nil
}

// ServingCity returns the facilities holding a tariff row for c, sorted by
// key.
func (d *Directory) ServingCity(c CityKey) []FacilityKey {
	out := append([]FacilityKey(nil), d.cityTariff[c]...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

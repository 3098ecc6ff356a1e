package engine_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/tariff-engine/engine"
	"github.com/warp/tariff-engine/geo"
)

// =============================================================================
// DIRECTORY
// =============================================================================

func TestNewDirectory_FirstRowWins(t *testing.T) {
	// GIVEN: A facility listed twice with conflicting data
	other := geo.Coordinate{Lat: -20, Lon: -44}
	dir := newDirectory(t, []engine.TariffRow{
		tariff("Rep One", homeA, "CITYX", cityX.Ptr(), some("50"), some("2"), some("20")),
		tariff(" REP  ONE ", other, "cityx", &other, some("99"), some("9"), some("0")),
	})

	// THEN: One facility, first home, first tariff, first city coordinate
	require.Equal(t, 1, dir.Len())
	f, ok := dir.Facility("rep one")
	require.True(t, ok)
	assert.Equal(t, homeA, *f.Home)
	assert.Equal(t, "Rep One", f.Name)

	tr, ok := dir.Tariff("REP ONE", "CITYX")
	require.True(t, ok)
	assertDecimal(t, "50", tr.FixedKm.Decimal)
	assert.Equal(t, 1, dir.TariffCount())

	c, ok := dir.CityCoordinate("CITYX")
	require.True(t, ok)
	assert.Equal(t, cityX, c)
}

func TestNewDirectory_SpecialFacilitiesExcluded(t *testing.T) {
	rows := append(standardTariffs(),
		tariff("STELLANTIS BETIM", homeA, "BETIM", &geo.Coordinate{Lat: -19.97, Lon: -44.19}, some("5"), some("1"), some("0")),
	)

	// WHEN: Default options
	dir := newDirectory(t, rows)

	// THEN: Not ranked, but its city coordinate is still known
	_, ok := dir.Facility("STELLANTIS BETIM")
	assert.False(t, ok)
	assert.Equal(t, []string{"STELLANTIS BETIM"}, dir.Excluded())
	assert.True(t, dir.IsExcluded("stellantis betim"))
	_, ok = dir.CityCoordinate("BETIM")
	assert.True(t, ok)

	// AND: Its rows still price its own billed days, outside ranking
	f, ok := dir.BillingFacility("stellantis betim")
	require.True(t, ok)
	assert.Equal(t, homeA, *f.Home)
	tr, ok := dir.Tariff("STELLANTIS BETIM", "BETIM")
	require.True(t, ok)
	assertDecimal(t, "5", tr.FixedKm.Decimal)
	assert.Empty(t, dir.ServingCity("BETIM"))
	assert.Equal(t, 2, dir.TariffCount())
	_, ok = dir.BillingFacility("NOBODY")
	assert.False(t, ok)

	// WHEN: Special facilities are included
	withSpecial := engine.NewDirectory(rows, engine.DirectoryOptions{
		SpecialPatterns: engine.DefaultSpecialFacilities,
		IncludeSpecial:  true,
	})
	_, ok = withSpecial.Facility("STELLANTIS BETIM")
	assert.True(t, ok)
	assert.False(t, withSpecial.IsExcluded("STELLANTIS BETIM"))
	assert.Empty(t, withSpecial.Excluded())
}

func TestNewDirectory_InvalidHomeIsDropped(t *testing.T) {
	bad := geo.Coordinate{Lat: 123, Lon: 0}
	dir := newDirectory(t, []engine.TariffRow{
		{Facility: "BROKEN", City: "X", Home: &bad, Rate: some("1")},
	})

	f, ok := dir.Facility("BROKEN")
	require.True(t, ok)
	assert.Nil(t, f.Home)
}

func TestDirectory_NearbyAndServing(t *testing.T) {
	dir := newDirectory(t, standardTariffs())

	near, err := dir.Nearby(cityX, 50)
	require.NoError(t, err)
	require.Len(t, near, 1)
	assert.Equal(t, engine.FacilityKey("A"), near[0].Facility.Key)

	all, err := dir.Nearby(cityX, 1000)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, engine.FacilityKey("B"), all[1].Facility.Key)

	assert.Equal(t, []engine.FacilityKey{"A"}, dir.ServingCity("CITYX"))
	assert.Empty(t, dir.ServingCity("CITYY"))

	tariffs := dir.Tariffs()
	require.Len(t, tariffs, 2)
	assert.Equal(t, engine.FacilityKey("A"), tariffs[0].Facility)
}

// =============================================================================
// RESOLVER
// =============================================================================

func TestResolve_PriorityChain(t *testing.T) {
	dir := newDirectory(t, standardTariffs())
	r := engine.NewResolver(dir)

	tests := []struct {
		name   string
		rec    engine.DemandRecord
		origin engine.Origin
		want   *geo.Coordinate
	}{
		{"explicit wins", engine.DemandRecord{City: "CITYX", Latitude: "-22,5", Longitude: "-45,1", LatLon: "-1,-1"}, engine.OriginExplicit, &geo.Coordinate{Lat: -22.5, Lon: -45.1}},
		{"combined when explicit broken", engine.DemandRecord{City: "CITYX", Latitude: "abc", LatLon: "-21.0, -44.0"}, engine.OriginCombined, &geo.Coordinate{Lat: -21, Lon: -44}},
		{"city table last", engine.DemandRecord{City: " cityx ", LatLon: "nonsense"}, engine.OriginCity, &cityX},
		{"unresolved", engine.DemandRecord{City: "ATLANTIS"}, engine.OriginUnresolved, nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := r.Resolve(tc.rec)
			assert.Equal(t, tc.origin, p.Origin)
			if tc.want == nil {
				assert.False(t, p.Resolved())
				return
			}
			require.True(t, p.Resolved())
			assert.InDelta(t, tc.want.Lat, p.Coord.Lat, 1e-9)
			assert.InDelta(t, tc.want.Lon, p.Coord.Lon, 1e-9)
		})
	}
}

func TestResolveAll_CountsEveryOrigin(t *testing.T) {
	r := engine.NewResolver(newDirectory(t, standardTariffs()))

	points, summary, caveats := r.ResolveAll([]engine.DemandRecord{
		{OrderID: "1", City: "CITYX", Latitude: "-23.5", Longitude: "-46.6"},
		{OrderID: "2", City: "CITYX"},
		{OrderID: "3", City: "ATLANTIS"},
		{OrderID: "4", City: "", LatLon: "-23.5,-46.6"},
	})

	require.Len(t, points, 4)
	assert.Equal(t, engine.ResolutionSummary{Explicit: 1, Combined: 1, City: 1, Unresolved: 1}, summary)
	require.Len(t, caveats, 1)
	assert.Equal(t, engine.CaveatResolutionFailure, caveats[0].Kind)
	assert.Equal(t, "3", caveats[0].OrderID)
}

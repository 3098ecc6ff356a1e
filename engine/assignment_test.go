package engine_test

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/tariff-engine/engine"
	"github.com/warp/tariff-engine/geo"
)

// =============================================================================
// NEAREST-K RANKING
// =============================================================================

func TestNearestK_NearerFacilityRanksFirst(t *testing.T) {
	// GIVEN: A in Sao Paulo, B in Rio
	dir := newDirectory(t, standardTariffs())
	a := engine.NewAssigner(dir, 1)

	// WHEN: Ranking a point near Sao Paulo with K=2
	as, err := a.NearestK(point("OS1", "CITYX", geo.Coordinate{Lat: -23.50, Lon: -46.60}), 2)
	require.NoError(t, err)

	// THEN: [A, B]
	require.Len(t, as.Candidates, 2)
	assert.Equal(t, engine.FacilityKey("A"), as.Candidates[0].Facility.Key)
	assert.Equal(t, engine.FacilityKey("B"), as.Candidates[1].Facility.Key)
	assert.Equal(t, 1, as.Candidates[0].Rank)
	assert.Equal(t, 2, as.Candidates[1].Rank)
	assert.Less(t, as.Candidates[0].DistanceKm, as.Candidates[1].DistanceKm)
}

func TestNearestK_FewerFacilitiesThanK(t *testing.T) {
	dir := newDirectory(t, standardTariffs())

	as, err := engine.NewAssigner(dir, 1).NearestK(point("OS1", "CITYX", cityX), 10)
	require.NoError(t, err)

	require.Len(t, as.Candidates, 2)
	assert.Equal(t, []int{1, 2}, []int{as.Candidates[0].Rank, as.Candidates[1].Rank})
}

func TestNearestK_TiesKeepDirectoryOrder(t *testing.T) {
	// GIVEN: Two facilities sharing one home
	dir := newDirectory(t, []engine.TariffRow{
		tariff("SECOND", homeA, "X", nil, noValue, noValue, noValue),
		tariff("FIRST", homeA, "X", nil, noValue, noValue, noValue),
	})

	// WHEN: Ranking
	as, err := engine.NewAssigner(dir, 1).NearestK(point("OS1", "X", cityX), 2)
	require.NoError(t, err)

	// THEN: Directory order breaks the tie
	assert.Equal(t, engine.FacilityKey("SECOND"), as.Candidates[0].Facility.Key)
	assert.Equal(t, engine.FacilityKey("FIRST"), as.Candidates[1].Facility.Key)
}

func TestNearestK_FacilityWithoutHomeIsNotRanked(t *testing.T) {
	dir := newDirectory(t, []engine.TariffRow{
		{Facility: "NOWHERE", City: "X", Rate: some("1")},
		tariff("A", homeA, "X", nil, noValue, noValue, noValue),
	})

	as, err := engine.NewAssigner(dir, 1).NearestK(point("OS1", "X", cityX), 5)
	require.NoError(t, err)

	require.Len(t, as.Candidates, 1)
	assert.Equal(t, engine.FacilityKey("A"), as.Candidates[0].Facility.Key)
}

func TestNearestK_InvalidInput(t *testing.T) {
	dir := newDirectory(t, standardTariffs())
	a := engine.NewAssigner(dir, 1)

	_, err := a.NearestK(point("OS1", "CITYX", cityX), 0)
	assert.ErrorIs(t, err, engine.ErrInvalidK)

	_, err = a.NearestK(engine.DemandPoint{OrderID: "OS2", City: "NOWHERE"}, 2)
	assert.ErrorIs(t, err, engine.ErrUnresolvedPoint)
}

func TestNearestK_RankingFollowsDistance(t *testing.T) {
	// GIVEN: A cloud of facilities over the state of Sao Paulo
	rng := rand.New(rand.NewSource(42))
	var rows []engine.TariffRow
	for i := 0; i < 40; i++ {
		home := geo.Coordinate{Lat: -25 + rng.Float64()*5, Lon: -53 + rng.Float64()*8}
		rows = append(rows, tariff(string(rune('A'+i%26))+string(rune('a'+i/26)), home, "X", nil, noValue, noValue, noValue))
	}
	dir := newDirectory(t, rows)
	a := engine.NewAssigner(dir, 1)

	for n := 0; n < 25; n++ {
		p := geo.Coordinate{Lat: -25 + rng.Float64()*5, Lon: -53 + rng.Float64()*8}
		as, err := a.NearestK(point("OS", "X", p), 40)
		require.NoError(t, err)

		// THEN: Distances never decrease along the ranking
		for i := 1; i < len(as.Candidates); i++ {
			assert.LessOrEqual(t, as.Candidates[i-1].DistanceKm, as.Candidates[i].DistanceKm)
			assert.Equal(t, i+1, as.Candidates[i].Rank)
		}
	}
}

// =============================================================================
// BATCH ASSIGNMENT
// =============================================================================

func TestAssignAll_KeepsInputOrderAndSkipsUnresolved(t *testing.T) {
	dir := newDirectory(t, standardTariffs())
	points := []engine.DemandPoint{
		point("OS1", "CITYX", cityX),
		{OrderID: "OS2", City: "LOST", Origin: engine.OriginUnresolved},
		point("OS3", "RIO", homeB),
	}

	out, skipped, err := engine.NewAssigner(dir, 4).AssignAll(context.Background(), points, 1)
	require.NoError(t, err)

	assert.Equal(t, 1, skipped)
	require.Len(t, out, 2)
	assert.Equal(t, "OS1", out[0].Point.OrderID)
	assert.Equal(t, engine.FacilityKey("A"), out[0].Candidates[0].Facility.Key)
	assert.Equal(t, "OS3", out[1].Point.OrderID)
	assert.Equal(t, engine.FacilityKey("B"), out[1].Candidates[0].Facility.Key)
}

func TestAssignAll_CancelledContext(t *testing.T) {
	dir := newDirectory(t, standardTariffs())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := engine.NewAssigner(dir, 2).AssignAll(ctx, []engine.DemandPoint{point("OS1", "CITYX", cityX)}, 1)
	assert.ErrorIs(t, err, context.Canceled)
}

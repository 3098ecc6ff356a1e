package engine_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/tariff-engine/engine"
)

// =============================================================================
// DAILY ITINERARIES
// =============================================================================

func TestAggregate_CityChargedOncePerDay(t *testing.T) {
	// GIVEN: Three orders in CITYX on the same day
	dir := newDirectory(t, standardTariffs())
	agg := engine.NewItineraryAggregator(dir, 1)
	records := []engine.PaymentRecord{
		payment("OS1", jan10, "CITYX", "A", "T1", "160"),
		payment("OS2", jan10, "CITYX", "A", "T1", "160"),
		payment("OS3", jan10, "CITYX", "A", "T1", "160"),
	}

	// WHEN: Aggregating the day
	it := agg.Aggregate(records)

	// THEN: One round trip of 100 km, all three payments counted
	require.Len(t, it.Stops, 1)
	assert.Equal(t, []string{"OS1", "OS2", "OS3"}, it.Stops[0].OrderIDs)
	assert.Equal(t, 3, it.Orders)
	assertDecimal(t, "100", it.KmTotal.Value)
	assertDecimal(t, "80", it.BillableKm.Value)
	assertDecimal(t, "160", it.CorrectCost.Value)
	assertDecimal(t, "480", it.PaidTotal.Value)
	assertDecimal(t, "320", it.Variance.Value)
	assert.Equal(t, "BASE → CITYX (OS: OS1,OS2,OS3 | 50.0 km) → BASE", it.Route)
	assert.NotEmpty(t, it.CalcLog)
	assert.Empty(t, it.Caveats)
}

func TestAggregate_TwoCitiesWithFallback(t *testing.T) {
	// GIVEN: CITYX has a tariff row, CITYY only a coordinate
	dir := newDirectory(t, standardTariffs())
	agg := engine.NewItineraryAggregator(dir, 1)

	it := agg.Aggregate([]engine.PaymentRecord{
		payment("OS1", jan10, "CITYX", "A", "T1", "100"),
		payment("OS2", jan10, "CITYY", "A", "T1", "100"),
	})

	// THEN: 2 x (50 + ~30) km, first city's allowance and rate
	require.Len(t, it.Stops, 2)
	assert.Equal(t, engine.SourceTariff, it.Stops[0].Source)
	assert.Equal(t, engine.SourceGreatCircle, it.Stops[1].Source)
	km, _ := it.KmTotal.Value.Float64()
	assert.InDelta(t, 160.0, km, 0.3)
	assertDecimal(t, "20", it.Allowance.Value)
	assertDecimal(t, "2", it.Rate)
	assert.Equal(t, 1, it.Caveats.Count(engine.CaveatTariffFallback))
	assert.Zero(t, it.Caveats.Count(engine.CaveatInconsistentTariff))
}

func TestAggregate_InconsistentTariffUsesFirstCity(t *testing.T) {
	// GIVEN: Two cities whose tariff rows disagree on rate
	rows := append(standardTariffs(), tariff("A", homeA, "CITYZ", nil, some("10"), some("3.00"), some("20")))
	agg := engine.NewItineraryAggregator(newDirectory(t, rows), 1)

	it := agg.Aggregate([]engine.PaymentRecord{
		payment("OS1", jan10, "CITYX", "A", "T1", "100"),
		payment("OS2", jan10, "CITYZ", "A", "T1", "100"),
	})

	// THEN: 2 x 60 = 120 km, minus 20, at the first city's 2.00
	assertDecimal(t, "120", it.KmTotal.Value)
	assertDecimal(t, "2", it.Rate)
	assertDecimal(t, "200", it.CorrectCost.Value)
	require.Equal(t, 1, it.Caveats.Count(engine.CaveatInconsistentTariff))
}

func TestAggregate_PaymentRateOverridesTariff(t *testing.T) {
	dir := newDirectory(t, standardTariffs())
	rec := payment("OS1", jan10, "CITYX", "A", "T1", "100")
	rec.Rate = some("1.25")

	it := engine.NewItineraryAggregator(dir, 1).Aggregate([]engine.PaymentRecord{rec})

	assertDecimal(t, "1.25", it.Rate)
	assertDecimal(t, "100", it.CorrectCost.Value)
}

func TestAggregate_UnknownFacilityContributesZeroKm(t *testing.T) {
	dir := newDirectory(t, standardTariffs())

	it := engine.NewItineraryAggregator(dir, 1).Aggregate([]engine.PaymentRecord{
		payment("OS1", jan10, "CITYX", "UNKNOWN", "T1", "50"),
	})

	assert.True(t, it.KmTotal.IsZero())
	assert.Equal(t, 1, it.Caveats.Count(engine.CaveatDistanceUnavailable))
	assert.Equal(t, 2, it.Caveats.Count(engine.CaveatIncompleteTariff))
	assertDecimal(t, "50", it.Variance.Value)
}

func TestAggregateAll_GroupsAndSorts(t *testing.T) {
	dir := newDirectory(t, standardTariffs())
	records := []engine.PaymentRecord{
		payment("OS1", jan11, "CITYX", "A", "T1", "10"),
		payment("OS2", jan10, "RIO", "B", "T9", "10"),
		payment("OS3", jan10, "CITYX", "A", "T1", "10"),
		payment("OS4", jan10, "CITYY", "A", "T1", "10"),
		payment("OS5", jan10, "CITYX", "A", "T2", "10"),
	}

	out, err := engine.NewItineraryAggregator(dir, 3).AggregateAll(context.Background(), records)
	require.NoError(t, err)

	require.Len(t, out, 4)
	assert.Equal(t, engine.ItineraryKey{Facility: "A", Technician: "T1", Date: "2024-01-10"}, out[0].Key)
	assert.Len(t, out[0].Stops, 2)
	assert.Equal(t, engine.ItineraryKey{Facility: "A", Technician: "T1", Date: "2024-01-11"}, out[1].Key)
	assert.Equal(t, engine.ItineraryKey{Facility: "A", Technician: "T2", Date: "2024-01-10"}, out[2].Key)
	assert.Equal(t, engine.ItineraryKey{Facility: "B", Technician: "T9", Date: "2024-01-10"}, out[3].Key)
}

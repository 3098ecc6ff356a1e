package engine_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/tariff-engine/engine"
)

// =============================================================================
// CAPILLARITY
// =============================================================================

func TestCapillarity_GroupsUnmappedVisits(t *testing.T) {
	// GIVEN: A visits CITYY twice (no tariff), CITYX once (mapped);
	// B visits CITYX (no tariff for B). C lives in CITYX but serves only RIO.
	dir := newDirectory(t, append(standardTariffs(),
		tariff("C", cityX, "RIO", homeB.Ptr(), some("400"), some("1"), some("0"))))
	records := []engine.PaymentRecord{
		payment("OS1", jan10, "CITYY", "A", "T1", "10"),
		payment("OS2", jan10, "CITYX", "A", "T1", "10"),
		payment("OS3", jan10, "CITYX", "B", "T2", "10"),
		payment("OS4", jan10, "cityy", "A", "T2", "10"),
	}

	// WHEN: Building the report
	rows := engine.Capillarity(dir, records, engine.DefaultNearbyRadiusKm)

	// THEN: Two rows, sorted by rep then city
	require.Len(t, rows, 2)
	assert.Equal(t, engine.FacilityKey("A"), rows[0].Facility)
	assert.Equal(t, engine.CityKey("CITYY"), rows[0].City)
	assert.Equal(t, 2, rows[0].Visits)
	assert.Equal(t, []string{"OS1", "OS4"}, rows[0].OrderIDs)
	assert.Empty(t, rows[0].Hints, "nobody serves CITYY")

	// AND: Hints for CITYX skip C (nearest, but not serving) and name A
	assert.Equal(t, engine.FacilityKey("B"), rows[1].Facility)
	require.Len(t, rows[1].Hints, 1)
	assert.Equal(t, engine.FacilityKey("A"), rows[1].Hints[0].Facility)
}

func TestCapillarity_NoHintsWhenRadiusDisabled(t *testing.T) {
	dir := newDirectory(t, standardTariffs())

	rows := engine.Capillarity(dir, []engine.PaymentRecord{payment("OS1", jan10, "CITYY", "A", "T1", "10")}, 0)

	require.Len(t, rows, 1)
	assert.Empty(t, rows[0].Hints)
}

// =============================================================================
// SAME-CITY PAYMENTS AND REVISITS
// =============================================================================

func TestSameCityPayments(t *testing.T) {
	rows := standardTariffs()
	rows[0].HomeCity = "Sao Paulo"
	dir := newDirectory(t, rows)

	own := payment("OS1", jan10, "SAO PAULO", "A", "T1", "40")
	recordHome := payment("OS2", jan10, "RIO", "B", "T1", "25")
	recordHome.HomeCity = "Rio"
	unpaid := payment("OS3", jan10, "SAO PAULO", "A", "T1", "0")
	elsewhere := payment("OS4", jan10, "CITYX", "A", "T1", "40")

	out := engine.SameCityPayments(dir, []engine.PaymentRecord{own, recordHome, unpaid, elsewhere})

	require.Len(t, out, 2)
	assert.Equal(t, "OS1", out[0].OrderID)
	assert.Equal(t, 0, out[0].Index)
	assert.Equal(t, "OS2", out[1].OrderID)
	assertDecimal(t, "25", out[1].Paid.Value)
}

func TestDetectRevisits_WeeklyWindow(t *testing.T) {
	records := []engine.PaymentRecord{
		payment("OS1", jan10, "CITYX", "A", "T1", "10"),
		payment("OS2", jan11, "CITYX", "A", "T1", "10"),
		payment("OS3", jan17, "CITYX", "A", "T2", "10"),
		payment("OS4", jan17, "CITYY", "A", "T1", "10"),
	}

	out := engine.DetectRevisits(records, engine.DefaultRevisitMinDays, engine.DefaultRevisitMaxDays)

	// jan10 -> jan17 is 7 days; jan11 -> jan17 is 6 days
	require.Len(t, out, 2)
	assert.Equal(t, "2024-01-10", out[0].FirstDate)
	assert.Equal(t, 7, out[0].DaysApart)
	assert.Equal(t, []string{"OS3"}, out[0].SecondOrders)
	assert.Equal(t, "2024-01-11", out[1].FirstDate)
	assert.Equal(t, 6, out[1].DaysApart)
}

func TestPaymentFilter_ClientsAndStatuses(t *testing.T) {
	keep := payment("OS1", jan10, "CITYX", "A", "T1", "10")
	keep.Status = "serviços realizados"
	light := payment("OS2", jan10, "CITYX", "A", "T1", "10")
	light.Client = "Light Servicos de Eletricidade S/A"
	light.Status = "Agendada"
	cancelled := payment("OS3", jan10, "CITYX", "A", "T1", "10")
	cancelled.Status = "Cancelada"

	f := engine.PaymentFilter{
		ExcludedClients: engine.DefaultExcludedClients,
		AllowedStatuses: engine.SuggestedStatuses,
	}
	out, dropped := f.Apply([]engine.PaymentRecord{keep, light, cancelled})

	assert.Equal(t, 2, dropped)
	require.Len(t, out, 1)
	assert.Equal(t, "OS1", out[0].OrderID)

	// An empty allow list accepts every status.
	out, dropped = engine.PaymentFilter{}.Apply([]engine.PaymentRecord{keep, light, cancelled})
	assert.Zero(t, dropped)
	assert.Len(t, out, 3)
}

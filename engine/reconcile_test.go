package engine_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/tariff-engine/engine"
	"github.com/warp/tariff-engine/engine/store"
)

func newTestReconciler(t *testing.T) (*engine.Reconciler, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	return engine.NewReconciler(mem, nil), mem
}

func scenarioInput() engine.RunInput {
	special := payment("OS9", jan10, "CITYX", "CEABS SERVICOS", "T1", "70")
	excludedClient := payment("OS8", jan10, "CITYX", "A", "T1", "70")
	excludedClient.Client = "FCA CRHYSLER"

	return engine.RunInput{
		Tariffs: append(standardTariffs(),
			tariff("CEABS SERVICOS", homeA, "CITYX", cityX.Ptr(), some("1"), some("1"), some("0"))),
		Payments: []engine.PaymentRecord{
			payment("OS1", jan10, "CITYX", "A", "T1", "200"),
			payment("OS2", jan10, "CITYX", "A", "T1", "200"),
			payment("OS3", jan10, "CITYX", "A", "T2", "150"),
			payment("OS4", jan10, "CITYY", "A", "T1", "90"),
			payment("OS5", jan11, "ATLANTIS", "B", "T9", "30"),
			payment("OS6", jan11, "CITYX", "A", "T1", "0"),
			special,
			excludedClient,
		},
	}
}

// =============================================================================
// RECONCILIATION RUNS
// =============================================================================

func TestRun_FullReport(t *testing.T) {
	// GIVEN: A tariff table and a payment table with every kind of record
	r, mem := newTestReconciler(t)
	ctx := context.Background()

	// WHEN: Running with default options
	report, err := r.Run(ctx, scenarioInput(), engine.DefaultRunOptions())
	require.NoError(t, err)

	// THEN: Every paid record is reconciled; filters only narrow ranking
	sum := report.Summary
	assert.Equal(t, engine.RunCompleted, report.Status)
	assert.Equal(t, 8, sum.Payments)
	assert.Equal(t, 1, sum.Unpaid)
	assert.Equal(t, 7, sum.Reconciled)
	assert.Equal(t, 1, sum.Filtered, "excluded client")
	assert.Equal(t, 1, sum.SkippedSpecial)
	assert.Equal(t, 5, sum.Ranked)
	assert.Equal(t, []string{"CEABS SERVICOS"}, sum.Excluded)
	assert.Equal(t, engine.ResolutionSummary{City: 4, Unresolved: 1}, sum.Resolution)

	// Assignments skip the unresolved point
	assert.Len(t, report.Assignments, 4)
	assert.Equal(t, 1, sum.UnassignedCount)

	// Duplicates: OS1/OS2 share a slot with OS8, whose client is excluded
	// from ranking only
	require.Len(t, report.Duplicates, 1)
	assert.Equal(t, 1, sum.DuplicateGroups)
	assert.Equal(t, 2, sum.ZeroOut)
	assertDecimal(t, "270", sum.ExcessTotal.Value)
	assert.Equal(t, engine.RecommendZeroOut, recommendationOf(t, report, "OS8"))
	assert.Equal(t, engine.RecommendUnique, recommendationOf(t, report, "OS9"))

	// Itineraries: (A,T1,jan10), (A,T2,jan10), (B,T9,jan11), (CEABS,T1,jan10)
	require.Len(t, report.Itineraries, 4)
	assert.Len(t, report.Itineraries[0].Stops, 2)
	assert.Equal(t, engine.FacilityKey("CEABS SERVICOS"), report.Itineraries[3].Key.Facility)
	assertDecimal(t, "2", report.Itineraries[3].KmTotal.Value)

	// Capillarity: A->CITYY and B->ATLANTIS lack tariffs; the special
	// facility's own CITYX row still counts as mapped
	assert.Len(t, report.Capillarity, 2)

	assertDecimal(t, "810", sum.PaidTotal.Value)
	assert.Equal(t, 1, report.Caveats.Count(engine.CaveatExcluded))
	assert.Equal(t, 1, report.Caveats.Count(engine.CaveatResolutionFailure))
	assert.Equal(t, 1, sum.Caveats[engine.CaveatResolutionFailure])

	// Stored as one unit
	stored, err := mem.GetReport(ctx, report.ID)
	require.NoError(t, err)
	assert.Equal(t, report.ID, stored.ID)
	runs, err := mem.ListRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, engine.RunCompleted, runs[0].Status)
}

func recommendationOf(t *testing.T, report *engine.Report, orderID string) engine.Recommendation {
	t.Helper()
	for _, a := range report.Annotations {
		if a.OrderID == orderID {
			return a.Recommendation
		}
	}
	t.Fatalf("no annotation for %s", orderID)
	return ""
}

func TestRun_RankingFiltersDoNotHideDuplicateBilling(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*engine.PaymentRecord)
	}{
		{"special-contract facility", func(p *engine.PaymentRecord) { p.Facility = "CEABS SERVICOS" }},
		{"excluded client", func(p *engine.PaymentRecord) { p.Client = "FCA CRHYSLER" }},
		{"status outside the allow list", func(p *engine.PaymentRecord) { p.Status = "Cancelada" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// GIVEN: The same slot paid twice by a record the ranking skips
			r, _ := newTestReconciler(t)
			opts := engine.DefaultRunOptions()
			opts.Filter.AllowedStatuses = []string{"Serviços realizados"}
			first := payment("OS1", jan10, "CITYX", "A", "T1", "80")
			second := payment("OS2", jan10, "CITYX", "A", "T1", "80")
			first.Status, second.Status = "Serviços realizados", "Serviços realizados"
			tt.mutate(&first)
			tt.mutate(&second)

			// WHEN: Running
			report, err := r.Run(context.Background(), engine.RunInput{
				Tariffs:  standardTariffs(),
				Payments: []engine.PaymentRecord{first, second},
			}, opts)
			require.NoError(t, err)

			// THEN: Nothing is ranked, but the double billing is flagged
			assert.Equal(t, 0, report.Summary.Ranked)
			assert.Empty(t, report.Savings)
			require.Len(t, report.Duplicates, 1)
			assert.Equal(t, engine.RecommendKeep, recommendationOf(t, report, "OS1"))
			assert.Equal(t, engine.RecommendZeroOut, recommendationOf(t, report, "OS2"))
			require.Len(t, report.Itineraries, 1)
			assertDecimal(t, "160", report.Itineraries[0].PaidTotal.Value)
		})
	}
}

func TestRun_SavingsAgainstSuggestedFacility(t *testing.T) {
	r, _ := newTestReconciler(t)

	report, err := r.Run(context.Background(), engine.RunInput{
		Tariffs:  standardTariffs(),
		Payments: []engine.PaymentRecord{payment("OS1", jan10, "CITYX", "B", "T1", "300")},
	}, engine.DefaultRunOptions())
	require.NoError(t, err)

	// B was scheduled, A is nearest and costs 160.00
	require.Len(t, report.Savings, 1)
	s := report.Savings[0]
	assert.Equal(t, engine.FacilityKey("B"), s.Scheduled)
	assert.Equal(t, engine.FacilityKey("A"), s.Suggested)
	assert.False(t, s.SameFacility)
	assertDecimal(t, "140", s.Savings.Value)
	assertDecimal(t, "140", report.Summary.SavingsTotal.Value)
	require.NotNil(t, s.ScheduledCost)
	assert.Equal(t, engine.SourceGreatCircle, s.ScheduledCost.Source)
}

func TestRun_SchemaErrorAbortsAndStoresFailedRun(t *testing.T) {
	// GIVEN: A tariff table with no rate, distance or allowance anywhere
	r, mem := newTestReconciler(t)
	ctx := context.Background()
	in := engine.RunInput{
		Tariffs:  []engine.TariffRow{{Facility: "A", City: "CITYX"}},
		Payments: []engine.PaymentRecord{payment("OS1", jan10, "CITYX", "A", "T1", "10")},
	}

	// WHEN: Running
	report, err := r.Run(ctx, in, engine.DefaultRunOptions())

	// THEN: Fatal schema error naming the missing group, no outputs
	var se *engine.SchemaError
	require.ErrorAs(t, err, &se)
	assert.True(t, engine.IsFatal(err))
	assert.Equal(t, "tariffs", se.Table)
	assert.Equal(t, []string{"fixed_km|rate|allowance"}, se.Missing)

	require.NotNil(t, report)
	assert.Equal(t, engine.RunFailed, report.Status)
	assert.Empty(t, report.Assignments)
	assert.Empty(t, report.Itineraries)

	runs, err := mem.ListRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, engine.RunFailed, runs[0].Status)
}

func TestValidatePayments_MissingColumns(t *testing.T) {
	err := engine.ValidatePayments([]engine.PaymentRecord{{DemandRecord: engine.DemandRecord{OrderID: "1"}}})

	var se *engine.SchemaError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, []string{"facility", "city", "date", "technician"}, se.Missing)

	assert.NoError(t, engine.ValidatePayments(nil))
}

func TestRun_InvalidK(t *testing.T) {
	r, _ := newTestReconciler(t)
	opts := engine.DefaultRunOptions()
	opts.K = -1

	_, err := r.Run(context.Background(), scenarioInput(), opts)
	assert.ErrorIs(t, err, engine.ErrInvalidK)
}

func TestRun_CancelledContextSavesNothing(t *testing.T) {
	r, mem := newTestReconciler(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Run(ctx, scenarioInput(), engine.DefaultRunOptions())
	assert.ErrorIs(t, err, context.Canceled)

	runs, err := mem.ListRuns(context.Background())
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestRun_DeterministicAcrossWorkerCounts(t *testing.T) {
	r, _ := newTestReconciler(t)

	one := engine.DefaultRunOptions()
	one.Workers = 1
	many := engine.DefaultRunOptions()
	many.Workers = 8

	a, err := r.Run(context.Background(), scenarioInput(), one)
	require.NoError(t, err)
	b, err := r.Run(context.Background(), scenarioInput(), many)
	require.NoError(t, err)

	assert.Equal(t, a.Annotations, b.Annotations)
	assert.Equal(t, a.Itineraries, b.Itineraries)
	assert.Equal(t, a.Savings, b.Savings)
	assert.Equal(t, a.Caveats, b.Caveats)
}

/*
reconcile.go - Reconciliation run orchestration

PURPOSE:
  Runs every analysis over one tariff table and one payment table and
  collects the outputs plus caveats into a Report.

RUN SEQUENCE:
  1. Validate both tables (SchemaError aborts; a failed run is stored)
  2. Build the Directory
  3. Keep paid > 0 records; these feed every billing check
  4. Narrow a copy by client/status and special facilities for ranking
  5. Resolve the ranked demand points
  6. Nearest-K assignments and savings (worker pool)
  7. Duplicate detection over all paid records (map-reduce)
  8. Daily itineraries (map-reduce + worker pool)
  9. Capillarity, same-city payments, weekly revisits
  10. Totals, metrics, save

ALL OR NOTHING:
  The report is saved only after every step finished. A cancelled context
  or a fatal error leaves no completed run behind.

SEE ALSO:
  - store.go: RunStore
  - errors.go: Caveats
*/
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/tariff-engine/obs"
)

type RunStatus string

const (
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// RunOptions configures one reconciliation run.
type RunOptions struct {
	K              int              `json:"k"`
	Workers        int              `json:"workers"`
	Directory      DirectoryOptions `json:"directory"`
	Filter         PaymentFilter    `json:"filter"`
	NearbyRadiusKm float64          `json:"nearby_radius_km"`
	RevisitMinDays int              `json:"revisit_min_days"`
	RevisitMaxDays int              `json:"revisit_max_days"`
}

func DefaultRunOptions() RunOptions {
	return RunOptions{
		K:              DefaultK,
		Directory:      DefaultDirectoryOptions(),
		Filter:         PaymentFilter{ExcludedClients: DefaultExcludedClients},
		NearbyRadiusKm: DefaultNearbyRadiusKm,
		RevisitMinDays: DefaultRevisitMinDays,
		RevisitMaxDays: DefaultRevisitMaxDays,
	}
}

// RunInput is the pair of tables reconciled by a run.
type RunInput struct {
	Tariffs  []TariffRow     `json:"tariffs"`
	Payments []PaymentRecord `json:"payments"`

	// Source names where the payments came from (a file name, "api").
	Source string `json:"source,omitempty"`
}

// Summary holds the counts and totals of a run.
type Summary struct {
	TariffRows      int                `json:"tariff_rows"`
	Facilities      int                `json:"facilities"`
	Excluded        []string           `json:"excluded,omitempty"`
	Payments        int                `json:"payments"`
	Filtered        int                `json:"filtered"`
	SkippedSpecial  int                `json:"skipped_special"`
	Unpaid          int                `json:"unpaid"`
	Reconciled      int                `json:"reconciled"`
	Ranked          int                `json:"ranked"`
	Resolution      ResolutionSummary  `json:"resolution"`
	UnassignedCount int                `json:"unassigned"`
	DuplicateGroups int                `json:"duplicate_groups"`
	ZeroOut         int                `json:"zero_out"`
	PaidTotal       Amount             `json:"paid_total"`
	SuggestedTotal  Amount             `json:"suggested_total"`
	SavingsTotal    Amount             `json:"savings_total"`
	ExcessTotal     Amount             `json:"excess_total"`
	CorrectTotal    Amount             `json:"correct_total"`
	VarianceTotal   Amount             `json:"variance_total"`
	Caveats         map[CaveatKind]int `json:"caveats"`
}

// Report is the full output of a run.
type Report struct {
	ID          string            `json:"id"`
	Source      string            `json:"source,omitempty"`
	Status      RunStatus         `json:"status"`
	Error       string            `json:"error,omitempty"`
	StartedAt   time.Time         `json:"started_at"`
	CompletedAt time.Time         `json:"completed_at"`
	Options     RunOptions        `json:"options"`
	Summary     Summary           `json:"summary"`
	Assignments []Assignment      `json:"assignments"`
	Savings     []SavingsRow      `json:"savings"`
	Annotations []Annotation      `json:"annotations"`
	Duplicates  []DuplicateGroup  `json:"duplicates"`
	Itineraries []Itinerary       `json:"itineraries"`
	Capillarity []CapillarityRow  `json:"capillarity"`
	SameCity    []SameCityPayment `json:"same_city"`
	Revisits    []Revisit         `json:"revisits"`
	Caveats     Caveats           `json:"caveats"`
}

// Reconciler runs reconciliations and saves their reports.
type Reconciler struct {
	store  RunStore
	logger *slog.Logger
	now    func() time.Time
	newID  func() string
}

// NewReconciler creates a reconciler. store may be nil to skip persistence.
func NewReconciler(store RunStore, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		store:  store,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
	}
}

// Run reconciles in with opts. A SchemaError aborts before any analysis and
// is returned after the failed run is stored.
func (r *Reconciler) Run(ctx context.Context, in RunInput, opts RunOptions) (report *Report, err error) {
	defer obs.Time(ctx, r.logger, "reconcile.run")(&err)
	start := r.now()

	if opts.K == 0 {
		opts.K = DefaultK
	}
	if opts.K < 1 {
		return nil, ErrInvalidK
	}

	report = &Report{
		ID:        r.newID(),
		Source:    in.Source,
		StartedAt: start,
		Options:   opts,
	}

	if err := validateInput(in); err != nil {
		return r.fail(ctx, report, err)
	}

	if err := r.analyze(ctx, in, opts, report); err != nil {
		return nil, err
	}

	report.Status = RunCompleted
	report.CompletedAt = r.now()
	report.Summary.Caveats = report.Caveats.Counts()

	obs.RunsTotal.WithLabelValues(string(RunCompleted)).Inc()
	obs.RunDuration.Observe(report.CompletedAt.Sub(start).Seconds())
	for kind, n := range report.Summary.Caveats {
		obs.CaveatsTotal.WithLabelValues(string(kind)).Add(float64(n))
	}

	r.logger.Info("run completed",
		"run_id", report.ID,
		"payments", report.Summary.Payments,
		"reconciled", report.Summary.Reconciled,
		"duplicate_groups", report.Summary.DuplicateGroups,
		"itineraries", len(report.Itineraries),
		"unmapped", len(report.Capillarity),
		"caveats", len(report.Caveats),
	)

	if r.store != nil {
		if err := r.store.SaveReport(ctx, report); err != nil {
			return nil, fmt.Errorf("failed to save run: %w", err)
		}
	}
	return report, nil
}

// Fail stores a failed run for in without analysing it, for inputs that
// could not be loaded at all. It returns the stored report and cause.
func (r *Reconciler) Fail(ctx context.Context, in RunInput, opts RunOptions, cause error) (*Report, error) {
	report := &Report{
		ID:        r.newID(),
		Source:    in.Source,
		StartedAt: r.now(),
		Options:   opts,
	}
	return r.fail(ctx, report, cause)
}

func (r *Reconciler) fail(ctx context.Context, report *Report, cause error) (*Report, error) {
	report.Status = RunFailed
	report.Error = cause.Error()
	report.CompletedAt = r.now()
	obs.RunsTotal.WithLabelValues(string(RunFailed)).Inc()
	r.logger.Warn("run aborted", "run_id", report.ID, "source", report.Source, "err", cause)
	if r.store != nil {
		if err := r.store.SaveReport(ctx, report); err != nil {
			return nil, fmt.Errorf("failed to save failed run: %w", err)
		}
	}
	return report, cause
}

func (r *Reconciler) analyze(ctx context.Context, in RunInput, opts RunOptions, report *Report) error {
	sum := &report.Summary
	sum.TariffRows = len(in.Tariffs)
	sum.Payments = len(in.Payments)

	dir := NewDirectory(in.Tariffs, opts.Directory)
	sum.Facilities = dir.Len()
	sum.Excluded = dir.Excluded()

	// Every paid record is reconciled. Client/status filters and special
	// contracts only narrow the records priced against a suggestion.
	paid := FilterPaid(in.Payments)
	sum.Unpaid = len(in.Payments) - len(paid)
	sum.Reconciled = len(paid)

	records, filtered := opts.Filter.Apply(paid)
	sum.Filtered = filtered

	special := make(map[FacilityKey]int)
	var specialOrder []FacilityKey
	ranked := records[:0:0]
	for _, rec := range records {
		if dir.IsExcluded(rec.Facility) {
			fk := FacilityKeyOf(rec.Facility)
			if special[fk] == 0 {
				specialOrder = append(specialOrder, fk)
			}
			special[fk]++
			continue
		}
		ranked = append(ranked, rec)
	}
	for _, fk := range specialOrder {
		sum.SkippedSpecial += special[fk]
		report.Caveats = append(report.Caveats, Caveat{
			Kind:     CaveatExcluded,
			Severity: SeverityInfo,
			Facility: fk,
			Message:  fmt.Sprintf("%d record(s) of a special-contract facility not ranked", special[fk]),
		})
	}
	sum.Ranked = len(ranked)

	// Resolution
	demand := make([]DemandRecord, len(ranked))
	for i, p := range ranked {
		demand[i] = p.DemandRecord
	}
	points, resolution, caveats := NewResolver(dir).ResolveAll(demand)
	sum.Resolution = resolution
	report.Caveats = append(report.Caveats, caveats...)

	// Assignment and savings
	assignments, unassigned, err := NewAssigner(dir, opts.Workers).AssignAll(ctx, points, opts.K)
	if err != nil {
		return fmt.Errorf("failed to assign demand points: %w", err)
	}
	report.Assignments = assignments
	sum.UnassignedCount = unassigned

	savings, caveats, err := NewSavingsAnalyzer(dir, opts.Workers).Compare(ctx, ranked, points)
	if err != nil {
		return fmt.Errorf("failed to compare costs: %w", err)
	}
	report.Savings = savings
	report.Caveats = append(report.Caveats, caveats...)

	// Duplicates
	report.Annotations, report.Duplicates = DetectDuplicates(paid)
	sum.DuplicateGroups = len(report.Duplicates)

	// Itineraries
	itineraries, err := NewItineraryAggregator(dir, opts.Workers).AggregateAll(ctx, paid)
	if err != nil {
		return fmt.Errorf("failed to aggregate itineraries: %w", err)
	}
	report.Itineraries = itineraries
	for _, it := range itineraries {
		report.Caveats = append(report.Caveats, it.Caveats...)
	}

	// Diagnostics
	report.Capillarity = Capillarity(dir, paid, opts.NearbyRadiusKm)
	report.SameCity = SameCityPayments(dir, paid)
	minDays, maxDays := opts.RevisitMinDays, opts.RevisitMaxDays
	if minDays == 0 && maxDays == 0 {
		minDays, maxDays = DefaultRevisitMinDays, DefaultRevisitMaxDays
	}
	report.Revisits = DetectRevisits(paid, minDays, maxDays)

	r.totals(report, paid)

	for _, c := range report.Caveats {
		if c.Kind == CaveatTariffFallback {
			r.logger.Debug("tariff fallback", "run_id", report.ID, "order_id", c.OrderID,
				"facility", c.Facility, "city", c.City, "reason", strings.TrimPrefix(c.Message, "using great-circle distance: "))
		}
	}
	return nil
}

func (r *Reconciler) totals(report *Report, paid []PaymentRecord) {
	sum := &report.Summary
	sum.PaidTotal = Money(decimal.Zero)
	sum.SuggestedTotal = Money(decimal.Zero)
	sum.SavingsTotal = Money(decimal.Zero)
	sum.ExcessTotal = Money(decimal.Zero)
	sum.CorrectTotal = Money(decimal.Zero)
	sum.VarianceTotal = Money(decimal.Zero)

	for _, p := range paid {
		sum.PaidTotal = sum.PaidTotal.Add(p.Paid())
	}
	for _, s := range report.Savings {
		if s.SuggestedCost != nil {
			sum.SuggestedTotal = sum.SuggestedTotal.Add(s.SuggestedCost.Cost)
		}
		sum.SavingsTotal = sum.SavingsTotal.Add(s.Savings)
	}
	for _, g := range report.Duplicates {
		sum.ExcessTotal = sum.ExcessTotal.Add(g.Excess)
		sum.ZeroOut += len(g.Members) - 1
	}
	for _, it := range report.Itineraries {
		sum.CorrectTotal = sum.CorrectTotal.Add(it.CorrectCost)
		sum.VarianceTotal = sum.VarianceTotal.Add(it.Variance)
	}
}

// =============================================================================
// INPUT VALIDATION
// =============================================================================

func validateInput(in RunInput) error {
	if err := ValidateTariffs(in.Tariffs); err != nil {
		return err
	}
	return ValidatePayments(in.Payments)
}

// ValidateTariffs fails when a required field is empty on every row, or no
// row carries any fixed distance, rate or allowance.
func ValidateTariffs(rows []TariffRow) error {
	var hasFacility, hasCity, hasTerms bool
	for _, r := range rows {
		hasFacility = hasFacility || strings.TrimSpace(r.Facility) != ""
		hasCity = hasCity || strings.TrimSpace(r.City) != ""
		hasTerms = hasTerms || r.FixedKm.Valid || r.Rate.Valid || r.Allowance.Valid
	}

	var missing []string
	if !hasFacility {
		missing = append(missing, "facility")
	}
	if !hasCity {
		missing = append(missing, "city")
	}
	if !hasTerms {
		missing = append(missing, "fixed_km|rate|allowance")
	}
	if len(missing) > 0 {
		return &SchemaError{Table: "tariffs", Missing: missing}
	}
	return nil
}

// ValidatePayments fails when a required field is empty on every record. An
// empty table is valid.
func ValidatePayments(records []PaymentRecord) error {
	if len(records) == 0 {
		return nil
	}
	var hasFacility, hasCity, hasDate, hasTech bool
	for _, r := range records {
		hasFacility = hasFacility || strings.TrimSpace(r.Facility) != ""
		hasCity = hasCity || strings.TrimSpace(r.City) != ""
		hasDate = hasDate || !r.Date.IsZero()
		hasTech = hasTech || strings.TrimSpace(r.Technician) != ""
	}

	var missing []string
	if !hasFacility {
		missing = append(missing, "facility")
	}
	if !hasCity {
		missing = append(missing, "city")
	}
	if !hasDate {
		missing = append(missing, "date")
	}
	if !hasTech {
		missing = append(missing, "technician")
	}
	if len(missing) > 0 {
		return &SchemaError{Table: "payments", Missing: missing}
	}
	return nil
}

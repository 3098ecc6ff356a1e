package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/warp/tariff-engine/engine"
	"github.com/warp/tariff-engine/engine/store"
	"github.com/warp/tariff-engine/geo"
	"github.com/warp/tariff-engine/store/sqlite"
)

// =============================================================================
// run
// =============================================================================

func runReconcile(cmd *cobra.Command, args []string) error {
	tf, err := tableFactory()
	if err != nil {
		return err
	}
	tariffs, err := loadTariffs(tf)
	if err != nil {
		return err
	}
	payments, err := loadPayments(tf)
	if err != nil {
		return err
	}

	var runs engine.RunStore = store.NewMemory()
	if dbPath != "" {
		db, err := sqlite.New(dbPath)
		if err != nil {
			return err
		}
		defer db.Close()
		runs = db
	}

	opts := cfg.RunOptions()
	opts.K = k
	opts.Workers = workers
	opts.Directory.IncludeSpecial = includeSpecial

	in := engine.RunInput{Tariffs: tariffs, Payments: payments, Source: filepath.Base(paymentsFile)}
	report, err := engine.NewReconciler(runs, nil).Run(cmd.Context(), in, opts)
	if err != nil {
		return err
	}

	if outFile != "" {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode report: %w", err)
		}
		if err := os.WriteFile(outFile, data, 0o644); err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return writeJSON(out, report.Summary)
	}
	printSummary(out, report)
	return nil
}

func printSummary(out io.Writer, r *engine.Report) {
	s := r.Summary
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "run\t%s\n", r.ID)
	fmt.Fprintf(w, "tariff rows\t%d (%d facilities)\n", s.TariffRows, s.Facilities)
	fmt.Fprintf(w, "payments\t%d (unpaid %d, not ranked: filtered %d, special %d)\n", s.Payments, s.Unpaid, s.Filtered, s.SkippedSpecial)
	fmt.Fprintf(w, "reconciled\t%d (ranked %d)\n", s.Reconciled, s.Ranked)
	fmt.Fprintf(w, "resolution\texplicit %d, combined %d, city %d, unresolved %d\n",
		s.Resolution.Explicit, s.Resolution.Combined, s.Resolution.City, s.Resolution.Unresolved)
	fmt.Fprintf(w, "duplicate groups\t%d (zero-out %d, excess %s)\n", s.DuplicateGroups, s.ZeroOut, s.ExcessTotal.Rounded())
	fmt.Fprintf(w, "paid total\t%s\n", s.PaidTotal.Rounded())
	fmt.Fprintf(w, "suggested total\t%s\n", s.SuggestedTotal.Rounded())
	fmt.Fprintf(w, "potential savings\t%s\n", s.SavingsTotal.Rounded())
	fmt.Fprintf(w, "itinerary cost\t%s (variance %s)\n", s.CorrectTotal.Rounded(), s.VarianceTotal.Rounded())
	fmt.Fprintf(w, "unmapped visits\t%d\n", len(r.Capillarity))
	fmt.Fprintf(w, "same-city payments\t%d\n", len(r.SameCity))
	fmt.Fprintf(w, "weekly revisits\t%d\n", len(r.Revisits))
	for _, kind := range r.Caveats.Kinds() {
		fmt.Fprintf(w, "caveats %s\t%d\n", kind, s.Caveats[kind])
	}
	w.Flush()
}

// =============================================================================
// assign / nearby / cost
// =============================================================================

func demandPoint(dir *engine.Directory, id string) (engine.DemandPoint, error) {
	p := engine.NewResolver(dir).Resolve(engine.DemandRecord{OrderID: id, City: city, Latitude: lat, Longitude: lon})
	if !p.Resolved() {
		return p, fmt.Errorf("%w: city %q and coordinates (%q, %q)", engine.ErrUnresolvedPoint, city, lat, lon)
	}
	return p, nil
}

func runAssign(cmd *cobra.Command, args []string) error {
	dir, err := loadDirectory()
	if err != nil {
		return err
	}
	p, err := demandPoint(dir, "")
	if err != nil {
		return err
	}
	as, err := engine.NewAssigner(dir, 1).NearestK(p, k)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return writeJSON(out, as)
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RANK\tFACILITY\tDISTANCE_KM")
	for _, c := range as.Candidates {
		fmt.Fprintf(w, "%d\t%s\t%.1f\n", c.Rank, c.Facility.Name, c.DistanceKm)
	}
	return w.Flush()
}

func runNearby(cmd *cobra.Command, args []string) error {
	dir, err := loadDirectory()
	if err != nil {
		return err
	}
	c, ok := geo.ParseCoordinate(lat, lon)
	if !ok {
		return fmt.Errorf("invalid coordinate (%q, %q)", lat, lon)
	}
	matches, err := dir.Nearby(c, radiusKm)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return writeJSON(out, matches)
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "FACILITY\tHOME_CITY\tDISTANCE_KM")
	for _, m := range matches {
		fmt.Fprintf(w, "%s\t%s\t%.1f\n", m.Facility.Name, m.Facility.HomeCity, m.DistanceKm)
	}
	return w.Flush()
}

func runCost(cmd *cobra.Command, args []string) error {
	dir, err := loadDirectory()
	if err != nil {
		return err
	}
	f, ok := dir.Facility(facility)
	if !ok {
		return fmt.Errorf("%w: %s", engine.ErrFacilityNotFound, facility)
	}
	p := engine.NewResolver(dir).Resolve(engine.DemandRecord{OrderID: orderID, City: city, Latitude: lat, Longitude: lon})
	res, err := engine.NewCostModel(dir).Evaluate(p, f)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return writeJSON(out, res)
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "facility\t%s\n", f.Name)
	fmt.Fprintf(w, "city\t%s\n", res.City)
	fmt.Fprintf(w, "one way km\t%s (%s)\n", res.OneWayKm.Rounded(), res.Source)
	fmt.Fprintf(w, "allowance km\t%s\n", res.Allowance.Rounded())
	fmt.Fprintf(w, "billable km\t%s\n", res.BillableKm.Rounded())
	fmt.Fprintf(w, "rate\t%s\n", res.Rate)
	fmt.Fprintf(w, "cost\t%s\n", res.Cost.Rounded())
	for _, c := range res.Warnings {
		fmt.Fprintf(w, "warning\t%s\n", c)
	}
	return w.Flush()
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

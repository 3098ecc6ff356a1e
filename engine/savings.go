package engine

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// SavingsRow compares what was paid for an order with the cost of the
// nearest facility.
type SavingsRow struct {
	OrderID             string      `json:"order_id"`
	City                CityKey     `json:"city"`
	Scheduled           FacilityKey `json:"scheduled"`
	ScheduledCost       *CostResult `json:"scheduled_cost,omitempty"`
	Suggested           FacilityKey `json:"suggested"`
	SuggestedDistanceKm float64     `json:"suggested_distance_km"`
	SuggestedCost       *CostResult `json:"suggested_cost,omitempty"`
	Paid                Amount      `json:"paid"`
	Savings             Amount      `json:"savings"`
	SameFacility        bool        `json:"same_facility"`
}

// SavingsAnalyzer prices the scheduled and the suggested facility of every
// paid order.
type SavingsAnalyzer struct {
	assigner *Assigner
	costs    *CostModel
	dir      *Directory
	workers  int
}

func NewSavingsAnalyzer(dir *Directory, workers int) *SavingsAnalyzer {
	return &SavingsAnalyzer{
		assigner: NewAssigner(dir, workers),
		costs:    NewCostModel(dir),
		dir:      dir,
		workers:  workers,
	}
}

// Compare evaluates records[i] at points[i]. Records with nothing paid, an
// unresolved point or no rankable facility produce no row. Savings is
// paid - suggested cost; the scheduled cost is informative only, the paid
// amount is what the business system released.
func (s *SavingsAnalyzer) Compare(ctx context.Context, records []PaymentRecord, points []DemandPoint) ([]SavingsRow, Caveats, error) {
	type slot struct {
		row     *SavingsRow
		caveats Caveats
	}
	slots := make([]slot, len(records))

	err := parallel(ctx, len(records), s.workers, func(_ context.Context, i int) error {
		rec, p := records[i], points[i]
		if !rec.Paid().IsPositive() || !p.Resolved() {
			return nil
		}
		as, err := s.assigner.NearestK(p, 1)
		if err != nil {
			return err
		}
		best, ok := as.Best()
		if !ok {
			return nil
		}

		row := &SavingsRow{
			OrderID:             rec.OrderID,
			City:                p.City,
			Scheduled:           FacilityKeyOf(rec.Facility),
			Suggested:           best.Facility.Key,
			SuggestedDistanceKm: best.DistanceKm,
			Paid:                rec.Paid(),
			Savings:             Money(decimal.Zero),
		}
		row.SameFacility = row.Scheduled == row.Suggested

		var caveats Caveats
		if sug, err := s.costs.Evaluate(p, best.Facility); err == nil {
			row.SuggestedCost = &sug
			row.Savings = row.Paid.Sub(sug.Cost)
			caveats = append(caveats, sug.Warnings...)
		} else if c, ok := distanceCaveat(rec.OrderID, err); ok {
			caveats = append(caveats, c)
		} else {
			return err
		}

		if f, ok := s.dir.Facility(rec.Facility); ok {
			if sch, err := s.costs.Evaluate(p, f); err == nil {
				row.ScheduledCost = &sch
				if !row.SameFacility {
					caveats = append(caveats, sch.Warnings...)
				}
			} else if c, ok := distanceCaveat(rec.OrderID, err); ok {
				caveats = append(caveats, c)
			} else {
				return err
			}
		}

		slots[i] = slot{row: row, caveats: caveats}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	var rows []SavingsRow
	var caveats Caveats
	for _, sl := range slots {
		if sl.row == nil {
			continue
		}
		rows = append(rows, *sl.row)
		caveats = append(caveats, sl.caveats...)
	}
	return rows, caveats, nil
}

func distanceCaveat(orderID string, err error) (Caveat, bool) {
	var de *DistanceUnavailableError
	if !errors.As(err, &de) {
		return Caveat{}, false
	}
	return Caveat{
		Kind:     CaveatDistanceUnavailable,
		Severity: SeverityWarning,
		OrderID:  orderID,
		Facility: de.Facility,
		City:     de.City,
		Message:  de.Error(),
	}, true
}

/*
assignment.go - Nearest-K facility ranking

PURPOSE:
  Ranks facilities by great-circle distance from a demand point and keeps
  the K nearest. Used to suggest a representative for new or rescheduled
  orders and as the "suggested" side of the savings comparison.

DETERMINISM:
  Ranking is a full scan in directory order followed by a stable sort, so
  equal distances keep directory insertion order (first inserted wins).
  The R-tree in the directory is deliberately not used here: its result
  order for equal distances is not the insertion order.

EXCLUSIONS:
  Facilities with no valid home coordinate are dropped, not ranked last.
  When fewer than K facilities qualify, all of them are returned with
  contiguous ranks from 1.

SEE ALSO:
  - directory.go: Facility iteration order
  - savings.go: Uses rank 1 as the suggested facility
*/
package engine

import (
	"context"
	"math"
	"sort"

	"github.com/warp/tariff-engine/geo"
)

// DefaultK is the number of candidates returned when the caller has no
// preference.
const DefaultK = 2

// Candidate is one ranked facility for a demand point.
type Candidate struct {
	Facility   Facility `json:"facility"`
	DistanceKm float64  `json:"distance_km"`
	Rank       int      `json:"rank"`
}

// Assignment is a demand point with its ranked candidates.
type Assignment struct {
	Point      DemandPoint `json:"point"`
	Candidates []Candidate `json:"candidates"`
}

// Best returns the rank 1 candidate.
func (a Assignment) Best() (Candidate, bool) {
	if len(a.Candidates) == 0 {
		return Candidate{}, false
	}
	return a.Candidates[0], true
}

// Assigner ranks facilities of one directory.
type Assigner struct {
	dir     *Directory
	workers int
}

// NewAssigner creates an assigner. workers < 1 means runtime.NumCPU().
func NewAssigner(dir *Directory, workers int) *Assigner {
	return &Assigner{dir: dir, workers: workers}
}

// NearestK returns the k nearest facilities to p.
func (a *Assigner) NearestK(p DemandPoint, k int) (Assignment, error) {
	if k < 1 {
		return Assignment{}, ErrInvalidK
	}
	if !p.Resolved() {
		return Assignment{Point: p}, ErrUnresolvedPoint
	}

	ranked := make([]Candidate, 0, a.dir.Len())
	for _, f := range a.dir.facilities {
		if f.Home == nil {
			continue
		}
		d := geo.Distance(*p.Coord, *f.Home)
		if math.IsInf(d, 0) || math.IsNaN(d) {
			continue
		}
		ranked = append(ranked, Candidate{Facility: f, DistanceKm: d})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].DistanceKm < ranked[j].DistanceKm
	})

	if len(ranked) > k {
		ranked = ranked[:k]
	}
	for i := range ranked {
		ranked[i].Rank = i + 1
	}
	return Assignment{Point: p, Candidates: ranked}, nil
}

// AssignAll ranks every resolved point on the worker pool. The result keeps
// input order and skips unresolved points; the second value is the number
// skipped.
func (a *Assigner) AssignAll(ctx context.Context, points []DemandPoint, k int) ([]Assignment, int, error) {
	if k < 1 {
		return nil, 0, ErrInvalidK
	}

	slots := make([]*Assignment, len(points))
	err := parallel(ctx, len(points), a.workers, func(_ context.Context, i int) error {
		if !points[i].Resolved() {
			return nil
		}
		as, err := a.NearestK(points[i], k)
		if err != nil {
			return err
		}
		slots[i] = &as
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	out := make([]Assignment, 0, len(points))
	skipped := 0
	for _, s := range slots {
		if s == nil {
			skipped++
			continue
		}
		out = append(out, *s)
	}
	return out, skipped, nil
}

package engine

import (
	"strings"

	"github.com/warp/tariff-engine/geo"
)

// Origin tells which resolution step produced a point's coordinate.
type Origin string

const (
	OriginExplicit   Origin = "explicit"
	OriginCombined   Origin = "combined"
	OriginCity       Origin = "city"
	OriginUnresolved Origin = "unresolved"
)

// DemandPoint is a work order's location after resolution.
type DemandPoint struct {
	OrderID  string          `json:"order_id"`
	City     CityKey         `json:"city"`
	CityName string          `json:"city_name"`
	Coord    *geo.Coordinate `json:"coord,omitempty"`
	Origin   Origin          `json:"origin"`
}

// Resolved reports whether the point has a coordinate.
func (p DemandPoint) Resolved() bool {
	return p.Coord != nil
}

// ResolutionSummary counts points per origin.
type ResolutionSummary struct {
	Explicit   int `json:"explicit"`
	Combined   int `json:"combined"`
	City       int `json:"city"`
	Unresolved int `json:"unresolved"`
}

func (s *ResolutionSummary) add(o Origin) {
	switch o {
	case OriginExplicit:
		s.Explicit++
	case OriginCombined:
		s.Combined++
	case OriginCity:
		s.City++
	default:
		s.Unresolved++
	}
}

// Resolver turns demand records into points. The directory supplies the
// city coordinate fallback.
type Resolver struct {
	dir *Directory
}

func NewResolver(dir *Directory) *Resolver {
	return &Resolver{dir: dir}
}

// Resolve applies the chain explicit fields, combined field, city table.
// The first step that yields a valid coordinate wins.
func (r *Resolver) Resolve(rec DemandRecord) DemandPoint {
	p := DemandPoint{
		OrderID:  rec.OrderID,
		City:     CityKeyOf(rec.City),
		CityName: strings.TrimSpace(rec.City),
		Origin:   OriginUnresolved,
	}

	if c, ok := geo.ParseCoordinate(rec.Latitude, rec.Longitude); ok {
		p.Coord, p.Origin = c.Ptr(), OriginExplicit
		return p
	}
	if c, ok := geo.ParsePair(rec.LatLon); ok {
		p.Coord, p.Origin = c.Ptr(), OriginCombined
		return p
	}
	if r.dir != nil && p.City != "" {
		if c, ok := r.dir.CityCoordinate(p.City); ok {
			p.Coord, p.Origin = c.Ptr(), OriginCity
			return p
		}
	}
	return p
}

// ResolveAll resolves every record in order. Unresolved points stay in the
// output and each one produces a resolution_failure caveat.
func (r *Resolver) ResolveAll(recs []DemandRecord) ([]DemandPoint, ResolutionSummary, Caveats) {
	points := make([]DemandPoint, len(recs))
	var summary ResolutionSummary
	var caveats Caveats

	for i, rec := range recs {
		p := r.Resolve(rec)
		points[i] = p
		summary.add(p.Origin)
		if !p.Resolved() {
			caveats = append(caveats, Caveat{
				Kind:     CaveatResolutionFailure,
				Severity: SeverityWarning,
				OrderID:  p.OrderID,
				City:     p.City,
				Message:  "no usable coordinates and city not in tariff table",
			})
		}
	}
	return points, summary, caveats
}

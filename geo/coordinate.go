/*
Package geo provides coordinates, great-circle distance and a spatial index.

PURPOSE:
  Leaf utilities used by the reconciliation engine. Everything here is a
  pure function over immutable values, except Index which is built once and
  then only read.

KEY CONCEPTS:
  - Coordinate: latitude/longitude pair in degrees
  - Distance:   haversine great-circle distance in kilometres
  - Index:      R-tree over named points for radius queries

PARSING:
  Raw spreadsheet values arrive as strings. Every parse returns (value, ok)
  so callers branch explicitly on failure instead of recovering from panics
  or sentinel zero values.

SEE ALSO:
  - distance.go: Haversine
  - index.go: R-tree radius search
*/
package geo

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Coordinate is a (latitude, longitude) pair in degrees.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// NewCoordinate validates ranges and returns a coordinate.
func NewCoordinate(lat, lon float64) (Coordinate, error) {
	c := Coordinate{Lat: lat, Lon: lon}
	if !c.Valid() {
		return Coordinate{}, fmt.Errorf("invalid coordinate: %v,%v", lat, lon)
	}
	return c, nil
}

// Valid reports whether both components are finite and inside their ranges.
func (c Coordinate) Valid() bool {
	if math.IsNaN(c.Lat) || math.IsNaN(c.Lon) || math.IsInf(c.Lat, 0) || math.IsInf(c.Lon, 0) {
		return false
	}
	return c.Lat >= -90 && c.Lat <= 90 && c.Lon >= -180 && c.Lon <= 180
}

func (c Coordinate) String() string {
	return fmt.Sprintf("%.6f,%.6f", c.Lat, c.Lon)
}

// Ptr returns a pointer to a copy of c. Optional coordinates are *Coordinate.
func (c Coordinate) Ptr() *Coordinate {
	return &c
}

// =============================================================================
// PARSING
// =============================================================================

// ParseDegrees parses one coordinate component. A decimal comma is accepted
// when the value has no dot ("-23,55").
func ParseDegrees(s string) (float64, bool) {
	s = strings.Trim(strings.TrimSpace(s), `"'`)
	if s == "" {
		return 0, false
	}
	if !strings.Contains(s, ".") && strings.Count(s, ",") == 1 {
		s = strings.Replace(s, ",", ".", 1)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// ParseCoordinate parses separate latitude and longitude fields.
func ParseCoordinate(lat, lon string) (Coordinate, bool) {
	la, ok := ParseDegrees(lat)
	if !ok {
		return Coordinate{}, false
	}
	lo, ok := ParseDegrees(lon)
	if !ok {
		return Coordinate{}, false
	}
	c := Coordinate{Lat: la, Lon: lo}
	return c, c.Valid()
}

// ParsePair parses a combined "lat,lon" field. Quotes and whitespace around
// the value and around each half are ignored.
func ParsePair(s string) (Coordinate, bool) {
	s = strings.Trim(strings.TrimSpace(s), `"'`)
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return Coordinate{}, false
	}
	return ParseCoordinate(parts[0], parts[1])
}

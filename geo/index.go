package geo

import (
	"fmt"
	"math"
	"sort"

	"github.com/dhconnelly/rtreego"
)

const (
	tolerance   = 0.0001
	minChildren = 4
	maxChildren = 16
	dimensions  = 2
)

// Item is a named point stored in an Index. Seq is the insertion sequence
// and breaks distance ties.
type Item struct {
	ID    string
	Coord Coordinate
	Seq   int
}

// Match is an Item found by a radius query.
type Match struct {
	Item
	DistanceKm float64
}

type spatialItem struct {
	item Item
	rect *rtreego.Rect
}

func (si *spatialItem) Bounds() *rtreego.Rect {
	return si.rect
}

// Index is an R-tree over items. It is built once and then only read, so
// concurrent queries need no locking.
type Index struct {
	tree *rtreego.Rtree
	size int
}

// NewIndex builds an index. Items with invalid coordinates are skipped.
func NewIndex(items []Item) *Index {
	idx := &Index{tree: rtreego.NewTree(dimensions, minChildren, maxChildren)}
	for _, it := range items {
		if !it.Coord.Valid() {
			continue
		}
		p := rtreego.Point{it.Coord.Lat, it.Coord.Lon}
		idx.tree.Insert(&spatialItem{item: it, rect: p.ToRect(tolerance)})
		idx.size++
	}
	return idx
}

// Len returns the number of indexed items.
func (x *Index) Len() int {
	return x.size
}

// Radius returns every item within radiusKm of center, nearest first.
// Equal distances keep insertion order.
func (x *Index) Radius(center Coordinate, radiusKm float64) ([]Match, error) {
	if !center.Valid() {
		return nil, fmt.Errorf("invalid radius search center: %v", center)
	}
	if radiusKm <= 0 || x.size == 0 {
		return nil, nil
	}

	dLat := (radiusKm / EarthRadiusKm) * (180 / math.Pi)
	dLon := dLat / math.Max(math.Cos(center.Lat*math.Pi/180), 0.01)

	bounds, err := rtreego.NewRect(
		rtreego.Point{center.Lat - dLat, center.Lon - dLon},
		[]float64{2 * dLat, 2 * dLon},
	)
	if err != nil {
		return nil, fmt.Errorf("invalid radius search: %w", err)
	}

	var matches []Match
	for _, result := range x.tree.SearchIntersect(bounds) {
		si, ok := result.(*spatialItem)
		if !ok {
			continue
		}
		d := Distance(center, si.item.Coord)
		if d <= radiusKm {
			matches = append(matches, Match{Item: si.item, DistanceKm: d})
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].DistanceKm != matches[j].DistanceKm {
			return matches[i].DistanceKm < matches[j].DistanceKm
		}
		return matches[i].Seq < matches[j].Seq
	})
	return matches, nil
}

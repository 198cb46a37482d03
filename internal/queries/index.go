package queries

import (
	"math"

	"github.com/dhconnelly/rtreego"

	"github.com/banshee-data/geosynth/internal/geo"
)

// pointTol gives indexed points a non-zero extent in the tree.
const pointTol = 1e-12

type indexItem struct {
	rect  rtreego.Rect
	index int
}

func (item indexItem) Bounds() rtreego.Rect {
	return item.rect
}

// RangeIndex counts reference points inside lat/lon rectangles. It is
// read-only after construction and safe for concurrent use.
type RangeIndex struct {
	points []geo.LatLon
	tree   *rtreego.Rtree
}

// NewRangeIndex bulk-loads ref into an R-tree keyed on (lat, lon).
func NewRangeIndex(ref []geo.LatLon) *RangeIndex {
	items := make([]rtreego.Spatial, len(ref))
	for i, p := range ref {
		items[i] = indexItem{rect: rtreego.Point{p.Lat, p.Lon}.ToRect(pointTol), index: i}
	}
	return &RangeIndex{points: ref, tree: rtreego.NewTree(2, 25, 50, items...)}
}

// Len returns the number of indexed points.
func (x *RangeIndex) Len() int { return len(x.points) }

// Point returns the i-th indexed point.
func (x *RangeIndex) Point(i int) geo.LatLon { return x.points[i] }

// Count returns how many indexed points lie in the closed rectangle q.
func (x *RangeIndex) Count(q geo.RangeQuery) int {
	minLat, maxLat := math.Min(q.A.Lat, q.B.Lat), math.Max(q.A.Lat, q.B.Lat)
	minLon, maxLon := math.Min(q.A.Lon, q.B.Lon), math.Max(q.A.Lon, q.B.Lon)

	// Pad the search box so boundary points come back as candidates; the
	// exact test below decides.
	pad := 2 * pointTol
	search, err := rtreego.NewRectFromPoints(
		rtreego.Point{minLat - pad, minLon - pad},
		rtreego.Point{maxLat + pad, maxLon + pad},
	)
	if err != nil {
		return x.countLinear(q)
	}

	n := 0
	for _, obj := range x.tree.SearchIntersect(search) {
		if q.Contains(x.points[obj.(indexItem).index]) {
			n++
		}
	}
	return n
}

func (x *RangeIndex) countLinear(q geo.RangeQuery) int {
	n := 0
	for _, p := range x.points {
		if q.Contains(p) {
			n++
		}
	}
	return n
}

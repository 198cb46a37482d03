// Package geo holds the data model shared by every stage of dataset
// generation: geographic and planar coordinates, coordinate reference system
// descriptors, point clouds and benchmark query records.
package geo

import (
	"fmt"
	"math"
)

// LatLon is a WGS84 coordinate in degrees.
type LatLon struct {
	Lat float64
	Lon float64
}

// Valid reports whether the coordinate lies within the WGS84 domain.
func (p LatLon) Valid() bool {
	return !math.IsNaN(p.Lat) && !math.IsNaN(p.Lon) &&
		p.Lat >= -90 && p.Lat <= 90 && p.Lon >= -180 && p.Lon <= 180
}

// CoordDecimals is the number of decimals query files store per
// coordinate.
const CoordDecimals = 6

const coordScale = 1e6

// RoundCoord rounds v to CoordDecimals decimals. The result survives a
// text round trip at that precision unchanged.
func RoundCoord(v float64) float64 {
	return math.Round(v*coordScale) / coordScale
}

// FloorCoord returns the largest CoordDecimals-decimal value not above v.
func FloorCoord(v float64) float64 {
	k := math.Floor(v * coordScale)
	for k/coordScale > v {
		k--
	}
	return k / coordScale
}

// CeilCoord returns the smallest CoordDecimals-decimal value not below v.
func CeilCoord(v float64) float64 {
	k := math.Ceil(v * coordScale)
	for k/coordScale < v {
		k++
	}
	return k / coordScale
}

// RadiusDecimals is the number of decimals query files store per radius.
const RadiusDecimals = 2

// CeilRadius returns the smallest RadiusDecimals-decimal value not below r.
func CeilRadius(r float64) float64 {
	k := math.Ceil(r * 100)
	for k/100 < r {
		k++
	}
	return k / 100
}

// Rounded returns p with both coordinates rounded by RoundCoord.
func (p LatLon) Rounded() LatLon {
	return LatLon{Lat: RoundCoord(p.Lat), Lon: RoundCoord(p.Lon)}
}

// Planar is a coordinate in a projected CRS, in the CRS's linear unit
// (metres for every CRS used here). X is the CRS's first axis and Y its
// second, whatever their geographic orientation.
type Planar struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Sub returns p - q.
func (p Planar) Sub(q Planar) Planar { return Planar{X: p.X - q.X, Y: p.Y - q.Y} }

// Add returns p + q.
func (p Planar) Add(q Planar) Planar { return Planar{X: p.X + q.X, Y: p.Y + q.Y} }

// Scale returns p multiplied by s.
func (p Planar) Scale(s float64) Planar { return Planar{X: p.X * s, Y: p.Y * s} }

// Swap exchanges the two axes.
func (p Planar) Swap() Planar { return Planar{X: p.Y, Y: p.X} }

// Distance returns the Euclidean distance between p and q.
func (p Planar) Distance(q Planar) float64 {
	return math.Hypot(p.X-q.X, p.Y-q.Y)
}

// CRS describes a coordinate reference system by EPSG code. YIsEasting is
// set for projected systems whose first axis is northing, so the planar
// axes must be swapped before values are interpreted as (easting, northing).
type CRS struct {
	Code       int  `json:"code"`
	YIsEasting bool `json:"y_is_easting,omitempty"`
}

// WGS84 is the geographic CRS every point cloud is stored in.
var WGS84 = CRS{Code: 4326}

// String returns the authority identifier, e.g. "EPSG:32118".
func (c CRS) String() string {
	return fmt.Sprintf("EPSG:%d", c.Code)
}

// Cloud is an ordered point cloud in WGS84. Order carries no meaning but is
// preserved by every stage.
type Cloud []LatLon

// DistanceQuery matches every cloud point within Radius metres of Point.
type DistanceQuery struct {
	Point  LatLon
	Radius float64
}

// RangeQuery matches every cloud point inside the axis-aligned rectangle
// spanned by corners A and B.
type RangeQuery struct {
	A LatLon
	B LatLon
}

// Contains reports whether p lies inside the closed rectangle.
func (q RangeQuery) Contains(p LatLon) bool {
	minLat, maxLat := math.Min(q.A.Lat, q.B.Lat), math.Max(q.A.Lat, q.B.Lat)
	minLon, maxLon := math.Min(q.A.Lon, q.B.Lon), math.Max(q.A.Lon, q.B.Lon)
	return p.Lat >= minLat && p.Lat <= maxLat && p.Lon >= minLon && p.Lon <= maxLon
}

// Package roads samples candidate points along a road network.
package roads

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand/v2"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/banshee-data/geosynth/internal/fsutil"
	"github.com/banshee-data/geosynth/internal/geo"
	"github.com/banshee-data/geosynth/internal/projection"
)

// ErrNoRoads is returned when no road segment lies near the requested
// centre.
var ErrNoRoads = errors.New("no road segments within radius")

// Sampler returns n points spread uniformly along the roads within radius
// metres of center, projected into crs.
type Sampler interface {
	Sample(ctx context.Context, center geo.LatLon, radius float64, n int, crs geo.CRS, rng *rand.Rand) ([]geo.Planar, error)
}

// NetworkSampler samples a road network held as WGS84 line strings.
type NetworkSampler struct {
	Lines []orb.LineString
	Proj  projection.Projector
}

var _ Sampler = (*NetworkSampler)(nil)

// ParseGeoJSON extracts every LineString and MultiLineString from a
// GeoJSON FeatureCollection. Other geometry types are ignored.
func ParseGeoJSON(data []byte) ([]orb.LineString, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("parse road network: %w", err)
	}
	var lines []orb.LineString
	for _, f := range fc.Features {
		switch g := f.Geometry.(type) {
		case orb.LineString:
			lines = append(lines, g)
		case orb.MultiLineString:
			lines = append(lines, g...)
		}
	}
	return lines, nil
}

// LoadNetwork reads a GeoJSON road network from fsys.
func LoadNetwork(fsys fsutil.FileSystem, path string, proj projection.Projector) (*NetworkSampler, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open road network: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read road network %s: %w", path, err)
	}
	lines, err := ParseGeoJSON(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &NetworkSampler{Lines: lines, Proj: proj}, nil
}

type segment struct {
	a, b orb.Point
}

// segments projects the network into crs and keeps the segments passing
// within radius of c.
func (s *NetworkSampler) segments(ctx context.Context, c orb.Point, radius float64, crs geo.CRS) ([]segment, []float64, error) {
	var segs []segment
	var lengths []float64
	for _, line := range s.Lines {
		if len(line) < 2 {
			continue
		}
		pts := make([]geo.LatLon, len(line))
		for i, p := range line {
			pts[i] = geo.LatLon{Lat: p.Lat(), Lon: p.Lon()}
		}
		pl, err := s.Proj.ToPlanar(ctx, pts, crs)
		if err != nil {
			return nil, nil, fmt.Errorf("project road network to %s: %w", crs, err)
		}
		projected := make(orb.LineString, len(pl))
		for i, p := range pl {
			projected[i] = orb.Point{p.X, p.Y}
		}
		if !projected.Bound().Pad(radius).Contains(c) {
			continue
		}
		for i := 1; i < len(projected); i++ {
			a, b := projected[i-1], projected[i]
			if planar.DistanceFromSegment(a, b, c) > radius {
				continue
			}
			if l := planar.Distance(a, b); l > 0 {
				segs = append(segs, segment{a: a, b: b})
				lengths = append(lengths, l)
			}
		}
	}
	return segs, lengths, nil
}

// Sample picks segments with probability proportional to their length and
// a uniform position along each.
func (s *NetworkSampler) Sample(ctx context.Context, center geo.LatLon, radius float64, n int, crs geo.CRS, rng *rand.Rand) ([]geo.Planar, error) {
	if n < 0 {
		return nil, fmt.Errorf("roads: negative point count %d", n)
	}
	cp, err := projection.ProjectOne(ctx, s.Proj, center, crs)
	if err != nil {
		return nil, fmt.Errorf("project centre to %s: %w", crs, err)
	}
	c := orb.Point{cp.X, cp.Y}

	segs, lengths, err := s.segments(ctx, c, radius, crs)
	if err != nil {
		return nil, err
	}
	if len(segs) == 0 {
		return nil, fmt.Errorf("%w: %.0f m around %v", ErrNoRoads, radius, center)
	}

	choose := distuv.NewCategorical(lengths, rng)
	out := make([]geo.Planar, n)
	for i := range out {
		seg := segs[int(choose.Rand())]
		t := rng.Float64()
		out[i] = geo.Planar{
			X: seg.a[0] + t*(seg.b[0]-seg.a[0]),
			Y: seg.a[1] + t*(seg.b[1]-seg.a[1]),
		}
	}
	return out, nil
}

// Grid returns a synthetic street grid of lines every spacing degrees
// within halfWidth degrees of center, with a vertex at every crossing.
// Regions without a road-network file sample from it.
func Grid(center geo.LatLon, halfWidth, spacing float64) []orb.LineString {
	if !(halfWidth > 0) || !(spacing > 0) {
		return nil
	}
	steps := int(math.Floor(2*halfWidth/spacing + 1e-9))
	offsets := make([]float64, steps+1)
	for i := range offsets {
		offsets[i] = -halfWidth + float64(i)*spacing
	}

	lines := make([]orb.LineString, 0, 2*len(offsets))
	for _, off := range offsets {
		row := make(orb.LineString, len(offsets))
		col := make(orb.LineString, len(offsets))
		for i, o := range offsets {
			row[i] = orb.Point{center.Lon + o, center.Lat + off}
			col[i] = orb.Point{center.Lon + off, center.Lat + o}
		}
		lines = append(lines, row, col)
	}
	return lines
}

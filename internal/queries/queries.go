// Package queries generates benchmark query workloads whose result sizes
// hit a requested selectivity against a reference point set.
package queries

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"

	"github.com/banshee-data/geosynth/internal/batch"
	"github.com/banshee-data/geosynth/internal/geo"
	"github.com/banshee-data/geosynth/internal/projection"
)

var (
	// ErrEmptyReference is returned when queries are requested against an
	// empty reference set.
	ErrEmptyReference = errors.New("empty reference set")

	// ErrNoConvergence is returned when a range search exceeds its
	// iteration bound.
	ErrNoConvergence = errors.New("range search did not converge")
)

// TargetCount returns the number of reference points a query of the given
// selectivity must match: ceil(selectivity*m), at least 1 and at most m.
func TargetCount(selectivity float64, m int) (int, error) {
	if m <= 0 {
		return 0, ErrEmptyReference
	}
	if !(selectivity > 0 && selectivity <= 1) {
		return 0, fmt.Errorf("selectivity %v out of range (0, 1]", selectivity)
	}
	n := int(math.Ceil(selectivity * float64(m)))
	return min(max(n, 1), m), nil
}

// NthDistance returns the n-th smallest (1-based) Euclidean distance from q
// to the points of ref. n is clamped to [1, len(ref)].
func NthDistance(ref []geo.Planar, q geo.Planar, n int) float64 {
	if len(ref) == 0 {
		return math.NaN()
	}
	d := make([]float64, len(ref))
	for i, p := range ref {
		d[i] = p.Distance(q)
	}
	slices.Sort(d)
	return d[min(max(n, 1), len(d))-1]
}

// querySeeds draws one seed per query from the master seed so each query
// sees the same random stream however the work is scheduled.
func querySeeds(seed uint64, count int) []uint64 {
	master := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	seeds := make([]uint64, count)
	for i := range seeds {
		seeds[i] = master.Uint64()
	}
	return seeds
}

func queryRand(seeds []uint64, i int) *rand.Rand {
	return rand.New(rand.NewPCG(seeds[i], uint64(i)))
}

// DistanceGenerator builds distance queries around reference members.
// Reference and Planar are parallel: Planar[i] is Reference[i] in a metric
// CRS, and radii are in that CRS's unit. Centers[i] is Reference[i] rounded
// to the stored precision, in the same CRS.
type DistanceGenerator struct {
	Reference []geo.LatLon
	Planar    []geo.Planar
	Centers   []geo.Planar
	Executor  batch.Executor
}

// NewDistanceGenerator projects ref into crs.
func NewDistanceGenerator(ctx context.Context, proj projection.Projector, ref []geo.LatLon, crs geo.CRS, exec batch.Executor) (*DistanceGenerator, error) {
	if len(ref) == 0 {
		return nil, ErrEmptyReference
	}
	planar, err := proj.ToPlanar(ctx, ref, crs)
	if err != nil {
		return nil, fmt.Errorf("project reference to %s: %w", crs, err)
	}
	rounded := make([]geo.LatLon, len(ref))
	for i, p := range ref {
		rounded[i] = p.Rounded()
	}
	centers, err := proj.ToPlanar(ctx, rounded, crs)
	if err != nil {
		return nil, fmt.Errorf("project reference to %s: %w", crs, err)
	}
	return &DistanceGenerator{Reference: ref, Planar: planar, Centers: centers, Executor: exec}, nil
}

// Generate returns count queries each holding at least ceil(selectivity*M)
// reference points, with fewer than that closer than Radius-0.01. Points
// and radii are already at the precision query files store, so a query
// read back from disk holds the same points.
func (g *DistanceGenerator) Generate(ctx context.Context, count int, selectivity float64, seed uint64) ([]geo.DistanceQuery, error) {
	if len(g.Planar) != len(g.Reference) || len(g.Centers) != len(g.Reference) {
		return nil, fmt.Errorf("reference has %d points but %d projected", len(g.Reference), len(g.Planar))
	}
	n, err := TargetCount(selectivity, len(g.Reference))
	if err != nil {
		return nil, err
	}
	seeds := querySeeds(seed, count)
	return batch.Each(ctx, g.Executor, count, func(_ context.Context, i int) (geo.DistanceQuery, error) {
		j := queryRand(seeds, i).IntN(len(g.Reference))
		return geo.DistanceQuery{
			Point:  g.Reference[j].Rounded(),
			Radius: geo.CeilRadius(NthDistance(g.Planar, g.Centers[j], n)),
		}, nil
	})
}

// RangeSearch grows a square rectangle, in degrees, around a centre until
// it holds a target number of reference points.
type RangeSearch struct {
	Step          float64 // degrees
	MaxIterations int
}

// DefaultRangeSearch is the search used when none is configured.
var DefaultRangeSearch = RangeSearch{Step: 1e-6, MaxIterations: 200}

func (s RangeSearch) withDefaults() RangeSearch {
	if !(s.Step > 0) {
		s.Step = DefaultRangeSearch.Step
	}
	if s.MaxIterations <= 0 {
		s.MaxIterations = DefaultRangeSearch.MaxIterations
	}
	return s
}

// Square returns the rectangle centred on c with half-width h degrees,
// clipped to the WGS84 domain. Corners are widened outwards to the stored
// coordinate precision, so the rectangle written to a query file holds
// exactly the points it holds in memory.
func Square(c geo.LatLon, h float64) geo.RangeQuery {
	return geo.RangeQuery{
		A: geo.LatLon{Lat: geo.FloorCoord(math.Max(c.Lat-h, -90)), Lon: geo.FloorCoord(math.Max(c.Lon-h, -180))},
		B: geo.LatLon{Lat: geo.CeilCoord(math.Min(c.Lat+h, 90)), Lon: geo.CeilCoord(math.Min(c.Lon+h, 180))},
	}
}

// Find returns the smallest half-width, to within Step, whose square
// around c contains at least n points of idx, together with that square.
// The half-width doubles from Step until the target is reached and is then
// bisected, so the square one Step narrower holds fewer than n points.
func (s RangeSearch) Find(idx *RangeIndex, c geo.LatLon, n int) (geo.RangeQuery, float64, error) {
	s = s.withDefaults()
	if idx.Len() == 0 {
		return geo.RangeQuery{}, 0, ErrEmptyReference
	}
	if n > idx.Len() {
		return geo.RangeQuery{}, 0, fmt.Errorf("target %d exceeds reference size %d", n, idx.Len())
	}
	if idx.Count(Square(c, 0)) >= n {
		return Square(c, 0), 0, nil
	}

	iter := 0
	lo, hi := 0.0, s.Step
	for idx.Count(Square(c, hi)) < n {
		if iter++; iter >= s.MaxIterations {
			return geo.RangeQuery{}, 0, fmt.Errorf("%w: growing around %v after %d iterations", ErrNoConvergence, c, iter)
		}
		lo, hi = hi, hi*2
	}
	for hi-lo > s.Step {
		if iter++; iter >= s.MaxIterations {
			return geo.RangeQuery{}, 0, fmt.Errorf("%w: bisecting around %v after %d iterations", ErrNoConvergence, c, iter)
		}
		mid := lo + (hi-lo)/2
		if idx.Count(Square(c, mid)) >= n {
			hi = mid
		} else {
			lo = mid
		}
	}
	return Square(c, hi), hi, nil
}

// RangeGenerator builds range queries around reference members.
type RangeGenerator struct {
	Index    *RangeIndex
	Search   RangeSearch
	Executor batch.Executor
}

// Generate returns count rectangles each holding at least
// ceil(selectivity*M) reference points.
func (g *RangeGenerator) Generate(ctx context.Context, count int, selectivity float64, seed uint64) ([]geo.RangeQuery, error) {
	n, err := TargetCount(selectivity, g.Index.Len())
	if err != nil {
		return nil, err
	}
	seeds := querySeeds(seed, count)
	return batch.Each(ctx, g.Executor, count, func(_ context.Context, i int) (geo.RangeQuery, error) {
		c := g.Index.Point(queryRand(seeds, i).IntN(g.Index.Len()))
		q, _, err := g.Search.Find(g.Index, c, n)
		return q, err
	})
}

// Package resample turns raw road-network samples into a point cloud whose
// density falls off smoothly with distance from a city centre.
package resample

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/banshee-data/geosynth/internal/geo"
)

// ErrEmpty is returned when points are requested from an empty sample.
var ErrEmpty = errors.New("no sample points to resample from")

// Falloff constants for w = 1 - tanh(Steepness*d - Offset). The weight is
// near 2 at the centre, 1 at d = Offset/Steepness, and near 0 at d = 1.
const (
	Steepness = 10.0
	Offset    = 2.0
)

// Distances returns each point's Euclidean distance to center.
func Distances(points []geo.Planar, center geo.Planar) []float64 {
	d := make([]float64, len(points))
	for i, p := range points {
		d[i] = p.Distance(center)
	}
	return d
}

// Weights returns the normalised sampling probability of every point.
// Distances are scaled by the largest one; a sample where every point sits
// on the centre gets uniform weights.
func Weights(points []geo.Planar, center geo.Planar) []float64 {
	if len(points) == 0 {
		return nil
	}
	w := Distances(points, center)
	maxDist := floats.Max(w)
	for i, d := range w {
		norm := 0.0
		if maxDist > 0 {
			norm = d / maxDist
		}
		w[i] = 1 - math.Tanh(Steepness*norm-Offset)
	}

	sum := floats.Sum(w)
	if sum <= 0 || math.IsNaN(sum) || math.IsInf(sum, 0) {
		for i := range w {
			w[i] = 1 / float64(len(w))
		}
		return w
	}
	floats.Scale(1/sum, w)
	return w
}

// Sampler draws points with replacement from a fixed weighted sample.
// Building it costs one pass over the sample; each draw after that is
// cheap, so large clouds are drawn chunk by chunk from one Sampler.
type Sampler struct {
	points []geo.Planar
	dist   distuv.Categorical
}

// NewSampler weights points by proximity to center.
func NewSampler(points []geo.Planar, center geo.Planar, rng *rand.Rand) (*Sampler, error) {
	if len(points) == 0 {
		return nil, ErrEmpty
	}
	return &Sampler{points: points, dist: distuv.NewCategorical(Weights(points, center), rng)}, nil
}

// Draw returns n points. Duplicates are expected.
func (s *Sampler) Draw(n int) []geo.Planar {
	out := make([]geo.Planar, n)
	for i := range out {
		out[i] = s.points[int(s.dist.Rand())]
	}
	return out
}

// Resample draws n points with replacement from points, weighted by
// proximity to center.
func Resample(points []geo.Planar, center geo.Planar, n int, rng *rand.Rand) ([]geo.Planar, error) {
	if n < 0 {
		return nil, fmt.Errorf("resample: negative point count %d", n)
	}
	if n == 0 {
		return []geo.Planar{}, nil
	}
	s, err := NewSampler(points, center, rng)
	if err != nil {
		return nil, err
	}
	return s.Draw(n), nil
}

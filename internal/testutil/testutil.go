// Package testutil provides shared test fixtures for point clouds and
// query workloads.
package testutil

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/banshee-data/geosynth/internal/geo"
)

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// UniformCloud returns n points drawn uniformly from the square of
// half-width halfWidth degrees around center.
func UniformCloud(center geo.LatLon, halfWidth float64, n int, seed uint64) geo.Cloud {
	rng := rand.New(rand.NewPCG(seed, 0x5eed))
	out := make(geo.Cloud, n)
	for i := range out {
		out[i] = geo.LatLon{
			Lat: center.Lat + (2*rng.Float64()-1)*halfWidth,
			Lon: center.Lon + (2*rng.Float64()-1)*halfWidth,
		}
	}
	return out
}

// UnitGrid returns the four corners of the unit square.
func UnitGrid() []geo.Planar {
	return []geo.Planar{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 0, Y: 1}, {X: 1, Y: 1}}
}

// AssertCloudsInDelta fails the test unless got matches want point by point
// within tol degrees.
func AssertCloudsInDelta(t *testing.T, want, got []geo.LatLon, tol float64) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("cloud has %d points, want %d", len(got), len(want))
	}
	for i := range want {
		if math.Abs(got[i].Lat-want[i].Lat) > tol || math.Abs(got[i].Lon-want[i].Lon) > tol {
			t.Fatalf("point %d = %v, want %v within %g", i, got[i], want[i], tol)
		}
	}
}

// Package reposition moves a point cloud, and the queries written against
// it, from one geographic region to another while preserving its shape.
//
// Points are projected into a canonical planar CRS, centred on the source
// centroid, scaled, optionally axis-swapped, offset to the target centroid
// and inverse-projected from the target CRS. The parameters are computed
// once from a representative sample and frozen, so every chunk of a cloud
// and every query file share one transform.
package reposition

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/geosynth/internal/batch"
	"github.com/banshee-data/geosynth/internal/config"
	"github.com/banshee-data/geosynth/internal/fsutil"
	"github.com/banshee-data/geosynth/internal/geo"
	"github.com/banshee-data/geosynth/internal/pointio"
	"github.com/banshee-data/geosynth/internal/projection"
)

var (
	// ErrEmptySample is returned when transform parameters are requested
	// from an empty sample.
	ErrEmptySample = errors.New("empty sample")

	// ErrDegenerate is returned when a resize is requested but the sample
	// has zero radius or extent.
	ErrDegenerate = errors.New("degenerate sample")
)

// Params is the frozen transform from a source cloud to a target region.
// The target CRS carries the axis-swap flag.
type Params struct {
	CanonicalCRS   geo.CRS    `json:"canonical_crs"`
	TargetCRS      geo.CRS    `json:"target_crs"`
	SourceCentroid geo.Planar `json:"source_centroid"`
	TargetCentroid geo.Planar `json:"target_centroid"`
	Scale          float64    `json:"scale"`
}

// Validate checks that p describes a usable transform.
func (p Params) Validate() error {
	if p.CanonicalCRS.Code <= 0 || p.TargetCRS.Code <= 0 {
		return fmt.Errorf("%w: canonical %s target %s", projection.ErrUnsupportedCRS, p.CanonicalCRS, p.TargetCRS)
	}
	if !(p.Scale > 0) || math.IsInf(p.Scale, 0) {
		return fmt.Errorf("%w: scale %v", ErrDegenerate, p.Scale)
	}
	return nil
}

// Apply maps a canonical-CRS coordinate to the target CRS's planar space.
func (p Params) Apply(pt geo.Planar) geo.Planar {
	off := pt.Sub(p.SourceCentroid).Scale(p.Scale)
	if p.TargetCRS.YIsEasting {
		off = off.Swap()
	}
	return off.Add(p.TargetCentroid)
}

// ComputeParams derives the transform for moving the cloud represented by
// sample into region.
func ComputeParams(ctx context.Context, proj projection.Projector, sample []geo.LatLon, region config.RegionProfile) (Params, error) {
	if len(sample) == 0 {
		return Params{}, ErrEmptySample
	}

	p := Params{
		CanonicalCRS: region.Canonical(),
		TargetCRS:    region.TargetCRS(),
		Scale:        1,
	}

	planar, err := proj.ToPlanar(ctx, sample, p.CanonicalCRS)
	if err != nil {
		return Params{}, fmt.Errorf("project sample to %s: %w", p.CanonicalCRS, err)
	}
	xs := make([]float64, len(planar))
	ys := make([]float64, len(planar))
	for i, pt := range planar {
		xs[i], ys[i] = pt.X, pt.Y
	}
	p.SourceCentroid = geo.Planar{X: stat.Mean(xs, nil), Y: stat.Mean(ys, nil)}

	switch region.ScaleMode() {
	case config.ScaleRadius:
		maxDist := 0.0
		for _, pt := range planar {
			maxDist = math.Max(maxDist, pt.Distance(p.SourceCentroid))
		}
		if maxDist == 0 {
			return Params{}, fmt.Errorf("%w: region %s: sample radius is zero", ErrDegenerate, region.Name)
		}
		p.Scale = region.GetRadius() / maxDist
	case config.ScaleSize:
		extent := math.Max(floats.Max(xs)-floats.Min(xs), floats.Max(ys)-floats.Min(ys))
		if extent == 0 {
			return Params{}, fmt.Errorf("%w: region %s: sample extent is zero", ErrDegenerate, region.Name)
		}
		p.Scale = region.GetSize() / extent
	}

	p.TargetCentroid, err = projection.ProjectOne(ctx, proj, region.CenterLatLon(), p.TargetCRS)
	if err != nil {
		return Params{}, fmt.Errorf("project centre of %s to %s: %w", region.Name, p.TargetCRS, err)
	}
	return p, p.Validate()
}

// Transformer applies frozen Params to batches of points.
type Transformer struct {
	Proj     projection.Projector
	Params   Params
	Executor batch.Executor
}

// Transform repositions pts, preserving order.
func (t *Transformer) Transform(ctx context.Context, pts []geo.LatLon) ([]geo.LatLon, error) {
	if err := t.Params.Validate(); err != nil {
		return nil, err
	}
	return batch.Map(ctx, t.Executor, pts, t.transformBatch)
}

func (t *Transformer) transformBatch(ctx context.Context, pts []geo.LatLon) ([]geo.LatLon, error) {
	planar, err := t.Proj.ToPlanar(ctx, pts, t.Params.CanonicalCRS)
	if err != nil {
		return nil, fmt.Errorf("project to %s: %w", t.Params.CanonicalCRS, err)
	}
	for i, pt := range planar {
		planar[i] = t.Params.Apply(pt)
	}
	out, err := t.Proj.ToGeographic(ctx, planar, t.Params.TargetCRS)
	if err != nil {
		return nil, fmt.Errorf("inverse project from %s: %w", t.Params.TargetCRS, err)
	}
	return out, nil
}

// TransformDistanceQueries moves query points like cloud points and scales
// their radii.
func (t *Transformer) TransformDistanceQueries(ctx context.Context, qs []geo.DistanceQuery) ([]geo.DistanceQuery, error) {
	pts := make([]geo.LatLon, len(qs))
	for i, q := range qs {
		pts[i] = q.Point
	}
	moved, err := t.Transform(ctx, pts)
	if err != nil {
		return nil, err
	}
	out := make([]geo.DistanceQuery, len(qs))
	for i, q := range qs {
		out[i] = geo.DistanceQuery{Point: moved[i], Radius: q.Radius * t.Params.Scale}
	}
	return out, nil
}

// TransformRangeQueries moves both corners of every rectangle.
func (t *Transformer) TransformRangeQueries(ctx context.Context, qs []geo.RangeQuery) ([]geo.RangeQuery, error) {
	pts := make([]geo.LatLon, 0, 2*len(qs))
	for _, q := range qs {
		pts = append(pts, q.A, q.B)
	}
	moved, err := t.Transform(ctx, pts)
	if err != nil {
		return nil, err
	}
	out := make([]geo.RangeQuery, len(qs))
	for i := range qs {
		out[i] = geo.RangeQuery{A: moved[2*i], B: moved[2*i+1]}
	}
	return out, nil
}

// TransformCloudFile streams the cloud at src through the transformer in
// chunks of chunk points and writes the result to dst atomically. It
// returns the number of points written.
func (t *Transformer) TransformCloudFile(ctx context.Context, fsys fsutil.FileSystem, src, dst string, chunk int) (int64, error) {
	if err := t.Params.Validate(); err != nil {
		return 0, err
	}
	in, err := fsys.Open(src)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	out, err := pointio.CreateFile(fsys, dst)
	if err != nil {
		return 0, err
	}
	r := pointio.NewReader(in, chunk)
	for {
		pts, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			out.Abort()
			return 0, fmt.Errorf("read %s: %w", src, err)
		}
		moved, err := t.Transform(ctx, pts)
		if err != nil {
			out.Abort()
			return 0, fmt.Errorf("transform %s: %w", src, err)
		}
		if err := out.Write(moved); err != nil {
			out.Abort()
			return 0, err
		}
	}
	n := out.Count()
	if err := out.Commit(); err != nil {
		return 0, err
	}
	return n, nil
}

package dataset

import (
	"context"
	"fmt"
	"math"

	"github.com/banshee-data/geosynth/internal/batch"
	"github.com/banshee-data/geosynth/internal/catalog"
	"github.com/banshee-data/geosynth/internal/config"
	"github.com/banshee-data/geosynth/internal/geo"
	"github.com/banshee-data/geosynth/internal/monitoring"
	"github.com/banshee-data/geosynth/internal/pointio"
	"github.com/banshee-data/geosynth/internal/projection"
	"github.com/banshee-data/geosynth/internal/resample"
	"github.com/banshee-data/geosynth/internal/roads"
)

// metresPerDegree approximates one degree of latitude.
const metresPerDegree = 111_320.0

// roadSampler loads the region's road network, or a synthetic street grid
// covering the sampling radius when none is configured.
func (j *Job) roadSampler(region config.RegionProfile) (*roads.NetworkSampler, error) {
	if region.RoadNetwork != "" {
		return roads.LoadNetwork(j.FS, j.Config.Resolve(region.RoadNetwork), j.Proj)
	}
	monitoring.Logf("No road network for %s; sampling a synthetic street grid", region.Name)
	// Wide enough in longitude to cover the radius at the region's latitude.
	c := region.CenterLatLon()
	half := j.Config.GetNetworkRadius() / (metresPerDegree * math.Max(math.Cos(c.Lat*math.Pi/180), 0.1))
	return &roads.NetworkSampler{
		Lines: roads.Grid(c, half, half/20),
		Proj:  j.Proj,
	}, nil
}

// Generate writes one cloud per configured size for region: candidate
// points are sampled along the road network, resampled towards the centre
// and stored in WGS84. Sizes whose file already exists are skipped.
func (j *Job) Generate(ctx context.Context, region config.RegionProfile) ([]string, error) {
	crs := region.TargetCRS()
	if err := j.validateCRS(ctx, crs); err != nil {
		return nil, fmt.Errorf("generate %s: %w", region.Name, err)
	}

	sizes := j.Config.GetPoints()
	paths := make([]string, len(sizes))
	var pending []int
	for i, n := range sizes {
		p, err := j.outputPath(CloudName(region.Name, n))
		if err != nil {
			return nil, err
		}
		paths[i] = p
		if !j.skip(p) {
			pending = append(pending, i)
		}
	}
	if len(pending) == 0 {
		return paths, nil
	}

	sampler, err := j.roadSampler(region)
	if err != nil {
		return nil, fmt.Errorf("generate %s: %w", region.Name, err)
	}
	raw, err := sampler.Sample(ctx, region.CenterLatLon(), j.Config.GetNetworkRadius(),
		j.Config.GetNetworkSamples(), crs, j.stream("roads:"+region.Name))
	if err != nil {
		return nil, fmt.Errorf("generate %s: %w", region.Name, err)
	}
	center, err := projection.ProjectOne(ctx, j.Proj, region.CenterLatLon(), crs)
	if err != nil {
		return nil, fmt.Errorf("generate %s: %w", region.Name, err)
	}

	for _, i := range pending {
		if err := j.writeResampled(ctx, region.Name, paths[i], raw, center, sizes[i], crs); err != nil {
			return nil, fmt.Errorf("generate %s: %w", region.Name, err)
		}
	}
	return paths, nil
}

func (j *Job) writeResampled(ctx context.Context, region, path string, raw []geo.Planar, center geo.Planar, n int64, crs geo.CRS) error {
	sw := monitoring.Start(j.clock(), "Creating data file %s", path)

	s, err := resample.NewSampler(raw, center, j.stream(path))
	if err != nil {
		return err
	}
	fw, err := pointio.CreateFile(j.FS, path)
	if err != nil {
		return err
	}
	exec := j.executor()
	chunk := int64(j.Config.GetChunkSize())
	for done := int64(0); done < n; {
		k := min(n-done, chunk)
		pts, err := batch.Map(ctx, exec, s.Draw(int(k)), func(ctx context.Context, b []geo.Planar) ([]geo.LatLon, error) {
			return j.Proj.ToGeographic(ctx, b, crs)
		})
		if err != nil {
			fw.Abort()
			return fmt.Errorf("inverse project %s: %w", path, err)
		}
		if err := fw.Write(pts); err != nil {
			fw.Abort()
			return err
		}
		done += k
	}
	if err := fw.Commit(); err != nil {
		return err
	}

	if err := j.record(ctx, catalog.Dataset{
		Kind:   catalog.KindCloud,
		Path:   path,
		Region: region,
		Count:  n,
		Seed:   j.Config.GetSeed(),
	}); err != nil {
		return err
	}
	sw.Done()
	return nil
}

package dataset

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/banshee-data/geosynth/internal/catalog"
	"github.com/banshee-data/geosynth/internal/config"
	"github.com/banshee-data/geosynth/internal/monitoring"
	"github.com/banshee-data/geosynth/internal/pointio"
	"github.com/banshee-data/geosynth/internal/queries"
)

type queryOutput struct {
	kind        catalog.Kind
	path        string
	selectivity float64
	seed        uint64
}

// Queries writes one distance and one range workload per configured
// selectivity for the cloud at cloudPath. Both are built against a
// reservoir sample of the cloud; distances are measured in the region's
// target CRS.
func (j *Job) Queries(ctx context.Context, cloudPath string, region config.RegionProfile) ([]string, error) {
	crs := region.TargetCRS()
	if err := j.validateCRS(ctx, crs); err != nil {
		return nil, fmt.Errorf("queries %s: %w", region.Name, err)
	}

	base := strings.TrimSuffix(filepath.Base(cloudPath), filepath.Ext(cloudPath))
	var (
		paths   []string
		pending []queryOutput
	)
	for i, s := range j.Config.GetSelectivities() {
		seed := j.Config.GetSeed() + uint64(i)
		for _, kind := range []catalog.Kind{catalog.KindDistanceQueries, catalog.KindRangeQueries} {
			name := QueryName(base, "distance", s)
			if kind == catalog.KindRangeQueries {
				name = QueryName(base, "range", s)
			}
			p, err := j.outputPath(name)
			if err != nil {
				return nil, err
			}
			paths = append(paths, p)
			if !j.skip(p) {
				pending = append(pending, queryOutput{kind: kind, path: p, selectivity: s, seed: seed})
			}
		}
	}
	if len(pending) == 0 {
		return paths, nil
	}

	ref, err := j.reservoir(cloudPath, j.Config.GetReferenceSize())
	if err != nil {
		return nil, err
	}
	exec := j.executor()
	dist, err := queries.NewDistanceGenerator(ctx, j.Proj, ref, crs, exec)
	if err != nil {
		return nil, fmt.Errorf("queries %s: %w", region.Name, err)
	}
	rg := &queries.RangeGenerator{
		Index: queries.NewRangeIndex(ref),
		Search: queries.RangeSearch{
			Step:          j.Config.GetRangeStep(),
			MaxIterations: j.Config.GetRangeMaxIterations(),
		},
		Executor: exec,
	}

	count := j.Config.GetQueryCount()
	for _, o := range pending {
		sw := monitoring.Start(j.clock(), "Creating query file %s", o.path)
		switch o.kind {
		case catalog.KindDistanceQueries:
			qs, err := dist.Generate(ctx, count, o.selectivity, o.seed)
			if err != nil {
				return nil, fmt.Errorf("distance queries for %s: %w", cloudPath, err)
			}
			if err := pointio.WriteDistanceQueryFile(j.FS, o.path, qs); err != nil {
				return nil, err
			}
		case catalog.KindRangeQueries:
			qs, err := rg.Generate(ctx, count, o.selectivity, o.seed)
			if err != nil {
				return nil, fmt.Errorf("range queries for %s: %w", cloudPath, err)
			}
			if err := pointio.WriteRangeQueryFile(j.FS, o.path, qs); err != nil {
				return nil, err
			}
		}
		if err := j.record(ctx, catalog.Dataset{
			Kind:        o.kind,
			Path:        o.path,
			Region:      region.Name,
			Count:       int64(count),
			Seed:        o.seed,
			Selectivity: o.selectivity,
			Source:      cloudPath,
		}); err != nil {
			return nil, err
		}
		sw.Done()
	}
	return paths, nil
}

package dataset

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/banshee-data/geosynth/internal/catalog"
	"github.com/banshee-data/geosynth/internal/config"
	"github.com/banshee-data/geosynth/internal/monitoring"
	"github.com/banshee-data/geosynth/internal/pointio"
	"github.com/banshee-data/geosynth/internal/reposition"
)

// Transplant repositions the cloud at src onto region and writes it to
// the data dir. The parameters are derived from a reservoir sample of src
// and recorded with the output so query files can follow later.
func (j *Job) Transplant(ctx context.Context, src string, region config.RegionProfile) (string, error) {
	if err := j.validateCRS(ctx, region.Canonical(), region.TargetCRS()); err != nil {
		return "", fmt.Errorf("transplant %s: %w", region.Name, err)
	}
	n, err := pointio.Count(j.FS, src)
	if err != nil {
		return "", err
	}
	dst, err := j.outputPath(CloudName(region.Name, n))
	if err != nil {
		return "", err
	}
	if j.skip(dst) {
		return dst, nil
	}

	sample, err := j.reservoir(src, j.Config.GetSampleSize())
	if err != nil {
		return "", err
	}
	params, err := reposition.ComputeParams(ctx, j.Proj, sample, region)
	if err != nil {
		return "", fmt.Errorf("transplant %s: %w", region.Name, err)
	}
	monitoring.Logf("Repositioning %s onto %s with scale %.6g", src, region.Name, params.Scale)

	sw := monitoring.Start(j.clock(), "Creating data file %s", dst)
	t := &reposition.Transformer{Proj: j.Proj, Params: params, Executor: j.executor()}
	written, err := t.TransformCloudFile(ctx, j.FS, src, dst, j.Config.GetChunkSize())
	if err != nil {
		return "", fmt.Errorf("transplant %s: %w", region.Name, err)
	}
	if err := j.record(ctx, catalog.Dataset{
		Kind:   catalog.KindCloud,
		Path:   dst,
		Region: region.Name,
		Count:  written,
		Seed:   j.Config.GetSeed(),
		Params: &params,
		Source: src,
	}); err != nil {
		return "", err
	}
	sw.Done()
	return dst, nil
}

// paramsFor returns the parameters to reposition query files with. An
// explicit source cloud is sampled afresh; otherwise the catalog supplies
// the parameters of the region's latest transplant.
func (j *Job) paramsFor(ctx context.Context, sourceCloud string, region config.RegionProfile) (reposition.Params, error) {
	if sourceCloud != "" {
		sample, err := j.reservoir(sourceCloud, j.Config.GetSampleSize())
		if err != nil {
			return reposition.Params{}, err
		}
		return reposition.ComputeParams(ctx, j.Proj, sample, region)
	}
	if j.Catalog == nil {
		return reposition.Params{}, fmt.Errorf("%w for %s: no catalog and no source cloud", ErrNoParams, region.Name)
	}
	p, err := j.Catalog.LatestParams(ctx, region.Name)
	if errors.Is(err, catalog.ErrNotFound) {
		return reposition.Params{}, fmt.Errorf("%w for %s: transplant a cloud first", ErrNoParams, region.Name)
	}
	return p, err
}

// selectivityOf recovers the selectivity from a query file name, or 0.
func selectivityOf(path string) float64 {
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	i := strings.LastIndexByte(name, '_')
	if i < 0 {
		return 0
	}
	s, err := strconv.ParseFloat(name[i+1:], 64)
	if err != nil {
		return 0
	}
	return s
}

// RepositionQueries moves every distance and range query file in srcDir
// onto region, scaling distance radii, and writes them to the data dir
// prefixed with the region name.
func (j *Job) RepositionQueries(ctx context.Context, srcDir, sourceCloud string, region config.RegionProfile) ([]string, error) {
	if err := j.validateCRS(ctx, region.Canonical(), region.TargetCRS()); err != nil {
		return nil, fmt.Errorf("reposition queries %s: %w", region.Name, err)
	}
	distance, err := j.FS.Glob(filepath.Join(srcDir, "*_distance_*.csv"))
	if err != nil {
		return nil, err
	}
	ranges, err := j.FS.Glob(filepath.Join(srcDir, "*_range_*.csv"))
	if err != nil {
		return nil, err
	}
	if len(distance)+len(ranges) == 0 {
		return nil, fmt.Errorf("no query files in %s", srcDir)
	}

	params, err := j.paramsFor(ctx, sourceCloud, region)
	if err != nil {
		return nil, err
	}
	t := &reposition.Transformer{Proj: j.Proj, Params: params, Executor: j.executor()}

	var out []string
	for _, src := range distance {
		dst, err := j.repositionFile(ctx, t, src, region.Name, catalog.KindDistanceQueries, func(dst string) (int, error) {
			qs, err := pointio.ReadDistanceQueryFile(j.FS, src)
			if err != nil {
				return 0, err
			}
			moved, err := t.TransformDistanceQueries(ctx, qs)
			if err != nil {
				return 0, err
			}
			return len(moved), pointio.WriteDistanceQueryFile(j.FS, dst, moved)
		})
		if err != nil {
			return nil, err
		}
		out = append(out, dst)
	}
	for _, src := range ranges {
		dst, err := j.repositionFile(ctx, t, src, region.Name, catalog.KindRangeQueries, func(dst string) (int, error) {
			qs, err := pointio.ReadRangeQueryFile(j.FS, src)
			if err != nil {
				return 0, err
			}
			moved, err := t.TransformRangeQueries(ctx, qs)
			if err != nil {
				return 0, err
			}
			return len(moved), pointio.WriteRangeQueryFile(j.FS, dst, moved)
		})
		if err != nil {
			return nil, err
		}
		out = append(out, dst)
	}
	return out, nil
}

func (j *Job) repositionFile(ctx context.Context, t *reposition.Transformer, src, region string, kind catalog.Kind, write func(dst string) (int, error)) (string, error) {
	dst, err := j.outputPath(region + "-" + filepath.Base(src))
	if err != nil {
		return "", err
	}
	if j.skip(dst) {
		return dst, nil
	}
	sw := monitoring.Start(j.clock(), "Creating query file %s", dst)
	n, err := write(dst)
	if err != nil {
		return "", fmt.Errorf("reposition %s: %w", src, err)
	}
	if err := j.record(ctx, catalog.Dataset{
		Kind:        kind,
		Path:        dst,
		Region:      region,
		Count:       int64(n),
		Selectivity: selectivityOf(src),
		Params:      &t.Params,
		Source:      src,
	}); err != nil {
		return "", err
	}
	sw.Done()
	return dst, nil
}

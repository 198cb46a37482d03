// Package dataset runs the end-to-end generation jobs: sampling clouds
// from road networks, transplanting existing clouds into new regions,
// building query workloads and repositioning them.
package dataset

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand/v2"
	"strconv"
	"strings"

	"github.com/banshee-data/geosynth/internal/batch"
	"github.com/banshee-data/geosynth/internal/catalog"
	"github.com/banshee-data/geosynth/internal/config"
	"github.com/banshee-data/geosynth/internal/fsutil"
	"github.com/banshee-data/geosynth/internal/geo"
	"github.com/banshee-data/geosynth/internal/monitoring"
	"github.com/banshee-data/geosynth/internal/pointio"
	"github.com/banshee-data/geosynth/internal/projection"
	"github.com/banshee-data/geosynth/internal/security"
	"github.com/banshee-data/geosynth/internal/timeutil"
)

// ErrNoParams is returned when query files are to be repositioned but no
// transform parameters can be found or computed.
var ErrNoParams = errors.New("no repositioning parameters")

// Job holds what every generation step needs. Catalog may be nil, in which
// case nothing is recorded.
type Job struct {
	Config  *config.GenerationConfig
	FS      fsutil.FileSystem
	Proj    projection.Projector
	Catalog *catalog.Catalog
	Clock   timeutil.Clock

	// Force regenerates outputs that already exist.
	Force bool
}

// SizeLabel names a point count in millions with "_" for the decimal
// point: 250000 is "0_25m" and 25000000 is "25m".
func SizeLabel(n int64) string {
	m := strconv.FormatFloat(float64(n)/1e6, 'f', -1, 64)
	return strings.ReplaceAll(m, ".", "_") + "m"
}

// CloudName returns the file name of a region's cloud of n points.
func CloudName(region string, n int64) string {
	return fmt.Sprintf("%s-%s.bin", region, SizeLabel(n))
}

// QueryName returns the file name of a workload derived from the cloud
// named base. kind is "distance" or "range".
func QueryName(base, kind string, selectivity float64) string {
	return fmt.Sprintf("%s_%s_%s.csv", base, kind, strconv.FormatFloat(selectivity, 'g', -1, 64))
}

func (j *Job) executor() batch.Executor {
	return batch.Executor{
		Batches:  j.Config.GetBatches(),
		Workers:  j.Config.GetWorkers(),
		MinBatch: j.Config.GetMinBatchSize(),
	}
}

func (j *Job) clock() timeutil.Clock {
	if j.Clock == nil {
		return timeutil.RealClock{}
	}
	return j.Clock
}

// outputPath places name in the data dir.
func (j *Job) outputPath(name string) (string, error) {
	dir := j.Config.GetDataDir()
	if err := j.FS.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create data dir %s: %w", dir, err)
	}
	return security.OutputPath(dir, name)
}

// skip reports whether path already exists and should be left alone.
func (j *Job) skip(path string) bool {
	if j.Force || !j.FS.Exists(path) {
		return false
	}
	monitoring.Logf("Skipping %s: already exists", path)
	return true
}

func (j *Job) record(ctx context.Context, d catalog.Dataset) error {
	if j.Catalog == nil {
		return nil
	}
	if _, err := j.Catalog.Record(ctx, d); err != nil {
		return err
	}
	return nil
}

// validateCRS surfaces configuration mistakes before any file is touched.
func (j *Job) validateCRS(ctx context.Context, crss ...geo.CRS) error {
	for _, crs := range crss {
		if err := projection.Validate(ctx, j.Proj, crs); err != nil {
			return err
		}
	}
	return nil
}

// ValidateRegions checks every CRS the regions project through, before any
// file is written. withCanonical also checks each canonical CRS, which
// transplants and query repositioning go through.
func ValidateRegions(ctx context.Context, proj projection.Projector, regions []config.RegionProfile, withCanonical bool) error {
	for _, r := range regions {
		crss := []geo.CRS{r.TargetCRS()}
		if withCanonical {
			crss = append(crss, r.Canonical())
		}
		for _, crs := range crss {
			if err := projection.Validate(ctx, proj, crs); err != nil {
				return fmt.Errorf("region %s: %w", r.Name, err)
			}
		}
	}
	return nil
}

// stream returns a random source for one named stage, derived from the
// configured seed.
func (j *Job) stream(name string) *rand.Rand {
	h := fnv.New64a()
	h.Write([]byte(name))
	return rand.New(rand.NewPCG(j.Config.GetSeed(), h.Sum64()))
}

// reservoir draws a uniform sample of k points from the cloud at path.
func (j *Job) reservoir(path string, k int) ([]geo.LatLon, error) {
	f, err := j.FS.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	sample, total, err := pointio.ReservoirSample(pointio.NewReader(f, j.Config.GetChunkSize()), k, j.stream("sample:"+path))
	if err != nil {
		return nil, fmt.Errorf("sample %s: %w", path, err)
	}
	monitoring.Logf("Sampled %d of %d points from %s", len(sample), total, path)
	return sample, nil
}

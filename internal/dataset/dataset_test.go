package dataset

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/geosynth/internal/catalog"
	"github.com/banshee-data/geosynth/internal/config"
	"github.com/banshee-data/geosynth/internal/fsutil"
	"github.com/banshee-data/geosynth/internal/geo"
	"github.com/banshee-data/geosynth/internal/monitoring"
	"github.com/banshee-data/geosynth/internal/pointio"
	"github.com/banshee-data/geosynth/internal/projection"
	"github.com/banshee-data/geosynth/internal/reposition"
	"github.com/banshee-data/geosynth/internal/testutil"
	"github.com/banshee-data/geosynth/internal/timeutil"
)

var (
	nycCenter   = geo.LatLon{Lat: 40.747659, Lon: -73.986230}
	tokyoCenter = geo.LatLon{Lat: 35.681471, Lon: 139.765617}
)

func ptr[T any](v T) *T { return &v }

// logCapture collects progress lines for the duration of a test.
type logCapture struct {
	mu    sync.Mutex
	lines []string
}

func captureLogs(t *testing.T) *logCapture {
	t.Helper()
	c := &logCapture{}
	original := monitoring.Logf
	monitoring.SetLogger(func(format string, v ...interface{}) {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.lines = append(c.lines, fmt.Sprintf(format, v...))
	})
	t.Cleanup(func() { monitoring.Logf = original })
	return c
}

func (c *logCapture) contains(substr string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, l := range c.lines {
		if strings.Contains(l, substr) {
			return true
		}
	}
	return false
}

func testConfig(dataDir string) *config.GenerationConfig {
	return &config.GenerationConfig{
		DataDir:        ptr(dataDir),
		Points:         []int64{1000, 5000},
		NetworkRadius:  ptr(2000.0),
		NetworkSamples: ptr(2000),
		Seed:           ptr(uint64(7)),
		Workers:        ptr(2),
		Batches:        ptr(4),
		SampleSize:     ptr(5000),
		ReferenceSize:  ptr(500),
		QueryCount:     ptr(5),
		Selectivities:  []float64{0.01, 0.1},
	}
}

func mercatorRegion(t *testing.T, name string, center geo.LatLon, opts ...config.RegionOption) config.RegionProfile {
	t.Helper()
	opts = append(opts, config.WithCanonicalCRS(projection.WebMercator.Code))
	r, err := config.NewRegion(name, center, projection.WebMercator.Code, opts...)
	require.NoError(t, err)
	return r
}

func newJob(t *testing.T, cfg *config.GenerationConfig, fsys fsutil.FileSystem, cat *catalog.Catalog) *Job {
	t.Helper()
	return &Job{
		Config:  cfg,
		FS:      fsys,
		Proj:    projection.Mercator{},
		Catalog: cat,
		Clock:   timeutil.NewMockClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)),
	}
}

func openCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	c, err := catalog.Open(filepath.Join(t.TempDir(), "catalog.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func writeTaxiCloud(t *testing.T, fsys *fsutil.MemoryFileSystem, n int) string {
	t.Helper()
	require.NoError(t, fsys.MkdirAll("taxi", 0755))
	path := "taxi/taxi.bin"
	require.NoError(t, pointio.WriteFile(fsys, path, testutil.UniformCloud(nycCenter, 0.02, n, 11)))
	return path
}

func TestNaming(t *testing.T) {
	assert.Equal(t, "0_25m", SizeLabel(250_000))
	assert.Equal(t, "2_5m", SizeLabel(2_500_000))
	assert.Equal(t, "25m", SizeLabel(25_000_000))
	assert.Equal(t, "0_001m", SizeLabel(1000))
	assert.Equal(t, "nyc-25m.bin", CloudName("nyc", 25_000_000))
	assert.Equal(t, "nyc-25m_distance_0.001.csv", QueryName("nyc-25m", "distance", 0.001))
	assert.Equal(t, "nyc-25m_range_1e-05.csv", QueryName("nyc-25m", "range", 0.00001))

	assert.Equal(t, 0.01, selectivityOf("data/tokyo-taxi_distance_0.01.csv"))
	assert.Equal(t, 1e-05, selectivityOf("nyc-25m_range_1e-05.csv"))
	assert.Equal(t, 0.0, selectivityOf("notes.csv"))
}

func TestGenerateWritesEverySize(t *testing.T) {
	logs := captureLogs(t)
	ctx := context.Background()
	fsys := fsutil.NewMemoryFileSystem()
	cat := openCatalog(t)
	job := newJob(t, testConfig("data"), fsys, cat)
	region := mercatorRegion(t, "test", nycCenter)

	paths, err := job.Generate(ctx, region)
	require.NoError(t, err)
	assert.Equal(t, []string{"data/test-0_001m.bin", "data/test-0_005m.bin"}, paths)
	assert.False(t, fsys.HasTempFiles())
	assert.True(t, logs.contains("Creating data file data/test-0_005m.bin"))
	assert.True(t, logs.contains("synthetic street grid"))

	center, err := projection.ProjectOne(ctx, projection.Mercator{}, nycCenter, projection.WebMercator)
	require.NoError(t, err)
	for i, want := range []int64{1000, 5000} {
		cloud, err := pointio.ReadFile(fsys, paths[i])
		require.NoError(t, err)
		assert.Len(t, cloud, int(want))

		pl, err := projection.Mercator{}.ToPlanar(ctx, cloud, projection.WebMercator)
		require.NoError(t, err)
		for _, p := range pl {
			require.Less(t, p.Distance(center), 2500.0)
		}

		d, err := cat.Lookup(ctx, paths[i])
		require.NoError(t, err)
		assert.Equal(t, catalog.KindCloud, d.Kind)
		assert.Equal(t, want, d.Count)
		assert.Equal(t, "test", d.Region)
		assert.Nil(t, d.Params)
	}
}

func TestGenerateSkipsExistingUnlessForced(t *testing.T) {
	logs := captureLogs(t)
	ctx := context.Background()
	fsys := fsutil.NewMemoryFileSystem()
	cfg := testConfig("data")
	cfg.Points = []int64{1000}
	job := newJob(t, cfg, fsys, nil)
	region := mercatorRegion(t, "test", nycCenter)

	require.NoError(t, fsys.WriteFile("data/test-0_001m.bin", nil))
	paths, err := job.Generate(ctx, region)
	require.NoError(t, err)
	assert.Equal(t, []string{"data/test-0_001m.bin"}, paths)
	assert.Empty(t, fsys.Bytes("data/test-0_001m.bin"))
	assert.True(t, logs.contains("Skipping data/test-0_001m.bin"))

	job.Force = true
	_, err = job.Generate(ctx, region)
	require.NoError(t, err)
	assert.Len(t, fsys.Bytes("data/test-0_001m.bin"), 1000*pointio.PointSize)
}

func TestGenerateIsDeterministic(t *testing.T) {
	captureLogs(t)
	ctx := context.Background()
	region := mercatorRegion(t, "test", nycCenter)

	run := func(workers int) []byte {
		fsys := fsutil.NewMemoryFileSystem()
		cfg := testConfig("data")
		cfg.Points = []int64{2000}
		cfg.Workers = ptr(workers)
		_, err := newJob(t, cfg, fsys, nil).Generate(ctx, region)
		require.NoError(t, err)
		return fsys.Bytes("data/test-0_002m.bin")
	}
	assert.Equal(t, run(1), run(6))
}

func TestGenerateRejectsUnsupportedCRS(t *testing.T) {
	captureLogs(t)
	fsys := fsutil.NewMemoryFileSystem()
	job := newJob(t, testConfig("data"), fsys, nil)
	region, err := config.NewRegion("nyc", nycCenter, 32118)
	require.NoError(t, err)

	_, err = job.Generate(context.Background(), region)
	assert.ErrorIs(t, err, projection.ErrUnsupportedCRS)
	assert.Empty(t, fsys.Files())
}

func TestValidateRegions(t *testing.T) {
	ctx := context.Background()
	good := mercatorRegion(t, "good", nycCenter)
	badTarget, err := config.NewRegion("tokyo", tokyoCenter, 6684, config.WithCanonicalCRS(projection.WebMercator.Code))
	if err != nil {
		t.Fatal(err)
	}
	badCanonical, err := config.NewRegion("canon", tokyoCenter, projection.WebMercator.Code)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name          string
		regions       []config.RegionProfile
		withCanonical bool
		wantErr       bool
	}{
		{"all good", []config.RegionProfile{good}, true, false},
		{"bad target after good", []config.RegionProfile{good, badTarget}, false, true},
		{"bad canonical ignored", []config.RegionProfile{good, badCanonical}, false, false},
		{"bad canonical checked", []config.RegionProfile{good, badCanonical}, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRegions(ctx, projection.Mercator{}, tt.regions, tt.withCanonical)
			if tt.wantErr != (err != nil) {
				t.Fatalf("ValidateRegions() = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, projection.ErrUnsupportedCRS) {
				t.Errorf("err = %v, want %v", err, projection.ErrUnsupportedCRS)
			}
		})
	}
}

// countingProjector counts inverse projection calls.
type countingProjector struct {
	projection.Mercator
	calls atomic.Int32
}

func (p *countingProjector) ToGeographic(ctx context.Context, pts []geo.Planar, crs geo.CRS) ([]geo.LatLon, error) {
	p.calls.Add(1)
	return p.Mercator.ToGeographic(ctx, pts, crs)
}

func TestGenerateBatchesFromWholeCloud(t *testing.T) {
	captureLogs(t)
	tests := []struct {
		name      string
		chunk     int
		minBatch  int
		wantCalls int32
	}{
		{"one chunk", 1 << 20, 1000, 5},
		{"several chunks", 2000, 1000, 5},
		{"no floor", 1 << 20, 0, 1000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fsys := fsutil.NewMemoryFileSystem()
			cfg := testConfig("data")
			cfg.Points = []int64{5000}
			cfg.Batches = ptr(1000)
			cfg.ChunkSize = ptr(tt.chunk)
			cfg.MinBatchSize = ptr(tt.minBatch)
			p := &countingProjector{}
			job := newJob(t, cfg, fsys, nil)
			job.Proj = p

			paths, err := job.Generate(context.Background(), mercatorRegion(t, "test", nycCenter))
			if err != nil {
				t.Fatalf("Generate: %v", err)
			}
			if got := p.calls.Load(); got != tt.wantCalls {
				t.Errorf("ToGeographic called %d times, want %d", got, tt.wantCalls)
			}
			n, err := pointio.Count(fsys, paths[0])
			if err != nil {
				t.Fatal(err)
			}
			if n != 5000 {
				t.Errorf("wrote %d points, want 5000", n)
			}
		})
	}
}

func TestGenerateFromRoadNetwork(t *testing.T) {
	captureLogs(t)
	ctx := context.Background()
	fsys := fsutil.NewMemoryFileSystem()
	network := `{"type":"FeatureCollection","features":[
		{"type":"Feature","properties":{},"geometry":{"type":"LineString","coordinates":[[-73.99,40.74],[-73.98,40.75],[-73.97,40.76]]}}
	]}`
	require.NoError(t, fsys.WriteFile("roads/test.geojson", []byte(network)))

	cfg := testConfig("data")
	cfg.Points = []int64{1000}
	region := mercatorRegion(t, "test", nycCenter, config.WithRoadNetwork("roads/test.geojson"))
	paths, err := newJob(t, cfg, fsys, nil).Generate(ctx, region)
	require.NoError(t, err)

	cloud, err := pointio.ReadFile(fsys, paths[0])
	require.NoError(t, err)
	require.Len(t, cloud, 1000)
	for _, p := range cloud {
		// Every point lies on the polyline's bounding box.
		assert.True(t, p.Lon >= -73.99-1e-9 && p.Lon <= -73.97+1e-9, "lon %v", p.Lon)
		assert.True(t, p.Lat >= 40.74-1e-9 && p.Lat <= 40.76+1e-9, "lat %v", p.Lat)
	}
}

func TestTransplant(t *testing.T) {
	captureLogs(t)
	ctx := context.Background()
	fsys := fsutil.NewMemoryFileSystem()
	cat := openCatalog(t)
	src := writeTaxiCloud(t, fsys, 2000)
	job := newJob(t, testConfig("data"), fsys, cat)
	region := mercatorRegion(t, "tokyo", tokyoCenter, config.WithRadius(5000))

	dst, err := job.Transplant(ctx, src, region)
	require.NoError(t, err)
	assert.Equal(t, "data/tokyo-0_002m.bin", dst)

	cloud, err := pointio.ReadFile(fsys, dst)
	require.NoError(t, err)
	require.Len(t, cloud, 2000)

	pl, err := projection.Mercator{}.ToPlanar(ctx, cloud, projection.WebMercator)
	require.NoError(t, err)
	center, err := projection.ProjectOne(ctx, projection.Mercator{}, tokyoCenter, projection.WebMercator)
	require.NoError(t, err)
	var sx, sy, maxDist float64
	for _, p := range pl {
		sx += p.X
		sy += p.Y
	}
	centroid := geo.Planar{X: sx / float64(len(pl)), Y: sy / float64(len(pl))}
	for _, p := range pl {
		maxDist = math.Max(maxDist, p.Distance(centroid))
	}
	assert.InDelta(t, center.X, centroid.X, 1e-3)
	assert.InDelta(t, center.Y, centroid.Y, 1e-3)
	assert.InDelta(t, 5000, maxDist, 1e-3)

	d, err := cat.Lookup(ctx, dst)
	require.NoError(t, err)
	assert.Equal(t, src, d.Source)
	assert.Equal(t, int64(2000), d.Count)
	require.NotNil(t, d.Params)
	assert.Equal(t, projection.WebMercator, d.Params.TargetCRS)
}

func TestQueries(t *testing.T) {
	captureLogs(t)
	ctx := context.Background()
	fsys := fsutil.NewMemoryFileSystem()
	cat := openCatalog(t)
	job := newJob(t, testConfig("data"), fsys, cat)
	region := mercatorRegion(t, "test", nycCenter)

	clouds, err := job.Generate(ctx, region)
	require.NoError(t, err)
	paths, err := job.Queries(ctx, clouds[0], region)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"data/test-0_001m_distance_0.01.csv",
		"data/test-0_001m_range_0.01.csv",
		"data/test-0_001m_distance_0.1.csv",
		"data/test-0_001m_range_0.1.csv",
	}, paths)

	dq, err := pointio.ReadDistanceQueryFile(fsys, paths[0])
	require.NoError(t, err)
	require.Len(t, dq, 5)
	for _, q := range dq {
		assert.GreaterOrEqual(t, q.Radius, 0.0)
	}
	rq, err := pointio.ReadRangeQueryFile(fsys, paths[3])
	require.NoError(t, err)
	require.Len(t, rq, 5)
	for _, q := range rq {
		assert.LessOrEqual(t, q.A.Lat, q.B.Lat)
		assert.LessOrEqual(t, q.A.Lon, q.B.Lon)
	}

	recs, err := cat.List(ctx, catalog.KindRangeQueries)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	for _, r := range recs {
		assert.Equal(t, clouds[0], r.Source)
		assert.Equal(t, int64(5), r.Count)
	}

	// A second run leaves the files alone.
	before := fsys.Bytes(paths[1])
	_, err = job.Queries(ctx, clouds[0], region)
	require.NoError(t, err)
	assert.Equal(t, before, fsys.Bytes(paths[1]))
}

func TestRepositionQueriesUsesCatalogParams(t *testing.T) {
	captureLogs(t)
	ctx := context.Background()
	fsys := fsutil.NewMemoryFileSystem()
	cat := openCatalog(t)
	src := writeTaxiCloud(t, fsys, 2000)
	nyc := mercatorRegion(t, "nyc", nycCenter)
	tokyo := mercatorRegion(t, "tokyo", tokyoCenter, config.WithRadius(5000))

	taxiJob := newJob(t, testConfig("taxi"), fsys, cat)
	_, err := taxiJob.Queries(ctx, src, nyc)
	require.NoError(t, err)

	job := newJob(t, testConfig("data"), fsys, cat)
	_, err = job.Transplant(ctx, src, tokyo)
	require.NoError(t, err)

	out, err := job.RepositionQueries(ctx, "taxi", "", tokyo)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"data/tokyo-taxi_distance_0.01.csv",
		"data/tokyo-taxi_distance_0.1.csv",
		"data/tokyo-taxi_range_0.01.csv",
		"data/tokyo-taxi_range_0.1.csv",
	}, out)

	params, err := cat.LatestParams(ctx, "tokyo")
	require.NoError(t, err)
	tr := &reposition.Transformer{Proj: projection.Mercator{}, Params: params}

	orig, err := pointio.ReadDistanceQueryFile(fsys, "taxi/taxi_distance_0.01.csv")
	require.NoError(t, err)
	want, err := tr.TransformDistanceQueries(ctx, orig)
	require.NoError(t, err)
	got, err := pointio.ReadDistanceQueryFile(fsys, out[0])
	require.NoError(t, err)
	require.Len(t, got, len(want))
	for i := range want {
		assert.InDelta(t, want[i].Point.Lat, got[i].Point.Lat, 1e-6)
		assert.InDelta(t, want[i].Point.Lon, got[i].Point.Lon, 1e-6)
		assert.InDelta(t, want[i].Radius, got[i].Radius, 0.01)
	}

	rec, err := cat.Lookup(ctx, out[2])
	require.NoError(t, err)
	assert.Equal(t, catalog.KindRangeQueries, rec.Kind)
	assert.Equal(t, 0.01, rec.Selectivity)
	assert.Equal(t, "taxi/taxi_range_0.01.csv", rec.Source)
	require.NotNil(t, rec.Params)
	assert.Equal(t, params, *rec.Params)
}

func TestRepositionQueriesFromSourceCloud(t *testing.T) {
	captureLogs(t)
	ctx := context.Background()
	fsys := fsutil.NewMemoryFileSystem()
	src := writeTaxiCloud(t, fsys, 1000)
	nyc := mercatorRegion(t, "nyc", nycCenter)
	delhi := mercatorRegion(t, "delhi", geo.LatLon{Lat: 28.642832, Lon: 77.218273})

	_, err := newJob(t, testConfig("taxi"), fsys, nil).Queries(ctx, src, nyc)
	require.NoError(t, err)

	job := newJob(t, testConfig("data"), fsys, nil)
	_, err = job.RepositionQueries(ctx, "taxi", "", delhi)
	assert.ErrorIs(t, err, ErrNoParams)

	out, err := job.RepositionQueries(ctx, "taxi", src, delhi)
	require.NoError(t, err)
	assert.Len(t, out, 4)

	// Native scale keeps radii.
	orig, err := pointio.ReadDistanceQueryFile(fsys, "taxi/taxi_distance_0.1.csv")
	require.NoError(t, err)
	moved, err := pointio.ReadDistanceQueryFile(fsys, "data/delhi-taxi_distance_0.1.csv")
	require.NoError(t, err)
	for i := range orig {
		assert.InDelta(t, orig[i].Radius, moved[i].Radius, 0.01)
		assert.InDelta(t, 28.64, moved[i].Point.Lat, 0.1)
	}

	_, err = job.RepositionQueries(ctx, "empty", src, delhi)
	assert.Error(t, err)
}

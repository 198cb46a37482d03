package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/geosynth/internal/config"
	"github.com/banshee-data/geosynth/internal/fsutil"
	"github.com/banshee-data/geosynth/internal/monitoring"
	"github.com/banshee-data/geosynth/internal/pointio"
	"github.com/banshee-data/geosynth/internal/projection"
	"github.com/banshee-data/geosynth/internal/testutil"
)

func quiet(t *testing.T) {
	original := monitoring.Logf
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.Logf = original })
}

// writeConfig writes a small config whose outputs land in the temp dir.
func writeConfig(t *testing.T) (path, dataDir string) {
	t.Helper()
	dir := t.TempDir()
	dataDir = filepath.Join(dir, "data")
	cfg := `{
		"data_dir": "` + dataDir + `",
		"points": [500],
		"network_radius": 1000,
		"network_samples": 500,
		"sample_size": 1000,
		"reference_size": 200,
		"query_count": 3,
		"selectivities": [0.1],
		"regions": [
			{"name": "test", "center": [40.75, -73.98], "crs": 3857, "canonical_crs": 3857},
			{"name": "far", "center": [35.68, 139.76], "crs": 3857, "canonical_crs": 3857, "radius": 2000}
		]
	}`
	path = filepath.Join(dir, "geosynth.json")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0644))
	return path, dataDir
}

func TestRunVersion(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run(context.Background(), "version", nil, &out))
	assert.True(t, strings.HasPrefix(out.String(), "geosynth "))
}

func TestRunUnknownCommand(t *testing.T) {
	err := run(context.Background(), "frobnicate", nil, &bytes.Buffer{})
	assert.True(t, errors.Is(err, errUsage))
}

func TestRunMissingRequiredFlags(t *testing.T) {
	ctx := context.Background()
	for _, tc := range []struct {
		command string
		args    []string
	}{
		{"transplant", nil},
		{"queries", []string{"--cloud", "x.bin"}},
		{"reposition-queries", nil},
	} {
		err := run(ctx, tc.command, tc.args, &bytes.Buffer{})
		assert.ErrorIs(t, err, errUsage, tc.command)
	}
}

func TestNewProjector(t *testing.T) {
	p, err := newProjector("mercator")
	require.NoError(t, err)
	assert.Equal(t, projection.Mercator{}, p)
	_, err = newProjector("gdal")
	assert.ErrorIs(t, err, errUsage)
}

func TestRegions(t *testing.T) {
	path, _ := writeConfig(t)
	cfg, err := config.LoadGenerationConfig(path)
	require.NoError(t, err)

	all, err := regions(cfg, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	picked, err := regions(cfg, "far, nyc")
	require.NoError(t, err)
	require.Len(t, picked, 2)
	assert.Equal(t, "far", picked[0].Name)
	assert.Equal(t, "nyc", picked[1].Name)

	_, err = regions(cfg, "atlantis")
	assert.ErrorIs(t, err, config.ErrInvalidConfig)

	_, err = regions(config.DefaultGenerationConfig(), "")
	assert.ErrorIs(t, err, errUsage)
}

func TestGenerateQueriesAndCatalog(t *testing.T) {
	quiet(t)
	ctx := context.Background()
	cfgPath, dataDir := writeConfig(t)
	common := []string{"--config", cfgPath, "--proj", "mercator"}

	require.NoError(t, run(ctx, "generate", append(common, "--region", "test", "--queries"), &bytes.Buffer{}))

	cloud := filepath.Join(dataDir, "test-0_0005m.bin")
	n, err := pointio.Count(fsutil.OSFileSystem{}, cloud)
	require.NoError(t, err)
	assert.Equal(t, int64(500), n)
	assert.FileExists(t, filepath.Join(dataDir, "test-0_0005m_distance_0.1.csv"))
	assert.FileExists(t, filepath.Join(dataDir, "test-0_0005m_range_0.1.csv"))

	var out bytes.Buffer
	require.NoError(t, run(ctx, "catalog", []string{"--config", cfgPath}, &out))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[0], "PATH")
	assert.Contains(t, out.String(), "range_queries")

	out.Reset()
	require.NoError(t, run(ctx, "catalog", []string{"--config", cfgPath, "--kind", "cloud"}, &out))
	assert.Len(t, strings.Split(strings.TrimSpace(out.String()), "\n"), 2)
}

func TestTransplantAndRepositionQueries(t *testing.T) {
	quiet(t)
	ctx := context.Background()
	cfgPath, dataDir := writeConfig(t)
	common := []string{"--config", cfgPath, "--proj", "mercator"}

	taxiDir := filepath.Join(t.TempDir(), "taxi")
	require.NoError(t, os.MkdirAll(taxiDir, 0755))
	src := filepath.Join(taxiDir, "taxi.bin")
	require.NoError(t, pointio.WriteFile(fsutil.OSFileSystem{}, src, testutil.UniformCloud(config.Presets()["nyc"].CenterLatLon(), 0.01, 800, 5)))
	require.NoError(t, os.WriteFile(filepath.Join(taxiDir, "taxi_distance_0.1.csv"), []byte("40.750000,-73.980000,150.00\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(taxiDir, "taxi_range_0.1.csv"), []byte("40.740000,-73.990000,40.760000,-73.970000\n"), 0644))

	require.NoError(t, run(ctx, "transplant", append(common, "--source", src, "--region", "far"), &bytes.Buffer{}))
	assert.FileExists(t, filepath.Join(dataDir, "far-0_0008m.bin"))

	require.NoError(t, run(ctx, "reposition-queries", append(common, "--queries-dir", taxiDir, "--region", "far"), &bytes.Buffer{}))
	qs, err := pointio.ReadDistanceQueryFile(fsutil.OSFileSystem{}, filepath.Join(dataDir, "far-taxi_distance_0.1.csv"))
	require.NoError(t, err)
	require.Len(t, qs, 1)
	assert.InDelta(t, 35.68, qs[0].Point.Lat, 0.05)
	assert.InDelta(t, 139.76, qs[0].Point.Lon, 0.05)
	assert.FileExists(t, filepath.Join(dataDir, "far-taxi_range_0.1.csv"))
}

func TestRegionsCommand(t *testing.T) {
	cfgPath, _ := writeConfig(t)
	var out bytes.Buffer
	require.NoError(t, run(context.Background(), "regions", []string{"--config", cfgPath}, &out))
	s := out.String()
	assert.Contains(t, s, "japan")
	assert.Contains(t, s, "EPSG:6673")
	assert.Contains(t, s, "radius 300000")
	assert.Contains(t, s, "far")
}

func TestBadRegionFailsBeforeAnyOutput(t *testing.T) {
	quiet(t)
	ctx := context.Background()
	dir := t.TempDir()
	dataDir := filepath.Join(dir, "data")
	cfg := `{
		"data_dir": "` + dataDir + `",
		"points": [500],
		"network_radius": 1000,
		"network_samples": 500,
		"regions": [
			{"name": "good", "center": [40.75, -73.98], "crs": 3857, "canonical_crs": 3857},
			{"name": "tokyo", "center": [35.68, 139.76], "crs": 6684, "canonical_crs": 3857},
			{"name": "badcanon", "center": [35.68, 139.76], "crs": 3857, "canonical_crs": 32118}
		]
	}`
	cfgPath := filepath.Join(dir, "geosynth.json")
	if err := os.WriteFile(cfgPath, []byte(cfg), 0644); err != nil {
		t.Fatal(err)
	}
	src := filepath.Join(dir, "taxi.bin")
	if err := pointio.WriteFile(fsutil.OSFileSystem{}, src, testutil.UniformCloud(config.Presets()["nyc"].CenterLatLon(), 0.01, 100, 5)); err != nil {
		t.Fatal(err)
	}
	common := []string{"--config", cfgPath, "--proj", "mercator"}

	tests := []struct {
		name    string
		command string
		args    []string
	}{
		{"generate target", "generate", []string{"--region", "good,tokyo"}},
		{"generate all", "generate", nil},
		{"transplant canonical", "transplant", []string{"--source", src, "--region", "good,badcanon"}},
		{"queries target", "queries", []string{"--cloud", src, "--region", "tokyo"}},
		{"reposition canonical", "reposition-queries", []string{"--queries-dir", dir, "--region", "good,badcanon"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := run(ctx, tt.command, append(append([]string{}, common...), tt.args...), &bytes.Buffer{})
			if !errors.Is(err, projection.ErrUnsupportedCRS) {
				t.Fatalf("err = %v, want %v", err, projection.ErrUnsupportedCRS)
			}
			if _, err := os.Stat(dataDir); !os.IsNotExist(err) {
				t.Errorf("data dir %s exists after a failed run", dataDir)
			}
		})
	}
}

func TestQueriesTakesOneRegion(t *testing.T) {
	cfgPath, _ := writeConfig(t)
	err := run(context.Background(), "queries", []string{"--config", cfgPath, "--cloud", "x.bin", "--region", "test,far"}, &bytes.Buffer{})
	if !errors.Is(err, errUsage) {
		t.Errorf("err = %v, want %v", err, errUsage)
	}
}

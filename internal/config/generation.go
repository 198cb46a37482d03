// Package config loads and validates dataset generation settings.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultConfigPath is the generation config the CLI reads when -config is
// not given.
const DefaultConfigPath = "config/geosynth.json"

// GenerationConfig is the root configuration. Omitted fields fall back to
// the defaults returned by the Get* methods.
type GenerationConfig struct {
	DataDir     *string `json:"data_dir,omitempty"`
	CatalogPath *string `json:"catalog,omitempty"`

	// Point clouds
	Points         []int64  `json:"points,omitempty"` // output sizes per region
	NetworkRadius  *float64 `json:"network_radius,omitempty"`
	NetworkSamples *int     `json:"network_samples,omitempty"`
	Seed           *uint64  `json:"seed,omitempty"`

	// Parallelism
	Workers      *int `json:"workers,omitempty"`
	Batches      *int `json:"batches,omitempty"`
	MinBatchSize *int `json:"min_batch_size,omitempty"`
	ChunkSize    *int `json:"chunk_size,omitempty"` // points per streamed read or write

	// Repositioning and queries
	SampleSize         *int      `json:"sample_size,omitempty"`
	ReferenceSize      *int      `json:"reference_size,omitempty"`
	QueryCount         *int      `json:"query_count,omitempty"`
	Selectivities      []float64 `json:"selectivities,omitempty"`
	RangeStep          *float64  `json:"range_step,omitempty"`
	RangeMaxIterations *int      `json:"range_max_iterations,omitempty"`

	Regions []RegionProfile `json:"regions,omitempty"`

	// dir is the directory of the loaded file; relative paths resolve
	// against it.
	dir string
}

func ptrInt(v int) *int             { return &v }
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrUint64(v uint64) *uint64    { return &v }

// DefaultGenerationConfig returns a config with every field populated.
func DefaultGenerationConfig() *GenerationConfig {
	return &GenerationConfig{
		DataDir:            ptrString("data/synthetic"),
		Points:             []int64{25_000_000},
		NetworkRadius:      ptrFloat64(10_000),
		NetworkSamples:     ptrInt(1_000_000),
		Seed:               ptrUint64(1),
		Workers:            ptrInt(0),
		Batches:            ptrInt(1000),
		MinBatchSize:       ptrInt(10_000),
		ChunkSize:          ptrInt(1 << 20),
		SampleSize:         ptrInt(100_000),
		ReferenceSize:      ptrInt(100_000),
		QueryCount:         ptrInt(1000),
		Selectivities:      []float64{0.0001, 0.001, 0.01},
		RangeStep:          ptrFloat64(1e-6),
		RangeMaxIterations: ptrInt(200),
	}
}

// LoadGenerationConfig loads a GenerationConfig from a JSON file.
// The file must have a .json extension and be at most 1MB.
func LoadGenerationConfig(path string) (*GenerationConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("%w: config file must have .json extension, got %q", ErrInvalidConfig, ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("%w: config file too large: %d bytes (max %d)", ErrInvalidConfig, fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &GenerationConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: failed to parse config JSON: %v", ErrInvalidConfig, err)
	}
	cfg.dir = filepath.Dir(cleanPath)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *GenerationConfig) Validate() error {
	for _, n := range c.Points {
		if n <= 0 {
			return fmt.Errorf("%w: points must be positive, got %d", ErrInvalidConfig, n)
		}
	}
	if c.NetworkRadius != nil && !(*c.NetworkRadius > 0) {
		return fmt.Errorf("%w: network_radius must be positive, got %v", ErrInvalidConfig, *c.NetworkRadius)
	}
	if c.NetworkSamples != nil && *c.NetworkSamples <= 0 {
		return fmt.Errorf("%w: network_samples must be positive, got %d", ErrInvalidConfig, *c.NetworkSamples)
	}
	if c.Workers != nil && *c.Workers < 0 {
		return fmt.Errorf("%w: workers must be non-negative, got %d", ErrInvalidConfig, *c.Workers)
	}
	if c.Batches != nil && *c.Batches < 0 {
		return fmt.Errorf("%w: batches must be non-negative, got %d", ErrInvalidConfig, *c.Batches)
	}
	if c.MinBatchSize != nil && *c.MinBatchSize < 0 {
		return fmt.Errorf("%w: min_batch_size must be non-negative, got %d", ErrInvalidConfig, *c.MinBatchSize)
	}
	if c.ChunkSize != nil && *c.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk_size must be positive, got %d", ErrInvalidConfig, *c.ChunkSize)
	}
	if c.SampleSize != nil && *c.SampleSize <= 0 {
		return fmt.Errorf("%w: sample_size must be positive, got %d", ErrInvalidConfig, *c.SampleSize)
	}
	if c.ReferenceSize != nil && *c.ReferenceSize <= 0 {
		return fmt.Errorf("%w: reference_size must be positive, got %d", ErrInvalidConfig, *c.ReferenceSize)
	}
	if c.QueryCount != nil && *c.QueryCount < 0 {
		return fmt.Errorf("%w: query_count must be non-negative, got %d", ErrInvalidConfig, *c.QueryCount)
	}
	for _, s := range c.Selectivities {
		if !(s > 0 && s <= 1) {
			return fmt.Errorf("%w: selectivity must be in (0, 1], got %v", ErrInvalidConfig, s)
		}
	}
	if c.RangeStep != nil && !(*c.RangeStep > 0) {
		return fmt.Errorf("%w: range_step must be positive, got %v", ErrInvalidConfig, *c.RangeStep)
	}
	if c.RangeMaxIterations != nil && *c.RangeMaxIterations <= 0 {
		return fmt.Errorf("%w: range_max_iterations must be positive, got %d", ErrInvalidConfig, *c.RangeMaxIterations)
	}

	seen := make(map[string]bool, len(c.Regions))
	for _, r := range c.Regions {
		if err := r.Validate(); err != nil {
			return err
		}
		if seen[r.Name] {
			return fmt.Errorf("%w: duplicate region %q", ErrInvalidConfig, r.Name)
		}
		seen[r.Name] = true
	}
	return nil
}

// Region looks up a region by name, falling back to the built-in presets.
func (c *GenerationConfig) Region(name string) (RegionProfile, error) {
	for _, r := range c.Regions {
		if r.Name == name {
			return r, nil
		}
	}
	if p, ok := Presets()[name]; ok {
		return p, nil
	}
	return RegionProfile{}, fmt.Errorf("%w: unknown region %q", ErrInvalidConfig, name)
}

// Resolve returns path relative to the config file's directory unless it
// is absolute.
func (c *GenerationConfig) Resolve(path string) string {
	if path == "" || filepath.IsAbs(path) || c.dir == "" {
		return path
	}
	return filepath.Join(c.dir, path)
}

// GetDataDir returns the output root.
func (c *GenerationConfig) GetDataDir() string {
	if c.DataDir == nil || *c.DataDir == "" {
		return "data/synthetic"
	}
	return *c.DataDir
}

// GetCatalogPath returns the SQLite catalog path, inside the data dir by
// default.
func (c *GenerationConfig) GetCatalogPath() string {
	if c.CatalogPath == nil || *c.CatalogPath == "" {
		return filepath.Join(c.GetDataDir(), "catalog.db")
	}
	return *c.CatalogPath
}

// GetPoints returns the output sizes.
func (c *GenerationConfig) GetPoints() []int64 {
	if len(c.Points) == 0 {
		return []int64{25_000_000}
	}
	return c.Points
}

// GetNetworkRadius returns the road-network sampling radius in metres.
func (c *GenerationConfig) GetNetworkRadius() float64 {
	if c.NetworkRadius == nil {
		return 10_000
	}
	return *c.NetworkRadius
}

// GetNetworkSamples returns how many raw road-network points feed the
// resampler.
func (c *GenerationConfig) GetNetworkSamples() int {
	if c.NetworkSamples == nil {
		return 1_000_000
	}
	return *c.NetworkSamples
}

// GetSeed returns the random seed.
func (c *GenerationConfig) GetSeed() uint64 {
	if c.Seed == nil {
		return 1
	}
	return *c.Seed
}

// GetWorkers returns the worker count; 0 means one per CPU.
func (c *GenerationConfig) GetWorkers() int {
	if c.Workers == nil {
		return 0
	}
	return *c.Workers
}

// GetBatches returns the number of batches large arrays are split into.
func (c *GenerationConfig) GetBatches() int {
	if c.Batches == nil {
		return 1000
	}
	return *c.Batches
}

// GetMinBatchSize returns the smallest batch worth handing to a worker; 0
// disables the floor.
func (c *GenerationConfig) GetMinBatchSize() int {
	if c.MinBatchSize == nil {
		return 10_000
	}
	return *c.MinBatchSize
}

// GetChunkSize returns how many points are read or written per streaming
// step.
func (c *GenerationConfig) GetChunkSize() int {
	if c.ChunkSize == nil {
		return 1 << 20
	}
	return *c.ChunkSize
}

// GetSampleSize returns the representative sample size for transform
// parameters.
func (c *GenerationConfig) GetSampleSize() int {
	if c.SampleSize == nil {
		return 100_000
	}
	return *c.SampleSize
}

// GetReferenceSize returns the reference set size for query generation.
func (c *GenerationConfig) GetReferenceSize() int {
	if c.ReferenceSize == nil {
		return 100_000
	}
	return *c.ReferenceSize
}

// GetQueryCount returns the number of queries per workload file.
func (c *GenerationConfig) GetQueryCount() int {
	if c.QueryCount == nil {
		return 1000
	}
	return *c.QueryCount
}

// GetSelectivities returns the selectivities to generate workloads for.
func (c *GenerationConfig) GetSelectivities() []float64 {
	if len(c.Selectivities) == 0 {
		return []float64{0.0001, 0.001, 0.01}
	}
	return c.Selectivities
}

// GetRangeStep returns the range search step in degrees.
func (c *GenerationConfig) GetRangeStep() float64 {
	if c.RangeStep == nil {
		return 1e-6
	}
	return *c.RangeStep
}

// GetRangeMaxIterations returns the range search iteration bound.
func (c *GenerationConfig) GetRangeMaxIterations() int {
	if c.RangeMaxIterations == nil {
		return 200
	}
	return *c.RangeMaxIterations
}

package config

import (
	"errors"
	"fmt"

	"github.com/banshee-data/geosynth/internal/geo"
)

// ErrInvalidConfig marks configuration errors. They are fatal and reported
// before any file is read or written.
var ErrInvalidConfig = errors.New("invalid configuration")

// DefaultCanonicalCRS is the planar CRS every repositioning job centres and
// scales in unless a region overrides it (NAD83 / New York Long Island).
const DefaultCanonicalCRS = 32118

// ScaleMode says how a repositioned cloud is resized.
type ScaleMode int

const (
	// ScaleNative keeps the source cloud's metric extent.
	ScaleNative ScaleMode = iota
	// ScaleRadius resizes so the farthest sample point sits Radius metres
	// from the centroid.
	ScaleRadius
	// ScaleSize resizes so the larger planar extent equals Size metres.
	ScaleSize
)

func (m ScaleMode) String() string {
	switch m {
	case ScaleRadius:
		return "radius"
	case ScaleSize:
		return "size"
	default:
		return "native"
	}
}

// RegionProfile describes a target geographic area for sampling or
// repositioning. Radius and Size are mutually exclusive.
type RegionProfile struct {
	Name         string      `json:"name"`
	Center       *[2]float64 `json:"center,omitempty"` // [lat, lon]
	CRS          *int        `json:"crs,omitempty"`
	Radius       *float64    `json:"radius,omitempty"`
	Size         *float64    `json:"size,omitempty"`
	YIsEasting   *bool       `json:"y_is_easting,omitempty"`
	CanonicalCRS *int        `json:"canonical_crs,omitempty"`
	RoadNetwork  string      `json:"road_network,omitempty"` // GeoJSON path, relative to the config file
}

// RegionOption customises a profile built with NewRegion.
type RegionOption func(*RegionProfile)

// WithRadius resizes to an absolute radius in metres.
func WithRadius(r float64) RegionOption { return func(p *RegionProfile) { p.Radius = &r } }

// WithSize resizes to an absolute extent in metres.
func WithSize(s float64) RegionOption { return func(p *RegionProfile) { p.Size = &s } }

// WithYIsEasting marks the region CRS as northing-first.
func WithYIsEasting() RegionOption {
	return func(p *RegionProfile) { v := true; p.YIsEasting = &v }
}

// WithCanonicalCRS overrides the intermediate planar CRS.
func WithCanonicalCRS(code int) RegionOption {
	return func(p *RegionProfile) { p.CanonicalCRS = &code }
}

// WithRoadNetwork sets the road-network GeoJSON file used for sampling.
func WithRoadNetwork(path string) RegionOption {
	return func(p *RegionProfile) { p.RoadNetwork = path }
}

// NewRegion builds and validates a profile.
func NewRegion(name string, center geo.LatLon, crs int, opts ...RegionOption) (RegionProfile, error) {
	p := RegionProfile{
		Name:   name,
		Center: &[2]float64{center.Lat, center.Lon},
		CRS:    &crs,
	}
	for _, opt := range opts {
		opt(&p)
	}
	if err := p.Validate(); err != nil {
		return RegionProfile{}, err
	}
	return p, nil
}

// Validate checks required fields and option combinations.
func (p RegionProfile) Validate() error {
	name := p.Name
	if name == "" {
		return fmt.Errorf("%w: region without name", ErrInvalidConfig)
	}
	if p.Center == nil {
		return fmt.Errorf("%w: region %s: center is required", ErrInvalidConfig, name)
	}
	if c := p.CenterLatLon(); !c.Valid() {
		return fmt.Errorf("%w: region %s: center %v is not a valid lat/lon", ErrInvalidConfig, name, *p.Center)
	}
	if p.CRS == nil || *p.CRS <= 0 {
		return fmt.Errorf("%w: region %s: crs must be a positive EPSG code", ErrInvalidConfig, name)
	}
	if p.CanonicalCRS != nil && *p.CanonicalCRS <= 0 {
		return fmt.Errorf("%w: region %s: canonical_crs must be a positive EPSG code", ErrInvalidConfig, name)
	}
	if p.Radius != nil && p.Size != nil {
		return fmt.Errorf("%w: region %s: radius and size are mutually exclusive", ErrInvalidConfig, name)
	}
	if p.Radius != nil && !(*p.Radius > 0) {
		return fmt.Errorf("%w: region %s: radius must be positive, got %v", ErrInvalidConfig, name, *p.Radius)
	}
	if p.Size != nil && !(*p.Size > 0) {
		return fmt.Errorf("%w: region %s: size must be positive, got %v", ErrInvalidConfig, name, *p.Size)
	}
	return nil
}

// CenterLatLon returns the configured centre.
func (p RegionProfile) CenterLatLon() geo.LatLon {
	if p.Center == nil {
		return geo.LatLon{}
	}
	return geo.LatLon{Lat: p.Center[0], Lon: p.Center[1]}
}

// TargetCRS returns the region's projected CRS with its axis orientation.
func (p RegionProfile) TargetCRS() geo.CRS {
	crs := geo.CRS{YIsEasting: p.GetYIsEasting()}
	if p.CRS != nil {
		crs.Code = *p.CRS
	}
	return crs
}

// Canonical returns the intermediate planar CRS for repositioning.
func (p RegionProfile) Canonical() geo.CRS {
	if p.CanonicalCRS == nil {
		return geo.CRS{Code: DefaultCanonicalCRS}
	}
	return geo.CRS{Code: *p.CanonicalCRS}
}

// GetYIsEasting returns y_is_easting or false.
func (p RegionProfile) GetYIsEasting() bool {
	return p.YIsEasting != nil && *p.YIsEasting
}

// ScaleMode reports which resizing option is set.
func (p RegionProfile) ScaleMode() ScaleMode {
	switch {
	case p.Radius != nil:
		return ScaleRadius
	case p.Size != nil:
		return ScaleSize
	default:
		return ScaleNative
	}
}

// GetRadius returns radius or 0 when unset.
func (p RegionProfile) GetRadius() float64 {
	if p.Radius == nil {
		return 0
	}
	return *p.Radius
}

// GetSize returns size or 0 when unset.
func (p RegionProfile) GetSize() float64 {
	if p.Size == nil {
		return 0
	}
	return *p.Size
}

// Presets returns the regions used for the published benchmark datasets.
func Presets() map[string]RegionProfile {
	must := func(p RegionProfile, err error) RegionProfile {
		if err != nil {
			panic(err)
		}
		return p
	}
	return map[string]RegionProfile{
		"nyc":          must(NewRegion("nyc", geo.LatLon{Lat: 40.747659, Lon: -73.986230}, 32118)),
		"delhi":        must(NewRegion("delhi", geo.LatLon{Lat: 28.642832, Lon: 77.218273}, 24378)),
		"tokyo":        must(NewRegion("tokyo", geo.LatLon{Lat: 35.681471, Lon: 139.765617}, 6684)),
		"sao-paolo":    must(NewRegion("sao-paolo", geo.LatLon{Lat: -23.546118, Lon: -46.635005}, 5641)),
		"shippensburg": must(NewRegion("shippensburg", geo.LatLon{Lat: 40.112385, Lon: -77.519584}, 32118)),
		"aogaki":       must(NewRegion("aogaki", geo.LatLon{Lat: 35.263921, Lon: 134.999230}, 6673, WithYIsEasting())),
		"germany":      must(NewRegion("germany", geo.LatLon{Lat: 50.940709, Lon: 6.9575126}, 4839, WithRadius(300_000), WithYIsEasting())),
		"japan":        must(NewRegion("japan", geo.LatLon{Lat: 35.263921, Lon: 134.999230}, 6673, WithRadius(300_000), WithYIsEasting())),
	}
}

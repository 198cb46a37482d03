package projection

import (
	"context"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"

	"github.com/banshee-data/geosynth/internal/geo"
)

// WebMercator is EPSG:3857, the only projected CRS Mercator supports.
var WebMercator = geo.CRS{Code: 3857}

// Mercator is a pure Go projector for spherical Web Mercator. It needs no
// native libraries, so tests and small local runs use it; production
// datasets in regional CRSs use the PROJ adapter.
//
// EPSG:4326 is accepted as an identity "projection" returning (lat, lon)
// in (X, Y).
type Mercator struct{}

var _ Projector = Mercator{}

// ToPlanar projects pts into EPSG:3857 (easting, northing).
func (Mercator) ToPlanar(ctx context.Context, pts []geo.LatLon, crs geo.CRS) ([]geo.Planar, error) {
	out := make([]geo.Planar, len(pts))
	switch crs.Code {
	case WebMercator.Code:
		for i, p := range pts {
			m := project.WGS84.ToMercator(orb.Point{p.Lon, p.Lat})
			out[i] = geo.Planar{X: m.X(), Y: m.Y()}
		}
	case geo.WGS84.Code:
		for i, p := range pts {
			out[i] = geo.Planar{X: p.Lat, Y: p.Lon}
		}
	default:
		return nil, fmt.Errorf("mercator: %w: %s", ErrUnsupportedCRS, crs)
	}
	return out, ctx.Err()
}

// ToGeographic inverse-projects EPSG:3857 coordinates.
func (Mercator) ToGeographic(ctx context.Context, pts []geo.Planar, crs geo.CRS) ([]geo.LatLon, error) {
	out := make([]geo.LatLon, len(pts))
	switch crs.Code {
	case WebMercator.Code:
		for i, p := range pts {
			g := project.Mercator.ToWGS84(orb.Point{p.X, p.Y})
			out[i] = geo.LatLon{Lat: g.Lat(), Lon: g.Lon()}
		}
	case geo.WGS84.Code:
		for i, p := range pts {
			out[i] = geo.LatLon{Lat: p.X, Lon: p.Y}
		}
	default:
		return nil, fmt.Errorf("mercator: %w: %s", ErrUnsupportedCRS, crs)
	}
	return out, ctx.Err()
}

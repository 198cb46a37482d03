// Package projection adapts a coordinate projection service to the batched
// array contract used by dataset generation.
//
// Axis order follows the CRS authority: the geographic side is always
// (lat, lon) and a projected CRS returns its coordinates in the order its
// EPSG definition declares. Callers that need (easting, northing) must
// consult geo.CRS.YIsEasting.
package projection

import (
	"context"
	"errors"
	"fmt"

	"github.com/banshee-data/geosynth/internal/geo"
)

// ErrUnsupportedCRS is returned for a CRS code the projector cannot handle.
// It is a configuration error: nothing downstream can recover from it.
var ErrUnsupportedCRS = errors.New("unsupported CRS")

// Projector transforms batches of coordinates between WGS84 and a projected
// CRS. Implementations must be deterministic and safe to call from several
// goroutines at once.
type Projector interface {
	// ToPlanar projects geographic points into crs.
	ToPlanar(ctx context.Context, pts []geo.LatLon, crs geo.CRS) ([]geo.Planar, error)

	// ToGeographic inverse-projects points given in crs back to WGS84.
	ToGeographic(ctx context.Context, pts []geo.Planar, crs geo.CRS) ([]geo.LatLon, error)
}

// Validate projects a single coordinate into crs so configuration mistakes
// surface before any file is touched.
func Validate(ctx context.Context, p Projector, crs geo.CRS) error {
	if crs.Code <= 0 {
		return fmt.Errorf("%w: %s", ErrUnsupportedCRS, crs)
	}
	if _, err := p.ToPlanar(ctx, []geo.LatLon{{Lat: 0, Lon: 0}}, crs); err != nil {
		return fmt.Errorf("validate %s: %w", crs, err)
	}
	return nil
}

// ProjectOne is a convenience wrapper projecting a single point.
func ProjectOne(ctx context.Context, p Projector, pt geo.LatLon, crs geo.CRS) (geo.Planar, error) {
	out, err := p.ToPlanar(ctx, []geo.LatLon{pt}, crs)
	if err != nil {
		return geo.Planar{}, err
	}
	return out[0], nil
}

// Package proj implements projection.Projector on top of the PROJ library.
//
// Every call creates a private PROJ context and transformation object, so
// concurrent batch workers never share PROJ state.
package proj

import (
	"context"
	"fmt"

	goproj "github.com/twpayne/go-proj/v10"

	"github.com/banshee-data/geosynth/internal/geo"
	"github.com/banshee-data/geosynth/internal/projection"
)

// PROJ projects between EPSG:4326 and any EPSG-coded CRS known to the
// installed PROJ database.
type PROJ struct{}

var _ projection.Projector = PROJ{}

// ToPlanar projects (lat, lon) pairs into crs.
func (PROJ) ToPlanar(ctx context.Context, pts []geo.LatLon, crs geo.CRS) ([]geo.Planar, error) {
	coords := make([]goproj.Coord, len(pts))
	for i, p := range pts {
		coords[i] = goproj.NewCoord(p.Lat, p.Lon, 0, 0)
	}
	if err := transform(ctx, geo.WGS84, crs, coords); err != nil {
		return nil, err
	}
	out := make([]geo.Planar, len(coords))
	for i, c := range coords {
		out[i] = geo.Planar{X: c[0], Y: c[1]}
	}
	return out, nil
}

// ToGeographic inverse-projects coordinates given in crs to (lat, lon).
func (PROJ) ToGeographic(ctx context.Context, pts []geo.Planar, crs geo.CRS) ([]geo.LatLon, error) {
	coords := make([]goproj.Coord, len(pts))
	for i, p := range pts {
		coords[i] = goproj.NewCoord(p.X, p.Y, 0, 0)
	}
	if err := transform(ctx, crs, geo.WGS84, coords); err != nil {
		return nil, err
	}
	out := make([]geo.LatLon, len(coords))
	for i, c := range coords {
		out[i] = geo.LatLon{Lat: c[0], Lon: c[1]}
	}
	return out, nil
}

func transform(ctx context.Context, from, to geo.CRS, coords []goproj.Coord) error {
	if from.Code <= 0 || to.Code <= 0 {
		return fmt.Errorf("proj: %w: %s -> %s", projection.ErrUnsupportedCRS, from, to)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	pctx := goproj.NewContext()
	defer pctx.Destroy()

	pj, err := pctx.NewCRSToCRS(from.String(), to.String(), nil)
	if err != nil {
		return fmt.Errorf("proj: %w: %s -> %s: %v", projection.ErrUnsupportedCRS, from, to, err)
	}
	defer pj.Destroy()

	if len(coords) == 0 {
		return nil
	}
	if err := pj.ForwardArray(coords); err != nil {
		return fmt.Errorf("proj: transform %s -> %s: %w", from, to, err)
	}
	return nil
}

package projection

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/geosynth/internal/geo"
)

func TestMercatorRoundTrip(t *testing.T) {
	ctx := context.Background()
	pts := []geo.LatLon{
		{Lat: 40.747659, Lon: -73.98623},
		{Lat: 35.681471, Lon: 139.765617},
		{Lat: -23.546118, Lon: -46.635005},
		{Lat: 0, Lon: 0},
	}

	var m Mercator
	planar, err := m.ToPlanar(ctx, pts, WebMercator)
	require.NoError(t, err)
	require.Len(t, planar, len(pts))

	back, err := m.ToGeographic(ctx, planar, WebMercator)
	require.NoError(t, err)
	for i := range pts {
		assert.InDelta(t, pts[i].Lat, back[i].Lat, 1e-9)
		assert.InDelta(t, pts[i].Lon, back[i].Lon, 1e-9)
	}
}

func TestMercatorAxisOrder(t *testing.T) {
	// Easting grows with longitude, northing with latitude.
	out, err := Mercator{}.ToPlanar(context.Background(), []geo.LatLon{{Lat: 10, Lon: 20}}, WebMercator)
	require.NoError(t, err)
	assert.Greater(t, out[0].X, 2e6)
	assert.Greater(t, out[0].Y, 1e6)
	assert.Less(t, out[0].Y, out[0].X)
}

func TestMercatorWGS84Identity(t *testing.T) {
	out, err := Mercator{}.ToPlanar(context.Background(), []geo.LatLon{{Lat: 1, Lon: 2}}, geo.WGS84)
	require.NoError(t, err)
	assert.Equal(t, geo.Planar{X: 1, Y: 2}, out[0])
}

func TestMercatorUnsupported(t *testing.T) {
	_, err := Mercator{}.ToPlanar(context.Background(), []geo.LatLon{{}}, geo.CRS{Code: 32118})
	assert.True(t, errors.Is(err, ErrUnsupportedCRS))

	_, err = Mercator{}.ToGeographic(context.Background(), []geo.Planar{{}}, geo.CRS{Code: 6684})
	assert.True(t, errors.Is(err, ErrUnsupportedCRS))
}

func TestMercatorEmpty(t *testing.T) {
	out, err := Mercator{}.ToPlanar(context.Background(), nil, WebMercator)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestValidate(t *testing.T) {
	ctx := context.Background()
	assert.NoError(t, Validate(ctx, Mercator{}, WebMercator))
	assert.ErrorIs(t, Validate(ctx, Mercator{}, geo.CRS{Code: 0}), ErrUnsupportedCRS)
	assert.ErrorIs(t, Validate(ctx, Mercator{}, geo.CRS{Code: 24378}), ErrUnsupportedCRS)
}

func TestProjectOne(t *testing.T) {
	p, err := ProjectOne(context.Background(), Mercator{}, geo.LatLon{}, WebMercator)
	require.NoError(t, err)
	assert.True(t, math.Abs(p.X) < 1e-6 && math.Abs(p.Y) < 1e-6)
}

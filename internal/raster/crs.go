package raster

import (
	"fmt"
	"math"

	"github.com/couchcryptid/gpm-precip-etl/internal/domain"
)

const (
	epsgWGS84          = 4326
	epsgWebMercator    = 3857
	epsgWebMercatorOld = 3785
	epsgGoogleMercator = 900913
	userDefined        = 32767
	webMercatorRadius  = 6378137.0
	webMercatorMaxLat  = 85.05112877980659
)

// affine maps pixel (col, row) to model (x, y) using the GDAL geotransform
// layout: x = x0 + col*a + row*b, y = y0 + col*e + row*f.
type affine struct {
	x0, a, b float64
	y0, e, f float64
}

func (t affine) shift(dcol, drow float64) affine {
	t.x0 += dcol*t.a + drow*t.b
	t.y0 += dcol*t.e + drow*t.f
	return t
}

// inverse returns the model-to-pixel transform, computed the way GDAL's
// InvGeoTransform does. North-up grids avoid the determinant so that points
// on cell edges land exactly on whole pixel numbers.
func (t affine) inverse() (affine, bool) {
	if t.b == 0 && t.e == 0 && t.a != 0 && t.f != 0 {
		return affine{x0: -t.x0 / t.a, a: 1 / t.a, y0: -t.y0 / t.f, f: 1 / t.f}, true
	}
	det := t.a*t.f - t.b*t.e
	if det == 0 || math.IsNaN(det) || math.IsInf(det, 0) {
		return affine{}, false
	}
	inv := 1 / det
	return affine{
		x0: (t.b*t.y0 - t.x0*t.f) * inv,
		a:  t.f * inv,
		b:  -t.b * inv,
		y0: (-t.a*t.y0 + t.x0*t.e) * inv,
		e:  -t.e * inv,
		f:  t.a * inv,
	}, true
}

// apply maps (x, y) through the transform.
func (t affine) apply(x, y float64) (float64, float64) {
	return t.x0 + x*t.a + y*t.b, t.y0 + x*t.e + y*t.f
}

// projection converts EPSG:4326 longitude/latitude into the raster's model
// coordinates.
type projection interface {
	name() string
	forward(lon, lat float64) (x, y float64, err error)
}

type geographic struct{ epsg int }

func (g geographic) name() string {
	if g.epsg == 0 {
		return "EPSG:4326 (assumed)"
	}
	return fmt.Sprintf("EPSG:%d", g.epsg)
}

func (geographic) forward(lon, lat float64) (float64, float64, error) {
	return lon, lat, nil
}

// webMercator is the spherical Pseudo-Mercator used by EPSG:3857.
type webMercator struct{}

func (webMercator) name() string { return "EPSG:3857" }

func (webMercator) forward(lon, lat float64) (float64, float64, error) {
	if math.Abs(lat) > webMercatorMaxLat {
		return 0, 0, fmt.Errorf("%w: latitude %v beyond web mercator limit", domain.ErrOutOfBounds, lat)
	}
	x := webMercatorRadius * lon * math.Pi / 180
	y := webMercatorRadius * math.Log(math.Tan(math.Pi/4+lat*math.Pi/360))
	return x, y, nil
}

// projectionFor selects the transform for a parsed header. Rasters without a
// GeoKey directory are treated as EPSG:4326, like the plate carrée products
// they usually are.
func projectionFor(h header) (projection, error) {
	if !h.hasGeoKeys {
		return geographic{}, nil
	}
	switch h.modelType {
	case modelTypeGeographic, 0:
		switch h.epsg {
		case epsgWGS84, 0, userDefined:
			return geographic{epsg: epsgWGS84}, nil
		}
		return nil, fmt.Errorf("unsupported geographic CRS EPSG:%d", h.epsg)
	case modelTypeProjected:
		switch h.epsg {
		case epsgWebMercator, epsgWebMercatorOld, epsgGoogleMercator:
			return webMercator{}, nil
		}
		return nil, fmt.Errorf("unsupported projected CRS EPSG:%d", h.epsg)
	default:
		return nil, fmt.Errorf("unsupported model type %d", h.modelType)
	}
}

// Package raster reads single-band GeoTIFF granules and samples them at
// geographic coordinates.
package raster

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"math"
	"os"

	"golang.org/x/image/tiff"

	"github.com/couchcryptid/gpm-precip-etl/internal/domain"
)

const (
	sampleFormatUint  = 1
	sampleFormatInt   = 2
	sampleFormatFloat = 3
)

// Raster is a decoded, georeferenced single-band grid held in memory.
// Unsigned 8 and 16 bit grids are decoded into img; every other sample type
// is kept as raw strip bytes in pixels.
type Raster struct {
	width, height int
	inverse       affine
	proj          projection
	noData        *float64

	img image.Image

	pixels        []byte
	order         binary.ByteOrder
	sampleFormat  int
	bytesPerPixel int
}

// Open reads and decodes the GeoTIFF at path. Every failure wraps
// domain.ErrCorruptRaster.
func Open(path string) (*Raster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrCorruptRaster, err)
	}
	return Decode(data)
}

// Decode parses an in-memory GeoTIFF.
func Decode(data []byte) (*Raster, error) {
	h, err := parseHeader(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrCorruptRaster, err)
	}
	proj, err := projectionFor(h)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrCorruptRaster, err)
	}
	inv, ok := h.transform.inverse()
	if !ok {
		return nil, fmt.Errorf("%w: degenerate geotransform", domain.ErrCorruptRaster)
	}

	r := &Raster{
		width:         h.width,
		height:        h.height,
		inverse:       inv,
		proj:          proj,
		noData:        h.noData,
		order:         h.order,
		sampleFormat:  h.sampleFormat,
		bytesPerPixel: h.bitsPerSample / 8,
	}

	if h.sampleFormat == sampleFormatUint && (h.bitsPerSample == 8 || h.bitsPerSample == 16) {
		img, err := tiff.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("%w: decode pixels: %w", domain.ErrCorruptRaster, err)
		}
		if b := img.Bounds(); b.Dx() != h.width || b.Dy() != h.height {
			return nil, fmt.Errorf("%w: decoded %dx%d, header says %dx%d",
				domain.ErrCorruptRaster, b.Dx(), b.Dy(), h.width, h.height)
		}
		r.img = img
		return r, nil
	}

	if !supportedSample(h.sampleFormat, h.bitsPerSample) {
		return nil, fmt.Errorf("%w: unsupported sample format %d with %d bits",
			domain.ErrCorruptRaster, h.sampleFormat, h.bitsPerSample)
	}
	if r.pixels, err = readStrips(data, h); err != nil {
		return nil, fmt.Errorf("%w: decode pixels: %w", domain.ErrCorruptRaster, err)
	}
	return r, nil
}

// CRS names the raster's reference system.
func (r *Raster) CRS() string {
	return r.proj.name()
}

// Size returns the grid dimensions in pixels.
func (r *Raster) Size() (width, height int) {
	return r.width, r.height
}

// ValueAt returns the value of the cell covering the EPSG:4326 coordinate.
// A point on a cell edge belongs to the cell to its right and below. It fails
// with domain.ErrOutOfBounds outside the grid and domain.ErrAbsent on nodata
// cells.
func (r *Raster) ValueAt(lon, lat float64) (float64, error) {
	x, y, err := r.proj.forward(lon, lat)
	if err != nil {
		return 0, err
	}
	fcol, frow := r.inverse.apply(x, y)
	if math.IsNaN(fcol) || math.IsNaN(frow) {
		return 0, fmt.Errorf("%w: (%v, %v) has no pixel", domain.ErrOutOfBounds, lon, lat)
	}
	fcol, frow = math.Floor(fcol), math.Floor(frow)
	if fcol < 0 || frow < 0 || fcol >= float64(r.width) || frow >= float64(r.height) {
		return 0, fmt.Errorf("%w: (%v, %v) maps to pixel (%v, %v) of %dx%d",
			domain.ErrOutOfBounds, lon, lat, fcol, frow, r.width, r.height)
	}

	v := r.pixel(int(fcol), int(frow))
	if r.isNoData(v) {
		return 0, fmt.Errorf("%w: nodata at (%v, %v)", domain.ErrAbsent, lon, lat)
	}
	if r.sampleFormat == sampleFormatFloat {
		return math.Round(v*100) / 100, nil
	}
	return v, nil
}

// isNoData compares v with the nodata value at the precision of the samples,
// like GDAL does for float32 bands. NaN is always nodata.
func (r *Raster) isNoData(v float64) bool {
	if math.IsNaN(v) {
		return true
	}
	if r.noData == nil {
		return false
	}
	if r.sampleFormat == sampleFormatFloat && r.bytesPerPixel == 4 {
		return float32(v) == float32(*r.noData)
	}
	return v == *r.noData
}

func (r *Raster) pixel(col, row int) float64 {
	if r.img == nil {
		return r.rawPixel(row*r.width + col)
	}
	b := r.img.Bounds()
	x, y := b.Min.X+col, b.Min.Y+row
	switch img := r.img.(type) {
	case *image.Gray16:
		return float64(img.Gray16At(x, y).Y)
	case *image.Gray:
		return float64(img.GrayAt(x, y).Y)
	default:
		return float64(color.Gray16Model.Convert(img.At(x, y)).(color.Gray16).Y)
	}
}

func (r *Raster) rawPixel(i int) float64 {
	p := r.pixels[i*r.bytesPerPixel:]
	switch r.sampleFormat {
	case sampleFormatInt:
		switch r.bytesPerPixel {
		case 1:
			return float64(int8(p[0]))
		case 2:
			return float64(int16(r.order.Uint16(p)))
		default:
			return float64(int32(r.order.Uint32(p)))
		}
	case sampleFormatFloat:
		if r.bytesPerPixel == 4 {
			return float64(math.Float32frombits(r.order.Uint32(p)))
		}
		return math.Float64frombits(r.order.Uint64(p))
	default:
		return float64(r.order.Uint32(p))
	}
}

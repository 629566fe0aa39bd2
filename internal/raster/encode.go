package raster

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
)

// Grid describes a north-up single-band 16-bit raster to encode.
type Grid struct {
	Width, Height int

	// OriginX and OriginY locate the outer corner of the top-left pixel in
	// model units (degrees for EPSG:4326, meters for EPSG:3857).
	OriginX, OriginY float64
	PixelSize        float64

	// EPSG is 4326 or 3857. Zero means 4326.
	EPSG int

	// NoData is written as GDAL_NODATA when set.
	NoData *float64

	// Values holds Width*Height samples in row-major order.
	Values []uint16
}

// GlobalGrid returns a 0.1 degree plate carrée grid covering the globe with
// every cell set to value, the shape of an IMERG GIS granule.
func GlobalGrid(value uint16) Grid {
	g := Grid{Width: 3600, Height: 1800, OriginX: -180, OriginY: 90, PixelSize: 0.1, EPSG: epsgWGS84}
	g.Values = make([]uint16, g.Width*g.Height)
	for i := range g.Values {
		g.Values[i] = value
	}
	return g
}

type tiffField struct {
	tag   uint16
	typ   uint16
	count uint32
	data  []byte
}

// Encode writes g as an uncompressed little-endian GeoTIFF.
func Encode(w io.Writer, g Grid) error {
	if g.Width <= 0 || g.Height <= 0 {
		return errors.New("encode geotiff: empty grid")
	}
	if len(g.Values) != g.Width*g.Height {
		return fmt.Errorf("encode geotiff: %d values for %dx%d grid", len(g.Values), g.Width, g.Height)
	}
	if g.PixelSize <= 0 {
		return errors.New("encode geotiff: pixel size must be positive")
	}

	pixels := make([]byte, len(g.Values)*2)
	for i, v := range g.Values {
		binary.LittleEndian.PutUint16(pixels[2*i:], v)
	}
	return encodeStrip(w, g, sampleLayout{format: sampleFormatUint, bits: 16, compression: compressionNone}, pixels)
}

// sampleLayout describes how the pixel bytes handed to encodeStrip are stored.
type sampleLayout struct {
	format      uint16
	bits        uint16
	compression uint16
}

// encodeStrip writes g's georeferencing around a single strip of already
// encoded pixel bytes. g.Values is ignored.
func encodeStrip(w io.Writer, g Grid, s sampleLayout, pixels []byte) error {
	le := binary.LittleEndian
	pixelBytes := uint32(len(pixels))
	const pixelOffset = 8

	fields := []tiffField{
		longField(tagImageWidth, uint32(g.Width)),
		longField(tagImageLength, uint32(g.Height)),
		shortField(tagBitsPerSample, s.bits),
		shortField(tagCompression, s.compression),
		shortField(tagPhotometric, 1),
		longField(tagStripOffsets, pixelOffset),
		shortField(tagSamplesPerPixel, 1),
		longField(tagRowsPerStrip, uint32(g.Height)),
		longField(tagStripByteCounts, pixelBytes),
		shortField(tagPlanarConfig, 1),
		shortField(tagSampleFormat, s.format),
		doubleField(tagModelPixelScale, g.PixelSize, g.PixelSize, 0),
		doubleField(tagModelTiepoint, 0, 0, 0, g.OriginX, g.OriginY, 0),
		shortField(tagGeoKeyDirectory, geoKeys(g.EPSG)...),
	}
	if g.NoData != nil {
		nd := strconv.FormatFloat(*g.NoData, 'f', -1, 64) + "\x00"
		fields = append(fields, tiffField{tag: tagGDALNoData, typ: typeASCII, count: uint32(len(nd)), data: []byte(nd)})
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].tag < fields[j].tag })

	if len(pixels)%2 == 1 {
		pixels = append(pixels[:len(pixels):len(pixels)], 0)
	}
	ifdOffset := pixelOffset + uint32(len(pixels))
	ifdSize := uint32(2 + 12*len(fields) + 4)
	extraOffset := ifdOffset + ifdSize

	var ifd, extra bytes.Buffer
	_ = binary.Write(&ifd, le, uint16(len(fields)))
	for _, f := range fields {
		_ = binary.Write(&ifd, le, f.tag)
		_ = binary.Write(&ifd, le, f.typ)
		_ = binary.Write(&ifd, le, f.count)
		if len(f.data) <= 4 {
			var inline [4]byte
			copy(inline[:], f.data)
			ifd.Write(inline[:])
			continue
		}
		if extra.Len()%2 == 1 {
			extra.WriteByte(0)
		}
		_ = binary.Write(&ifd, le, extraOffset+uint32(extra.Len()))
		extra.Write(f.data)
	}
	_ = binary.Write(&ifd, le, uint32(0))

	var hdr [8]byte
	copy(hdr[:2], "II")
	le.PutUint16(hdr[2:], 42)
	le.PutUint32(hdr[4:], ifdOffset)

	for _, chunk := range [][]byte{hdr[:], pixels, ifd.Bytes(), extra.Bytes()} {
		if _, err := w.Write(chunk); err != nil {
			return fmt.Errorf("encode geotiff: %w", err)
		}
	}
	return nil
}

func geoKeys(epsg int) []uint16 {
	if epsg == epsgWebMercator {
		return []uint16{
			1, 1, 0, 3,
			keyModelType, 0, 1, modelTypeProjected,
			keyRasterType, 0, 1, 1,
			keyProjectedType, 0, 1, epsgWebMercator,
		}
	}
	return []uint16{
		1, 1, 0, 3,
		keyModelType, 0, 1, modelTypeGeographic,
		keyRasterType, 0, 1, 1,
		keyGeographicType, 0, 1, epsgWGS84,
	}
}

func shortField(tag uint16, values ...uint16) tiffField {
	data := make([]byte, 2*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint16(data[2*i:], v)
	}
	return tiffField{tag: tag, typ: typeShort, count: uint32(len(values)), data: data}
}

func longField(tag uint16, v uint32) tiffField {
	data := make([]byte, 4)
	binary.LittleEndian.PutUint32(data, v)
	return tiffField{tag: tag, typ: typeLong, count: 1, data: data}
}

func doubleField(tag uint16, values ...float64) tiffField {
	data := make([]byte, 8*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint64(data[8*i:], math.Float64bits(v))
	}
	return tiffField{tag: tag, typ: typeDouble, count: uint32(len(values)), data: data}
}

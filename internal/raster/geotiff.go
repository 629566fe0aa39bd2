package raster

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	gtiff "github.com/google/tiff"
)

// TIFF and GeoTIFF tags read from the first IFD.
const (
	tagImageWidth      = 256
	tagImageLength     = 257
	tagBitsPerSample   = 258
	tagCompression     = 259
	tagPhotometric     = 262
	tagStripOffsets    = 273
	tagSamplesPerPixel = 277
	tagRowsPerStrip    = 278
	tagStripByteCounts = 279
	tagPlanarConfig    = 284
	tagPredictor       = 317
	tagTileWidth       = 322
	tagSampleFormat    = 339

	tagModelPixelScale = 33550
	tagModelTiepoint   = 33922
	tagModelTransform  = 34264
	tagGeoKeyDirectory = 34735
	tagGDALNoData      = 42113
)

// GeoKeys used to identify the raster's reference system.
const (
	keyModelType      = 1024
	keyRasterType     = 1025
	keyGeographicType = 2048
	keyProjectedType  = 3072

	modelTypeProjected  = 1
	modelTypeGeographic = 2
	rasterPixelIsPoint  = 2
)

// Compression schemes read by the strip decoder.
const (
	compressionNone       = 1
	compressionLZW        = 5
	compressionDeflate    = 8
	compressionDeflateOld = 32946
)

// TIFF field types.
const (
	typeByte      = 1
	typeASCII     = 2
	typeShort     = 3
	typeLong      = 4
	typeRational  = 5
	typeSByte     = 6
	typeUndefined = 7
	typeSShort    = 8
	typeSLong     = 9
	typeSRational = 10
	typeFloat     = 11
	typeDouble    = 12
)

var typeSize = map[uint16]uint32{
	typeByte: 1, typeASCII: 1, typeShort: 2, typeLong: 4, typeRational: 8,
	typeSByte: 1, typeUndefined: 1, typeSShort: 2, typeSLong: 4, typeSRational: 8,
	typeFloat: 4, typeDouble: 8,
}

type ifdEntry struct {
	typ   uint16
	count uint32
	data  []byte
}

// header is the georeferencing and layout metadata of a GeoTIFF.
type header struct {
	order         binary.ByteOrder
	width, height int
	bitsPerSample int
	sampleFormat  int
	transform     affine
	hasGeoKeys    bool
	modelType     int
	rasterType    int
	epsg          int
	noData        *float64
	strips        stripLayout
}

// stripLayout locates the pixel data of a strip-organised image.
type stripLayout struct {
	compression     int
	predictor       int
	samplesPerPixel int
	rowsPerStrip    int
	tiled           bool
	offsets         []uint64
	byteCounts      []uint64
}

// parseHeader reads the first IFD of a classic (non-Big) TIFF.
func parseHeader(data []byte) (header, error) {
	if len(data) < 8 {
		return header{}, errors.New("file too short for a TIFF header")
	}
	if (string(data[:2]) == "II" && data[2] == 43) || (string(data[:2]) == "MM" && data[3] == 43) {
		return header{}, errors.New("BigTIFF is not supported")
	}

	t, err := gtiff.Parse(bytes.NewReader(data), nil, nil)
	if err != nil {
		return header{}, fmt.Errorf("parse tiff: %w", err)
	}
	ifds := t.IFDs()
	if len(ifds) == 0 {
		return header{}, errors.New("tiff has no image directory")
	}
	order := byteOrder(t.Order())
	entries, err := collectEntries(ifds[0])
	if err != nil {
		return header{}, err
	}

	h := header{order: order, sampleFormat: 1, bitsPerSample: 1}
	if h.width, err = entryInt(entries, order, tagImageWidth); err != nil {
		return header{}, err
	}
	if h.height, err = entryInt(entries, order, tagImageLength); err != nil {
		return header{}, err
	}
	if h.bitsPerSample, err = optionalInt(entries, order, tagBitsPerSample, 1); err != nil {
		return header{}, err
	}
	if h.sampleFormat, err = optionalInt(entries, order, tagSampleFormat, sampleFormatUint); err != nil {
		return header{}, err
	}
	if h.strips, err = readStripLayout(entries, order, h.height); err != nil {
		return header{}, err
	}

	if h.transform, err = geoTransform(entries, order); err != nil {
		return header{}, err
	}

	if e, ok := entries[tagGeoKeyDirectory]; ok {
		keys, err := shorts(e, order)
		if err != nil {
			return header{}, fmt.Errorf("geokey directory: %w", err)
		}
		if err := h.applyGeoKeys(keys); err != nil {
			return header{}, err
		}
	}
	if h.rasterType == rasterPixelIsPoint {
		h.transform = h.transform.shift(-0.5, -0.5)
	}

	if e, ok := entries[tagGDALNoData]; ok {
		s := strings.TrimSpace(strings.TrimRight(string(e.data), "\x00"))
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			h.noData = &v
		}
	}
	return h, nil
}

func byteOrder(mark string) binary.ByteOrder {
	if mark == "MM" {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// collectEntries copies the fields of ifd into raw entries, rejecting values
// shorter than their declared count.
func collectEntries(ifd gtiff.IFD) (map[uint16]ifdEntry, error) {
	fields := ifd.Fields()
	entries := make(map[uint16]ifdEntry, len(fields))
	for _, f := range fields {
		tag, typ := f.Tag().ID(), f.Type().ID()
		size, ok := typeSize[typ]
		if !ok {
			continue
		}
		count := uint64(f.Count())
		data := f.Value().Bytes()
		if uint64(len(data)) < count*uint64(size) {
			return nil, fmt.Errorf("tag %d value truncated", tag)
		}
		entries[tag] = ifdEntry{typ: typ, count: uint32(count), data: data}
	}
	return entries, nil
}

func readStripLayout(entries map[uint16]ifdEntry, order binary.ByteOrder, height int) (stripLayout, error) {
	var (
		l   stripLayout
		err error
	)
	if l.compression, err = optionalInt(entries, order, tagCompression, compressionNone); err != nil {
		return l, err
	}
	if l.predictor, err = optionalInt(entries, order, tagPredictor, 1); err != nil {
		return l, err
	}
	if l.samplesPerPixel, err = optionalInt(entries, order, tagSamplesPerPixel, 1); err != nil {
		return l, err
	}
	if l.rowsPerStrip, err = optionalInt(entries, order, tagRowsPerStrip, height); err != nil {
		return l, err
	}
	if l.rowsPerStrip <= 0 || l.rowsPerStrip > height {
		l.rowsPerStrip = height
	}
	if _, ok := entries[tagTileWidth]; ok {
		l.tiled = true
		return l, nil
	}
	if e, ok := entries[tagStripOffsets]; ok {
		if l.offsets, err = uints(e, order); err != nil {
			return l, fmt.Errorf("strip offsets: %w", err)
		}
	}
	if e, ok := entries[tagStripByteCounts]; ok {
		if l.byteCounts, err = uints(e, order); err != nil {
			return l, fmt.Errorf("strip byte counts: %w", err)
		}
	}
	if len(l.offsets) == 0 || len(l.offsets) != len(l.byteCounts) {
		return l, errors.New("missing or inconsistent strip tags")
	}
	return l, nil
}

func optionalInt(entries map[uint16]ifdEntry, order binary.ByteOrder, tag uint16, def int) (int, error) {
	if _, ok := entries[tag]; !ok {
		return def, nil
	}
	return entryInt(entries, order, tag)
}

func entryInt(entries map[uint16]ifdEntry, order binary.ByteOrder, tag uint16) (int, error) {
	e, ok := entries[tag]
	if !ok || e.count == 0 {
		return 0, fmt.Errorf("missing tag %d", tag)
	}
	switch e.typ {
	case typeByte:
		return int(e.data[0]), nil
	case typeShort:
		return int(order.Uint16(e.data)), nil
	case typeLong:
		return int(order.Uint32(e.data)), nil
	default:
		return 0, fmt.Errorf("tag %d: unexpected type %d", tag, e.typ)
	}
}

func shorts(e ifdEntry, order binary.ByteOrder) ([]uint16, error) {
	if e.typ != typeShort {
		return nil, fmt.Errorf("expected SHORT values, got type %d", e.typ)
	}
	out := make([]uint16, e.count)
	for i := range out {
		out[i] = order.Uint16(e.data[2*i:])
	}
	return out, nil
}

func uints(e ifdEntry, order binary.ByteOrder) ([]uint64, error) {
	out := make([]uint64, e.count)
	for i := range out {
		switch e.typ {
		case typeShort:
			out[i] = uint64(order.Uint16(e.data[2*i:]))
		case typeLong:
			out[i] = uint64(order.Uint32(e.data[4*i:]))
		default:
			return nil, fmt.Errorf("expected SHORT or LONG values, got type %d", e.typ)
		}
	}
	return out, nil
}

func doubles(e ifdEntry, order binary.ByteOrder) ([]float64, error) {
	if e.typ != typeDouble {
		return nil, fmt.Errorf("expected DOUBLE values, got type %d", e.typ)
	}
	out := make([]float64, e.count)
	for i := range out {
		out[i] = math.Float64frombits(order.Uint64(e.data[8*i:]))
	}
	return out, nil
}

// geoTransform builds the pixel-to-model transform from either
// ModelTransformationTag or ModelTiepointTag plus ModelPixelScaleTag.
func geoTransform(entries map[uint16]ifdEntry, order binary.ByteOrder) (affine, error) {
	if e, ok := entries[tagModelTransform]; ok {
		m, err := doubles(e, order)
		if err != nil || len(m) < 16 {
			return affine{}, errors.New("invalid model transformation")
		}
		return affine{m[3], m[0], m[1], m[7], m[4], m[5]}, nil
	}

	tpEntry, okTP := entries[tagModelTiepoint]
	scEntry, okSC := entries[tagModelPixelScale]
	if !okTP || !okSC {
		return affine{}, errors.New("no georeferencing tags")
	}
	tp, err := doubles(tpEntry, order)
	if err != nil || len(tp) < 6 {
		return affine{}, errors.New("invalid model tiepoint")
	}
	sc, err := doubles(scEntry, order)
	if err != nil || len(sc) < 2 || sc[0] == 0 || sc[1] == 0 {
		return affine{}, errors.New("invalid model pixel scale")
	}
	i, j, x, y := tp[0], tp[1], tp[3], tp[4]
	return affine{x - i*sc[0], sc[0], 0, y + j*sc[1], 0, -sc[1]}, nil
}

func (h *header) applyGeoKeys(keys []uint16) error {
	if len(keys) < 4 {
		return errors.New("geokey directory too short")
	}
	n := int(keys[3])
	if len(keys) < 4+4*n {
		return errors.New("geokey directory truncated")
	}
	h.hasGeoKeys = true
	for i := 0; i < n; i++ {
		k := keys[4+4*i : 8+4*i]
		id, location, value := k[0], k[1], k[3]
		if location != 0 {
			// Values stored in GeoDoubleParams or GeoAsciiParams are not
			// needed to identify the supported reference systems.
			continue
		}
		switch id {
		case keyModelType:
			h.modelType = int(value)
		case keyRasterType:
			h.rasterType = int(value)
		case keyGeographicType:
			if h.modelType != modelTypeProjected {
				h.epsg = int(value)
			}
		case keyProjectedType:
			h.epsg = int(value)
		}
	}
	return nil
}

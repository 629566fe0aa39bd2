package raster

import (
	"bytes"
	"compress/zlib"
	"errors"
	"fmt"
	"io"

	"golang.org/x/image/tiff/lzw"
)

// supportedSample reports whether the strip decoder can read the sample type.
// Unsigned 8 and 16 bit samples go through golang.org/x/image/tiff instead.
func supportedSample(format, bits int) bool {
	switch format {
	case sampleFormatInt:
		return bits == 8 || bits == 16 || bits == 32
	case sampleFormatFloat:
		return bits == 32 || bits == 64
	case sampleFormatUint:
		return bits == 32
	}
	return false
}

// readStrips concatenates the decompressed strips of a single-band image.
func readStrips(data []byte, h header) ([]byte, error) {
	l := h.strips
	switch {
	case l.tiled:
		return nil, errors.New("tiled images are not supported")
	case l.samplesPerPixel != 1:
		return nil, fmt.Errorf("%d samples per pixel, want 1", l.samplesPerPixel)
	case l.predictor != 1:
		return nil, fmt.Errorf("predictor %d is not supported", l.predictor)
	}

	rowBytes := h.width * h.bitsPerSample / 8
	want := rowBytes * h.height
	out := make([]byte, 0, want)
	for i, off := range l.offsets {
		n := l.byteCounts[i]
		if off+n > uint64(len(data)) {
			return nil, fmt.Errorf("strip %d out of range", i)
		}
		raw := data[off : off+n]

		rows := min(l.rowsPerStrip, h.height-i*l.rowsPerStrip)
		if rows <= 0 {
			break
		}
		strip, err := decompress(raw, l.compression, rows*rowBytes)
		if err != nil {
			return nil, fmt.Errorf("strip %d: %w", i, err)
		}
		out = append(out, strip...)
	}
	if len(out) < want {
		return nil, fmt.Errorf("pixel data truncated: %d of %d bytes", len(out), want)
	}
	return out[:want], nil
}

func decompress(raw []byte, compression, size int) ([]byte, error) {
	var r io.Reader
	switch compression {
	case compressionNone:
		if len(raw) < size {
			return nil, fmt.Errorf("%d of %d bytes", len(raw), size)
		}
		return raw[:size], nil
	case compressionLZW:
		lr := lzw.NewReader(bytes.NewReader(raw), lzw.MSB, 8)
		defer lr.Close()
		r = lr
	case compressionDeflate, compressionDeflateOld:
		zr, err := zlib.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		r = zr
	default:
		return nil, fmt.Errorf("compression %d is not supported", compression)
	}

	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("decompress: %w", err)
	}
	return buf, nil
}

package domain

import "errors"

// Setup errors abort the run. The remaining errors are absorbed per granule or
// per station and degrade to a zero contribution.
var (
	ErrMalformedInput   = errors.New("malformed input")
	ErrDuplicateStation = errors.New("duplicate station")
	ErrInvalidRange     = errors.New("invalid date range")

	ErrAbsent        = errors.New("granule absent")
	ErrFetch         = errors.New("fetch failed")
	ErrOutOfBounds   = errors.New("coordinate outside raster extent")
	ErrCorruptRaster = errors.New("corrupt raster")
)

// IsGranuleError reports whether err is one of the recoverable granule-level
// errors that the pipeline absorbs as a zero contribution.
func IsGranuleError(err error) bool {
	return errors.Is(err, ErrAbsent) || errors.Is(err, ErrFetch) || errors.Is(err, ErrCorruptRaster)
}

// GranuleOutcome classifies how a granule was resolved, for logs and metrics.
func GranuleOutcome(err error) string {
	switch {
	case err == nil:
		return "present"
	case errors.Is(err, ErrCorruptRaster):
		return "corrupt"
	case errors.Is(err, ErrFetch):
		return "failed"
	case errors.Is(err, ErrAbsent):
		return "absent"
	default:
		return "error"
	}
}

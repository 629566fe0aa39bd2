package raster

import (
	"context"
	"errors"
	"log/slog"

	"github.com/couchcryptid/gpm-precip-etl/internal/domain"
	"github.com/couchcryptid/gpm-precip-etl/internal/observability"
)

// Sampler reads station values from downloaded granules.
type Sampler struct {
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewSampler creates a Sampler.
func NewSampler(logger *slog.Logger, metrics *observability.Metrics) *Sampler {
	return &Sampler{logger: logger, metrics: metrics}
}

// Sample opens rf and returns the value under each station that falls inside
// the raster on a data cell. Stations out of bounds or on nodata are omitted
// and contribute nothing. An unreadable raster fails the whole granule with
// domain.ErrCorruptRaster.
func (s *Sampler) Sample(ctx context.Context, rf domain.RasterFile, stations []domain.Station) (map[string]float64, error) {
	r, err := Open(rf.Path)
	if err != nil {
		return nil, err
	}

	values := make(map[string]float64, len(stations))
	for _, st := range stations {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		v, err := r.ValueAt(st.Lon, st.Lat)
		switch {
		case err == nil:
			values[st.ID] = v
			s.metrics.Samples.WithLabelValues("present").Inc()
		case errors.Is(err, domain.ErrOutOfBounds):
			s.metrics.Samples.WithLabelValues("out_of_bounds").Inc()
			s.logger.Debug("station outside raster", "station", st.ID, "granule", rf.Name, "error", err)
		case errors.Is(err, domain.ErrAbsent):
			s.metrics.Samples.WithLabelValues("nodata").Inc()
			s.logger.Debug("station on nodata cell", "station", st.ID, "granule", rf.Name)
		default:
			return nil, err
		}
	}
	return values, nil
}

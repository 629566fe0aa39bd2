package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "gpm_etl"

// Metrics holds the Prometheus counters, histograms, and gauges for a run.
type Metrics struct {
	PipelineRunning prometheus.Gauge
	DaysProcessed   prometheus.Counter
	RowsWritten     prometheus.Counter
	DayDuration     prometheus.Histogram

	// Granule resolution metrics.
	Granules        *prometheus.CounterVec // labels: outcome={present,cached,absent,failed,corrupt}
	FetchRetries    prometheus.Counter
	FetchDuration   prometheus.Histogram
	BytesDownloaded prometheus.Counter

	// Sampling metrics.
	Samples      *prometheus.CounterVec // labels: outcome={present,out_of_bounds,nodata}
	CacheLookups *prometheus.CounterVec // labels: result={hit,miss,error}
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.PipelineRunning,
		m.DaysProcessed,
		m.RowsWritten,
		m.DayDuration,
		m.Granules,
		m.FetchRetries,
		m.FetchDuration,
		m.BytesDownloaded,
		m.Samples,
		m.CacheLookups,
	)
	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      "1 while a run is in progress, 0 otherwise.",
		}),
		DaysProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "days_processed_total",
			Help:      "Requested days whose totals were written.",
		}),
		RowsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_written_total",
			Help:      "Daily total rows handed to the loaders.",
		}),
		DayDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "day_duration_seconds",
			Help:      "Time to resolve, sample and write one day.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		Granules: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "granules_total",
			Help:      "Granules resolved by outcome.",
		}, []string{"outcome"}),
		FetchRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_retries_total",
			Help:      "Download attempts retried after a transient failure.",
		}),
		FetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Duration of a successful granule download, retries included.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		BytesDownloaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "downloaded_bytes_total",
			Help:      "Bytes of granule data written to local storage.",
		}),
		Samples: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_total",
			Help:      "Station samples by outcome.",
		}, []string{"outcome"}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sample_cache_lookups_total",
			Help:      "Sample cache lookups by result.",
		}, []string{"result"}),
	}
}

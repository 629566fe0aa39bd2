package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/gpm-precip-etl/internal/domain"
	"github.com/couchcryptid/gpm-precip-etl/internal/observability"
)

// Fetcher makes granules available on local storage.
type Fetcher interface {
	Fetch(ctx context.Context, g domain.Granule) (domain.RasterFile, error)
	Release(rf domain.RasterFile) error
	// Discard removes the local copy of rf even when files are retained.
	Discard(rf domain.RasterFile) error
}

// Sampler reads station values from a local granule. Stations without a
// value are omitted from the result.
type Sampler interface {
	Sample(ctx context.Context, rf domain.RasterFile, stations []domain.Station) (map[string]float64, error)
}

// SampleCache remembers the samples of granules resolved in earlier runs.
type SampleCache interface {
	Lookup(ctx context.Context, g domain.Granule, stations []domain.Station) (map[string]float64, bool, error)
	Store(ctx context.Context, g domain.Granule, stations []domain.Station, values map[string]float64) error
}

// Loader receives each day's totals, in station order, once the day is
// complete.
type Loader interface {
	LoadBatch(ctx context.Context, totals []domain.DailyTotal) error
	Name() string
}

// ErrorRecorder keeps a per-day list of granules that could not contribute.
type ErrorRecorder interface {
	Record(day time.Time, messages []string) error
}

// Request is one run over an inclusive date range.
type Request struct {
	Start    time.Time
	End      time.Time
	Stations []domain.Station
}

// GranuleCounts tallies granule resolution outcomes.
type GranuleCounts struct {
	Present int `json:"present"`
	Cached  int `json:"cached"`
	Absent  int `json:"absent"`
	Failed  int `json:"failed"`
	Corrupt int `json:"corrupt"`
}

func (c *GranuleCounts) add(outcome string) {
	switch outcome {
	case outcomePresent:
		c.Present++
	case outcomeCached:
		c.Cached++
	case "absent":
		c.Absent++
	case "failed":
		c.Failed++
	default:
		c.Corrupt++
	}
}

func (c *GranuleCounts) merge(o GranuleCounts) {
	c.Present += o.Present
	c.Cached += o.Cached
	c.Absent += o.Absent
	c.Failed += o.Failed
	c.Corrupt += o.Corrupt
}

// Summary describes a finished (or aborted) run.
type Summary struct {
	Days     int           `json:"days"`
	Stations int           `json:"stations"`
	Rows     int           `json:"rows"`
	Granules GranuleCounts `json:"granules"`
	Elapsed  time.Duration `json:"elapsed"`
}

// Progress is a point-in-time view of a running pipeline.
type Progress struct {
	Running    bool          `json:"running"`
	DaysTotal  int           `json:"days_total"`
	DaysDone   int           `json:"days_done"`
	CurrentDay string        `json:"current_day,omitempty"`
	Granules   GranuleCounts `json:"granules"`
}

const (
	outcomePresent = "present"
	outcomeCached  = "cached"
)

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithWorkers bounds the number of granules resolved concurrently.
func WithWorkers(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithCache consults c before fetching and stores fresh samples in it.
func WithCache(c SampleCache) Option {
	return func(p *Pipeline) { p.cache = c }
}

// WithErrorRecorder reports degraded granules to r.
func WithErrorRecorder(r ErrorRecorder) Option {
	return func(p *Pipeline) { p.errs = r }
}

// Pipeline resolves the APD windows of a date range and hands the daily
// totals to its loaders.
type Pipeline struct {
	fetcher Fetcher
	sampler Sampler
	loaders []Loader
	cache   SampleCache
	errs    ErrorRecorder
	workers int
	logger  *slog.Logger
	metrics *observability.Metrics
	ready   atomic.Bool

	mu       sync.Mutex
	progress Progress
}

// New creates a Pipeline with the given stages and observability.
func New(f Fetcher, s Sampler, loaders []Loader, logger *slog.Logger, metrics *observability.Metrics, opts ...Option) *Pipeline {
	p := &Pipeline{
		fetcher: f,
		sampler: s,
		loaders: loaders,
		workers: 4,
		logger:  logger,
		metrics: metrics,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// CheckReadiness returns nil once the first day has been written, or an
// error describing why the run is not yet ready.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("pipeline has not written any day yet")
	}
	return nil
}

// Progress returns a snapshot of the current run.
func (p *Pipeline) Progress() Progress {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.progress
}

// Run processes every day of req in order. Granule-level failures are
// absorbed as zero contributions; setup errors, loader errors and context
// cancellation abort the run.
func (p *Pipeline) Run(ctx context.Context, req Request) (Summary, error) {
	summary := Summary{Stations: len(req.Stations)}
	if len(req.Stations) == 0 {
		return summary, fmt.Errorf("%w: no stations", domain.ErrMalformedInput)
	}
	days, err := domain.Granules(req.Start, req.End)
	if err != nil {
		return summary, err
	}

	started := domain.Now()
	total := domain.DayCount(req.Start, req.End)
	p.setProgress(func(pr *Progress) { *pr = Progress{Running: true, DaysTotal: total} })
	p.metrics.PipelineRunning.Set(1)
	defer func() {
		p.metrics.PipelineRunning.Set(0)
		p.setProgress(func(pr *Progress) { pr.Running = false; pr.CurrentDay = "" })
	}()

	p.logger.Info("pipeline started",
		"start", req.Start.Format(domain.DateLayout),
		"end", req.End.Format(domain.DateLayout),
		"days", total,
		"stations", len(req.Stations),
		"workers", p.workers,
	)

	for day, window := range days {
		if err := ctx.Err(); err != nil {
			summary.Elapsed = domain.Now().Sub(started)
			return summary, err
		}
		p.setProgress(func(pr *Progress) { pr.CurrentDay = day.Format(domain.DateLayout) })

		counts, rows, err := p.processDay(ctx, day, window, req.Stations)
		summary.Granules.merge(counts)
		if err != nil {
			summary.Elapsed = domain.Now().Sub(started)
			return summary, err
		}
		summary.Days++
		summary.Rows += rows
	}

	summary.Elapsed = domain.Now().Sub(started)
	p.logger.Info("pipeline finished",
		"days", summary.Days,
		"rows", summary.Rows,
		"granules_present", summary.Granules.Present,
		"granules_cached", summary.Granules.Cached,
		"granules_absent", summary.Granules.Absent,
		"granules_failed", summary.Granules.Failed,
		"granules_corrupt", summary.Granules.Corrupt,
		"elapsed", summary.Elapsed,
	)
	return summary, nil
}

type granuleResult struct {
	values  map[string]float64
	outcome string
	err     error
}

// processDay resolves all 48 granules of day with bounded parallelism and
// writes the day's totals once every granule is resolved.
func (p *Pipeline) processDay(ctx context.Context, day time.Time, window [domain.GranulesPerDay]domain.Granule, stations []domain.Station) (GranuleCounts, int, error) {
	start := domain.Now()
	var counts GranuleCounts

	results := make([]granuleResult, len(window))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for i, gr := range window {
		g.Go(func() error {
			res, err := p.resolve(gctx, gr, stations)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return counts, 0, err
	}

	acc := domain.NewDailyAccumulator(day, stations)
	var messages []string
	for i, res := range results {
		counts.add(res.outcome)
		p.metrics.Granules.WithLabelValues(res.outcome).Inc()
		if res.err != nil {
			messages = append(messages, fmt.Sprintf("%s %s: %v", window[i], res.outcome, res.err))
			continue
		}
		acc.Add(window[i], res.values)
	}
	totals := acc.Totals()

	for _, l := range p.loaders {
		if err := l.LoadBatch(ctx, totals); err != nil {
			return counts, 0, fmt.Errorf("load %s into %s: %w", day.Format(domain.DateLayout), l.Name(), err)
		}
	}
	if p.errs != nil {
		if err := p.errs.Record(day, messages); err != nil {
			return counts, 0, fmt.Errorf("record granule errors: %w", err)
		}
	}

	p.ready.Store(true)
	p.metrics.DaysProcessed.Inc()
	p.metrics.RowsWritten.Add(float64(len(totals)))
	p.metrics.DayDuration.Observe(domain.Now().Sub(start).Seconds())
	p.setProgress(func(pr *Progress) {
		pr.DaysDone++
		pr.Granules.merge(counts)
	})

	p.logger.Info("day processed",
		"day", day.Format(domain.DateLayout),
		"rows", len(totals),
		"granules_present", counts.Present+counts.Cached,
		"granules_missing", len(messages),
	)
	return counts, len(totals), nil
}

// resolve turns one granule into station samples. Only context cancellation
// is returned as an error; granule failures are carried in the result.
func (p *Pipeline) resolve(ctx context.Context, g domain.Granule, stations []domain.Station) (granuleResult, error) {
	if err := ctx.Err(); err != nil {
		return granuleResult{}, err
	}

	if p.cache != nil {
		values, ok, err := p.cache.Lookup(ctx, g, stations)
		switch {
		case err != nil:
			p.metrics.CacheLookups.WithLabelValues("error").Inc()
			p.logger.Warn("sample cache lookup failed", "granule", g.String(), "error", err)
		case ok:
			p.metrics.CacheLookups.WithLabelValues("hit").Inc()
			return granuleResult{values: values, outcome: outcomeCached}, nil
		default:
			p.metrics.CacheLookups.WithLabelValues("miss").Inc()
		}
	}

	rf, err := p.fetcher.Fetch(ctx, g)
	if err != nil {
		if ctx.Err() != nil {
			return granuleResult{}, ctx.Err()
		}
		return p.degraded(g, err), nil
	}
	corrupt := false
	defer func() {
		release := p.fetcher.Release
		if corrupt {
			release = p.fetcher.Discard
		}
		if err := release(rf); err != nil {
			p.logger.Warn("release granule failed", "granule", rf.Name, "error", err)
		}
	}()

	values, err := p.sampler.Sample(ctx, rf, stations)
	if err != nil {
		if ctx.Err() != nil {
			return granuleResult{}, ctx.Err()
		}
		if !domain.IsGranuleError(err) {
			err = fmt.Errorf("%w: %w", domain.ErrCorruptRaster, err)
		}
		corrupt = errors.Is(err, domain.ErrCorruptRaster)
		return p.degraded(g, err), nil
	}

	if p.cache != nil {
		if err := p.cache.Store(ctx, g, stations, values); err != nil {
			p.logger.Warn("sample cache store failed", "granule", g.String(), "error", err)
		}
	}
	return granuleResult{values: values, outcome: outcomePresent}, nil
}

func (p *Pipeline) degraded(g domain.Granule, err error) granuleResult {
	outcome := domain.GranuleOutcome(err)
	if outcome == "error" {
		outcome = "failed"
	}
	p.logger.Warn("granule unavailable, counting as zero",
		"granule", g.String(),
		"outcome", outcome,
		"error", err,
	)
	return granuleResult{outcome: outcome, err: err}
}

func (p *Pipeline) setProgress(update func(*Progress)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	update(&p.progress)
}

// Command gpm computes daily precipitation (APD, 12:00 to 12:00 UTC) per
// station from the IMERG half-hourly GIS product on the NASA PPS servers.
//
// Usage:
//
//	gpm [-d] <email> <start YYYY-MM-DD> <end YYYY-MM-DD> <stations.csv>
//
// The report is written next to the station file as
// <name>_gpm_<start>_<end>.csv. Server and run settings come from the
// environment (GPM_SOURCE, WORKERS, FETCH_RETRIES, ...).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"regexp"
	"syscall"
	"time"

	"github.com/couchcryptid/gpm-precip-etl/internal/adapter/csvfile"
	"github.com/couchcryptid/gpm-precip-etl/internal/adapter/ftp"
	"github.com/couchcryptid/gpm-precip-etl/internal/adapter/httpadapter"
	"github.com/couchcryptid/gpm-precip-etl/internal/adapter/https"
	kafkaadapter "github.com/couchcryptid/gpm-precip-etl/internal/adapter/kafka"
	"github.com/couchcryptid/gpm-precip-etl/internal/adapter/localdir"
	"github.com/couchcryptid/gpm-precip-etl/internal/adapter/sqlite"
	"github.com/couchcryptid/gpm-precip-etl/internal/config"
	"github.com/couchcryptid/gpm-precip-etl/internal/domain"
	"github.com/couchcryptid/gpm-precip-etl/internal/fetcher"
	"github.com/couchcryptid/gpm-precip-etl/internal/observability"
	"github.com/couchcryptid/gpm-precip-etl/internal/pipeline"
	"github.com/couchcryptid/gpm-precip-etl/internal/raster"
)

const (
	exitOK    = 0
	exitSetup = 1
	exitUsage = 2
)

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9_.+-]+@[a-zA-Z0-9-]+\.[a-zA-Z0-9-.]+$`)

// args are the validated command-line arguments.
type args struct {
	email        string
	start, end   time.Time
	stationsPath string
	keep         bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stderr, observability.NewMetrics()))
}

func run(ctx context.Context, argv []string, stderr io.Writer, metrics *observability.Metrics) int {
	a, code := parseArgs(argv, stderr)
	if code != exitOK {
		return code
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "gpm: config: %v\n", err)
		return exitSetup
	}
	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)

	if err := execute(ctx, cfg, a, logger, metrics); err != nil {
		logger.Error("run failed", "error", err)
		return exitSetup
	}
	return exitOK
}

// parseArgs accepts the flags anywhere on the command line.
func parseArgs(argv []string, stderr io.Writer) (args, int) {
	var a args
	fs := flag.NewFlagSet("gpm", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.BoolVar(&a.keep, "d", false, "keep downloaded granules")
	fs.BoolVar(&a.keep, "download-keep", false, "keep downloaded granules")
	fs.BoolVar(&a.keep, "download_keep", false, "alias of -download-keep")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: gpm [-d] <email> <start YYYY-MM-DD> <end YYYY-MM-DD> <stations.csv>")
		fmt.Fprintln(stderr, "Create daily precipitation per station from NASA/GPM IMERG half-hourly granules.")
		fs.PrintDefaults()
	}

	var positional []string
	rest := argv
	for {
		if err := fs.Parse(rest); err != nil {
			return a, exitUsage
		}
		rest = fs.Args()
		if len(rest) == 0 {
			break
		}
		positional = append(positional, rest[0])
		rest = rest[1:]
	}
	if len(positional) != 4 {
		fs.Usage()
		return a, exitUsage
	}

	a.email = positional[0]
	if !emailPattern.MatchString(a.email) {
		fmt.Fprintf(stderr, "gpm: %q is not a valid email\n", a.email)
		return a, exitSetup
	}
	var err error
	if a.start, err = domain.ParseDate(positional[1]); err != nil {
		fmt.Fprintf(stderr, "gpm: %v\n", err)
		return a, exitSetup
	}
	if a.end, err = domain.ParseDate(positional[2]); err != nil {
		fmt.Fprintf(stderr, "gpm: %v\n", err)
		return a, exitSetup
	}
	if err := domain.ValidateRange(a.start, a.end); err != nil {
		fmt.Fprintf(stderr, "gpm: %v\n", err)
		return a, exitSetup
	}
	a.stationsPath = positional[3]
	return a, exitOK
}

func execute(ctx context.Context, cfg *config.Config, a args, logger *slog.Logger, metrics *observability.Metrics) error {
	stations, err := csvfile.LoadStations(a.stationsPath)
	if err != nil {
		return err
	}
	if len(stations) == 0 {
		return fmt.Errorf("%w: %s has no stations", domain.ErrMalformedInput, a.stationsPath)
	}
	if a.end.After(domain.Today()) {
		logger.Warn("end date is in the future, granules after now cannot exist yet",
			"end", a.end.Format(domain.DateLayout))
	}

	workdir := cfg.Workdir
	if workdir == "" {
		workdir = filepath.Dir(a.stationsPath)
	}
	source := newSource(cfg, domain.CredentialsFromEmail(a.email), logger)
	f := fetcher.New(source, fetcher.Options{
		Layout:  cfg.Layout,
		Workdir: workdir,
		Retain:  a.keep,
		Retries: cfg.FetchRetries,
		Timeout: cfg.FetchTimeout,
	}, logger, metrics)
	defer func() {
		if err := f.Close(); err != nil {
			logger.Warn("source close error", "error", err)
		}
	}()

	if err := f.Ping(ctx); err != nil {
		return fmt.Errorf("%s source unavailable: %w", cfg.Source, err)
	}

	reportPath, errPath := csvfile.ReportPaths(a.stationsPath, a.start, a.end)
	report, err := csvfile.CreateReport(reportPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := report.Close(); err != nil {
			logger.Error("report close error", "error", err)
		}
	}()
	errReport, err := csvfile.CreateErrorReport(errPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := errReport.Close(); err != nil {
			logger.Warn("error report close error", "error", err)
		}
	}()

	loaders := []pipeline.Loader{report}
	if len(cfg.KafkaBrokers) > 0 {
		writer := kafkaadapter.NewWriter(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		defer func() {
			if err := writer.Close(); err != nil {
				logger.Error("kafka writer close error", "error", err)
			}
		}()
		loaders = append(loaders, writer)
		logger.Info("publishing daily totals", "topic", cfg.KafkaTopic, "brokers", cfg.KafkaBrokers)
	}

	opts := []pipeline.Option{
		pipeline.WithWorkers(cfg.Workers),
		pipeline.WithErrorRecorder(errReport),
	}
	if cfg.CachePath != "" {
		cache, err := sqlite.Open(cfg.CachePath, cfg.Layout)
		if err != nil {
			return fmt.Errorf("open sample cache: %w", err)
		}
		defer cache.Close()
		opts = append(opts, pipeline.WithCache(cache))
		logger.Info("sample cache enabled", "path", cfg.CachePath)
	}

	p := pipeline.New(f, raster.NewSampler(logger, metrics), loaders, logger, metrics, opts...)

	if cfg.MetricsAddr != "" {
		srv := httpadapter.NewServer(cfg.MetricsAddr, p, p, logger)
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server error", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("http server shutdown error", "error", err)
			}
		}()
	}

	summary, err := p.Run(ctx, pipeline.Request{Start: a.start, End: a.end, Stations: stations})
	if err != nil {
		if ctx.Err() != nil {
			logger.Warn("run interrupted", "days_written", summary.Days, "report", reportPath)
		}
		return err
	}

	logger.Info("report saved",
		"report", reportPath,
		"rows", report.Rows(),
		"elapsed", summary.Elapsed,
	)
	if n := errReport.Entries(); n > 0 {
		logger.Warn("some granules could not be read", "granules", n, "error_report", errPath)
	}
	return nil
}

func newSource(cfg *config.Config, creds domain.Credentials, logger *slog.Logger) fetcher.Source {
	switch cfg.Source {
	case config.SourceFTP:
		return ftp.New(ftp.Options{
			Host:     cfg.Host,
			Creds:    creds,
			Timeout:  cfg.FetchTimeout,
			TLS:      cfg.FTPTLS,
			PoolSize: cfg.Workers,
		}, logger)
	case config.SourceFile:
		return localdir.New(cfg.LocalRoot)
	default:
		return https.NewClient(cfg.Host, creds, cfg.FetchTimeout, logger)
	}
}

// Package fetcher downloads granules from a remote Source into a local work
// directory, with directory-listing checks and bounded retries.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/couchcryptid/gpm-precip-etl/internal/domain"
	"github.com/couchcryptid/gpm-precip-etl/internal/observability"
)

// ErrNotExist is returned by a Source when the requested file or directory
// does not exist on the server (FTP 550, HTTP 404).
var ErrNotExist = errors.New("remote file does not exist")

// Source is a remote file server holding the granule tree.
type Source interface {
	// List returns the base names of the entries in dir.
	List(ctx context.Context, dir string) ([]string, error)
	// Retrieve copies the remote file at path into w.
	Retrieve(ctx context.Context, path string, w io.Writer) error
	Close() error
}

// Options configures a Fetcher.
type Options struct {
	Layout  domain.Layout
	Workdir string

	// Retain keeps downloaded files after Release.
	Retain bool

	// Retries is the number of extra attempts after a transient failure.
	Retries int

	// Timeout bounds each remote request. Zero means no timeout.
	Timeout time.Duration

	// InitialBackoff is the first retry delay. It doubles per retry.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Fetcher resolves granules to local raster files. It is safe for
// concurrent use by the pipeline's workers.
type Fetcher struct {
	source   Source
	opts     Options
	listings *lru.Cache[string, listing]
	group    singleflight.Group
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// New creates a Fetcher reading from source.
func New(source Source, opts Options, logger *slog.Logger, metrics *observability.Metrics) *Fetcher {
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = 500 * time.Millisecond
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 10 * time.Second
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	listings, _ := lru.New[string, listing](listingCacheSize)
	return &Fetcher{
		source:   source,
		opts:     opts,
		listings: listings,
		logger:   logger,
		metrics:  metrics,
	}
}

// Ping lists the remote root once to confirm the server is reachable and
// the credentials are accepted.
func (f *Fetcher) Ping(ctx context.Context) error {
	root := path.Join("/", f.opts.Layout.Root)
	err := f.retry(ctx, func(ctx context.Context) error {
		_, err := f.source.List(ctx, root)
		return err
	})
	if err != nil {
		return fmt.Errorf("ping %s: %w", root, err)
	}
	return nil
}

// Fetch makes granule g available on local storage. A complete file left by
// an earlier run is reused. It returns an error wrapping domain.ErrAbsent when
// the server does not have the granule and domain.ErrFetch when every attempt
// failed.
func (f *Fetcher) Fetch(ctx context.Context, g domain.Granule) (domain.RasterFile, error) {
	name := f.opts.Layout.FileName(g)
	rf := domain.RasterFile{Granule: g, Name: name, Path: filepath.Join(f.opts.Workdir, name)}

	if info, err := os.Stat(rf.Path); err == nil && info.Mode().IsRegular() && info.Size() > 0 {
		f.logger.Debug("reusing downloaded granule", "granule", name)
		return rf, nil
	}

	dir := f.opts.Layout.Dir(g)
	if l, ok := f.listing(ctx, dir); ok && !l.has(name) {
		return rf, fmt.Errorf("%w: %s not listed in %s", domain.ErrAbsent, name, dir)
	}

	start := time.Now()
	remote := f.opts.Layout.RemotePath(g)
	var written int64
	err := f.retry(ctx, func(ctx context.Context) error {
		n, err := f.download(ctx, remote, rf.Path)
		written = n
		return err
	})
	switch {
	case err == nil:
	case ctx.Err() != nil:
		return rf, ctx.Err()
	case errors.Is(err, ErrNotExist):
		return rf, fmt.Errorf("%w: %s: %w", domain.ErrAbsent, remote, err)
	default:
		return rf, fmt.Errorf("%w: %s: %w", domain.ErrFetch, remote, err)
	}

	f.metrics.FetchDuration.Observe(time.Since(start).Seconds())
	f.metrics.BytesDownloaded.Add(float64(written))
	f.logger.Debug("granule downloaded", "granule", name, "bytes", written)
	return rf, nil
}

// Release removes the local copy of rf unless files are retained.
func (f *Fetcher) Release(rf domain.RasterFile) error {
	if f.opts.Retain {
		return nil
	}
	return f.remove(rf, "release")
}

// Discard removes the local copy of rf even when files are retained, so a
// file that failed to decode is downloaded again by the next run.
func (f *Fetcher) Discard(rf domain.RasterFile) error {
	if err := f.remove(rf, "discard"); err != nil {
		return err
	}
	f.logger.Debug("discarded local granule", "granule", rf.Name)
	return nil
}

func (f *Fetcher) remove(rf domain.RasterFile, op string) error {
	if rf.Path == "" {
		return nil
	}
	if err := os.Remove(rf.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%s %s: %w", op, rf.Name, err)
	}
	return nil
}

// Close closes the underlying source.
func (f *Fetcher) Close() error {
	return f.source.Close()
}

// listing returns the cached listing of dir, fetching it on first use. The
// boolean is false when the directory could not be listed, in which case the
// caller falls back to downloading directly.
func (f *Fetcher) listing(ctx context.Context, dir string) (listing, bool) {
	if l, ok := f.listings.Get(dir); ok {
		return l, true
	}

	v, err, _ := f.group.Do(dir, func() (any, error) {
		var names []string
		err := f.retry(ctx, func(ctx context.Context) error {
			var err error
			names, err = f.source.List(ctx, dir)
			return err
		})
		switch {
		case err == nil:
			l := newListing(names)
			f.listings.Add(dir, l)
			return l, nil
		case errors.Is(err, ErrNotExist):
			f.listings.Add(dir, nil)
			return listing(nil), nil
		default:
			return nil, err
		}
	})
	if err != nil {
		if ctx.Err() == nil {
			f.logger.Warn("list directory failed, fetching without listing", "dir", dir, "error", err)
		}
		return nil, false
	}
	return v.(listing), true
}

// download writes the remote file to dst through a ".part" file so that an
// interrupted transfer never looks complete.
func (f *Fetcher) download(ctx context.Context, remote, dst string) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, backoff.Permanent(fmt.Errorf("create workdir: %w", err))
	}
	part := dst + ".part"
	out, err := os.Create(part)
	if err != nil {
		return 0, backoff.Permanent(fmt.Errorf("create %s: %w", part, err))
	}

	cw := &countingWriter{w: out}
	err = f.source.Retrieve(ctx, remote, cw)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err == nil && cw.n == 0 {
		err = errors.New("empty transfer")
	}
	if err != nil {
		_ = os.Remove(part)
		return 0, err
	}
	if err := os.Rename(part, dst); err != nil {
		_ = os.Remove(part)
		return 0, backoff.Permanent(fmt.Errorf("rename %s: %w", part, err))
	}
	return cw.n, nil
}

// retry runs op with a per-attempt timeout and exponential backoff. Missing
// files and cancellation are never retried.
func (f *Fetcher) retry(ctx context.Context, op func(ctx context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = f.opts.InitialBackoff
	b.MaxInterval = f.opts.MaxBackoff
	b.MaxElapsedTime = 0

	attempt := func() error {
		actx, cancel := f.attemptContext(ctx)
		defer cancel()
		err := op(actx)
		switch {
		case err == nil:
			return nil
		case ctx.Err() != nil:
			return backoff.Permanent(ctx.Err())
		case errors.Is(err, ErrNotExist):
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		f.metrics.FetchRetries.Inc()
		f.logger.Debug("retrying remote request", "error", err, "wait", wait)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(f.opts.Retries)), ctx)
	return backoff.RetryNotify(attempt, policy, notify)
}

func (f *Fetcher) attemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if f.opts.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, f.opts.Timeout)
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

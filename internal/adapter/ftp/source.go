// Package ftp reads the granule tree from the PPS FTP server
// (arthurhou.pps.eosdis.nasa.gov). FTP control connections are not safe for
// concurrent use, so the Source keeps a small pool of logged-in connections.
package ftp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/textproto"
	"path"
	"sync"
	"time"

	"github.com/jlaffaye/ftp"

	"github.com/couchcryptid/gpm-precip-etl/internal/domain"
	"github.com/couchcryptid/gpm-precip-etl/internal/fetcher"
)

// DefaultHost is the PPS FTP endpoint for registered users.
const DefaultHost = "arthurhou.pps.eosdis.nasa.gov"

// conn is the subset of *ftp.ServerConn used by the Source.
type conn interface {
	NameList(path string) ([]string, error)
	Retr(path string) (io.ReadCloser, error)
	Quit() error
}

type serverConn struct {
	c *ftp.ServerConn
}

func (s serverConn) NameList(p string) ([]string, error) { return s.c.NameList(p) }

func (s serverConn) Retr(p string) (io.ReadCloser, error) {
	r, err := s.c.Retr(p)
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (s serverConn) Quit() error { return s.c.Quit() }

// Options configures the FTP source.
type Options struct {
	Host    string
	Creds   domain.Credentials
	Timeout time.Duration

	// TLS enables explicit FTPS (AUTH TLS).
	TLS bool

	// PoolSize caps the number of idle connections kept for reuse.
	PoolSize int
}

// Source implements fetcher.Source over FTP.
type Source struct {
	dial   func(ctx context.Context) (conn, error)
	idle   chan conn
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
}

// New creates an FTP source. Connections are opened lazily.
func New(opts Options, logger *slog.Logger) *Source {
	if opts.Host == "" {
		opts.Host = DefaultHost
	}
	if opts.PoolSize < 1 {
		opts.PoolSize = 1
	}
	addr := opts.Host
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, "21")
	}

	dial := func(ctx context.Context) (conn, error) {
		dialOpts := []ftp.DialOption{ftp.DialWithContext(ctx)}
		if opts.Timeout > 0 {
			dialOpts = append(dialOpts, ftp.DialWithTimeout(opts.Timeout))
		}
		if opts.TLS {
			host, _, _ := net.SplitHostPort(addr)
			dialOpts = append(dialOpts, ftp.DialWithExplicitTLS(&tls.Config{ServerName: host, MinVersion: tls.VersionTLS12}))
		}
		c, err := ftp.Dial(addr, dialOpts...)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", addr, err)
		}
		if err := c.Login(opts.Creds.Username, opts.Creds.Password); err != nil {
			_ = c.Quit()
			return nil, fmt.Errorf("login to %s: %w", addr, err)
		}
		logger.Debug("ftp connection opened", "addr", addr)
		return serverConn{c: c}, nil
	}
	return newSource(dial, opts.PoolSize, logger)
}

func newSource(dial func(ctx context.Context) (conn, error), poolSize int, logger *slog.Logger) *Source {
	return &Source{dial: dial, idle: make(chan conn, poolSize), logger: logger}
}

// List returns the base names of the entries in dir.
func (s *Source) List(ctx context.Context, dir string) ([]string, error) {
	var names []string
	err := s.with(ctx, func(c conn) error {
		entries, err := c.NameList(dir)
		if err != nil {
			return err
		}
		names = make([]string, 0, len(entries))
		for _, e := range entries {
			if b := path.Base(e); b != "." && b != ".." {
				names = append(names, b)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	return names, nil
}

// Retrieve copies the remote file at p into w.
func (s *Source) Retrieve(ctx context.Context, p string, w io.Writer) error {
	err := s.with(ctx, func(c conn) error {
		r, err := c.Retr(p)
		if err != nil {
			return err
		}
		_, err = io.Copy(w, &ctxReader{ctx: ctx, r: r})
		if cerr := r.Close(); err == nil {
			err = cerr
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("retrieve %s: %w", p, err)
	}
	return nil
}

// Close quits all idle connections.
func (s *Source) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.idle)
	s.mu.Unlock()

	var errs []error
	for c := range s.idle {
		if err := c.Quit(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// with runs op on a pooled connection. Server replies (4xx/5xx) leave the
// connection usable; any other failure discards it.
func (s *Source) with(ctx context.Context, op func(conn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c, err := s.acquire(ctx)
	if err != nil {
		return err
	}

	err = op(c)
	var reply *textproto.Error
	healthy := err == nil || errors.As(err, &reply)
	if ctx.Err() != nil {
		healthy = false
	}
	s.release(c, healthy)

	if reply != nil && reply.Code == ftp.StatusFileUnavailable {
		return fmt.Errorf("%w: %s", fetcher.ErrNotExist, reply.Msg)
	}
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (s *Source) acquire(ctx context.Context) (conn, error) {
	select {
	case c, ok := <-s.idle:
		if ok {
			return c, nil
		}
		return nil, errors.New("ftp source closed")
	default:
	}
	return s.dial(ctx)
}

func (s *Source) release(c conn, healthy bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if healthy && !s.closed {
		select {
		case s.idle <- c:
			return
		default:
		}
	}
	if err := c.Quit(); err != nil {
		s.logger.Debug("ftp quit failed", "error", err)
	}
}

// ctxReader stops a transfer once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

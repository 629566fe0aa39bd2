// Package localdir serves a granule tree from the local filesystem, laid out
// exactly like the remote server. It backs offline runs against fixtures
// written by cmd/genmock or a mirrored archive.
package localdir

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/couchcryptid/gpm-precip-etl/internal/fetcher"
)

// Source implements fetcher.Source over a directory.
type Source struct {
	root string
}

// New creates a source rooted at dir. Remote paths are resolved below it.
func New(dir string) *Source {
	return &Source{root: dir}
}

// List returns the names of the entries in dir.
func (s *Source) List(ctx context.Context, dir string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.resolve(dir))
	if err != nil {
		return nil, s.mapErr(dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}

// Retrieve copies the file at p into w.
func (s *Source) Retrieve(ctx context.Context, p string, w io.Writer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f, err := os.Open(s.resolve(p))
	if err != nil {
		return s.mapErr(p, err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("read %s: %w", p, err)
	}
	return nil
}

// Close is a no-op.
func (s *Source) Close() error {
	return nil
}

func (s *Source) resolve(p string) string {
	return filepath.Join(s.root, filepath.FromSlash(filepath.Clean("/"+p)))
}

func (s *Source) mapErr(p string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%s: %w", p, fetcher.ErrNotExist)
	}
	return fmt.Errorf("%s: %w", p, err)
}

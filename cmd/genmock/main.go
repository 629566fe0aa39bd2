// Command genmock writes synthetic IMERG GIS granules for a date range into a
// directory tree laid out like the PPS server. Every pixel holds the same
// value, so the expected daily total of any station inside the grid is
// value*48/20 mm. The tree can be served with GPM_SOURCE=file or behind a
// local HTTP or FTP server.
//
// Usage:
//
//	go run ./cmd/genmock \
//	  -out data/mock/archive \
//	  -start 2019-02-02 -end 2019-02-03 \
//	  -value 1 -skip 1200,2330
package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/couchcryptid/gpm-precip-etl/internal/domain"
	"github.com/couchcryptid/gpm-precip-etl/internal/raster"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	out := flag.String("out", "", "archive root to write the granule tree into")
	start := flag.String("start", "", "first APD day (YYYY-MM-DD)")
	end := flag.String("end", "", "last APD day (YYYY-MM-DD)")
	value := flag.Uint("value", 1, "pixel value in 0.1 mm/h")
	skip := flag.String("skip", "", "comma-separated HHMM granule starts to leave out of every day")
	west := flag.Float64("west", -180, "longitude of the grid's west edge")
	north := flag.Float64("north", 90, "latitude of the grid's north edge")
	cols := flag.Int("cols", 3600, "grid width in pixels")
	rows := flag.Int("rows", 1800, "grid height in pixels")
	pixel := flag.Float64("pixel", 0.1, "pixel size in degrees")
	version := flag.String("version", domain.DefaultVersion, "product version in file names")
	flag.Parse()

	if *out == "" || *start == "" || *end == "" {
		flag.Usage()
		return errors.New("missing required flags: -out, -start, -end")
	}
	if *value > 0xFFFF {
		return fmt.Errorf("-value %d does not fit in 16 bits", *value)
	}
	first, err := domain.ParseDate(*start)
	if err != nil {
		return err
	}
	last, err := domain.ParseDate(*end)
	if err != nil {
		return err
	}
	skipped, err := parseSkip(*skip)
	if err != nil {
		return err
	}

	grid := raster.Grid{Width: *cols, Height: *rows, OriginX: *west, OriginY: *north, PixelSize: *pixel}
	grid.Values = make([]uint16, grid.Width*grid.Height)
	for i := range grid.Values {
		grid.Values[i] = uint16(*value)
	}

	layout := domain.DefaultLayout()
	layout.Version = *version
	n, err := writeArchive(*out, layout, grid, first, last, skipped)
	if err != nil {
		return err
	}
	log.Printf("wrote %d granules under %s (%d days, expected total %.1f mm/day)",
		n, *out, domain.DayCount(first, last),
		domain.RoundTotal(float64(*value)*float64(domain.GranulesPerDay-len(skipped))/domain.MMPerDayDivisor))
	return nil
}

// parseSkip reads a list like "1200,2330" into minutes of the day.
func parseSkip(s string) (map[int]bool, error) {
	skipped := make(map[int]bool)
	if strings.TrimSpace(s) == "" {
		return skipped, nil
	}
	for _, f := range strings.Split(s, ",") {
		t, err := time.Parse("1504", strings.TrimSpace(f))
		if err != nil || t.Minute()%30 != 0 {
			return nil, fmt.Errorf("-skip: %q is not a half-hour HHMM", f)
		}
		skipped[t.Hour()*60+t.Minute()] = true
	}
	return skipped, nil
}

// writeArchive encodes grid once and writes it for every granule of every APD
// window in [start, end] whose start minute is not skipped.
func writeArchive(root string, layout domain.Layout, grid raster.Grid, start, end time.Time, skipped map[int]bool) (int, error) {
	var buf strings.Builder
	if err := raster.Encode(&buf, grid); err != nil {
		return 0, err
	}
	data := []byte(buf.String())

	seq, err := domain.Granules(start, end)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, window := range seq {
		for _, g := range window {
			if skipped[g.MinuteOfDay()] {
				continue
			}
			p := filepath.Join(root, filepath.FromSlash(layout.RemotePath(g)))
			if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
				return n, err
			}
			if err := os.WriteFile(p, data, 0o644); err != nil {
				return n, fmt.Errorf("write %s: %w", p, err)
			}
			n++
		}
	}
	return n, nil
}

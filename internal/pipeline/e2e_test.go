package pipeline_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/gpm-precip-etl/internal/adapter/csvfile"
	"github.com/couchcryptid/gpm-precip-etl/internal/adapter/localdir"
	"github.com/couchcryptid/gpm-precip-etl/internal/domain"
	"github.com/couchcryptid/gpm-precip-etl/internal/fetcher"
	"github.com/couchcryptid/gpm-precip-etl/internal/pipeline"
	"github.com/couchcryptid/gpm-precip-etl/internal/raster"
)

const stationsCSV = "ID;LAT;LONG\nA354;-6.974135;-42.146831\nFAR;0;200\n"

// writeArchive lays out 10x10 degree granules around A354 with every cell
// set to 1 (0.1 mm/h), skipping the granules in missing.
func writeArchive(t *testing.T, root string, missing map[domain.Granule]bool) {
	t.Helper()
	layout := domain.DefaultLayout()
	grid := raster.Grid{Width: 10, Height: 10, OriginX: -45, OriginY: -5, PixelSize: 1, EPSG: 4326}
	grid.Values = make([]uint16, 100)
	for i := range grid.Values {
		grid.Values[i] = 1
	}

	seq, err := domain.Granules(day(2019, 2, 2), day(2019, 2, 3))
	require.NoError(t, err)
	for _, window := range seq {
		for _, g := range window {
			if missing[g] {
				continue
			}
			p := filepath.Join(root, filepath.FromSlash(layout.RemotePath(g)))
			require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
			f, err := os.Create(p)
			require.NoError(t, err)
			require.NoError(t, raster.Encode(f, grid))
			require.NoError(t, f.Close())
		}
	}
}

func runArchive(t *testing.T, archive, workdir, stationsPath string) (string, string, pipeline.Summary) {
	t.Helper()
	stations, err := csvfile.LoadStations(stationsPath)
	require.NoError(t, err)

	reportPath, errPath := csvfile.ReportPaths(stationsPath, day(2019, 2, 2), day(2019, 2, 3))
	report, err := csvfile.CreateReport(reportPath)
	require.NoError(t, err)
	errReport, err := csvfile.CreateErrorReport(errPath)
	require.NoError(t, err)

	metrics := newTestMetrics()
	f := fetcher.New(localdir.New(archive), fetcher.Options{
		Layout:  domain.DefaultLayout(),
		Workdir: workdir,
		Retries: 1,
	}, discardLogger(), metrics)
	defer f.Close()

	p := pipeline.New(f, raster.NewSampler(discardLogger(), metrics), []pipeline.Loader{report},
		discardLogger(), metrics, pipeline.WithErrorRecorder(errReport), pipeline.WithWorkers(4))

	summary, err := p.Run(context.Background(), pipeline.Request{
		Start: day(2019, 2, 2), End: day(2019, 2, 3), Stations: stations,
	})
	require.NoError(t, err)
	require.NoError(t, report.Close())
	require.NoError(t, errReport.Close())
	return reportPath, errPath, summary
}

func TestEndToEnd_LocalArchive(t *testing.T) {
	archive := t.TempDir()
	w := domain.Window(day(2019, 2, 3))
	writeArchive(t, archive, map[domain.Granule]bool{w[0]: true, w[47]: true})

	dir := t.TempDir()
	stationsPath := filepath.Join(dir, "stations.csv")
	require.NoError(t, os.WriteFile(stationsPath, []byte(stationsCSV), 0o644))
	workdir := filepath.Join(dir, "granules")

	reportPath, errPath, summary := runArchive(t, archive, workdir, stationsPath)

	assert.Equal(t, filepath.Join(dir, "stations_gpm_2019-02-02_2019-02-03.csv"), reportPath)
	got, err := os.ReadFile(reportPath)
	require.NoError(t, err)
	assert.Equal(t, strings.Join([]string{
		"id;date;total_mm",
		"A354;2019-02-02;2.4",
		"FAR;2019-02-02;0.0",
		"A354;2019-02-03;2.3",
		"FAR;2019-02-03;0.0",
	}, "\n")+"\n", string(got))

	assert.Equal(t, 94, summary.Granules.Present)
	assert.Equal(t, 2, summary.Granules.Absent)

	errs, err := os.ReadFile(errPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(errs)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "date;message", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "2019-02-03;2019-02-02T12:00Z absent"), lines[1])

	entries, err := os.ReadDir(workdir)
	require.NoError(t, err)
	assert.Empty(t, entries, "downloaded granules are released")

	// A second run over the same archive produces a byte-identical report.
	_, _, _ = runArchive(t, archive, workdir, stationsPath)
	again, err := os.ReadFile(reportPath)
	require.NoError(t, err)
	assert.Equal(t, got, again)

	// The report parses back to the rounded totals.
	f, err := os.Open(reportPath)
	require.NoError(t, err)
	defer f.Close()
	totals, err := csvfile.ReadReport(f)
	require.NoError(t, err)
	require.Len(t, totals, 4)
	assert.Equal(t, 2.4, totals[0].TotalMM)
	assert.Equal(t, 2.3, totals[2].TotalMM)
}

func TestEndToEnd_NoErrorsRemovesErrorReport(t *testing.T) {
	archive := t.TempDir()
	writeArchive(t, archive, nil)

	dir := t.TempDir()
	stationsPath := filepath.Join(dir, "stations.csv")
	require.NoError(t, os.WriteFile(stationsPath, []byte(stationsCSV), 0o644))

	_, errPath, summary := runArchive(t, archive, filepath.Join(dir, "granules"), stationsPath)
	assert.Equal(t, 96, summary.Granules.Present)
	assert.NoFileExists(t, errPath)
}

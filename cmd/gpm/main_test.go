package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/gpm-precip-etl/internal/domain"
	"github.com/couchcryptid/gpm-precip-etl/internal/observability"
	"github.com/couchcryptid/gpm-precip-etl/internal/raster"
)

const testEmail = "user@example.org"

func TestRun_Usage(t *testing.T) {
	var stderr bytes.Buffer
	code := run(context.Background(), []string{testEmail, "2019-02-02"}, &stderr, observability.NewMetricsForTesting())
	assert.Equal(t, exitUsage, code)
	assert.Contains(t, stderr.String(), "usage: gpm")
}

func TestRun_UnknownFlag(t *testing.T) {
	var stderr bytes.Buffer
	code := run(context.Background(), []string{"-x", testEmail, "2019-02-02", "2019-02-02", "s.csv"}, &stderr, observability.NewMetricsForTesting())
	assert.Equal(t, exitUsage, code)
}

func TestRun_SetupErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"bad email", []string{"not-an-email", "2019-02-02", "2019-02-02", "s.csv"}, "not a valid email"},
		{"bad start", []string{testEmail, "2019-13-01", "2019-02-02", "s.csv"}, "2019-13-01"},
		{"bad end", []string{testEmail, "2019-02-02", "02/03/2019", "s.csv"}, "02/03/2019"},
		{"reversed range", []string{testEmail, "2019-02-03", "2019-02-02", "s.csv"}, "range"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stderr bytes.Buffer
			code := run(context.Background(), tt.args, &stderr, observability.NewMetricsForTesting())
			assert.Equal(t, exitSetup, code)
			assert.Contains(t, stderr.String(), tt.want)
		})
	}
}

func TestParseArgs_FlagAnywhere(t *testing.T) {
	var stderr bytes.Buffer
	a, code := parseArgs([]string{testEmail, "2019-02-02", "-d", "2019-02-03", "stations.csv"}, &stderr)
	require.Equal(t, exitOK, code, stderr.String())
	assert.True(t, a.keep)
	assert.Equal(t, testEmail, a.email)
	assert.Equal(t, time.Date(2019, 2, 3, 0, 0, 0, 0, time.UTC), a.end)
	assert.Equal(t, "stations.csv", a.stationsPath)

	a, code = parseArgs([]string{"--download_keep", testEmail, "2019-02-02", "2019-02-02", "s.csv"}, &stderr)
	require.Equal(t, exitOK, code)
	assert.True(t, a.keep)
}

func TestRun_MissingStationFile(t *testing.T) {
	t.Setenv("GPM_SOURCE", "file")
	t.Setenv("GPM_LOCAL_ROOT", t.TempDir())
	t.Setenv("LOG_LEVEL", "error")

	var stderr bytes.Buffer
	code := run(context.Background(), []string{testEmail, "2019-02-02", "2019-02-02", filepath.Join(t.TempDir(), "none.csv")},
		&stderr, observability.NewMetricsForTesting())
	assert.Equal(t, exitSetup, code)
}

func TestRun_UnreachableServer(t *testing.T) {
	dir := t.TempDir()
	stations := filepath.Join(dir, "stations.csv")
	require.NoError(t, os.WriteFile(stations, []byte("ID;LAT;LONG\nA354;-6.974135;-42.146831\n"), 0o644))

	// The archive root exists but has no gpmdata directory.
	t.Setenv("GPM_SOURCE", "file")
	t.Setenv("GPM_LOCAL_ROOT", t.TempDir())
	t.Setenv("LOG_LEVEL", "error")

	var stderr bytes.Buffer
	code := run(context.Background(), []string{testEmail, "2019-02-02", "2019-02-02", stations}, &stderr, observability.NewMetricsForTesting())
	assert.Equal(t, exitSetup, code)
	assert.NoFileExists(t, filepath.Join(dir, "stations_gpm_2019-02-02_2019-02-02.csv"))
}

func TestRun_LocalArchive(t *testing.T) {
	archive := t.TempDir()
	layout := domain.DefaultLayout()
	grid := raster.Grid{Width: 10, Height: 10, OriginX: -45, OriginY: -5, PixelSize: 1}
	grid.Values = make([]uint16, 100)
	for i := range grid.Values {
		grid.Values[i] = 1
	}
	for _, g := range domain.Window(time.Date(2019, 2, 2, 0, 0, 0, 0, time.UTC)) {
		p := filepath.Join(archive, filepath.FromSlash(layout.RemotePath(g)))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		f, err := os.Create(p)
		require.NoError(t, err)
		require.NoError(t, raster.Encode(f, grid))
		require.NoError(t, f.Close())
	}

	dir := t.TempDir()
	stations := filepath.Join(dir, "stations.csv")
	require.NoError(t, os.WriteFile(stations, []byte("ID;LAT;LONG\nA354;-6.974135;-42.146831\n"), 0o644))

	t.Setenv("GPM_SOURCE", "file")
	t.Setenv("GPM_LOCAL_ROOT", archive)
	t.Setenv("LOG_LEVEL", "error")

	var stderr bytes.Buffer
	code := run(context.Background(), []string{testEmail, "2019-02-02", "2019-02-02", stations}, &stderr, observability.NewMetricsForTesting())
	require.Equal(t, exitOK, code, stderr.String())

	data, err := os.ReadFile(filepath.Join(dir, "stations_gpm_2019-02-02_2019-02-02.csv"))
	require.NoError(t, err)
	assert.Equal(t, "id;date;total_mm\nA354;2019-02-02;2.4\n", string(data))
	assert.NoFileExists(t, filepath.Join(dir, "stations_gpm_2019-02-02_2019-02-02_error.csv"))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "downloaded granules are removed")
}

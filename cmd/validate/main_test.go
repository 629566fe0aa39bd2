package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/gpm-precip-etl/internal/domain"
)

func day(d int) time.Time { return time.Date(2019, 2, d, 0, 0, 0, 0, time.UTC) }

var testStations = []domain.Station{{ID: "A354"}, {ID: "FAR"}}

func goodTotals() []domain.DailyTotal {
	return []domain.DailyTotal{
		{StationID: "A354", Date: day(2), TotalMM: 2.4},
		{StationID: "FAR", Date: day(2), TotalMM: 0},
		{StationID: "A354", Date: day(3), TotalMM: 2.3},
		{StationID: "FAR", Date: day(3), TotalMM: 0},
	}
}

func failed(phases []*phase) []string {
	var names []string
	for _, p := range phases {
		if !p.passed() {
			names = append(names, p.name)
		}
	}
	return names
}

func TestValidate_Clean(t *testing.T) {
	rows := []errorRow{{lineNum: 2, date: "2019-02-03", message: "2019-02-02T12:00Z absent: granule absent"}}
	phases := validate(testStations, goodTotals(), rows, day(2), day(3))
	assert.Empty(t, failed(phases))
}

func TestValidate_Failures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func([]domain.DailyTotal) []domain.DailyTotal
		phases []string
	}{
		{
			name:   "missing row",
			mutate: func(ts []domain.DailyTotal) []domain.DailyTotal { return ts[:3] },
			phases: []string{"Report shape (one row per station and day)", "Row order (by day, stations in table order)"},
		},
		{
			name: "swapped stations",
			mutate: func(ts []domain.DailyTotal) []domain.DailyTotal {
				ts[0], ts[1] = ts[1], ts[0]
				return ts
			},
			phases: []string{"Row order (by day, stations in table order)"},
		},
		{
			name: "negative total",
			mutate: func(ts []domain.DailyTotal) []domain.DailyTotal {
				ts[2].TotalMM = -1
				return ts
			},
			phases: []string{"Totals (non-negative, one decimal, bounded)"},
		},
		{
			name: "two decimals",
			mutate: func(ts []domain.DailyTotal) []domain.DailyTotal {
				ts[2].TotalMM = 2.35
				return ts
			},
			phases: []string{"Totals (non-negative, one decimal, bounded)"},
		},
		{
			name: "unknown station",
			mutate: func(ts []domain.DailyTotal) []domain.DailyTotal {
				ts[3].StationID = "XYZ"
				return ts
			},
			phases: []string{"Report shape (one row per station and day)", "Row order (by day, stations in table order)"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			phases := validate(testStations, tt.mutate(goodTotals()), nil, day(2), day(3))
			assert.Equal(t, tt.phases, failed(phases))
		})
	}
}

func TestValidateErrorReport(t *testing.T) {
	rows := []errorRow{
		{lineNum: 2, date: "2019-02-09", message: "x"},
		{lineNum: 3, date: "bad", message: "x"},
		{lineNum: 4, date: "2019-02-02", message: ""},
	}
	p := validateErrorReport(rows, day(2), day(3))
	assert.Len(t, p.errors, 3)
}

func TestRun_Files(t *testing.T) {
	dir := t.TempDir()
	stations := filepath.Join(dir, "stations.csv")
	require.NoError(t, os.WriteFile(stations, []byte("ID;LAT;LONG\nA354;-6.974135;-42.146831\nFAR;0;200\n"), 0o644))
	report := filepath.Join(dir, "stations_gpm_2019-02-02_2019-02-03.csv")
	require.NoError(t, os.WriteFile(report, []byte(
		"id;date;total_mm\nA354;2019-02-02;2.4\nFAR;2019-02-02;0.0\nA354;2019-02-03;2.3\nFAR;2019-02-03;0.0\n"), 0o644))

	var out bytes.Buffer
	code := run(&out, stations, "2019-02-02", "2019-02-03", "", "")
	assert.Equal(t, 0, code, out.String())
	assert.Contains(t, out.String(), "All validations passed.")

	errPath := filepath.Join(dir, "stations_gpm_2019-02-02_2019-02-03_error.csv")
	require.NoError(t, os.WriteFile(errPath, []byte("date;message\n2019-02-05;late\n"), 0o644))
	out.Reset()
	code = run(&out, stations, "2019-02-02", "2019-02-03", "", "")
	assert.Equal(t, 1, code)
	assert.Contains(t, out.String(), "Validation FAILED.")
}

func TestRun_MissingReport(t *testing.T) {
	dir := t.TempDir()
	stations := filepath.Join(dir, "stations.csv")
	require.NoError(t, os.WriteFile(stations, []byte("ID;LAT;LONG\nA354;1;2\n"), 0o644))

	var out bytes.Buffer
	assert.Equal(t, 1, run(&out, stations, "2019-02-02", "2019-02-02", "", ""))
	assert.Contains(t, out.String(), "FATAL: load report")
}

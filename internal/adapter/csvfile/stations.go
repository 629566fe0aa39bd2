// Package csvfile reads station tables and writes daily precipitation reports
// as semicolon-delimited text.
package csvfile

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/couchcryptid/gpm-precip-etl/internal/domain"
)

const delimiter = ';'

// LoadStations reads an `ID;LAT;LONG` table with a header row.
func LoadStations(path string) ([]domain.Station, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open station table: %w", err)
	}
	defer f.Close()

	return ParseStations(f)
}

// ParseStations parses a station table. Rows must have a unique ID and numeric
// coordinates in decimal degrees. Longitude is not range-checked so that
// stations outside the raster extent still appear in the report.
func ParseStations(r io.Reader) ([]domain.Station, error) {
	cr := csv.NewReader(r)
	cr.Comma = delimiter
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	if _, err := cr.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: missing header row", domain.ErrMalformedInput)
		}
		return nil, fmt.Errorf("%w: header: %w", domain.ErrMalformedInput, err)
	}

	var stations []domain.Station
	seen := make(map[string]int)
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrMalformedInput, err)
		}
		line, _ := cr.FieldPos(0)
		if isBlank(row) {
			continue
		}

		st, err := parseStation(row)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %w", domain.ErrMalformedInput, line, err)
		}
		if first, dup := seen[st.ID]; dup {
			return nil, fmt.Errorf("%w: %q on line %d, first seen on line %d", domain.ErrDuplicateStation, st.ID, line, first)
		}
		seen[st.ID] = line
		stations = append(stations, st)
	}
	return stations, nil
}

func parseStation(row []string) (domain.Station, error) {
	if len(row) < 3 {
		return domain.Station{}, fmt.Errorf("expected 3 fields, got %d", len(row))
	}
	id := strings.TrimSpace(row[0])
	if id == "" {
		return domain.Station{}, errors.New("empty station id")
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(row[1]), 64)
	if err != nil {
		return domain.Station{}, fmt.Errorf("latitude %q: not a number", row[1])
	}
	if math.IsNaN(lat) || lat < -90 || lat > 90 {
		return domain.Station{}, fmt.Errorf("latitude %v outside [-90, 90]", lat)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(row[2]), 64)
	if err != nil {
		return domain.Station{}, fmt.Errorf("longitude %q: not a number", row[2])
	}
	if math.IsNaN(lon) || math.IsInf(lon, 0) {
		return domain.Station{}, fmt.Errorf("longitude %q: not a finite number", row[2])
	}
	return domain.Station{ID: id, Lat: lat, Lon: lon}, nil
}

func isBlank(row []string) bool {
	for _, f := range row {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

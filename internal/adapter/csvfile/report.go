package csvfile

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/couchcryptid/gpm-precip-etl/internal/domain"
)

var reportHeader = []string{"id", "date", "total_mm"}

// ReportPaths derives the report and error-report paths from the station
// table path, e.g. "stations.csv" -> "stations_gpm_2019-02-01_2019-02-07.csv"
// and "stations_gpm_2019-02-01_2019-02-07_error.csv".
func ReportPaths(stationsPath string, start, end time.Time) (report, errs string) {
	base := strings.TrimSuffix(stationsPath, filepath.Ext(stationsPath))
	name := fmt.Sprintf("%s_gpm_%s_%s", base, start.Format(domain.DateLayout), end.Format(domain.DateLayout))
	return name + ".csv", name + "_error.csv"
}

// FormatTotal renders a total with one fractional digit.
func FormatTotal(mm float64) string {
	s := strconv.FormatFloat(domain.RoundTotal(mm), 'f', 1, 64)
	if s == "-0.0" {
		return "0.0"
	}
	return s
}

// ReportWriter writes `id;date;total_mm` rows. It implements pipeline.Loader
// and flushes after every batch so partial runs leave usable output.
type ReportWriter struct {
	mu   sync.Mutex
	f    *os.File
	w    *csv.Writer
	rows int
}

// CreateReport creates or truncates the report at path and writes the header.
func CreateReport(path string) (*ReportWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create report: %w", err)
	}
	rw := &ReportWriter{f: f, w: newWriter(f)}
	_ = rw.w.Write(reportHeader)
	rw.w.Flush()
	if err := rw.w.Error(); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("write report header: %w", err)
	}
	return rw, nil
}

// LoadBatch appends one row per total in the given order.
func (rw *ReportWriter) LoadBatch(_ context.Context, totals []domain.DailyTotal) error {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	for _, t := range totals {
		row := []string{t.StationID, t.Date.Format(domain.DateLayout), FormatTotal(t.TotalMM)}
		if err := rw.w.Write(row); err != nil {
			return fmt.Errorf("write report row %s: %w", t.Key(), err)
		}
		rw.rows++
	}
	rw.w.Flush()
	return rw.w.Error()
}

// Rows returns the number of data rows written so far.
func (rw *ReportWriter) Rows() int {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	return rw.rows
}

// Name returns the report's file path.
func (rw *ReportWriter) Name() string {
	return rw.f.Name()
}

func (rw *ReportWriter) Close() error {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	rw.w.Flush()
	return errors.Join(rw.w.Error(), rw.f.Close())
}

// ReadReport parses a report back into totals, rounded to one decimal.
func ReadReport(r io.Reader) ([]domain.DailyTotal, error) {
	cr := csv.NewReader(r)
	cr.Comma = delimiter
	cr.FieldsPerRecord = len(reportHeader)

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read report header: %w", err)
	}
	if strings.Join(header, ";") != strings.Join(reportHeader, ";") {
		return nil, fmt.Errorf("%w: unexpected report header %q", domain.ErrMalformedInput, header)
	}

	var totals []domain.DailyTotal
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return totals, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read report: %w", err)
		}
		d, err := domain.ParseDate(row[1])
		if err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrMalformedInput, err)
		}
		mm, err := strconv.ParseFloat(row[2], 64)
		if err != nil {
			return nil, fmt.Errorf("%w: total %q", domain.ErrMalformedInput, row[2])
		}
		totals = append(totals, domain.DailyTotal{StationID: row[0], Date: d, TotalMM: mm})
	}
}

// ErrorReport lists granules that could not contribute, as `date;message`
// rows. The file is removed on Close when nothing was recorded.
type ErrorReport struct {
	mu      sync.Mutex
	f       *os.File
	w       *csv.Writer
	entries int
}

// CreateErrorReport creates or truncates the error report at path.
func CreateErrorReport(path string) (*ErrorReport, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create error report: %w", err)
	}
	er := &ErrorReport{f: f, w: newWriter(f)}
	if err := er.w.Write([]string{"date", "message"}); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("write error report header: %w", err)
	}
	return er, nil
}

// Record appends the messages for one requested day.
func (er *ErrorReport) Record(day time.Time, messages []string) error {
	if len(messages) == 0 {
		return nil
	}
	er.mu.Lock()
	defer er.mu.Unlock()

	label := day.Format(domain.DateLayout)
	for _, m := range messages {
		if err := er.w.Write([]string{label, m}); err != nil {
			return fmt.Errorf("write error report: %w", err)
		}
		er.entries++
	}
	er.w.Flush()
	return er.w.Error()
}

// Entries returns the number of recorded messages.
func (er *ErrorReport) Entries() int {
	er.mu.Lock()
	defer er.mu.Unlock()
	return er.entries
}

func (er *ErrorReport) Close() error {
	er.mu.Lock()
	defer er.mu.Unlock()

	er.w.Flush()
	err := errors.Join(er.w.Error(), er.f.Close())
	if er.entries == 0 {
		if rmErr := os.Remove(er.f.Name()); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			err = errors.Join(err, rmErr)
		}
	}
	return err
}

func newWriter(w io.Writer) *csv.Writer {
	cw := csv.NewWriter(w)
	cw.Comma = delimiter
	return cw
}

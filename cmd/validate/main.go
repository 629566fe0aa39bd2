// Command validate checks a finished report against its station table and
// date range: row counts, ordering, coverage and value ranges, plus the
// granule error report when one exists.
//
// Usage:
//
//	go run ./cmd/validate \
//	  -stations data/stations.csv \
//	  -start 2019-02-01 -end 2019-02-07
//
// The report paths are derived from the station table the same way gpm does;
// -report and -errors override them.
package main

import (
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/couchcryptid/gpm-precip-etl/internal/adapter/csvfile"
	"github.com/couchcryptid/gpm-precip-etl/internal/domain"
)

// maxDailyTotal is the largest total 48 unsigned 16-bit samples can produce.
const maxDailyTotal = float64(domain.GranulesPerDay) * 65535 / domain.MMPerDayDivisor

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

// errorRow is one line of the granule error report.
type errorRow struct {
	lineNum int
	date    string
	message string
}

func main() {
	stationsPath := flag.String("stations", "", "station table (ID;LAT;LONG)")
	start := flag.String("start", "", "first day of the run (YYYY-MM-DD)")
	end := flag.String("end", "", "last day of the run (YYYY-MM-DD)")
	reportPath := flag.String("report", "", "report path (default: derived from -stations)")
	errorsPath := flag.String("errors", "", "error report path (default: derived from -stations)")
	flag.Parse()

	if *stationsPath == "" || *start == "" || *end == "" {
		flag.Usage()
		os.Exit(2)
	}

	os.Exit(run(os.Stdout, *stationsPath, *start, *end, *reportPath, *errorsPath))
}

func run(out io.Writer, stationsPath, startArg, endArg, reportPath, errorsPath string) int {
	start, err := domain.ParseDate(startArg)
	if err != nil {
		fmt.Fprintf(out, "FATAL: %v\n", err)
		return 1
	}
	end, err := domain.ParseDate(endArg)
	if err != nil {
		fmt.Fprintf(out, "FATAL: %v\n", err)
		return 1
	}
	if err := domain.ValidateRange(start, end); err != nil {
		fmt.Fprintf(out, "FATAL: %v\n", err)
		return 1
	}

	defReport, defErrors := csvfile.ReportPaths(stationsPath, start, end)
	if reportPath == "" {
		reportPath = defReport
	}
	if errorsPath == "" {
		errorsPath = defErrors
	}

	fmt.Fprintln(out, "=== GPM Report Validation ===")
	fmt.Fprintln(out)

	stations, err := csvfile.LoadStations(stationsPath)
	if err != nil {
		fmt.Fprintf(out, "FATAL: load stations: %v\n", err)
		return 1
	}
	totals, err := loadReport(reportPath)
	if err != nil {
		fmt.Fprintf(out, "FATAL: load report: %v\n", err)
		return 1
	}
	errRows, err := loadErrorReport(errorsPath)
	if err != nil {
		fmt.Fprintf(out, "FATAL: load error report: %v\n", err)
		return 1
	}

	phases := validate(stations, totals, errRows, start, end)

	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Fprintf(out, "  %-42s %s\n", p.name, status)
	}

	fmt.Fprintln(out)
	fmt.Fprintf(out, "Records: %d stations, %d days, %d report rows, %d granule errors\n",
		len(stations), domain.DayCount(start, end), len(totals), len(errRows))

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Fprintf(out, "\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Fprintf(out, "  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Fprintln(out, "\nAll validations passed.")
		return 0
	}
	fmt.Fprintln(out, "\nValidation FAILED.")
	return 1
}

func validate(stations []domain.Station, totals []domain.DailyTotal, errRows []errorRow, start, end time.Time) []*phase {
	return []*phase{
		validateShape(stations, totals, start, end),
		validateOrder(stations, totals, start, end),
		validateValues(totals),
		validateErrorReport(errRows, start, end),
	}
}

// ── Data loading ──

func loadReport(path string) ([]domain.DailyTotal, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return csvfile.ReadReport(f)
}

// loadErrorReport returns no rows when the file does not exist, which is how
// a run without granule errors leaves it.
func loadErrorReport(path string) ([]errorRow, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.Comma = ';'
	r.FieldsPerRecord = 2
	all, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(all) == 0 || all[0][0] != "date" || all[0][1] != "message" {
		return nil, fmt.Errorf("%s: missing date;message header", path)
	}

	rows := make([]errorRow, 0, len(all)-1)
	for i, row := range all[1:] {
		rows = append(rows, errorRow{lineNum: i + 2, date: row[0], message: row[1]})
	}
	return rows, nil
}

// ── Validation phases ──

func validateShape(stations []domain.Station, totals []domain.DailyTotal, start, end time.Time) *phase {
	p := &phase{name: "Report shape (one row per station and day)"}

	want := len(stations) * domain.DayCount(start, end)
	if len(totals) != want {
		p.errorf("report has %d rows, expected %d stations x %d days = %d",
			len(totals), len(stations), domain.DayCount(start, end), want)
	}

	known := make(map[string]bool, len(stations))
	for _, st := range stations {
		known[st.ID] = true
	}
	seen := make(map[string]int, len(totals))
	for i, t := range totals {
		row := i + 2
		if !known[t.StationID] {
			p.errorf("row %d: station %q not in station table", row, t.StationID)
		}
		if t.Date.Before(start) || t.Date.After(end) {
			p.errorf("row %d: date %s outside %s..%s", row,
				t.Date.Format(domain.DateLayout), start.Format(domain.DateLayout), end.Format(domain.DateLayout))
		}
		if prev, ok := seen[t.Key()]; ok {
			p.errorf("row %d: %s duplicates row %d", row, t.Key(), prev)
		}
		seen[t.Key()] = row
	}
	return p
}

func validateOrder(stations []domain.Station, totals []domain.DailyTotal, start, end time.Time) *phase {
	p := &phase{name: "Row order (by day, stations in table order)"}

	days, err := domain.Days(start, end)
	if err != nil {
		p.errorf("%v", err)
		return p
	}
	i := 0
	for d := range days {
		for _, st := range stations {
			if i >= len(totals) {
				p.errorf("report ends before %s %s", st.ID, d.Format(domain.DateLayout))
				return p
			}
			t := totals[i]
			if t.StationID != st.ID || !t.Date.Equal(d) {
				p.errorf("row %d: got %s, expected %s|%s", i+2, t.Key(), st.ID, d.Format(domain.DateLayout))
				return p
			}
			i++
		}
	}
	return p
}

func validateValues(totals []domain.DailyTotal) *phase {
	p := &phase{name: "Totals (non-negative, one decimal, bounded)"}
	for i, t := range totals {
		row := i + 2
		switch {
		case t.TotalMM < 0:
			p.errorf("row %d: %s total %g is negative", row, t.Key(), t.TotalMM)
		case t.TotalMM > maxDailyTotal:
			p.errorf("row %d: %s total %g exceeds %g", row, t.Key(), t.TotalMM, maxDailyTotal)
		case domain.RoundTotal(t.TotalMM) != t.TotalMM:
			p.errorf("row %d: %s total %g has more than one decimal", row, t.Key(), t.TotalMM)
		}
	}
	return p
}

func validateErrorReport(rows []errorRow, start, end time.Time) *phase {
	p := &phase{name: "Granule error report"}
	perDay := make(map[string]int)
	for _, r := range rows {
		d, err := domain.ParseDate(r.date)
		if err != nil {
			p.errorf("line %d: %v", r.lineNum, err)
			continue
		}
		if d.Before(start) || d.After(end) {
			p.errorf("line %d: date %s outside the run", r.lineNum, r.date)
		}
		if r.message == "" {
			p.errorf("line %d: empty message", r.lineNum)
		}
		perDay[r.date]++
	}
	for day, n := range perDay {
		if n > domain.GranulesPerDay {
			p.errorf("%s: %d granule errors, a day has only %d granules", day, n, domain.GranulesPerDay)
		}
	}
	return p
}

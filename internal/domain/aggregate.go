package domain

import (
	"math"
	"time"
)

// MMPerDayDivisor converts the sum of 48 half-hourly rates (0.1 mm/h) into a
// daily total in millimeters. It is a unit conversion, not a sample count.
const MMPerDayDivisor = 20

// RoundTotal rounds a daily total half away from zero to the 0.1 mm
// resolution of the report.
func RoundTotal(mm float64) float64 {
	return math.Round(mm*10) / 10
}

// Aggregate sums the present samples of an APD window and converts the result
// to millimeters. Absent samples contribute zero.
func Aggregate(stationID string, date time.Time, samples [GranulesPerDay]Sample) DailyTotal {
	var sum float64
	present := 0
	for _, s := range samples {
		if !s.Present {
			continue
		}
		sum += s.Value
		present++
	}
	return DailyTotal{
		StationID: stationID,
		Date:      TruncateDay(date),
		TotalMM:   sum / MMPerDayDivisor,
		Present:   present,
	}
}

// DailyAccumulator collects the samples of one APD window for a fixed set of
// stations. It is not safe for concurrent use.
type DailyAccumulator struct {
	date     time.Time
	window   [GranulesPerDay]Granule
	index    map[time.Time]int
	stations []Station
	samples  map[string]*[GranulesPerDay]Sample
}

// NewDailyAccumulator prepares an accumulator for the APD of date.
func NewDailyAccumulator(date time.Time, stations []Station) *DailyAccumulator {
	a := &DailyAccumulator{
		date:     TruncateDay(date),
		window:   Window(date),
		index:    make(map[time.Time]int, GranulesPerDay),
		stations: stations,
		samples:  make(map[string]*[GranulesPerDay]Sample, len(stations)),
	}
	for i, g := range a.window {
		a.index[g.Start] = i
	}
	for _, st := range stations {
		a.samples[st.ID] = &[GranulesPerDay]Sample{}
	}
	return a
}

// Window returns the granules this accumulator expects.
func (a *DailyAccumulator) Window() [GranulesPerDay]Granule {
	return a.window
}

// Add records the values sampled from granule g. Stations missing from values
// stay absent for that granule. Granules outside the window are ignored and
// reported as false.
func (a *DailyAccumulator) Add(g Granule, values map[string]float64) bool {
	i, ok := a.index[g.Start]
	if !ok {
		return false
	}
	for id, v := range values {
		s, ok := a.samples[id]
		if !ok {
			continue
		}
		s[i] = Sample{Value: v, Present: true}
	}
	return true
}

// Totals returns one DailyTotal per station in station order.
func (a *DailyAccumulator) Totals() []DailyTotal {
	out := make([]DailyTotal, 0, len(a.stations))
	for _, st := range a.stations {
		out = append(out, Aggregate(st.ID, a.date, *a.samples[st.ID]))
	}
	return out
}

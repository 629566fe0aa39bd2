package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestWindow(t *testing.T) {
	w := Window(date(2019, time.February, 2))

	require.Len(t, w, GranulesPerDay)
	assert.Equal(t, time.Date(2019, time.February, 1, 12, 0, 0, 0, time.UTC), w[0].Start)
	assert.Equal(t, time.Date(2019, time.February, 1, 23, 30, 0, 0, time.UTC), w[23].Start, "24th granule closes the previous day")
	assert.Equal(t, time.Date(2019, time.February, 2, 0, 0, 0, 0, time.UTC), w[24].Start, "25th granule opens the current day")
	assert.Equal(t, time.Date(2019, time.February, 2, 11, 30, 0, 0, time.UTC), w[47].Start)

	for i := 1; i < len(w); i++ {
		assert.Equal(t, GranuleStep, w[i].Start.Sub(w[i-1].Start), "granule %d", i)
	}
}

func TestWindow_IgnoresTimeOfDay(t *testing.T) {
	assert.Equal(t, Window(date(2020, time.March, 1)), Window(time.Date(2020, time.March, 1, 17, 45, 3, 0, time.UTC)))
}

func TestWindow_CrossesMonthAndLeapDay(t *testing.T) {
	w := Window(date(2020, time.March, 1))
	assert.Equal(t, time.Date(2020, time.February, 29, 12, 0, 0, 0, time.UTC), w[0].Start)

	w = Window(date(2021, time.January, 1))
	assert.Equal(t, time.Date(2020, time.December, 31, 12, 0, 0, 0, time.UTC), w[0].Start)
}

func TestGranules(t *testing.T) {
	tests := []struct {
		name  string
		start time.Time
		end   time.Time
		days  int
	}{
		{"single day", date(2019, time.February, 2), date(2019, time.February, 2), 1},
		{"one week", date(2019, time.February, 1), date(2019, time.February, 7), 7},
		{"across year end", date(2019, time.December, 30), date(2020, time.January, 2), 4},
		{"leap february", date(2020, time.February, 1), date(2020, time.February, 29), 29},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seq, err := Granules(tt.start, tt.end)
			require.NoError(t, err)

			var all []Granule
			days := 0
			for _, w := range seq {
				days++
				all = append(all, w[:]...)
			}

			assert.Equal(t, tt.days, days)
			assert.Equal(t, tt.days, DayCount(tt.start, tt.end))
			require.Len(t, all, GranulesPerDay*tt.days)

			seen := make(map[time.Time]bool, len(all))
			for i, g := range all {
				assert.False(t, seen[g.Start], "duplicate granule %s", g)
				seen[g.Start] = true
				assert.Contains(t, []int{0, 30}, g.Start.Minute())
				if i > 0 {
					assert.Equal(t, GranuleStep, g.Start.Sub(all[i-1].Start))
				}
			}
		})
	}
}

func TestGranules_Restartable(t *testing.T) {
	seq, err := Granules(date(2019, time.February, 1), date(2019, time.February, 3))
	require.NoError(t, err)

	collect := func() []time.Time {
		var out []time.Time
		for d := range seq {
			out = append(out, d)
		}
		return out
	}
	assert.Equal(t, collect(), collect())
}

func TestGranules_StopsEarly(t *testing.T) {
	seq, err := Granules(date(2019, time.February, 1), date(2019, time.February, 28))
	require.NoError(t, err)

	n := 0
	for range seq {
		n++
		if n == 2 {
			break
		}
	}
	assert.Equal(t, 2, n)
}

func TestGranules_InvalidRange(t *testing.T) {
	_, err := Granules(date(2019, time.February, 2), date(2019, time.February, 1))
	require.ErrorIs(t, err, ErrInvalidRange)
	assert.Contains(t, err.Error(), "ini_date(2019-02-02) > end_date(2019-02-01)")
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2019-02-02")
	require.NoError(t, err)
	assert.Equal(t, date(2019, time.February, 2), d)

	for _, bad := range []string{"", "2019-2-2", "02/02/2019", "2019-02-30"} {
		_, err := ParseDate(bad)
		assert.Error(t, err, bad)
	}
}

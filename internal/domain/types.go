package domain

import (
	"fmt"
	"time"
)

// Station is a fixed ground point with WGS-84 (EPSG:4326) coordinates.
type Station struct {
	ID  string
	Lat float64
	Lon float64
}

// Granule identifies one half-hourly raster by the UTC start of its interval.
// The minute is always 0 or 30.
type Granule struct {
	Start time.Time
}

// End is the last second covered by the granule, as encoded in file names.
func (g Granule) End() time.Time {
	return g.Start.Add(GranuleStep - time.Second)
}

// MinuteOfDay is the number of minutes from 00:00 to the interval start.
func (g Granule) MinuteOfDay() int {
	return g.Start.Hour()*60 + g.Start.Minute()
}

func (g Granule) String() string {
	return g.Start.UTC().Format("2006-01-02T15:04Z")
}

// RasterFile is a downloaded granule on local storage. It is read-only once
// written and owned by a single worker until released.
type RasterFile struct {
	Granule Granule
	Name    string
	Path    string
}

// Sample is one pixel reading for a (station, granule) pair. A zero Sample is
// absent and contributes nothing to the daily total.
type Sample struct {
	Value   float64
	Present bool
}

// DailyTotal is the APD for one station and one day.
type DailyTotal struct {
	StationID string
	Date      time.Time
	TotalMM   float64

	// Present counts the granules that contributed a value. It is informative
	// only and never changes TotalMM's divisor.
	Present int
}

// Key identifies the total, e.g. "A354|2019-02-02".
func (t DailyTotal) Key() string {
	return fmt.Sprintf("%s|%s", t.StationID, t.Date.Format(DateLayout))
}

// Credentials authenticate against the remote file server. PPS accounts use
// the registered e-mail address as both user name and password.
type Credentials struct {
	Username string
	Password string
}

// CredentialsFromEmail builds PPS credentials for a registered e-mail address.
func CredentialsFromEmail(email string) Credentials {
	return Credentials{Username: email, Password: email}
}

// Package domain models IMERG half-hourly precipitation granules and the daily
// accumulation (APD) derived from them for a set of ground stations.
//
// # Data Source
//
// Granules come from the NASA Precipitation Processing System (PPS) research
// server. The GIS flavour of the IMERG half-hourly product is published as one
// single-band GeoTIFF per 30-minute interval, covering the whole globe on a
// 0.1 degree plate carrée grid (EPSG:4326).
//
// # Remote Layout
//
// Files are grouped per UTC calendar day:
//
//	/gpmdata/YYYY/MM/DD/gis/<product>.YYYYMMDD-SHHMMSS-EHHMMSS.MMMM.<version>.tif
//
//	e.g. /gpmdata/2017/02/27/gis/3B-HHR-GIS.MS.MRG.3IMERG.20170227-S013000-E015959.0090.V06B.tif
//
//	S013000  interval start, HHMMSS
//	E015959  interval end, start + 29m59s
//	0090     minutes since 00:00 of the interval start
//	V06B     product version
//
// See [Layout.RemotePath].
//
// # Pixel Units
//
// GIS granules store the precipitation rate as 16-bit integers in tenths of a
// millimeter per hour. A half-hour granule therefore contributes value/10/2 mm,
// which is why the daily sum is always divided by [MMPerDayDivisor] (20) and
// never by the number of granules that were actually retrieved.
//
// # Accumulation Window
//
// The APD (Accumulation Precipitation of Day) for day D covers 48 granules:
//
//	D-1 12:00 .. D-1 23:30   (24 granules)
//	D   00:00 .. D   11:30   (24 granules)
//
// See [Window].
package domain

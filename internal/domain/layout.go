package domain

import (
	"fmt"
	"path"
)

// Default PPS layout for the IMERG half-hourly GIS product.
const (
	DefaultRoot    = "gpmdata"
	DefaultProduct = "3B-HHR-GIS.MS.MRG.3IMERG"
	DefaultVersion = "V06B"
)

// Layout maps granules to file names and directories on the remote server.
type Layout struct {
	Root    string
	Product string
	Version string
}

// DefaultLayout returns the PPS layout for the V06B GIS product.
func DefaultLayout() Layout {
	return Layout{Root: DefaultRoot, Product: DefaultProduct, Version: DefaultVersion}
}

// FileName returns the granule's file name, e.g.
// "3B-HHR-GIS.MS.MRG.3IMERG.20170227-S013000-E015959.0090.V06B.tif".
func (l Layout) FileName(g Granule) string {
	s, e := g.Start.UTC(), g.End().UTC()
	return fmt.Sprintf("%s.%s-S%s-E%s.%04d.%s.tif",
		l.Product,
		s.Format("20060102"),
		s.Format("150405"),
		e.Format("150405"),
		g.MinuteOfDay(),
		l.Version,
	)
}

// Dir returns the remote directory holding all granules that start on the
// granule's UTC day, e.g. "/gpmdata/2017/02/27/gis".
func (l Layout) Dir(g Granule) string {
	s := g.Start.UTC()
	return path.Join("/", l.Root, s.Format("2006/01/02"), "gis")
}

// RemotePath joins Dir and FileName.
func (l Layout) RemotePath(g Granule) string {
	return path.Join(l.Dir(g), l.FileName(g))
}

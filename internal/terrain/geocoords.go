package terrain

import (
	"fmt"
	"math"

	"github.com/golang/geo/s2"
)

// Mean meridian arc length of one degree of latitude, meters.
const metersPerDegLat = 111320.0

// DeriveGeoCoords fills per-pixel WGS84 longitude and latitude rasters
// for an elevation grid without consulting GDAL. EPSG:4326 grids convert
// by identity and EPSG:2056 grids via the swisstopo closed-form
// approximation. Any other CRS falls back to a local linear
// approximation anchored at the reference coordinate; approx reports
// when that bounded fallback was used so runs can flag it in metadata.
func DeriveGeoCoords(elev *Raster, ref s2.LatLng) (lon, lat *Raster, approx bool, err error) {
	switch elev.Grid.EPSG {
	case 4326:
		lon, lat = geoCoordsIdentity(elev)
		return lon, lat, false, nil
	case 2056:
		lon, lat = geoCoordsLV95(elev)
		return lon, lat, false, nil
	default:
		if !ref.IsValid() {
			return nil, nil, false, fmt.Errorf("%w: no transform for EPSG %d and no reference coordinate for the linear fallback",
				ErrUnavailable, elev.Grid.EPSG)
		}
		lon, lat = ApproxGeoCoords(elev, ref)
		return lon, lat, true, nil
	}
}

func geoCoordsIdentity(elev *Raster) (lon, lat *Raster) {
	g := elev.Grid
	lon = NewRaster(g)
	lat = NewRaster(g)
	for row := 0; row < g.Height; row++ {
		for col := 0; col < g.Width; col++ {
			x, y := g.CellCenter(col, row)
			lon.Set(col, row, x)
			lat.Set(col, row, y)
		}
	}
	return lon, lat
}

// geoCoordsLV95 converts Swiss LV95 (EPSG:2056) cell centers to WGS84
// using the swisstopo approximate formulas, accurate to about a meter
// within Switzerland.
func geoCoordsLV95(elev *Raster) (lon, lat *Raster) {
	g := elev.Grid
	lon = NewRaster(g)
	lat = NewRaster(g)
	for row := 0; row < g.Height; row++ {
		for col := 0; col < g.Width; col++ {
			e, n := g.CellCenter(col, row)
			lo, la := lv95ToWGS84(e, n)
			lon.Set(col, row, lo)
			lat.Set(col, row, la)
		}
	}
	return lon, lat
}

func lv95ToWGS84(easting, northing float64) (lon, lat float64) {
	y := (easting - 2_600_000) / 1_000_000
	x := (northing - 1_200_000) / 1_000_000

	lonSec := 2.6779094 + 4.728982*y + 0.791484*y*x + 0.1306*y*x*x - 0.0436*y*y*y
	latSec := 16.9023892 + 3.238272*x - 0.270978*y*y - 0.002528*x*x - 0.0447*y*y*x - 0.0140*x*x*x

	lon = lonSec * 100 / 36
	lat = latSec * 100 / 36
	return lon, lat
}

// ApproxGeoCoords anchors the grid center at the reference coordinate
// and extrapolates linearly, with a cosine correction for meridian
// convergence at the reference parallel. Only valid near the reference;
// callers record its use in run metadata.
func ApproxGeoCoords(elev *Raster, ref s2.LatLng) (lon, lat *Raster) {
	g := elev.Grid
	lon = NewRaster(g)
	lat = NewRaster(g)

	cx, cy := g.CellCenter(g.Width/2, g.Height/2)
	refLat := ref.Lat.Degrees()
	refLon := ref.Lng.Degrees()
	metersPerDegLon := metersPerDegLat * math.Cos(ref.Lat.Radians())

	for row := 0; row < g.Height; row++ {
		for col := 0; col < g.Width; col++ {
			x, y := g.CellCenter(col, row)
			lon.Set(col, row, refLon+(x-cx)/metersPerDegLon)
			lat.Set(col, row, refLat+(y-cy)/metersPerDegLat)
		}
	}
	return lon, lat
}

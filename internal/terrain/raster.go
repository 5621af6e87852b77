// Package terrain provides the raster model shared by the shadow engine:
// elevation surfaces, derived slope/aspect and geographic-coordinate
// rasters, and the GeoTIFF-backed store that caches them per run.
package terrain

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Grid describes the geometry shared by every raster of one terrain set.
// Transform holds the GDAL-order geotransform: origin X, cell width, row
// rotation, origin Y, column rotation, cell height (negative for
// north-up grids). Rotated grids are rejected at load.
type Grid struct {
	Width     int        `msgpack:"width"`
	Height    int        `msgpack:"height"`
	Transform [6]float64 `msgpack:"transform"`
	EPSG      int        `msgpack:"epsg"`
	Proj      string     `msgpack:"proj"`
	Nodata    float64    `msgpack:"nodata"`
}

// CellWidth returns the cell size along X in projected units.
func (g Grid) CellWidth() float64 { return g.Transform[1] }

// CellHeight returns the absolute cell size along Y in projected units.
func (g Grid) CellHeight() float64 { return math.Abs(g.Transform[5]) }

// CellCenter returns the projected coordinate of a pixel center.
func (g Grid) CellCenter(col, row int) (x, y float64) {
	x = g.Transform[0] + (float64(col)+0.5)*g.Transform[1]
	y = g.Transform[3] + (float64(row)+0.5)*g.Transform[5]
	return x, y
}

// SameShape reports whether two grids cover the same pixels.
func (g Grid) SameShape(o Grid) bool {
	return g.Width == o.Width && g.Height == o.Height && g.Transform == o.Transform
}

// Raster is a row-major float64 grid. Nodata cells hold NaN regardless of
// the source file's marker, which is kept in Grid.Nodata for export.
type Raster struct {
	Grid   Grid
	Values []float64
}

// NewRaster returns a raster of the given geometry with every cell nodata.
func NewRaster(g Grid) *Raster {
	v := make([]float64, g.Width*g.Height)
	for i := range v {
		v[i] = math.NaN()
	}
	return &Raster{Grid: g, Values: v}
}

// At returns the value at (col, row). Out-of-bounds reads return NaN.
func (r *Raster) At(col, row int) float64 {
	if col < 0 || col >= r.Grid.Width || row < 0 || row >= r.Grid.Height {
		return math.NaN()
	}
	return r.Values[row*r.Grid.Width+col]
}

// Set writes the value at (col, row), which must be in bounds.
func (r *Raster) Set(col, row int, v float64) {
	r.Values[row*r.Grid.Width+col] = v
}

// InBounds reports whether (col, row) addresses a cell.
func (r *Raster) InBounds(col, row int) bool {
	return col >= 0 && col < r.Grid.Width && row >= 0 && row < r.Grid.Height
}

// Defined reports whether a sample carries data.
func Defined(v float64) bool { return !math.IsNaN(v) }

// Stats summarizes the defined cells of a raster.
type Stats struct {
	Min     float64
	Max     float64
	Mean    float64
	Defined int
}

// Stats computes min, max and mean over the defined cells. All-nodata
// rasters report NaN extremes and zero defined cells.
func (r *Raster) Stats() Stats {
	defined := make([]float64, 0, len(r.Values))
	for _, v := range r.Values {
		if Defined(v) {
			defined = append(defined, v)
		}
	}
	if len(defined) == 0 {
		return Stats{Min: math.NaN(), Max: math.NaN(), Mean: math.NaN()}
	}
	return Stats{
		Min:     floats.Min(defined),
		Max:     floats.Max(defined),
		Mean:    stat.Mean(defined, nil),
		Defined: len(defined),
	}
}

// ByteRaster is a row-major 8-bit grid sharing the Grid geometry, used
// for shadow masks and quantized incidence exports.
type ByteRaster struct {
	Grid   Grid
	Values []byte
}

// NewByteRaster returns a zeroed byte raster of the given geometry.
func NewByteRaster(g Grid) *ByteRaster {
	return &ByteRaster{Grid: g, Values: make([]byte, g.Width*g.Height)}
}

// At returns the value at (col, row), which must be in bounds.
func (r *ByteRaster) At(col, row int) byte {
	return r.Values[row*r.Grid.Width+col]
}

// Set writes the value at (col, row), which must be in bounds.
func (r *ByteRaster) Set(col, row int, v byte) {
	r.Values[row*r.Grid.Width+col] = v
}

// Count returns how many cells hold the given value.
func (r *ByteRaster) Count(v byte) int {
	n := 0
	for _, b := range r.Values {
		if b == v {
			n++
		}
	}
	return n
}

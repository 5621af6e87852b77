package terrain

import "math"

const (
	degToRad = math.Pi / 180.0
	radToDeg = 180.0 / math.Pi
)

// DeriveSlopeAspect computes slope and aspect in degrees from an
// elevation surface using Horn's eight-neighbor kernel. Slope is degrees
// from horizontal. Aspect is the compass direction of the downslope fall
// line, degrees clockwise from north, and nodata wherever the surface is
// flat. Both outputs share the elevation grid. Nodata elevation cells
// stay nodata; nodata neighbors fall back to the center height so edges
// and data borders keep a defined slope.
func DeriveSlopeAspect(elev *Raster) (slope, aspect *Raster) {
	g := elev.Grid
	slope = NewRaster(g)
	aspect = NewRaster(g)

	// Neighbor ring, clockwise from northeast.
	dX := [8]int{1, 1, 1, 0, -1, -1, -1, 0}
	dY := [8]int{-1, 0, 1, 1, 1, 0, -1, -1}

	eightDx := 8 * g.CellWidth()
	eightDy := 8 * g.CellHeight()

	var n [8]float64
	for row := 0; row < g.Height; row++ {
		for col := 0; col < g.Width; col++ {
			z := elev.At(col, row)
			if !Defined(z) {
				continue
			}
			for i := 0; i < 8; i++ {
				zn := elev.At(col+dX[i], row+dY[i])
				if Defined(zn) {
					n[i] = zn
				} else {
					n[i] = z
				}
			}

			// n[0]=NE n[1]=E n[2]=SE n[3]=S n[4]=SW n[5]=W n[6]=NW n[7]=N
			fx := (n[2] - n[4] + 2*(n[1]-n[5]) + n[0] - n[6]) / eightDx
			fy := (n[6] - n[4] + 2*(n[7]-n[3]) + n[0] - n[2]) / eightDy

			slope.Set(col, row, math.Atan(math.Hypot(fx, fy))*radToDeg)

			if fx == 0 && fy == 0 {
				continue // flat cell, aspect stays nodata
			}
			// Downslope direction is the negated gradient; atan2 of its
			// east/north components yields compass degrees.
			a := math.Atan2(-fx, -fy) * radToDeg
			if a < 0 {
				a += 360
			}
			aspect.Set(col, row, a)
		}
	}
	return slope, aspect
}

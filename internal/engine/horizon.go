package engine

import (
	"math"

	"github.com/terrashade/terrashade/internal/terrain"
)

const (
	// earthRadius in meters for the curvature drop along horizon rays.
	earthRadius = 6371000.0
	// refractionK is the standard atmospheric refraction coefficient that
	// lowers the effective curvature on long sight lines.
	refractionK = 0.13
)

// occluded walks from a cell toward the sun and reports whether any
// terrain sample rises above the sight line. Distant samples are lowered
// by the refraction-corrected Earth curvature drop (1-k)*d^2/(2R).
// Sample positions are computed in closed form per step so the walk does
// not accumulate float drift. Nodata samples are transparent. The walk
// ends at the grid edge or as soon as the ray climbs above maxElev.
func occluded(elev *terrain.Raster, col, row int, azDeg, altDeg, maxElev float64) bool {
	if altDeg <= 0 {
		return true
	}
	z0 := elev.At(col, row)
	if !terrain.Defined(z0) {
		return false
	}
	g := elev.Grid
	sinAz, cosAz := math.Sincos(degToRad(azDeg))
	tanAlt := math.Tan(degToRad(altDeg))

	// One step advances the shorter cell edge so no cell is skipped.
	// Rows grow southward, azimuth is compass, hence the sign flip.
	step := math.Min(g.CellWidth(), g.CellHeight())
	dCol := sinAz * step / g.CellWidth()
	dRow := -cosAz * step / g.CellHeight()

	for n := 1; ; n++ {
		c := int(math.Round(float64(col) + dCol*float64(n)))
		r := int(math.Round(float64(row) + dRow*float64(n)))
		if !elev.InBounds(c, r) {
			return false
		}
		d := step * float64(n)
		rayZ := z0 + d*tanAlt
		if rayZ >= maxElev {
			return false
		}
		z := elev.At(c, r)
		if !terrain.Defined(z) {
			continue
		}
		drop := (1 - refractionK) * d * d / (2 * earthRadius)
		if z-drop > rayZ {
			return true
		}
	}
}

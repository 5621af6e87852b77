package engine

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/soniakeys/meeus/v3/julian"

	"github.com/terrashade/terrashade/internal/terrain"
	"github.com/terrashade/terrashade/pkg/solartime"
)

// fastComputer projects shadows by sweeping projection rays across the
// grid from the sunlit edges (Corripio 2003). One solar position serves
// the whole grid, no refraction, no curvature. Mask polarity: 1 shadow,
// 0 illuminated.
type fastComputer struct {
	logger *zap.SugaredLogger
}

func (c *fastComputer) Compute(ctx context.Context, tp *terrain.Products, stamp solartime.Stamp) (*Result, error) {
	t, err := stamp.Time()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCompute, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCompute, err)
	}

	lat, lon, err := centerCoord(tp)
	if err != nil {
		return nil, err
	}
	jd := julian.TimeToJD(t)
	sv := sunVector(jd, stamp.UTC().Hour, lat, lon)
	altDeg, azDeg := sunAltAz(sv)
	logSunPosition(c.logger, VariantFast, stamp, altDeg, azDeg)

	mask, err := projectShadows(ctx, tp.Elevation, sv)
	if err != nil {
		return nil, err
	}
	for i, z := range tp.Elevation.Values {
		if !terrain.Defined(z) {
			mask.Values[i] = MaskNodata
		}
	}

	return &Result{
		Shadow: mask,
		Meta: Meta{
			Variant:          VariantFast,
			Stamp:            stamp,
			SunAltitudeDeg:   altDeg,
			SunAzimuthDeg:    azDeg,
			ShadowFraction:   shadowFraction(mask, VariantFast.Polarity()),
			MeanIncidenceDeg: math.NaN(),
		},
	}, nil
}

// normalSunVector returns the vector normal to the sun direction used as
// the projection axis for the sweep.
func normalSunVector(sv [3]float64) [3]float64 {
	nz := math.Sqrt(sv[0]*sv[0] + sv[1]*sv[1])
	if nz == 0 {
		return [3]float64{0, 0, 1}
	}
	return [3]float64{-sv[0] * sv[2] / nz, -sv[1] * sv[2] / nz, nz}
}

// invertSunVector scales the sun vector away from the sun so the larger
// horizontal component advances exactly one cell per step.
func invertSunVector(sv [3]float64) [3]float64 {
	m := math.Max(math.Abs(sv[0]), math.Abs(sv[1]))
	if m == 0 {
		return [3]float64{0, 0, -1}
	}
	return [3]float64{-sv[0] / m, -sv[1] / m, -sv[2] / m}
}

// projectShadows sweeps two ray families across the grid, one anchored on
// the sunward row edge covering every column, one anchored on the sunward
// column edge covering every row. Cells whose projection onto the normal
// sun vector falls below the running maximum along their ray are shadow.
func projectShadows(ctx context.Context, elev *terrain.Raster, sv [3]float64) (*terrain.ByteRaster, error) {
	g := elev.Grid
	inv := invertSunVector(sv)
	nsv := normalSunVector(sv)
	mask := terrain.NewByteRaster(g)

	// A sun at the exact zenith has no horizontal component; vertical
	// rays cast no lateral shadow and the sweep has nothing to walk.
	if inv[0] == 0 && inv[1] == 0 {
		return mask, nil
	}

	startCol := g.Width - 1
	if sv[0] < 0 {
		// Sun in the west.
		startCol = 1
	}
	startRow := g.Height - 1
	if sv[1] < 0 {
		// Sun in the north. Rows grow southward.
		startRow = 1
	}

	for col := 0; col < g.Width; col++ {
		castShadow(elev, mask, col, startRow, inv, nsv, g.CellWidth())
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCompute, err)
	}
	for row := 0; row < g.Height; row++ {
		castShadow(elev, mask, startCol, row, inv, nsv, g.CellHeight())
	}
	return mask, nil
}

// castShadow walks one ray away from the sun, carrying the running
// maximum projection. A sample that falls below it is occluded by
// terrain closer to the sun. Nodata samples neither cast nor receive.
func castShadow(elev *terrain.Raster, mask *terrain.ByteRaster, col, row int, inv, nsv [3]float64, dl float64) {
	zPrev := math.Inf(-1)
	for n := 0; ; n++ {
		dx := inv[0] * float64(n)
		dy := inv[1] * float64(n)
		c := col + int(math.Round(dx))
		r := row + int(math.Round(dy))
		if !elev.InBounds(c, r) {
			return
		}
		z := elev.At(c, r)
		if !terrain.Defined(z) {
			continue
		}
		proj := dx*dl*nsv[0] + dy*dl*nsv[1] + z*nsv[2]
		if proj < zPrev {
			mask.Set(c, r, 1)
		} else {
			zPrev = proj
		}
	}
}

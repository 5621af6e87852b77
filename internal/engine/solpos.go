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

// solposComputer positions the sun with the Astronomical Almanac's
// approximate algorithm (Michalsky 1988) as carried by NREL SOLPOS,
// including its refraction correction. The position is resolved once at
// the grid center from the timestamp's UTC conversion; occlusion is then
// traced per pixel along the horizon ray. Mask polarity: 1 shadow,
// 0 illuminated.
type solposComputer struct {
	logger *zap.SugaredLogger
}

func (c *solposComputer) Compute(ctx context.Context, tp *terrain.Products, stamp solartime.Stamp) (*Result, error) {
	t, err := stamp.Time()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCompute, err)
	}
	lat, lon, err := centerCoord(tp)
	if err != nil {
		return nil, err
	}
	jd := julian.TimeToJD(t)
	altDeg, azDeg := almanacPosition(jd, stamp.UTC().Hour, lat, lon)
	logSunPosition(c.logger, VariantSolpos, stamp, altDeg, azDeg)

	g := tp.Elevation.Grid
	mask := terrain.NewByteRaster(g)
	pol := VariantSolpos.Polarity()
	maxElev := tp.Elevation.Stats().Max

	for row := 0; row < g.Height; row++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCompute, err)
		}
		for col := 0; col < g.Width; col++ {
			if !terrain.Defined(tp.Elevation.At(col, row)) {
				mask.Set(col, row, MaskNodata)
				continue
			}
			if altDeg <= 0 || occluded(tp.Elevation, col, row, azDeg, altDeg, maxElev) {
				mask.Set(col, row, pol.Shadow)
			} else {
				mask.Set(col, row, pol.Illuminated)
			}
		}
	}

	return &Result{
		Shadow: mask,
		Meta: Meta{
			Variant:          VariantSolpos,
			Stamp:            stamp,
			SunAltitudeDeg:   altDeg,
			SunAzimuthDeg:    azDeg,
			ShadowFraction:   shadowFraction(mask, pol),
			MeanIncidenceDeg: math.NaN(),
		},
	}, nil
}

// almanacPosition returns the sun's apparent altitude (refraction
// corrected) and compass azimuth in degrees for a UTC decimal hour.
// Michalsky, J. 1988. The Astronomical Almanac's algorithm for
// approximate solar position (1950-2050).
func almanacPosition(jd, hourUTC, latDeg, lonDeg float64) (altDeg, azDeg float64) {
	Δ := jd - 2451545.0

	mnlong := fixAngle(280.460 + 0.9856474*Δ)
	mnanom := degToRad(fixAngle(357.528 + 0.9856003*Δ))
	eclong := degToRad(fixAngle(mnlong + 1.915*math.Sin(mnanom) + 0.020*math.Sin(2*mnanom)))
	oblqec := degToRad(23.439 - 0.0000004*Δ)

	α := math.Atan2(math.Cos(oblqec)*math.Sin(eclong), math.Cos(eclong))
	δ := math.Asin(math.Sin(oblqec) * math.Sin(eclong))

	// Greenwich mean sidereal time in hours, then local in radians.
	gmst := 6.697375 + 0.0657098242*Δ + hourUTC
	lmst := degToRad(fixAngle(gmst*15 + lonDeg))

	ha := lmst - α
	for ha > math.Pi {
		ha -= 2 * math.Pi
	}
	for ha <= -math.Pi {
		ha += 2 * math.Pi
	}

	φ := degToRad(latDeg)
	sinδ, cosδ := math.Sincos(δ)
	sinφ, cosφ := math.Sincos(φ)
	cosHa := math.Cos(ha)
	el := math.Asin(sinδ*sinφ + cosδ*cosφ*cosHa)
	az := math.Atan2(-cosδ*math.Sin(ha), sinδ*cosφ-cosδ*sinφ*cosHa)

	azDeg = radToDeg(az)
	if azDeg < 0 {
		azDeg += 360
	}
	elDeg := radToDeg(el)
	return elDeg + solposRefraction(elDeg), azDeg
}

// solposRefraction returns the SOLPOS refraction correction in degrees
// for a true elevation. Below the -0.56 cutoff the correction is pinned
// at the horizon value.
func solposRefraction(elDeg float64) float64 {
	if elDeg < -0.56 {
		return 0.56
	}
	return 3.51561 * (0.1594 + elDeg*(0.0196+elDeg*0.00002)) /
		(1 + elDeg*(0.505+elDeg*0.0845))
}

package engine

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/soniakeys/meeus/v3/coord"
	"github.com/soniakeys/meeus/v3/julian"
	"github.com/soniakeys/meeus/v3/refraction"
	"github.com/soniakeys/meeus/v3/sidereal"
	"github.com/soniakeys/meeus/v3/solar"
	"github.com/soniakeys/unit"

	"github.com/terrashade/terrashade/internal/terrain"
	"github.com/terrashade/terrashade/pkg/solartime"
)

// detailedComputer resolves the apparent solar position per pixel from
// the pixel's own geographic coordinate, adds Saemundsson refraction,
// and tests terrain occlusion along the curvature-corrected horizon ray.
// It is the only variant that emits the incidence raster. Mask polarity:
// 0 shadow, 1 illuminated. A pixel is shadow exactly when its incidence
// is nodata.
type detailedComputer struct {
	logger *zap.SugaredLogger
}

func (c *detailedComputer) Compute(ctx context.Context, tp *terrain.Products, stamp solartime.Stamp) (*Result, error) {
	t, err := stamp.Time()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCompute, err)
	}
	jd := julian.TimeToJD(t)
	α, δ := solar.ApparentEquatorial(jd)
	st := sidereal.Apparent(jd)

	cLat, cLon, err := centerCoord(tp)
	if err != nil {
		return nil, err
	}
	cAlt, cAz := apparentHz(α, δ, st, cLat, cLon)
	logSunPosition(c.logger, VariantDetailed, stamp, cAlt, cAz)

	g := tp.Elevation.Grid
	inc := terrain.NewRaster(g)
	mask := terrain.NewByteRaster(g)
	pol := VariantDetailed.Polarity()
	maxElev := tp.Elevation.Stats().Max

	for row := 0; row < g.Height; row++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCompute, err)
		}
		for col := 0; col < g.Width; col++ {
			z := tp.Elevation.At(col, row)
			φ := tp.Lat.At(col, row)
			λ := tp.Lon.At(col, row)
			slope := tp.Slope.At(col, row)
			if !terrain.Defined(z) || !terrain.Defined(φ) || !terrain.Defined(λ) || !terrain.Defined(slope) {
				mask.Set(col, row, MaskNodata)
				continue
			}
			alt, az := apparentHz(α, δ, st, φ, λ)
			if alt <= 0 {
				mask.Set(col, row, pol.Shadow)
				continue
			}
			cosi := incidenceCos(slope, tp.Aspect.At(col, row), alt, az)
			if cosi <= 0 {
				// Surface faces away from the sun.
				mask.Set(col, row, pol.Shadow)
				continue
			}
			if occluded(tp.Elevation, col, row, az, alt, maxElev) {
				mask.Set(col, row, pol.Shadow)
				continue
			}
			a := radToDeg(math.Acos(cosi))
			if a < 0 {
				a = 0
			} else if a > 90 {
				a = 90
			}
			inc.Set(col, row, a)
			mask.Set(col, row, pol.Illuminated)
		}
	}

	return &Result{
		Incidence: inc,
		Shadow:    mask,
		Meta: Meta{
			Variant:          VariantDetailed,
			Stamp:            stamp,
			SunAltitudeDeg:   cAlt,
			SunAzimuthDeg:    cAz,
			ShadowFraction:   shadowFraction(mask, pol),
			MeanIncidenceDeg: inc.Stats().Mean,
		},
	}, nil
}

// apparentHz transforms the sun's equatorial position to the observer's
// horizontal frame and applies Saemundsson refraction. EqToHz takes
// longitude positive west and returns azimuth westward from south, hence
// the sign flip and the 180 shift to compass azimuth.
func apparentHz(α unit.RA, δ unit.Angle, st unit.Time, latDeg, lonDeg float64) (altDeg, azDeg float64) {
	A, h := coord.EqToHz(α, δ, unit.AngleFromDeg(latDeg), unit.AngleFromDeg(-lonDeg), st)
	h += refraction.Saemundsson(h)
	azDeg = A.Deg() + 180
	if azDeg >= 360 {
		azDeg -= 360
	} else if azDeg < 0 {
		azDeg += 360
	}
	return h.Deg(), azDeg
}

// incidenceCos returns the cosine of the angle between the surface
// normal and the sun direction. Inputs in degrees. Flat cells carry no
// aspect, leaving only the zenith term.
func incidenceCos(slopeDeg, aspectDeg, altDeg, azDeg float64) float64 {
	zen := degToRad(90 - altDeg)
	s := degToRad(slopeDeg)
	cosi := math.Cos(s) * math.Cos(zen)
	if slopeDeg > 0 && terrain.Defined(aspectDeg) {
		cosi += math.Sin(s) * math.Sin(zen) * math.Cos(degToRad(azDeg-aspectDeg))
	}
	if cosi > 1 {
		cosi = 1
	} else if cosi < -1 {
		cosi = -1
	}
	return cosi
}

// Package engine computes per-timestamp shadow masks and solar incidence
// rasters over a terrain product set. Three variants implement the same
// contract at different fidelity and cost.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/terrashade/terrashade/internal/terrain"
	"github.com/terrashade/terrashade/pkg/solartime"
)

// ErrCompute reports a failed per-timestamp computation. The driver
// records it and moves on to the next timestep.
var ErrCompute = errors.New("engine compute failure")

// MaskNodata marks mask pixels whose elevation is nodata. It sits outside
// both polarity encodings.
const MaskNodata byte = 255

// Sun altitude below which long-shadow output is flagged in logs, degrees.
const lowSunDeg = 5.0

// Computer produces the per-timestamp rasters for one terrain set.
// Implementations hold no mutable state across invocations, so one
// Computer may serve concurrent timesteps.
type Computer interface {
	// Compute renders the shadow mask and, for variants that emit it, the
	// incidence raster for one timestamp. Incidence is nil for
	// shadow-only variants.
	Compute(ctx context.Context, tp *terrain.Products, stamp solartime.Stamp) (*Result, error)
}

// Variant selects the computation strategy.
type Variant string

const (
	// VariantDetailed is the full per-pixel treatment: apparent solar
	// position, atmospheric refraction, Earth-curvature horizon test,
	// and the incidence raster.
	VariantDetailed Variant = "detailed"

	// VariantFast is the flat-plane projection sweep. Shadow only.
	VariantFast Variant = "fast"

	// VariantSolpos positions the sun with the Astronomical Almanac
	// algorithm at the grid center and ray-traces occlusion. Shadow only.
	VariantSolpos Variant = "solpos"
)

// ParseVariant validates a configured variant name.
func ParseVariant(s string) (Variant, error) {
	switch v := Variant(s); v {
	case VariantDetailed, VariantFast, VariantSolpos:
		return v, nil
	}
	return "", fmt.Errorf("unknown engine variant %q", s)
}

// Polarity documents a variant's mask encoding. The detailed family
// writes 0 for shadow, the fast family 1. Archives of both encodings
// exist, so the convention is declared per variant in run metadata and
// never silently unified.
type Polarity struct {
	Shadow      byte
	Illuminated byte
}

// Polarity returns the mask encoding for the variant.
func (v Variant) Polarity() Polarity {
	if v == VariantDetailed {
		return Polarity{Shadow: 0, Illuminated: 1}
	}
	return Polarity{Shadow: 1, Illuminated: 0}
}

// ProducesIncidence reports whether the variant emits an incidence raster.
func (v Variant) ProducesIncidence() bool { return v == VariantDetailed }

// Meta summarizes one computed timestep for logs and the run catalog.
// Solar angles refer to the grid center. MeanIncidenceDeg covers
// illuminated pixels only and is NaN for shadow-only variants.
type Meta struct {
	Variant          Variant
	Stamp            solartime.Stamp
	SunAltitudeDeg   float64
	SunAzimuthDeg    float64
	ShadowFraction   float64
	MeanIncidenceDeg float64
}

// Result is the output of one engine invocation.
type Result struct {
	Incidence *terrain.Raster
	Shadow    *terrain.ByteRaster
	Meta      Meta
}

// New returns the computer for a variant.
func New(v Variant, logger *zap.SugaredLogger) (Computer, error) {
	switch v {
	case VariantDetailed:
		return &detailedComputer{logger: logger}, nil
	case VariantFast:
		return &fastComputer{logger: logger}, nil
	case VariantSolpos:
		return &solposComputer{logger: logger}, nil
	}
	return nil, fmt.Errorf("unknown engine variant %q", v)
}

// centerCoord resolves the grid-center coordinate used for whole-grid
// solar positions.
func centerCoord(tp *terrain.Products) (latDeg, lonDeg float64, err error) {
	lat, lon, ok := tp.CenterCoordinate()
	if !ok {
		return 0, 0, fmt.Errorf("%w: terrain has no defined geographic coordinates", ErrCompute)
	}
	return lat, lon, nil
}

// shadowFraction counts mask cells carrying the variant's shadow value
// against all non-nodata mask cells.
func shadowFraction(mask *terrain.ByteRaster, p Polarity) float64 {
	shadow, total := 0, 0
	for _, v := range mask.Values {
		if v == MaskNodata {
			continue
		}
		total++
		if v == p.Shadow {
			shadow++
		}
	}
	if total == 0 {
		return math.NaN()
	}
	return float64(shadow) / float64(total)
}

// logSunPosition emits the per-timestep solar geometry, warning on low
// or below-horizon sun the way the field runs always have.
func logSunPosition(logger *zap.SugaredLogger, v Variant, stamp solartime.Stamp, altDeg, azDeg float64) {
	switch {
	case altDeg < 0:
		logger.Warnf("%s %s: sun below horizon (altitude %.2f), output is night", v, stamp, altDeg)
	case altDeg < lowSunDeg:
		logger.Warnf("%s %s: sun very low (altitude %.2f), shadows will be long", v, stamp, altDeg)
	default:
		logger.Debugf("%s %s: sun altitude %.2f azimuth %.2f", v, stamp, altDeg, azDeg)
	}
}

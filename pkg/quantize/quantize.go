// Package quantize maps incidence angles in [0,90] degrees onto 8-bit
// raster values, reserving 255 as the nodata sentinel.
package quantize

import (
	"fmt"
	"math"
	"sync/atomic"
)

// Nodata is the reserved 8-bit sentinel for shadowed or undefined pixels.
// It is never produced for a defined angle under either scale.
const Nodata byte = 255

// Scale selects the quantization formula. Both conventions appear in
// historical output archives, so the choice is per run and recorded in
// the output metadata rather than unified.
type Scale string

const (
	// Scale255 maps via q = round(a*255/90) clamped to [0,254]. A 90
	// degree angle lands on 254, keeping 255 free for nodata.
	Scale255 Scale = "255"

	// Scale254 maps via q = round(a*254/90), which reaches 254 at 90
	// degrees without needing the clamp.
	Scale254 Scale = "254"
)

// Quantizer converts angles under one scale. Safe for concurrent use;
// the overflow counter is atomic.
type Quantizer struct {
	scale     Scale
	factor    float64
	overflows atomic.Int64
}

// New returns a quantizer for the given scale.
func New(scale Scale) (*Quantizer, error) {
	q := &Quantizer{scale: scale}
	switch scale {
	case Scale255:
		q.factor = 255.0 / 90.0
	case Scale254:
		q.factor = 254.0 / 90.0
	default:
		return nil, fmt.Errorf("unknown quantizer scale %q", scale)
	}
	return q, nil
}

// Quantize maps one angle to its 8-bit value. NaN marks a shadowed or
// undefined pixel and passes through as Nodata. A finite angle outside
// [0,90] violates the engine's clamping invariant; it is counted as an
// overflow and forced to Nodata rather than aliasing a real angle.
func (q *Quantizer) Quantize(a float64) byte {
	if math.IsNaN(a) {
		return Nodata
	}
	if a < 0 || a > 90 {
		q.overflows.Add(1)
		return Nodata
	}
	v := math.Round(a * q.factor)
	if v > 254 {
		v = 254
	}
	return byte(v)
}

// Dequantize recovers the approximate angle for an 8-bit value. Nodata
// yields NaN.
func (q *Quantizer) Dequantize(v byte) float64 {
	if v == Nodata {
		return math.NaN()
	}
	return float64(v) / q.factor
}

// Overflows reports how many inputs have fallen outside the domain since
// construction.
func (q *Quantizer) Overflows() int64 {
	return q.overflows.Load()
}

// Scale returns the active scale.
func (q *Quantizer) Scale() Scale {
	return q.scale
}

package quantize

import (
	"math"
	"testing"
)

func TestQuantizeKnownValues(t *testing.T) {
	tests := []struct {
		name     string
		scale    Scale
		angle    float64
		expected byte
	}{
		{name: "zero degrees", scale: Scale255, angle: 0.0, expected: 0},
		{name: "grazing angle caps at 254", scale: Scale255, angle: 90.0, expected: 254},
		{name: "near grazing", scale: Scale255, angle: 89.9, expected: 254},
		{name: "midpoint rounds away from zero", scale: Scale255, angle: 45.0, expected: 128},
		{name: "one degree", scale: Scale255, angle: 1.0, expected: 3},
		{name: "zero degrees alt scale", scale: Scale254, angle: 0.0, expected: 0},
		{name: "grazing angle alt scale", scale: Scale254, angle: 90.0, expected: 254},
		{name: "midpoint alt scale", scale: Scale254, angle: 45.0, expected: 127},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := New(tt.scale)
			if err != nil {
				t.Fatalf("New(%q): %v", tt.scale, err)
			}
			if got := q.Quantize(tt.angle); got != tt.expected {
				t.Errorf("Quantize(%v) = %d, want %d", tt.angle, got, tt.expected)
			}
			if q.Overflows() != 0 {
				t.Errorf("in-domain angle counted as overflow")
			}
		})
	}
}

func TestQuantizeMonotonic(t *testing.T) {
	for _, scale := range []Scale{Scale255, Scale254} {
		q, err := New(scale)
		if err != nil {
			t.Fatalf("New(%q): %v", scale, err)
		}
		prev := byte(0)
		for i := 0; i <= 9000; i++ {
			a := float64(i) / 100.0
			v := q.Quantize(a)
			if v < prev {
				t.Fatalf("scale %s: Quantize(%v) = %d < previous %d", scale, a, v, prev)
			}
			if v == Nodata {
				t.Fatalf("scale %s: Quantize(%v) produced the nodata sentinel", scale, a)
			}
			prev = v
		}
	}
}

func TestQuantizeRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		scale Scale
		bound float64
	}{
		{name: "default scale", scale: Scale255, bound: 90.0 / 255.0},
		{name: "alternate scale", scale: Scale254, bound: 90.0 / 254.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := New(tt.scale)
			if err != nil {
				t.Fatalf("New(%q): %v", tt.scale, err)
			}
			for i := 0; i <= 900; i++ {
				a := float64(i) / 10.0
				back := q.Dequantize(q.Quantize(a))
				// The 90 degree cell folds onto 254, widening its error
				// to one full step.
				bound := tt.bound
				if a > 89.5 {
					bound = 2 * tt.bound
				}
				if math.Abs(back-a) > bound {
					t.Fatalf("round trip |%v - %v| exceeds %v", back, a, bound)
				}
			}
		})
	}
}

func TestQuantizeOverflow(t *testing.T) {
	tests := []struct {
		name  string
		angle float64
	}{
		{name: "negative angle", angle: -0.1},
		{name: "beyond grazing", angle: 90.1},
		{name: "wildly out of range", angle: 400.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := New(Scale255)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if got := q.Quantize(tt.angle); got != Nodata {
				t.Errorf("Quantize(%v) = %d, want nodata %d", tt.angle, got, Nodata)
			}
			if q.Overflows() != 1 {
				t.Errorf("Overflows() = %d, want 1", q.Overflows())
			}
		})
	}
}

func TestQuantizeNaNIsNodataNotOverflow(t *testing.T) {
	q, err := New(Scale255)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	// Shadowed pixels arrive as NaN; they are ordinary nodata, not a
	// domain violation.
	if got := q.Quantize(math.NaN()); got != Nodata {
		t.Errorf("Quantize(NaN) = %d, want nodata %d", got, Nodata)
	}
	if q.Overflows() != 0 {
		t.Errorf("Overflows() = %d after NaN, want 0", q.Overflows())
	}
}

func TestDequantizeNodata(t *testing.T) {
	q, err := New(Scale255)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !math.IsNaN(q.Dequantize(Nodata)) {
		t.Error("Dequantize(Nodata) should be NaN")
	}
}

func TestNewRejectsUnknownScale(t *testing.T) {
	if _, err := New(Scale("banana")); err == nil {
		t.Error("New should reject unknown scales")
	}
}

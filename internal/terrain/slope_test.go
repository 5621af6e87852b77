package terrain

import (
	"math"
	"testing"
)

// planeRaster fills a raster with z = a*x + b*y over cell centers.
func planeRaster(g Grid, a, b float64) *Raster {
	r := NewRaster(g)
	for row := 0; row < g.Height; row++ {
		for col := 0; col < g.Width; col++ {
			x, y := g.CellCenter(col, row)
			r.Set(col, row, a*x+b*y)
		}
	}
	return r
}

func TestDeriveSlopeAspectPlanes(t *testing.T) {
	tests := []struct {
		name           string
		a, b           float64
		expectedSlope  float64
		expectedAspect float64
		flatAspect     bool
	}{
		{name: "flat plane", a: 0, b: 0, expectedSlope: 0, flatAspect: true},
		{name: "45 degree dip east", a: -1, b: 0, expectedSlope: 45, expectedAspect: 90},
		{name: "45 degree dip west", a: 1, b: 0, expectedSlope: 45, expectedAspect: 270},
		{name: "45 degree dip north", a: 0, b: -1, expectedSlope: 45, expectedAspect: 0},
		{name: "45 degree dip south", a: 0, b: 1, expectedSlope: 45, expectedAspect: 180},
		{name: "gentle dip southeast", a: -0.1, b: 0.1, expectedSlope: math.Atan(0.1 * math.Sqrt2) * 180 / math.Pi, expectedAspect: 135},
	}

	const epsilon = 1e-9
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			elev := planeRaster(testGrid(7, 7, 1.0), tt.a, tt.b)
			slope, aspect := DeriveSlopeAspect(elev)

			// Border cells see clamped neighbors; check the interior.
			for row := 1; row < 6; row++ {
				for col := 1; col < 6; col++ {
					if got := slope.At(col, row); math.Abs(got-tt.expectedSlope) > epsilon {
						t.Fatalf("slope(%d,%d) = %v, want %v", col, row, got, tt.expectedSlope)
					}
					got := aspect.At(col, row)
					if tt.flatAspect {
						if !math.IsNaN(got) {
							t.Fatalf("aspect(%d,%d) = %v, want nodata on flat ground", col, row, got)
						}
						continue
					}
					diff := math.Abs(got - tt.expectedAspect)
					if diff > 180 {
						diff = 360 - diff
					}
					if diff > epsilon {
						t.Fatalf("aspect(%d,%d) = %v, want %v", col, row, got, tt.expectedAspect)
					}
				}
			}
		})
	}
}

func TestDeriveSlopeAspectNodata(t *testing.T) {
	elev := planeRaster(testGrid(5, 5, 1.0), -1, 0)
	elev.Set(2, 2, math.NaN())

	slope, aspect := DeriveSlopeAspect(elev)
	if !math.IsNaN(slope.At(2, 2)) || !math.IsNaN(aspect.At(2, 2)) {
		t.Error("nodata elevation must stay nodata in slope and aspect")
	}
	// Neighbors of the hole remain defined because the kernel substitutes
	// the center height for missing neighbors.
	if math.IsNaN(slope.At(1, 2)) {
		t.Error("neighbor of a nodata cell lost its slope")
	}
}

func TestDeriveSlopeAspectSharesGrid(t *testing.T) {
	elev := planeRaster(testGrid(4, 3, 2.0), -0.5, 0)
	slope, aspect := DeriveSlopeAspect(elev)
	if !slope.Grid.SameShape(elev.Grid) || !aspect.Grid.SameShape(elev.Grid) {
		t.Error("derived rasters must share the elevation grid")
	}
}

package terrain

import (
	"fmt"
	"os"

	"github.com/vmihailenco/msgpack/v5"
)

// sidecarVersion bumps whenever the derived-product layout changes.
const sidecarVersion = 1

// sidecar is the on-disk cache of derived products, written next to the
// source raster so repeat runs skip recomputation.
type sidecar struct {
	Version int       `msgpack:"version"`
	Grid    Grid      `msgpack:"grid"`
	Approx  bool      `msgpack:"approx_geocoords"`
	Slope   []float64 `msgpack:"slope"`
	Aspect  []float64 `msgpack:"aspect"`
	Lon     []float64 `msgpack:"lon"`
	Lat     []float64 `msgpack:"lat"`
}

func sidecarPath(src string) string { return src + ".derived.msgpack" }

// loadSidecar reads and validates a sidecar against the source grid. Any
// mismatch returns an error so the caller recomputes.
func loadSidecar(path string, grid Grid) (*sidecar, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sc sidecar
	if err := msgpack.Unmarshal(raw, &sc); err != nil {
		return nil, fmt.Errorf("decode sidecar %s: %w", path, err)
	}
	if sc.Version != sidecarVersion {
		return nil, fmt.Errorf("sidecar %s: version %d, want %d", path, sc.Version, sidecarVersion)
	}
	if !sc.Grid.SameShape(grid) {
		return nil, fmt.Errorf("sidecar %s: grid does not match source", path)
	}
	want := grid.Width * grid.Height
	for _, vals := range [][]float64{sc.Slope, sc.Aspect, sc.Lon, sc.Lat} {
		if len(vals) != want {
			return nil, fmt.Errorf("sidecar %s: truncated raster payload", path)
		}
	}
	return &sc, nil
}

// writeSidecar persists derived products atomically via temp file and
// rename, so a crash never leaves a truncated sidecar behind.
func writeSidecar(path string, sc *sidecar) error {
	raw, err := msgpack.Marshal(sc)
	if err != nil {
		return fmt.Errorf("encode sidecar: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

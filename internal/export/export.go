// Package export writes shadow and incidence rasters as compressed
// georeferenced GeoTIFFs with deterministic names.
package export

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/airbusgeo/godal"
	"go.uber.org/zap"

	"github.com/terrashade/terrashade/internal/terrain"
)

// ErrExport reports a failed raster write. The driver treats it as
// recoverable per timestep and escalates only on consecutive failures.
var ErrExport = errors.New("raster export failure")

// IncidenceNodata is the on-disk marker for the Float32 incidence export.
const IncidenceNodata = -9999.0

const defaultZLevel = 6

var driversOnce sync.Once

// Options configure an Exporter.
type Options struct {
	// Dir is the output directory, created if missing.
	Dir string
	// ZLevel is the DEFLATE level in [1,9]. Zero selects 6.
	ZLevel int
	// Overwrite re-exports targets that already exist instead of
	// skipping them.
	Overwrite bool
}

// Exporter writes run products as tiled DEFLATE GeoTIFFs. Each write
// lands in a temp file renamed into place, and an existing target
// short-circuits the write, so reruns are idempotent and readers never
// see a partial file.
type Exporter struct {
	dir       string
	zlevel    int
	overwrite bool
	logger    *zap.SugaredLogger
}

// New validates the options, ensures the output directory exists, and
// returns an Exporter.
func New(opts Options, logger *zap.SugaredLogger) (*Exporter, error) {
	driversOnce.Do(godal.RegisterAll)
	if opts.Dir == "" {
		return nil, fmt.Errorf("export: output directory not set")
	}
	zl := opts.ZLevel
	if zl == 0 {
		zl = defaultZLevel
	}
	if zl < 1 || zl > 9 {
		return nil, fmt.Errorf("export: compression level %d outside [1,9]", opts.ZLevel)
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("export: create output directory: %w", err)
	}
	return &Exporter{dir: opts.Dir, zlevel: zl, overwrite: opts.Overwrite, logger: logger}, nil
}

// Dir returns the output directory.
func (e *Exporter) Dir() string { return e.dir }

// WriteByte exports an 8-bit raster under the given file name with the
// nodata sentinel declared on the band. Returns the final path.
func (e *Exporter) WriteByte(name string, r *terrain.ByteRaster, nodata byte, md map[string]string) (string, error) {
	return e.write(name, func(tmp string) error {
		return e.writeDataset(tmp, r.Grid, godal.Byte, r.Values, float64(nodata), md)
	})
}

// WriteFloat32 exports a floating raster under the given file name.
// NaN cells are replaced by the nodata sentinel.
func (e *Exporter) WriteFloat32(name string, r *terrain.Raster, nodata float64, md map[string]string) (string, error) {
	buf := make([]float32, len(r.Values))
	for i, v := range r.Values {
		if terrain.Defined(v) {
			buf[i] = float32(v)
		} else {
			buf[i] = float32(nodata)
		}
	}
	return e.write(name, func(tmp string) error {
		return e.writeDataset(tmp, r.Grid, godal.Float32, buf, nodata, md)
	})
}

func (e *Exporter) write(name string, fill func(tmp string) error) (string, error) {
	path := filepath.Join(e.dir, name)
	if !e.overwrite {
		if _, err := os.Stat(path); err == nil {
			e.logger.Debugf("export: %s exists, skipping", name)
			return path, nil
		}
	}
	tmp := path + ".tmp"
	if err := fill(tmp); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("%w: %s: %w", ErrExport, name, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("%w: %s: %w", ErrExport, name, err)
	}
	e.logger.Debugf("export: wrote %s", name)
	return path, nil
}

func (e *Exporter) writeDataset(path string, g terrain.Grid, dtype godal.DataType, buf interface{}, nodata float64, md map[string]string) error {
	ds, err := godal.Create(godal.GTiff, path, 1, dtype, g.Width, g.Height,
		godal.CreationOption(e.creationOptions(dtype)...))
	if err != nil {
		return err
	}
	if err := fillDataset(ds, g, buf, nodata, md); err != nil {
		ds.Close()
		return err
	}
	return ds.Close()
}

func (e *Exporter) creationOptions(dtype godal.DataType) []string {
	// PREDICTOR 2 is the integer delta predictor; floating data uses 3.
	predictor := "PREDICTOR=2"
	if dtype == godal.Float32 {
		predictor = "PREDICTOR=3"
	}
	return []string{
		"COMPRESS=DEFLATE",
		fmt.Sprintf("ZLEVEL=%d", e.zlevel),
		predictor,
		"TILED=YES",
	}
}

func fillDataset(ds *godal.Dataset, g terrain.Grid, buf interface{}, nodata float64, md map[string]string) error {
	if err := ds.SetGeoTransform(g.Transform); err != nil {
		return err
	}
	sr, err := spatialRef(g)
	if err != nil {
		return err
	}
	if sr != nil {
		defer sr.Close()
		if err := ds.SetSpatialRef(sr); err != nil {
			return err
		}
	}
	for k, v := range md {
		if err := ds.SetMetadata(k, v); err != nil {
			return err
		}
	}
	band := ds.Bands()[0]
	if err := band.SetNoData(nodata); err != nil {
		return err
	}
	return band.Write(0, 0, buf, g.Width, g.Height)
}

// spatialRef rebuilds the grid's reference system, preferring the full
// WKT carried from the source over a bare EPSG code.
func spatialRef(g terrain.Grid) (*godal.SpatialRef, error) {
	if g.Proj != "" {
		return godal.NewSpatialRefFromWKT(g.Proj)
	}
	if g.EPSG != 0 {
		return godal.NewSpatialRefFromEPSG(g.EPSG)
	}
	return nil, nil
}

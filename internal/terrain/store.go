package terrain

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/airbusgeo/godal"
	"github.com/golang/geo/s2"
	"go.uber.org/zap"
)

// ErrUnavailable reports a terrain product that is missing and cannot be
// computed. It aborts the run before any timestep executes.
var ErrUnavailable = errors.New("terrain unavailable")

// Products bundles the rasters shared read-only across every timestep of
// a run. ApproxGeoCoords flags that the lon/lat pair came from the
// bounded linear fallback rather than a real transform.
type Products struct {
	Name            string
	Elevation       *Raster
	Slope           *Raster
	Aspect          *Raster
	Lon             *Raster
	Lat             *Raster
	ApproxGeoCoords bool
}

// CenterCoordinate returns the geographic coordinate of the grid center,
// falling back to the first defined cell pair when the center is nodata.
// ok is false when no cell carries a coordinate.
func (p *Products) CenterCoordinate() (latDeg, lonDeg float64, ok bool) {
	g := p.Elevation.Grid
	lat := p.Lat.At(g.Width/2, g.Height/2)
	lon := p.Lon.At(g.Width/2, g.Height/2)
	if Defined(lat) && Defined(lon) {
		return lat, lon, true
	}
	for i, la := range p.Lat.Values {
		lo := p.Lon.Values[i]
		if Defined(la) && Defined(lo) {
			return la, lo, true
		}
	}
	return 0, 0, false
}

// Store loads elevation surfaces from GeoTIFFs and derives the
// slope/aspect and geographic-coordinate rasters, caching them in memory
// and in a msgpack sidecar next to the source file. Derivation is
// idempotent: repeated calls for the same name return the cached set.
type Store struct {
	dir     string
	cfgEPSG int
	ref     s2.LatLng
	logger  *zap.SugaredLogger

	mu    sync.Mutex
	cache map[string]*Products
}

var registerDrivers sync.Once

// NewStore returns a store rooted at dir. cfgEPSG is the CRS to assume
// when a raster carries no spatial reference (0 for none); ref anchors
// the linear lon/lat fallback.
func NewStore(dir string, cfgEPSG int, ref s2.LatLng, logger *zap.SugaredLogger) *Store {
	registerDrivers.Do(godal.RegisterAll)
	return &Store{
		dir:     dir,
		cfgEPSG: cfgEPSG,
		ref:     ref,
		logger:  logger,
		cache:   make(map[string]*Products),
	}
}

// Load returns the full product set for a named elevation raster,
// deriving whatever is missing.
func (s *Store) Load(name string) (*Products, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.cache[name]; ok {
		return p, nil
	}
	p, err := s.load(name)
	if err != nil {
		return nil, err
	}
	s.cache[name] = p
	return p, nil
}

// Elevation returns the elevation surface for name.
func (s *Store) Elevation(name string) (*Raster, error) {
	p, err := s.Load(name)
	if err != nil {
		return nil, err
	}
	return p.Elevation, nil
}

// SlopeAspect returns the cached slope and aspect rasters for name.
func (s *Store) SlopeAspect(name string) (slope, aspect *Raster, err error) {
	p, err := s.Load(name)
	if err != nil {
		return nil, nil, err
	}
	return p.Slope, p.Aspect, nil
}

// GeoCoords returns the cached lon/lat rasters for name and whether the
// linear approximation produced them.
func (s *Store) GeoCoords(name string) (lon, lat *Raster, approx bool, err error) {
	p, err := s.Load(name)
	if err != nil {
		return nil, nil, false, err
	}
	return p.Lon, p.Lat, p.ApproxGeoCoords, nil
}

func (s *Store) load(name string) (*Products, error) {
	path := name
	if !filepath.IsAbs(path) {
		path = filepath.Join(s.dir, name)
	}

	elev, exactLon, exactLat, err := s.readGeoTIFF(path)
	if err != nil {
		return nil, err
	}
	st := elev.Stats()
	s.logger.Infof("terrain %s: %dx%d cells at %.2fx%.2f, elevation %.1f..%.1f m (%d defined)",
		name, elev.Grid.Width, elev.Grid.Height, elev.Grid.CellWidth(), elev.Grid.CellHeight(),
		st.Min, st.Max, st.Defined)

	scPath := sidecarPath(path)
	if sc, scErr := loadSidecar(scPath, elev.Grid); scErr == nil {
		s.logger.Debugf("terrain %s: derived products from sidecar %s", name, scPath)
		return &Products{
			Name:            name,
			Elevation:       elev,
			Slope:           &Raster{Grid: elev.Grid, Values: sc.Slope},
			Aspect:          &Raster{Grid: elev.Grid, Values: sc.Aspect},
			Lon:             &Raster{Grid: elev.Grid, Values: sc.Lon},
			Lat:             &Raster{Grid: elev.Grid, Values: sc.Lat},
			ApproxGeoCoords: sc.Approx,
		}, nil
	} else if !os.IsNotExist(scErr) {
		s.logger.Warnf("terrain %s: ignoring sidecar: %v", name, scErr)
	}

	slope, aspect := DeriveSlopeAspect(elev)

	lon, lat := exactLon, exactLat
	approx := false
	if lon == nil {
		lon, lat, approx, err = DeriveGeoCoords(elev, s.ref)
		if err != nil {
			return nil, err
		}
		if approx {
			s.logger.Warnf("terrain %s: no usable spatial reference, lon/lat from linear approximation around %.4f,%.4f",
				name, s.ref.Lat.Degrees(), s.ref.Lng.Degrees())
		}
	}

	sc := &sidecar{
		Version: sidecarVersion,
		Grid:    elev.Grid,
		Approx:  approx,
		Slope:   slope.Values,
		Aspect:  aspect.Values,
		Lon:     lon.Values,
		Lat:     lat.Values,
	}
	if err := writeSidecar(scPath, sc); err != nil {
		s.logger.Warnf("terrain %s: could not write sidecar: %v", name, err)
	}

	return &Products{
		Name:            name,
		Elevation:       elev,
		Slope:           slope,
		Aspect:          aspect,
		Lon:             lon,
		Lat:             lat,
		ApproxGeoCoords: approx,
	}, nil
}

// readGeoTIFF reads band 1 and the grid geometry. While the dataset's
// spatial reference is at hand it also attempts the exact per-pixel
// WGS84 transform; lon/lat come back nil when the dataset carries no
// usable reference.
func (s *Store) readGeoTIFF(path string) (elev, lon, lat *Raster, err error) {
	ds, err := godal.Open(path)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("%w: open %s: %v", ErrUnavailable, path, err)
	}
	defer ds.Close()

	gt, err := ds.GeoTransform()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("%w: %s has no geotransform: %v", ErrUnavailable, path, err)
	}
	if gt[2] != 0 || gt[4] != 0 {
		return nil, nil, nil, fmt.Errorf("%w: %s is rotated or skewed", ErrUnavailable, path)
	}
	if gt[1] == 0 || gt[5] == 0 {
		return nil, nil, nil, fmt.Errorf("%w: %s has zero cell size", ErrUnavailable, path)
	}

	str := ds.Structure()
	w, h := str.SizeX, str.SizeY
	if w <= 0 || h <= 0 {
		return nil, nil, nil, fmt.Errorf("%w: %s is empty", ErrUnavailable, path)
	}
	bands := ds.Bands()
	if len(bands) == 0 {
		return nil, nil, nil, fmt.Errorf("%w: %s has no bands", ErrUnavailable, path)
	}
	band := bands[0]

	grid := Grid{Width: w, Height: h, Transform: gt, EPSG: s.cfgEPSG, Nodata: math.NaN()}

	values := make([]float64, w*h)
	if err := band.Read(0, 0, values, w, h); err != nil {
		return nil, nil, nil, fmt.Errorf("%w: read %s: %v", ErrUnavailable, path, err)
	}
	if nodata, ok := band.NoData(); ok {
		grid.Nodata = nodata
		for i, v := range values {
			if v == nodata {
				values[i] = math.NaN()
			}
		}
	}
	elev = &Raster{Grid: grid, Values: values}

	sr := ds.SpatialRef()
	if sr == nil {
		return elev, nil, nil, nil
	}
	defer sr.Close()
	if wkt, wktErr := sr.WKT(); wktErr == nil {
		elev.Grid.Proj = wkt
	}

	lon, lat, trErr := transformGeoCoords(elev, sr)
	if trErr != nil {
		s.logger.Warnf("terrain %s: exact lon/lat transform failed, falling back: %v", path, trErr)
		return elev, nil, nil, nil
	}
	return elev, lon, lat, nil
}

// transformGeoCoords projects every cell center to WGS84 through GDAL,
// one row per batch.
func transformGeoCoords(elev *Raster, src *godal.SpatialRef) (lon, lat *Raster, err error) {
	dst, err := godal.NewSpatialRefFromEPSG(4326)
	if err != nil {
		return nil, nil, fmt.Errorf("create WGS84 reference: %w", err)
	}
	defer dst.Close()

	tr, err := godal.NewTransform(src, dst)
	if err != nil {
		return nil, nil, fmt.Errorf("create transform: %w", err)
	}
	defer tr.Close()

	g := elev.Grid
	lon = NewRaster(g)
	lat = NewRaster(g)
	xs := make([]float64, g.Width)
	ys := make([]float64, g.Width)
	ok := make([]bool, g.Width)

	for row := 0; row < g.Height; row++ {
		for col := 0; col < g.Width; col++ {
			xs[col], ys[col] = g.CellCenter(col, row)
		}
		if err := tr.TransformEx(xs, ys, nil, ok); err != nil {
			return nil, nil, fmt.Errorf("transform row %d: %w", row, err)
		}
		for col := 0; col < g.Width; col++ {
			if !ok[col] {
				return nil, nil, fmt.Errorf("cell %d,%d does not transform", col, row)
			}
			lon.Set(col, row, xs[col])
			lat.Set(col, row, ys[col])
		}
	}
	return lon, lat, nil
}

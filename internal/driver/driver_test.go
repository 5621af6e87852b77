package driver

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/terrashade/terrashade/internal/catalog"
	"github.com/terrashade/terrashade/internal/engine"
	"github.com/terrashade/terrashade/internal/status"
	"github.com/terrashade/terrashade/internal/terrain"
	"github.com/terrashade/terrashade/pkg/quantize"
)

func testLogger() *zap.SugaredLogger { return zap.NewNop().Sugar() }

func testGrid(w, h int, cell float64) terrain.Grid {
	return terrain.Grid{
		Width:     w,
		Height:    h,
		Transform: [6]float64{0, cell, 0, float64(h) * cell, 0, -cell},
		EPSG:      2056,
		Nodata:    -9999,
	}
}

// flatProducts builds a constant-elevation product set pinned to one
// geographic coordinate.
func flatProducts(w, h int, cell, z, latDeg, lonDeg float64) *terrain.Products {
	elev := terrain.NewRaster(testGrid(w, h, cell))
	for i := range elev.Values {
		elev.Values[i] = z
	}
	slope, aspect := terrain.DeriveSlopeAspect(elev)
	lat := terrain.NewRaster(elev.Grid)
	lon := terrain.NewRaster(elev.Grid)
	for i := range lat.Values {
		lat.Values[i] = latDeg
		lon.Values[i] = lonDeg
	}
	return &terrain.Products{
		Name:      "test",
		Elevation: elev,
		Slope:     slope,
		Aspect:    aspect,
		Lon:       lon,
		Lat:       lat,
	}
}

// lostProducts is terrain with no usable geographic coordinates, which
// makes every engine step fail.
func lostProducts(w, h int, cell, z float64) *terrain.Products {
	p := flatProducts(w, h, cell, z, 0, 0)
	for i := range p.Lat.Values {
		p.Lat.Values[i] = math.NaN()
		p.Lon.Values[i] = math.NaN()
	}
	return p
}

type fakeStore struct {
	tp  *terrain.Products
	err error
}

func (f *fakeStore) Load(name string) (*terrain.Products, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.tp, nil
}

// fakeWriter records write calls and can inject failures by substring.
type fakeWriter struct {
	mu         sync.Mutex
	names      []string
	meta       map[string]map[string]string
	byteNodata map[string]byte
	failSubstr string
	failAll    bool
}

func newFakeWriter() *fakeWriter {
	return &fakeWriter{
		meta:       make(map[string]map[string]string),
		byteNodata: make(map[string]byte),
	}
}

func (w *fakeWriter) record(name string, md map[string]string) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failAll || (w.failSubstr != "" && strings.Contains(name, w.failSubstr)) {
		return "", fmt.Errorf("raster export failure: writing %s", name)
	}
	w.names = append(w.names, name)
	w.meta[name] = md
	return "/out/" + name, nil
}

func (w *fakeWriter) WriteByte(name string, r *terrain.ByteRaster, nodata byte, md map[string]string) (string, error) {
	path, err := w.record(name, md)
	if err == nil {
		w.mu.Lock()
		w.byteNodata[name] = nodata
		w.mu.Unlock()
	}
	return path, err
}

func (w *fakeWriter) WriteFloat32(name string, r *terrain.Raster, nodata float64, md map[string]string) (string, error) {
	return w.record(name, md)
}

func (w *fakeWriter) sorted() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := append([]string(nil), w.names...)
	sort.Strings(out)
	return out
}

func (w *fakeWriter) metadata(name string) map[string]string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.meta[name]
}

func TestRunFastSeries(t *testing.T) {
	// Local noon hour on day 153: six 10-minute steps, sun well up.
	series := mustSeries(t, 2021, 153, 12, 13, 10, 2, false)
	writer := newFakeWriter()
	tracker := status.NewTracker()

	d, err := New(Config{
		Series:      series,
		Variant:     engine.VariantFast,
		TerrainName: "test",
		Workers:     2,
		UTCSuffix:   true,
	}, &fakeStore{tp: flatProducts(8, 8, 2, 450, 46.8, 8.2)}, writer, nil, tracker, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	summary, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Total != 6 || summary.Succeeded != 6 || summary.Failed != 0 || summary.Skipped != 0 {
		t.Errorf("summary: got %+v", summary)
	}
	if summary.RunID == "" {
		t.Error("summary should carry a run id")
	}

	var want []string
	for i := 0; i < 6; i++ {
		want = append(want, fmt.Sprintf("shadow_mask_doy153_12%d0_UTC10%d0.tif", i, i))
	}
	got := writer.sorted()
	if len(got) != len(want) {
		t.Fatalf("artifacts: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("artifact %d: got %q, want %q", i, got[i], want[i])
		}
	}

	md := writer.metadata(want[0])
	if md["SHADOW_ENCODING"] != "shadow=1 illuminated=0 nodata=255" {
		t.Errorf("fast shadow encoding: got %q", md["SHADOW_ENCODING"])
	}
	if md["VARIANT"] != "fast" || md["DOY"] != "153" {
		t.Errorf("metadata identity: got %v", md)
	}
	if md["TIME_CONVENTION"] != "local+2h" {
		t.Errorf("time convention: got %q", md["TIME_CONVENTION"])
	}

	snap := tracker.Snapshot()
	if snap.Completed != 6 || snap.Failed != 0 || snap.Remaining != 0 {
		t.Errorf("tracker snapshot: got %+v", snap)
	}
}

func TestRunDetailedArtifacts(t *testing.T) {
	series := mustSeries(t, 2021, 172, 10, 11, 30, 2, true)
	writer := newFakeWriter()

	d, err := New(Config{
		Series:      series,
		Variant:     engine.VariantDetailed,
		TerrainName: "test",
		Workers:     1,
		WriteFloat:  true,
	}, &fakeStore{tp: flatProducts(4, 4, 2, 450, 46.8, 8.2)}, writer, nil, nil, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	summary, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Succeeded != 2 {
		t.Fatalf("summary: got %+v", summary)
	}

	want := []string{
		"shadow_mask_doy172_1000.tif",
		"shadow_mask_doy172_1030.tif",
		"solar_incidence_8bit_doy172_1000.tif",
		"solar_incidence_8bit_doy172_1030.tif",
		"solar_incidence_doy172_1000.tif",
		"solar_incidence_doy172_1030.tif",
	}
	got := writer.sorted()
	if len(got) != len(want) {
		t.Fatalf("artifacts: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("artifact %d: got %q, want %q", i, got[i], want[i])
		}
	}

	md := writer.metadata("shadow_mask_doy172_1000.tif")
	if md["SHADOW_ENCODING"] != "shadow=0 illuminated=1 nodata=255" {
		t.Errorf("detailed shadow encoding: got %q", md["SHADOW_ENCODING"])
	}
	if md["TIME_CONVENTION"] != "utc" {
		t.Errorf("time convention: got %q", md["TIME_CONVENTION"])
	}

	qmd := writer.metadata("solar_incidence_8bit_doy172_1000.tif")
	if qmd["ANGLE_SCALE"] != "255" || qmd["ANGLE_NODATA"] != "255" {
		t.Errorf("quantized metadata: got %v", qmd)
	}

	writer.mu.Lock()
	nodata := writer.byteNodata["solar_incidence_8bit_doy172_1000.tif"]
	writer.mu.Unlock()
	if nodata != quantize.Nodata {
		t.Errorf("quantized nodata: got %d, want %d", nodata, quantize.Nodata)
	}
}

func TestRunIsolatesStepFailure(t *testing.T) {
	series := mustSeries(t, 2021, 153, 12, 13, 10, 2, false)
	writer := newFakeWriter()
	writer.failSubstr = "1220"

	cat, err := catalog.Open(filepath.Join(t.TempDir(), "catalog.db"), testLogger())
	if err != nil {
		t.Fatalf("catalog.Open: %v", err)
	}
	defer cat.Close()

	d, err := New(Config{
		Series:      series,
		Variant:     engine.VariantFast,
		TerrainName: "test",
		Workers:     1,
	}, &fakeStore{tp: flatProducts(8, 8, 2, 450, 46.8, 8.2)}, writer, cat, nil, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	summary, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run should tolerate a single step failure, got: %v", err)
	}
	if summary.Succeeded != 5 || summary.Failed != 1 {
		t.Errorf("summary: got %+v", summary)
	}

	runs, err := cat.RecentRuns(1)
	if err != nil || len(runs) != 1 {
		t.Fatalf("RecentRuns: %v (%d)", err, len(runs))
	}
	if runs[0].Succeeded != 5 || runs[0].Failed != 1 || runs[0].Steps != 6 {
		t.Errorf("catalog run: got %+v", runs[0])
	}

	steps, err := cat.RunSteps(summary.RunID)
	if err != nil {
		t.Fatalf("RunSteps: %v", err)
	}
	if len(steps) != 6 {
		t.Fatalf("catalog steps: got %d, want 6", len(steps))
	}
	failedSteps := 0
	for _, s := range steps {
		if s.Status == catalog.StepFailed {
			failedSteps++
			if s.Error == "" {
				t.Error("failed step should carry its error text")
			}
			if s.MaskPath != "" {
				t.Errorf("failed step should have no mask path, got %q", s.MaskPath)
			}
		}
	}
	if failedSteps != 1 {
		t.Errorf("catalog failed steps: got %d, want 1", failedSteps)
	}
}

func TestRunExportStreakStopsDispatch(t *testing.T) {
	series := mustSeries(t, 2021, 153, 12, 13, 6, 2, false) // 10 steps
	writer := newFakeWriter()
	writer.failAll = true

	d, err := New(Config{
		Series:            series,
		Variant:           engine.VariantFast,
		TerrainName:       "test",
		Workers:           1,
		MaxExportFailures: 3,
	}, &fakeStore{tp: flatProducts(8, 8, 2, 450, 46.8, 8.2)}, writer, nil, nil, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	summary, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Failed < 3 {
		t.Errorf("failed count below the threshold: %+v", summary)
	}
	if summary.Failed >= summary.Total {
		t.Errorf("dispatch should have stopped before the full series: %+v", summary)
	}
	if summary.Succeeded != 0 {
		t.Errorf("no step should have succeeded: %+v", summary)
	}
}

func TestRunSkipsNight(t *testing.T) {
	// Two steps shortly after midnight UTC, hours before sunrise.
	series := mustSeries(t, 2021, 172, 0, 1, 30, 2, true)
	writer := newFakeWriter()
	tracker := status.NewTracker()

	d, err := New(Config{
		Series:      series,
		Variant:     engine.VariantFast,
		TerrainName: "test",
		Workers:     1,
		SkipNight:   true,
	}, &fakeStore{tp: flatProducts(8, 8, 2, 450, 46.8, 8.2)}, writer, nil, tracker, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	summary, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Skipped != 2 || summary.Succeeded != 0 || summary.Failed != 0 {
		t.Errorf("summary: got %+v", summary)
	}
	if len(writer.sorted()) != 0 {
		t.Errorf("night steps should write nothing, got %v", writer.sorted())
	}
	if snap := tracker.Snapshot(); snap.Skipped != 2 {
		t.Errorf("tracker skipped: got %+v", snap)
	}
}

func TestRunAllStepsFailed(t *testing.T) {
	series := mustSeries(t, 2021, 153, 12, 13, 20, 2, false) // 3 steps
	writer := newFakeWriter()

	d, err := New(Config{
		Series:      series,
		Variant:     engine.VariantFast,
		TerrainName: "test",
		Workers:     1,
	}, &fakeStore{tp: lostProducts(8, 8, 2, 450)}, writer, nil, nil, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	summary, err := d.Run(context.Background())
	if err == nil {
		t.Fatal("Run with every step failed should return an error")
	}
	if summary == nil || summary.Failed != 3 || summary.Succeeded != 0 {
		t.Errorf("summary: got %+v", summary)
	}
}

func TestRunTerrainUnavailable(t *testing.T) {
	series := mustSeries(t, 2021, 153, 12, 13, 10, 2, false)
	loadErr := fmt.Errorf("%w: no such raster", terrain.ErrUnavailable)

	d, err := New(Config{
		Series:      series,
		Variant:     engine.VariantFast,
		TerrainName: "missing",
	}, &fakeStore{err: loadErr}, newFakeWriter(), nil, nil, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	summary, err := d.Run(context.Background())
	if !errors.Is(err, terrain.ErrUnavailable) {
		t.Errorf("Run error: got %v, want terrain.ErrUnavailable", err)
	}
	if summary != nil {
		t.Errorf("no summary expected before the first step, got %+v", summary)
	}
}

func TestRunCancelledBeforeDispatch(t *testing.T) {
	series := mustSeries(t, 2021, 153, 12, 13, 10, 2, false)
	writer := newFakeWriter()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d, err := New(Config{
		Series:      series,
		Variant:     engine.VariantFast,
		TerrainName: "test",
	}, &fakeStore{tp: flatProducts(8, 8, 2, 450, 46.8, 8.2)}, writer, nil, nil, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	summary, err := d.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run error: got %v, want context.Canceled", err)
	}
	if summary == nil || summary.Succeeded != 0 || summary.Failed != 0 {
		t.Errorf("summary: got %+v", summary)
	}
	if len(writer.sorted()) != 0 {
		t.Errorf("cancelled run should write nothing, got %v", writer.sorted())
	}
}

func TestNewValidation(t *testing.T) {
	series := mustSeries(t, 2021, 153, 12, 13, 10, 2, false)
	store := &fakeStore{tp: flatProducts(4, 4, 2, 450, 46.8, 8.2)}

	if _, err := New(Config{Series: series, Variant: engine.VariantFast}, nil, newFakeWriter(), nil, nil, testLogger()); err == nil {
		t.Error("New without a store should error")
	}
	if _, err := New(Config{Series: series, Variant: engine.VariantFast}, store, nil, nil, nil, testLogger()); err == nil {
		t.Error("New without a writer should error")
	}
	if _, err := New(Config{Series: series, Variant: engine.Variant("cloudy")}, store, newFakeWriter(), nil, nil, testLogger()); err == nil {
		t.Error("New with an unknown variant should error")
	}
	if _, err := New(Config{Series: series, Variant: engine.VariantFast, Scale: quantize.Scale("199")}, store, newFakeWriter(), nil, nil, testLogger()); err == nil {
		t.Error("New with an unknown scale should error")
	}
}

func TestQuantizeRaster(t *testing.T) {
	q, err := quantize.New(quantize.Scale255)
	if err != nil {
		t.Fatalf("quantize.New: %v", err)
	}

	inc := terrain.NewRaster(testGrid(2, 2, 1))
	inc.Values = []float64{math.NaN(), 0, 45, 90}

	out := quantizeRaster(q, inc)
	want := []byte{quantize.Nodata, 0, 128, 254}
	for i, v := range want {
		if out.Values[i] != v {
			t.Errorf("pixel %d: got %d, want %d", i, out.Values[i], v)
		}
	}
	if q.Overflows() != 0 {
		t.Errorf("overflows: got %d, want 0", q.Overflows())
	}
}

func TestRunStepTimeout(t *testing.T) {
	// A deadline that cannot be met turns the step into a recoverable
	// failure rather than aborting the run.
	series := mustSeries(t, 2021, 153, 12, 13, 30, 2, false) // 2 steps

	d, err := New(Config{
		Series:      series,
		Variant:     engine.VariantDetailed,
		TerrainName: "test",
		Workers:     1,
		StepTimeout: time.Nanosecond,
	}, &fakeStore{tp: flatProducts(64, 64, 2, 450, 46.8, 8.2)}, newFakeWriter(), nil, nil, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	summary, err := d.Run(context.Background())
	if err == nil {
		t.Fatal("Run with every step timed out should return an error")
	}
	if summary == nil || summary.Failed != 2 {
		t.Errorf("summary: got %+v", summary)
	}
}

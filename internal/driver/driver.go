package driver

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"strconv"
	"sync"
	"time"

	"cloudeng.io/errors"
	"github.com/google/uuid"
	sunrise "github.com/nathan-osman/go-sunrise"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/terrashade/terrashade/internal/catalog"
	"github.com/terrashade/terrashade/internal/engine"
	"github.com/terrashade/terrashade/internal/export"
	"github.com/terrashade/terrashade/internal/status"
	"github.com/terrashade/terrashade/internal/terrain"
	"github.com/terrashade/terrashade/pkg/quantize"
	"github.com/terrashade/terrashade/pkg/solartime"
)

// defaultMaxExportFailures is the consecutive-export-failure threshold
// that stops dispatch when the output target has gone away wholesale.
const defaultMaxExportFailures = 3

// TerrainLoader yields the immutable product set for a named elevation
// surface. *terrain.Store implements it.
type TerrainLoader interface {
	Load(name string) (*terrain.Products, error)
}

// RasterWriter persists one named raster artifact and returns its final
// path. *export.Exporter implements it with idempotent atomic writes.
type RasterWriter interface {
	WriteByte(name string, r *terrain.ByteRaster, nodata byte, md map[string]string) (string, error)
	WriteFloat32(name string, r *terrain.Raster, nodata float64, md map[string]string) (string, error)
}

// Config parameterizes one run.
type Config struct {
	Series      Series
	Variant     engine.Variant
	TerrainName string

	// Workers bounds the pool; 0 means runtime.NumCPU().
	Workers int

	// StepTimeout is the per-step deadline; 0 means none. A timed-out
	// step counts as a recoverable failure.
	StepTimeout time.Duration

	// SkipNight skips timestamps with the sun below the horizon at the
	// terrain's reference coordinate.
	SkipNight bool

	// UTCSuffix appends _UTC<HHMM> to the filenames of local-time runs.
	UTCSuffix bool

	// Scale selects the 8-bit quantizer scale; empty means Scale255.
	Scale quantize.Scale

	// WriteFloat also exports the Float32 incidence raster alongside
	// the 8-bit artifact.
	WriteFloat bool

	// MaxExportFailures overrides the consecutive-export-failure
	// threshold; 0 means the default of 3.
	MaxExportFailures int
}

// Summary is the outcome of one run. The run as a whole fails only when
// every timestep failed; partial failures are reported here and in the
// catalog.
type Summary struct {
	RunID     string
	Total     int
	Succeeded int
	Failed    int
	Skipped   int
	Elapsed   time.Duration
}

// Driver executes a series of shadow timesteps over one terrain.
type Driver struct {
	cfg      Config
	store    TerrainLoader
	exporter RasterWriter
	catalog  *catalog.Catalog
	tracker  *status.Tracker
	computer engine.Computer
	logger   *zap.SugaredLogger
}

// New creates a driver. The catalog and tracker may be nil; the run then
// proceeds without a ledger or a status endpoint.
func New(cfg Config, store TerrainLoader, exporter RasterWriter, cat *catalog.Catalog, tracker *status.Tracker, logger *zap.SugaredLogger) (*Driver, error) {
	if store == nil {
		return nil, fmt.Errorf("driver requires a terrain store")
	}
	if exporter == nil {
		return nil, fmt.Errorf("driver requires an exporter")
	}

	if cfg.Scale == "" {
		cfg.Scale = quantize.Scale255
	}
	if _, err := quantize.New(cfg.Scale); err != nil {
		return nil, err
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.MaxExportFailures <= 0 {
		cfg.MaxExportFailures = defaultMaxExportFailures
	}

	computer, err := engine.New(cfg.Variant, logger)
	if err != nil {
		return nil, err
	}

	return &Driver{
		cfg:      cfg,
		store:    store,
		exporter: exporter,
		catalog:  cat,
		tracker:  tracker,
		computer: computer,
		logger:   logger,
	}, nil
}

// Run executes the configured series and returns its summary. Cancelling
// ctx stops dispatch of new steps; steps already running finish under
// their own deadlines.
func (d *Driver) Run(ctx context.Context) (*Summary, error) {
	started := time.Now()
	n := d.cfg.Series.Len()
	runID := uuid.New().String()

	tp, err := d.store.Load(d.cfg.TerrainName)
	if err != nil {
		return nil, err
	}

	d.logger.Infof("Starting run %s: variant %s over %q, day %d of %d, window [%v,%v) every %v min, %d steps",
		runID, d.cfg.Variant, d.cfg.TerrainName,
		d.cfg.Series.DayOfYear, d.cfg.Series.Year,
		d.cfg.Series.StartHour, d.cfg.Series.EndHour, d.cfg.Series.IntervalMinutes, n)

	if d.tracker != nil {
		d.tracker.Begin(runID, string(d.cfg.Variant), d.cfg.TerrainName, n)
	}
	if d.catalog != nil {
		err := d.catalog.StartRun(catalog.Run{
			ID:              runID,
			StartedAt:       started,
			Variant:         string(d.cfg.Variant),
			Terrain:         d.cfg.TerrainName,
			Year:            d.cfg.Series.Year,
			DayOfYear:       d.cfg.Series.DayOfYear,
			StartHour:       d.cfg.Series.StartHour,
			EndHour:         d.cfg.Series.EndHour,
			IntervalMinutes: d.cfg.Series.IntervalMinutes,
			OffsetHours:     d.cfg.Series.OffsetHours,
			UTC:             d.cfg.Series.UTC,
			Steps:           n,
		})
		if err != nil {
			d.logger.Errorf("Catalog could not record run start: %v", err)
		}
	}

	rise, set := d.nightWindow(tp)

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	pool, err := ants.NewPool(d.cfg.Workers)
	if err != nil {
		return nil, fmt.Errorf("worker pool: %w", err)
	}
	defer pool.Release()

	var (
		wg    sync.WaitGroup
		tally runTally
		errs  = &errors.M{}
	)

	for i := 0; i < n; i++ {
		if runCtx.Err() != nil {
			d.logger.Warnf("Dispatch stopped after %d of %d steps: %v", i, n, context.Cause(runCtx))
			break
		}
		idx := i
		stamp := d.cfg.Series.At(i)
		wg.Add(1)
		if err := pool.Submit(func() {
			defer wg.Done()
			d.dispatchStep(runID, idx, stamp, tp, rise, set, &tally, errs, cancel)
		}); err != nil {
			wg.Done()
			errs.Append(fmt.Errorf("submitting step %d: %w", idx, err))
			break
		}
	}

	wg.Wait()

	succeeded, failed, skipped := tally.counts()
	summary := &Summary{
		RunID:     runID,
		Total:     n,
		Succeeded: succeeded,
		Failed:    failed,
		Skipped:   skipped,
		Elapsed:   time.Since(started),
	}

	if d.catalog != nil {
		if err := d.catalog.FinishRun(runID, succeeded, failed, skipped); err != nil {
			d.logger.Errorf("Catalog could not record run finish: %v", err)
		}
	}

	d.logger.Infof("Run %s finished in %v: %d succeeded, %d failed, %d skipped of %d steps",
		runID, summary.Elapsed.Round(time.Millisecond), succeeded, failed, skipped, n)

	if err := ctx.Err(); err != nil {
		return summary, err
	}
	if n > 0 && failed == n {
		return summary, fmt.Errorf("all %d timesteps failed: %v", n, errs.Err())
	}
	if err := errs.Err(); err != nil {
		d.logger.Warnf("Run %s completed with failures: %v", runID, err)
	}
	return summary, nil
}

// nightWindow resolves the UTC sunrise and sunset of the run day at the
// terrain's reference coordinate. Zero times disable skipping; at polar
// latitudes go-sunrise reports no event and every step is computed.
func (d *Driver) nightWindow(tp *terrain.Products) (rise, set time.Time) {
	if !d.cfg.SkipNight {
		return time.Time{}, time.Time{}
	}

	lat, lon, ok := tp.CenterCoordinate()
	if !ok {
		d.logger.Warnf("Terrain %q has no geographic coordinates; night skipping disabled", d.cfg.TerrainName)
		return time.Time{}, time.Time{}
	}

	date, err := solartime.DateForDay(d.cfg.Series.Year, d.cfg.Series.DayOfYear)
	if err != nil {
		return time.Time{}, time.Time{}
	}

	year, month, day := date.Date()
	rise, set = sunrise.SunriseSunset(lat, lon, year, month, day)
	if rise.IsZero() || set.IsZero() {
		d.logger.Warnf("No sunrise/sunset at %.4f,%.4f on day %d; night skipping disabled",
			lat, lon, d.cfg.Series.DayOfYear)
		return time.Time{}, time.Time{}
	}

	d.logger.Infof("Skipping steps outside daylight %s to %s UTC",
		rise.Format("15:04"), set.Format("15:04"))
	return rise, set
}

// runTally accumulates step outcomes across workers. streak counts
// consecutive export failures; any successful step resets it.
type runTally struct {
	mu        sync.Mutex
	succeeded int
	failed    int
	skipped   int
	streak    int
}

func (t *runTally) success() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.succeeded++
	t.streak = 0
}

// fail records a failed step and returns the current export-failure
// streak. Non-export failures leave the streak untouched.
func (t *runTally) fail(exportRelated bool) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failed++
	if exportRelated {
		t.streak++
		return t.streak
	}
	return 0
}

func (t *runTally) skip() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.skipped++
}

func (t *runTally) counts() (succeeded, failed, skipped int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.succeeded, t.failed, t.skipped
}

// stepOutcome carries one finished step back to the accounting path.
type stepOutcome struct {
	rec       catalog.StepRecord
	err       error
	exportErr bool
	skipped   bool
}

// dispatchStep wraps one step with tracker, tally, catalog, and
// escalation bookkeeping. It runs on a pool worker.
func (d *Driver) dispatchStep(runID string, i int, stamp solartime.Stamp, tp *terrain.Products, rise, set time.Time, tally *runTally, errs *errors.M, cancel context.CancelCauseFunc) {
	id := stamp.HHMM()
	if d.tracker != nil {
		d.tracker.StepStarted(id)
	}

	out := d.runStep(runID, i, stamp, tp, rise, set)

	switch {
	case out.skipped:
		tally.skip()
		if d.tracker != nil {
			d.tracker.StepSkipped(id)
		}
		d.logger.Debugf("Step %d (%s) skipped: sun below horizon", i, stamp)
	case out.err != nil:
		streak := tally.fail(out.exportErr)
		if d.tracker != nil {
			d.tracker.StepFailed(id)
		}
		errs.Append(fmt.Errorf("step %d (%s): %w", i, stamp, out.err))
		d.logger.Errorf("Step %d (%s) failed: %v", i, stamp, out.err)
		if out.exportErr && streak >= d.cfg.MaxExportFailures {
			cancel(fmt.Errorf("%d consecutive export failures", streak))
		}
	default:
		tally.success()
		if d.tracker != nil {
			d.tracker.StepSucceeded(id)
		}
		d.logger.Infof("Step %d (%s) done in %v: shadow fraction %.3f",
			i, stamp, out.rec.Elapsed.Round(time.Millisecond), out.rec.ShadowFraction)
	}

	if d.catalog != nil {
		if err := d.catalog.RecordStep(out.rec); err != nil {
			d.logger.Errorf("Catalog could not record step %d: %v", i, err)
		}
	}
}

// runStep computes and exports a single timestep.
func (d *Driver) runStep(runID string, i int, stamp solartime.Stamp, tp *terrain.Products, rise, set time.Time) (out stepOutcome) {
	out.rec = catalog.StepRecord{
		RunID:            runID,
		Index:            i,
		Stamp:            stamp.String(),
		SunAltitudeDeg:   math.NaN(),
		SunAzimuthDeg:    math.NaN(),
		ShadowFraction:   math.NaN(),
		MeanIncidenceDeg: math.NaN(),
	}
	start := time.Now()
	defer func() { out.rec.Elapsed = time.Since(start) }()

	fail := func(err error, exportRelated bool) stepOutcome {
		out.err = err
		out.exportErr = exportRelated
		out.rec.Status = catalog.StepFailed
		out.rec.Error = err.Error()
		return out
	}

	if !rise.IsZero() {
		t, err := stamp.Time()
		if err != nil {
			return fail(err, false)
		}
		if t.Before(rise) || !t.Before(set) {
			out.skipped = true
			out.rec.Status = catalog.StepSkipped
			return out
		}
	}

	ctx := context.Background()
	if d.cfg.StepTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.StepTimeout)
		defer cancel()
	}

	res, err := d.computer.Compute(ctx, tp, stamp)
	if err != nil {
		return fail(err, false)
	}

	out.rec.SunAltitudeDeg = res.Meta.SunAltitudeDeg
	out.rec.SunAzimuthDeg = res.Meta.SunAzimuthDeg
	out.rec.ShadowFraction = res.Meta.ShadowFraction
	out.rec.MeanIncidenceDeg = res.Meta.MeanIncidenceDeg

	md := d.runMetadata(stamp, res.Meta, tp)

	maskPath, err := d.exporter.WriteByte(export.MaskName(stamp, d.cfg.UTCSuffix), res.Shadow, engine.MaskNodata, md)
	if err != nil {
		return fail(err, true)
	}
	out.rec.MaskPath = maskPath

	if res.Incidence != nil {
		if d.cfg.WriteFloat {
			p, err := d.exporter.WriteFloat32(export.IncidenceName(stamp), res.Incidence, export.IncidenceNodata, md)
			if err != nil {
				return fail(err, true)
			}
			out.rec.IncidencePath = p
		}

		q, err := quantize.New(d.cfg.Scale)
		if err != nil {
			return fail(err, false)
		}
		quantized := quantizeRaster(q, res.Incidence)
		if overflows := q.Overflows(); overflows > 0 {
			d.logger.Errorf("Quantizer clamped %d incidence values outside [0,90] at %s", overflows, stamp)
		}

		qmd := d.runMetadata(stamp, res.Meta, tp)
		qmd["ANGLE_SCALE"] = string(q.Scale())
		qmd["ANGLE_NODATA"] = strconv.Itoa(int(quantize.Nodata))

		p, err := d.exporter.WriteByte(export.QuantizedName(stamp), quantized, quantize.Nodata, qmd)
		if err != nil {
			return fail(err, true)
		}
		out.rec.QuantizedPath = p
	}

	out.rec.Status = catalog.StepSucceeded
	return out
}

// runMetadata composes the GeoTIFF metadata written on every artifact of
// a step. The shadow encoding is declared here because the two variant
// families disagree on polarity and archives of both exist.
func (d *Driver) runMetadata(stamp solartime.Stamp, meta engine.Meta, tp *terrain.Products) map[string]string {
	pol := d.cfg.Variant.Polarity()

	convention := "utc"
	if !stamp.IsUTC {
		convention = fmt.Sprintf("local+%dh", stamp.OffsetHours)
	}

	md := map[string]string{
		"VARIANT":          string(d.cfg.Variant),
		"TIMESTAMP":        stamp.String(),
		"DOY":              strconv.Itoa(stamp.DayOfYear),
		"TIME_CONVENTION":  convention,
		"SHADOW_ENCODING":  fmt.Sprintf("shadow=%d illuminated=%d nodata=%d", pol.Shadow, pol.Illuminated, engine.MaskNodata),
		"SUN_ALTITUDE_DEG": fmt.Sprintf("%.4f", meta.SunAltitudeDeg),
		"SUN_AZIMUTH_DEG":  fmt.Sprintf("%.4f", meta.SunAzimuthDeg),
	}
	if tp.ApproxGeoCoords {
		md["APPROX_GEOCOORDS"] = "true"
	}
	return md
}

// quantizeRaster maps an incidence raster through the 8-bit quantizer.
// NaN cells pass through as the nodata code.
func quantizeRaster(q *quantize.Quantizer, inc *terrain.Raster) *terrain.ByteRaster {
	out := terrain.NewByteRaster(inc.Grid)
	for i, v := range inc.Values {
		out.Values[i] = q.Quantize(v)
	}
	return out
}

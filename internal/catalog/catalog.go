// Package catalog persists a ledger of shadow runs and their per-step
// outcomes in a SQLite database. The ledger is what reruns and
// postmortems consult: which timestamps were produced, which failed and
// why, and where the rasters were written.
package catalog

import (
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/terrashade/terrashade/pkg/migrate"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// Step outcome values stored in the steps.status column.
const (
	StepSucceeded = "succeeded"
	StepFailed    = "failed"
	StepSkipped   = "skipped"
)

// Run is one row of the runs table: a single invocation of the
// time-series driver over one day and one terrain.
type Run struct {
	ID              string
	StartedAt       time.Time
	FinishedAt      time.Time
	Variant         string
	Terrain         string
	Year            int
	DayOfYear       int
	StartHour       float64
	EndHour         float64
	IntervalMinutes float64
	OffsetHours     int
	UTC             bool
	Steps           int
	Succeeded       int
	Failed          int
	Skipped         int
}

// StepRecord is one row of the steps table. Float fields hold NaN when
// the value was never computed, such as sun position for a failed step;
// NaN round-trips through the database as NULL.
type StepRecord struct {
	RunID            string
	Index            int
	Stamp            string
	Status           string
	Error            string
	SunAltitudeDeg   float64
	SunAzimuthDeg    float64
	ShadowFraction   float64
	MeanIncidenceDeg float64
	MaskPath         string
	IncidencePath    string
	QuantizedPath    string
	Elapsed          time.Duration
}

// Catalog wraps the SQLite run ledger.
type Catalog struct {
	db     *sql.DB
	dbPath string
}

// Open opens the catalog database at the given path, creating it and
// migrating its schema as needed.
func Open(dbPath string, logger *zap.SugaredLogger) (*Catalog, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping SQLite database: %w", err)
	}

	provider := migrate.NewStaticProvider(schemaMigrations, "catalog_migrations")
	if err := migrate.NewMigrator(db, provider, logger).MigrateUp(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate catalog schema: %w", err)
	}

	return &Catalog{
		db:     db,
		dbPath: dbPath,
	}, nil
}

// Close closes the catalog database.
func (c *Catalog) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// schemaMigrations is the ledger schema, applied in order at Open.
var schemaMigrations = []migrate.Migration{
	{
		Version: 1,
		Name:    "create runs",
		Up: `
		CREATE TABLE runs (
			id           TEXT PRIMARY KEY,
			started_at   DATETIME NOT NULL,
			finished_at  DATETIME,
			variant      TEXT NOT NULL,
			terrain      TEXT NOT NULL,
			year         INTEGER NOT NULL,
			day_of_year  INTEGER NOT NULL,
			start_hour   REAL NOT NULL,
			end_hour     REAL NOT NULL,
			interval_min REAL NOT NULL,
			offset_hours INTEGER NOT NULL,
			utc          INTEGER NOT NULL,
			steps        INTEGER NOT NULL,
			succeeded    INTEGER,
			failed       INTEGER,
			skipped      INTEGER
		)
		`,
		Down: `DROP TABLE runs`,
	},
	{
		Version: 2,
		Name:    "create steps",
		Up: `
		CREATE TABLE steps (
			run_id          TEXT NOT NULL,
			idx             INTEGER NOT NULL,
			stamp           TEXT NOT NULL,
			status          TEXT NOT NULL,
			error           TEXT,
			sun_altitude    REAL,
			sun_azimuth     REAL,
			shadow_fraction REAL,
			mean_incidence  REAL,
			mask_path       TEXT,
			incidence_path  TEXT,
			quantized_path  TEXT,
			elapsed_ms      INTEGER NOT NULL,
			PRIMARY KEY (run_id, idx)
		)
		`,
		Down: `DROP TABLE steps`,
	},
}

// StartRun inserts a new run row. Outcome counters stay NULL until
// FinishRun fills them in.
func (c *Catalog) StartRun(run Run) error {
	query := `
		INSERT INTO runs (id, started_at, variant, terrain, year, day_of_year,
		                  start_hour, end_hour, interval_min, offset_hours, utc, steps)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := c.db.Exec(query,
		run.ID, run.StartedAt.UTC(), run.Variant, run.Terrain,
		run.Year, run.DayOfYear, run.StartHour, run.EndHour,
		run.IntervalMinutes, run.OffsetHours, boolToInt(run.UTC), run.Steps,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	return nil
}

// FinishRun stamps the run's finish time and outcome counters.
func (c *Catalog) FinishRun(id string, succeeded, failed, skipped int) error {
	query := `
		UPDATE runs
		SET finished_at = ?, succeeded = ?, failed = ?, skipped = ?
		WHERE id = ?
	`

	res, err := c.db.Exec(query, time.Now().UTC(), succeeded, failed, skipped, id)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("failed to finish run: no run with id %s", id)
	}

	return nil
}

// RecordStep inserts one step outcome. Steps arrive from concurrent
// workers in arbitrary index order.
func (c *Catalog) RecordStep(rec StepRecord) error {
	query := `
		INSERT INTO steps (run_id, idx, stamp, status, error,
		                   sun_altitude, sun_azimuth, shadow_fraction, mean_incidence,
		                   mask_path, incidence_path, quantized_path, elapsed_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := c.db.Exec(query,
		rec.RunID, rec.Index, rec.Stamp, rec.Status, nullIfEmpty(rec.Error),
		nullIfNaN(rec.SunAltitudeDeg), nullIfNaN(rec.SunAzimuthDeg),
		nullIfNaN(rec.ShadowFraction), nullIfNaN(rec.MeanIncidenceDeg),
		nullIfEmpty(rec.MaskPath), nullIfEmpty(rec.IncidencePath), nullIfEmpty(rec.QuantizedPath),
		rec.Elapsed.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert step: %w", err)
	}

	return nil
}

// RecentRuns returns the most recently started runs, newest first.
func (c *Catalog) RecentRuns(limit int) ([]Run, error) {
	query := `
		SELECT id, started_at, finished_at, variant, terrain, year, day_of_year,
		       start_hour, end_hour, interval_min, offset_hours, utc, steps,
		       succeeded, failed, skipped
		FROM runs
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`

	rows, err := c.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		var finished sql.NullTime
		var utc int
		var succeeded, failed, skipped sql.NullInt64

		err := rows.Scan(
			&run.ID, &run.StartedAt, &finished, &run.Variant, &run.Terrain,
			&run.Year, &run.DayOfYear, &run.StartHour, &run.EndHour,
			&run.IntervalMinutes, &run.OffsetHours, &utc, &run.Steps,
			&succeeded, &failed, &skipped,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}

		run.UTC = utc != 0
		if finished.Valid {
			run.FinishedAt = finished.Time
		}
		if succeeded.Valid {
			run.Succeeded = int(succeeded.Int64)
		}
		if failed.Valid {
			run.Failed = int(failed.Int64)
		}
		if skipped.Valid {
			run.Skipped = int(skipped.Int64)
		}

		runs = append(runs, run)
	}

	return runs, rows.Err()
}

// RunSteps returns all recorded steps of a run in index order.
func (c *Catalog) RunSteps(runID string) ([]StepRecord, error) {
	query := `
		SELECT run_id, idx, stamp, status, error,
		       sun_altitude, sun_azimuth, shadow_fraction, mean_incidence,
		       mask_path, incidence_path, quantized_path, elapsed_ms
		FROM steps
		WHERE run_id = ?
		ORDER BY idx
	`

	rows, err := c.db.Query(query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query steps: %w", err)
	}
	defer rows.Close()

	var steps []StepRecord
	for rows.Next() {
		var rec StepRecord
		var errText, maskPath, incidencePath, quantizedPath sql.NullString
		var sunAlt, sunAz, shadowFrac, meanInc sql.NullFloat64
		var elapsedMs int64

		err := rows.Scan(
			&rec.RunID, &rec.Index, &rec.Stamp, &rec.Status, &errText,
			&sunAlt, &sunAz, &shadowFrac, &meanInc,
			&maskPath, &incidencePath, &quantizedPath, &elapsedMs,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step row: %w", err)
		}

		rec.Error = errText.String
		rec.MaskPath = maskPath.String
		rec.IncidencePath = incidencePath.String
		rec.QuantizedPath = quantizedPath.String
		rec.SunAltitudeDeg = floatOrNaN(sunAlt)
		rec.SunAzimuthDeg = floatOrNaN(sunAz)
		rec.ShadowFraction = floatOrNaN(shadowFrac)
		rec.MeanIncidenceDeg = floatOrNaN(meanInc)
		rec.Elapsed = time.Duration(elapsedMs) * time.Millisecond

		steps = append(steps, rec)
	}

	return steps, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullIfEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullIfNaN(f float64) sql.NullFloat64 {
	return sql.NullFloat64{Float64: f, Valid: !math.IsNaN(f)}
}

func floatOrNaN(f sql.NullFloat64) float64 {
	if !f.Valid {
		return math.NaN()
	}
	return f.Float64
}

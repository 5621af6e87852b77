// Package config loads and validates run configuration. A run names one
// terrain, one calendar day, one time window, and one engine variant;
// everything the binary does follows from this structure.
package config

import (
	"fmt"
	"strconv"
	"time"

	"github.com/terrashade/terrashade/pkg/solartime"
)

// Default reference coordinate for the lon/lat fallback, the geographic
// center of Switzerland.
const (
	DefaultRefLatitude  = 46.8182
	DefaultRefLongitude = 8.2275
)

// ConfigProvider defines the interface for configuration data sources
type ConfigProvider interface {
	// Load complete configuration
	LoadConfig() (*ConfigData, error)

	// Configuration management
	IsReadOnly() bool
	Close() error
}

// ConfigData represents the complete validated run configuration.
type ConfigData struct {
	Run     RunData     `json:"run"`
	Engine  EngineData  `json:"engine"`
	Terrain TerrainData `json:"terrain"`
	Output  OutputData  `json:"output"`
	Catalog CatalogData `json:"catalog,omitempty"`
	Status  StatusData  `json:"status,omitempty"`
}

// RunData holds the time window of the run. Hours are decimal; the
// window is end-exclusive. OffsetHours is the resolved civil offset,
// whether it was configured explicitly or derived from the day of year.
type RunData struct {
	Year            int     `json:"year"`
	DayOfYear       int     `json:"day_of_year"`
	StartHour       float64 `json:"start_hour"`
	EndHour         float64 `json:"end_hour"`
	IntervalMinutes float64 `json:"interval_minutes"`
	UTC             bool    `json:"utc,omitempty"`
	OffsetHours     int     `json:"offset_hours"`
}

// EngineData selects the computation variant and its execution limits.
type EngineData struct {
	Variant     string        `json:"variant"`
	Workers     int           `json:"workers,omitempty"`
	StepTimeout time.Duration `json:"step_timeout,omitempty"`
	SkipNight   bool          `json:"skip_night,omitempty"`
}

// TerrainData locates the elevation surface and anchors the geographic
// fallback.
type TerrainData struct {
	Dir          string  `json:"dir"`
	Name         string  `json:"name"`
	EPSG         int     `json:"epsg,omitempty"`
	RefLatitude  float64 `json:"ref_latitude"`
	RefLongitude float64 `json:"ref_longitude"`
}

// OutputData shapes the exported artifacts.
type OutputData struct {
	Dir               string `json:"dir"`
	CompressionLevel  int    `json:"compression_level,omitempty"`
	AngleScale        string `json:"angle_scale,omitempty"`
	WriteFloat        bool   `json:"write_float,omitempty"`
	UTCSuffix         bool   `json:"utc_suffix,omitempty"`
	Overwrite         bool   `json:"overwrite,omitempty"`
	MaxExportFailures int    `json:"max_export_failures,omitempty"`
}

// CatalogData locates the run ledger; an empty path disables it.
type CatalogData struct {
	Path string `json:"path,omitempty"`
}

// StatusData configures the progress endpoint.
type StatusData struct {
	Enabled    bool   `json:"enabled,omitempty"`
	ListenAddr string `json:"listen_addr,omitempty"`
}

// validate checks the structural invariants every provider must deliver.
func (c *ConfigData) validate() error {
	if c.Run.Year < 1 {
		return fmt.Errorf("run: year is required")
	}
	if _, err := solartime.DateForDay(c.Run.Year, c.Run.DayOfYear); err != nil {
		return fmt.Errorf("run: %w", err)
	}
	if c.Run.IntervalMinutes <= 0 {
		return fmt.Errorf("run: interval must be positive, got %v", c.Run.IntervalMinutes)
	}
	if c.Run.StartHour < 0 || c.Run.EndHour > 24 || c.Run.EndHour < c.Run.StartHour {
		return fmt.Errorf("run: window [%v,%v) outside the day", c.Run.StartHour, c.Run.EndHour)
	}
	if c.Engine.Variant == "" {
		return fmt.Errorf("engine: variant is required")
	}
	if c.Terrain.Name == "" {
		return fmt.Errorf("terrain: name is required")
	}
	if c.Output.Dir == "" {
		return fmt.Errorf("output: dir is required")
	}
	if c.Output.AngleScale != "255" && c.Output.AngleScale != "254" {
		return fmt.Errorf("output: angle-scale must be \"255\" or \"254\", got %q", c.Output.AngleScale)
	}
	if c.Status.Enabled && c.Status.ListenAddr == "" {
		return fmt.Errorf("status: listen-addr is required when enabled")
	}
	return nil
}

// resolveOffset maps the configured offset value to hours. Empty or
// "auto" derives the offset from the day of year.
func resolveOffset(value string, doy int) (int, error) {
	if value == "" || value == "auto" {
		return solartime.OffsetForDay(doy)
	}
	hours, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("run: offset-hours must be an integer or \"auto\", got %q", value)
	}
	return hours, nil
}

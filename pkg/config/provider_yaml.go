package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// YAMLProvider implements ConfigProvider for YAML configuration files
type YAMLProvider struct {
	filename string
	config   *ConfigData
}

// NewYAMLProvider creates a new YAML configuration provider
func NewYAMLProvider(filename string) *YAMLProvider {
	return &YAMLProvider{
		filename: filename,
	}
}

// LoadConfig loads the complete configuration from YAML file
func (y *YAMLProvider) LoadConfig() (*ConfigData, error) {
	cfgFile, err := os.ReadFile(y.filename)
	if err != nil {
		return nil, err
	}

	// Load into temporary struct with YAML tags
	var yamlConfig struct {
		Run     RunYAML      `yaml:"run"`
		Engine  EngineYAML   `yaml:"engine"`
		Terrain TerrainYAML  `yaml:"terrain"`
		Output  OutputYAML   `yaml:"output"`
		Catalog *CatalogYAML `yaml:"catalog,omitempty"`
		Status  *StatusYAML  `yaml:"status,omitempty"`
	}

	err = yaml.Unmarshal(cfgFile, &yamlConfig)
	if err != nil {
		return nil, err
	}

	offset, err := resolveOffset(yamlConfig.Run.OffsetHours, yamlConfig.Run.DayOfYear)
	if err != nil {
		return nil, err
	}

	var stepTimeout time.Duration
	if yamlConfig.Engine.StepTimeout != "" {
		stepTimeout, err = time.ParseDuration(yamlConfig.Engine.StepTimeout)
		if err != nil {
			return nil, fmt.Errorf("engine: invalid step-timeout %q: %w", yamlConfig.Engine.StepTimeout, err)
		}
	}

	// Convert to our internal format
	config := &ConfigData{
		Run: RunData{
			Year:            yamlConfig.Run.Year,
			DayOfYear:       yamlConfig.Run.DayOfYear,
			StartHour:       yamlConfig.Run.StartHour,
			EndHour:         yamlConfig.Run.EndHour,
			IntervalMinutes: yamlConfig.Run.IntervalMinutes,
			UTC:             yamlConfig.Run.UTC,
			OffsetHours:     offset,
		},
		Engine: EngineData{
			Variant:     yamlConfig.Engine.Variant,
			Workers:     yamlConfig.Engine.Workers,
			StepTimeout: stepTimeout,
			SkipNight:   yamlConfig.Engine.SkipNight,
		},
		Terrain: TerrainData{
			Dir:          yamlConfig.Terrain.Dir,
			Name:         yamlConfig.Terrain.Name,
			EPSG:         yamlConfig.Terrain.EPSG,
			RefLatitude:  DefaultRefLatitude,
			RefLongitude: DefaultRefLongitude,
		},
		Output: OutputData{
			Dir:               yamlConfig.Output.Dir,
			CompressionLevel:  yamlConfig.Output.CompressionLevel,
			AngleScale:        yamlConfig.Output.AngleScale,
			WriteFloat:        yamlConfig.Output.WriteFloat,
			UTCSuffix:         yamlConfig.Output.UTCSuffix,
			Overwrite:         yamlConfig.Output.Overwrite,
			MaxExportFailures: yamlConfig.Output.MaxExportFailures,
		},
	}

	if config.Terrain.Dir == "" {
		config.Terrain.Dir = "."
	}
	if config.Output.AngleScale == "" {
		config.Output.AngleScale = "255"
	}
	if yamlConfig.Terrain.Reference != nil {
		config.Terrain.RefLatitude = yamlConfig.Terrain.Reference.Latitude
		config.Terrain.RefLongitude = yamlConfig.Terrain.Reference.Longitude
	}
	if yamlConfig.Catalog != nil {
		config.Catalog = CatalogData{
			Path: yamlConfig.Catalog.Path,
		}
	}
	if yamlConfig.Status != nil {
		config.Status = StatusData{
			Enabled:    yamlConfig.Status.Enabled,
			ListenAddr: yamlConfig.Status.ListenAddr,
		}
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	y.config = config
	return config, nil
}

// IsReadOnly returns true since YAML files are read-only through this interface
func (y *YAMLProvider) IsReadOnly() bool {
	return true
}

// Close is a no-op for YAML provider
func (y *YAMLProvider) Close() error {
	return nil
}

// YAML-specific structs with proper YAML tags for parsing the on-disk format

// RunYAML carries the offset as a string so that "auto" can stand in
// for an offset derived from the day of year.
type RunYAML struct {
	Year            int     `yaml:"year"`
	DayOfYear       int     `yaml:"day-of-year"`
	StartHour       float64 `yaml:"start-hour"`
	EndHour         float64 `yaml:"end-hour"`
	IntervalMinutes float64 `yaml:"interval-minutes"`
	UTC             bool    `yaml:"utc,omitempty"`
	OffsetHours     string  `yaml:"offset-hours,omitempty"`
}

type EngineYAML struct {
	Variant     string `yaml:"variant"`
	Workers     int    `yaml:"workers,omitempty"`
	StepTimeout string `yaml:"step-timeout,omitempty"`
	SkipNight   bool   `yaml:"skip-night,omitempty"`
}

type TerrainYAML struct {
	Dir       string         `yaml:"dir,omitempty"`
	Name      string         `yaml:"name"`
	EPSG      int            `yaml:"epsg,omitempty"`
	Reference *ReferenceYAML `yaml:"reference,omitempty"`
}

type ReferenceYAML struct {
	Latitude  float64 `yaml:"latitude"`
	Longitude float64 `yaml:"longitude"`
}

type OutputYAML struct {
	Dir               string `yaml:"dir"`
	CompressionLevel  int    `yaml:"compression-level,omitempty"`
	AngleScale        string `yaml:"angle-scale,omitempty"`
	WriteFloat        bool   `yaml:"write-float,omitempty"`
	UTCSuffix         bool   `yaml:"utc-suffix,omitempty"`
	Overwrite         bool   `yaml:"overwrite,omitempty"`
	MaxExportFailures int    `yaml:"max-export-failures,omitempty"`
}

type CatalogYAML struct {
	Path string `yaml:"path,omitempty"`
}

type StatusYAML struct {
	Enabled    bool   `yaml:"enabled,omitempty"`
	ListenAddr string `yaml:"listen-addr,omitempty"`
}

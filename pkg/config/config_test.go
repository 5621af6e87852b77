package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "terrashade.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const fullConfig = `
run:
  year: 2021
  day-of-year: 153
  start-hour: 12.0
  end-hour: 13.0
  interval-minutes: 2.0
  utc: false
  offset-hours: 2
engine:
  variant: detailed
  workers: 4
  step-timeout: 90s
  skip-night: true
terrain:
  dir: /data/dsm
  name: hillside.tif
  epsg: 2056
  reference:
    latitude: 47.05
    longitude: 8.31
output:
  dir: /data/out
  compression-level: 9
  angle-scale: "254"
  write-float: true
  utc-suffix: true
  overwrite: true
  max-export-failures: 5
catalog:
  path: /data/out/runs.db
status:
  enabled: true
  listen-addr: 127.0.0.1:8090
`

func TestYAMLProviderLoadConfig(t *testing.T) {
	provider := NewYAMLProvider(writeConfigFile(t, fullConfig))
	cfg, err := provider.LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.Run.Year != 2021 || cfg.Run.DayOfYear != 153 {
		t.Errorf("run date = %d/%d, want 2021/153", cfg.Run.Year, cfg.Run.DayOfYear)
	}
	if cfg.Run.StartHour != 12.0 || cfg.Run.EndHour != 13.0 {
		t.Errorf("window = [%v,%v), want [12,13)", cfg.Run.StartHour, cfg.Run.EndHour)
	}
	if cfg.Run.IntervalMinutes != 2.0 {
		t.Errorf("interval = %v, want 2", cfg.Run.IntervalMinutes)
	}
	if cfg.Run.UTC {
		t.Error("run marked UTC")
	}
	if cfg.Run.OffsetHours != 2 {
		t.Errorf("offset = %d, want 2", cfg.Run.OffsetHours)
	}
	if cfg.Engine.Variant != "detailed" {
		t.Errorf("variant = %q, want detailed", cfg.Engine.Variant)
	}
	if cfg.Engine.Workers != 4 {
		t.Errorf("workers = %d, want 4", cfg.Engine.Workers)
	}
	if cfg.Engine.StepTimeout != 90*time.Second {
		t.Errorf("step timeout = %v, want 90s", cfg.Engine.StepTimeout)
	}
	if !cfg.Engine.SkipNight {
		t.Error("skip-night not set")
	}
	if cfg.Terrain.Dir != "/data/dsm" || cfg.Terrain.Name != "hillside.tif" {
		t.Errorf("terrain = %q/%q", cfg.Terrain.Dir, cfg.Terrain.Name)
	}
	if cfg.Terrain.EPSG != 2056 {
		t.Errorf("epsg = %d, want 2056", cfg.Terrain.EPSG)
	}
	if cfg.Terrain.RefLatitude != 47.05 || cfg.Terrain.RefLongitude != 8.31 {
		t.Errorf("reference = %v/%v, want 47.05/8.31", cfg.Terrain.RefLatitude, cfg.Terrain.RefLongitude)
	}
	if cfg.Output.Dir != "/data/out" {
		t.Errorf("output dir = %q", cfg.Output.Dir)
	}
	if cfg.Output.CompressionLevel != 9 {
		t.Errorf("compression = %d, want 9", cfg.Output.CompressionLevel)
	}
	if cfg.Output.AngleScale != "254" {
		t.Errorf("angle scale = %q, want 254", cfg.Output.AngleScale)
	}
	if !cfg.Output.WriteFloat || !cfg.Output.UTCSuffix || !cfg.Output.Overwrite {
		t.Error("output flags not carried through")
	}
	if cfg.Output.MaxExportFailures != 5 {
		t.Errorf("max export failures = %d, want 5", cfg.Output.MaxExportFailures)
	}
	if cfg.Catalog.Path != "/data/out/runs.db" {
		t.Errorf("catalog path = %q", cfg.Catalog.Path)
	}
	if !cfg.Status.Enabled || cfg.Status.ListenAddr != "127.0.0.1:8090" {
		t.Errorf("status = %+v", cfg.Status)
	}
}

const minimalConfig = `
run:
  year: 2022
  day-of-year: %d
  start-hour: 8
  end-hour: 16
  interval-minutes: 30
engine:
  variant: fast
terrain:
  name: flat.tif
output:
  dir: out
`

func TestYAMLProviderDefaults(t *testing.T) {
	provider := NewYAMLProvider(writeConfigFile(t, sprintfConfig(minimalConfig, 153)))
	cfg, err := provider.LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.Terrain.Dir != "." {
		t.Errorf("terrain dir = %q, want .", cfg.Terrain.Dir)
	}
	if cfg.Terrain.RefLatitude != DefaultRefLatitude || cfg.Terrain.RefLongitude != DefaultRefLongitude {
		t.Errorf("reference = %v/%v, want defaults", cfg.Terrain.RefLatitude, cfg.Terrain.RefLongitude)
	}
	if cfg.Engine.Workers != 0 || cfg.Engine.StepTimeout != 0 {
		t.Errorf("engine limits = %+v, want zero", cfg.Engine)
	}
	if cfg.Output.AngleScale != "255" {
		t.Errorf("angle scale = %q, want the 255 default", cfg.Output.AngleScale)
	}
	if cfg.Catalog.Path != "" {
		t.Errorf("catalog path = %q, want empty", cfg.Catalog.Path)
	}
	if cfg.Status.Enabled {
		t.Error("status enabled without a status section")
	}
}

func TestYAMLProviderAutoOffset(t *testing.T) {
	// Absent offset-hours resolves from the day of year: summer days
	// carry +2h, the rest of the year +1h.
	tests := []struct {
		name     string
		doy      int
		expected int
	}{
		{"summer day", 153, 2},
		{"winter day", 20, 1},
		{"first summer day", 80, 2},
		{"first day after summer", 305, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := NewYAMLProvider(writeConfigFile(t, sprintfConfig(minimalConfig, tt.doy)))
			cfg, err := provider.LoadConfig()
			if err != nil {
				t.Fatalf("LoadConfig: %v", err)
			}
			if cfg.Run.OffsetHours != tt.expected {
				t.Errorf("offset for doy %d = %d, want %d", tt.doy, cfg.Run.OffsetHours, tt.expected)
			}
		})
	}
}

func TestYAMLProviderExplicitAutoOffset(t *testing.T) {
	contents := strings.Replace(sprintfConfig(minimalConfig, 153),
		"interval-minutes: 30", "interval-minutes: 30\n  offset-hours: auto", 1)
	provider := NewYAMLProvider(writeConfigFile(t, contents))
	cfg, err := provider.LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Run.OffsetHours != 2 {
		t.Errorf("offset = %d, want 2", cfg.Run.OffsetHours)
	}
}

func TestYAMLProviderValidation(t *testing.T) {
	tests := []struct {
		name    string
		mangle  func(string) string
		wantErr string
	}{
		{
			"missing year",
			func(s string) string { return strings.Replace(s, "year: 2022", "year: 0", 1) },
			"year",
		},
		{
			"day of year out of range",
			func(s string) string { return strings.Replace(s, "day-of-year: 153", "day-of-year: 367", 1) },
			"367",
		},
		{
			"zero interval",
			func(s string) string { return strings.Replace(s, "interval-minutes: 30", "interval-minutes: 0", 1) },
			"interval",
		},
		{
			"inverted window",
			func(s string) string { return strings.Replace(s, "end-hour: 16", "end-hour: 4", 1) },
			"window",
		},
		{
			"window past midnight",
			func(s string) string { return strings.Replace(s, "end-hour: 16", "end-hour: 25", 1) },
			"window",
		},
		{
			"missing variant",
			func(s string) string { return strings.Replace(s, "variant: fast", "variant: \"\"", 1) },
			"variant",
		},
		{
			"missing terrain name",
			func(s string) string { return strings.Replace(s, "name: flat.tif", "name: \"\"", 1) },
			"name",
		},
		{
			"missing output dir",
			func(s string) string { return strings.Replace(s, "dir: out", "dir: \"\"", 1) },
			"output",
		},
		{
			"unknown angle scale",
			func(s string) string { return strings.Replace(s, "dir: out", "dir: out\n  angle-scale: \"256\"", 1) },
			"angle-scale",
		},
		{
			"bad offset value",
			func(s string) string {
				return strings.Replace(s, "interval-minutes: 30", "interval-minutes: 30\n  offset-hours: noon", 1)
			},
			"offset-hours",
		},
		{
			"bad step timeout",
			func(s string) string {
				return strings.Replace(s, "variant: fast", "variant: fast\n  step-timeout: fast", 1)
			},
			"step-timeout",
		},
		{
			"status enabled without address",
			func(s string) string { return s + "status:\n  enabled: true\n" },
			"listen-addr",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			contents := tt.mangle(sprintfConfig(minimalConfig, 153))
			provider := NewYAMLProvider(writeConfigFile(t, contents))
			_, err := provider.LoadConfig()
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestYAMLProviderMissingFile(t *testing.T) {
	provider := NewYAMLProvider(filepath.Join(t.TempDir(), "absent.yaml"))
	if _, err := provider.LoadConfig(); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

func TestYAMLProviderInterface(t *testing.T) {
	var provider ConfigProvider = NewYAMLProvider("terrashade.yaml")
	if !provider.IsReadOnly() {
		t.Error("YAML provider is not read-only")
	}
	if err := provider.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func sprintfConfig(format string, doy int) string {
	return fmt.Sprintf(format, doy)
}

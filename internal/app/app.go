package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/golang/geo/s2"
	"github.com/terrashade/terrashade/internal/catalog"
	"github.com/terrashade/terrashade/internal/driver"
	"github.com/terrashade/terrashade/internal/engine"
	"github.com/terrashade/terrashade/internal/export"
	"github.com/terrashade/terrashade/internal/log"
	"github.com/terrashade/terrashade/internal/status"
	"github.com/terrashade/terrashade/internal/terrain"
	"github.com/terrashade/terrashade/pkg/config"
	"github.com/terrashade/terrashade/pkg/quantize"
	"go.uber.org/zap"
)

// App represents the main application
type App struct {
	configProvider config.ConfigProvider
	logger         *zap.SugaredLogger
}

// New creates a new application instance
func New(configProvider config.ConfigProvider, logger *zap.SugaredLogger) *App {
	return &App{
		configProvider: configProvider,
		logger:         logger,
	}
}

// Run executes one shadow run and blocks until every timestep has been
// dispatched and drained. An interrupt stops dispatch of new timesteps;
// steps already in flight finish and export.
func (a *App) Run(ctx context.Context) error {
	var wg sync.WaitGroup

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cfg, err := a.configProvider.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	series, err := driver.NewSeries(cfg.Run.Year, cfg.Run.DayOfYear,
		cfg.Run.StartHour, cfg.Run.EndHour, cfg.Run.IntervalMinutes,
		cfg.Run.OffsetHours, cfg.Run.UTC)
	if err != nil {
		return err
	}

	variant, err := engine.ParseVariant(cfg.Engine.Variant)
	if err != nil {
		return err
	}

	// Initialize the terrain store
	ref := s2.LatLngFromDegrees(cfg.Terrain.RefLatitude, cfg.Terrain.RefLongitude)
	store := terrain.NewStore(cfg.Terrain.Dir, cfg.Terrain.EPSG, ref, a.logger)

	// Initialize the exporter
	exporter, err := export.New(export.Options{
		Dir:       cfg.Output.Dir,
		ZLevel:    cfg.Output.CompressionLevel,
		Overwrite: cfg.Output.Overwrite,
	}, a.logger)
	if err != nil {
		return err
	}

	// Initialize the run catalog when configured
	var cat *catalog.Catalog
	if cfg.Catalog.Path != "" {
		cat, err = catalog.Open(cfg.Catalog.Path, a.logger)
		if err != nil {
			return fmt.Errorf("failed to open run catalog: %w", err)
		}
		defer cat.Close()
	}

	// Initialize the status controller when configured
	var tracker *status.Tracker
	if cfg.Status.Enabled {
		tracker = status.NewTracker()
		sc, err := status.NewController(ctx, &wg, cfg.Status.ListenAddr, tracker, a.logger)
		if err != nil {
			return err
		}
		sc.StartController()
	}

	drv, err := driver.New(driver.Config{
		Series:            series,
		Variant:           variant,
		TerrainName:       cfg.Terrain.Name,
		Workers:           cfg.Engine.Workers,
		StepTimeout:       cfg.Engine.StepTimeout,
		SkipNight:         cfg.Engine.SkipNight,
		UTCSuffix:         cfg.Output.UTCSuffix,
		Scale:             quantize.Scale(cfg.Output.AngleScale),
		WriteFloat:        cfg.Output.WriteFloat,
		MaxExportFailures: cfg.Output.MaxExportFailures,
	}, store, exporter, cat, tracker, a.logger)
	if err != nil {
		return err
	}

	log.Info("Application started successfully")

	// Set up signal handling
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)

	go func() {
		select {
		case <-sigs:
			log.Info("shutdown signal received, stopping dispatch...")
			cancel()
		case <-ctx.Done():
		}
	}()

	_, runErr := drv.Run(ctx)

	// Cancel context to signal all goroutines to stop
	cancel()

	// Wait for all workers to terminate
	wg.Wait()

	return runErr
}

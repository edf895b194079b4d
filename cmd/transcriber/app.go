package main

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/garyjia/order-transcriber/internal/config"
	"github.com/garyjia/order-transcriber/internal/engine"
	"github.com/garyjia/order-transcriber/internal/metrics"
	"github.com/garyjia/order-transcriber/internal/pipeline"
	"github.com/garyjia/order-transcriber/internal/reconcile"
	"github.com/garyjia/order-transcriber/internal/render"
	"github.com/garyjia/order-transcriber/internal/repository"
	"github.com/garyjia/order-transcriber/internal/storage"
	"github.com/garyjia/order-transcriber/internal/transcribe"
	"github.com/garyjia/order-transcriber/internal/validate"
	"github.com/garyjia/order-transcriber/pkg/database"
	"github.com/garyjia/order-transcriber/pkg/utils"
)

// app holds the wired components of one process
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	db       *database.DB
	runs     *repository.RunRepository
	metrics  *metrics.Metrics
	office   *engine.Office
	pipeline *pipeline.Pipeline
}

// newApp loads configuration and wires every component. With confine set, finished
// files may only be placed under storage.output_dir.
func newApp(ctx context.Context, flags *globalFlags, confine bool) (*app, error) {
	if err := config.LoadEnvFile(flags.envFile); err != nil {
		return nil, err
	}
	cfg, err := config.Load(flags.configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	level := cfg.Logger.Level
	if flags.verbose {
		level = "debug"
	}
	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:       level,
		OutputPath:  cfg.Logger.OutputPath,
		Format:      cfg.Logger.Format,
		Development: cfg.Development(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	for _, notice := range cfg.Notices {
		logger.Warn("Configuration adjusted", zap.String("detail", notice))
	}

	db, err := database.New(database.Config{
		Path:            cfg.Database.Path,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	migrations := database.Embedded()
	if cfg.Database.MigrationsDir != "" {
		migrations = os.DirFS(cfg.Database.MigrationsDir)
	}
	if _, err := database.NewMigrator(db, logger).RunMigrations(ctx, migrations); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run database migrations: %w", err)
	}

	a := &app{
		cfg:     cfg,
		logger:  logger,
		db:      db,
		runs:    repository.NewRunRepository(db.DB, logger),
		metrics: metrics.New(),
		office: engine.NewOffice(engine.OfficeConfig{
			Binary:         cfg.Engine.Binary,
			ConvertTimeout: cfg.Engine.ConvertTimeout,
			ExportTimeout:  cfg.Engine.ExportTimeout,
			ProbeTimeout:   cfg.Engine.ProbeTimeout,
		}, logger),
	}

	var recalculator engine.Recalculator = a.office
	if cfg.Engine.Recalc == config.RecalcCache {
		recalculator = engine.CacheEngine{}
	}

	placeRoot := ""
	if confine {
		placeRoot = cfg.Storage.OutputDir
	}
	files := storage.NewLocalFileStorage(placeRoot, logger)
	renderer := render.NewRenderer(a.office, files, logger)
	if !cfg.Render.Inspect {
		renderer.WithInspector(nil)
	}

	a.pipeline = pipeline.New(pipeline.Deps{
		Mutator:    transcribe.NewMutator(logger),
		Reconciler: reconcile.NewReconciler(logger),
		Validator:  validate.NewValidator(recalculator, logger),
		Renderer:   renderer,
		Scratch:    storage.NewScratchManager(cfg.Storage.ScratchDir, logger),
		Storage:    files,
		History:    a.runs,
		Metrics:    a.metrics,
	}, pipeline.Config{
		KeepScratch: cfg.Storage.KeepScratch,
		Development: cfg.Development(),
	}, logger)

	return a, nil
}

func (a *app) Close() {
	if err := a.db.Close(); err != nil {
		a.logger.Warn("Failed to close database", zap.Error(err))
	}
	_ = a.logger.Sync()
}

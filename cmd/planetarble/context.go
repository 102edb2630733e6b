package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"

	"planetarble/internal/catalog"
	"planetarble/internal/config"
	"planetarble/internal/download"
	"planetarble/internal/logging"
	"planetarble/internal/manifest"
	"planetarble/internal/pipeline"
	"planetarble/internal/retry"
	"planetarble/internal/services/gdal"
	"planetarble/internal/services/pmtiles"
	"planetarble/internal/services/tiler"
	"planetarble/internal/stage"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error

	loggerOnce sync.Once
	logger     *slog.Logger
}

// buildOptions collect the per-invocation knobs the stage commands expose.
type buildOptions struct {
	dryRun      bool
	forceAssets bool
	noAria2     bool
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) buildLogger(cfg *config.Config) *slog.Logger {
	c.loggerOnce.Do(func() {
		outputs := []string{"stderr"}
		if cfg.Paths.LogDir != "" {
			outputs = append(outputs, filepath.Join(cfg.Paths.LogDir, "planetarble.log"))
		}
		logger, err := logging.New(logging.Options{
			Level:       cfg.Logging.Level,
			Format:      cfg.Logging.Format,
			OutputPaths: outputs,
		})
		if err != nil {
			logger = logging.NewNop()
		}
		c.logger = logger
	})
	return c.logger
}

func (c *commandContext) openStore(cfg *config.Config) (*manifest.Store, error) {
	return manifest.Open(cfg.ManifestPath(), cfg.CheckpointsPath())
}

// buildOrchestrator wires the full stage chain. The returned store must be
// closed by the caller.
func (c *commandContext) buildOrchestrator(opts buildOptions) (*pipeline.Orchestrator, *manifest.Store, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, nil, err
	}
	logger := c.buildLogger(cfg)

	store, err := c.openStore(cfg)
	if err != nil {
		return nil, nil, err
	}
	cat, err := catalog.LoadDefault()
	if err != nil {
		store.Close()
		return nil, nil, err
	}

	downloads := download.NewOrchestrator(store, download.Options{
		DataDir:      cfg.Paths.DataDir,
		Workers:      cfg.Acquire.DownloadWorkers,
		Policy:       retry.NewPolicy(cfg.Acquire.RetryAttempts, time.Duration(cfg.Acquire.RetryBaseDelaySeconds)*time.Second),
		Timeout:      time.Duration(cfg.Acquire.TimeoutSeconds) * time.Second,
		UseAria2:     cfg.Acquire.UseAria2 && !opts.noAria2,
		ShowProgress: isatty.IsTerminal(os.Stderr.Fd()) && !opts.dryRun,
		Logger:       logger,
	})

	gdalRunner := gdal.NewRunner(gdal.WithLogger(logger), gdal.WithDryRun(opts.dryRun))
	tileRunner := tiler.NewRunner(tiler.WithLogger(logger), tiler.WithDryRun(opts.dryRun))
	pmClient := pmtiles.NewClient(pmtiles.WithLogger(logger), pmtiles.WithDryRun(opts.dryRun))

	adapters := []stage.Adapter{
		stage.NewAcquireStage(cfg.Acquire, cat, store, downloads, logger, opts.forceAssets),
		stage.NewProcessStage(cfg.Process, cfg.Paths, store, gdalRunner, logger, opts.dryRun),
		stage.NewTileStage(cfg.Tile, cfg.Paths, tileRunner, logger, opts.dryRun),
		stage.NewPackageStage(cfg, store, pmClient, logger, opts.dryRun),
	}
	return pipeline.New(cfg, store, adapters, logger), store, nil
}

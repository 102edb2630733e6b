package stage

import (
	"context"
	"log/slog"
	"os"

	"planetarble/internal/config"
	"planetarble/internal/deps"
	"planetarble/internal/logging"
	"planetarble/internal/manifest"
	"planetarble/internal/services"
	"planetarble/internal/services/mbtiles"
	"planetarble/internal/services/tiler"
)

// TileStage reprojects the blended raster to Web Mercator and renders the
// full tile pyramid into an MBTiles archive, then validates the result by
// opening the archive and checking its zoom coverage.
type TileStage struct {
	cfg    config.Tile
	paths  config.Paths
	tiler  *tiler.Runner
	logger *slog.Logger
	dryRun bool
}

// NewTileStage wires the tiling adapter.
func NewTileStage(cfg config.Tile, paths config.Paths, runner *tiler.Runner, logger *slog.Logger, dryRun bool) *TileStage {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &TileStage{
		cfg:    cfg,
		paths:  paths,
		tiler:  runner,
		logger: logger,
		dryRun: dryRun,
	}
}

func (s *TileStage) Name() string { return Tile }

func (s *TileStage) Config() any { return s.cfg }

func (s *TileStage) Seed() []manifest.Artifact { return nil }

func (s *TileStage) HealthCheck(ctx context.Context) Health {
	if err := deps.RequireForStage(Tile); err != nil {
		return Unhealthy(Tile, err.Error())
	}
	return Healthy(Tile)
}

func (s *TileStage) Run(ctx context.Context, _ []string) ([]string, error) {
	ctx = services.WithStage(ctx, Tile)
	log := logging.WithContext(ctx, s.logger)

	blended := blendedPath(s.paths.WorkDir)
	if !s.dryRun {
		if _, err := os.Stat(blended); err != nil {
			return nil, services.Wrap(services.ErrValidation, Tile, "resolve input",
				"blended raster missing; run the process stage first", err)
		}
	}

	mercator := mercatorVRTPath(s.paths.WorkDir)
	archive := mbtilesPath(s.paths.WorkDir)

	if err := s.tiler.Reproject(ctx, blended, mercator, s.cfg.MaxZoom); err != nil {
		return nil, err
	}
	if !s.dryRun {
		// gdal_translate appends to an existing MBTiles file.
		if err := os.Remove(archive); err != nil && !os.IsNotExist(err) {
			return nil, services.Wrap(services.ErrConfiguration, Tile, "clear stale archive", archive, err)
		}
	}
	if err := s.tiler.ToMBTiles(ctx, mercator, archive, s.cfg.TileFormat, s.cfg.TileQuality, s.cfg.MaxZoom); err != nil {
		return nil, err
	}
	if err := s.tiler.BuildOverviews(ctx, archive, s.cfg.Resampling, s.cfg.MaxZoom); err != nil {
		return nil, err
	}

	if !s.dryRun {
		info, err := mbtiles.Inspect(ctx, archive)
		if err != nil {
			return nil, err
		}
		if err := info.ExpectZoomRange(s.cfg.MaxZoom); err != nil {
			return nil, err
		}
		log.Info("tile pyramid rendered",
			logging.Int64("tiles", info.TileCount),
			logging.Int("max_zoom", info.MaxZoom))
	}

	return []string{archive}, nil
}

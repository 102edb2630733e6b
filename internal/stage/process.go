package stage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"planetarble/internal/catalog"
	"planetarble/internal/config"
	"planetarble/internal/deps"
	"planetarble/internal/fileutil"
	"planetarble/internal/logging"
	"planetarble/internal/manifest"
	"planetarble/internal/services"
	"planetarble/internal/services/gdal"
)

// ProcessStage turns the verified raw assets into one blended global
// raster: Blue Marble mosaic, color enhancement, GEBCO hillshade, and the
// opacity blend of the two.
type ProcessStage struct {
	cfg    config.Process
	paths  config.Paths
	store  *manifest.Store
	gdal   *gdal.Runner
	logger *slog.Logger
	dryRun bool
}

// NewProcessStage wires the raster processing adapter.
func NewProcessStage(cfg config.Process, paths config.Paths, store *manifest.Store, runner *gdal.Runner, logger *slog.Logger, dryRun bool) *ProcessStage {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &ProcessStage{
		cfg:    cfg,
		paths:  paths,
		store:  store,
		gdal:   runner,
		logger: logger,
		dryRun: dryRun,
	}
}

func (s *ProcessStage) Name() string { return Process }

func (s *ProcessStage) Config() any { return s.cfg }

func (s *ProcessStage) Seed() []manifest.Artifact { return nil }

func (s *ProcessStage) HealthCheck(ctx context.Context) Health {
	if err := deps.RequireForStage(Process); err != nil {
		return Unhealthy(Process, err.Error())
	}
	return Healthy(Process)
}

func (s *ProcessStage) Run(ctx context.Context, _ []string) ([]string, error) {
	ctx = services.WithStage(ctx, Process)
	log := logging.WithContext(ctx, s.logger)

	if err := os.MkdirAll(s.paths.WorkDir, 0o755); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, Process, "prepare work directory", s.paths.WorkDir, err)
	}

	panelPaths, err := s.verifiedPaths(s.panelNames())
	if err != nil {
		return nil, err
	}
	gebcoPath, err := s.verifiedPath(catalog.GEBCOAsset)
	if err != nil {
		return nil, err
	}

	listPath := mosaicListPath(s.paths.WorkDir)
	if !s.dryRun {
		payload := strings.Join(panelPaths, "\n") + "\n"
		if err := os.WriteFile(listPath, []byte(payload), 0o644); err != nil {
			return nil, services.Wrap(services.ErrConfiguration, Process, "write mosaic list", listPath, err)
		}
	}

	mosaic := mosaicVRTPath(s.paths.WorkDir)
	enhanced := enhancedPath(s.paths.WorkDir)
	hillshade := hillshadePath(s.paths.WorkDir)
	blended := blendedPath(s.paths.WorkDir)

	log.Info("assembling mosaic", logging.Int("panels", len(panelPaths)))
	if err := s.gdal.BuildVRT(ctx, listPath, mosaic); err != nil {
		return nil, err
	}
	if err := s.gdal.Enhance(ctx, mosaic, enhanced, s.cfg.ColorEnhancement); err != nil {
		return nil, err
	}
	log.Info("rendering hillshade", logging.String("grid", gebcoPath))
	if err := s.gdal.Hillshade(ctx, gebcoPath, hillshade); err != nil {
		return nil, err
	}
	if err := s.gdal.Blend(ctx, enhanced, hillshade, blended, s.cfg.HillshadeOpacity); err != nil {
		return nil, err
	}

	index, err := s.extractNaturalEarth(ctx)
	if err != nil {
		return nil, err
	}

	return []string{enhanced, hillshade, blended, index}, nil
}

// extractNaturalEarth unpacks the vector archives next to the rasters and
// records what came out of each one, so downstream consumers (and
// checkpoint verification) have a stable file to look at.
func (s *ProcessStage) extractNaturalEarth(ctx context.Context) (string, error) {
	log := logging.WithContext(ctx, s.logger)
	indexPath := naturalEarthIndexPath(s.paths.WorkDir)
	if s.dryRun {
		log.Info("would extract vector archives", logging.String("dir", naturalEarthDir(s.paths.WorkDir)))
		return indexPath, nil
	}

	var index strings.Builder
	for _, name := range catalog.NaturalEarthSet() {
		archive, err := s.verifiedPath(name)
		if err != nil {
			return "", err
		}
		stem := strings.TrimSuffix(filepath.Base(archive), filepath.Ext(archive))
		dest := filepath.Join(naturalEarthDir(s.paths.WorkDir), stem)
		log.Info("extracting vector archive", logging.String("asset", name))
		entries, err := fileutil.ExtractZip(archive, dest)
		if err != nil {
			return "", services.Wrap(services.ErrValidation, Process, "extract archive", archive, err)
		}
		for _, entry := range entries {
			fmt.Fprintf(&index, "%s/%s\n", stem, entry)
		}
	}
	if err := fileutil.AtomicWriteFile(indexPath, []byte(index.String()), 0o644); err != nil {
		return "", services.Wrap(services.ErrConfiguration, Process, "write extraction index", indexPath, err)
	}
	return indexPath, nil
}

// panelNames resolves the Blue Marble set actually acquired, honoring a
// recorded fallback to the 2km composite.
func (s *ProcessStage) panelNames() []string {
	resolution := s.store.GenerationParams()["bmng_resolution"]
	if resolution == "" {
		resolution = "500m"
	}
	return catalog.BMNGPanelSet(resolution)
}

func (s *ProcessStage) verifiedPaths(names []string) ([]string, error) {
	paths := make([]string, 0, len(names))
	for _, name := range names {
		path, err := s.verifiedPath(name)
		if err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func (s *ProcessStage) verifiedPath(name string) (string, error) {
	record, ok := s.store.GetAsset(name)
	if !ok || record.Status != manifest.AssetVerified {
		return "", services.Wrap(services.ErrValidation, Process, "resolve input",
			fmt.Sprintf("asset %s is not verified; run the acquire stage first", name), nil)
	}
	return record.LocalPath, nil
}

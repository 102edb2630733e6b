package stage

import (
	"context"
	"log/slog"
	"sort"

	"planetarble/internal/catalog"
	"planetarble/internal/config"
	"planetarble/internal/download"
	"planetarble/internal/fileutil"
	"planetarble/internal/logging"
	"planetarble/internal/manifest"
	"planetarble/internal/services"
	"planetarble/internal/services/aria2"
)

// AcquireStage downloads and verifies every source dataset. When the
// preferred Blue Marble panel set cannot be acquired it falls back to the
// 2km composite and records the substitution in the generation parameters.
type AcquireStage struct {
	cfg       config.Acquire
	catalog   *catalog.Catalog
	store     *manifest.Store
	downloads *download.Orchestrator
	logger    *slog.Logger
	force     bool
}

// NewAcquireStage wires the acquisition adapter. force re-fetches assets
// even when their verified files are still intact.
func NewAcquireStage(cfg config.Acquire, cat *catalog.Catalog, store *manifest.Store, downloads *download.Orchestrator, logger *slog.Logger, force bool) *AcquireStage {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &AcquireStage{
		cfg:       cfg,
		catalog:   cat,
		store:     store,
		downloads: downloads,
		logger:    logger,
		force:     force,
	}
}

func (s *AcquireStage) Name() string { return Acquire }

func (s *AcquireStage) Config() any { return s.cfg }

// Seed derives fingerprint inputs from the catalog itself: any change to an
// asset's identity or candidate list invalidates the acquire checkpoint.
func (s *AcquireStage) Seed() []manifest.Artifact {
	names := s.assetNames(s.cfg.BMNGResolution)
	artifacts := make([]manifest.Artifact, 0, len(names))
	for _, name := range names {
		desc, err := s.catalog.Describe(name)
		if err != nil {
			continue
		}
		artifacts = append(artifacts, manifest.Artifact{
			Path:   "catalog://" + name,
			SHA256: fileutil.HashBytes([]byte(desc.Digest())),
		})
	}
	return artifacts
}

func (s *AcquireStage) HealthCheck(ctx context.Context) Health {
	if aria2.NewClient(aria2.WithConnections(s.cfg.Aria2Connections)).Available() {
		return Healthy(Acquire)
	}
	if s.cfg.UseAria2 {
		health := Healthy(Acquire)
		health.Detail = "aria2c not found, builtin downloader will be used"
		return health
	}
	return Healthy(Acquire)
}

// Run acquires the Blue Marble set, the bathymetry grid, and the Natural
// Earth vectors, then snapshots the generation parameters. Returns the
// local paths of every verified asset, sorted.
func (s *AcquireStage) Run(ctx context.Context, _ []string) ([]string, error) {
	ctx = services.WithStage(ctx, Acquire)
	log := logging.WithContext(ctx, s.logger)

	resolutionUsed := s.cfg.BMNGResolution
	panels, err := s.describeAll(catalog.BMNGPanelSet(s.cfg.BMNGResolution))
	if err != nil {
		return nil, err
	}
	records, err := s.downloads.AcquireAll(ctx, panels, s.force)
	if err != nil {
		fallbackNames := catalog.BMNGFallbackSet(s.cfg.BMNGResolution)
		if len(fallbackNames) == 0 {
			return nil, err
		}
		log.Warn("preferred panel set unavailable, falling back to 2km composite", logging.Error(err))
		fallback, descErr := s.describeAll(fallbackNames)
		if descErr != nil {
			return nil, descErr
		}
		records, err = s.downloads.AcquireAll(ctx, fallback, s.force)
		if err != nil {
			return nil, err
		}
		resolutionUsed = "2km"
	}

	remaining, err := s.describeAll(append([]string{catalog.GEBCOAsset}, catalog.NaturalEarthSet()...))
	if err != nil {
		return nil, err
	}
	rest, err := s.downloads.AcquireAll(ctx, remaining, s.force)
	if err != nil {
		return nil, err
	}
	records = append(records, rest...)

	if err := s.store.SetGenerationParams(map[string]string{
		"bmng_resolution":           resolutionUsed,
		"bmng_resolution_requested": s.cfg.BMNGResolution,
		"gebco_asset":               catalog.GEBCOAsset,
	}); err != nil {
		return nil, err
	}

	outputs := make([]string, 0, len(records))
	for _, record := range records {
		outputs = append(outputs, record.LocalPath)
	}
	sort.Strings(outputs)
	return outputs, nil
}

func (s *AcquireStage) assetNames(resolution string) []string {
	names := catalog.BMNGPanelSet(resolution)
	names = append(names, catalog.BMNGFallbackSet(resolution)...)
	names = append(names, catalog.GEBCOAsset)
	names = append(names, catalog.NaturalEarthSet()...)
	sort.Strings(names)
	return names
}

func (s *AcquireStage) describeAll(names []string) ([]catalog.Descriptor, error) {
	descriptors := make([]catalog.Descriptor, 0, len(names))
	for _, name := range names {
		desc, err := s.catalog.Describe(name)
		if err != nil {
			return nil, err
		}
		descriptors = append(descriptors, desc)
	}
	return descriptors, nil
}

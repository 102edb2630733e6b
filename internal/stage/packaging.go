package stage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"planetarble/internal/config"
	"planetarble/internal/deps"
	"planetarble/internal/fileutil"
	"planetarble/internal/logging"
	"planetarble/internal/manifest"
	"planetarble/internal/services"
	"planetarble/internal/services/pmtiles"
)

// PackageStage converts the MBTiles archive into a PMTiles file and
// assembles the distribution directory: the archive itself, a TileJSON
// descriptor, and the combined license and attribution text.
type PackageStage struct {
	cfg    *config.Config
	store  *manifest.Store
	client *pmtiles.Client
	logger *slog.Logger
	dryRun bool
}

// NewPackageStage wires the packaging adapter.
func NewPackageStage(cfg *config.Config, store *manifest.Store, client *pmtiles.Client, logger *slog.Logger, dryRun bool) *PackageStage {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &PackageStage{
		cfg:    cfg,
		store:  store,
		client: client,
		logger: logger,
		dryRun: dryRun,
	}
}

func (s *PackageStage) Name() string { return Package }

func (s *PackageStage) Config() any { return s.cfg.Package }

func (s *PackageStage) Seed() []manifest.Artifact { return nil }

func (s *PackageStage) HealthCheck(ctx context.Context) Health {
	if err := deps.RequireForStage(Package); err != nil {
		return Unhealthy(Package, err.Error())
	}
	return Healthy(Package)
}

func (s *PackageStage) Run(ctx context.Context, _ []string) ([]string, error) {
	ctx = services.WithStage(ctx, Package)
	log := logging.WithContext(ctx, s.logger)

	archive := mbtilesPath(s.cfg.Paths.WorkDir)
	if !s.dryRun {
		if _, err := os.Stat(archive); err != nil {
			return nil, services.Wrap(services.ErrValidation, Package, "resolve input",
				"tile archive missing; run the tile stage first", err)
		}
		if err := os.MkdirAll(s.cfg.Paths.OutputDir, 0o755); err != nil {
			return nil, services.Wrap(services.ErrConfiguration, Package, "prepare output directory", s.cfg.Paths.OutputDir, err)
		}
	}

	pmtilesOut := filepath.Join(s.cfg.Paths.OutputDir, s.cfg.PMTilesName())
	if err := s.client.Convert(ctx, archive, pmtilesOut); err != nil {
		return nil, err
	}
	if err := s.client.Verify(ctx, pmtilesOut); err != nil {
		return nil, err
	}

	tileJSONPath := filepath.Join(s.cfg.Paths.OutputDir, "tilejson.json")
	licensePath := filepath.Join(s.cfg.Paths.OutputDir, "LICENSE_AND_CREDITS.txt")
	if s.dryRun {
		log.Info("dry-run", logging.String("would_write", tileJSONPath))
		log.Info("dry-run", logging.String("would_write", licensePath))
		return []string{pmtilesOut, tileJSONPath, licensePath}, nil
	}

	if err := s.writeTileJSON(tileJSONPath, filepath.Base(pmtilesOut)); err != nil {
		return nil, err
	}
	if err := s.writeCredits(licensePath); err != nil {
		return nil, err
	}
	log.Info("distribution assembled", logging.String("pmtiles", pmtilesOut))

	return []string{pmtilesOut, tileJSONPath, licensePath}, nil
}

type tileJSON struct {
	TileJSON    string    `json:"tilejson"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Attribution string    `json:"attribution,omitempty"`
	Version     string    `json:"version"`
	Format      string    `json:"format"`
	MinZoom     int       `json:"minzoom"`
	MaxZoom     int       `json:"maxzoom"`
	Bounds      []float64 `json:"bounds"`
	Center      []float64 `json:"center"`
	Tiles       []string  `json:"tiles"`
}

func (s *PackageStage) writeTileJSON(path, archiveName string) error {
	doc := tileJSON{
		TileJSON:    "3.0.0",
		Name:        s.cfg.Package.Name,
		Description: s.cfg.Package.Description,
		Attribution: s.cfg.Package.Attribution,
		Version:     "1.0.0",
		Format:      strings.ToLower(s.cfg.Tile.TileFormat),
		MinZoom:     0,
		MaxZoom:     s.cfg.Tile.MaxZoom,
		Bounds:      []float64{-180, -85.051129, 180, 85.051129},
		Center:      []float64{0, 0, float64(s.cfg.Tile.MaxZoom) / 2},
		Tiles:       []string{archiveName + "/{z}/{x}/{y}"},
	}
	payload, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return services.Wrap(services.ErrValidation, Package, "encode tilejson", path, err)
	}
	return fileutil.AtomicWriteFile(path, append(payload, '\n'), 0o644)
}

// writeCredits emits one section per acquired asset plus the generation
// parameter snapshot, so redistributed archives carry their upstream
// licensing.
func (s *PackageStage) writeCredits(path string) error {
	var b strings.Builder
	b.WriteString(s.cfg.Package.Name + "\n")
	b.WriteString(strings.Repeat("=", len(s.cfg.Package.Name)) + "\n\n")
	if s.cfg.Package.Description != "" {
		b.WriteString(s.cfg.Package.Description + "\n\n")
	}

	params := s.store.GenerationParams()
	if len(params) > 0 {
		b.WriteString("Generation parameters:\n")
		for _, key := range sortedKeys(params) {
			fmt.Fprintf(&b, "  %s: %s\n", key, params[key])
		}
		b.WriteString("\n")
	}

	b.WriteString("Data sources:\n\n")
	for _, record := range s.store.Assets() {
		if record.Status != manifest.AssetVerified {
			continue
		}
		fmt.Fprintf(&b, "%s\n", record.Name)
		if record.License != "" {
			fmt.Fprintf(&b, "  License: %s\n", record.License)
		}
		if record.Attribution != "" {
			fmt.Fprintf(&b, "  Attribution: %s\n", record.Attribution)
		}
		if record.ResolvedURL != "" {
			fmt.Fprintf(&b, "  Source: %s\n", record.ResolvedURL)
		}
		b.WriteString("\n")
	}
	return fileutil.AtomicWriteFile(path, []byte(b.String()), 0o644)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

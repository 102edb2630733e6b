package tiler

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"planetarble/internal/logging"
	"planetarble/internal/services"
)

// webMercatorExtent is the half-width of the EPSG:3857 square in meters.
const webMercatorExtent = "20037508.342789244"

// Runner drives the GDAL tiling commands: reprojection to Web Mercator,
// MBTiles generation, and overview pyramids.
type Runner struct {
	exec   services.Executor
	logger *slog.Logger
	dryRun bool
}

// Option configures a Runner.
type Option func(*Runner)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(executor services.Executor) Option {
	return func(r *Runner) {
		if executor != nil {
			r.exec = executor
		}
	}
}

// WithLogger attaches a logger for command output.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithDryRun switches the runner to print-only mode.
func WithDryRun(dryRun bool) Option {
	return func(r *Runner) {
		r.dryRun = dryRun
	}
}

// NewRunner constructs a runner with default executor and a nop logger.
func NewRunner(opts ...Option) *Runner {
	runner := &Runner{
		exec:   services.NewCommandExecutor(),
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(runner)
	}
	return runner
}

// Reproject warps src onto the full Web Mercator square, sized so the
// maximum zoom level maps one-to-one onto 256 pixel tiles. The output is a
// VRT so no intermediate raster is materialized.
func (r *Runner) Reproject(ctx context.Context, src, dst string, maxZoom int) error {
	if maxZoom < 0 {
		return services.Wrap(services.ErrValidation, "tile", "reproject", "max zoom must not be negative", nil)
	}
	side := strconv.Itoa(256 << maxZoom)
	return r.run(ctx, "gdalwarp", []string{
		"-t_srs", "EPSG:3857",
		"-te", "-" + webMercatorExtent, "-" + webMercatorExtent, webMercatorExtent, webMercatorExtent,
		"-ts", side, side,
		"-r", "bilinear",
		"-multi",
		"-wo", "NUM_THREADS=ALL_CPUS",
		"-of", "VRT",
		src, dst,
	})
}

// ToMBTiles renders the reprojected raster into an MBTiles archive using
// the Google Maps compatible tiling scheme.
func (r *Runner) ToMBTiles(ctx context.Context, src, dst, tileFormat string, quality, maxZoom int) error {
	args := []string{
		"-of", "MBTILES",
		"-co", "BLOCKSIZE=512",
		"-co", "TILING_SCHEME=GoogleMapsCompatible",
		"-co", "TILE_FORMAT=" + strings.ToUpper(tileFormat),
		"-co", "MINZOOM=0",
		"-co", fmt.Sprintf("MAXZOOM=%d", maxZoom),
		"-co", "ZOOM_LEVEL_STRATEGY=LOWER",
	}
	if strings.EqualFold(tileFormat, "jpeg") || strings.EqualFold(tileFormat, "webp") {
		args = append(args, "-co", fmt.Sprintf("QUALITY=%d", quality))
	}
	args = append(args, src, dst)
	return r.run(ctx, "gdal_translate", args)
}

// BuildOverviews adds the downsampled zoom levels to an MBTiles archive.
// GDAL writes only the maximum zoom level; each overview factor of two
// fills one coarser level down to zoom zero.
func (r *Runner) BuildOverviews(ctx context.Context, mbtilesPath, resampling string, maxZoom int) error {
	if maxZoom < 1 {
		return nil
	}
	args := []string{"-r", resampling, mbtilesPath}
	for level := 1; level <= maxZoom; level++ {
		args = append(args, strconv.Itoa(1<<level))
	}
	return r.run(ctx, "gdaladdo", args)
}

func (r *Runner) run(ctx context.Context, binary string, args []string) error {
	log := logging.WithContext(ctx, r.logger)
	if r.dryRun {
		log.Info("dry-run", logging.String("command", binary+" "+strings.Join(args, " ")))
		return nil
	}
	log.Debug("running", logging.String("command", binary+" "+strings.Join(args, " ")))
	return r.exec.Run(ctx, binary, args, func(line string) {
		log.Debug(line, logging.String("tool", binary))
	})
}

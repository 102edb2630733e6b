package gdal

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"planetarble/internal/logging"
	"planetarble/internal/services"
)

// Runner invokes the GDAL command-line suite. In dry-run mode every
// operation logs the exact command line it would execute and returns
// without touching the filesystem.
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

// BuildVRT assembles the listed rasters into a virtual mosaic.
func (r *Runner) BuildVRT(ctx context.Context, inputListPath, output string) error {
	return r.run(ctx, "gdalbuildvrt", []string{
		"-input_file_list", inputListPath,
		output,
	})
}

// Translate materializes src into dst with the given creation options.
func (r *Runner) Translate(ctx context.Context, src, dst string, creationOptions ...string) error {
	args := []string{src, dst}
	for _, co := range creationOptions {
		args = append(args, "-co", co)
	}
	return r.run(ctx, "gdal_translate", args)
}

// Enhance applies a gamma-style color boost while normalizing the raster to
// eight bits per band. enhancement > 1 brightens midtones.
func (r *Runner) Enhance(ctx context.Context, src, dst string, enhancement float64) error {
	if enhancement <= 0 {
		return services.Wrap(services.ErrValidation, "process", "enhance", "enhancement factor must be positive", nil)
	}
	args := []string{
		src, dst,
		"-ot", "Byte",
		"-scale", "0", "255", "0", "255",
		"-exponent", formatFloat(1 / enhancement),
		"-co", "COMPRESS=DEFLATE",
		"-co", "TILED=YES",
	}
	return r.run(ctx, "gdal_translate", args)
}

// Hillshade renders shaded relief from a bathymetry or elevation grid with
// the conventional northwest illumination.
func (r *Runner) Hillshade(ctx context.Context, dem, output string) error {
	return r.run(ctx, "gdaldem", []string{
		"hillshade",
		dem, output,
		"-az", "315",
		"-alt", "45",
		"-compute_edges",
		"-co", "COMPRESS=DEFLATE",
		"-co", "TILED=YES",
	})
}

// Blend overlays the hillshade onto the base imagery at the given opacity
// using gdal_calc.
func (r *Runner) Blend(ctx context.Context, base, overlay, output string, opacity float64) error {
	if opacity < 0 || opacity > 1 {
		return services.Wrap(services.ErrValidation, "process", "blend", "opacity must be within [0, 1]", nil)
	}
	expr := fmt.Sprintf("A*(1-%s)+B*%s", formatFloat(opacity), formatFloat(opacity))
	return r.run(ctx, "gdal_calc.py", []string{
		"-A", base,
		"-B", overlay,
		"--outfile=" + output,
		"--calc=" + expr,
		"--type=Byte",
		"--allBands=A",
		"--co=COMPRESS=DEFLATE",
		"--co=TILED=YES",
		"--quiet",
	})
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

func formatFloat(v float64) string {
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%f", v), "0"), ".")
}

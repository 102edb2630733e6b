package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"planetarble/internal/pipeline"
	"planetarble/internal/stage"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var dryRun bool
	var force string
	var target string
	var noAria2 bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the full pipeline (acquire, process, tile, package)",
		RunE: func(cmd *cobra.Command, args []string) error {
			orch, store, err := ctx.buildOrchestrator(buildOptions{dryRun: dryRun, noAria2: noAria2})
			if err != nil {
				return err
			}
			defer store.Close()

			results, err := orch.Run(cmd.Context(), pipeline.RunOptions{
				Target: target,
				Force:  force,
				DryRun: dryRun,
			})
			printResults(cmd, results, dryRun)
			return err
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Report the plan without executing anything")
	cmd.Flags().StringVar(&force, "force", "", "Re-execute the named stage and everything after it")
	cmd.Flags().StringVar(&target, "target", "", "Stop after the named stage")
	cmd.Flags().BoolVar(&noAria2, "no-aria2", false, "Use the builtin downloader even when aria2c is present")
	return cmd
}

func newAcquireCommand(ctx *commandContext) *cobra.Command {
	var force bool
	var dryRun bool
	var noAria2 bool

	cmd := &cobra.Command{
		Use:   "acquire",
		Short: "Download and verify the source datasets",
		RunE: func(cmd *cobra.Command, args []string) error {
			if dryRun {
				return printAcquirePlan(cmd, ctx)
			}
			return runStage(cmd, ctx, stage.Acquire, force, buildOptions{forceAssets: force, noAria2: noAria2})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Re-download assets even when verified copies exist")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "List the assets and candidate URLs without downloading")
	cmd.Flags().BoolVar(&noAria2, "no-aria2", false, "Use the builtin downloader even when aria2c is present")
	return cmd
}

func newProcessCommand(ctx *commandContext) *cobra.Command {
	var force bool
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "process",
		Short: "Build the blended global raster from the acquired assets",
		RunE: func(cmd *cobra.Command, args []string) error {
			if dryRun {
				return previewStage(cmd, ctx, stage.Process)
			}
			return runStage(cmd, ctx, stage.Process, force, buildOptions{})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Re-execute even when the checkpoint is current")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the commands that would run")
	return cmd
}

func newTileCommand(ctx *commandContext) *cobra.Command {
	var force bool
	var dryRun bool
	var maxZoom int
	var tileFormat string
	var quality int

	cmd := &cobra.Command{
		Use:   "tile",
		Short: "Render the tile pyramid into an MBTiles archive",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("max-zoom") {
				cfg.Tile.MaxZoom = maxZoom
			}
			if cmd.Flags().Changed("tile-format") {
				cfg.Tile.TileFormat = tileFormat
			}
			if cmd.Flags().Changed("quality") {
				cfg.Tile.TileQuality = quality
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if dryRun {
				return previewStage(cmd, ctx, stage.Tile)
			}
			return runStage(cmd, ctx, stage.Tile, force, buildOptions{})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Re-execute even when the checkpoint is current")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the commands that would run")
	cmd.Flags().IntVar(&maxZoom, "max-zoom", 0, "Override the configured maximum zoom level")
	cmd.Flags().StringVar(&tileFormat, "tile-format", "", "Override the configured tile format (jpeg, png, webp)")
	cmd.Flags().IntVar(&quality, "quality", 0, "Override the configured lossy tile quality")
	return cmd
}

func newPackageCommand(ctx *commandContext) *cobra.Command {
	var force bool
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "package",
		Short: "Convert to PMTiles and assemble the distribution directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			if dryRun {
				return previewStage(cmd, ctx, stage.Package)
			}
			return runStage(cmd, ctx, stage.Package, force, buildOptions{})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Re-execute even when the checkpoint is current")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the commands that would run")
	return cmd
}

// runStage drives the pipeline up to the named stage, forcing only that
// stage when requested. Upstream stages run (or skip) normally.
func runStage(cmd *cobra.Command, ctx *commandContext, name string, force bool, opts buildOptions) error {
	orch, store, err := ctx.buildOrchestrator(opts)
	if err != nil {
		return err
	}
	defer store.Close()

	runOpts := pipeline.RunOptions{Target: name}
	if force {
		runOpts.Force = name
	}
	results, err := orch.Run(cmd.Context(), runOpts)
	printResults(cmd, results, false)
	return err
}

// previewStage prints the checkpoint plan, then drives the target adapter
// in dry-run mode so the exact command lines appear in the log.
func previewStage(cmd *cobra.Command, ctx *commandContext, name string) error {
	orch, store, err := ctx.buildOrchestrator(buildOptions{dryRun: true})
	if err != nil {
		return err
	}
	defer store.Close()

	results, err := orch.Run(cmd.Context(), pipeline.RunOptions{Target: name, DryRun: true})
	printResults(cmd, results, true)
	if err != nil {
		return err
	}
	for _, result := range results {
		if result.Stage != name || result.Action != pipeline.ActionWouldExecute {
			continue
		}
		if previewErr := orch.Preview(cmd.Context(), name); previewErr != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "cannot preview commands: %v\n", previewErr)
		}
	}
	return nil
}

func printAcquirePlan(cmd *cobra.Command, ctx *commandContext) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}
	cat, err := loadCatalog()
	if err != nil {
		return err
	}

	rows := make([][]string, 0, 16)
	for _, name := range plannedAssetNames(cfg.Acquire.BMNGResolution) {
		desc, err := cat.Describe(name)
		if err != nil {
			return err
		}
		candidates := make([]string, 0, len(desc.Sources))
		for _, src := range desc.Sources {
			candidates = append(candidates, src.URL)
		}
		rows = append(rows, []string{name, desc.LocalPath(cfg.Paths.DataDir), strings.Join(candidates, "\n")})
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderTable([]column{
		{title: "Asset"},
		{title: "Destination"},
		{title: "Candidates"},
	}, rows))
	return nil
}

func printResults(cmd *cobra.Command, results []pipeline.Result, plan bool) {
	if len(results) == 0 {
		return
	}
	header := "Action"
	if plan {
		header = "Plan"
	}
	rows := make([][]string, 0, len(results))
	for _, result := range results {
		rows = append(rows, []string{result.Stage, string(result.Action), result.Detail})
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderTable([]column{
		{title: "Stage"},
		{title: header},
		{title: "Detail"},
	}, rows))
}

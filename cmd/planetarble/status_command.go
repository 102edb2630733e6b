package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"planetarble/internal/deps"
	"planetarble/internal/manifest"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show acquired assets, stage checkpoints, and tool availability",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := ctx.openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			out := cmd.OutOrStdout()

			assets := store.Assets()
			if len(assets) == 0 {
				fmt.Fprintln(out, "No assets acquired yet.")
			} else {
				rows := make([][]string, 0, len(assets))
				for _, record := range assets {
					rows = append(rows, []string{
						record.Name,
						string(record.Status),
						humanize.Bytes(uint64(record.SizeBytes)),
						shorten(record.SHA256),
						downloadedAt(record),
					})
				}
				fmt.Fprintln(out, renderTable([]column{
					{title: "Asset"},
					{title: "Status"},
					{title: "Size", numeric: true},
					{title: "SHA-256"},
					{title: "Downloaded"},
				}, rows))
			}

			checkpoints := store.Checkpoints()
			if len(checkpoints) == 0 {
				fmt.Fprintln(out, "No stages have run yet.")
			} else {
				rows := make([][]string, 0, len(checkpoints))
				for _, cp := range checkpoints {
					completed := ""
					if cp.CompletedAt != nil {
						completed = humanize.Time(*cp.CompletedAt)
					}
					rows = append(rows, []string{
						cp.StageName,
						string(cp.Status),
						shorten(cp.InputFingerprint),
						fmt.Sprintf("%d", len(cp.OutputArtifacts)),
						completed,
					})
				}
				fmt.Fprintln(out, renderTable([]column{
					{title: "Stage"},
					{title: "Status"},
					{title: "Fingerprint"},
					{title: "Artifacts", numeric: true},
					{title: "Completed"},
				}, rows))
			}

			toolRows := make([][]string, 0, 8)
			for _, status := range deps.CheckBinaries(deps.Defaults()) {
				state := "ok"
				if !status.Available {
					state = "missing"
					if status.Optional {
						state = "missing (optional)"
					}
				}
				toolRows = append(toolRows, []string{status.Command, state, status.Description})
			}
			fmt.Fprintln(out, renderTable([]column{
				{title: "Tool"},
				{title: "State"},
				{title: "Used for"},
			}, toolRows))

			pmtilesPath := filepath.Join(cfg.Paths.OutputDir, cfg.PMTilesName())
			if info, err := os.Stat(pmtilesPath); err == nil {
				fmt.Fprintf(out, "Output: %s (%s)\n", pmtilesPath, humanize.Bytes(uint64(info.Size())))
			} else {
				fmt.Fprintf(out, "Output: %s (not built)\n", pmtilesPath)
			}
			return nil
		},
	}
}

func shorten(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}

func downloadedAt(record manifest.AssetRecord) string {
	if record.DownloadedAt.IsZero() {
		return ""
	}
	return humanize.Time(record.DownloadedAt)
}

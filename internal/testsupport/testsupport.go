package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"planetarble/internal/config"
	"planetarble/internal/manifest"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.WorkDir = filepath.Join(base, "work")
	cfgVal.Paths.OutputDir = filepath.Join(base, "output")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}
	for _, opt := range opts {
		opt(builder)
	}

	for _, dir := range []string{cfgVal.Paths.DataDir, cfgVal.Paths.WorkDir, cfgVal.Paths.OutputDir, cfgVal.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", dir, err)
		}
	}
	return builder.cfg
}

// WithMaxZoom overrides the tile pyramid depth on the test config.
func WithMaxZoom(zoom int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Tile.MaxZoom = zoom
	}
}

// WithStageRetries overrides the per-stage retry budget.
func WithStageRetries(retries int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Pipeline.StageRetries = retries
	}
}

// WithStubbedBinaries writes stub executables for the provided names and
// prepends them to PATH. With no names, the full external tool set is
// stubbed.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(b *configBuilder) {
		if len(names) == 0 {
			names = []string{"gdalbuildvrt", "gdal_translate", "gdaldem", "gdal_calc.py", "gdalwarp", "gdaladdo", "pmtiles", "aria2c"}
		}
		binDir := filepath.Join(b.baseDir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("mkdir bin dir: %v", err)
		}
		script := []byte("#!/bin/sh\nexit 0\n")
		for _, name := range names {
			target := filepath.Join(binDir, name)
			if err := os.WriteFile(target, script, 0o755); err != nil {
				b.t.Fatalf("write stub %s: %v", name, err)
			}
		}
		prependPath(b.t, binDir)
	}
}

// OpenStore opens a manifest store rooted at the config's output directory.
func OpenStore(t testing.TB, cfg *config.Config) *manifest.Store {
	t.Helper()
	store, err := manifest.Open(cfg.ManifestPath(), cfg.CheckpointsPath())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func prependPath(t testing.TB, dir string) {
	t.Helper()
	current := os.Getenv("PATH")
	value := dir
	if current != "" {
		value = dir + string(os.PathListSeparator) + current
	}
	t.Setenv("PATH", value)
}

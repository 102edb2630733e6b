package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	DataDir   string `toml:"data_dir"`
	WorkDir   string `toml:"work_dir"`
	OutputDir string `toml:"output_dir"`
	LogDir    string `toml:"log_dir"`
}

// Acquire contains configuration for source dataset acquisition.
type Acquire struct {
	BMNGResolution        string `toml:"bmng_resolution"`
	DownloadWorkers       int    `toml:"download_workers"`
	RetryAttempts         int    `toml:"retry_attempts"`
	RetryBaseDelaySeconds int    `toml:"retry_base_delay_seconds"`
	TimeoutSeconds        int    `toml:"timeout_seconds"`
	UseAria2              bool   `toml:"use_aria2"`
	Aria2Connections      int    `toml:"aria2_connections"`
}

// Process contains the enumerated raster processing options.
type Process struct {
	GebcoYear        int     `toml:"gebco_year"`
	ColorEnhancement float64 `toml:"color_enhancement"`
	HillshadeOpacity float64 `toml:"hillshade_opacity"`
}

// Tile contains the enumerated tiling options.
type Tile struct {
	MaxZoom     int    `toml:"max_zoom"`
	TileFormat  string `toml:"tile_format"`
	TileQuality int    `toml:"tile_quality"`
	Resampling  string `toml:"resampling"`
}

// Package contains configuration for the PMTiles distribution.
type Package struct {
	Name        string `toml:"name"`
	Description string `toml:"description"`
	Attribution string `toml:"attribution"`
}

// Pipeline contains orchestration tuning knobs.
type Pipeline struct {
	StageRetries int `toml:"stage_retries"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for Planetarble.
//
// Configuration sections by subsystem:
//   - Paths: data, work, output, and log directories
//   - Acquire: download workers, retry policy, external downloader
//   - Process: raster normalization and hillshade options
//   - Tile: zoom range and tile encoding options
//   - Package: PMTiles distribution metadata
//   - Pipeline: stage retry budget
//   - Logging: log format and level
type Config struct {
	Paths    Paths    `toml:"paths"`
	Acquire  Acquire  `toml:"acquire"`
	Process  Process  `toml:"process"`
	Tile     Tile     `toml:"tile"`
	Package  Package  `toml:"package"`
	Pipeline Pipeline `toml:"pipeline"`
	Logging  Logging  `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/planetarble/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized. Unknown keys are
// rejected so typos never silently change pipeline fingerprints.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			var strict *toml.StrictMissingError
			if errors.As(err, &strict) {
				return nil, "", false, fmt.Errorf("parse config: unknown keys:\n%s", strict.String())
			}
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("planetarble.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the directories the pipeline writes into.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.WorkDir, c.Paths.OutputDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// ManifestPath returns the location of the acquisition manifest.
func (c *Config) ManifestPath() string {
	return filepath.Join(c.Paths.OutputDir, "MANIFEST.json")
}

// CheckpointsPath returns the location of the stage checkpoint file.
func (c *Config) CheckpointsPath() string {
	return filepath.Join(c.Paths.OutputDir, "CHECKPOINTS.json")
}

// PMTilesName returns the configured archive filename, deriving
// planet_<year>_<maxzoom>z.pmtiles when unset.
func (c *Config) PMTilesName() string {
	if name := strings.TrimSpace(c.Package.Name); name != "" {
		return name
	}
	return fmt.Sprintf("planet_%d_%dz.pmtiles", c.Process.GebcoYear, c.Tile.MaxZoom)
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

package config

import (
	"errors"
	"fmt"
)

var validResamplings = map[string]struct{}{
	"nearest":     {},
	"average":     {},
	"gauss":       {},
	"cubic":       {},
	"cubicspline": {},
	"lanczos":     {},
	"mode":        {},
}

var validTileFormats = map[string]struct{}{
	"PNG":  {},
	"JPEG": {},
	"WEBP": {},
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateAcquire(); err != nil {
		return err
	}
	if err := c.validateProcess(); err != nil {
		return err
	}
	if err := c.validateTile(); err != nil {
		return err
	}
	if err := c.validatePipeline(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateAcquire() error {
	switch c.Acquire.BMNGResolution {
	case "500m", "2km":
	default:
		return fmt.Errorf("acquire.bmng_resolution must be 500m or 2km, got %q", c.Acquire.BMNGResolution)
	}
	if c.Acquire.DownloadWorkers > 16 {
		return errors.New("acquire.download_workers must not exceed 16")
	}
	if c.Acquire.RetryAttempts > 9 {
		return errors.New("acquire.retry_attempts must be a small single-digit count")
	}
	return nil
}

func (c *Config) validateProcess() error {
	if c.Process.GebcoYear < 2014 {
		return fmt.Errorf("process.gebco_year %d predates the published GEBCO grids", c.Process.GebcoYear)
	}
	if c.Process.ColorEnhancement <= 0 {
		return errors.New("process.color_enhancement must be positive")
	}
	if c.Process.HillshadeOpacity < 0 || c.Process.HillshadeOpacity > 1 {
		return errors.New("process.hillshade_opacity must be between 0 and 1")
	}
	return nil
}

func (c *Config) validateTile() error {
	if c.Tile.MaxZoom < 0 || c.Tile.MaxZoom > 12 {
		return errors.New("tile.max_zoom must be between 0 and 12")
	}
	if _, ok := validTileFormats[c.Tile.TileFormat]; !ok {
		return fmt.Errorf("tile.tile_format must be PNG, JPEG, or WEBP, got %q", c.Tile.TileFormat)
	}
	if c.Tile.TileQuality < 1 || c.Tile.TileQuality > 100 {
		return errors.New("tile.tile_quality must be between 1 and 100")
	}
	if _, ok := validResamplings[c.Tile.Resampling]; !ok {
		return fmt.Errorf("tile.resampling %q is not a recognized gdal kernel", c.Tile.Resampling)
	}
	return nil
}

func (c *Config) validatePipeline() error {
	if c.Pipeline.StageRetries < 0 || c.Pipeline.StageRetries > 5 {
		return errors.New("pipeline.stage_retries must be between 0 and 5")
	}
	return nil
}

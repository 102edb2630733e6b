package config

import (
	"fmt"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeAcquire()
	c.normalizeTile()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if c.Paths.WorkDir, err = expandPath(c.Paths.WorkDir); err != nil {
		return fmt.Errorf("paths.work_dir: %w", err)
	}
	if c.Paths.OutputDir, err = expandPath(c.Paths.OutputDir); err != nil {
		return fmt.Errorf("paths.output_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeAcquire() {
	c.Acquire.BMNGResolution = strings.ToLower(strings.TrimSpace(c.Acquire.BMNGResolution))
	if c.Acquire.BMNGResolution == "" {
		c.Acquire.BMNGResolution = defaultBMNGResolution
	}
	if c.Acquire.DownloadWorkers <= 0 {
		c.Acquire.DownloadWorkers = defaultWorkers
	}
	if c.Acquire.RetryAttempts <= 0 {
		c.Acquire.RetryAttempts = defaultRetryAttempts
	}
	if c.Acquire.RetryBaseDelaySeconds <= 0 {
		c.Acquire.RetryBaseDelaySeconds = defaultRetryBaseDelay
	}
	if c.Acquire.TimeoutSeconds <= 0 {
		c.Acquire.TimeoutSeconds = defaultTimeoutSeconds
	}
	if c.Acquire.Aria2Connections <= 0 {
		c.Acquire.Aria2Connections = defaultAria2Conns
	}
}

func (c *Config) normalizeTile() {
	c.Tile.TileFormat = strings.ToUpper(strings.TrimSpace(c.Tile.TileFormat))
	if c.Tile.TileFormat == "" {
		c.Tile.TileFormat = defaultTileFormat
	}
	c.Tile.Resampling = strings.ToLower(strings.TrimSpace(c.Tile.Resampling))
	if c.Tile.Resampling == "" {
		c.Tile.Resampling = defaultResampling
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

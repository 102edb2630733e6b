package config

const (
	defaultDataDir        = "~/.local/share/planetarble/data"
	defaultWorkDir        = "~/.local/share/planetarble/tmp"
	defaultOutputDir      = "~/.local/share/planetarble/output"
	defaultLogDir         = "~/.local/share/planetarble/logs"
	defaultBMNGResolution = "500m"
	defaultWorkers        = 3
	defaultRetryAttempts  = 3
	defaultRetryBaseDelay = 2
	defaultTimeoutSeconds = 120
	defaultAria2Conns     = 8
	defaultGebcoYear      = 2024
	defaultColorEnhance   = 1.05
	defaultHillshade      = 0.15
	defaultMaxZoom        = 8
	defaultTileFormat     = "JPEG"
	defaultTileQuality    = 95
	defaultResampling     = "cubic"
	defaultStageRetries   = 2
	defaultLogFormat      = "console"
	defaultLogLevel       = "info"
	defaultDescription    = "Global satellite basemap assembled from open data"
	defaultAttribution    = "NASA Blue Marble, GEBCO, Natural Earth"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:   defaultDataDir,
			WorkDir:   defaultWorkDir,
			OutputDir: defaultOutputDir,
			LogDir:    defaultLogDir,
		},
		Acquire: Acquire{
			BMNGResolution:        defaultBMNGResolution,
			DownloadWorkers:       defaultWorkers,
			RetryAttempts:         defaultRetryAttempts,
			RetryBaseDelaySeconds: defaultRetryBaseDelay,
			TimeoutSeconds:        defaultTimeoutSeconds,
			UseAria2:              true,
			Aria2Connections:      defaultAria2Conns,
		},
		Process: Process{
			GebcoYear:        defaultGebcoYear,
			ColorEnhancement: defaultColorEnhance,
			HillshadeOpacity: defaultHillshade,
		},
		Tile: Tile{
			MaxZoom:     defaultMaxZoom,
			TileFormat:  defaultTileFormat,
			TileQuality: defaultTileQuality,
			Resampling:  defaultResampling,
		},
		Package: Package{
			Description: defaultDescription,
			Attribution: defaultAttribution,
		},
		Pipeline: Pipeline{
			StageRetries: defaultStageRetries,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}

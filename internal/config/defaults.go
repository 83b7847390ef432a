package config

const (
	defaultMinifyBinary         = "minify"
	defaultJpegoptimBinary      = "jpegoptim"
	defaultPngquantBinary       = "pngquant"
	defaultJPEGMaxQuality       = 90
	defaultPNGQuality           = "90"
	defaultWorkerTimeoutSeconds = 300
	defaultKillGraceSeconds     = 5
	defaultMaxBatchFiles        = 64
	defaultStaleWorkspaceHours  = 24
	defaultCompressionLevel     = 9
	defaultHistoryPath          = "~/.local/share/epubopt/history.db"
	defaultLogFormat            = "console"
	defaultLogLevel             = "warn"
)

// Default returns a Config populated with repository defaults. An empty
// temp root resolves to the system temp directory during normalization.
func Default() Config {
	return Config{
		Optimizers: Optimizers{
			MinifyBinary:    defaultMinifyBinary,
			JpegoptimBinary: defaultJpegoptimBinary,
			PngquantBinary:  defaultPngquantBinary,
			JPEGMaxQuality:  defaultJPEGMaxQuality,
			PNGQuality:      defaultPNGQuality,
		},
		Workflow: Workflow{
			WorkerTimeoutSeconds: defaultWorkerTimeoutSeconds,
			KillGraceSeconds:     defaultKillGraceSeconds,
			MaxBatchFiles:        defaultMaxBatchFiles,
			RegressionGuard:      true,
			StaleWorkspaceHours:  defaultStaleWorkspaceHours,
		},
		Archive: Archive{
			CompressionLevel: defaultCompressionLevel,
			Verify:           true,
		},
		History: History{
			Enabled: true,
			Path:    defaultHistoryPath,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}

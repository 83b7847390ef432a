package config

import (
	"fmt"
	"os"
	"slices"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeOptimizers()
	if err := c.normalizeHistory(); err != nil {
		return err
	}
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	if value, ok := os.LookupEnv("EPUBOPT_TEMP_ROOT"); ok && strings.TrimSpace(value) != "" {
		c.Paths.TempRoot = value
	}
	if strings.TrimSpace(c.Paths.TempRoot) == "" {
		c.Paths.TempRoot = os.TempDir()
	}
	var err error
	if c.Paths.TempRoot, err = expandPath(strings.TrimSpace(c.Paths.TempRoot)); err != nil {
		return fmt.Errorf("paths.temp_root: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(strings.TrimSpace(c.Paths.LogDir)); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeOptimizers() {
	c.Optimizers.MinifyBinary = strings.TrimSpace(c.Optimizers.MinifyBinary)
	if c.Optimizers.MinifyBinary == "" {
		c.Optimizers.MinifyBinary = defaultMinifyBinary
	}
	c.Optimizers.JpegoptimBinary = strings.TrimSpace(c.Optimizers.JpegoptimBinary)
	if c.Optimizers.JpegoptimBinary == "" {
		c.Optimizers.JpegoptimBinary = defaultJpegoptimBinary
	}
	c.Optimizers.PngquantBinary = strings.TrimSpace(c.Optimizers.PngquantBinary)
	if c.Optimizers.PngquantBinary == "" {
		c.Optimizers.PngquantBinary = defaultPngquantBinary
	}
	c.Optimizers.PNGQuality = strings.TrimSpace(c.Optimizers.PNGQuality)
	if c.Optimizers.PNGQuality == "" {
		c.Optimizers.PNGQuality = defaultPNGQuality
	}

	classes := make([]string, 0, len(c.Optimizers.DisabledClasses))
	for _, class := range c.Optimizers.DisabledClasses {
		class = strings.ToLower(strings.TrimSpace(class))
		if class == "" || slices.Contains(classes, class) {
			continue
		}
		classes = append(classes, class)
	}
	c.Optimizers.DisabledClasses = classes
}

func (c *Config) normalizeHistory() error {
	c.History.Path = strings.TrimSpace(c.History.Path)
	if c.History.Path == "" {
		c.History.Path = defaultHistoryPath
	}
	var err error
	if c.History.Path, err = expandPath(c.History.Path); err != nil {
		return fmt.Errorf("history.path: %w", err)
	}
	return nil
}

func (c *Config) normalizeLogging() {
	if value, ok := os.LookupEnv("EPUBOPT_LOG_LEVEL"); ok && strings.TrimSpace(value) != "" {
		c.Logging.Level = value
	}
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// KnownClasses lists the resource class names accepted by optimizers.disabled_classes.
var KnownClasses = []string{"markup", "html", "stylesheet", "jpeg", "png"}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateOptimizers(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateArchive(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateOptimizers() error {
	if c.Optimizers.JPEGMaxQuality < 0 || c.Optimizers.JPEGMaxQuality > 100 {
		return errors.New("optimizers.jpeg_max_quality must be between 0 and 100")
	}
	if err := validatePNGQuality(c.Optimizers.PNGQuality); err != nil {
		return err
	}
	for _, class := range c.Optimizers.DisabledClasses {
		known := false
		for _, candidate := range KnownClasses {
			if class == candidate {
				known = true
				break
			}
		}
		if !known {
			return fmt.Errorf("optimizers.disabled_classes: unknown class %q (valid: %s)", class, strings.Join(KnownClasses, ", "))
		}
	}
	return nil
}

// validatePNGQuality accepts pngquant's "N" or "MIN-MAX" quality syntax.
func validatePNGQuality(value string) error {
	parts := strings.SplitN(value, "-", 2)
	for _, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 || n > 100 {
			return fmt.Errorf("optimizers.png_quality %q must be N or MIN-MAX with values 0-100", value)
		}
	}
	if len(parts) == 2 {
		lo, _ := strconv.Atoi(parts[0])
		hi, _ := strconv.Atoi(parts[1])
		if lo > hi {
			return fmt.Errorf("optimizers.png_quality %q has min above max", value)
		}
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if c.Workflow.WorkerTimeoutSeconds <= 0 {
		return errors.New("workflow.worker_timeout_seconds must be positive")
	}
	if c.Workflow.KillGraceSeconds <= 0 {
		return errors.New("workflow.kill_grace_seconds must be positive")
	}
	if c.Workflow.MaxBatchFiles <= 0 {
		return errors.New("workflow.max_batch_files must be positive")
	}
	if c.Workflow.StaleWorkspaceHours < 0 {
		return errors.New("workflow.stale_workspace_hours must be non-negative")
	}
	return nil
}

func (c *Config) validateArchive() error {
	if c.Archive.CompressionLevel < 1 || c.Archive.CompressionLevel > 9 {
		return errors.New("archive.compression_level must be between 1 and 9")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format %q must be console or json", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q must be debug, info, warn, or error", c.Logging.Level)
	}
	return nil
}

// Package config loads, normalizes, and validates epubopt configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment overrides such as
// EPUBOPT_TEMP_ROOT and EPUBOPT_LOG_LEVEL. The Config type centralizes every
// knob the pipeline and CLI need so optimizer binaries, timeouts, and archive
// settings are discovered in one pass.
package config

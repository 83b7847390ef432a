// Package services defines shared utilities consumed by the pipeline stages.
//
// Key responsibilities:
//   - Context helpers that stamp archive paths, stage names, resource classes,
//     and run identifiers for logging.
//   - Structured error markers plus the Wrap helper so callers can classify
//     failures (corrupt input, unsafe entries, optimizer faults, write
//     failures) with errors.Is regardless of how deeply they were wrapped.
//
// Use these helpers when wiring new stage logic so error handling and
// observability stay uniform across the pipeline.
package services

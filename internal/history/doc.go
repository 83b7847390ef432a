// Package history persists a ledger of finished archive rewrites in SQLite.
//
// Each run of the pipeline records its outcome, sizes, and failed optimizer
// classes so `epubopt history` can report recent activity and cumulative
// savings. The schema is embedded and versioned; a database written by a
// different schema version is rejected rather than migrated.
package history

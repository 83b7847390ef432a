// Package preflight checks the filesystem locations epubopt writes to before
// any archive is touched.
//
// `epubopt check` prints these results next to optimizer availability. Each
// check is gated by its config toggle; disabled features are skipped.
package preflight

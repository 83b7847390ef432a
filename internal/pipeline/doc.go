// Package pipeline rewrites one EPUB archive end to end.
//
// A run acquires a private workspace, extracts the archive into it, hands the
// classified resources to the optimizer dispatcher, repacks the tree into a
// temporary sibling of the original, and renames that over the original. The
// workspace is released on every exit path and the original is only ever
// replaced by that final rename.
//
// Every run moves through a fixed sequence of states (see State). Fatal
// errors move the run to StateFailed; optimizer failures limited to some
// resource classes do not, and are returned alongside a complete Result.
package pipeline

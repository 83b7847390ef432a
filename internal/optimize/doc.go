// Package optimize runs the external optimizers over classified resources.
//
// The Dispatcher starts one goroutine per non-empty bucket and joins them
// before returning. Each job owns its bucket's files exclusively, invokes its
// optimizer in batches under a per-job timeout, and records pre/post sizes.
// With the regression guard enabled, every file is backed up to the scratch
// directory first and restored when the optimizer made it larger, deleted it,
// or failed mid-batch. A failed job never stops the others; failures are
// collected into a PartialError.
package optimize

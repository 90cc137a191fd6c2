// Package operation is the Master Operation Processor.
//
// Operations are registered through AddOperation (always serializes on
// exclusivity collision) or SubmitOperation (rejects a fresh client
// request on exclusivity collision with ErrOperationInProgress). The
// processor runs a single scheduling goroutine that dispatches every
// operation with no outstanding blockedBy edges onto a worker-goroutine
// pool bounded by the configured concurrency, retiring each on
// completion and persisting durable state transitions through a
// pkg/metalog.Writer.
package operation

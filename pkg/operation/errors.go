package operation

import "errors"

// ErrOperationInProgress is returned by SubmitOperation when a client
// request collides with an already-live exclusivity label. It is
// caller-visible and must not be logged as an error.
var ErrOperationInProgress = errors.New("MASTER_OPERATION_IN_PROGRESS")

// ErrInducedFailure is a test-only sentinel that aborts the processor
// cleanly and closes the metalog.
var ErrInducedFailure = errors.New("induced failure")

// ErrShutdown is returned by SubmitOperation/AddOperation once the
// processor has begun shutting down.
var ErrShutdown = errors.New("operation processor is shutting down")

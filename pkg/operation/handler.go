package operation

import (
	"context"

	"github.com/hyperrange/rangemaster/pkg/types"
)

// Handler implements the behavior of one operation type. The processor
// dispatches to a Handler by matching on an operation's Type tag rather
// than through runtime polymorphism over a class hierarchy.
//
// Execute runs one step of the operation's state machine. It must be
// idempotent with respect to retries: on a transient error it should return
// the error without mutating op.State, so the processor's retry-after-delay
// policy re-enters Execute from the same state. To finish, Execute sets
// op.State = types.StateComplete (optionally with op.ErrorCode/op.ErrorMsg
// set) before returning nil.
type Handler interface {
	Execute(ctx context.Context, proc *Processor, op *types.Operation) error
}

// HandlerFunc adapts a function to a Handler.
type HandlerFunc func(ctx context.Context, proc *Processor, op *types.Operation) error

func (f HandlerFunc) Execute(ctx context.Context, proc *Processor, op *types.Operation) error {
	return f(ctx, proc, op)
}

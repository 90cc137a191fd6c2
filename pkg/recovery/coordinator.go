package recovery

import "context"

// Phase names the three sequential steps of a server recovery.
type Phase string

const (
	PhaseReplayFragments Phase = "replay-fragments"
	PhasePhantomPrepare  Phase = "phantom-prepare"
	PhasePhantomCommit   Phase = "phantom-commit"
)

var phaseOrder = []Phase{PhaseReplayFragments, PhasePhantomPrepare, PhasePhantomCommit}

// Coordinator drives the three-phase recovery of a failed server's ranges
// for one Recover operation, waiting on a fresh StepFuture per phase before
// advancing to the next.
type Coordinator struct {
	OperationID int64
	Generation  uint64
	Expected    []string

	futures map[Phase]*StepFuture
}

// NewCoordinator creates a coordinator for a Recover operation.
func NewCoordinator(operationID int64, generation uint64, expected []string) *Coordinator {
	return &Coordinator{
		OperationID: operationID,
		Generation:  generation,
		Expected:    expected,
		futures:     make(map[Phase]*StepFuture),
	}
}

// BeginPhase creates (or returns the existing) future for phase, for
// handlers dispatching RPCs to every expected server.
func (c *Coordinator) BeginPhase(phase Phase) *StepFuture {
	if f, ok := c.futures[phase]; ok {
		return f
	}
	f := NewStepFuture(c.Generation, c.Expected)
	c.futures[phase] = f
	return f
}

// WaitPhase blocks until phase completes (every expected server reported)
// or ctx is done.
func (c *Coordinator) WaitPhase(ctx context.Context, phase Phase) error {
	f, ok := c.futures[phase]
	if !ok {
		f = c.BeginPhase(phase)
	}
	return f.Wait(ctx)
}

// PhaseFailed reports whether any server failed the given phase.
func (c *Coordinator) PhaseFailed(phase Phase) bool {
	f, ok := c.futures[phase]
	return ok && f.Failed()
}

// NextPhase returns the phase following the given one, or "" if phase is
// the last (phantom-commit).
func NextPhase(phase Phase) Phase {
	for i, p := range phaseOrder {
		if p == phase && i+1 < len(phaseOrder) {
			return phaseOrder[i+1]
		}
	}
	return ""
}

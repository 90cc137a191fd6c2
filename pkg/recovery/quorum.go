package recovery

import "fmt"

// ErrQuorumNotMet is the error CheckQuorum returns when too few servers
// are connected to safely promote a Recover operation.
type ErrQuorumNotMet struct {
	Available int
	Required  int
}

func (e *ErrQuorumNotMet) Error() string {
	return fmt.Sprintf("RangeServer recovery blocked (%d servers available, quorum of %d is required)",
		e.Available, e.Required)
}

// CheckQuorum implements the live-quorum predicate gating recovery: of the
// registered servers, at least quorumPct percent must be connected before
// a Recover operation may be promoted onto the processor.
func CheckQuorum(registered, connected int, quorumPct float64) error {
	required := int(quorumPct*float64(registered) + 0.9999999)
	if connected < required {
		return &ErrQuorumNotMet{Available: connected, Required: required}
	}
	return nil
}

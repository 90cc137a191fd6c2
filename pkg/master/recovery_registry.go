package master

import (
	"sync"

	"github.com/hyperrange/rangemaster/pkg/recovery"
)

// RecoveryRegistry tracks the in-flight recovery.Coordinator for each
// Recover operation, so the phase-completion RPCs (ReplayComplete,
// PhantomPrepareComplete, PhantomCommitComplete) arriving through pkg/api
// can find the coordinator their Recover handler goroutine is blocked on.
type RecoveryRegistry struct {
	mu     sync.Mutex
	active map[int64]*recovery.Coordinator
}

// NewRecoveryRegistry returns an empty registry.
func NewRecoveryRegistry() *RecoveryRegistry {
	return &RecoveryRegistry{active: make(map[int64]*recovery.Coordinator)}
}

// BeginRecovery creates and registers a coordinator for operationID.
func (r *RecoveryRegistry) BeginRecovery(operationID int64, generation uint64, expected []string) *recovery.Coordinator {
	coord := recovery.NewCoordinator(operationID, generation, expected)
	r.mu.Lock()
	r.active[operationID] = coord
	r.mu.Unlock()
	return coord
}

// Get returns the coordinator for operationID, if one is registered.
func (r *RecoveryRegistry) Get(operationID int64) (*recovery.Coordinator, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	coord, ok := r.active[operationID]
	return coord, ok
}

// End removes operationID's coordinator once its Recover operation has
// retired.
func (r *RecoveryRegistry) End(operationID int64) {
	r.mu.Lock()
	delete(r.active, operationID)
	r.mu.Unlock()
}

package balancer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hyperrange/rangemaster/pkg/metrics"
	"github.com/hyperrange/rangemaster/pkg/types"
)

// ErrNoActivePlan is delivered to WaitForComplete callers whose pending
// move was dropped because Register replaced the plan it belonged to.
var ErrNoActivePlan = errors.New("balancer: no active plan")

// ErrUnknownMove is returned by GetDestination/MoveComplete for a
// table/range pair that isn't part of the active plan.
var ErrUnknownMove = errors.New("balancer: move not found in active plan")

// MoveKey identifies one move within a plan by the range it relocates.
type MoveKey struct {
	Table    string
	StartRow string
}

type pendingMove struct {
	spec types.MoveSpec
	done chan error
}

// Authority tracks exactly one active BalancePlan at a time, answering
// range-server destination queries and recording move completions until
// every move in the plan has been acknowledged.
type Authority struct {
	mu         sync.Mutex
	generation uint64
	moves      map[MoveKey]*pendingMove
}

// NewAuthority creates an Authority with no active plan.
func NewAuthority() *Authority {
	return &Authority{moves: make(map[MoveKey]*pendingMove)}
}

// Register activates plan as the current plan, replacing whatever plan
// (if any) was active before — any of its still-pending moves are
// released with ErrNoActivePlan to any waiter.
func (a *Authority) Register(plan types.BalancePlan) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, pm := range a.moves {
		select {
		case pm.done <- ErrNoActivePlan:
		default:
		}
		close(pm.done)
	}

	a.generation = plan.Generation
	a.moves = make(map[MoveKey]*pendingMove, len(plan.Moves))
	for _, m := range plan.Moves {
		a.moves[MoveKey{Table: m.Table, StartRow: m.StartRow}] = &pendingMove{
			spec: m,
			done: make(chan error, 1),
		}
	}
	metrics.BalancePlansActive.Set(float64(len(a.moves)))
	if len(plan.Moves) > 0 {
		metrics.BalanceMovesTotal.WithLabelValues(plan.Algorithm).Add(float64(len(plan.Moves)))
	}
}

// GetDestination answers a range server's query for where a range it
// holds should move to, as part of the currently active plan.
func (a *Authority) GetDestination(table, startRow string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	pm, ok := a.moves[MoveKey{Table: table, StartRow: startRow}]
	if !ok {
		return "", ErrUnknownMove
	}
	return pm.spec.Destination, nil
}

// MoveComplete marks one move of the active plan done, releasing any
// waiter blocked in WaitForComplete. moveErr, if non-nil, is the failure a
// range server reported while attempting the move.
func (a *Authority) MoveComplete(table, startRow string, moveErr error) error {
	a.mu.Lock()
	pm, ok := a.moves[MoveKey{Table: table, StartRow: startRow}]
	if ok {
		delete(a.moves, MoveKey{Table: table, StartRow: startRow})
	}
	remaining := len(a.moves)
	a.mu.Unlock()

	if !ok {
		return ErrUnknownMove
	}
	metrics.BalancePlansActive.Set(float64(remaining))
	pm.done <- moveErr
	close(pm.done)
	return nil
}

// WaitForComplete blocks until the named move has been acknowledged via
// MoveComplete or the context expires.
func (a *Authority) WaitForComplete(ctx context.Context, table, startRow string) error {
	a.mu.Lock()
	pm, ok := a.moves[MoveKey{Table: table, StartRow: startRow}]
	a.mu.Unlock()
	if !ok {
		return ErrUnknownMove
	}

	select {
	case err := <-pm.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PendingCount reports how many moves of the active plan remain
// unacknowledged.
func (a *Authority) PendingCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.moves)
}

// DefaultMoveTimeout bounds WaitForComplete callers that don't supply
// their own deadline.
const DefaultMoveTimeout = 5 * time.Minute

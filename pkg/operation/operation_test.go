package operation

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hyperrange/rangemaster/pkg/types"
	"github.com/stretchr/testify/require"
)

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.True(t, cond(), "condition not met within %s", timeout)
}

// TestExclusivitySerialization covers scenario 1: two operations sharing an
// exclusivity label both eventually succeed, serialized by a permanent
// graph edge rather than rejected outright.
func TestExclusivitySerialization(t *testing.T) {
	var order []int64
	var mu sync.Mutex
	release := make(chan struct{})

	handler := HandlerFunc(func(ctx context.Context, proc *Processor, op *types.Operation) error {
		mu.Lock()
		order = append(order, op.ID)
		mu.Unlock()
		if op.ID == 1 {
			<-release
		}
		op.State = types.StateComplete
		return nil
	})

	p := NewProcessor(4, nil, map[types.OperationType]Handler{
		OpTypeTest: handler,
	})
	defer p.Shutdown()

	op1 := &types.Operation{ID: 1, Type: OpTypeTest, Exclusivities: []string{"table:foo"}}
	op2 := &types.Operation{ID: 2, Type: OpTypeTest, Exclusivities: []string{"table:foo"}}

	require.NoError(t, p.AddOperation(op1))
	waitUntil(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 1
	})

	require.NoError(t, p.AddOperation(op2))
	// op2 must not start until op1 releases, since they share an
	// exclusivity label and are serialized by a permanent edge.
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	require.Len(t, order, 1)
	mu.Unlock()

	close(release)
	p.WaitForEmpty()

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []int64{1, 2}, order)
}

// TestSubmitOperationRejectsExclusivityCollision covers the client-facing
// boundary behavior: SubmitOperation refuses a second request that collides
// with an already-live exclusivity label instead of queuing it.
func TestSubmitOperationRejectsExclusivityCollision(t *testing.T) {
	block := make(chan struct{})
	handler := HandlerFunc(func(ctx context.Context, proc *Processor, op *types.Operation) error {
		<-block
		op.State = types.StateComplete
		return nil
	})

	p := NewProcessor(4, nil, map[types.OperationType]Handler{OpTypeTest: handler})
	defer p.Shutdown()

	op1 := &types.Operation{ID: 1, Type: OpTypeTest, Exclusivities: []string{"table:foo"}}
	require.NoError(t, p.SubmitOperation(op1))
	waitUntil(t, time.Second, func() bool { return p.Get(1) != nil })

	op2 := &types.Operation{ID: 2, Type: OpTypeTest, Exclusivities: []string{"table:foo"}}
	err := p.SubmitOperation(op2)
	require.ErrorIs(t, err, ErrOperationInProgress)

	close(block)
	p.WaitForEmpty()
}

// TestBlockedSubopChain covers scenario 2: a parent operation stages a
// sub-operation and does not complete until the sub-op has validated
// clean.
func TestBlockedSubopChain(t *testing.T) {
	var childRan int32
	childHandler := HandlerFunc(func(ctx context.Context, proc *Processor, op *types.Operation) error {
		atomic.AddInt32(&childRan, 1)
		op.State = types.StateComplete
		return nil
	})

	var staged int32
	parentHandler := HandlerFunc(func(ctx context.Context, proc *Processor, op *types.Operation) error {
		if atomic.CompareAndSwapInt32(&staged, 0, 1) {
			child := &types.Operation{ID: 100, Type: OpTypeTestChild}
			if err := proc.StageSubop(op, child); err != nil {
				return err
			}
			op.State = types.StateStarted
			return nil
		}
		allComplete, errCode, _ := proc.ValidateSubops(op)
		if !allComplete {
			return nil
		}
		if errCode != 0 {
			op.ErrorCode = errCode
		}
		op.State = types.StateComplete
		return nil
	})

	p := NewProcessor(4, nil, map[types.OperationType]Handler{
		OpTypeTest:      parentHandler,
		OpTypeTestChild: childHandler,
	})
	defer p.Shutdown()

	parent := &types.Operation{ID: 1, Type: OpTypeTest}
	require.NoError(t, p.AddOperation(parent))

	p.WaitForEmpty()
	require.EqualValues(t, 1, atomic.LoadInt32(&childRan))
}

// TestPerpetualReactivation covers scenario 3: a perpetual operation
// retires after completing and is reinjected into the graph when a
// matching obstruction label appears.
func TestPerpetualReactivation(t *testing.T) {
	var runs int32
	handler := HandlerFunc(func(ctx context.Context, proc *Processor, op *types.Operation) error {
		atomic.AddInt32(&runs, 1)
		op.State = types.StateComplete
		return nil
	})

	p := NewProcessor(4, nil, map[types.OperationType]Handler{OpTypeTest: handler})
	defer p.Shutdown()

	op := &types.Operation{
		ID:           1,
		Type:         OpTypeTest,
		Perpetual:    true,
		Obstructions: []string{"gc-cycle"},
	}
	require.NoError(t, p.AddOperation(op))
	p.WaitForEmpty()
	require.EqualValues(t, 1, atomic.LoadInt32(&runs))

	matches := p.MatchingPerpetual([]string{"gc-cycle"})
	require.Len(t, matches, 1)
	p.ReactivatePerpetual(matches[0])

	waitUntil(t, time.Second, func() bool { return atomic.LoadInt32(&runs) == 2 })
	p.WaitForEmpty()
}

const (
	OpTypeTest      types.OperationType = "Test"
	OpTypeTestChild types.OperationType = "TestChild"
)

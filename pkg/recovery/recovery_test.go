package recovery

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStepFutureCompletesAfterAllReports(t *testing.T) {
	f := NewStepFuture(1, []string{"rs1", "rs2", "rs3"})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	go func() {
		f.Success("rs1", 1)
		f.Failure("rs2", 1, 17, "replay failed")
		f.Success("rs3", 1)
	}()

	require.NoError(t, f.Wait(ctx))
	require.True(t, f.Failed())
	require.Len(t, f.Results(), 3)
}

func TestStepFutureDropsStaleGeneration(t *testing.T) {
	f := NewStepFuture(2, []string{"rs1"})
	f.Success("rs1", 1) // stale generation, ignored

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, f.Wait(ctx), context.DeadlineExceeded)

	f.Success("rs1", 2)
	require.NoError(t, f.Wait(context.Background()))
}

func TestStepFutureEmptyExpectedCompletesImmediately(t *testing.T) {
	f := NewStepFuture(1, nil)
	require.NoError(t, f.Wait(context.Background()))
}

func TestCoordinatorAdvancesThroughPhases(t *testing.T) {
	c := NewCoordinator(42, 1, []string{"rs1"})

	f := c.BeginPhase(PhaseReplayFragments)
	f.Success("rs1", 1)
	require.NoError(t, c.WaitPhase(context.Background(), PhaseReplayFragments))
	require.False(t, c.PhaseFailed(PhaseReplayFragments))
	require.Equal(t, PhasePhantomPrepare, NextPhase(PhaseReplayFragments))
	require.Equal(t, PhasePhantomCommit, NextPhase(PhasePhantomPrepare))
	require.Equal(t, Phase(""), NextPhase(PhasePhantomCommit))
}

func TestCheckQuorumMatchesScenario(t *testing.T) {
	err := CheckQuorum(10, 7, 0.9)
	require.Error(t, err)
	require.Equal(t, "RangeServer recovery blocked (7 servers available, quorum of 9 is required)", err.Error())

	require.NoError(t, CheckQuorum(10, 9, 0.9))
}

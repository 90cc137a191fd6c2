package balancer

import (
	"context"
	"testing"
	"time"

	"github.com/hyperrange/rangemaster/pkg/types"
	"github.com/stretchr/testify/require"
)

func TestEvenRangesSkipsRootAndRequiresThreeRangeGap(t *testing.T) {
	ranges := []RangeInfo{
		{Table: "t1", StartRow: "a", Location: "rs1"},
		{Table: "t1", StartRow: "b", Location: "rs1"},
		{Table: "t1", StartRow: "root", Location: "rs1", IsRoot: true},
	}
	servers := []ServerInfo{{Proxy: "rs1", Live: true}, {Proxy: "rs2", Live: true}}

	plan := EvenRanges{DiskThresholdPct: 0.9}.Plan(ranges, servers)
	require.Empty(t, plan.Moves, "gap of 2 is under the minimum 3 to trigger a move")
}

func TestEvenRangesMovesWhenGapExceedsThreshold(t *testing.T) {
	var ranges []RangeInfo
	for i := 0; i < 5; i++ {
		ranges = append(ranges, RangeInfo{Table: "t1", StartRow: string(rune('a' + i)), Location: "rs1"})
	}
	servers := []ServerInfo{{Proxy: "rs1", Live: true}, {Proxy: "rs2", Live: true}}

	plan := EvenRanges{DiskThresholdPct: 0.9}.Plan(ranges, servers)
	require.NotEmpty(t, plan.Moves)
	for _, m := range plan.Moves {
		require.Equal(t, "rs1", m.Source)
		require.Equal(t, "rs2", m.Destination)
	}
}

func TestEvenRangesSkipsOverThresholdDestination(t *testing.T) {
	var ranges []RangeInfo
	for i := 0; i < 5; i++ {
		ranges = append(ranges, RangeInfo{Table: "t1", StartRow: string(rune('a' + i)), Location: "rs1"})
	}
	servers := []ServerInfo{
		{Proxy: "rs1", Live: true},
		{Proxy: "rs2", Live: true, DiskFillPct: 0.95},
	}

	plan := EvenRanges{DiskThresholdPct: 0.9}.Plan(ranges, servers)
	require.Empty(t, plan.Moves, "only candidate destination is over the disk threshold")
}

func TestLoadMovesFromOverloadedServer(t *testing.T) {
	ranges := []RangeInfo{
		{Table: "t1", StartRow: "a", Location: "rs1", Load: 0.5},
	}
	servers := []ServerInfo{
		{Proxy: "rs1", Live: true, LoadAvg: 0.9},
		{Proxy: "rs2", Live: true, LoadAvg: 0.1},
	}

	plan := Load{DiskThresholdPct: 0.9, Threshold: 0.1}.Plan(ranges, servers)
	require.Len(t, plan.Moves, 1)
	require.Equal(t, "rs1", plan.Moves[0].Source)
	require.Equal(t, "rs2", plan.Moves[0].Destination)
}

func TestLoadNoMovesWhenBalanced(t *testing.T) {
	ranges := []RangeInfo{{Table: "t1", StartRow: "a", Location: "rs1", Load: 0.1}}
	servers := []ServerInfo{
		{Proxy: "rs1", Live: true, LoadAvg: 0.3},
		{Proxy: "rs2", Live: true, LoadAvg: 0.28},
	}

	plan := Load{DiskThresholdPct: 0.9, Threshold: 0.2}.Plan(ranges, servers)
	require.Empty(t, plan.Moves)
}

func TestOffloadMovesRootFirst(t *testing.T) {
	ranges := []RangeInfo{
		{Table: "t1", StartRow: "a", Location: "rs1"},
		{Table: "sys", StartRow: "", Location: "rs1", IsRoot: true},
	}
	servers := []ServerInfo{{Proxy: "rs1", Live: true}, {Proxy: "rs2", Live: true}}

	plan := Offload{DiskThresholdPct: 0.9, Sources: []string{"rs1"}}.Plan(ranges, servers)
	require.Len(t, plan.Moves, 2)
	require.True(t, ranges[1].IsRoot)
	require.Equal(t, "sys", plan.Moves[0].Table)
}

func TestOffloadExcludesSourcesFromDestinations(t *testing.T) {
	ranges := []RangeInfo{{Table: "t1", StartRow: "a", Location: "rs1"}}
	servers := []ServerInfo{
		{Proxy: "rs1", Live: true},
		{Proxy: "rs2", Live: true},
	}

	plan := Offload{DiskThresholdPct: 0.9, Sources: []string{"rs1", "rs2"}}.Plan(ranges, servers)
	require.Empty(t, plan.Moves, "no eligible destination remains once both servers are sources")
}

func TestAuthorityGetDestinationAndMoveComplete(t *testing.T) {
	a := NewAuthority()
	a.Register(types.BalancePlan{
		Generation: 1,
		Moves:      []types.MoveSpec{{Table: "t1", StartRow: "a", Source: "rs1", Destination: "rs2"}},
	})

	dest, err := a.GetDestination("t1", "a")
	require.NoError(t, err)
	require.Equal(t, "rs2", dest)

	require.Equal(t, 1, a.PendingCount())
	require.NoError(t, a.MoveComplete("t1", "a", nil))
	require.Equal(t, 0, a.PendingCount())
}

func TestAuthorityWaitForCompleteUnblocksOnMoveComplete(t *testing.T) {
	a := NewAuthority()
	a.Register(types.BalancePlan{
		Moves: []types.MoveSpec{{Table: "t1", StartRow: "a", Source: "rs1", Destination: "rs2"}},
	})

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		done <- a.WaitForComplete(ctx, "t1", "a")
	}()

	require.NoError(t, a.MoveComplete("t1", "a", nil))
	require.NoError(t, <-done)
}

func TestAuthorityUnknownMove(t *testing.T) {
	a := NewAuthority()
	_, err := a.GetDestination("t1", "nope")
	require.ErrorIs(t, err, ErrUnknownMove)
}

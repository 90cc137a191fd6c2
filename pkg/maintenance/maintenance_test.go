package maintenance

import (
	"testing"
	"time"

	"github.com/hyperrange/rangemaster/pkg/types"
	"github.com/stretchr/testify/require"
)

func TestMemoryStateDecrementClampsAtZero(t *testing.T) {
	m := &MemoryState{Limit: 1000, Balance: 100, Needed: 50}
	m.DecrementNeeded(30)
	require.Equal(t, int64(20), m.Needed)
	require.True(t, m.NeedMore())

	m.DecrementNeeded(1000)
	require.Equal(t, int64(0), m.Needed)
	require.False(t, m.NeedMore())
}

func TestQueueLowerLevelPreemptsHigher(t *testing.T) {
	q := NewQueue()
	q.Push(&Task{Type: TaskSplit, Level: 3, Priority: 1})
	q.Push(&Task{Type: TaskSplit, Level: 0, Priority: 2})
	q.Push(&Task{Type: TaskSplit, Level: 1, Priority: 3})

	t1, ok := q.Pop()
	require.True(t, ok)
	require.Equal(t, 0, t1.Level)

	t2, ok := q.Pop()
	require.True(t, ok)
	require.Equal(t, 1, t2.Level)

	t3, ok := q.Pop()
	require.True(t, ok)
	require.Equal(t, 3, t3.Level)

	_, ok = q.Pop()
	require.False(t, ok)
}

func TestQueueOrdersByPriorityWithinLevel(t *testing.T) {
	q := NewQueue()
	q.Push(&Task{Type: TaskSplit, Level: 2, Priority: 5})
	q.Push(&Task{Type: TaskSplit, Level: 2, Priority: 1})
	q.Push(&Task{Type: TaskSplit, Level: 2, Priority: 3})

	first, _ := q.Pop()
	require.Equal(t, 1, first.Priority)
	second, _ := q.Pop()
	require.Equal(t, 3, second.Priority)
	third, _ := q.Pop()
	require.Equal(t, 5, third.Priority)
}

func TestPrioritizerOrdersInitializationBeforeCompactions(t *testing.T) {
	p := New(Config{
		PruneThresholdMin: 10,
		PruneThresholdMax: 100,
		CellCacheCeiling:  1000,
		MergesPerInterval: 5,
		MergingDelay:      time.Minute,
	})

	ranges := []types.RangeData{
		{
			Table: "t1", Level: types.LevelUser,
			AccessGroups: []types.AccessGroupData{{Name: "ag1", GCNeeded: true}},
		},
		{
			Table: "t2", Level: types.LevelUser,
			InitializationPending: true,
		},
	}
	state := &MemoryState{Limit: 100, Needed: 0}

	tasks := p.Run(ranges, state, 0)
	require.Len(t, tasks, 2)
	require.Equal(t, TaskInitialization, tasks[0].Type)
	require.Less(t, tasks[0].Priority, tasks[1].Priority)
}

func TestPrioritizerSkipsRowOverflowForSplitAndRelinquish(t *testing.T) {
	p := New(Config{PruneThresholdMin: 10, PruneThresholdMax: 100})
	ranges := []types.RangeData{
		{Table: "t1", Level: types.LevelUser, NeedsSplit: true, RowOverflow: true},
		{Table: "t2", Level: types.LevelUser, Relinquish: true, RowOverflow: true},
	}
	state := &MemoryState{}

	tasks := p.Run(ranges, state, 0)
	require.Empty(t, tasks)
}

func TestPrioritizerSkipsSplitOnRootRange(t *testing.T) {
	p := New(Config{PruneThresholdMin: 10, PruneThresholdMax: 100})
	ranges := []types.RangeData{
		{Table: "t1", Level: types.LevelRoot, NeedsSplit: true},
	}
	state := &MemoryState{}

	tasks := p.Run(ranges, state, 0)
	require.Empty(t, tasks)
}

func TestPrioritizerLowMemoryPurgesUntilSatisfied(t *testing.T) {
	p := New(Config{
		LowMemory:         true,
		PruneThresholdMin: 10,
		PruneThresholdMax: 100,
	})

	ranges := []types.RangeData{
		{
			Table: "t1", Level: types.LevelUser,
			AccessGroups: []types.AccessGroupData{
				{Name: "ag1", ShadowCacheSize: 200, ShadowCacheHits: 5},
				{Name: "ag2", ShadowCacheSize: 300, ShadowCacheHits: 1},
			},
		},
	}
	state := &MemoryState{Needed: 250}

	tasks := p.Run(ranges, state, 0)

	var purges int
	for _, t := range tasks {
		if t.Type == TaskShadowCachePurge {
			purges++
		}
	}
	require.Equal(t, 1, purges, "only ag2 (lowest hits) should be purged before Needed is satisfied")
	require.False(t, state.NeedMore())
}

func TestPrioritizerSteadyStateSkipsLowMemoryPasses(t *testing.T) {
	p := New(Config{LowMemory: false, PruneThresholdMin: 10, PruneThresholdMax: 100})
	ranges := []types.RangeData{
		{
			Table: "t1", Level: types.LevelUser,
			AccessGroups: []types.AccessGroupData{{Name: "ag1", ShadowCacheSize: 500}},
		},
	}
	state := &MemoryState{Needed: 100}

	tasks := p.Run(ranges, state, 0)
	require.Empty(t, tasks)
}

func TestPruneCommitLogsReturnsMinimum(t *testing.T) {
	ranges := []types.RangeData{
		{Table: "t1", EarliestCachedRevision: 50},
		{Table: "t2", EarliestCachedRevision: 10},
		{Table: "t3", EarliestCachedRevision: 0},
	}
	min, ok := PruneCommitLogs(ranges)
	require.True(t, ok)
	require.Equal(t, int64(10), min)
}

func TestPruneCommitLogsNoEligibleRanges(t *testing.T) {
	ranges := []types.RangeData{{Table: "t1"}}
	_, ok := PruneCommitLogs(ranges)
	require.False(t, ok)
}

type fakeSource struct {
	ranges   []types.RangeData
	state    *MemoryState
	revision int64
}

func (f *fakeSource) Ranges() []types.RangeData { return f.ranges }
func (f *fakeSource) MemoryState() *MemoryState { return f.state }
func (f *fakeSource) CurrentRevision() int64    { return f.revision }

func TestSchedulerRunCyclePushesTasksToQueue(t *testing.T) {
	source := &fakeSource{
		ranges: []types.RangeData{
			{Table: "t1", Level: types.LevelUser, InitializationPending: true},
		},
		state: &MemoryState{},
	}
	p := New(Config{PruneThresholdMin: 10, PruneThresholdMax: 100})
	q := NewQueue()
	s := NewScheduler(source, p, q, time.Hour)

	s.RunCycle()

	require.Equal(t, 1, q.Len())
}

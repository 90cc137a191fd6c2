package maintenance

import (
	"sort"
	"time"

	"github.com/hyperrange/rangemaster/pkg/types"
)

// Config holds the prioritizer's tunables, all of which are per-cluster
// settings in the original rather than per-call arguments.
type Config struct {
	LowMemory bool

	PruneThresholdMin  int64
	PruneThresholdMax  int64
	ObservedUpdateMBps float64

	CellCacheCeiling int64

	MergesPerInterval int
	MergingDelay      time.Duration
}

// Prioritizer implements the ordered passes from
// original_source/.../MaintenancePrioritizer.h: LogCleanup (steady state)
// when Config.LowMemory is false, LowMemory (aggressive purging) when true.
type Prioritizer struct {
	cfg Config
}

// New creates a Prioritizer with the given configuration.
func New(cfg Config) *Prioritizer {
	return &Prioritizer{cfg: cfg}
}

// Run executes every pass in order over ranges, returning the tasks
// scheduled this cycle and the priority counter is embedded in each task.
// currentRevision is the master's view of the latest commit-log revision,
// used to size the log-cleanup pass.
func (p *Prioritizer) Run(ranges []types.RangeData, state *MemoryState, currentRevision int64) []*Task {
	priority := 0
	next := func() int {
		priority++
		return priority
	}

	var tasks []*Task

	tasks = append(tasks, p.scheduleInitializationOperations(ranges, next)...)
	tasks = append(tasks, p.scheduleInProgressOperations(ranges, state, next)...)
	tasks = append(tasks, p.scheduleSplitsAndRelinquishes(ranges, next)...)
	tasks = append(tasks, p.scheduleNecessaryCompactions(ranges, currentRevision, next)...)

	if p.cfg.LowMemory {
		tasks = append(tasks, p.purgeShadowCaches(ranges, state, next)...)
		tasks = append(tasks, p.purgeCellstoreIndexes(ranges, state, next)...)
		tasks = append(tasks, p.compactCellcaches(ranges, state, next)...)
	}

	return tasks
}

func (p *Prioritizer) scheduleInitializationOperations(ranges []types.RangeData, next func() int) []*Task {
	var tasks []*Task
	for _, r := range ranges {
		if r.InitializationPending {
			tasks = append(tasks, &Task{Type: TaskInitialization, Range: r, Priority: next(), Level: int(r.Level)})
		}
	}
	return tasks
}

func (p *Prioritizer) scheduleInProgressOperations(ranges []types.RangeData, state *MemoryState, next func() int) []*Task {
	var tasks []*Task
	for _, r := range ranges {
		switch r.PersistedState {
		case types.RangeStateRelinquishLogInstalled, types.RangeStateSplitLogInstalled, types.RangeStateSplitShrunk:
			tasks = append(tasks, &Task{Type: TaskInProgressResumption, Range: r, Priority: next(), Level: int(r.Level)})
			state.DecrementNeeded(r.MemUsed)
		}
	}
	return tasks
}

func (p *Prioritizer) scheduleSplitsAndRelinquishes(ranges []types.RangeData, next func() int) []*Task {
	var tasks []*Task
	for _, r := range ranges {
		if r.RowOverflow {
			continue
		}
		if r.Relinquish {
			tasks = append(tasks, &Task{Type: TaskRelinquish, Range: r, Priority: next(), Level: int(r.Level)})
		}
		if r.NeedsSplit && r.Level != types.LevelRoot {
			tasks = append(tasks, &Task{Type: TaskSplit, Range: r, Priority: next(), Level: int(r.Level)})
		}
	}
	return tasks
}

func (p *Prioritizer) pruneThreshold() int64 {
	threshold := int64(p.cfg.ObservedUpdateMBps * float64(p.cfg.PruneThresholdMax) / 100)
	if threshold < p.cfg.PruneThresholdMin {
		return p.cfg.PruneThresholdMin
	}
	if threshold > p.cfg.PruneThresholdMax {
		return p.cfg.PruneThresholdMax
	}
	return threshold
}

func (p *Prioritizer) scheduleNecessaryCompactions(ranges []types.RangeData, currentRevision int64, next func() int) []*Task {
	var tasks []*Task
	threshold := p.pruneThreshold()
	mergesScheduled := 0

	for _, r := range ranges {
		unflushed := currentRevision - r.EarliestCachedRevision
		if r.EarliestCachedRevision > 0 && unflushed >= threshold {
			tasks = append(tasks, &Task{Type: TaskLogCleanupCompaction, Range: r, Priority: next(), Level: int(r.Level)})
		}

		for i := range r.AccessGroups {
			ag := &r.AccessGroups[i]

			if ag.GCNeeded {
				tasks = append(tasks, &Task{Type: TaskGCCompaction, Range: r, AccessGroup: ag, Priority: next(), Level: int(r.Level)})
			}

			if !ag.InMemory && ag.CellCacheMemory > p.cfg.CellCacheCeiling {
				tasks = append(tasks, &Task{Type: TaskOversizedCellCache, Range: r, AccessGroup: ag, Priority: next(), Level: int(r.Level)})
			}

			if ag.MergeRunReady {
				if mergesScheduled >= p.cfg.MergesPerInterval {
					continue
				}
				if !p.cfg.LowMemory && time.Since(ag.LastAccess) < p.cfg.MergingDelay {
					continue
				}
				tasks = append(tasks, &Task{Type: TaskMergeCompaction, Range: r, AccessGroup: ag, Priority: next(), Level: int(r.Level)})
				mergesScheduled++
			}
		}
	}
	return tasks
}

func (p *Prioritizer) purgeShadowCaches(ranges []types.RangeData, state *MemoryState, next func() int) []*Task {
	type candidate struct {
		r  types.RangeData
		ag *types.AccessGroupData
	}
	var candidates []candidate
	for _, r := range ranges {
		for i := range r.AccessGroups {
			candidates = append(candidates, candidate{r: r, ag: &r.AccessGroups[i]})
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].ag.ShadowCacheHits != candidates[j].ag.ShadowCacheHits {
			return candidates[i].ag.ShadowCacheHits < candidates[j].ag.ShadowCacheHits
		}
		return candidates[i].ag.ShadowCacheSize < candidates[j].ag.ShadowCacheSize
	})

	var tasks []*Task
	for _, c := range candidates {
		if !state.NeedMore() {
			break
		}
		if c.ag.ShadowCacheSize == 0 {
			continue
		}
		tasks = append(tasks, &Task{Type: TaskShadowCachePurge, Range: c.r, AccessGroup: c.ag, Priority: next(), Level: int(c.r.Level)})
		state.DecrementNeeded(c.ag.ShadowCacheSize)
	}
	return tasks
}

func (p *Prioritizer) purgeCellstoreIndexes(ranges []types.RangeData, state *MemoryState, next func() int) []*Task {
	type candidate struct {
		r  types.RangeData
		ag *types.AccessGroupData
	}
	var candidates []candidate
	for _, r := range ranges {
		for i := range r.AccessGroups {
			candidates = append(candidates, candidate{r: r, ag: &r.AccessGroups[i]})
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].ag.LastAccess.Before(candidates[j].ag.LastAccess)
	})

	var tasks []*Task
	for _, c := range candidates {
		if !state.NeedMore() {
			break
		}
		freed := c.ag.BlockIndexMemory + c.ag.BloomFilterMemory
		if freed == 0 {
			continue
		}
		tasks = append(tasks, &Task{Type: TaskCellStoreIndexPurge, Range: c.r, AccessGroup: c.ag, Priority: next(), Level: int(c.r.Level)})
		state.DecrementNeeded(freed)
	}
	return tasks
}

func (p *Prioritizer) compactCellcaches(ranges []types.RangeData, state *MemoryState, next func() int) []*Task {
	type candidate struct {
		r  types.RangeData
		ag *types.AccessGroupData
	}
	var candidates []candidate
	for _, r := range ranges {
		for i := range r.AccessGroups {
			candidates = append(candidates, candidate{r: r, ag: &r.AccessGroups[i]})
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].ag.CellCacheMemory > candidates[j].ag.CellCacheMemory
	})

	var tasks []*Task
	for _, c := range candidates {
		if !state.NeedMore() {
			break
		}
		if c.ag.CellCacheMemory == 0 || c.ag.InMemory {
			continue
		}
		tasks = append(tasks, &Task{Type: TaskCellCacheCompaction, Range: c.r, AccessGroup: c.ag, Priority: next(), Level: int(c.r.Level)})
		state.DecrementNeeded(c.ag.CellCacheMemory)
	}
	return tasks
}

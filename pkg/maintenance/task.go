package maintenance

import "github.com/hyperrange/rangemaster/pkg/types"

// TaskType names the kind of maintenance work one Task performs.
type TaskType string

const (
	TaskInitialization       TaskType = "initialization"
	TaskInProgressResumption TaskType = "in_progress_resumption"
	TaskRelinquish           TaskType = "relinquish"
	TaskSplit                TaskType = "split"
	TaskLogCleanupCompaction TaskType = "log_cleanup_compaction"
	TaskGCCompaction         TaskType = "gc_compaction"
	TaskOversizedCellCache   TaskType = "oversized_cell_cache_compaction"
	TaskMergeCompaction      TaskType = "merge_compaction"
	TaskShadowCachePurge     TaskType = "shadow_cache_purge"
	TaskCellStoreIndexPurge  TaskType = "cell_store_index_purge"
	TaskCellCacheCompaction  TaskType = "cell_cache_compaction"
)

// Task is one unit of range-server maintenance work, priced by Priority
// (ascending, assigned in prioritizer pass order) and dispatched at Level
// (0 = root, 1 = metadata, 2 = system, 3 = user).
type Task struct {
	Type        TaskType
	Range       types.RangeData
	AccessGroup *types.AccessGroupData
	Priority    int
	Level       int
	Retry       bool

	// Execute is filled in by the caller wiring a Task to the actual
	// range-server RPC it drives; left nil in tasks synthesized purely for
	// ordering in tests.
	Execute func() error
}

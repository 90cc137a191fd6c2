// Package maintenance implements the range-server maintenance scheduler:
// the LogCleanup and LowMemory prioritizer passes from
// original_source/.../MaintenancePrioritizer.h, and the four-level priority
// queue that feeds the maintenance worker pool.
package maintenance

import (
	"container/heap"
	"sync"
	"time"

	"github.com/hyperrange/rangemaster/pkg/log"
	"github.com/hyperrange/rangemaster/pkg/metrics"
)

const numLevels = 4

// taskHeap orders tasks ascending by Priority; container/heap is the
// idiomatic stdlib substitute for the original's per-level ordered
// priority queue (no ecosystem priority-queue library appears anywhere in
// the retrieved example pack).
type taskHeap []*Task

func (h taskHeap) Len() int            { return len(h) }
func (h taskHeap) Less(i, j int) bool  { return h[i].Priority < h[j].Priority }
func (h taskHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *taskHeap) Push(x interface{}) { *h = append(*h, x.(*Task)) }
func (h *taskHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// Queue is the four-level maintenance priority queue. Lower-numbered
// levels always preempt higher-numbered ones; within a level, tasks run in
// ascending priority order.
type Queue struct {
	mu     sync.Mutex
	levels [numLevels]taskHeap
	notify chan struct{}
	closed bool
}

// NewQueue creates an empty maintenance queue.
func NewQueue() *Queue {
	return &Queue{notify: make(chan struct{}, 1)}
}

// Push enqueues a task at its assigned level.
func (q *Queue) Push(t *Task) {
	q.mu.Lock()
	heap.Push(&q.levels[t.Level], t)
	depth := q.levels[t.Level].Len()
	q.mu.Unlock()
	metrics.MaintenanceQueueDepth.WithLabelValues(levelLabel(t.Level)).Set(float64(depth))
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Pop removes and returns the highest-priority task across all levels
// (lowest level number first), or ok=false if the queue is empty.
func (q *Queue) Pop() (*Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for level := 0; level < numLevels; level++ {
		if q.levels[level].Len() > 0 {
			t := heap.Pop(&q.levels[level]).(*Task)
			metrics.MaintenanceQueueDepth.WithLabelValues(levelLabel(level)).Set(float64(q.levels[level].Len()))
			return t, true
		}
	}
	return nil, false
}

// Len returns the total number of pending tasks across all levels.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	total := 0
	for _, h := range q.levels {
		total += h.Len()
	}
	return total
}

// RunWorkers starts n worker goroutines pulling and executing tasks until
// stopCh is closed. A task whose Execute sets Retry is re-enqueued after
// retryDelay; in-flight tasks run to completion on shutdown.
func (q *Queue) RunWorkers(n int, retryDelay time.Duration, stopCh <-chan struct{}) *sync.WaitGroup {
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.workerLoop(retryDelay, stopCh)
		}()
	}
	return &wg
}

func (q *Queue) workerLoop(retryDelay time.Duration, stopCh <-chan struct{}) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-stopCh:
			return
		case <-q.notify:
		case <-ticker.C:
		}
		for {
			t, ok := q.Pop()
			if !ok {
				break
			}
			q.runTask(t, retryDelay, stopCh)
		}
	}
}

func (q *Queue) runTask(t *Task, retryDelay time.Duration, stopCh <-chan struct{}) {
	if t.Execute == nil {
		return
	}
	if err := t.Execute(); err != nil {
		log.Logger.Warn().Str("task_type", string(t.Type)).Err(err).Msg("maintenance task failed")
		if t.Retry {
			go func() {
				select {
				case <-time.After(retryDelay):
					q.Push(t)
				case <-stopCh:
				}
			}()
		}
	}
}

func levelLabel(level int) string {
	switch level {
	case 0:
		return "root"
	case 1:
		return "metadata"
	case 2:
		return "system"
	default:
		return "user"
	}
}

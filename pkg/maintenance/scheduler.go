package maintenance

import (
	"sync"
	"time"

	"github.com/hyperrange/rangemaster/pkg/log"
	"github.com/hyperrange/rangemaster/pkg/metrics"
	"github.com/hyperrange/rangemaster/pkg/types"
)

// RangeSource supplies the current snapshot of every range the prioritizer
// should consider this cycle, along with the memory state to size the
// LowMemory passes against and the master's current commit-log revision.
type RangeSource interface {
	Ranges() []types.RangeData
	MemoryState() *MemoryState
	CurrentRevision() int64
}

// Scheduler drives periodic maintenance cycles: snapshot ranges, run the
// prioritizer passes, push the resulting tasks onto the queue. The ticker
// loop is a plain ticker plus a stop channel rather than a cron-style
// library, the same idiom a health-check monitor loop would use.
type Scheduler struct {
	source      RangeSource
	prioritizer *Prioritizer
	queue       *Queue
	interval    time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewScheduler creates a Scheduler. Start must be called to begin running
// cycles.
func NewScheduler(source RangeSource, prioritizer *Prioritizer, queue *Queue, interval time.Duration) *Scheduler {
	return &Scheduler{
		source:      source,
		prioritizer: prioritizer,
		queue:       queue,
		interval:    interval,
		stopCh:      make(chan struct{}),
	}
}

// Start begins the periodic cycle loop in a background goroutine.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.loop()
}

// Stop halts the cycle loop and waits for any in-flight cycle to finish.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

func (s *Scheduler) loop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.RunCycle()
		case <-s.stopCh:
			return
		}
	}
}

// RunCycle executes one scheduling cycle synchronously: it snapshots
// ranges, runs every prioritizer pass, and pushes the emitted tasks onto
// the queue in priority order. Exported so tests and an admin-triggered
// "run maintenance now" command can invoke it directly.
func (s *Scheduler) RunCycle() {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.MaintenanceCycleDuration)

	ranges := s.source.Ranges()
	state := s.source.MemoryState()
	revision := s.source.CurrentRevision()

	tasks := s.prioritizer.Run(ranges, state, revision)
	for _, t := range tasks {
		s.queue.Push(t)
	}

	metrics.MaintenanceNeededBytes.Set(float64(state.Needed))
	metrics.MaintenanceCyclesTotal.Inc()
	log.Logger.Debug().Int("ranges", len(ranges)).Int("tasks", len(tasks)).Msg("maintenance cycle complete")
}

// PruneCommitLogs scans the earliest cached revision across every range and
// returns the minimum, the revision below which no range still needs
// entries from the commit log. A caller invokes the range-server RPC that
// actually truncates the log with this value; this package only computes
// it, since the truncation itself is outside the scheduler's scope.
func PruneCommitLogs(ranges []types.RangeData) (minRevision int64, ok bool) {
	for _, r := range ranges {
		if r.EarliestCachedRevision <= 0 {
			continue
		}
		if !ok || r.EarliestCachedRevision < minRevision {
			minRevision = r.EarliestCachedRevision
			ok = true
		}
	}
	return minRevision, ok
}

// Package recovery implements the Recovery Step Future: the
// synchronization primitive a failover recovery operation blocks on while
// waiting for every participating range server to report success or
// failure for one phase of a three-phase recovery (replay-fragments,
// phantom-prepare, phantom-commit), plus the live-quorum predicate that
// gates promoting a Recover operation in the first place.
//
// The processor's operations are otherwise synchronous functions blocking
// only at explicit I/O boundaries; StepFuture is the one place a
// condition-variable-style "wait for N reports" object is used instead. Go
// has no condition variable primitive that composes well with a timeout, so
// this is built on an unbuffered completion channel closed exactly once, the
// standard fan-out-on-close idiom for a one-shot event broadcast.
package recovery

import (
	"context"
	"sync"

	"github.com/hyperrange/rangemaster/pkg/log"
	"github.com/hyperrange/rangemaster/pkg/metrics"
)

// StepResult is one proxy's report for a recovery phase.
type StepResult struct {
	Proxy     string
	Success   bool
	ErrorCode int
	ErrorMsg  string
}

// StepFuture fans in per-server reports for one phase of recovery at a
// required plan generation; the Coordinator holds one per phase for its
// Recover operation. Reports carrying a stale generation are dropped.
type StepFuture struct {
	mu         sync.Mutex
	generation uint64
	pending    map[string]bool
	results    map[string]StepResult

	done     chan struct{}
	doneOnce sync.Once
}

// NewStepFuture creates a future awaiting a report from every proxy in
// expected, all at the given plan generation.
func NewStepFuture(generation uint64, expected []string) *StepFuture {
	pending := make(map[string]bool, len(expected))
	for _, proxy := range expected {
		pending[proxy] = true
	}
	f := &StepFuture{
		generation: generation,
		pending:    pending,
		results:    make(map[string]StepResult, len(expected)),
		done:       make(chan struct{}),
	}
	metrics.RecoveryFuturesPending.Inc()
	if len(pending) == 0 {
		f.closeDone()
	}
	return f
}

func (f *StepFuture) closeDone() {
	f.doneOnce.Do(func() {
		close(f.done)
		metrics.RecoveryFuturesPending.Dec()
	})
}

// Success records a successful report from proxy at generation.
func (f *StepFuture) Success(proxy string, generation uint64) {
	f.report(proxy, generation, StepResult{Proxy: proxy, Success: true})
}

// Failure records a failed report from proxy at generation.
func (f *StepFuture) Failure(proxy string, generation uint64, code int, msg string) {
	f.report(proxy, generation, StepResult{Proxy: proxy, Success: false, ErrorCode: code, ErrorMsg: msg})
}

func (f *StepFuture) report(proxy string, generation uint64, result StepResult) {
	f.mu.Lock()
	if generation != f.generation {
		f.mu.Unlock()
		log.WithProxy(proxy).Debug().Uint64("generation", generation).Msg("dropping stale recovery report")
		return
	}
	if !f.pending[proxy] {
		f.mu.Unlock()
		return
	}
	delete(f.pending, proxy)
	f.results[proxy] = result
	empty := len(f.pending) == 0
	f.mu.Unlock()

	if empty {
		f.closeDone()
	}
}

// Wait blocks until every expected proxy has reported, or ctx is done.
func (f *StepFuture) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Results returns a snapshot of every report received so far. It is safe
// to call before the future is complete.
func (f *StepFuture) Results() map[string]StepResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]StepResult, len(f.results))
	for k, v := range f.results {
		out[k] = v
	}
	return out
}

// Failed reports whether any completed report failed.
func (f *StepFuture) Failed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.results {
		if !r.Success {
			return true
		}
	}
	return false
}

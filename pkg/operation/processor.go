// Package operation implements the Master Operation Processor: a
// dependency-graph-scheduled runtime that executes cluster-mutating
// operations concurrently on a worker pool while respecting exclusivity,
// dependency, and obstruction constraints.
//
// Graph model. Vertices are live operations. An edge u -> v means "u must
// retire before v may run" (u obstructs v). Edges are derived from three
// per-operation string-label sets:
//
//   - obstruction(u) matched by exclusivity(v) or dependency(v): edge u -> v.
//   - exclusivity(u) matched by exclusivity(v): a permanent edge between
//     whichever of the two was added second and the one added first (only
//     one exclusive holder of a label may be live at a time).
//   - obstruction(u) matched by dependency(v) falls out of the first rule
//     since dependency and exclusivity are both treated as "waits on".
//
// This package intentionally does not replicate the original's boost
// multi-index containers; three plain map indices (exclusivity, dependency,
// obstruction -> operation ids) are the idiomatic Go substitute, matching
// the shape of original_source/.../OperationProcessor.h's ThreadContext
// without its boost::graph machinery.
package operation

import (
	"context"
	"sync"
	"time"

	"github.com/hyperrange/rangemaster/pkg/log"
	"github.com/hyperrange/rangemaster/pkg/metalog"
	"github.com/hyperrange/rangemaster/pkg/metrics"
	"github.com/hyperrange/rangemaster/pkg/types"
)

// retryDelay is the pause a worker takes before re-ordering after a
// non-induced execution error.
var retryDelay = 5 * time.Second

// Processor is the Master Operation Processor.
type Processor struct {
	mu sync.Mutex

	handlers map[types.OperationType]Handler
	metalog  *metalog.Writer

	ops          map[int64]*types.Operation
	running      map[int64]bool
	blockedBy    map[int64]map[int64]bool // v -> set of u that must retire first
	blocks       map[int64]map[int64]bool // u -> set of v waiting on u
	permanent    map[int64]map[int64]bool // u -> set of v with a permanent edge u->v

	exclusivityIndex map[string]map[int64]bool
	dependencyIndex  map[string]map[int64]bool
	obstructionIndex map[string]map[int64]bool

	perpetual map[int64]*types.Operation

	workerSem chan struct{}
	wakeCh    chan struct{}
	shutdown  chan struct{}
	shutOnce  sync.Once
	wg        sync.WaitGroup

	idleWaiters  []chan struct{}
	emptyWaiters []chan struct{}

	inducedErr error
}

// NewProcessor creates a processor with the given worker concurrency and
// handler registry. handlers maps each supported OperationType to the
// Handler that executes it.
func NewProcessor(workerCount int, mlog *metalog.Writer, handlers map[types.OperationType]Handler) *Processor {
	if workerCount < 1 {
		workerCount = 1
	}
	p := &Processor{
		handlers:         handlers,
		metalog:          mlog,
		ops:              make(map[int64]*types.Operation),
		running:          make(map[int64]bool),
		blockedBy:        make(map[int64]map[int64]bool),
		blocks:           make(map[int64]map[int64]bool),
		permanent:        make(map[int64]map[int64]bool),
		exclusivityIndex: make(map[string]map[int64]bool),
		dependencyIndex:  make(map[string]map[int64]bool),
		obstructionIndex: make(map[string]map[int64]bool),
		perpetual:        make(map[int64]*types.Operation),
		workerSem:        make(chan struct{}, workerCount),
		wakeCh:           make(chan struct{}, 1),
		shutdown:         make(chan struct{}),
	}
	p.wg.Add(1)
	go p.runLoop()
	return p
}

func (p *Processor) wake() {
	select {
	case p.wakeCh <- struct{}{}:
	default:
	}
}

// SubmitOperation is the entry point for fresh client-initiated requests.
// Unlike AddOperation, it rejects a request whose exclusivity label
// collides with an already-live operation
// instead of serializing behind it: a client should not silently queue a
// second CREATE_TABLE for a table already being created, it should be told
// MASTER_OPERATION_IN_PROGRESS and decide whether to retry.
//
// Internally generated graph wiring — sub-operation staging, perpetual
// reactivation — goes through AddOperation directly, which always
// serializes via a permanent edge rather than rejecting.
func (p *Processor) SubmitOperation(op *types.Operation) error {
	p.mu.Lock()
	for _, name := range op.Exclusivities {
		if ids := p.exclusivityIndex[name]; len(ids) > 0 {
			p.mu.Unlock()
			metrics.OperationConflictsTotal.WithLabelValues(name).Inc()
			return ErrOperationInProgress
		}
	}
	p.mu.Unlock()
	return p.AddOperation(op)
}

// AddOperation registers an operation as a graph vertex, wiring edges
// against every currently live operation per the rules in the package doc
// comment, and persists its initial state.
func (p *Processor) AddOperation(op *types.Operation) error {
	select {
	case <-p.shutdown:
		return ErrShutdown
	default:
	}

	p.mu.Lock()
	if op.State == "" {
		op.State = types.StateInitial
	}
	now := time.Now()
	if op.CreatedAt.IsZero() {
		op.CreatedAt = now
	}
	op.UpdatedAt = now

	p.wireNewOperationLocked(op)
	p.ops[op.ID] = op
	metrics.OperationsLive.WithLabelValues(string(op.Type)).Inc()
	p.mu.Unlock()

	if err := p.persist(op); err != nil {
		return err
	}
	p.wake()
	return nil
}

// AddOperations registers a batch of operations in order.
func (p *Processor) AddOperations(ops []*types.Operation) error {
	for _, op := range ops {
		if err := p.AddOperation(op); err != nil {
			return err
		}
	}
	return nil
}

// wireNewOperationLocked must be called with mu held. It adds edges between
// op and every operation already present in the three indices, in both
// directions, then registers op's own labels into those indices.
func (p *Processor) wireNewOperationLocked(op *types.Operation) {
	// Existing operations whose obstruction matches one of op's
	// exclusivities or dependencies must retire before op runs.
	waitsOn := make(map[int64]bool)
	for _, name := range op.Exclusivities {
		for uid := range p.obstructionIndex[name] {
			waitsOn[uid] = true
		}
	}
	for _, name := range op.Dependencies {
		for uid := range p.obstructionIndex[name] {
			waitsOn[uid] = true
		}
	}
	for uid := range waitsOn {
		p.addEdgeLocked(uid, op.ID, false)
	}

	// op's own obstruction matches an existing operation's exclusivity or
	// dependency: op must retire before that existing operation runs (the
	// sub-operation protocol relies on this direction to block a parent on
	// a newly staged child).
	blocksExisting := make(map[int64]bool)
	for _, name := range op.Obstructions {
		for vid := range p.exclusivityIndex[name] {
			blocksExisting[vid] = true
		}
		for vid := range p.dependencyIndex[name] {
			blocksExisting[vid] = true
		}
	}
	for vid := range blocksExisting {
		p.addEdgeLocked(op.ID, vid, false)
	}

	for _, name := range op.Exclusivities {
		for uid := range p.exclusivityIndex[name] {
			p.addEdgeLocked(uid, op.ID, true)
		}
	}

	p.registerIndicesLocked(op)
}

func (p *Processor) registerIndicesLocked(op *types.Operation) {
	addTo := func(idx map[string]map[int64]bool, names []string) {
		for _, name := range names {
			set := idx[name]
			if set == nil {
				set = make(map[int64]bool)
				idx[name] = set
			}
			set[op.ID] = true
		}
	}
	addTo(p.exclusivityIndex, op.Exclusivities)
	addTo(p.dependencyIndex, op.Dependencies)
	addTo(p.obstructionIndex, op.Obstructions)
}

func (p *Processor) purgeIndicesLocked(op *types.Operation) {
	purgeFrom := func(idx map[string]map[int64]bool, names []string) {
		for _, name := range names {
			if set, ok := idx[name]; ok {
				delete(set, op.ID)
				if len(set) == 0 {
					delete(idx, name)
				}
			}
		}
	}
	purgeFrom(p.exclusivityIndex, op.Exclusivities)
	purgeFrom(p.dependencyIndex, op.Dependencies)
	purgeFrom(p.obstructionIndex, op.Obstructions)
}

func (p *Processor) addEdgeLocked(u, v int64, permanent bool) {
	if u == v {
		return
	}
	if p.blockedBy[v] == nil {
		p.blockedBy[v] = make(map[int64]bool)
	}
	if p.blocks[u] == nil {
		p.blocks[u] = make(map[int64]bool)
	}
	p.blockedBy[v][u] = true
	p.blocks[u][v] = true
	if permanent {
		if p.permanent[u] == nil {
			p.permanent[u] = make(map[int64]bool)
		}
		p.permanent[u][v] = true
	}
}

// RemoveOperation removes a live operation from the graph without running
// it, returning it if present.
func (p *Processor) RemoveOperation(id int64) *types.Operation {
	p.mu.Lock()
	defer p.mu.Unlock()
	op, ok := p.ops[id]
	if !ok {
		return nil
	}
	p.retireLocked(op)
	return op
}

// StageSubop implements the sub-operation protocol: the parent
// adds a synthetic permanent obstruction naming the child to itself as a
// dependency, and to the child as an obstruction. The child inherits
// neither the parent's exclusivities nor its dependencies.
func (p *Processor) StageSubop(parent, child *types.Operation) error {
	label := types.SubopObstructionLabel(string(parent.Type), string(child.Type), child.ID)

	p.mu.Lock()
	parent.Dependencies = append(parent.Dependencies, label)
	child.Obstructions = append(child.Obstructions, label)
	child.ParentID = parent.ID
	child.RemovalApprovalsNeeded++
	parent.SubOperations = append(parent.SubOperations, child.ID)

	if existing, ok := p.ops[parent.ID]; ok {
		p.purgeIndicesLocked(existing)
		p.registerIndicesLocked(parent)
	}
	p.mu.Unlock()

	return p.AddOperation(child)
}

// ValidateSubops checks every staged sub-operation of parent. On the first
// sub-op that completed with an error, it returns that error (code, msg)
// and does not release any further approvals. On full success it releases
// the removal approval for each completed sub-op, making them
// garbage-collectable, and clears the parent's synthetic dependency labels
// for the ones that validated clean.
func (p *Processor) ValidateSubops(parent *types.Operation) (allComplete bool, errCode int, errMsg string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	allComplete = true
	for _, cid := range parent.SubOperations {
		child, ok := p.ops[cid]
		if !ok {
			// already retired and garbage-collected: treat as validated-clean
			continue
		}
		if !child.Complete() {
			allComplete = false
			continue
		}
		if child.HasError() {
			return true, child.ErrorCode, child.ErrorMsg
		}
		child.RemovalApprovalsGot++
	}
	return allComplete, 0, ""
}

// Unblock scans the obstruction and exclusivity indices for name and clears
// the Blocked flag on every operation found there, then forces a re-order.
func (p *Processor) Unblock(name string) {
	p.mu.Lock()
	touched := make(map[int64]bool)
	for id := range p.obstructionIndex[name] {
		touched[id] = true
	}
	for id := range p.exclusivityIndex[name] {
		touched[id] = true
	}
	for id := range touched {
		if op, ok := p.ops[id]; ok {
			op.Blocked = false
		}
	}
	p.mu.Unlock()
	p.wake()
}

// Activate is an alias for Unblock kept to mirror the original API surface;
// in this implementation blocking and activation share one mechanism.
func (p *Processor) Activate(name string) { p.Unblock(name) }

// Size returns the number of live operations (graph + perpetual set).
func (p *Processor) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ops) + len(p.perpetual)
}

// Empty reports whether the processor has no live operations.
func (p *Processor) Empty() bool { return p.Size() == 0 }

// WaitForEmpty blocks until the processor has no live operations.
func (p *Processor) WaitForEmpty() {
	for {
		p.mu.Lock()
		if len(p.ops) == 0 {
			p.mu.Unlock()
			return
		}
		ch := make(chan struct{})
		p.emptyWaiters = append(p.emptyWaiters, ch)
		p.mu.Unlock()
		<-ch
	}
}

// WaitForIdle blocks until no operation is currently executing on a worker.
func (p *Processor) WaitForIdle() {
	for {
		p.mu.Lock()
		if len(p.running) == 0 {
			p.mu.Unlock()
			return
		}
		ch := make(chan struct{})
		p.idleWaiters = append(p.idleWaiters, ch)
		p.mu.Unlock()
		<-ch
	}
}

// TimedWaitForIdle blocks until idle or the timeout elapses, reporting which.
func (p *Processor) TimedWaitForIdle(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		p.WaitForIdle()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Shutdown stops the scheduling loop. In-flight operations are allowed to
// finish; no new ones are dispatched.
func (p *Processor) Shutdown() {
	p.shutOnce.Do(func() { close(p.shutdown) })
}

// Join waits for the scheduling loop goroutine to exit after Shutdown.
func (p *Processor) Join() { p.wg.Wait() }

func (p *Processor) persist(op *types.Operation) error {
	if p.metalog == nil || op.Ephemeral {
		return nil
	}
	data, err := encodeOperation(op)
	if err != nil {
		return err
	}
	return p.metalog.RecordState(types.MetalogEntity{
		TypeTag:  types.EntityTypeOperation,
		EntityID: idString(op.ID),
		Payload:  data,
	})
}

func (p *Processor) persistRemoval(op *types.Operation) error {
	if p.metalog == nil || op.Ephemeral {
		return nil
	}
	return p.metalog.RecordRemoval(types.EntityTypeOperation, idString(op.ID))
}

// runLoop is the scheduler's single coordination goroutine. It does not
// execute operations itself; it dispatches ready vertices onto worker
// goroutines bounded by workerSem.
func (p *Processor) runLoop() {
	defer p.wg.Done()
	for {
		select {
		case <-p.shutdown:
			return
		case <-p.wakeCh:
			p.dispatchReady()
		case <-time.After(200 * time.Millisecond):
			// Periodic sweep catches perpetual/retry wakeups that raced the
			// channel, and keeps the loop responsive without busy-looping.
			p.dispatchReady()
		}
	}
}

func (p *Processor) dispatchReady() {
	p.mu.Lock()
	var ready []*types.Operation
	for id, op := range p.ops {
		if p.running[id] || op.Blocked {
			continue
		}
		if len(p.blockedBy[id]) > 0 {
			continue
		}
		ready = append(ready, op)
	}
	for _, op := range ready {
		p.running[op.ID] = true
	}
	p.mu.Unlock()

	for _, op := range ready {
		select {
		case p.workerSem <- struct{}{}:
			p.wg.Add(1)
			go p.runOperation(op)
		default:
			// No free worker slot; put it back for the next sweep.
			p.mu.Lock()
			delete(p.running, op.ID)
			p.mu.Unlock()
		}
	}
}

func (p *Processor) runOperation(op *types.Operation) {
	defer p.wg.Done()
	defer func() { <-p.workerSem }()

	logger := log.WithOperation(op.ID)
	timer := metrics.NewTimer()
	handler := p.handlers[op.Type]
	var err error
	if handler == nil {
		op.State = types.StateComplete
		op.ErrorCode = -1
		op.ErrorMsg = "no handler registered for operation type " + string(op.Type)
	} else {
		err = handler.Execute(context.Background(), p, op)
	}
	timer.ObserveDurationVec(metrics.OperationDuration, string(op.Type))

	if err == ErrInducedFailure {
		p.abort(err)
		return
	}

	p.mu.Lock()
	op.UpdatedAt = time.Now()
	if err != nil {
		logger.Warn().Err(err).Msg("operation execute failed, will retry")
		p.mu.Unlock()
		time.Sleep(retryDelay)
		p.mu.Lock()
		delete(p.running, op.ID)
		p.mu.Unlock()
		p.wake()
		return
	}

	if op.Complete() {
		p.retireLocked(op)
		outcome := "success"
		if op.HasError() {
			outcome = "error"
		}
		metrics.OperationsTotal.WithLabelValues(string(op.Type), outcome).Inc()
		p.mu.Unlock()
		_ = p.persist(op)
	} else {
		delete(p.running, op.ID)
		p.mu.Unlock()
	}
	p.wake()
}

// retireLocked removes op from the graph: purges the three indices,
// releases dependents by deleting edges into/out of op, and re-injects it
// into the perpetual set instead of discarding it if op.Perpetual is set.
// Caller must hold mu.
func (p *Processor) retireLocked(op *types.Operation) {
	delete(p.ops, op.ID)
	delete(p.running, op.ID)
	p.purgeIndicesLocked(op)

	for v := range p.blocks[op.ID] {
		if set := p.blockedBy[v]; set != nil {
			delete(set, op.ID)
		}
	}
	delete(p.blocks, op.ID)
	delete(p.blockedBy, op.ID)
	delete(p.permanent, op.ID)

	metrics.OperationsLive.WithLabelValues(string(op.Type)).Dec()

	if op.Perpetual {
		p.perpetual[op.ID] = op
	} else {
		go func() { _ = p.persistRemoval(op) }()
	}

	p.checkWaitersLocked()
}

// ReactivatePerpetual re-injects a perpetual operation that matches a newly
// observed obstruction label back into the INITIAL state and the graph.
func (p *Processor) ReactivatePerpetual(op *types.Operation) {
	p.mu.Lock()
	if _, ok := p.perpetual[op.ID]; !ok {
		p.mu.Unlock()
		return
	}
	delete(p.perpetual, op.ID)
	op.State = types.StateInitial
	p.mu.Unlock()

	_ = p.AddOperation(op)
}

// MatchingPerpetual returns perpetual operations whose obstruction set
// intersects the given newly-added obstruction labels, for callers that
// want to trigger reactivation on their own labels.
func (p *Processor) MatchingPerpetual(labels []string) []*types.Operation {
	p.mu.Lock()
	defer p.mu.Unlock()
	labelSet := make(map[string]bool, len(labels))
	for _, l := range labels {
		labelSet[l] = true
	}
	var out []*types.Operation
	for _, op := range p.perpetual {
		for _, obs := range op.Obstructions {
			if labelSet[obs] {
				out = append(out, op)
				break
			}
		}
	}
	return out
}

func (p *Processor) checkWaitersLocked() {
	if len(p.ops) == 0 && len(p.emptyWaiters) > 0 {
		for _, ch := range p.emptyWaiters {
			close(ch)
		}
		p.emptyWaiters = nil
	}
	if len(p.running) == 0 && len(p.idleWaiters) > 0 {
		for _, ch := range p.idleWaiters {
			close(ch)
		}
		p.idleWaiters = nil
	}
}

func (p *Processor) abort(reason error) {
	log.Logger.Error().Err(reason).Msg("operation processor aborting on induced failure")
	if p.metalog != nil {
		_ = p.metalog.Close()
	}
	p.Shutdown()
}

// Get returns a live operation by id, or nil if it is not currently live
// (it may have retired, or never existed).
func (p *Processor) Get(id int64) *types.Operation {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ops[id]
}


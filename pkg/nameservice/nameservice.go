// Package nameservice is the client interface to the distributed lock
// service assumed as an external collaborator: strong sessions with
// lock-release events, attribute get/set, and named handles. The interface
// is grounded on the contract the processor and connection manager need
// from it; the in-memory Fake this package also provides for standalone
// operation and tests uses a plain mutex-guarded map, the same idiom a
// node-token registry would use.
package nameservice

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// ErrAttributeNotFound is returned by GetAttribute when the named attribute
// has never been set; callers treat this as an environmental, not fatal,
// condition (e.g. an idempotent delete of something already gone).
var ErrAttributeNotFound = errors.New("nameservice: attribute not found")

// ReleaseEvent is delivered on a session's release channel when the name
// service observes the session holding a named handle's lock has expired
// or disconnected.
type ReleaseEvent struct {
	Handle string
}

// Client is the contract the master needs from the name service: session
// lifecycle with release notification, a handle namespace per server, and
// monotonic attribute counters used to mint proxy names.
type Client interface {
	// OpenSession establishes a session. Release notification is per
	// handle: Session.Lock returns the channel that receives a ReleaseEvent
	// when that handle is released, including when the session is closed.
	OpenSession(ctx context.Context) (Session, error)

	// GetAttribute returns the current value of a named attribute, or
	// ErrAttributeNotFound if it has never been set.
	GetAttribute(ctx context.Context, path, name string) (int64, error)

	// Increment atomically increments a named attribute (creating it at 0
	// first if necessary) and returns its new value. This is the primitive
	// RegisterServer uses to mint proxy-name suffixes.
	Increment(ctx context.Context, path, name string) (int64, error)
}

// Session is a held name-service session; handles created through it are
// released (and a ReleaseEvent delivered to every subscriber) if the
// session is closed or expires.
type Session interface {
	// Lock creates (if needed) and exclusively locks the named handle,
	// returning a release-event channel that receives exactly once when
	// the lock is released for any reason.
	Lock(ctx context.Context, handle string) (<-chan ReleaseEvent, error)

	// Unlock releases a previously acquired lock.
	Unlock(ctx context.Context, handle string) error

	// Close ends the session, releasing every handle it held.
	Close() error
}

// Fake is an in-memory Client/Session implementation for standalone
// operation and tests: no external lock service is required.
type Fake struct {
	mu         sync.Mutex
	attributes map[string]int64
	sessions   map[string]*fakeSession
}

// NewFake creates an empty in-memory name service.
func NewFake() *Fake {
	return &Fake{
		attributes: make(map[string]int64),
		sessions:   make(map[string]*fakeSession),
	}
}

func attrKey(path, name string) string { return path + "\x00" + name }

func (f *Fake) OpenSession(ctx context.Context) (Session, error) {
	s := &fakeSession{
		id:     uuid.NewString(),
		parent: f,
		locks:  make(map[string]chan ReleaseEvent),
	}
	f.mu.Lock()
	f.sessions[s.id] = s
	f.mu.Unlock()
	return s, nil
}

func (f *Fake) GetAttribute(ctx context.Context, path, name string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.attributes[attrKey(path, name)]
	if !ok {
		return 0, ErrAttributeNotFound
	}
	return v, nil
}

func (f *Fake) Increment(ctx context.Context, path, name string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := attrKey(path, name)
	f.attributes[key]++
	return f.attributes[key], nil
}

type fakeSession struct {
	id     string
	parent *Fake
	mu     sync.Mutex
	locks  map[string]chan ReleaseEvent
	closed bool
}

func (s *fakeSession) Lock(ctx context.Context, handle string) (<-chan ReleaseEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan ReleaseEvent, 1)
	s.locks[handle] = ch
	return ch, nil
}

func (s *fakeSession) Unlock(ctx context.Context, handle string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.locks[handle]
	if !ok {
		return nil
	}
	delete(s.locks, handle)
	ch <- ReleaseEvent{Handle: handle}
	close(ch)
	return nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for handle, ch := range s.locks {
		ch <- ReleaseEvent{Handle: handle}
		close(ch)
	}
	s.locks = nil

	s.parent.mu.Lock()
	delete(s.parent.sessions, s.id)
	s.parent.mu.Unlock()
	return nil
}

// counterAllocator mints sequential proxy-name suffixes from a purely
// local, non-distributed source; used where a Client isn't configured at
// all (single-process dev runs). A real deployment calls Client.Increment
// against the name-service attribute path instead.
type counterAllocator struct {
	next int64
}

func (c *counterAllocator) allocate() int64 {
	return atomic.AddInt64(&c.next, 1)
}

var devCounter counterAllocator

// NextDevProxySuffix returns a process-local sequential id, for use only
// when no Client is configured.
func NextDevProxySuffix() int64 {
	return devCounter.allocate()
}

// ProxyNameTimeout bounds how long RegisterServer waits on a name-service
// attribute round trip before treating it as a suspension-point failure.
const ProxyNameTimeout = 5 * time.Second

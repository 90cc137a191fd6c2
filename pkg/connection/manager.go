// Package connection implements the Range-Server Connection Manager: the
// master's membership table of known range servers, their connectivity and
// balance state, and the round-robin server-selection cursor used when
// placing new ranges.
//
// Grounded on original_source/.../RangeServerConnectionManager.h: that type
// keeps one boost multi-index container (sequenced, plus hashed indices on
// location/hostname/public-addr/local-addr) guarded by a mutex and
// condition variable. This package keeps the same lookup surface with
// plain Go maps (one per lookup key) guarded by an RWMutex, and a slice
// cursor standing in for the sequenced index's rotation order — the same
// map-plus-RWMutex shape a node registry would use.
package connection

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/hyperrange/rangemaster/pkg/log"
	"github.com/hyperrange/rangemaster/pkg/metalog"
	"github.com/hyperrange/rangemaster/pkg/metrics"
	"github.com/hyperrange/rangemaster/pkg/types"
)

// ErrServerNotFound is returned when a lookup or mutation names a proxy
// that is not registered.
var ErrServerNotFound = errors.New("connection: server not found")

// ErrNoServerAvailable is returned by NextAvailableServer when no
// connected, eligible server exists.
var ErrNoServerAvailable = errors.New("connection: no server available")

// Manager is the Range-Server Connection Manager.
type Manager struct {
	mu sync.RWMutex

	byProxy      map[string]*types.Connection
	byHostname   map[string]string // hostname -> proxy
	byPublicAddr map[string]string
	byLocalAddr  map[string]string

	order  []string // proxy names in add order, the rotation sequence
	cursor int

	diskFillThreshold float64

	metalog *metalog.Writer
}

// New creates a connection manager. diskFillThreshold is the fraction
// (0..1) of disk usage above which a server is skipped by
// NextAvailableServer unless the caller asks for an urgent placement.
func New(diskFillThreshold float64, mlog *metalog.Writer) *Manager {
	return &Manager{
		byProxy:           make(map[string]*types.Connection),
		byHostname:        make(map[string]string),
		byPublicAddr:      make(map[string]string),
		byLocalAddr:       make(map[string]string),
		diskFillThreshold: diskFillThreshold,
		metalog:           mlog,
	}
}

// AddServer registers a new range-server connection record.
func (m *Manager) AddServer(conn *types.Connection) error {
	m.mu.Lock()
	if _, exists := m.byProxy[conn.ProxyName]; !exists {
		m.order = append(m.order, conn.ProxyName)
	}
	m.byProxy[conn.ProxyName] = conn
	m.indexLocked(conn)
	m.mu.Unlock()
	m.refreshMetric()
	return m.persist(conn)
}

func (m *Manager) indexLocked(conn *types.Connection) {
	if conn.Hostname != "" {
		m.byHostname[conn.Hostname] = conn.ProxyName
	}
	if conn.PublicAddr != "" {
		m.byPublicAddr[conn.PublicAddr] = conn.ProxyName
	}
	if conn.LocalAddr != "" {
		m.byLocalAddr[conn.LocalAddr] = conn.ProxyName
	}
}

// ConnectServer marks a server connected, recording its current addresses.
func (m *Manager) ConnectServer(proxy, hostname, localAddr, publicAddr string) error {
	m.mu.Lock()
	conn, ok := m.byProxy[proxy]
	if !ok {
		m.mu.Unlock()
		return ErrServerNotFound
	}
	conn.Hostname = hostname
	conn.LocalAddr = localAddr
	conn.PublicAddr = publicAddr
	conn.State |= types.ConnConnected
	conn.State &^= types.ConnRemoved
	m.indexLocked(conn)
	m.mu.Unlock()
	log.WithProxy(proxy).Info().Msg("range server connected")
	m.refreshMetric()
	return m.persist(conn)
}

// DisconnectServer marks a server disconnected without removing its
// membership record.
func (m *Manager) DisconnectServer(proxy string) error {
	m.mu.Lock()
	conn, ok := m.byProxy[proxy]
	if !ok {
		m.mu.Unlock()
		return ErrServerNotFound
	}
	conn.State &^= types.ConnConnected
	m.mu.Unlock()
	log.WithProxy(proxy).Warn().Msg("range server disconnected")
	m.refreshMetric()
	return m.persist(conn)
}

// IsConnected reports whether proxy is currently connected.
func (m *Manager) IsConnected(proxy string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conn, ok := m.byProxy[proxy]
	return ok && conn.Connected()
}

// EraseServer removes a server's membership record entirely.
func (m *Manager) EraseServer(proxy string) *types.Connection {
	m.mu.Lock()
	conn, ok := m.byProxy[proxy]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	delete(m.byProxy, proxy)
	if conn.Hostname != "" {
		delete(m.byHostname, conn.Hostname)
	}
	if conn.PublicAddr != "" {
		delete(m.byPublicAddr, conn.PublicAddr)
	}
	if conn.LocalAddr != "" {
		delete(m.byLocalAddr, conn.LocalAddr)
	}
	for i, p := range m.order {
		if p == proxy {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	m.mu.Unlock()
	m.refreshMetric()
	if m.metalog != nil {
		_ = m.metalog.RecordRemoval(types.EntityTypeConnection, proxy)
	}
	return conn
}

// FindServerByProxy looks up a connection record by proxy name.
func (m *Manager) FindServerByProxy(proxy string) (*types.Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conn, ok := m.byProxy[proxy]
	return conn, ok
}

// FindServerByHostname looks up a connection record by hostname.
func (m *Manager) FindServerByHostname(hostname string) (*types.Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	proxy, ok := m.byHostname[hostname]
	if !ok {
		return nil, false
	}
	conn, ok := m.byProxy[proxy]
	return conn, ok
}

// FindServerByPublicAddr looks up a connection record by public address.
func (m *Manager) FindServerByPublicAddr(addr string) (*types.Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	proxy, ok := m.byPublicAddr[addr]
	if !ok {
		return nil, false
	}
	conn, ok := m.byProxy[proxy]
	return conn, ok
}

// FindServerByLocalAddr looks up a connection record by local address.
func (m *Manager) FindServerByLocalAddr(addr string) (*types.Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	proxy, ok := m.byLocalAddr[addr]
	if !ok {
		return nil, false
	}
	conn, ok := m.byProxy[proxy]
	return conn, ok
}

// NextAvailableServer rotates through the known servers and returns the
// next one eligible for a new range assignment: connected, not removed, not
// recovering, and under the disk-fill threshold. If urgent is true and no
// server satisfies the disk-fill threshold, the least-full eligible server
// is returned instead of failing.
func (m *Manager) NextAvailableServer(urgent bool) (*types.Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.order)
	if n == 0 {
		return nil, ErrNoServerAvailable
	}

	var leastFull *types.Connection
	for i := 0; i < n; i++ {
		idx := (m.cursor + i) % n
		conn := m.byProxy[m.order[idx]]
		if conn == nil || !conn.Connected() || conn.Removed() || conn.Recovering() {
			continue
		}
		if leastFull == nil || conn.DiskFillPct < leastFull.DiskFillPct {
			leastFull = conn
		}
		if conn.DiskFillPct <= m.diskFillThreshold {
			m.cursor = (idx + 1) % n
			return conn, nil
		}
	}

	if urgent && leastFull != nil {
		return leastFull, nil
	}
	return nil, ErrNoServerAvailable
}

// GetUnbalancedServers returns every connected server not yet marked
// balanced.
func (m *Manager) GetUnbalancedServers() []*types.Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*types.Connection
	for _, proxy := range m.order {
		conn := m.byProxy[proxy]
		if conn.Connected() && !conn.Balanced() {
			out = append(out, conn)
		}
	}
	return out
}

// SetServersBalanced marks the given proxies balanced.
func (m *Manager) SetServersBalanced(proxies []string) {
	m.mu.Lock()
	for _, proxy := range proxies {
		if conn, ok := m.byProxy[proxy]; ok {
			conn.State |= types.ConnBalanced
		}
	}
	m.mu.Unlock()
}

// ExistUnbalancedServers reports whether any connected server is not yet
// balanced.
func (m *Manager) ExistUnbalancedServers() bool {
	return len(m.GetUnbalancedServers()) > 0
}

// ServerCount returns the total number of registered servers.
func (m *Manager) ServerCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byProxy)
}

// ConnectedServerCount returns the number of currently connected servers.
func (m *Manager) ConnectedServerCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, conn := range m.byProxy {
		if conn.Connected() {
			count++
		}
	}
	return count
}

// GetServers returns every registered connection record in stable
// registration (add) order.
func (m *Manager) GetServers() []*types.Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*types.Connection, 0, len(m.byProxy))
	for _, proxy := range m.order {
		out = append(out, m.byProxy[proxy])
	}
	return out
}

// GetValidConnections returns every connected, non-removed server.
func (m *Manager) GetValidConnections() []*types.Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*types.Connection
	for _, proxy := range m.order {
		conn := m.byProxy[proxy]
		if conn.Connected() && !conn.Removed() {
			out = append(out, conn)
		}
	}
	return out
}

// GetConnectedServers returns the proxy names of every connected server,
// sorted for deterministic output (e.g. quorum checks).
func (m *Manager) GetConnectedServers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for proxy, conn := range m.byProxy {
		if conn.Connected() {
			out = append(out, proxy)
		}
	}
	sort.Strings(out)
	return out
}

// SetRangeServerState overwrites a server's connection state bitmask
// directly (used when transitioning into/out of recovery).
func (m *Manager) SetRangeServerState(proxy string, state types.ConnectionState) error {
	m.mu.Lock()
	conn, ok := m.byProxy[proxy]
	if !ok {
		m.mu.Unlock()
		return ErrServerNotFound
	}
	conn.State = state
	m.mu.Unlock()
	return m.persist(conn)
}

func (m *Manager) refreshMetric() {
	m.mu.RLock()
	counts := map[string]int{"connected": 0, "removed": 0, "recovering": 0, "balanced": 0}
	for _, conn := range m.byProxy {
		if conn.Connected() {
			counts["connected"]++
		}
		if conn.Removed() {
			counts["removed"]++
		}
		if conn.Recovering() {
			counts["recovering"]++
		}
		if conn.Balanced() {
			counts["balanced"]++
		}
	}
	m.mu.RUnlock()
	for state, n := range counts {
		metrics.ConnectionsTotal.WithLabelValues(state).Set(float64(n))
	}
}

func (m *Manager) persist(conn *types.Connection) error {
	if m.metalog == nil {
		return nil
	}
	data, err := encodeConnection(conn)
	if err != nil {
		return err
	}
	return m.metalog.RecordState(types.MetalogEntity{
		TypeTag:  types.EntityTypeConnection,
		EntityID: conn.ProxyName,
		Payload:  data,
	})
}

// RemovedAtNow stamps a connection's RemovedAt to the current time when it
// transitions into the removed state (called by callers that flip
// ConnRemoved on directly, e.g. the recovery handler).
func RemovedAtNow(conn *types.Connection) {
	conn.RemovedAt = time.Now()
}

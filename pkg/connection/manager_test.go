package connection

import (
	"testing"

	"github.com/hyperrange/rangemaster/pkg/types"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	return New(0.9, nil)
}

func TestNextAvailableServerRotatesAndSkipsIneligible(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.AddServer(&types.Connection{ProxyName: "rs1", State: types.ConnConnected}))
	require.NoError(t, m.AddServer(&types.Connection{ProxyName: "rs2", State: types.ConnConnected | types.ConnRecovering}))
	require.NoError(t, m.AddServer(&types.Connection{ProxyName: "rs3", State: types.ConnConnected}))

	first, err := m.NextAvailableServer(false)
	require.NoError(t, err)
	require.Equal(t, "rs1", first.ProxyName)

	second, err := m.NextAvailableServer(false)
	require.NoError(t, err)
	require.Equal(t, "rs3", second.ProxyName, "rs2 is recovering and must be skipped")

	third, err := m.NextAvailableServer(false)
	require.NoError(t, err)
	require.Equal(t, "rs1", third.ProxyName, "rotation wraps back to rs1")
}

func TestNextAvailableServerUrgentFallsBackToLeastFull(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.AddServer(&types.Connection{ProxyName: "rs1", State: types.ConnConnected, DiskFillPct: 0.95}))
	require.NoError(t, m.AddServer(&types.Connection{ProxyName: "rs2", State: types.ConnConnected, DiskFillPct: 0.99}))

	_, err := m.NextAvailableServer(false)
	require.ErrorIs(t, err, ErrNoServerAvailable)

	conn, err := m.NextAvailableServer(true)
	require.NoError(t, err)
	require.Equal(t, "rs1", conn.ProxyName)
}

func TestEraseServerRemovesAllIndices(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.AddServer(&types.Connection{
		ProxyName: "rs1", Hostname: "host1", PublicAddr: "10.0.0.1:15860", LocalAddr: "127.0.0.1:15860",
	}))

	erased := m.EraseServer("rs1")
	require.NotNil(t, erased)

	_, ok := m.FindServerByProxy("rs1")
	require.False(t, ok)
	_, ok = m.FindServerByHostname("host1")
	require.False(t, ok)
	_, ok = m.FindServerByPublicAddr("10.0.0.1:15860")
	require.False(t, ok)
	require.Equal(t, 0, m.ServerCount())
}

func TestBalanceTracking(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.AddServer(&types.Connection{ProxyName: "rs1", State: types.ConnConnected}))
	require.NoError(t, m.AddServer(&types.Connection{ProxyName: "rs2", State: types.ConnConnected}))

	require.True(t, m.ExistUnbalancedServers())
	m.SetServersBalanced([]string{"rs1", "rs2"})
	require.False(t, m.ExistUnbalancedServers())
}

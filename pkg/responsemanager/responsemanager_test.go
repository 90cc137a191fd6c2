package responsemanager

import (
	"testing"
	"time"

	"github.com/hyperrange/rangemaster/pkg/types"
	"github.com/stretchr/testify/require"
)

func TestOperationArrivesBeforeFetch(t *testing.T) {
	m := New(time.Minute, time.Hour)
	defer m.Shutdown()

	op := &types.Operation{ID: 1, State: types.StateComplete}
	m.AddOperation(op)

	ch := m.AddDeliveryInfo(1)
	select {
	case got := <-ch:
		require.Same(t, op, got)
	case <-time.After(time.Second):
		t.Fatal("expected immediate delivery")
	}
}

func TestFetchArrivesBeforeOperation(t *testing.T) {
	m := New(time.Minute, time.Hour)
	defer m.Shutdown()

	ch := m.AddDeliveryInfo(1)

	op := &types.Operation{ID: 1, State: types.StateComplete}
	go m.AddOperation(op)

	select {
	case got := <-ch:
		require.Same(t, op, got)
	case <-time.After(time.Second):
		t.Fatal("expected delivery once the operation arrives")
	}
}

func TestExpirationDropsStaleWaiter(t *testing.T) {
	m := New(20*time.Millisecond, 10*time.Millisecond)
	defer m.Shutdown()

	ch := m.AddDeliveryInfo(1)
	select {
	case got := <-ch:
		require.Nil(t, got)
	case <-time.After(time.Second):
		t.Fatal("expected expiration to release the waiter")
	}
}

func TestShutdownReleasesWaiters(t *testing.T) {
	m := New(time.Minute, time.Hour)
	ch := m.AddDeliveryInfo(1)
	m.Shutdown()

	select {
	case got := <-ch:
		require.Nil(t, got)
	case <-time.After(time.Second):
		t.Fatal("expected shutdown to release pending waiters")
	}
}

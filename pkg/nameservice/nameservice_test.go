package nameservice

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIncrementIsMonotonic(t *testing.T) {
	f := NewFake()
	ctx := context.Background()

	v1, err := f.Increment(ctx, "/servers", "next_id")
	require.NoError(t, err)
	v2, err := f.Increment(ctx, "/servers", "next_id")
	require.NoError(t, err)
	require.Equal(t, v1+1, v2)
}

func TestGetAttributeNotFound(t *testing.T) {
	f := NewFake()
	_, err := f.GetAttribute(context.Background(), "/servers", "missing")
	require.ErrorIs(t, err, ErrAttributeNotFound)
}

func TestLockReleaseOnUnlock(t *testing.T) {
	f := NewFake()
	ctx := context.Background()

	session, err := f.OpenSession(ctx)
	require.NoError(t, err)

	releaseCh, err := session.Lock(ctx, "rs1")
	require.NoError(t, err)

	require.NoError(t, session.Unlock(ctx, "rs1"))

	ev, ok := <-releaseCh
	require.True(t, ok)
	require.Equal(t, "rs1", ev.Handle)
}

func TestSessionCloseReleasesAllHandles(t *testing.T) {
	f := NewFake()
	ctx := context.Background()

	session, err := f.OpenSession(ctx)
	require.NoError(t, err)

	ch1, err := session.Lock(ctx, "rs1")
	require.NoError(t, err)
	ch2, err := session.Lock(ctx, "rs2")
	require.NoError(t, err)

	require.NoError(t, session.Close())

	_, ok1 := <-ch1
	_, ok2 := <-ch2
	require.True(t, ok1)
	require.True(t, ok2)
}

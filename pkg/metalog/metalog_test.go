package metalog

import (
	"testing"

	"github.com/hyperrange/rangemaster/pkg/types"
	"github.com/stretchr/testify/require"
)

func TestRecordStateAndReplay(t *testing.T) {
	w, err := Open(t.TempDir())
	require.NoError(t, err)
	defer w.Close()

	err = w.RecordState(
		types.MetalogEntity{TypeTag: types.EntityTypeOperation, EntityID: "A", Payload: []byte(`{"id":1}`)},
		types.MetalogEntity{TypeTag: types.EntityTypeOperation, EntityID: "B", Payload: []byte(`{"id":2}`)},
	)
	require.NoError(t, err)

	entries, err := w.Replay(types.EntityTypeOperation)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "A", entries[0].EntityID)
	require.Equal(t, "B", entries[1].EntityID)
}

func TestReplayDropsTombstonedEntities(t *testing.T) {
	w, err := Open(t.TempDir())
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.RecordState(types.MetalogEntity{TypeTag: types.EntityTypeOperation, EntityID: "A"}))
	require.NoError(t, w.RecordState(types.MetalogEntity{TypeTag: types.EntityTypeOperation, EntityID: "B"}))
	require.NoError(t, w.RecordRemoval(types.EntityTypeOperation, "A"))

	entries, err := w.Replay(types.EntityTypeOperation)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "B", entries[0].EntityID)
}

func TestReplayPreservesInsertionOrderAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir)
	require.NoError(t, err)

	require.NoError(t, w.RecordState(types.MetalogEntity{TypeTag: types.EntityTypeConnection, EntityID: "rs1"}))
	require.NoError(t, w.RecordState(types.MetalogEntity{TypeTag: types.EntityTypeConnection, EntityID: "rs2"}))
	require.NoError(t, w.Close())

	w2, err := Open(dir)
	require.NoError(t, err)
	defer w2.Close()

	require.NoError(t, w2.RecordState(types.MetalogEntity{TypeTag: types.EntityTypeConnection, EntityID: "rs3"}))
	entries, err := w2.Replay(types.EntityTypeConnection)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Equal(t, "rs1", entries[0].EntityID)
	require.Equal(t, "rs2", entries[1].EntityID)
	require.Equal(t, "rs3", entries[2].EntityID)
}

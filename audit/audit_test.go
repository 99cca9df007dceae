package audit

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(":memory:")
	require.NoError(t, err)
	return store
}

func TestRecordAndByUUID_ReturnsNewestFirst(t *testing.T) {
	store := openTestStore(t)

	require.NoError(t, store.Record("uuid-1", ActionSigned, "signed ok", "nonproduction"))
	require.NoError(t, store.Record("uuid-1", ActionReported, "accepted", "nonproduction"))
	require.NoError(t, store.Record("uuid-2", ActionSigned, "other invoice", "nonproduction"))

	logs, err := store.ByUUID("uuid-1")
	require.NoError(t, err)
	require.Len(t, logs, 2)
	require.Equal(t, ActionReported, logs[0].Action)
	require.Equal(t, ActionSigned, logs[1].Action)
}

func TestRecent_LimitsAcrossAllDocuments(t *testing.T) {
	store := openTestStore(t)

	require.NoError(t, store.Record("uuid-1", ActionSigned, "a", "nonproduction"))
	require.NoError(t, store.Record("uuid-2", ActionSigned, "b", "nonproduction"))
	require.NoError(t, store.Record("uuid-3", ActionRejected, "c", "production"))

	logs, err := store.Recent(2)
	require.NoError(t, err)
	require.Len(t, logs, 2)
}

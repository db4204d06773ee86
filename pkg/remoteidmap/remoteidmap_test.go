package remoteidmap_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/solstice-pim/resourcesync/pkg/datastore"
	"github.com/solstice-pim/resourcesync/pkg/remoteidmap"
)

func openMap(t *testing.T) (*datastore.Tx, *remoteidmap.Map) {
	t.Helper()
	db, err := datastore.Open(filepath.Join(t.TempDir(), "sync.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	tx, err := db.BeginWrite()
	require.NoError(t, err)
	m, err := remoteidmap.Open(tx)
	require.NoError(t, err)
	return tx, m
}

func TestBindAndResolveBothDirections(t *testing.T) {
	tx, m := openMap(t)
	defer tx.Abort()

	require.NoError(t, m.Bind("uid-1", "imap://inbox/42"))

	remoteID, ok := m.ResolveRemoteID("uid-1")
	require.True(t, ok)
	require.Equal(t, "imap://inbox/42", remoteID)

	uid, ok := m.ResolveUID("imap://inbox/42")
	require.True(t, ok)
	require.Equal(t, "uid-1", uid)
}

func TestResolveOrAllocateCreatesOnce(t *testing.T) {
	tx, m := openMap(t)
	defer tx.Abort()

	uid1, created1, err := m.ResolveOrAllocate("remote-a")
	require.NoError(t, err)
	require.True(t, created1)

	uid2, created2, err := m.ResolveOrAllocate("remote-a")
	require.NoError(t, err)
	require.False(t, created2)
	require.Equal(t, uid1, uid2)
}

func TestRebindDropsOldReverseMapping(t *testing.T) {
	tx, m := openMap(t)
	defer tx.Abort()

	require.NoError(t, m.Bind("uid-1", "old-remote"))
	require.NoError(t, m.Rebind("uid-1", "new-remote"))

	_, ok := m.ResolveUID("old-remote")
	require.False(t, ok)

	uid, ok := m.ResolveUID("new-remote")
	require.True(t, ok)
	require.Equal(t, "uid-1", uid)
}

func TestUnbindRemovesBothDirections(t *testing.T) {
	tx, m := openMap(t)
	defer tx.Abort()

	require.NoError(t, m.Bind("uid-1", "remote-1"))
	require.NoError(t, m.Unbind("uid-1"))

	_, ok := m.ResolveRemoteID("uid-1")
	require.False(t, ok)
	_, ok = m.ResolveUID("remote-1")
	require.False(t, ok)
}

func TestUnbindUnknownUIDIsNoop(t *testing.T) {
	tx, m := openMap(t)
	defer tx.Abort()
	require.NoError(t, m.Unbind("never-bound"))
}

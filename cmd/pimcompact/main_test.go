package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/solstice-pim/resourcesync/pkg/datastore"
	"github.com/solstice-pim/resourcesync/pkg/entitybuffer"
	"github.com/solstice-pim/resourcesync/pkg/entitystore"
	"github.com/solstice-pim/resourcesync/pkg/types"
)

func openTestStore(t *testing.T) (*datastore.Database, *entitystore.Store) {
	t.Helper()
	db, err := datastore.Open(filepath.Join(t.TempDir(), "main.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, entitystore.New(entitystore.DefaultRegistry())
}

func seedFolderRevisions(t *testing.T, db *datastore.Database, store *entitystore.Store, count int) string {
	t.Helper()
	tx, err := db.BeginWrite()
	require.NoError(t, err)
	buf, err := types.Encode(&types.Folder{Name: "INBOX"})
	require.NoError(t, err)

	uid, _, err := store.Create(tx, string(types.TypeFolder), buf, buf, nil, false)
	require.NoError(t, err)
	for i := 1; i < count; i++ {
		_, err := store.Modify(tx, string(types.TypeFolder), uid, func(current entitybuffer.Record, currentProps types.PropertySet) ([]byte, types.PropertySet, bool, error) {
			return buf, currentProps, false, nil
		})
		require.NoError(t, err)
	}
	require.NoError(t, tx.Commit())
	return uid
}

func TestCompactTypeDryRunDoesNotMutate(t *testing.T) {
	db, store := openTestStore(t)
	seedFolderRevisions(t, db, store, 3)

	removed, err := compactType(db, store, string(types.TypeFolder), true)
	require.NoError(t, err)
	// The dry run reports maxRevision - cleanedUpRevision, an upper bound
	// on what a real sweep removes (2 here).
	require.Equal(t, 3, removed)

	tx, err := db.BeginRead()
	require.NoError(t, err)
	defer tx.Abort()
	cleaned, err := store.CleanedUpRevision(tx)
	require.NoError(t, err)
	require.Equal(t, uint64(0), cleaned)
}

func TestCompactTypeRemovesSupersededRevisions(t *testing.T) {
	db, store := openTestStore(t)
	uid := seedFolderRevisions(t, db, store, 3)

	removed, err := compactType(db, store, string(types.TypeFolder), false)
	require.NoError(t, err)
	require.Equal(t, 2, removed)

	tx, err := db.BeginRead()
	require.NoError(t, err)
	defer tx.Abort()

	cleaned, err := store.CleanedUpRevision(tx)
	require.NoError(t, err)
	maxRev, err := store.MaxRevision(tx)
	require.NoError(t, err)
	require.Equal(t, maxRev, cleaned)

	rec, err := store.ReadLatest(tx, string(types.TypeFolder), uid)
	require.NoError(t, err)
	require.Equal(t, uint64(3), rec.Revision)
}

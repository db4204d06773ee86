package datastore_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/solstice-pim/resourcesync/pkg/datastore"
)

func openTest(t *testing.T) *datastore.Database {
	t.Helper()
	dir := t.TempDir()
	db, err := datastore.Open(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestPutGetCommit(t *testing.T) {
	db := openTest(t)

	tx, err := db.BeginWrite()
	require.NoError(t, err)
	b, err := tx.Bucket("mail.main")
	require.NoError(t, err)
	require.NoError(t, b.Put([]byte("k1"), []byte("v1")))
	require.NoError(t, tx.Commit())

	rtx, err := db.BeginRead()
	require.NoError(t, err)
	defer rtx.Abort()
	rb, err := rtx.Bucket("mail.main")
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), rb.Get([]byte("k1")))
}

func TestGetMissingReturnsNil(t *testing.T) {
	db := openTest(t)
	tx, err := db.BeginWrite()
	require.NoError(t, err)
	b, err := tx.Bucket("mail.main")
	require.NoError(t, err)
	require.Nil(t, b.Get([]byte("absent")))
	require.NoError(t, tx.Abort())
}

func TestBucketOnReadTxBeforeCreationIsNotFound(t *testing.T) {
	db := openTest(t)
	rtx, err := db.BeginRead()
	require.NoError(t, err)
	defer rtx.Abort()
	_, err = rtx.Bucket("never.created")
	require.Error(t, err)
}

func TestScanPrefixOrdered(t *testing.T) {
	db := openTest(t)
	tx, err := db.BeginWrite()
	require.NoError(t, err)
	b, err := tx.Bucket("folder.index.parent")
	require.NoError(t, err)
	require.NoError(t, b.Put([]byte("p1\x00uidA"), nil))
	require.NoError(t, b.Put([]byte("p1\x00uidB"), nil))
	require.NoError(t, b.Put([]byte("p2\x00uidC"), nil))
	require.NoError(t, tx.Commit())

	rtx, err := db.BeginRead()
	require.NoError(t, err)
	defer rtx.Abort()
	rb, err := rtx.Bucket("folder.index.parent")
	require.NoError(t, err)

	var seen []string
	require.NoError(t, rb.Scan([]byte("p1\x00"), func(k, v []byte) error {
		seen = append(seen, string(k))
		return nil
	}))
	require.Equal(t, []string{"p1\x00uidA", "p1\x00uidB"}, seen)
}

func TestRemoveRange(t *testing.T) {
	db := openTest(t)
	tx, err := db.BeginWrite()
	require.NoError(t, err)
	b, err := tx.Bucket("userqueue")
	require.NoError(t, err)
	require.NoError(t, b.Put([]byte("a1"), []byte("x")))
	require.NoError(t, b.Put([]byte("a2"), []byte("y")))
	require.NoError(t, b.Put([]byte("b1"), []byte("z")))
	require.NoError(t, tx.Commit())

	tx2, err := db.BeginWrite()
	require.NoError(t, err)
	b2, err := tx2.Bucket("userqueue")
	require.NoError(t, err)
	require.NoError(t, b2.RemoveRange([]byte("a")))
	require.NoError(t, tx2.Commit())

	rtx, err := db.BeginRead()
	require.NoError(t, err)
	defer rtx.Abort()
	rb, err := rtx.Bucket("userqueue")
	require.NoError(t, err)
	require.Nil(t, rb.Get([]byte("a1")))
	require.Equal(t, []byte("z"), rb.Get([]byte("b1")))
}

// Package datastore is a transactional ordered key/value store over named
// sub-databases, with MVCC read transactions and a single-writer write
// transaction, built on go.etcd.io/bbolt with buckets created on demand,
// since a resource process opens one <type>.main and one
// <type>.index.<property> bucket per declared entity type and indexable
// property rather than a handful of fixed collections.
package datastore

import (
	"bytes"
	"errors"
	"os"
	"syscall"

	bolt "go.etcd.io/bbolt"

	"github.com/solstice-pim/resourcesync/pkg/resourceerr"
)

// Database is one bbolt environment (one file on disk): either a
// resource's main database or its synchronization database.
type Database struct {
	db   *bolt.DB
	path string
}

// Open opens (creating if absent) the bbolt environment at path.
func Open(path string) (*Database, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, classify("datastore.Open", err)
	}
	return &Database{db: db, path: path}, nil
}

// Close closes the environment.
func (d *Database) Close() error {
	if err := d.db.Close(); err != nil {
		return classify("datastore.Close", err)
	}
	return nil
}

// Path returns the on-disk file path this Database was opened from.
func (d *Database) Path() string { return d.path }

// Tx is a transaction over one or more named sub-databases. Read
// transactions see a consistent MVCC snapshot; only one write
// transaction may be open at a time, matching bbolt's single-writer
// model.
type Tx struct {
	tx       *bolt.Tx
	writable bool
}

// BeginRead starts a read-only snapshot transaction. Multiple concurrent
// readers are allowed and all see a consistent view.
func (d *Database) BeginRead() (*Tx, error) {
	tx, err := d.db.Begin(false)
	if err != nil {
		return nil, classify("datastore.BeginRead", err)
	}
	return &Tx{tx: tx, writable: false}, nil
}

// BeginWrite starts the single exclusive write transaction.
func (d *Database) BeginWrite() (*Tx, error) {
	tx, err := d.db.Begin(true)
	if err != nil {
		return nil, classify("datastore.BeginWrite", err)
	}
	return &Tx{tx: tx, writable: true}, nil
}

// Commit makes all writes in the transaction durable before returning.
// For read transactions it simply releases the snapshot.
func (t *Tx) Commit() error {
	if !t.writable {
		return t.Abort()
	}
	if err := t.tx.Commit(); err != nil {
		return classify("datastore.Commit", err)
	}
	return nil
}

// Abort discards the transaction's writes (a no-op side effect for a
// read transaction beyond releasing the snapshot).
func (t *Tx) Abort() error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, bolt.ErrTxClosed) {
		return classify("datastore.Abort", err)
	}
	return nil
}

// Bucket returns the named sub-database within this transaction. Write
// transactions create the bucket on first use; read transactions
// return a NotFound error if it has never been created.
func (t *Tx) Bucket(name string) (*Bucket, error) {
	key := []byte(name)
	if t.writable {
		b, err := t.tx.CreateBucketIfNotExists(key)
		if err != nil {
			return nil, classify("datastore.Bucket", err)
		}
		return &Bucket{b: b, name: name}, nil
	}
	b := t.tx.Bucket(key)
	if b == nil {
		return nil, resourceerr.New(resourceerr.KindNotFound, "datastore.Bucket", name, os.ErrNotExist)
	}
	return &Bucket{b: b, name: name}, nil
}

// Bucket is one named sub-database (e.g. "mail.main",
// "folder.index.parent", "userqueue").
type Bucket struct {
	b    *bolt.Bucket
	name string
}

// Put writes key -> value, overwriting any existing value.
func (b *Bucket) Put(key, value []byte) error {
	if err := b.b.Put(key, value); err != nil {
		return classify("datastore.Put", err)
	}
	return nil
}

// Get reads the value for key, returning (nil, nil) if absent — callers
// distinguish "absent" from "error" themselves, matching bbolt's own
// idiom.
func (b *Bucket) Get(key []byte) []byte {
	v := b.b.Get(key)
	if v == nil {
		return nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out
}

// Remove deletes key, if present. Idempotent.
func (b *Bucket) Remove(key []byte) error {
	if err := b.b.Delete(key); err != nil {
		return classify("datastore.Remove", err)
	}
	return nil
}

// Visitor is called once per matching key during Scan, in ascending key
// order. Returning an error stops the scan and is propagated to the
// caller of Scan.
type Visitor func(key, value []byte) error

// Scan iterates all keys with the given prefix in ascending order.
func (b *Bucket) Scan(prefix []byte, visit Visitor) error {
	c := b.b.Cursor()
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		if err := visit(k, v); err != nil {
			return err
		}
	}
	return nil
}

// RemoveRange deletes every key with the given prefix.
func (b *Bucket) RemoveRange(prefix []byte) error {
	c := b.b.Cursor()
	var keys [][]byte
	for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
		cp := make([]byte, len(k))
		copy(cp, k)
		keys = append(keys, cp)
	}
	for _, k := range keys {
		if err := b.b.Delete(k); err != nil {
			return classify("datastore.RemoveRange", err)
		}
	}
	return nil
}

// First returns the lowest key/value pair in the bucket, or (nil, nil)
// if empty. Used by pkg/queue to implement peek_front.
func (b *Bucket) First() (key, value []byte) {
	k, v := b.b.Cursor().First()
	return k, v
}

// classify maps a bbolt/OS error onto the resourceerr kind taxonomy so
// that callers up the stack can make retry/fatal decisions without
// importing bbolt themselves.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, bolt.ErrTimeout):
		return resourceerr.New(resourceerr.KindLockTimeout, op, "", err)
	case errors.Is(err, bolt.ErrDatabaseNotOpen), errors.Is(err, bolt.ErrTxClosed):
		return resourceerr.New(resourceerr.KindIOError, op, "", err)
	case errors.Is(err, bolt.ErrInvalid), errors.Is(err, bolt.ErrChecksum), errors.Is(err, bolt.ErrVersionMismatch):
		return resourceerr.New(resourceerr.KindStorageCorruption, op, "", err)
	case errors.Is(err, syscall.ENOSPC):
		return resourceerr.New(resourceerr.KindStorageFull, op, "", err)
	default:
		return resourceerr.New(resourceerr.KindIOError, op, "", err)
	}
}

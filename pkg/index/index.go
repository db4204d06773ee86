// Package index is a thin typed wrapper over a datastore.Bucket
// implementing a secondary, non-unique mapping from an indexable property
// value to the set of uids currently holding that value. Entries are
// stored as "<value>\x00<uid>" keys with an empty value, a
// multi-value-via-composite-key trick so Lookup is just a prefix scan and
// needs no separate value decoding.
package index

import (
	"bytes"

	"github.com/solstice-pim/resourcesync/pkg/datastore"
)

const sep = 0x00

// Index operates on one "<type>.index.<property>" bucket within an
// already-open transaction; it never opens or commits transactions itself,
// so callers can batch several index updates into the same write as the
// entity commit, keeping the index updated atomically with the owning
// entity write.
type Index struct {
	bucket *datastore.Bucket
}

// New wraps an already-opened bucket.
func New(bucket *datastore.Bucket) *Index {
	return &Index{bucket: bucket}
}

func compositeKey(value, uid string) []byte {
	key := make([]byte, 0, len(value)+1+len(uid))
	key = append(key, value...)
	key = append(key, sep)
	key = append(key, uid...)
	return key
}

// Add records that uid currently holds value for the indexed property.
func (idx *Index) Add(value, uid string) error {
	return idx.bucket.Put(compositeKey(value, uid), nil)
}

// Remove drops the (value, uid) entry. Idempotent: removing an entry that
// was never added, or was already removed, is not an error.
func (idx *Index) Remove(value, uid string) error {
	return idx.bucket.Remove(compositeKey(value, uid))
}

// Lookup returns every uid currently indexed under value, in ascending
// uid order.
func (idx *Index) Lookup(value string) ([]string, error) {
	prefix := append([]byte(value), sep)
	var uids []string
	err := idx.bucket.Scan(prefix, func(key, _ []byte) error {
		uids = append(uids, string(key[len(prefix):]))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return uids, nil
}

// Rebind moves uid's entry from oldValue to newValue in one call, used when
// a property changes across revisions (e.g. a mail moving folders).
func (idx *Index) Rebind(oldValue, newValue, uid string) error {
	if oldValue == newValue {
		return nil
	}
	if oldValue != "" {
		if err := idx.Remove(oldValue, uid); err != nil {
			return err
		}
	}
	if newValue != "" {
		if err := idx.Add(newValue, uid); err != nil {
			return err
		}
	}
	return nil
}

// HasPrefix reports whether key was produced from the given value prefix;
// exported for callers composing scans across the composite key layout
// without reimplementing the separator convention.
func HasPrefix(key []byte, value string) bool {
	prefix := append([]byte(value), sep)
	return bytes.HasPrefix(key, prefix)
}

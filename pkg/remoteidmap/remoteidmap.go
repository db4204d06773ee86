// Package remoteidmap implements a bidirectional mapping between
// locally-allocated uids and the remote identifiers a source assigns (an
// IMAP UID, a CalDAV href+ETag, a CardDAV href). It lives in the
// synchronization database, never the main one, since remote-id bindings
// are sync-engine bookkeeping rather than entity history.
//
// uids are allocated with google/uuid (v4, random) rather than derived
// from the remote id — a local uid must stay stable across a source
// migration that reassigns remote ids.
package remoteidmap

import (
	"github.com/google/uuid"

	"github.com/solstice-pim/resourcesync/pkg/datastore"
	"github.com/solstice-pim/resourcesync/pkg/resourceerr"
)

const (
	bucketByUID      = "remoteidmap.by_uid"
	bucketByRemoteID = "remoteidmap.by_remote"
)

// Map operates within a caller-supplied transaction on the
// synchronization database, so rebind/unbind can be committed atomically
// with the other synchronization-database writes of the same step (replay
// commits a rebind together with its lastReplayedRevision update).
type Map struct {
	byUID      *datastore.Bucket
	byRemoteID *datastore.Bucket
}

// Open returns the Map's two buckets within tx. A write transaction
// creates them on first use; in a read transaction a never-created bucket
// yields a KindNotFound error.
func Open(tx *datastore.Tx) (*Map, error) {
	byUID, err := tx.Bucket(bucketByUID)
	if err != nil {
		return nil, err
	}
	byRemoteID, err := tx.Bucket(bucketByRemoteID)
	if err != nil {
		return nil, err
	}
	return &Map{byUID: byUID, byRemoteID: byRemoteID}, nil
}

// NewUID allocates a fresh, globally unique local identifier for an entity
// that has no remote counterpart yet (a locally-created draft, say).
func NewUID() string {
	return uuid.New().String()
}

// Bind records that uid corresponds to remoteID. Overwrites any previous
// binding for either side — callers wanting strict create-once semantics
// should check ResolveUID/ResolveRemoteID first.
func (m *Map) Bind(uid, remoteID string) error {
	if err := m.byUID.Put([]byte(uid), []byte(remoteID)); err != nil {
		return err
	}
	return m.byRemoteID.Put([]byte(remoteID), []byte(uid))
}

// Rebind changes the remote id associated with uid (e.g. after a source
// reassigns an IMAP UID on folder UIDVALIDITY rollover), removing the old
// reverse mapping.
func (m *Map) Rebind(uid, newRemoteID string) error {
	old := m.byUID.Get([]byte(uid))
	if old != nil {
		if err := m.byRemoteID.Remove(old); err != nil {
			return err
		}
	}
	return m.Bind(uid, newRemoteID)
}

// Unbind removes both directions of the mapping for uid. Used when an
// entity is permanently removed and its remote id is expected never to
// recur, as part of tombstone cleanup.
func (m *Map) Unbind(uid string) error {
	remoteID := m.byUID.Get([]byte(uid))
	if remoteID == nil {
		return nil
	}
	if err := m.byRemoteID.Remove(remoteID); err != nil {
		return err
	}
	return m.byUID.Remove([]byte(uid))
}

// ResolveRemoteID returns the remote id bound to uid, or ("", false) if
// unbound.
func (m *Map) ResolveRemoteID(uid string) (string, bool) {
	v := m.byUID.Get([]byte(uid))
	if v == nil {
		return "", false
	}
	return string(v), true
}

// ResolveUID returns the local uid bound to remoteID, or ("", false) if no
// entity has ever claimed it.
func (m *Map) ResolveUID(remoteID string) (string, bool) {
	v := m.byRemoteID.Get([]byte(remoteID))
	if v == nil {
		return "", false
	}
	return string(v), true
}

// ResolveOrAllocate returns the uid bound to remoteID, allocating and
// binding a fresh one if this is the first time the synchronizer has seen
// it — the common path for create_or_modify during a sync pass.
func (m *Map) ResolveOrAllocate(remoteID string) (uid string, created bool, err error) {
	if existing, ok := m.ResolveUID(remoteID); ok {
		return existing, false, nil
	}
	uid = NewUID()
	if err := m.Bind(uid, remoteID); err != nil {
		return "", false, resourceerr.New(resourceerr.KindIOError, "remoteidmap.ResolveOrAllocate", remoteID, err)
	}
	return uid, true, nil
}

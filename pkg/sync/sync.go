// Package sync implements the Synchronizer: per entity type it fetches
// remote collections/items through a protocol Adapter, reconciles them
// against the local EntityStore, and pushes synthetic commands onto the
// synchronizer-queue with replay_to_source=false so ChangeReplay never
// echoes a change back to the source that produced it.
//
// No real IMAP/CalDAV/CardDAV/Maildir client lives here — those protocols
// are out of scope; Adapter is the seam other packages implement against,
// and MemSource is the in-memory double this module's own tests drive
// instead.
package sync

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/solstice-pim/resourcesync/pkg/commands"
	"github.com/solstice-pim/resourcesync/pkg/datastore"
	"github.com/solstice-pim/resourcesync/pkg/entitystore"
	"github.com/solstice-pim/resourcesync/pkg/pipeline"
	"github.com/solstice-pim/resourcesync/pkg/queue"
	"github.com/solstice-pim/resourcesync/pkg/remoteidmap"
	"github.com/solstice-pim/resourcesync/pkg/resourceerr"
	"github.com/solstice-pim/resourcesync/pkg/types"
)

// DefaultNetworkTimeout is the default per-operation network timeout,
// resource-configurable.
const DefaultNetworkTimeout = 30 * time.Second

// RemoteItem is one collection or item the Adapter fetched from the
// source, already reduced to this module's local payload encoding.
type RemoteItem struct {
	RemoteID string
	Local    []byte // types.Encode output for the concrete entity struct
}

// Adapter is the opaque protocol seam: one implementation per entity
// type's remote source (IMAP for mail/folder, CalDAV for
// event, CardDAV for contact/addressbook, or a Maildir tree walker).
// FetchAll returns the authoritative current remote set for typeName;
// Synchronizer treats anything not returned as deleted.
type Adapter interface {
	FetchAll(ctx context.Context, typeName string) ([]RemoteItem, error)
}

// typeOrder lists entity types in dependency order: collection types
// (folder, addressbook) before the item types that
// reference them (mail, event reference folder; contact references
// addressbook), so a referencing item's synthetic command is never
// enqueued before the uid it points at is resolvable.
var typeOrder = []string{
	string(types.TypeFolder),
	string(types.TypeAddressbook),
	string(types.TypeMail),
	string(types.TypeEvent),
	string(types.TypeContact),
}

// mergeProperty names, per type, the indexed property used as
// merge_criteria: a value that — if it already belongs to some local
// entity — identifies that entity as the same one the remote side is
// describing, so the remote id binds to it instead of creating a
// duplicate. Folder and addressbook have no such stable cross-system key,
// so they always create.
var mergeProperty = map[string]string{
	string(types.TypeMail):    "messageid",
	string(types.TypeEvent):   "uid",
	string(types.TypeContact): "uid",
}

// Synchronizer is the per-resource sync engine. One instance serves every
// entity type the resource declares an Adapter for.
type Synchronizer struct {
	mainDB *datastore.Database
	syncDB *datastore.Database
	store  *entitystore.Store

	synchronizerQueue *queue.Queue
	propsFuncs        map[string]pipeline.PropertiesFunc

	resourceName   string
	networkTimeout time.Duration
	log            zerolog.Logger

	adapters map[string]Adapter

	mu       sync.Mutex
	inFlight chan error
}

// New builds a Synchronizer. mainDB is the resource's main database (read
// to compare against current entity state); syncDB is the synchronization
// database (read/write for remote-id bindings, in a transaction
// independent from main).
func New(mainDB, syncDB *datastore.Database, store *entitystore.Store, synchronizerQueue *queue.Queue, resourceName string, log zerolog.Logger) *Synchronizer {
	return &Synchronizer{
		mainDB:            mainDB,
		syncDB:            syncDB,
		store:             store,
		synchronizerQueue: synchronizerQueue,
		propsFuncs:        pipeline.DefaultPropertiesFuncs(),
		resourceName:      resourceName,
		networkTimeout:    DefaultNetworkTimeout,
		log:               log,
		adapters:          map[string]Adapter{},
	}
}

// SetNetworkTimeout overrides DefaultNetworkTimeout (resource-configurable).
func (s *Synchronizer) SetNetworkTimeout(d time.Duration) { s.networkTimeout = d }

// RegisterAdapter binds typeName to the protocol adapter that fetches its
// remote state.
func (s *Synchronizer) RegisterAdapter(typeName string, adapter Adapter) {
	s.adapters[typeName] = adapter
}

// SynchronizeWithSource runs one synchronization pass across every
// registered entity type. A second call while a pass is already running
// does not start a new one; it returns the same channel the in-flight
// pass will complete, per the re-entrancy decision recorded in
// DESIGN.md.
func (s *Synchronizer) SynchronizeWithSource(ctx context.Context) <-chan error {
	s.mu.Lock()
	if s.inFlight != nil {
		ch := s.inFlight
		s.mu.Unlock()
		return ch
	}
	ch := make(chan error, 1)
	s.inFlight = ch
	s.mu.Unlock()

	go func() {
		err := s.runPass(ctx)
		ch <- err
		close(ch)
		s.mu.Lock()
		s.inFlight = nil
		s.mu.Unlock()
	}()
	return ch
}

func (s *Synchronizer) runPass(ctx context.Context) error {
	for _, typeName := range typeOrder {
		if err := ctx.Err(); err != nil {
			return err
		}
		adapter, ok := s.adapters[typeName]
		if !ok {
			continue
		}
		if err := s.synchronizeType(ctx, typeName, adapter); err != nil {
			return err
		}
	}
	return nil
}

func (s *Synchronizer) synchronizeType(ctx context.Context, typeName string, adapter Adapter) error {
	fetchCtx, cancel := context.WithTimeout(ctx, s.networkTimeout)
	defer cancel()

	remote, err := adapter.FetchAll(fetchCtx, typeName)
	if err != nil {
		return resourceerr.New(resourceerr.KindTransientNetwork, "sync.synchronizeType", typeName, err)
	}

	seen := make(map[string]struct{}, len(remote))
	for _, item := range remote {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.createOrModify(typeName, item); err != nil {
			return err
		}
		seen[item.RemoteID] = struct{}{}
	}

	return s.scanForRemovals(typeName, seen)
}

// createOrModify resolves remoteId -> uid (merging onto an existing
// entity when merge_criteria matches), then emits a synthetic Create or
// Modify command carrying replay_to_source=false.
func (s *Synchronizer) createOrModify(typeName string, item RemoteItem) error {
	props, err := s.properties(typeName, item.Local)
	if err != nil {
		return err
	}

	syncTx, err := s.syncDB.BeginWrite()
	if err != nil {
		return err
	}
	idMap, err := remoteidmap.Open(syncTx)
	if err != nil {
		_ = syncTx.Abort()
		return err
	}

	uid, alreadyBound := idMap.ResolveUID(item.RemoteID)
	if !alreadyBound {
		if candidate, matched, mergeErr := s.matchMergeCriteria(typeName, props); mergeErr != nil {
			_ = syncTx.Abort()
			return mergeErr
		} else if matched {
			uid = candidate
		} else {
			uid = remoteidmap.NewUID()
		}
		if err := idMap.Bind(uid, item.RemoteID); err != nil {
			_ = syncTx.Abort()
			return err
		}
	}
	if err := syncTx.Commit(); err != nil {
		return err
	}

	exists, current, err := s.readCurrent(typeName, uid)
	if err != nil {
		return err
	}

	if !exists {
		return s.enqueueMutation(commands.IDCreateEntity, typeName, uid, item.Local)
	}
	if bytesEqual(current, item.Local) {
		return nil
	}
	return s.enqueueMutation(commands.IDModifyEntity, typeName, uid, item.Local)
}

// matchMergeCriteria looks up whether some already-known local entity
// carries the same merge-criteria property value as the remote item
// being bound for the first time.
func (s *Synchronizer) matchMergeCriteria(typeName string, props types.PropertySet) (uid string, matched bool, err error) {
	property, ok := mergeProperty[typeName]
	if !ok {
		return "", false, nil
	}
	value, ok := props[property]
	if !ok || value == "" {
		return "", false, nil
	}

	tx, err := s.mainDB.BeginRead()
	if err != nil {
		return "", false, err
	}
	defer tx.Abort()

	uids, err := s.store.LookupByProperty(tx, typeName, property, value)
	if err != nil {
		if kind, ok := resourceerr.KindOf(err); ok && kind == resourceerr.KindNotFound {
			return "", false, nil // no entity of this type has been indexed yet
		}
		return "", false, err
	}
	if len(uids) == 0 {
		return "", false, nil
	}
	return uids[0], true, nil
}

func (s *Synchronizer) readCurrent(typeName, uid string) (exists bool, local []byte, err error) {
	tx, err := s.mainDB.BeginRead()
	if err != nil {
		return false, nil, err
	}
	defer tx.Abort()

	rec, err := s.store.ReadLatest(tx, typeName, uid)
	if err != nil {
		if kind, ok := resourceerr.KindOf(err); ok && kind == resourceerr.KindNotFound {
			return false, nil, nil
		}
		return false, nil, err
	}
	if rec.IsTombstone() {
		return false, nil, nil
	}
	return true, rec.Local, nil
}

// scanForRemovals finds any local uid of typeName whose remote id was not
// among this pass's seen set and emits a synthetic Delete for it.
func (s *Synchronizer) scanForRemovals(typeName string, seenRemoteIDs map[string]struct{}) error {
	tx, err := s.mainDB.BeginRead()
	if err != nil {
		return err
	}
	uids, err := s.store.ListLiveUIDs(tx, typeName)
	if kind, ok := resourceerr.KindOf(err); ok && kind == resourceerr.KindNotFound {
		err = nil // no entity of this type has ever been written
	}
	if cerr := tx.Abort(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}

	syncTx, err := s.syncDB.BeginRead()
	if err != nil {
		return err
	}
	idMap, err := remoteidmap.Open(syncTx)
	if err != nil {
		_ = syncTx.Abort()
		if kind, ok := resourceerr.KindOf(err); ok && kind == resourceerr.KindNotFound {
			return nil // nothing has ever been bound, so nothing to remove
		}
		return err
	}

	var toDelete []string
	for _, uid := range uids {
		remoteID, bound := idMap.ResolveRemoteID(uid)
		if !bound {
			continue // never bound to this source, not this adapter's concern
		}
		if _, stillExists := seenRemoteIDs[remoteID]; !stillExists {
			toDelete = append(toDelete, uid)
		}
	}
	if err := syncTx.Abort(); err != nil {
		return err
	}

	for _, uid := range toDelete {
		if err := s.enqueueMutation(commands.IDDeleteEntity, typeName, uid, nil); err != nil {
			return err
		}
	}
	return nil
}

func (s *Synchronizer) enqueueMutation(commandID commands.ID, typeName, uid string, delta []byte) error {
	payload := commands.MutationPayload{
		Type:           typeName,
		UID:            uid,
		Delta:          delta,
		ReplayToSource: false,
	}
	frame := commands.Encode(commands.Frame{
		CommandID: commandID,
		Payload:   commands.EncodeMutation(payload),
	})

	tx, err := s.mainDB.BeginWrite()
	if err != nil {
		return err
	}
	if _, err := s.synchronizerQueue.Enqueue(tx, frame); err != nil {
		_ = tx.Abort()
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.synchronizerQueue.Notify()
	return nil
}

func (s *Synchronizer) properties(typeName string, local []byte) (types.PropertySet, error) {
	fn, ok := s.propsFuncs[typeName]
	if !ok {
		return types.PropertySet{}, resourceerr.New(resourceerr.KindInvalidCommand, "sync.properties", typeName, errUnknownType)
	}
	return fn(local)
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Package entitystore implements a typed read/write façade over
// pkg/datastore, pkg/index and pkg/entitybuffer. Pipeline and Synchronizer
// never touch a datastore.Bucket or an entitybuffer.Record directly —
// they call Create/Modify/Remove/ReadLatest here and let this package own
// the key layout, revision bookkeeping and index maintenance.
//
// The set of entity types is closed and known at build time, so dispatch
// is a small registry keyed by type name rather than reflection or a
// polymorphic property-mapper: each TypeSpec just lists which
// properties get a secondary index.
package entitystore

import (
	"encoding/binary"

	"github.com/google/uuid"

	"github.com/solstice-pim/resourcesync/pkg/datastore"
	"github.com/solstice-pim/resourcesync/pkg/entitybuffer"
	"github.com/solstice-pim/resourcesync/pkg/index"
	"github.com/solstice-pim/resourcesync/pkg/resourceerr"
	"github.com/solstice-pim/resourcesync/pkg/types"
)

const (
	internalBucket        = "__internal"
	revisionLogBucket     = "__revlog"
	keyMaxRevision        = "maxRevision"
	keyCleanedUpRevision  = "cleanedUpRevision"
)

// TypeSpec declares how one entity type's indexable properties map to
// secondary index buckets. The registry of TypeSpecs is the small
// dispatch table every entity type goes through.
type TypeSpec struct {
	Name               string
	IndexedProperties  []string
}

// DefaultRegistry is the closed set of entity types a resource process
// knows about, matching pkg/types' PropertySet extractors.
func DefaultRegistry() map[string]TypeSpec {
	return map[string]TypeSpec{
		string(types.TypeFolder):      {Name: string(types.TypeFolder), IndexedProperties: []string{"parent", "name"}},
		string(types.TypeMail):        {Name: string(types.TypeMail), IndexedProperties: []string{"folder", "messageid", "subject"}},
		string(types.TypeEvent):       {Name: string(types.TypeEvent), IndexedProperties: []string{"calendar", "uid", "start"}},
		string(types.TypeContact):     {Name: string(types.TypeContact), IndexedProperties: []string{"addressbook", "uid"}},
		string(types.TypeAddressbook): {Name: string(types.TypeAddressbook), IndexedProperties: []string{"name"}},
	}
}

// Store is the EntityStore. It holds no transaction state of its own:
// every method takes the caller's open datastore.Tx so Pipeline can batch
// a whole command's worth of mutations (entity commit + index updates +
// maxRevision bump) into a single write transaction.
type Store struct {
	registry map[string]TypeSpec
}

// New builds a Store over the given type registry.
func New(registry map[string]TypeSpec) *Store {
	return &Store{registry: registry}
}

func (s *Store) spec(typeName string) (TypeSpec, error) {
	t, ok := s.registry[typeName]
	if !ok {
		return TypeSpec{}, resourceerr.New(resourceerr.KindInvalidCommand, "entitystore", typeName, errUnknownType)
	}
	return t, nil
}

func mainBucket(tx *datastore.Tx, typeName string) (*datastore.Bucket, error) {
	return tx.Bucket(typeName + ".main")
}

func indexBucket(tx *datastore.Tx, typeName, property string) (*index.Index, error) {
	b, err := tx.Bucket(typeName + ".index." + property)
	if err != nil {
		return nil, err
	}
	return index.New(b), nil
}

func revisionKey(uid string, revision uint64) []byte {
	key := make([]byte, len(uid)+1+8)
	copy(key, uid)
	key[len(uid)] = 0
	binary.BigEndian.PutUint64(key[len(uid)+1:], revision)
	return key
}

func (s *Store) internal(tx *datastore.Tx) (*datastore.Bucket, error) {
	return tx.Bucket(internalBucket)
}

func (s *Store) revisionLog(tx *datastore.Tx) (*datastore.Bucket, error) {
	return tx.Bucket(revisionLogBucket)
}

// MaxRevision returns the highest revision committed so far, 0 if the store
// is empty.
func (s *Store) MaxRevision(tx *datastore.Tx) (uint64, error) {
	b, err := s.internal(tx)
	if err != nil {
		if kind, ok := resourceerr.KindOf(err); ok && kind == resourceerr.KindNotFound {
			return 0, nil
		}
		return 0, err
	}
	v := b.Get([]byte(keyMaxRevision))
	if v == nil {
		return 0, nil
	}
	return binary.BigEndian.Uint64(v), nil
}

// CleanedUpRevision returns the lower bound below which superseded
// revisions have already been compacted away.
func (s *Store) CleanedUpRevision(tx *datastore.Tx) (uint64, error) {
	b, err := s.internal(tx)
	if err != nil {
		return 0, err
	}
	v := b.Get([]byte(keyCleanedUpRevision))
	if v == nil {
		return 0, nil
	}
	return binary.BigEndian.Uint64(v), nil
}

func (s *Store) setMaxRevision(tx *datastore.Tx, revision uint64) error {
	b, err := s.internal(tx)
	if err != nil {
		return err
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, revision)
	return b.Put([]byte(keyMaxRevision), buf)
}

func (s *Store) nextRevision(tx *datastore.Tx) (uint64, error) {
	max, err := s.MaxRevision(tx)
	if err != nil {
		return 0, err
	}
	return max + 1, nil
}

func (s *Store) appendRevisionLog(tx *datastore.Tx, revision uint64, typeName, uid string) error {
	b, err := s.revisionLog(tx)
	if err != nil {
		return err
	}
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, revision)
	val := append([]byte(typeName), 0)
	val = append(val, uid...)
	return b.Put(key, val)
}

func (s *Store) applyIndexDeltas(tx *datastore.Tx, typeName, uid string, oldProps, newProps types.PropertySet, spec TypeSpec) error {
	for _, prop := range spec.IndexedProperties {
		oldVal, hadOld := oldProps[prop]
		newVal, hasNew := newProps[prop]
		if !hadOld && !hasNew {
			continue
		}
		idx, err := indexBucket(tx, typeName, prop)
		if err != nil {
			return err
		}
		switch {
		case hadOld && hasNew:
			if err := idx.Rebind(oldVal, newVal, uid); err != nil {
				return err
			}
		case hadOld && !hasNew:
			if err := idx.Remove(oldVal, uid); err != nil {
				return err
			}
		case !hadOld && hasNew:
			if err := idx.Add(newVal, uid); err != nil {
				return err
			}
		}
	}
	return nil
}

// Create allocates a fresh uid, writes the Create revision and declared
// indexes, and bumps maxRevision, all within tx.
func (s *Store) Create(tx *datastore.Tx, typeName string, local, resource []byte, props types.PropertySet, replayToSource bool) (uid string, revision uint64, err error) {
	return s.CreateWithUID(tx, typeName, uuid.New().String(), local, resource, props, replayToSource)
}

// CreateWithUID is Create for a caller that already allocated (or resolved
// via remoteidmap) the uid — the synchronizer's create_or_modify path.
func (s *Store) CreateWithUID(tx *datastore.Tx, typeName, uid string, local, resource []byte, props types.PropertySet, replayToSource bool) (string, uint64, error) {
	const op = "entitystore.Create"
	spec, err := s.spec(typeName)
	if err != nil {
		return "", 0, err
	}

	revision, err := s.nextRevision(tx)
	if err != nil {
		return "", 0, err
	}

	buf := entitybuffer.Encode(entitybuffer.Record{
		Revision:    revision,
		Operation:   entitybuffer.OpCreate,
		ReplayToSrc: replayToSource,
		Resource:    resource,
		Metadata:    encodeProps(props),
		Local:       local,
	})

	b, err := mainBucket(tx, typeName)
	if err != nil {
		return "", 0, err
	}
	if err := b.Put(revisionKey(uid, revision), buf); err != nil {
		return "", 0, resourceerr.New(resourceerr.KindIOError, op, uid, err)
	}

	if err := s.applyIndexDeltas(tx, typeName, uid, nil, props, spec); err != nil {
		return "", 0, err
	}
	if err := s.appendRevisionLog(tx, revision, typeName, uid); err != nil {
		return "", 0, err
	}
	if err := s.setMaxRevision(tx, revision); err != nil {
		return "", 0, err
	}
	return uid, revision, nil
}

// Updater transforms the current entity state into the next local buffer
// and property set for Modify.
type Updater func(current entitybuffer.Record, currentProps types.PropertySet) (newLocal []byte, newProps types.PropertySet, replayToSource bool, err error)

// Modify reads the latest revision for uid, rejects a tombstone, applies
// updater, and writes the resulting Modify revision.
func (s *Store) Modify(tx *datastore.Tx, typeName, uid string, updater Updater) (revision uint64, err error) {
	const op = "entitystore.Modify"
	spec, err := s.spec(typeName)
	if err != nil {
		return 0, err
	}

	current, err := s.ReadLatest(tx, typeName, uid)
	if err != nil {
		return 0, err
	}
	if current.IsTombstone() {
		return 0, resourceerr.New(resourceerr.KindConflict, op, uid, errModifyTombstone)
	}
	oldProps := decodeProps(current.Metadata)

	newLocal, newProps, replayToSource, err := updater(current, oldProps)
	if err != nil {
		return 0, err
	}

	revision, err = s.nextRevision(tx)
	if err != nil {
		return 0, err
	}

	buf := entitybuffer.Encode(entitybuffer.Record{
		Revision:    revision,
		Operation:   entitybuffer.OpModify,
		ReplayToSrc: replayToSource,
		Resource:    current.Resource,
		Metadata:    encodeProps(newProps),
		Local:       newLocal,
	})

	b, err := mainBucket(tx, typeName)
	if err != nil {
		return 0, err
	}
	if err := b.Put(revisionKey(uid, revision), buf); err != nil {
		return 0, resourceerr.New(resourceerr.KindIOError, op, uid, err)
	}

	if err := s.applyIndexDeltas(tx, typeName, uid, oldProps, newProps, spec); err != nil {
		return 0, err
	}
	if err := s.appendRevisionLog(tx, revision, typeName, uid); err != nil {
		return 0, err
	}
	if err := s.setMaxRevision(tx, revision); err != nil {
		return 0, err
	}
	return revision, nil
}

// Remove writes a Delete tombstone, dropping the previous revision's index
// entries in the same transaction.
func (s *Store) Remove(tx *datastore.Tx, typeName, uid string, replayToSource bool) (revision uint64, err error) {
	const op = "entitystore.Remove"
	spec, err := s.spec(typeName)
	if err != nil {
		return 0, err
	}

	current, err := s.ReadLatest(tx, typeName, uid)
	if err != nil {
		return 0, err
	}
	if current.IsTombstone() {
		return current.Revision, nil
	}
	oldProps := decodeProps(current.Metadata)

	revision, err = s.nextRevision(tx)
	if err != nil {
		return 0, err
	}

	buf := entitybuffer.Encode(entitybuffer.Record{
		Revision:    revision,
		Operation:   entitybuffer.OpDelete,
		ReplayToSrc: replayToSource,
		Resource:    current.Resource,
		Metadata:    current.Metadata,
	})

	b, err := mainBucket(tx, typeName)
	if err != nil {
		return 0, err
	}
	if err := b.Put(revisionKey(uid, revision), buf); err != nil {
		return 0, resourceerr.New(resourceerr.KindIOError, op, uid, err)
	}

	if err := s.applyIndexDeltas(tx, typeName, uid, oldProps, nil, spec); err != nil {
		return 0, err
	}
	if err := s.appendRevisionLog(tx, revision, typeName, uid); err != nil {
		return 0, err
	}
	if err := s.setMaxRevision(tx, revision); err != nil {
		return 0, err
	}
	return revision, nil
}

// ReadLatest returns the highest revision written for uid.
func (s *Store) ReadLatest(tx *datastore.Tx, typeName, uid string) (entitybuffer.Record, error) {
	const op = "entitystore.ReadLatest"
	b, err := mainBucket(tx, typeName)
	if err != nil {
		return entitybuffer.Record{}, err
	}
	prefix := append([]byte(uid), 0)
	var latest *entitybuffer.Record
	err = b.Scan(prefix, func(_, value []byte) error {
		rec, decErr := entitybuffer.Decode(value)
		if decErr != nil {
			return decErr
		}
		latest = &rec
		return nil
	})
	if err != nil {
		return entitybuffer.Record{}, err
	}
	if latest == nil {
		return entitybuffer.Record{}, resourceerr.New(resourceerr.KindNotFound, op, uid, errNoSuchUID)
	}
	return *latest, nil
}

// ReadAt returns the exact revision recorded for uid; reading the same
// (uid, revision) pair always returns the same bytes, since revisions are
// append-only until compaction.
func (s *Store) ReadAt(tx *datastore.Tx, typeName, uid string, revision uint64) (entitybuffer.Record, error) {
	const op = "entitystore.ReadAt"
	b, err := mainBucket(tx, typeName)
	if err != nil {
		return entitybuffer.Record{}, err
	}
	v := b.Get(revisionKey(uid, revision))
	if v == nil {
		return entitybuffer.Record{}, resourceerr.New(resourceerr.KindNotFound, op, uid, errNoSuchUID)
	}
	return entitybuffer.Decode(v)
}

// RevisionLogEntry is one row of the global revision sequence, used by
// ChangeReplay to iterate across all entity types in commit order.
type RevisionLogEntry struct {
	Revision uint64
	Type     string
	UID      string
}

// RevisionVisitor is called once per entry in ascending revision order.
type RevisionVisitor func(entry RevisionLogEntry) error

// ScanRevisions iterates the global revision log for revisions in
// (from, to], across all entity types in commit order.
func (s *Store) ScanRevisions(tx *datastore.Tx, from, to uint64, visit RevisionVisitor) error {
	b, err := s.revisionLog(tx)
	if err != nil {
		return err
	}

	return b.Scan(nil, func(key, value []byte) error {
		revision := binary.BigEndian.Uint64(key)
		if revision <= from || revision > to {
			return nil
		}
		sep := indexOfZero(value)
		entry := RevisionLogEntry{
			Revision: revision,
			Type:     string(value[:sep]),
			UID:      string(value[sep+1:]),
		}
		return visit(entry)
	})
}

func indexOfZero(b []byte) int {
	for i, c := range b {
		if c == 0 {
			return i
		}
	}
	return len(b)
}

func splitRevisionKey(key []byte) (uid string, revision uint64, err error) {
	if len(key) < 9 {
		return "", 0, resourceerr.New(resourceerr.KindStorageCorruption, "entitystore.splitRevisionKey", "", errBadRevisionKey)
	}
	sepIdx := len(key) - 8 - 1
	if key[sepIdx] != 0 {
		return "", 0, resourceerr.New(resourceerr.KindStorageCorruption, "entitystore.splitRevisionKey", "", errBadRevisionKey)
	}
	return string(key[:sepIdx]), binary.BigEndian.Uint64(key[sepIdx+1:]), nil
}

type revisionEntry struct {
	key []byte
	rev uint64
	op  entitybuffer.Operation
}

// Compact sweeps typeName's main bucket, removing all but the highest
// revision at or below cutoff for each uid, and dropping a uid entirely
// when its highest known revision at or below cutoff is a Delete
// tombstone — the maintenance sweep behind the compaction policy decided
// in DESIGN.md.
func (s *Store) Compact(tx *datastore.Tx, typeName string, cutoff uint64) (removed int, err error) {
	b, err := mainBucket(tx, typeName)
	if err != nil {
		return 0, err
	}

	groups := map[string][]revisionEntry{}
	var order []string
	err = b.Scan(nil, func(key, value []byte) error {
		uid, rev, splitErr := splitRevisionKey(key)
		if splitErr != nil {
			return splitErr
		}
		rec, decErr := entitybuffer.Decode(value)
		if decErr != nil {
			return decErr
		}
		if _, seen := groups[uid]; !seen {
			order = append(order, uid)
		}
		keyCopy := append([]byte{}, key...)
		groups[uid] = append(groups[uid], revisionEntry{key: keyCopy, rev: rev, op: rec.Operation})
		return nil
	})
	if err != nil {
		return 0, err
	}

	for _, uid := range order {
		entries := groups[uid]
		keepIdx := -1
		for i, e := range entries {
			if e.rev <= cutoff {
				keepIdx = i
			}
		}
		if keepIdx < 0 {
			continue
		}
		dropAll := entries[keepIdx].op == entitybuffer.OpDelete
		for i, e := range entries {
			if dropAll {
				if err := b.Remove(e.key); err != nil {
					return removed, err
				}
				removed++
				continue
			}
			if i < keepIdx {
				if err := b.Remove(e.key); err != nil {
					return removed, err
				}
				removed++
			}
		}
	}
	return removed, nil
}

// SetCleanedUpRevision records the new compaction watermark after a
// successful Compact sweep across all types.
func (s *Store) SetCleanedUpRevision(tx *datastore.Tx, revision uint64) error {
	b, err := s.internal(tx)
	if err != nil {
		return err
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, revision)
	return b.Put([]byte(keyCleanedUpRevision), buf)
}

// LookupByProperty returns every uid of typeName currently indexed under
// value for the given property, used by the synchronizer's merge_criteria
// step to find a candidate local entity to bind a newly-seen remote id to
// instead of creating a duplicate.
func (s *Store) LookupByProperty(tx *datastore.Tx, typeName, property, value string) ([]string, error) {
	idx, err := indexBucket(tx, typeName, property)
	if err != nil {
		return nil, err
	}
	return idx.Lookup(value)
}

// ListLiveUIDs returns every uid of typeName whose latest revision is not a
// Delete tombstone, used by the synchronizer's scan_for_removals to find
// which local entities the authoritative remote set no longer contains.
func (s *Store) ListLiveUIDs(tx *datastore.Tx, typeName string) ([]string, error) {
	b, err := mainBucket(tx, typeName)
	if err != nil {
		return nil, err
	}

	var uids []string
	var lastUID string
	var lastOp entitybuffer.Operation
	haveLast := false

	flush := func() {
		if haveLast && lastOp != entitybuffer.OpDelete {
			uids = append(uids, lastUID)
		}
	}

	err = b.Scan(nil, func(key, value []byte) error {
		uid, _, splitErr := splitRevisionKey(key)
		if splitErr != nil {
			return splitErr
		}
		rec, decErr := entitybuffer.Decode(value)
		if decErr != nil {
			return decErr
		}
		if haveLast && uid != lastUID {
			flush()
		}
		lastUID = uid
		lastOp = rec.Operation
		haveLast = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	flush()
	return uids, nil
}

// Registry exposes the type registry this Store was constructed with, so
// callers (pkg/resource's Compact sweep, pkg/pipeline) can iterate every
// known type without duplicating the list.
func (s *Store) Registry() map[string]TypeSpec {
	return s.registry
}

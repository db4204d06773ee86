// Package pipeline runs per-type ordered preprocessors inside the single
// write transaction that commits a revision, plus a dead-letter policy
// (a command is only considered fatally bad after N consecutive identical
// failures).
package pipeline

import (
	"time"

	"github.com/solstice-pim/resourcesync/pkg/datastore"
	"github.com/solstice-pim/resourcesync/pkg/entitybuffer"
	"github.com/solstice-pim/resourcesync/pkg/entitystore"
	"github.com/solstice-pim/resourcesync/pkg/events"
	"github.com/solstice-pim/resourcesync/pkg/queue"
	"github.com/solstice-pim/resourcesync/pkg/resourceerr"
	"github.com/solstice-pim/resourcesync/pkg/types"

	"github.com/rs/zerolog"
)

// PendingEntity is the entity-in-progress a preprocessor sees. Hooks may
// mutate Local and Properties; everything else is read-only context.
type PendingEntity struct {
	Type           string
	UID            string
	Local          []byte
	Resource       []byte
	Properties     types.PropertySet
	ReplayToSource bool
}

// Preprocessor is the three-hook trait every registered type handler
// implements. Implementations are plain values registered per entity
// type at resource construction; hooks must be deterministic given their
// inputs.
type Preprocessor interface {
	OnNew(tx *datastore.Tx, e *PendingEntity) error
	OnModify(tx *datastore.Tx, old, next *PendingEntity) error
	OnDelete(tx *datastore.Tx, e *PendingEntity) error
}

// PropertiesFunc decodes a type's local buffer and extracts its indexable
// property set, closing the per-type dispatch table over reflection.
type PropertiesFunc func(local []byte) (types.PropertySet, error)

// DefaultPropertiesFuncs returns the dispatch table for the five built-in
// entity types.
func DefaultPropertiesFuncs() map[string]PropertiesFunc {
	return map[string]PropertiesFunc{
		string(types.TypeFolder): func(local []byte) (types.PropertySet, error) {
			var f types.Folder
			if err := types.Decode(local, &f); err != nil {
				return nil, err
			}
			return types.FolderProperties(&f), nil
		},
		string(types.TypeMail): func(local []byte) (types.PropertySet, error) {
			var m types.Mail
			if err := types.Decode(local, &m); err != nil {
				return nil, err
			}
			return types.MailProperties(&m), nil
		},
		string(types.TypeEvent): func(local []byte) (types.PropertySet, error) {
			var e types.Event
			if err := types.Decode(local, &e); err != nil {
				return nil, err
			}
			return types.EventProperties(&e), nil
		},
		string(types.TypeContact): func(local []byte) (types.PropertySet, error) {
			var c types.Contact
			if err := types.Decode(local, &c); err != nil {
				return nil, err
			}
			return types.ContactProperties(&c), nil
		},
		string(types.TypeAddressbook): func(local []byte) (types.PropertySet, error) {
			var a types.Addressbook
			if err := types.Decode(local, &a); err != nil {
				return nil, err
			}
			return types.AddressbookProperties(&a), nil
		},
	}
}

// MaxConsecutiveFailures is the default N in the dead-letter policy above.
const MaxConsecutiveFailures = 3

// Pipeline owns the write transaction lifecycle for every entity
// mutation: open, read previous state, run preprocessors, commit revision,
// commit transaction, emit revision-updated.
type Pipeline struct {
	db           *datastore.Database
	store        *entitystore.Store
	bus          *events.Bus
	resourceName string
	log          zerolog.Logger

	preprocessors map[string][]Preprocessor
	propsFuncs    map[string]PropertiesFunc

	deadLetter       *queue.Queue
	failureCounts    map[string]int
	maxFailures      int
}

// New builds a Pipeline. db is the resource's main database.
func New(db *datastore.Database, store *entitystore.Store, bus *events.Bus, resourceName string, log zerolog.Logger) *Pipeline {
	return &Pipeline{
		db:            db,
		store:         store,
		bus:           bus,
		resourceName:  resourceName,
		log:           log,
		preprocessors: map[string][]Preprocessor{},
		propsFuncs:    DefaultPropertiesFuncs(),
		deadLetter:    queue.New("deadletter"),
		failureCounts: map[string]int{},
		maxFailures:   MaxConsecutiveFailures,
	}
}

// Register appends p to typeName's ordered preprocessor list.
func (p *Pipeline) Register(typeName string, preprocessor Preprocessor) {
	p.preprocessors[typeName] = append(p.preprocessors[typeName], preprocessor)
}

func (p *Pipeline) properties(typeName string, local []byte) (types.PropertySet, error) {
	fn, ok := p.propsFuncs[typeName]
	if !ok {
		return types.PropertySet{}, resourceerr.New(resourceerr.KindInvalidCommand, "pipeline.properties", typeName, errUnknownType)
	}
	return fn(local)
}

// NewEntity implements the new_entity entry point: pipeline runs on_new
// preprocessors then commits a Create revision.
func (p *Pipeline) NewEntity(typeName, uid string, local, resource []byte, replayToSource bool) (revision uint64, err error) {
	dedupeKey := "new:" + typeName + ":" + uid
	return p.run(dedupeKey, typeName, uid, func(tx *datastore.Tx) (uint64, error) {
		props, err := p.properties(typeName, local)
		if err != nil {
			return 0, err
		}
		pending := &PendingEntity{Type: typeName, UID: uid, Local: local, Resource: resource, Properties: props, ReplayToSource: replayToSource}
		for _, pp := range p.preprocessors[typeName] {
			if err := pp.OnNew(tx, pending); err != nil {
				return 0, err
			}
		}
		var rev uint64
		if uid != "" {
			_, rev, err = p.store.CreateWithUID(tx, typeName, uid, pending.Local, pending.Resource, pending.Properties, pending.ReplayToSource)
		} else {
			uid, rev, err = p.store.Create(tx, typeName, pending.Local, pending.Resource, pending.Properties, pending.ReplayToSource)
		}
		return rev, err
	})
}

// ModifiedEntity implements the modified_entity entry point.
func (p *Pipeline) ModifiedEntity(typeName, uid string, local []byte, replayToSource bool) (revision uint64, err error) {
	dedupeKey := "modify:" + typeName + ":" + uid
	return p.run(dedupeKey, typeName, uid, func(tx *datastore.Tx) (uint64, error) {
		current, err := p.store.ReadLatest(tx, typeName, uid)
		if err != nil {
			return 0, err
		}
		newProps, err := p.properties(typeName, local)
		if err != nil {
			return 0, err
		}
		oldProps, err := p.properties(typeName, current.Local)
		if err != nil {
			return 0, err
		}

		oldPending := &PendingEntity{Type: typeName, UID: uid, Local: current.Local, Resource: current.Resource, Properties: oldProps, ReplayToSource: current.ReplayToSrc}
		newPending := &PendingEntity{Type: typeName, UID: uid, Local: local, Resource: current.Resource, Properties: newProps, ReplayToSource: replayToSource}
		for _, pp := range p.preprocessors[typeName] {
			if err := pp.OnModify(tx, oldPending, newPending); err != nil {
				return 0, err
			}
		}

		return p.store.Modify(tx, typeName, uid, func(cur entitybuffer.Record, _ types.PropertySet) ([]byte, types.PropertySet, bool, error) {
			return newPending.Local, newPending.Properties, newPending.ReplayToSource, nil
		})
	})
}

// DeletedEntity implements the deleted_entity entry point.
func (p *Pipeline) DeletedEntity(typeName, uid string, replayToSource bool) (revision uint64, err error) {
	dedupeKey := "delete:" + typeName + ":" + uid
	return p.run(dedupeKey, typeName, uid, func(tx *datastore.Tx) (uint64, error) {
		current, err := p.store.ReadLatest(tx, typeName, uid)
		if err != nil {
			return 0, err
		}
		props, err := p.properties(typeName, current.Local)
		if err != nil {
			return 0, err
		}
		pending := &PendingEntity{Type: typeName, UID: uid, Local: current.Local, Resource: current.Resource, Properties: props, ReplayToSource: replayToSource}
		for _, pp := range p.preprocessors[typeName] {
			if err := pp.OnDelete(tx, pending); err != nil {
				return 0, err
			}
		}
		return p.store.Remove(tx, typeName, uid, replayToSource)
	})
}

// run drives one write transaction through preprocessing and commit,
// aborting the transaction on any failure and dead-lettering after
// maxFailures consecutive identical failures for the same dedupeKey.
func (p *Pipeline) run(dedupeKey, typeName, uid string, body func(tx *datastore.Tx) (uint64, error)) (uint64, error) {
	tx, err := p.db.BeginWrite()
	if err != nil {
		return 0, err
	}

	revision, err := body(tx)
	if err != nil {
		_ = tx.Abort()
		return p.handleFailure(dedupeKey, typeName, uid, err)
	}

	if err := tx.Commit(); err != nil {
		return p.handleFailure(dedupeKey, typeName, uid, err)
	}

	delete(p.failureCounts, dedupeKey)
	p.bus.Publish(&events.Event{
		Type:     events.TypeRevisionUpdated,
		Resource: p.resourceName,
		Payload:  events.RevisionUpdated{EntityType: typeName, UID: uid, Revision: revision},
	})
	return revision, nil
}

func (p *Pipeline) handleFailure(dedupeKey, typeName, uid string, cause error) (uint64, error) {
	p.failureCounts[dedupeKey]++
	count := p.failureCounts[dedupeKey]
	p.log.Warn().Err(cause).Str("type", typeName).Str("uid", uid).Int("consecutive_failures", count).Msg("pipeline command failed")

	if count < p.maxFailures {
		return 0, cause
	}

	delete(p.failureCounts, dedupeKey)
	if dlErr := p.deadLetterCommand(typeName, uid, cause); dlErr != nil {
		p.log.Error().Err(dlErr).Msg("failed to write dead-letter entry")
	}
	p.bus.Publish(&events.Event{
		Type:     events.TypeEntityDeadLettered,
		Resource: p.resourceName,
		Payload:  events.EntityDeadLettered{EntityType: typeName, UID: uid, Reason: cause.Error()},
	})
	return 0, resourceerr.New(resourceerr.KindPreprocessorReject, "pipeline.run", uid, cause)
}

func (p *Pipeline) deadLetterCommand(typeName, uid string, cause error) error {
	tx, err := p.db.BeginWrite()
	if err != nil {
		return err
	}
	record := DeadLetterRecord{
		Type:      typeName,
		UID:       uid,
		Reason:    cause.Error(),
		Timestamp: time.Now(),
	}
	payload, err := types.Encode(record)
	if err != nil {
		_ = tx.Abort()
		return err
	}
	if _, err := p.deadLetter.Enqueue(tx, payload); err != nil {
		_ = tx.Abort()
		return err
	}
	return tx.Commit()
}

// DeadLetterRecord is the payload stored for a fatally-bad command.
type DeadLetterRecord struct {
	Type      string
	UID       string
	Reason    string
	Timestamp time.Time
}

// InspectDeadLetters returns every dead-lettered record currently queued,
// oldest first. Read-only: no UI is built around this accessor.
func (p *Pipeline) InspectDeadLetters() ([]DeadLetterRecord, error) {
	tx, err := p.db.BeginRead()
	if err != nil {
		return nil, err
	}
	defer tx.Abort()

	b, err := tx.Bucket("deadletter")
	if err != nil {
		return nil, err
	}

	var records []DeadLetterRecord
	err = b.Scan(nil, func(key, value []byte) error {
		if len(key) != 8 {
			return nil
		}
		var rec DeadLetterRecord
		if decErr := types.Decode(value, &rec); decErr != nil {
			return decErr
		}
		records = append(records, rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// Package replay implements a strictly in-order loop over
// locally-originated revisions
// (replay_to_source=true) that calls a per-type writeback function and
// keeps the synchronization DB's remote-id bindings and
// lastReplayedRevision watermark in lockstep with what has actually been
// written back. A revision that fails to replay halts the loop at that
// point — later revisions of the same or any other entity are never
// replayed out of order — and a capped exponential backoff schedules a
// retry.
package replay

import (
	"context"
	"encoding/binary"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/solstice-pim/resourcesync/pkg/datastore"
	"github.com/solstice-pim/resourcesync/pkg/entitybuffer"
	"github.com/solstice-pim/resourcesync/pkg/entitystore"
	"github.com/solstice-pim/resourcesync/pkg/events"
	"github.com/solstice-pim/resourcesync/pkg/remoteidmap"
	"github.com/solstice-pim/resourcesync/pkg/resourceerr"
)

const (
	stateBucket          = "replaystate"
	keyLastReplayed      = "lastReplayedRevision"
	minBackoff           = time.Second
	maxBackoff           = 5 * time.Minute
)

// WritebackFunc replays one revision of one entity to its remote source,
// returning the remote id that now corresponds to it: a Create returns a
// freshly-known remote id; a Modify returns the same id or a changed one
// (move semantics); a Delete returns "". oldRemoteID is the binding
// recorded before this call, "" if the entity has never been bound.
type WritebackFunc func(ctx context.Context, typeName, uid string, op entitybuffer.Operation, local []byte, oldRemoteID string) (newRemoteID string, err error)

// Replayer drives the ChangeReplay loop for one resource.
type Replayer struct {
	mainDB       *datastore.Database
	syncDB       *datastore.Database
	store        *entitystore.Store
	resourceName string
	log          zerolog.Logger

	writebacks map[string]WritebackFunc

	mu       sync.Mutex
	running  bool
	dirty    bool
	backoff  time.Duration
	retryTmr *time.Timer
	bus      *events.Bus
	sub      events.Subscriber
	stopCh   chan struct{}
}

// New builds a Replayer. mainDB is read for entity revisions; syncDB holds
// the remote-id bindings and lastReplayedRevision watermark.
func New(mainDB, syncDB *datastore.Database, store *entitystore.Store, resourceName string, log zerolog.Logger) *Replayer {
	return &Replayer{
		mainDB:       mainDB,
		syncDB:       syncDB,
		store:        store,
		resourceName: resourceName,
		log:          log,
		writebacks:   map[string]WritebackFunc{},
		backoff:      minBackoff,
	}
}

// RegisterWriteback binds typeName to the function that replays its
// revisions to the remote source.
func (r *Replayer) RegisterWriteback(typeName string, fn WritebackFunc) {
	r.writebacks[typeName] = fn
}

// Start subscribes to bus's revision-updated signal and runs one pass at
// startup, so replay is triggered both by that signal and unconditionally
// once when the loop begins.
func (r *Replayer) Start(ctx context.Context, bus *events.Bus) {
	r.mu.Lock()
	r.bus = bus
	r.sub = bus.Subscribe()
	r.stopCh = make(chan struct{})
	sub := r.sub
	stopCh := r.stopCh
	r.mu.Unlock()

	go func() {
		r.Trigger(ctx)
		for {
			select {
			case event, ok := <-sub:
				if !ok {
					return
				}
				if event.Type == events.TypeRevisionUpdated {
					r.Trigger(ctx)
				}
			case <-stopCh:
				return
			}
		}
	}()
}

// Stop unsubscribes from the bus and halts the event-driven loop; any
// pending backoff retry timer is cancelled.
func (r *Replayer) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopCh != nil {
		close(r.stopCh)
		r.stopCh = nil
	}
	if r.retryTmr != nil {
		r.retryTmr.Stop()
	}
	if r.bus != nil && r.sub != nil {
		r.bus.Unsubscribe(r.sub)
		r.sub = nil
	}
}

// Trigger runs one replay pass, or — if a pass is already running — marks
// that another pass is needed once the current one finishes, so revisions
// that arrive mid-pass are not missed. When it runs the pass itself it
// returns once that pass (and any passes marked during it) has completed,
// successfully or not; when a pass is already running it returns nil at
// once, without waiting for the pass it marked.
func (r *Replayer) Trigger(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.dirty = true
		r.mu.Unlock()
		return nil
	}
	r.running = true
	r.mu.Unlock()

	var lastErr error
	for {
		lastErr = r.runOnce(ctx)

		r.mu.Lock()
		if !r.dirty || lastErr != nil {
			r.running = false
			r.dirty = false
			r.mu.Unlock()
			break
		}
		r.dirty = false
		r.mu.Unlock()
	}

	if lastErr != nil {
		r.scheduleRetry(ctx)
	} else {
		r.resetBackoff()
	}
	return lastErr
}

func (r *Replayer) scheduleRetry(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	backoff := r.backoff
	r.backoff *= 2
	if r.backoff > maxBackoff {
		r.backoff = maxBackoff
	}
	r.log.Warn().Dur("backoff", backoff).Msg("change replay failed, scheduling retry")
	r.retryTmr = time.AfterFunc(backoff, func() {
		r.Trigger(ctx)
	})
}

func (r *Replayer) resetBackoff() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backoff = minBackoff
}

// runOnce replays every revision in (lastReplayedRevision, maxRevision]
// strictly in order, stopping at the first failure.
func (r *Replayer) runOnce(ctx context.Context) error {
	tx, err := r.mainDB.BeginRead()
	if err != nil {
		return err
	}
	defer tx.Abort()

	maxRevision, err := r.store.MaxRevision(tx)
	if err != nil {
		return err
	}

	lastReplayed, err := r.getLastReplayedRevision()
	if err != nil {
		return err
	}
	if lastReplayed >= maxRevision {
		return nil
	}

	return r.store.ScanRevisions(tx, lastReplayed, maxRevision, func(entry entitystore.RevisionLogEntry) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, err := r.store.ReadAt(tx, entry.Type, entry.UID, entry.Revision)
		if err != nil {
			return err
		}
		if !rec.ReplayToSrc {
			return r.advanceWatermark(entry.Revision)
		}
		return r.replayOne(ctx, entry, rec)
	})
}

func (r *Replayer) replayOne(ctx context.Context, entry entitystore.RevisionLogEntry, rec entitybuffer.Record) error {
	fn, ok := r.writebacks[entry.Type]
	if !ok {
		return resourceerr.New(resourceerr.KindProtocolError, "replay.replayOne", entry.UID, errNoWriteback)
	}

	oldRemoteID, err := r.resolveRemoteID(entry.UID)
	if err != nil {
		return err
	}

	newRemoteID, err := fn(ctx, entry.Type, entry.UID, rec.Operation, rec.Local, oldRemoteID)
	if err != nil {
		return err
	}

	return r.commitBinding(entry.UID, rec.Operation, newRemoteID, entry.Revision)
}

func (r *Replayer) resolveRemoteID(uid string) (string, error) {
	tx, err := r.syncDB.BeginRead()
	if err != nil {
		return "", err
	}
	defer tx.Abort()
	idMap, err := remoteidmap.Open(tx)
	if err != nil {
		if kind, ok := resourceerr.KindOf(err); ok && kind == resourceerr.KindNotFound {
			return "", nil // nothing has ever been bound
		}
		return "", err
	}
	remoteID, _ := idMap.ResolveRemoteID(uid)
	return remoteID, nil
}

func (r *Replayer) commitBinding(uid string, op entitybuffer.Operation, newRemoteID string, revision uint64) error {
	tx, err := r.syncDB.BeginWrite()
	if err != nil {
		return err
	}
	idMap, err := remoteidmap.Open(tx)
	if err != nil {
		_ = tx.Abort()
		return err
	}

	switch op {
	case entitybuffer.OpDelete:
		if err := idMap.Unbind(uid); err != nil {
			_ = tx.Abort()
			return err
		}
	default:
		if newRemoteID != "" {
			if err := idMap.Rebind(uid, newRemoteID); err != nil {
				_ = tx.Abort()
				return err
			}
		}
	}

	if err := r.setLastReplayedRevision(tx, revision); err != nil {
		_ = tx.Abort()
		return err
	}
	return tx.Commit()
}

func (r *Replayer) advanceWatermark(revision uint64) error {
	tx, err := r.syncDB.BeginWrite()
	if err != nil {
		return err
	}
	if err := r.setLastReplayedRevision(tx, revision); err != nil {
		_ = tx.Abort()
		return err
	}
	return tx.Commit()
}

func (r *Replayer) getLastReplayedRevision() (uint64, error) {
	tx, err := r.syncDB.BeginRead()
	if err != nil {
		return 0, err
	}
	defer tx.Abort()
	b, err := tx.Bucket(stateBucket)
	if err != nil {
		if kind, ok := resourceerr.KindOf(err); ok && kind == resourceerr.KindNotFound {
			return 0, nil
		}
		return 0, err
	}
	v := b.Get([]byte(keyLastReplayed))
	if v == nil {
		return 0, nil
	}
	return binary.BigEndian.Uint64(v), nil
}

func (r *Replayer) setLastReplayedRevision(tx *datastore.Tx, revision uint64) error {
	b, err := tx.Bucket(stateBucket)
	if err != nil {
		return err
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, revision)
	return b.Put([]byte(keyLastReplayed), buf)
}

// LastReplayedRevision exposes the current watermark, used by pkg/resource
// to report replay lag.
func (r *Replayer) LastReplayedRevision() (uint64, error) {
	return r.getLastReplayedRevision()
}

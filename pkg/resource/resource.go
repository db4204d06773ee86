// Package resource implements ResourceContext: the single value that
// owns a resource process's DataStore handles, EntityStore,
// Pipeline, CommandProcessor, Synchronizer and Replayer, and wires them to
// each other through shared references it holds and the events.Bus. The
// CommandProcessor holds the Pipeline it dispatches to and the
// Synchronizer holds the processor's synchronizer-queue; Pipeline,
// Synchronizer and ChangeReplay hold no pointer to one another, so there
// is no reference cycle between them. cmd/resourced constructs one Context per resource
// instance.
package resource

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/solstice-pim/resourcesync/pkg/commands"
	"github.com/solstice-pim/resourcesync/pkg/datastore"
	"github.com/solstice-pim/resourcesync/pkg/entitystore"
	"github.com/solstice-pim/resourcesync/pkg/events"
	"github.com/solstice-pim/resourcesync/pkg/pipeline"
	"github.com/solstice-pim/resourcesync/pkg/processor"
	"github.com/solstice-pim/resourcesync/pkg/queue"
	"github.com/solstice-pim/resourcesync/pkg/replay"
	"github.com/solstice-pim/resourcesync/pkg/resourceerr"
	syncengine "github.com/solstice-pim/resourcesync/pkg/sync"
)

// Kind selects one of the three flush semantics Flush supports.
type Kind int

const (
	// ReplayQueue: all commands issued before this flush have been
	// attempted against the remote source.
	ReplayQueue Kind = iota
	// Synchronization: all commands produced by the preceding
	// synchronize_with_source pass have been committed.
	Synchronization
	// UserQueue: all preceding mutation commands have been committed to
	// the store.
	UserQueue
)

// compactEvery is the revision-count half of the compaction policy:
// compact a type once maxRevision - cleanedUpRevision (counted across all
// types) exceeds this, or compactInterval has elapsed since that type's
// last sweep, whichever comes first.
const compactEvery = 10000

// compactInterval is the time half of the same policy.
const compactInterval = 24 * time.Hour

// Context owns every long-lived component of one resource process.
type Context struct {
	resourceName string
	storageRoot  string
	log          zerolog.Logger

	mainDB *datastore.Database
	syncDB *datastore.Database
	store  *entitystore.Store
	bus    *events.Bus

	pipeline     *pipeline.Pipeline
	processor    *processor.Processor
	synchronizer *syncengine.Synchronizer
	replayer     *replay.Replayer

	mu            sync.Mutex
	lastCompacted map[string]time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
	fatal  chan error
}

// New opens both databases under storageRoot/instanceID and wires every
// component. The main database lives at storageRoot/instanceID, the
// synchronization database at storageRoot/instanceID+".synchronization".
func New(storageRoot, instanceID string, log zerolog.Logger) (*Context, error) {
	if err := os.MkdirAll(storageRoot, 0o755); err != nil {
		return nil, resourceerr.New(resourceerr.KindIOError, "resource.New", instanceID, err)
	}

	mainDB, err := datastore.Open(filepath.Join(storageRoot, instanceID))
	if err != nil {
		return nil, err
	}
	syncDB, err := datastore.Open(filepath.Join(storageRoot, instanceID+".synchronization"))
	if err != nil {
		_ = mainDB.Close()
		return nil, err
	}

	store := entitystore.New(entitystore.DefaultRegistry())
	bus := events.NewBus()
	bus.Start()

	p := pipeline.New(mainDB, store, bus, instanceID, log.With().Str("component", "pipeline").Logger())
	proc := processor.New(mainDB, p, bus, instanceID, log.With().Str("component", "processor").Logger())
	synchronizer := syncengine.New(mainDB, syncDB, store, proc.SynchronizerQueue(), instanceID, log.With().Str("component", "sync").Logger())
	replayer := replay.New(mainDB, syncDB, store, instanceID, log.With().Str("component", "replay").Logger())

	return &Context{
		resourceName:  instanceID,
		storageRoot:   storageRoot,
		log:           log,
		mainDB:        mainDB,
		syncDB:        syncDB,
		store:         store,
		bus:           bus,
		pipeline:      p,
		processor:     proc,
		synchronizer:  synchronizer,
		replayer:      replayer,
		lastCompacted: map[string]time.Time{},
		fatal:         make(chan error, 1),
	}, nil
}

// Pipeline, Processor, Synchronizer and Replayer expose the owned
// components so cmd/resourced and adapters can register preprocessors and
// writeback/adapter functions before Start.
func (c *Context) Pipeline() *pipeline.Pipeline           { return c.pipeline }
func (c *Context) Processor() *processor.Processor        { return c.processor }
func (c *Context) Synchronizer() *syncengine.Synchronizer { return c.synchronizer }
func (c *Context) Replayer() *replay.Replayer             { return c.replayer }
func (c *Context) Store() *entitystore.Store              { return c.store }
func (c *Context) MainDB() *datastore.Database            { return c.mainDB }
func (c *Context) SyncDB() *datastore.Database            { return c.syncDB }
func (c *Context) Bus() *events.Bus                       { return c.bus }
func (c *Context) ResourceName() string                   { return c.resourceName }
func (c *Context) StorageRoot() string                    { return c.storageRoot }

// ComponentNames lists the components this Context owns and starts,
// matching the names passed to metrics.RegisterComponent at startup. Used
// to tell the health checker which components a readiness check for this
// resource should require.
func (c *Context) ComponentNames() []string {
	return []string{"store", "pipeline", "synchronizer"}
}

// Fatal reports the unrecoverable error that stopped the run loop, if any.
// cmd/resourced selects on this to exit with resourceerr.ExitCode(err),
// since an unrecoverable error causes the resource process to exit.
func (c *Context) Fatal() <-chan error { return c.fatal }

// Start begins the event loop: the replayer's startup-and-signal-driven
// pass, and a goroutine draining the two command queues via
// CommandProcessor.DrainOne, cooperatively yielding on Wait() when both
// are empty rather than busy-polling.
func (c *Context) Start(ctx context.Context) {
	c.stopCh = make(chan struct{})
	c.replayer.Start(ctx, c.bus)

	c.wg.Add(1)
	go c.runLoop(ctx)
}

// Stop halts the run loop and the replayer, then closes both databases.
// The event bus is stopped last so components unsubscribing during
// shutdown don't race its distribution loop.
func (c *Context) Stop() {
	if c.stopCh != nil {
		close(c.stopCh)
	}
	c.wg.Wait()
	c.replayer.Stop()
	c.bus.Stop()
	_ = c.mainDB.Close()
	_ = c.syncDB.Close()
}

func (c *Context) runLoop(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		processed, err := c.processor.DrainOne()
		if err != nil {
			c.log.Error().Err(err).Msg("command processing failed")
			if resourceerr.IsFatal(err) {
				select {
				case c.fatal <- err:
				default:
				}
				return
			}
			continue
		}
		if processed {
			c.maybeCompact()
			continue
		}

		c.waitForWork(ctx)
	}
}

// waitForWork blocks until either queue signals new work, the run loop is
// stopped, or ctx is cancelled.
func (c *Context) waitForWork(ctx context.Context) {
	select {
	case <-c.processor.UserQueue().Wait():
	case <-c.processor.SynchronizerQueue().Wait():
	case <-c.stopCh:
	case <-ctx.Done():
	}
}

// Flush returns a channel that receives once the given condition is
// satisfied: a replay pass has run, a synchronization pass plus its
// resulting commands have committed, or the user-queue has fully drained.
// For ReplayQueue, a flush that arrives while a replay pass is already
// running receives nil at once; it does not wait for the extra pass it
// marks as needed (see replay.Replayer.Trigger).
func (c *Context) Flush(ctx context.Context, kind Kind) <-chan error {
	switch kind {
	case ReplayQueue:
		return c.flushReplay(ctx)
	case Synchronization:
		return c.flushSynchronization(ctx)
	case UserQueue:
		return c.flushQueue(ctx, c.processor.UserQueue())
	default:
		ch := make(chan error, 1)
		ch <- resourceerr.New(resourceerr.KindInvalidCommand, "resource.Flush", "", errUnknownFlushKind)
		return ch
	}
}

func (c *Context) flushReplay(ctx context.Context) <-chan error {
	ch := make(chan error, 1)
	go func() { ch <- c.replayer.Trigger(ctx) }()
	return ch
}

// flushSynchronization waits for a synchronize_with_source pass to finish
// enqueueing its synthetic commands, then for the synchronizer-queue they
// landed on to drain, so that all commands produced by the preceding
// synchronization pass have actually committed — enqueued alone isn't
// committed.
func (c *Context) flushSynchronization(ctx context.Context) <-chan error {
	ch := make(chan error, 1)
	go func() {
		err := <-c.synchronizer.SynchronizeWithSource(ctx)
		c.bus.Publish(&events.Event{
			Type:     events.TypeSyncCycleFinished,
			Resource: c.resourceName,
			Payload:  events.SyncCycleFinished{Err: err},
		})
		if err != nil {
			ch <- err
			return
		}
		ch <- <-c.flushQueue(ctx, c.processor.SynchronizerQueue())
	}()
	return ch
}

// flushQueue resolves once q is empty, cooperatively yielding on q.Wait()
// rather than polling.
func (c *Context) flushQueue(ctx context.Context, q *queue.Queue) <-chan error {
	ch := make(chan error, 1)
	go func() {
		for {
			empty, err := c.queueEmpty(q)
			if err != nil {
				ch <- err
				return
			}
			if empty {
				ch <- nil
				return
			}
			select {
			case <-ctx.Done():
				ch <- ctx.Err()
				return
			case <-q.Wait():
			}
		}
	}()
	return ch
}

func (c *Context) queueEmpty(q *queue.Queue) (bool, error) {
	tx, err := c.mainDB.BeginRead()
	if err != nil {
		return false, err
	}
	defer tx.Abort()
	_, ok, err := q.PeekFront(tx)
	if err != nil {
		return false, err
	}
	return !ok, nil
}

// maybeCompact runs the compaction policy: a type is swept when
// maxRevision - cleanedUpRevision exceeds compactEvery or compactInterval
// has elapsed since its last sweep, whichever comes first. A type not yet
// swept by this Context is swept on the first call.
func (c *Context) maybeCompact() {
	for typeName := range c.store.Registry() {
		if !c.compactionDue(typeName) {
			continue
		}
		if err := c.Compact(typeName); err != nil {
			c.log.Warn().Err(err).Str("type", typeName).Msg("compaction sweep failed")
			continue
		}
		c.mu.Lock()
		c.lastCompacted[typeName] = time.Now()
		c.mu.Unlock()
	}
}

func (c *Context) compactionDue(typeName string) bool {
	c.mu.Lock()
	last, seen := c.lastCompacted[typeName]
	c.mu.Unlock()
	if !seen {
		return true
	}
	if time.Since(last) >= compactInterval {
		return true
	}

	tx, err := c.mainDB.BeginRead()
	if err != nil {
		return false
	}
	defer tx.Abort()
	maxRev, err := c.store.MaxRevision(tx)
	if err != nil {
		return false
	}
	cleanedUp, err := c.store.CleanedUpRevision(tx)
	if err != nil {
		return false
	}
	return maxRev-cleanedUp > compactEvery
}

// Compact runs one compaction sweep for typeName: drops every revision
// superseded by a later one for the same uid, and every revision of a uid
// whose latest state is a Delete tombstone.
func (c *Context) Compact(typeName string) error {
	tx, err := c.mainDB.BeginWrite()
	if err != nil {
		return err
	}
	maxRev, err := c.store.MaxRevision(tx)
	if err != nil {
		_ = tx.Abort()
		return err
	}
	if _, err := c.store.Compact(tx, typeName, maxRev); err != nil {
		_ = tx.Abort()
		return err
	}
	if err := c.store.SetCleanedUpRevision(tx, maxRev); err != nil {
		_ = tx.Abort()
		return err
	}
	return tx.Commit()
}

// Submit frames and enqueues a mutation command onto the user-queue on the
// caller's behalf, notifying the run loop, then returns the assigned
// sequence number. cmd/resourced's local-socket listener uses this once it
// has decoded an incoming command frame.
func (c *Context) Submit(messageID int32, commandID commands.ID, payload commands.MutationPayload) (uint64, error) {
	delta := commands.EncodeMutation(payload)
	encoded := commands.Encode(commands.Frame{MessageID: messageID, CommandID: commandID, Payload: delta})

	tx, err := c.mainDB.BeginWrite()
	if err != nil {
		return 0, err
	}
	seq, err := c.processor.UserQueue().Enqueue(tx, encoded)
	if err != nil {
		_ = tx.Abort()
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	c.processor.UserQueue().Notify()
	return seq, nil
}

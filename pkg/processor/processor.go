// Package processor drains the synchronizer-queue and user-queue, giving
// the synchronizer-queue priority whenever both have a ready entry but
// never to the point of starving the user-queue (after N=16 consecutive
// synchronizer commands, one user command is processed).
package processor

import (
	"github.com/rs/zerolog"

	"github.com/solstice-pim/resourcesync/pkg/commands"
	"github.com/solstice-pim/resourcesync/pkg/datastore"
	"github.com/solstice-pim/resourcesync/pkg/events"
	"github.com/solstice-pim/resourcesync/pkg/pipeline"
	"github.com/solstice-pim/resourcesync/pkg/queue"
	"github.com/solstice-pim/resourcesync/pkg/resourceerr"
)

// FairnessCutoff is the N in the fairness ordering guarantee above.
const FairnessCutoff = 16

// Processor drains the two command queues and dispatches into Pipeline.
type Processor struct {
	db           *datastore.Database
	pipeline     *pipeline.Pipeline
	bus          *events.Bus
	resourceName string
	log          zerolog.Logger

	userQueue         *queue.Queue
	synchronizerQueue *queue.Queue

	consecutiveSync int
}

// New builds a Processor over the resource's main database.
func New(db *datastore.Database, p *pipeline.Pipeline, bus *events.Bus, resourceName string, log zerolog.Logger) *Processor {
	return &Processor{
		db:                db,
		pipeline:          p,
		bus:               bus,
		resourceName:      resourceName,
		log:               log,
		userQueue:         queue.New("userqueue"),
		synchronizerQueue: queue.New("synchronizerqueue"),
	}
}

// UserQueue exposes the user-facing queue so client-facing code can
// Enqueue commands and await flush.
func (p *Processor) UserQueue() *queue.Queue { return p.userQueue }

// SynchronizerQueue exposes the synchronizer-facing queue for pkg/sync's
// synthetic commands.
func (p *Processor) SynchronizerQueue() *queue.Queue { return p.synchronizerQueue }

// DrainOne processes at most one command, choosing synchronizer-queue over
// user-queue per the fairness policy, and returns whether it found
// anything to do.
func (p *Processor) DrainOne() (processed bool, err error) {
	preferSync := p.consecutiveSync < FairnessCutoff

	q, otherQ, isSync := p.pickQueue(preferSync)
	entry, ok, err := p.peek(q)
	if err != nil {
		return false, err
	}
	if !ok {
		entry, ok, err = p.peek(otherQ)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
		isSync = !isSync
		q = otherQ
	}

	if isSync {
		p.consecutiveSync++
	} else {
		p.consecutiveSync = 0
	}

	if err := p.process(q, entry); err != nil {
		return true, err
	}
	return true, nil
}

func (p *Processor) pickQueue(preferSync bool) (primary, other *queue.Queue, isSync bool) {
	if preferSync {
		return p.synchronizerQueue, p.userQueue, true
	}
	return p.userQueue, p.synchronizerQueue, false
}

func (p *Processor) peek(q *queue.Queue) (queue.Entry, bool, error) {
	tx, err := p.db.BeginRead()
	if err != nil {
		return queue.Entry{}, false, err
	}
	defer tx.Abort()
	return q.PeekFront(tx)
}

// process decodes entry's frame, dispatches into Pipeline, and on success
// dequeues the entry in the same write transaction as the pipeline commit
// would have used — here split across Pipeline's own transaction and a
// second transaction for the dequeue, since Pipeline already committed its
// revision by the time process() learns it succeeded. A crash between the
// two leaves the entry for reprocessing, and reprocessing applies it again:
// a repeated Create or Modify writes a further revision (a Create without
// a uid allocates a second entity).
func (p *Processor) process(q *queue.Queue, entry queue.Entry) error {
	const op = "processor.process"

	frame, err := commands.Decode(entry.Payload)
	if err != nil {
		return p.dequeueAfter(q, entry.Seq, p.completion(frame.MessageID, commands.StatusError))
	}

	status := commands.StatusOK
	dispatchErr := p.dispatch(frame)
	if dispatchErr != nil {
		status = commands.StatusError
		if !shouldRetry(dispatchErr) {
			return p.dequeueAfter(q, entry.Seq, p.completion(frame.MessageID, status))
		}
		return dispatchErr
	}

	return p.dequeueAfter(q, entry.Seq, p.completion(frame.MessageID, status))
}

func shouldRetry(err error) bool {
	kind, ok := resourceerr.KindOf(err)
	if !ok {
		return false
	}
	switch kind {
	case resourceerr.KindTransientNetwork, resourceerr.KindLockTimeout:
		return true
	default:
		return false
	}
}

func (p *Processor) completion(messageID int32, status commands.CompletionStatus) commands.Frame {
	return commands.Completion(messageID, status)
}

func (p *Processor) dequeueAfter(q *queue.Queue, seq uint64, completion commands.Frame) error {
	tx, err := p.db.BeginWrite()
	if err != nil {
		return err
	}
	if err := q.Dequeue(tx, seq); err != nil {
		_ = tx.Abort()
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	p.bus.Publish(&events.Event{
		Type:     events.TypeCommandCompletion,
		Resource: p.resourceName,
		Payload:  events.CommandCompletion{MessageID: completion.MessageID},
	})
	return nil
}

func (p *Processor) dispatch(frame commands.Frame) error {
	switch frame.CommandID {
	case commands.IDCreateEntity:
		payload, err := commands.DecodeMutation(frame.Payload)
		if err != nil {
			return resourceerr.New(resourceerr.KindInvalidCommand, "processor.dispatch", "", err)
		}
		_, err = p.pipeline.NewEntity(payload.Type, payload.UID, payload.Delta, nil, payload.ReplayToSource)
		return err

	case commands.IDModifyEntity:
		payload, err := commands.DecodeMutation(frame.Payload)
		if err != nil {
			return resourceerr.New(resourceerr.KindInvalidCommand, "processor.dispatch", "", err)
		}
		_, err = p.pipeline.ModifiedEntity(payload.Type, payload.UID, payload.Delta, payload.ReplayToSource)
		return err

	case commands.IDDeleteEntity:
		payload, err := commands.DecodeMutation(frame.Payload)
		if err != nil {
			return resourceerr.New(resourceerr.KindInvalidCommand, "processor.dispatch", "", err)
		}
		_, err = p.pipeline.DeletedEntity(payload.Type, payload.UID, payload.ReplayToSource)
		return err

	case commands.IDPing, commands.IDHandshake:
		return nil

	default:
		return resourceerr.New(resourceerr.KindInvalidCommand, "processor.dispatch", "", errUnrecognizedCommand)
	}
}

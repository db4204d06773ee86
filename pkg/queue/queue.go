// Package queue implements a durable FIFO over a single datastore.Bucket,
// keyed by a monotonic sequence number so peek/dequeue never needs to
// decode the payload to order entries.
//
// Processing discipline is the caller's responsibility: PeekFront then,
// on success, Dequeue only once the pipeline's output has committed, so a
// crash between enqueue-commit and pipeline-commit
// leaves the entry in place to be retried on restart.
package queue

import (
	"encoding/binary"
	"sync"

	"github.com/solstice-pim/resourcesync/pkg/datastore"
	"github.com/solstice-pim/resourcesync/pkg/resourceerr"
)

// Entry is one queued item: its sequence number and opaque payload (a
// framed command, for the synchronizer/user queues; a failure record, for
// the dead-letter bucket).
type Entry struct {
	Seq     uint64
	Payload []byte
}

// Queue wraps one bucket. All methods operate within a caller-supplied
// transaction; Queue itself holds no transaction state.
type Queue struct {
	bucketName string

	mu       sync.Mutex
	notifyCh chan struct{}
}

// New returns a Queue over bucketName (e.g. "userqueue",
// "synchronizerqueue", "deadletter").
func New(bucketName string) *Queue {
	return &Queue{bucketName: bucketName, notifyCh: make(chan struct{})}
}

func (q *Queue) bucket(tx *datastore.Tx) (*datastore.Bucket, error) {
	return tx.Bucket(q.bucketName)
}

// Enqueue assigns the next sequence number and writes payload under it
// within tx; nothing is durable until the caller commits tx.
// Callers append an enqueue to the same write transaction as whatever
// produced the payload (e.g. the client command's framing), then signal
// Notify after the transaction commits.
func (q *Queue) Enqueue(tx *datastore.Tx, payload []byte) (seq uint64, err error) {
	b, err := q.bucket(tx)
	if err != nil {
		return 0, err
	}
	seq, err = q.nextSeq(b)
	if err != nil {
		return 0, err
	}
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	if err := b.Put(key, payload); err != nil {
		return 0, resourceerr.New(resourceerr.KindIOError, "queue.Enqueue", q.bucketName, err)
	}
	return seq, nil
}

func (q *Queue) nextSeq(b *datastore.Bucket) (uint64, error) {
	v := b.Get(seqCounterKey)
	var next uint64 = 1
	if v != nil {
		next = binary.BigEndian.Uint64(v) + 1
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, next)
	if err := b.Put(seqCounterKey, buf); err != nil {
		return 0, resourceerr.New(resourceerr.KindIOError, "queue.nextSeq", q.bucketName, err)
	}
	return next, nil
}

// seqCounterKey holds the last-assigned sequence number. It is longer than
// the 8-byte entry keys so PeekFront can tell it apart by length alone
// without depending on byte-ordering between the two key shapes.
var seqCounterKey = []byte("__seq_counter__")

// PeekFront returns the lowest-sequence entry without removing it, or
// (Entry{}, false, nil) if the queue is empty.
func (q *Queue) PeekFront(tx *datastore.Tx) (Entry, bool, error) {
	b, err := q.bucket(tx)
	if err != nil {
		if k, ok := resourceerr.KindOf(err); ok && k == resourceerr.KindNotFound {
			return Entry{}, false, nil
		}
		return Entry{}, false, err
	}
	var found *Entry
	err = b.Scan(nil, func(key, value []byte) error {
		if found != nil || len(key) != 8 {
			return nil
		}
		found = &Entry{Seq: binary.BigEndian.Uint64(key), Payload: value}
		return nil
	})
	if err != nil {
		return Entry{}, false, err
	}
	if found == nil {
		return Entry{}, false, nil
	}
	return *found, true, nil
}

// Depth returns the number of entries currently queued, for metrics
// reporting. A queue whose bucket has never been created (nothing
// enqueued yet) reports 0 rather than erroring.
func (q *Queue) Depth(tx *datastore.Tx) (int, error) {
	b, err := q.bucket(tx)
	if err != nil {
		if k, ok := resourceerr.KindOf(err); ok && k == resourceerr.KindNotFound {
			return 0, nil
		}
		return 0, err
	}
	count := 0
	if err := b.Scan(nil, func(key, value []byte) error {
		if len(key) != 8 {
			return nil
		}
		count++
		return nil
	}); err != nil {
		return 0, err
	}
	return count, nil
}

// Dequeue removes the entry at seq. Idempotent: removing an already-gone
// entry is not an error, matching the "crash mid-processing" retry story.
func (q *Queue) Dequeue(tx *datastore.Tx, seq uint64) error {
	b, err := q.bucket(tx)
	if err != nil {
		return err
	}
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	if err := b.Remove(key); err != nil {
		return resourceerr.New(resourceerr.KindIOError, "queue.Dequeue", q.bucketName, err)
	}
	return nil
}

// Notify wakes any goroutine blocked in Wait, signalling the queue may now
// be non-empty. Call after committing a transaction that enqueued an
// entry.
func (q *Queue) Notify() {
	q.mu.Lock()
	defer q.mu.Unlock()
	close(q.notifyCh)
	q.notifyCh = make(chan struct{})
}

// Wait returns a channel that closes the next time Notify is called,
// letting CommandProcessor's event loop cooperatively yield while a queue
// is empty instead of busy-polling.
func (q *Queue) Wait() <-chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.notifyCh
}

package processor_test

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/solstice-pim/resourcesync/pkg/commands"
	"github.com/solstice-pim/resourcesync/pkg/datastore"
	"github.com/solstice-pim/resourcesync/pkg/entitystore"
	"github.com/solstice-pim/resourcesync/pkg/events"
	"github.com/solstice-pim/resourcesync/pkg/pipeline"
	"github.com/solstice-pim/resourcesync/pkg/processor"
	"github.com/solstice-pim/resourcesync/pkg/queue"
	"github.com/solstice-pim/resourcesync/pkg/types"
)

func newTestProcessor(t *testing.T) (*datastore.Database, *processor.Processor) {
	t.Helper()
	db, err := datastore.Open(filepath.Join(t.TempDir(), "main.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store := entitystore.New(entitystore.DefaultRegistry())
	bus := events.NewBus()
	bus.Start()
	t.Cleanup(bus.Stop)

	p := pipeline.New(db, store, bus, "test-resource", zerolog.Nop())
	proc := processor.New(db, p, bus, "test-resource", zerolog.Nop())
	return db, proc
}

func enqueueCreateFolder(t *testing.T, db *datastore.Database, q *queue.Queue, messageID int32, name string) {
	t.Helper()
	payload := commands.EncodeMutation(commands.MutationPayload{
		Type:           string(types.TypeFolder),
		Delta:          []byte(`{"name":"` + name + `"}`),
		ReplayToSource: true,
	})
	frame := commands.Encode(commands.Frame{MessageID: messageID, CommandID: commands.IDCreateEntity, Payload: payload})

	tx, err := db.BeginWrite()
	require.NoError(t, err)
	_, err = q.Enqueue(tx, frame)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
}

func TestDrainOneProcessesUserCommand(t *testing.T) {
	db, proc := newTestProcessor(t)
	enqueueCreateFolder(t, db, proc.UserQueue(), 1, "INBOX")

	processed, err := proc.DrainOne()
	require.NoError(t, err)
	require.True(t, processed)

	processed, err = proc.DrainOne()
	require.NoError(t, err)
	require.False(t, processed)
}

func TestDrainOnePrefersSynchronizerQueue(t *testing.T) {
	db, proc := newTestProcessor(t)
	enqueueCreateFolder(t, db, proc.UserQueue(), 1, "user-folder")
	enqueueCreateFolder(t, db, proc.SynchronizerQueue(), 2, "sync-folder")

	tx, err := db.BeginRead()
	require.NoError(t, err)
	entry, ok, err := proc.SynchronizerQueue().PeekFront(tx)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, tx.Abort())

	processed, err := proc.DrainOne()
	require.NoError(t, err)
	require.True(t, processed)

	// After draining once, the synchronizer-queue entry should be gone
	// (it was processed first) while the user entry remains.
	tx2, err := db.BeginRead()
	require.NoError(t, err)
	defer tx2.Abort()
	_, ok, err = proc.SynchronizerQueue().PeekFront(tx2)
	require.NoError(t, err)
	require.False(t, ok)

	_, ok, err = proc.UserQueue().PeekFront(tx2)
	require.NoError(t, err)
	require.True(t, ok)

	_ = entry
}

func TestDrainOneHandlesUnrecognizedCommand(t *testing.T) {
	db, proc := newTestProcessor(t)
	frame := commands.Encode(commands.Frame{MessageID: 1, CommandID: commands.ID(9999), Payload: nil})

	tx, err := db.BeginWrite()
	require.NoError(t, err)
	_, err = proc.UserQueue().Enqueue(tx, frame)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	processed, err := proc.DrainOne()
	require.NoError(t, err)
	require.True(t, processed)

	tx2, err := db.BeginRead()
	require.NoError(t, err)
	defer tx2.Abort()
	_, ok, err := proc.UserQueue().PeekFront(tx2)
	require.NoError(t, err)
	require.False(t, ok, "unrecognized command should be dequeued, not retried forever")
}

func TestDrainOneFairnessCutoffYieldsToUserQueue(t *testing.T) {
	db, proc := newTestProcessor(t)

	for i := 0; i < processor.FairnessCutoff+5; i++ {
		enqueueCreateFolder(t, db, proc.SynchronizerQueue(), int32(i+100), "sync-folder")
	}
	enqueueCreateFolder(t, db, proc.UserQueue(), 1, "user-folder")

	for i := 0; i < processor.FairnessCutoff; i++ {
		processed, err := proc.DrainOne()
		require.NoError(t, err)
		require.True(t, processed)
	}

	// The (FairnessCutoff+1)th drain must yield to the user queue.
	tx, err := db.BeginRead()
	require.NoError(t, err)
	_, userStillQueued, err := proc.UserQueue().PeekFront(tx)
	require.NoError(t, err)
	require.True(t, userStillQueued)
	require.NoError(t, tx.Abort())

	processed, err := proc.DrainOne()
	require.NoError(t, err)
	require.True(t, processed)

	tx2, err := db.BeginRead()
	require.NoError(t, err)
	defer tx2.Abort()
	_, userStillQueued, err = proc.UserQueue().PeekFront(tx2)
	require.NoError(t, err)
	require.False(t, userStillQueued, "fairness cutoff should have drained the user command")
}

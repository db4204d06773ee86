package pipeline_test

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/solstice-pim/resourcesync/pkg/datastore"
	"github.com/solstice-pim/resourcesync/pkg/entitystore"
	"github.com/solstice-pim/resourcesync/pkg/events"
	"github.com/solstice-pim/resourcesync/pkg/pipeline"
	"github.com/solstice-pim/resourcesync/pkg/resourceerr"
	"github.com/solstice-pim/resourcesync/pkg/types"
)

type countingPreprocessor struct {
	newCalls    int
	modifyCalls int
	deleteCalls int
	failNTimes  int
}

func (c *countingPreprocessor) OnNew(tx *datastore.Tx, e *pipeline.PendingEntity) error {
	c.newCalls++
	if c.newCalls <= c.failNTimes {
		return errBoom
	}
	return nil
}

func (c *countingPreprocessor) OnModify(tx *datastore.Tx, old, next *pipeline.PendingEntity) error {
	c.modifyCalls++
	return nil
}

func (c *countingPreprocessor) OnDelete(tx *datastore.Tx, e *pipeline.PendingEntity) error {
	c.deleteCalls++
	return nil
}

var errBoom = testErr("boom")

type testErr string

func (e testErr) Error() string { return string(e) }

func newTestPipeline(t *testing.T) *pipeline.Pipeline {
	t.Helper()
	db, err := datastore.Open(filepath.Join(t.TempDir(), "main.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store := entitystore.New(entitystore.DefaultRegistry())
	bus := events.NewBus()
	bus.Start()
	t.Cleanup(bus.Stop)

	return pipeline.New(db, store, bus, "test-resource", zerolog.Nop())
}

func TestNewEntityRunsPreprocessorsAndCommits(t *testing.T) {
	p := newTestPipeline(t)
	pp := &countingPreprocessor{}
	p.Register(string(types.TypeFolder), pp)

	rev, err := p.NewEntity(string(types.TypeFolder), "", []byte(`{"name":"INBOX"}`), nil, false)
	require.NoError(t, err)
	require.Equal(t, uint64(1), rev)
	require.Equal(t, 1, pp.newCalls)
}

func TestModifiedEntityRunsOnModify(t *testing.T) {
	p := newTestPipeline(t)
	pp := &countingPreprocessor{}
	p.Register(string(types.TypeFolder), pp)

	_, err := p.NewEntity(string(types.TypeFolder), "folder-1", []byte(`{"name":"INBOX"}`), nil, false)
	require.NoError(t, err)

	rev, err := p.ModifiedEntity(string(types.TypeFolder), "folder-1", []byte(`{"name":"Inbox Renamed"}`), false)
	require.NoError(t, err)
	require.Equal(t, uint64(2), rev)
	require.Equal(t, 1, pp.modifyCalls)
}

func TestDeletedEntityRunsOnDelete(t *testing.T) {
	p := newTestPipeline(t)
	pp := &countingPreprocessor{}
	p.Register(string(types.TypeFolder), pp)

	_, err := p.NewEntity(string(types.TypeFolder), "folder-1", []byte(`{"name":"INBOX"}`), nil, false)
	require.NoError(t, err)

	_, err = p.DeletedEntity(string(types.TypeFolder), "folder-1", false)
	require.NoError(t, err)
	require.Equal(t, 1, pp.deleteCalls)
}

func TestFailingPreprocessorIsRetriedThenDeadLettered(t *testing.T) {
	p := newTestPipeline(t)
	pp := &countingPreprocessor{failNTimes: pipeline.MaxConsecutiveFailures}
	p.Register(string(types.TypeFolder), pp)

	var lastErr error
	for i := 0; i < pipeline.MaxConsecutiveFailures; i++ {
		_, lastErr = p.NewEntity(string(types.TypeFolder), "folder-x", []byte(`{}`), nil, false)
		require.Error(t, lastErr)
	}

	kind, ok := resourceerr.KindOf(lastErr)
	require.True(t, ok)
	require.Equal(t, resourceerr.KindPreprocessorReject, kind)

	records, err := p.InspectDeadLetters()
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "folder-x", records[0].UID)
}

package metrics

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/solstice-pim/resourcesync/pkg/commands"
	"github.com/solstice-pim/resourcesync/pkg/resource"
	"github.com/solstice-pim/resourcesync/pkg/types"
)

func TestCollectorSamplesQueueDepthAndReplayLag(t *testing.T) {
	rc, err := resource.New(filepath.Join(t.TempDir(), "storage"), "res-1", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(rc.Stop)
	rc.Start(context.Background())

	buf, err := types.Encode(&types.Folder{Name: "INBOX"})
	require.NoError(t, err)
	_, err = rc.Submit(1, commands.IDCreateEntity, commands.MutationPayload{
		Type: string(types.TypeFolder), Delta: buf, ReplayToSource: false,
	})
	require.NoError(t, err)

	collector := NewCollector(rc)
	collector.collect()
	require.GreaterOrEqual(t, testutil.ToFloat64(QueueDepth.WithLabelValues("user")), float64(0))

	flushCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, <-rc.Flush(flushCtx, resource.UserQueue))

	replayCtx, cancel2 := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel2()
	require.NoError(t, <-rc.Flush(replayCtx, resource.ReplayQueue))

	collector.collect()
	require.Equal(t, float64(0), testutil.ToFloat64(QueueDepth.WithLabelValues("user")))
	require.Equal(t, float64(0), testutil.ToFloat64(ReplayLagRevisions))
}
